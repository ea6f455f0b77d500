package member

import (
	"context"

	"github.com/nichepass/nichepass/internal/domain"
)

// Repository defines the data access contract for members.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetByID returns a member scoped to a store. Returns ErrNotFound if it
	// doesn't exist in that store.
	GetByID(ctx context.Context, storeID, id string) (*domain.Member, error)

	// GetByEmail returns the member with the given email, active or not.
	// Returns ErrNotFound if no row exists.
	GetByEmail(ctx context.Context, storeID, email string) (*domain.Member, error)

	// List returns members matching the filter, ordered by created_at DESC,
	// plus the total count before pagination.
	List(ctx context.Context, storeID string, f ListFilter) ([]domain.Member, int, error)

	// Create inserts a new member and returns its ID. Returns ErrDuplicate
	// if the email already exists in the store.
	Create(ctx context.Context, m *domain.Member) (string, error)

	// CreateBatch inserts members in a single transaction.
	CreateBatch(ctx context.Context, members []*domain.Member) error

	// Update modifies mutable member fields.
	Update(ctx context.Context, storeID, id string, u UpdateFields) error

	// SetStatus flips a member between active and inactive.
	SetStatus(ctx context.Context, storeID, id string, status domain.MemberStatus) error

	// PlanForStore resolves the owning user's plan tier.
	PlanForStore(ctx context.Context, storeID string) (domain.PlanType, error)
}

// ListFilter controls pagination and filtering for member lists.
type ListFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}

// UpdateFields holds the mutable fields for a member update.
// Nil fields are not applied.
type UpdateFields struct {
	FirstName         *string
	LastName          *string
	PassURL           *string
	ShopifyCustomerID *int64
}
