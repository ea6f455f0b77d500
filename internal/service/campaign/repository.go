package campaign

import (
	"context"
	"time"

	"github.com/nichepass/nichepass/internal/domain"
)

// Repository defines the data access contract for campaigns and their
// discount codes. Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a campaign scoped to a store. Returns ErrNotFound if it
	// doesn't exist in that store.
	Get(ctx context.Context, storeID, id string) (*domain.Campaign, error)

	// List returns campaigns matching the filter, ordered by created_at
	// DESC, plus the total count before pagination.
	List(ctx context.Context, storeID string, f ListFilter) ([]domain.Campaign, int, error)

	// CreateWithCodes inserts the campaign and all its codes in one
	// transaction. Returns ErrDuplicateCode if any code collides with an
	// existing one; nothing is inserted in that case.
	CreateWithCodes(ctx context.Context, c *domain.Campaign, codes []*domain.DiscountCode) error

	// Codes returns the campaign's discount codes.
	Codes(ctx context.Context, campaignID string) ([]domain.DiscountCode, error)

	// MarkSent transitions a campaign to sent and stamps sent_at.
	MarkSent(ctx context.Context, storeID, id string, sentAt time.Time) error

	// StampCodesSent records the delivery time on the given codes.
	StampCodesSent(ctx context.Context, codeIDs []string, sentAt time.Time) error

	// Redeem marks a code redeemed and appends a redemption log row in one
	// transaction. Returns ErrCodeNotFound if the code does not belong to
	// the store and ErrAlreadyRedeemed if it was redeemed before.
	Redeem(ctx context.Context, storeID, code string, orderID int64, orderName string, amountCents int64) error

	// PlanForStore resolves the owning user's plan tier.
	PlanForStore(ctx context.Context, storeID string) (domain.PlanType, error)
}

// MemberSource lists the members a campaign targets.
type MemberSource interface {
	// ListActive returns every active member of the store.
	ListActive(ctx context.Context, storeID string) ([]domain.Member, error)
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}
