package store

import (
	"context"

	"github.com/nichepass/nichepass/internal/domain"
)

// Repository defines the data access contract for stores.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetByID returns a store. Returns ErrNotFound if it doesn't exist.
	GetByID(ctx context.Context, id string) (*domain.Store, error)

	// GetByDomain returns the store for a shop domain regardless of status.
	// Returns ErrNotFound if the domain was never connected.
	GetByDomain(ctx context.Context, shopifyDomain string) (*domain.Store, error)

	// ListByUser returns all stores owned by a user.
	ListByUser(ctx context.Context, userID string) ([]domain.Store, error)

	// Create inserts a new store row and returns its ID.
	Create(ctx context.Context, s *domain.Store) (string, error)

	// RotateCredentials replaces the token, webhook secret, scopes and
	// status in a single UPDATE so concurrent readers never observe a
	// half-rotated credential pair.
	RotateCredentials(ctx context.Context, id string, c Credentials) error

	// UpdateStatus transitions the store's status.
	UpdateStatus(ctx context.Context, id string, status domain.StoreStatus) error
}

// Credentials is the atomically-rotated credential set for a store.
// EncryptionKey stays fixed for the life of the store; it rides along so a
// reconnect after a lost key row can re-key in the same write.
type Credentials struct {
	AccessTokenEnc string
	WebhookSecret  string
	EncryptionKey  string
	Scopes         string
	Status         domain.StoreStatus
}
