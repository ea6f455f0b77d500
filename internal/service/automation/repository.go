package automation

import (
	"context"

	"github.com/nichepass/nichepass/internal/domain"
)

// Repository defines the data access contract for automations and their
// send tasks. Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns an automation scoped to a store. Returns ErrNotFound if
	// it doesn't exist in that store.
	Get(ctx context.Context, storeID, id string) (*domain.Automation, error)

	// List returns every automation of the store.
	List(ctx context.Context, storeID string) ([]domain.Automation, error)

	// ListActive returns the store's active automations for a trigger.
	ListActive(ctx context.Context, storeID string, trigger domain.TriggerType) ([]domain.Automation, error)

	// Create inserts a new automation and returns its ID.
	Create(ctx context.Context, a *domain.Automation) (string, error)

	// Update modifies mutable automation fields.
	Update(ctx context.Context, storeID, id string, u UpdateFields) error

	// Delete removes an automation. Pending send tasks for it are kept and
	// will fail softly when the worker finds the rule gone.
	Delete(ctx context.Context, storeID, id string) error

	// EnqueueTask inserts a pending send task unless an open (pending or
	// processing) task already exists for the same automation and member.
	// Reports whether a row was inserted.
	EnqueueTask(ctx context.Context, t *domain.SendTask) (bool, error)
}

// UpdateFields holds the mutable fields for an automation update.
// Nil fields are not applied.
type UpdateFields struct {
	CardID       *string
	TriggerValue *int64 // pointer-to-pointer semantics are avoided: set ClearTriggerValue to null it
	Active       *bool

	ClearTriggerValue bool
}
