package plan

import "context"

// UsageRepo reports current resource consumption for a store.
// Implementations must be safe for concurrent use.
type UsageRepo interface {
	// CountActiveMembers returns the number of active (not soft-deleted)
	// members in the store.
	CountActiveMembers(ctx context.Context, storeID string) (int, error)

	// CountCampaigns returns the number of campaigns ever created in the
	// store. Sent campaigns still count against the limit.
	CountCampaigns(ctx context.Context, storeID string) (int, error)

	// CountEmailsThisMonth returns the number of emails sent since the
	// start of the current calendar month (UTC).
	CountEmailsThisMonth(ctx context.Context, storeID string) (int, error)
}
