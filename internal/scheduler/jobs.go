package scheduler

import (
	"context"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/pkg/logger"
	"github.com/nichepass/nichepass/internal/service/member"
)

// StoreSource lists connected stores for fleet-wide jobs.
type StoreSource interface {
	ListConnectedIDs(ctx context.Context) ([]string, error)
	GetByID(ctx context.Context, id string) (*domain.Store, error)
}

// TokenSource decrypts a store's Admin API token.
type TokenSource interface {
	AccessToken(st *domain.Store) (string, error)
}

// SubscriptionExpirer downgrades lapsed subscriptions.
type SubscriptionExpirer interface {
	ExpireLapsed(ctx context.Context) (int, error)
}

// MemberSyncer pulls a store's Shopify customers into the member list.
type MemberSyncer interface {
	Sync(ctx context.Context, storeID string, api member.CustomerLister) (*member.SyncResult, error)
}

// ClientFactory builds a customer lister for a shop and token.
type ClientFactory func(shopDomain, accessToken string) member.CustomerLister

// Runner implements Jobs on top of the billing and member services.
type Runner struct {
	billing SubscriptionExpirer
	stores  StoreSource
	tokens  TokenSource
	members MemberSyncer
	clients ClientFactory
}

// NewRunner wires the scheduled jobs.
func NewRunner(billing SubscriptionExpirer, stores StoreSource, tokens TokenSource, members MemberSyncer, clients ClientFactory) *Runner {
	return &Runner{
		billing: billing,
		stores:  stores,
		tokens:  tokens,
		members: members,
		clients: clients,
	}
}

// ExpireSubscriptions downgrades every subscription whose period lapsed.
func (r *Runner) ExpireSubscriptions(ctx context.Context) (int, error) {
	return r.billing.ExpireLapsed(ctx)
}

// SyncStores refreshes members from Shopify for every connected store. A
// store that fails to sync is logged and skipped so one broken token never
// stalls the fleet.
func (r *Runner) SyncStores(ctx context.Context) (int, error) {
	ids, err := r.stores.ListConnectedIDs(ctx)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if err := r.syncStore(ctx, id); err != nil {
			logger.Warn("store sync failed", "store_id", id, "error", err)
			continue
		}
		synced++
	}
	return synced, nil
}

func (r *Runner) syncStore(ctx context.Context, id string) error {
	st, err := r.stores.GetByID(ctx, id)
	if err != nil {
		return err
	}
	token, err := r.tokens.AccessToken(st)
	if err != nil {
		return err
	}

	res, err := r.members.Sync(ctx, id, r.clients(st.ShopifyDomain, token))
	if err != nil {
		return err
	}
	logger.Info("store synced", "store_id", id,
		"created", res.Created, "updated", res.Updated, "partial", res.Partial)
	return nil
}
