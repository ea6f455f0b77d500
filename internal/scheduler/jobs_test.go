package scheduler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/scheduler"
	"github.com/nichepass/nichepass/internal/service/member"
)

type fakeExpirer struct{ n int }

func (f *fakeExpirer) ExpireLapsed(context.Context) (int, error) { return f.n, nil }

type fakeStores struct {
	ids    []string
	broken map[string]bool
}

func (f *fakeStores) ListConnectedIDs(context.Context) ([]string, error) { return f.ids, nil }

func (f *fakeStores) GetByID(_ context.Context, id string) (*domain.Store, error) {
	return &domain.Store{ID: id, ShopifyDomain: id + ".myshopify.com", Status: domain.StoreConnected}, nil
}

type fakeTokens struct{ broken map[string]bool }

func (f *fakeTokens) AccessToken(st *domain.Store) (string, error) {
	if f.broken[st.ID] {
		return "", errors.New("decrypt failed")
	}
	return "token-" + st.ID, nil
}

type fakeSyncer struct{ synced []string }

func (f *fakeSyncer) Sync(_ context.Context, storeID string, _ member.CustomerLister) (*member.SyncResult, error) {
	f.synced = append(f.synced, storeID)
	return &member.SyncResult{Created: 1}, nil
}

func noClient(_, _ string) member.CustomerLister { return nil }

func TestExpireSubscriptionsDelegates(t *testing.T) {
	r := scheduler.NewRunner(&fakeExpirer{n: 3}, &fakeStores{}, &fakeTokens{}, &fakeSyncer{}, noClient)
	n, err := r.ExpireSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 3 {
		t.Fatalf("expired = %d, want 3", n)
	}
}

func TestSyncStoresSkipsBrokenStore(t *testing.T) {
	stores := &fakeStores{ids: []string{"s1", "s2", "s3"}}
	tokens := &fakeTokens{broken: map[string]bool{"s2": true}}
	syncer := &fakeSyncer{}

	r := scheduler.NewRunner(&fakeExpirer{}, stores, tokens, syncer, noClient)
	n, err := r.SyncStores(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if n != 2 {
		t.Fatalf("synced = %d, want 2", n)
	}
	if len(syncer.synced) != 2 || syncer.synced[0] != "s1" || syncer.synced[1] != "s3" {
		t.Fatalf("synced stores = %v", syncer.synced)
	}
}

func TestSyncStoresStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stores := &fakeStores{ids: []string{"s1", "s2"}}
	r := scheduler.NewRunner(&fakeExpirer{}, stores, &fakeTokens{}, &fakeSyncer{}, noClient)
	if _, err := r.SyncStores(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
