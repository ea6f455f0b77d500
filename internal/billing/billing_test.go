package billing_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nichepass/nichepass/internal/billing"
	"github.com/nichepass/nichepass/internal/domain"
)

func computeHex(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// memRepo is an in-memory subscription repository for unit testing.
type memRepo struct {
	mu   sync.Mutex
	subs map[string]*domain.Subscription // keyed by provider:externalID
	plan map[string]domain.PlanType      // userID -> plan
}

func newMemRepo() *memRepo {
	return &memRepo{
		subs: make(map[string]*domain.Subscription),
		plan: make(map[string]domain.PlanType),
	}
}

func key(provider, externalID string) string { return provider + ":" + externalID }

func (m *memRepo) Grant(_ context.Context, sub *domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(sub.Provider, sub.ExternalID)
	if existing, ok := m.subs[k]; ok {
		existing.Status = domain.SubscriptionActive
		existing.PlanType = sub.PlanType
		existing.CurrentPeriodEnd = sub.CurrentPeriodEnd
	} else {
		cp := *sub
		m.subs[k] = &cp
	}
	m.plan[sub.UserID] = sub.PlanType
	return nil
}

func (m *memRepo) Cancel(_ context.Context, provider, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[key(provider, externalID)]
	if !ok {
		return billing.ErrNoSubscription
	}
	sub.Status = domain.SubscriptionCancelled
	m.plan[sub.UserID] = domain.PlanFree
	return nil
}

func (m *memRepo) ExpireLapsed(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sub := range m.subs {
		if sub.Status == domain.SubscriptionActive && now.After(sub.CurrentPeriodEnd) {
			sub.Status = domain.SubscriptionExpired
			m.plan[sub.UserID] = domain.PlanFree
			n++
		}
	}
	return n, nil
}

func paymentEvent(event, user, plan, subID string) *billing.Event {
	return &billing.Event{
		Event: event,
		Data:  billing.EventData{UserID: user, Plan: plan, SubscriptionID: subID},
	}
}

func TestPaymentSucceededGrantsPlan(t *testing.T) {
	repo := newMemRepo()
	svc := billing.NewService(repo)

	err := svc.HandleEvent(context.Background(), paymentEvent(billing.EventPaymentSucceeded, "user-1", "base", "ext-1"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if repo.plan["user-1"] != domain.PlanBase {
		t.Errorf("plan = %s, want base", repo.plan["user-1"])
	}
	sub := repo.subs["stripe:ext-1"]
	if sub == nil || sub.Status != domain.SubscriptionActive {
		t.Fatalf("subscription = %+v", sub)
	}
	until := time.Until(sub.CurrentPeriodEnd)
	if until < 29*24*time.Hour || until > 31*24*time.Hour {
		t.Errorf("period end %v not ~30 days out", sub.CurrentPeriodEnd)
	}
}

func TestCheckoutCompletedIsGrant(t *testing.T) {
	repo := newMemRepo()
	svc := billing.NewService(repo)

	err := svc.HandleEvent(context.Background(), paymentEvent(billing.EventCheckoutCompleted, "user-1", "pro", "ext-2"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if repo.plan["user-1"] != domain.PlanPro {
		t.Errorf("plan = %s, want pro", repo.plan["user-1"])
	}
}

func TestRenewalExtendsExisting(t *testing.T) {
	repo := newMemRepo()
	svc := billing.NewService(repo)

	evt := paymentEvent(billing.EventPaymentSucceeded, "user-1", "base", "ext-1")
	svc.HandleEvent(context.Background(), evt)
	firstEnd := repo.subs["stripe:ext-1"].CurrentPeriodEnd

	time.Sleep(5 * time.Millisecond)
	svc.HandleEvent(context.Background(), evt)

	if len(repo.subs) != 1 {
		t.Fatalf("subs = %d, want 1 (renewal must not duplicate)", len(repo.subs))
	}
	if !repo.subs["stripe:ext-1"].CurrentPeriodEnd.After(firstEnd) {
		t.Error("renewal did not extend the period")
	}
}

func TestCancellationDowngrades(t *testing.T) {
	repo := newMemRepo()
	svc := billing.NewService(repo)

	svc.HandleEvent(context.Background(), paymentEvent(billing.EventPaymentSucceeded, "user-1", "pro", "ext-1"))
	err := svc.HandleEvent(context.Background(), paymentEvent(billing.EventSubscriptionCancelled, "", "", "ext-1"))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if repo.plan["user-1"] != domain.PlanFree {
		t.Errorf("plan = %s, want free", repo.plan["user-1"])
	}
	if repo.subs["stripe:ext-1"].Status != domain.SubscriptionCancelled {
		t.Errorf("status = %s", repo.subs["stripe:ext-1"].Status)
	}
}

func TestRefundBehavesLikeCancellation(t *testing.T) {
	repo := newMemRepo()
	svc := billing.NewService(repo)

	svc.HandleEvent(context.Background(), paymentEvent(billing.EventPaymentSucceeded, "user-1", "base", "ext-1"))
	if err := svc.HandleEvent(context.Background(), paymentEvent(billing.EventPaymentRefunded, "", "", "ext-1")); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if repo.plan["user-1"] != domain.PlanFree {
		t.Errorf("plan = %s, want free", repo.plan["user-1"])
	}
}

func TestCancelUnknownSubscriptionIsNoop(t *testing.T) {
	svc := billing.NewService(newMemRepo())
	err := svc.HandleEvent(context.Background(), paymentEvent(billing.EventSubscriptionCancelled, "", "", "ghost"))
	if err != nil {
		t.Fatalf("unknown cancellation should not error: %v", err)
	}
}

func TestUnknownEventRejected(t *testing.T) {
	svc := billing.NewService(newMemRepo())
	err := svc.HandleEvent(context.Background(), &billing.Event{Event: "invoice.finalized"})
	if !errors.Is(err, billing.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestGrantRejectsUnknownPlan(t *testing.T) {
	svc := billing.NewService(newMemRepo())
	err := svc.HandleEvent(context.Background(), paymentEvent(billing.EventPaymentSucceeded, "user-1", "platinum", "ext-1"))
	if !errors.Is(err, billing.ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestExpireLapsed(t *testing.T) {
	repo := newMemRepo()
	svc := billing.NewService(repo)

	svc.HandleEvent(context.Background(), paymentEvent(billing.EventPaymentSucceeded, "user-1", "base", "ext-1"))
	repo.subs["stripe:ext-1"].CurrentPeriodEnd = time.Now().Add(-time.Hour)

	n, err := svc.ExpireLapsed(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
	if repo.plan["user-1"] != domain.PlanFree {
		t.Errorf("plan = %s, want free after expiry", repo.plan["user-1"])
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"payment.succeeded"}`)
	secret := "bsec_test"

	// hex(HMAC-SHA256(body, secret)) computed by the provider.
	header := computeHex(body, secret)
	if !billing.VerifySignature(body, secret, header) {
		t.Fatal("valid signature rejected")
	}
	if billing.VerifySignature([]byte(`{"event":"tampered"}`), secret, header) {
		t.Fatal("tampered body accepted")
	}
	if billing.VerifySignature(body, "wrong-secret", header) {
		t.Fatal("wrong secret accepted")
	}
}
