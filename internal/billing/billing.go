// Package billing consumes payment-provider webhooks and maintains
// subscriptions. A successful payment grants a 30-day period on the paid
// plan; refunds and cancellations drop the user back to the free tier.
package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/pkg/logger"
)

// PeriodLength is the paid period granted per successful payment.
const PeriodLength = 30 * 24 * time.Hour

// Webhook event names from the payment provider.
const (
	EventPaymentSucceeded      = "payment.succeeded"
	EventCheckoutCompleted     = "checkout.completed"
	EventPaymentRefunded       = "payment.refunded"
	EventSubscriptionCancelled = "subscription.cancelled"
)

// Sentinel errors for the billing layer.
var (
	ErrUnknownEvent   = errors.New("unknown billing event")
	ErrInvalidPayload = errors.New("invalid billing payload")
	ErrUnknownPlan    = errors.New("unknown plan in billing payload")
	ErrNoSubscription = errors.New("no subscription for external id")
	ErrBadSignature   = errors.New("billing signature mismatch")
)

// Event is the payment provider's webhook envelope.
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

// EventData carries the provider's subscription facts.
type EventData struct {
	UserID         string `json:"user_id"`
	Plan           string `json:"plan"`
	SubscriptionID string `json:"subscription_id"`
	Provider       string `json:"provider"`
}

// Repository defines the data access contract for subscriptions. Grant and
// Cancel must each apply the subscription change and the user's plan change
// in one transaction.
type Repository interface {
	// Grant upserts the subscription row (keyed by provider + external id)
	// and sets the user's plan, atomically.
	Grant(ctx context.Context, sub *domain.Subscription) error

	// Cancel marks the subscription cancelled and drops the user to the
	// free plan, atomically. Returns ErrNoSubscription when the external
	// id is unknown.
	Cancel(ctx context.Context, provider, externalID string) error

	// ExpireLapsed marks every active subscription whose period ended
	// before now as expired and downgrades those users, atomically per
	// subscription. Returns how many were expired.
	ExpireLapsed(ctx context.Context, now time.Time) (int, error)
}

// Service applies billing events.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a billing service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// HandleEvent applies one provider webhook event. Events are idempotent:
// re-granting an existing subscription refreshes its period, re-cancelling
// a cancelled one is a no-op at the repository level.
func (s *Service) HandleEvent(ctx context.Context, evt *Event) error {
	switch evt.Event {
	case EventPaymentSucceeded, EventCheckoutCompleted:
		return s.grant(ctx, evt)
	case EventPaymentRefunded, EventSubscriptionCancelled:
		return s.cancel(ctx, evt)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, evt.Event)
	}
}

func (s *Service) grant(ctx context.Context, evt *Event) error {
	if evt.Data.UserID == "" || evt.Data.SubscriptionID == "" {
		return ErrInvalidPayload
	}
	planType := domain.PlanType(evt.Data.Plan)
	switch planType {
	case domain.PlanBase, domain.PlanPro:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPlan, evt.Data.Plan)
	}

	now := s.now().UTC()
	sub := &domain.Subscription{
		ID:               uuid.New().String(),
		UserID:           evt.Data.UserID,
		Provider:         providerOrDefault(evt.Data.Provider),
		ExternalID:       evt.Data.SubscriptionID,
		PlanType:         planType,
		Status:           domain.SubscriptionActive,
		CurrentPeriodEnd: now.Add(PeriodLength),
	}
	if err := s.repo.Grant(ctx, sub); err != nil {
		return fmt.Errorf("grant subscription: %w", err)
	}

	logger.Info("subscription granted",
		"user_id", sub.UserID, "plan", sub.PlanType,
		"period_end", sub.CurrentPeriodEnd.Format(time.RFC3339))
	return nil
}

func (s *Service) cancel(ctx context.Context, evt *Event) error {
	if evt.Data.SubscriptionID == "" {
		return ErrInvalidPayload
	}
	err := s.repo.Cancel(ctx, providerOrDefault(evt.Data.Provider), evt.Data.SubscriptionID)
	if errors.Is(err, ErrNoSubscription) {
		// Providers replay cancellations; an unknown id is not actionable.
		logger.Warn("cancellation for unknown subscription",
			"external_id", evt.Data.SubscriptionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}

	logger.Info("subscription cancelled", "external_id", evt.Data.SubscriptionID)
	return nil
}

// ExpireLapsed downgrades every subscription whose paid period has ended.
// The scheduler invokes this daily.
func (s *Service) ExpireLapsed(ctx context.Context) (int, error) {
	n, err := s.repo.ExpireLapsed(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire subscriptions: %w", err)
	}
	if n > 0 {
		logger.Info("subscriptions expired", "count", n)
	}
	return n, nil
}

func providerOrDefault(p string) string {
	if p == "" {
		return "stripe"
	}
	return p
}

// VerifySignature checks the provider's signature header,
// hex(HMAC-SHA256(body, secret)), in constant time.
func VerifySignature(body []byte, secret, header string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(header), []byte(want))
}
