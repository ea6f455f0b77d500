package domain

import "time"

// SubscriptionStatus enumerates subscription lifecycle states.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// Subscription records a paid billing period granted by the payment
// provider. One active row per user at a time.
type Subscription struct {
	ID               string             `json:"id" db:"id"`
	UserID           string             `json:"user_id" db:"user_id"`
	Provider         string             `json:"provider" db:"provider"`
	ExternalID       string             `json:"external_id" db:"external_id"`
	PlanType         PlanType           `json:"plan_type" db:"plan_type"`
	Status           SubscriptionStatus `json:"status" db:"status"`
	CurrentPeriodEnd time.Time          `json:"current_period_end" db:"current_period_end"`
	CreatedAt        time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the paid period has lapsed at the given instant.
func (s *Subscription) Expired(now time.Time) bool {
	return s.Status == SubscriptionActive && now.After(s.CurrentPeriodEnd)
}
