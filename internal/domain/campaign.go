package domain

import (
	"regexp"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
// Campaigns only ever move draft -> sent.
type CampaignStatus string

const (
	CampaignDraft CampaignStatus = "draft"
	CampaignSent  CampaignStatus = "sent"
)

// DiscountType enumerates the supported discount shapes.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
)

// Campaign is a batch discount-code broadcast targeting a set of members.
type Campaign struct {
	ID            string         `json:"id" db:"id"`
	StoreID       string         `json:"store_id" db:"store_id"`
	Name          string         `json:"name" db:"name"`
	DiscountType  DiscountType   `json:"discount_type" db:"discount_type"`
	DiscountValue float64        `json:"discount_value" db:"discount_value"`
	Status        CampaignStatus `json:"status" db:"status"`
	SentAt        *time.Time     `json:"sent_at" db:"sent_at"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// CodePrefix is prepended to every generated discount code.
const CodePrefix = "NICHE-"

// CodePattern matches a well-formed discount code.
var CodePattern = regexp.MustCompile(`^NICHE-[0-9A-F]{8}$`)

// DiscountCode is one member's code within a campaign. It is mutated exactly
// once, by the matching orders/updated webhook, to mark redemption.
type DiscountCode struct {
	ID         string     `json:"id" db:"id"`
	CampaignID string     `json:"campaign_id" db:"campaign_id"`
	MemberID   string     `json:"member_id" db:"member_id"`
	Code       string     `json:"code" db:"code"`
	IsRedeemed bool       `json:"is_redeemed" db:"is_redeemed"`
	OrderID    *int64     `json:"order_id" db:"order_id"`
	OrderName  *string    `json:"order_name" db:"order_name"`
	RedeemedAt *time.Time `json:"redeemed_at" db:"redeemed_at"`
	SentAt     *time.Time `json:"sent_at" db:"sent_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// RedeemLog is an append-only audit row written when a code is redeemed.
// It carries the order amount in cents and no customer PII.
type RedeemLog struct {
	ID               string    `json:"id" db:"id"`
	StoreID          string    `json:"store_id" db:"store_id"`
	DiscountCodeID   string    `json:"discount_code_id" db:"discount_code_id"`
	OrderID          int64     `json:"order_id" db:"order_id"`
	OrderAmountCents int64     `json:"order_amount_cents" db:"order_amount_cents"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
