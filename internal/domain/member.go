package domain

import "time"

// MemberStatus enumerates the lifecycle states of a member. Deleting a member
// is a transition to inactive, never a row removal.
type MemberStatus string

const (
	MemberActive   MemberStatus = "active"
	MemberInactive MemberStatus = "inactive"
)

// MemberSource records how a member entered the program.
type MemberSource string

const (
	SourceManual  MemberSource = "manual"
	SourceCSV     MemberSource = "csv"
	SourceSync    MemberSource = "sync"
	SourceWebhook MemberSource = "webhook"
)

// Member is a store customer enrolled in the loyalty program.
// Email is unique per store.
type Member struct {
	ID                string       `json:"id" db:"id"`
	StoreID           string       `json:"store_id" db:"store_id"`
	Email             string       `json:"email" db:"email"`
	FirstName         string       `json:"first_name" db:"first_name"`
	LastName          string       `json:"last_name" db:"last_name"`
	PassURL           *string      `json:"pass_url" db:"pass_url"`
	Status            MemberStatus `json:"status" db:"status"`
	Source            MemberSource `json:"source" db:"source"`
	ShopifyCustomerID *int64       `json:"shopify_customer_id" db:"shopify_customer_id"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at" db:"updated_at"`
}
