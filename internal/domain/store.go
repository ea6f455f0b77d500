package domain

import (
	"strings"
	"time"
)

// StoreStatus enumerates the lifecycle states of a connected store.
type StoreStatus string

const (
	StoreConnected    StoreStatus = "connected"
	StoreDisconnected StoreStatus = "disconnected"
)

// RequiredScopes are the Shopify access scopes a store token must carry
// before we accept the connection.
var RequiredScopes = []string{"read_customers", "read_orders", "write_price_rules"}

// Store is a merchant's connected Shopify shop. One row per shop domain;
// reconnecting the same domain updates the row in place (copy-on-write for
// credentials: the new secret/token is written in a single UPDATE so a
// concurrent webhook verification never observes a half-rotated pair).
type Store struct {
	ID             string      `json:"id" db:"id"`
	UserID         string      `json:"user_id" db:"user_id"`
	ShopifyDomain  string      `json:"shopify_domain" db:"shopify_domain"`
	AccessTokenEnc string      `json:"-" db:"access_token_enc"`
	WebhookSecret  string      `json:"-" db:"webhook_secret"`
	EncryptionKey  string      `json:"-" db:"encryption_key"`
	Scopes         string      `json:"scopes" db:"scopes"`
	Status         StoreStatus `json:"status" db:"status"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// NormalizeShopDomain lowercases and trims a shop domain.
func NormalizeShopDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

// ValidShopDomain reports whether the domain looks like a *.myshopify.com
// shop address.
func ValidShopDomain(domain string) bool {
	if !strings.HasSuffix(domain, ".myshopify.com") {
		return false
	}
	if strings.ContainsAny(domain, "/ ") {
		return false
	}
	return len(domain) >= len("a.myshopify.com")
}

// HasScopes reports whether granted (a comma-separated scope list as returned
// by the Shopify access-scopes endpoint) covers every scope in required.
func HasScopes(granted string, required []string) bool {
	have := map[string]bool{}
	for _, s := range strings.Split(granted, ",") {
		have[strings.TrimSpace(s)] = true
	}
	for _, s := range required {
		if !have[s] {
			return false
		}
	}
	return true
}

// User anchors store ownership and the subscription plan. Authentication
// itself lives at the edge; services only ever see the user ID.
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	PlanType  PlanType  `json:"plan_type" db:"plan_type"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
