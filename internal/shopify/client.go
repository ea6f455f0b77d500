// Package shopify is the boundary to the Shopify Admin REST API and to
// Shopify's inbound webhooks. Nothing outside this package builds Shopify
// URLs or parses Shopify payloads.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nichepass/nichepass/internal/apperr"
	"github.com/nichepass/nichepass/internal/pkg/httpretry"
)

// Client calls the Shopify Admin REST API for a single shop.
// Create one per request via NewClient; it carries the shop's token.
type Client struct {
	domain     string
	token      string
	apiVersion string
	http       httpretry.HTTPDoer
}

// NewClient creates an Admin API client for the given shop.
// If doer is nil a retrying client with a 30s timeout is used.
func NewClient(domain, token, apiVersion string, doer httpretry.HTTPDoer) *Client {
	if doer == nil {
		doer = httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 3)
	}
	if apiVersion == "" {
		apiVersion = "2024-10"
	}
	return &Client{domain: domain, token: token, apiVersion: apiVersion, http: doer}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("https://%s/admin/api/%s%s", c.domain, c.apiVersion, path)
}

func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Upstream("shopify request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Upstream(
			fmt.Sprintf("shopify returned status %d", resp.StatusCode),
			fmt.Errorf("%s %s: %s", method, url, truncate(raw, 256)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperr.Upstream("invalid shopify response", err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Shop is the subset of the shop-info endpoint we care about.
type Shop struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"myshopify_domain"`
	Email  string `json:"email"`
}

// ShopInfo fetches the shop record. A non-2xx here means the token is bad.
func (c *Client) ShopInfo(ctx context.Context) (*Shop, error) {
	var out struct {
		Shop Shop `json:"shop"`
	}
	if err := c.do(ctx, http.MethodGet, c.url("/shop.json"), nil, &out); err != nil {
		return nil, err
	}
	return &out.Shop, nil
}

// AccessScopes returns the comma-joined scopes granted to the token.
// The access-scopes endpoint is unversioned.
func (c *Client) AccessScopes(ctx context.Context) (string, error) {
	var out struct {
		AccessScopes []struct {
			Handle string `json:"handle"`
		} `json:"access_scopes"`
	}
	url := fmt.Sprintf("https://%s/admin/oauth/access_scopes.json", c.domain)
	if err := c.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return "", err
	}
	scopes := ""
	for i, s := range out.AccessScopes {
		if i > 0 {
			scopes += ","
		}
		scopes += s.Handle
	}
	return scopes, nil
}

// Customer is a Shopify customer record.
type Customer struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Customers pages through the shop's customers using since_id cursors.
// limit caps the page size (Shopify max 250).
func (c *Client) Customers(ctx context.Context, sinceID int64, limit int) ([]Customer, error) {
	if limit <= 0 || limit > 250 {
		limit = 250
	}
	var out struct {
		Customers []Customer `json:"customers"`
	}
	url := c.url(fmt.Sprintf("/customers.json?limit=%d&since_id=%d", limit, sinceID))
	if err := c.do(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	return out.Customers, nil
}

// WebhookTopics are the subscriptions required by the loyalty pipeline.
var WebhookTopics = []string{"customers/create", "orders/paid", "orders/updated"}

// RegisterWebhook subscribes the shop to a topic. Shopify rejects duplicate
// subscriptions with a 422, which callers may ignore on reconnection.
func (c *Client) RegisterWebhook(ctx context.Context, topic, address string) error {
	body := map[string]any{
		"webhook": map[string]any{
			"topic":   topic,
			"address": address,
			"format":  "json",
		},
	}
	return c.do(ctx, http.MethodPost, c.url("/webhooks.json"), body, nil)
}

// PriceRuleInput describes the discount to mirror into Shopify so generated
// codes are honored at checkout.
type PriceRuleInput struct {
	Title        string
	ValueType    string // "percentage" or "fixed_amount"
	Value        float64
	CustomerType string
}

// CreatePriceRule creates a price rule and returns its ID.
func (c *Client) CreatePriceRule(ctx context.Context, in PriceRuleInput) (int64, error) {
	// Shopify encodes discounts as negative values
	body := map[string]any{
		"price_rule": map[string]any{
			"title":              in.Title,
			"target_type":        "line_item",
			"target_selection":   "all",
			"allocation_method":  "across",
			"value_type":         in.ValueType,
			"value":              fmt.Sprintf("-%g", in.Value),
			"customer_selection": "all",
			"usage_limit":        1,
			"starts_at":          time.Now().UTC().Format(time.RFC3339),
		},
	}
	var out struct {
		PriceRule struct {
			ID int64 `json:"id"`
		} `json:"price_rule"`
	}
	if err := c.do(ctx, http.MethodPost, c.url("/price_rules.json"), body, &out); err != nil {
		return 0, err
	}
	return out.PriceRule.ID, nil
}

// CreateDiscountCode attaches a code string to a price rule.
func (c *Client) CreateDiscountCode(ctx context.Context, priceRuleID int64, code string) error {
	body := map[string]any{
		"discount_code": map[string]any{"code": code},
	}
	url := c.url(fmt.Sprintf("/price_rules/%d/discount_codes.json", priceRuleID))
	return c.do(ctx, http.MethodPost, url, body, nil)
}
