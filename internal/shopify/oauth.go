package shopify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/oauth2"
)

// OAuth drives the Shopify authorization-code flow. Endpoints are per-shop,
// so the oauth2.Config is built fresh for each shop domain.
type OAuth struct {
	APIKey      string
	APISecret   string
	Scopes      string
	RedirectURL string
}

func (o *OAuth) config(shopDomain string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     o.APIKey,
		ClientSecret: o.APISecret,
		RedirectURL:  o.RedirectURL,
		Scopes:       []string{o.Scopes},
		Endpoint: oauth2.Endpoint{
			AuthURL:  fmt.Sprintf("https://%s/admin/oauth/authorize", shopDomain),
			TokenURL: fmt.Sprintf("https://%s/admin/oauth/access_token", shopDomain),
		},
	}
}

// AuthorizeURL returns the URL to send the merchant to, carrying the given
// anti-forgery state.
func (o *OAuth) AuthorizeURL(shopDomain, state string) string {
	return o.config(shopDomain).AuthCodeURL(state)
}

// Exchange trades the callback code for a permanent access token.
// Shopify tokens do not expire, so only AccessToken is meaningful.
func (o *OAuth) Exchange(ctx context.Context, shopDomain, code string) (string, error) {
	tok, err := o.config(shopDomain).Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange oauth code: %w", err)
	}
	return tok.AccessToken, nil
}

// NewState generates a random nonce for the OAuth state parameter.
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
