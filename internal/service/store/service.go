// Package store manages the connection between a merchant account and a
// Shopify shop: token verification, credential encryption, webhook
// registration and the connect/disconnect lifecycle.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/pkg/logger"
	"github.com/nichepass/nichepass/internal/pkg/secrets"
	"github.com/nichepass/nichepass/internal/shopify"
)

// AdminAPI is the slice of the Shopify Admin client the store service needs.
type AdminAPI interface {
	ShopInfo(ctx context.Context) (*shopify.Shop, error)
	AccessScopes(ctx context.Context) (string, error)
	RegisterWebhook(ctx context.Context, topic, address string) error
}

// ClientFactory builds an Admin API client for a shop and token.
type ClientFactory func(shopDomain, accessToken string) AdminAPI

// Service implements the store connection lifecycle.
type Service struct {
	repo        Repository
	clients     ClientFactory
	webhookBase string // public base URL webhooks are registered against
}

// NewService creates a store service. webhookBase is the externally
// reachable base URL, e.g. "https://app.example.com".
func NewService(repo Repository, clients ClientFactory, webhookBase string) *Service {
	return &Service{repo: repo, clients: clients, webhookBase: webhookBase}
}

// ConnectInput holds the fields for connecting a shop.
type ConnectInput struct {
	ShopDomain  string `json:"shop_domain"`
	AccessToken string `json:"access_token"`
}

// Connect verifies the token against Shopify, checks scopes, encrypts the
// token under a per-store key and upserts the store row. Reconnecting an
// existing domain rotates credentials in place and reactivates the store.
func (s *Service) Connect(ctx context.Context, userID string, in ConnectInput) (*domain.Store, error) {
	shopDomain := domain.NormalizeShopDomain(in.ShopDomain)
	if !domain.ValidShopDomain(shopDomain) {
		return nil, ErrInvalidDomain
	}
	if in.AccessToken == "" {
		return nil, ErrInvalidToken
	}

	client := s.clients(shopDomain, in.AccessToken)

	shop, err := client.ShopInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if domain.NormalizeShopDomain(shop.Domain) != shopDomain {
		return nil, ErrDomainMismatch
	}

	granted, err := client.AccessScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch access scopes: %w", err)
	}
	if !domain.HasScopes(granted, domain.RequiredScopes) {
		return nil, ErrMissingScopes
	}

	existing, err := s.repo.GetByDomain(ctx, shopDomain)
	switch {
	case err == nil:
		if existing.UserID != userID {
			return nil, ErrNotOwner
		}
		return s.reconnect(ctx, existing, in.AccessToken, granted, client)
	case errors.Is(err, ErrNotFound):
		return s.create(ctx, userID, shopDomain, in.AccessToken, granted, client)
	default:
		return nil, fmt.Errorf("lookup store: %w", err)
	}
}

func (s *Service) create(ctx context.Context, userID, shopDomain, token, scopes string, client AdminAPI) (*domain.Store, error) {
	keyB64, err := secrets.NewKey()
	if err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}
	key, err := secrets.LoadKey(keyB64)
	if err != nil {
		return nil, err
	}
	tokenEnc, err := secrets.Encrypt(key, token)
	if err != nil {
		return nil, fmt.Errorf("encrypt token: %w", err)
	}
	whSecret, err := secrets.NewWebhookSecret()
	if err != nil {
		return nil, fmt.Errorf("generate webhook secret: %w", err)
	}

	st := &domain.Store{
		ID:             uuid.New().String(),
		UserID:         userID,
		ShopifyDomain:  shopDomain,
		AccessTokenEnc: tokenEnc,
		WebhookSecret:  whSecret,
		EncryptionKey:  keyB64,
		Scopes:         scopes,
		Status:         domain.StoreConnected,
	}

	id, err := s.repo.Create(ctx, st)
	if err != nil {
		return nil, err
	}
	st.ID = id

	s.registerWebhooks(ctx, client, st)
	return st, nil
}

func (s *Service) reconnect(ctx context.Context, st *domain.Store, token, scopes string, client AdminAPI) (*domain.Store, error) {
	// Keep the store's existing key so previously written ciphertext for
	// this store stays consistent with one key.
	keyB64 := st.EncryptionKey
	if keyB64 == "" {
		var err error
		keyB64, err = secrets.NewKey()
		if err != nil {
			return nil, fmt.Errorf("generate encryption key: %w", err)
		}
	}
	key, err := secrets.LoadKey(keyB64)
	if err != nil {
		return nil, err
	}
	tokenEnc, err := secrets.Encrypt(key, token)
	if err != nil {
		return nil, fmt.Errorf("encrypt token: %w", err)
	}
	// In-flight deliveries are signed with the current secret; rotating it
	// here would fail them mid-reconnect. Generate one only when missing.
	whSecret := st.WebhookSecret
	if whSecret == "" {
		whSecret, err = secrets.NewWebhookSecret()
		if err != nil {
			return nil, fmt.Errorf("generate webhook secret: %w", err)
		}
	}

	creds := Credentials{
		AccessTokenEnc: tokenEnc,
		WebhookSecret:  whSecret,
		EncryptionKey:  keyB64,
		Scopes:         scopes,
		Status:         domain.StoreConnected,
	}
	if err := s.repo.RotateCredentials(ctx, st.ID, creds); err != nil {
		return nil, fmt.Errorf("rotate credentials: %w", err)
	}

	st.AccessTokenEnc = tokenEnc
	st.WebhookSecret = whSecret
	st.EncryptionKey = keyB64
	st.Scopes = scopes
	st.Status = domain.StoreConnected

	s.registerWebhooks(ctx, client, st)
	return st, nil
}

// registerWebhooks subscribes the shop to every topic we consume. Failures
// are logged, not fatal: Shopify returns 422 for duplicate subscriptions on
// reconnect and the merchant can retry from the dashboard.
func (s *Service) registerWebhooks(ctx context.Context, client AdminAPI, st *domain.Store) {
	if s.webhookBase == "" {
		return
	}
	// One shared endpoint; deliveries carry the shop domain in a header.
	address := s.webhookBase + "/webhooks/shopify"
	for _, topic := range shopify.WebhookTopics {
		if err := client.RegisterWebhook(ctx, topic, address); err != nil {
			logger.Warn("webhook registration failed",
				"store_id", st.ID, "topic", topic, "error", err)
		}
	}
}

// Get returns a store owned by the user.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.Store, error) {
	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, ErrNotFound
	}
	return st, nil
}

// List returns the user's stores.
func (s *Service) List(ctx context.Context, userID string) ([]domain.Store, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Disconnect marks the store disconnected. Rows and members are kept; a
// later Connect on the same domain reactivates them.
func (s *Service) Disconnect(ctx context.Context, userID, id string) error {
	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if st.UserID != userID {
		return ErrNotFound
	}
	return s.repo.UpdateStatus(ctx, id, domain.StoreDisconnected)
}

// AccessToken decrypts and returns the store's Shopify token.
func (s *Service) AccessToken(st *domain.Store) (string, error) {
	if st.Status != domain.StoreConnected {
		return "", ErrDisconnected
	}
	key, err := secrets.LoadKey(st.EncryptionKey)
	if err != nil {
		return "", fmt.Errorf("load encryption key: %w", err)
	}
	token, err := secrets.Decrypt(key, st.AccessTokenEnc)
	if err != nil {
		return "", fmt.Errorf("decrypt token: %w", err)
	}
	return token, nil
}
