// Package postgres implements the service repositories against PostgreSQL
// using database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/service/store"
)

// StoreRepo implements store.Repository against PostgreSQL.
type StoreRepo struct{ db *sql.DB }

// NewStoreRepo creates a Postgres-backed store repository.
func NewStoreRepo(db *sql.DB) *StoreRepo { return &StoreRepo{db: db} }

const storeColumns = `id, user_id, shopify_domain, access_token_enc, webhook_secret,
	       encryption_key, scopes, status, created_at, updated_at`

func scanStore(row interface{ Scan(...any) error }) (*domain.Store, error) {
	s := &domain.Store{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.ShopifyDomain, &s.AccessTokenEnc, &s.WebhookSecret,
		&s.EncryptionKey, &s.Scopes, &s.Status, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan store: %w", err)
	}
	return s, nil
}

func (r *StoreRepo) GetByID(ctx context.Context, id string) (*domain.Store, error) {
	return scanStore(r.db.QueryRowContext(ctx, `
		SELECT `+storeColumns+` FROM stores WHERE id = $1
	`, id))
}

func (r *StoreRepo) GetByDomain(ctx context.Context, shopifyDomain string) (*domain.Store, error) {
	return scanStore(r.db.QueryRowContext(ctx, `
		SELECT `+storeColumns+` FROM stores WHERE shopify_domain = $1
	`, shopifyDomain))
}

func (r *StoreRepo) ListByUser(ctx context.Context, userID string) ([]domain.Store, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+storeColumns+` FROM stores
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	var out []domain.Store
	for rows.Next() {
		s, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *StoreRepo) Create(ctx context.Context, s *domain.Store) (string, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Principals are issued upstream; materialize the row on first use so
	// the store's owner reference always resolves.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, email, plan_type, created_at, updated_at)
		VALUES ($1, '', 'free', NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`, s.UserID)
	if err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stores
			(id, user_id, shopify_domain, access_token_enc, webhook_secret,
			 encryption_key, scopes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, s.ID, s.UserID, s.ShopifyDomain, s.AccessTokenEnc, s.WebhookSecret,
		s.EncryptionKey, s.Scopes, s.Status)
	if err != nil {
		return "", fmt.Errorf("create store: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return s.ID, nil
}

// RotateCredentials writes the whole credential set in one UPDATE. Readers
// racing this statement see either the old pair or the new pair, never a
// mix.
func (r *StoreRepo) RotateCredentials(ctx context.Context, id string, c store.Credentials) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE stores
		SET access_token_enc = $1, webhook_secret = $2, encryption_key = $3,
		    scopes = $4, status = $5, updated_at = NOW()
		WHERE id = $6
	`, c.AccessTokenEnc, c.WebhookSecret, c.EncryptionKey, c.Scopes, c.Status, id)
	if err != nil {
		return fmt.Errorf("rotate credentials: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *StoreRepo) UpdateStatus(ctx context.Context, id string, status domain.StoreStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE stores SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("update store status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// StoreName resolves a store's display name for email templates. The shop
// domain minus the suffix is good enough until we persist shop titles.
func (r *StoreRepo) StoreName(ctx context.Context, storeID string) (string, error) {
	s, err := r.GetByID(ctx, storeID)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(s.ShopifyDomain, ".myshopify.com"), nil
}

// ListConnectedIDs returns the IDs of every connected store, for scheduled
// whole-fleet jobs.
func (r *StoreRepo) ListConnectedIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM stores WHERE status = 'connected' ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list connected stores: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan store id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
