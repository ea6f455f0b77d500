package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nichepass/nichepass/internal/billing"
	"github.com/nichepass/nichepass/internal/domain"
)

// BillingRepo implements billing.Repository against PostgreSQL.
type BillingRepo struct{ db *sql.DB }

// NewBillingRepo creates a Postgres-backed billing repository.
func NewBillingRepo(db *sql.DB) *BillingRepo { return &BillingRepo{db: db} }

// Grant upserts the subscription keyed by (provider, external_id) and bumps
// the user's plan in the same transaction. Renewals for a known external id
// refresh the period instead of inserting a second row.
func (r *BillingRepo) Grant(ctx context.Context, sub *domain.Subscription) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions
			(id, user_id, provider, external_id, plan_type, status,
			 current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (provider, external_id) DO UPDATE
		SET plan_type = EXCLUDED.plan_type,
		    status = EXCLUDED.status,
		    current_period_end = EXCLUDED.current_period_end,
		    updated_at = NOW()
	`, sub.ID, sub.UserID, sub.Provider, sub.ExternalID, sub.PlanType,
		sub.Status, sub.CurrentPeriodEnd)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET plan_type = $1, updated_at = NOW() WHERE id = $2
	`, sub.PlanType, sub.UserID)
	if err != nil {
		return fmt.Errorf("update user plan: %w", err)
	}
	return tx.Commit()
}

// Cancel marks the subscription cancelled and drops its user to the free
// plan in one transaction.
func (r *BillingRepo) Cancel(ctx context.Context, provider, externalID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx, `
		UPDATE subscriptions SET status = 'cancelled', updated_at = NOW()
		WHERE provider = $1 AND external_id = $2
		RETURNING user_id
	`, provider, externalID).Scan(&userID)
	if err == sql.ErrNoRows {
		return billing.ErrNoSubscription
	}
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET plan_type = $1, updated_at = NOW() WHERE id = $2
	`, domain.PlanFree, userID)
	if err != nil {
		return fmt.Errorf("downgrade user: %w", err)
	}
	return tx.Commit()
}

// ExpireLapsed expires every active subscription whose period ended before
// now and downgrades those users, all in one transaction.
func (r *BillingRepo) ExpireLapsed(ctx context.Context, now time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		UPDATE subscriptions SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND current_period_end < $1
		RETURNING user_id
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire subscriptions: %w", err)
	}
	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("expire subscriptions: %w", err)
	}

	for _, id := range userIDs {
		_, err := tx.ExecContext(ctx, `
			UPDATE users SET plan_type = $1, updated_at = NOW() WHERE id = $2
		`, domain.PlanFree, id)
		if err != nil {
			return 0, fmt.Errorf("downgrade user: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(userIDs), nil
}
