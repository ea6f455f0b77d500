package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// UsageRepo reports per-store resource consumption for plan-limit checks.
type UsageRepo struct{ db *sql.DB }

// NewUsageRepo creates a Postgres-backed usage repository.
func NewUsageRepo(db *sql.DB) *UsageRepo { return &UsageRepo{db: db} }

func (r *UsageRepo) CountActiveMembers(ctx context.Context, storeID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM members WHERE store_id = $1 AND status = 'active'
	`, storeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active members: %w", err)
	}
	return n, nil
}

func (r *UsageRepo) CountCampaigns(ctx context.Context, storeID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaigns WHERE store_id = $1
	`, storeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count campaigns: %w", err)
	}
	return n, nil
}

// CountEmailsThisMonth counts campaign codes stamped sent plus automation
// tasks delivered since the start of the current UTC month.
func (r *UsageRepo) CountEmailsThisMonth(ctx context.Context, storeID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM discount_codes dc
			 JOIN campaigns c ON c.id = dc.campaign_id
			 WHERE c.store_id = $1
			   AND dc.sent_at >= date_trunc('month', NOW() AT TIME ZONE 'UTC'))
			+
			(SELECT COUNT(*) FROM send_tasks
			 WHERE store_id = $1 AND status = 'done'
			   AND processed_at >= date_trunc('month', NOW() AT TIME ZONE 'UTC'))
	`, storeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count emails this month: %w", err)
	}
	return n, nil
}
