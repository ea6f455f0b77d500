package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nichepass/nichepass/internal/domain"
)

// TaskRepo claims and completes send tasks for the background worker.
type TaskRepo struct{ db *sql.DB }

// NewTaskRepo creates a Postgres-backed send-task repository.
func NewTaskRepo(db *sql.DB) *TaskRepo { return &TaskRepo{db: db} }

// ClaimPending moves up to limit pending tasks to processing and returns
// them. SKIP LOCKED keeps concurrent claimers from blocking on or receiving
// each other's rows.
func (r *TaskRepo) ClaimPending(ctx context.Context, limit int) ([]domain.SendTask, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE send_tasks
		SET status = 'processing'
		WHERE id IN (
			SELECT id FROM send_tasks
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, store_id, automation_id, member_id, status, created_at, processed_at
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.SendTask
	for rows.Next() {
		var t domain.SendTask
		if err := rows.Scan(&t.ID, &t.StoreID, &t.AutomationID, &t.MemberID,
			&t.Status, &t.CreatedAt, &t.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Complete finalizes a claimed task.
func (r *TaskRepo) Complete(ctx context.Context, id string, status domain.SendTaskStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE send_tasks SET status = $1, processed_at = NOW()
		WHERE id = $2 AND status = 'processing'
	`, status, id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("complete task: %s not in processing", id)
	}
	return nil
}
