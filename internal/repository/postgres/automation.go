package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/service/automation"
)

// AutomationRepo implements automation.Repository against PostgreSQL.
type AutomationRepo struct{ db *sql.DB }

// NewAutomationRepo creates a Postgres-backed automation repository.
func NewAutomationRepo(db *sql.DB) *AutomationRepo { return &AutomationRepo{db: db} }

const automationColumns = `id, store_id, card_id, trigger_type, trigger_value, active, created_at`

func scanAutomation(row interface{ Scan(...any) error }) (*domain.Automation, error) {
	a := &domain.Automation{}
	err := row.Scan(&a.ID, &a.StoreID, &a.CardID, &a.TriggerType,
		&a.TriggerValue, &a.Active, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, automation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan automation: %w", err)
	}
	return a, nil
}

func (r *AutomationRepo) Get(ctx context.Context, storeID, id string) (*domain.Automation, error) {
	return scanAutomation(r.db.QueryRowContext(ctx, `
		SELECT `+automationColumns+` FROM automations
		WHERE id = $1 AND store_id = $2
	`, id, storeID))
}

func (r *AutomationRepo) List(ctx context.Context, storeID string) ([]domain.Automation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+automationColumns+` FROM automations
		WHERE store_id = $1
		ORDER BY created_at DESC
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}
	defer rows.Close()
	return collectAutomations(rows)
}

func (r *AutomationRepo) ListActive(ctx context.Context, storeID string, trigger domain.TriggerType) ([]domain.Automation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+automationColumns+` FROM automations
		WHERE store_id = $1 AND trigger_type = $2 AND active
		ORDER BY created_at
	`, storeID, trigger)
	if err != nil {
		return nil, fmt.Errorf("list active automations: %w", err)
	}
	defer rows.Close()
	return collectAutomations(rows)
}

func collectAutomations(rows *sql.Rows) ([]domain.Automation, error) {
	var out []domain.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *AutomationRepo) Create(ctx context.Context, a *domain.Automation) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO automations
			(id, store_id, card_id, trigger_type, trigger_value, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, a.ID, a.StoreID, a.CardID, a.TriggerType, a.TriggerValue, a.Active)
	if err != nil {
		return "", fmt.Errorf("create automation: %w", err)
	}
	return a.ID, nil
}

func (r *AutomationRepo) Update(ctx context.Context, storeID, id string, u automation.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.CardID != nil {
		add("card_id", *u.CardID)
	}
	if u.Active != nil {
		add("active", *u.Active)
	}
	if u.ClearTriggerValue {
		sets = append(sets, "trigger_value = NULL")
	} else if u.TriggerValue != nil {
		add("trigger_value", *u.TriggerValue)
	}
	if len(sets) == 0 {
		return nil
	}

	q := fmt.Sprintf("UPDATE automations SET %s WHERE id = $%d AND store_id = $%d",
		joinComma(sets), idx, idx+1)
	args = append(args, id, storeID)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update automation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return automation.ErrNotFound
	}
	return nil
}

func (r *AutomationRepo) Delete(ctx context.Context, storeID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM automations WHERE id = $1 AND store_id = $2
	`, id, storeID)
	if err != nil {
		return fmt.Errorf("delete automation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return automation.ErrNotFound
	}
	return nil
}

// EnqueueTask inserts a pending task unless an open one already exists for
// the same automation and member. The anti-join makes redelivered webhooks
// collapse into a single task.
func (r *AutomationRepo) EnqueueTask(ctx context.Context, t *domain.SendTask) (bool, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO send_tasks (id, store_id, automation_id, member_id, status, created_at)
		SELECT $1, $2, $3, $4, 'pending', NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM send_tasks
			WHERE automation_id = $3 AND member_id = $4
			  AND status IN ('pending', 'processing')
		)
	`, t.ID, t.StoreID, t.AutomationID, t.MemberID)
	if err != nil {
		return false, fmt.Errorf("enqueue task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
