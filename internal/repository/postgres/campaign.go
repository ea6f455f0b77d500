package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, storeID, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, store_id, name, discount_type, discount_value, status,
		       sent_at, created_at
		FROM campaigns
		WHERE id = $1 AND store_id = $2
	`, id, storeID).Scan(
		&c.ID, &c.StoreID, &c.Name, &c.DiscountType, &c.DiscountValue,
		&c.Status, &c.SentAt, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, storeID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM campaigns WHERE store_id = $1`
	countArgs := []interface{}{storeID}
	if f.Status != "" {
		countQ += " AND status = $2"
		countArgs = append(countArgs, f.Status)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `
		SELECT id, store_id, name, discount_type, discount_value, status,
		       sent_at, created_at
		FROM campaigns WHERE store_id = $1`
	args := []interface{}{storeID}
	idx := 2
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(&c.ID, &c.StoreID, &c.Name, &c.DiscountType,
			&c.DiscountValue, &c.Status, &c.SentAt, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// CreateWithCodes inserts the campaign and its codes in one transaction so a
// failed code insert never leaves a codeless campaign behind.
func (r *CampaignRepo) CreateWithCodes(ctx context.Context, c *domain.Campaign, codes []*domain.DiscountCode) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, store_id, name, discount_type, discount_value, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, c.ID, c.StoreID, c.Name, c.DiscountType, c.DiscountValue, c.Status)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO discount_codes
			(id, campaign_id, member_id, code, is_redeemed, created_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW())
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, code := range codes {
		if code.ID == "" {
			code.ID = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx, code.ID, code.CampaignID, code.MemberID, code.Code); err != nil {
			if isUniqueViolation(err) {
				return campaign.ErrDuplicateCode
			}
			return fmt.Errorf("insert code: %w", err)
		}
	}
	return tx.Commit()
}

func (r *CampaignRepo) Codes(ctx context.Context, campaignID string) ([]domain.DiscountCode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, campaign_id, member_id, code, is_redeemed,
		       order_id, order_name, redeemed_at, sent_at, created_at
		FROM discount_codes
		WHERE campaign_id = $1
		ORDER BY created_at
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list codes: %w", err)
	}
	defer rows.Close()

	var out []domain.DiscountCode
	for rows.Next() {
		var c domain.DiscountCode
		if err := rows.Scan(&c.ID, &c.CampaignID, &c.MemberID, &c.Code, &c.IsRedeemed,
			&c.OrderID, &c.OrderName, &c.RedeemedAt, &c.SentAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) MarkSent(ctx context.Context, storeID, id string, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'sent', sent_at = $1
		WHERE id = $2 AND store_id = $3
	`, sentAt, id, storeID)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) StampCodesSent(ctx context.Context, codeIDs []string, sentAt time.Time) error {
	if len(codeIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE discount_codes SET sent_at = $1 WHERE id = ANY($2)
	`, sentAt, pq.Array(codeIDs))
	if err != nil {
		return fmt.Errorf("stamp codes sent: %w", err)
	}
	return nil
}

// Redeem flips the code and appends the audit row in one transaction. The
// WHERE NOT is_redeemed guard makes webhook redeliveries no-ops.
func (r *CampaignRepo) Redeem(ctx context.Context, storeID, code string, orderID int64, orderName string, amountCents int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var codeID string
	err = tx.QueryRowContext(ctx, `
		UPDATE discount_codes dc
		SET is_redeemed = TRUE, order_id = $1, order_name = $2, redeemed_at = NOW()
		FROM campaigns c
		WHERE dc.code = $3 AND dc.campaign_id = c.id AND c.store_id = $4
		  AND NOT dc.is_redeemed
		RETURNING dc.id
	`, orderID, orderName, code, storeID).Scan(&codeID)
	if err == sql.ErrNoRows {
		// Distinguish unknown code from already-redeemed code.
		var redeemed bool
		probe := tx.QueryRowContext(ctx, `
			SELECT dc.is_redeemed FROM discount_codes dc
			JOIN campaigns c ON c.id = dc.campaign_id
			WHERE dc.code = $1 AND c.store_id = $2
		`, code, storeID).Scan(&redeemed)
		if probe == sql.ErrNoRows {
			return campaign.ErrCodeNotFound
		}
		if probe != nil {
			return fmt.Errorf("probe code: %w", probe)
		}
		return campaign.ErrAlreadyRedeemed
	}
	if err != nil {
		return fmt.Errorf("redeem code: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO redeem_logs
			(id, store_id, discount_code_id, order_id, order_amount_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New().String(), storeID, codeID, orderID, amountCents)
	if err != nil {
		return fmt.Errorf("insert redeem log: %w", err)
	}
	return tx.Commit()
}

func (r *CampaignRepo) PlanForStore(ctx context.Context, storeID string) (domain.PlanType, error) {
	var p domain.PlanType
	err := r.db.QueryRowContext(ctx, `
		SELECT u.plan_type FROM users u
		JOIN stores s ON s.user_id = u.id
		WHERE s.id = $1
	`, storeID).Scan(&p)
	if err == sql.ErrNoRows {
		return "", campaign.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("plan for store: %w", err)
	}
	return p, nil
}
