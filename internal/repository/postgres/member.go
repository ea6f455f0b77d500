package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/service/member"
)

// MemberRepo implements member.Repository against PostgreSQL.
type MemberRepo struct{ db *sql.DB }

// NewMemberRepo creates a Postgres-backed member repository.
func NewMemberRepo(db *sql.DB) *MemberRepo { return &MemberRepo{db: db} }

const memberColumns = `id, store_id, email, first_name, last_name, pass_url,
	       status, source, shopify_customer_id, created_at, updated_at`

func scanMember(row interface{ Scan(...any) error }) (*domain.Member, error) {
	m := &domain.Member{}
	err := row.Scan(
		&m.ID, &m.StoreID, &m.Email, &m.FirstName, &m.LastName, &m.PassURL,
		&m.Status, &m.Source, &m.ShopifyCustomerID, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, member.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan member: %w", err)
	}
	return m, nil
}

func (r *MemberRepo) GetByID(ctx context.Context, storeID, id string) (*domain.Member, error) {
	return scanMember(r.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+` FROM members WHERE id = $1 AND store_id = $2
	`, id, storeID))
}

func (r *MemberRepo) GetByEmail(ctx context.Context, storeID, email string) (*domain.Member, error) {
	return scanMember(r.db.QueryRowContext(ctx, `
		SELECT `+memberColumns+` FROM members WHERE store_id = $1 AND email = $2
	`, storeID, email))
}

func (r *MemberRepo) List(ctx context.Context, storeID string, f member.ListFilter) ([]domain.Member, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM members WHERE store_id = $1`
	countArgs := []interface{}{storeID}
	idx := 2
	if f.Status != "" {
		countQ += fmt.Sprintf(" AND status = $%d", idx)
		countArgs = append(countArgs, f.Status)
		idx++
	}
	if f.Search != "" {
		countQ += fmt.Sprintf(" AND (email ILIKE $%d OR first_name ILIKE $%d)", idx, idx)
		countArgs = append(countArgs, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count members: %w", err)
	}

	q := `SELECT ` + memberColumns + ` FROM members WHERE store_id = $1`
	args := []interface{}{storeID}
	idx = 2
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Search != "" {
		q += fmt.Sprintf(" AND (email ILIKE $%d OR first_name ILIKE $%d)", idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *m)
	}
	return out, total, rows.Err()
}

func (r *MemberRepo) Create(ctx context.Context, m *domain.Member) (string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO members
			(id, store_id, email, first_name, last_name, pass_url,
			 status, source, shopify_customer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, m.ID, m.StoreID, m.Email, m.FirstName, m.LastName, m.PassURL,
		m.Status, m.Source, m.ShopifyCustomerID)
	if isUniqueViolation(err) {
		return "", member.ErrDuplicate
	}
	if err != nil {
		return "", fmt.Errorf("create member: %w", err)
	}
	return m.ID, nil
}

func (r *MemberRepo) CreateBatch(ctx context.Context, members []*domain.Member) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO members
			(id, store_id, email, first_name, last_name, pass_url,
			 status, source, shopify_customer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, m := range members {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		_, err := stmt.ExecContext(ctx, m.ID, m.StoreID, m.Email, m.FirstName,
			m.LastName, m.PassURL, m.Status, m.Source, m.ShopifyCustomerID)
		if isUniqueViolation(err) {
			return member.ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}
	return tx.Commit()
}

func (r *MemberRepo) Update(ctx context.Context, storeID, id string, u member.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.FirstName != nil {
		add("first_name", *u.FirstName)
	}
	if u.LastName != nil {
		add("last_name", *u.LastName)
	}
	if u.PassURL != nil {
		add("pass_url", *u.PassURL)
	}
	if u.ShopifyCustomerID != nil {
		add("shopify_customer_id", *u.ShopifyCustomerID)
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = NOW()")
	q := fmt.Sprintf("UPDATE members SET %s WHERE id = $%d AND store_id = $%d",
		joinComma(sets), idx, idx+1)
	args = append(args, id, storeID)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return member.ErrNotFound
	}
	return nil
}

func (r *MemberRepo) SetStatus(ctx context.Context, storeID, id string, status domain.MemberStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE members SET status = $1, updated_at = NOW()
		WHERE id = $2 AND store_id = $3
	`, status, id, storeID)
	if err != nil {
		return fmt.Errorf("update member status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return member.ErrNotFound
	}
	return nil
}

func (r *MemberRepo) PlanForStore(ctx context.Context, storeID string) (domain.PlanType, error) {
	var p domain.PlanType
	err := r.db.QueryRowContext(ctx, `
		SELECT u.plan_type FROM users u
		JOIN stores s ON s.user_id = u.id
		WHERE s.id = $1
	`, storeID).Scan(&p)
	if err == sql.ErrNoRows {
		return "", member.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("plan for store: %w", err)
	}
	return p, nil
}

// ListActive returns every active member of the store, for campaign
// targeting.
func (r *MemberRepo) ListActive(ctx context.Context, storeID string) ([]domain.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+memberColumns+` FROM members
		WHERE store_id = $1 AND status = 'active'
		ORDER BY created_at
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("list active members: %w", err)
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
