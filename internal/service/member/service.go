// Package member manages loyalty program enrollment: manual adds, CSV
// import, Shopify customer sync and the soft-delete lifecycle. Members are
// never hard-deleted; redemption history references them forever.
package member

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/pkg/logger"
	"github.com/nichepass/nichepass/internal/service/plan"
	"github.com/nichepass/nichepass/internal/shopify"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// QuotaGate is the slice of the plan gate the member service needs.
type QuotaGate interface {
	ReserveMembers(ctx context.Context, storeID string, p domain.PlanType, requested int, insert func(ctx context.Context) error) (domain.LimitCheck, error)
}

// CustomerLister pages through a shop's customers.
type CustomerLister interface {
	Customers(ctx context.Context, sinceID int64, limit int) ([]shopify.Customer, error)
}

// Service implements member business logic.
type Service struct {
	repo Repository
	gate QuotaGate
}

// NewService creates a member service backed by the given repository and
// plan gate.
func NewService(repo Repository, gate QuotaGate) *Service {
	return &Service{repo: repo, gate: gate}
}

// Get returns a single member.
func (s *Service) Get(ctx context.Context, storeID, id string) (*domain.Member, error) {
	return s.repo.GetByID(ctx, storeID, id)
}

// List returns members matching the filter.
func (s *Service) List(ctx context.Context, storeID string, f ListFilter) ([]domain.Member, int, error) {
	return s.repo.List(ctx, storeID, f)
}

// CreateInput holds the fields for manually enrolling a member.
type CreateInput struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Create enrolls a single member, counting against the plan's member limit.
// Re-adding an inactive member reactivates the existing row instead of
// inserting a duplicate.
func (s *Service) Create(ctx context.Context, storeID string, in CreateInput) (*domain.Member, error) {
	email := normalizeEmail(in.Email)
	if !emailPattern.MatchString(email) {
		return nil, ErrInvalidEmail
	}

	if existing, err := s.repo.GetByEmail(ctx, storeID, email); err == nil {
		if existing.Status == domain.MemberActive {
			return nil, ErrDuplicate
		}
		return s.reactivate(ctx, storeID, existing)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup member: %w", err)
	}

	planType, err := s.repo.PlanForStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}

	m := &domain.Member{
		ID:        uuid.New().String(),
		StoreID:   storeID,
		Email:     email,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Status:    domain.MemberActive,
		Source:    domain.SourceManual,
	}

	_, err = s.gate.ReserveMembers(ctx, storeID, planType, 1, func(ctx context.Context) error {
		id, err := s.repo.Create(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) reactivate(ctx context.Context, storeID string, m *domain.Member) (*domain.Member, error) {
	planType, err := s.repo.PlanForStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}
	_, err = s.gate.ReserveMembers(ctx, storeID, planType, 1, func(ctx context.Context) error {
		return s.repo.SetStatus(ctx, storeID, m.ID, domain.MemberActive)
	})
	if err != nil {
		return nil, err
	}
	m.Status = domain.MemberActive
	return m, nil
}

// Update modifies mutable member fields.
func (s *Service) Update(ctx context.Context, storeID, id string, u UpdateFields) error {
	return s.repo.Update(ctx, storeID, id, u)
}

// Delete soft-deletes a member. The row stays; discount codes and redemption
// history keep pointing at it. Inactive members free a plan slot and are
// excluded from campaigns and automations.
func (s *Service) Delete(ctx context.Context, storeID, id string) error {
	return s.repo.SetStatus(ctx, storeID, id, domain.MemberInactive)
}

// ImportResult summarizes a CSV import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// ImportCSV enrolls members from a CSV stream with columns
// email,first_name,last_name (header row optional). Invalid rows and
// duplicates are skipped and counted, never fatal. The whole accepted batch
// is reserved against the plan limit atomically: either every new row fits
// or nothing is inserted.
func (s *Service) ImportCSV(ctx context.Context, storeID string, r io.Reader) (*ImportResult, error) {
	res := &ImportResult{}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var batch []*domain.Member
	seen := map[string]bool{}
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++

		if line == 1 && isHeaderRow(record) {
			continue
		}
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}

		email := normalizeEmail(record[0])
		if !emailPattern.MatchString(email) {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: invalid email %q", line, record[0]))
			continue
		}
		if seen[email] {
			res.Skipped++
			continue
		}
		seen[email] = true

		if existing, err := s.repo.GetByEmail(ctx, storeID, email); err == nil {
			if existing.Status == domain.MemberActive {
				res.Skipped++
				continue
			}
			// Inactive rows get reactivated as part of the batch below.
		} else if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("lookup member: %w", err)
		}

		m := &domain.Member{
			ID:      uuid.New().String(),
			StoreID: storeID,
			Email:   email,
			Status:  domain.MemberActive,
			Source:  domain.SourceCSV,
		}
		if len(record) > 1 {
			m.FirstName = strings.TrimSpace(record[1])
		}
		if len(record) > 2 {
			m.LastName = strings.TrimSpace(record[2])
		}
		batch = append(batch, m)
	}

	if len(batch) == 0 {
		if res.Skipped > 0 {
			return res, nil
		}
		return nil, ErrEmptyImport
	}

	planType, err := s.repo.PlanForStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}

	_, err = s.gate.ReserveMembers(ctx, storeID, planType, len(batch), func(ctx context.Context) error {
		return s.createOrReactivateBatch(ctx, storeID, batch)
	})
	if err != nil {
		return nil, err
	}

	res.Imported = len(batch)
	logger.Info("csv import complete",
		"store_id", storeID, "imported", res.Imported, "skipped", res.Skipped)
	return res, nil
}

func (s *Service) createOrReactivateBatch(ctx context.Context, storeID string, batch []*domain.Member) error {
	var fresh []*domain.Member
	for _, m := range batch {
		existing, err := s.repo.GetByEmail(ctx, storeID, m.Email)
		switch {
		case err == nil:
			if err := s.repo.SetStatus(ctx, storeID, existing.ID, domain.MemberActive); err != nil {
				return err
			}
		case errors.Is(err, ErrNotFound):
			fresh = append(fresh, m)
		default:
			return err
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	return s.repo.CreateBatch(ctx, fresh)
}

// SyncResult summarizes a Shopify customer sync.
type SyncResult struct {
	Created int  `json:"created"`
	Updated int  `json:"updated"`
	Partial bool `json:"partial"` // true when the plan limit cut the sync short
}

// Sync pulls the store's Shopify customers and enrolls them as members.
// Existing members (matched by email) get their Shopify customer ID and
// names refreshed; new customers are created under the plan gate, one page
// at a time. Hitting the limit stops the sync with a partial result rather
// than failing it.
func (s *Service) Sync(ctx context.Context, storeID string, api CustomerLister) (*SyncResult, error) {
	planType, err := s.repo.PlanForStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}

	res := &SyncResult{}
	var sinceID int64
	for {
		customers, err := api.Customers(ctx, sinceID, 250)
		if err != nil {
			return nil, fmt.Errorf("list customers: %w", err)
		}
		if len(customers) == 0 {
			break
		}
		sinceID = customers[len(customers)-1].ID

		var fresh []*domain.Member
		for _, c := range customers {
			email := normalizeEmail(c.Email)
			if !emailPattern.MatchString(email) {
				continue
			}
			custID := c.ID

			existing, err := s.repo.GetByEmail(ctx, storeID, email)
			switch {
			case err == nil:
				u := UpdateFields{ShopifyCustomerID: &custID}
				if c.FirstName != "" {
					fn := c.FirstName
					u.FirstName = &fn
				}
				if c.LastName != "" {
					ln := c.LastName
					u.LastName = &ln
				}
				if err := s.repo.Update(ctx, storeID, existing.ID, u); err != nil {
					return nil, fmt.Errorf("update member: %w", err)
				}
				res.Updated++
			case errors.Is(err, ErrNotFound):
				fresh = append(fresh, &domain.Member{
					ID:                uuid.New().String(),
					StoreID:           storeID,
					Email:             email,
					FirstName:         c.FirstName,
					LastName:          c.LastName,
					Status:            domain.MemberActive,
					Source:            domain.SourceSync,
					ShopifyCustomerID: &custID,
				})
			default:
				return nil, fmt.Errorf("lookup member: %w", err)
			}
		}

		if len(fresh) > 0 {
			_, err := s.gate.ReserveMembers(ctx, storeID, planType, len(fresh), func(ctx context.Context) error {
				return s.repo.CreateBatch(ctx, fresh)
			})
			if errors.Is(err, plan.ErrLimitExceeded) {
				res.Partial = true
				logger.Warn("customer sync stopped at plan limit",
					"store_id", storeID, "created", res.Created)
				return res, nil
			}
			if err != nil {
				return nil, err
			}
			res.Created += len(fresh)
		}
	}

	logger.Info("customer sync complete",
		"store_id", storeID, "created", res.Created, "updated", res.Updated)
	return res, nil
}

// EnrollFromWebhook creates a member from a customers/create webhook. A
// duplicate email is a no-op: webhooks redeliver and customers re-register.
// Returns the member (existing or new) and whether it was newly created.
func (s *Service) EnrollFromWebhook(ctx context.Context, storeID string, c *shopify.CustomerPayload) (*domain.Member, bool, error) {
	email := normalizeEmail(c.Email)
	if !emailPattern.MatchString(email) {
		return nil, false, ErrInvalidEmail
	}

	if existing, err := s.repo.GetByEmail(ctx, storeID, email); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("lookup member: %w", err)
	}

	planType, err := s.repo.PlanForStore(ctx, storeID)
	if err != nil {
		return nil, false, fmt.Errorf("resolve plan: %w", err)
	}

	custID := c.ID
	m := &domain.Member{
		ID:                uuid.New().String(),
		StoreID:           storeID,
		Email:             email,
		FirstName:         c.FirstName,
		LastName:          c.LastName,
		Status:            domain.MemberActive,
		Source:            domain.SourceWebhook,
		ShopifyCustomerID: &custID,
	}
	_, err = s.gate.ReserveMembers(ctx, storeID, planType, 1, func(ctx context.Context) error {
		id, err := s.repo.Create(ctx, m)
		if err != nil {
			return err
		}
		m.ID = id
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

func isHeaderRow(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "email")
}
