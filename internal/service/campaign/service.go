// Package campaign implements discount-code broadcasts: unique code
// generation for every targeted member, email dispatch, and redemption
// tracking driven by order webhooks.
package campaign

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/pkg/logger"
	"github.com/nichepass/nichepass/internal/service/plan"
	"github.com/nichepass/nichepass/internal/shopify"
)

// maxCodeRetries bounds how often a colliding code batch is regenerated
// before the create fails.
const maxCodeRetries = 10

// CampaignGate is the slice of the plan gate the campaign service needs.
type CampaignGate interface {
	ReserveCampaign(ctx context.Context, storeID string, p domain.PlanType, insert func(ctx context.Context) error) (domain.LimitCheck, error)
	CheckEmailBudget(ctx context.Context, storeID string, p domain.PlanType, n int) (domain.LimitCheck, error)
}

// Recipient pairs a member with their code for dispatch.
type Recipient struct {
	Member domain.Member
	CodeID string
	Code   string
}

// DispatchSummary reports how a campaign dispatch went.
type DispatchSummary struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
	// SentCodeIDs are the codes whose email went out.
	SentCodeIDs []string `json:"-"`
}

// Dispatcher sends campaign emails. Implementations report per-recipient
// outcomes; they never abort the batch on individual failures.
type Dispatcher interface {
	Dispatch(ctx context.Context, c *domain.Campaign, recipients []Recipient) DispatchSummary
}

// CodePublisher mirrors a campaign's discount into Shopify so codes are
// honored at checkout.
type CodePublisher interface {
	CreatePriceRule(ctx context.Context, in shopify.PriceRuleInput) (int64, error)
	CreateDiscountCode(ctx context.Context, priceRuleID int64, code string) error
}

// Service implements campaign business logic.
type Service struct {
	repo       Repository
	members    MemberSource
	gate       CampaignGate
	dispatcher Dispatcher
}

// NewService creates a campaign service.
func NewService(repo Repository, members MemberSource, gate CampaignGate, dispatcher Dispatcher) *Service {
	return &Service{repo: repo, members: members, gate: gate, dispatcher: dispatcher}
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, storeID, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, storeID, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, storeID string, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, storeID, f)
}

// Codes returns a campaign's discount codes after checking store ownership.
func (s *Service) Codes(ctx context.Context, storeID, id string) ([]domain.DiscountCode, error) {
	if _, err := s.repo.Get(ctx, storeID, id); err != nil {
		return nil, err
	}
	return s.repo.Codes(ctx, id)
}

// CreateInput holds the fields for creating a campaign. MemberIDs names the
// active members the campaign targets and must not be empty.
type CreateInput struct {
	Name          string              `json:"name"`
	DiscountType  domain.DiscountType `json:"discount_type"`
	DiscountValue float64             `json:"discount_value"`
	MemberIDs     []string            `json:"member_ids,omitempty"`
}

// CreateResult reports what a campaign create produced.
type CreateResult struct {
	Campaign       *domain.Campaign `json:"campaign"`
	MemberCount    int              `json:"member_count"`
	CodesGenerated int              `json:"codes_generated"`
}

// Create validates the input, generates one unique code per targeted member
// and persists the campaign with its codes in a single transaction, all
// under the plan's campaign limit and monthly email budget. An empty target
// list is rejected before anything is written.
func (s *Service) Create(ctx context.Context, storeID string, in CreateInput) (*CreateResult, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	if err := validateDiscount(in.DiscountType, in.DiscountValue); err != nil {
		return nil, err
	}
	if len(in.MemberIDs) == 0 {
		return nil, ErrNoMembers
	}

	active, err := s.members.ListActive(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	members, err := filterMembers(active, in.MemberIDs)
	if err != nil {
		return nil, err
	}

	planType, err := s.repo.PlanForStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}

	// A campaign is created to be sent: the monthly email budget must cover
	// one email per targeted member, or the create fails outright.
	check, err := s.gate.CheckEmailBudget(ctx, storeID, planType, len(members))
	if err != nil {
		return nil, fmt.Errorf("check email budget: %w", err)
	}
	if !check.Allowed {
		return nil, fmt.Errorf("email budget: %w", plan.ErrLimitExceeded)
	}

	c := &domain.Campaign{
		ID:            uuid.New().String(),
		StoreID:       storeID,
		Name:          strings.TrimSpace(in.Name),
		DiscountType:  in.DiscountType,
		DiscountValue: in.DiscountValue,
		Status:        domain.CampaignDraft,
	}

	_, err = s.gate.ReserveCampaign(ctx, storeID, planType, func(ctx context.Context) error {
		return s.insertWithRetry(ctx, c, members)
	})
	if err != nil {
		return nil, err
	}

	return &CreateResult{
		Campaign:       c,
		MemberCount:    len(members),
		CodesGenerated: len(members),
	}, nil
}

// filterMembers resolves an explicit target list against the store's active
// members. Every requested ID must resolve.
func filterMembers(active []domain.Member, ids []string) ([]domain.Member, error) {
	byID := make(map[string]domain.Member, len(active))
	for _, m := range active {
		byID[m.ID] = m
	}
	out := make([]domain.Member, 0, len(ids))
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMembersNotFound, id)
		}
		out = append(out, m)
	}
	return out, nil
}

// insertWithRetry regenerates the whole code batch on a collision. With
// 8 hex chars per code a collision is vanishingly rare, so the loop almost
// always runs once.
func (s *Service) insertWithRetry(ctx context.Context, c *domain.Campaign, members []domain.Member) error {
	for attempt := 0; attempt < maxCodeRetries; attempt++ {
		codes, err := generateCodes(c, members)
		if err != nil {
			return err
		}
		err = s.repo.CreateWithCodes(ctx, c, codes)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return err
		}
		logger.Warn("code collision, regenerating batch",
			"campaign_id", c.ID, "attempt", attempt+1)
	}
	return fmt.Errorf("generate unique codes: %w", ErrDuplicateCode)
}

func generateCodes(c *domain.Campaign, members []domain.Member) ([]*domain.DiscountCode, error) {
	inBatch := make(map[string]bool, len(members))
	codes := make([]*domain.DiscountCode, 0, len(members))
	for _, m := range members {
		var code string
		for i := 0; ; i++ {
			var err error
			code, err = newCode()
			if err != nil {
				return nil, err
			}
			if !inBatch[code] {
				break
			}
			if i >= maxCodeRetries {
				return nil, ErrDuplicateCode
			}
		}
		inBatch[code] = true
		codes = append(codes, &domain.DiscountCode{
			ID:         uuid.New().String(),
			CampaignID: c.ID,
			MemberID:   m.ID,
			Code:       code,
		})
	}
	return codes, nil
}

// newCode returns NICHE- followed by 8 random uppercase hex characters.
func newCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return domain.CodePrefix + strings.ToUpper(hex.EncodeToString(b)), nil
}

func validateDiscount(t domain.DiscountType, v float64) error {
	switch t {
	case domain.DiscountPercentage:
		if v <= 0 || v > 100 {
			return ErrInvalidDiscount
		}
	case domain.DiscountFixedAmount:
		if v <= 0 {
			return ErrInvalidDiscount
		}
	default:
		return ErrInvalidDiscount
	}
	return nil
}

// SendResult reports what a campaign send produced.
type SendResult struct {
	MemberCount int              `json:"member_count"`
	Summary     DispatchSummary  `json:"summary"`
	Campaign    *domain.Campaign `json:"campaign"`
}

// Send emails every code of a draft campaign to its member and transitions
// the campaign to sent. The store's monthly email budget must cover the
// batch or nothing is dispatched. Once dispatch starts the transition
// happens even when some or all sends fail: a campaign is dispatched once,
// never re-run against members who already got their code. Individual
// failures are reported in the summary.
func (s *Service) Send(ctx context.Context, storeID, id string) (*SendResult, error) {
	c, err := s.repo.Get(ctx, storeID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft {
		return nil, ErrAlreadySent
	}

	codes, err := s.repo.Codes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load codes: %w", err)
	}

	members, err := s.members.ListActive(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	byID := make(map[string]domain.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	// Members deactivated since create keep their code row but get no email.
	var recipients []Recipient
	for _, code := range codes {
		m, ok := byID[code.MemberID]
		if !ok {
			continue
		}
		recipients = append(recipients, Recipient{Member: m, CodeID: code.ID, Code: code.Code})
	}

	planType, err := s.repo.PlanForStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan: %w", err)
	}
	check, err := s.gate.CheckEmailBudget(ctx, storeID, planType, len(recipients))
	if err != nil {
		return nil, fmt.Errorf("check email budget: %w", err)
	}
	if !check.Allowed {
		// The campaign stays draft; nothing has been dispatched.
		return nil, fmt.Errorf("email budget: %w", plan.ErrLimitExceeded)
	}

	summary := s.dispatcher.Dispatch(ctx, c, recipients)

	now := time.Now().UTC()
	if len(summary.SentCodeIDs) > 0 {
		if err := s.repo.StampCodesSent(ctx, summary.SentCodeIDs, now); err != nil {
			logger.Error("stamp sent codes", "campaign_id", id, "error", err)
		}
	}
	if err := s.repo.MarkSent(ctx, storeID, id, now); err != nil {
		return nil, fmt.Errorf("mark sent: %w", err)
	}
	c.Status = domain.CampaignSent
	c.SentAt = &now

	logger.Info("campaign dispatched",
		"campaign_id", id, "store_id", storeID,
		"success", summary.Success, "failed", summary.Failed)

	return &SendResult{MemberCount: len(recipients), Summary: summary, Campaign: c}, nil
}

// RedeemOutcome reports how many codes an order webhook redeemed.
type RedeemOutcome struct {
	Redeemed int `json:"redeemed"`
}

// HandleOrderUpdate inspects an order's applied discount codes and marks any
// of ours redeemed, appending one redemption log row per code. Redelivered
// webhooks and foreign codes are no-ops.
func (s *Service) HandleOrderUpdate(ctx context.Context, storeID string, order *shopify.OrderPayload) (*RedeemOutcome, error) {
	amountCents, err := order.TotalCents()
	if err != nil {
		return nil, err
	}

	out := &RedeemOutcome{}
	for _, dc := range order.DiscountCodes {
		code := strings.ToUpper(strings.TrimSpace(dc.Code))
		if !domain.CodePattern.MatchString(code) {
			continue
		}
		err := s.repo.Redeem(ctx, storeID, code, order.ID, order.Name, amountCents)
		switch {
		case err == nil:
			out.Redeemed++
		case errors.Is(err, ErrAlreadyRedeemed), errors.Is(err, ErrCodeNotFound):
			// Redelivery or a code minted elsewhere; nothing to do.
		default:
			return nil, fmt.Errorf("redeem code: %w", err)
		}
	}
	return out, nil
}

// PublishToShopify mirrors a campaign into a Shopify price rule and attaches
// every generated code. Failures after the price rule exists are logged and
// skipped; codes that did not make it remain valid for email display only.
func (s *Service) PublishToShopify(ctx context.Context, storeID, id string, pub CodePublisher) error {
	c, err := s.repo.Get(ctx, storeID, id)
	if err != nil {
		return err
	}
	codes, err := s.repo.Codes(ctx, id)
	if err != nil {
		return fmt.Errorf("load codes: %w", err)
	}

	ruleID, err := pub.CreatePriceRule(ctx, shopify.PriceRuleInput{
		Title:     c.Name,
		ValueType: string(c.DiscountType),
		Value:     c.DiscountValue,
	})
	if err != nil {
		return fmt.Errorf("create price rule: %w", err)
	}

	for _, code := range codes {
		if err := pub.CreateDiscountCode(ctx, ruleID, code.Code); err != nil {
			logger.Warn("publish discount code failed",
				"campaign_id", id, "code", code.Code, "error", err)
		}
	}
	return nil
}
