// Package automation maps Shopify webhook events to deferred send actions.
// A matching event enqueues a send task; the worker drains tasks out of
// band so webhook handlers stay fast.
package automation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/pkg/logger"
)

// Service implements automation business logic.
type Service struct {
	repo Repository
}

// NewService creates an automation service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns a single automation.
func (s *Service) Get(ctx context.Context, storeID, id string) (*domain.Automation, error) {
	return s.repo.Get(ctx, storeID, id)
}

// List returns the store's automations.
func (s *Service) List(ctx context.Context, storeID string) ([]domain.Automation, error) {
	return s.repo.List(ctx, storeID)
}

// CreateInput holds the fields for creating an automation.
type CreateInput struct {
	CardID       string             `json:"card_id"`
	TriggerType  domain.TriggerType `json:"trigger_type"`
	TriggerValue *int64             `json:"trigger_value"`
}

// Create validates and persists a new automation, active by default.
func (s *Service) Create(ctx context.Context, storeID string, in CreateInput) (*domain.Automation, error) {
	if in.CardID == "" {
		return nil, ErrMissingCard
	}
	switch in.TriggerType {
	case domain.TriggerCustomerCreated, domain.TriggerOrderPaid:
	default:
		return nil, ErrInvalidTrigger
	}
	if in.TriggerValue != nil && *in.TriggerValue < 0 {
		return nil, fmt.Errorf("trigger value must not be negative")
	}

	a := &domain.Automation{
		ID:           uuid.New().String(),
		StoreID:      storeID,
		CardID:       in.CardID,
		TriggerType:  in.TriggerType,
		TriggerValue: in.TriggerValue,
		Active:       true,
	}
	id, err := s.repo.Create(ctx, a)
	if err != nil {
		return nil, err
	}
	a.ID = id
	return a, nil
}

// Update modifies mutable automation fields.
func (s *Service) Update(ctx context.Context, storeID, id string, u UpdateFields) error {
	return s.repo.Update(ctx, storeID, id, u)
}

// Delete removes an automation.
func (s *Service) Delete(ctx context.Context, storeID, id string) error {
	return s.repo.Delete(ctx, storeID, id)
}

// TriggerOutcome reports how many tasks an event enqueued.
type TriggerOutcome struct {
	Matched  int `json:"matched"`
	Enqueued int `json:"enqueued"`
}

// HandleTrigger evaluates an event against the store's active automations
// and enqueues one send task per match. A member with an open task for the
// same automation is not enqueued again, so redelivered webhooks and rapid
// repeat events collapse into a single send.
func (s *Service) HandleTrigger(ctx context.Context, storeID string, trigger domain.TriggerType, memberID string, orderAmountCents int64) (*TriggerOutcome, error) {
	rules, err := s.repo.ListActive(ctx, storeID, trigger)
	if err != nil {
		return nil, fmt.Errorf("list automations: %w", err)
	}

	out := &TriggerOutcome{}
	for i := range rules {
		rule := &rules[i]
		if !rule.Matches(trigger, orderAmountCents) {
			continue
		}
		out.Matched++

		inserted, err := s.repo.EnqueueTask(ctx, &domain.SendTask{
			ID:           uuid.New().String(),
			StoreID:      storeID,
			AutomationID: rule.ID,
			MemberID:     memberID,
			Status:       domain.SendTaskPending,
		})
		if err != nil {
			return nil, fmt.Errorf("enqueue task: %w", err)
		}
		if inserted {
			out.Enqueued++
		} else {
			logger.Debug("duplicate trigger suppressed",
				"automation_id", rule.ID, "member_id", memberID)
		}
	}
	return out, nil
}
