package mailer

import (
	"context"
	"fmt"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/pkg/logger"
	"github.com/nichepass/nichepass/internal/service/campaign"
)

// Sender identity for outbound mail.
type Sender struct {
	FromName  string
	FromEmail string
}

// StoreNamer resolves a store's display name for templates.
type StoreNamer interface {
	StoreName(ctx context.Context, storeID string) (string, error)
}

// Dispatcher fans a campaign out to its recipients one send at a time,
// pacing through the throttler. It satisfies the campaign service's
// Dispatcher contract.
type Dispatcher struct {
	provider  Provider
	templates *TemplateEngine
	throttle  Throttler
	names     StoreNamer
	sender    Sender
}

// NewDispatcher creates a campaign dispatcher.
func NewDispatcher(provider Provider, templates *TemplateEngine, throttle Throttler, names StoreNamer, sender Sender) *Dispatcher {
	return &Dispatcher{
		provider:  provider,
		templates: templates,
		throttle:  throttle,
		names:     names,
		sender:    sender,
	}
}

// Dispatch sends every recipient their code. Individual failures are
// collected, never fatal: the batch always runs to completion so one bad
// address cannot strand the rest of the audience.
func (d *Dispatcher) Dispatch(ctx context.Context, c *domain.Campaign, recipients []campaign.Recipient) campaign.DispatchSummary {
	var sum campaign.DispatchSummary

	storeName := d.storeName(ctx, c.StoreID)

	for i, r := range recipients {
		if i > 0 {
			if err := d.throttle.Wait(ctx, c.StoreID); err != nil {
				// Context cancelled mid-batch; report the rest as failed.
				for _, rest := range recipients[i:] {
					sum.Failed++
					sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", rest.Member.Email, err))
				}
				return sum
			}
		}

		if err := d.sendCampaignEmail(ctx, storeName, c, &r); err != nil {
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", r.Member.Email, err))
			logger.Warn("campaign send failed",
				"campaign_id", c.ID, "email", r.Member.Email, "error", err)
			continue
		}
		sum.Success++
		sum.SentCodeIDs = append(sum.SentCodeIDs, r.CodeID)
	}
	return sum
}

func (d *Dispatcher) sendCampaignEmail(ctx context.Context, storeName string, c *domain.Campaign, r *campaign.Recipient) error {
	bindings := CampaignBindings(storeName, c, &r.Member, r.Code)

	subject, err := d.templates.Render(defaultCampaignSubject, bindings)
	if err != nil {
		return err
	}
	html, err := d.templates.Render(defaultCampaignHTML, bindings)
	if err != nil {
		return err
	}

	return d.provider.Send(ctx, &Message{
		To:        r.Member.Email,
		ToName:    r.Member.FirstName,
		FromName:  d.sender.FromName,
		FromEmail: d.sender.FromEmail,
		Subject:   subject,
		HTML:      html,
		Tags: map[string]string{
			"campaign_id": c.ID,
			"member_id":   r.Member.ID,
		},
	})
}

// SendAutomation delivers one automation email to a member. The worker
// calls this once per claimed task.
func (d *Dispatcher) SendAutomation(ctx context.Context, storeID string, m *domain.Member) error {
	if err := d.throttle.Wait(ctx, storeID); err != nil {
		return err
	}

	bindings := AutomationBindings(d.storeName(ctx, storeID), m)

	subject, err := d.templates.Render(defaultAutomationSubject, bindings)
	if err != nil {
		return err
	}
	html, err := d.templates.Render(defaultAutomationHTML, bindings)
	if err != nil {
		return err
	}

	return d.provider.Send(ctx, &Message{
		To:        m.Email,
		ToName:    m.FirstName,
		FromName:  d.sender.FromName,
		FromEmail: d.sender.FromEmail,
		Subject:   subject,
		HTML:      html,
		Tags:      map[string]string{"member_id": m.ID},
	})
}

func (d *Dispatcher) storeName(ctx context.Context, storeID string) string {
	if d.names == nil {
		return "your store"
	}
	name, err := d.names.StoreName(ctx, storeID)
	if err != nil || name == "" {
		return "your store"
	}
	return name
}
