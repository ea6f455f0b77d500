package mailer_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/mailer"
	"github.com/nichepass/nichepass/internal/service/campaign"
)

// memProvider records sends; addresses in failSet error out.
type memProvider struct {
	mu      sync.Mutex
	sent    []*mailer.Message
	failSet map[string]bool
}

func (p *memProvider) Name() string { return "mem" }

func (p *memProvider) Send(_ context.Context, msg *mailer.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSet[msg.To] {
		return errors.New("mailbox unavailable")
	}
	cp := *msg
	p.sent = append(p.sent, &cp)
	return nil
}

type staticNamer struct{ name string }

func (s staticNamer) StoreName(context.Context, string) (string, error) { return s.name, nil }

func newDispatcher(p mailer.Provider) *mailer.Dispatcher {
	return mailer.NewDispatcher(
		p,
		mailer.NewTemplateEngine(),
		mailer.NewDelayThrottler(0),
		staticNamer{name: "Acme Surf"},
		mailer.Sender{FromName: "Acme Surf", FromEmail: "rewards@acmesurf.com"},
	)
}

func testCampaign() *domain.Campaign {
	return &domain.Campaign{
		ID:            "camp-1",
		StoreID:       "store-1",
		Name:          "Spring",
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: 15,
		Status:        domain.CampaignDraft,
	}
}

func recipients(emails ...string) []campaign.Recipient {
	var out []campaign.Recipient
	for i, e := range emails {
		out = append(out, campaign.Recipient{
			Member: domain.Member{ID: e, Email: e, FirstName: "Pat"},
			CodeID: "code-id-" + e,
			Code:   "NICHE-0000000" + string(rune('A'+i)),
		})
	}
	return out
}

func TestDispatchAllSucceed(t *testing.T) {
	provider := &memProvider{}
	d := newDispatcher(provider)

	sum := d.Dispatch(context.Background(), testCampaign(), recipients("a@x.com", "b@x.com"))
	if sum.Success != 2 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(sum.SentCodeIDs) != 2 {
		t.Fatalf("sent code ids = %v", sum.SentCodeIDs)
	}
	if len(provider.sent) != 2 {
		t.Fatalf("provider sends = %d", len(provider.sent))
	}

	msg := provider.sent[0]
	if !strings.Contains(msg.HTML, "NICHE-0000000A") {
		t.Errorf("code missing from body: %s", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "15%") {
		t.Errorf("discount missing from body: %s", msg.HTML)
	}
	if !strings.Contains(msg.Subject, "Acme Surf") {
		t.Errorf("store name missing from subject: %s", msg.Subject)
	}
}

func TestDispatchPartialFailure(t *testing.T) {
	provider := &memProvider{failSet: map[string]bool{"bad@x.com": true}}
	d := newDispatcher(provider)

	sum := d.Dispatch(context.Background(), testCampaign(),
		recipients("a@x.com", "bad@x.com", "c@x.com"))

	if sum.Success != 2 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(sum.Errors) != 1 || !strings.Contains(sum.Errors[0], "bad@x.com") {
		t.Fatalf("errors = %v", sum.Errors)
	}
	// Failed recipient's code must not be stamped as sent.
	for _, id := range sum.SentCodeIDs {
		if id == "code-id-bad@x.com" {
			t.Fatal("failed send stamped as sent")
		}
	}
}

func TestDispatchPacesBetweenSends(t *testing.T) {
	provider := &memProvider{}
	d := mailer.NewDispatcher(
		provider,
		mailer.NewTemplateEngine(),
		mailer.NewDelayThrottler(30*time.Millisecond),
		staticNamer{name: "Acme"},
		mailer.Sender{FromName: "Acme", FromEmail: "r@a.com"},
	)

	start := time.Now()
	d.Dispatch(context.Background(), testCampaign(), recipients("a@x.com", "b@x.com", "c@x.com"))
	elapsed := time.Since(start)

	// Two inter-send gaps at 30ms each.
	if elapsed < 60*time.Millisecond {
		t.Fatalf("dispatch too fast: %v", elapsed)
	}
}

func TestDispatchDefaultsMissingFirstName(t *testing.T) {
	provider := &memProvider{}
	d := newDispatcher(provider)

	recips := []campaign.Recipient{{
		Member: domain.Member{ID: "m1", Email: "anon@x.com"},
		CodeID: "c1",
		Code:   "NICHE-00000000",
	}}
	d.Dispatch(context.Background(), testCampaign(), recips)

	if len(provider.sent) != 1 {
		t.Fatal("no send recorded")
	}
	if !strings.Contains(provider.sent[0].HTML, "Hi there,") {
		t.Errorf("default greeting missing: %s", provider.sent[0].HTML)
	}
}

func TestSendAutomationIncludesPassURL(t *testing.T) {
	provider := &memProvider{}
	d := newDispatcher(provider)

	pass := "https://pass.example.com/p/123"
	m := &domain.Member{ID: "m1", Email: "a@x.com", FirstName: "Ada", PassURL: &pass}
	if err := d.SendAutomation(context.Background(), "store-1", m); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(provider.sent[0].HTML, pass) {
		t.Errorf("pass url missing: %s", provider.sent[0].HTML)
	}
}

func TestFormatDiscount(t *testing.T) {
	if got := mailer.FormatDiscount(domain.DiscountPercentage, 12.5); got != "12.5%" {
		t.Errorf("percentage = %q", got)
	}
	if got := mailer.FormatDiscount(domain.DiscountFixedAmount, 5); got != "$5.00" {
		t.Errorf("fixed = %q", got)
	}
}
