package campaign_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/service/campaign"
	"github.com/nichepass/nichepass/internal/service/plan"
	"github.com/nichepass/nichepass/internal/shopify"
)

// memRepo is an in-memory campaign repository for unit testing.
type memRepo struct {
	mu        sync.Mutex
	campaigns map[string]*domain.Campaign
	codes     map[string]*domain.DiscountCode // keyed by code value
	logs      []domain.RedeemLog
	plan      domain.PlanType

	// failCreates forces the first n CreateWithCodes calls to report a
	// collision.
	failCreates int
}

func newMemRepo(p domain.PlanType) *memRepo {
	return &memRepo{
		campaigns: make(map[string]*domain.Campaign),
		codes:     make(map[string]*domain.DiscountCode),
		plan:      p,
	}
}

func (m *memRepo) Get(_ context.Context, storeID, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.StoreID != storeID {
		return nil, campaign.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, storeID string, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.StoreID != storeID {
			continue
		}
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *memRepo) CreateWithCodes(_ context.Context, c *domain.Campaign, codes []*domain.DiscountCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreates > 0 {
		m.failCreates--
		return campaign.ErrDuplicateCode
	}
	for _, code := range codes {
		if _, exists := m.codes[code.Code]; exists {
			return campaign.ErrDuplicateCode
		}
	}
	cp := *c
	m.campaigns[cp.ID] = &cp
	for _, code := range codes {
		cc := *code
		m.codes[cc.Code] = &cc
	}
	return nil
}

func (m *memRepo) Codes(_ context.Context, campaignID string) ([]domain.DiscountCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DiscountCode
	for _, c := range m.codes {
		if c.CampaignID == campaignID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memRepo) MarkSent(_ context.Context, storeID, id string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.StoreID != storeID {
		return campaign.ErrNotFound
	}
	c.Status = domain.CampaignSent
	c.SentAt = &sentAt
	return nil
}

func (m *memRepo) StampCodesSent(_ context.Context, codeIDs []string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]bool, len(codeIDs))
	for _, id := range codeIDs {
		ids[id] = true
	}
	for _, c := range m.codes {
		if ids[c.ID] {
			t := sentAt
			c.SentAt = &t
		}
	}
	return nil
}

func (m *memRepo) Redeem(_ context.Context, storeID, code string, orderID int64, orderName string, amountCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return campaign.ErrCodeNotFound
	}
	camp := m.campaigns[c.CampaignID]
	if camp == nil || camp.StoreID != storeID {
		return campaign.ErrCodeNotFound
	}
	if c.IsRedeemed {
		return campaign.ErrAlreadyRedeemed
	}
	now := time.Now().UTC()
	c.IsRedeemed = true
	c.OrderID = &orderID
	c.OrderName = &orderName
	c.RedeemedAt = &now
	m.logs = append(m.logs, domain.RedeemLog{
		StoreID:          storeID,
		DiscountCodeID:   c.ID,
		OrderID:          orderID,
		OrderAmountCents: amountCents,
	})
	return nil
}

func (m *memRepo) PlanForStore(context.Context, string) (domain.PlanType, error) {
	return m.plan, nil
}

// memMembers serves a fixed active member list.
type memMembers struct {
	members []domain.Member
}

func (m *memMembers) ListActive(context.Context, string) ([]domain.Member, error) {
	return m.members, nil
}

// memGate enforces the real limit table against a counter, without locking.
type memGate struct {
	mu        sync.Mutex
	campaigns int
	emails    int
}

func (g *memGate) ReserveCampaign(ctx context.Context, _ string, p domain.PlanType, insert func(ctx context.Context) error) (domain.LimitCheck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	check := domain.NewLimitCheck(g.campaigns, 1, domain.LimitsFor(p).CampaignLimit)
	if !check.Allowed {
		return check, plan.ErrLimitExceeded
	}
	if err := insert(ctx); err != nil {
		return check, err
	}
	g.campaigns++
	return check, nil
}

func (g *memGate) CheckEmailBudget(_ context.Context, _ string, p domain.PlanType, n int) (domain.LimitCheck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return domain.NewLimitCheck(g.emails, n, domain.LimitsFor(p).EmailsPerMonth), nil
}

// memDispatcher records dispatched recipients; emails in failSet fail.
type memDispatcher struct {
	failSet    map[string]bool
	dispatched []campaign.Recipient
}

func (d *memDispatcher) Dispatch(_ context.Context, _ *domain.Campaign, recipients []campaign.Recipient) campaign.DispatchSummary {
	var sum campaign.DispatchSummary
	for _, r := range recipients {
		d.dispatched = append(d.dispatched, r)
		if d.failSet[r.Member.Email] {
			sum.Failed++
			sum.Errors = append(sum.Errors, r.Member.Email+": send failed")
			continue
		}
		sum.Success++
		sum.SentCodeIDs = append(sum.SentCodeIDs, r.CodeID)
	}
	return sum
}

const testStore = "store-1"

func testMembers(n int) []domain.Member {
	var out []domain.Member
	for i := 0; i < n; i++ {
		out = append(out, domain.Member{
			ID:      string(rune('a' + i)),
			StoreID: testStore,
			Email:   string(rune('a'+i)) + "@example.com",
			Status:  domain.MemberActive,
		})
	}
	return out
}

func TestCreateGeneratesCodePerMember(t *testing.T) {
	repo := newMemRepo(domain.PlanFree)
	svc := campaign.NewService(repo, &memMembers{members: testMembers(2)}, &memGate{}, &memDispatcher{})

	res, err := svc.Create(context.Background(), testStore, campaign.CreateInput{
		Name: "Summer", DiscountType: domain.DiscountPercentage, DiscountValue: 10,
		MemberIDs: []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.MemberCount != 2 || res.CodesGenerated != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Campaign.Status != domain.CampaignDraft {
		t.Errorf("status = %s, want draft", res.Campaign.Status)
	}

	codes, _ := svc.Codes(context.Background(), testStore, res.Campaign.ID)
	if len(codes) != 2 {
		t.Fatalf("stored codes = %d", len(codes))
	}
	seen := map[string]bool{}
	for _, c := range codes {
		if !domain.CodePattern.MatchString(c.Code) {
			t.Errorf("malformed code %q", c.Code)
		}
		if seen[c.Code] {
			t.Errorf("duplicate code %q", c.Code)
		}
		seen[c.Code] = true
		if c.IsRedeemed {
			t.Errorf("new code already redeemed")
		}
	}
}

func TestCreateTargetsSelectedMembers(t *testing.T) {
	repo := newMemRepo(domain.PlanFree)
	svc := campaign.NewService(repo, &memMembers{members: testMembers(3)}, &memGate{}, &memDispatcher{})

	res, err := svc.Create(context.Background(), testStore, campaign.CreateInput{
		Name: "Subset", DiscountType: domain.DiscountPercentage, DiscountValue: 10,
		MemberIDs: []string{"a", "c"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.MemberCount != 2 || res.CodesGenerated != 2 {
		t.Fatalf("result = %+v", res)
	}

	codes, _ := svc.Codes(context.Background(), testStore, res.Campaign.ID)
	got := map[string]bool{}
	for _, c := range codes {
		got[c.MemberID] = true
	}
	if !got["a"] || !got["c"] || got["b"] {
		t.Fatalf("targeted members = %v", got)
	}
}

func TestCreateRejectsUnknownMemberID(t *testing.T) {
	svc := campaign.NewService(newMemRepo(domain.PlanFree), &memMembers{members: testMembers(2)}, &memGate{}, &memDispatcher{})

	_, err := svc.Create(context.Background(), testStore, campaign.CreateInput{
		Name: "Bad", DiscountType: domain.DiscountPercentage, DiscountValue: 10,
		MemberIDs: []string{"a", "ghost"},
	})
	if !errors.Is(err, campaign.ErrMembersNotFound) {
		t.Fatalf("expected ErrMembersNotFound, got %v", err)
	}
}

func TestCreateRejectsEmptyTarget(t *testing.T) {
	repo := newMemRepo(domain.PlanFree)
	svc := campaign.NewService(repo, &memMembers{members: testMembers(2)}, &memGate{}, &memDispatcher{})
	_, err := svc.Create(context.Background(), testStore, campaign.CreateInput{
		Name: "Empty", DiscountType: domain.DiscountPercentage, DiscountValue: 10,
	})
	if !errors.Is(err, campaign.ErrNoMembers) {
		t.Fatalf("expected ErrNoMembers, got %v", err)
	}
	if len(repo.campaigns) != 0 {
		t.Fatal("nothing should be written for an empty target list")
	}
}

func TestCreateValidatesDiscount(t *testing.T) {
	svc := campaign.NewService(newMemRepo(domain.PlanFree), &memMembers{members: testMembers(1)}, &memGate{}, &memDispatcher{})

	cases := []campaign.CreateInput{
		{Name: "X", DiscountType: domain.DiscountPercentage, DiscountValue: 0, MemberIDs: []string{"a"}},
		{Name: "X", DiscountType: domain.DiscountPercentage, DiscountValue: 101, MemberIDs: []string{"a"}},
		{Name: "X", DiscountType: domain.DiscountFixedAmount, DiscountValue: -5, MemberIDs: []string{"a"}},
		{Name: "X", DiscountType: domain.DiscountType("bogus"), DiscountValue: 10, MemberIDs: []string{"a"}},
	}
	for _, in := range cases {
		if _, err := svc.Create(context.Background(), testStore, in); !errors.Is(err, campaign.ErrInvalidDiscount) {
			t.Errorf("input %+v: expected ErrInvalidDiscount, got %v", in, err)
		}
	}
}

func TestCreateRetriesOnCollision(t *testing.T) {
	repo := newMemRepo(domain.PlanFree)
	repo.failCreates = 2
	svc := campaign.NewService(repo, &memMembers{members: testMembers(1)}, &memGate{}, &memDispatcher{})

	res, err := svc.Create(context.Background(), testStore, campaign.CreateInput{
		Name: "Retry", DiscountType: domain.DiscountPercentage, DiscountValue: 5,
		MemberIDs: []string{"a"},
	})
	if err != nil {
		t.Fatalf("create should survive collisions: %v", err)
	}
	if res.CodesGenerated != 1 {
		t.Fatalf("codes = %d", res.CodesGenerated)
	}
}

func TestCreateGivesUpAfterRepeatedCollisions(t *testing.T) {
	repo := newMemRepo(domain.PlanFree)
	repo.failCreates = 100
	svc := campaign.NewService(repo, &memMembers{members: testMembers(1)}, &memGate{}, &memDispatcher{})

	_, err := svc.Create(context.Background(), testStore, campaign.CreateInput{
		Name: "Doomed", DiscountType: domain.DiscountPercentage, DiscountValue: 5,
		MemberIDs: []string{"a"},
	})
	if !errors.Is(err, campaign.ErrDuplicateCode) {
		t.Fatalf("expected ErrDuplicateCode, got %v", err)
	}
}

func TestCreateRespectsCampaignLimit(t *testing.T) {
	repo := newMemRepo(domain.PlanFree)
	gate := &memGate{campaigns: 3} // free cap
	svc := campaign.NewService(repo, &memMembers{members: testMembers(1)}, gate, &memDispatcher{})

	_, err := svc.Create(context.Background(), testStore, campaign.CreateInput{
		Name: "Over", DiscountType: domain.DiscountPercentage, DiscountValue: 5,
		MemberIDs: []string{"a"},
	})
	if !errors.Is(err, plan.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestCreateRejectsExhaustedEmailBudget(t *testing.T) {
	repo := newMemRepo(domain.PlanFree)
	gate := &memGate{emails: 100} // free monthly cap
	svc := campaign.NewService(repo, &memMembers{members: testMembers(3)}, gate, &memDispatcher{})

	_, err := svc.Create(context.Background(), testStore, campaign.CreateInput{
		Name: "Over budget", DiscountType: domain.DiscountPercentage, DiscountValue: 5,
		MemberIDs: []string{"a", "b", "c"},
	})
	if !errors.Is(err, plan.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if len(repo.campaigns) != 0 {
		t.Fatal("nothing should be written when the email budget is exhausted")
	}
}

func TestSendRejectsExhaustedEmailBudget(t *testing.T) {
	repo := newMemRepo(domain.PlanFree)
	gate := &memGate{}
	dispatcher := &memDispatcher{}
	svc := campaign.NewService(repo, &memMembers{members: testMembers(2)}, gate, dispatcher)

	res, err := svc.Create(context.Background(), testStore, campaign.CreateInput{
		Name: "Budget", DiscountType: domain.DiscountPercentage, DiscountValue: 5,
		MemberIDs: []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The budget ran out between create and send.
	gate.mu.Lock()
	gate.emails = 100
	gate.mu.Unlock()

	if _, err := svc.Send(context.Background(), testStore, res.Campaign.ID); !errors.Is(err, plan.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if len(dispatcher.dispatched) != 0 {
		t.Fatalf("dispatched %d emails past the budget", len(dispatcher.dispatched))
	}
	c, _ := svc.Get(context.Background(), testStore, res.Campaign.ID)
	if c.Status != domain.CampaignDraft {
		t.Fatalf("status = %s, want draft", c.Status)
	}
}

func TestSendMarksSentDespiteFailures(t *testing.T) {
	repo := newMemRepo(domain.PlanFree)
	members := testMembers(3)
	dispatcher := &memDispatcher{failSet: map[string]bool{members[1].Email: true}}
	svc := campaign.NewService(repo, &memMembers{members: members}, &memGate{}, dispatcher)

	res, _ := svc.Create(context.Background(), testStore, campaign.CreateInput{
		Name: "Mixed", DiscountType: domain.DiscountPercentage, DiscountValue: 15,
		MemberIDs: []string{"a", "b", "c"},
	})

	sent, err := svc.Send(context.Background(), testStore, res.Campaign.ID)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.Summary.Success != 2 || sent.Summary.Failed != 1 {
		t.Fatalf("summary = %+v", sent.Summary)
	}
	if sent.Campaign.Status != domain.CampaignSent || sent.Campaign.SentAt == nil {
		t.Fatal("campaign not marked sent")
	}

	// Only successful sends get a sent_at stamp on their code.
	codes, _ := svc.Codes(context.Background(), testStore, res.Campaign.ID)
	stamped := 0
	for _, c := range codes {
		if c.SentAt != nil {
			stamped++
		}
	}
	if stamped != 2 {
		t.Fatalf("stamped codes = %d, want 2", stamped)
	}
}

func TestSendTwiceRejected(t *testing.T) {
	repo := newMemRepo(domain.PlanFree)
	svc := campaign.NewService(repo, &memMembers{members: testMembers(1)}, &memGate{}, &memDispatcher{})

	res, _ := svc.Create(context.Background(), testStore, campaign.CreateInput{
		Name: "Once", DiscountType: domain.DiscountPercentage, DiscountValue: 5,
		MemberIDs: []string{"a"},
	})
	if _, err := svc.Send(context.Background(), testStore, res.Campaign.ID); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := svc.Send(context.Background(), testStore, res.Campaign.ID); !errors.Is(err, campaign.ErrAlreadySent) {
		t.Fatalf("expected ErrAlreadySent, got %v", err)
	}
}

func TestRedeemViaOrderUpdate(t *testing.T) {
	repo := newMemRepo(domain.PlanFree)
	svc := campaign.NewService(repo, &memMembers{members: testMembers(1)}, &memGate{}, &memDispatcher{})

	res, _ := svc.Create(context.Background(), testStore, campaign.CreateInput{
		Name: "Redeem", DiscountType: domain.DiscountFixedAmount, DiscountValue: 5,
		MemberIDs: []string{"a"},
	})
	codes, _ := svc.Codes(context.Background(), testStore, res.Campaign.ID)

	order := &shopify.OrderPayload{
		ID:         9001,
		Name:       "#1001",
		TotalPrice: "25.50",
		DiscountCodes: []shopify.OrderDiscount{
			{Code: codes[0].Code, Amount: "5.00", Type: "fixed_amount"},
			{Code: "SOMEONE-ELSES-CODE"},
		},
	}

	out, err := svc.HandleOrderUpdate(context.Background(), testStore, order)
	if err != nil {
		t.Fatalf("handle order: %v", err)
	}
	if out.Redeemed != 1 {
		t.Fatalf("redeemed = %d, want 1", out.Redeemed)
	}

	got, _ := svc.Codes(context.Background(), testStore, res.Campaign.ID)
	if !got[0].IsRedeemed || got[0].OrderID == nil || *got[0].OrderID != 9001 {
		t.Fatalf("code not redeemed: %+v", got[0])
	}
	if len(repo.logs) != 1 {
		t.Fatalf("redeem logs = %d, want 1", len(repo.logs))
	}
	if repo.logs[0].OrderAmountCents != 2550 {
		t.Errorf("log amount = %d, want 2550", repo.logs[0].OrderAmountCents)
	}

	// Redelivery of the same webhook must not double-log.
	out2, err := svc.HandleOrderUpdate(context.Background(), testStore, order)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if out2.Redeemed != 0 {
		t.Fatalf("redelivery redeemed = %d, want 0", out2.Redeemed)
	}
	if len(repo.logs) != 1 {
		t.Fatalf("redeem logs after redelivery = %d, want 1", len(repo.logs))
	}
}

// pubRecorder records published price rules and codes.
type pubRecorder struct {
	rules int64
	codes []string
}

func (p *pubRecorder) CreatePriceRule(context.Context, shopify.PriceRuleInput) (int64, error) {
	p.rules++
	return p.rules, nil
}

func (p *pubRecorder) CreateDiscountCode(_ context.Context, _ int64, code string) error {
	p.codes = append(p.codes, code)
	return nil
}

func TestPublishToShopify(t *testing.T) {
	repo := newMemRepo(domain.PlanFree)
	svc := campaign.NewService(repo, &memMembers{members: testMembers(2)}, &memGate{}, &memDispatcher{})

	res, _ := svc.Create(context.Background(), testStore, campaign.CreateInput{
		Name: "Mirror", DiscountType: domain.DiscountPercentage, DiscountValue: 20,
		MemberIDs: []string{"a", "b"},
	})

	pub := &pubRecorder{}
	if err := svc.PublishToShopify(context.Background(), testStore, res.Campaign.ID, pub); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if pub.rules != 1 {
		t.Errorf("price rules = %d, want 1", pub.rules)
	}
	if len(pub.codes) != 2 {
		t.Errorf("published codes = %d, want 2", len(pub.codes))
	}
}
