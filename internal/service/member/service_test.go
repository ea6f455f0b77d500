package member_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nichepass/nichepass/internal/domain"
	"github.com/nichepass/nichepass/internal/service/member"
	"github.com/nichepass/nichepass/internal/service/plan"
	"github.com/nichepass/nichepass/internal/shopify"
)

// memRepo is an in-memory member repository for unit testing.
type memRepo struct {
	mu      sync.Mutex
	members map[string]*domain.Member // keyed by id
	plan    domain.PlanType
}

func newMemRepo(p domain.PlanType) *memRepo {
	return &memRepo{members: make(map[string]*domain.Member), plan: p}
}

func (m *memRepo) GetByID(_ context.Context, storeID, id string) (*domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[id]
	if !ok || mem.StoreID != storeID {
		return nil, member.ErrNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *memRepo) GetByEmail(_ context.Context, storeID, email string) (*domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.members {
		if mem.StoreID == storeID && mem.Email == email {
			cp := *mem
			return &cp, nil
		}
	}
	return nil, member.ErrNotFound
}

func (m *memRepo) List(_ context.Context, storeID string, f member.ListFilter) ([]domain.Member, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Member
	for _, mem := range m.members {
		if mem.StoreID != storeID {
			continue
		}
		if f.Status != "" && string(mem.Status) != f.Status {
			continue
		}
		out = append(out, *mem)
	}
	return out, len(out), nil
}

func (m *memRepo) Create(_ context.Context, mem *domain.Member) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.members {
		if e.StoreID == mem.StoreID && e.Email == mem.Email {
			return "", member.ErrDuplicate
		}
	}
	cp := *mem
	m.members[cp.ID] = &cp
	return cp.ID, nil
}

func (m *memRepo) CreateBatch(ctx context.Context, members []*domain.Member) error {
	for _, mem := range members {
		if _, err := m.Create(ctx, mem); err != nil {
			return err
		}
	}
	return nil
}

func (m *memRepo) Update(_ context.Context, storeID, id string, u member.UpdateFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[id]
	if !ok || mem.StoreID != storeID {
		return member.ErrNotFound
	}
	if u.FirstName != nil {
		mem.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		mem.LastName = *u.LastName
	}
	if u.ShopifyCustomerID != nil {
		mem.ShopifyCustomerID = u.ShopifyCustomerID
	}
	return nil
}

func (m *memRepo) SetStatus(_ context.Context, storeID, id string, status domain.MemberStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[id]
	if !ok || mem.StoreID != storeID {
		return member.ErrNotFound
	}
	mem.Status = status
	return nil
}

func (m *memRepo) PlanForStore(context.Context, string) (domain.PlanType, error) {
	return m.plan, nil
}

func (m *memRepo) activeCount(storeID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mem := range m.members {
		if mem.StoreID == storeID && mem.Status == domain.MemberActive {
			n++
		}
	}
	return n
}

// memGate is a plan gate that counts active members through the repo and
// enforces the real limit table without any locking.
type memGate struct {
	repo *memRepo
}

func (g *memGate) ReserveMembers(ctx context.Context, storeID string, p domain.PlanType, requested int, insert func(ctx context.Context) error) (domain.LimitCheck, error) {
	current := g.repo.activeCount(storeID)
	check := domain.NewLimitCheck(current, requested, domain.LimitsFor(p).MemberLimit)
	if !check.Allowed {
		return check, plan.ErrLimitExceeded
	}
	return check, insert(ctx)
}

const testStore = "store-1"

func newService(p domain.PlanType) (*member.Service, *memRepo) {
	repo := newMemRepo(p)
	return member.NewService(repo, &memGate{repo: repo}), repo
}

func TestCreate(t *testing.T) {
	svc, _ := newService(domain.PlanFree)
	m, err := svc.Create(context.Background(), testStore, member.CreateInput{
		Email: " Jane@Example.COM ", FirstName: "Jane", LastName: "Doe",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Email != "jane@example.com" {
		t.Errorf("email not normalized: %q", m.Email)
	}
	if m.Status != domain.MemberActive || m.Source != domain.SourceManual {
		t.Errorf("member = %+v", m)
	}
}

func TestCreateInvalidEmail(t *testing.T) {
	svc, _ := newService(domain.PlanFree)
	_, err := svc.Create(context.Background(), testStore, member.CreateInput{Email: "not-an-email"})
	if !errors.Is(err, member.ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	svc, _ := newService(domain.PlanFree)
	_, err := svc.Create(context.Background(), testStore, member.CreateInput{Email: "a@b.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = svc.Create(context.Background(), testStore, member.CreateInput{Email: "a@b.com"})
	if !errors.Is(err, member.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestCreateReactivatesInactive(t *testing.T) {
	svc, repo := newService(domain.PlanFree)
	m, _ := svc.Create(context.Background(), testStore, member.CreateInput{Email: "a@b.com"})

	if err := svc.Delete(context.Background(), testStore, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := svc.Get(context.Background(), testStore, m.ID)
	if got.Status != domain.MemberInactive {
		t.Fatalf("status after delete = %s", got.Status)
	}

	back, err := svc.Create(context.Background(), testStore, member.CreateInput{Email: "a@b.com"})
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if back.ID != m.ID {
		t.Error("re-add created a new row instead of reactivating")
	}
	if repo.activeCount(testStore) != 1 {
		t.Errorf("active count = %d, want 1", repo.activeCount(testStore))
	}
}

func TestImportCSV(t *testing.T) {
	svc, _ := newService(domain.PlanFree)
	csvData := strings.Join([]string{
		"email,first_name,last_name",
		"alice@example.com,Alice,Smith",
		"bob@example.com,Bob,",
		"alice@example.com,Alice,Again", // in-file duplicate
		"not-an-email,Bad,Row",
		"",
	}, "\n")

	res, err := svc.ImportCSV(context.Background(), testStore, strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Imported != 2 {
		t.Errorf("imported = %d, want 2", res.Imported)
	}
	if res.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", res.Skipped)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "invalid email") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestImportCSVSkipsExistingActive(t *testing.T) {
	svc, _ := newService(domain.PlanFree)
	svc.Create(context.Background(), testStore, member.CreateInput{Email: "alice@example.com"})

	res, err := svc.ImportCSV(context.Background(), testStore,
		strings.NewReader("alice@example.com,Alice\ncarol@example.com,Carol"))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Imported != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestImportCSVAtomicAgainstPlanLimit(t *testing.T) {
	svc, repo := newService(domain.PlanFree)

	// Fill to 49 of the free plan's 50.
	var rows []string
	for i := 0; i < 49; i++ {
		rows = append(rows, string(rune('a'+i%26))+strings.Repeat("x", i/26+1)+"@example.com,A")
	}
	if _, err := svc.ImportCSV(context.Background(), testStore, strings.NewReader(strings.Join(rows, "\n"))); err != nil {
		t.Fatalf("seed import: %v", err)
	}

	// A 2-row import must be rejected whole, not half-applied.
	_, err := svc.ImportCSV(context.Background(), testStore,
		strings.NewReader("new1@example.com,N\nnew2@example.com,N"))
	if !errors.Is(err, plan.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if got := repo.activeCount(testStore); got != 49 {
		t.Errorf("active count = %d, want 49 (no partial insert)", got)
	}
}

func TestImportCSVEmpty(t *testing.T) {
	svc, _ := newService(domain.PlanFree)
	_, err := svc.ImportCSV(context.Background(), testStore, strings.NewReader("email,first_name\n"))
	if !errors.Is(err, member.ErrEmptyImport) {
		t.Fatalf("expected ErrEmptyImport, got %v", err)
	}
}

// fakeLister serves canned customer pages.
type fakeLister struct {
	pages [][]shopify.Customer
	calls int
}

func (f *fakeLister) Customers(_ context.Context, _ int64, _ int) ([]shopify.Customer, error) {
	if f.calls >= len(f.pages) {
		return nil, nil
	}
	p := f.pages[f.calls]
	f.calls++
	return p, nil
}

func TestSyncCreatesAndUpdates(t *testing.T) {
	svc, repo := newService(domain.PlanFree)
	existing, _ := svc.Create(context.Background(), testStore, member.CreateInput{Email: "known@example.com"})

	lister := &fakeLister{pages: [][]shopify.Customer{{
		{ID: 11, Email: "known@example.com", FirstName: "Known"},
		{ID: 12, Email: "fresh@example.com", FirstName: "Fresh"},
		{ID: 13, Email: ""}, // customer without email, skipped
	}}}

	res, err := svc.Sync(context.Background(), testStore, lister)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Created != 1 || res.Updated != 1 || res.Partial {
		t.Fatalf("result = %+v", res)
	}

	got, _ := svc.Get(context.Background(), testStore, existing.ID)
	if got.ShopifyCustomerID == nil || *got.ShopifyCustomerID != 11 {
		t.Errorf("existing member not linked: %+v", got.ShopifyCustomerID)
	}
	if repo.activeCount(testStore) != 2 {
		t.Errorf("active count = %d, want 2", repo.activeCount(testStore))
	}
}

func TestSyncStopsAtPlanLimit(t *testing.T) {
	svc, repo := newService(domain.PlanFree)

	var customers []shopify.Customer
	for i := 0; i < 60; i++ {
		customers = append(customers, shopify.Customer{
			ID: int64(i + 1), Email: string(rune('a'+i%26)) + strings.Repeat("z", i/26+1) + "@example.com",
		})
	}
	lister := &fakeLister{pages: [][]shopify.Customer{customers}}

	res, err := svc.Sync(context.Background(), testStore, lister)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.Partial {
		t.Fatal("expected partial result at plan limit")
	}
	if repo.activeCount(testStore) > 50 {
		t.Errorf("active count = %d, exceeds free limit", repo.activeCount(testStore))
	}
}

func TestEnrollFromWebhookIdempotent(t *testing.T) {
	svc, repo := newService(domain.PlanFree)
	payload := &shopify.CustomerPayload{ID: 7, Email: "hook@example.com", FirstName: "Hook"}

	m1, created, err := svc.EnrollFromWebhook(context.Background(), testStore, payload)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if !created {
		t.Fatal("first delivery should create")
	}
	if m1.Source != domain.SourceWebhook {
		t.Errorf("source = %s", m1.Source)
	}

	m2, created, err := svc.EnrollFromWebhook(context.Background(), testStore, payload)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if created {
		t.Fatal("redelivery must not create")
	}
	if m2.ID != m1.ID {
		t.Error("redelivery returned a different member")
	}
	if repo.activeCount(testStore) != 1 {
		t.Errorf("active count = %d, want 1", repo.activeCount(testStore))
	}
}
