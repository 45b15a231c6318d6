package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/config"
	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/core/port/out"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/assign"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/classify"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/discovery"
)

type fakeMail struct {
	mu      sync.Mutex
	ids     []string
	msgs    map[string]*out.MailMessage
	queries []string
}

func (f *fakeMail) ListMessageIDs(_ context.Context, query string, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.ids, nil
}

func (f *fakeMail) GetMessage(_ context.Context, id string) (*out.MailMessage, error) {
	if msg, ok := f.msgs[id]; ok {
		return msg, nil
	}
	return nil, out.NewMailError(out.MailErrNotFound, "no such message", nil)
}

func (f *fakeMail) GetAttachments(context.Context, *out.MailMessage) ([]out.Attachment, error) {
	return nil, nil
}

func (f *fakeMail) Forward(context.Context, string, []string, string) error { return nil }
func (f *fakeMail) SendEmail(context.Context, []byte) error                 { return nil }
func (f *fakeMail) ApplyLabel(context.Context, string, string) error        { return nil }

type fakeStore struct {
	mu        sync.Mutex
	processed map[string]*domain.ProcessedMessage
	items     []*domain.Item
}

func newFakeStore() *fakeStore {
	return &fakeStore{processed: make(map[string]*domain.ProcessedMessage)}
}

func (s *fakeStore) Insert(_ context.Context, item *domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

func (s *fakeStore) Update(_ context.Context, item *domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.items {
		if existing.ID == item.ID {
			s.items[i] = item
			return nil
		}
	}
	return errors.New("not found")
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id {
			return it, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListPending(_ context.Context, packID string) ([]*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*domain.Item
	for _, it := range s.items {
		if !it.Approved && (packID == "" || it.PackID == packID) {
			pending = append(pending, it)
		}
	}
	return pending, nil
}

func (s *fakeStore) CreateWithMessage(_ context.Context, pm *domain.ProcessedMessage, item *domain.Item, _ *domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[pm.MessageID] = pm
	if item != nil {
		s.items = append(s.items, item)
	}
	return nil
}

func (s *fakeStore) Get(_ context.Context, messageID string) (*domain.ProcessedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[messageID], nil
}

type fakeTokens struct {
	cleaned int
}

func (f *fakeTokens) Insert(context.Context, *domain.ApprovalToken) error { return nil }
func (f *fakeTokens) Get(context.Context, string) (*domain.ApprovalToken, error) {
	return nil, nil
}
func (f *fakeTokens) Update(context.Context, *domain.ApprovalToken) error { return nil }
func (f *fakeTokens) CleanupExpired(context.Context, time.Time) (int, error) {
	f.cleaned++
	return 0, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

func (a *fakeAudit) Insert(_ context.Context, entry *domain.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) ListSince(context.Context, time.Time, domain.AuditLevel) ([]*domain.AuditLog, error) {
	return nil, nil
}

func (a *fakeAudit) TrimBefore(context.Context, time.Time) (int, error) { return 0, nil }

func (a *fakeAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var names []string
	for _, e := range a.entries {
		names = append(names, e.Action)
	}
	return names
}

// itemRepo disambiguates the overlapping Insert/Get methods of fakeStore.
type itemRepo struct{ *fakeStore }

type processedRepo struct{ *fakeStore }

func (r processedRepo) Insert(_ context.Context, pm *domain.ProcessedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed[pm.MessageID] = pm
	return nil
}

func testAgent() *config.AgentConfig {
	cfg := &config.AgentConfig{
		Version: 1,
		Packs: []domain.Pack{
			{
				ID: "school", Priority: 2, Enabled: true,
				Sources:    []domain.PackSource{{FromDomains: []string{"lincolnelementary.org"}}},
				Categories: domain.CategoryPreferences{domain.CategorySchool: domain.SensitivityBalanced},
			},
			{
				ID: "medical", Priority: 1, Enabled: true,
				Sources:    []domain.PackSource{{FromDomains: []string{"mychart.com"}}},
				Categories: domain.CategoryPreferences{domain.CategoryMedical: domain.SensitivityConservative},
			},
			{ID: "retired", Priority: 3, Enabled: false},
		},
		Family: config.FamilyConfig{Members: []domain.FamilyMember{{Name: "Maya"}}},
		Confidence: config.ConfidenceConfig{
			AutoCreate: 0.85,
			Suggest:    0.5,
		},
	}
	return cfg
}

func newTestOrchestrator(mail *fakeMail, store *fakeStore, audit *fakeAudit, mode config.Mode) (*Orchestrator, *fakeTokens) {
	engine := discovery.NewEngine(
		mail, itemRepo{store}, processedRepo{store}, audit,
		assign.New(nil, nil, false),
		classify.NewRelevanceScorer(),
		classify.NewCategoryClassifier(),
		classify.NewItemTypeClassifier(nil, time.Second),
		nil,
	)
	tokens := &fakeTokens{}
	o := New(engine, itemRepo{store}, tokens, audit, testAgent(), mode, discovery.Limits{LookbackDays: 7})
	return o, tokens
}

func pendingItem(id string, confidence *float64) *domain.Item {
	return &domain.Item{
		ID:                       id,
		MessageID:                "msg-" + id,
		PackID:                   "school",
		ClassificationConfidence: confidence,
	}
}

func ptr(f float64) *float64 { return &f }

func TestRunVisitsEnabledPacksInPriorityOrder(t *testing.T) {
	mail := &fakeMail{}
	store := newFakeStore()
	o, tokens := newTestOrchestrator(mail, store, &fakeAudit{}, config.ModeCopilot)

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(result.Packs) != 2 {
		t.Fatalf("packs = %d, want the 2 enabled packs", len(result.Packs))
	}
	if result.Packs[0].PackID != "medical" || result.Packs[1].PackID != "school" {
		t.Errorf("pack order = %s, %s", result.Packs[0].PackID, result.Packs[1].PackID)
	}
	if !result.Quiet() {
		t.Error("no messages means a quiet run")
	}
	if tokens.cleaned != 1 {
		t.Errorf("token cleanup ran %d times, want 1", tokens.cleaned)
	}
}

func TestRunCopilotNeverPromotes(t *testing.T) {
	mail := &fakeMail{}
	store := newFakeStore()
	store.items = append(store.items, pendingItem("i1", ptr(0.99)))
	o, _ := newTestOrchestrator(mail, store, &fakeAudit{}, config.ModeCopilot)

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Promoted != 0 {
		t.Errorf("Promoted = %d, want 0 in copilot", result.Promoted)
	}
	if store.items[0].Approved {
		t.Error("copilot must leave items pending")
	}
}

func TestRunAutopilotPromotesConfidentItems(t *testing.T) {
	mail := &fakeMail{}
	store := newFakeStore()
	store.items = append(store.items,
		pendingItem("confident", ptr(0.9)),
		pendingItem("unsure", ptr(0.6)),
		pendingItem("unscored", nil),
	)
	audit := &fakeAudit{}
	o, _ := newTestOrchestrator(mail, store, audit, config.ModeAutopilot)

	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.Promoted != 1 {
		t.Errorf("Promoted = %d, want 1", result.Promoted)
	}
	confident, _ := store.GetByID(context.Background(), "confident")
	if !confident.Approved || confident.ApprovedAt == nil {
		t.Error("confident item should be approved with a timestamp")
	}
	for _, id := range []string{"unsure", "unscored"} {
		item, _ := store.GetByID(context.Background(), id)
		if item.Approved {
			t.Errorf("item %s must stay pending", id)
		}
	}

	found := false
	for _, action := range audit.actions() {
		if action == "item_auto_approved" {
			found = true
		}
	}
	if !found {
		t.Errorf("audit actions = %v, want item_auto_approved", audit.actions())
	}
}

func TestRunPackUnknown(t *testing.T) {
	o, _ := newTestOrchestrator(&fakeMail{}, newFakeStore(), &fakeAudit{}, config.ModeCopilot)

	_, err := o.RunPack(context.Background(), "nope")
	if !errors.Is(err, ErrUnknownPack) {
		t.Errorf("err = %v, want ErrUnknownPack", err)
	}
}

func TestRunPack(t *testing.T) {
	mail := &fakeMail{}
	o, _ := newTestOrchestrator(mail, newFakeStore(), &fakeAudit{}, config.ModeCopilot)

	result, err := o.RunPack(context.Background(), "school")
	if err != nil {
		t.Fatalf("RunPack() error: %v", err)
	}
	if len(result.Packs) != 1 || result.Packs[0].PackID != "school" {
		t.Errorf("packs = %+v", result.Packs)
	}
	if len(mail.queries) != 1 || !strings.Contains(mail.queries[0], "from:lincolnelementary.org") {
		t.Errorf("queries = %v", mail.queries)
	}
}

func TestBackfillDryRunCountsOnly(t *testing.T) {
	mail := &fakeMail{ids: []string{"a", "b", "c"}}
	store := newFakeStore()
	audit := &fakeAudit{}
	o, _ := newTestOrchestrator(mail, store, audit, config.ModeCopilot)

	from := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	result, err := o.Backfill(context.Background(), from, to, true)
	if err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}

	if len(result.Packs) != 2 {
		t.Fatalf("packs = %d, want 2", len(result.Packs))
	}
	for _, p := range result.Packs {
		if p.Summary.Listed != 3 {
			t.Errorf("pack %s listed %d, want 3", p.PackID, p.Summary.Listed)
		}
	}
	if len(store.processed) != 0 || len(store.items) != 0 {
		t.Error("dry-run backfill must write nothing")
	}
	for _, q := range mail.queries {
		if !strings.Contains(q, "after:2025/9/1") || !strings.Contains(q, "before:2025/10/1") {
			t.Errorf("query %q missing the backfill window", q)
		}
	}

	found := false
	for _, e := range audit.entries {
		if e.Action == "backfill_finished" {
			found = true
			if e.Details["dry_run"] != true {
				t.Errorf("details = %v", e.Details)
			}
		}
	}
	if !found {
		t.Error("missing backfill_finished audit row")
	}
}

func TestBackfillBudgetSpendsOnCreatedItems(t *testing.T) {
	// 100 listed messages that all land out of scope must leave the budget
	// intact: only created or updated items spend it.
	ids := make([]string, 100)
	msgs := make(map[string]*out.MailMessage, len(ids))
	for i := range ids {
		id := fmt.Sprintf("m%d", i)
		ids[i] = id
		msgs[id] = &out.MailMessage{
			ID:        id,
			Subject:   "Huge spring sale",
			FromEmail: "promo@store.com",
			BodyText:  "Everything half off.",
		}
	}
	mail := &fakeMail{ids: ids, msgs: msgs}
	store := newFakeStore()
	o, _ := newTestOrchestrator(mail, store, &fakeAudit{}, config.ModeCopilot)

	from := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	result, err := o.Backfill(context.Background(), from, to, false)
	if err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}

	if len(result.Packs) != 2 {
		t.Fatalf("packs = %d, want both packs visited", len(result.Packs))
	}
	if len(store.items) != 0 {
		t.Errorf("items = %d, want none for out-of-scope mail", len(store.items))
	}
	if len(store.processed) != len(ids) {
		t.Errorf("processed rows = %d, want %d", len(store.processed), len(ids))
	}
}

func TestBackfillBudgetStopsLaterPacks(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = "m"
	}
	mail := &fakeMail{ids: ids}
	o, _ := newTestOrchestrator(mail, newFakeStore(), &fakeAudit{}, config.ModeCopilot)

	from := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	result, err := o.Backfill(context.Background(), from, to, true)
	if err != nil {
		t.Fatalf("Backfill() error: %v", err)
	}

	// The first pack consumes the whole budget; the second never runs.
	if len(result.Packs) != 1 {
		t.Errorf("packs = %d, want 1", len(result.Packs))
	}
	if result.Packs[0].PackID != "medical" {
		t.Errorf("first pack = %s, want the priority-1 pack", result.Packs[0].PackID)
	}
}
