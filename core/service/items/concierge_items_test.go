package items

import (
	"context"
	"testing"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/apperr"
)

type fakeItems struct {
	item *domain.Item
}

func (f *fakeItems) Insert(context.Context, *domain.Item) error { return nil }
func (f *fakeItems) Update(context.Context, *domain.Item) error { return nil }
func (f *fakeItems) GetByID(context.Context, string) (*domain.Item, error) {
	return f.item, nil
}
func (f *fakeItems) ListPending(context.Context, string) ([]*domain.Item, error) {
	return nil, nil
}
func (f *fakeItems) CreateWithMessage(context.Context, *domain.ProcessedMessage, *domain.Item, *domain.AuditLog) error {
	return nil
}

// fakeDismissals records each atomic dismissal+audit pair.
type fakeDismissals struct {
	inserted []*domain.DismissedItem
	audits   []*domain.AuditLog
}

func (f *fakeDismissals) Insert(_ context.Context, d *domain.DismissedItem) error {
	f.inserted = append(f.inserted, d)
	return nil
}

func (f *fakeDismissals) InsertWithAudit(_ context.Context, d *domain.DismissedItem, audit *domain.AuditLog) error {
	f.inserted = append(f.inserted, d)
	f.audits = append(f.audits, audit)
	return nil
}

func (f *fakeDismissals) IsDismissed(context.Context, string) (bool, error) { return false, nil }

func (f *fakeDismissals) List(context.Context, time.Time, time.Time, string) ([]*domain.DismissedItem, error) {
	return nil, nil
}

func TestDismiss(t *testing.T) {
	created := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	repo := &fakeItems{item: &domain.Item{
		ID:        "item-1",
		MessageID: "msg-1",
		PackID:    "school",
		Subject:   "Permission slip",
		FromEmail: "office@lincolnelementary.org",
		ItemType:  domain.ItemObligation,
		Person:    "Maya",
		CreatedAt: created,
	}}
	dismissals := &fakeDismissals{}

	s := New(repo, dismissals)
	s.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }

	d, err := s.Dismiss(context.Background(), "item-1", "wrong kid", "dana")
	if err != nil {
		t.Fatalf("Dismiss() error: %v", err)
	}

	if d.ID == "" {
		t.Error("dismissal needs a generated id")
	}
	if d.ItemID != "item-1" || d.Reason != "wrong kid" || d.DismissedBy != "dana" {
		t.Errorf("dismissal = %+v", d)
	}
	if d.OriginalSubject != "Permission slip" || d.OriginalFrom != "office@lincolnelementary.org" {
		t.Errorf("original fields not carried over: %+v", d)
	}
	if !d.OriginalDate.Equal(created) {
		t.Errorf("OriginalDate = %v, want %v", d.OriginalDate, created)
	}
	if len(dismissals.inserted) != 1 {
		t.Fatalf("inserted %d dismissals, want 1", len(dismissals.inserted))
	}
	if len(dismissals.audits) != 1 || dismissals.audits[0].Action != "item_dismissed" {
		t.Fatalf("audit rows = %+v, want item_dismissed paired with the dismissal", dismissals.audits)
	}
	if dismissals.audits[0].Details["reason"] != "wrong kid" {
		t.Errorf("audit details = %v", dismissals.audits[0].Details)
	}
}

func TestDismissRequiresReason(t *testing.T) {
	dismissals := &fakeDismissals{}
	s := New(&fakeItems{}, dismissals)

	for _, reason := range []string{"", "   ", "\t\n"} {
		_, err := s.Dismiss(context.Background(), "item-1", reason, "dana")
		if !apperr.IsDataIntegrity(err) {
			t.Errorf("reason %q: err = %v, want data integrity", reason, err)
		}
	}
	if len(dismissals.inserted) != 0 || len(dismissals.audits) != 0 {
		t.Error("a reasonless dismissal must write nothing")
	}
}
