package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/core/port/out"
)

// fakeItemClassifier records the request and returns a canned result.
type fakeItemClassifier struct {
	result  *out.ItemClassifyResult
	err     error
	called  bool
	lastReq out.ItemClassifyRequest
}

func (f *fakeItemClassifier) ClassifyItem(_ context.Context, req out.ItemClassifyRequest) (*out.ItemClassifyResult, error) {
	f.called = true
	f.lastReq = req
	return f.result, f.err
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
}

func newTestClassifier(llm out.ItemClassifier) *ItemTypeClassifier {
	c := NewItemTypeClassifier(llm, 10*time.Second)
	c.now = fixedNow
	return c
}

func TestStageAObligation(t *testing.T) {
	c := newTestClassifier(nil)
	item := &domain.Item{
		Subject:         "Permission slip due March 14",
		BodyText:        "Please sign and return.",
		PrimaryCategory: domain.CategorySchool,
	}

	c.Classify(context.Background(), item, "school", nil)

	if item.ItemType != domain.ItemObligation {
		t.Errorf("ItemType = %s, want obligation", item.ItemType)
	}
	want := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if item.ObligationDate == nil || !item.ObligationDate.Equal(want) {
		t.Errorf("ObligationDate = %v, want %v", item.ObligationDate, want)
	}
	if item.ClassifiedAt == nil {
		t.Error("expected ClassifiedAt to be set")
	}
}

func TestStageAAnnouncement(t *testing.T) {
	c := newTestClassifier(nil)
	item := &domain.Item{
		Subject:         "Weekly newsletter: what we did in Room 12",
		BodyText:        "We painted on March 3.",
		PrimaryCategory: domain.CategorySchool,
	}

	c.Classify(context.Background(), item, "school", nil)

	if item.ItemType != domain.ItemAnnouncement {
		t.Errorf("ItemType = %s, want announcement", item.ItemType)
	}
	if item.ObligationDate != nil {
		t.Errorf("announcements carry no obligation date, got %v", item.ObligationDate)
	}
	if item.ClassifiedAt == nil {
		t.Error("expected ClassifiedAt to be set")
	}
}

func TestStageACategoryDefault(t *testing.T) {
	c := newTestClassifier(nil)
	item := &domain.Item{
		Subject:         "Lunch balance statement",
		PrimaryCategory: domain.CategoryFormsAdmin,
	}

	c.Classify(context.Background(), item, "school", nil)

	if item.ItemType != domain.ItemObligation {
		t.Errorf("forms_admin items default to obligation, got %s", item.ItemType)
	}
}

func TestStageAUnknownWithoutSecondStage(t *testing.T) {
	c := newTestClassifier(nil)
	item := &domain.Item{
		Subject:         "Hello from Ms. Chen",
		PrimaryCategory: domain.CategorySchool,
	}

	c.Classify(context.Background(), item, "school", nil)

	if item.ItemType != domain.ItemUnknown {
		t.Errorf("ItemType = %s, want unknown", item.ItemType)
	}
	if item.ClassifiedAt != nil {
		t.Error("unresolved items without a second stage stay unclassified")
	}
}

func TestStageBFillsEmptyFields(t *testing.T) {
	due := time.Date(2026, 3, 20, 15, 30, 0, 0, time.UTC)
	llm := &fakeItemClassifier{result: &out.ItemClassifyResult{
		ItemType:       "obligation",
		ObligationDate: &due,
		Confidence:     0.8,
		Reasoning:      "asks parents to sign and return a form",
	}}
	c := newTestClassifier(llm)

	item := &domain.Item{
		Subject:         "Hello from Ms. Chen",
		Snippet:         "One more thing before Friday...",
		FromEmail:       "chen@lincolnelementary.org",
		PrimaryCategory: domain.CategorySchool,
	}
	c.Classify(context.Background(), item, "school", []string{"Maya", "Leo"})

	if !llm.called {
		t.Fatal("expected the second stage to run")
	}
	if llm.lastReq.PackName != "school" || len(llm.lastReq.MemberNames) != 2 {
		t.Errorf("unexpected request context: %+v", llm.lastReq)
	}
	if item.ItemType != domain.ItemObligation {
		t.Errorf("ItemType = %s, want obligation", item.ItemType)
	}
	wantDate := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	if item.ObligationDate == nil || !item.ObligationDate.Equal(wantDate) {
		t.Errorf("ObligationDate = %v, want truncated %v", item.ObligationDate, wantDate)
	}
	if item.ClassificationConfidence == nil || *item.ClassificationConfidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", item.ClassificationConfidence)
	}
	if item.ClassificationReasoning == nil || *item.ClassificationReasoning == "" {
		t.Error("expected reasoning to be recorded")
	}
	if item.ClassifiedAt == nil {
		t.Error("expected ClassifiedAt to be set")
	}
}

func TestStageBNeverRewritesStageA(t *testing.T) {
	due := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	llm := &fakeItemClassifier{result: &out.ItemClassifyResult{
		ItemType:       "announcement",
		ObligationDate: &due,
		Confidence:     0.9,
	}}
	c := newTestClassifier(llm)

	// Obligation keyword without any date forces the second stage.
	item := &domain.Item{
		Subject:         "RSVP for the spring concert",
		PrimaryCategory: domain.CategorySchool,
	}
	c.Classify(context.Background(), item, "school", nil)

	if item.ItemType != domain.ItemObligation {
		t.Errorf("stage A decision must survive: got %s", item.ItemType)
	}
	if item.ObligationDate == nil || !item.ObligationDate.Equal(due) {
		t.Errorf("missing date should be filled: got %v", item.ObligationDate)
	}
}

func TestStageBErrorDegradesToUnknown(t *testing.T) {
	llm := &fakeItemClassifier{err: errors.New("upstream timeout")}
	c := newTestClassifier(llm)

	item := &domain.Item{
		Subject:         "Hello from Ms. Chen",
		PrimaryCategory: domain.CategorySchool,
	}
	c.Classify(context.Background(), item, "school", nil)

	if item.ItemType != domain.ItemUnknown {
		t.Errorf("ItemType = %s, want unknown", item.ItemType)
	}
	if item.ClassificationConfidence == nil || *item.ClassificationConfidence != 0 {
		t.Errorf("Confidence = %v, want 0", item.ClassificationConfidence)
	}
	if item.ClassificationReasoning == nil || *item.ClassificationReasoning != unparseableReason {
		t.Errorf("Reasoning = %v, want %q", item.ClassificationReasoning, unparseableReason)
	}
	if item.ClassifiedAt == nil {
		t.Error("a failed second stage still stamps ClassifiedAt")
	}
}

func TestStageBInvalidTypeDegradesToUnknown(t *testing.T) {
	llm := &fakeItemClassifier{result: &out.ItemClassifyResult{ItemType: "question"}}
	c := newTestClassifier(llm)

	item := &domain.Item{
		Subject:         "Hello from Ms. Chen",
		PrimaryCategory: domain.CategorySchool,
	}
	c.Classify(context.Background(), item, "school", nil)

	if item.ItemType != domain.ItemUnknown {
		t.Errorf("ItemType = %s, want unknown", item.ItemType)
	}
	if item.ClassificationReasoning == nil || *item.ClassificationReasoning != unparseableReason {
		t.Errorf("Reasoning = %v, want %q", item.ClassificationReasoning, unparseableReason)
	}
}
