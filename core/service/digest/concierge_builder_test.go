package digest

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
)

type fakeDigestRepo struct {
	created  []*domain.Item
	pending  []*domain.Item
	approved []*domain.Item
	deferred []*domain.Item
}

func (r *fakeDigestRepo) ListItemsCreatedBetween(_ context.Context, _, _ time.Time) ([]*domain.Item, error) {
	return r.created, nil
}

func (r *fakeDigestRepo) ListPendingItemsBetween(_ context.Context, from, to time.Time) ([]*domain.Item, error) {
	// The deferred section queries the 14 days before the window.
	if to.Equal(from.AddDate(0, 0, 14)) {
		return r.deferred, nil
	}
	return r.pending, nil
}

func (r *fakeDigestRepo) ListApprovedItemsBetween(_ context.Context, _, _ time.Time) ([]*domain.Item, error) {
	return r.approved, nil
}

func (r *fakeDigestRepo) ListEventsByStatusBetween(_ context.Context, _ domain.EventStatus, _, _ time.Time) ([]*domain.Event, error) {
	return nil, nil
}

var (
	windowFrom = time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	windowTo   = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
)

func date(y int, m time.Month, d int) *time.Time {
	v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &v
}

func TestBuildQuietDigest(t *testing.T) {
	b := NewBuilder(&fakeDigestRepo{}, nil, nil, nil)

	d, err := b.Build(context.Background(), windowFrom, windowTo, false)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if !d.Quiet {
		t.Error("an empty window should be quiet")
	}

	text := Render(d)
	if !strings.Contains(text, "A quiet week") {
		t.Errorf("quiet render missing the quiet line:\n%s", text)
	}
}

func TestBuildRowFields(t *testing.T) {
	low := 0.7
	item := &domain.Item{
		MessageID:                "msg-1",
		Subject:                  "Permission slip for the aquarium trip",
		FromName:                 "Ms. Chen",
		FromEmail:                "chen@lincolnelementary.org",
		Snippet:                  "Please sign & return by Friday",
		PrimaryCategory:          domain.CategorySchool,
		ItemType:                 domain.ItemObligation,
		ObligationDate:           date(2026, time.March, 14),
		ClassificationConfidence: &low,
	}

	row := buildRow(item)

	if row.Group != GroupSchool {
		t.Errorf("Group = %q", row.Group)
	}
	if row.Fact != "Permission slip due Mar 14" {
		t.Errorf("Fact = %q", row.Fact)
	}
	if !row.NeedsReview {
		t.Error("confidence below the floor should flag review")
	}
	if row.DeepLink != "mail://search/rfc822msgid:%3Cmsg-1%3E" {
		t.Errorf("DeepLink = %q", row.DeepLink)
	}
	if row.Excerpt != "Please sign &amp; return by Friday" {
		t.Errorf("Excerpt = %q, want HTML-escaped snippet", row.Excerpt)
	}
}

func TestBuildRowExcerptCap(t *testing.T) {
	item := &domain.Item{
		MessageID: "msg-1",
		Snippet:   strings.Repeat("a", excerptLimit+50),
	}
	row := buildRow(item)
	if len(row.Excerpt) != excerptLimit {
		t.Errorf("excerpt length = %d, want %d", len(row.Excerpt), excerptLimit)
	}
}

func TestBuildRowExcerptKeepsRunesIntact(t *testing.T) {
	// One leading ASCII byte shifts every two-byte rune off the byte limit,
	// so a naive byte slice would split the final rune.
	item := &domain.Item{
		MessageID: "msg-1",
		Snippet:   "a" + strings.Repeat("é", excerptLimit),
	}
	row := buildRow(item)

	if !utf8.ValidString(row.Excerpt) {
		t.Error("excerpt contains a split UTF-8 sequence")
	}
	if len(row.Excerpt) > excerptLimit {
		t.Errorf("excerpt length = %d, want <= %d", len(row.Excerpt), excerptLimit)
	}
	if len(row.Excerpt) != excerptLimit-1 {
		t.Errorf("excerpt length = %d, want %d after backing off the split rune",
			len(row.Excerpt), excerptLimit-1)
	}
}

func TestGlanceDedupAndCap(t *testing.T) {
	var items []*domain.Item
	// Two newsletters from the same category collapse into one fact.
	for i := 0; i < 2; i++ {
		items = append(items, &domain.Item{
			Subject:         "Weekly newsletter",
			FromName:        "Lincoln Elementary",
			PrimaryCategory: domain.CategorySchool,
		})
	}
	facts := buildGlance(items)
	if len(facts) != 1 {
		t.Errorf("glance = %v, want 1 deduplicated fact", facts)
	}

	// Distinct facts cap at the glance limit.
	items = nil
	subjects := []string{
		"Weekly newsletter", "Permission slip enclosed", "Picture day reminder",
		"RSVP for the party", "Payment due soon and owed", "Photos available now",
		"Game this Saturday", "No school Monday",
	}
	for i, s := range subjects {
		items = append(items, &domain.Item{
			Subject:         s,
			FromName:        "Sender",
			PrimaryCategory: domain.AllCategories[i%len(domain.AllCategories)],
		})
	}
	facts = buildGlance(items)
	if len(facts) != glanceCap {
		t.Errorf("glance = %d facts, want cap %d", len(facts), glanceCap)
	}
}

func TestExtractFact(t *testing.T) {
	tests := []struct {
		name string
		item *domain.Item
		want string
	}{
		{
			name: "photos",
			item: &domain.Item{Subject: "Class photos are now available", FromName: "Ms. Chen"},
			want: "Photos are available from Ms. Chen",
		},
		{
			name: "schedule change with date",
			item: &domain.Item{Subject: "Early dismissal next week", ObligationDate: date(2026, time.March, 12)},
			want: "Schedule change on Mar 12",
		},
		{
			name: "rsvp without date",
			item: &domain.Item{Subject: "Please RSVP for Leo's party"},
			want: "RSVP needed",
		},
		{
			name: "no recognizer fires",
			item: &domain.Item{Subject: "Hello families"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractFact(tt.item); got != tt.want {
				t.Errorf("extractFact() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderLanguage(t *testing.T) {
	conf := 0.6
	repo := &fakeDigestRepo{
		created: []*domain.Item{
			{
				MessageID:                "msg-1",
				Subject:                  "Permission slip for the aquarium",
				FromName:                 "Ms. Chen",
				FromEmail:                "chen@lincolnelementary.org",
				PrimaryCategory:          domain.CategorySchool,
				ObligationDate:           date(2026, time.March, 14),
				ClassificationConfidence: &conf,
			},
			{
				MessageID:       "msg-2",
				Subject:         "Saturday game lineup",
				FromName:        "Coach Kim",
				FromEmail:       "coach@teamsnap.com",
				PrimaryCategory: domain.CategorySports,
			},
		},
	}
	b := NewBuilder(repo, nil, nil, nil)

	d, err := b.Build(context.Background(), windowFrom, windowTo, true)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	text := Render(d)

	if !strings.Contains(text, "[DRY RUN]") {
		t.Error("dry-run digest must be labeled")
	}
	if !strings.Contains(text, GroupSchool) || !strings.Contains(text, GroupSports) {
		t.Errorf("missing group headers:\n%s", text)
	}
	if !strings.Contains(text, "(please double-check)") {
		t.Error("low-confidence rows carry the review marker")
	}

	// Plain statements only: no hedging words, no numeric confidence, no
	// mention of automation.
	for _, banned := range []string{"likely", "probably", "might", "0.6", "confidence", "AI", "model"} {
		if strings.Contains(text, banned) {
			t.Errorf("digest text contains banned word %q:\n%s", banned, text)
		}
	}

	// School renders before sports.
	if strings.Index(text, GroupSchool) > strings.Index(text, GroupSports) {
		t.Error("groups must render in priority order")
	}
}

func TestBuildDeferredSection(t *testing.T) {
	repo := &fakeDigestRepo{
		deferred: []*domain.Item{{
			Subject:         "Old field trip form",
			PrimaryCategory: domain.CategorySchool,
		}},
	}
	b := NewBuilder(repo, nil, nil, nil)

	d, err := b.Build(context.Background(), windowFrom, windowTo, false)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if len(d.Deferred) != 1 {
		t.Errorf("Deferred = %d rows, want 1", len(d.Deferred))
	}
}
