// Package dashboard projects stored items into the sections the UI consumes.
// Everything here is read-only and agnostic to the agent mode.
package dashboard

import (
	"context"
	"sort"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
)

// Time buckets for upcoming obligations.
const (
	BucketThisWeek  = "this_week"
	BucketNextWeek  = "next_week"
	BucketThisMonth = "this_month"
	BucketLater     = "later"
)

// Update labels for the merged primary view.
const (
	UpdateAnnouncement = "announcement"
	UpdatePastEvent    = "past_event"
	UpdateOther        = "update"
)

// ObligationsView groups dated upcoming obligations by time bucket.
type ObligationsView struct {
	ThisWeek  []*domain.Item `json:"this_week"`
	NextWeek  []*domain.Item `json:"next_week"`
	ThisMonth []*domain.Item `json:"this_month"`
	Later     []*domain.Item `json:"later"`
}

// Total returns the item count across all buckets.
func (v *ObligationsView) Total() int {
	return len(v.ThisWeek) + len(v.NextWeek) + len(v.ThisMonth) + len(v.Later)
}

// AnnouncementsView splits recent announcements by age.
type AnnouncementsView struct {
	ThisWeek []*domain.Item `json:"this_week"`
	LastWeek []*domain.Item `json:"last_week"`
}

// Update is one row of the merged primary view.
type Update struct {
	Item       *domain.Item `json:"item"`
	UpdateType string       `json:"update_type"`
	// EffectiveDate drives the sort: obligation date for past events,
	// creation time for announcements.
	EffectiveDate time.Time `json:"effective_date"`
}

// CatchupView holds items that aged out of the live sections.
type CatchupView struct {
	PastObligations  []*domain.Item `json:"past_obligations"`
	OldAnnouncements []*domain.Item `json:"old_announcements"`
}

// Service answers the five dashboard queries.
type Service struct {
	repo domain.DashboardRepository
	now  func() time.Time
}

// New creates a dashboard service.
func New(repo domain.DashboardRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Obligations returns upcoming obligations grouped into time buckets, sorted
// by date ascending within each bucket. An item qualifies through its own
// obligation date or through an extracted event starting today or later; an
// item matching both arms appears once.
func (s *Service) Obligations(ctx context.Context, f domain.ItemFilter) (*ObligationsView, error) {
	today := s.today()
	dated, err := s.repo.ListUpcomingObligations(ctx, f, today)
	if err != nil {
		return nil, err
	}
	eventBacked, err := s.repo.ListUpcomingEventItems(ctx, f, today)
	if err != nil {
		return nil, err
	}

	view := &ObligationsView{}
	seen := make(map[string]struct{}, len(dated)+len(eventBacked))
	for _, item := range mergeItems(dated, eventBacked) {
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		if item.ObligationDate == nil {
			continue
		}
		switch d := item.ObligationDate.Sub(today); {
		case d <= 7*24*time.Hour:
			view.ThisWeek = append(view.ThisWeek, item)
		case d <= 14*24*time.Hour:
			view.NextWeek = append(view.NextWeek, item)
		case d <= 30*24*time.Hour:
			view.ThisMonth = append(view.ThisMonth, item)
		default:
			view.Later = append(view.Later, item)
		}
	}
	for _, bucket := range [][]*domain.Item{view.ThisWeek, view.NextWeek, view.ThisMonth, view.Later} {
		sortByObligationDate(bucket)
	}
	return view, nil
}

// Tasks returns undated obligations from the last 30 days, newest first.
func (s *Service) Tasks(ctx context.Context, f domain.ItemFilter) ([]*domain.Item, error) {
	since := s.today().AddDate(0, 0, -30)
	return s.repo.ListDatelessObligations(ctx, f, since)
}

// Announcements returns non-obligation items from the last 7 days, split into
// this week (at most 2 days old) and last week.
func (s *Service) Announcements(ctx context.Context, f domain.ItemFilter) (*AnnouncementsView, error) {
	now := s.now().UTC()
	items, err := s.repo.ListAnnouncementsBetween(ctx, f, now.AddDate(0, 0, -7), now)
	if err != nil {
		return nil, err
	}

	recentCutoff := now.AddDate(0, 0, -2)
	view := &AnnouncementsView{}
	for _, item := range items {
		if item.CreatedAt.After(recentCutoff) {
			view.ThisWeek = append(view.ThisWeek, item)
		} else {
			view.LastWeek = append(view.LastWeek, item)
		}
	}
	return view, nil
}

// Updates returns the merged primary view: announcements and past obligations
// from the last 14 days, sorted by effective date descending.
func (s *Service) Updates(ctx context.Context, f domain.ItemFilter) ([]Update, error) {
	now := s.now().UTC()
	from := now.AddDate(0, 0, -14)

	announcements, err := s.repo.ListAnnouncementsBetween(ctx, f, from, now)
	if err != nil {
		return nil, err
	}
	past, err := s.repo.ListPastObligations(ctx, f, from, now)
	if err != nil {
		return nil, err
	}

	updates := make([]Update, 0, len(announcements)+len(past))
	for _, item := range announcements {
		updates = append(updates, Update{
			Item:          item,
			UpdateType:    UpdateAnnouncement,
			EffectiveDate: item.CreatedAt,
		})
	}
	for _, item := range past {
		u := Update{Item: item, UpdateType: UpdatePastEvent, EffectiveDate: item.CreatedAt}
		if item.ObligationDate != nil {
			u.EffectiveDate = *item.ObligationDate
		}
		updates = append(updates, u)
	}

	sort.SliceStable(updates, func(i, j int) bool {
		return updates[i].EffectiveDate.After(updates[j].EffectiveDate)
	})
	return updates, nil
}

// Catchup returns items that aged out of the live sections: past obligations
// and past-dated events within daysBack (default 7), and announcements aged
// 7 to 14 days.
func (s *Service) Catchup(ctx context.Context, f domain.ItemFilter, daysBack int) (*CatchupView, error) {
	if daysBack <= 0 {
		daysBack = 7
	}
	now := s.now().UTC()
	from := now.AddDate(0, 0, -daysBack)

	past, err := s.repo.ListPastObligations(ctx, f, from, now)
	if err != nil {
		return nil, err
	}
	pastEvents, err := s.repo.ListPastEventItems(ctx, f, from, now)
	if err != nil {
		return nil, err
	}
	old, err := s.repo.ListAnnouncementsBetween(ctx, f, now.AddDate(0, 0, -14), now.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}

	merged := dedupeItems(mergeItems(past, pastEvents))
	sortByObligationDateDesc(merged)
	return &CatchupView{PastObligations: merged, OldAnnouncements: old}, nil
}

func (s *Service) today() time.Time {
	return s.now().UTC().Truncate(24 * time.Hour)
}

func mergeItems(a, b []*domain.Item) []*domain.Item {
	merged := make([]*domain.Item, 0, len(a)+len(b))
	merged = append(merged, a...)
	return append(merged, b...)
}

func dedupeItems(items []*domain.Item) []*domain.Item {
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if _, dup := seen[item.ID]; dup {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
	}
	return out
}

func sortByObligationDate(items []*domain.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		di, dj := items[i].ObligationDate, items[j].ObligationDate
		if di == nil || dj == nil {
			return di != nil && dj == nil
		}
		return di.Before(*dj)
	})
}

func sortByObligationDateDesc(items []*domain.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		di, dj := items[i].ObligationDate, items[j].ObligationDate
		if di == nil || dj == nil {
			return di != nil && dj == nil
		}
		return dj.Before(*di)
	})
}
