package domain

import (
	"context"
	"time"
)

// ItemFilter narrows dashboard reads. Person uses the multi-assignment
// match: "Colin" matches "Colin", "Colin, Henry", and "Henry, Colin".
type ItemFilter struct {
	PackID string
	Person string
}

// DashboardRepository is the read path behind the dashboard sections.
// Every query excludes items with a dismissal row.
type DashboardRepository interface {
	// Obligations dated today or later.
	ListUpcomingObligations(ctx context.Context, f ItemFilter, today time.Time) ([]*Item, error)
	// Obligations with no date, received since the cutoff.
	ListDatelessObligations(ctx context.Context, f ItemFilter, since time.Time) ([]*Item, error)
	// Non-obligation items created in [from, to).
	ListAnnouncementsBetween(ctx context.Context, f ItemFilter, from, to time.Time) ([]*Item, error)
	// Obligations whose date already passed, dated in [from, to).
	ListPastObligations(ctx context.Context, f ItemFilter, from, to time.Time) ([]*Item, error)
	// Items whose extracted event starts today or later. Items without a
	// date of their own carry the event start as their obligation date.
	ListUpcomingEventItems(ctx context.Context, f ItemFilter, today time.Time) ([]*Item, error)
	// Items whose extracted event already started, starting in [from, to).
	ListPastEventItems(ctx context.Context, f ItemFilter, from, to time.Time) ([]*Item, error)
}

// DigestRepository is the read path behind digest sections.
type DigestRepository interface {
	ListItemsCreatedBetween(ctx context.Context, from, to time.Time) ([]*Item, error)
	ListPendingItemsBetween(ctx context.Context, from, to time.Time) ([]*Item, error)
	ListApprovedItemsBetween(ctx context.Context, from, to time.Time) ([]*Item, error)
	ListEventsByStatusBetween(ctx context.Context, status EventStatus, from, to time.Time) ([]*Event, error)
}
