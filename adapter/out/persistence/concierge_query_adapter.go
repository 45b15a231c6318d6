package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"

	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Dashboard / Digest Query Adapter
// =============================================================================

// QueryAdapter implements domain.DashboardRepository and
// domain.DigestRepository. All dashboard reads exclude dismissed items via a
// left join against dismissed_items.
type QueryAdapter struct {
	db *sqlx.DB
}

// NewQueryAdapter creates a new QueryAdapter.
func NewQueryAdapter(db *sqlx.DB) *QueryAdapter {
	return &QueryAdapter{db: db}
}

func (a *QueryAdapter) selectItems(ctx context.Context, where, orderBy string, f domain.ItemFilter, args []interface{}) ([]*domain.Item, error) {
	query := `SELECT i.* FROM items i
	LEFT JOIN dismissed_items d ON d.item_id = i.id
	WHERE d.id IS NULL AND ` + where

	if f.PackID != "" {
		args = append(args, f.PackID)
		query += fmt.Sprintf(" AND i.pack_id = $%d", len(args))
	}
	if f.Person != "" {
		cond, personArgs := itemPersonFilter(f.Person, len(args))
		query += " AND " + cond
		args = append(args, personArgs...)
	}
	query += " ORDER BY " + orderBy

	var rows []itemRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	return rowsToItems(rows)
}

// itemPersonFilter is personFilter with the items alias.
func itemPersonFilter(name string, argOffset int) (string, []interface{}) {
	n := func(i int) string { return fmt.Sprintf("$%d", argOffset+i) }
	cond := fmt.Sprintf("(i.person = %s OR i.person LIKE %s OR i.person LIKE %s OR i.person LIKE %s)",
		n(1), n(2), n(3), n(4))
	args := []interface{}{
		name,
		name + ", %",
		"%, " + name,
		"%, " + name + ", %",
	}
	return cond, args
}

// ListUpcomingObligations returns obligations dated today or later, date
// ascending.
func (a *QueryAdapter) ListUpcomingObligations(ctx context.Context, f domain.ItemFilter, today time.Time) ([]*domain.Item, error) {
	return a.selectItems(ctx,
		`i.item_type = 'obligation' AND i.obligation_date IS NOT NULL AND i.obligation_date >= $1`,
		`i.obligation_date ASC`,
		f, []interface{}{today})
}

// ListDatelessObligations returns obligations without a date received since
// the cutoff, newest first.
func (a *QueryAdapter) ListDatelessObligations(ctx context.Context, f domain.ItemFilter, since time.Time) ([]*domain.Item, error) {
	return a.selectItems(ctx,
		`i.item_type = 'obligation' AND i.obligation_date IS NULL AND i.created_at >= $1`,
		`i.created_at DESC`,
		f, []interface{}{since})
}

// ListAnnouncementsBetween returns non-obligation items created in [from, to),
// newest first. Items still unclassified count as announcements here.
func (a *QueryAdapter) ListAnnouncementsBetween(ctx context.Context, f domain.ItemFilter, from, to time.Time) ([]*domain.Item, error) {
	return a.selectItems(ctx,
		`i.item_type <> 'obligation' AND i.created_at >= $1 AND i.created_at < $2`,
		`i.created_at DESC`,
		f, []interface{}{from, to})
}

// ListPastObligations returns obligations dated in [from, to), date
// descending. Callers pass a window ending today to get "already happened".
func (a *QueryAdapter) ListPastObligations(ctx context.Context, f domain.ItemFilter, from, to time.Time) ([]*domain.Item, error) {
	return a.selectItems(ctx,
		`i.item_type = 'obligation' AND i.obligation_date IS NOT NULL AND i.obligation_date >= $1 AND i.obligation_date < $2`,
		`i.obligation_date DESC`,
		f, []interface{}{from, to})
}

// eventItemColumns projects an item joined to its extracted event. The event
// start fills obligation_date when the item has no date of its own, so the
// dashboard can bucket event-backed items like dated obligations.
const eventItemColumns = `
	i.id, i.message_id, i.pack_id, i.subject, i.from_name, i.from_email,
	i.snippet, i.email_body_text, i.email_body_html, i.relevance_score,
	i.primary_category, i.secondary_categories, i.category_scores,
	i.save_reasons, i.person, i.assignment_reason, i.item_type,
	COALESCE(i.obligation_date, (e.event_intent->>'start_date_time')::timestamptz) AS obligation_date,
	i.classification_confidence, i.classification_reasoning, i.classified_at,
	i.approved, i.approved_at, i.created_at`

func (a *QueryAdapter) selectEventItems(ctx context.Context, where, orderBy string, f domain.ItemFilter, args []interface{}) ([]*domain.Item, error) {
	query := `SELECT ` + eventItemColumns + `
	FROM items i
	JOIN events e ON e.source_message_id = i.message_id
	LEFT JOIN dismissed_items d ON d.item_id = i.id
	WHERE d.id IS NULL AND e.status <> 'failed' AND ` + where

	if f.PackID != "" {
		args = append(args, f.PackID)
		query += fmt.Sprintf(" AND i.pack_id = $%d", len(args))
	}
	if f.Person != "" {
		cond, personArgs := itemPersonFilter(f.Person, len(args))
		query += " AND " + cond
		args = append(args, personArgs...)
	}
	query += " ORDER BY " + orderBy

	var rows []itemRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query event items: %w", err)
	}
	return rowsToItems(rows)
}

// ListUpcomingEventItems returns items whose extracted event starts today or
// later, start ascending.
func (a *QueryAdapter) ListUpcomingEventItems(ctx context.Context, f domain.ItemFilter, today time.Time) ([]*domain.Item, error) {
	return a.selectEventItems(ctx,
		`(e.event_intent->>'start_date_time')::timestamptz >= $1`,
		`(e.event_intent->>'start_date_time')::timestamptz ASC`,
		f, []interface{}{today})
}

// ListPastEventItems returns items whose extracted event started in [from,
// to), start descending.
func (a *QueryAdapter) ListPastEventItems(ctx context.Context, f domain.ItemFilter, from, to time.Time) ([]*domain.Item, error) {
	return a.selectEventItems(ctx,
		`(e.event_intent->>'start_date_time')::timestamptz >= $1 AND (e.event_intent->>'start_date_time')::timestamptz < $2`,
		`(e.event_intent->>'start_date_time')::timestamptz DESC`,
		f, []interface{}{from, to})
}

// ListItemsCreatedBetween returns all items created in [from, to).
func (a *QueryAdapter) ListItemsCreatedBetween(ctx context.Context, from, to time.Time) ([]*domain.Item, error) {
	var rows []itemRow
	query := `SELECT * FROM items WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at DESC`
	if err := a.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return rowsToItems(rows)
}

// ListPendingItemsBetween returns unapproved items created in [from, to).
func (a *QueryAdapter) ListPendingItemsBetween(ctx context.Context, from, to time.Time) ([]*domain.Item, error) {
	var rows []itemRow
	query := `SELECT * FROM items WHERE approved = FALSE AND created_at >= $1 AND created_at < $2 ORDER BY created_at DESC`
	if err := a.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	return rowsToItems(rows)
}

// ListApprovedItemsBetween returns items approved in [from, to).
func (a *QueryAdapter) ListApprovedItemsBetween(ctx context.Context, from, to time.Time) ([]*domain.Item, error) {
	var rows []itemRow
	query := `SELECT * FROM items WHERE approved = TRUE AND approved_at >= $1 AND approved_at < $2 ORDER BY approved_at DESC`
	if err := a.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to list approved items: %w", err)
	}
	return rowsToItems(rows)
}

// ListEventsByStatusBetween returns events in a status updated in [from, to).
func (a *QueryAdapter) ListEventsByStatusBetween(ctx context.Context, status domain.EventStatus, from, to time.Time) ([]*domain.Event, error) {
	var rows []eventRow
	query := `SELECT * FROM events WHERE status = $1 AND updated_at >= $2 AND updated_at < $3 ORDER BY updated_at DESC`
	if err := a.db.SelectContext(ctx, &rows, query, string(status), from, to); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]*domain.Event, len(rows))
	for i := range rows {
		e, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		events[i] = e
	}
	return events, nil
}
