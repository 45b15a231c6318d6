package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/apperr"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// Dismissed Item Adapter
// =============================================================================

// DismissalAdapter implements domain.DismissalRepository. Rows are immutable:
// there is no update or delete path.
type DismissalAdapter struct {
	db *sqlx.DB
}

// NewDismissalAdapter creates a new DismissalAdapter.
func NewDismissalAdapter(db *sqlx.DB) *DismissalAdapter {
	return &DismissalAdapter{db: db}
}

// dismissalRow represents the database row.
type dismissalRow struct {
	ID              string    `db:"id"`
	ItemID          string    `db:"item_id"`
	ItemType        string    `db:"item_type"`
	Reason          string    `db:"reason"`
	DismissedAt     time.Time `db:"dismissed_at"`
	DismissedBy     string    `db:"dismissed_by"`
	OriginalSubject string    `db:"original_subject"`
	OriginalFrom    string    `db:"original_from"`
	OriginalDate    time.Time `db:"original_date"`
	Person          string    `db:"person"`
	PackID          string    `db:"pack_id"`
}

func (r *dismissalRow) toEntity() *domain.DismissedItem {
	return &domain.DismissedItem{
		ID:              r.ID,
		ItemID:          r.ItemID,
		ItemType:        domain.ItemType(r.ItemType),
		Reason:          r.Reason,
		DismissedAt:     r.DismissedAt,
		DismissedBy:     r.DismissedBy,
		OriginalSubject: r.OriginalSubject,
		OriginalFrom:    r.OriginalFrom,
		OriginalDate:    r.OriginalDate,
		Person:          r.Person,
		PackID:          r.PackID,
	}
}

const insertDismissalSQL = `
	INSERT INTO dismissed_items (
		id, item_id, item_type, reason, dismissed_at, dismissed_by,
		original_subject, original_from, original_date, person, pack_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// prepareDismissal validates the invariants and fills generated fields.
func prepareDismissal(d *domain.DismissedItem) error {
	if strings.TrimSpace(d.Reason) == "" {
		return apperr.DataIntegrity("dismissal requires a non-empty reason")
	}
	if d.ItemID == "" {
		return apperr.DataIntegrity("dismissal requires an item id")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.DismissedAt.IsZero() {
		d.DismissedAt = time.Now().UTC()
	}
	return nil
}

func dismissalArgs(d *domain.DismissedItem) []interface{} {
	return []interface{}{
		d.ID, d.ItemID, string(d.ItemType), d.Reason, d.DismissedAt,
		d.DismissedBy, d.OriginalSubject, d.OriginalFrom, d.OriginalDate,
		d.Person, d.PackID,
	}
}

// Insert writes a dismissal. An empty reason is an invariant breach and is
// rejected before touching the database.
func (a *DismissalAdapter) Insert(ctx context.Context, d *domain.DismissedItem) error {
	if err := prepareDismissal(d); err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx, insertDismissalSQL, dismissalArgs(d)...); err != nil {
		return fmt.Errorf("failed to insert dismissal: %w", err)
	}
	return nil
}

// InsertWithAudit writes the dismissal and its audit row in one transaction.
func (a *DismissalAdapter) InsertWithAudit(ctx context.Context, d *domain.DismissedItem, audit *domain.AuditLog) error {
	if audit == nil {
		return apperr.DataIntegrity("dismissal requires an audit row")
	}
	if err := prepareDismissal(d); err != nil {
		return err
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertDismissalSQL, dismissalArgs(d)...); err != nil {
		return fmt.Errorf("failed to insert dismissal: %w", err)
	}
	if err := insertAuditTx(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit()
}

// IsDismissed reports whether any dismissal row exists for the item.
func (a *DismissalAdapter) IsDismissed(ctx context.Context, itemID string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM dismissed_items WHERE item_id = $1`

	if err := a.db.GetContext(ctx, &count, query, itemID); err != nil {
		return false, fmt.Errorf("failed to check dismissal: %w", err)
	}
	return count > 0, nil
}

// List retrieves dismissals in [from, to), optionally filtered by person
// with the multi-assignment match.
func (a *DismissalAdapter) List(ctx context.Context, from, to time.Time, person string) ([]*domain.DismissedItem, error) {
	query := `SELECT * FROM dismissed_items WHERE dismissed_at >= $1 AND dismissed_at < $2`
	args := []interface{}{from, to}

	if person != "" {
		cond, personArgs := personFilter(person, len(args))
		query += " AND " + cond
		args = append(args, personArgs...)
	}
	query += " ORDER BY dismissed_at DESC"

	var rows []dismissalRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list dismissals: %w", err)
	}

	items := make([]*domain.DismissedItem, len(rows))
	for i := range rows {
		items[i] = rows[i].toEntity()
	}
	return items, nil
}

// personFilter builds the multi-assignment predicate: an exact match, or the
// name at the start, end, or middle of a comma-joined list. argOffset is the
// count of placeholders already used.
func personFilter(name string, argOffset int) (string, []interface{}) {
	n := func(i int) string { return fmt.Sprintf("$%d", argOffset+i) }
	cond := fmt.Sprintf("(person = %s OR person LIKE %s OR person LIKE %s OR person LIKE %s)",
		n(1), n(2), n(3), n(4))
	args := []interface{}{
		name,
		name + ", %",
		"%, " + name,
		"%, " + name + ", %",
	}
	return cond, args
}

// =============================================================================
// Forwarded Message Adapter
// =============================================================================

// ForwardAdapter implements domain.ForwardRepository.
type ForwardAdapter struct {
	db *sqlx.DB
}

// NewForwardAdapter creates a new ForwardAdapter.
func NewForwardAdapter(db *sqlx.DB) *ForwardAdapter {
	return &ForwardAdapter{db: db}
}

// forwardRow represents the database row.
type forwardRow struct {
	ID              string         `db:"id"`
	SourceMessageID string         `db:"source_message_id"`
	ForwardedAt     time.Time      `db:"forwarded_at"`
	ForwardedTo     pq.StringArray `db:"forwarded_to"`
	PackID          string         `db:"pack_id"`
	Reason          string         `db:"reason"`
	Conditions      string         `db:"conditions"`
	Success         bool           `db:"success"`
	Error           sql.NullString `db:"error"`
}

func (r *forwardRow) toEntity() *domain.ForwardedMessage {
	f := &domain.ForwardedMessage{
		ID:              r.ID,
		SourceMessageID: r.SourceMessageID,
		ForwardedAt:     r.ForwardedAt,
		ForwardedTo:     []string(r.ForwardedTo),
		PackID:          r.PackID,
		Reason:          r.Reason,
		Conditions:      r.Conditions,
		Success:         r.Success,
	}
	if r.Error.Valid {
		f.Error = &r.Error.String
	}
	return f
}

// Insert writes a forwarding record.
func (a *ForwardAdapter) Insert(ctx context.Context, f *domain.ForwardedMessage) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.ForwardedAt.IsZero() {
		f.ForwardedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO forwarded_messages (
			id, source_message_id, forwarded_at, forwarded_to, pack_id,
			reason, conditions, success, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if _, err := a.db.ExecContext(ctx, query,
		f.ID, f.SourceMessageID, f.ForwardedAt, pq.Array(f.ForwardedTo),
		f.PackID, f.Reason, f.Conditions, f.Success, nullString(f.Error),
	); err != nil {
		return fmt.Errorf("failed to insert forwarded message: %w", err)
	}
	return nil
}

// List retrieves forwards in [from, to), newest first.
func (a *ForwardAdapter) List(ctx context.Context, from, to time.Time) ([]*domain.ForwardedMessage, error) {
	var rows []forwardRow
	query := `SELECT * FROM forwarded_messages WHERE forwarded_at >= $1 AND forwarded_at < $2 ORDER BY forwarded_at DESC`

	if err := a.db.SelectContext(ctx, &rows, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to list forwarded messages: %w", err)
	}

	forwards := make([]*domain.ForwardedMessage, len(rows))
	for i := range rows {
		forwards[i] = rows[i].toEntity()
	}
	return forwards, nil
}
