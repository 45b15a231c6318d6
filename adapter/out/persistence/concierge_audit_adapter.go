package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Audit Log Adapter
// =============================================================================

// AuditAdapter implements domain.AuditRepository. The table is append-only;
// the only delete path is the scheduled trim.
type AuditAdapter struct {
	db *sqlx.DB
}

// NewAuditAdapter creates a new AuditAdapter.
func NewAuditAdapter(db *sqlx.DB) *AuditAdapter {
	return &AuditAdapter{db: db}
}

// auditRow represents the database row.
type auditRow struct {
	ID               string         `db:"id"`
	Timestamp        time.Time      `db:"timestamp"`
	Level            string         `db:"level"`
	Module           string         `db:"module"`
	Action           string         `db:"action"`
	Details          []byte         `db:"details"`
	MessageID        sql.NullString `db:"message_id"`
	EventFingerprint sql.NullString `db:"event_fingerprint"`
	UserID           sql.NullString `db:"user_id"`
}

func (r *auditRow) toEntity() (*domain.AuditLog, error) {
	a := &domain.AuditLog{
		ID:        r.ID,
		Timestamp: r.Timestamp,
		Level:     domain.AuditLevel(r.Level),
		Module:    r.Module,
		Action:    r.Action,
	}
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &a.Details); err != nil {
			return nil, fmt.Errorf("failed to decode audit details: %w", err)
		}
	}
	if r.MessageID.Valid {
		a.MessageID = &r.MessageID.String
	}
	if r.EventFingerprint.Valid {
		a.EventFingerprint = &r.EventFingerprint.String
	}
	if r.UserID.Valid {
		a.UserID = &r.UserID.String
	}
	return a, nil
}

const insertAuditSQL = `
	INSERT INTO audit_log (id, timestamp, level, module, action, details, message_id, event_fingerprint, user_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// insertAuditTx writes an audit row inside the caller's transaction. State
// transitions always pair their audit row with the state write.
func insertAuditTx(ctx context.Context, tx *sqlx.Tx, a *domain.AuditLog) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertAuditSQL,
		a.ID, a.Timestamp, string(a.Level), a.Module, a.Action, details,
		nullString(a.MessageID), nullString(a.EventFingerprint), nullString(a.UserID),
	); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Insert writes a standalone audit row.
func (a *AuditAdapter) Insert(ctx context.Context, entry *domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	if _, err := a.db.ExecContext(ctx, insertAuditSQL,
		entry.ID, entry.Timestamp, string(entry.Level), entry.Module, entry.Action,
		details, nullString(entry.MessageID), nullString(entry.EventFingerprint),
		nullString(entry.UserID),
	); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// ListSince retrieves rows at or above minLevel since the cutoff, oldest
// first.
func (a *AuditAdapter) ListSince(ctx context.Context, since time.Time, minLevel domain.AuditLevel) ([]*domain.AuditLog, error) {
	levels := []string{string(domain.AuditError)}
	switch minLevel {
	case domain.AuditInfo:
		levels = []string{string(domain.AuditInfo), string(domain.AuditWarning), string(domain.AuditError)}
	case domain.AuditWarning:
		levels = []string{string(domain.AuditWarning), string(domain.AuditError)}
	}

	query, args, err := sqlx.In(
		`SELECT * FROM audit_log WHERE timestamp >= ? AND level IN (?) ORDER BY timestamp`,
		since, levels)
	if err != nil {
		return nil, fmt.Errorf("failed to build audit query: %w", err)
	}
	query = a.db.Rebind(query)

	var rows []auditRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	entries := make([]*domain.AuditLog, len(rows))
	for i := range rows {
		entry, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		entries[i] = entry
	}
	return entries, nil
}

// TrimBefore deletes rows older than the cutoff and returns the count.
func (a *AuditAdapter) TrimBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := a.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to trim audit log: %w", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}
