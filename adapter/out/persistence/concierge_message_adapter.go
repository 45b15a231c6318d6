// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// Processed Message Adapter
// =============================================================================

// ProcessedMessageAdapter implements domain.ProcessedMessageRepository.
type ProcessedMessageAdapter struct {
	db *sqlx.DB
}

// NewProcessedMessageAdapter creates a new ProcessedMessageAdapter.
func NewProcessedMessageAdapter(db *sqlx.DB) *ProcessedMessageAdapter {
	return &ProcessedMessageAdapter{db: db}
}

// processedMessageRow represents the database row.
type processedMessageRow struct {
	MessageID       string         `db:"message_id"`
	ProcessedAt     time.Time      `db:"processed_at"`
	PackID          string         `db:"pack_id"`
	Status          string         `db:"extraction_status"`
	EventsExtracted int            `db:"events_extracted"`
	Fingerprints    pq.StringArray `db:"fingerprints"`
	Error           sql.NullString `db:"error"`
}

func (r *processedMessageRow) toEntity() *domain.ProcessedMessage {
	pm := &domain.ProcessedMessage{
		MessageID:       r.MessageID,
		ProcessedAt:     r.ProcessedAt,
		PackID:          r.PackID,
		Status:          domain.ExtractionStatus(r.Status),
		EventsExtracted: r.EventsExtracted,
		Fingerprints:    []string(r.Fingerprints),
	}
	if r.Error.Valid {
		pm.Error = &r.Error.String
	}
	return pm
}

const insertProcessedMessageSQL = `
	INSERT INTO processed_messages (message_id, processed_at, pack_id, extraction_status, events_extracted, fingerprints, error)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (message_id) DO NOTHING`

// Insert writes a terminal decision. A repeat on the same message id is a
// no-op; rerunning discovery over the same window is safe.
func (a *ProcessedMessageAdapter) Insert(ctx context.Context, pm *domain.ProcessedMessage) error {
	if pm.MessageID == "" {
		return fmt.Errorf("%w: processed message requires message_id", ErrInvalidInput)
	}

	_, err := a.db.ExecContext(ctx, insertProcessedMessageSQL,
		pm.MessageID, pm.ProcessedAt, pm.PackID, string(pm.Status),
		pm.EventsExtracted, pq.Array(pm.Fingerprints), nullString(pm.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to insert processed message: %w", err)
	}
	return nil
}

// Get retrieves a processed message by external id. Returns nil when the
// message has not been seen.
func (a *ProcessedMessageAdapter) Get(ctx context.Context, messageID string) (*domain.ProcessedMessage, error) {
	var row processedMessageRow
	query := `SELECT * FROM processed_messages WHERE message_id = $1`

	if err := a.db.GetContext(ctx, &row, query, messageID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get processed message: %w", err)
	}

	return row.toEntity(), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
