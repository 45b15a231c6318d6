package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// =============================================================================
// Event Adapter
// =============================================================================

// EventAdapter implements domain.EventRepository.
type EventAdapter struct {
	db *sqlx.DB
}

// NewEventAdapter creates a new EventAdapter.
func NewEventAdapter(db *sqlx.DB) *EventAdapter {
	return &EventAdapter{db: db}
}

// eventRow represents the database row.
type eventRow struct {
	ID              string         `db:"id"`
	Fingerprint     string         `db:"fingerprint"`
	SourceMessageID string         `db:"source_message_id"`
	PackID          string         `db:"pack_id"`
	CalendarEventID sql.NullString `db:"calendar_event_id"`
	Intent          []byte         `db:"event_intent"`
	Confidence      float64        `db:"confidence"`
	Status          string         `db:"status"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
	LastSyncedAt    sql.NullTime   `db:"last_synced_at"`
	ManuallyEdited  bool           `db:"manually_edited"`
	Provenance      []byte         `db:"provenance"`
}

func (r *eventRow) toEntity() (*domain.Event, error) {
	e := &domain.Event{
		ID:              r.ID,
		Fingerprint:     r.Fingerprint,
		SourceMessageID: r.SourceMessageID,
		PackID:          r.PackID,
		Confidence:      r.Confidence,
		Status:          domain.EventStatus(r.Status),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ManuallyEdited:  r.ManuallyEdited,
	}
	if err := json.Unmarshal(r.Intent, &e.Intent); err != nil {
		return nil, fmt.Errorf("failed to decode event intent: %w", err)
	}
	if len(r.Provenance) > 0 {
		if err := json.Unmarshal(r.Provenance, &e.Provenance); err != nil {
			return nil, fmt.Errorf("failed to decode provenance: %w", err)
		}
	}
	if r.CalendarEventID.Valid {
		e.CalendarEventID = &r.CalendarEventID.String
	}
	if r.LastSyncedAt.Valid {
		e.LastSyncedAt = &r.LastSyncedAt.Time
	}
	return e, nil
}

// Insert writes an event. Fingerprint collisions are rejected as duplicates.
func (a *EventAdapter) Insert(ctx context.Context, e *domain.Event) error {
	if e.Fingerprint == "" {
		return apperr.DataIntegrity("event requires a fingerprint")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	intent, err := json.Marshal(e.Intent)
	if err != nil {
		return fmt.Errorf("failed to encode event intent: %w", err)
	}
	provenance, err := json.Marshal(e.Provenance)
	if err != nil {
		return fmt.Errorf("failed to encode provenance: %w", err)
	}

	query := `
		INSERT INTO events (
			id, fingerprint, source_message_id, pack_id, calendar_event_id,
			event_intent, confidence, status, created_at, updated_at,
			last_synced_at, manually_edited, provenance
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = a.db.ExecContext(ctx, query,
		e.ID, e.Fingerprint, e.SourceMessageID, e.PackID,
		nullString(e.CalendarEventID), intent, e.Confidence, string(e.Status),
		e.CreatedAt, e.UpdatedAt, nullTime(e.LastSyncedAt), e.ManuallyEdited,
		provenance,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: event fingerprint %s", ErrDuplicate, e.Fingerprint)
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Update patches an event by fingerprint.
func (a *EventAdapter) Update(ctx context.Context, fingerprint string, patch domain.EventPatch) error {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{fingerprint}

	if patch.Status != nil {
		args = append(args, string(*patch.Status))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if patch.CalendarEventID != nil {
		args = append(args, *patch.CalendarEventID)
		sets = append(sets, fmt.Sprintf("calendar_event_id = $%d", len(args)))
	}
	if patch.LastSyncedAt != nil {
		args = append(args, *patch.LastSyncedAt)
		sets = append(sets, fmt.Sprintf("last_synced_at = $%d", len(args)))
	}
	if patch.ManuallyEdited != nil {
		args = append(args, *patch.ManuallyEdited)
		sets = append(sets, fmt.Sprintf("manually_edited = $%d", len(args)))
	}

	query := fmt.Sprintf(`UPDATE events SET %s WHERE fingerprint = $1`, strings.Join(sets, ", "))

	result, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: event %s", ErrNotFound, fingerprint)
	}
	return nil
}

// GetByFingerprint retrieves an event, nil when absent.
func (a *EventAdapter) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Event, error) {
	var row eventRow
	query := `SELECT * FROM events WHERE fingerprint = $1`

	if err := a.db.GetContext(ctx, &row, query, fingerprint); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return row.toEntity()
}

// FindDuplicates returns events sharing the fingerprint whose intent date
// falls within ±windowDays of dateKey.
func (a *EventAdapter) FindDuplicates(ctx context.Context, fingerprint string, dateKey time.Time, windowDays int) ([]*domain.Event, error) {
	from := dateKey.AddDate(0, 0, -windowDays)
	to := dateKey.AddDate(0, 0, windowDays+1)

	var rows []eventRow
	query := `
		SELECT * FROM events
		WHERE fingerprint = $1
		  AND (event_intent->>'start_date_time')::timestamptz >= $2
		  AND (event_intent->>'start_date_time')::timestamptz < $3
		ORDER BY created_at`

	if err := a.db.SelectContext(ctx, &rows, query, fingerprint, from, to); err != nil {
		return nil, fmt.Errorf("failed to find duplicate events: %w", err)
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

// =============================================================================
// Calendar Operation Adapter
// =============================================================================

// OperationAdapter implements domain.OperationRepository.
type OperationAdapter struct {
	db *sqlx.DB
}

// NewOperationAdapter creates a new OperationAdapter.
func NewOperationAdapter(db *sqlx.DB) *OperationAdapter {
	return &OperationAdapter{db: db}
}

// operationRow represents the database row.
type operationRow struct {
	ID               string         `db:"id"`
	Type             string         `db:"type"`
	EventFingerprint string         `db:"event_fingerprint"`
	Intent           []byte         `db:"event_intent"`
	Reason           string         `db:"reason"`
	RequiresApproval bool           `db:"requires_approval"`
	Status           string         `db:"status"`
	ExecutedAt       sql.NullTime   `db:"executed_at"`
	CalendarEventID  sql.NullString `db:"calendar_event_id"`
	Error            sql.NullString `db:"error"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r *operationRow) toEntity() (*domain.CalendarOperation, error) {
	op := &domain.CalendarOperation{
		ID:               r.ID,
		Type:             domain.OperationType(r.Type),
		EventFingerprint: r.EventFingerprint,
		Reason:           r.Reason,
		RequiresApproval: r.RequiresApproval,
		Status:           domain.OperationStatus(r.Status),
		CreatedAt:        r.CreatedAt,
	}
	if err := json.Unmarshal(r.Intent, &op.Intent); err != nil {
		return nil, fmt.Errorf("failed to decode operation intent: %w", err)
	}
	if r.ExecutedAt.Valid {
		op.ExecutedAt = &r.ExecutedAt.Time
	}
	if r.CalendarEventID.Valid {
		op.CalendarEventID = &r.CalendarEventID.String
	}
	if r.Error.Valid {
		op.Error = &r.Error.String
	}
	return op, nil
}

// Insert writes a calendar operation.
func (a *OperationAdapter) Insert(ctx context.Context, op *domain.CalendarOperation) error {
	if op.EventFingerprint == "" {
		return apperr.DataIntegrity("calendar operation requires an event fingerprint")
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	intent, err := json.Marshal(op.Intent)
	if err != nil {
		return fmt.Errorf("failed to encode operation intent: %w", err)
	}

	query := `
		INSERT INTO calendar_operations (
			id, type, event_fingerprint, event_intent, reason,
			requires_approval, status, executed_at, calendar_event_id, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	if _, err := a.db.ExecContext(ctx, query,
		op.ID, string(op.Type), op.EventFingerprint, intent, op.Reason,
		op.RequiresApproval, string(op.Status), nullTime(op.ExecutedAt),
		nullString(op.CalendarEventID), nullString(op.Error), op.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert calendar operation: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an operation.
func (a *OperationAdapter) Update(ctx context.Context, op *domain.CalendarOperation) error {
	query := `
		UPDATE calendar_operations
		SET status = $2, executed_at = $3, calendar_event_id = $4, error = $5
		WHERE id = $1`

	result, err := a.db.ExecContext(ctx, query,
		op.ID, string(op.Status), nullTime(op.ExecutedAt),
		nullString(op.CalendarEventID), nullString(op.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to update calendar operation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: calendar operation %s", ErrNotFound, op.ID)
	}
	return nil
}

// ListPending retrieves operations awaiting execution, oldest first.
func (a *OperationAdapter) ListPending(ctx context.Context) ([]*domain.CalendarOperation, error) {
	var rows []operationRow
	query := `SELECT * FROM calendar_operations WHERE status = 'pending' ORDER BY created_at`

	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}

	ops := make([]*domain.CalendarOperation, len(rows))
	for i := range rows {
		op, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return ops, nil
}

// =============================================================================
// Approval Token Adapter
// =============================================================================

// TokenAdapter implements domain.TokenRepository.
type TokenAdapter struct {
	db *sqlx.DB
}

// NewTokenAdapter creates a new TokenAdapter.
func NewTokenAdapter(db *sqlx.DB) *TokenAdapter {
	return &TokenAdapter{db: db}
}

// tokenRow represents the database row.
type tokenRow struct {
	ID          string       `db:"id"`
	OperationID string       `db:"operation_id"`
	CreatedAt   time.Time    `db:"created_at"`
	ExpiresAt   time.Time    `db:"expires_at"`
	Approved    bool         `db:"approved"`
	ApprovedAt  sql.NullTime `db:"approved_at"`
	Used        bool         `db:"used"`
}

func (r *tokenRow) toEntity() *domain.ApprovalToken {
	t := &domain.ApprovalToken{
		ID:          r.ID,
		OperationID: r.OperationID,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
		Approved:    r.Approved,
		Used:        r.Used,
	}
	if r.ApprovedAt.Valid {
		t.ApprovedAt = &r.ApprovedAt.Time
	}
	return t
}

// Insert writes a token; a repeat on the same id is a no-op.
func (a *TokenAdapter) Insert(ctx context.Context, t *domain.ApprovalToken) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.ExpiresAt.IsZero() {
		t.ExpiresAt = t.CreatedAt.Add(2 * time.Hour)
	}

	query := `
		INSERT INTO approval_tokens (id, operation_id, created_at, expires_at, approved, approved_at, used)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	if _, err := a.db.ExecContext(ctx, query,
		t.ID, t.OperationID, t.CreatedAt, t.ExpiresAt, t.Approved,
		nullTime(t.ApprovedAt), t.Used,
	); err != nil {
		return fmt.Errorf("failed to insert approval token: %w", err)
	}
	return nil
}

// Get retrieves a token by id.
func (a *TokenAdapter) Get(ctx context.Context, id string) (*domain.ApprovalToken, error) {
	var row tokenRow
	query := `SELECT * FROM approval_tokens WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: approval token %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get approval token: %w", err)
	}
	return row.toEntity(), nil
}

// Update rewrites the approval state of a token.
func (a *TokenAdapter) Update(ctx context.Context, t *domain.ApprovalToken) error {
	query := `UPDATE approval_tokens SET approved = $2, approved_at = $3, used = $4 WHERE id = $1`

	result, err := a.db.ExecContext(ctx, query,
		t.ID, t.Approved, nullTime(t.ApprovedAt), t.Used,
	)
	if err != nil {
		return fmt.Errorf("failed to update approval token: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: approval token %s", ErrNotFound, t.ID)
	}
	return nil
}

// CleanupExpired deletes tokens that expired before the cutoff and returns
// the count.
func (a *TokenAdapter) CleanupExpired(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := a.db.ExecContext(ctx,
		`DELETE FROM approval_tokens WHERE expires_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup approval tokens: %w", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}
