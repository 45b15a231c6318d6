package domain

import (
	"context"
	"time"
)

// EventStatus tracks where an extracted event sits in its lifecycle.
type EventStatus string

const (
	EventPending        EventStatus = "pending"
	EventApproved       EventStatus = "approved"
	EventCreated        EventStatus = "created"
	EventUpdated        EventStatus = "updated"
	EventFailed         EventStatus = "failed"
	EventManuallyEdited EventStatus = "manually_edited"
)

// ExtractionMethod records how the event intent was obtained.
type ExtractionMethod string

const (
	MethodICS    ExtractionMethod = "ics"
	MethodText   ExtractionMethod = "text"
	MethodManual ExtractionMethod = "manual"
)

// ConfidenceReason is one weighted factor behind an extraction confidence.
type ConfidenceReason struct {
	Factor string  `json:"factor"`
	Weight float64 `json:"weight"`
	Value  string  `json:"value"`
}

// Provenance explains where an event came from and what was assumed.
type Provenance struct {
	Method               ExtractionMethod   `json:"method"`
	ConfidenceReasons    []ConfidenceReason `json:"confidence_reasons,omitempty"`
	Assumptions          []string           `json:"assumptions,omitempty"`
	SourceEmailPermalink string             `json:"source_email_permalink,omitempty"`
	ExtractedAt          time.Time          `json:"extracted_at"`
}

// EventIntent is the calendar-shaped payload extracted from a message.
type EventIntent struct {
	Title         string     `json:"title"`
	StartDateTime time.Time  `json:"start_date_time"`
	EndDateTime   *time.Time `json:"end_date_time,omitempty"`
	AllDay        bool       `json:"all_day"`
	Location      string     `json:"location,omitempty"`
	Description   string     `json:"description,omitempty"`
	NotifyGuests  bool       `json:"notify_guests"`
}

// Event is a deduplicated calendar candidate. Fingerprint is unique across
// the table; a duplicate insert is rejected.
type Event struct {
	ID              string      `json:"id"`
	Fingerprint     string      `json:"fingerprint"`
	SourceMessageID string      `json:"source_message_id"`
	PackID          string      `json:"pack_id"`
	CalendarEventID *string     `json:"calendar_event_id,omitempty"`
	Intent          EventIntent `json:"event_intent"`
	Confidence      float64     `json:"confidence"`
	Status          EventStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	LastSyncedAt    *time.Time  `json:"last_synced_at,omitempty"`
	ManuallyEdited  bool        `json:"manually_edited"`
	Provenance      Provenance  `json:"provenance"`
}

// OperationType is the kind of calendar write an operation requests.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpFlag   OperationType = "flag"
)

// OperationStatus tracks a calendar operation through approval and execution.
type OperationStatus string

const (
	OpPending  OperationStatus = "pending"
	OpApproved OperationStatus = "approved"
	OpExecuted OperationStatus = "executed"
	OpFailed   OperationStatus = "failed"
)

// CalendarOperation is one queued calendar write. The calendar writer consumes
// this queue; the core only produces and tracks rows.
type CalendarOperation struct {
	ID               string          `json:"id"`
	Type             OperationType   `json:"type"`
	EventFingerprint string          `json:"event_fingerprint"`
	Intent           EventIntent     `json:"event_intent"`
	Reason           string          `json:"reason"`
	RequiresApproval bool            `json:"requires_approval"`
	Status           OperationStatus `json:"status"`
	ExecutedAt       *time.Time      `json:"executed_at,omitempty"`
	CalendarEventID  *string         `json:"calendar_event_id,omitempty"`
	Error            *string         `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ApprovalToken is a single-use token gating one calendar operation.
// Default lifetime is two hours.
type ApprovalToken struct {
	ID          string     `json:"id"`
	OperationID string     `json:"operation_id"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Approved    bool       `json:"approved"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	Used        bool       `json:"used"`
}

// EventPatch carries the mutable fields of UpdateEvent.
type EventPatch struct {
	Status          *EventStatus
	CalendarEventID *string
	LastSyncedAt    *time.Time
	ManuallyEdited  *bool
}

// EventRepository persists extracted events keyed by fingerprint.
type EventRepository interface {
	Insert(ctx context.Context, e *Event) error
	Update(ctx context.Context, fingerprint string, patch EventPatch) error
	GetByFingerprint(ctx context.Context, fingerprint string) (*Event, error)
	FindDuplicates(ctx context.Context, fingerprint string, dateKey time.Time, windowDays int) ([]*Event, error)
}

// OperationRepository persists the calendar operation queue.
type OperationRepository interface {
	Insert(ctx context.Context, op *CalendarOperation) error
	Update(ctx context.Context, op *CalendarOperation) error
	ListPending(ctx context.Context) ([]*CalendarOperation, error)
}

// TokenRepository persists approval tokens. Insert is idempotent on id.
type TokenRepository interface {
	Insert(ctx context.Context, t *ApprovalToken) error
	Get(ctx context.Context, id string) (*ApprovalToken, error)
	Update(ctx context.Context, t *ApprovalToken) error
	CleanupExpired(ctx context.Context, olderThan time.Time) (int, error)
}
