package domain

import (
	"context"
	"time"
)

// ExtractionStatus is the terminal extraction outcome recorded for a message.
type ExtractionStatus string

const (
	ExtractionSuccess ExtractionStatus = "success"
	ExtractionFailed  ExtractionStatus = "failed"
	ExtractionSkipped ExtractionStatus = "skipped"
)

// TerminalState is the final state a processed message reaches. Every message
// the engine looks at ends in exactly one of these.
type TerminalState string

const (
	StateCreated    TerminalState = "CREATED"
	StateUpdated    TerminalState = "UPDATED"
	StateDeferred   TerminalState = "DEFERRED"
	StateDismissed  TerminalState = "DISMISSED"
	StateSkipped    TerminalState = "SKIPPED"
	StateForwarded  TerminalState = "FORWARDED"
	StateOutOfScope TerminalState = "OUT_OF_SCOPE"
)

// ItemType distinguishes dated action items from informational mail.
type ItemType string

const (
	ItemObligation   ItemType = "obligation"
	ItemAnnouncement ItemType = "announcement"
	ItemUnknown      ItemType = "unknown"
)

// AssignmentReason records how the person assignment was decided.
// Strength order: exact > alias > group > source > shared_default.
type AssignmentReason string

const (
	AssignExact         AssignmentReason = "exact"
	AssignAlias         AssignmentReason = "alias"
	AssignGroup         AssignmentReason = "group"
	AssignSource        AssignmentReason = "source"
	AssignSharedDefault AssignmentReason = "shared_default"
)

// Stronger reports whether r outranks other.
func (r AssignmentReason) Stronger(other AssignmentReason) bool {
	return r.rank() < other.rank()
}

func (r AssignmentReason) rank() int {
	switch r {
	case AssignExact:
		return 0
	case AssignAlias:
		return 1
	case AssignGroup:
		return 2
	case AssignSource:
		return 3
	default:
		return 4
	}
}

// ProcessedMessage records the terminal decision about one inbound message.
// Rows are never deleted; this table is the dedup source of truth.
type ProcessedMessage struct {
	MessageID       string           `json:"message_id"`
	ProcessedAt     time.Time        `json:"processed_at"`
	PackID          string           `json:"pack_id"`
	Status          ExtractionStatus `json:"extraction_status"`
	EventsExtracted int              `json:"events_extracted"`
	Fingerprints    []string         `json:"fingerprints,omitempty"`
	Error           *string          `json:"error,omitempty"`
}

// Item is one surviving message surfaced on the dashboard: either an
// obligation, an announcement, or still unknown.
type Item struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	PackID    string `json:"pack_id"`

	// Headers
	Subject   string `json:"subject"`
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	Snippet   string `json:"snippet"`
	BodyText  string `json:"email_body_text"`
	BodyHTML  string `json:"email_body_html"`

	// Scoring
	RelevanceScore      float64              `json:"relevance_score"`
	PrimaryCategory     Category             `json:"primary_category"`
	SecondaryCategories []Category           `json:"secondary_categories,omitempty"`
	CategoryScores      map[Category]float64 `json:"category_scores,omitempty"`
	SaveReasons         []string             `json:"save_reasons,omitempty"`

	// Assignment
	Person           string           `json:"person"`
	AssignmentReason AssignmentReason `json:"assignment_reason"`

	// Classification
	ItemType                 ItemType   `json:"item_type"`
	ObligationDate           *time.Time `json:"obligation_date,omitempty"` // date-only, UTC midnight
	ClassificationConfidence *float64   `json:"classification_confidence,omitempty"`
	ClassificationReasoning  *string    `json:"classification_reasoning,omitempty"`
	ClassifiedAt             *time.Time `json:"classified_at,omitempty"`

	// Approval
	Approved   bool       `json:"approved"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Persons splits a multi-assignment ("Colin, Henry") into individual names.
func (i *Item) Persons() []string {
	if i.Person == "" {
		return nil
	}
	var names []string
	start := 0
	for idx := 0; idx <= len(i.Person); idx++ {
		if idx == len(i.Person) || i.Person[idx] == ',' {
			name := trimSpaces(i.Person[start:idx])
			if name != "" {
				names = append(names, name)
			}
			start = idx + 1
		}
	}
	return names
}

func trimSpaces(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

// ProcessedMessageRepository persists terminal message decisions.
// Insert is idempotent on message id.
type ProcessedMessageRepository interface {
	Insert(ctx context.Context, pm *ProcessedMessage) error
	Get(ctx context.Context, messageID string) (*ProcessedMessage, error)
}

// ItemRepository persists dashboard items.
type ItemRepository interface {
	Insert(ctx context.Context, item *Item) error
	Update(ctx context.Context, item *Item) error
	GetByID(ctx context.Context, id string) (*Item, error)
	ListPending(ctx context.Context, packID string) ([]*Item, error)

	// CreateWithMessage writes the processed-message row, the item row (nil
	// when the message produced no item), and the audit row in one
	// transaction. Duplicate natural keys are treated as idempotent success.
	CreateWithMessage(ctx context.Context, pm *ProcessedMessage, item *Item, audit *AuditLog) error
}
