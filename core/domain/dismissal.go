package domain

import (
	"context"
	"time"
)

// DismissedItem records a parent's explicit rejection of an item. Rows are
// immutable; dismissing the same item again writes a new row.
type DismissedItem struct {
	ID              string    `json:"id"`
	ItemID          string    `json:"item_id"`
	ItemType        ItemType  `json:"item_type"`
	Reason          string    `json:"reason"`
	DismissedAt     time.Time `json:"dismissed_at"`
	DismissedBy     string    `json:"dismissed_by"`
	OriginalSubject string    `json:"original_subject"`
	OriginalFrom    string    `json:"original_from"`
	OriginalDate    time.Time `json:"original_date"`
	Person          string    `json:"person"`
	PackID          string    `json:"pack_id"`
}

// ForwardedMessage records one forwarding action and its outcome.
type ForwardedMessage struct {
	ID              string    `json:"id"`
	SourceMessageID string    `json:"source_message_id"`
	ForwardedAt     time.Time `json:"forwarded_at"`
	ForwardedTo     []string  `json:"forwarded_to"`
	PackID          string    `json:"pack_id"`
	Reason          string    `json:"reason"`
	Conditions      string    `json:"conditions,omitempty"`
	Success         bool      `json:"success"`
	Error           *string   `json:"error,omitempty"`
}

// DismissalRepository persists dismissals. Insert rejects an empty reason.
// InsertWithAudit writes the dismissal and its audit row in one transaction;
// the dismissal state transition always carries its audit row.
type DismissalRepository interface {
	Insert(ctx context.Context, d *DismissedItem) error
	InsertWithAudit(ctx context.Context, d *DismissedItem, audit *AuditLog) error
	IsDismissed(ctx context.Context, itemID string) (bool, error)
	List(ctx context.Context, from, to time.Time, person string) ([]*DismissedItem, error)
}

// ForwardRepository persists forwarding records.
type ForwardRepository interface {
	Insert(ctx context.Context, f *ForwardedMessage) error
	List(ctx context.Context, from, to time.Time) ([]*ForwardedMessage, error)
}
