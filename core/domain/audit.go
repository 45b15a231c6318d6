package domain

import (
	"context"
	"time"
)

// AuditLevel is the severity of an audit entry.
type AuditLevel string

const (
	AuditInfo    AuditLevel = "info"
	AuditWarning AuditLevel = "warning"
	AuditError   AuditLevel = "error"
)

// AuditLog is one append-only evidence row. Every state transition writes one
// of these in the same transaction as the state change.
type AuditLog struct {
	ID               string                 `json:"id"`
	Timestamp        time.Time              `json:"timestamp"`
	Level            AuditLevel             `json:"level"`
	Module           string                 `json:"module"`
	Action           string                 `json:"action"`
	Details          map[string]interface{} `json:"details,omitempty"`
	MessageID        *string                `json:"message_id,omitempty"`
	EventFingerprint *string                `json:"event_fingerprint,omitempty"`
	UserID           *string                `json:"user_id,omitempty"`
}

// AuditRepository persists audit rows.
type AuditRepository interface {
	Insert(ctx context.Context, a *AuditLog) error
	ListSince(ctx context.Context, since time.Time, minLevel AuditLevel) ([]*AuditLog, error)
	TrimBefore(ctx context.Context, cutoff time.Time) (int, error)
}
