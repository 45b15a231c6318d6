// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"
)

// =============================================================================
// Mail Source Port
// =============================================================================

// MailSource is the read-mostly adapter over the upstream mail API. The
// discovery engine is its only heavy caller; concurrency limits are enforced
// by the caller, not here.
//
// Query DSL the engine relies on: `from:<domain>`, `after:YYYY/M/D`,
// `(A OR B)`, `-X`.
type MailSource interface {
	ListMessageIDs(ctx context.Context, query string, limit int) ([]string, error)
	GetMessage(ctx context.Context, id string) (*MailMessage, error)
	GetAttachments(ctx context.Context, msg *MailMessage) ([]Attachment, error)
	Forward(ctx context.Context, msgID string, recipients []string, note string) error
	SendEmail(ctx context.Context, raw []byte) error
	ApplyLabel(ctx context.Context, msgID string, label string) error
}

// MailMessage is one fetched message with both body variants.
type MailMessage struct {
	ID        string
	ThreadID  string
	Subject   string
	FromName  string
	FromEmail string
	To        []string
	Snippet   string
	BodyText  string
	BodyHTML  string
	Date      time.Time
	LabelIDs  []string

	attachmentRefs []AttachmentRef
}

// AttachmentRefs returns the attachment pointers parsed from the payload.
func (m *MailMessage) AttachmentRefs() []AttachmentRef {
	return m.attachmentRefs
}

// SetAttachmentRefs is called by the adapter while parsing the payload.
func (m *MailMessage) SetAttachmentRefs(refs []AttachmentRef) {
	m.attachmentRefs = refs
}

// AttachmentRef points at attachment content without fetching it.
type AttachmentRef struct {
	ID       string
	Filename string
	MimeType string
	Size     int64
}

// Attachment is fetched attachment content.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// =============================================================================
// Mail Source Errors
// =============================================================================

// MailErrorCode classifies mail-source failures for the engine's recovery
// policy: transient codes skip the message, permanent codes abort the pack.
type MailErrorCode string

const (
	MailErrTimeout      MailErrorCode = "timeout"
	MailErrRateLimit    MailErrorCode = "rate_limit"
	MailErrUpstream5xx  MailErrorCode = "upstream_5xx"
	MailErrAuthExpired  MailErrorCode = "auth_expired"
	MailErrAccount      MailErrorCode = "unknown_account"
	MailErrNotFound     MailErrorCode = "not_found"
	MailErrInvalidInput MailErrorCode = "invalid_input"
)

// MailError is a typed mail-source failure.
type MailError struct {
	Code    MailErrorCode
	Message string
	Err     error
}

func (e *MailError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *MailError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure should be retried on the next run
// rather than aborting the pack.
func (e *MailError) Transient() bool {
	switch e.Code {
	case MailErrTimeout, MailErrRateLimit, MailErrUpstream5xx:
		return true
	}
	return false
}

// NewMailError creates a typed mail-source error.
func NewMailError(code MailErrorCode, message string, err error) *MailError {
	return &MailError{Code: code, Message: message, Err: err}
}
