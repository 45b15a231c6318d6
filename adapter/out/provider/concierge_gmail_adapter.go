// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/AliedRevenue/family-concierge-sub000/core/port/out"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/logger"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/ratelimit"
)

// =============================================================================
// Gmail Adapter
// =============================================================================

// GmailAdapter implements out.MailSource against the Gmail API. The account is
// fixed at construction via a long-lived refresh token; there is no per-call
// token plumbing because the concierge serves exactly one mailbox.
type GmailAdapter struct {
	config  *oauth2.Config
	token   *oauth2.Token
	cb      *gobreaker.CircuitBreaker
	limiter *ratelimit.MailLimiter
	log     *logger.Logger
}

// GmailConfig holds Gmail configuration. Limiter is optional; without it
// calls go out unpaced and the upstream quota is the only guard.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	RefreshToken string
	Limiter      *ratelimit.MailLimiter
}

// NewGmailAdapter creates a Gmail adapter.
func NewGmailAdapter(cfg *GmailConfig) *GmailAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailSendScope,
			gmail.GmailModifyScope,
			gmail.GmailLabelsScope,
		},
		Endpoint: google.Endpoint,
	}

	log := logger.WithComponent("gmail")

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker %s: %s -> %s", name, from.String(), to.String())
		},
	}

	return &GmailAdapter{
		config:  config,
		token:   &oauth2.Token{RefreshToken: cfg.RefreshToken},
		cb:      gobreaker.NewCircuitBreaker(cbSettings),
		limiter: cfg.Limiter,
		log:     log,
	}
}

// =============================================================================
// Message Reading
// =============================================================================

// ListMessageIDs returns up to limit message ids matching the query, newest
// first as the API returns them.
func (a *GmailAdapter) ListMessageIDs(ctx context.Context, query string, limit int) ([]string, error) {
	svc, err := a.getService(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 50
	}

	var ids []string
	pageToken := ""
	for {
		req := svc.Users.Messages.List("me").Q(query).MaxResults(int64(limit - len(ids)))
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		cbErr := a.executeWithCircuitBreaker(ctx, "ListMessageIDs", func() error {
			var apiErr error
			resp, apiErr = req.Context(ctx).Do()
			return apiErr
		})
		if cbErr != nil {
			return nil, a.wrapError(cbErr, "failed to list messages")
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || len(ids) >= limit {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// GetMessage fetches one message in full format and parses headers, both body
// variants, and attachment refs.
func (a *GmailAdapter) GetMessage(ctx context.Context, id string) (*out.MailMessage, error) {
	svc, err := a.getService(ctx)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	cbErr := a.executeWithCircuitBreaker(ctx, "GetMessage", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to get message")
	}

	return a.convertMessage(msg), nil
}

// GetAttachments fetches the content of every attachment referenced by msg.
func (a *GmailAdapter) GetAttachments(ctx context.Context, msg *out.MailMessage) ([]out.Attachment, error) {
	refs := msg.AttachmentRefs()
	if len(refs) == 0 {
		return nil, nil
	}

	svc, err := a.getService(ctx)
	if err != nil {
		return nil, err
	}

	attachments := make([]out.Attachment, 0, len(refs))
	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}

		var body *gmail.MessagePartBody
		cbErr := a.executeWithCircuitBreaker(ctx, "GetAttachment", func() error {
			var apiErr error
			body, apiErr = svc.Users.Messages.Attachments.Get("me", msg.ID, ref.ID).Context(ctx).Do()
			return apiErr
		})
		if cbErr != nil {
			return nil, a.wrapError(cbErr, "failed to get attachment")
		}

		data, err := base64.URLEncoding.DecodeString(body.Data)
		if err != nil {
			return nil, out.NewMailError(out.MailErrInvalidInput, "failed to decode attachment", err)
		}

		attachments = append(attachments, out.Attachment{
			Filename: ref.Filename,
			MimeType: ref.MimeType,
			Data:     data,
		})
	}

	return attachments, nil
}

// =============================================================================
// Message Sending
// =============================================================================

// Forward re-sends a message to recipients with an optional note prepended.
func (a *GmailAdapter) Forward(ctx context.Context, msgID string, recipients []string, note string) error {
	original, err := a.GetMessage(ctx, msgID)
	if err != nil {
		return err
	}

	body := original.BodyText
	if note != "" {
		body = note + "\n\n---------- Forwarded message ----------\n" + body
	}

	raw := buildRawMessage(recipients, "Fwd: "+original.Subject, body)
	return a.SendEmail(ctx, []byte(raw))
}

// SendEmail sends a fully built RFC 5322 message.
func (a *GmailAdapter) SendEmail(ctx context.Context, raw []byte) error {
	svc, err := a.getService(ctx)
	if err != nil {
		return err
	}

	gmailMsg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}

	cbErr := a.executeWithCircuitBreaker(ctx, "SendEmail", func() error {
		_, apiErr := svc.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return a.wrapError(cbErr, "failed to send message")
	}
	return nil
}

// ApplyLabel adds a label to a message, creating the label when it does not
// exist yet.
func (a *GmailAdapter) ApplyLabel(ctx context.Context, msgID string, label string) error {
	svc, err := a.getService(ctx)
	if err != nil {
		return err
	}

	labelID, err := a.resolveLabelID(ctx, svc, label)
	if err != nil {
		return err
	}

	req := &gmail.ModifyMessageRequest{AddLabelIds: []string{labelID}}
	cbErr := a.executeWithCircuitBreaker(ctx, "ApplyLabel", func() error {
		_, apiErr := svc.Users.Messages.Modify("me", msgID, req).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return a.wrapError(cbErr, "failed to apply label")
	}
	return nil
}

func (a *GmailAdapter) resolveLabelID(ctx context.Context, svc *gmail.Service, name string) (string, error) {
	resp, err := svc.Users.Labels.List("me").Context(ctx).Do()
	if err != nil {
		return "", a.wrapError(err, "failed to list labels")
	}
	for _, l := range resp.Labels {
		if l.Name == name {
			return l.Id, nil
		}
	}

	created, err := svc.Users.Labels.Create("me", &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", a.wrapError(err, "failed to create label")
	}
	return created.Id, nil
}

// =============================================================================
// Internal Helpers
// =============================================================================

func (a *GmailAdapter) getService(ctx context.Context) (*gmail.Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(
		a.config.TokenSource(ctx, a.token),
	))
	if err != nil {
		return nil, out.NewMailError(out.MailErrAuthExpired, "failed to build gmail service", err)
	}
	return svc, nil
}

// executeWithCircuitBreaker paces the call through the rate limiter, then
// wraps it so repeated server-side failures fail fast. Client errors pass
// through without tripping the breaker.
func (a *GmailAdapter) executeWithCircuitBreaker(ctx context.Context, operation string, fn func() error) error {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, "gmail"); err != nil {
			return err
		}
	}

	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				case 400, 401, 403, 404:
					return nil, &nonBreakerError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nbe, ok := err.(*nonBreakerError); ok {
		return nbe.err
	}
	if err != nil {
		a.log.WithError(err).Warn("gmail call failed: op=%s state=%s", operation, a.cb.State().String())
	}
	return err
}

// nonBreakerError wraps errors that must not trip the circuit breaker.
type nonBreakerError struct {
	err error
}

func (e *nonBreakerError) Error() string {
	return e.err.Error()
}

func (a *GmailAdapter) convertMessage(msg *gmail.Message) *out.MailMessage {
	result := &out.MailMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		LabelIDs: msg.LabelIds,
		Snippet:  msg.Snippet,
		Date:     time.Unix(0, msg.InternalDate*int64(time.Millisecond)),
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				result.Subject = h.Value
			case "From":
				name, email := parseEmailAddress(h.Value)
				result.FromName = name
				result.FromEmail = email
			case "To":
				result.To = parseEmailAddresses(h.Value)
			case "Date":
				if t, err := mail.ParseDate(h.Value); err == nil {
					result.Date = t
				}
			}
		}

		var text, html strings.Builder
		extractBody(msg.Payload, &text, &html)
		result.BodyText = text.String()
		result.BodyHTML = html.String()

		result.SetAttachmentRefs(extractAttachmentRefs(msg.Payload))
	}

	return result
}

func extractBody(part *gmail.MessagePart, text, html *strings.Builder) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				text.Write(data)
			case "text/html":
				html.Write(data)
			}
		}
	}

	for _, p := range part.Parts {
		extractBody(p, text, html)
	}
}

func extractAttachmentRefs(part *gmail.MessagePart) []out.AttachmentRef {
	var refs []out.AttachmentRef

	if part.Filename != "" {
		ref := out.AttachmentRef{
			Filename: part.Filename,
			MimeType: part.MimeType,
		}
		if part.Body != nil {
			ref.ID = part.Body.AttachmentId
			ref.Size = part.Body.Size
		}
		refs = append(refs, ref)
	}

	for _, p := range part.Parts {
		refs = append(refs, extractAttachmentRefs(p)...)
	}

	return refs
}

func parseEmailAddress(s string) (name, email string) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", s
	}
	return addr.Name, addr.Address
}

func parseEmailAddresses(s string) []string {
	list, err := mail.ParseAddressList(s)
	if err != nil {
		if s != "" {
			return []string{s}
		}
		return nil
	}
	emails := make([]string, len(list))
	for i, addr := range list {
		emails[i] = addr.Address
	}
	return emails
}

func buildRawMessage(to []string, subject, body string) string {
	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.String()
}

func (a *GmailAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}

	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return out.NewMailError(out.MailErrAuthExpired, "token expired", err)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") {
				return out.NewMailError(out.MailErrRateLimit, "rate limit exceeded", err)
			}
			return out.NewMailError(out.MailErrAuthExpired, "access denied", err)
		case 404:
			return out.NewMailError(out.MailErrNotFound, "not found", err)
		case 429:
			return out.NewMailError(out.MailErrRateLimit, "too many requests", err)
		case 500, 502, 503:
			return out.NewMailError(out.MailErrUpstream5xx, "server error", err)
		}
	}

	if strings.Contains(err.Error(), "context deadline exceeded") {
		return out.NewMailError(out.MailErrTimeout, defaultMsg, err)
	}
	return out.NewMailError(out.MailErrUpstream5xx, defaultMsg, err)
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ out.MailSource = (*GmailAdapter)(nil)
