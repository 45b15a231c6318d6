// Package discovery implements the per-pack scan loop.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/core/port/out"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/assign"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/classify"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/cache"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/logger"

	"github.com/google/uuid"
)

const auditModule = "discovery"

// Limits bounds one discovery run. When After is set it overrides the
// lookback window; Before additionally caps the window, which backfills use
// to scan a fixed historical range.
type Limits struct {
	LookbackDays    int
	MaxEmailsPerRun int
	Workers         int
	MailTimeout     time.Duration
	After           time.Time
	Before          time.Time
}

func (l *Limits) normalize() {
	if l.MaxEmailsPerRun <= 0 {
		l.MaxEmailsPerRun = 50
	}
	if l.Workers < 2 {
		l.Workers = 2
	}
	if l.Workers > 5 {
		l.Workers = 5
	}
	if l.MailTimeout <= 0 {
		l.MailTimeout = 15 * time.Second
	}
}

// Summary reports one pack run: how many ids the query returned and how
// each examined message terminated.
type Summary struct {
	PackID    string                       `json:"pack_id"`
	Listed    int                          `json:"listed"`
	Counts    map[domain.TerminalState]int `json:"counts"`
	Canceled  bool                         `json:"canceled"`
	StartedAt time.Time                    `json:"started_at"`
	Duration  time.Duration                `json:"duration"`

	mu sync.Mutex
}

func (s *Summary) record(state domain.TerminalState) {
	s.mu.Lock()
	s.Counts[state]++
	s.mu.Unlock()
}

// Quiet reports whether the run produced no new items.
func (s *Summary) Quiet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Counts[domain.StateCreated] == 0 && s.Counts[domain.StateUpdated] == 0
}

// Engine drives one pack scan: list, fetch, score, assign, categorize,
// classify, write. Every message it examines reaches exactly one terminal
// state; transient mail failures leave no processed row so the next run
// retries them.
type Engine struct {
	mail       out.MailSource
	items      domain.ItemRepository
	processed  domain.ProcessedMessageRepository
	assigner   *assign.Assigner
	relevance  *classify.RelevanceScorer
	categories *classify.CategoryClassifier
	itemTypes  *classify.ItemTypeClassifier
	audit      domain.AuditRepository
	dedup      *cache.DedupCache
	log        *logger.Logger
	now        func() time.Time
}

// NewEngine creates a discovery engine. dedup may be nil; the processed
// messages table is always the dedup source of truth.
func NewEngine(
	mail out.MailSource,
	items domain.ItemRepository,
	processed domain.ProcessedMessageRepository,
	audit domain.AuditRepository,
	assigner *assign.Assigner,
	relevance *classify.RelevanceScorer,
	categories *classify.CategoryClassifier,
	itemTypes *classify.ItemTypeClassifier,
	dedup *cache.DedupCache,
) *Engine {
	return &Engine{
		mail:       mail,
		items:      items,
		processed:  processed,
		audit:      audit,
		assigner:   assigner,
		relevance:  relevance,
		categories: categories,
		itemTypes:  itemTypes,
		dedup:      dedup,
		log:        logger.WithComponent("discovery"),
		now:        time.Now,
	}
}

// DiscoverPack runs one pack scan. A canceled context stops dispatching new
// messages and returns a partial summary; in-flight writes commit or abort
// atomically.
func (e *Engine) DiscoverPack(ctx context.Context, pack *domain.Pack, memberNames []string, limits Limits) (*Summary, error) {
	limits.normalize()
	start := e.now().UTC()
	summary := &Summary{
		PackID:    pack.ID,
		Counts:    make(map[domain.TerminalState]int),
		StartedAt: start,
	}
	log := e.log.WithPack(pack.ID)

	domains := pack.AllFromDomains()
	if len(domains) == 0 {
		log.Warn("pack has no sources, skipping")
		e.writeAudit(ctx, &domain.AuditLog{
			Level:  domain.AuditWarning,
			Module: auditModule,
			Action: "pack_skipped_no_sources",
			Details: map[string]interface{}{
				"pack_id": pack.ID,
			},
		})
		summary.Duration = e.now().UTC().Sub(start)
		return summary, nil
	}

	query := buildPackQuery(domains, start, limits)
	log.Info("starting discovery: query=%s max=%d", query, limits.MaxEmailsPerRun)

	ids, err := e.mail.ListMessageIDs(ctx, query, limits.MaxEmailsPerRun)
	if err != nil {
		return summary, fmt.Errorf("failed to list messages for pack %s: %w", pack.ID, err)
	}
	summary.Listed = len(ids)

	if len(ids) == 0 {
		log.Info("quiet run: no messages matched")
		summary.Duration = e.now().UTC().Sub(start)
		e.writeSummaryAudit(ctx, summary)
		return summary, nil
	}

	sem := make(chan struct{}, limits.Workers)
	var wg sync.WaitGroup
	var permanent error
	var permanentOnce sync.Once
	var aborted atomic.Bool

	// Mail queries occasionally repeat an id within one listing; claim each
	// id once so a duplicate never races its twin through the pipeline.
	claimed := make(map[string]struct{}, len(ids))

dispatch:
	for _, id := range ids {
		if aborted.Load() {
			break
		}
		if _, dup := claimed[id]; dup {
			continue
		}
		claimed[id] = struct{}{}

		select {
		case <-ctx.Done():
			summary.Canceled = true
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(messageID string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := e.processMessage(ctx, pack, messageID, memberNames, limits, summary); err != nil {
				var mailErr *out.MailError
				if errors.As(err, &mailErr) && !mailErr.Transient() {
					permanentOnce.Do(func() { permanent = err })
					aborted.Store(true)
					return
				}
				log.WithError(err).WithMessageID(messageID).Error("message processing failed")
			}
		}(id)
	}

	wg.Wait()
	summary.Duration = e.now().UTC().Sub(start)
	e.writeSummaryAudit(ctx, summary)

	if permanent != nil {
		return summary, fmt.Errorf("pack %s aborted: %w", pack.ID, permanent)
	}
	return summary, nil
}

// processMessage walks one message through the full pipeline to a terminal
// state.
func (e *Engine) processMessage(ctx context.Context, pack *domain.Pack, messageID string, memberNames []string, limits Limits, summary *Summary) error {
	log := e.log.WithPack(pack.ID).WithMessageID(messageID)

	// Primary duplicate guard: a processed row means a prior run already
	// made the terminal decision.
	if e.dedup != nil {
		if seen, err := e.dedup.Seen(ctx, pack.ID, messageID); err == nil && seen {
			return nil
		}
	}
	existing, err := e.processed.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	msg, err := e.getMessage(ctx, messageID, limits.MailTimeout, log)
	if err != nil {
		return e.skipTransient(ctx, messageID, pack.ID, "getMessage", err, summary, log)
	}

	if _, err := e.getAttachments(ctx, msg, limits.MailTimeout, log); err != nil {
		return e.skipTransient(ctx, messageID, pack.ID, "getAttachments", err, summary, log)
	}

	score := e.step(log, "score", func() float64 {
		return e.relevance.Score(msg.FromEmail, msg.Subject, msg.BodyText, pack)
	})
	if !e.relevance.IsCandidate(score) {
		return e.terminate(ctx, pack, msg, domain.StateOutOfScope, domain.ExtractionSkipped, nil, map[string]interface{}{
			"relevance_score": score,
		}, summary)
	}

	snippet := msg.Snippet
	if len(snippet) > assign.SnippetCap {
		snippet = snippet[:assign.SnippetCap]
	}

	assignment := stepValue(log, "assignPerson", func() assign.Assignment {
		return e.assigner.Assign(msg.Subject, snippet, senderDomain(msg.FromEmail))
	})

	categories := stepValue(log, "categorize", func() classify.CategoryResult {
		return e.categories.Classify(msg.Subject, msg.BodyText, msg.FromEmail, pack.Categories)
	})
	if !categories.ShouldSave {
		return e.terminate(ctx, pack, msg, domain.StateSkipped, domain.ExtractionSkipped, nil, map[string]interface{}{
			"relevance_score": score,
			"save_reasons":    []string{},
		}, summary)
	}

	item := &domain.Item{
		ID:                  uuid.NewString(),
		MessageID:           msg.ID,
		PackID:              pack.ID,
		Subject:             msg.Subject,
		FromName:            msg.FromName,
		FromEmail:           msg.FromEmail,
		Snippet:             snippet,
		BodyText:            msg.BodyText,
		BodyHTML:            msg.BodyHTML,
		RelevanceScore:      score,
		PrimaryCategory:     categories.PrimaryCategory,
		SecondaryCategories: categories.SecondaryCategories,
		CategoryScores:      categories.Scores,
		SaveReasons:         categories.SaveReasons,
		Person:              assignment.Person,
		AssignmentReason:    assignment.Reason,
		CreatedAt:           e.now().UTC(),
	}

	stepDone := e.beginStep(log, "classifyItem")
	e.itemTypes.Classify(ctx, item, pack.ID, memberNames)
	stepDone()

	return e.terminate(ctx, pack, msg, domain.StateCreated, domain.ExtractionSuccess, item, map[string]interface{}{
		"relevance_score": score,
		"item_type":       string(item.ItemType),
		"person":          item.Person,
	}, summary)
}

func (e *Engine) getMessage(ctx context.Context, id string, timeout time.Duration, log *logger.Logger) (*out.MailMessage, error) {
	done := e.beginStep(log, "getMessage")
	defer done()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := e.mail.GetMessage(callCtx, id)
	if err != nil && callCtx.Err() == context.DeadlineExceeded {
		return nil, out.NewMailError(out.MailErrTimeout, "getMessage timed out", err)
	}
	return msg, err
}

func (e *Engine) getAttachments(ctx context.Context, msg *out.MailMessage, timeout time.Duration, log *logger.Logger) ([]out.Attachment, error) {
	if len(msg.AttachmentRefs()) == 0 {
		return nil, nil
	}

	done := e.beginStep(log, "getAttachments")
	defer done()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	atts, err := e.mail.GetAttachments(callCtx, msg)
	if err != nil && callCtx.Err() == context.DeadlineExceeded {
		return nil, out.NewMailError(out.MailErrTimeout, "getAttachments timed out", err)
	}
	return atts, err
}

// skipTransient handles a failed mail call. Transient failures get an audit
// row but no processed row, so the message stays eligible for the next run.
// Permanent failures propagate and abort the pack.
func (e *Engine) skipTransient(ctx context.Context, messageID, packID, step string, err error, summary *Summary, log *logger.Logger) error {
	var mailErr *out.MailError
	if errors.As(err, &mailErr) && !mailErr.Transient() {
		return err
	}

	reason := "error"
	if errors.As(err, &mailErr) {
		reason = string(mailErr.Code)
	}
	log.WithError(err).Warn("skipping message: %s:%s", reason, step)

	summary.record(domain.StateSkipped)
	e.writeAudit(ctx, &domain.AuditLog{
		Level:     domain.AuditWarning,
		Module:    auditModule,
		Action:    "message_skipped",
		MessageID: &messageID,
		Details: map[string]interface{}{
			"pack_id": packID,
			"reason":  reason + ":" + step,
		},
	})
	return nil
}

// terminate writes the terminal state in one transaction: processed row,
// optional item row, audit row.
func (e *Engine) terminate(ctx context.Context, pack *domain.Pack, msg *out.MailMessage, state domain.TerminalState, status domain.ExtractionStatus, item *domain.Item, details map[string]interface{}, summary *Summary) error {
	pm := &domain.ProcessedMessage{
		MessageID:   msg.ID,
		ProcessedAt: e.now().UTC(),
		PackID:      pack.ID,
		Status:      status,
	}

	if details == nil {
		details = make(map[string]interface{})
	}
	details["pack_id"] = pack.ID
	details["state"] = string(state)

	audit := &domain.AuditLog{
		Level:     domain.AuditInfo,
		Module:    auditModule,
		Action:    "message_processed",
		MessageID: &msg.ID,
		Details:   details,
	}

	done := e.beginStep(e.log.WithMessageID(msg.ID), "insertItem")
	err := e.items.CreateWithMessage(ctx, pm, item, audit)
	done()
	if err != nil {
		return err
	}

	if e.dedup != nil {
		if err := e.dedup.Record(ctx, pack.ID, msg.ID); err != nil {
			e.log.WithError(err).Debug("dedup cache record failed")
		}
	}

	summary.record(state)
	return nil
}

// beginStep logs "before <step>" and returns a func logging "after <step>"
// with elapsed ms. Stall detection greps for an unpaired before line.
func (e *Engine) beginStep(log *logger.Logger, step string) func() {
	log.Debug("before %s", step)
	start := e.now()
	return func() {
		log.WithDuration(e.now().Sub(start)).Debug("after %s", step)
	}
}

func (e *Engine) step(log *logger.Logger, name string, fn func() float64) float64 {
	done := e.beginStep(log, name)
	defer done()
	return fn()
}

func stepValue[T any](log *logger.Logger, name string, fn func() T) T {
	log.Debug("before %s", name)
	start := time.Now()
	v := fn()
	log.WithDuration(time.Since(start)).Debug("after %s", name)
	return v
}

func (e *Engine) writeAudit(ctx context.Context, entry *domain.AuditLog) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Insert(ctx, entry); err != nil {
		e.log.WithError(err).Error("failed to write audit row")
	}
}

func (e *Engine) writeSummaryAudit(ctx context.Context, s *Summary) {
	s.mu.Lock()
	counts := make(map[string]interface{}, len(s.Counts))
	for state, n := range s.Counts {
		counts[string(state)] = n
	}
	canceled := s.Canceled
	s.mu.Unlock()

	e.writeAudit(ctx, &domain.AuditLog{
		Level:  domain.AuditInfo,
		Module: auditModule,
		Action: "run_summary",
		Details: map[string]interface{}{
			"pack_id":  s.PackID,
			"listed":   s.Listed,
			"counts":   counts,
			"canceled": canceled,
			"ms":       s.Duration.Milliseconds(),
		},
	})
}

// CountMatches reports how many messages a pack scan with the given limits
// would examine. Nothing is fetched and nothing is written.
func (e *Engine) CountMatches(ctx context.Context, pack *domain.Pack, limits Limits) (int, error) {
	limits.normalize()
	domains := pack.AllFromDomains()
	if len(domains) == 0 {
		return 0, nil
	}

	query := buildPackQuery(domains, e.now().UTC(), limits)
	ids, err := e.mail.ListMessageIDs(ctx, query, limits.MaxEmailsPerRun)
	if err != nil {
		return 0, fmt.Errorf("failed to list messages for pack %s: %w", pack.ID, err)
	}
	return len(ids), nil
}

func buildPackQuery(domains []string, now time.Time, limits Limits) string {
	after := now.AddDate(0, 0, -limits.LookbackDays)
	if !limits.After.IsZero() {
		after = limits.After
	}
	query := BuildQuery(domains, after)
	if !limits.Before.IsZero() {
		b := limits.Before
		query += fmt.Sprintf(" before:%d/%d/%d", b.Year(), int(b.Month()), b.Day())
	}
	return query
}

// BuildQuery assembles the mail query from pack domains and a lookback date:
// after:YYYY/M/D (from:d1 OR from:d2).
func BuildQuery(domains []string, after time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "after:%d/%d/%d", after.Year(), int(after.Month()), after.Day())

	cleaned := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimPrefix(strings.TrimSpace(d), "*.")
		d = strings.TrimPrefix(d, "*")
		if d != "" {
			cleaned = append(cleaned, "from:"+d)
		}
	}
	if len(cleaned) == 1 {
		b.WriteString(" " + cleaned[0])
	} else if len(cleaned) > 1 {
		b.WriteString(" (" + strings.Join(cleaned, " OR ") + ")")
	}
	return b.String()
}

func senderDomain(email string) string {
	if at := strings.LastIndexByte(email, '@'); at >= 0 {
		return email[at+1:]
	}
	return ""
}
