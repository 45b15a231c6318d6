// Package digest assembles the periodic household summary from stored state.
package digest

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/logger"
)

const (
	excerptLimit = 300
	glanceCap    = 7

	// Below this the row carries a needs-review marker.
	confidenceFloor = 0.95
)

// Group names shown as section headers, ordered by relevance priority.
const (
	GroupSchool    = "🏫 School Updates"
	GroupMedical   = "🏥 Medical"
	GroupEvents    = "🎭 Events & Performances"
	GroupSports    = "⚽ Sports & Activities"
	GroupLogistics = "📦 Logistics"
	GroupForms     = "📋 Administrative / Forms"
	GroupCommunity = "🤝 Community"
	GroupOther     = "Other"
)

// GroupOrder is the render order of groups.
var GroupOrder = []string{
	GroupSchool, GroupMedical, GroupEvents, GroupSports,
	GroupLogistics, GroupForms, GroupCommunity, GroupOther,
}

var groupByCategory = map[domain.Category]string{
	domain.CategorySchool:     GroupSchool,
	domain.CategoryMedical:    GroupMedical,
	domain.CategoryFriends:    GroupEvents,
	domain.CategorySports:     GroupSports,
	domain.CategoryLogistics:  GroupLogistics,
	domain.CategoryFormsAdmin: GroupForms,
	domain.CategoryCommunity:  GroupCommunity,
}

// Row is one rendered item line.
type Row struct {
	Title       string `json:"title"`
	Fact        string `json:"fact,omitempty"`
	SenderName  string `json:"sender_name"`
	SenderEmail string `json:"sender_email"`
	Group       string `json:"group"`
	// NeedsReview is set when the classification confidence sits below the
	// floor. The numeric score never appears in prose.
	NeedsReview bool   `json:"needs_review"`
	Excerpt     string `json:"excerpt"`
	DeepLink    string `json:"deep_link,omitempty"`
}

// Digest is one assembled summary window.
type Digest struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	DryRun bool      `json:"dry_run"`
	Quiet  bool      `json:"quiet"`

	Glance          []string                  `json:"glance,omitempty"`
	Created         []Row                     `json:"created,omitempty"`
	Pending         []Row                     `json:"pending,omitempty"`
	ApprovedPending []Row                     `json:"approved_pending,omitempty"`
	Forwarded       []*domain.ForwardedMessage `json:"forwarded,omitempty"`
	Deferred        []Row                     `json:"deferred,omitempty"`
	Dismissed       []*domain.DismissedItem   `json:"dismissed,omitempty"`
	Errors          []*domain.AuditLog        `json:"errors,omitempty"`
}

// Builder assembles digests from the read repositories.
type Builder struct {
	items      domain.DigestRepository
	forwards   domain.ForwardRepository
	dismissals domain.DismissalRepository
	audit      domain.AuditRepository
	log        *logger.Logger
}

// NewBuilder creates a digest builder.
func NewBuilder(
	items domain.DigestRepository,
	forwards domain.ForwardRepository,
	dismissals domain.DismissalRepository,
	audit domain.AuditRepository,
) *Builder {
	return &Builder{
		items:      items,
		forwards:   forwards,
		dismissals: dismissals,
		audit:      audit,
		log:        logger.WithComponent("digest"),
	}
}

// Build assembles the digest for [from, to). dryRun only labels the output;
// reads are identical in every mode.
func (b *Builder) Build(ctx context.Context, from, to time.Time, dryRun bool) (*Digest, error) {
	d := &Digest{From: from, To: to, DryRun: dryRun}

	created, err := b.items.ListItemsCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load created items: %w", err)
	}
	pending, err := b.items.ListPendingItemsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending items: %w", err)
	}
	approved, err := b.items.ListApprovedItemsBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load approved items: %w", err)
	}
	// Items still pending from before the window were deferred to a later
	// review.
	deferred, err := b.items.ListPendingItemsBetween(ctx, from.AddDate(0, 0, -14), from)
	if err != nil {
		return nil, fmt.Errorf("failed to load deferred items: %w", err)
	}

	d.Created = b.toRows(created)
	d.Pending = b.toRows(pending)
	d.ApprovedPending = b.toRows(approved)
	d.Deferred = b.toRows(deferred)

	if b.forwards != nil {
		d.Forwarded, err = b.forwards.List(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to load forwards: %w", err)
		}
	}
	if b.dismissals != nil {
		d.Dismissed, err = b.dismissals.List(ctx, from, to, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load dismissals: %w", err)
		}
	}
	if b.audit != nil {
		d.Errors, err = b.audit.ListSince(ctx, from, domain.AuditWarning)
		if err != nil {
			return nil, fmt.Errorf("failed to load audit errors: %w", err)
		}
	}

	d.Glance = buildGlance(append(append([]*domain.Item{}, created...), pending...))
	d.Quiet = len(d.Created) == 0 && len(d.Pending) == 0 && len(d.ApprovedPending) == 0 &&
		len(d.Forwarded) == 0

	return d, nil
}

func (b *Builder) toRows(items []*domain.Item) []Row {
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		rows = append(rows, buildRow(item))
	}
	return rows
}

func buildRow(item *domain.Item) Row {
	row := Row{
		Title:       item.Subject,
		Fact:        extractFact(item),
		SenderName:  item.FromName,
		SenderEmail: item.FromEmail,
		Group:       GroupFor(item.PrimaryCategory),
	}

	if item.ClassificationConfidence != nil && *item.ClassificationConfidence < confidenceFloor {
		row.NeedsReview = true
	}

	excerpt := item.Snippet
	if item.MessageID != "" {
		row.DeepLink = DeepLink(item.MessageID)
		excerpt = truncateRunes(excerpt, excerptLimit)
	}
	row.Excerpt = html.EscapeString(excerpt)

	return row
}

// truncateRunes caps s at limit bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// GroupFor maps a category to its display group.
func GroupFor(cat domain.Category) string {
	if g, ok := groupByCategory[cat]; ok {
		return g
	}
	return GroupOther
}

// DeepLink builds the mail client search link for a message id.
func DeepLink(messageID string) string {
	return fmt.Sprintf("mail://search/rfc822msgid:%%3C%s%%3E", messageID)
}

// =============================================================================
// Fact Recognizers
// =============================================================================

type recognizer struct {
	pattern *regexp.Regexp
	render  func(m []string, item *domain.Item) string
}

var recognizers = []recognizer{
	{
		pattern: regexp.MustCompile(`(?i)\b(photos?|pictures?)\b.*\b(available|posted|ready|uploaded)\b`),
		render: func(m []string, item *domain.Item) string {
			return "Photos are available from " + senderName(item)
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\bnewsletter\b`),
		render: func(m []string, item *domain.Item) string {
			return "Newsletter from " + senderName(item)
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\bpermission slip\b`),
		render: func(m []string, item *domain.Item) string {
			if item.ObligationDate != nil {
				return "Permission slip due " + item.ObligationDate.Format("Jan 2")
			}
			return "Permission slip needs signing"
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(form|registration|paperwork)\b.*\b(due|deadline|required)\b`),
		render: func(m []string, item *domain.Item) string {
			if item.ObligationDate != nil {
				return "Form due " + item.ObligationDate.Format("Jan 2")
			}
			return "Form needs attention"
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\bpicture day\b`),
		render: func(m []string, item *domain.Item) string {
			if item.ObligationDate != nil {
				return "Picture day on " + item.ObligationDate.Format("Jan 2")
			}
			return "Picture day coming up"
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(no school|early (dismissal|release)|school closed)\b`),
		render: func(m []string, item *domain.Item) string {
			if item.ObligationDate != nil {
				return "Schedule change on " + item.ObligationDate.Format("Jan 2")
			}
			return "School schedule change"
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(game|match|practice|tournament|recital|concert|performance)\b`),
		render: func(m []string, item *domain.Item) string {
			if item.ObligationDate != nil {
				return "Event on " + item.ObligationDate.Format("Jan 2") + " from " + senderName(item)
			}
			return "Upcoming event from " + senderName(item)
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\b(payment|invoice|bill|balance)\b.*\b(due|owed|outstanding)\b`),
		render: func(m []string, item *domain.Item) string {
			if item.ObligationDate != nil {
				return "Payment due " + item.ObligationDate.Format("Jan 2")
			}
			return "Payment is due"
		},
	},
	{
		pattern: regexp.MustCompile(`(?i)\brsvp\b`),
		render: func(m []string, item *domain.Item) string {
			if item.ObligationDate != nil {
				return "RSVP needed by " + item.ObligationDate.Format("Jan 2")
			}
			return "RSVP needed"
		},
	},
}

// extractFact runs the recognizer chain over subject + snippet and returns
// the first match, or empty when nothing fires.
func extractFact(item *domain.Item) string {
	text := item.Subject + " " + item.Snippet
	for _, r := range recognizers {
		if m := r.pattern.FindStringSubmatch(text); m != nil {
			return r.render(m, item)
		}
	}
	return ""
}

// buildGlance collects deduplicated facts for the lead block, capped at
// glanceCap. Dedup is per category on the lowercased fact.
func buildGlance(items []*domain.Item) []string {
	type key struct {
		cat  domain.Category
		fact string
	}
	seen := make(map[key]bool)
	var facts []string

	for _, item := range items {
		fact := extractFact(item)
		if fact == "" {
			continue
		}
		k := key{cat: item.PrimaryCategory, fact: strings.ToLower(fact)}
		if seen[k] {
			continue
		}
		seen[k] = true
		facts = append(facts, fact)
		if len(facts) == glanceCap {
			break
		}
	}
	return facts
}

func senderName(item *domain.Item) string {
	if item.FromName != "" {
		return item.FromName
	}
	return item.FromEmail
}
