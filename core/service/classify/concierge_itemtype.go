package classify

import (
	"context"
	"strings"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/core/port/out"
)

// Stage A keyword signals, matched against the lowercased subject.
var obligationKeywords = []string{
	"due", "deadline", "rsvp", "sign up", "signup", "required", "attend",
	"concert", "performance", "parade", "permission", "conference",
	"appointment", "meeting", "recital", "game", "match", "tournament",
}

var announcementKeywords = []string{
	"newsletter", "update", "this week", "learning about", "celebrating",
	"class update", "weekly", "announcement", "recap", "what we did",
}

// Categories whose items default to obligations.
var obligationCategories = map[domain.Category]bool{
	domain.CategoryMedical:    true,
	domain.CategoryFormsAdmin: true,
	domain.CategoryLogistics:  true,
}

// unparseableReason marks a degraded second-stage result.
const unparseableReason = "unparseable"

// ItemTypeClassifier decides obligation vs announcement in two stages: a
// deterministic keyword pass, then an optional LLM pass for ambiguous items.
// The second stage only fills fields still empty; it never rewrites an
// existing classification.
type ItemTypeClassifier struct {
	llm     out.ItemClassifier
	timeout time.Duration
	now     func() time.Time
}

// NewItemTypeClassifier creates a classifier. llm may be nil, which disables
// the second stage entirely.
func NewItemTypeClassifier(llm out.ItemClassifier, timeout time.Duration) *ItemTypeClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ItemTypeClassifier{llm: llm, timeout: timeout, now: time.Now}
}

// Classify fills the classification fields on item. Already-set fields are
// left untouched, so reclassification is safe.
func (c *ItemTypeClassifier) Classify(ctx context.Context, item *domain.Item, packName string, memberNames []string) {
	stageType, stageDate := c.stageA(item.Subject, item.BodyText, item.PrimaryCategory)

	if item.ItemType == "" || item.ItemType == domain.ItemUnknown {
		item.ItemType = stageType
	}
	if item.ObligationDate == nil {
		item.ObligationDate = stageDate
	}

	needsLLM := item.ItemType == domain.ItemUnknown ||
		(item.ItemType == domain.ItemObligation && item.ObligationDate == nil)
	if !needsLLM || c.llm == nil {
		if item.ItemType != domain.ItemUnknown {
			now := c.now().UTC()
			item.ClassifiedAt = &now
		}
		return
	}

	c.stageB(ctx, item, packName, memberNames)
}

// stageA is the deterministic pass: keyword signals plus the category
// default, with a date scan over subject and body.
func (c *ItemTypeClassifier) stageA(subject, body string, category domain.Category) (domain.ItemType, *time.Time) {
	lower := strings.ToLower(subject)

	obligation := matchesAny(lower, obligationKeywords) || obligationCategories[category]
	announcement := matchesAny(lower, announcementKeywords)

	date := ExtractDate(subject+" "+body, c.now().UTC())

	switch {
	case obligation && !announcement:
		return domain.ItemObligation, date
	case announcement && !obligation:
		return domain.ItemAnnouncement, nil
	default:
		return domain.ItemUnknown, date
	}
}

// stageB makes the single bounded LLM call. Every failure mode degrades to
// unknown with zero confidence; it never surfaces as an error.
func (c *ItemTypeClassifier) stageB(ctx context.Context, item *domain.Item, packName string, memberNames []string) {
	llmCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.llm.ClassifyItem(llmCtx, out.ItemClassifyRequest{
		Subject:     item.Subject,
		From:        item.FromEmail,
		Snippet:     item.Snippet,
		PackName:    packName,
		MemberNames: memberNames,
	})

	now := c.now().UTC()
	item.ClassifiedAt = &now

	if err != nil || result == nil {
		c.markUnparseable(item)
		return
	}

	itemType := domain.ItemType(result.ItemType)
	if itemType != domain.ItemObligation && itemType != domain.ItemAnnouncement {
		c.markUnparseable(item)
		return
	}

	if item.ItemType == "" || item.ItemType == domain.ItemUnknown {
		item.ItemType = itemType
	}
	if item.ObligationDate == nil && result.ObligationDate != nil {
		d := result.ObligationDate.UTC().Truncate(24 * time.Hour)
		item.ObligationDate = &d
	}

	confidence := clamp01(result.Confidence)
	if item.ClassificationConfidence == nil {
		item.ClassificationConfidence = &confidence
	}
	if item.ClassificationReasoning == nil && result.Reasoning != "" {
		reasoning := result.Reasoning
		item.ClassificationReasoning = &reasoning
	}
}

func (c *ItemTypeClassifier) markUnparseable(item *domain.Item) {
	if item.ItemType == "" {
		item.ItemType = domain.ItemUnknown
	}
	if item.ClassificationConfidence == nil {
		zero := 0.0
		item.ClassificationConfidence = &zero
	}
	if item.ClassificationReasoning == nil {
		reason := unparseableReason
		item.ClassificationReasoning = &reason
	}
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
