// Package classify holds the deterministic scoring passes and the optional
// second-stage item classifier.
package classify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
)

// categorySignals is the rule bundle scored per category.
type categorySignals struct {
	keywords         []string
	domains          []string
	senderPatterns   []string
	negativeKeywords []string
}

// Signal bundles per category. Scores combine keyword density, sender domain,
// and sender pattern hits, minus negative-keyword penalty, clamped to [0,1].
var defaultSignals = map[domain.Category]categorySignals{
	domain.CategorySchool: {
		keywords: []string{
			"classroom", "teacher", "homework", "principal", "kindergarten",
			"newsletter", "weekly", "pta", "field trip", "report card",
		},
		domains:        []string{"*.edu", "*.k12.us", "*.schoology.com"},
		senderPatterns: []string{"teacher", "principal", "office", "school"},
	},
	domain.CategorySports: {
		keywords: []string{
			"practice", "game", "match", "tournament", "coach", "team",
			"soccer", "swim", "jersey", "season", "league", "scrimmage",
			"recital", "rehearsal",
		},
		domains:          []string{"*.teamsnap.com", "*.leagueapps.com", "*.sportsengine.com"},
		senderPatterns:   []string{"coach", "athletics", "league"},
		negativeKeywords: []string{"sale", "discount"},
	},
	domain.CategoryMedical: {
		keywords: []string{
			"medical", "health", "doctor", "vaccine", "appointment",
		},
		// School domains count here too: front offices relay nurse letters,
		// vaccination notices, and medical update forms.
		domains:        []string{"*.mychart.com", "*.zocdoc.com", "*.edu", "*.k12.us"},
		senderPatterns: []string{"nurse", "clinic", "health", "school"},
	},
	domain.CategoryFriends: {
		keywords: []string{
			"birthday", "party", "playdate", "invite", "invitation",
			"sleepover", "rsvp", "celebration",
		},
		domains:          []string{"*.evite.com", "*.punchbowl.com"},
		negativeKeywords: []string{"webinar", "promotion"},
	},
	domain.CategoryLogistics: {
		keywords: []string{
			"pickup", "drop-off", "dropoff", "carpool", "schedule change",
			"early dismissal", "closure", "closed", "delay", "bus",
			"cancelled", "canceled", "reschedule",
		},
		senderPatterns: []string{"transportation", "office"},
	},
	domain.CategoryFormsAdmin: {
		keywords: []string{
			"form", "permission slip", "sign", "signature", "consent",
			"waiver", "registration", "enroll", "enrollment", "due",
			"deadline", "required", "submit",
		},
		senderPatterns: []string{"registrar", "admin", "office"},
	},
	domain.CategoryFinancial: {
		keywords: []string{
			"invoice", "payment", "tuition", "fee", "balance", "billing",
			"receipt", "statement", "due date", "autopay",
		},
		senderPatterns:   []string{"billing", "accounts", "payments"},
		negativeKeywords: []string{"newsletter"},
	},
	domain.CategoryCommunity: {
		keywords: []string{
			"community", "volunteer", "fundraiser", "donation", "library",
			"rec center", "neighborhood", "festival", "fair", "optional",
		},
		negativeKeywords: []string{"urgent", "required"},
	},
}

// CategoryResult is the classifier output for one message.
type CategoryResult struct {
	PrimaryCategory     domain.Category
	SecondaryCategories []domain.Category
	Scores              map[domain.Category]float64
	SaveReasons         []string
	ShouldSave          bool
}

// CategoryClassifier scores a message against the fixed category set and
// gates it through the pack's sensitivity preferences.
type CategoryClassifier struct {
	signals map[domain.Category]categorySignals
}

// NewCategoryClassifier creates a classifier with the default signal bundles.
func NewCategoryClassifier() *CategoryClassifier {
	return &CategoryClassifier{signals: defaultSignals}
}

// Classify scores subject+body against every category and applies the
// sensitivity gate. SaveReasons records each (category, score) pair that
// cleared its threshold; an empty list with ShouldSave false means skip.
func (c *CategoryClassifier) Classify(subject, body, sender string, prefs domain.CategoryPreferences) CategoryResult {
	text := strings.ToLower(subject + " " + body)
	lowerSender := strings.ToLower(sender)

	scores := make(map[domain.Category]float64, len(c.signals))
	for cat, sig := range c.signals {
		scores[cat] = scoreCategory(text, lowerSender, sig)
	}

	ranked := make([]domain.Category, 0, len(scores))
	for cat := range scores {
		ranked = append(ranked, cat)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return categoryRank(ranked[i]) < categoryRank(ranked[j])
	})

	result := CategoryResult{
		PrimaryCategory: ranked[0],
		Scores:          scores,
	}
	for _, cat := range ranked[1:3] {
		if scores[cat] > 0.5 {
			result.SecondaryCategories = append(result.SecondaryCategories, cat)
		}
	}

	// Sensitivity gate: primary or any secondary must clear its threshold
	// and be enabled for the pack.
	for _, cat := range append([]domain.Category{result.PrimaryCategory}, result.SecondaryCategories...) {
		sens := prefs.For(cat)
		if sens == domain.SensitivityOff {
			continue
		}
		if scores[cat] >= sens.Threshold() {
			result.ShouldSave = true
			result.SaveReasons = append(result.SaveReasons, saveReason(cat, scores[cat]))
		}
	}

	return result
}

func scoreCategory(text, sender string, sig categorySignals) float64 {
	score := 0.0

	if len(sig.keywords) > 0 {
		matches := 0
		for _, kw := range sig.keywords {
			if strings.Contains(text, kw) {
				matches++
			}
		}
		score += min(float64(matches)/float64(len(sig.keywords)), 0.4)
	}

	for _, d := range sig.domains {
		if domainMatches(sender, d) {
			score += 0.3
			break
		}
	}

	if len(sig.senderPatterns) > 0 {
		matches := 0
		for _, p := range sig.senderPatterns {
			if strings.Contains(sender, p) {
				matches++
			}
		}
		score += min(float64(matches)/float64(len(sig.senderPatterns)), 0.2)
	}

	negatives := 0
	for _, neg := range sig.negativeKeywords {
		if strings.Contains(text, neg) {
			negatives++
		}
	}
	score -= min(0.1*float64(negatives), 0.3)

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// categoryRank breaks score ties using the same relevance priority the
// digest grouping uses.
func categoryRank(cat domain.Category) int {
	for i, known := range domain.AllCategories {
		if cat == known {
			return i
		}
	}
	return len(domain.AllCategories)
}

func saveReason(cat domain.Category, score float64) string {
	return fmt.Sprintf("%s:%.2f", cat, score)
}

// domainMatches supports "*.school.edu" style wildcards as suffix matches.
func domainMatches(sender, pattern string) bool {
	pattern = strings.ToLower(pattern)
	if pattern == "" || sender == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	domainPart := sender
	if at := strings.LastIndexByte(sender, '@'); at >= 0 {
		domainPart = sender[at+1:]
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(domainPart, strings.TrimPrefix(pattern, "*"))
	}
	return domainPart == pattern || strings.HasSuffix(domainPart, "."+pattern)
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
