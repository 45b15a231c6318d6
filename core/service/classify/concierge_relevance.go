package classify

import (
	"strings"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
)

// RelevanceThreshold is the candidate cutoff: anything below is out of scope
// for the pack.
const RelevanceThreshold = 0.3

// bodyScanLimit bounds how much body text keyword matching reads.
const bodyScanLimit = 2048

// RelevanceScorer scores a message against one pack's sources.
type RelevanceScorer struct{}

// NewRelevanceScorer creates a relevance scorer.
func NewRelevanceScorer() *RelevanceScorer {
	return &RelevanceScorer{}
}

// Score returns a heuristic relevance in [0,1]. A domain match dominates,
// keyword hits top up, and any exclusion keyword zeroes the message out.
func (s *RelevanceScorer) Score(from, subject, body string, pack *domain.Pack) float64 {
	lowerFrom := strings.ToLower(from)
	text := strings.ToLower(subject)
	lowerBody := strings.ToLower(body)
	if len(lowerBody) > bodyScanLimit {
		lowerBody = lowerBody[:bodyScanLimit]
	}
	text += " " + lowerBody

	for _, excl := range pack.AllExcludeKeywords() {
		if excl != "" && strings.Contains(text, strings.ToLower(excl)) {
			return 0
		}
	}

	score := 0.0
	for _, d := range pack.AllFromDomains() {
		if domainMatches(lowerFrom, d) {
			score += 0.6
			break
		}
	}

	keywordBonus := 0.0
	for _, kw := range pack.AllKeywords() {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			keywordBonus += 0.05
		}
	}
	score += min(keywordBonus, 0.3)

	if score > 1 {
		return 1
	}
	return score
}

// IsCandidate reports whether the score clears the relevance threshold.
func (s *RelevanceScorer) IsCandidate(score float64) bool {
	return score >= RelevanceThreshold
}
