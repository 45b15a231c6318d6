package classify

import (
	"strings"
	"testing"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
)

func schoolPack() *domain.Pack {
	return &domain.Pack{
		ID:      "school",
		Enabled: true,
		Sources: []domain.PackSource{
			{
				FromDomains:     []string{"lincolnelementary.org", "*.soccerclub.org"},
				Keywords:        []string{"field trip", "permission slip", "picture day"},
				ExcludeKeywords: []string{"lunch menu"},
			},
		},
	}
}

func TestRelevanceScore(t *testing.T) {
	scorer := NewRelevanceScorer()
	pack := schoolPack()

	tests := []struct {
		name    string
		from    string
		subject string
		body    string
		want    float64
	}{
		{
			name:    "domain match scores 0.6",
			from:    "office@lincolnelementary.org",
			subject: "Reminder",
			want:    0.6,
		},
		{
			name:    "wildcard domain matches subdomain",
			from:    "coach@mail.soccerclub.org",
			subject: "Saturday",
			want:    0.6,
		},
		{
			name:    "subdomain of exact pattern matches",
			from:    "noreply@newsletter.lincolnelementary.org",
			subject: "Hi",
			want:    0.6,
		},
		{
			name:    "keyword adds 0.05 on top of domain",
			from:    "office@lincolnelementary.org",
			subject: "Field trip next week",
			want:    0.65,
		},
		{
			name:    "keywords alone stay below candidate threshold",
			from:    "someone@example.com",
			subject: "field trip and picture day",
			want:    0.1,
		},
		{
			name:    "exclusion keyword zeroes even a domain match",
			from:    "office@lincolnelementary.org",
			subject: "Lunch menu for March",
			want:    0,
		},
		{
			name:    "exclusion keyword found in body",
			from:    "office@lincolnelementary.org",
			subject: "This week",
			body:    "Attached is the lunch menu.",
			want:    0,
		},
		{
			name:    "unrelated sender scores zero",
			from:    "promo@store.com",
			subject: "Big sale",
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.Score(tt.from, tt.subject, tt.body, pack)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRelevanceKeywordBonusCapped(t *testing.T) {
	scorer := NewRelevanceScorer()
	pack := &domain.Pack{
		Sources: []domain.PackSource{
			{Keywords: []string{"aaa", "bbb", "ccc", "ddd", "eee", "fff", "ggg", "hhh"}},
		},
	}

	got := scorer.Score("x@y.com", "aaa bbb ccc ddd eee fff ggg hhh", "", pack)
	if got != 0.3 {
		t.Errorf("keyword bonus should cap at 0.3, got %v", got)
	}
}

func TestRelevanceBodyScanBounded(t *testing.T) {
	scorer := NewRelevanceScorer()
	pack := schoolPack()

	// Exclusion keyword buried past the scan limit must not zero the score.
	body := strings.Repeat("x ", bodyScanLimit) + "lunch menu"
	got := scorer.Score("office@lincolnelementary.org", "Reminder", body, pack)
	if got != 0.6 {
		t.Errorf("exclusion past scan limit should be ignored, got %v", got)
	}
}

func TestIsCandidate(t *testing.T) {
	scorer := NewRelevanceScorer()
	if scorer.IsCandidate(0.29) {
		t.Error("0.29 should not be a candidate")
	}
	if !scorer.IsCandidate(RelevanceThreshold) {
		t.Error("threshold score should be a candidate")
	}
	if !scorer.IsCandidate(0.6) {
		t.Error("0.6 should be a candidate")
	}
}
