// Package assign maps message text to family members deterministically.
package assign

import (
	"strings"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
)

// SnippetCap bounds the text scanned per message. Longer input is truncated
// before tokenizing.
const SnippetCap = 500

// Assignment is the assigner's output: a person value and how it was decided.
type Assignment struct {
	Person string
	Reason domain.AssignmentReason
}

// Assigner maps subject + snippet + sender domain to one or more configured
// members. No regex, no backtracking: one tokenize pass then set lookups, so
// a 500-char snippet with a normal alias list stays under a millisecond.
type Assigner struct {
	members     []domain.FamilyMember
	assignments []domain.SourceAssignment
	enabled     bool

	// Lowercased single-word aliases per member, precomputed at build time.
	wordAliases []map[string]bool
	// Lowercased multi-word aliases (substring match) per member.
	phraseAliases [][]string
	// Lowercased single-word group and grade aliases per member. Short grades
	// like "K" or "3" must match whole tokens, never substrings.
	groupWords []map[string]bool
	// Lowercased multi-word group aliases (substring match) per member.
	groupPhrases [][]string
}

// New builds an assigner from family config. When enabled is false every
// call returns the shared fallback, isolating assigner regressions without
// touching the rest of the pipeline.
func New(members []domain.FamilyMember, assignments []domain.SourceAssignment, enabled bool) *Assigner {
	a := &Assigner{
		members:       members,
		assignments:   assignments,
		enabled:       enabled,
		wordAliases:   make([]map[string]bool, len(members)),
		phraseAliases: make([][]string, len(members)),
		groupWords:    make([]map[string]bool, len(members)),
		groupPhrases:  make([][]string, len(members)),
	}

	for i, m := range members {
		words := map[string]bool{strings.ToLower(m.Name): true}
		var phrases []string
		for _, alias := range m.Aliases {
			lower := strings.ToLower(alias)
			if strings.ContainsRune(lower, ' ') {
				phrases = append(phrases, lower)
			} else {
				words[lower] = true
			}
		}

		groupWords := make(map[string]bool)
		var groupPhrases []string
		addGroup := func(g string) {
			lower := strings.ToLower(g)
			if lower == "" {
				return
			}
			if strings.ContainsRune(lower, ' ') {
				groupPhrases = append(groupPhrases, lower)
			} else {
				groupWords[lower] = true
			}
		}
		for _, g := range m.GroupAliases {
			addGroup(g)
		}
		for _, g := range m.GradeAliases {
			addGroup(g)
		}
		addGroup(m.Grade)

		a.wordAliases[i] = words
		a.phraseAliases[i] = phrases
		a.groupWords[i] = groupWords
		a.groupPhrases[i] = groupPhrases
	}

	return a
}

// Assign resolves the person for a message. Output is always a single
// configured name, a comma-joined list in config order, or the shared
// fallback.
func (a *Assigner) Assign(subject, snippet, senderDomain string) Assignment {
	if !a.enabled {
		return Assignment{Person: domain.SharedAssignment, Reason: domain.AssignSharedDefault}
	}

	text := subject + " " + snippet
	if len(text) > SnippetCap {
		text = text[:SnippetCap]
	}
	normalized := strings.ToLower(text)
	tokens := tokenize(normalized)

	matched := make([]bool, len(a.members))
	reasons := make([]domain.AssignmentReason, len(a.members))

	for i := range a.members {
		if containsAny(tokens, a.wordAliases[i]) {
			matched[i] = true
			reasons[i] = domain.AssignExact
			continue
		}
		if containsSubstring(normalized, a.phraseAliases[i]) {
			matched[i] = true
			reasons[i] = domain.AssignAlias
			continue
		}
		if containsAny(tokens, a.groupWords[i]) || containsSubstring(normalized, a.groupPhrases[i]) {
			matched[i] = true
			reasons[i] = domain.AssignGroup
		}
	}

	// Domain rules prefill likely people before any text signal exists.
	lowerDomain := strings.ToLower(senderDomain)
	for _, rule := range a.assignments {
		if !domainMatches(lowerDomain, strings.ToLower(rule.FromDomain)) {
			continue
		}
		for _, name := range rule.AssignTo {
			for i, m := range a.members {
				if m.Name == name && !matched[i] {
					matched[i] = true
					reasons[i] = domain.AssignSource
				}
			}
		}
	}

	var names []string
	best := domain.AssignSharedDefault
	for i, m := range a.members {
		if !matched[i] {
			continue
		}
		names = append(names, m.Name)
		if reasons[i].Stronger(best) {
			best = reasons[i]
		}
	}

	if len(names) == 0 {
		return Assignment{Person: domain.SharedAssignment, Reason: domain.AssignSharedDefault}
	}
	return Assignment{Person: strings.Join(names, ", "), Reason: best}
}

// tokenize splits on non-alphanumeric runes into a lowercase token set.
func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	start := -1
	for i, r := range s {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens[s[start:i]] = true
			start = -1
		}
	}
	if start >= 0 {
		tokens[s[start:]] = true
	}
	return tokens
}

func containsAny(tokens map[string]bool, words map[string]bool) bool {
	for w := range words {
		if tokens[w] {
			return true
		}
	}
	return false
}

func containsSubstring(text string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// domainMatches supports "*.school.edu" style wildcards as suffix matches.
func domainMatches(domainName, pattern string) bool {
	if pattern == "" || domainName == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(domainName, strings.TrimPrefix(pattern, "*"))
	}
	return domainName == pattern || strings.HasSuffix(domainName, "."+pattern)
}
