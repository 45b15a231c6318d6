package domain

import "math"

// Category is one of the fixed household categories a message can land in.
type Category string

const (
	CategorySchool       Category = "school"
	CategorySports       Category = "sports_activities"
	CategoryMedical      Category = "medical_health"
	CategoryFriends      Category = "friends_social"
	CategoryLogistics    Category = "logistics"
	CategoryFormsAdmin   Category = "forms_admin"
	CategoryFinancial    Category = "financial_billing"
	CategoryCommunity    Category = "community_optional"
)

// AllCategories lists every category in relevance-priority order. The same
// order drives digest grouping.
var AllCategories = []Category{
	CategorySchool,
	CategoryMedical,
	CategorySports,
	CategoryFormsAdmin,
	CategoryLogistics,
	CategoryFinancial,
	CategoryFriends,
	CategoryCommunity,
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Sensitivity controls how eager a pack is to save items for a category.
type Sensitivity string

const (
	SensitivityConservative Sensitivity = "conservative"
	SensitivityBalanced     Sensitivity = "balanced"
	SensitivityBroad        Sensitivity = "broad"
	SensitivityOff          Sensitivity = "off"
)

// Threshold returns the minimum category score required to save an item.
// SensitivityOff returns +Inf so nothing clears it.
func (s Sensitivity) Threshold() float64 {
	switch s {
	case SensitivityConservative:
		return 0.85
	case SensitivityBalanced:
		return 0.75
	case SensitivityBroad:
		return 0.65
	case SensitivityOff:
		return math.Inf(1)
	default:
		return 0.75
	}
}

// CategoryPreferences maps each category to the pack's sensitivity for it.
// Missing categories default to balanced.
type CategoryPreferences map[Category]Sensitivity

// For returns the sensitivity configured for cat.
func (p CategoryPreferences) For(cat Category) Sensitivity {
	if p == nil {
		return SensitivityBalanced
	}
	if s, ok := p[cat]; ok {
		return s
	}
	return SensitivityBalanced
}

// PackSource is one mail source scoped to a pack.
type PackSource struct {
	FromDomains     []string `yaml:"from_domains"`
	Keywords        []string `yaml:"keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// EventDefaults carries pack-level defaults applied to extracted events.
type EventDefaults struct {
	DurationMinutes int    `yaml:"duration_minutes"`
	Location        string `yaml:"location"`
	NotifyGuests    bool   `yaml:"notify_guests"`
}

// Pack scopes one domain of the household's life (school, activities, ...).
// Packs are configuration, never persisted.
type Pack struct {
	ID              string              `yaml:"id"`
	Priority        int                 `yaml:"priority"`
	Enabled         bool                `yaml:"enabled"`
	Sources         []PackSource        `yaml:"sources"`
	ExtractionHints string              `yaml:"extraction_hints"`
	EventDefaults   EventDefaults       `yaml:"event_defaults"`
	Categories      CategoryPreferences `yaml:"categories"`
}

// AllFromDomains flattens the domain patterns of every source.
func (p *Pack) AllFromDomains() []string {
	var domains []string
	for _, s := range p.Sources {
		domains = append(domains, s.FromDomains...)
	}
	return domains
}

// AllKeywords flattens the keywords of every source.
func (p *Pack) AllKeywords() []string {
	var kws []string
	for _, s := range p.Sources {
		kws = append(kws, s.Keywords...)
	}
	return kws
}

// AllExcludeKeywords flattens the exclusion keywords of every source.
func (p *Pack) AllExcludeKeywords() []string {
	var kws []string
	for _, s := range p.Sources {
		kws = append(kws, s.ExcludeKeywords...)
	}
	return kws
}

// FamilyMember is one configured member of the household.
type FamilyMember struct {
	Name         string   `yaml:"name"`
	Aliases      []string `yaml:"aliases"`
	GroupAliases []string `yaml:"group_aliases"`
	Grade        string   `yaml:"grade"`
	GradeAliases []string `yaml:"grade_aliases"`
}

// SourceAssignment prefills likely people from the sender domain before any
// text scanning happens.
type SourceAssignment struct {
	FromDomain string   `yaml:"from_domain"`
	AssignTo   []string `yaml:"assign_to"`
}

// SharedAssignment is the fallback person value when no member matches.
const SharedAssignment = "Family/Shared"
