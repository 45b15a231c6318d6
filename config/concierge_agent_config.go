package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
)

// ConfidenceConfig holds the thresholds that gate autopilot promotion.
type ConfidenceConfig struct {
	AutoCreate float64 `yaml:"auto_create"`
	Suggest    float64 `yaml:"suggest"`
}

// ProcessingConfig bounds a single discovery run.
type ProcessingConfig struct {
	LookbackDays    int `yaml:"lookback_days"`
	MaxEmailsPerRun int `yaml:"max_emails_per_run"`
}

// DigestConfig holds digest recipients and windows.
type DigestConfig struct {
	Recipients []string `yaml:"recipients"`
	WeeklyDays int      `yaml:"weekly_days"`
	DailyDays  int      `yaml:"daily_days"`
}

// CalendarConfig names the target calendar; the writer is external.
type CalendarConfig struct {
	CalendarID   string `yaml:"calendar_id"`
	NotifyGuests bool   `yaml:"notify_guests"`
}

// FamilyConfig holds the household members and domain-based assignments.
type FamilyConfig struct {
	Members     []domain.FamilyMember     `yaml:"members"`
	Assignments []domain.SourceAssignment `yaml:"assignments"`
}

// AgentConfig is the YAML configuration file. It is loaded once per run and
// treated as immutable. Secrets never live here; they come from env.
type AgentConfig struct {
	Version    int              `yaml:"version"`
	Packs      []domain.Pack    `yaml:"packs"`
	Calendar   CalendarConfig   `yaml:"calendar"`
	Family     FamilyConfig     `yaml:"family"`
	Confidence ConfidenceConfig `yaml:"confidence"`
	Processing ProcessingConfig `yaml:"processing"`
	Digests    DigestConfig     `yaml:"digests"`
}

// LoadAgent reads and validates the YAML agent config. Any schema problem is
// returned as an error; the CLI maps it to a configuration exit code.
func LoadAgent(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent config %s: %w", path, err)
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse agent config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Validate checks the schema invariants the pipeline depends on.
func (c *AgentConfig) Validate() error {
	if c.Version == 0 {
		return fmt.Errorf("missing version")
	}
	if len(c.Packs) == 0 {
		return fmt.Errorf("no packs configured")
	}

	seen := make(map[string]bool, len(c.Packs))
	for i := range c.Packs {
		p := &c.Packs[i]
		if p.ID == "" {
			return fmt.Errorf("pack %d: missing id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate pack id %q", p.ID)
		}
		seen[p.ID] = true
		for cat, sens := range p.Categories {
			if !cat.Valid() {
				return fmt.Errorf("pack %q: unknown category %q", p.ID, cat)
			}
			switch sens {
			case domain.SensitivityConservative, domain.SensitivityBalanced,
				domain.SensitivityBroad, domain.SensitivityOff:
			default:
				return fmt.Errorf("pack %q: unknown sensitivity %q for %q", p.ID, sens, cat)
			}
		}
	}

	names := make(map[string]bool, len(c.Family.Members))
	for i, m := range c.Family.Members {
		if m.Name == "" {
			return fmt.Errorf("family member %d: missing name", i)
		}
		if names[m.Name] {
			return fmt.Errorf("duplicate family member %q", m.Name)
		}
		names[m.Name] = true
	}
	for _, a := range c.Family.Assignments {
		if a.FromDomain == "" {
			return fmt.Errorf("source assignment: missing from_domain")
		}
		for _, name := range a.AssignTo {
			if !names[name] {
				return fmt.Errorf("source assignment %q: unknown member %q", a.FromDomain, name)
			}
		}
	}

	return nil
}

func (c *AgentConfig) applyDefaults() {
	if c.Confidence.AutoCreate == 0 {
		c.Confidence.AutoCreate = 0.85
	}
	if c.Confidence.Suggest == 0 {
		c.Confidence.Suggest = 0.5
	}
	if c.Processing.LookbackDays == 0 {
		c.Processing.LookbackDays = 7
	}
	if c.Processing.MaxEmailsPerRun == 0 {
		c.Processing.MaxEmailsPerRun = 50
	}
	if c.Digests.WeeklyDays == 0 {
		c.Digests.WeeklyDays = 7
	}
	if c.Digests.DailyDays == 0 {
		c.Digests.DailyDays = 1
	}
}

// EnabledPacks returns enabled packs sorted by priority, then id for a
// stable order on ties.
func (c *AgentConfig) EnabledPacks() []domain.Pack {
	var packs []domain.Pack
	for _, p := range c.Packs {
		if p.Enabled {
			packs = append(packs, p)
		}
	}
	sort.SliceStable(packs, func(i, j int) bool {
		if packs[i].Priority != packs[j].Priority {
			return packs[i].Priority < packs[j].Priority
		}
		return packs[i].ID < packs[j].ID
	})
	return packs
}

// MemberNames returns the configured member names in config order.
func (c *AgentConfig) MemberNames() []string {
	names := make([]string, 0, len(c.Family.Members))
	for _, m := range c.Family.Members {
		names = append(names, m.Name)
	}
	return names
}

// Pack returns the pack with the given id.
func (c *AgentConfig) Pack(id string) (*domain.Pack, bool) {
	for i := range c.Packs {
		if c.Packs[i].ID == id {
			return &c.Packs[i], true
		}
	}
	return nil, false
}

// AddDomain appends fromDomain to the sources of the pack that carries cat
// and records a source assignment for person. The change applies to future
// runs only. Returns the pack id that received the domain, or false when no
// enabled pack carries the category.
func (c *AgentConfig) AddDomain(fromDomain string, cat domain.Category, person string) (string, bool) {
	var target *domain.Pack
	for i := range c.Packs {
		p := &c.Packs[i]
		if !p.Enabled {
			continue
		}
		if sens, ok := p.Categories[cat]; ok && sens != domain.SensitivityOff {
			target = p
			break
		}
	}
	if target == nil {
		return "", false
	}

	if len(target.Sources) == 0 {
		target.Sources = append(target.Sources, domain.PackSource{})
	}
	src := &target.Sources[0]
	for _, d := range src.FromDomains {
		if d == fromDomain {
			return target.ID, true
		}
	}
	src.FromDomains = append(src.FromDomains, fromDomain)

	if person != "" {
		c.Family.Assignments = append(c.Family.Assignments, domain.SourceAssignment{
			FromDomain: fromDomain,
			AssignTo:   []string{person},
		})
	}
	return target.ID, true
}

// AddExcludeKeyword appends keyword to the exclusion list of every enabled
// pack. Returns how many packs were changed.
func (c *AgentConfig) AddExcludeKeyword(keyword string) int {
	changed := 0
	for i := range c.Packs {
		p := &c.Packs[i]
		if !p.Enabled {
			continue
		}
		if len(p.Sources) == 0 {
			p.Sources = append(p.Sources, domain.PackSource{})
		}
		src := &p.Sources[0]
		already := false
		for _, k := range src.ExcludeKeywords {
			if k == keyword {
				already = true
				break
			}
		}
		if already {
			continue
		}
		src.ExcludeKeywords = append(src.ExcludeKeywords, keyword)
		changed++
	}
	return changed
}

// Save writes the config back to path. Only explicit CLI commands call this;
// the pipeline never rewrites its own configuration.
func (c *AgentConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal agent config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write agent config %s: %w", path, err)
	}
	return nil
}
