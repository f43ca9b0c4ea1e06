package engine

import (
	"errors"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-ir/internal/models"
)

// RuleEngine attaches remediation advice to compliance report sections.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule represents a single recommendation rule.
type Rule struct {
	ID              string    `yaml:"id"`
	Match           RuleMatch `yaml:"match"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines optional attributes for rule matching. Empty attributes match anything.
type RuleMatch struct {
	Framework           string   `yaml:"framework"`
	Status              string   `yaml:"status"`
	RequirementContains []string `yaml:"requirement_contains"`
	EventTypes          []string `yaml:"event_types"`
	NoEvidence          bool     `yaml:"no_evidence"`
	MinFailed           int      `yaml:"min_failed"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. If path is empty, returns nil engine.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("compliance rule pack loaded", slog.String("path", path), slog.Int("rules", len(cfg.Rules)))
	return &RuleEngine{rules: cfg.Rules, logger: logger}, nil
}

// Recommend returns the advice of every rule matching the requirement section.
func (e *RuleEngine) Recommend(framework string, section models.RequirementReport) []string {
	if e == nil {
		return nil
	}

	matched := make([]string, 0)
	for _, rule := range e.rules {
		if rule.Match.Framework != "" && !strings.EqualFold(rule.Match.Framework, framework) {
			continue
		}
		if rule.Match.Status != "" && !strings.EqualFold(rule.Match.Status, string(section.Status)) {
			continue
		}
		if len(rule.Match.RequirementContains) > 0 && !requirementContains(rule.Match.RequirementContains, section) {
			continue
		}
		if len(rule.Match.EventTypes) > 0 && !sectionHasEventType(rule.Match.EventTypes, section) {
			continue
		}
		if rule.Match.NoEvidence && section.TotalEvents > 0 {
			continue
		}
		if section.FailedEvents < rule.Match.MinFailed {
			continue
		}
		matched = AppendUnique(matched, rule.Recommendations...)
	}
	return matched
}

func requirementContains(keywords []string, section models.RequirementReport) bool {
	haystack := strings.ToLower(section.RequirementID + " " + section.Title)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func sectionHasEventType(types []string, section models.RequirementReport) bool {
	return slices.ContainsFunc(types, func(t string) bool { return section.EventsByType[t] > 0 })
}

// AppendUnique appends non-empty additions not already present.
func AppendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
