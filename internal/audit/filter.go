package audit

import (
	"slices"
	"strings"

	"github.com/miradorstack/mirador-ir/internal/models"
)

// accepts reports whether cfg records ev, given the event's derived severity.
func accepts(cfg models.AuditConfiguration, ev models.AuditEvent, sev models.Severity) bool {
	if !cfg.Enabled {
		return false
	}
	if !slices.Contains(cfg.EventTypes, ev.EventType) && !slices.Contains(cfg.EventTypes, "*") {
		return false
	}
	f := cfg.Filters
	if f.MinSeverity != "" && sev.Rank() < f.MinSeverity.Rank() {
		return false
	}
	if len(f.ActorFilters) > 0 && !containsAny(ev.Actor.ID, f.ActorFilters) {
		return false
	}
	if len(f.ResourceFilter) > 0 && !containsAny(ev.Resource.Type, f.ResourceFilter) {
		return false
	}
	if len(f.ActionFilters) > 0 && !containsAny(ev.Action.Type, f.ActionFilters) {
		return false
	}
	return true
}

// selection is the merged outcome of every configuration accepting an event.
type selection struct {
	policyID         string
	includeData      bool
	includeSensitive bool
	configIDs        []string
}

// selectConfigs evaluates configs in order. Include flags are the union over matches and the
// retention policy is the first match's.
func selectConfigs(configs []models.AuditConfiguration, ev models.AuditEvent, sev models.Severity) (selection, bool) {
	var sel selection
	for _, cfg := range configs {
		if !accepts(cfg, ev, sev) {
			continue
		}
		if len(sel.configIDs) == 0 {
			sel.policyID = cfg.RetentionPolicyID
		}
		sel.includeData = sel.includeData || cfg.IncludeData
		sel.includeSensitive = sel.includeSensitive || cfg.IncludeSensitiveData
		sel.configIDs = append(sel.configIDs, cfg.ID)
	}
	return sel, len(sel.configIDs) > 0
}

// complianceTags returns "{framework}:{requirement}" for every enabled mapping requirement
// listing eventType, sorted and deduplicated.
func complianceTags(mappings []models.ComplianceMapping, eventType string) []string {
	tags := []string{}
	for _, m := range mappings {
		if !m.Enabled {
			continue
		}
		for _, req := range m.Requirements {
			if slices.Contains(req.AuditEventTypes, eventType) {
				tags = append(tags, m.Tag(req))
			}
		}
	}
	slices.Sort(tags)
	return slices.Compact(tags)
}

func containsAny(value string, needles []string) bool {
	lower := strings.ToLower(value)
	for _, n := range needles {
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
