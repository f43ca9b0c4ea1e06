package storage

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/miradorstack/mirador-ir/internal/models"
)

// Matches reports whether record satisfies every populated field of criteria.
func Matches(criteria models.AuditCriteria, record models.AuditRecord) bool {
	if !criteria.Start.IsZero() && record.Timestamp.Before(criteria.Start) {
		return false
	}
	if !criteria.End.IsZero() && record.Timestamp.After(criteria.End) {
		return false
	}
	if criteria.RetentionPolicyID != "" && record.RetentionPolicyID != criteria.RetentionPolicyID {
		return false
	}
	if len(criteria.EventTypes) > 0 && !slices.Contains(criteria.EventTypes, record.EventType) {
		return false
	}
	if len(criteria.Actors) > 0 && !slices.Contains(criteria.Actors, record.Actor.ID) {
		return false
	}
	if len(criteria.Resources) > 0 && !containsAnySubstring(record.Resource.Type+"/"+record.Resource.ID, criteria.Resources) {
		return false
	}
	if len(criteria.Actions) > 0 && !slices.Contains(criteria.Actions, record.Action.Type) {
		return false
	}
	if len(criteria.Severities) > 0 && !slices.Contains(criteria.Severities, record.Severity) {
		return false
	}
	if len(criteria.ComplianceTags) > 0 && !intersects(criteria.ComplianceTags, record.ComplianceTags) {
		return false
	}
	if criteria.Text != "" && !strings.Contains(strings.ToLower(SearchText(record)), strings.ToLower(criteria.Text)) {
		return false
	}
	return true
}

// SearchText is the haystack used by full-text search: event type, actor id, resource type,
// action description and the serialized additional data.
func SearchText(record models.AuditRecord) string {
	var b strings.Builder
	b.WriteString(record.EventType)
	b.WriteByte(' ')
	b.WriteString(record.Actor.ID)
	b.WriteByte(' ')
	b.WriteString(record.Resource.Type)
	b.WriteByte(' ')
	b.WriteString(record.Action.Description)
	if len(record.Context.AdditionalData) > 0 {
		// map keys are marshalled in sorted order
		if data, err := json.Marshal(record.Context.AdditionalData); err == nil {
			b.WriteByte(' ')
			b.Write(data)
		}
	}
	return b.String()
}

func containsAnySubstring(value string, needles []string) bool {
	lower := strings.ToLower(value)
	for _, n := range needles {
		if n != "" && strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}
