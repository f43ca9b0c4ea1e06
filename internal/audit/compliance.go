package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-ir/internal/engine"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// nonCompliantRatio is the failed-outcome share above which a requirement is NonCompliant.
const nonCompliantRatio = 0.10

const maxViolations = 50

// ComplianceReport grades every requirement of framework against the records in [start, end].
func (s *Sink) ComplianceReport(ctx context.Context, framework string, start, end time.Time) (models.ComplianceReport, error) {
	const op = "audit.ComplianceReport"
	mapping, ok := s.mapping(framework)
	if !ok {
		return models.ComplianceReport{}, utils.NotFound(op, "compliance framework", framework)
	}

	report := models.ComplianceReport{
		Framework:    mapping.Framework,
		Start:        start,
		End:          end,
		GeneratedAt:  s.now(),
		Requirements: make([]models.RequirementReport, 0, len(mapping.Requirements)),
	}

	for _, req := range mapping.Requirements {
		records, err := s.collect(ctx, op, models.AuditCriteria{
			Start:          start,
			End:            end,
			EventTypes:     req.AuditEventTypes,
			ComplianceTags: []string{mapping.Tag(req)},
			Sort:           models.SortTimestampAsc,
		})
		if err != nil {
			return models.ComplianceReport{}, err
		}
		section := gradeRequirement(mapping, req, records)
		section.Recommendations = s.recommend(mapping.Framework, section)
		report.Requirements = append(report.Requirements, section)
	}
	report.Status = overallStatus(report.Requirements)
	return report, nil
}

func gradeRequirement(mapping models.ComplianceMapping, req models.ComplianceRequirement, records []models.AuditRecord) models.RequirementReport {
	section := models.RequirementReport{
		RequirementID:        req.ID,
		Title:                req.Title,
		Tag:                  mapping.Tag(req),
		TotalEvents:          len(records),
		EventsByType:         make(map[string]int),
		SeverityDistribution: make(map[models.Severity]int),
		Violations:           []string{},
	}
	for _, r := range records {
		section.EventsByType[r.EventType]++
		section.SeverityDistribution[r.Severity]++
		if r.Action.Outcome != models.OutcomeFailed {
			continue
		}
		section.FailedEvents++
		if len(section.Violations) < maxViolations {
			section.Violations = append(section.Violations, describeViolation(r))
		}
	}
	section.Status = requirementStatus(section.TotalEvents, section.FailedEvents)
	return section
}

func requirementStatus(total, failed int) models.ComplianceStatus {
	switch {
	case failed == 0:
		return models.Compliant
	case float64(failed) > nonCompliantRatio*float64(total):
		return models.NonCompliant
	default:
		return models.PartiallyCompliant
	}
}

func overallStatus(sections []models.RequirementReport) models.ComplianceStatus {
	status := models.Compliant
	for _, s := range sections {
		switch s.Status {
		case models.NonCompliant:
			return models.NonCompliant
		case models.PartiallyCompliant:
			status = models.PartiallyCompliant
		}
	}
	return status
}

func describeViolation(r models.AuditRecord) string {
	msg := fmt.Sprintf("%s %s by %s on %s/%s failed", r.Timestamp.UTC().Format(time.RFC3339), r.EventType, r.Actor.ID, r.Resource.Type, r.Resource.ID)
	if r.Action.ErrorDetails != "" {
		msg += ": " + r.Action.ErrorDetails
	}
	return msg
}

func (s *Sink) recommend(framework string, section models.RequirementReport) []string {
	recs := []string{}
	if s.recommender != nil {
		recs = engine.AppendUnique(recs, s.recommender.Recommend(framework, section)...)
	}
	switch {
	case section.TotalEvents == 0:
		recs = engine.AppendUnique(recs, fmt.Sprintf("No audit evidence for %s in the reporting window; confirm an enabled configuration covers its event types", section.Tag))
	case section.Status == models.NonCompliant:
		recs = engine.AppendUnique(recs, fmt.Sprintf("Investigate the %d failed events recorded against %s", section.FailedEvents, section.Tag))
	case section.Status == models.PartiallyCompliant:
		recs = engine.AppendUnique(recs, fmt.Sprintf("Review the failed events recorded against %s", section.Tag))
	}
	return recs
}
