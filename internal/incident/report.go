package incident

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-ir/internal/cache"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// Report is a structured summary of one incident.
type Report struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Incident    *models.Incident       `json:"incident"`
	Timeline    []models.TimelineEvent `json:"timeline"`
	Metrics     ReportMetrics          `json:"metrics"`
}

// ReportMetrics holds figures derived from the timeline. Durations are minutes from creation;
// zero means the milestone has not been reached.
type ReportMetrics struct {
	MinutesToAssign    float64 `json:"minutes_to_assign"`
	MinutesToContain   float64 `json:"minutes_to_contain"`
	MinutesToResolve   float64 `json:"minutes_to_resolve"`
	EvidenceCount      int     `json:"evidence_count"`
	TaskCount          int     `json:"task_count"`
	OpenTasks          int     `json:"open_tasks"`
	ActionCount        int     `json:"action_count"`
	CommunicationCount int     `json:"communication_count"`
	NotificationCount  int     `json:"notification_count"`
	EventCount         int     `json:"event_count"`
}

// Report composes the incident snapshot with its timeline. Reports are cached per incident
// version, keyed by the latest timeline event.
func (m *Manager) Report(ctx context.Context, id string) (rep *Report, err error) {
	const op = "incident.Report"
	defer m.observe(op, time.Now(), &err)

	inc, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	key := reportKey(inc)
	var cached Report
	hit, err := cache.LoadJSON(ctx, m.reports, key, &cached)
	if err != nil {
		m.logger.Warn("report cache read failed", slog.String("incident_id", id), slog.Any("error", err))
	}
	if hit {
		return &cached, nil
	}

	rep = &Report{
		GeneratedAt: m.clock().UTC(),
		Incident:    inc,
		Timeline:    inc.Timeline,
		Metrics:     deriveMetrics(inc),
	}
	if err := cache.StoreJSON(ctx, m.reports, key, rep, m.reportTTL); err != nil {
		m.logger.Warn("report cache write failed", slog.String("incident_id", id), slog.Any("error", err))
	}
	return rep, nil
}

// reportKey identifies an incident version by its latest timeline event. Every accepted
// mutation appends one, so the key changes even when instants repeat.
func reportKey(inc *models.Incident) string {
	last := ""
	if n := len(inc.Timeline); n > 0 {
		last = inc.Timeline[n-1].ID
	}
	return fmt.Sprintf("report:%s:%d:%s", inc.ID, len(inc.Timeline), last)
}

func deriveMetrics(inc *models.Incident) ReportMetrics {
	out := ReportMetrics{
		EvidenceCount:      len(inc.Evidence),
		TaskCount:          len(inc.Tasks),
		ActionCount:        len(inc.ContainmentActions) + len(inc.EradicationActions) + len(inc.RecoveryActions),
		CommunicationCount: len(inc.Communications),
		NotificationCount:  len(inc.ExternalNotifications),
		EventCount:         len(inc.Timeline),
	}
	for _, task := range inc.Tasks {
		if task.Status == models.TaskOpen || task.Status == models.TaskInProgress {
			out.OpenTasks++
		}
	}
	contained := models.TransitionEventType(models.StatusContained)
	for _, ev := range inc.Timeline {
		switch ev.EventType {
		case models.EventIncidentAssigned:
			if out.MinutesToAssign == 0 {
				out.MinutesToAssign = utils.DurationMinutes(inc.CreatedAt, ev.Timestamp)
			}
		case contained:
			if out.MinutesToContain == 0 {
				out.MinutesToContain = utils.DurationMinutes(inc.CreatedAt, ev.Timestamp)
			}
		}
	}
	if inc.ResolvedAt != nil {
		out.MinutesToResolve = utils.DurationMinutes(inc.CreatedAt, *inc.ResolvedAt)
	}
	return out
}

// Statistics summarises every incident the manager holds.
type Statistics struct {
	Total                int                           `json:"total"`
	Open                 int                           `json:"open"`
	ByStatus             map[models.IncidentStatus]int `json:"by_status"`
	BySeverity           map[models.Severity]int       `json:"by_severity"`
	ByCategory           map[models.Category]int       `json:"by_category"`
	SLABreached          int                           `json:"sla_breached"`
	MeanMinutesToResolve float64                       `json:"mean_minutes_to_resolve"`
	TotalCostEstimate    float64                       `json:"total_cost_estimate"`
}

// Statistics counts incidents by status, severity and category and averages time to resolve
// over incidents that have a resolution instant.
func (m *Manager) Statistics(ctx context.Context) (Statistics, error) {
	incidents, err := m.List(ctx, Filter{})
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{
		Total:      len(incidents),
		ByStatus:   make(map[models.IncidentStatus]int),
		BySeverity: make(map[models.Severity]int),
		ByCategory: make(map[models.Category]int),
	}
	var resolved int
	var resolveMinutes float64
	for _, inc := range incidents {
		stats.ByStatus[inc.Status]++
		stats.BySeverity[inc.Severity]++
		stats.ByCategory[inc.Category]++
		stats.TotalCostEstimate += inc.CostEstimate
		if inc.Status != models.StatusClosed {
			stats.Open++
		}
		if inc.SLABreached {
			stats.SLABreached++
		}
		if inc.ResolvedAt != nil {
			resolved++
			resolveMinutes += utils.DurationMinutes(inc.CreatedAt, *inc.ResolvedAt)
		}
	}
	if resolved > 0 {
		stats.MeanMinutesToResolve = resolveMinutes / float64(resolved)
	}
	return stats, nil
}
