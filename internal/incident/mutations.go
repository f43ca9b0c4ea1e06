package incident

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

func newIncident(op string, d models.IncidentDraft, now time.Time) (*models.Incident, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return nil, utils.Validation(op, "title is required")
	}
	if !d.Severity.Valid() {
		return nil, utils.Validation(op, "severity %q is not valid", d.Severity)
	}
	if strings.TrimSpace(d.Reporter) == "" {
		return nil, utils.Validation(op, "reporter is required")
	}
	category, err := normalizeCategory(op, d.Category)
	if err != nil {
		return nil, err
	}
	if err := validateCost(op, d.CostEstimate); err != nil {
		return nil, err
	}
	detected := d.DetectedAt
	if detected.IsZero() {
		detected = now
	}
	return &models.Incident{
		Title:                  title,
		Description:            d.Description,
		Category:               category,
		Severity:               d.Severity,
		Status:                 models.StatusNew,
		Priority:               clampPriority(d.Priority),
		CreatedAt:              now,
		UpdatedAt:              now,
		DetectedAt:             detected.UTC(),
		Reporter:               strings.TrimSpace(d.Reporter),
		IncidentCommander:      d.IncidentCommander,
		AffectedSystems:        models.StringSet(d.AffectedSystems),
		AffectedUsers:          models.StringSet(d.AffectedUsers),
		Indicators:             models.StringSet(d.Indicators),
		Tags:                   models.StringSet(d.Tags),
		Impact:                 clampImpact(d.Impact),
		CostEstimate:           d.CostEstimate,
		ComplianceRequirements: models.StringSet(d.ComplianceRequirements),
		Timeline:               []models.TimelineEvent{},
		Evidence:               []models.Evidence{},
		Tasks:                  []models.Task{},
		Communications:         []models.Communication{},
		ContainmentActions:     []models.ResponseAction{},
		EradicationActions:     []models.ResponseAction{},
		RecoveryActions:        []models.ResponseAction{},
		LessonsLearned:         []models.LessonLearned{},
		ExternalNotifications:  []models.ExternalNotification{},
	}, nil
}

// Update applies the non-nil fields of patch.
func (m *Manager) Update(ctx context.Context, id, actor string, patch models.IncidentPatch) (*models.Incident, error) {
	const op = "incident.Update"
	keys := patch.Keys()
	if len(keys) == 0 {
		return nil, utils.Validation(op, "patch touches no fields")
	}
	return m.mutate(ctx, op, id, func(next *models.Incident, _ time.Time) (models.EventDescriptor, error) {
		if err := notFrozen(op, next); err != nil {
			return models.EventDescriptor{}, err
		}
		if patch.Title != nil {
			title := strings.TrimSpace(*patch.Title)
			if title == "" {
				return models.EventDescriptor{}, utils.Validation(op, "title must not be empty")
			}
			next.Title = title
		}
		if patch.Description != nil {
			next.Description = *patch.Description
		}
		if patch.Category != nil {
			category, err := normalizeCategory(op, *patch.Category)
			if err != nil {
				return models.EventDescriptor{}, err
			}
			next.Category = category
		}
		if patch.Priority != nil {
			next.Priority = clampPriority(*patch.Priority)
		}
		if patch.DetectedAt != nil {
			next.DetectedAt = patch.DetectedAt.UTC()
		}
		if patch.IncidentCommander != nil {
			next.IncidentCommander = *patch.IncidentCommander
		}
		if patch.AffectedSystems != nil {
			next.AffectedSystems = models.StringSet(patch.AffectedSystems)
		}
		if patch.AffectedUsers != nil {
			next.AffectedUsers = models.StringSet(patch.AffectedUsers)
		}
		if patch.Indicators != nil {
			next.Indicators = models.StringSet(patch.Indicators)
		}
		if patch.Tags != nil {
			next.Tags = models.StringSet(patch.Tags)
		}
		if patch.Impact != nil {
			next.Impact = clampImpact(*patch.Impact)
		}
		if patch.CostEstimate != nil {
			if err := validateCost(op, *patch.CostEstimate); err != nil {
				return models.EventDescriptor{}, err
			}
			next.CostEstimate = *patch.CostEstimate
		}
		if patch.SLABreached != nil {
			next.SLABreached = *patch.SLABreached
		}
		if patch.ComplianceRequirements != nil {
			next.ComplianceRequirements = models.StringSet(patch.ComplianceRequirements)
		}
		return models.EventDescriptor{
			EventType:   models.EventIncidentUpdated,
			Description: "Incident updated: " + strings.Join(keys, ", "),
			Actor:       actor,
			Details:     map[string]string{"fields": strings.Join(keys, ",")},
		}, nil
	})
}

// Assign hands the incident to responder. Repeating the current assignment is a no-op.
func (m *Manager) Assign(ctx context.Context, id, actor, responder string) (*models.Incident, error) {
	const op = "incident.Assign"
	responder = strings.TrimSpace(responder)
	if responder == "" {
		return nil, utils.Validation(op, "responder is required")
	}
	return m.mutate(ctx, op, id, func(next *models.Incident, _ time.Time) (models.EventDescriptor, error) {
		if err := notFrozen(op, next); err != nil {
			return models.EventDescriptor{}, err
		}
		switch {
		case next.Status == models.StatusAssigned && next.Assignee == responder:
			return models.EventDescriptor{}, nil
		case next.Status == models.StatusAssigned, slices.Contains(assignFrom, next.Status):
		default:
			return models.EventDescriptor{}, invalidTransition(op, next.Status, models.StatusAssigned)
		}
		previous := next.Assignee
		next.Assignee = responder
		next.Status = models.StatusAssigned
		details := map[string]string{"assignee": responder}
		if previous != "" {
			details["previous_assignee"] = previous
		}
		return models.EventDescriptor{
			EventType:   models.EventIncidentAssigned,
			Description: fmt.Sprintf("Incident assigned to %s", responder),
			Actor:       actor,
			Details:     details,
		}, nil
	})
}

// Escalate changes the severity. The new severity must differ from the current one.
func (m *Manager) Escalate(ctx context.Context, id, actor string, severity models.Severity, reason string) (*models.Incident, error) {
	const op = "incident.Escalate"
	if !severity.Valid() {
		return nil, utils.Validation(op, "severity %q is not valid", severity)
	}
	if strings.TrimSpace(reason) == "" {
		return nil, utils.Validation(op, "reason is required")
	}
	return m.mutate(ctx, op, id, func(next *models.Incident, _ time.Time) (models.EventDescriptor, error) {
		if err := notFrozen(op, next); err != nil {
			return models.EventDescriptor{}, err
		}
		if next.Severity == severity {
			return models.EventDescriptor{}, utils.Validation(op, "incident is already %s", severity)
		}
		previous := next.Severity
		next.Severity = severity
		return models.EventDescriptor{
			EventType:   models.EventIncidentEscalated,
			Description: fmt.Sprintf("Severity changed from %s to %s: %s", previous, severity, reason),
			Actor:       actor,
			Details: map[string]string{
				"previous_severity": string(previous),
				"severity":          string(severity),
				"reason":            reason,
			},
		}, nil
	})
}

// AddEvidence appends an artifact and opens its chain of custody.
func (m *Manager) AddEvidence(ctx context.Context, id, actor string, d models.EvidenceDraft) (*models.Incident, error) {
	const op = "incident.AddEvidence"
	if strings.TrimSpace(d.Name) == "" {
		return nil, utils.Validation(op, "evidence name is required")
	}
	if d.Type == "" {
		d.Type = models.EvidenceOther
	}
	if _, ok := models.ParseEvidenceType(string(d.Type)); !ok {
		return nil, utils.Validation(op, "evidence type %q is not valid", d.Type)
	}
	if d.SizeBytes < 0 {
		return nil, utils.Validation(op, "evidence size must not be negative")
	}
	return m.mutate(ctx, op, id, func(next *models.Incident, now time.Time) (models.EventDescriptor, error) {
		if err := notFrozen(op, next); err != nil {
			return models.EventDescriptor{}, err
		}
		ev := models.Evidence{
			ID:              uuid.NewString(),
			Name:            strings.TrimSpace(d.Name),
			Type:            d.Type,
			Description:     d.Description,
			Source:          d.Source,
			CollectedBy:     actor,
			CollectedAt:     now.UTC(),
			Hash:            d.Hash,
			SizeBytes:       d.SizeBytes,
			StorageLocation: d.StorageLocation,
			ChainOfCustody:  []models.CustodyEntry{{Actor: actor, Action: "collected", At: now.UTC()}},
		}
		next.Evidence = append(next.Evidence, ev)
		return models.EventDescriptor{
			EventType:   models.EventEvidenceAdded,
			Description: fmt.Sprintf("Evidence added: %s", ev.Name),
			Actor:       actor,
			Details:     map[string]string{"evidence_id": ev.ID, "evidence_type": string(ev.Type)},
		}, nil
	})
}

// AddTask appends a response task in status Open.
func (m *Manager) AddTask(ctx context.Context, id, actor string, d models.TaskDraft) (*models.Incident, error) {
	const op = "incident.AddTask"
	if strings.TrimSpace(d.Title) == "" {
		return nil, utils.Validation(op, "task title is required")
	}
	return m.mutate(ctx, op, id, func(next *models.Incident, now time.Time) (models.EventDescriptor, error) {
		if err := notFrozen(op, next); err != nil {
			return models.EventDescriptor{}, err
		}
		task := models.Task{
			ID:          uuid.NewString(),
			Title:       strings.TrimSpace(d.Title),
			Description: d.Description,
			Assignee:    d.Assignee,
			Status:      models.TaskOpen,
			Priority:    clampPriority(d.Priority),
			DueAt:       d.DueAt,
			CreatedAt:   now.UTC(),
		}
		next.Tasks = append(next.Tasks, task)
		return models.EventDescriptor{
			EventType:   models.EventTaskAdded,
			Description: fmt.Sprintf("Task added: %s", task.Title),
			Actor:       actor,
			Details:     map[string]string{"task_id": task.ID, "assignee": task.Assignee},
		}, nil
	})
}

// AddCommunication records a message sent to an audience.
func (m *Manager) AddCommunication(ctx context.Context, id, actor string, c models.Communication) (*models.Incident, error) {
	const op = "incident.AddCommunication"
	if strings.TrimSpace(c.Message) == "" {
		return nil, utils.Validation(op, "message is required")
	}
	if strings.TrimSpace(c.Channel) == "" {
		return nil, utils.Validation(op, "channel is required")
	}
	return m.mutate(ctx, op, id, func(next *models.Incident, now time.Time) (models.EventDescriptor, error) {
		if err := notFrozen(op, next); err != nil {
			return models.EventDescriptor{}, err
		}
		c.ID = uuid.NewString()
		if c.Sender == "" {
			c.Sender = actor
		}
		c.SentAt = now.UTC()
		next.Communications = append(next.Communications, c)
		return models.EventDescriptor{
			EventType:   models.EventCommunicationAdded,
			Description: fmt.Sprintf("Communication sent via %s to %s", c.Channel, c.Audience),
			Actor:       actor,
			Details:     map[string]string{"communication_id": c.ID, "channel": c.Channel, "audience": c.Audience},
		}, nil
	})
}

// RecordAction appends a containment, eradication or recovery action.
func (m *Manager) RecordAction(ctx context.Context, id, actor string, phase models.ResponsePhase, a models.ResponseAction) (*models.Incident, error) {
	const op = "incident.RecordAction"
	if strings.TrimSpace(a.Description) == "" {
		return nil, utils.Validation(op, "action description is required")
	}
	var eventType string
	switch phase {
	case models.PhaseContainment:
		eventType = models.EventContainmentRecorded
	case models.PhaseEradication:
		eventType = models.EventEradicationRecorded
	case models.PhaseRecovery:
		eventType = models.EventRecoveryRecorded
	default:
		return nil, utils.Validation(op, "response phase %q is not valid", phase)
	}
	return m.mutate(ctx, op, id, func(next *models.Incident, now time.Time) (models.EventDescriptor, error) {
		if err := notFrozen(op, next); err != nil {
			return models.EventDescriptor{}, err
		}
		a.ID = uuid.NewString()
		if a.PerformedBy == "" {
			a.PerformedBy = actor
		}
		a.PerformedAt = now.UTC()
		switch phase {
		case models.PhaseContainment:
			next.ContainmentActions = append(next.ContainmentActions, a)
		case models.PhaseEradication:
			next.EradicationActions = append(next.EradicationActions, a)
		default:
			next.RecoveryActions = append(next.RecoveryActions, a)
		}
		return models.EventDescriptor{
			EventType:   eventType,
			Description: fmt.Sprintf("%s action: %s", phase, a.Description),
			Actor:       actor,
			Automated:   a.Automated,
			Details:     map[string]string{"action_id": a.ID, "phase": string(phase), "outcome": a.Outcome},
		}, nil
	})
}

// AddLessonLearned records a post-incident observation. Lessons are accepted on resolved
// incidents too, but not once closed.
func (m *Manager) AddLessonLearned(ctx context.Context, id, actor string, l models.LessonLearned) (*models.Incident, error) {
	const op = "incident.AddLessonLearned"
	if strings.TrimSpace(l.Observation) == "" {
		return nil, utils.Validation(op, "observation is required")
	}
	return m.mutate(ctx, op, id, func(next *models.Incident, _ time.Time) (models.EventDescriptor, error) {
		if err := notFrozen(op, next); err != nil {
			return models.EventDescriptor{}, err
		}
		l.ID = uuid.NewString()
		if l.Owner == "" {
			l.Owner = actor
		}
		next.LessonsLearned = append(next.LessonsLearned, l)
		return models.EventDescriptor{
			EventType:   models.EventLessonLearnedAdded,
			Description: "Lesson learned: " + l.Observation,
			Actor:       actor,
			Details:     map[string]string{"lesson_id": l.ID, "category": l.Category},
		}, nil
	})
}

// RecordNotification records disclosure to a regulator, customer or other outside party.
func (m *Manager) RecordNotification(ctx context.Context, id, actor string, n models.ExternalNotification) (*models.Incident, error) {
	const op = "incident.RecordNotification"
	if strings.TrimSpace(n.Recipient) == "" {
		return nil, utils.Validation(op, "recipient is required")
	}
	switch n.RecipientKind {
	case models.RecipientRegulator, models.RecipientLawEnforcement, models.RecipientCustomer,
		models.RecipientPartner, models.RecipientVendor:
	default:
		return nil, utils.Validation(op, "recipient kind %q is not valid", n.RecipientKind)
	}
	return m.mutate(ctx, op, id, func(next *models.Incident, now time.Time) (models.EventDescriptor, error) {
		if err := notFrozen(op, next); err != nil {
			return models.EventDescriptor{}, err
		}
		n.ID = uuid.NewString()
		n.NotifiedAt = now.UTC()
		next.ExternalNotifications = append(next.ExternalNotifications, n)
		details := map[string]string{
			"notification_id": n.ID,
			"recipient_kind":  string(n.RecipientKind),
			"recipient":       n.Recipient,
		}
		if n.RequiredBy != nil && n.NotifiedAt.After(*n.RequiredBy) {
			details["late"] = "true"
		}
		return models.EventDescriptor{
			EventType:   models.EventNotificationSent,
			Description: fmt.Sprintf("%s notified: %s", n.RecipientKind, n.Recipient),
			Actor:       actor,
			Details:     details,
		}, nil
	})
}

// Transition moves the incident along an edge of the lifecycle graph.
func (m *Manager) Transition(ctx context.Context, id, actor string, target models.IncidentStatus, note string) (*models.Incident, error) {
	const op = "incident.Transition"
	if _, ok := models.ParseIncidentStatus(string(target)); !ok || target == "" {
		return nil, utils.Validation(op, "status %q is not valid", target)
	}
	return m.mutate(ctx, op, id, func(next *models.Incident, now time.Time) (models.EventDescriptor, error) {
		if next.Status == models.StatusClosed && target != models.StatusReopened {
			return models.EventDescriptor{}, frozen(op, next.ID)
		}
		if !CanTransition(next.Status, target) {
			return models.EventDescriptor{}, invalidTransition(op, next.Status, target)
		}
		previous := next.Status
		next.Status = target
		switch target {
		case models.StatusResolved:
			resolved := now.UTC()
			next.ResolvedAt = &resolved
		case models.StatusReopened:
			next.ResolvedAt = nil
		}
		details := map[string]string{"from": string(previous), "to": string(target)}
		if note != "" {
			details["note"] = note
		}
		return models.EventDescriptor{
			EventType:   models.TransitionEventType(target),
			Description: fmt.Sprintf("Status changed from %s to %s", previous, target),
			Actor:       actor,
			Details:     details,
		}, nil
	})
}

// Close resolves the incident with a resolution note.
func (m *Manager) Close(ctx context.Context, id, actor, resolution string) (*models.Incident, error) {
	const op = "incident.Close"
	if strings.TrimSpace(resolution) == "" {
		return nil, utils.Validation(op, "resolution is required")
	}
	return m.mutate(ctx, op, id, func(next *models.Incident, now time.Time) (models.EventDescriptor, error) {
		if next.Status == models.StatusClosed {
			return models.EventDescriptor{}, frozen(op, next.ID)
		}
		if !slices.Contains(closeFrom, next.Status) {
			return models.EventDescriptor{}, invalidTransition(op, next.Status, models.StatusClosed)
		}
		previous := next.Status
		next.Status = models.StatusClosed
		next.Resolution = resolution
		if next.ResolvedAt == nil {
			resolved := now.UTC()
			next.ResolvedAt = &resolved
		}
		return models.EventDescriptor{
			EventType:   models.EventIncidentClosed,
			Description: "Incident closed: " + resolution,
			Actor:       actor,
			Details:     map[string]string{"from": string(previous), "resolution": resolution},
		}, nil
	})
}

// Reopen returns a closed or resolved incident to work.
func (m *Manager) Reopen(ctx context.Context, id, actor, reason string) (*models.Incident, error) {
	const op = "incident.Reopen"
	if strings.TrimSpace(reason) == "" {
		return nil, utils.Validation(op, "reason is required")
	}
	return m.mutate(ctx, op, id, func(next *models.Incident, _ time.Time) (models.EventDescriptor, error) {
		if !slices.Contains(reopenFrom, next.Status) {
			return models.EventDescriptor{}, invalidTransition(op, next.Status, models.StatusReopened)
		}
		previous := next.Status
		next.Status = models.StatusReopened
		next.ResolvedAt = nil
		return models.EventDescriptor{
			EventType:   models.EventIncidentReopened,
			Description: "Incident reopened: " + reason,
			Actor:       actor,
			Details:     map[string]string{"from": string(previous), "reason": reason},
		}, nil
	})
}

// RecordEvent puts a lifecycle event raised by another component on the incident timeline.
// Closed incidents only accept the closing event of an investigation.
func (m *Manager) RecordEvent(ctx context.Context, id string, desc models.EventDescriptor) (models.TimelineEvent, error) {
	const op = "incident.RecordEvent"
	if desc.EventType == "" {
		return models.TimelineEvent{}, utils.Validation(op, "event type is required")
	}
	inc, err := m.mutate(ctx, op, id, func(next *models.Incident, _ time.Time) (models.EventDescriptor, error) {
		if next.Status == models.StatusClosed && desc.EventType != models.EventInvestigationClosed {
			return models.EventDescriptor{}, frozen(op, next.ID)
		}
		return desc, nil
	})
	if err != nil {
		return models.TimelineEvent{}, err
	}
	return inc.Timeline[len(inc.Timeline)-1], nil
}

// EnsureOpen fails with IncidentFrozen when the incident is closed.
func (m *Manager) EnsureOpen(ctx context.Context, id string) error {
	inc, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	return notFrozen("incident.EnsureOpen", inc)
}

func notFrozen(op string, inc *models.Incident) error {
	if inc.Status == models.StatusClosed {
		return frozen(op, inc.ID)
	}
	return nil
}

func frozen(op, id string) error {
	return utils.NewKindError(op, utils.KindIncidentFrozen, fmt.Sprintf("incident %s is closed", id), nil)
}

func invalidTransition(op string, from, to models.IncidentStatus) error {
	return utils.NewKindError(op, utils.KindInvalidTransition, fmt.Sprintf("cannot move from %s to %s", from, to), nil)
}

func normalizeCategory(op string, c models.Category) (models.Category, error) {
	if c == "" {
		return models.CategoryOther, nil
	}
	parsed, ok := models.ParseCategory(string(c))
	if !ok {
		return "", utils.Validation(op, "category %q is not valid", c)
	}
	return parsed, nil
}

func validateCost(op string, cost float64) error {
	if math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
		return utils.Validation(op, "cost estimate must be a non-negative number")
	}
	return nil
}

// defaultPriority applies when a draft leaves priority unset.
const defaultPriority = 3

func clampPriority(p int) int {
	if p == 0 {
		return defaultPriority
	}
	return min(max(p, 1), 5)
}

func clampImpact(i models.Impact) models.Impact {
	i.ConfidentialityLoss = clampFraction(i.ConfidentialityLoss)
	i.IntegrityLoss = clampFraction(i.IntegrityLoss)
	i.AvailabilityLoss = clampFraction(i.AvailabilityLoss)
	if i.AffectedUserCount < 0 {
		i.AffectedUserCount = 0
	}
	return i
}

func clampFraction(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, 0), 1)
}
