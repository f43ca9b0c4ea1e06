// Package timeline records per-incident append-only event logs and mirrors every event into
// the audit sink.
package timeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-ir/internal/audit"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// Auditor accepts audit events. *audit.Sink satisfies it.
type Auditor interface {
	Submit(ctx context.Context, ev models.AuditEvent) (string, error)
}

// Publisher forwards committed events to external consumers.
type Publisher interface {
	Publish(ctx context.Context, ev models.TimelineEvent) error
}

// Staged is an event that has an id and instant but is not yet audited or appended.
type Staged struct {
	Event    models.TimelineEvent
	Severity models.Severity
}

// Recorder owns the timeline of every incident.
type Recorder struct {
	auditor   Auditor
	publisher Publisher
	clock     utils.Clock
	logger    *slog.Logger

	mu     sync.RWMutex
	events map[string][]models.TimelineEvent
	last   map[string]time.Time
}

// NewRecorder constructs a recorder submitting to auditor. publisher may be nil.
func NewRecorder(auditor Auditor, publisher Publisher, clock utils.Clock, logger *slog.Logger) *Recorder {
	if clock == nil {
		clock = utils.SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		auditor:   auditor,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		events:    make(map[string][]models.TimelineEvent),
		last:      make(map[string]time.Time),
	}
}

// Stage assigns an id and an instant no earlier than the incident's previous event.
func (r *Recorder) Stage(incidentID string, d models.EventDescriptor) (Staged, error) {
	const op = "timeline.Stage"
	if incidentID == "" {
		return Staged{}, utils.Validation(op, "incident id is required")
	}
	if d.EventType == "" {
		return Staged{}, utils.Validation(op, "event type is required")
	}

	r.mu.Lock()
	ts := r.clock().UTC()
	if prev, ok := r.last[incidentID]; ok && ts.Before(prev) {
		ts = prev
	}
	r.last[incidentID] = ts
	r.mu.Unlock()

	source := d.Source
	if source == "" {
		source = models.SourceIncidentManager
	}
	return Staged{
		Event: models.TimelineEvent{
			ID:          uuid.NewString(),
			IncidentID:  incidentID,
			Timestamp:   ts,
			EventType:   d.EventType,
			Description: d.Description,
			Actor:       d.Actor,
			Source:      source,
			Details:     d.Details,
			Automated:   d.Automated,
		}.Clone(),
		Severity: d.Severity,
	}, nil
}

// Commit submits the staged event to the audit sink and appends it. A filter discard counts
// as success; any other audit failure leaves the timeline untouched and returns an
// IntegrityBreak.
func (r *Recorder) Commit(ctx context.Context, s Staged) error {
	if err := r.Audit(ctx, s); err != nil {
		return err
	}
	r.Publish(ctx, r.appendEvent(s.Event))
	return nil
}

// Audit submits the staged event without appending it.
func (r *Recorder) Audit(ctx context.Context, s Staged) error {
	if r.auditor == nil {
		return nil
	}
	_, err := r.auditor.Submit(ctx, AuditEvent(s))
	if err == nil || errors.Is(err, audit.ErrDiscarded) {
		return nil
	}
	kind := utils.KindOf(err)
	if kind == utils.KindTimeout {
		return err
	}
	r.logger.Error("audit submission failed",
		slog.String("incident_id", s.Event.IncidentID),
		slog.String("event_type", s.Event.EventType),
		slog.Any("error", err),
	)
	return utils.NewKindError("timeline.Commit", utils.KindIntegrityBreak, "audit submission failed", err)
}

// Append stages and commits in one step.
func (r *Recorder) Append(ctx context.Context, incidentID string, d models.EventDescriptor) (models.TimelineEvent, error) {
	staged, err := r.Stage(incidentID, d)
	if err != nil {
		return models.TimelineEvent{}, err
	}
	if err := r.Commit(ctx, staged); err != nil {
		return models.TimelineEvent{}, err
	}
	return staged.Event.Clone(), nil
}

func (r *Recorder) appendEvent(ev models.TimelineEvent) models.TimelineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[ev.IncidentID] = append(r.events[ev.IncidentID], ev.Clone())
	if ev.Timestamp.After(r.last[ev.IncidentID]) {
		r.last[ev.IncidentID] = ev.Timestamp
	}
	return ev
}

// Publish hands ev to the publisher. Failures are logged only.
func (r *Recorder) Publish(ctx context.Context, ev models.TimelineEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.Warn("timeline publish failed",
			slog.String("incident_id", ev.IncidentID),
			slog.String("event_id", ev.ID),
			slog.Any("error", err),
		)
	}
}

// Events returns the incident's events in insertion order.
func (r *Recorder) Events(incidentID string) []models.TimelineEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.events[incidentID]
	out := make([]models.TimelineEvent, len(src))
	for i, ev := range src {
		out[i] = ev.Clone()
	}
	return out
}

// Restore seeds an incident's timeline from persisted state without auditing.
func (r *Recorder) Restore(incidentID string, events []models.TimelineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]models.TimelineEvent, len(events))
	for i, ev := range events {
		cp[i] = ev.Clone()
		if ev.Timestamp.After(r.last[incidentID]) {
			r.last[incidentID] = ev.Timestamp
		}
	}
	r.events[incidentID] = cp
}

// AuditEvent converts a staged timeline event into the audit sink's input.
func AuditEvent(s Staged) models.AuditEvent {
	ev := s.Event
	actorType := models.ActorUser
	if ev.Automated {
		actorType = models.ActorSystem
	}
	actor := ev.Actor
	if actor == "" {
		actor = ev.Source
	}
	return models.AuditEvent{
		EventType: ev.EventType,
		Timestamp: ev.Timestamp,
		Actor:     models.AuditActor{Type: actorType, ID: actor},
		Resource:  models.AuditResource{Type: "incident", ID: ev.IncidentID},
		Action: models.AuditAction{
			Type:        ev.EventType,
			Description: ev.Description,
			Outcome:     models.OutcomeSuccess,
		},
		Context: models.AuditContext{
			RequestID:      ev.ID,
			CorrelationID:  ev.IncidentID,
			SourceSystem:   ev.Source,
			AdditionalData: ev.Details,
		},
		Severity: s.Severity,
	}
}
