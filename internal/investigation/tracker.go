// Package investigation tracks forensic investigations bound to incidents.
package investigation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-ir/internal/metrics"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/syncx"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// Incidents is the slice of the incident manager the tracker depends on.
type Incidents interface {
	RecordEvent(ctx context.Context, incidentID string, desc models.EventDescriptor) (models.TimelineEvent, error)
	// EnsureOpen fails with IncidentFrozen when the incident is closed.
	EnsureOpen(ctx context.Context, incidentID string) error
}

// Tracker owns every investigation.
type Tracker struct {
	incidents Incidents
	clock     utils.Clock
	logger    *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	lock *syncx.Mutex
	inv  *models.Investigation
}

// NewTracker returns an empty tracker recording lifecycle events through incidents.
func NewTracker(incidents Incidents, clock utils.Clock, logger *slog.Logger) *Tracker {
	if clock == nil {
		clock = utils.SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		incidents: incidents,
		clock:     clock,
		logger:    logger,
		entries:   make(map[string]*entry),
	}
}

// Open starts an investigation on incidentID.
func (t *Tracker) Open(ctx context.Context, incidentID, investigator, scope string) (out *models.Investigation, err error) {
	const op = "investigation.Open"
	defer observe(op, time.Now(), &err)

	if incidentID == "" {
		return nil, utils.Validation(op, "incident id is required")
	}
	if strings.TrimSpace(investigator) == "" {
		return nil, utils.Validation(op, "investigator is required")
	}
	inv := &models.Investigation{
		ID:                     uuid.NewString(),
		IncidentID:             incidentID,
		Investigator:           investigator,
		StartedAt:              t.clock().UTC(),
		Scope:                  scope,
		ToolsUsed:              []string{},
		EvidenceCollected:      []string{},
		Findings:               []models.Finding{},
		TimelineReconstruction: []models.ReconstructedEvent{},
	}
	if _, err := t.incidents.RecordEvent(ctx, incidentID, models.EventDescriptor{
		EventType:   models.EventInvestigationStarted,
		Description: "Forensic investigation opened: " + scope,
		Actor:       investigator,
		Source:      models.SourceInvestigation,
		Details:     map[string]string{"investigation_id": inv.ID, "scope": scope},
	}); err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.entries[inv.ID] = &entry{lock: syncx.NewMutex(), inv: inv}
	t.mu.Unlock()
	return inv.Clone(), nil
}

// RecordFinding appends a finding. Findings on a closed incident are rejected with
// IncidentFrozen.
func (t *Tracker) RecordFinding(ctx context.Context, id, actor string, f models.Finding) (*models.Investigation, error) {
	const op = "investigation.RecordFinding"
	if strings.TrimSpace(f.Title) == "" {
		return nil, utils.Validation(op, "finding title is required")
	}
	if f.Severity == "" {
		f.Severity = models.SeverityMedium
	}
	if !f.Severity.Valid() {
		return nil, utils.Validation(op, "severity %q is not valid", f.Severity)
	}
	if !(f.Confidence >= 0 && f.Confidence <= 1) {
		return nil, utils.Validation(op, "confidence must be within [0,1]")
	}
	return t.mutate(ctx, op, id, func(next *models.Investigation, now time.Time) (*models.EventDescriptor, error) {
		f.ID = uuid.NewString()
		f.RecordedAt = now
		f.EvidenceRefs = slices.Clone(f.EvidenceRefs)
		next.Findings = append(next.Findings, f)
		return &models.EventDescriptor{
			EventType:   models.EventInvestigationFinding,
			Description: "Finding recorded: " + f.Title,
			Actor:       actor,
			Details: map[string]string{
				"investigation_id": next.ID,
				"finding_id":       f.ID,
				"severity":         string(f.Severity),
			},
		}, nil
	})
}

// AttachEvidence references evidence collected on the incident. Repeated references are
// kept once.
func (t *Tracker) AttachEvidence(ctx context.Context, id, evidenceID string) (*models.Investigation, error) {
	const op = "investigation.AttachEvidence"
	if evidenceID == "" {
		return nil, utils.Validation(op, "evidence id is required")
	}
	return t.mutate(ctx, op, id, func(next *models.Investigation, _ time.Time) (*models.EventDescriptor, error) {
		if !slices.Contains(next.EvidenceCollected, evidenceID) {
			next.EvidenceCollected = append(next.EvidenceCollected, evidenceID)
		}
		return nil, nil
	})
}

// AppendReconstruction adds an entry to the reconstructed attack timeline, kept in instant
// order.
func (t *Tracker) AppendReconstruction(ctx context.Context, id string, ev models.ReconstructedEvent) (*models.Investigation, error) {
	const op = "investigation.AppendReconstruction"
	if ev.At.IsZero() {
		return nil, utils.Validation(op, "reconstructed event needs an instant")
	}
	if strings.TrimSpace(ev.Description) == "" {
		return nil, utils.Validation(op, "reconstructed event needs a description")
	}
	return t.mutate(ctx, op, id, func(next *models.Investigation, _ time.Time) (*models.EventDescriptor, error) {
		ev.At = ev.At.UTC()
		next.TimelineReconstruction = append(next.TimelineReconstruction, ev)
		sort.SliceStable(next.TimelineReconstruction, func(i, j int) bool {
			return next.TimelineReconstruction[i].At.Before(next.TimelineReconstruction[j].At)
		})
		return nil, nil
	})
}

// SetAttribution replaces the attribution block.
func (t *Tracker) SetAttribution(ctx context.Context, id, actor string, a models.Attribution) (*models.Investigation, error) {
	const op = "investigation.SetAttribution"
	if strings.TrimSpace(a.Actor) == "" {
		return nil, utils.Validation(op, "attributed actor is required")
	}
	if !(a.Confidence >= 0 && a.Confidence <= 1) {
		return nil, utils.Validation(op, "confidence must be within [0,1]")
	}
	return t.mutate(ctx, op, id, func(next *models.Investigation, _ time.Time) (*models.EventDescriptor, error) {
		a.Techniques = models.StringSet(a.Techniques)
		a.Motivations = models.StringSet(a.Motivations)
		a.Indicators = models.StringSet(a.Indicators)
		next.Attribution = &a
		return &models.EventDescriptor{
			EventType:   models.EventInvestigationUpdated,
			Description: fmt.Sprintf("Attribution set to %s (confidence %.2f)", a.Actor, a.Confidence),
			Actor:       actor,
			Details:     map[string]string{"investigation_id": next.ID, "attributed_actor": a.Actor},
		}, nil
	})
}

// SetMethodology records the investigative approach.
func (t *Tracker) SetMethodology(ctx context.Context, id, methodology string) (*models.Investigation, error) {
	return t.mutate(ctx, "investigation.SetMethodology", id, func(next *models.Investigation, _ time.Time) (*models.EventDescriptor, error) {
		next.Methodology = methodology
		return nil, nil
	})
}

// AddTool records a forensic tool used.
func (t *Tracker) AddTool(ctx context.Context, id, tool string) (*models.Investigation, error) {
	const op = "investigation.AddTool"
	if strings.TrimSpace(tool) == "" {
		return nil, utils.Validation(op, "tool name is required")
	}
	return t.mutate(ctx, op, id, func(next *models.Investigation, _ time.Time) (*models.EventDescriptor, error) {
		if !slices.Contains(next.ToolsUsed, tool) {
			next.ToolsUsed = append(next.ToolsUsed, tool)
		}
		return nil, nil
	})
}

// Close completes the investigation with a report reference. The closing event is accepted
// even when the incident has been closed meanwhile.
func (t *Tracker) Close(ctx context.Context, id, actor, reportRef string) (*models.Investigation, error) {
	const op = "investigation.Close"
	return t.mutate(ctx, op, id, func(next *models.Investigation, now time.Time) (*models.EventDescriptor, error) {
		completed := now
		next.CompletedAt = &completed
		next.ReportPath = reportRef
		return &models.EventDescriptor{
			EventType:   models.EventInvestigationClosed,
			Description: fmt.Sprintf("Forensic investigation closed with %d findings", len(next.Findings)),
			Actor:       actor,
			Details:     map[string]string{"investigation_id": next.ID, "report": reportRef},
		}, nil
	})
}

// Get returns a snapshot of investigation id.
func (t *Tracker) Get(ctx context.Context, id string) (*models.Investigation, error) {
	const op = "investigation.Get"
	e, err := t.entry(op, id)
	if err != nil {
		return nil, err
	}
	if err := e.lock.Lock(ctx); err != nil {
		return nil, utils.Timeout(op, err)
	}
	defer e.lock.Unlock()
	return e.inv.Clone(), nil
}

// ListByIncident returns the investigations of incidentID, oldest first.
func (t *Tracker) ListByIncident(ctx context.Context, incidentID string) ([]*models.Investigation, error) {
	const op = "investigation.ListByIncident"
	t.mu.RLock()
	candidates := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		candidates = append(candidates, e)
	}
	t.mu.RUnlock()

	out := make([]*models.Investigation, 0)
	for _, e := range candidates {
		if err := e.lock.Lock(ctx); err != nil {
			return nil, utils.Timeout(op, err)
		}
		if e.inv.IncidentID == incidentID {
			out = append(out, e.inv.Clone())
		}
		e.lock.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

type investigationMutation func(next *models.Investigation, now time.Time) (*models.EventDescriptor, error)

// mutate applies fn to a copy of the investigation under its lock. Closed investigations
// reject every change. Mutations without an event still require the incident to be open.
func (t *Tracker) mutate(ctx context.Context, op, id string, fn investigationMutation) (out *models.Investigation, err error) {
	defer observe(op, time.Now(), &err)

	e, err := t.entry(op, id)
	if err != nil {
		return nil, err
	}
	if err := e.lock.Lock(ctx); err != nil {
		return nil, utils.Timeout(op, err)
	}
	defer e.lock.Unlock()

	if e.inv.Closed() {
		return nil, utils.Validation(op, "investigation %s is closed", id)
	}
	next := e.inv.Clone()
	desc, err := fn(next, t.clock().UTC())
	if err != nil {
		return nil, err
	}
	if desc == nil {
		if err := t.incidents.EnsureOpen(ctx, next.IncidentID); err != nil {
			return nil, err
		}
	} else {
		desc.Source = models.SourceInvestigation
		if _, err := t.incidents.RecordEvent(ctx, next.IncidentID, *desc); err != nil {
			return nil, err
		}
	}
	e.inv = next
	t.logger.Debug("investigation updated", slog.String("investigation_id", id), slog.String("op", op))
	return next.Clone(), nil
}

func (t *Tracker) entry(op, id string) (*entry, error) {
	if id == "" {
		return nil, utils.Validation(op, "investigation id is required")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, utils.NotFound(op, "investigation", id)
	}
	return e, nil
}

func observe(op string, start time.Time, err *error) {
	metrics.ObserveOperation(op, time.Since(start), *err)
}
