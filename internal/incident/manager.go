// Package incident implements the incident lifecycle: the status graph, field mutations and
// the child collections of an incident. Every accepted mutation is persisted, audited and
// appended to the incident timeline through a single apply-and-log routine.
package incident

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-ir/internal/cache"
	"github.com/miradorstack/mirador-ir/internal/metrics"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/storage"
	"github.com/miradorstack/mirador-ir/internal/syncx"
	"github.com/miradorstack/mirador-ir/internal/timeline"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// Options configures a Manager.
type Options struct {
	Store       storage.Store
	Recorder    *timeline.Recorder
	Clock       utils.Clock
	Logger      *slog.Logger
	ReportCache cache.Provider
	ReportTTL   time.Duration
}

// Manager owns every incident aggregate.
type Manager struct {
	store     storage.Store
	recorder  *timeline.Recorder
	clock     utils.Clock
	logger    *slog.Logger
	reports   cache.Provider
	reportTTL time.Duration

	mu        sync.RWMutex
	incidents map[string]*aggregate
	statuses  map[string]models.IncidentStatus
}

type aggregate struct {
	lock *syncx.Mutex
	inc  *models.Incident
}

// NewManager constructs an empty manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("incident manager requires a store")
	}
	if opts.Recorder == nil {
		return nil, fmt.Errorf("incident manager requires a timeline recorder")
	}
	if opts.Clock == nil {
		opts.Clock = utils.SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReportCache == nil {
		opts.ReportCache = cache.NoopProvider{}
	}
	if opts.ReportTTL <= 0 {
		opts.ReportTTL = cache.DefaultTTL
	}
	return &Manager{
		store:     opts.Store,
		recorder:  opts.Recorder,
		clock:     opts.Clock,
		logger:    opts.Logger,
		reports:   opts.ReportCache,
		reportTTL: opts.ReportTTL,
		incidents: make(map[string]*aggregate),
		statuses:  make(map[string]models.IncidentStatus),
	}, nil
}

// Load restores incidents persisted by the storage plug-in and returns how many were loaded.
func (m *Manager) Load(ctx context.Context) (int, error) {
	incidents, err := m.store.LoadIncidents(ctx)
	if err != nil {
		return 0, utils.NewKindError("incident.Load", utils.KindStoragePluginError, "load incidents", err)
	}
	for _, inc := range incidents {
		m.mu.Lock()
		m.incidents[inc.ID] = &aggregate{lock: syncx.NewMutex(), inc: inc}
		m.mu.Unlock()
		m.recorder.Restore(inc.ID, inc.Timeline)
		m.trackStatus(inc.ID, inc.Status)
	}
	m.logger.Info("incidents restored", slog.Int("count", len(incidents)))
	return len(incidents), nil
}

// Create validates draft and opens a new incident in status New.
func (m *Manager) Create(ctx context.Context, draft models.IncidentDraft) (inc *models.Incident, err error) {
	const op = "incident.Create"
	defer m.observe(op, time.Now(), &err)

	next, err := newIncident(op, draft, m.clock())
	if err != nil {
		return nil, err
	}
	next.ID = uuid.NewString()

	desc := models.EventDescriptor{
		EventType:   models.EventIncidentCreated,
		Description: fmt.Sprintf("Incident created: %s", next.Title),
		Actor:       next.Reporter,
		Details: map[string]string{
			"severity": string(next.Severity),
			"category": string(next.Category),
			"priority": fmt.Sprint(next.Priority),
		},
	}
	agg := &aggregate{lock: syncx.NewMutex()}
	if err := agg.lock.Lock(ctx); err != nil {
		return nil, utils.Timeout(op, err)
	}
	defer agg.lock.Unlock()

	committed, err := m.applyAndLog(ctx, op, nil, next, desc)
	if err != nil {
		return nil, err
	}
	agg.inc = committed

	m.mu.Lock()
	m.incidents[committed.ID] = agg
	m.mu.Unlock()
	m.trackStatus(committed.ID, committed.Status)
	return committed.Clone(), nil
}

// Get returns a snapshot of the incident taken under its lock.
func (m *Manager) Get(ctx context.Context, id string) (*models.Incident, error) {
	const op = "incident.Get"
	agg, err := m.aggregate(op, id)
	if err != nil {
		return nil, err
	}
	if err := agg.lock.Lock(ctx); err != nil {
		return nil, utils.Timeout(op, err)
	}
	defer agg.lock.Unlock()
	return agg.inc.Clone(), nil
}

// Timeline returns the incident's events in insertion order.
func (m *Manager) Timeline(ctx context.Context, id string) ([]models.TimelineEvent, error) {
	if _, err := m.aggregate("incident.Timeline", id); err != nil {
		return nil, err
	}
	return m.recorder.Events(id), nil
}

// Filter narrows List. Zero fields do not constrain.
type Filter struct {
	Status   models.IncidentStatus
	Severity models.Severity
	Category models.Category
	Assignee string
	Limit    int
}

func (f Filter) matches(inc *models.Incident) bool {
	switch {
	case f.Status != "" && inc.Status != f.Status:
		return false
	case f.Severity != "" && inc.Severity != f.Severity:
		return false
	case f.Category != "" && inc.Category != f.Category:
		return false
	case f.Assignee != "" && inc.Assignee != f.Assignee:
		return false
	}
	return true
}

// List returns snapshots of matching incidents, newest first.
func (m *Manager) List(ctx context.Context, f Filter) ([]*models.Incident, error) {
	const op = "incident.List"
	out := make([]*models.Incident, 0)
	for _, agg := range m.aggregates() {
		if err := agg.lock.Lock(ctx); err != nil {
			return nil, utils.Timeout(op, err)
		}
		if f.matches(agg.inc) {
			out = append(out, agg.inc.Clone())
		}
		agg.lock.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// mutation applies a change to next (a private copy) and describes the event it produces. A
// descriptor with an empty event type marks the call as a no-op.
type mutation func(next *models.Incident, now time.Time) (models.EventDescriptor, error)

// mutate runs fn against a copy of incident id under its lock and commits the result through
// applyAndLog.
func (m *Manager) mutate(ctx context.Context, op, id string, fn mutation) (inc *models.Incident, err error) {
	defer m.observe(op, time.Now(), &err)

	agg, err := m.aggregate(op, id)
	if err != nil {
		return nil, err
	}
	if err := agg.lock.Lock(ctx); err != nil {
		return nil, utils.Timeout(op, err)
	}
	defer agg.lock.Unlock()

	prev := agg.inc
	next := prev.Clone()
	desc, err := fn(next, m.clock())
	if err != nil {
		return nil, err
	}
	if desc.EventType == "" {
		return prev.Clone(), nil
	}

	committed, err := m.applyAndLog(ctx, op, prev, next, desc)
	if err != nil {
		return nil, err
	}
	agg.inc = committed
	m.trackStatus(id, committed.Status)
	return committed.Clone(), nil
}

// applyAndLog stages the timeline event, persists next, audits the event and appends it. When
// auditing fails the previous snapshot is written back (or the new incident deleted) and the
// audit error is returned.
func (m *Manager) applyAndLog(ctx context.Context, op string, prev, next *models.Incident, desc models.EventDescriptor) (*models.Incident, error) {
	if desc.Severity == "" {
		desc.Severity = next.Severity
	}
	if desc.Source == "" {
		desc.Source = models.SourceIncidentManager
	}
	staged, err := m.recorder.Stage(next.ID, desc)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = staged.Event.Timestamp
	if prev == nil {
		next.CreatedAt = staged.Event.Timestamp
	}
	next.Timeline = append(next.Timeline, staged.Event.Clone())

	if err := storage.Do(ctx, op, func(ctx context.Context) error { return m.store.PutIncident(ctx, next) }); err != nil {
		m.logger.Error("persist incident failed", slog.String("incident_id", next.ID), slog.Any("error", err))
		return nil, err
	}

	if err := m.recorder.Commit(ctx, staged); err != nil {
		m.compensate(ctx, op, prev, next.ID)
		return nil, err
	}

	m.logger.Debug("incident mutation applied",
		slog.String("incident_id", next.ID),
		slog.String("event_type", staged.Event.EventType),
		slog.String("status", string(next.Status)),
	)
	return next, nil
}

func (m *Manager) compensate(ctx context.Context, op string, prev *models.Incident, id string) {
	// the caller's deadline may already be spent; the rollback must still land
	ctx = context.WithoutCancel(ctx)
	var err error
	if prev == nil {
		err = storage.Do(ctx, op, func(ctx context.Context) error { return m.store.DeleteIncident(ctx, id) })
	} else {
		err = storage.Do(ctx, op, func(ctx context.Context) error { return m.store.PutIncident(ctx, prev) })
	}
	if err != nil {
		m.logger.Error("compensating write failed", slog.String("incident_id", id), slog.Any("error", err))
	}
}

func (m *Manager) aggregate(op, id string) (*aggregate, error) {
	if id == "" {
		return nil, utils.Validation(op, "incident id is required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.incidents[id]
	if !ok {
		return nil, utils.NotFound(op, "incident", id)
	}
	return agg, nil
}

func (m *Manager) aggregates() []*aggregate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*aggregate, 0, len(m.incidents))
	for _, agg := range m.incidents {
		out = append(out, agg)
	}
	return out
}

// trackStatus records the committed status of id and republishes the open-incident gauge.
func (m *Manager) trackStatus(id string, status models.IncidentStatus) {
	m.mu.Lock()
	m.statuses[id] = status
	open := 0
	for _, st := range m.statuses {
		if st != models.StatusClosed {
			open++
		}
	}
	m.mu.Unlock()
	metrics.SetIncidentsOpen(open)
}

func (m *Manager) observe(op string, start time.Time, err *error) {
	metrics.ObserveOperation(op, time.Since(start), *err)
}
