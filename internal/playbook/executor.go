package playbook

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-ir/internal/metrics"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/syncx"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// IncidentRecorder puts lifecycle events on an incident timeline. *incident.Manager
// satisfies it; closed incidents reject events with IncidentFrozen.
type IncidentRecorder interface {
	RecordEvent(ctx context.Context, incidentID string, desc models.EventDescriptor) (models.TimelineEvent, error)
}

// Executor runs playbooks against incidents.
type Executor struct {
	registry  *Registry
	incidents IncidentRecorder
	clock     utils.Clock
	logger    *slog.Logger

	mu         sync.RWMutex
	executions map[string]*execution
}

type execution struct {
	lock *syncx.Mutex
	exec *models.PlaybookExecution
	// deps is the dependency list of every step, frozen at start.
	deps map[string][]string
	// resumeTo is the status restored by Resume.
	resumeTo models.ExecutionStatus
}

// NewExecutor wires the executor to the registry and the incident timeline.
func NewExecutor(registry *Registry, incidents IncidentRecorder, clock utils.Clock, logger *slog.Logger) *Executor {
	if clock == nil {
		clock = utils.SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:   registry,
		incidents:  incidents,
		clock:      clock,
		logger:     logger,
		executions: make(map[string]*execution),
	}
}

// Start instantiates playbookID on incidentID with every step NotStarted.
func (e *Executor) Start(ctx context.Context, incidentID, playbookID, executorID string) (out *models.PlaybookExecution, err error) {
	const op = "playbook.Start"
	defer observe(op, time.Now(), &err)

	if incidentID == "" {
		return nil, utils.Validation(op, "incident id is required")
	}
	pb, err := e.registry.Get(ctx, playbookID)
	if err != nil {
		return nil, err
	}
	if !pb.Active {
		return nil, utils.Validation(op, "playbook %s is not active", playbookID)
	}

	now := e.clock().UTC()
	exec := &models.PlaybookExecution{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		PlaybookID: pb.ID,
		StartedBy:  executorID,
		StartedAt:  now,
		Status:     models.ExecInProgress,
		Steps:      make([]models.StepExecution, 0, len(pb.Steps)),
	}
	deps := make(map[string][]string, len(pb.Steps))
	for _, step := range pb.Steps {
		exec.Steps = append(exec.Steps, models.StepExecution{
			StepID:     step.ID,
			StepNumber: step.Number,
			Status:     models.ExecNotStarted,
		})
		deps[step.ID] = step.DependsOn
	}
	sort.SliceStable(exec.Steps, func(i, j int) bool { return exec.Steps[i].StepNumber < exec.Steps[j].StepNumber })

	if _, err := e.incidents.RecordEvent(ctx, incidentID, models.EventDescriptor{
		EventType:   models.EventPlaybookStarted,
		Description: fmt.Sprintf("Playbook %s v%d started", pb.Name, pb.Version),
		Actor:       executorID,
		Source:      models.SourcePlaybook,
		Details: map[string]string{
			"execution_id": exec.ID,
			"playbook_id":  pb.ID,
			"version":      fmt.Sprint(pb.Version),
		},
	}); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.executions[exec.ID] = &execution{lock: syncx.NewMutex(), exec: exec, deps: deps}
	e.mu.Unlock()
	e.logger.Info("playbook execution started",
		slog.String("execution_id", exec.ID),
		slog.String("incident_id", incidentID),
		slog.String("playbook_id", pb.ID),
	)
	return exec.Clone(), nil
}

// BeginStep moves a NotStarted step to InProgress once every dependency is Completed or
// Skipped.
func (e *Executor) BeginStep(ctx context.Context, executionID, stepID, executorID string) (*models.PlaybookExecution, error) {
	const op = "playbook.BeginStep"
	return e.mutate(ctx, op, executionID, func(x *execution, next *models.PlaybookExecution, now time.Time) (*models.EventDescriptor, error) {
		if next.Status != models.ExecInProgress {
			return nil, invalidState(op, "execution %s is %s", next.ID, next.Status)
		}
		step, err := findStep(op, next, stepID)
		if err != nil {
			return nil, err
		}
		if step.Status != models.ExecNotStarted {
			return nil, invalidState(op, "step %s is %s", stepID, step.Status)
		}
		if err := checkDependencies(op, x, next, stepID); err != nil {
			return nil, err
		}
		started := now
		step.Status = models.ExecInProgress
		step.StartedAt = &started
		step.Executor = executorID
		return &models.EventDescriptor{
			EventType:   models.EventPlaybookStepStarted,
			Description: fmt.Sprintf("Playbook step %d started", step.StepNumber),
			Actor:       executorID,
			Details:     map[string]string{"execution_id": next.ID, "step_id": stepID},
		}, nil
	})
}

// CompleteStep finishes a step as Completed, Failed or Skipped. Only NotStarted steps whose
// dependencies are satisfied may be skipped without being begun. The aggregate status is
// re-evaluated afterwards; when it turns terminal the single recorded event is
// playbook_completed or playbook_failed, carrying the step outcome.
func (e *Executor) CompleteStep(ctx context.Context, executionID, stepID, actor string, status models.ExecutionStatus, output map[string]string, notes string) (*models.PlaybookExecution, error) {
	const op = "playbook.CompleteStep"
	if !status.Terminal() {
		return nil, utils.Validation(op, "step outcome %q must be Completed, Failed or Skipped", status)
	}
	return e.mutate(ctx, op, executionID, func(x *execution, next *models.PlaybookExecution, now time.Time) (*models.EventDescriptor, error) {
		if next.Status.Terminal() {
			return nil, invalidState(op, "execution %s is %s", next.ID, next.Status)
		}
		step, err := findStep(op, next, stepID)
		if err != nil {
			return nil, err
		}
		switch {
		case step.Status == models.ExecInProgress:
		case step.Status == models.ExecNotStarted && status == models.ExecSkipped:
			if err := checkDependencies(op, x, next, stepID); err != nil {
				return nil, err
			}
		default:
			return nil, invalidState(op, "step %s is %s", stepID, step.Status)
		}
		completed := now
		step.Status = status
		step.CompletedAt = &completed
		step.Output = maps.Clone(output)
		step.Notes = notes
		if step.Executor == "" {
			step.Executor = actor
		}

		desc := &models.EventDescriptor{
			EventType:   models.EventPlaybookStepCompleted,
			Description: fmt.Sprintf("Playbook step %d finished as %s", step.StepNumber, status),
			Actor:       actor,
			Details:     map[string]string{"execution_id": next.ID, "step_id": stepID, "status": string(status)},
		}

		next.Status = aggregateStatus(next.Steps, next.Status == models.ExecPaused)
		switch next.Status {
		case models.ExecCompleted, models.ExecFailed:
			next.CompletedAt = &completed
			desc.EventType = models.EventPlaybookCompleted
			if next.Status == models.ExecFailed {
				desc.EventType = models.EventPlaybookFailed
			}
			desc.Description = fmt.Sprintf("Playbook execution %s after step %d finished as %s", next.Status, step.StepNumber, status)
			desc.Details["playbook_id"] = next.PlaybookID
		}
		return desc, nil
	})
}

// Pause suspends an InProgress execution.
func (e *Executor) Pause(ctx context.Context, executionID, actor, reason string) (*models.PlaybookExecution, error) {
	const op = "playbook.Pause"
	return e.mutate(ctx, op, executionID, func(x *execution, next *models.PlaybookExecution, _ time.Time) (*models.EventDescriptor, error) {
		if next.Status != models.ExecInProgress {
			return nil, invalidState(op, "execution %s is %s", next.ID, next.Status)
		}
		x.resumeTo = next.Status
		next.Status = models.ExecPaused
		return &models.EventDescriptor{
			EventType:   models.EventPlaybookPaused,
			Description: "Playbook execution paused",
			Actor:       actor,
			Details:     map[string]string{"execution_id": next.ID, "reason": reason},
		}, nil
	})
}

// Resume returns a paused execution to the status it had before Pause.
func (e *Executor) Resume(ctx context.Context, executionID, actor string) (*models.PlaybookExecution, error) {
	const op = "playbook.Resume"
	return e.mutate(ctx, op, executionID, func(x *execution, next *models.PlaybookExecution, _ time.Time) (*models.EventDescriptor, error) {
		if next.Status != models.ExecPaused {
			return nil, invalidState(op, "execution %s is %s", next.ID, next.Status)
		}
		next.Status = x.resumeTo
		if next.Status == "" {
			next.Status = models.ExecInProgress
		}
		return &models.EventDescriptor{
			EventType:   models.EventPlaybookResumed,
			Description: "Playbook execution resumed",
			Actor:       actor,
			Details:     map[string]string{"execution_id": next.ID},
		}, nil
	})
}

// Get returns a snapshot of the execution.
func (e *Executor) Get(ctx context.Context, executionID string) (*models.PlaybookExecution, error) {
	const op = "playbook.GetExecution"
	x, err := e.execution(op, executionID)
	if err != nil {
		return nil, err
	}
	if err := x.lock.Lock(ctx); err != nil {
		return nil, utils.Timeout(op, err)
	}
	defer x.lock.Unlock()
	return x.exec.Clone(), nil
}

// ListByIncident returns the executions bound to incidentID, oldest first.
func (e *Executor) ListByIncident(ctx context.Context, incidentID string) ([]*models.PlaybookExecution, error) {
	const op = "playbook.ListByIncident"
	e.mu.RLock()
	candidates := make([]*execution, 0)
	for _, x := range e.executions {
		candidates = append(candidates, x)
	}
	e.mu.RUnlock()

	out := make([]*models.PlaybookExecution, 0)
	for _, x := range candidates {
		if err := x.lock.Lock(ctx); err != nil {
			return nil, utils.Timeout(op, err)
		}
		if x.exec.IncidentID == incidentID {
			out = append(out, x.exec.Clone())
		}
		x.lock.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// ReadySteps returns the NotStarted steps whose dependencies are satisfied, by ascending step
// number. A paused or finished execution has no ready steps.
func (e *Executor) ReadySteps(ctx context.Context, executionID string) ([]models.StepExecution, error) {
	const op = "playbook.ReadySteps"
	x, err := e.execution(op, executionID)
	if err != nil {
		return nil, err
	}
	if err := x.lock.Lock(ctx); err != nil {
		return nil, utils.Timeout(op, err)
	}
	defer x.lock.Unlock()

	ready := make([]models.StepExecution, 0)
	if x.exec.Status != models.ExecInProgress {
		return ready, nil
	}
	status := make(map[string]models.ExecutionStatus, len(x.exec.Steps))
	for _, s := range x.exec.Steps {
		status[s.StepID] = s.Status
	}
	for _, s := range x.exec.Steps {
		if s.Status != models.ExecNotStarted {
			continue
		}
		satisfied := true
		for _, dep := range x.deps[s.StepID] {
			if !status[dep].Satisfies() {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, s)
		}
	}
	return ready, nil
}

type executionMutation func(x *execution, next *models.PlaybookExecution, now time.Time) (*models.EventDescriptor, error)

// mutate applies fn to a copy of the execution under its lock, records the one resulting
// event on the incident and then swaps the copy in. A rejected event leaves the execution
// unchanged.
func (e *Executor) mutate(ctx context.Context, op, executionID string, fn executionMutation) (out *models.PlaybookExecution, err error) {
	defer observe(op, time.Now(), &err)

	x, err := e.execution(op, executionID)
	if err != nil {
		return nil, err
	}
	if err := x.lock.Lock(ctx); err != nil {
		return nil, utils.Timeout(op, err)
	}
	defer x.lock.Unlock()

	next := x.exec.Clone()
	resumeTo := x.resumeTo
	desc, err := fn(x, next, e.clock().UTC())
	if err != nil {
		x.resumeTo = resumeTo
		return nil, err
	}
	desc.Source = models.SourcePlaybook
	if _, err := e.incidents.RecordEvent(ctx, next.IncidentID, *desc); err != nil {
		x.resumeTo = resumeTo
		e.logger.Warn("playbook event rejected",
			slog.String("execution_id", next.ID),
			slog.String("event_type", desc.EventType),
			slog.Any("error", err),
		)
		return nil, err
	}
	x.exec = next
	return next.Clone(), nil
}

func (e *Executor) execution(op, id string) (*execution, error) {
	if id == "" {
		return nil, utils.Validation(op, "execution id is required")
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	x, ok := e.executions[id]
	if !ok {
		return nil, utils.NotFound(op, "playbook execution", id)
	}
	return x, nil
}

// checkDependencies fails with DependencyUnmet unless every dependency of stepID is Completed
// or Skipped.
func checkDependencies(op string, x *execution, exec *models.PlaybookExecution, stepID string) error {
	for _, dep := range x.deps[stepID] {
		depStep, err := findStep(op, exec, dep)
		if err != nil {
			return err
		}
		if !depStep.Status.Satisfies() {
			return utils.NewKindError(op, utils.KindDependencyUnmet,
				fmt.Sprintf("step %s depends on %s which is %s", stepID, dep, depStep.Status), nil)
		}
	}
	return nil
}

func findStep(op string, exec *models.PlaybookExecution, stepID string) (*models.StepExecution, error) {
	for i := range exec.Steps {
		if exec.Steps[i].StepID == stepID {
			return &exec.Steps[i], nil
		}
	}
	return nil, utils.NotFound(op, "playbook step", stepID)
}

// aggregateStatus derives the execution status from its steps: Completed when every step is
// terminal and none failed, Failed when a step failed and none is still running, otherwise
// Paused or InProgress.
func aggregateStatus(steps []models.StepExecution, paused bool) models.ExecutionStatus {
	allTerminal, failed, running := true, false, false
	for _, s := range steps {
		switch {
		case s.Status == models.ExecFailed:
			failed = true
		case s.Status == models.ExecInProgress:
			running = true
		}
		if !s.Status.Terminal() {
			allTerminal = false
		}
	}
	switch {
	case allTerminal && !failed:
		return models.ExecCompleted
	case failed && !running:
		return models.ExecFailed
	case paused:
		return models.ExecPaused
	default:
		return models.ExecInProgress
	}
}

func invalidState(op, format string, args ...any) error {
	return utils.NewKindError(op, utils.KindInvalidTransition, fmt.Sprintf(format, args...), nil)
}

func observe(op string, start time.Time, err *error) {
	metrics.ObserveOperation(op, time.Since(start), *err)
}
