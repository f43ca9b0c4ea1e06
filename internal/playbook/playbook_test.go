package playbook

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

type fakeIncidents struct {
	mu     sync.Mutex
	events []models.EventDescriptor
	closed map[string]bool
	reject map[string]error
}

func (f *fakeIncidents) RecordEvent(_ context.Context, incidentID string, desc models.EventDescriptor) (models.TimelineEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed[incidentID] {
		return models.TimelineEvent{}, utils.NewKindError("incident.RecordEvent", utils.KindIncidentFrozen, "closed", nil)
	}
	if err := f.reject[desc.EventType]; err != nil {
		return models.TimelineEvent{}, err
	}
	f.events = append(f.events, desc)
	return models.TimelineEvent{IncidentID: incidentID, EventType: desc.EventType}, nil
}

func (f *fakeIncidents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.EventType
	}
	return out
}

func fixedClock() time.Time { return time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC) }

// diamond is A -> {B, C} -> D.
func diamond() models.Playbook {
	return models.Playbook{
		Name:     "Ransomware containment",
		Category: models.CategoryMalware,
		Steps: []models.Step{
			{ID: "A", Number: 1, Title: "Isolate hosts"},
			{ID: "B", Number: 2, Title: "Snapshot disks", DependsOn: []string{"A"}},
			{ID: "C", Number: 3, Title: "Block C2 domains", DependsOn: []string{"A"}},
			{ID: "D", Number: 4, Title: "Restore from backup", DependsOn: []string{"B", "C"}},
		},
	}
}

func newExecutor(t *testing.T) (*Executor, *Registry, *fakeIncidents) {
	t.Helper()
	reg := NewRegistry(fixedClock, utils.DiscardLogger())
	incidents := &fakeIncidents{closed: map[string]bool{}}
	return NewExecutor(reg, incidents, fixedClock, utils.DiscardLogger()), reg, incidents
}

func TestPlaybookDAGExecution(t *testing.T) {
	exec, reg, incidents := newExecutor(t)
	ctx := context.Background()
	pb, err := reg.Create(ctx, diamond())
	require.NoError(t, err)

	run, err := exec.Start(ctx, "inc-1", pb.ID, "resp-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecInProgress, run.Status)
	require.Len(t, run.Steps, 4)
	for _, s := range run.Steps {
		assert.Equal(t, models.ExecNotStarted, s.Status)
	}

	ready, err := exec.ReadySteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "A", ready[0].StepID)

	_, err = exec.BeginStep(ctx, run.ID, "A", "resp-1")
	require.NoError(t, err)
	_, err = exec.BeginStep(ctx, run.ID, "B", "resp-1")
	assert.ErrorIs(t, err, utils.ErrDependencyUnmet)
	_, err = exec.CompleteStep(ctx, run.ID, "A", "resp-1", models.ExecCompleted, map[string]string{"hosts": "12"}, "")
	require.NoError(t, err)

	ready, err = exec.ReadySteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "B", ready[0].StepID)
	assert.Equal(t, "C", ready[1].StepID)

	var wg sync.WaitGroup
	for _, step := range []string{"B", "C"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := exec.BeginStep(ctx, run.ID, step, "resp-2")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err = exec.BeginStep(ctx, run.ID, "D", "resp-1")
	assert.ErrorIs(t, err, utils.ErrDependencyUnmet)

	for _, step := range []string{"B", "C"} {
		_, err = exec.CompleteStep(ctx, run.ID, step, "resp-2", models.ExecCompleted, nil, "")
		require.NoError(t, err)
	}
	_, err = exec.BeginStep(ctx, run.ID, "D", "resp-1")
	require.NoError(t, err)
	done, err := exec.CompleteStep(ctx, run.ID, "D", "resp-1", models.ExecCompleted, nil, "restored")
	require.NoError(t, err)

	assert.Equal(t, models.ExecCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	for _, s := range done.Steps {
		assert.Equal(t, models.ExecCompleted, s.Status)
		require.NotNil(t, s.StartedAt)
	}
	assert.Equal(t, "12", done.Steps[0].Output["hosts"])

	types := incidents.types()
	assert.Equal(t, models.EventPlaybookStarted, types[0])
	assert.Equal(t, models.EventPlaybookCompleted, types[len(types)-1])
	assert.Len(t, types, 1+4*2)
	last := incidents.events[len(incidents.events)-1]
	assert.Equal(t, "D", last.Details["step_id"])
	assert.Equal(t, string(models.ExecCompleted), last.Details["status"])
	for _, ev := range incidents.events {
		assert.Equal(t, models.SourcePlaybook, ev.Source)
	}
}

func TestStepFailureFailsExecution(t *testing.T) {
	exec, reg, incidents := newExecutor(t)
	ctx := context.Background()
	pb, err := reg.Create(ctx, diamond())
	require.NoError(t, err)
	run, err := exec.Start(ctx, "inc-1", pb.ID, "resp-1")
	require.NoError(t, err)

	_, err = exec.CompleteStep(ctx, run.ID, "A", "resp-1", models.ExecCompleted, nil, "")
	assert.ErrorIs(t, err, utils.ErrInvalidTransition, "a step must begin before it completes")
	_, err = exec.CompleteStep(ctx, run.ID, "A", "resp-1", models.ExecInProgress, nil, "")
	assert.ErrorIs(t, err, utils.ErrValidationFailed)

	_, err = exec.BeginStep(ctx, run.ID, "A", "resp-1")
	require.NoError(t, err)
	failed, err := exec.CompleteStep(ctx, run.ID, "A", "resp-1", models.ExecFailed, nil, "EDR unreachable")
	require.NoError(t, err)
	assert.Equal(t, models.ExecFailed, failed.Status)
	assert.Equal(t, models.EventPlaybookFailed, incidents.types()[len(incidents.types())-1])

	_, err = exec.BeginStep(ctx, run.ID, "B", "resp-1")
	assert.ErrorIs(t, err, utils.ErrInvalidTransition)
}

func TestSkippedStepsSatisfyDependencies(t *testing.T) {
	exec, reg, _ := newExecutor(t)
	ctx := context.Background()
	pb, err := reg.Create(ctx, diamond())
	require.NoError(t, err)
	run, err := exec.Start(ctx, "inc-1", pb.ID, "resp-1")
	require.NoError(t, err)

	_, err = exec.CompleteStep(ctx, run.ID, "A", "lead", models.ExecSkipped, nil, "hosts already offline")
	require.NoError(t, err)
	_, err = exec.CompleteStep(ctx, run.ID, "B", "lead", models.ExecSkipped, nil, "")
	require.NoError(t, err)
	_, err = exec.CompleteStep(ctx, run.ID, "C", "lead", models.ExecSkipped, nil, "")
	require.NoError(t, err)
	_, err = exec.BeginStep(ctx, run.ID, "D", "resp-1")
	require.NoError(t, err)
	done, err := exec.CompleteStep(ctx, run.ID, "D", "resp-1", models.ExecCompleted, nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.ExecCompleted, done.Status)
}

func TestSkipRequiresSatisfiedDependencies(t *testing.T) {
	exec, reg, incidents := newExecutor(t)
	ctx := context.Background()
	pb, err := reg.Create(ctx, diamond())
	require.NoError(t, err)
	run, err := exec.Start(ctx, "inc-1", pb.ID, "resp-1")
	require.NoError(t, err)

	_, err = exec.CompleteStep(ctx, run.ID, "D", "lead", models.ExecSkipped, nil, "not needed")
	assert.ErrorIs(t, err, utils.ErrDependencyUnmet)

	got, err := exec.Get(ctx, run.ID)
	require.NoError(t, err)
	for _, s := range got.Steps {
		assert.Equal(t, models.ExecNotStarted, s.Status, s.StepID)
	}
	assert.Equal(t, []string{models.EventPlaybookStarted}, incidents.types())
}

func TestRejectedTerminalEventLeavesExecutionUnchanged(t *testing.T) {
	exec, reg, incidents := newExecutor(t)
	ctx := context.Background()
	pb, err := reg.Create(ctx, models.Playbook{
		Name:  "Revoke tokens",
		Steps: []models.Step{{ID: "revoke", Number: 1, Title: "Revoke OAuth tokens"}},
	})
	require.NoError(t, err)
	run, err := exec.Start(ctx, "inc-1", pb.ID, "resp-1")
	require.NoError(t, err)
	_, err = exec.BeginStep(ctx, run.ID, "revoke", "resp-1")
	require.NoError(t, err)

	incidents.mu.Lock()
	incidents.reject = map[string]error{
		models.EventPlaybookCompleted: utils.NewKindError("audit.Submit", utils.KindStoragePluginError, "disk full", nil),
	}
	incidents.mu.Unlock()

	_, err = exec.CompleteStep(ctx, run.ID, "revoke", "resp-1", models.ExecCompleted, nil, "")
	assert.ErrorIs(t, err, utils.ErrStoragePlugin)

	got, err := exec.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecInProgress, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, models.ExecInProgress, got.Steps[0].Status)
	assert.Equal(t, []string{models.EventPlaybookStarted, models.EventPlaybookStepStarted}, incidents.types())

	incidents.mu.Lock()
	incidents.reject = nil
	incidents.mu.Unlock()
	done, err := exec.CompleteStep(ctx, run.ID, "revoke", "resp-1", models.ExecCompleted, nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.ExecCompleted, done.Status)
}

func TestPauseAndResume(t *testing.T) {
	exec, reg, incidents := newExecutor(t)
	ctx := context.Background()
	pb, err := reg.Create(ctx, diamond())
	require.NoError(t, err)
	run, err := exec.Start(ctx, "inc-1", pb.ID, "resp-1")
	require.NoError(t, err)

	_, err = exec.Resume(ctx, run.ID, "lead")
	assert.ErrorIs(t, err, utils.ErrInvalidTransition)

	paused, err := exec.Pause(ctx, run.ID, "lead", "waiting for legal")
	require.NoError(t, err)
	assert.Equal(t, models.ExecPaused, paused.Status)

	_, err = exec.BeginStep(ctx, run.ID, "A", "resp-1")
	assert.ErrorIs(t, err, utils.ErrInvalidTransition)
	ready, err := exec.ReadySteps(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, ready)

	resumed, err := exec.Resume(ctx, run.ID, "lead")
	require.NoError(t, err)
	assert.Equal(t, models.ExecInProgress, resumed.Status)
	_, err = exec.BeginStep(ctx, run.ID, "A", "resp-1")
	require.NoError(t, err)

	types := incidents.types()
	assert.Equal(t, []string{
		models.EventPlaybookStarted, models.EventPlaybookPaused, models.EventPlaybookResumed, models.EventPlaybookStepStarted,
	}, types)
}

func TestStartPreconditions(t *testing.T) {
	exec, reg, incidents := newExecutor(t)
	ctx := context.Background()
	pb, err := reg.Create(ctx, diamond())
	require.NoError(t, err)

	incidents.closed["inc-closed"] = true
	_, err = exec.Start(ctx, "inc-closed", pb.ID, "resp-1")
	assert.ErrorIs(t, err, utils.ErrIncidentFrozen)

	_, err = exec.Start(ctx, "inc-1", "missing", "resp-1")
	assert.ErrorIs(t, err, utils.ErrNotFound)

	running, err := exec.Start(ctx, "inc-1", pb.ID, "resp-1")
	require.NoError(t, err)
	_, err = reg.Deactivate(ctx, pb.ID)
	require.NoError(t, err)
	_, err = exec.Start(ctx, "inc-1", pb.ID, "resp-1")
	assert.ErrorIs(t, err, utils.ErrValidationFailed)

	_, err = exec.BeginStep(ctx, running.ID, "A", "resp-1")
	require.NoError(t, err, "deactivation must not affect running executions")

	list, err := exec.ListByIncident(ctx, "inc-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	none, err := exec.ListByIncident(ctx, "inc-closed")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRegistryValidation(t *testing.T) {
	reg := NewRegistry(fixedClock, utils.DiscardLogger())
	ctx := context.Background()

	cases := map[string]models.Playbook{
		"no name":  {Steps: []models.Step{{ID: "a", Number: 1}}},
		"no steps": {Name: "x"},
		"dup number": {Name: "x", Steps: []models.Step{
			{ID: "a", Number: 1}, {ID: "b", Number: 1},
		}},
		"dup id": {Name: "x", Steps: []models.Step{
			{ID: "a", Number: 1}, {ID: "a", Number: 2},
		}},
		"unknown dep": {Name: "x", Steps: []models.Step{
			{ID: "a", Number: 1, DependsOn: []string{"zz"}},
		}},
		"self dep": {Name: "x", Steps: []models.Step{
			{ID: "a", Number: 1, DependsOn: []string{"a"}},
		}},
		"cycle": {Name: "x", Steps: []models.Step{
			{ID: "a", Number: 1, DependsOn: []string{"c"}},
			{ID: "b", Number: 2, DependsOn: []string{"a"}},
			{ID: "c", Number: 3, DependsOn: []string{"b"}},
		}},
		"zero number": {Name: "x", Steps: []models.Step{{ID: "a"}}},
	}
	for name, pb := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Create(ctx, pb)
			assert.ErrorIs(t, err, utils.ErrValidationFailed)
		})
	}
	all, err := reg.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFindCycleReportsPath(t *testing.T) {
	cycle := findCycle([]models.Step{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	})
	assert.Equal(t, []string{"a", "b", "a"}, cycle)
	assert.Nil(t, findCycle(diamond().Steps))
}

func TestNewVersionLeavesOriginalUntouched(t *testing.T) {
	reg := NewRegistry(fixedClock, utils.DiscardLogger())
	ctx := context.Background()
	v1, err := reg.Create(ctx, diamond())
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.True(t, v1.Active)

	revision := diamond()
	revision.Steps = append(revision.Steps, models.Step{ID: "E", Number: 5, Title: "Notify regulator", DependsOn: []string{"D"}})
	v2, err := reg.NewVersion(ctx, v1.ID, revision)
	require.NoError(t, err)
	assert.NotEqual(t, v1.ID, v2.ID)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, v1.ID, v2.SupersedesPlaybook)

	again, err := reg.Get(ctx, v1.ID)
	require.NoError(t, err)
	assert.Len(t, again.Steps, 4)
	assert.Equal(t, 1, again.Version)

	v3, err := reg.NewVersion(ctx, v1.ID, revision)
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version)

	_, err = reg.NewVersion(ctx, "missing", revision)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestApplicable(t *testing.T) {
	reg := NewRegistry(fixedClock, utils.DiscardLogger())
	ctx := context.Background()
	pb := diamond()
	pb.MinimumSeverity = models.SeverityHigh
	_, err := reg.Create(ctx, pb)
	require.NoError(t, err)

	hits, err := reg.Applicable(ctx, models.CategoryMalware, models.SeverityCritical)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	hits, err = reg.Applicable(ctx, models.CategoryMalware, models.SeverityLow)
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = reg.Applicable(ctx, models.CategoryPhishing, models.SeverityCritical)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLoadPack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playbooks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`playbooks:
  - name: Phishing triage
    category: Phishing
    minimum_severity: Low
    estimated_duration: 2h
    steps:
      - number: 1
        title: Pull message headers
        estimated_duration: 15m
      - number: 2
        title: Purge from mailboxes
        depends_on: [step-1]
`), 0o644))

	reg := NewRegistry(fixedClock, utils.DiscardLogger())
	ctx := context.Background()
	n, err := reg.LoadPack(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := reg.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	pb := all[0]
	assert.Equal(t, models.CategoryPhishing, pb.Category)
	assert.Equal(t, 2*time.Hour, pb.EstimatedDuration)
	assert.Equal(t, "step-1", pb.Steps[0].ID)
	assert.Equal(t, 15*time.Minute, pb.Steps[0].EstimatedDuration)

	n, err = reg.LoadPack(ctx, filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
