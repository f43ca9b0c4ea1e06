package investigation

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-ir/internal/audit"
	"github.com/miradorstack/mirador-ir/internal/incident"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/storage"
	"github.com/miradorstack/mirador-ir/internal/timeline"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

func newTracker(t *testing.T) (*Tracker, *incident.Manager) {
	t.Helper()
	store := storage.NewMemoryStore(1000)
	sink, err := audit.NewSink(audit.Options{Store: store, Logger: utils.DiscardLogger()})
	require.NoError(t, err)
	mgr, err := incident.NewManager(incident.Options{
		Store:    store,
		Recorder: timeline.NewRecorder(sink, nil, nil, utils.DiscardLogger()),
		Logger:   utils.DiscardLogger(),
	})
	require.NoError(t, err)
	return NewTracker(mgr, nil, utils.DiscardLogger()), mgr
}

func openIncident(t *testing.T, mgr *incident.Manager) *models.Incident {
	t.Helper()
	inc, err := mgr.Create(context.Background(), models.IncidentDraft{
		Title:    "Lateral movement from jump host",
		Severity: models.SeverityHigh,
		Reporter: "soc",
	})
	require.NoError(t, err)
	return inc
}

func incidentEventTypes(t *testing.T, mgr *incident.Manager, id string) []string {
	t.Helper()
	events, err := mgr.Timeline(context.Background(), id)
	require.NoError(t, err)
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.EventType
	}
	return out
}

func TestInvestigationLifecycle(t *testing.T) {
	tracker, mgr := newTracker(t)
	ctx := context.Background()
	inc := openIncident(t, mgr)

	inv, err := tracker.Open(ctx, inc.ID, "forensics-1", "jump-01 and file shares")
	require.NoError(t, err)
	assert.False(t, inv.Closed())

	_, err = tracker.SetMethodology(ctx, inv.ID, "NIST SP 800-86")
	require.NoError(t, err)
	_, err = tracker.AddTool(ctx, inv.ID, "volatility")
	require.NoError(t, err)
	_, err = tracker.AddTool(ctx, inv.ID, "volatility")
	require.NoError(t, err)
	_, err = tracker.AttachEvidence(ctx, inv.ID, "ev-1")
	require.NoError(t, err)

	later := time.Date(2026, 5, 2, 3, 0, 0, 0, time.UTC)
	earlier := later.Add(-2 * time.Hour)
	_, err = tracker.AppendReconstruction(ctx, inv.ID, models.ReconstructedEvent{At: later, Description: "RDP to file server", Source: "4624"})
	require.NoError(t, err)
	_, err = tracker.AppendReconstruction(ctx, inv.ID, models.ReconstructedEvent{At: earlier, Description: "Phishing payload executed", Source: "sysmon"})
	require.NoError(t, err)

	_, err = tracker.RecordFinding(ctx, inv.ID, "forensics-1", models.Finding{
		Title:        "Mimikatz artefacts in memory",
		Severity:     models.SeverityHigh,
		Confidence:   0.9,
		EvidenceRefs: []string{"ev-1"},
	})
	require.NoError(t, err)
	_, err = tracker.SetAttribution(ctx, inv.ID, "forensics-1", models.Attribution{Actor: "FIN7", Confidence: 0.4, Techniques: []string{"T1003", "T1021", "T1003"}})
	require.NoError(t, err)

	closed, err := tracker.Close(ctx, inv.ID, "forensics-1", "reports/inv-1.pdf")
	require.NoError(t, err)
	assert.True(t, closed.Closed())
	assert.Equal(t, "reports/inv-1.pdf", closed.ReportPath)
	assert.Equal(t, "NIST SP 800-86", closed.Methodology)
	assert.Equal(t, []string{"volatility"}, closed.ToolsUsed)
	assert.Equal(t, []string{"ev-1"}, closed.EvidenceCollected)
	require.Len(t, closed.TimelineReconstruction, 2)
	assert.Equal(t, "Phishing payload executed", closed.TimelineReconstruction[0].Description)
	require.Len(t, closed.Findings, 1)
	assert.Equal(t, []string{"T1003", "T1021"}, closed.Attribution.Techniques)

	_, err = tracker.Close(ctx, inv.ID, "forensics-1", "again")
	assert.ErrorIs(t, err, utils.ErrValidationFailed)
	_, err = tracker.AddTool(ctx, inv.ID, "ftk")
	assert.ErrorIs(t, err, utils.ErrValidationFailed)

	assert.Equal(t, []string{
		models.EventIncidentCreated,
		models.EventInvestigationStarted,
		models.EventInvestigationFinding,
		models.EventInvestigationUpdated,
		models.EventInvestigationClosed,
	}, incidentEventTypes(t, mgr, inc.ID))

	list, err := tracker.ListByIncident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClosedIncidentFreezesFindings(t *testing.T) {
	tracker, mgr := newTracker(t)
	ctx := context.Background()
	inc := openIncident(t, mgr)

	inv, err := tracker.Open(ctx, inc.ID, "forensics-1", "scope")
	require.NoError(t, err)
	_, err = mgr.Transition(ctx, inc.ID, "lead", models.StatusClosed, "false positive")
	require.NoError(t, err)

	_, err = tracker.RecordFinding(ctx, inv.ID, "forensics-1", models.Finding{Title: "late finding"})
	assert.ErrorIs(t, err, utils.ErrIncidentFrozen)
	_, err = tracker.AttachEvidence(ctx, inv.ID, "ev-9")
	assert.ErrorIs(t, err, utils.ErrIncidentFrozen)
	_, err = tracker.Open(ctx, inc.ID, "forensics-2", "scope")
	assert.ErrorIs(t, err, utils.ErrIncidentFrozen)

	got, err := tracker.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Findings)
	assert.Empty(t, got.EvidenceCollected)

	closed, err := tracker.Close(ctx, inv.ID, "forensics-1", "reports/fp.pdf")
	require.NoError(t, err)
	assert.True(t, closed.Closed())
	types := incidentEventTypes(t, mgr, inc.ID)
	assert.Equal(t, models.EventInvestigationClosed, types[len(types)-1])
}

func TestInvestigationValidation(t *testing.T) {
	tracker, mgr := newTracker(t)
	ctx := context.Background()
	inc := openIncident(t, mgr)

	_, err := tracker.Open(ctx, "missing", "forensics-1", "scope")
	assert.ErrorIs(t, err, utils.ErrNotFound)
	_, err = tracker.Open(ctx, inc.ID, " ", "scope")
	assert.ErrorIs(t, err, utils.ErrValidationFailed)

	inv, err := tracker.Open(ctx, inc.ID, "forensics-1", "scope")
	require.NoError(t, err)
	_, err = tracker.RecordFinding(ctx, inv.ID, "f", models.Finding{Title: "x", Confidence: 1.5})
	assert.ErrorIs(t, err, utils.ErrValidationFailed)
	_, err = tracker.RecordFinding(ctx, inv.ID, "f", models.Finding{Title: "x", Confidence: math.NaN()})
	assert.ErrorIs(t, err, utils.ErrValidationFailed)
	_, err = tracker.SetAttribution(ctx, inv.ID, "f", models.Attribution{Actor: "APT-X", Confidence: math.NaN()})
	assert.ErrorIs(t, err, utils.ErrValidationFailed)
	_, err = tracker.RecordFinding(ctx, inv.ID, "f", models.Finding{})
	assert.ErrorIs(t, err, utils.ErrValidationFailed)
	_, err = tracker.AppendReconstruction(ctx, inv.ID, models.ReconstructedEvent{Description: "no instant"})
	assert.ErrorIs(t, err, utils.ErrValidationFailed)
	_, err = tracker.SetAttribution(ctx, inv.ID, "f", models.Attribution{})
	assert.ErrorIs(t, err, utils.ErrValidationFailed)
	_, err = tracker.Get(ctx, "missing")
	assert.ErrorIs(t, err, utils.ErrNotFound)
}
