package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-ir/internal/engine"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/storage"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// seedLogins submits n login events one minute apart; every third one failed.
func seedLogins(t *testing.T, sink *Sink, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ev := models.AuditEvent{
			EventType: models.AuditUserLogin,
			Timestamp: baseTime.Add(time.Duration(i) * time.Minute),
			Actor:     models.AuditActor{Type: models.ActorUser, ID: "user-" + string(rune('a'+i%3)), Address: "192.0.2.1"},
			Resource:  models.AuditResource{Type: "console", ID: "web"},
			Action:    models.AuditAction{Type: "login", Description: "Interactive login", Outcome: models.OutcomeSuccess},
		}
		if i%3 == 2 {
			ev.EventType = models.AuditLoginFailed
			ev.Action.Outcome = models.OutcomeFailed
			ev.Action.ErrorDetails = "bad password"
		}
		_, err := sink.Submit(context.Background(), ev)
		require.NoError(t, err)
	}
}

func TestSearchPagingAndSort(t *testing.T) {
	sink := newTestSink(t, nil, PolicySet{})
	seedLogins(t, sink, 12)
	ctx := context.Background()

	page, err := sink.Search(ctx, models.AuditCriteria{PageSize: 5, Page: 3})
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Records, 2)
	// newest first: the last page holds the two oldest records
	assert.Equal(t, baseTime.Add(time.Minute), page.Records[0].Timestamp)
	assert.Equal(t, baseTime, page.Records[1].Timestamp)

	asc, err := sink.Search(ctx, models.AuditCriteria{Sort: models.SortTimestampAsc, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, baseTime, asc.Records[0].Timestamp)

	beyond, err := sink.Search(ctx, models.AuditCriteria{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, beyond.Records)
	assert.Equal(t, 12, beyond.Total)
}

func TestSearchCriteria(t *testing.T) {
	sink := newTestSink(t, nil, PolicySet{})
	seedLogins(t, sink, 9)
	ctx := context.Background()

	failed, err := sink.Search(ctx, models.AuditCriteria{EventTypes: []string{models.AuditLoginFailed}})
	require.NoError(t, err)
	assert.Equal(t, 3, failed.Total)

	byActor, err := sink.Search(ctx, models.AuditCriteria{Actors: []string{"user-a"}})
	require.NoError(t, err)
	assert.Equal(t, 3, byActor.Total)

	text, err := sink.Search(ctx, models.AuditCriteria{Text: "INTERACTIVE"})
	require.NoError(t, err)
	assert.Equal(t, 9, text.Total)

	window, err := sink.Search(ctx, models.AuditCriteria{Start: baseTime.Add(2 * time.Minute), End: baseTime.Add(4 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, 3, window.Total)

	tagged, err := sink.Search(ctx, models.AuditCriteria{ComplianceTags: []string{"PCI-DSS:10.2"}})
	require.NoError(t, err)
	assert.Equal(t, 9, tagged.Total)

	_, err = sink.Search(ctx, models.AuditCriteria{Start: baseTime, End: baseTime.Add(-time.Hour)})
	assert.ErrorIs(t, err, utils.ErrValidationFailed)
}

func TestExportJSONRoundTrip(t *testing.T) {
	sink := newTestSink(t, nil, PolicySet{})
	seedLogins(t, sink, 4)
	ctx := context.Background()

	page, err := sink.Search(ctx, models.AuditCriteria{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, sink.Export(ctx, models.AuditCriteria{}, FormatJSON, &buf))
	assert.True(t, strings.HasPrefix(buf.String(), "[\n  {"))

	var decoded []models.AuditRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, len(page.Records))
	for i := range decoded {
		want, got := page.Records[i], decoded[i]
		assert.True(t, want.Timestamp.Equal(got.Timestamp))
		got.Timestamp = want.Timestamp
		assert.Equal(t, want, got)
	}
}

func TestExportCSV(t *testing.T) {
	sink := newTestSink(t, nil, PolicySet{})
	seedLogins(t, sink, 3)

	var buf bytes.Buffer
	require.NoError(t, sink.Export(context.Background(), models.AuditCriteria{Sort: models.SortTimestampAsc}, FormatCSV, &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "timestamp,event_type,actor,resource_type,resource_id,action_type,outcome,severity", strings.Join(rows[0], ","))
	assert.Equal(t, []string{"2026-03-01T09:00:00Z", "user_login", "user-a", "console", "web", "login", "Success", "Low"}, rows[1])
	assert.Equal(t, []string{"2026-03-01T09:02:00Z", "login_failed", "user-c", "console", "web", "login", "Failed", "Medium"}, rows[3])
}

func TestExportCEF(t *testing.T) {
	rec := models.AuditRecord{
		EventType: models.AuditSecurityBreach,
		Actor:     models.AuditActor{ID: "ids", Address: "198.51.100.4"},
		Resource:  models.AuditResource{Type: "host", ID: "db=1"},
		Action:    models.AuditAction{Description: "Exfiltration | detected"},
		Severity:  models.SeverityCritical,
	}
	assert.Equal(t,
		`CEF:0|PhantomSpire|AuditEngine|1.0|security_breach|Exfiltration \| detected|10|src=198.51.100.4 suser=ids cs1=host cs2=db\=1`,
		CEFLine(rec))

	sink := newTestSink(t, nil, PolicySet{})
	seedLogins(t, sink, 3)
	var buf bytes.Buffer
	require.NoError(t, sink.Export(context.Background(), models.AuditCriteria{Sort: models.SortTimestampAsc}, FormatCEF, &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "CEF:0|PhantomSpire|AuditEngine|1.0|user_login|Interactive login|3|src=192.0.2.1 suser=user-a cs1=console cs2=web", lines[0])
	assert.Contains(t, lines[2], "|login_failed|Interactive login|5|")
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "csv": FormatCSV, "siem": FormatCEF, "CEF": FormatCEF} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.ErrorIs(t, err, utils.ErrValidationFailed)
}

func TestComplianceReportStatuses(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte(`rules:
  - id: lockout
    match:
      framework: PCI-DSS
      status: NonCompliant
      event_types: ["login_failed"]
    recommendations: ["Tighten account lockout thresholds"]
`), 0o644))
	recommender, err := engine.NewRuleEngine(rules, utils.DiscardLogger())
	require.NoError(t, err)

	sink, err := NewSink(Options{
		Store:       storage.NewMemoryStore(100),
		Clock:       fixedClock,
		Logger:      utils.DiscardLogger(),
		Recommender: recommender,
	})
	require.NoError(t, err)
	seedLogins(t, sink, 9)

	report, err := sink.ComplianceReport(context.Background(), "pci-dss", baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "PCI-DSS", report.Framework)
	assert.Equal(t, models.NonCompliant, report.Status)
	require.Len(t, report.Requirements, 2)

	trails := report.Requirements[0]
	assert.Equal(t, "10.2", trails.RequirementID)
	assert.Equal(t, 9, trails.TotalEvents)
	assert.Equal(t, 3, trails.FailedEvents)
	assert.Equal(t, map[string]int{models.AuditUserLogin: 6, models.AuditLoginFailed: 3}, trails.EventsByType)
	assert.Equal(t, map[models.Severity]int{models.SeverityLow: 6, models.SeverityMedium: 3}, trails.SeverityDistribution)
	assert.Equal(t, models.NonCompliant, trails.Status)
	assert.Len(t, trails.Violations, 3)
	assert.Contains(t, trails.Violations[0], "bad password")
	assert.Contains(t, trails.Recommendations, "Tighten account lockout thresholds")

	plan := report.Requirements[1]
	assert.Equal(t, 0, plan.TotalEvents)
	assert.Equal(t, models.Compliant, plan.Status)
	require.Len(t, plan.Recommendations, 1)
	assert.Contains(t, plan.Recommendations[0], "PCI-DSS:12.10")

	_, err = sink.ComplianceReport(context.Background(), "FedRAMP", baseTime, baseTime.Add(time.Hour))
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestRequirementStatusThresholds(t *testing.T) {
	assert.Equal(t, models.Compliant, requirementStatus(0, 0))
	assert.Equal(t, models.Compliant, requirementStatus(50, 0))
	assert.Equal(t, models.PartiallyCompliant, requirementStatus(100, 10))
	assert.Equal(t, models.NonCompliant, requirementStatus(100, 11))
	assert.Equal(t, models.NonCompliant, requirementStatus(1, 1))

	assert.Equal(t, models.Compliant, overallStatus([]models.RequirementReport{{Status: models.Compliant}}))
	assert.Equal(t, models.PartiallyCompliant, overallStatus([]models.RequirementReport{{Status: models.Compliant}, {Status: models.PartiallyCompliant}}))
	assert.Equal(t, models.NonCompliant, overallStatus([]models.RequirementReport{{Status: models.PartiallyCompliant}, {Status: models.NonCompliant}}))
}

func TestArchiveCompressed(t *testing.T) {
	store := storage.NewMemoryStore(100)
	later := func() time.Time { return baseTime.Add(400 * 24 * time.Hour) }
	sink, err := NewSink(Options{Store: store, Clock: later, Logger: utils.DiscardLogger()})
	require.NoError(t, err)
	seedLogins(t, sink, 3)

	recent := models.AuditEvent{
		EventType: models.AuditUserLogin,
		Timestamp: later().Add(-time.Hour),
		Actor:     models.AuditActor{ID: "user-z"},
		Action:    models.AuditAction{Type: "login"},
	}
	_, err = sink.Submit(context.Background(), recent)
	require.NoError(t, err)

	policy, err := sink.RetentionPolicy("security_retention")
	require.NoError(t, err)
	require.True(t, policy.CompressionEnabled)
	policy.ArchiveAfter = 30 * 24 * time.Hour
	require.NoError(t, sink.AddRetentionPolicy(policy))

	var buf bytes.Buffer
	res, err := sink.Archive(context.Background(), "security_retention", &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Archived)
	assert.Zero(t, res.PastRetention)
	assert.True(t, res.Compressed)

	records, err := ReadArchive(&buf, true)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, baseTime.Equal(records[0].Timestamp))

	_, err = sink.Archive(context.Background(), "nope", &buf)
	assert.ErrorIs(t, err, utils.ErrNotFound)
}

func TestLoadPolicyFile(t *testing.T) {
	set, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicies().Configurations[0].ID, set.Configurations[0].ID)

	path := filepath.Join(t.TempDir(), "audit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`retention_policies:
  - id: short_retention
    retention_period: 720h
    archive_after: 168h
    compression_enabled: true
configurations:
  - id: breaches
    name: Breaches
    event_types: [security_breach]
    retention_policy_id: short_retention
    filters:
      min_severity: High
    enabled: true
`), 0o644))

	set, err = LoadPolicyFile(path)
	require.NoError(t, err)
	require.Len(t, set.RetentionPolicies, 1)
	assert.Equal(t, 720*time.Hour, set.RetentionPolicies[0].RetentionPeriod)
	assert.Equal(t, models.SeverityHigh, set.Configurations[0].Filters.MinSeverity)
	assert.NotEmpty(t, set.ComplianceMappings)

	sink, err := NewSink(Options{Store: storage.NewMemoryStore(10), Logger: utils.DiscardLogger(), Policies: set})
	require.NoError(t, err)
	_, err = sink.Submit(context.Background(), models.AuditEvent{EventType: models.AuditSecurityBreach})
	require.NoError(t, err)
	page, err := sink.Search(context.Background(), models.AuditCriteria{RetentionPolicyID: "short_retention"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Contains(t, page.Records[0].ComplianceTags, "GDPR:Art.33")
}
