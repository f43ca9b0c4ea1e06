package engine

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/miradorstack/mirador-ir/internal/models"
)

func TestRuleEngineRecommend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(`rules:
  - id: gdpr-breach
    match:
      framework: "gdpr"
      status: "NonCompliant"
      requirement_contains: ["breach"]
    recommendations: ["Notify the supervisory authority within 72 hours"]
  - id: silent
    match:
      no_evidence: true
    recommendations: ["Enable auditing for the mapped event types"]
`), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	engine, err := NewRuleEngine(path, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	section := models.RequirementReport{
		RequirementID: "Art.33",
		Title:         "Notification of a personal data breach",
		Status:        models.NonCompliant,
		TotalEvents:   4,
		FailedEvents:  2,
		EventsByType:  map[string]int{"security_breach": 4},
	}
	recs := engine.Recommend("GDPR", section)
	if len(recs) != 1 || recs[0] != "Notify the supervisory authority within 72 hours" {
		t.Fatalf("unexpected recommendations: %v", recs)
	}

	if recs := engine.Recommend("SOX", section); len(recs) != 0 {
		t.Fatalf("expected framework mismatch to yield nothing, got %v", recs)
	}

	empty := models.RequirementReport{RequirementID: "404", Status: models.Compliant}
	recs = engine.Recommend("SOX", empty)
	if len(recs) != 1 || recs[0] != "Enable auditing for the mapped event types" {
		t.Fatalf("expected no-evidence rule, got %v", recs)
	}
}

func TestRuleEngineMinFailed(t *testing.T) {
	engine := &RuleEngine{rules: []Rule{{
		ID:              "failures",
		Match:           RuleMatch{MinFailed: 3, EventTypes: []string{"login_failed"}},
		Recommendations: []string{"Review lockout thresholds", ""},
	}}}

	section := models.RequirementReport{FailedEvents: 2, EventsByType: map[string]int{"login_failed": 2}}
	if recs := engine.Recommend("PCI-DSS", section); len(recs) != 0 {
		t.Fatalf("expected no recommendations below threshold, got %v", recs)
	}
	section.FailedEvents = 3
	if recs := engine.Recommend("PCI-DSS", section); len(recs) != 1 {
		t.Fatalf("expected one recommendation, got %v", recs)
	}
}

func TestRuleEngineNoFile(t *testing.T) {
	engine, err := NewRuleEngine("non-existent", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if engine != nil {
		t.Fatalf("expected nil engine when file missing")
	}
	if recs := engine.Recommend("GDPR", models.RequirementReport{}); recs != nil {
		t.Fatalf("nil engine must not recommend, got %v", recs)
	}
}

func TestAppendUnique(t *testing.T) {
	got := AppendUnique([]string{"a"}, "b", "a", "", "b", "c")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected result: %v", got)
	}
}
