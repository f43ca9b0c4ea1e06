package api

import (
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-ir/internal/models"
)

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	return s
}

func TestDecodeCreateIncidentRequest(t *testing.T) {
	in := mustStruct(t, map[string]any{
		"title":            "Ransomware on file server",
		"severity":         "critical",
		"category":         "malware",
		"priority":         2,
		"reporter":         "soc",
		"detected_at":      "2026-05-01T08:30:00Z",
		"affected_systems": []any{"fs-01", "fs-02"},
		"impact":           map[string]any{"availability_loss": 0.8},
	})

	var req CreateIncidentRequest
	if err := DecodeStruct(in, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	draft, err := req.Draft()
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if draft.Severity != models.SeverityCritical || draft.Category != models.CategoryMalware {
		t.Fatalf("enumerations not normalised: %+v", draft)
	}
	if draft.Priority != 2 || len(draft.AffectedSystems) != 2 {
		t.Fatalf("unexpected draft: %+v", draft)
	}
	if !draft.DetectedAt.Equal(time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected detected_at %v", draft.DetectedAt)
	}
	if draft.Impact.AvailabilityLoss != 0.8 {
		t.Fatalf("impact not decoded: %+v", draft.Impact)
	}
}

func TestDraftRejectsUnknownEnumerations(t *testing.T) {
	if _, err := (CreateIncidentRequest{Severity: "catastrophic"}).Draft(); err == nil {
		t.Fatalf("expected unknown severity to fail")
	}
	if _, err := (CreateIncidentRequest{Severity: "High", Category: "weather"}).Draft(); err == nil {
		t.Fatalf("expected unknown category to fail")
	}
	if _, err := (EvidenceRequest{Type: "hologram"}).Draft(); err == nil {
		t.Fatalf("expected unknown evidence type to fail")
	}
}

func TestDecodeEmbeddedIncidentRef(t *testing.T) {
	var req AssignRequest
	if err := DecodeStruct(mustStruct(t, map[string]any{"id": "inc-1", "actor": "lead", "responder": "alice"}), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.ID != "inc-1" || req.Actor != "lead" || req.Responder != "alice" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if err := DecodeStruct(nil, &req); err == nil {
		t.Fatalf("expected nil request to fail")
	}
}

func TestEncodeStruct(t *testing.T) {
	out, err := EncodeStruct(&models.Investigation{ID: "inv-1", IncidentID: "inc-1", ToolsUsed: []string{"volatility"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := out.Fields["id"].GetStringValue(); got != "inv-1" {
		t.Fatalf("unexpected id %q", got)
	}

	list, err := EncodeStruct([]string{"a", "b"})
	if err != nil {
		t.Fatalf("encode list: %v", err)
	}
	if n := len(list.Fields["items"].GetListValue().GetValues()); n != 2 {
		t.Fatalf("expected 2 wrapped items, got %d", n)
	}
}

func TestSearchAuditCriteria(t *testing.T) {
	criteria, err := SearchAuditRequest{Severities: []string{"high", "Critical"}, Policy: "standard_retention", Sort: "timestamp_asc"}.Criteria()
	if err != nil {
		t.Fatalf("criteria: %v", err)
	}
	if len(criteria.Severities) != 2 || criteria.Severities[0] != models.SeverityHigh {
		t.Fatalf("unexpected severities %v", criteria.Severities)
	}
	if criteria.RetentionPolicyID != "standard_retention" || criteria.Sort != models.SortTimestampAsc {
		t.Fatalf("unexpected criteria %+v", criteria)
	}
	if _, err := (SearchAuditRequest{Sort: "random"}).Criteria(); err == nil {
		t.Fatalf("expected unknown sort order to fail")
	}
}
