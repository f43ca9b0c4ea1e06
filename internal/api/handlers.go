package api

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-ir/internal/models"
)

// DecodeStruct maps a request message onto dst through its JSON form.
func DecodeStruct(in *structpb.Struct, dst any) error {
	if in == nil {
		return fmt.Errorf("request is nil")
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// EncodeStruct converts a domain value into a response message. Slices are wrapped under
// an "items" key since a Struct must be an object.
func EncodeStruct(v any) (*structpb.Struct, error) {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice {
		v = map[string]any{"items": v}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("convert response: %w", err)
	}
	return out, nil
}

// IncidentRef addresses an incident on behalf of an actor.
type IncidentRef struct {
	ID    string `json:"id"`
	Actor string `json:"actor"`
}

// CreateIncidentRequest is the wire form of an incident draft.
type CreateIncidentRequest struct {
	Title                  string        `json:"title"`
	Description            string        `json:"description"`
	Category               string        `json:"category"`
	Severity               string        `json:"severity"`
	Priority               int           `json:"priority"`
	DetectedAt             time.Time     `json:"detected_at"`
	Reporter               string        `json:"reporter"`
	IncidentCommander      string        `json:"incident_commander"`
	AffectedSystems        []string      `json:"affected_systems"`
	AffectedUsers          []string      `json:"affected_users"`
	Indicators             []string      `json:"indicators"`
	Tags                   []string      `json:"tags"`
	Impact                 models.Impact `json:"impact"`
	CostEstimate           float64       `json:"cost_estimate"`
	ComplianceRequirements []string      `json:"compliance_requirements"`
}

// Draft converts the request into a domain draft. Enumerations accept any casing.
func (r CreateIncidentRequest) Draft() (models.IncidentDraft, error) {
	severity, ok := models.ParseSeverity(r.Severity)
	if !ok {
		return models.IncidentDraft{}, fmt.Errorf("unknown severity %q", r.Severity)
	}
	var category models.Category
	if strings.TrimSpace(r.Category) != "" {
		if category, ok = models.ParseCategory(r.Category); !ok {
			return models.IncidentDraft{}, fmt.Errorf("unknown category %q", r.Category)
		}
	}
	return models.IncidentDraft{
		Title:                  r.Title,
		Description:            r.Description,
		Category:               category,
		Severity:               severity,
		Priority:               r.Priority,
		DetectedAt:             r.DetectedAt,
		Reporter:               r.Reporter,
		IncidentCommander:      r.IncidentCommander,
		AffectedSystems:        r.AffectedSystems,
		AffectedUsers:          r.AffectedUsers,
		Indicators:             r.Indicators,
		Tags:                   r.Tags,
		Impact:                 r.Impact,
		CostEstimate:           r.CostEstimate,
		ComplianceRequirements: r.ComplianceRequirements,
	}, nil
}

// ListIncidentsRequest filters ListIncidents.
type ListIncidentsRequest struct {
	Status   string `json:"status"`
	Severity string `json:"severity"`
	Category string `json:"category"`
	Assignee string `json:"assignee"`
	Limit    int    `json:"limit"`
}

// UpdateIncidentRequest carries a partial update.
type UpdateIncidentRequest struct {
	IncidentRef
	Patch models.IncidentPatch `json:"patch"`
}

// AssignRequest hands an incident to a responder.
type AssignRequest struct {
	IncidentRef
	Responder string `json:"responder"`
}

// EscalateRequest raises or lowers the severity.
type EscalateRequest struct {
	IncidentRef
	Severity string `json:"severity"`
	Reason   string `json:"reason"`
}

// EvidenceRequest registers collected evidence.
type EvidenceRequest struct {
	IncidentRef
	Name            string `json:"name"`
	Type            string `json:"type"`
	Description     string `json:"description"`
	Source          string `json:"source"`
	Hash            string `json:"hash"`
	SizeBytes       int64  `json:"size_bytes"`
	StorageLocation string `json:"storage_location"`
}

// Draft converts the request into a domain evidence draft.
func (r EvidenceRequest) Draft() (models.EvidenceDraft, error) {
	var kind models.EvidenceType
	if r.Type != "" {
		var ok bool
		if kind, ok = models.ParseEvidenceType(r.Type); !ok {
			return models.EvidenceDraft{}, fmt.Errorf("unknown evidence type %q", r.Type)
		}
	}
	return models.EvidenceDraft{
		Name:            r.Name,
		Type:            kind,
		Description:     r.Description,
		Source:          r.Source,
		Hash:            r.Hash,
		SizeBytes:       r.SizeBytes,
		StorageLocation: r.StorageLocation,
	}, nil
}

// TaskRequest adds a task to an incident.
type TaskRequest struct {
	IncidentRef
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Assignee    string     `json:"assignee"`
	Priority    int        `json:"priority"`
	DueAt       *time.Time `json:"due_at"`
}

// CommunicationRequest logs a stakeholder communication.
type CommunicationRequest struct {
	IncidentRef
	Channel  string `json:"channel"`
	Audience string `json:"audience"`
	Message  string `json:"message"`
}

// ActionRequest records a containment, eradication or recovery action.
type ActionRequest struct {
	IncidentRef
	Phase       string `json:"phase"`
	Description string `json:"description"`
	Outcome     string `json:"outcome"`
	Automated   bool   `json:"automated"`
}

// LessonRequest records a lesson learned.
type LessonRequest struct {
	IncidentRef
	Category       string `json:"category"`
	Observation    string `json:"observation"`
	Recommendation string `json:"recommendation"`
	Owner          string `json:"owner"`
}

// NotificationRequest records a notification sent outside the organisation.
type NotificationRequest struct {
	IncidentRef
	RecipientKind string     `json:"recipient_kind"`
	Recipient     string     `json:"recipient"`
	Reference     string     `json:"reference"`
	RequiredBy    *time.Time `json:"required_by"`
}

// TransitionRequest moves an incident along the lifecycle graph.
type TransitionRequest struct {
	IncidentRef
	Status string `json:"status"`
	Note   string `json:"note"`
}

// CloseRequest resolves an incident for good.
type CloseRequest struct {
	IncidentRef
	Resolution string `json:"resolution"`
}

// ReopenRequest reopens a resolved or closed incident.
type ReopenRequest struct {
	IncidentRef
	Reason string `json:"reason"`
}

// StartPlaybookRequest instantiates a playbook on an incident.
type StartPlaybookRequest struct {
	IncidentID string `json:"incident_id"`
	PlaybookID string `json:"playbook_id"`
	Actor      string `json:"actor"`
}

// PlaybookRef addresses a playbook definition.
type PlaybookRef struct {
	ID string `json:"id"`
}

// NewPlaybookVersionRequest revises a playbook definition.
type NewPlaybookVersionRequest struct {
	ID       string          `json:"id"`
	Revision models.Playbook `json:"revision"`
}

// ListPlaybooksRequest filters ListPlaybooks. Category and severity select applicable
// playbooks when set.
type ListPlaybooksRequest struct {
	ActiveOnly bool   `json:"active_only"`
	Category   string `json:"category"`
	Severity   string `json:"severity"`
}

// StepRequest begins or completes an execution step.
type StepRequest struct {
	ExecutionID string            `json:"execution_id"`
	StepID      string            `json:"step_id"`
	Actor       string            `json:"actor"`
	Status      string            `json:"status"`
	Output      map[string]string `json:"output"`
	Notes       string            `json:"notes"`
}

// ExecutionRequest addresses a playbook execution.
type ExecutionRequest struct {
	ExecutionID string `json:"execution_id"`
	IncidentID  string `json:"incident_id"`
	Actor       string `json:"actor"`
	Reason      string `json:"reason"`
}

// OpenInvestigationRequest starts a forensic investigation.
type OpenInvestigationRequest struct {
	IncidentID   string `json:"incident_id"`
	Investigator string `json:"investigator"`
	Scope        string `json:"scope"`
}

// InvestigationRequest updates an investigation. Only the populated payload is applied.
type InvestigationRequest struct {
	InvestigationID string                     `json:"investigation_id"`
	IncidentID      string                     `json:"incident_id"`
	Actor           string                     `json:"actor"`
	Finding         *models.Finding            `json:"finding"`
	EvidenceID      string                     `json:"evidence_id"`
	Reconstruction  *models.ReconstructedEvent `json:"reconstruction"`
	Attribution     *models.Attribution        `json:"attribution"`
	Methodology     string                     `json:"methodology"`
	Tool            string                     `json:"tool"`
	ReportRef       string                     `json:"report_ref"`
}

// SearchAuditRequest is the wire form of audit search criteria.
type SearchAuditRequest struct {
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	EventTypes     []string  `json:"event_types"`
	Actors         []string  `json:"actors"`
	Resources      []string  `json:"resources"`
	Actions        []string  `json:"actions"`
	Severities     []string  `json:"severities"`
	ComplianceTags []string  `json:"compliance_tags"`
	Policy         string    `json:"policy"`
	Text           string    `json:"text"`
	Page           int       `json:"page"`
	PageSize       int       `json:"page_size"`
	Sort           string    `json:"sort"`
}

// Criteria converts the request into domain search criteria.
func (r SearchAuditRequest) Criteria() (models.AuditCriteria, error) {
	criteria := models.AuditCriteria{
		Start:             r.Start,
		End:               r.End,
		EventTypes:        r.EventTypes,
		Actors:            r.Actors,
		Resources:         r.Resources,
		Actions:           r.Actions,
		ComplianceTags:    r.ComplianceTags,
		RetentionPolicyID: r.Policy,
		Text:              r.Text,
		Page:              r.Page,
		PageSize:          r.PageSize,
		Sort:              models.SortOrder(r.Sort),
	}
	for _, v := range r.Severities {
		sev, ok := models.ParseSeverity(v)
		if !ok {
			return models.AuditCriteria{}, fmt.Errorf("unknown severity %q", v)
		}
		criteria.Severities = append(criteria.Severities, sev)
	}
	switch criteria.Sort {
	case "", models.SortTimestampDesc, models.SortTimestampAsc:
	default:
		return models.AuditCriteria{}, fmt.Errorf("unknown sort order %q", r.Sort)
	}
	return criteria, nil
}

// ComplianceReportRequest selects a framework and window. A zero window covers the last
// thirty days.
type ComplianceReportRequest struct {
	Framework string    `json:"framework"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// VerifyAuditRequest names the retention policy whose chain is verified.
type VerifyAuditRequest struct {
	Policy string `json:"policy"`
}
