package models

import (
	"maps"
	"slices"
	"sort"
	"time"
)

// Incident is the root aggregate of the lifecycle engine.
type Incident struct {
	ID                     string                 `json:"id"`
	Title                  string                 `json:"title"`
	Description            string                 `json:"description"`
	Category               Category               `json:"category"`
	Severity               Severity               `json:"severity"`
	Status                 IncidentStatus         `json:"status"`
	Priority               int                    `json:"priority"`
	CreatedAt              time.Time              `json:"created_at"`
	UpdatedAt              time.Time              `json:"updated_at"`
	DetectedAt             time.Time              `json:"detected_at"`
	ResolvedAt             *time.Time             `json:"resolved_at,omitempty"`
	Reporter               string                 `json:"reporter"`
	Assignee               string                 `json:"assignee,omitempty"`
	IncidentCommander      string                 `json:"incident_commander,omitempty"`
	AffectedSystems        []string               `json:"affected_systems"`
	AffectedUsers          []string               `json:"affected_users"`
	Indicators             []string               `json:"indicators"`
	Tags                   []string               `json:"tags"`
	Impact                 Impact                 `json:"impact"`
	CostEstimate           float64                `json:"cost_estimate"`
	SLABreached            bool                   `json:"sla_breached"`
	ComplianceRequirements []string               `json:"compliance_requirements"`
	Resolution             string                 `json:"resolution,omitempty"`
	Timeline               []TimelineEvent        `json:"timeline"`
	Evidence               []Evidence             `json:"evidence"`
	Tasks                  []Task                 `json:"tasks"`
	Communications         []Communication        `json:"communications"`
	ContainmentActions     []ResponseAction       `json:"containment_actions"`
	EradicationActions     []ResponseAction       `json:"eradication_actions"`
	RecoveryActions        []ResponseAction       `json:"recovery_actions"`
	LessonsLearned         []LessonLearned        `json:"lessons_learned"`
	ExternalNotifications  []ExternalNotification `json:"external_notifications"`
}

// Impact summarises business consequences. Percentages are fractions in [0,1].
type Impact struct {
	BusinessImpact      string  `json:"business_impact,omitempty"`
	DataImpact          string  `json:"data_impact,omitempty"`
	OperationalImpact   string  `json:"operational_impact,omitempty"`
	FinancialImpact     float64 `json:"financial_impact"`
	AffectedUserCount   int     `json:"affected_user_count"`
	ConfidentialityLoss float64 `json:"confidentiality_loss"`
	IntegrityLoss       float64 `json:"integrity_loss"`
	AvailabilityLoss    float64 `json:"availability_loss"`
}

// Evidence is an artifact collected during response.
type Evidence struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Type            EvidenceType   `json:"type"`
	Description     string         `json:"description,omitempty"`
	Source          string         `json:"source,omitempty"`
	CollectedBy     string         `json:"collected_by"`
	CollectedAt     time.Time      `json:"collected_at"`
	Hash            string         `json:"hash,omitempty"`
	SizeBytes       int64          `json:"size_bytes"`
	StorageLocation string         `json:"storage_location,omitempty"`
	ChainOfCustody  []CustodyEntry `json:"chain_of_custody"`
}

// CustodyEntry records a hand-off of a piece of evidence.
type CustodyEntry struct {
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

// Task is a unit of response work.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Communication is a message sent during the incident.
type Communication struct {
	ID       string    `json:"id"`
	Channel  string    `json:"channel"`
	Audience string    `json:"audience"`
	Message  string    `json:"message"`
	Sender   string    `json:"sender"`
	SentAt   time.Time `json:"sent_at"`
}

// ResponseAction is a containment, eradication, or recovery step that was performed.
type ResponseAction struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	PerformedBy string    `json:"performed_by"`
	PerformedAt time.Time `json:"performed_at"`
	Outcome     string    `json:"outcome,omitempty"`
	Automated   bool      `json:"automated"`
}

// LessonLearned captures a post-incident observation.
type LessonLearned struct {
	ID             string `json:"id"`
	Category       string `json:"category"`
	Observation    string `json:"observation"`
	Recommendation string `json:"recommendation,omitempty"`
	Owner          string `json:"owner,omitempty"`
}

// ExternalNotification records disclosure to a party outside the response team.
type ExternalNotification struct {
	ID            string        `json:"id"`
	RecipientKind RecipientKind `json:"recipient_kind"`
	Recipient     string        `json:"recipient"`
	NotifiedAt    time.Time     `json:"notified_at"`
	Reference     string        `json:"reference,omitempty"`
	RequiredBy    *time.Time    `json:"required_by,omitempty"`
}

// IncidentDraft is the caller input for Create.
type IncidentDraft struct {
	Title                  string
	Description            string
	Category               Category
	Severity               Severity
	Priority               int
	DetectedAt             time.Time
	Reporter               string
	IncidentCommander      string
	AffectedSystems        []string
	AffectedUsers          []string
	Indicators             []string
	Tags                   []string
	Impact                 Impact
	CostEstimate           float64
	ComplianceRequirements []string
}

// IncidentPatch lists mutable fields; nil leaves a field untouched.
type IncidentPatch struct {
	Title                  *string    `json:"title,omitempty"`
	Description            *string    `json:"description,omitempty"`
	Category               *Category  `json:"category,omitempty"`
	Priority               *int       `json:"priority,omitempty"`
	DetectedAt             *time.Time `json:"detected_at,omitempty"`
	IncidentCommander      *string    `json:"incident_commander,omitempty"`
	AffectedSystems        []string   `json:"affected_systems,omitempty"`
	AffectedUsers          []string   `json:"affected_users,omitempty"`
	Indicators             []string   `json:"indicators,omitempty"`
	Tags                   []string   `json:"tags,omitempty"`
	Impact                 *Impact    `json:"impact,omitempty"`
	CostEstimate           *float64   `json:"cost_estimate,omitempty"`
	SLABreached            *bool      `json:"sla_breached,omitempty"`
	ComplianceRequirements []string   `json:"compliance_requirements,omitempty"`
}

// Keys returns the touched field names in sorted order.
func (p IncidentPatch) Keys() []string {
	var keys []string
	add := func(set bool, name string) {
		if set {
			keys = append(keys, name)
		}
	}
	add(p.Title != nil, "title")
	add(p.Description != nil, "description")
	add(p.Category != nil, "category")
	add(p.Priority != nil, "priority")
	add(p.DetectedAt != nil, "detected_at")
	add(p.IncidentCommander != nil, "incident_commander")
	add(p.AffectedSystems != nil, "affected_systems")
	add(p.AffectedUsers != nil, "affected_users")
	add(p.Indicators != nil, "indicators")
	add(p.Tags != nil, "tags")
	add(p.Impact != nil, "impact")
	add(p.CostEstimate != nil, "cost_estimate")
	add(p.SLABreached != nil, "sla_breached")
	add(p.ComplianceRequirements != nil, "compliance_requirements")
	sort.Strings(keys)
	return keys
}

// EvidenceDraft is the caller input for AddEvidence.
type EvidenceDraft struct {
	Name            string
	Type            EvidenceType
	Description     string
	Source          string
	Hash            string
	SizeBytes       int64
	StorageLocation string
}

// TaskDraft is the caller input for AddTask.
type TaskDraft struct {
	Title       string
	Description string
	Assignee    string
	Priority    int
	DueAt       *time.Time
}

// Clone returns a deep copy safe to hand out after the aggregate lock is released.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}
	out := *i
	out.ResolvedAt = cloneTime(i.ResolvedAt)
	out.AffectedSystems = slices.Clone(i.AffectedSystems)
	out.AffectedUsers = slices.Clone(i.AffectedUsers)
	out.Indicators = slices.Clone(i.Indicators)
	out.Tags = slices.Clone(i.Tags)
	out.ComplianceRequirements = slices.Clone(i.ComplianceRequirements)
	out.Timeline = make([]TimelineEvent, len(i.Timeline))
	for idx, ev := range i.Timeline {
		out.Timeline[idx] = ev.Clone()
	}
	out.Evidence = make([]Evidence, len(i.Evidence))
	for idx, ev := range i.Evidence {
		ev.ChainOfCustody = slices.Clone(ev.ChainOfCustody)
		out.Evidence[idx] = ev
	}
	out.Tasks = make([]Task, len(i.Tasks))
	for idx, task := range i.Tasks {
		task.DueAt = cloneTime(task.DueAt)
		task.CompletedAt = cloneTime(task.CompletedAt)
		out.Tasks[idx] = task
	}
	out.Communications = slices.Clone(i.Communications)
	out.ContainmentActions = slices.Clone(i.ContainmentActions)
	out.EradicationActions = slices.Clone(i.EradicationActions)
	out.RecoveryActions = slices.Clone(i.RecoveryActions)
	out.LessonsLearned = slices.Clone(i.LessonsLearned)
	out.ExternalNotifications = make([]ExternalNotification, len(i.ExternalNotifications))
	for idx, n := range i.ExternalNotifications {
		n.RequiredBy = cloneTime(n.RequiredBy)
		out.ExternalNotifications[idx] = n
	}
	return &out
}

// StringSet returns the sorted, de-duplicated, non-empty members of values.
func StringSet(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
