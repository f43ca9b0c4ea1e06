package models

import (
	"strings"
	"unicode"
)

// Severity captures incident impact levels.
type Severity string

const (
	SeverityInfo     Severity = "Info"
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank orders severities; unknown values rank below Info.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// ParseSeverity accepts any casing of a severity identifier.
func ParseSeverity(v string) (Severity, bool) {
	return parseEnum(v, []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical})
}

// IncidentStatus is a node of the incident lifecycle graph.
type IncidentStatus string

const (
	StatusNew           IncidentStatus = "New"
	StatusAssigned      IncidentStatus = "Assigned"
	StatusInProgress    IncidentStatus = "InProgress"
	StatusInvestigating IncidentStatus = "Investigating"
	StatusContained     IncidentStatus = "Contained"
	StatusEradicated    IncidentStatus = "Eradicated"
	StatusRecovering    IncidentStatus = "Recovering"
	StatusResolved      IncidentStatus = "Resolved"
	StatusClosed        IncidentStatus = "Closed"
	StatusReopened      IncidentStatus = "Reopened"
)

// AllStatuses lists every incident status in lifecycle order.
var AllStatuses = []IncidentStatus{
	StatusNew, StatusAssigned, StatusInProgress, StatusInvestigating, StatusContained,
	StatusEradicated, StatusRecovering, StatusResolved, StatusClosed, StatusReopened,
}

// ParseIncidentStatus accepts the identifier in any casing, with or without underscores.
func ParseIncidentStatus(v string) (IncidentStatus, bool) {
	return parseEnum(strings.ReplaceAll(v, "_", ""), AllStatuses)
}

// EventName renders the status as the suffix used in timeline event types (InProgress -> in_progress).
func (s IncidentStatus) EventName() string {
	return SnakeCase(string(s))
}

// Category classifies the kind of incident.
type Category string

const (
	CategoryMalware          Category = "Malware"
	CategoryPhishing         Category = "Phishing"
	CategoryDataBreach       Category = "DataBreach"
	CategoryDenialOfService  Category = "DenialOfService"
	CategoryUnauthorized     Category = "Unauthorized"
	CategorySystemCompromise Category = "SystemCompromise"
	CategoryNetworkIntrusion Category = "NetworkIntrusion"
	CategoryInsiderThreat    Category = "InsiderThreat"
	CategoryPhysicalSecurity Category = "PhysicalSecurity"
	CategoryCompliance       Category = "Compliance"
	CategoryOther            Category = "Other"
)

var allCategories = []Category{
	CategoryMalware, CategoryPhishing, CategoryDataBreach, CategoryDenialOfService,
	CategoryUnauthorized, CategorySystemCompromise, CategoryNetworkIntrusion,
	CategoryInsiderThreat, CategoryPhysicalSecurity, CategoryCompliance, CategoryOther,
}

// ParseCategory accepts any casing of a category identifier.
func ParseCategory(v string) (Category, bool) {
	return parseEnum(v, allCategories)
}

// ExecutionStatus is shared by playbook executions and their steps.
type ExecutionStatus string

const (
	ExecNotStarted ExecutionStatus = "NotStarted"
	ExecInProgress ExecutionStatus = "InProgress"
	ExecCompleted  ExecutionStatus = "Completed"
	ExecFailed     ExecutionStatus = "Failed"
	ExecSkipped    ExecutionStatus = "Skipped"
	ExecPaused     ExecutionStatus = "Paused"
)

// Terminal reports whether a step in this status will not change again.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecCompleted || s == ExecFailed || s == ExecSkipped
}

// Satisfies reports whether a dependency in this status unblocks its dependants.
func (s ExecutionStatus) Satisfies() bool {
	return s == ExecCompleted || s == ExecSkipped
}

// ParseExecutionStatus accepts any casing of an execution status identifier.
func ParseExecutionStatus(v string) (ExecutionStatus, bool) {
	return parseEnum(strings.ReplaceAll(v, "_", ""), []ExecutionStatus{ExecNotStarted, ExecInProgress, ExecCompleted, ExecFailed, ExecSkipped, ExecPaused})
}

// TaskStatus tracks response tasks.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "Open"
	TaskInProgress TaskStatus = "InProgress"
	TaskCompleted  TaskStatus = "Completed"
	TaskCancelled  TaskStatus = "Cancelled"
)

// EvidenceType classifies collected artifacts.
type EvidenceType string

const (
	EvidenceNetworkCapture EvidenceType = "NetworkCapture"
	EvidenceDiskImage      EvidenceType = "DiskImage"
	EvidenceMemoryDump     EvidenceType = "MemoryDump"
	EvidenceLogFile        EvidenceType = "LogFile"
	EvidenceMalware        EvidenceType = "Malware"
	EvidenceDocument       EvidenceType = "Document"
	EvidenceScreenshot     EvidenceType = "Screenshot"
	EvidenceEmail          EvidenceType = "Email"
	EvidenceOther          EvidenceType = "Other"
)

// ParseEvidenceType accepts any casing of an evidence type identifier.
func ParseEvidenceType(v string) (EvidenceType, bool) {
	return parseEnum(v, []EvidenceType{
		EvidenceNetworkCapture, EvidenceDiskImage, EvidenceMemoryDump, EvidenceLogFile,
		EvidenceMalware, EvidenceDocument, EvidenceScreenshot, EvidenceEmail, EvidenceOther,
	})
}

// ResponsePhase selects the action collection a response action belongs to.
type ResponsePhase string

const (
	PhaseContainment ResponsePhase = "Containment"
	PhaseEradication ResponsePhase = "Eradication"
	PhaseRecovery    ResponsePhase = "Recovery"
)

// ParseResponsePhase resolves a phase name case-insensitively.
func ParseResponsePhase(v string) (ResponsePhase, bool) {
	return parseEnum(v, []ResponsePhase{PhaseContainment, PhaseEradication, PhaseRecovery})
}

// RecipientKind classifies external notification recipients.
type RecipientKind string

const (
	RecipientRegulator      RecipientKind = "Regulator"
	RecipientLawEnforcement RecipientKind = "LawEnforcement"
	RecipientCustomer       RecipientKind = "Customer"
	RecipientPartner        RecipientKind = "Partner"
	RecipientVendor         RecipientKind = "Vendor"
)

// ParseRecipientKind resolves a recipient kind case-insensitively.
func ParseRecipientKind(v string) (RecipientKind, bool) {
	return parseEnum(v, []RecipientKind{
		RecipientRegulator, RecipientLawEnforcement, RecipientCustomer, RecipientPartner, RecipientVendor,
	})
}

func parseEnum[T ~string](v string, values []T) (T, bool) {
	for _, candidate := range values {
		if strings.EqualFold(string(candidate), v) {
			return candidate, true
		}
	}
	var zero T
	return zero, false
}

// SnakeCase converts a CamelCase identifier to snake_case.
func SnakeCase(v string) string {
	var b strings.Builder
	for i, r := range v {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
