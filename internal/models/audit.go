package models

import (
	"time"
)

// Audit event types produced outside the incident lifecycle.
const (
	AuditUserLogin          = "user_login"
	AuditUserLogout         = "user_logout"
	AuditLoginFailed        = "login_failed"
	AuditPasswordChanged    = "password_changed"
	AuditAccountLocked      = "account_lockout"
	AuditUserCreated        = "user_created"
	AuditUserUpdated        = "user_updated"
	AuditUserDeleted        = "user_delete"
	AuditPermissionChanged  = "permission_changed"
	AuditConfigChanged      = "config_changed"
	AuditDataAccessed       = "data_accessed"
	AuditDataExported       = "data_exported"
	AuditDataModified       = "data_update"
	AuditViolationDetected  = "violation_detected"
	AuditSecurityBreach     = "security_breach"
	AuditAuthorizationError = "authorization_failure"
)

// ActorType identifies who performed an audited action.
type ActorType string

const (
	ActorUser    ActorType = "User"
	ActorSystem  ActorType = "System"
	ActorService ActorType = "Service"
	ActorAPI     ActorType = "API"
)

// Outcome is the result of an audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomeFailed  Outcome = "Failed"
	OutcomePartial Outcome = "Partial"
)

// LogLevel is the verbosity a configuration audits at.
type LogLevel string

const (
	LogDebug    LogLevel = "Debug"
	LogInfo     LogLevel = "Info"
	LogWarning  LogLevel = "Warning"
	LogError    LogLevel = "Error"
	LogCritical LogLevel = "Critical"
)

// AuditActor describes the principal behind an event.
type AuditActor struct {
	Type        ActorType `json:"type" yaml:"type"`
	ID          string    `json:"id" yaml:"id"`
	SessionID   string    `json:"session_id,omitempty" yaml:"session_id"`
	Address     string    `json:"address,omitempty" yaml:"address"`
	ClientAgent string    `json:"client_agent,omitempty" yaml:"client_agent"`
}

// AuditResource describes the object acted upon.
type AuditResource struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Parent string `json:"parent,omitempty"`
}

// AuditAction describes what was done.
type AuditAction struct {
	Type         string  `json:"type"`
	Description  string  `json:"description"`
	Outcome      Outcome `json:"outcome"`
	ErrorDetails string  `json:"error_details,omitempty"`
}

// AuditContext carries correlation data and payload.
type AuditContext struct {
	RequestID      string            `json:"request_id,omitempty"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
	SourceSystem   string            `json:"source_system,omitempty"`
	AdditionalData map[string]string `json:"additional_data,omitempty"`
	SensitiveData  map[string]string `json:"sensitive_data,omitempty"`
}

// AuditEvent is the input submitted to the audit sink.
type AuditEvent struct {
	EventType string
	Timestamp time.Time
	Actor     AuditActor
	Resource  AuditResource
	Action    AuditAction
	Context   AuditContext
	// Severity overrides the event-type table when set.
	Severity Severity
}

// AuditRecord is a single immutable entry of the hash-chained audit log.
type AuditRecord struct {
	ID                string        `json:"id"`
	EventType         string        `json:"event_type"`
	Timestamp         time.Time     `json:"timestamp"`
	Actor             AuditActor    `json:"actor"`
	Resource          AuditResource `json:"resource"`
	Action            AuditAction   `json:"action"`
	Context           AuditContext  `json:"context"`
	ComplianceTags    []string      `json:"compliance_tags"`
	Severity          Severity      `json:"severity"`
	RetentionPolicyID string        `json:"retention_policy_id"`
	Sequence          int64         `json:"sequence"`
	PreviousHash      string        `json:"previous_hash"`
	IntegrityHash     string        `json:"integrity_hash"`
}

// AuditFilter narrows the events a configuration accepts.
type AuditFilter struct {
	MinSeverity    Severity `json:"min_severity,omitempty" yaml:"min_severity"`
	ActorFilters   []string `json:"actor_filters,omitempty" yaml:"actor_filters"`
	ResourceFilter []string `json:"resource_filters,omitempty" yaml:"resource_filters"`
	ActionFilters  []string `json:"action_filters,omitempty" yaml:"action_filters"`
}

// AuditConfiguration selects which events are recorded and how.
type AuditConfiguration struct {
	ID                     string      `json:"id" yaml:"id"`
	Name                   string      `json:"name" yaml:"name"`
	EventTypes             []string    `json:"event_types" yaml:"event_types"`
	LogLevel               LogLevel    `json:"log_level" yaml:"log_level"`
	IncludeData            bool        `json:"include_data" yaml:"include_data"`
	IncludeSensitiveData   bool        `json:"include_sensitive_data" yaml:"include_sensitive_data"`
	Filters                AuditFilter `json:"filters" yaml:"filters"`
	RetentionPolicyID      string      `json:"retention_policy_id" yaml:"retention_policy_id"`
	ComplianceRequirements []string    `json:"compliance_requirements" yaml:"compliance_requirements"`
	Enabled                bool        `json:"enabled" yaml:"enabled"`
}

// RetentionPolicy governs how long audit records are kept and under what protection.
type RetentionPolicy struct {
	ID                     string        `json:"id" yaml:"id"`
	RetentionPeriod        time.Duration `json:"retention_period" yaml:"retention_period"`
	ArchiveAfter           time.Duration `json:"archive_after" yaml:"archive_after"`
	EncryptionRequired     bool          `json:"encryption_required" yaml:"encryption_required"`
	CompressionEnabled     bool          `json:"compression_enabled" yaml:"compression_enabled"`
	BackupFrequency        time.Duration `json:"backup_frequency" yaml:"backup_frequency"`
	GeographicRestrictions []string      `json:"geographic_restrictions" yaml:"geographic_restrictions"`
}

// ComplianceRequirement is one regulatory clause and the events that evidence it.
type ComplianceRequirement struct {
	ID                   string   `json:"id" yaml:"id"`
	Title                string   `json:"title" yaml:"title"`
	AuditEventTypes      []string `json:"audit_event_types" yaml:"audit_event_types"`
	RetentionRequirement string   `json:"retention_requirement" yaml:"retention_requirement"`
}

// ComplianceMapping binds a framework to its requirements.
type ComplianceMapping struct {
	ID           string                  `json:"id" yaml:"id"`
	Framework    string                  `json:"framework" yaml:"framework"`
	Requirements []ComplianceRequirement `json:"requirements" yaml:"requirements"`
	Enabled      bool                    `json:"enabled" yaml:"enabled"`
}

// Tag renders the compliance label carried by records supporting req.
func (m ComplianceMapping) Tag(req ComplianceRequirement) string {
	return m.Framework + ":" + req.ID
}

// SortOrder selects the ordering of search results.
type SortOrder string

const (
	SortTimestampDesc SortOrder = "timestamp_desc"
	SortTimestampAsc  SortOrder = "timestamp_asc"
)

// AuditCriteria selects audit records. Empty fields do not constrain.
type AuditCriteria struct {
	Start             time.Time
	End               time.Time
	EventTypes        []string
	Actors            []string
	Resources         []string
	Actions           []string
	Severities        []Severity
	ComplianceTags    []string
	RetentionPolicyID string
	Text              string
	Page              int
	PageSize          int
	Sort              SortOrder
}

// AuditPage is one page of search results.
type AuditPage struct {
	Records    []AuditRecord `json:"records"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// ComplianceStatus grades a requirement or framework.
type ComplianceStatus string

const (
	Compliant          ComplianceStatus = "Compliant"
	PartiallyCompliant ComplianceStatus = "PartiallyCompliant"
	NonCompliant       ComplianceStatus = "NonCompliant"
)

// RequirementReport is the per-requirement section of a compliance report.
type RequirementReport struct {
	RequirementID        string           `json:"requirement_id"`
	Title                string           `json:"title"`
	Tag                  string           `json:"tag"`
	TotalEvents          int              `json:"total_events"`
	EventsByType         map[string]int   `json:"events_by_type"`
	SeverityDistribution map[Severity]int `json:"severity_distribution"`
	FailedEvents         int              `json:"failed_events"`
	Status               ComplianceStatus `json:"status"`
	Violations           []string         `json:"violations"`
	Recommendations      []string         `json:"recommendations"`
}

// ComplianceReport summarises audit evidence for one framework over a window.
type ComplianceReport struct {
	Framework    string              `json:"framework"`
	Start        time.Time           `json:"start"`
	End          time.Time           `json:"end"`
	GeneratedAt  time.Time           `json:"generated_at"`
	Status       ComplianceStatus    `json:"status"`
	Requirements []RequirementReport `json:"requirements"`
}
