package models

import (
	"maps"
	"slices"
	"time"
)

// Playbook is a versioned response procedure definition.
type Playbook struct {
	ID                 string        `json:"id" yaml:"id"`
	Name               string        `json:"name" yaml:"name"`
	Description        string        `json:"description" yaml:"description"`
	Category           Category      `json:"category" yaml:"category"`
	MinimumSeverity    Severity      `json:"minimum_severity" yaml:"minimum_severity"`
	Steps              []Step        `json:"steps" yaml:"steps"`
	EstimatedDuration  time.Duration `json:"estimated_duration" yaml:"estimated_duration"`
	RequiredRoles      []string      `json:"required_roles" yaml:"required_roles"`
	Prerequisites      []string      `json:"prerequisites" yaml:"prerequisites"`
	SuccessCriteria    []string      `json:"success_criteria" yaml:"success_criteria"`
	Version            int           `json:"version" yaml:"version"`
	Active             bool          `json:"active" yaml:"active"`
	CreatedAt          time.Time     `json:"created_at" yaml:"-"`
	SupersedesPlaybook string        `json:"supersedes,omitempty" yaml:"-"`
}

// Step is one node of a playbook's dependency DAG.
type Step struct {
	ID                   string        `json:"id" yaml:"id"`
	Number               int           `json:"number" yaml:"number"`
	Title                string        `json:"title" yaml:"title"`
	Description          string        `json:"description" yaml:"description"`
	Instructions         string        `json:"instructions" yaml:"instructions"`
	EstimatedDuration    time.Duration `json:"estimated_duration" yaml:"estimated_duration"`
	RequiredRole         string        `json:"required_role" yaml:"required_role"`
	DependsOn            []string      `json:"depends_on" yaml:"depends_on"`
	Automation           string        `json:"automation,omitempty" yaml:"automation"`
	VerificationCriteria []string      `json:"verification_criteria" yaml:"verification_criteria"`
}

// Applies reports whether the playbook targets an incident of the given category and severity.
func (p *Playbook) Applies(category Category, severity Severity) bool {
	if p.Category != "" && p.Category != category {
		return false
	}
	return p.MinimumSeverity == "" || severity.Rank() >= p.MinimumSeverity.Rank()
}

// Clone deep-copies the definition.
func (p *Playbook) Clone() *Playbook {
	out := *p
	out.Steps = make([]Step, len(p.Steps))
	for i, s := range p.Steps {
		s.DependsOn = slices.Clone(s.DependsOn)
		s.VerificationCriteria = slices.Clone(s.VerificationCriteria)
		out.Steps[i] = s
	}
	out.RequiredRoles = slices.Clone(p.RequiredRoles)
	out.Prerequisites = slices.Clone(p.Prerequisites)
	out.SuccessCriteria = slices.Clone(p.SuccessCriteria)
	return &out
}

// PlaybookExecution is one instantiation of a playbook bound to an incident.
type PlaybookExecution struct {
	ID          string          `json:"id"`
	IncidentID  string          `json:"incident_id"`
	PlaybookID  string          `json:"playbook_id"`
	StartedBy   string          `json:"started_by"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Steps       []StepExecution `json:"steps"`
}

// StepExecution tracks the progress of one step.
type StepExecution struct {
	StepID      string            `json:"step_id"`
	StepNumber  int               `json:"step_number"`
	Executor    string            `json:"executor,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Status      ExecutionStatus   `json:"status"`
	Notes       string            `json:"notes,omitempty"`
	Output      map[string]string `json:"output,omitempty"`
}

// Clone deep-copies the execution.
func (e *PlaybookExecution) Clone() *PlaybookExecution {
	out := *e
	out.CompletedAt = cloneTime(e.CompletedAt)
	out.Steps = make([]StepExecution, len(e.Steps))
	for i, s := range e.Steps {
		s.StartedAt = cloneTime(s.StartedAt)
		s.CompletedAt = cloneTime(s.CompletedAt)
		s.Output = maps.Clone(s.Output)
		out.Steps[i] = s
	}
	return &out
}
