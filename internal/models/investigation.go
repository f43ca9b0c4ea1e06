package models

import (
	"slices"
	"time"
)

// Investigation is a forensic investigation bound to one incident.
type Investigation struct {
	ID                     string               `json:"id"`
	IncidentID             string               `json:"incident_id"`
	Investigator           string               `json:"investigator"`
	StartedAt              time.Time            `json:"started_at"`
	CompletedAt            *time.Time           `json:"completed_at,omitempty"`
	Scope                  string               `json:"scope"`
	Methodology            string               `json:"methodology,omitempty"`
	ToolsUsed              []string             `json:"tools_used"`
	EvidenceCollected      []string             `json:"evidence_collected"`
	Findings               []Finding            `json:"findings"`
	TimelineReconstruction []ReconstructedEvent `json:"timeline_reconstruction"`
	Attribution            *Attribution         `json:"attribution,omitempty"`
	ReportPath             string               `json:"report_path,omitempty"`
}

// Finding is a conclusion recorded by an investigator.
type Finding struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Severity     Severity  `json:"severity"`
	Confidence   float64   `json:"confidence"`
	RecordedAt   time.Time `json:"recorded_at"`
	EvidenceRefs []string  `json:"evidence_refs,omitempty"`
}

// ReconstructedEvent is an entry of the attacker timeline rebuilt from artifacts.
type ReconstructedEvent struct {
	At          time.Time `json:"at"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	Artifact    string    `json:"artifact,omitempty"`
}

// Attribution summarises who is believed to be behind the incident.
type Attribution struct {
	Actor       string   `json:"actor"`
	Confidence  float64  `json:"confidence"`
	Techniques  []string `json:"techniques,omitempty"`
	Motivations []string `json:"motivations,omitempty"`
	Indicators  []string `json:"indicators,omitempty"`
}

// Closed reports whether the investigation has been closed.
func (i *Investigation) Closed() bool {
	return i.CompletedAt != nil
}

// Clone deep-copies the investigation.
func (i *Investigation) Clone() *Investigation {
	out := *i
	out.CompletedAt = cloneTime(i.CompletedAt)
	out.ToolsUsed = slices.Clone(i.ToolsUsed)
	out.EvidenceCollected = slices.Clone(i.EvidenceCollected)
	out.Findings = make([]Finding, len(i.Findings))
	for idx, f := range i.Findings {
		f.EvidenceRefs = slices.Clone(f.EvidenceRefs)
		out.Findings[idx] = f
	}
	out.TimelineReconstruction = slices.Clone(i.TimelineReconstruction)
	if i.Attribution != nil {
		a := *i.Attribution
		a.Techniques = slices.Clone(a.Techniques)
		a.Motivations = slices.Clone(a.Motivations)
		a.Indicators = slices.Clone(a.Indicators)
		out.Attribution = &a
	}
	return &out
}
