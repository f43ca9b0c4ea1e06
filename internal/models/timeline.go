package models

import (
	"slices"
	"time"
)

// Timeline event sources.
const (
	SourceIncidentManager = "incident_manager"
	SourcePlaybook        = "playbook_executor"
	SourceInvestigation   = "investigation_tracker"
)

// TimelineEvent is an immutable entry in an incident's chronological log.
type TimelineEvent struct {
	ID          string            `json:"id"`
	IncidentID  string            `json:"incident_id"`
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	Description string            `json:"description"`
	Actor       string            `json:"actor"`
	Source      string            `json:"source"`
	Details     map[string]string `json:"details,omitempty"`
	Automated   bool              `json:"automated"`
}

// Clone copies the detail map.
func (e TimelineEvent) Clone() TimelineEvent {
	e.Details = cloneStringMap(e.Details)
	return e
}

// EventDescriptor describes the timeline event a mutation produces; the recorder assigns
// id and instant.
type EventDescriptor struct {
	EventType   string
	Description string
	Actor       string
	Source      string
	Details     map[string]string
	Automated   bool
	// Severity of the incident at the time of the event; forwarded to the audit sink.
	Severity Severity
}

// Timeline event types emitted by the lifecycle engine. Status transitions use
// "incident_" + IncidentStatus.EventName().
const (
	EventIncidentCreated       = "incident_created"
	EventIncidentUpdated       = "incident_updated"
	EventIncidentAssigned      = "incident_assigned"
	EventIncidentEscalated     = "incident_escalated"
	EventIncidentClosed        = "incident_closed"
	EventIncidentReopened      = "incident_reopened"
	EventEvidenceAdded         = "evidence_added"
	EventTaskAdded             = "task_added"
	EventCommunicationAdded    = "communication_added"
	EventContainmentRecorded   = "containment_action_recorded"
	EventEradicationRecorded   = "eradication_action_recorded"
	EventRecoveryRecorded      = "recovery_action_recorded"
	EventLessonLearnedAdded    = "lesson_learned_added"
	EventNotificationSent      = "external_notification_sent"
	EventPlaybookStarted       = "playbook_started"
	EventPlaybookStepStarted   = "playbook_step_started"
	EventPlaybookStepCompleted = "playbook_step_completed"
	EventPlaybookCompleted     = "playbook_completed"
	EventPlaybookFailed        = "playbook_failed"
	EventPlaybookPaused        = "playbook_paused"
	EventPlaybookResumed       = "playbook_resumed"
	EventInvestigationStarted  = "investigation_started"
	EventInvestigationFinding  = "investigation_finding_recorded"
	EventInvestigationUpdated  = "investigation_updated"
	EventInvestigationClosed   = "investigation_closed"
)

// TransitionEventType is the timeline event type recorded when an incident enters status.
func TransitionEventType(status IncidentStatus) string {
	return "incident_" + status.EventName()
}

// LifecycleEventTypes lists every event type the engine can put on a timeline.
func LifecycleEventTypes() []string {
	types := []string{
		EventIncidentCreated, EventIncidentUpdated, EventIncidentAssigned, EventIncidentEscalated,
		EventIncidentClosed, EventIncidentReopened, EventEvidenceAdded, EventTaskAdded,
		EventCommunicationAdded, EventContainmentRecorded, EventEradicationRecorded,
		EventRecoveryRecorded, EventLessonLearnedAdded, EventNotificationSent,
		EventPlaybookStarted, EventPlaybookStepStarted, EventPlaybookStepCompleted,
		EventPlaybookCompleted, EventPlaybookFailed, EventPlaybookPaused, EventPlaybookResumed,
		EventInvestigationStarted, EventInvestigationFinding, EventInvestigationUpdated,
		EventInvestigationClosed,
	}
	for _, status := range AllStatuses {
		et := TransitionEventType(status)
		if !slices.Contains(types, et) {
			types = append(types, et)
		}
	}
	return types
}
