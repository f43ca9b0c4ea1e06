package services

import (
	"context"

	"github.com/miradorstack/mirador-ir/internal/api"
	"github.com/miradorstack/mirador-ir/internal/incident"
	"github.com/miradorstack/mirador-ir/internal/models"
)

func (s *IRService) createIncident(ctx context.Context, req api.CreateIncidentRequest) (*models.Incident, error) {
	draft, err := req.Draft()
	if err != nil {
		return nil, validation("services.CreateIncident", err)
	}
	return s.c.Incidents.Create(ctx, draft)
}

func (s *IRService) getIncident(ctx context.Context, req api.IncidentRef) (*models.Incident, error) {
	return s.c.Incidents.Get(ctx, req.ID)
}

type incidentList struct {
	Incidents []*models.Incident `json:"incidents"`
}

func (s *IRService) listIncidents(ctx context.Context, req api.ListIncidentsRequest) (incidentList, error) {
	const op = "services.ListIncidents"
	var (
		f   = incident.Filter{Assignee: req.Assignee, Limit: req.Limit}
		err error
	)
	if f.Status, err = parseOptional(op, "status", req.Status, models.ParseIncidentStatus); err != nil {
		return incidentList{}, err
	}
	if f.Severity, err = parseOptional(op, "severity", req.Severity, models.ParseSeverity); err != nil {
		return incidentList{}, err
	}
	if f.Category, err = parseOptional(op, "category", req.Category, models.ParseCategory); err != nil {
		return incidentList{}, err
	}
	list, err := s.c.Incidents.List(ctx, f)
	if err != nil {
		return incidentList{}, err
	}
	return incidentList{Incidents: list}, nil
}

func (s *IRService) updateIncident(ctx context.Context, req api.UpdateIncidentRequest) (*models.Incident, error) {
	return s.c.Incidents.Update(ctx, req.ID, req.Actor, req.Patch)
}

func (s *IRService) assignIncident(ctx context.Context, req api.AssignRequest) (*models.Incident, error) {
	return s.c.Incidents.Assign(ctx, req.ID, req.Actor, req.Responder)
}

func (s *IRService) escalateIncident(ctx context.Context, req api.EscalateRequest) (*models.Incident, error) {
	severity, err := parseRequired("services.EscalateIncident", "severity", req.Severity, models.ParseSeverity)
	if err != nil {
		return nil, err
	}
	return s.c.Incidents.Escalate(ctx, req.ID, req.Actor, severity, req.Reason)
}

func (s *IRService) addEvidence(ctx context.Context, req api.EvidenceRequest) (*models.Incident, error) {
	draft, err := req.Draft()
	if err != nil {
		return nil, validation("services.AddEvidence", err)
	}
	return s.c.Incidents.AddEvidence(ctx, req.ID, req.Actor, draft)
}

func (s *IRService) addTask(ctx context.Context, req api.TaskRequest) (*models.Incident, error) {
	return s.c.Incidents.AddTask(ctx, req.ID, req.Actor, models.TaskDraft{
		Title:       req.Title,
		Description: req.Description,
		Assignee:    req.Assignee,
		Priority:    req.Priority,
		DueAt:       req.DueAt,
	})
}

func (s *IRService) addCommunication(ctx context.Context, req api.CommunicationRequest) (*models.Incident, error) {
	return s.c.Incidents.AddCommunication(ctx, req.ID, req.Actor, models.Communication{
		Channel:  req.Channel,
		Audience: req.Audience,
		Message:  req.Message,
	})
}

func (s *IRService) recordAction(ctx context.Context, req api.ActionRequest) (*models.Incident, error) {
	phase, err := parseRequired("services.RecordAction", "phase", req.Phase, models.ParseResponsePhase)
	if err != nil {
		return nil, err
	}
	return s.c.Incidents.RecordAction(ctx, req.ID, req.Actor, phase, models.ResponseAction{
		Description: req.Description,
		Outcome:     req.Outcome,
		Automated:   req.Automated,
	})
}

func (s *IRService) addLessonLearned(ctx context.Context, req api.LessonRequest) (*models.Incident, error) {
	return s.c.Incidents.AddLessonLearned(ctx, req.ID, req.Actor, models.LessonLearned{
		Category:       req.Category,
		Observation:    req.Observation,
		Recommendation: req.Recommendation,
		Owner:          req.Owner,
	})
}

func (s *IRService) recordNotification(ctx context.Context, req api.NotificationRequest) (*models.Incident, error) {
	kind, err := parseRequired("services.RecordNotification", "recipient kind", req.RecipientKind, models.ParseRecipientKind)
	if err != nil {
		return nil, err
	}
	return s.c.Incidents.RecordNotification(ctx, req.ID, req.Actor, models.ExternalNotification{
		RecipientKind: kind,
		Recipient:     req.Recipient,
		Reference:     req.Reference,
		RequiredBy:    req.RequiredBy,
	})
}

func (s *IRService) transitionIncident(ctx context.Context, req api.TransitionRequest) (*models.Incident, error) {
	target, err := parseRequired("services.TransitionIncident", "status", req.Status, models.ParseIncidentStatus)
	if err != nil {
		return nil, err
	}
	return s.c.Incidents.Transition(ctx, req.ID, req.Actor, target, req.Note)
}

func (s *IRService) closeIncident(ctx context.Context, req api.CloseRequest) (*models.Incident, error) {
	return s.c.Incidents.Close(ctx, req.ID, req.Actor, req.Resolution)
}

func (s *IRService) reopenIncident(ctx context.Context, req api.ReopenRequest) (*models.Incident, error) {
	return s.c.Incidents.Reopen(ctx, req.ID, req.Actor, req.Reason)
}

type timelineResponse struct {
	IncidentID string                 `json:"incident_id"`
	Events     []models.TimelineEvent `json:"events"`
}

func (s *IRService) getTimeline(ctx context.Context, req api.IncidentRef) (timelineResponse, error) {
	events, err := s.c.Incidents.Timeline(ctx, req.ID)
	if err != nil {
		return timelineResponse{}, err
	}
	return timelineResponse{IncidentID: req.ID, Events: events}, nil
}

func (s *IRService) getReport(ctx context.Context, req api.IncidentRef) (*incident.Report, error) {
	return s.c.Incidents.Report(ctx, req.ID)
}

func (s *IRService) getStatistics(ctx context.Context, _ struct{}) (incident.Statistics, error) {
	return s.c.Incidents.Statistics(ctx)
}
