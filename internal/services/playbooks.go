package services

import (
	"context"

	"github.com/miradorstack/mirador-ir/internal/api"
	"github.com/miradorstack/mirador-ir/internal/models"
)

func (s *IRService) createPlaybook(ctx context.Context, req models.Playbook) (*models.Playbook, error) {
	return s.c.Playbooks.Create(ctx, req)
}

func (s *IRService) newPlaybookVersion(ctx context.Context, req api.NewPlaybookVersionRequest) (*models.Playbook, error) {
	return s.c.Playbooks.NewVersion(ctx, req.ID, req.Revision)
}

func (s *IRService) getPlaybook(ctx context.Context, req api.PlaybookRef) (*models.Playbook, error) {
	return s.c.Playbooks.Get(ctx, req.ID)
}

type playbookList struct {
	Playbooks []*models.Playbook `json:"playbooks"`
}

func (s *IRService) listPlaybooks(ctx context.Context, req api.ListPlaybooksRequest) (playbookList, error) {
	const op = "services.ListPlaybooks"
	if req.Category == "" && req.Severity == "" {
		list, err := s.c.Playbooks.List(ctx, req.ActiveOnly)
		if err != nil {
			return playbookList{}, err
		}
		return playbookList{Playbooks: list}, nil
	}
	category, err := parseRequired(op, "category", req.Category, models.ParseCategory)
	if err != nil {
		return playbookList{}, err
	}
	severity, err := parseRequired(op, "severity", req.Severity, models.ParseSeverity)
	if err != nil {
		return playbookList{}, err
	}
	list, err := s.c.Playbooks.Applicable(ctx, category, severity)
	if err != nil {
		return playbookList{}, err
	}
	return playbookList{Playbooks: list}, nil
}

func (s *IRService) deactivatePlaybook(ctx context.Context, req api.PlaybookRef) (*models.Playbook, error) {
	return s.c.Playbooks.Deactivate(ctx, req.ID)
}

func (s *IRService) startPlaybook(ctx context.Context, req api.StartPlaybookRequest) (*models.PlaybookExecution, error) {
	return s.c.Executions.Start(ctx, req.IncidentID, req.PlaybookID, req.Actor)
}

func (s *IRService) beginStep(ctx context.Context, req api.StepRequest) (*models.PlaybookExecution, error) {
	return s.c.Executions.BeginStep(ctx, req.ExecutionID, req.StepID, req.Actor)
}

func (s *IRService) completeStep(ctx context.Context, req api.StepRequest) (*models.PlaybookExecution, error) {
	status, err := parseRequired("services.CompleteStep", "status", req.Status, models.ParseExecutionStatus)
	if err != nil {
		return nil, err
	}
	return s.c.Executions.CompleteStep(ctx, req.ExecutionID, req.StepID, req.Actor, status, req.Output, req.Notes)
}

func (s *IRService) pausePlaybook(ctx context.Context, req api.ExecutionRequest) (*models.PlaybookExecution, error) {
	return s.c.Executions.Pause(ctx, req.ExecutionID, req.Actor, req.Reason)
}

func (s *IRService) resumePlaybook(ctx context.Context, req api.ExecutionRequest) (*models.PlaybookExecution, error) {
	return s.c.Executions.Resume(ctx, req.ExecutionID, req.Actor)
}

func (s *IRService) getExecution(ctx context.Context, req api.ExecutionRequest) (*models.PlaybookExecution, error) {
	return s.c.Executions.Get(ctx, req.ExecutionID)
}

type executionList struct {
	Executions []*models.PlaybookExecution `json:"executions"`
}

func (s *IRService) listExecutions(ctx context.Context, req api.ExecutionRequest) (executionList, error) {
	list, err := s.c.Executions.ListByIncident(ctx, req.IncidentID)
	if err != nil {
		return executionList{}, err
	}
	return executionList{Executions: list}, nil
}

type readyStepList struct {
	ExecutionID string                 `json:"execution_id"`
	Steps       []models.StepExecution `json:"steps"`
}

func (s *IRService) readySteps(ctx context.Context, req api.ExecutionRequest) (readyStepList, error) {
	steps, err := s.c.Executions.ReadySteps(ctx, req.ExecutionID)
	if err != nil {
		return readyStepList{}, err
	}
	return readyStepList{ExecutionID: req.ExecutionID, Steps: steps}, nil
}
