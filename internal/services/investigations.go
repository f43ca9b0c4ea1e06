package services

import (
	"context"

	"github.com/miradorstack/mirador-ir/internal/api"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

func (s *IRService) openInvestigation(ctx context.Context, req api.OpenInvestigationRequest) (*models.Investigation, error) {
	return s.c.Investigations.Open(ctx, req.IncidentID, req.Investigator, req.Scope)
}

// updateInvestigation applies whichever payload the request carries, in field order. The
// snapshot after the last applied change is returned.
func (s *IRService) updateInvestigation(ctx context.Context, req api.InvestigationRequest) (*models.Investigation, error) {
	const op = "services.UpdateInvestigation"
	t := s.c.Investigations
	var (
		out *models.Investigation
		err error
	)
	apply := func(fn func() (*models.Investigation, error)) {
		if err != nil {
			return
		}
		out, err = fn()
	}
	if req.Finding != nil {
		apply(func() (*models.Investigation, error) {
			return t.RecordFinding(ctx, req.InvestigationID, req.Actor, *req.Finding)
		})
	}
	if req.EvidenceID != "" {
		apply(func() (*models.Investigation, error) {
			return t.AttachEvidence(ctx, req.InvestigationID, req.EvidenceID)
		})
	}
	if req.Reconstruction != nil {
		apply(func() (*models.Investigation, error) {
			return t.AppendReconstruction(ctx, req.InvestigationID, *req.Reconstruction)
		})
	}
	if req.Attribution != nil {
		apply(func() (*models.Investigation, error) {
			return t.SetAttribution(ctx, req.InvestigationID, req.Actor, *req.Attribution)
		})
	}
	if req.Methodology != "" {
		apply(func() (*models.Investigation, error) {
			return t.SetMethodology(ctx, req.InvestigationID, req.Methodology)
		})
	}
	if req.Tool != "" {
		apply(func() (*models.Investigation, error) { return t.AddTool(ctx, req.InvestigationID, req.Tool) })
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, utils.Validation(op, "request carries no investigation change")
	}
	return out, nil
}

func (s *IRService) closeInvestigation(ctx context.Context, req api.InvestigationRequest) (*models.Investigation, error) {
	return s.c.Investigations.Close(ctx, req.InvestigationID, req.Actor, req.ReportRef)
}

func (s *IRService) getInvestigation(ctx context.Context, req api.InvestigationRequest) (*models.Investigation, error) {
	return s.c.Investigations.Get(ctx, req.InvestigationID)
}

type investigationList struct {
	Investigations []*models.Investigation `json:"investigations"`
}

func (s *IRService) listInvestigations(ctx context.Context, req api.InvestigationRequest) (investigationList, error) {
	list, err := s.c.Investigations.ListByIncident(ctx, req.IncidentID)
	if err != nil {
		return investigationList{}, err
	}
	return investigationList{Investigations: list}, nil
}
