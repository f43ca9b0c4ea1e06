package services

import (
	"context"

	"github.com/miradorstack/mirador-ir/internal/api"
	"github.com/miradorstack/mirador-ir/internal/audit"
	"github.com/miradorstack/mirador-ir/internal/models"
)

const complianceWindowDays = 30

func (s *IRService) searchAudit(ctx context.Context, req api.SearchAuditRequest) (models.AuditPage, error) {
	criteria, err := req.Criteria()
	if err != nil {
		return models.AuditPage{}, validation("services.SearchAudit", err)
	}
	return s.c.Audit.Search(ctx, criteria)
}

func (s *IRService) complianceReport(ctx context.Context, req api.ComplianceReportRequest) (models.ComplianceReport, error) {
	start, end := req.Start, req.End
	if end.IsZero() {
		end = s.now()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -complianceWindowDays)
	}
	return s.c.Audit.ComplianceReport(ctx, req.Framework, start, end)
}

func (s *IRService) verifyAudit(ctx context.Context, req api.VerifyAuditRequest) (audit.VerifyResult, error) {
	policy := req.Policy
	if policy == "" {
		policy = audit.DefaultPolicyID
	}
	return s.c.Audit.Verify(ctx, policy)
}
