package incident

import (
	"context"
	"fmt"

	"github.com/miradorstack/mirador-ir/internal/models"
)

// fixtureDrafts are sample incidents for tests and local demos.
var fixtureDrafts = []models.IncidentDraft{
	{
		Title:           "Ransomware on finance file server",
		Description:     "Encrypted shares detected on fs-fin-01",
		Category:        models.CategoryMalware,
		Severity:        models.SeverityCritical,
		Priority:        1,
		Reporter:        "soc",
		AffectedSystems: []string{"fs-fin-01", "backup-02"},
		Indicators:      []string{"sha256:9f2c", "185.220.101.4"},
		Tags:            []string{"ransomware", "finance"},
		Impact: models.Impact{
			BusinessImpact:   "Finance operations halted",
			AvailabilityLoss: 0.8,
		},
		CostEstimate:           250000,
		ComplianceRequirements: []string{"SOX"},
	},
	{
		Title:                  "Credential phishing campaign",
		Description:            "Payroll-themed phishing mails reported by staff",
		Category:               models.CategoryPhishing,
		Severity:               models.SeverityMedium,
		Priority:               3,
		Reporter:               "helpdesk",
		AffectedUsers:          []string{"a.jones", "m.chen"},
		Indicators:             []string{"payro11-portal.example"},
		Tags:                   []string{"phishing"},
		ComplianceRequirements: []string{"GDPR"},
	},
	{
		Title:                  "Customer records exposed through misconfigured bucket",
		Category:               models.CategoryDataBreach,
		Severity:               models.SeverityHigh,
		Priority:               2,
		Reporter:               "cloud-posture",
		AffectedSystems:        []string{"s3://crm-exports"},
		Impact:                 models.Impact{DataImpact: "PII of 12k customers", AffectedUserCount: 12000, ConfidentialityLoss: 1},
		ComplianceRequirements: []string{"GDPR", "PCI-DSS"},
	},
}

// LoadFixture creates the sample incidents through the regular Create path and returns them.
// Production constructors never call it.
func (m *Manager) LoadFixture(ctx context.Context) ([]*models.Incident, error) {
	out := make([]*models.Incident, 0, len(fixtureDrafts))
	for _, draft := range fixtureDrafts {
		inc, err := m.Create(ctx, draft)
		if err != nil {
			return out, fmt.Errorf("load fixture %q: %w", draft.Title, err)
		}
		out = append(out, inc)
	}
	return out, nil
}
