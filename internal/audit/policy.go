package audit

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-ir/internal/models"
)

const day = 24 * time.Hour

// PolicySet is the YAML root of an audit policy file.
type PolicySet struct {
	RetentionPolicies  []models.RetentionPolicy    `yaml:"retention_policies"`
	Configurations     []models.AuditConfiguration `yaml:"configurations"`
	ComplianceMappings []models.ComplianceMapping  `yaml:"compliance_mappings"`
}

// Empty reports whether the set defines nothing.
func (p PolicySet) Empty() bool {
	return len(p.RetentionPolicies) == 0 && len(p.Configurations) == 0 && len(p.ComplianceMappings) == 0
}

// LoadPolicyFile reads a policy set from path. A missing file or empty path yields the defaults.
// Sections absent from the file are filled from the defaults as well.
func LoadPolicyFile(path string) (PolicySet, error) {
	defaults := DefaultPolicies()
	if path == "" {
		return defaults, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return PolicySet{}, err
	}
	var set PolicySet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return PolicySet{}, fmt.Errorf("parse audit policy file %s: %w", path, err)
	}
	if len(set.RetentionPolicies) == 0 {
		set.RetentionPolicies = defaults.RetentionPolicies
	}
	if len(set.Configurations) == 0 {
		set.Configurations = defaults.Configurations
	}
	if len(set.ComplianceMappings) == 0 {
		set.ComplianceMappings = defaults.ComplianceMappings
	}
	return set, nil
}

// DefaultPolicies returns the built-in retention policies, configurations and framework
// mappings.
func DefaultPolicies() PolicySet {
	return PolicySet{
		RetentionPolicies: []models.RetentionPolicy{
			{
				ID:                 "standard_retention",
				RetentionPeriod:    7 * 365 * day,
				ArchiveAfter:       365 * day,
				CompressionEnabled: true,
				BackupFrequency:    day,
			},
			{
				ID:                 "security_retention",
				RetentionPeriod:    10 * 365 * day,
				ArchiveAfter:       2 * 365 * day,
				EncryptionRequired: true,
				CompressionEnabled: true,
				BackupFrequency:    6 * time.Hour,
			},
			{
				ID:                     "compliance_retention",
				RetentionPeriod:        7 * 365 * day,
				ArchiveAfter:           90 * day,
				EncryptionRequired:     true,
				CompressionEnabled:     true,
				BackupFrequency:        day,
				GeographicRestrictions: []string{"EU"},
			},
		},
		Configurations: []models.AuditConfiguration{
			{
				ID:                     "incident_lifecycle",
				Name:                   "Incident lifecycle",
				EventTypes:             models.LifecycleEventTypes(),
				LogLevel:               models.LogInfo,
				IncludeData:            true,
				RetentionPolicyID:      "standard_retention",
				ComplianceRequirements: []string{"GDPR", "HIPAA", "PCI-DSS", "SOX"},
				Enabled:                true,
			},
			{
				ID:   "authentication",
				Name: "Authentication and access",
				EventTypes: []string{
					models.AuditUserLogin, models.AuditUserLogout, models.AuditLoginFailed,
					models.AuditPasswordChanged, models.AuditAccountLocked, models.AuditAuthorizationError,
				},
				LogLevel:          models.LogInfo,
				RetentionPolicyID: "security_retention",
				Enabled:           true,
			},
			{
				ID:   "administration",
				Name: "User and configuration administration",
				EventTypes: []string{
					models.AuditUserCreated, models.AuditUserUpdated, models.AuditUserDeleted,
					models.AuditPermissionChanged, models.AuditConfigChanged,
				},
				LogLevel:          models.LogWarning,
				IncludeData:       true,
				RetentionPolicyID: "compliance_retention",
				Enabled:           true,
			},
			{
				ID:                "data_access",
				Name:              "Data access",
				EventTypes:        []string{models.AuditDataAccessed, models.AuditDataExported, models.AuditDataModified},
				LogLevel:          models.LogInfo,
				RetentionPolicyID: "compliance_retention",
				Enabled:           true,
			},
			{
				ID:                   "security_events",
				Name:                 "Security violations",
				EventTypes:           []string{models.AuditViolationDetected, models.AuditSecurityBreach},
				LogLevel:             models.LogCritical,
				IncludeData:          true,
				IncludeSensitiveData: true,
				RetentionPolicyID:    "security_retention",
				Enabled:              true,
			},
		},
		ComplianceMappings: []models.ComplianceMapping{
			{
				ID:        "gdpr",
				Framework: "GDPR",
				Enabled:   true,
				Requirements: []models.ComplianceRequirement{
					{
						ID:                   "Art.30",
						Title:                "Records of processing activities",
						AuditEventTypes:      []string{models.AuditDataAccessed, models.AuditDataExported, models.AuditDataModified},
						RetentionRequirement: "Retain for the lifetime of the processing activity",
					},
					{
						ID:    "Art.32",
						Title: "Security of processing",
						AuditEventTypes: []string{
							models.EventIncidentCreated, models.EventIncidentEscalated,
							models.TransitionEventType(models.StatusContained), models.EventEvidenceAdded,
						},
						RetentionRequirement: "Retain while the incident record is relevant",
					},
					{
						ID:    "Art.33",
						Title: "Notification of a personal data breach",
						AuditEventTypes: []string{
							models.EventIncidentCreated, models.EventNotificationSent,
							models.EventIncidentClosed, models.AuditSecurityBreach,
						},
						RetentionRequirement: "Document every breach and the remedial action taken",
					},
				},
			},
			{
				ID:        "sox",
				Framework: "SOX",
				Enabled:   true,
				Requirements: []models.ComplianceRequirement{
					{
						ID:                   "404",
						Title:                "Internal control over financial reporting",
						AuditEventTypes:      []string{models.AuditConfigChanged, models.AuditPermissionChanged, models.AuditUserDeleted},
						RetentionRequirement: "7 years",
					},
					{
						ID:                   "802",
						Title:                "Retention of audit records",
						AuditEventTypes:      []string{models.EventIncidentCreated, models.EventIncidentClosed, models.AuditDataModified},
						RetentionRequirement: "7 years",
					},
				},
			},
			{
				ID:        "hipaa",
				Framework: "HIPAA",
				Enabled:   true,
				Requirements: []models.ComplianceRequirement{
					{
						ID:                   "164.308(a)(6)",
						Title:                "Security incident procedures",
						AuditEventTypes:      []string{models.EventIncidentCreated, models.EventIncidentAssigned, models.EventIncidentClosed},
						RetentionRequirement: "6 years",
					},
					{
						ID:                   "164.312(b)",
						Title:                "Audit controls",
						AuditEventTypes:      []string{models.AuditDataAccessed, models.AuditLoginFailed, models.AuditUserLogin},
						RetentionRequirement: "6 years",
					},
				},
			},
			{
				ID:        "pci-dss",
				Framework: "PCI-DSS",
				Enabled:   true,
				Requirements: []models.ComplianceRequirement{
					{
						ID:    "10.2",
						Title: "Audit trails for system components",
						AuditEventTypes: []string{
							models.AuditUserLogin, models.AuditLoginFailed, models.AuditAccountLocked,
							models.AuditPermissionChanged, models.AuditAuthorizationError,
						},
						RetentionRequirement: "1 year, 3 months immediately available",
					},
					{
						ID:    "12.10",
						Title: "Incident response plan",
						AuditEventTypes: []string{
							models.EventIncidentCreated, models.EventPlaybookStarted, models.EventPlaybookCompleted,
							models.EventIncidentClosed,
						},
						RetentionRequirement: "1 year",
					},
				},
			},
		},
	}
}
