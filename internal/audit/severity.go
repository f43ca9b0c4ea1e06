package audit

import (
	"github.com/miradorstack/mirador-ir/internal/models"
)

var severityByEventType = map[string]models.Severity{
	models.AuditUserLogin:          models.SeverityLow,
	models.AuditUserLogout:         models.SeverityLow,
	models.AuditLoginFailed:        models.SeverityMedium,
	models.AuditAuthorizationError: models.SeverityMedium,
	models.AuditUserUpdated:        models.SeverityMedium,
	models.AuditDataModified:       models.SeverityMedium,
	models.AuditAccountLocked:      models.SeverityHigh,
	models.AuditUserDeleted:        models.SeverityHigh,
	models.AuditConfigChanged:      models.SeverityHigh,
	models.AuditViolationDetected:  models.SeverityCritical,
	models.AuditSecurityBreach:     models.SeverityCritical,
}

// DeriveSeverity returns the severity of an event. A severity carried by the event wins over
// the event-type table; Info is recorded as Low. Unknown event types are Medium.
func DeriveSeverity(ev models.AuditEvent) models.Severity {
	if ev.Severity.Valid() {
		if ev.Severity == models.SeverityInfo {
			return models.SeverityLow
		}
		return ev.Severity
	}
	if sev, ok := severityByEventType[ev.EventType]; ok {
		return sev
	}
	return models.SeverityMedium
}

// cefSeverity maps a record severity onto the CEF 0-10 scale.
func cefSeverity(sev models.Severity) int {
	switch sev {
	case models.SeverityCritical:
		return 10
	case models.SeverityHigh:
		return 7
	case models.SeverityMedium:
		return 5
	default:
		return 3
	}
}
