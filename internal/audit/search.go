package audit

import (
	"context"
	"slices"

	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// Search returns one page of records matching criteria. Sort defaults to newest first.
func (s *Sink) Search(ctx context.Context, criteria models.AuditCriteria) (models.AuditPage, error) {
	records, err := s.collect(ctx, "audit.Search", criteria)
	if err != nil {
		return models.AuditPage{}, err
	}

	page := max(criteria.Page, 1)
	size := criteria.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)

	total := len(records)
	out := models.AuditPage{
		Records:    []models.AuditRecord{},
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: (total + size - 1) / size,
	}
	from := (page - 1) * size
	if from < total {
		out.Records = records[from:min(from+size, total)]
	}
	return out, nil
}

// collect scans every matching record under shared chain locks and sorts it per criteria.
func (s *Sink) collect(ctx context.Context, op string, criteria models.AuditCriteria) ([]models.AuditRecord, error) {
	if !criteria.Start.IsZero() && !criteria.End.IsZero() && criteria.End.Before(criteria.Start) {
		return nil, utils.Validation(op, "end precedes start")
	}
	release, err := s.readLock(ctx, criteria.RetentionPolicyID)
	if err != nil {
		return nil, utils.Timeout(op, err)
	}
	defer release()

	records, err := s.store.ScanAudit(ctx, criteria)
	if err != nil {
		return nil, utils.NewKindError(op, utils.KindStoragePluginError, "scan audit records", err)
	}
	sortRecords(records, criteria.Sort)
	return records, nil
}

func sortRecords(records []models.AuditRecord, order models.SortOrder) {
	asc := order == models.SortTimestampAsc
	slices.SortStableFunc(records, func(a, b models.AuditRecord) int {
		c := a.Timestamp.Compare(b.Timestamp)
		if asc {
			return c
		}
		return -c
	})
}
