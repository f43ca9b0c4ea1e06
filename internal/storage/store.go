// Package storage defines the persistence plug-in contract of the incident engine and ships
// an in-memory ring buffer and a SQLite implementation.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// ZeroHash seeds the first record of every retention-policy chain.
var ZeroHash = strings.Repeat("0", 64)

var (
	// ErrTransient marks failures worth a single retry (busy database, dropped connection).
	ErrTransient = errors.New("transient storage failure")
	// ErrChainConflict reports that prevHash no longer matches the stored chain head.
	ErrChainConflict = errors.New("audit chain head moved")
)

// Store is the persistence plug-in. Implementations must be safe for concurrent use and must
// append audit records atomically per retention policy.
type Store interface {
	PutIncident(ctx context.Context, incident *models.Incident) error
	// DeleteIncident removes an incident snapshot; unknown ids are not an error.
	DeleteIncident(ctx context.Context, id string) error
	LoadIncidents(ctx context.Context) ([]*models.Incident, error)
	PutAuditRecord(ctx context.Context, policyID, prevHash string, record models.AuditRecord) error
	// GetLastHash returns the chain head for policyID; ZeroHash and 0 when the chain is empty.
	GetLastHash(ctx context.Context, policyID string) (string, int64, error)
	// ScanAudit returns every record matching criteria, oldest first, ignoring paging.
	ScanAudit(ctx context.Context, criteria models.AuditCriteria) ([]models.AuditRecord, error)
	Close() error
}

// Do runs fn, retries once when it fails transiently, and wraps a final failure as a
// StoragePluginError.
func Do(ctx context.Context, op string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err != nil && errors.Is(err, ErrTransient) && ctx.Err() == nil {
		err = fn(ctx)
	}
	if err == nil {
		return nil
	}
	return utils.NewKindError(op, utils.KindStoragePluginError, "storage plug-in failed", err)
}

// transient marks err as retryable.
func transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
