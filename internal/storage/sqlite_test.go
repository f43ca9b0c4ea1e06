package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-ir/internal/models"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "ir", "state.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteAuditChainAppendAndScan(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLite(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	prev := ZeroHash
	for i := int64(1); i <= 4; i++ {
		rec := chainRecord("standard_retention", i, prev, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, store.PutAuditRecord(ctx, "standard_retention", prev, rec))
		prev = rec.IntegrityHash
	}
	other := chainRecord("security_retention", 1, ZeroHash, base)
	require.NoError(t, store.PutAuditRecord(ctx, "security_retention", ZeroHash, other))

	head, seq, err := store.GetLastHash(ctx, "standard_retention")
	require.NoError(t, err)
	assert.Equal(t, prev, head)
	assert.EqualValues(t, 4, seq)

	records, err := store.ScanAudit(ctx, models.AuditCriteria{
		RetentionPolicyID: "standard_retention",
		Start:             base.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.EqualValues(t, 2, records[0].Sequence)
	assert.True(t, records[0].Timestamp.Equal(base.Add(2*time.Hour)))

	err = store.PutAuditRecord(ctx, "standard_retention", ZeroHash, chainRecord("standard_retention", 5, ZeroHash, base))
	assert.True(t, errors.Is(err, ErrChainConflict))
}

func TestSQLiteIncidentUpsertAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.sqlite")
	store, err := OpenSQLite(path)
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	inc := &models.Incident{ID: "inc-1", Title: "Breach A", Status: models.StatusNew, Severity: models.SeverityHigh, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.PutIncident(ctx, inc))
	inc.Status = models.StatusAssigned
	inc.Assignee = "resp-1"
	require.NoError(t, store.PutIncident(ctx, inc))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, models.StatusAssigned, loaded[0].Status)
	assert.Equal(t, "resp-1", loaded[0].Assignee)

	require.NoError(t, reopened.DeleteIncident(ctx, "inc-1"))
	loaded, err = reopened.LoadIncidents(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
