package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

func chainRecord(policy string, seq int64, prev string, ts time.Time) models.AuditRecord {
	return models.AuditRecord{
		ID:                fmt.Sprintf("rec-%s-%d", policy, seq),
		EventType:         "incident_created",
		Timestamp:         ts,
		Actor:             models.AuditActor{Type: models.ActorUser, ID: "soc"},
		Resource:          models.AuditResource{Type: "incident", ID: "inc-1"},
		Action:            models.AuditAction{Type: "create", Description: "Incident created", Outcome: models.OutcomeSuccess},
		Severity:          models.SeverityHigh,
		RetentionPolicyID: policy,
		Sequence:          seq,
		PreviousHash:      prev,
		IntegrityHash:     fmt.Sprintf("%064d", seq),
	}
}

func TestMemoryStoreChainHeadAndConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	head, seq, err := store.GetLastHash(ctx, "standard_retention")
	require.NoError(t, err)
	assert.Equal(t, ZeroHash, head)
	assert.Zero(t, seq)

	first := chainRecord("standard_retention", 1, ZeroHash, time.Now().UTC())
	require.NoError(t, store.PutAuditRecord(ctx, "standard_retention", ZeroHash, first))

	head, seq, err = store.GetLastHash(ctx, "standard_retention")
	require.NoError(t, err)
	assert.Equal(t, first.IntegrityHash, head)
	assert.EqualValues(t, 1, seq)

	stale := chainRecord("standard_retention", 2, ZeroHash, time.Now().UTC())
	err = store.PutAuditRecord(ctx, "standard_retention", ZeroHash, stale)
	assert.True(t, errors.Is(err, ErrChainConflict), "expected chain conflict, got %v", err)
}

func TestMemoryStoreRingEvictsOldestButKeepsHead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	prev := ZeroHash
	for i := int64(1); i <= 5; i++ {
		rec := chainRecord("p", i, prev, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.PutAuditRecord(ctx, "p", prev, rec))
		prev = rec.IntegrityHash
	}

	records, err := store.ScanAudit(ctx, models.AuditCriteria{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.EqualValues(t, 3, records[0].Sequence)
	assert.EqualValues(t, 5, records[2].Sequence)
	assert.Equal(t, 3, store.Len())

	_, seq, err := store.GetLastHash(ctx, "p")
	require.NoError(t, err)
	assert.EqualValues(t, 5, seq)
}

func TestMemoryStoreIncidentsAreCopied(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1)
	inc := &models.Incident{ID: "inc-1", Title: "Breach A", Tags: []string{"a"}}
	require.NoError(t, store.PutIncident(ctx, inc))
	inc.Tags[0] = "mutated"

	loaded, err := store.LoadIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "a", loaded[0].Tags[0])

	require.NoError(t, store.DeleteIncident(ctx, "inc-1"))
	require.NoError(t, store.DeleteIncident(ctx, "unknown"))
	loaded, err = store.LoadIncidents(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestMatchesCriteria(t *testing.T) {
	rec := chainRecord("p", 1, ZeroHash, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	rec.ComplianceTags = []string{"GDPR:Art.33"}
	rec.Context.AdditionalData = map[string]string{"host": "db-01"}

	tests := []struct {
		name     string
		criteria models.AuditCriteria
		want     bool
	}{
		{name: "empty", criteria: models.AuditCriteria{}, want: true},
		{name: "before window", criteria: models.AuditCriteria{Start: rec.Timestamp.Add(time.Second)}, want: false},
		{name: "event type", criteria: models.AuditCriteria{EventTypes: []string{"incident_closed"}}, want: false},
		{name: "resource substring", criteria: models.AuditCriteria{Resources: []string{"INCIDENT"}}, want: true},
		{name: "tag", criteria: models.AuditCriteria{ComplianceTags: []string{"GDPR:Art.33"}}, want: true},
		{name: "severity", criteria: models.AuditCriteria{Severities: []models.Severity{models.SeverityLow}}, want: false},
		{name: "text in additional data", criteria: models.AuditCriteria{Text: "DB-01"}, want: true},
		{name: "text miss", criteria: models.AuditCriteria{Text: "nothing"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.criteria, rec))
		})
	}
}

func TestDoRetriesTransientOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "test", func(context.Context) error {
		calls++
		if calls == 1 {
			return transient(errors.New("database is locked"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = Do(context.Background(), "test", func(context.Context) error {
		calls++
		return transient(errors.New("busy"))
	})
	assert.Equal(t, 2, calls)
	assert.True(t, errors.Is(err, utils.ErrStoragePlugin))
}
