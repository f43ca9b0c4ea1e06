package storage

import (
	"container/ring"
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/miradorstack/mirador-ir/internal/models"
)

// DefaultRingCapacity bounds the in-memory audit log.
const DefaultRingCapacity = 100_000

// MemoryStore keeps incidents in a map and the most recent audit records in a ring buffer.
// Chain heads are tracked separately so eviction never breaks chaining.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]*models.Incident
	records   *ring.Ring
	capacity  int
	size      int
	heads     map[string]chainHead
}

type chainHead struct {
	hash string
	seq  int64
}

// NewMemoryStore creates a memory store retaining at most capacity audit records.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &MemoryStore{
		incidents: make(map[string]*models.Incident),
		records:   ring.New(capacity),
		capacity:  capacity,
		heads:     make(map[string]chainHead),
	}
}

// PutIncident stores a copy of incident.
func (s *MemoryStore) PutIncident(_ context.Context, incident *models.Incident) error {
	if incident == nil || incident.ID == "" {
		return fmt.Errorf("incident id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[incident.ID] = incident.Clone()
	return nil
}

// DeleteIncident drops the snapshot of id.
func (s *MemoryStore) DeleteIncident(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.incidents, id)
	return nil
}

// LoadIncidents returns copies of every stored incident ordered by creation.
func (s *MemoryStore) LoadIncidents(_ context.Context) ([]*models.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, inc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PutAuditRecord appends record when prevHash still matches the chain head of policyID.
func (s *MemoryStore) PutAuditRecord(_ context.Context, policyID, prevHash string, record models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, ok := s.heads[policyID]
	if !ok {
		head = chainHead{hash: ZeroHash}
	}
	if head.hash != prevHash || record.Sequence != head.seq+1 {
		return fmt.Errorf("%w: policy %s head %d", ErrChainConflict, policyID, head.seq)
	}

	stored := record
	s.records.Value = &stored
	s.records = s.records.Next()
	if s.size < s.capacity {
		s.size++
	}
	s.heads[policyID] = chainHead{hash: record.IntegrityHash, seq: record.Sequence}
	return nil
}

// GetLastHash returns the chain head of policyID.
func (s *MemoryStore) GetLastHash(_ context.Context, policyID string) (string, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	head, ok := s.heads[policyID]
	if !ok {
		return ZeroHash, 0, nil
	}
	return head.hash, head.seq, nil
}

// ScanAudit walks the ring oldest-first and returns matching records.
func (s *MemoryStore) ScanAudit(_ context.Context, criteria models.AuditCriteria) ([]models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AuditRecord
	// s.records points at the next write slot, which is also the oldest retained record.
	s.records.Do(func(value any) {
		rec, ok := value.(*models.AuditRecord)
		if !ok || rec == nil {
			return
		}
		if Matches(criteria, *rec) {
			out = append(out, cloneRecord(*rec))
		}
	})
	return out, nil
}

// Len returns the number of retained audit records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func cloneRecord(rec models.AuditRecord) models.AuditRecord {
	rec.ComplianceTags = slices.Clone(rec.ComplianceTags)
	rec.Context.AdditionalData = maps.Clone(rec.Context.AdditionalData)
	rec.Context.SensitiveData = maps.Clone(rec.Context.SensitiveData)
	return rec
}
