// Package audit implements the append-only audit sink: configuration filters, compliance
// tagging, severity derivation and per-retention-policy hash chains over a storage plug-in.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-ir/internal/metrics"
	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/storage"
	"github.com/miradorstack/mirador-ir/internal/syncx"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// ErrDiscarded is returned by Submit when no enabled configuration accepts the event. It is
// not a failure; callers treat it as success without a record.
var ErrDiscarded = errors.New("audit event discarded by filter")

// DefaultPolicyID is used when a matching configuration names no retention policy.
const DefaultPolicyID = "standard_retention"

// Recommender produces remediation advice for a compliance report section.
type Recommender interface {
	Recommend(framework string, section models.RequirementReport) []string
}

// Options configures a Sink.
type Options struct {
	Store           storage.Store
	Hasher          Hasher
	Clock           utils.Clock
	Logger          *slog.Logger
	DefaultPolicyID string
	Recommender     Recommender
	Policies        PolicySet
}

// Sink receives audit events and appends them to hash-chained per-policy logs.
type Sink struct {
	store         storage.Store
	hasher        Hasher
	clock         utils.Clock
	logger        *slog.Logger
	defaultPolicy string
	recommender   Recommender

	cfgMu    sync.RWMutex
	configs  []models.AuditConfiguration
	policies map[string]models.RetentionPolicy
	mappings []models.ComplianceMapping

	chainsMu sync.Mutex
	chains   map[string]*syncx.RWLock
}

// NewSink constructs a sink over opts.Store. A nil hasher selects SHA-256 and an empty policy
// set installs DefaultPolicies.
func NewSink(opts Options) (*Sink, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("audit sink requires a store")
	}
	if opts.Hasher == nil {
		opts.Hasher = SHA256
	}
	if opts.Clock == nil {
		opts.Clock = utils.SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultPolicyID == "" {
		opts.DefaultPolicyID = DefaultPolicyID
	}
	if opts.Policies.Empty() {
		opts.Policies = DefaultPolicies()
	}

	s := &Sink{
		store:         opts.Store,
		hasher:        opts.Hasher,
		clock:         opts.Clock,
		logger:        opts.Logger,
		defaultPolicy: opts.DefaultPolicyID,
		recommender:   opts.Recommender,
		policies:      make(map[string]models.RetentionPolicy),
		chains:        make(map[string]*syncx.RWLock),
	}
	for _, p := range opts.Policies.RetentionPolicies {
		if err := s.AddRetentionPolicy(p); err != nil {
			return nil, err
		}
	}
	for _, cfg := range opts.Policies.Configurations {
		if err := s.AddConfiguration(cfg); err != nil {
			return nil, err
		}
	}
	for _, m := range opts.Policies.ComplianceMappings {
		if err := s.AddComplianceMapping(m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Hasher returns the hash function chaining records.
func (s *Sink) Hasher() Hasher { return s.hasher }

// Submit filters, tags, classifies, chains and persists ev, returning the new record id.
func (s *Sink) Submit(ctx context.Context, ev models.AuditEvent) (string, error) {
	const op = "audit.Submit"
	if ev.EventType == "" {
		return "", utils.Validation(op, "event type is required")
	}

	sev := DeriveSeverity(ev)
	s.cfgMu.RLock()
	sel, ok := selectConfigs(s.configs, ev, sev)
	tags := complianceTags(s.mappings, ev.EventType)
	s.cfgMu.RUnlock()
	if !ok {
		metrics.ObserveAuditDiscarded()
		s.logger.Debug("audit event discarded", slog.String("event_type", ev.EventType), slog.String("severity", string(sev)))
		return "", ErrDiscarded
	}

	policyID := sel.policyID
	if policyID == "" {
		policyID = s.defaultPolicy
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = s.clock()
	}

	record := models.AuditRecord{
		ID:                uuid.NewString(),
		EventType:         ev.EventType,
		Timestamp:         ts.UTC(),
		Actor:             ev.Actor,
		Resource:          ev.Resource,
		Action:            ev.Action,
		Context:           scrubContext(ev.Context, sel),
		ComplianceTags:    tags,
		Severity:          sev,
		RetentionPolicyID: policyID,
	}
	if record.Actor.Type == "" {
		record.Actor.Type = models.ActorUser
	}
	if record.Action.Outcome == "" {
		record.Action.Outcome = models.OutcomeSuccess
	}

	lock := s.chainLock(policyID)
	if err := lock.Lock(ctx); err != nil {
		return "", utils.Timeout(op, err)
	}
	defer lock.Unlock()

	prev, seq, err := s.store.GetLastHash(ctx, policyID)
	if err != nil {
		return "", utils.NewKindError(op, utils.KindHashChainBroken,
			fmt.Sprintf("chain head of policy %s unavailable", policyID), err)
	}
	record.Sequence = seq + 1
	record.PreviousHash = prev

	canonical, err := CanonicalBytes(record)
	if err != nil {
		return "", utils.NewKindError(op, utils.KindSerializationFailed, "canonicalize audit record", err)
	}
	record.IntegrityHash = s.hasher.Chain(prev, canonical)

	err = storage.Do(ctx, op, func(ctx context.Context) error {
		return s.store.PutAuditRecord(ctx, policyID, prev, record)
	})
	if err != nil {
		if errors.Is(err, storage.ErrChainConflict) {
			return "", utils.NewKindError(op, utils.KindHashChainBroken,
				fmt.Sprintf("chain head of policy %s moved", policyID), err)
		}
		return "", err
	}

	metrics.ObserveAuditRecord(policyID)
	s.logger.Debug("audit record appended",
		slog.String("record_id", record.ID),
		slog.String("event_type", record.EventType),
		slog.String("policy", policyID),
		slog.Int64("sequence", record.Sequence),
	)
	return record.ID, nil
}

func scrubContext(c models.AuditContext, sel selection) models.AuditContext {
	out := models.AuditContext{
		RequestID:     c.RequestID,
		CorrelationID: c.CorrelationID,
		SourceSystem:  c.SourceSystem,
	}
	if sel.includeData && len(c.AdditionalData) > 0 {
		out.AdditionalData = maps.Clone(c.AdditionalData)
	}
	if sel.includeSensitive && len(c.SensitiveData) > 0 {
		out.SensitiveData = maps.Clone(c.SensitiveData)
	}
	return out
}

func (s *Sink) chainLock(policyID string) *syncx.RWLock {
	s.chainsMu.Lock()
	defer s.chainsMu.Unlock()
	l, ok := s.chains[policyID]
	if !ok {
		l = syncx.NewRWLock()
		s.chains[policyID] = l
	}
	return l
}

// readLock takes shared holds on the chains the criteria can touch, in a stable order.
func (s *Sink) readLock(ctx context.Context, policyID string) (func(), error) {
	var ids []string
	if policyID != "" {
		ids = []string{policyID}
	} else {
		s.chainsMu.Lock()
		ids = slices.Sorted(maps.Keys(s.chains))
		s.chainsMu.Unlock()
	}

	held := make([]*syncx.RWLock, 0, len(ids))
	release := func() {
		for _, l := range held {
			l.RUnlock()
		}
	}
	for _, id := range ids {
		l := s.chainLock(id)
		if err := l.RLock(ctx); err != nil {
			release()
			return nil, err
		}
		held = append(held, l)
	}
	return release, nil
}

// AddConfiguration registers or replaces (by id) an audit configuration.
func (s *Sink) AddConfiguration(cfg models.AuditConfiguration) error {
	if cfg.ID == "" {
		return utils.Validation("audit.AddConfiguration", "configuration id is required")
	}
	if len(cfg.EventTypes) == 0 {
		return utils.Validation("audit.AddConfiguration", "configuration %s lists no event types", cfg.ID)
	}
	if cfg.Filters.MinSeverity != "" && !cfg.Filters.MinSeverity.Valid() {
		return utils.Validation("audit.AddConfiguration", "configuration %s has unknown severity %q", cfg.ID, cfg.Filters.MinSeverity)
	}
	cfg.EventTypes = slices.Clone(cfg.EventTypes)

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if cfg.RetentionPolicyID != "" {
		if _, ok := s.policies[cfg.RetentionPolicyID]; !ok {
			return utils.NotFound("audit.AddConfiguration", "retention policy", cfg.RetentionPolicyID)
		}
	}
	if i := slices.IndexFunc(s.configs, func(c models.AuditConfiguration) bool { return c.ID == cfg.ID }); i >= 0 {
		s.configs[i] = cfg
		return nil
	}
	s.configs = append(s.configs, cfg)
	return nil
}

// SetConfigurationEnabled toggles a configuration on or off.
func (s *Sink) SetConfigurationEnabled(id string, enabled bool) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	for i := range s.configs {
		if s.configs[i].ID == id {
			s.configs[i].Enabled = enabled
			return nil
		}
	}
	return utils.NotFound("audit.SetConfigurationEnabled", "audit configuration", id)
}

// Configurations returns the registered configurations in evaluation order.
func (s *Sink) Configurations() []models.AuditConfiguration {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return slices.Clone(s.configs)
}

// AddRetentionPolicy registers or replaces a retention policy.
func (s *Sink) AddRetentionPolicy(p models.RetentionPolicy) error {
	if p.ID == "" {
		return utils.Validation("audit.AddRetentionPolicy", "retention policy id is required")
	}
	if p.RetentionPeriod < 0 || p.ArchiveAfter < 0 {
		return utils.Validation("audit.AddRetentionPolicy", "retention policy %s has a negative period", p.ID)
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.policies[p.ID] = p
	return nil
}

// RetentionPolicy resolves a policy by id.
func (s *Sink) RetentionPolicy(id string) (models.RetentionPolicy, error) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return models.RetentionPolicy{}, utils.NotFound("audit.RetentionPolicy", "retention policy", id)
	}
	return p, nil
}

// RetentionPolicies returns every policy ordered by id.
func (s *Sink) RetentionPolicies() []models.RetentionPolicy {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	out := make([]models.RetentionPolicy, 0, len(s.policies))
	for _, id := range slices.Sorted(maps.Keys(s.policies)) {
		out = append(out, s.policies[id])
	}
	return out
}

// AddComplianceMapping registers or replaces (by framework) a compliance mapping.
func (s *Sink) AddComplianceMapping(m models.ComplianceMapping) error {
	if m.Framework == "" {
		return utils.Validation("audit.AddComplianceMapping", "framework is required")
	}
	if m.ID == "" {
		m.ID = strings.ToLower(m.Framework)
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if i := slices.IndexFunc(s.mappings, func(x models.ComplianceMapping) bool { return strings.EqualFold(x.Framework, m.Framework) }); i >= 0 {
		s.mappings[i] = m
		return nil
	}
	s.mappings = append(s.mappings, m)
	return nil
}

// ComplianceMappings returns the registered mappings.
func (s *Sink) ComplianceMappings() []models.ComplianceMapping {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return slices.Clone(s.mappings)
}

func (s *Sink) mapping(framework string) (models.ComplianceMapping, bool) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	for _, m := range s.mappings {
		if strings.EqualFold(m.Framework, framework) {
			return m, true
		}
	}
	return models.ComplianceMapping{}, false
}

func (s *Sink) now() time.Time { return s.clock() }
