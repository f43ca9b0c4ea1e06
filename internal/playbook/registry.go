// Package playbook holds versioned response playbooks and runs them against incidents.
package playbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/syncx"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// Registry stores playbook definitions. Definitions are immutable once registered except for
// the active flag.
type Registry struct {
	lock   *syncx.RWLock
	clock  utils.Clock
	logger *slog.Logger

	playbooks map[string]*models.Playbook
	order     []string
}

// NewRegistry returns an empty registry.
func NewRegistry(clock utils.Clock, logger *slog.Logger) *Registry {
	if clock == nil {
		clock = utils.SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		lock:      syncx.NewRWLock(),
		clock:     clock,
		logger:    logger,
		playbooks: make(map[string]*models.Playbook),
	}
}

// Create validates and registers p as an active playbook. An empty id is generated.
func (r *Registry) Create(ctx context.Context, p models.Playbook) (*models.Playbook, error) {
	const op = "playbook.Create"
	p = *p.Clone()
	if err := Validate(op, &p); err != nil {
		return nil, err
	}
	if err := r.lock.Lock(ctx); err != nil {
		return nil, utils.Timeout(op, err)
	}
	defer r.lock.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := r.playbooks[p.ID]; exists {
		return nil, utils.Validation(op, "playbook %s already exists", p.ID)
	}
	if p.Version <= 0 {
		p.Version = 1
	}
	p.Active = true
	p.CreatedAt = r.clock().UTC()
	stored := p.Clone()
	r.playbooks[stored.ID] = stored
	r.order = append(r.order, stored.ID)

	r.logger.Debug("playbook registered",
		slog.String("playbook_id", stored.ID),
		slog.String("name", stored.Name),
		slog.Int("version", stored.Version),
		slog.Int("steps", len(stored.Steps)),
	)
	return stored.Clone(), nil
}

// NewVersion registers revision as the successor of id under a fresh id and version. The
// original definition is left untouched.
func (r *Registry) NewVersion(ctx context.Context, id string, revision models.Playbook) (*models.Playbook, error) {
	const op = "playbook.NewVersion"
	revision = *revision.Clone()
	if err := Validate(op, &revision); err != nil {
		return nil, err
	}
	if err := r.lock.Lock(ctx); err != nil {
		return nil, utils.Timeout(op, err)
	}
	defer r.lock.Unlock()

	prev, ok := r.playbooks[id]
	if !ok {
		return nil, utils.NotFound(op, "playbook", id)
	}
	revision.ID = uuid.NewString()
	revision.Version = r.latestVersion(prev.Name, prev.Version) + 1
	revision.SupersedesPlaybook = prev.ID
	revision.Active = true
	revision.CreatedAt = r.clock().UTC()
	stored := revision.Clone()
	r.playbooks[stored.ID] = stored
	r.order = append(r.order, stored.ID)
	return stored.Clone(), nil
}

func (r *Registry) latestVersion(name string, floor int) int {
	latest := floor
	for _, p := range r.playbooks {
		if p.Name == name && p.Version > latest {
			latest = p.Version
		}
	}
	return latest
}

// Get returns a copy of playbook id.
func (r *Registry) Get(ctx context.Context, id string) (*models.Playbook, error) {
	const op = "playbook.Get"
	if err := r.lock.RLock(ctx); err != nil {
		return nil, utils.Timeout(op, err)
	}
	defer r.lock.RUnlock()
	p, ok := r.playbooks[id]
	if !ok {
		return nil, utils.NotFound(op, "playbook", id)
	}
	return p.Clone(), nil
}

// List returns playbooks in registration order, optionally only the active ones.
func (r *Registry) List(ctx context.Context, activeOnly bool) ([]*models.Playbook, error) {
	if err := r.lock.RLock(ctx); err != nil {
		return nil, utils.Timeout("playbook.List", err)
	}
	defer r.lock.RUnlock()
	out := make([]*models.Playbook, 0, len(r.order))
	for _, id := range r.order {
		p := r.playbooks[id]
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p.Clone())
	}
	return out, nil
}

// Applicable returns the active playbooks targeting the given category and severity.
func (r *Registry) Applicable(ctx context.Context, category models.Category, severity models.Severity) ([]*models.Playbook, error) {
	active, err := r.List(ctx, true)
	if err != nil {
		return nil, err
	}
	out := active[:0]
	for _, p := range active {
		if p.Applies(category, severity) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Deactivate stops new executions of id. Running executions are unaffected.
func (r *Registry) Deactivate(ctx context.Context, id string) (*models.Playbook, error) {
	const op = "playbook.Deactivate"
	if err := r.lock.Lock(ctx); err != nil {
		return nil, utils.Timeout(op, err)
	}
	defer r.lock.Unlock()
	p, ok := r.playbooks[id]
	if !ok {
		return nil, utils.NotFound(op, "playbook", id)
	}
	p.Active = false
	return p.Clone(), nil
}

// Pack is the YAML root of a playbook pack file.
type Pack struct {
	Playbooks []models.Playbook `yaml:"playbooks"`
}

// LoadPack registers every playbook in the YAML file at path. A missing file loads nothing.
func (r *Registry) LoadPack(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("playbook pack not found", slog.String("path", path))
			return 0, nil
		}
		return 0, err
	}
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return 0, fmt.Errorf("parse playbook pack %s: %w", path, err)
	}
	for i, p := range pack.Playbooks {
		if _, err := r.Create(ctx, p); err != nil {
			return i, fmt.Errorf("playbook pack %s entry %d: %w", path, i, err)
		}
	}
	r.logger.Info("playbook pack loaded", slog.String("path", path), slog.Int("playbooks", len(pack.Playbooks)))
	return len(pack.Playbooks), nil
}

// Validate checks the definition: a name, at least one step, unique step ids and numbers,
// dependencies on known steps and an acyclic dependency graph. Steps without an id take
// "step-<number>".
func Validate(op string, p *models.Playbook) error {
	if strings.TrimSpace(p.Name) == "" {
		return utils.Validation(op, "playbook name is required")
	}
	if len(p.Steps) == 0 {
		return utils.Validation(op, "playbook %s has no steps", p.Name)
	}
	if p.MinimumSeverity != "" && !p.MinimumSeverity.Valid() {
		return utils.Validation(op, "minimum severity %q is not valid", p.MinimumSeverity)
	}
	ids := make(map[string]bool, len(p.Steps))
	numbers := make(map[int]bool, len(p.Steps))
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.Number <= 0 {
			return utils.Validation(op, "step %q must have a positive number", step.Title)
		}
		if numbers[step.Number] {
			return utils.Validation(op, "step number %d is used twice", step.Number)
		}
		numbers[step.Number] = true
		if step.ID == "" {
			step.ID = fmt.Sprintf("step-%d", step.Number)
		}
		if ids[step.ID] {
			return utils.Validation(op, "step id %s is used twice", step.ID)
		}
		ids[step.ID] = true
	}
	for _, step := range p.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				return utils.Validation(op, "step %s depends on itself", step.ID)
			}
			if !ids[dep] {
				return utils.Validation(op, "step %s depends on unknown step %s", step.ID, dep)
			}
		}
	}
	if cycle := findCycle(p.Steps); len(cycle) > 0 {
		return utils.Validation(op, "step dependencies form a cycle: %s", strings.Join(cycle, " -> "))
	}
	return nil
}

// findCycle returns one dependency cycle, or nil when the graph is a DAG.
func findCycle(steps []models.Step) []string {
	deps := make(map[string][]string, len(steps))
	for _, s := range steps {
		deps[s.ID] = s.DependsOn
	}
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(steps))
	var path []string
	var visit func(id string) []string
	visit = func(id string) []string {
		state[id] = active
		path = append(path, id)
		for _, dep := range deps[id] {
			switch state[dep] {
			case active:
				start := slices.Index(path, dep)
				return append(slices.Clone(path[start:]), dep)
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return nil
	}
	for _, s := range steps {
		if state[s.ID] == unvisited {
			if cycle := visit(s.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
