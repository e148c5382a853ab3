// Package artifact implements the typed cache adapters over the on-disk
// project artifacts. Every adapter follows one contract: save writes
// through the lock manager atomically and then seeds the in-memory cache;
// load returns a fresh cached value or falls through to disk; invalidate
// clears matching cache entries. All in-memory copies are caches of the
// filesystem, never the other way around.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/stopeworks/stope/internal/locking"
	"github.com/stopeworks/stope/internal/paths"
	"github.com/stopeworks/stope/internal/project"
	"github.com/stopeworks/stope/internal/topics"
	"github.com/stopeworks/stope/internal/vectors"
	"github.com/stopeworks/stope/internal/workspace"
	"github.com/stopeworks/stope/pkg/lru"
)

// Cache policy defaults per artifact kind.
const (
	defaultTTL              = 5 * time.Minute
	configEntries           = 1
	defaultWorkspaceEntries = 20
	defaultModelEntries     = 5
	defaultVectorEntries    = 5
)

// configKey is the single cache key of the config adapter.
const configKey = "config"

// CacheOptions tune the per-project cache policies. Zero fields fall back
// to the defaults.
type CacheOptions struct {
	TTL              time.Duration
	WorkspaceEntries int
	ModelEntries     int
	VectorEntries    int
}

func (o CacheOptions) withDefaults() CacheOptions {
	if o.TTL <= 0 {
		o.TTL = defaultTTL
	}

	if o.WorkspaceEntries <= 0 {
		o.WorkspaceEntries = defaultWorkspaceEntries
	}

	if o.ModelEntries <= 0 {
		o.ModelEntries = defaultModelEntries
	}

	if o.VectorEntries <= 0 {
		o.VectorEntries = defaultVectorEntries
	}

	return o
}

// Store is the per-project artifact store: one typed cache per artifact
// kind plus the adapters reading and writing through it.
type Store struct {
	paths   *paths.Manager
	locks   *locking.Manager
	logger  *slog.Logger
	timeout time.Duration

	config       *lru.Cache[string, *project.Project]
	workspaces   *lru.Cache[string, *workspace.Table]
	topicResults *lru.Cache[string, *topics.Result]
	models       *lru.Cache[string, *topics.Fitted]
	vecs         *lru.Cache[string, *vectors.Matrix]
	evaluations  *lru.Cache[string, *topics.Evaluation]
	experiments  *lru.Cache[string, *topics.Experiment]
}

func newStore(pm *paths.Manager, locks *locking.Manager, logger *slog.Logger, opts CacheOptions) *Store {
	opts = opts.withDefaults()

	return &Store{
		paths:  pm,
		locks:  locks,
		logger: logger,

		config: lru.New(
			lru.WithMaxEntries[string, *project.Project](configEntries),
			lru.WithTTL[string, *project.Project](opts.TTL)),
		workspaces: lru.New(
			lru.WithMaxEntries[string, *workspace.Table](opts.WorkspaceEntries),
			lru.WithTTL[string, *workspace.Table](opts.TTL)),
		topicResults: lru.New(
			lru.WithTTL[string, *topics.Result](opts.TTL)),
		models: lru.New(
			lru.WithMaxEntries[string, *topics.Fitted](opts.ModelEntries),
			lru.WithTTL[string, *topics.Fitted](opts.TTL)),
		vecs: lru.New(
			lru.WithMaxEntries[string, *vectors.Matrix](opts.VectorEntries),
			lru.WithTTL[string, *vectors.Matrix](opts.TTL)),
		evaluations: lru.New(
			lru.WithTTL[string, *topics.Evaluation](opts.TTL)),
		experiments: lru.New(
			lru.WithTTL[string, *topics.Experiment](opts.TTL)),
	}
}

// WithTimeout returns a view of the store whose lock acquisitions give up
// after d, for interactive callers. The caches are shared.
func (s *Store) WithTimeout(d time.Duration) *Store {
	view := *s
	view.timeout = d

	return &view
}

// Paths exposes the project's path manager.
func (s *Store) Paths() *paths.Manager { return s.paths }

// ProjectID returns the project this store serves.
func (s *Store) ProjectID() string { return s.paths.ProjectID() }

// guard takes the two-tier lock for an artifact path.
func (s *Store) guard(ctx context.Context, artifactPath string) (func(), error) {
	return s.locks.Guard(ctx, s.ProjectID(), artifactPath, s.timeout)
}

// SaveConfig persists the project record and seeds the config cache with a
// persistent entry.
func (s *Store) SaveConfig(ctx context.Context, p *project.Project) error {
	path, err := s.paths.Allocate(s.paths.Config())
	if err != nil {
		return err
	}

	release, err := s.guard(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	err = writeJSON(path, p)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	s.config.PutPersistent(configKey, p)

	return nil
}

// LoadConfig returns the project record, from cache or disk. On-disk
// content is schema-validated before decoding.
func (s *Store) LoadConfig(ctx context.Context) (*project.Project, error) {
	if p, ok := s.config.Get(configKey); ok {
		return p, nil
	}

	path := s.paths.Config()

	release, err := s.guard(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, readErr(path, err)
	}

	err = validateConfig(raw)
	if err != nil {
		return nil, readErr(path, err)
	}

	var p project.Project

	err = json.Unmarshal(raw, &p)
	if err != nil {
		return nil, readErr(path, err)
	}

	s.config.Put(configKey, &p)

	return &p, nil
}

// SaveWorkspace persists the raw workspace table and seeds the empty-view
// cache slot persistently. Derived views are dropped: they were computed
// from the replaced table.
func (s *Store) SaveWorkspace(ctx context.Context, table *workspace.Table) error {
	path, err := s.paths.Allocate(s.paths.Workspace())
	if err != nil {
		return err
	}

	release, err := s.guard(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	err = workspace.WriteParquet(path, table)
	if err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}

	s.workspaces.RemoveFunc(func(key string) bool { return key != "" })
	s.workspaces.PutPersistent("", table)

	return nil
}

// LoadWorkspace returns the workspace view, from cache or derived from the
// raw table. A cached filter-only table serves a filter+sort view after an
// in-memory sort.
func (s *Store) LoadWorkspace(ctx context.Context, view workspace.View) (*workspace.Table, error) {
	key := view.Key()

	if table, ok := s.workspaces.Get(key); ok {
		return table, nil
	}

	if view.Sort != nil {
		if base, ok := s.workspaces.Get(view.FilterKey()); ok {
			sorted, err := base.Sorted(*view.Sort)
			if err != nil {
				return nil, err
			}

			s.workspaces.Put(key, sorted)

			return sorted, nil
		}
	}

	raw, err := s.loadRawWorkspace(ctx)
	if err != nil {
		return nil, err
	}

	if view.IsRaw() {
		return raw, nil
	}

	derived, err := raw.Filtered(view.Filters)
	if err != nil {
		return nil, err
	}

	if view.Sort != nil {
		s.workspaces.Put(view.FilterKey(), derived)

		derived, err = derived.Sorted(*view.Sort)
		if err != nil {
			return nil, err
		}
	}

	s.workspaces.Put(key, derived)

	return derived, nil
}

func (s *Store) loadRawWorkspace(ctx context.Context) (*workspace.Table, error) {
	if table, ok := s.workspaces.Get(""); ok {
		return table, nil
	}

	path := s.paths.Workspace()

	release, err := s.guard(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	if statErr := s.paths.AssertExists(path); statErr != nil {
		return nil, readErr(path, statErr)
	}

	table, err := workspace.ReadParquet(path)
	if err != nil {
		return nil, readErr(path, err)
	}

	s.workspaces.Put("", table)

	return table, nil
}

// SaveTopics persists a topic result for a column and caches it.
func (s *Store) SaveTopics(ctx context.Context, column string, result *topics.Result) error {
	path, err := s.paths.Allocate(s.paths.Topics(column))
	if err != nil {
		return err
	}

	release, err := s.guard(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	err = writeJSON(path, result)
	if err != nil {
		return fmt.Errorf("save topics: %w", err)
	}

	s.topicResults.Put(column, result)

	return nil
}

// LoadTopics returns the topic result for a column.
func (s *Store) LoadTopics(ctx context.Context, column string) (*topics.Result, error) {
	if result, ok := s.topicResults.Get(column); ok {
		return result, nil
	}

	path := s.paths.Topics(column)

	release, err := s.guard(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := readJSON[topics.Result](path)
	if err != nil {
		return nil, err
	}

	s.topicResults.Put(column, result)

	return result, nil
}

// ModelManifest is the plain-JSON description written next to the model
// blob so the persisted model is identifiable without decoding it.
type ModelManifest struct {
	Version   string              `json:"version"`
	Column    string              `json:"column"`
	Params    project.TopicParams `json:"params"`
	CreatedAt time.Time           `json:"created_at"`
}

// SaveModel persists a fitted model (manifest + compressed blob) and
// caches it.
func (s *Store) SaveModel(ctx context.Context, column string, fitted *topics.Fitted) error {
	binPath, err := s.paths.Allocate(s.paths.ModelBin(column))
	if err != nil {
		return err
	}

	release, err := s.guard(ctx, binPath)
	if err != nil {
		return err
	}
	defer release()

	manifest := ModelManifest{
		Version:   project.Version,
		Column:    column,
		Params:    fitted.Params,
		CreatedAt: time.Now().UTC(),
	}

	err = writeJSON(s.paths.ModelManifest(column), manifest)
	if err != nil {
		return fmt.Errorf("save model manifest: %w", err)
	}

	err = writeModel(binPath, fitted)
	if err != nil {
		return fmt.Errorf("save model: %w", err)
	}

	s.models.Put(column, fitted)

	return nil
}

// LoadModel returns the fitted model for a column.
func (s *Store) LoadModel(ctx context.Context, column string) (*topics.Fitted, error) {
	if fitted, ok := s.models.Get(column); ok {
		return fitted, nil
	}

	path := s.paths.ModelBin(column)

	release, err := s.guard(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	fitted, err := readModel(path)
	if err != nil {
		return nil, err
	}

	s.models.Put(column, fitted)

	return fitted, nil
}

// SaveEvaluation persists a topic evaluation and caches it.
func (s *Store) SaveEvaluation(ctx context.Context, column string, eval *topics.Evaluation) error {
	path, err := s.paths.Allocate(s.paths.Evaluation(column))
	if err != nil {
		return err
	}

	release, err := s.guard(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	err = writeJSON(path, eval)
	if err != nil {
		return fmt.Errorf("save evaluation: %w", err)
	}

	s.evaluations.Put(column, eval)

	return nil
}

// LoadEvaluation returns the topic evaluation for a column.
func (s *Store) LoadEvaluation(ctx context.Context, column string) (*topics.Evaluation, error) {
	if eval, ok := s.evaluations.Get(column); ok {
		return eval, nil
	}

	path := s.paths.Evaluation(column)

	release, err := s.guard(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	eval, err := readJSON[topics.Evaluation](path)
	if err != nil {
		return nil, err
	}

	s.evaluations.Put(column, eval)

	return eval, nil
}

// SaveExperiment persists an experiment record and caches it. Called after
// every trial so partial progress survives crash or cancellation.
func (s *Store) SaveExperiment(ctx context.Context, column string, record *topics.Experiment) error {
	path, err := s.paths.Allocate(s.paths.Experiment(column))
	if err != nil {
		return err
	}

	release, err := s.guard(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	err = writeJSON(path, record)
	if err != nil {
		return fmt.Errorf("save experiment: %w", err)
	}

	s.experiments.Put(column, record)

	return nil
}

// LoadExperiment returns the experiment record for a column.
func (s *Store) LoadExperiment(ctx context.Context, column string) (*topics.Experiment, error) {
	if record, ok := s.experiments.Get(column); ok {
		return record, nil
	}

	path := s.paths.Experiment(column)

	release, err := s.guard(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	record, err := readJSON[topics.Experiment](path)
	if err != nil {
		return nil, err
	}

	s.experiments.Put(column, record)

	return record, nil
}

// Stats reports cache counters per artifact kind, for metrics export.
func (s *Store) Stats() map[string]lru.Stats {
	return map[string]lru.Stats{
		"config":     s.config.Stats(),
		"workspace":  s.workspaces.Stats(),
		"topics":     s.topicResults.Stats(),
		"model":      s.models.Stats(),
		"vectors":    s.vecs.Stats(),
		"evaluation": s.evaluations.Stats(),
		"experiment": s.experiments.Stats(),
	}
}

// InvalidateConfig drops the cached project record.
func (s *Store) InvalidateConfig() {
	s.config.Remove(configKey)
}

// InvalidateWorkspace drops the raw workspace and every derived view.
func (s *Store) InvalidateWorkspace() {
	s.workspaces.Clear()
}

// InvalidateColumn drops every cached per-column artifact.
func (s *Store) InvalidateColumn(column string) {
	s.topicResults.Remove(column)
	s.models.Remove(column)
	s.evaluations.Remove(column)
	s.experiments.Remove(column)
	s.vecs.RemoveFunc(func(key string) bool {
		return strings.HasSuffix(key, "/"+column)
	})
}

// InvalidateAll clears every cache of the store.
func (s *Store) InvalidateAll() {
	s.config.Clear()
	s.workspaces.Clear()
	s.topicResults.Clear()
	s.models.Clear()
	s.vecs.Clear()
	s.evaluations.Clear()
	s.experiments.Clear()
}

// InvalidateSlot drops the caches behind one resolved artifact location.
// Used by the filesystem watcher.
func (s *Store) InvalidateSlot(slot paths.Slot) {
	switch slot.Kind {
	case paths.SlotConfig:
		s.InvalidateConfig()
	case paths.SlotWorkspace:
		s.InvalidateWorkspace()
	case paths.SlotTopics:
		s.topicResults.Remove(slot.Column)
	case paths.SlotModel:
		s.models.Remove(slot.Column)
	case paths.SlotVectors:
		s.vecs.RemoveFunc(func(key string) bool {
			return strings.HasSuffix(key, "/"+slot.Column)
		})
	case paths.SlotEvaluation:
		s.evaluations.Remove(slot.Column)
	case paths.SlotExperiment:
		s.experiments.Remove(slot.Column)
	case paths.SlotUnknown, paths.SlotUserData:
	}
}
