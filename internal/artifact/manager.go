package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/stopeworks/stope/internal/locking"
	"github.com/stopeworks/stope/internal/paths"
)

// Manager owns the map project id → artifact store. Stores are created on
// first use and share one lock manager.
type Manager struct {
	dataDir string
	locks   *locking.Manager
	logger  *slog.Logger
	opts    CacheOptions

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a store manager over the data root.
func NewManager(dataDir string, locks *locking.Manager, logger *slog.Logger, opts CacheOptions) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		dataDir: dataDir,
		locks:   locks,
		logger:  logger,
		opts:    opts,
		stores:  make(map[string]*Store),
	}
}

// DataDir returns the managed data root.
func (m *Manager) DataDir() string { return m.dataDir }

// Store returns the artifact store of a project, creating it on first use.
func (m *Manager) Store(projectID string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stores[projectID]
	if !ok {
		pm := paths.NewManager(m.dataDir, projectID, m.logger)
		s = newStore(pm, m.locks, m.logger, m.opts)
		m.stores[projectID] = s
	}

	return s
}

// Drop forgets a project's store and its caches. Used after project
// deletion; the on-disk artifacts are handled by paths.Cleanup.
func (m *Manager) Drop(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.stores, projectID)
}

// Projects lists the project directories under the data root, sorted.
func (m *Manager) Projects() ([]string, error) {
	entries, err := os.ReadDir(m.dataDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	var ids []string

	for _, ent := range entries {
		if ent.IsDir() {
			ids = append(ids, ent.Name())
		}
	}

	sort.Strings(ids)

	return ids, nil
}
