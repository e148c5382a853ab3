// Package locking guards project caches and on-disk artifacts with a
// two-tier lock: a per-project in-process mutex and a per-artifact
// inter-process file lock. Acquisition order is always file lock first,
// then project lock; release is reversed.
package locking

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/stopeworks/stope/internal/paths"
)

// Lock-contention errors surfaced on the interactive path.
var (
	// ErrUnallowedFileOperation reports a file-lock timeout.
	ErrUnallowedFileOperation = errors.New("artifact is locked by another process")
	// ErrUnallowedColumnOperation reports a project-lock timeout.
	ErrUnallowedColumnOperation = errors.New("column is locked by another operation")
)

// flockRetryDelay is the poll interval for file-lock acquisition.
const flockRetryDelay = 50 * time.Millisecond

// lockDirPerm is the mode of directories created to hold lock files.
const lockDirPerm = 0o750

// Manager hands out project mutexes and artifact file locks.
// Background workers acquire with no timeout and wait; interactive callers
// pass a short timeout and surface the typed contention error instead.
type Manager struct {
	mu       sync.Mutex
	projects map[string]*Mutex
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{
		projects: make(map[string]*Mutex),
	}
}

// Project returns the in-process mutex for a project, creating it on first use.
func (m *Manager) Project(projectID string) *Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	pm, ok := m.projects[projectID]
	if !ok {
		pm = NewMutex()
		m.projects[projectID] = pm
	}

	return pm
}

// LockProject acquires the project mutex, honoring the timeout.
// A zero timeout waits indefinitely.
func (m *Manager) LockProject(ctx context.Context, projectID string, timeout time.Duration) (func(), error) {
	pm := m.Project(projectID)

	err := pm.LockTimeout(ctx, timeout)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", projectID, err)
	}

	return pm.Unlock, nil
}

// LockFile acquires an exclusive inter-process lock on the artifact's
// sibling lock file. A zero timeout waits indefinitely.
// The artifact may not exist yet; the lock file's directory is created so
// the first save of a per-column artifact can take its lock.
func (m *Manager) LockFile(ctx context.Context, artifactPath string, timeout time.Duration) (func(), error) {
	err := os.MkdirAll(filepath.Dir(artifactPath), lockDirPerm)
	if err != nil {
		return nil, fmt.Errorf("file lock %s: %w", artifactPath, err)
	}

	fl := flock.New(artifactPath + paths.LockSuffix)

	lockCtx := ctx

	if timeout > 0 {
		var cancel context.CancelFunc

		lockCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	locked, err := fl.TryLockContext(lockCtx, flockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrUnallowedFileOperation, artifactPath)
		}

		return nil, fmt.Errorf("file lock %s: %w", artifactPath, err)
	}

	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrUnallowedFileOperation, artifactPath)
	}

	return func() { _ = fl.Unlock() }, nil
}

// Guard acquires the file lock and then the project mutex, returning a
// single release that unwinds both in reverse order.
func (m *Manager) Guard(ctx context.Context, projectID, artifactPath string, timeout time.Duration) (func(), error) {
	releaseFile, err := m.LockFile(ctx, artifactPath, timeout)
	if err != nil {
		return nil, err
	}

	releaseProject, err := m.LockProject(ctx, projectID, timeout)
	if err != nil {
		releaseFile()

		return nil, err
	}

	return func() {
		releaseProject()
		releaseFile()
	}, nil
}
