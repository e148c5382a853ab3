// Package watcher invalidates in-memory artifact caches when their on-disk
// copies change underneath the process. It watches the data root
// recursively, debounces event bursts, and maps each settled path to the
// project cache slot behind it.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stopeworks/stope/internal/artifact"
	"github.com/stopeworks/stope/internal/locking"
	"github.com/stopeworks/stope/internal/paths"
)

// defaultDebounce is the settle window for filesystem event bursts.
const defaultDebounce = 200 * time.Millisecond

// Options configure a Watcher.
type Options struct {
	// Debounce is the settle window before invalidation runs.
	Debounce time.Duration
	// Logger is the watcher's logger.
	Logger *slog.Logger
}

// Watcher owns the fsnotify subscription and the debouncer feeding cache
// invalidation.
type Watcher struct {
	dataDir  string
	stores   *artifact.Manager
	locks    *locking.Manager
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
	debounce *debouncer
	done     chan struct{}
	started  bool
}

// New creates a watcher over the store manager's data root.
func New(stores *artifact.Manager, locks *locking.Manager, opts Options) (*Watcher, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}

	w := &Watcher{
		dataDir: stores.DataDir(),
		stores:  stores,
		locks:   locks,
		logger:  opts.Logger,
		fsw:     fsw,
		done:    make(chan struct{}),
	}
	w.debounce = newDebouncer(opts.Debounce, w.invalidate)

	return w, nil
}

// Start subscribes to the data root and runs the event loop until the
// context is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	err := w.watchTree(w.dataDir)
	if err != nil {
		return err
	}

	w.started = true

	go w.loop(ctx)

	return nil
}

// Close stops the event loop and releases the fsnotify subscription. It is
// safe to call on a watcher that was never started.
func (w *Watcher) Close() error {
	err := w.fsw.Close()

	if w.started {
		<-w.done
	}

	w.debounce.stop()

	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.logger.Warn("fs watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	// New directories join the recursive watch.
	if event.Op.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			if addErr := w.watchTree(event.Name); addErr != nil {
				w.logger.Warn("watch new directory", "path", event.Name, "error", addErr)
			}
		}
	}

	if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		w.debounce.add(event.Name)
	}
}

// invalidate maps settled paths to cache slots and drops the entries under
// the owning project's lock, so a concurrent load cannot re-seed a stale
// value mid-invalidation.
func (w *Watcher) invalidate(pathsSettled []string) {
	for _, p := range pathsSettled {
		projectID, slot, ok := paths.Resolve(w.dataDir, p)
		if !ok || slot.Kind == paths.SlotUnknown {
			continue
		}

		release, err := w.locks.LockProject(context.Background(), projectID, 0)
		if err != nil {
			w.logger.Warn("skip invalidation, project lock failed",
				"project", projectID, "error", err)

			continue
		}

		w.stores.Store(projectID).InvalidateSlot(slot)
		release()

		w.logger.Debug("invalidated cache slot",
			"project", projectID, "path", p)
	}
}

// watchTree adds root and every directory below it to the subscription.
func (w *Watcher) watchTree(root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries can vanish mid-walk; skip them.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if !d.IsDir() {
			return nil
		}

		return w.fsw.Add(path)
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}

	return nil
}
