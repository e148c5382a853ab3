package watcher_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopeworks/stope/internal/artifact"
	"github.com/stopeworks/stope/internal/locking"
	"github.com/stopeworks/stope/internal/project"
	"github.com/stopeworks/stope/internal/topics"
	"github.com/stopeworks/stope/internal/watcher"
)

const testProject = "reviews"

func sampleResult() *topics.Result {
	return &topics.Result{ProjectID: testProject, Column: "review"}
}

func startWatcher(t *testing.T) *artifact.Manager {
	t.Helper()

	locks := locking.NewManager()
	stores := artifact.NewManager(t.TempDir(), locks, nil, artifact.CacheOptions{})

	w, err := watcher.New(stores, locks, watcher.Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	t.Cleanup(func() {
		cancel()
		_ = w.Close()
	})

	return stores
}

func TestWatcher_ExternalConfigEditEvictsCache(t *testing.T) {
	t.Parallel()

	stores := startWatcher(t)
	store := stores.Store(testProject)
	ctx := context.Background()

	p := project.New(testProject, "before")
	require.NoError(t, store.SaveConfig(ctx, p))

	// Cached copy is served without touching the disk.
	got, err := store.LoadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "before", got.Metadata.Name)

	// Edit config.json behind the store's back.
	raw := `{"version":"2","id":"reviews","metadata":{"name":"after"},"schema":{"columns":[]}}`
	require.NoError(t, os.WriteFile(store.Paths().Config(), []byte(raw), 0o600))

	// The watcher settles, invalidates, and the next load reads the edit.
	require.Eventually(t, func() bool {
		got, loadErr := store.LoadConfig(ctx)

		return loadErr == nil && got.Metadata.Name == "after"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_DeleteEvictsTopicCache(t *testing.T) {
	t.Parallel()

	stores := startWatcher(t)
	store := stores.Store(testProject)
	ctx := context.Background()

	require.NoError(t, store.SaveConfig(ctx, project.New(testProject, "p")))

	result := sampleResult()
	require.NoError(t, store.SaveTopics(ctx, "review", result))

	require.NoError(t, os.Remove(store.Paths().Topics("review")))

	// After invalidation the load falls through to the missing file.
	require.Eventually(t, func() bool {
		_, loadErr := store.LoadTopics(ctx, "review")

		return loadErr != nil
	}, 5*time.Second, 20*time.Millisecond)

	_, err := store.LoadTopics(ctx, "review")
	assert.ErrorIs(t, err, artifact.ErrFileNotExists)
}

func TestWatcher_LockFilesAreIgnored(t *testing.T) {
	t.Parallel()

	stores := startWatcher(t)
	store := stores.Store(testProject)
	ctx := context.Background()

	require.NoError(t, store.SaveConfig(ctx, project.New(testProject, "keep")))

	// Let the save's own rename event settle before sampling the cache.
	time.Sleep(200 * time.Millisecond)

	_, err := store.LoadConfig(ctx)
	require.NoError(t, err)

	before := store.Stats()["config"]

	// Lock and temp file churn must not evict the cached record.
	require.NoError(t, os.WriteFile(store.Paths().Config()+".lock", nil, 0o600))
	require.NoError(t, os.WriteFile(store.Paths().Workspace()+".tmp", nil, 0o600))

	time.Sleep(200 * time.Millisecond)

	_, err = store.LoadConfig(ctx)
	require.NoError(t, err)

	after := store.Stats()["config"]
	assert.Equal(t, before.Misses, after.Misses, "cached config must survive lock-file churn")
}
