package experiment_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopeworks/stope/internal/artifact"
	"github.com/stopeworks/stope/internal/experiment"
	"github.com/stopeworks/stope/internal/locking"
	"github.com/stopeworks/stope/internal/project"
	"github.com/stopeworks/stope/internal/task"
	"github.com/stopeworks/stope/internal/topics"
	"github.com/stopeworks/stope/internal/workspace"
)

const (
	testProject = "reviews"
	testColumn  = "review"
)

func fixture(t *testing.T) *artifact.Store {
	t.Helper()

	mgr := artifact.NewManager(t.TempDir(), locking.NewManager(), nil, artifact.CacheOptions{})
	store := mgr.Store(testProject)
	ctx := context.Background()

	p := project.New(testProject, "Customer reviews")
	p.Schema = project.Schema{Columns: []project.Column{
		{Name: testColumn, Type: project.ColumnTextual,
			TopicParams: &project.TopicParams{MinTopicSize: 2}},
	}}
	require.NoError(t, store.SaveConfig(ctx, p))

	tbl := workspace.NewTable()
	require.NoError(t, tbl.SetColumn(testColumn, []string{
		"shipping delivery parcel courier shipping",
		"delivery parcel shipping late parcel",
		"parcel courier shipping delivery courier",
		"battery screen phone charger battery",
		"screen phone battery cracked phone",
		"phone charger battery screen charger",
	}))
	require.NoError(t, store.SaveWorkspace(ctx, tbl))

	return store
}

// runExperiment executes the driver under the engine and returns the
// record it produced.
func runExperiment(t *testing.T, store *artifact.Store, trials int) *topics.Experiment {
	t.Helper()

	e := task.NewEngine(task.Options{})
	t.Cleanup(e.Close)

	var record *topics.Experiment
	done := make(chan error, 1)

	driver := experiment.NewDriver(store, testColumn, experiment.NewRandomSampler(7), nil)

	err := e.Submit(context.Background(), "exp", func(ctx context.Context, proxy *task.Proxy) error {
		var runErr error
		record, runErr = driver.Run(ctx, experiment.Constraints{
			Trials:       trials,
			MinTopicSize: [2]int{2, 3},
		}, proxy)

		done <- runErr

		return runErr
	}, task.PolicyIgnore)
	require.NoError(t, err)

	require.NoError(t, <-done)

	return record
}

func TestDriver_Run(t *testing.T) {
	t.Parallel()

	store := fixture(t)
	record := runExperiment(t, store, 3)

	require.Len(t, record.Trials, 3)
	require.NotNil(t, record.EndAt)

	for i, trial := range record.Trials {
		assert.Equal(t, i, trial.ID)
		assert.NotNil(t, trial.EndAt)
		assert.GreaterOrEqual(t, trial.Params.MinTopicSize, 2)
		assert.LessOrEqual(t, trial.Params.MinTopicSize, 3)
	}

	// The record is on disk and loadable.
	got, err := store.LoadExperiment(context.Background(), testColumn)
	require.NoError(t, err)
	assert.Len(t, got.Trials, 3)

	// Trials must not have replaced the project's own artifacts: no topic
	// result was persisted.
	_, err = store.LoadTopics(context.Background(), testColumn)
	require.ErrorIs(t, err, artifact.ErrFileNotExists)

	// The shared prefix was persisted once.
	assert.NoError(t, store.Paths().AssertExists(store.Paths().DocumentVectors(testColumn)))
}

func TestDriver_CancellationLeavesPartialRecord(t *testing.T) {
	t.Parallel()

	store := fixture(t)

	e := task.NewEngine(task.Options{})
	t.Cleanup(e.Close)

	driver := experiment.NewDriver(store, testColumn, &stopAfterOne{engine: e}, nil)

	done := make(chan error, 1)

	err := e.Submit(context.Background(), "exp", func(ctx context.Context, proxy *task.Proxy) error {
		_, runErr := driver.Run(ctx, experiment.Constraints{Trials: 5}, proxy)
		done <- runErr

		return runErr
	}, task.PolicyIgnore)
	require.NoError(t, err)

	require.ErrorIs(t, <-done, task.ErrTaskStop)

	// The persisted record holds the completed trials and a null EndAt.
	got, err := store.LoadExperiment(context.Background(), testColumn)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Trials)
	assert.Nil(t, got.EndAt)
}

// stopAfterOne cancels the task right after suggesting the second
// candidate, so cancellation lands between trials.
type stopAfterOne struct {
	engine *task.Engine
	inner  experiment.Sampler
	calls  int
}

func (s *stopAfterOne) Suggest(trial int, c experiment.Constraints) project.TopicParams {
	s.calls++
	if s.calls == 2 {
		s.engine.Invalidate("exp", false)
	}

	if s.inner == nil {
		s.inner = experiment.NewRandomSampler(1)
	}

	return s.inner.Suggest(trial, c)
}

func TestRenderPlot(t *testing.T) {
	t.Parallel()

	store := fixture(t)
	record := runExperiment(t, store, 2)

	out := filepath.Join(t.TempDir(), "scores.html")
	require.NoError(t, experiment.RenderPlot(record, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Experiment reviews / review")
}

func TestRandomSampler_Deterministic(t *testing.T) {
	t.Parallel()

	c := experiment.Constraints{Trials: 4}

	a := experiment.NewRandomSampler(42)
	b := experiment.NewRandomSampler(42)

	for i := range 4 {
		assert.Equal(t, a.Suggest(i, c), b.Suggest(i, c))
	}
}
