package pipeline_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopeworks/stope/internal/artifact"
	"github.com/stopeworks/stope/internal/locking"
	"github.com/stopeworks/stope/internal/pipeline"
	"github.com/stopeworks/stope/internal/project"
	"github.com/stopeworks/stope/internal/task"
	"github.com/stopeworks/stope/internal/topics"
	"github.com/stopeworks/stope/internal/vectors"
	"github.com/stopeworks/stope/internal/workspace"
)

const (
	testProject = "reviews"
	testColumn  = "review"
)

var testDocs = []string{
	"shipping delivery parcel courier shipping",
	"delivery parcel shipping late parcel",
	"parcel courier shipping delivery courier",
	"battery screen phone charger battery",
	"screen phone battery cracked phone",
	"phone charger battery screen charger",
	"",
}

// fixture creates a project with a textual column and a workspace.
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
	require.NoError(t, tbl.SetColumn(testColumn, testDocs))
	require.NoError(t, store.SaveWorkspace(ctx, tbl))

	return store
}

// runTopics executes the full pipeline through the engine and returns the
// terminal task record.
func runTopics(t *testing.T, store *artifact.Store) *task.Record {
	t.Helper()

	e := task.NewEngine(task.Options{Workers: 1})
	t.Cleanup(e.Close)

	id := task.ID(testProject, task.KindTopics, testColumn)

	err := e.Submit(context.Background(), id, func(ctx context.Context, proxy *task.Proxy) error {
		result, runErr := pipeline.NewTopicPipeline(store, testColumn, nil).Run(ctx, proxy)
		if runErr != nil {
			return runErr
		}

		proxy.Success(task.TopicsData(result))

		return nil
	}, task.PolicyIgnore)
	require.NoError(t, err)

	var rec *task.Record

	require.Eventually(t, func() bool {
		got, ok := e.Get(id)
		if ok && got.Status.Terminal() {
			rec = got

			return true
		}

		return false
	}, 10*time.Second, 10*time.Millisecond)

	return rec
}

func TestPipeline_EndToEnd(t *testing.T) {
	t.Parallel()

	store := fixture(t)
	rec := runTopics(t, store)

	require.Equal(t, task.StatusSuccess, rec.Status, "logs: %+v", rec.Logs)
	require.NotNil(t, rec.Data)
	require.NotNil(t, rec.Data.Topics)

	result := rec.Data.Topics
	assert.NotEmpty(t, result.Topics)
	assert.Equal(t, len(testDocs), result.Counts.Total)
	assert.Equal(t, 1, result.Counts.Invalid, "the empty document is invalid")

	// Artifacts are on disk: topics, model, vectors, updated workspace.
	pm := store.Paths()
	assert.NoError(t, pm.AssertExists(pm.Topics(testColumn)))
	assert.NoError(t, pm.AssertExists(pm.ModelBin(testColumn)))
	assert.NoError(t, pm.AssertExists(pm.DocumentVectors(testColumn)))
	assert.NoError(t, pm.AssertExists(pm.UMAP(testColumn)))
	assert.NoError(t, pm.AssertExists(pm.Visualization(testColumn)))

	ws, err := store.LoadWorkspace(context.Background(), workspace.View{})
	require.NoError(t, err)
	assert.True(t, ws.HasColumn(workspace.PreprocessedColumn(testColumn)))
	assert.True(t, ws.HasColumn(workspace.TopicColumn(testColumn)))

	// The empty row carries no topic assignment.
	cell, err := ws.Cell(len(testDocs)-1, workspace.TopicColumn(testColumn))
	require.NoError(t, err)
	assert.Empty(t, cell)
}

func TestPipeline_ResumesFromPersistedArtifacts(t *testing.T) {
	t.Parallel()

	store := fixture(t)

	first := runTopics(t, store)
	require.Equal(t, task.StatusSuccess, first.Status)

	// A second run reuses the preprocessed column and document vectors.
	second := runTopics(t, store)
	require.Equal(t, task.StatusSuccess, second.Status)

	for _, l := range second.Logs {
		assert.NotEqual(t, "preprocessing documents", l.Message)
		assert.NotEqual(t, "computing document vectors", l.Message)
	}
}

func TestPipeline_RecomputesUnsyncedVectors(t *testing.T) {
	t.Parallel()

	store := fixture(t)
	ctx := context.Background()

	// Persist a vector matrix with the wrong row count before the run.
	stale, err := vectors.FromRows([][]float32{{1, 2}, {3, 4}})
	require.NoError(t, err)
	require.NoError(t, store.SaveVectors(ctx, artifact.DocumentVectors, testColumn, stale))

	rec := runTopics(t, store)
	require.Equal(t, task.StatusSuccess, rec.Status, "logs: %+v", rec.Logs)

	// The stale matrix was replaced by one row per non-empty document.
	fresh, err := store.LoadVectors(ctx, artifact.DocumentVectors, testColumn, artifact.AnyRows)
	require.NoError(t, err)
	assert.Equal(t, len(testDocs)-1, fresh.Rows())
}

func TestPipeline_KeepsSingleOccurrenceDocuments(t *testing.T) {
	t.Parallel()

	mgr := artifact.NewManager(t.TempDir(), locking.NewManager(), nil, artifact.CacheOptions{})
	store := mgr.Store(testProject)
	ctx := context.Background()

	p := project.New(testProject, "Tiny corpus")
	p.Schema = project.Schema{Columns: []project.Column{
		{Name: testColumn, Type: project.ColumnTextual,
			TopicParams: &project.TopicParams{MinTopicSize: 2}},
	}}
	require.NoError(t, store.SaveConfig(ctx, p))

	// Every non-stopword here occurs once corpus-wide; no document may be
	// emptied out by preprocessing.
	tbl := workspace.NewTable()
	require.NoError(t, tbl.SetColumn(testColumn, []string{
		"the cat sat",
		"a dog ran",
		"the cat",
	}))
	require.NoError(t, store.SaveWorkspace(ctx, tbl))

	rec := runTopics(t, store)
	require.Equal(t, task.StatusSuccess, rec.Status, "logs: %+v", rec.Logs)

	// One vector row per document, in both persisted matrices.
	docVecs, err := store.LoadVectors(ctx, artifact.DocumentVectors, testColumn, artifact.AnyRows)
	require.NoError(t, err)
	assert.Equal(t, 3, docVecs.Rows())

	umap, err := store.LoadVectors(ctx, artifact.UMAPVectors, testColumn, artifact.AnyRows)
	require.NoError(t, err)
	assert.Equal(t, 3, umap.Rows())

	assert.Zero(t, rec.Data.Topics.Counts.Invalid)
}

func TestPipeline_RegeneratesCorruptedVectors(t *testing.T) {
	t.Parallel()

	store := fixture(t)
	ctx := context.Background()

	first := runTopics(t, store)
	require.Equal(t, task.StatusSuccess, first.Status)

	// Truncate the persisted matrix and drop the cached copy, as after a
	// crash mid-write or disk corruption.
	path := store.Paths().DocumentVectors(testColumn)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0o600))

	store.InvalidateColumn(testColumn)

	_, err = store.LoadVectors(ctx, artifact.DocumentVectors, testColumn, artifact.AnyRows)
	require.ErrorIs(t, err, artifact.ErrCorruptedFile)

	// A rerun recomputes the vectors instead of failing on the corrupt file.
	rec := runTopics(t, store)
	require.Equal(t, task.StatusSuccess, rec.Status, "logs: %+v", rec.Logs)

	fresh, err := store.LoadVectors(ctx, artifact.DocumentVectors, testColumn, artifact.AnyRows)
	require.NoError(t, err)
	assert.Equal(t, len(testDocs)-1, fresh.Rows())
}

func TestPipeline_MissingColumnFails(t *testing.T) {
	t.Parallel()

	mgr := artifact.NewManager(t.TempDir(), locking.NewManager(), nil, artifact.CacheOptions{})
	store := mgr.Store(testProject)
	ctx := context.Background()

	p := project.New(testProject, "p")
	p.Schema = project.Schema{Columns: []project.Column{
		{Name: "rating", Type: project.ColumnCategorical},
	}}
	require.NoError(t, store.SaveConfig(ctx, p))

	e := task.NewEngine(task.Options{})
	t.Cleanup(e.Close)

	var runErr error
	done := make(chan struct{})

	err := e.Submit(ctx, "t", func(ctx context.Context, proxy *task.Proxy) error {
		defer close(done)

		_, runErr = pipeline.NewTopicPipeline(store, testColumn, nil).Run(ctx, proxy)

		return runErr
	}, task.PolicyIgnore)
	require.NoError(t, err)

	<-done
	require.ErrorIs(t, runErr, project.ErrMissingColumn)
}

func TestRunEvaluation(t *testing.T) {
	t.Parallel()

	store := fixture(t)

	rec := runTopics(t, store)
	require.Equal(t, task.StatusSuccess, rec.Status)

	e := task.NewEngine(task.Options{})
	t.Cleanup(e.Close)

	var eval *topics.Evaluation
	done := make(chan struct{})

	err := e.Submit(context.Background(), "eval", func(ctx context.Context, proxy *task.Proxy) error {
		defer close(done)

		var evalErr error
		eval, evalErr = pipeline.RunEvaluation(ctx, store, testColumn, proxy)

		return evalErr
	}, task.PolicyIgnore)
	require.NoError(t, err)

	<-done
	require.NotNil(t, eval)
	assert.Equal(t, testColumn, eval.Column)
	assert.NoError(t, store.Paths().AssertExists(store.Paths().Evaluation(testColumn)))
}
