package paths_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopeworks/stope/internal/paths"
)

// testProject is the project id used across path tests.
const testProject = "reviews"

func newTestManager(t *testing.T) *paths.Manager {
	t.Helper()

	return paths.NewManager(t.TempDir(), testProject, nil)
}

func TestEncodeColumn_RoundTripAndSafety(t *testing.T) {
	t.Parallel()

	names := []string{"review", "user comment", "колонка", "a/b\\c:d", "..", ""}

	for _, name := range names {
		token := paths.EncodeColumn(name)
		assert.NotContains(t, token, "/")
		assert.NotContains(t, token, "\\")
		assert.NotContains(t, token, ".")

		decoded, err := paths.DecodeColumn(token)
		require.NoError(t, err)
		assert.Equal(t, name, decoded)
	}
}

func TestManager_SlotPaths(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	token := paths.EncodeColumn("review")

	assert.Equal(t, m.Full("config.json"), m.Config())
	assert.Equal(t, m.Full("workspace.parquet"), m.Workspace())
	assert.Equal(t, m.Full(filepath.Join("topics", token+".json")), m.Topics("review"))
	assert.Equal(t, m.Full(filepath.Join("embedding", token, "document_vectors.npy")), m.DocumentVectors("review"))
	assert.Equal(t, m.Full(filepath.Join("evaluation", "topic_experiment_"+token+".json")), m.Experiment("review"))
	assert.Equal(t, m.Full(filepath.Join("bertopic", token, "model.bin.lz4")), m.ModelBin("review"))
}

func TestManager_AssertExists(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	err := m.AssertExists(m.Config())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	_, err = m.Allocate(m.Config())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(m.Config(), []byte("{}"), 0o600))

	assert.NoError(t, m.AssertExists(m.Config()))
}

func TestWriteAtomic_TargetUntouchedOnError(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	target := m.Config()

	_, err := m.Allocate(target)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o600))

	writeErr := errors.New("boom")
	err = paths.WriteAtomic(target, func(*os.File) error { return writeErr })
	require.ErrorIs(t, err, writeErr)

	data, readErr := os.ReadFile(target)
	require.NoError(t, readErr)
	assert.Equal(t, "old", string(data), "failed write must not touch the target")

	// No temp siblings left behind.
	entries, readDirErr := os.ReadDir(filepath.Dir(target))
	require.NoError(t, readDirErr)
	require.Len(t, entries, 1)
}

func TestWriteAtomicBytes_RoundTrip(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	target := m.Topics("review")

	require.NoError(t, paths.WriteAtomicBytes(target, []byte(`{"topics":[]}`)))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.JSONEq(t, `{"topics":[]}`, string(data))
}

func TestManager_CleanupSoftAndHard(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	require.NoError(t, paths.WriteAtomicBytes(m.Config(), []byte("{}")))
	require.NoError(t, paths.WriteAtomicBytes(m.Topics("review"), []byte("{}")))

	// Soft cleanup removes listed entries but keeps the project dir.
	require.NoError(t, m.Cleanup([]string{paths.TopicsDir}, nil, true))
	assert.NoError(t, m.AssertExists(m.Config()))
	assert.Error(t, m.AssertExists(m.Topics("review")))

	// Hard cleanup removes the project dir entirely.
	require.NoError(t, m.Cleanup(nil, []string{paths.ConfigFile}, false))
	_, statErr := os.Stat(m.ProjectDir())
	assert.True(t, errors.Is(statErr, fs.ErrNotExist))
}

func TestManager_CleanupRefusesUnmanagedFiles(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)

	require.NoError(t, paths.WriteAtomicBytes(m.Config(), []byte("{}")))
	require.NoError(t, os.WriteFile(m.Full("notes.txt"), []byte("keep me"), 0o600))

	err := m.Cleanup(nil, []string{paths.ConfigFile}, false)
	require.ErrorIs(t, err, paths.ErrUnmanagedFiles)
	assert.Contains(t, err.Error(), "notes.txt")

	// The directory and the unmanaged file survive.
	assert.NoError(t, m.AssertExists(m.Full("notes.txt")))
}

func TestResolve_Slots(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	m := paths.NewManager(dataDir, testProject, nil)

	cases := []struct {
		name   string
		path   string
		kind   paths.SlotKind
		column string
	}{
		{name: "config", path: m.Config(), kind: paths.SlotConfig},
		{name: "workspace", path: m.Workspace(), kind: paths.SlotWorkspace},
		{name: "topics", path: m.Topics("review"), kind: paths.SlotTopics, column: "review"},
		{name: "model", path: m.ModelBin("review"), kind: paths.SlotModel, column: "review"},
		{name: "vectors", path: m.UMAP("review"), kind: paths.SlotVectors, column: "review"},
		{name: "evaluation", path: m.Evaluation("review"), kind: paths.SlotEvaluation, column: "review"},
		{name: "experiment", path: m.Experiment("review"), kind: paths.SlotExperiment, column: "review"},
		{name: "userdata", path: filepath.Join(m.UserData(), "x.json"), kind: paths.SlotUserData},
		{name: "lock file", path: m.Workspace() + ".lock", kind: paths.SlotUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			projectID, slot, ok := paths.Resolve(dataDir, tc.path)
			require.True(t, ok)
			assert.Equal(t, testProject, projectID)
			assert.Equal(t, tc.kind, slot.Kind)
			assert.Equal(t, tc.column, slot.Column)
		})
	}

	_, _, ok := paths.Resolve(dataDir, filepath.Join(dataDir, "..", "outside.txt"))
	assert.False(t, ok)
}
