// Package paths derives and manages the on-disk layout of project artifacts
// under the data root. All mutation of persistent artifacts goes through
// WriteAtomic so readers never observe half-written files.
package paths

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Directory and file permissions for managed artifacts.
const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// Fixed path slots under data/<project>/.
const (
	ConfigFile    = "config.json"
	WorkspaceFile = "workspace.parquet"
	TopicsDir     = "topics"
	ModelDir      = "bertopic"
	EmbeddingDir  = "embedding"
	EvaluationDir = "evaluation"
	UserDataDir   = "userdata"

	// DocumentVectorsFile holds one row per non-empty preprocessed document.
	DocumentVectorsFile = "document_vectors.npy"
	// UMAPFile holds the reduced document vectors.
	UMAPFile = "umap_embeddings.npy"
	// VisualizationFile holds the 2-D embedding used for plots.
	VisualizationFile = "visualization_embeddings.npy"

	// ModelManifestFile describes the persisted fitted model.
	ModelManifestFile = "manifest.json"
	// ModelBinFile is the lz4-compressed fitted model blob.
	ModelBinFile = "model.bin.lz4"

	evaluationPrefix = "topic_evaluation_"
	experimentPrefix = "topic_experiment_"

	// LockSuffix marks ephemeral inter-process lock files.
	LockSuffix = ".lock"

	// tmpSuffix marks in-flight atomic-write siblings.
	tmpSuffix = ".tmp"
)

// ErrUnmanagedFiles is returned by Cleanup when a hard cleanup finds files
// in the project directory that the path manager does not own.
var ErrUnmanagedFiles = errors.New("project directory contains unmanaged files")

// columnEncoding encodes arbitrary column names into filesystem-safe tokens.
// URL-safe base64 without padding keeps the encoding free of path syntax.
var columnEncoding = base64.RawURLEncoding

// EncodeColumn returns the filesystem-safe encoding of a column name.
func EncodeColumn(column string) string {
	return columnEncoding.EncodeToString([]byte(column))
}

// DecodeColumn reverses EncodeColumn.
func DecodeColumn(token string) (string, error) {
	raw, err := columnEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decode column token %q: %w", token, err)
	}

	return string(raw), nil
}

// Manager derives absolute artifact paths for one project.
// It is pure and deterministic; it holds no open resources.
type Manager struct {
	dataDir   string
	projectID string
	logger    *slog.Logger
}

// NewManager creates a path manager for the given data root and project.
func NewManager(dataDir, projectID string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		dataDir:   dataDir,
		projectID: projectID,
		logger:    logger,
	}
}

// ProjectID returns the project this manager derives paths for.
func (m *Manager) ProjectID() string { return m.projectID }

// ProjectDir returns the absolute project directory.
func (m *Manager) ProjectDir() string {
	return filepath.Join(m.dataDir, m.projectID)
}

// Full resolves a project-relative path to an absolute one.
func (m *Manager) Full(rel string) string {
	return filepath.Join(m.ProjectDir(), rel)
}

// Config returns the path of the project configuration file.
func (m *Manager) Config() string { return m.Full(ConfigFile) }

// Workspace returns the path of the workspace table.
func (m *Manager) Workspace() string { return m.Full(WorkspaceFile) }

// Topics returns the topic-result path for a column.
func (m *Manager) Topics(column string) string {
	return m.Full(filepath.Join(TopicsDir, EncodeColumn(column)+".json"))
}

// Model returns the fitted-model directory for a column.
func (m *Manager) Model(column string) string {
	return m.Full(filepath.Join(ModelDir, EncodeColumn(column)))
}

// ModelManifest returns the fitted-model manifest path for a column.
func (m *Manager) ModelManifest(column string) string {
	return filepath.Join(m.Model(column), ModelManifestFile)
}

// ModelBin returns the compressed fitted-model blob path for a column.
func (m *Manager) ModelBin(column string) string {
	return filepath.Join(m.Model(column), ModelBinFile)
}

// Embedding returns the vector directory for a column.
func (m *Manager) Embedding(column string) string {
	return m.Full(filepath.Join(EmbeddingDir, EncodeColumn(column)))
}

// DocumentVectors returns the document-vectors path for a column.
func (m *Manager) DocumentVectors(column string) string {
	return filepath.Join(m.Embedding(column), DocumentVectorsFile)
}

// UMAP returns the reduced-vectors path for a column.
func (m *Manager) UMAP(column string) string {
	return filepath.Join(m.Embedding(column), UMAPFile)
}

// Visualization returns the 2-D visualization vectors path for a column.
func (m *Manager) Visualization(column string) string {
	return filepath.Join(m.Embedding(column), VisualizationFile)
}

// Evaluation returns the topic-evaluation path for a column.
func (m *Manager) Evaluation(column string) string {
	return m.Full(filepath.Join(EvaluationDir, evaluationPrefix+EncodeColumn(column)+".json"))
}

// Experiment returns the topic-experiment path for a column.
func (m *Manager) Experiment(column string) string {
	return m.Full(filepath.Join(EvaluationDir, experimentPrefix+EncodeColumn(column)+".json"))
}

// UserData returns the user-data directory.
func (m *Manager) UserData() string { return m.Full(UserDataDir) }

// TaskLogs returns the per-task rotating log directory.
func (m *Manager) TaskLogs() string {
	return filepath.Join(m.UserData(), "logs")
}

// AssertExists returns a wrapped fs.ErrNotExist when path is missing.
func (m *Manager) AssertExists(path string) error {
	_, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("artifact %s: %w", path, err)
	}

	return nil
}

// Allocate creates the parent directories of path and returns it.
func (m *Manager) Allocate(path string) (string, error) {
	err := os.MkdirAll(filepath.Dir(path), dirPerm)
	if err != nil {
		return "", fmt.Errorf("allocate %s: %w", path, err)
	}

	return path, nil
}

// Cleanup removes the listed project-relative directories and files.
// When soft is false and the project directory holds only managed entries
// afterwards, the project directory itself is removed; unmanaged leftovers
// abort the removal with ErrUnmanagedFiles and are logged by name.
func (m *Manager) Cleanup(dirs, files []string, soft bool) error {
	for _, dir := range dirs {
		err := os.RemoveAll(m.Full(dir))
		if err != nil {
			return fmt.Errorf("cleanup dir %s: %w", dir, err)
		}
	}

	for _, file := range files {
		err := os.Remove(m.Full(file))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("cleanup file %s: %w", file, err)
		}
	}

	m.logger.Info("removed project artifacts",
		"project", m.projectID,
		"dirs", dirs,
		"files", files)

	if soft {
		return nil
	}

	return m.removeProjectDir()
}

// removeProjectDir deletes the whole project directory unless unmanaged
// files remain in it.
func (m *Manager) removeProjectDir() error {
	unmanaged, err := m.unmanagedEntries()
	if err != nil {
		return err
	}

	if len(unmanaged) > 0 {
		m.logger.Warn("refusing to remove project directory",
			"project", m.projectID,
			"unmanaged", unmanaged)

		return fmt.Errorf("%w: %s", ErrUnmanagedFiles, strings.Join(unmanaged, ", "))
	}

	removeErr := os.RemoveAll(m.ProjectDir())
	if removeErr != nil {
		return fmt.Errorf("remove project dir: %w", removeErr)
	}

	m.logger.Info("removed project directory", "project", m.projectID)

	return nil
}

// unmanagedEntries lists top-level entries of the project directory that are
// not part of the managed layout. Lock and temp files count as managed.
func (m *Manager) unmanagedEntries() ([]string, error) {
	entries, err := os.ReadDir(m.ProjectDir())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read project dir: %w", err)
	}

	var unmanaged []string

	for _, ent := range entries {
		if !managedEntry(ent.Name()) {
			unmanaged = append(unmanaged, ent.Name())
		}
	}

	return unmanaged, nil
}

// managedEntry reports whether a top-level project entry belongs to the
// managed layout.
func managedEntry(name string) bool {
	switch name {
	case ConfigFile, WorkspaceFile, TopicsDir, ModelDir, EmbeddingDir, EvaluationDir, UserDataDir:
		return true
	}

	return strings.HasSuffix(name, LockSuffix) || strings.HasSuffix(name, tmpSuffix)
}
