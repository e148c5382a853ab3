package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/stopeworks/stope/internal/paths"
	"github.com/stopeworks/stope/internal/vectors"
)

// VectorKind selects which of a column's persisted matrices an operation
// targets.
type VectorKind int

// Vector matrix kinds.
const (
	DocumentVectors VectorKind = iota
	UMAPVectors
	VisualizationVectors
)

// String returns the kind's cache-key label.
func (k VectorKind) String() string {
	switch k {
	case DocumentVectors:
		return "document"
	case UMAPVectors:
		return "umap"
	case VisualizationVectors:
		return "visualization"
	}

	return "unknown"
}

// AnyRows skips the row-count check on vector loads.
const AnyRows = -1

func (s *Store) vectorPath(kind VectorKind, column string) string {
	switch kind {
	case UMAPVectors:
		return s.paths.UMAP(column)
	case VisualizationVectors:
		return s.paths.Visualization(column)
	case DocumentVectors:
	}

	return s.paths.DocumentVectors(column)
}

func vectorKey(kind VectorKind, column string) string {
	return kind.String() + "/" + column
}

// SaveVectors persists a vector matrix for a column and caches it.
func (s *Store) SaveVectors(ctx context.Context, kind VectorKind, column string, m *vectors.Matrix) error {
	path, err := s.paths.Allocate(s.vectorPath(kind, column))
	if err != nil {
		return err
	}

	release, err := s.guard(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	err = vectors.WriteNPY(path, m)
	if err != nil {
		return fmt.Errorf("save %s vectors: %w", kind, err)
	}

	s.vecs.Put(vectorKey(kind, column), m)

	return nil
}

// LoadVectors returns a column's vector matrix. When wantRows is not
// AnyRows and the matrix row count differs, ErrUnsyncedVectors is returned
// and nothing is cached: the artifact no longer matches the workspace and
// must be recomputed.
func (s *Store) LoadVectors(ctx context.Context, kind VectorKind, column string, wantRows int) (*vectors.Matrix, error) {
	key := vectorKey(kind, column)

	if m, ok := s.vecs.Get(key); ok {
		err := checkRows(m, kind, wantRows)
		if err != nil {
			return nil, err
		}

		return m, nil
	}

	path := s.vectorPath(kind, column)

	release, err := s.guard(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	m, err := vectors.ReadNPY(path)
	if err != nil {
		return nil, readErr(path, err)
	}

	err = checkRows(m, kind, wantRows)
	if err != nil {
		return nil, err
	}

	s.vecs.Put(key, m)

	return m, nil
}

// RemoveVectors deletes a column's on-disk vector directory and drops its
// cached matrices, forcing the next run to recompute them.
func (s *Store) RemoveVectors(ctx context.Context, column string) error {
	release, err := s.guard(ctx, s.paths.Embedding(column))
	if err != nil {
		return err
	}
	defer release()

	dir := filepath.Join(paths.EmbeddingDir, paths.EncodeColumn(column))

	err = s.paths.Cleanup([]string{dir}, nil, true)
	if err != nil {
		return fmt.Errorf("remove vectors: %w", err)
	}

	s.vecs.RemoveFunc(func(key string) bool {
		return strings.HasSuffix(key, "/"+column)
	})

	return nil
}

func checkRows(m *vectors.Matrix, kind VectorKind, wantRows int) error {
	if wantRows == AnyRows || m.Rows() == wantRows {
		return nil
	}

	return fmt.Errorf("%w: %s has %d rows, want %d",
		ErrUnsyncedVectors, kind, m.Rows(), wantRows)
}
