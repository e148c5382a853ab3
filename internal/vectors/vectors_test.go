package vectors_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopeworks/stope/internal/vectors"
)

func TestFromRows(t *testing.T) {
	t.Parallel()

	m, err := vectors.FromRows([][]float32{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)

	assert.Equal(t, 2, m.Rows())
	assert.Equal(t, 3, m.Cols())
	assert.Equal(t, float32(5), m.At(1, 1))

	_, err = vectors.FromRows([][]float32{{1, 2}, {3}})
	require.ErrorIs(t, err, vectors.ErrShapeMismatch)
}

func TestMatrix_SelectRows(t *testing.T) {
	t.Parallel()

	m, err := vectors.FromRows([][]float32{{1, 1}, {2, 2}, {3, 3}})
	require.NoError(t, err)

	sub, err := m.SelectRows([]int{2, 0})
	require.NoError(t, err)

	assert.Equal(t, []float32{3, 3}, sub.Row(0))
	assert.Equal(t, []float32{1, 1}, sub.Row(1))

	_, err = m.SelectRows([]int{5})
	require.ErrorIs(t, err, vectors.ErrShapeMismatch)
}

func TestMatrix_AppendRow(t *testing.T) {
	t.Parallel()

	m := vectors.NewMatrix(0, 0)

	require.NoError(t, m.AppendRow([]float32{1, 2}))
	require.NoError(t, m.AppendRow([]float32{3, 4}))
	require.ErrorIs(t, m.AppendRow([]float32{5}), vectors.ErrShapeMismatch)

	assert.Equal(t, 2, m.Rows())
	assert.Equal(t, float32(4), m.At(1, 1))
}

func TestNPY_RoundTrip(t *testing.T) {
	t.Parallel()

	m, err := vectors.FromRows([][]float32{{1.5, -2.25}, {0, 3.125}, {7, 8}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "document_vectors.npy")
	require.NoError(t, vectors.WriteNPY(path, m))

	// The header block is 64-byte aligned.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 0, (len(data)-m.Rows()*m.Cols()*4)%64)

	got, err := vectors.ReadNPY(path)
	require.NoError(t, err)

	assert.Equal(t, m.Rows(), got.Rows())
	assert.Equal(t, m.Cols(), got.Cols())

	for i := range m.Rows() {
		assert.Equal(t, m.Row(i), got.Row(i))
	}
}

func TestNPY_RejectsForeignFiles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bogus.npy")
	require.NoError(t, os.WriteFile(path, []byte("not an array"), 0o600))

	_, err := vectors.ReadNPY(path)
	require.Error(t, err)
}
