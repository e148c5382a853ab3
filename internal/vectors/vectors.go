// Package vectors holds dense float32 matrices exchanged between pipeline
// stages and persists them in NumPy's .npy format so external tooling can
// inspect embeddings directly.
package vectors

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch reports row or dimension counts that do not line up.
var ErrShapeMismatch = errors.New("vector shape mismatch")

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	rows int
	cols int
	data []float32
}

// NewMatrix allocates a zeroed rows×cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{
		rows: rows,
		cols: cols,
		data: make([]float32, rows*cols),
	}
}

// FromRows builds a matrix from row slices. All rows must share one length.
func FromRows(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 {
		return &Matrix{}, nil
	}

	cols := len(rows[0])
	m := NewMatrix(len(rows), cols)

	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d",
				ErrShapeMismatch, i, len(row), cols)
		}

		copy(m.Row(i), row)
	}

	return m, nil
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// Row returns row i as a mutable slice aliasing the matrix storage.
func (m *Matrix) Row(i int) []float32 {
	return m.data[i*m.cols : (i+1)*m.cols]
}

// At returns the value at row i, column j.
func (m *Matrix) At(i, j int) float32 {
	return m.data[i*m.cols+j]
}

// Set stores v at row i, column j.
func (m *Matrix) Set(i, j int, v float32) {
	m.data[i*m.cols+j] = v
}

// SelectRows returns a new matrix holding the listed rows in order.
func (m *Matrix) SelectRows(indices []int) (*Matrix, error) {
	out := NewMatrix(len(indices), m.cols)

	for dst, src := range indices {
		if src < 0 || src >= m.rows {
			return nil, fmt.Errorf("%w: row index %d out of %d", ErrShapeMismatch, src, m.rows)
		}

		copy(out.Row(dst), m.Row(src))
	}

	return out, nil
}

// AppendRow grows the matrix by one row. The first appended row fixes the
// column count of an empty matrix.
func (m *Matrix) AppendRow(row []float32) error {
	if m.rows == 0 && m.cols == 0 {
		m.cols = len(row)
	}

	if len(row) != m.cols {
		return fmt.Errorf("%w: row has %d values, want %d", ErrShapeMismatch, len(row), m.cols)
	}

	m.data = append(m.data, row...)
	m.rows++

	return nil
}
