// Package workspace holds the rectangular project data table and its
// parquet persistence. The table is row-order preserving; per textual
// column it carries internal companion columns with the preprocessed
// documents and the assigned topic ids.
package workspace

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// Companion-column suffixes for textual columns.
const (
	preprocessedSuffix = " (Preprocessed)"
	topicSuffix        = " (Topic)"
)

// Table errors.
var (
	// ErrNoSuchColumn reports access to a column the table does not hold.
	ErrNoSuchColumn = errors.New("workspace has no such column")
	// ErrRowCountMismatch reports a column whose length breaks rectangularity.
	ErrRowCountMismatch = errors.New("column row count does not match workspace")
)

// PreprocessedColumn names the internal companion column holding the
// preprocessed documents of a textual column.
func PreprocessedColumn(column string) string {
	return column + preprocessedSuffix
}

// TopicColumn names the internal companion column holding per-document
// topic ids of a textual column.
func TopicColumn(column string) string {
	return column + topicSuffix
}

// IsInternalColumn reports whether a column name is a companion column.
func IsInternalColumn(column string) bool {
	return hasSuffix(column, preprocessedSuffix) || hasSuffix(column, topicSuffix)
}

func hasSuffix(s, suffix string) bool {
	return len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix
}

// Table is a rectangular, row-order-preserving table with columns indexed
// by name. All cells are strings; typing lives in the project schema.
type Table struct {
	cols   []string
	values map[string][]string
	rows   int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{values: make(map[string][]string)}
}

// Columns returns the column names in insertion order.
func (t *Table) Columns() []string {
	return slices.Clone(t.cols)
}

// Rows returns the number of rows.
func (t *Table) Rows() int { return t.rows }

// HasColumn reports whether the table holds the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.values[name]

	return ok
}

// Column returns the row-aligned values of a column.
func (t *Table) Column(name string) ([]string, error) {
	vals, ok := t.values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchColumn, name)
	}

	return vals, nil
}

// SetColumn adds or replaces a column. The first column of an empty table
// fixes the row count.
func (t *Table) SetColumn(name string, values []string) error {
	if len(t.cols) == 0 {
		t.rows = len(values)
	}

	if len(values) != t.rows {
		return fmt.Errorf("%w: %q has %d rows, want %d",
			ErrRowCountMismatch, name, len(values), t.rows)
	}

	if _, exists := t.values[name]; !exists {
		t.cols = append(t.cols, name)
	}

	t.values[name] = slices.Clone(values)

	return nil
}

// Cell returns the value at row i of the named column.
func (t *Table) Cell(i int, column string) (string, error) {
	vals, err := t.Column(column)
	if err != nil {
		return "", err
	}

	return vals[i], nil
}

// SetCell stores v at row i of the named column.
func (t *Table) SetCell(i int, column, v string) error {
	vals, ok := t.values[column]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchColumn, column)
	}

	vals[i] = v

	return nil
}

// Select returns a new table holding the listed rows in order. Indices may
// repeat; column order is preserved.
func (t *Table) Select(indices []int) *Table {
	out := NewTable()

	for _, col := range t.cols {
		src := t.values[col]
		vals := make([]string, len(indices))

		for dst, idx := range indices {
			vals[dst] = src[idx]
		}

		_ = out.SetColumn(col, vals)
	}

	out.rows = len(indices)

	return out
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	indices := make([]int, t.rows)
	for i := range indices {
		indices[i] = i
	}

	return t.Select(indices)
}

// Filtered returns the rows matching every filter, preserving row order.
func (t *Table) Filtered(filters []Filter) (*Table, error) {
	indices := make([]int, 0, t.rows)

rows:
	for i := range t.rows {
		for _, f := range filters {
			cell, err := t.Cell(i, f.Column)
			if err != nil {
				return nil, err
			}

			if !slices.Contains(f.Values, cell) {
				continue rows
			}
		}

		indices = append(indices, i)
	}

	return t.Select(indices), nil
}

// Sorted returns a copy ordered by the sort column. The sort is stable, so
// equal cells keep their original relative order.
func (t *Table) Sorted(s Sort) (*Table, error) {
	vals, err := t.Column(s.Column)
	if err != nil {
		return nil, err
	}

	indices := make([]int, t.rows)
	for i := range indices {
		indices[i] = i
	}

	sort.SliceStable(indices, func(a, b int) bool {
		if s.Descending {
			return vals[indices[a]] > vals[indices[b]]
		}

		return vals[indices[a]] < vals[indices[b]]
	})

	return t.Select(indices), nil
}
