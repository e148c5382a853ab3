package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/stopeworks/stope/internal/paths"
)

// columnOrderKey is the parquet file-metadata key carrying the insertion
// order of the columns; parquet groups store fields sorted by name.
const columnOrderKey = "stope.column_order"

// readBatch is the row batch size used when decoding parquet files.
const readBatch = 256

// ErrEmptyTable reports an attempt to persist a table with no columns.
var ErrEmptyTable = errors.New("workspace table has no columns")

// WriteParquet atomically persists the table at path.
func WriteParquet(path string, t *Table) error {
	return paths.WriteAtomic(path, func(f *os.File) error {
		return encodeParquet(f, t)
	})
}

// ReadParquet loads a table from a parquet file, restoring column order
// from the file metadata.
func ReadParquet(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workspace %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat workspace %s: %w", path, err)
	}

	t, err := decodeParquet(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("read workspace %s: %w", path, err)
	}

	return t, nil
}

func encodeParquet(w io.Writer, t *Table) error {
	if len(t.cols) == 0 {
		return ErrEmptyTable
	}

	group := parquet.Group{}
	for _, col := range t.cols {
		group[col] = parquet.Optional(parquet.String())
	}

	order, err := json.Marshal(t.cols)
	if err != nil {
		return fmt.Errorf("marshal column order: %w", err)
	}

	writer := parquet.NewGenericWriter[map[string]any](w,
		parquet.NewSchema("workspace", group),
		parquet.Compression(&parquet.Snappy),
		parquet.KeyValueMetadata(columnOrderKey, string(order)),
	)

	rows := make([]map[string]any, t.rows)
	for i := range rows {
		row := make(map[string]any, len(t.cols))
		for _, col := range t.cols {
			row[col] = t.values[col][i]
		}

		rows[i] = row
	}

	if len(rows) > 0 {
		_, err = writer.Write(rows)
		if err != nil {
			return fmt.Errorf("write workspace rows: %w", err)
		}
	}

	err = writer.Close()
	if err != nil {
		return fmt.Errorf("close workspace writer: %w", err)
	}

	return nil
}

func decodeParquet(r io.ReaderAt, size int64) (*Table, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	fields := pf.Schema().Fields()

	names := make([]string, len(fields))
	columns := make([][]string, len(fields))

	for i, field := range fields {
		names[i] = field.Name()
	}

	for _, rg := range pf.RowGroups() {
		err = readRowGroup(rg, columns)
		if err != nil {
			return nil, err
		}
	}

	t := NewTable()

	for _, col := range columnOrder(pf, names) {
		idx := indexOf(names, col)
		if idx < 0 {
			continue
		}

		err = t.SetColumn(col, columns[idx])
		if err != nil {
			return nil, err
		}
	}

	return t, nil
}

func readRowGroup(rg parquet.RowGroup, columns [][]string) error {
	rows := rg.Rows()
	defer rows.Close()

	buf := make([]parquet.Row, readBatch)

	for {
		n, err := rows.ReadRows(buf)

		for _, row := range buf[:n] {
			for _, v := range row {
				cell := ""
				if !v.IsNull() {
					cell = v.String()
				}

				columns[v.Column()] = append(columns[v.Column()], cell)
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read row group: %w", err)
		}
	}
}

// columnOrder restores insertion order from file metadata, falling back to
// the schema order when the metadata is absent or unreadable.
func columnOrder(pf *parquet.File, schemaOrder []string) []string {
	raw, ok := pf.Lookup(columnOrderKey)
	if !ok {
		return schemaOrder
	}

	var order []string

	err := json.Unmarshal([]byte(raw), &order)
	if err != nil {
		return schemaOrder
	}

	return order
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}

	return -1
}
