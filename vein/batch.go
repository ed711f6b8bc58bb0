package vein

import (
	"bytes"
	"fmt"
	"io"
	"time"
)

// -----------------------------------------------------------------------------
// RecordBatch
// -----------------------------------------------------------------------------

// RecordBatch is a column-oriented chunk of rows sharing one schema.
//
// Column values use the normalised representation described on Scalar;
// nil is null. Batches are immutable: the slices returned by Column must not
// be modified.
type RecordBatch struct {
	schema  *Schema
	columns [][]any
	numRows int
}

// NewRecordBatch builds a batch, normalising every value to its field's type.
func NewRecordBatch(schema *Schema, columns ...[]any) (*RecordBatch, error) {
	if len(columns) != schema.NumFields() {
		return nil, fmt.Errorf("vein: %w: %d columns for %d fields", ErrSchemaViolation, len(columns), schema.NumFields())
	}
	numRows := 0
	if len(columns) > 0 {
		numRows = len(columns[0])
	}
	out := make([][]any, len(columns))
	for i, col := range columns {
		f := schema.Field(i)
		if len(col) != numRows {
			return nil, newFieldError(ErrSchemaViolation, f.Name,
				fmt.Sprintf("has %d rows, want %d", len(col), numRows))
		}
		norm := make([]any, len(col))
		for row, v := range col {
			nv, err := normalizeValue(f.Type, v)
			if err != nil {
				return nil, fmt.Errorf("vein: column %s row %d: %w", f.Name, row, err)
			}
			if nv == nil && !f.Nullable {
				return nil, newFieldError(ErrSchemaViolation, f.Name, fmt.Sprintf("null at row %d", row))
			}
			norm[row] = nv
		}
		out[i] = norm
	}
	return &RecordBatch{schema: schema, columns: out, numRows: numRows}, nil
}

// newBatch wraps already-normalised columns.
func newBatch(schema *Schema, columns [][]any, numRows int) *RecordBatch {
	return &RecordBatch{schema: schema, columns: columns, numRows: numRows}
}

// Schema returns the batch schema.
func (b *RecordBatch) Schema() *Schema { return b.schema }

// NumRows returns the number of rows.
func (b *RecordBatch) NumRows() int { return b.numRows }

// NumColumns returns the number of columns.
func (b *RecordBatch) NumColumns() int { return len(b.columns) }

// Column returns the i-th column.
func (b *RecordBatch) Column(i int) []any { return b.columns[i] }

// ColumnByName returns the named column.
func (b *RecordBatch) ColumnByName(name string) ([]any, bool) {
	i := b.schema.FieldIndex(name)
	if i < 0 {
		return nil, false
	}
	return b.columns[i], true
}

// Row returns one row keyed by field name.
func (b *RecordBatch) Row(i int) map[string]any {
	row := make(map[string]any, len(b.columns))
	for c, f := range b.schema.fields {
		row[f.Name] = b.columns[c][i]
	}
	return row
}

// Filter returns the rows whose mask entry is true.
func (b *RecordBatch) Filter(mask []bool) *RecordBatch {
	n := 0
	for _, keep := range mask {
		if keep {
			n++
		}
	}
	if n == b.numRows {
		return b
	}
	cols := make([][]any, len(b.columns))
	for c, col := range b.columns {
		out := make([]any, 0, n)
		for row, keep := range mask {
			if keep {
				out = append(out, col[row])
			}
		}
		cols[c] = out
	}
	return newBatch(b.schema, cols, n)
}

// Project returns the batch restricted to the fields of schema, in its order.
func (b *RecordBatch) Project(schema *Schema) (*RecordBatch, error) {
	if schema.Equal(b.schema) {
		return b, nil
	}
	cols := make([][]any, schema.NumFields())
	for i, f := range schema.fields {
		c := b.schema.FieldIndex(f.Name)
		if c < 0 {
			return nil, newFieldError(ErrUnknownField, f.Name, "not in batch")
		}
		cols[i] = b.columns[c]
	}
	return newBatch(schema, cols, b.numRows), nil
}

// -----------------------------------------------------------------------------
// Iterators
// -----------------------------------------------------------------------------

// RecordBatchIterator yields batches lazily. Next returns io.EOF when exhausted.
type RecordBatchIterator interface {
	Next() (*RecordBatch, error)
	Close() error
}

// sliceBatchIterator iterates over fixed batches.
type sliceBatchIterator struct {
	batches []*RecordBatch
	pos     int
}

func newSliceBatchIterator(batches []*RecordBatch) *sliceBatchIterator {
	return &sliceBatchIterator{batches: batches}
}

func (it *sliceBatchIterator) Next() (*RecordBatch, error) {
	if it.pos >= len(it.batches) {
		return nil, io.EOF
	}
	b := it.batches[it.pos]
	it.pos++
	return b, nil
}

func (it *sliceBatchIterator) Close() error { return nil }

// CollectBatches drains an iterator and closes it.
func CollectBatches(it RecordBatchIterator) ([]*RecordBatch, error) {
	defer func() { _ = it.Close() }()
	var out []*RecordBatch
	for {
		b, err := it.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
}

// -----------------------------------------------------------------------------
// Table
// -----------------------------------------------------------------------------

// Table is the materialised result of a scan: a schema and ordered batches.
type Table struct {
	schema  *Schema
	batches []*RecordBatch
	numRows int
}

// NewTable builds a table. Every batch must carry an equal schema.
func NewTable(schema *Schema, batches ...*RecordBatch) (*Table, error) {
	t := &Table{schema: schema}
	for i, b := range batches {
		if !b.schema.Equal(schema) {
			return nil, fmt.Errorf("vein: %w: batch %d schema %s, want %s", ErrSchemaViolation, i, b.schema, schema)
		}
		t.batches = append(t.batches, b)
		t.numRows += b.numRows
	}
	return t, nil
}

// Schema returns the table schema.
func (t *Table) Schema() *Schema { return t.schema }

// NumRows returns the total row count.
func (t *Table) NumRows() int { return t.numRows }

// Batches returns the table's batches in order.
func (t *Table) Batches() []*RecordBatch {
	out := make([]*RecordBatch, len(t.batches))
	copy(out, t.batches)
	return out
}

// Column returns the named column concatenated across batches.
func (t *Table) Column(name string) ([]any, error) {
	i := t.schema.FieldIndex(name)
	if i < 0 {
		return nil, newFieldError(ErrUnknownField, name, "not in table")
	}
	out := make([]any, 0, t.numRows)
	for _, b := range t.batches {
		out = append(out, b.columns[i]...)
	}
	return out, nil
}

// Rows returns every row keyed by field name, in order.
func (t *Table) Rows() []map[string]any {
	out := make([]map[string]any, 0, t.numRows)
	for _, b := range t.batches {
		for i := 0; i < b.numRows; i++ {
			out = append(out, b.Row(i))
		}
	}
	return out
}

// Equal reports whether both tables hold the same schema and the same rows in
// the same order, regardless of batch boundaries.
func (t *Table) Equal(other *Table) bool {
	if !t.schema.Equal(other.schema) || t.numRows != other.numRows {
		return false
	}
	for c := range t.schema.fields {
		a, _ := t.Column(t.schema.fields[c].Name)
		b, _ := other.Column(t.schema.fields[c].Name)
		for i := range a {
			if !valuesEqual(a[i], b[i]) {
				return false
			}
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	default:
		return a == b
	}
}
