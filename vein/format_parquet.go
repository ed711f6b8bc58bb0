package vein

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"
)

// parquetFormat reads Apache Parquet files. Each row group is one split.
type parquetFormat struct{}

// NewParquetFormat creates the Parquet format. Top-level primitive columns
// are exposed; nested and INT96 columns are skipped.
func NewParquetFormat() FileFormat {
	return &parquetFormat{}
}

func (p *parquetFormat) Name() string { return "parquet" }

func (p *parquetFormat) Matches(name string) bool {
	switch path.Ext(name) {
	case ".parquet", ".parq":
		return true
	}
	return false
}

func (p *parquetFormat) Splittable() bool { return true }

func (p *parquetFormat) CountSplits(ctx context.Context, src FileSource) (int, error) {
	file, err := openParquet(ctx, src)
	if err != nil {
		return 0, err
	}
	return len(file.RowGroups()), nil
}

func (p *parquetFormat) Inspect(ctx context.Context, src FileSource) (*Schema, error) {
	file, err := openParquet(ctx, src)
	if err != nil {
		return nil, err
	}
	cols := parquetColumns(file.Schema())
	fields := make([]Field, len(cols))
	for i, c := range cols {
		fields[i] = c.field
	}
	return NewSchema(fields...)
}

func (p *parquetFormat) Read(ctx context.Context, src FileSource, opts ReadOptions) (RecordBatchIterator, error) {
	file, err := openParquet(ctx, src)
	if err != nil {
		return nil, err
	}
	cols := parquetColumns(file.Schema())
	if opts.Columns != nil {
		byName := make(map[string]parquetColumn, len(cols))
		for _, c := range cols {
			byName[c.field.Name] = c
		}
		selected := cols[:0:0]
		for _, name := range opts.Columns {
			if c, ok := byName[name]; ok {
				selected = append(selected, c)
			}
		}
		cols = selected
	}

	fields := make([]Field, len(cols))
	for i, c := range cols {
		fields[i] = c.field
	}
	schema, err := NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	positions := make(map[int]int, len(cols))
	for i, c := range cols {
		positions[c.index] = i
	}

	groups := file.RowGroups()
	if opts.Split >= 0 {
		if opts.Split >= len(groups) {
			return nil, fmt.Errorf("vein: %s has %d row groups, split %d requested", src.Path, len(groups), opts.Split)
		}
		groups = groups[opts.Split : opts.Split+1]
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &parquetBatchIterator{
		ctx:       ctx,
		groups:    groups,
		schema:    schema,
		columns:   cols,
		positions: positions,
		buf:       make([]parquet.Row, min(batchSize, 4096)),
		path:      src.Path,
	}, nil
}

// parquetReadBufferSize is the unit of ranged reads issued for column pages.
const parquetReadBufferSize = 64 * 1024

// openParquet opens the file for random access. Only the footer is fetched up
// front; column chunks are read when their row group is scanned.
func openParquet(ctx context.Context, src FileSource) (*parquet.File, error) {
	r, size, err := src.ReaderAt(ctx)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidFormat, src.Path)
	}
	file, err := parquet.OpenFile(r, size, &parquet.FileConfig{
		SkipPageIndex:    true,
		SkipBloomFilters: true,
		ReadBufferSize:   parquetReadBufferSize,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFormat, src.Path, err)
	}
	return file, nil
}

// parquetColumn maps a top-level leaf to its physical column index.
type parquetColumn struct {
	field Field
	index int
	unit  time.Duration
}

func parquetColumns(schema *parquet.Schema) []parquetColumn {
	var cols []parquetColumn
	index := 0
	for _, f := range schema.Fields() {
		if !f.Leaf() {
			index += leafCount(f)
			continue
		}
		t, unit, ok := dataTypeOf(f.Type())
		if ok {
			cols = append(cols, parquetColumn{
				field: Field{Name: f.Name(), Type: t, Nullable: f.Optional()},
				index: index,
				unit:  unit,
			})
		}
		index++
	}
	return cols
}

func leafCount(n parquet.Node) int {
	if n.Leaf() {
		return 1
	}
	total := 0
	for _, f := range n.Fields() {
		total += leafCount(f)
	}
	return total
}

// dataTypeOf maps a physical/logical parquet type to a DataType. For
// timestamps and dates, unit is the duration of one stored tick.
func dataTypeOf(t parquet.Type) (DataType, time.Duration, bool) {
	lt := t.LogicalType()
	switch t.Kind() {
	case parquet.Boolean:
		return Bool, 0, true
	case parquet.Int32:
		switch {
		case lt != nil && lt.Integer != nil:
			return intType(lt.Integer), 0, true
		case lt != nil && lt.Date != nil:
			return Timestamp, 24 * time.Hour, true
		}
		return Int32, 0, true
	case parquet.Int64:
		switch {
		case lt != nil && lt.Timestamp != nil:
			return Timestamp, timestampUnit(lt.Timestamp.Unit), true
		case lt != nil && lt.Integer != nil:
			return intType(lt.Integer), 0, true
		}
		return Int64, 0, true
	case parquet.Float:
		return Float32, 0, true
	case parquet.Double:
		return Float64, 0, true
	case parquet.ByteArray, parquet.FixedLenByteArray:
		if lt != nil && (lt.UTF8 != nil || lt.Enum != nil || lt.Json != nil) {
			return String, 0, true
		}
		return Binary, 0, true
	}
	return Null, 0, false
}

func intType(it *format.IntType) DataType {
	if it.IsSigned {
		switch it.BitWidth {
		case 8:
			return Int8
		case 16:
			return Int16
		case 32:
			return Int32
		}
		return Int64
	}
	switch it.BitWidth {
	case 8:
		return Uint8
	case 16:
		return Uint16
	case 32:
		return Uint32
	}
	return Uint64
}

func timestampUnit(u format.TimeUnit) time.Duration {
	switch {
	case u.Millis != nil:
		return time.Millisecond
	case u.Micros != nil:
		return time.Microsecond
	}
	return time.Nanosecond
}

func parquetValue(v parquet.Value, c parquetColumn) any {
	if v.IsNull() {
		return nil
	}
	switch c.field.Type {
	case Bool:
		return v.Boolean()
	case Int8, Int16, Int32:
		return int64(v.Int32())
	case Int64:
		return v.Int64()
	case Uint8, Uint16, Uint32:
		return uint64(uint32(v.Int32()))
	case Uint64:
		return uint64(v.Int64())
	case Float32:
		return float64(v.Float())
	case Float64:
		return v.Double()
	case String:
		return string(v.ByteArray())
	case Binary:
		return bytes.Clone(v.ByteArray())
	case Timestamp:
		if c.unit == 24*time.Hour {
			return time.Unix(int64(v.Int32())*86400, 0).UTC()
		}
		return time.Unix(0, v.Int64()*int64(c.unit)).UTC()
	}
	return nil
}

// parquetBatchIterator reads row groups sequentially in bounded batches.
type parquetBatchIterator struct {
	ctx       context.Context
	groups    []parquet.RowGroup
	next      int
	rows      parquet.Rows
	schema    *Schema
	columns   []parquetColumn
	positions map[int]int
	buf       []parquet.Row
	path      string
}

func (it *parquetBatchIterator) Next() (*RecordBatch, error) {
	for {
		if err := it.ctx.Err(); err != nil {
			return nil, err
		}
		if it.rows == nil {
			if it.next >= len(it.groups) {
				return nil, io.EOF
			}
			it.rows = it.groups[it.next].Rows()
			it.next++
		}
		n, err := it.rows.ReadRows(it.buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s: read rows: %w", ErrInvalidFormat, it.path, err)
		}
		var b *RecordBatch
		if n > 0 {
			b = it.batch(it.buf[:n])
		}
		if err != nil || n == 0 {
			_ = it.rows.Close()
			it.rows = nil
		}
		if b != nil {
			return b, nil
		}
	}
}

func (it *parquetBatchIterator) batch(rows []parquet.Row) *RecordBatch {
	cols := make([][]any, len(it.columns))
	for i := range cols {
		cols[i] = make([]any, len(rows))
	}
	for r, row := range rows {
		for _, v := range row {
			pos, ok := it.positions[v.Column()]
			if !ok {
				continue
			}
			cols[pos][r] = parquetValue(v, it.columns[pos])
		}
	}
	return newBatch(it.schema, cols, len(rows))
}

func (it *parquetBatchIterator) Close() error {
	if it.rows != nil {
		err := it.rows.Close()
		it.rows = nil
		return err
	}
	return nil
}
