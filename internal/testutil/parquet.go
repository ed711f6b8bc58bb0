package testutil

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
)

// ColumnType enumerates the parquet column types fixtures can write.
type ColumnType int

// Column types.
const (
	Int32 ColumnType = iota
	Int64
	Uint8
	Float64
	String
	Bool
	Bytes
	Timestamp
)

// Column declares one fixture column.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// WriteParquet encodes rows into w with snappy compression. A new row group
// starts every rowGroupSize rows; zero writes a single row group.
func WriteParquet(w io.Writer, cols []Column, rows []map[string]any, rowGroupSize int) error {
	group := make(parquet.Group, len(cols))
	byName := make(map[string]Column, len(cols))
	for _, c := range cols {
		node, err := columnNode(c)
		if err != nil {
			return err
		}
		group[c.Name] = node
		byName[c.Name] = c
	}
	schema := parquet.NewSchema("record", group)

	// parquet.Group orders fields by name; rows must follow that order.
	order := make([]Column, 0, len(cols))
	for _, f := range schema.Fields() {
		order = append(order, byName[f.Name()])
	}

	if rowGroupSize <= 0 {
		rowGroupSize = max(len(rows), 1)
	}
	writer := parquet.NewWriter(w, schema, parquet.Compression(&parquet.Snappy))
	for start := 0; start < len(rows) || start == 0; start += rowGroupSize {
		end := min(start+rowGroupSize, len(rows))
		buf := parquet.NewBuffer(schema)
		for i := start; i < end; i++ {
			row, err := toRow(order, rows[i], i)
			if err != nil {
				_ = writer.Close()
				return err
			}
			if _, err := buf.WriteRows([]parquet.Row{row}); err != nil {
				_ = writer.Close()
				return fmt.Errorf("parquet: write row %d: %w", i, err)
			}
		}
		if _, err := writer.WriteRowGroup(buf); err != nil {
			_ = writer.Close()
			return fmt.Errorf("parquet: write row group: %w", err)
		}
		if len(rows) == 0 {
			break
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("parquet: close writer: %w", err)
	}
	return nil
}

// ParquetBytes is WriteParquet into a byte slice.
func ParquetBytes(cols []Column, rows []map[string]any, rowGroupSize int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteParquet(&buf, cols, rows, rowGroupSize); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func columnNode(c Column) (parquet.Node, error) {
	var node parquet.Node
	switch c.Type {
	case Int32:
		node = parquet.Int(32)
	case Int64:
		node = parquet.Int(64)
	case Uint8:
		node = parquet.Uint(8)
	case Float64:
		node = parquet.Leaf(parquet.DoubleType)
	case String:
		node = parquet.String()
	case Bool:
		node = parquet.Leaf(parquet.BooleanType)
	case Bytes:
		node = parquet.Leaf(parquet.ByteArrayType)
	case Timestamp:
		node = parquet.Timestamp(parquet.Nanosecond)
	default:
		return nil, fmt.Errorf("testutil: invalid column type %d for %q", c.Type, c.Name)
	}
	if c.Nullable {
		node = parquet.Optional(node)
	}
	return node, nil
}

func toRow(order []Column, record map[string]any, index int) (parquet.Row, error) {
	row := make(parquet.Row, len(order))
	for i, c := range order {
		val, ok := record[c.Name]
		if !ok || val == nil {
			if !c.Nullable {
				return nil, fmt.Errorf("testutil: row %d missing required column %q", index, c.Name)
			}
			row[i] = parquet.NullValue().Level(0, 0, i)
			continue
		}
		v, err := toValue(c, val)
		if err != nil {
			return nil, fmt.Errorf("testutil: row %d column %q: %w", index, c.Name, err)
		}
		def := 0
		if c.Nullable {
			def = 1
		}
		row[i] = v.Level(0, def, i)
	}
	return row, nil
}

func toValue(c Column, val any) (parquet.Value, error) {
	switch c.Type {
	case Int32, Uint8:
		i, err := asInt(val)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.Int32Value(int32(i)), nil
	case Int64:
		i, err := asInt(val)
		if err != nil {
			return parquet.Value{}, err
		}
		return parquet.Int64Value(i), nil
	case Float64:
		switch v := val.(type) {
		case float64:
			return parquet.DoubleValue(v), nil
		case int:
			return parquet.DoubleValue(float64(v)), nil
		}
	case String:
		if v, ok := val.(string); ok {
			return parquet.ByteArrayValue([]byte(v)), nil
		}
	case Bool:
		if v, ok := val.(bool); ok {
			return parquet.BooleanValue(v), nil
		}
	case Bytes:
		if v, ok := val.([]byte); ok {
			return parquet.ByteArrayValue(v), nil
		}
	case Timestamp:
		if v, ok := val.(time.Time); ok {
			return parquet.Int64Value(v.UnixNano()), nil
		}
	}
	return parquet.Value{}, fmt.Errorf("unexpected %T", val)
}

func asInt(val any) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	}
	return 0, fmt.Errorf("expected integer, got %T", val)
}
