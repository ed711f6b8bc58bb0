package vein

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

const maxScanTokenSize = 10 * 1024 * 1024 // 10MB

// DefaultFormats returns the formats discovery tries, in order.
func DefaultFormats() []FileFormat {
	return []FileFormat{NewParquetFormat(), NewJSONLFormat()}
}

// formatFor returns the first format that claims path.
func formatFor(formats []FileFormat, p string) FileFormat {
	for _, f := range formats {
		if f.Matches(p) {
			return f
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// JSONL format
// -----------------------------------------------------------------------------

// jsonlFormat reads newline-delimited JSON objects.
type jsonlFormat struct {
	sampleRows int
}

// NewJSONLFormat creates the JSON Lines format. Files may carry a compression
// extension (.jsonl.gz, .ndjson.zst, ...). The schema is inferred from the
// leading lines of each file; nested values are exposed as raw JSON strings.
func NewJSONLFormat() FileFormat {
	return &jsonlFormat{sampleRows: 1000}
}

func (j *jsonlFormat) Name() string { return "jsonl" }

func (j *jsonlFormat) Matches(p string) bool {
	switch path.Ext(stripCompressionExt(p)) {
	case ".jsonl", ".ndjson":
		return true
	}
	return false
}

func (j *jsonlFormat) Splittable() bool { return false }

func (j *jsonlFormat) CountSplits(context.Context, FileSource) (int, error) { return 1, nil }

func (j *jsonlFormat) Inspect(ctx context.Context, src FileSource) (*Schema, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var order []string
	types := make(map[string]DataType)
	scanner := newLineScanner(rc)
	lineNo, sampled := 0, 0
	for sampled < j.sampleRows && scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		sampled++
		if err := sniffLine(line, &order, types); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrInvalidFormat, src.Path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, src.Path, err)
	}

	fields := make([]Field, len(order))
	for i, name := range order {
		t := types[name]
		if t == Null {
			t = String
		}
		fields[i] = Field{Name: name, Type: t, Nullable: true}
	}
	return NewSchema(fields...)
}

// sniffLine records the top-level keys of one JSON object and merges their
// value types into types.
func sniffLine(line []byte, order *[]string, types map[string]DataType) error {
	iter := jsonCodec.BorrowIterator(line)
	defer jsonCodec.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return fmt.Errorf("not a JSON object")
	}
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		var t DataType
		switch it.WhatIsNext() {
		case jsoniter.StringValue:
			it.Skip()
			t = String
		case jsoniter.NumberValue:
			if isIntegerText(string(it.ReadNumber())) {
				t = Int64
			} else {
				t = Float64
			}
		case jsoniter.BoolValue:
			it.Skip()
			t = Bool
		case jsoniter.NilValue:
			it.Skip()
			t = Null
		default:
			it.Skip()
			t = String
		}
		prev, seen := types[key]
		if !seen {
			*order = append(*order, key)
		}
		types[key] = mergeJSONType(prev, t)
		return true
	})
	if iter.Error != nil && iter.Error != io.EOF {
		return iter.Error
	}
	return nil
}

func mergeJSONType(prev, next DataType) DataType {
	switch {
	case prev == Null:
		return next
	case next == Null, prev == next:
		return prev
	case prev.IsNumeric() && next.IsNumeric():
		return Float64
	default:
		return String
	}
}

func isIntegerText(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".eE")
}

// Read extracts the requested columns from every line. Columns declared in
// opts.Schema take their JSON representation of the declared type; others are
// typed from the values in each batch. Without a column list every top-level
// key is returned, in first-seen order.
func (j *jsonlFormat) Read(ctx context.Context, src FileSource, opts ReadOptions) (RecordBatchIterator, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	it := &jsonlBatchIterator{
		ctx:       ctx,
		rc:        rc,
		scanner:   newLineScanner(rc),
		declared:  opts.Schema,
		batchSize: batchSize,
		path:      src.Path,
	}
	if opts.Columns != nil {
		seen := make(map[string]bool, len(opts.Columns))
		it.columns = make([]string, 0, len(opts.Columns))
		for _, name := range opts.Columns {
			if seen[name] {
				continue
			}
			seen[name] = true
			it.columns = append(it.columns, name)
			it.paths = append(it.paths, escapeJSONPath(name))
		}
	}
	return it, nil
}

// jsonlBatchIterator holds each batch as raw gjson results and types the
// columns once the batch is complete.
type jsonlBatchIterator struct {
	ctx       context.Context
	rc        io.ReadCloser
	scanner   *bufio.Scanner
	declared  *Schema
	columns   []string // nil reads every key
	paths     []string
	batchSize int
	path      string
	lineNo    int
	done      bool
}

func (it *jsonlBatchIterator) Next() (*RecordBatch, error) {
	if it.done {
		return nil, io.EOF
	}
	if err := it.ctx.Err(); err != nil {
		return nil, err
	}

	names := it.columns
	var index map[string]int
	if names == nil {
		index = make(map[string]int)
	}
	raw := make([][]gjson.Result, len(names))
	var lines []int
	n := 0
	for n < it.batchSize && it.scanner.Scan() {
		it.lineNo++
		line := bytes.TrimSpace(it.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return nil, fmt.Errorf("%w: %s line %d: invalid JSON", ErrInvalidFormat, it.path, it.lineNo)
		}
		if line[0] != '{' {
			return nil, fmt.Errorf("%w: %s line %d: not a JSON object", ErrInvalidFormat, it.path, it.lineNo)
		}

		if index == nil {
			for i, r := range gjson.GetManyBytes(line, it.paths...) {
				raw[i] = append(raw[i], r)
			}
		} else {
			gjson.ParseBytes(line).ForEach(func(key, value gjson.Result) bool {
				name := key.String()
				i, ok := index[name]
				if !ok {
					i = len(names)
					index[name] = i
					names = append(names, name)
					raw = append(raw, make([]gjson.Result, n, n+1))
				}
				if len(raw[i]) > n {
					raw[i][n] = value // repeated key: last wins
				} else {
					raw[i] = append(raw[i], value)
				}
				return true
			})
			for i := range raw {
				if len(raw[i]) == n {
					raw[i] = append(raw[i], gjson.Result{})
				}
			}
		}
		lines = append(lines, it.lineNo)
		n++
	}
	if err := it.scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, it.path, err)
	}
	if n < it.batchSize {
		it.done = true
	}
	if n == 0 {
		return nil, io.EOF
	}

	fields := make([]Field, 0, len(names))
	cols := make([][]any, 0, len(names))
	for i, name := range names {
		t, ok := it.columnType(name, raw[i])
		if !ok {
			continue
		}
		col := make([]any, n)
		for r, res := range raw[i] {
			v, err := jsonValue(res, t)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %w", it.path, lines[r], newFieldError(ErrSchemaViolation, name, err.Error()))
			}
			col[r] = v
		}
		fields = append(fields, Field{Name: name, Type: t, Nullable: true})
		cols = append(cols, col)
	}
	schema, err := NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return newBatch(schema, cols, n), nil
}

// columnType picks the physical type of one column of a batch. Columns whose
// key appears on no line are left out.
func (it *jsonlBatchIterator) columnType(name string, values []gjson.Result) (DataType, bool) {
	present := false
	inferred := Null
	for _, r := range values {
		if !r.Exists() {
			continue
		}
		present = true
		inferred = mergeJSONType(inferred, jsonKind(r))
	}
	if !present {
		return Null, false
	}
	if it.declared != nil {
		if f, ok := it.declared.FieldByName(name); ok {
			if t, ok := jsonPhysicalType(f.Type); ok {
				return t, true
			}
		}
	}
	if inferred == Null {
		inferred = String
	}
	return inferred, true
}

// jsonKind is the type a single JSON value suggests.
func jsonKind(r gjson.Result) DataType {
	switch r.Type {
	case gjson.Null:
		return Null
	case gjson.True, gjson.False:
		return Bool
	case gjson.Number:
		if isIntegerText(r.Raw) {
			return Int64
		}
		return Float64
	default:
		return String
	}
}

// jsonPhysicalType maps a declared type to the JSON representation read for
// it. Types JSON has no native form for are typed from the values instead.
func jsonPhysicalType(t DataType) (DataType, bool) {
	switch {
	case t == Bool:
		return Bool, true
	case t.IsInteger():
		return Int64, true
	case t.IsFloat():
		return Float64, true
	case t == String:
		return String, true
	}
	return Null, false
}

func (it *jsonlBatchIterator) Close() error { return it.rc.Close() }

func jsonValue(r gjson.Result, t DataType) (any, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return nil, nil
	}
	switch t {
	case Bool:
		if r.Type != gjson.True && r.Type != gjson.False {
			return nil, fmt.Errorf("expected bool, got %s", r.Raw)
		}
		return r.Bool(), nil
	case Int64:
		if r.Type != gjson.Number || !isIntegerText(r.Raw) {
			return nil, fmt.Errorf("expected integer, got %s", r.Raw)
		}
		return r.Int(), nil
	case Float64:
		if r.Type != gjson.Number {
			return nil, fmt.Errorf("expected number, got %s", r.Raw)
		}
		return r.Float(), nil
	default:
		return r.String(), nil
	}
}

// escapeJSONPath escapes gjson path syntax in a literal key.
func escapeJSONPath(key string) string {
	var b strings.Builder
	for _, c := range key {
		if !(c == '_' || c == '-' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c > 127) {
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)
	return scanner
}
