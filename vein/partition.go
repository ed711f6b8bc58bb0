package vein

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// HiveDefaultPartition is the hive directory value denoting a null partition.
const HiveDefaultPartition = "__HIVE_DEFAULT_PARTITION__"

// Partitioning maps directory path segments to partition expressions.
type Partitioning interface {
	// Name returns the scheme identifier ("directory" or "hive").
	Name() string

	// Schema returns the partition fields.
	Schema() *Schema

	// ParseSegment returns the expression for one directory segment at the
	// given depth (0 is the first directory below the dataset root), or nil
	// when the segment carries no partition information.
	ParseSegment(depth int, segment string) (Expression, error)

	// Format renders partition values as a relative directory path.
	Format(values map[string]any) (string, error)
}

// ParsePath parses every segment of a slash-separated directory path and
// conjoins the results. It returns nil when no segment matched.
func ParsePath(p Partitioning, dir string) (Expression, error) {
	var exprs []Expression
	for depth, seg := range splitSegments(dir) {
		e, err := p.ParseSegment(depth, seg)
		if err != nil {
			return nil, err
		}
		if e != nil {
			exprs = append(exprs, e)
		}
	}
	if len(exprs) == 0 {
		return nil, nil
	}
	return And(exprs...), nil
}

func splitSegments(dir string) []string {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return nil
	}
	return strings.Split(dir, "/")
}

// -----------------------------------------------------------------------------
// Directory partitioning
// -----------------------------------------------------------------------------

type directoryPartitioning struct {
	schema *Schema
}

// NewDirectoryPartitioning assigns the i-th directory segment to the i-th
// field of schema. Deeper segments are ignored.
func NewDirectoryPartitioning(schema *Schema) Partitioning {
	return &directoryPartitioning{schema: schema}
}

func (d *directoryPartitioning) Name() string { return "directory" }

func (d *directoryPartitioning) Schema() *Schema { return d.schema }

func (d *directoryPartitioning) ParseSegment(depth int, segment string) (Expression, error) {
	if depth >= d.schema.NumFields() {
		return nil, nil
	}
	return partitionPredicate(d.schema.Field(depth), segment)
}

func (d *directoryPartitioning) Format(values map[string]any) (string, error) {
	parts := make([]string, 0, d.schema.NumFields())
	for _, f := range d.schema.fields {
		v, ok := values[f.Name]
		if !ok {
			return "", fmt.Errorf("directory partitioning: missing key %q", f.Name)
		}
		if v == nil {
			return "", fmt.Errorf("directory partitioning: null value for %q", f.Name)
		}
		s, err := escapeValue(f, v)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "/"), nil
}

// -----------------------------------------------------------------------------
// Hive partitioning
// -----------------------------------------------------------------------------

type hivePartitioning struct {
	schema *Schema
}

// NewHivePartitioning parses key=value segments for the fields of schema.
// Segments that are not key=value, or whose key is not in schema, are ignored.
func NewHivePartitioning(schema *Schema) Partitioning {
	return &hivePartitioning{schema: schema}
}

func (h *hivePartitioning) Name() string { return "hive" }

func (h *hivePartitioning) Schema() *Schema { return h.schema }

func (h *hivePartitioning) ParseSegment(_ int, segment string) (Expression, error) {
	key, value, ok := strings.Cut(segment, "=")
	if !ok {
		return nil, nil
	}
	f, ok := h.schema.FieldByName(key)
	if !ok {
		return nil, nil
	}
	return partitionPredicate(f, value)
}

func (h *hivePartitioning) Format(values map[string]any) (string, error) {
	parts := make([]string, 0, h.schema.NumFields())
	for _, f := range h.schema.fields {
		v, ok := values[f.Name]
		if !ok {
			return "", fmt.Errorf("hive partitioning: missing key %q", f.Name)
		}
		if v == nil {
			parts = append(parts, f.Name+"="+HiveDefaultPartition)
			continue
		}
		s, err := escapeValue(f, v)
		if err != nil {
			return "", err
		}
		parts = append(parts, f.Name+"="+s)
	}
	return strings.Join(parts, "/"), nil
}

// partitionPredicate turns a raw segment value into field == value, or
// is_null(field) for the hive default partition.
func partitionPredicate(f Field, raw string) (Expression, error) {
	text, err := url.PathUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("vein: %w: %s: %v", ErrInvalidPartition, f.Name, err)
	}
	if text == HiveDefaultPartition {
		return IsNull(Ref(f.Name)), nil
	}
	v, err := ParseScalar(text, f.Type)
	if err != nil {
		return nil, fmt.Errorf("%w (field %s)", err, f.Name)
	}
	return Equal(Ref(f.Name), &Literal{value: v}), nil
}

func escapeValue(f Field, v any) (string, error) {
	s, err := NewScalar(v)
	if err != nil {
		return "", err
	}
	s, err = CastScalar(s, f.Type)
	if err != nil {
		return "", fmt.Errorf("partition %s: %w", f.Name, err)
	}
	return url.PathEscape(formatScalar(s)), nil
}

// -----------------------------------------------------------------------------
// Factories
// -----------------------------------------------------------------------------

// PartitioningFactory infers a Partitioning from directory paths.
type PartitioningFactory interface {
	// Name returns the scheme identifier.
	Name() string

	// Inspect infers the partition schema from relative directory paths.
	Inspect(dirs []string) (*Schema, error)

	// Finish builds the Partitioning using field types from schema.
	Finish(schema *Schema) (Partitioning, error)
}

type directoryFactory struct {
	names []string
}

// DirectoryPartitioningFactory infers types for positional fields with the
// given names.
func DirectoryPartitioningFactory(names ...string) PartitioningFactory {
	return &directoryFactory{names: append([]string(nil), names...)}
}

func (d *directoryFactory) Name() string { return "directory" }

func (d *directoryFactory) Inspect(dirs []string) (*Schema, error) {
	values := make([][]string, len(d.names))
	for _, dir := range dirs {
		for depth, seg := range splitSegments(dir) {
			if depth >= len(d.names) {
				break
			}
			if text, err := url.PathUnescape(seg); err == nil {
				values[depth] = append(values[depth], text)
			}
		}
	}
	fields := make([]Field, len(d.names))
	for i, name := range d.names {
		fields[i] = Field{Name: name, Type: inferPartitionType(values[i]), Nullable: true}
	}
	return NewSchema(fields...)
}

func (d *directoryFactory) Finish(schema *Schema) (Partitioning, error) {
	fields := make([]Field, len(d.names))
	for i, name := range d.names {
		f, ok := schema.FieldByName(name)
		if !ok {
			return nil, newFieldError(ErrUnknownField, name, "partition field not in dataset schema")
		}
		fields[i] = f
	}
	ps, err := NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return NewDirectoryPartitioning(ps), nil
}

type hiveFactory struct {
	keys      []string
	inspected bool
}

// HivePartitioningFactory infers hive keys and their types from key=value
// directory names.
func HivePartitioningFactory() PartitioningFactory {
	return &hiveFactory{}
}

func (h *hiveFactory) Name() string { return "hive" }

func (h *hiveFactory) Inspect(dirs []string) (*Schema, error) {
	var keys []string
	values := make(map[string][]string)
	for _, dir := range dirs {
		for _, seg := range splitSegments(dir) {
			key, raw, ok := strings.Cut(seg, "=")
			if !ok || key == "" {
				continue
			}
			if _, seen := values[key]; !seen {
				keys = append(keys, key)
				values[key] = nil
			}
			text, err := url.PathUnescape(raw)
			if err != nil || text == HiveDefaultPartition {
				continue
			}
			values[key] = append(values[key], text)
		}
	}
	h.keys = keys
	h.inspected = true
	fields := make([]Field, len(keys))
	for i, k := range keys {
		fields[i] = Field{Name: k, Type: inferPartitionType(values[k]), Nullable: true}
	}
	return NewSchema(fields...)
}

// Finish keeps the inspected keys present in schema. Without a prior Inspect
// every schema field is a candidate key.
func (h *hiveFactory) Finish(schema *Schema) (Partitioning, error) {
	if !h.inspected {
		return NewHivePartitioning(schema), nil
	}
	var fields []Field
	for _, k := range h.keys {
		if f, ok := schema.FieldByName(k); ok {
			fields = append(fields, f)
		}
	}
	ps, err := NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return NewHivePartitioning(ps), nil
}

// inferPartitionType returns Int32 when every value is an integer (Int64 when
// one exceeds the int32 range), otherwise String.
func inferPartitionType(values []string) DataType {
	if len(values) == 0 {
		return String
	}
	t := Int32
	for _, v := range values {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return String
		}
		if i < math.MinInt32 || i > math.MaxInt32 {
			t = Int64
		}
	}
	return t
}
