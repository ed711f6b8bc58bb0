package vein

import (
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Data types
// -----------------------------------------------------------------------------

// DataType enumerates the logical column types vein understands.
type DataType int

// DataType constants.
const (
	Null DataType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	String
	Binary
	Timestamp
	dataTypeMax // sentinel for validation
)

var dataTypeNames = [...]string{
	Null:      "null",
	Bool:      "bool",
	Int8:      "int8",
	Int16:     "int16",
	Int32:     "int32",
	Int64:     "int64",
	Uint8:     "uint8",
	Uint16:    "uint16",
	Uint32:    "uint32",
	Uint64:    "uint64",
	Float32:   "float32",
	Float64:   "float64",
	String:    "string",
	Binary:    "binary",
	Timestamp: "timestamp",
}

func (t DataType) String() string {
	if t < 0 || t >= dataTypeMax {
		return fmt.Sprintf("DataType(%d)", int(t))
	}
	return dataTypeNames[t]
}

// ParseDataType returns the DataType with the given name.
func ParseDataType(name string) (DataType, error) {
	for i, n := range dataTypeNames {
		if strings.EqualFold(n, name) {
			return DataType(i), nil
		}
	}
	return Null, fmt.Errorf("vein: %w: %q", ErrUnsupportedType, name)
}

func (t DataType) valid() bool { return t >= 0 && t < dataTypeMax }

// IsSigned reports whether t is a signed integer type.
func (t DataType) IsSigned() bool { return t >= Int8 && t <= Int64 }

// IsUnsigned reports whether t is an unsigned integer type.
func (t DataType) IsUnsigned() bool { return t >= Uint8 && t <= Uint64 }

// IsInteger reports whether t is an integer type.
func (t DataType) IsInteger() bool { return t.IsSigned() || t.IsUnsigned() }

// IsFloat reports whether t is a floating point type.
func (t DataType) IsFloat() bool { return t == Float32 || t == Float64 }

// IsNumeric reports whether t is an integer or floating point type.
func (t DataType) IsNumeric() bool { return t.IsInteger() || t.IsFloat() }

// comparable reports whether values of a and b can be ordered against each other.
func comparableTypes(a, b DataType) bool {
	if a == Null || b == Null {
		return true
	}
	switch {
	case a.IsNumeric() && b.IsNumeric():
		return true
	case a == String || a == Binary:
		return b == String || b == Binary
	default:
		return a == b
	}
}

// -----------------------------------------------------------------------------
// Field and Schema
// -----------------------------------------------------------------------------

// Field is a named, typed column declaration.
type Field struct {
	Name     string
	Type     DataType
	Nullable bool
}

func (f Field) String() string {
	if f.Nullable {
		return f.Name + ": " + f.Type.String()
	}
	return f.Name + ": " + f.Type.String() + " not null"
}

// Schema is an ordered sequence of uniquely named fields.
//
// A Schema is immutable once constructed and is safely shared between
// concurrent scans.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a schema, rejecting empty or duplicate names and invalid types.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("vein: %w: field %d has an empty name", ErrSchemaViolation, i)
		}
		if !f.Type.valid() {
			return nil, newFieldError(ErrUnsupportedType, f.Name, f.Type.String())
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, newFieldError(ErrDuplicateField, f.Name, "declared more than once")
		}
		s.fields[i] = f
		s.index[f.Name] = i
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error. Intended for static schemas.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns a copy of the schema's fields in order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// NumFields returns the number of fields.
func (s *Schema) NumFields() int { return len(s.fields) }

// Field returns the i-th field.
func (s *Schema) Field(i int) Field { return s.fields[i] }

// FieldIndex returns the position of the named field, or -1.
func (s *Schema) FieldIndex(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// FieldByName returns the named field.
func (s *Schema) FieldByName(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// HasField reports whether the schema has a field with the given name.
func (s *Schema) HasField(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Names returns the field names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Equal reports whether both schemas have the same fields in the same order.
func (s *Schema) Equal(other *Schema) bool {
	if s == other {
		return true
	}
	if s == nil || other == nil || len(s.fields) != len(other.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

// IsSubsetOf reports whether every field of s exists in other with the same type.
func (s *Schema) IsSubsetOf(other *Schema) bool {
	for _, f := range s.fields {
		of, ok := other.FieldByName(f.Name)
		if !ok || of.Type != f.Type {
			return false
		}
	}
	return true
}

// Compatible reports whether one schema is a subset of the other.
func (s *Schema) Compatible(other *Schema) bool {
	return s.IsSubsetOf(other) || other.IsSubsetOf(s)
}

// Select returns a schema holding the named fields in the given order.
func (s *Schema) Select(names ...string) (*Schema, error) {
	fields := make([]Field, 0, len(names))
	for _, name := range names {
		f, ok := s.FieldByName(name)
		if !ok {
			return nil, newFieldError(ErrUnknownField, name, "not in schema "+s.String())
		}
		fields = append(fields, f)
	}
	return NewSchema(fields...)
}

func (s *Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// UnifySchemas merges schemas field by field in first-seen order.
// A field that appears with different types returns ErrSchemaConflict.
func UnifySchemas(schemas ...*Schema) (*Schema, error) {
	var fields []Field
	seen := make(map[string]int)
	for _, s := range schemas {
		if s == nil {
			continue
		}
		for _, f := range s.fields {
			i, ok := seen[f.Name]
			if !ok {
				seen[f.Name] = len(fields)
				fields = append(fields, f)
				continue
			}
			if fields[i].Type != f.Type {
				return nil, newFieldError(ErrSchemaConflict, f.Name,
					fmt.Sprintf("%s vs %s", fields[i].Type, f.Type))
			}
			fields[i].Nullable = fields[i].Nullable || f.Nullable
		}
	}
	return NewSchema(fields...)
}

// withPartitionFields appends partition fields to a physical schema. A
// partition field replaces a physical field of the same name, at the
// partition field's position.
func withPartitionFields(physical, partition *Schema) (*Schema, error) {
	if partition == nil || partition.NumFields() == 0 {
		return physical, nil
	}
	var fields []Field
	if physical != nil {
		for _, f := range physical.fields {
			if !partition.HasField(f.Name) {
				fields = append(fields, f)
			}
		}
	}
	fields = append(fields, partition.fields...)
	return NewSchema(fields...)
}
