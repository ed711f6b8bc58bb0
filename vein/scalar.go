package vein

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Scalar is a single typed value. A nil Value is null.
//
// Values are stored normalised: bool, int64 (signed integers), uint64
// (unsigned integers), float64 (floats), string, []byte, and time.Time.
type Scalar struct {
	Type  DataType
	Value any
}

// NullScalar returns an untyped null.
func NullScalar() Scalar { return Scalar{Type: Null} }

// IsNull reports whether the scalar holds no value.
func (s Scalar) IsNull() bool { return s.Value == nil }

func (s Scalar) String() string {
	switch v := s.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case []byte:
		return fmt.Sprintf("0x%x", v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Equals reports structural equality: same type and same value.
func (s Scalar) Equals(o Scalar) bool {
	if s.Type != o.Type {
		return false
	}
	if s.IsNull() || o.IsNull() {
		return s.IsNull() && o.IsNull()
	}
	c, ok := compareScalars(s, o)
	return ok && c == 0
}

// NewScalar infers a scalar from a Go value.
func NewScalar(v any) (Scalar, error) {
	switch x := v.(type) {
	case nil:
		return NullScalar(), nil
	case Scalar:
		return x, nil
	case bool:
		return Scalar{Bool, x}, nil
	case int:
		return Scalar{Int64, int64(x)}, nil
	case int8:
		return Scalar{Int8, int64(x)}, nil
	case int16:
		return Scalar{Int16, int64(x)}, nil
	case int32:
		return Scalar{Int32, int64(x)}, nil
	case int64:
		return Scalar{Int64, x}, nil
	case uint:
		return Scalar{Uint64, uint64(x)}, nil
	case uint8:
		return Scalar{Uint8, uint64(x)}, nil
	case uint16:
		return Scalar{Uint16, uint64(x)}, nil
	case uint32:
		return Scalar{Uint32, uint64(x)}, nil
	case uint64:
		return Scalar{Uint64, x}, nil
	case float32:
		return Scalar{Float32, float64(x)}, nil
	case float64:
		return Scalar{Float64, x}, nil
	case string:
		return Scalar{String, x}, nil
	case []byte:
		return Scalar{Binary, x}, nil
	case time.Time:
		return Scalar{Timestamp, x.UTC()}, nil
	default:
		return Scalar{}, fmt.Errorf("vein: %w: %T", ErrUnsupportedType, v)
	}
}

// normalizeValue converts a Go value into the normalised representation for t.
func normalizeValue(t DataType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, err := NewScalar(v)
	if err != nil {
		return nil, err
	}
	if s.IsNull() {
		return nil, nil
	}
	c, err := CastScalar(s, t)
	if err != nil {
		return nil, err
	}
	return c.Value, nil
}

// CastScalar converts s to type t. Integer narrowing checks range; numeric to
// string and string to numeric conversions are not performed implicitly.
func CastScalar(s Scalar, t DataType) (Scalar, error) {
	if s.IsNull() {
		return Scalar{Type: t}, nil
	}
	if s.Type == t {
		return s, nil
	}
	fail := func() (Scalar, error) {
		return Scalar{}, fmt.Errorf("vein: %w: cannot cast %s %s to %s", ErrTypeMismatch, s.Type, s, t)
	}
	switch {
	case t.IsSigned():
		var i int64
		switch v := s.Value.(type) {
		case int64:
			i = v
		case uint64:
			if v > math.MaxInt64 {
				return fail()
			}
			i = int64(v)
		case float64:
			if math.Trunc(v) != v || v < math.MinInt64 || v >= math.MaxInt64 {
				return fail()
			}
			i = int64(v)
		default:
			return fail()
		}
		lo, hi := signedRange(t)
		if i < lo || i > hi {
			return fail()
		}
		return Scalar{t, i}, nil
	case t.IsUnsigned():
		var u uint64
		switch v := s.Value.(type) {
		case int64:
			if v < 0 {
				return fail()
			}
			u = uint64(v)
		case uint64:
			u = v
		case float64:
			if math.Trunc(v) != v || v < 0 || v >= math.MaxUint64 {
				return fail()
			}
			u = uint64(v)
		default:
			return fail()
		}
		if u > unsignedMax(t) {
			return fail()
		}
		return Scalar{t, u}, nil
	case t.IsFloat():
		switch v := s.Value.(type) {
		case int64:
			return Scalar{t, float64(v)}, nil
		case uint64:
			return Scalar{t, float64(v)}, nil
		case float64:
			return Scalar{t, v}, nil
		}
		return fail()
	case t == String:
		if b, ok := s.Value.([]byte); ok {
			return Scalar{String, string(b)}, nil
		}
		return fail()
	case t == Binary:
		if str, ok := s.Value.(string); ok {
			return Scalar{Binary, []byte(str)}, nil
		}
		return fail()
	case t == Timestamp:
		if i, ok := s.Value.(int64); ok {
			return Scalar{Timestamp, time.Unix(0, i).UTC()}, nil
		}
		return fail()
	}
	return fail()
}

// ParseScalar parses the textual form of a value of type t, as found in
// partition directory names.
func ParseScalar(text string, t DataType) (Scalar, error) {
	fail := func(err error) (Scalar, error) {
		return Scalar{}, fmt.Errorf("vein: %w: %q is not a valid %s: %v", ErrInvalidPartition, text, t, err)
	}
	switch {
	case t == Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return fail(err)
		}
		return Scalar{Bool, b}, nil
	case t.IsSigned():
		lo, hi := signedRange(t)
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return fail(err)
		}
		if i < lo || i > hi {
			return fail(strconv.ErrRange)
		}
		return Scalar{t, i}, nil
	case t.IsUnsigned():
		u, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return fail(err)
		}
		if u > unsignedMax(t) {
			return fail(strconv.ErrRange)
		}
		return Scalar{t, u}, nil
	case t.IsFloat():
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fail(err)
		}
		return Scalar{t, f}, nil
	case t == String:
		return Scalar{String, text}, nil
	case t == Binary:
		return Scalar{Binary, []byte(text)}, nil
	case t == Timestamp:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, text); err == nil {
				return Scalar{Timestamp, ts.UTC()}, nil
			}
		}
		return fail(fmt.Errorf("unrecognised timestamp layout"))
	}
	return fail(ErrUnsupportedType)
}

// formatScalar renders a scalar the way ParseScalar reads it back.
func formatScalar(s Scalar) string {
	switch v := s.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format("2006-01-02")
		}
		return v.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func signedRange(t DataType) (int64, int64) {
	switch t {
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Int32:
		return math.MinInt32, math.MaxInt32
	default:
		return math.MinInt64, math.MaxInt64
	}
}

func unsignedMax(t DataType) uint64 {
	switch t {
	case Uint8:
		return math.MaxUint8
	case Uint16:
		return math.MaxUint16
	case Uint32:
		return math.MaxUint32
	default:
		return math.MaxUint64
	}
}

// compareScalars orders two non-null scalars. ok is false when the values are
// not comparable (different type classes, NaN, or a null operand).
func compareScalars(a, b Scalar) (c int, ok bool) {
	if a.IsNull() || b.IsNull() {
		return 0, false
	}
	switch x := a.Value.(type) {
	case int64:
		switch y := b.Value.(type) {
		case int64:
			return cmpOrdered(x, y), true
		case uint64:
			if x < 0 {
				return -1, true
			}
			return cmpOrdered(uint64(x), y), true
		case float64:
			return cmpFloat(float64(x), y)
		}
	case uint64:
		switch y := b.Value.(type) {
		case int64:
			if y < 0 {
				return 1, true
			}
			return cmpOrdered(x, uint64(y)), true
		case uint64:
			return cmpOrdered(x, y), true
		case float64:
			return cmpFloat(float64(x), y)
		}
	case float64:
		switch y := b.Value.(type) {
		case int64:
			return cmpFloat(x, float64(y))
		case uint64:
			return cmpFloat(x, float64(y))
		case float64:
			return cmpFloat(x, y)
		}
	case string:
		switch y := b.Value.(type) {
		case string:
			return cmpOrdered(x, y), true
		case []byte:
			return bytes.Compare([]byte(x), y), true
		}
	case []byte:
		switch y := b.Value.(type) {
		case []byte:
			return bytes.Compare(x, y), true
		case string:
			return bytes.Compare(x, []byte(y)), true
		}
	case bool:
		if y, isBool := b.Value.(bool); isBool {
			switch {
			case x == y:
				return 0, true
			case !x:
				return -1, true
			default:
				return 1, true
			}
		}
	case time.Time:
		if y, isTime := b.Value.(time.Time); isTime {
			return x.Compare(y), true
		}
	}
	return 0, false
}

type ordered interface {
	~int64 | ~uint64 | ~string
}

func cmpOrdered[T ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) (int, bool) {
	if math.IsNaN(a) || math.IsNaN(b) {
		return 0, false
	}
	switch {
	case a < b:
		return -1, true
	case a > b:
		return 1, true
	default:
		return 0, true
	}
}
