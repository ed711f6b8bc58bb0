package vein

import (
	"fmt"
	"math"
)

// RowEvaluator evaluates filters one row at a time with three-valued logic.
// Rows where the filter is false or null are dropped.
type RowEvaluator struct{}

// NewRowEvaluator returns the default Evaluator.
func NewRowEvaluator() *RowEvaluator { return &RowEvaluator{} }

// Evaluate implements Evaluator.
func (RowEvaluator) Evaluate(expr Expression, batch *RecordBatch) ([]bool, error) {
	if _, err := expr.Validate(batch.Schema()); err != nil {
		return nil, err
	}
	mask := make([]bool, batch.NumRows())
	if isTrueLiteral(expr) {
		for i := range mask {
			mask[i] = true
		}
		return mask, nil
	}
	for row := range mask {
		v, err := evalRow(expr, batch, row)
		if err != nil {
			return nil, err
		}
		b, ok := v.Value.(bool)
		mask[row] = ok && b
	}
	return mask, nil
}

// EvaluateRow evaluates expr against one row. The result is a boolean or
// null scalar for predicates.
func EvaluateRow(expr Expression, batch *RecordBatch, row int) (Scalar, error) {
	return evalRow(expr, batch, row)
}

func evalRow(e Expression, b *RecordBatch, row int) (Scalar, error) {
	switch x := e.(type) {
	case *FieldRef:
		i := b.Schema().FieldIndex(x.name)
		if i < 0 {
			return Scalar{}, newFieldError(ErrUnknownField, x.name, "not in batch")
		}
		return Scalar{Type: b.Schema().Field(i).Type, Value: b.columns[i][row]}, nil
	case *Literal:
		if x.err != nil {
			return Scalar{}, x.err
		}
		return x.value, nil
	case *Comparison:
		l, err := evalRow(x.left, b, row)
		if err != nil {
			return Scalar{}, err
		}
		r, err := evalRow(x.right, b, row)
		if err != nil {
			return Scalar{}, err
		}
		if l.IsNull() || r.IsNull() {
			return Scalar{Type: Bool}, nil
		}
		c, ok := compareScalars(l, r)
		if !ok {
			if isNaN(l) || isNaN(r) {
				return Scalar{Bool, x.op == OpNotEqual}, nil
			}
			return Scalar{}, fmt.Errorf("vein: %w: cannot compare %s with %s", ErrTypeMismatch, l.Type, r.Type)
		}
		return Scalar{Bool, x.op.holds(c)}, nil
	case *InExpr:
		if x.err != nil {
			return Scalar{}, x.err
		}
		v, err := evalRow(x.operand, b, row)
		if err != nil {
			return Scalar{}, err
		}
		if v.IsNull() {
			return Scalar{Type: Bool}, nil
		}
		hasNull := false
		for _, s := range x.set {
			if s.IsNull() {
				hasNull = true
				continue
			}
			if c, ok := compareScalars(v, s); ok && c == 0 {
				return Scalar{Bool, true}, nil
			}
		}
		if hasNull {
			return Scalar{Type: Bool}, nil
		}
		return Scalar{Bool, false}, nil
	case *IsNullExpr:
		v, err := evalRow(x.operand, b, row)
		if err != nil {
			return Scalar{}, err
		}
		return Scalar{Bool, v.IsNull()}, nil
	case *AndExpr:
		l, err := evalTruth(x.left, b, row)
		if err != nil {
			return Scalar{}, err
		}
		if l == triFalse {
			return Scalar{Bool, false}, nil
		}
		r, err := evalTruth(x.right, b, row)
		if err != nil {
			return Scalar{}, err
		}
		switch {
		case r == triFalse:
			return Scalar{Bool, false}, nil
		case l == triTrue && r == triTrue:
			return Scalar{Bool, true}, nil
		}
		return Scalar{Type: Bool}, nil
	case *OrExpr:
		l, err := evalTruth(x.left, b, row)
		if err != nil {
			return Scalar{}, err
		}
		if l == triTrue {
			return Scalar{Bool, true}, nil
		}
		r, err := evalTruth(x.right, b, row)
		if err != nil {
			return Scalar{}, err
		}
		switch {
		case r == triTrue:
			return Scalar{Bool, true}, nil
		case l == triFalse && r == triFalse:
			return Scalar{Bool, false}, nil
		}
		return Scalar{Type: Bool}, nil
	case *NotExpr:
		v, err := evalTruth(x.operand, b, row)
		if err != nil {
			return Scalar{}, err
		}
		switch v {
		case triTrue:
			return Scalar{Bool, false}, nil
		case triFalse:
			return Scalar{Bool, true}, nil
		}
		return Scalar{Type: Bool}, nil
	}
	return Scalar{}, fmt.Errorf("vein: unsupported expression %T", e)
}

func evalTruth(e Expression, b *RecordBatch, row int) (tri, error) {
	v, err := evalRow(e, b, row)
	if err != nil {
		return triNull, err
	}
	if v.IsNull() {
		return triNull, nil
	}
	t, ok := v.Value.(bool)
	if !ok {
		return triNull, fmt.Errorf("vein: %w: %s is not boolean", ErrTypeMismatch, e)
	}
	if t {
		return triTrue, nil
	}
	return triFalse, nil
}

func isNaN(s Scalar) bool {
	f, ok := s.Value.(float64)
	return ok && math.IsNaN(f)
}
