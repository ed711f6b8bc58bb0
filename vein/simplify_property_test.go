package vein

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// -----------------------------------------------------------------------------
// Generated expressions over nullable integer, float and string fields
// -----------------------------------------------------------------------------

var propSchema = MustSchema(
	Field{Name: "x", Type: Int32, Nullable: true},
	Field{Name: "y", Type: Float64, Nullable: true},
	Field{Name: "s", Type: String, Nullable: true},
)

// propLiterals are the literal values generated for each field, indexed by a
// generated code. Each table mixes Go types of one comparable class.
var propLiterals = map[string][]any{
	"x": {nil, 0, 1, 2, 3, 4, int64(2), uint8(3), 2.5, -1.0},
	"y": {nil, -1.5, 0.0, 1.0, 2.5, math.NaN(), math.Inf(1), int64(1), uint8(0), math.Inf(-1)},
	"s": {nil, "", "a", "b", "c", "ab", "bb", "A", "a\x00", "zz"},
}

const propCodes = 10

// propBatch holds every combination of the row domains of x, y and s.
func propBatch(t *testing.T) *RecordBatch {
	t.Helper()
	xDomain := []any{nil, 0, 1, 2, 3, 4}
	yDomain := []any{nil, -1.5, 0.0, 1.0, 2.5, math.NaN(), math.Inf(1)}
	sDomain := []any{nil, "", "a", "b", "c"}
	var xs, ys, ss []any
	for _, x := range xDomain {
		for _, y := range yDomain {
			for _, s := range sDomain {
				xs = append(xs, x)
				ys = append(ys, y)
				ss = append(ss, s)
			}
		}
	}
	b, err := NewRecordBatch(propSchema, xs, ys, ss)
	if err != nil {
		t.Fatalf("NewRecordBatch: %v", err)
	}
	return b
}

func genField() gopter.Gen {
	return gen.OneConstOf("x", "y", "s")
}

func genComparison() gopter.Gen {
	return gopter.CombineGens(
		genField(),
		gen.IntRange(int(OpEqual), int(OpGreaterEqual)),
		gen.Bool(),
		gen.IntRange(0, propCodes-1),
	).Map(func(v []interface{}) Expression {
		field, op, flip := v[0].(string), CompareOp(v[1].(int)), v[2].(bool)
		lit := Lit(propLiterals[field][v[3].(int)])
		if flip {
			return Compare(op, lit, Ref(field))
		}
		return Compare(op, Ref(field), lit)
	})
}

func genIn() gopter.Gen {
	return gopter.CombineGens(
		genField(),
		gen.SliceOfN(3, gen.IntRange(0, propCodes-1)),
		gen.IntRange(1, 3),
	).Map(func(v []interface{}) Expression {
		field, codes, n := v[0].(string), v[1].([]int), v[2].(int)
		values := make([]any, n)
		for i := range values {
			values[i] = propLiterals[field][codes[i]]
		}
		return In(Ref(field), values...)
	})
}

func genNullCheck() gopter.Gen {
	return gopter.CombineGens(genField(), gen.Bool()).Map(func(v []interface{}) Expression {
		if v[1].(bool) {
			return IsNull(Ref(v[0].(string)))
		}
		return IsValid(Ref(v[0].(string)))
	})
}

func genConstant() gopter.Gen {
	return gen.Bool().Map(func(b bool) Expression {
		if b {
			return True()
		}
		return False()
	})
}

func genLeaf() gopter.Gen {
	cmp := genComparison()
	return gen.OneGenOf(cmp, cmp, cmp, genIn(), genNullCheck(), genConstant())
}

// genExpr builds expressions nested at most depth connectives deep.
func genExpr(depth int) gopter.Gen {
	leaf := genLeaf()
	if depth == 0 {
		return leaf
	}
	sub := genExpr(depth - 1)
	pair := gopter.CombineGens(sub, sub)
	return gen.OneGenOf(
		leaf,
		pair.Map(func(v []interface{}) Expression { return And(v[0].(Expression), v[1].(Expression)) }),
		pair.Map(func(v []interface{}) Expression { return Or(v[0].(Expression), v[1].(Expression)) }),
		sub.Map(func(e Expression) Expression { return Not(e) }),
	)
}

func truthOf(t *testing.T, e Expression, b *RecordBatch, row int) tri {
	t.Helper()
	v, err := EvaluateRow(e, b, row)
	if err != nil {
		t.Fatalf("EvaluateRow(%s): %v", e, err)
	}
	if v.IsNull() {
		return triNull
	}
	if v.Value.(bool) {
		return triTrue
	}
	return triFalse
}

// -----------------------------------------------------------------------------
// Properties
// -----------------------------------------------------------------------------

func TestSimplify_PreservesMeaningUnderAssumption(t *testing.T) {
	batch := propBatch(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("simplified filter agrees on rows satisfying the assumption", prop.ForAll(
		func(filter, given Expression) bool {
			simplified := filter.Simplify(given)
			for row := 0; row < batch.NumRows(); row++ {
				if truthOf(t, given, batch, row) != triTrue {
					continue
				}
				want := truthOf(t, filter, batch, row)
				if got := truthOf(t, simplified, batch, row); got != want {
					t.Logf("row %v: (%s).Simplify(%s) = %s", batch.Row(row), filter, given, simplified)
					return false
				}
			}
			return true
		},
		genExpr(3),
		genExpr(2),
	))

	properties.Property("simplification never prunes a matching row", prop.ForAll(
		func(filter, given Expression) bool {
			if IsSatisfiable(filter.Simplify(given)) {
				return true
			}
			for row := 0; row < batch.NumRows(); row++ {
				if truthOf(t, given, batch, row) == triTrue && truthOf(t, filter, batch, row) == triTrue {
					t.Logf("row %v: %s pruned under %s", batch.Row(row), filter, given)
					return false
				}
			}
			return true
		},
		genExpr(3),
		genExpr(2),
	))

	properties.TestingRun(t)
}

func TestSimplify_WithoutAssumptionIsEquivalent(t *testing.T) {
	batch := propBatch(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("folding constants keeps every row's value", prop.ForAll(
		func(filter Expression) bool {
			simplified := filter.Simplify(nil)
			for row := 0; row < batch.NumRows(); row++ {
				if truthOf(t, filter, batch, row) != truthOf(t, simplified, batch, row) {
					t.Logf("row %v: %s folded to %s", batch.Row(row), filter, simplified)
					return false
				}
			}
			return true
		},
		genExpr(4),
	))

	properties.TestingRun(t)
}
