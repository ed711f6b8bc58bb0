package vein

import (
	"errors"
	"slices"
	"testing"
)

var exprSchema = MustSchema(
	Field{Name: "a", Type: Int32, Nullable: true},
	Field{Name: "b", Type: String, Nullable: true},
	Field{Name: "c", Type: Float64, Nullable: true},
	Field{Name: "flag", Type: Bool, Nullable: true},
	Field{Name: "part", Type: Uint8, Nullable: true},
)

func TestExpression_Validate(t *testing.T) {
	tests := []struct {
		name string
		expr Expression
		want error
	}{
		{"comparison", Equal(Ref("a"), Lit(1)), nil},
		{"numeric classes mix", Less(Ref("part"), Lit(2.5)), nil},
		{"literal on the left", Greater(Lit("x"), Ref("b")), nil},
		{"membership", In(Ref("b"), "x", "y", nil), nil},
		{"null check", Not(IsNull(Ref("c"))), nil},
		{"boolean field operand", And(Ref("flag"), Equal(Ref("a"), Lit(1))), nil},
		{"unknown field", Equal(Ref("z"), Lit(1)), ErrUnknownField},
		{"unknown field in null check", IsValid(Ref("z")), ErrUnknownField},
		{"string vs int", Equal(Ref("b"), Lit(1)), ErrTypeMismatch},
		{"membership mismatch", In(Ref("a"), "x"), ErrTypeMismatch},
		{"non-boolean operand", And(Ref("a"), True()), ErrTypeMismatch},
		{"unsupported literal", Equal(Ref("a"), Lit(struct{}{})), ErrUnsupportedType},
		{"unsupported set value", In(Ref("a"), 1, []int{2}), ErrUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.expr.Validate(exprSchema)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Validate(%s) failed: %v", tt.expr, err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate(%s): expected %v, got %v", tt.expr, tt.want, err)
			}
		})
	}
}

func TestExpression_EqualsIsStructural(t *testing.T) {
	a := And(Equal(Ref("a"), Lit(int32(1))), In(Ref("b"), "x", "y"))
	b := And(Equal(Ref("a"), Lit(int32(1))), In(Ref("b"), "x", "y"))
	if !a.Equals(b) {
		t.Errorf("%s should equal %s", a, b)
	}

	// Structural, not semantic.
	swapped := And(In(Ref("b"), "x", "y"), Equal(Ref("a"), Lit(int32(1))))
	if a.Equals(swapped) {
		t.Error("operand order must matter")
	}
	if Equal(Ref("a"), Lit(int32(1))).Equals(Equal(Ref("a"), Lit(int64(1)))) {
		t.Error("literal types must matter")
	}
	if IsNull(Ref("a")).Equals(Not(IsNull(Ref("a")))) {
		t.Error("negation must matter")
	}
}

func TestExpression_String(t *testing.T) {
	e := Or(And(GreaterEqual(Ref("a"), Lit(1)), IsValid(Ref("b"))), In(Ref("b"), "x", nil))
	want := `(((a >= 1) and not(is_null(b))) or (b in ["x", null]))`
	if got := e.String(); got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}

func TestAndOr_EmptyAndNil(t *testing.T) {
	if !And().Equals(True()) || !Or().Equals(False()) {
		t.Error("empty And/Or must be true/false")
	}
	x := Equal(Ref("a"), Lit(1))
	if And(nil, x, nil) != x {
		t.Error("nil operands must be skipped")
	}
}

func TestFieldNames(t *testing.T) {
	e := And(Or(Equal(Ref("b"), Lit("x")), Less(Lit(3), Ref("a"))), Not(IsNull(Ref("b"))), In(Ref("c"), 1.0))
	got := FieldNames(e)
	if want := []string{"b", "a", "c"}; !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestIsSatisfiable(t *testing.T) {
	tests := []struct {
		expr Expression
		want bool
	}{
		{True(), true},
		{False(), false},
		{nullLiteral(), false},
		{Equal(Ref("a"), Lit(1)), true},
		{And(Equal(Ref("a"), Lit(1)), False()), false},
		{Or(False(), nullLiteral()), false},
		{Or(False(), Equal(Ref("a"), Lit(1))), true},
		{Not(True()), true}, // not folded: conservatively satisfiable
	}
	for _, tt := range tests {
		if got := IsSatisfiable(tt.expr); got != tt.want {
			t.Errorf("IsSatisfiable(%s) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestPartitionValues(t *testing.T) {
	p := And(Equal(Ref("part"), Lit(uint8(1))), IsNull(Ref("b")), Equal(Lit(int32(5)), Ref("a")), Less(Ref("c"), Lit(1.0)))
	values := partitionValues(p)
	if len(values) != 3 {
		t.Fatalf("expected 3 pinned values, got %v", values)
	}
	if !values["part"].Equals(Scalar{Uint8, uint64(1)}) {
		t.Errorf("part = %v", values["part"])
	}
	if !values["b"].IsNull() {
		t.Errorf("b = %v", values["b"])
	}
	if !values["a"].Equals(Scalar{Int32, int64(5)}) {
		t.Errorf("a = %v", values["a"])
	}
}
