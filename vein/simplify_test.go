package vein

import "testing"

func TestSimplify(t *testing.T) {
	part := func(v uint8) Expression { return Equal(Ref("part"), Lit(v)) }
	a := Ref("a")

	tests := []struct {
		name  string
		expr  Expression
		given Expression
		want  Expression // nil: unchanged
	}{
		// Pinned values.
		{"equal to pinned value", part(1), part(1), True()},
		{"equal to other value", part(1), part(2), False()},
		{"range against point", Greater(a, Lit(5)), Equal(a, Lit(3)), False()},
		{"literal on the left", Less(Lit(5), a), Equal(a, Lit(3)), False()},
		{"cross numeric types", Equal(Ref("part"), Lit(1)), part(1), True()},
		{"strings", Less(Ref("b"), Lit("m")), Equal(Ref("b"), Lit("k")), True()},

		// Ranges.
		{"implied lower bound", Greater(a, Lit(5)), GreaterEqual(a, Lit(10)), True()},
		{"disjoint upper bound", Greater(a, Lit(5)), LessEqual(a, Lit(5)), False()},
		{"disjoint lower bound", Less(a, Lit(5)), Greater(a, Lit(7)), False()},
		{"exclusive bound excludes value", Equal(a, Lit(3)), Greater(a, Lit(3)), False()},
		{"exclusive bound implies inequality", NotEqual(a, Lit(3)), Greater(a, Lit(3)), True()},
		{"interval inside", Less(a, Lit(20)), And(GreaterEqual(a, Lit(0)), Less(a, Lit(10))), True()},
		{"interval outside", GreaterEqual(a, Lit(10)), And(GreaterEqual(a, Lit(0)), Less(a, Lit(10))), False()},
		{"overlapping range undecided", Greater(a, Lit(5)), Greater(a, Lit(2)), nil},

		// Connectives keep the residual.
		{"and drops implied conjunct", And(part(1), Greater(a, Lit(5))), part(1), Greater(a, Lit(5))},
		{"or drops refuted disjunct", Or(part(2), Greater(a, Lit(5))), part(1), Greater(a, Lit(5))},
		{"and with refuted conjunct", And(Greater(a, Lit(5)), part(2)), part(1), False()},
		{"not of implied", Not(part(1)), part(1), False()},
		{"unrelated field", Equal(Ref("b"), Lit("x")), Equal(Ref("c"), Lit(1.0)), nil},
		{"incomparable assumption ignored", Equal(a, Lit(1)), Equal(Ref("b"), Lit("x")), nil},

		// Membership.
		{"in contains point", In(Ref("part"), 1, 2), part(2), True()},
		{"in misses point", In(Ref("part"), 3, 4), part(2), False()},
		{"in misses point with null", In(Ref("part"), 3, nil), part(2), nullLiteral()},
		{"assumed set narrows", part(1), In(Ref("part"), 2, 3), False()},
		{"excluded set refutes", part(1), Not(In(Ref("part"), 1, 2)), False()},
		{"excluded set refutes in", In(Ref("part"), 1, 2), Not(Or(part(1), part(2))), False()},

		// Nulls.
		{"null check under null", IsNull(Ref("b")), IsNull(Ref("b")), True()},
		{"comparison under null", Equal(Ref("b"), Lit("x")), IsNull(Ref("b")), nullLiteral()},
		{"null check under value", IsNull(Ref("part")), part(1), False()},
		{"valid under null", IsValid(Ref("part")), IsNull(Ref("part")), False()},
		{"negated equality", part(1), Not(part(1)), False()},
		{"compare with null literal", Equal(a, Lit(nil)), nil, nullLiteral()},

		// Constant folding without an assumption.
		{"literal comparison", Equal(Lit(1), Lit(1)), nil, True()},
		{"literal and", And(True(), Equal(Lit(1), Lit(2))), nil, False()},
		{"no assumption", Equal(a, Lit(1)), nil, nil},
		{"true assumption", Equal(a, Lit(1)), True(), nil},

		// Contradictory assumptions prove anything false.
		{"contradictory points", Equal(a, Lit(1)), And(part(1), part(2)), False()},
		{"contradictory null", Equal(a, Lit(1)), And(IsNull(Ref("part")), part(1)), False()},
		{"empty interval", Equal(a, Lit(1)), And(Greater(Ref("c"), Lit(2.0)), Less(Ref("c"), Lit(1.0))), False()},
		{"false assumption", Equal(a, Lit(1)), False(), False()},
		{"null assumption", Equal(a, Lit(1)), nullLiteral(), False()},

		// Disjunctive assumptions are split.
		{"split agrees true", GreaterEqual(Ref("part"), Lit(1)), Or(part(1), part(2)), True()},
		{"split agrees false", part(3), Or(part(1), part(2)), False()},
		{"split disagrees", part(1), Or(part(1), part(2)), nil},

		// Negated orderings do not narrow: NaN satisfies neither side.
		{"negated ordering", Less(Ref("c"), Lit(5.0)), Not(GreaterEqual(Ref("c"), Lit(5.0))), nil},
		{"negated ordering proves validity", IsNull(Ref("c")), Not(GreaterEqual(Ref("c"), Lit(5.0))), False()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.expr.Simplify(tt.given)
			want := tt.want
			if want == nil {
				want = tt.expr
			}
			if !got.Equals(want) {
				t.Errorf("(%s).Simplify(%v) = %s, want %s", tt.expr, tt.given, got, want)
			}
		})
	}
}

func TestSimplify_ResidualIsSameInstanceWhenUnchanged(t *testing.T) {
	e := And(Equal(Ref("a"), Lit(1)), Equal(Ref("b"), Lit("x")))
	if got := e.Simplify(Equal(Ref("c"), Lit(1.0))); got != e {
		t.Errorf("expected the receiver back, got %s", got)
	}
}

func TestSimplify_DeepDisjunctionsTerminate(t *testing.T) {
	// More disjunctions than the split budget: the result stays sound.
	var given []Expression
	for i := 0; i < 2*maxCaseSplits; i++ {
		given = append(given, Or(Equal(Ref("a"), Lit(i)), Equal(Ref("a"), Lit(i+1))))
	}
	e := Equal(Ref("a"), Lit(100))
	got := e.Simplify(And(given...))
	if !got.Equals(e) && !got.Equals(False()) {
		t.Errorf("unexpected result %s", got)
	}
}
