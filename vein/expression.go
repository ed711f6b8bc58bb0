package vein

import (
	"fmt"
	"strings"
)

// Expression is an immutable predicate tree.
//
// Expressions are shared by reference between sources, fragments and
// concurrent scans; no method mutates its receiver.
type Expression interface {
	fmt.Stringer

	// Equals reports structural equality.
	Equals(other Expression) bool

	// Simplify rewrites the expression assuming given holds for every row.
	// The result is a literal true when every row satisfies the expression,
	// a literal false or null when none can, and otherwise a residual
	// expression that still needs data to evaluate. A nil given is no
	// information.
	Simplify(given Expression) Expression

	// Validate checks field references and operand types against a schema
	// and returns the expression's result type.
	Validate(schema *Schema) (DataType, error)

	isExpression()
}

// CompareOp is a comparison operator.
type CompareOp int

// Comparison operators.
const (
	OpEqual CompareOp = iota
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
)

func (op CompareOp) String() string {
	switch op {
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	default:
		return fmt.Sprintf("CompareOp(%d)", int(op))
	}
}

// flip returns the operator with its operands swapped: a < b ⇔ b > a.
func (op CompareOp) flip() CompareOp {
	switch op {
	case OpLess:
		return OpGreater
	case OpLessEqual:
		return OpGreaterEqual
	case OpGreater:
		return OpLess
	case OpGreaterEqual:
		return OpLessEqual
	default:
		return op
	}
}

func (op CompareOp) holds(c int) bool {
	switch op {
	case OpEqual:
		return c == 0
	case OpNotEqual:
		return c != 0
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	default:
		return c >= 0
	}
}

// -----------------------------------------------------------------------------
// Leaves
// -----------------------------------------------------------------------------

// FieldRef references a column by name.
type FieldRef struct {
	name string
}

// Ref returns a reference to the named field.
func Ref(name string) Expression { return &FieldRef{name: name} }

// Name returns the referenced field name.
func (e *FieldRef) Name() string { return e.name }

func (e *FieldRef) String() string { return e.name }

func (e *FieldRef) Equals(other Expression) bool {
	o, ok := other.(*FieldRef)
	return ok && o.name == e.name
}

func (e *FieldRef) Simplify(given Expression) Expression { return simplify(e, given) }

func (e *FieldRef) Validate(schema *Schema) (DataType, error) {
	f, ok := schema.FieldByName(e.name)
	if !ok {
		return Null, newFieldError(ErrUnknownField, e.name, "not in schema "+schema.String())
	}
	return f.Type, nil
}

func (*FieldRef) isExpression() {}

// Literal is a constant scalar.
type Literal struct {
	value Scalar
	err   error
}

// Lit returns a literal for a Go value or Scalar. Unsupported Go types are
// reported by Validate.
func Lit(v any) Expression {
	s, err := NewScalar(v)
	return &Literal{value: s, err: err}
}

// True returns the literal true.
func True() Expression { return &Literal{value: Scalar{Bool, true}} }

// False returns the literal false.
func False() Expression { return &Literal{value: Scalar{Bool, false}} }

// nullLiteral is the boolean null produced by comparisons against null.
func nullLiteral() Expression { return &Literal{value: Scalar{Type: Bool}} }

// Value returns the literal's scalar.
func (e *Literal) Value() Scalar { return e.value }

func (e *Literal) String() string {
	if e.err != nil {
		return "<invalid literal>"
	}
	return e.value.String()
}

func (e *Literal) Equals(other Expression) bool {
	o, ok := other.(*Literal)
	if !ok || (e.err != nil) != (o.err != nil) {
		return false
	}
	return e.value.Equals(o.value)
}

func (e *Literal) Simplify(Expression) Expression { return e }

func (e *Literal) Validate(*Schema) (DataType, error) {
	if e.err != nil {
		return Null, e.err
	}
	return e.value.Type, nil
}

func (*Literal) isExpression() {}

// -----------------------------------------------------------------------------
// Predicates
// -----------------------------------------------------------------------------

// Comparison compares two operands.
type Comparison struct {
	op          CompareOp
	left, right Expression
}

// Compare builds a comparison with an explicit operator.
func Compare(op CompareOp, left, right Expression) Expression {
	return &Comparison{op: op, left: left, right: right}
}

// Equal builds left == right.
func Equal(left, right Expression) Expression { return Compare(OpEqual, left, right) }

// NotEqual builds left != right.
func NotEqual(left, right Expression) Expression { return Compare(OpNotEqual, left, right) }

// Less builds left < right.
func Less(left, right Expression) Expression { return Compare(OpLess, left, right) }

// LessEqual builds left <= right.
func LessEqual(left, right Expression) Expression { return Compare(OpLessEqual, left, right) }

// Greater builds left > right.
func Greater(left, right Expression) Expression { return Compare(OpGreater, left, right) }

// GreaterEqual builds left >= right.
func GreaterEqual(left, right Expression) Expression { return Compare(OpGreaterEqual, left, right) }

// Op returns the comparison operator.
func (e *Comparison) Op() CompareOp { return e.op }

// Left returns the left operand.
func (e *Comparison) Left() Expression { return e.left }

// Right returns the right operand.
func (e *Comparison) Right() Expression { return e.right }

func (e *Comparison) String() string {
	return "(" + e.left.String() + " " + e.op.String() + " " + e.right.String() + ")"
}

func (e *Comparison) Equals(other Expression) bool {
	o, ok := other.(*Comparison)
	return ok && o.op == e.op && e.left.Equals(o.left) && e.right.Equals(o.right)
}

func (e *Comparison) Simplify(given Expression) Expression { return simplify(e, given) }

func (e *Comparison) Validate(schema *Schema) (DataType, error) {
	lt, err := e.left.Validate(schema)
	if err != nil {
		return Null, err
	}
	rt, err := e.right.Validate(schema)
	if err != nil {
		return Null, err
	}
	if !comparableTypes(lt, rt) {
		return Null, fmt.Errorf("vein: %w: %s compares %s with %s", ErrTypeMismatch, e, lt, rt)
	}
	return Bool, nil
}

func (*Comparison) isExpression() {}

// InExpr tests membership of an operand in a set of values.
type InExpr struct {
	operand Expression
	set     []Scalar
	err     error
}

// In builds operand IN (values...). Values may be Go values or Scalars.
func In(operand Expression, values ...any) Expression {
	e := &InExpr{operand: operand, set: make([]Scalar, 0, len(values))}
	for _, v := range values {
		s, err := NewScalar(v)
		if err != nil && e.err == nil {
			e.err = err
		}
		e.set = append(e.set, s)
	}
	return e
}

// Operand returns the tested operand.
func (e *InExpr) Operand() Expression { return e.operand }

// Values returns a copy of the value set.
func (e *InExpr) Values() []Scalar {
	out := make([]Scalar, len(e.set))
	copy(out, e.set)
	return out
}

func (e *InExpr) String() string {
	parts := make([]string, len(e.set))
	for i, s := range e.set {
		parts[i] = s.String()
	}
	return "(" + e.operand.String() + " in [" + strings.Join(parts, ", ") + "])"
}

func (e *InExpr) Equals(other Expression) bool {
	o, ok := other.(*InExpr)
	if !ok || len(o.set) != len(e.set) || !e.operand.Equals(o.operand) {
		return false
	}
	for i := range e.set {
		if !e.set[i].Equals(o.set[i]) {
			return false
		}
	}
	return true
}

func (e *InExpr) Simplify(given Expression) Expression { return simplify(e, given) }

func (e *InExpr) Validate(schema *Schema) (DataType, error) {
	if e.err != nil {
		return Null, e.err
	}
	t, err := e.operand.Validate(schema)
	if err != nil {
		return Null, err
	}
	for _, s := range e.set {
		if !comparableTypes(t, s.Type) {
			return Null, fmt.Errorf("vein: %w: %s tests %s against %s", ErrTypeMismatch, e, t, s.Type)
		}
	}
	return Bool, nil
}

func (*InExpr) isExpression() {}

// IsNullExpr tests whether its operand is null.
type IsNullExpr struct {
	operand Expression
}

// IsNull builds is_null(operand).
func IsNull(operand Expression) Expression { return &IsNullExpr{operand: operand} }

// IsValid builds not(is_null(operand)).
func IsValid(operand Expression) Expression { return Not(IsNull(operand)) }

// Operand returns the tested operand.
func (e *IsNullExpr) Operand() Expression { return e.operand }

func (e *IsNullExpr) String() string { return "is_null(" + e.operand.String() + ")" }

func (e *IsNullExpr) Equals(other Expression) bool {
	o, ok := other.(*IsNullExpr)
	return ok && e.operand.Equals(o.operand)
}

func (e *IsNullExpr) Simplify(given Expression) Expression { return simplify(e, given) }

func (e *IsNullExpr) Validate(schema *Schema) (DataType, error) {
	if _, err := e.operand.Validate(schema); err != nil {
		return Null, err
	}
	return Bool, nil
}

func (*IsNullExpr) isExpression() {}

// -----------------------------------------------------------------------------
// Logical connectives
// -----------------------------------------------------------------------------

// AndExpr is the conjunction of two expressions.
type AndExpr struct {
	left, right Expression
}

// And conjoins expressions left to right. No operands yields true.
func And(exprs ...Expression) Expression {
	var out Expression
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = &AndExpr{left: out, right: e}
	}
	if out == nil {
		return True()
	}
	return out
}

// Left returns the left operand.
func (e *AndExpr) Left() Expression { return e.left }

// Right returns the right operand.
func (e *AndExpr) Right() Expression { return e.right }

func (e *AndExpr) String() string { return "(" + e.left.String() + " and " + e.right.String() + ")" }

func (e *AndExpr) Equals(other Expression) bool {
	o, ok := other.(*AndExpr)
	return ok && e.left.Equals(o.left) && e.right.Equals(o.right)
}

func (e *AndExpr) Simplify(given Expression) Expression { return simplify(e, given) }

func (e *AndExpr) Validate(schema *Schema) (DataType, error) {
	return validateBoolean(schema, e, e.left, e.right)
}

func (*AndExpr) isExpression() {}

// OrExpr is the disjunction of two expressions.
type OrExpr struct {
	left, right Expression
}

// Or disjoins expressions left to right. No operands yields false.
func Or(exprs ...Expression) Expression {
	var out Expression
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = &OrExpr{left: out, right: e}
	}
	if out == nil {
		return False()
	}
	return out
}

// Left returns the left operand.
func (e *OrExpr) Left() Expression { return e.left }

// Right returns the right operand.
func (e *OrExpr) Right() Expression { return e.right }

func (e *OrExpr) String() string { return "(" + e.left.String() + " or " + e.right.String() + ")" }

func (e *OrExpr) Equals(other Expression) bool {
	o, ok := other.(*OrExpr)
	return ok && e.left.Equals(o.left) && e.right.Equals(o.right)
}

func (e *OrExpr) Simplify(given Expression) Expression { return simplify(e, given) }

func (e *OrExpr) Validate(schema *Schema) (DataType, error) {
	return validateBoolean(schema, e, e.left, e.right)
}

func (*OrExpr) isExpression() {}

// NotExpr negates its operand.
type NotExpr struct {
	operand Expression
}

// Not builds not(operand).
func Not(operand Expression) Expression { return &NotExpr{operand: operand} }

// Operand returns the negated operand.
func (e *NotExpr) Operand() Expression { return e.operand }

func (e *NotExpr) String() string { return "not(" + e.operand.String() + ")" }

func (e *NotExpr) Equals(other Expression) bool {
	o, ok := other.(*NotExpr)
	return ok && e.operand.Equals(o.operand)
}

func (e *NotExpr) Simplify(given Expression) Expression { return simplify(e, given) }

func (e *NotExpr) Validate(schema *Schema) (DataType, error) {
	return validateBoolean(schema, e, e.operand)
}

func (*NotExpr) isExpression() {}

func validateBoolean(schema *Schema, self Expression, operands ...Expression) (DataType, error) {
	for _, op := range operands {
		t, err := op.Validate(schema)
		if err != nil {
			return Null, err
		}
		if t != Bool && t != Null {
			return Null, fmt.Errorf("vein: %w: %s has non-boolean operand %s of type %s", ErrTypeMismatch, self, op, t)
		}
	}
	return Bool, nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// FieldNames returns the distinct field names referenced by e, in order of
// first appearance.
func FieldNames(e Expression) []string {
	var names []string
	seen := make(map[string]bool)
	stack := []Expression{e}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch x := cur.(type) {
		case *FieldRef:
			if !seen[x.name] {
				seen[x.name] = true
				names = append(names, x.name)
			}
		case *Comparison:
			stack = append(stack, x.right, x.left)
		case *InExpr:
			stack = append(stack, x.operand)
		case *IsNullExpr:
			stack = append(stack, x.operand)
		case *AndExpr:
			stack = append(stack, x.right, x.left)
		case *OrExpr:
			stack = append(stack, x.right, x.left)
		case *NotExpr:
			stack = append(stack, x.operand)
		}
	}
	return names
}

// IsSatisfiable reports whether some row could satisfy e. It is false only
// when e provably never evaluates to true.
func IsSatisfiable(e Expression) bool {
	return !neverTrue(e)
}

func neverTrue(e Expression) bool {
	switch x := e.(type) {
	case *Literal:
		v, isBool := x.value.Value.(bool)
		return x.value.IsNull() || (isBool && !v)
	case *AndExpr:
		return neverTrue(x.left) || neverTrue(x.right)
	case *OrExpr:
		return neverTrue(x.left) && neverTrue(x.right)
	}
	return false
}

// isTrueLiteral reports whether e is the literal true.
func isTrueLiteral(e Expression) bool {
	if l, ok := e.(*Literal); ok {
		v, isBool := l.value.Value.(bool)
		return isBool && v
	}
	return false
}

// partitionValues extracts field values pinned by equality or null checks in
// the conjuncts of a partition expression.
func partitionValues(e Expression) map[string]Scalar {
	if e == nil {
		return nil
	}
	values := make(map[string]Scalar)
	for _, c := range conjuncts(e) {
		switch x := c.(type) {
		case *Comparison:
			if name, op, v, ok := fieldComparison(x); ok && op == OpEqual {
				values[name] = v
			}
		case *IsNullExpr:
			if ref, ok := x.operand.(*FieldRef); ok {
				values[ref.name] = NullScalar()
			}
		}
	}
	return values
}

// conjuncts flattens nested ANDs into a list.
func conjuncts(e Expression) []Expression {
	var out []Expression
	stack := []Expression{e}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if a, ok := cur.(*AndExpr); ok {
			stack = append(stack, a.right, a.left)
			continue
		}
		out = append(out, cur)
	}
	return out
}

// fieldComparison normalises "field op literal" and "literal op field".
func fieldComparison(c *Comparison) (name string, op CompareOp, value Scalar, ok bool) {
	if ref, isRef := c.left.(*FieldRef); isRef {
		if lit, isLit := c.right.(*Literal); isLit && lit.err == nil {
			return ref.name, c.op, lit.value, true
		}
	}
	if ref, isRef := c.right.(*FieldRef); isRef {
		if lit, isLit := c.left.(*Literal); isLit && lit.err == nil {
			return ref.name, c.op.flip(), lit.value, true
		}
	}
	return "", 0, Scalar{}, false
}
