package vein

// Simplification folds an expression against facts known to hold for every
// row. Results follow three-valued logic: a comparison against null is null,
// false AND null is false, true OR null is true. When a fact cannot be used
// (incomparable types, unsupported shapes) it is ignored, which only costs
// precision.

// maxCaseSplits bounds how many disjunctions in an assumption are split.
const maxCaseSplits = 6

func simplify(e, given Expression) Expression {
	if given == nil {
		return newFacts().fold(e)
	}
	return simplifyUnder(e, given, maxCaseSplits)
}

func simplifyUnder(e, given Expression, budget int) Expression {
	cs := assumptionConjuncts(given)
	f := newFacts()
	split := -1
	for i, c := range cs {
		if f.assume(c) {
			continue
		}
		if _, ok := c.(*OrExpr); ok && split < 0 {
			split = i
		}
	}
	f.finish()
	out := f.apply(e)
	if split < 0 || budget <= 0 {
		return out
	}
	if _, ok := out.(*Literal); ok {
		return out
	}

	// Case split: if both branches agree, so does the disjunction.
	d := cs[split].(*OrExpr)
	branch := func(alt Expression) Expression {
		next := make([]Expression, 0, len(cs))
		next = append(next, cs[:split]...)
		next = append(next, alt)
		next = append(next, cs[split+1:]...)
		return simplifyUnder(out, And(next...), budget-1)
	}
	l := branch(d.left)
	r := branch(d.right)
	if l.Equals(r) {
		return l
	}
	return out
}

// assumptionConjuncts flattens an assumption into conjuncts, pushing
// negations through AND and OR.
func assumptionConjuncts(given Expression) []Expression {
	var out []Expression
	stack := []Expression{given}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch x := cur.(type) {
		case *AndExpr:
			stack = append(stack, x.right, x.left)
		case *NotExpr:
			switch y := x.operand.(type) {
			case *OrExpr:
				stack = append(stack, Not(y.right), Not(y.left))
			case *NotExpr:
				stack = append(stack, y.operand)
			case *AndExpr:
				out = append(out, Or(Not(y.left), Not(y.right)))
			default:
				out = append(out, cur)
			}
		default:
			out = append(out, cur)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Facts
// -----------------------------------------------------------------------------

type bound struct {
	value     Scalar
	inclusive bool
}

// domain is the set of values a field may take given the assumed facts.
type domain struct {
	lower, upper *bound
	points       []Scalar
	hasPoints    bool
	excluded     []Scalar
	nonNull      bool
	nullOnly     bool
	empty        bool
}

type facts struct {
	fields        map[string]*domain
	contradiction bool
}

func newFacts() *facts {
	return &facts{fields: make(map[string]*domain)}
}

func (f *facts) domain(name string) *domain {
	d, ok := f.fields[name]
	if !ok {
		d = &domain{}
		f.fields[name] = d
	}
	return d
}

// assume records c as true for every row. It returns false if c has a shape
// that carries no usable facts.
func (f *facts) assume(c Expression) bool {
	switch x := c.(type) {
	case *Literal:
		if isTrueLiteral(x) {
			return true
		}
		if neverTrue(x) {
			f.contradiction = true
			return true
		}
		return false
	case *Comparison:
		name, op, v, ok := fieldComparison(x)
		if !ok {
			return false
		}
		if v.IsNull() {
			f.contradiction = true
			return true
		}
		f.domain(name).restrict(op, v)
		return true
	case *InExpr:
		ref, ok := x.operand.(*FieldRef)
		if !ok || x.err != nil {
			return false
		}
		d := f.domain(ref.name)
		d.nonNull = true
		d.intersect(x.set)
		return true
	case *IsNullExpr:
		ref, ok := x.operand.(*FieldRef)
		if !ok {
			return false
		}
		f.domain(ref.name).nullOnly = true
		return true
	case *NotExpr:
		return f.assumeNot(x.operand)
	}
	return false
}

func (f *facts) assumeNot(operand Expression) bool {
	switch y := operand.(type) {
	case *Literal:
		if y.err != nil {
			return false
		}
		if v, ok := y.value.Value.(bool); ok && !v {
			return true
		}
		f.contradiction = true
		return true
	case *IsNullExpr:
		ref, ok := y.operand.(*FieldRef)
		if !ok {
			return false
		}
		f.domain(ref.name).nonNull = true
		return true
	case *Comparison:
		name, op, v, ok := fieldComparison(y)
		if !ok {
			return false
		}
		if v.IsNull() {
			f.contradiction = true
			return true
		}
		d := f.domain(name)
		d.nonNull = true
		switch op {
		case OpEqual:
			d.excluded = append(d.excluded, v)
		case OpNotEqual:
			d.intersect([]Scalar{v})
		}
		// Negated orderings are not narrowed: NaN satisfies neither side.
		return true
	case *InExpr:
		ref, ok := y.operand.(*FieldRef)
		if !ok || y.err != nil {
			return false
		}
		for _, s := range y.set {
			if s.IsNull() {
				// x IN (..., null) is never false, so its negation never holds.
				f.contradiction = true
				return true
			}
		}
		d := f.domain(ref.name)
		d.nonNull = true
		d.excluded = append(d.excluded, y.set...)
		return true
	}
	return false
}

func (f *facts) finish() {
	for _, d := range f.fields {
		d.normalize()
		if d.empty {
			f.contradiction = true
		}
	}
}

func (d *domain) restrict(op CompareOp, v Scalar) {
	d.nonNull = true
	switch op {
	case OpEqual:
		d.intersect([]Scalar{v})
	case OpNotEqual:
		d.excluded = append(d.excluded, v)
	case OpLess:
		d.tightenUpper(v, false)
	case OpLessEqual:
		d.tightenUpper(v, true)
	case OpGreater:
		d.tightenLower(v, false)
	case OpGreaterEqual:
		d.tightenLower(v, true)
	}
}

// intersect narrows the point set. Points that cannot be compared with the
// new values are kept.
func (d *domain) intersect(values []Scalar) {
	var vals []Scalar
	for _, v := range values {
		if !v.IsNull() {
			vals = append(vals, v)
		}
	}
	if !d.hasPoints {
		d.points = vals
		d.hasPoints = true
		return
	}
	kept := d.points[:0:0]
	for _, p := range d.points {
		if !provablyAbsent(p, vals) {
			kept = append(kept, p)
		}
	}
	d.points = kept
}

func provablyAbsent(p Scalar, vals []Scalar) bool {
	for _, v := range vals {
		c, ok := compareScalars(p, v)
		if !ok || c == 0 {
			return false
		}
	}
	return true
}

func (d *domain) tightenUpper(v Scalar, inclusive bool) {
	if d.upper == nil {
		d.upper = &bound{value: v, inclusive: inclusive}
		return
	}
	c, ok := compareScalars(v, d.upper.value)
	switch {
	case !ok:
	case c < 0:
		d.upper = &bound{value: v, inclusive: inclusive}
	case c == 0:
		d.upper = &bound{value: v, inclusive: inclusive && d.upper.inclusive}
	}
}

func (d *domain) tightenLower(v Scalar, inclusive bool) {
	if d.lower == nil {
		d.lower = &bound{value: v, inclusive: inclusive}
		return
	}
	c, ok := compareScalars(v, d.lower.value)
	switch {
	case !ok:
	case c > 0:
		d.lower = &bound{value: v, inclusive: inclusive}
	case c == 0:
		d.lower = &bound{value: v, inclusive: inclusive && d.lower.inclusive}
	}
}

func (d *domain) normalize() {
	if d.nullOnly && d.nonNull {
		d.empty = true
		return
	}
	if d.hasPoints {
		kept := d.points[:0:0]
		for _, p := range d.points {
			if !d.excludes(p) {
				kept = append(kept, p)
			}
		}
		d.points = kept
		if len(kept) == 0 {
			d.empty = true
			return
		}
	}
	if d.lower != nil && d.upper != nil {
		c, ok := compareScalars(d.lower.value, d.upper.value)
		if ok && (c > 0 || (c == 0 && !(d.lower.inclusive && d.upper.inclusive))) {
			d.empty = true
		}
	}
}

// excludes reports whether v provably lies outside the interval or in the
// excluded set.
func (d *domain) excludes(v Scalar) bool {
	if d.lower != nil {
		if c, ok := compareScalars(v, d.lower.value); ok && (c < 0 || (c == 0 && !d.lower.inclusive)) {
			return true
		}
	}
	if d.upper != nil {
		if c, ok := compareScalars(v, d.upper.value); ok && (c > 0 || (c == 0 && !d.upper.inclusive)) {
			return true
		}
	}
	for _, x := range d.excluded {
		if c, ok := compareScalars(v, x); ok && c == 0 {
			return true
		}
	}
	return false
}

// decide evaluates "field op v" over the whole domain, or returns nil.
func (d *domain) decide(op CompareOp, v Scalar) Expression {
	if d.nullOnly {
		return nullLiteral()
	}
	if !d.nonNull {
		return nil
	}
	if d.hasPoints {
		all, none := true, true
		for _, p := range d.points {
			c, ok := compareScalars(p, v)
			if !ok {
				return nil
			}
			if op.holds(c) {
				none = false
			} else {
				all = false
			}
		}
		switch {
		case all:
			return True()
		case none:
			return False()
		}
		return nil
	}

	cmpBound := func(b *bound) (int, bool) {
		if b == nil {
			return 0, false
		}
		return compareScalars(b.value, v)
	}
	switch op {
	case OpEqual:
		if d.excludes(v) {
			return False()
		}
	case OpNotEqual:
		if d.excludes(v) {
			return True()
		}
	case OpLess:
		if c, ok := cmpBound(d.upper); ok && (c < 0 || (c == 0 && !d.upper.inclusive)) {
			return True()
		}
		if c, ok := cmpBound(d.lower); ok && c >= 0 {
			return False()
		}
	case OpLessEqual:
		if c, ok := cmpBound(d.upper); ok && c <= 0 {
			return True()
		}
		if c, ok := cmpBound(d.lower); ok && (c > 0 || (c == 0 && !d.lower.inclusive)) {
			return False()
		}
	case OpGreater:
		if c, ok := cmpBound(d.lower); ok && (c > 0 || (c == 0 && !d.lower.inclusive)) {
			return True()
		}
		if c, ok := cmpBound(d.upper); ok && c <= 0 {
			return False()
		}
	case OpGreaterEqual:
		if c, ok := cmpBound(d.lower); ok && c >= 0 {
			return True()
		}
		if c, ok := cmpBound(d.upper); ok && (c < 0 || (c == 0 && !d.upper.inclusive)) {
			return False()
		}
	}
	return nil
}

// decideIn evaluates "field IN set" over the whole domain, or returns nil.
func (d *domain) decideIn(set []Scalar) Expression {
	if d.nullOnly {
		return nullLiteral()
	}
	if !d.nonNull {
		return nil
	}
	var values []Scalar
	hasNull := false
	for _, s := range set {
		if s.IsNull() {
			hasNull = true
			continue
		}
		values = append(values, s)
	}
	miss := False()
	if hasNull {
		miss = nullLiteral()
	}
	if d.hasPoints {
		var result Expression
		for _, p := range d.points {
			r := membership(p, values, hasNull)
			if r == nil {
				return nil
			}
			if result == nil {
				result = r
			} else if !result.Equals(r) {
				return nil
			}
		}
		return result
	}
	for _, v := range values {
		if !d.excludes(v) {
			return nil
		}
	}
	return miss
}

func membership(p Scalar, values []Scalar, hasNull bool) Expression {
	for _, v := range values {
		c, ok := compareScalars(p, v)
		if !ok {
			return nil
		}
		if c == 0 {
			return True()
		}
	}
	if hasNull {
		return nullLiteral()
	}
	return False()
}

// -----------------------------------------------------------------------------
// Folding
// -----------------------------------------------------------------------------

func (f *facts) apply(e Expression) Expression {
	if f.contradiction {
		return False()
	}
	return f.fold(e)
}

func (f *facts) fold(e Expression) Expression {
	switch x := e.(type) {
	case *Comparison:
		return f.foldComparison(x)
	case *InExpr:
		return f.foldIn(x)
	case *IsNullExpr:
		return f.foldIsNull(x)
	case *AndExpr:
		return and3(x, f.fold(x.left), f.fold(x.right))
	case *OrExpr:
		return or3(x, f.fold(x.left), f.fold(x.right))
	case *NotExpr:
		return not3(x, f.fold(x.operand))
	}
	return e
}

func (f *facts) foldComparison(x *Comparison) Expression {
	left, right := f.fold(x.left), f.fold(x.right)
	ll, lok := validLiteral(left)
	rl, rok := validLiteral(right)
	if (lok && ll.value.IsNull()) || (rok && rl.value.IsNull()) {
		return nullLiteral()
	}
	cur := x
	if left != x.left || right != x.right {
		cur = &Comparison{op: x.op, left: left, right: right}
	}
	if lok && rok {
		if c, ok := compareScalars(ll.value, rl.value); ok {
			return boolLiteral(x.op.holds(c))
		}
		return cur
	}
	name, op, v, ok := fieldComparison(cur)
	if !ok {
		return cur
	}
	if d := f.fields[name]; d != nil {
		if r := d.decide(op, v); r != nil {
			return r
		}
	}
	return cur
}

func (f *facts) foldIn(x *InExpr) Expression {
	if x.err != nil {
		return x
	}
	operand := f.fold(x.operand)
	if lit, ok := validLiteral(operand); ok {
		if lit.value.IsNull() {
			return nullLiteral()
		}
		var values []Scalar
		hasNull := false
		for _, s := range x.set {
			if s.IsNull() {
				hasNull = true
			} else {
				values = append(values, s)
			}
		}
		if r := membership(lit.value, values, hasNull); r != nil {
			return r
		}
		return x
	}
	ref, ok := operand.(*FieldRef)
	if !ok {
		return x
	}
	if d := f.fields[ref.name]; d != nil {
		if r := d.decideIn(x.set); r != nil {
			return r
		}
	}
	return x
}

func (f *facts) foldIsNull(x *IsNullExpr) Expression {
	operand := f.fold(x.operand)
	if lit, ok := validLiteral(operand); ok {
		return boolLiteral(lit.value.IsNull())
	}
	ref, ok := operand.(*FieldRef)
	if !ok {
		return x
	}
	if d := f.fields[ref.name]; d != nil {
		switch {
		case d.nullOnly:
			return True()
		case d.nonNull:
			return False()
		}
	}
	return x
}

type tri int

const (
	triFalse tri = iota
	triTrue
	triNull
)

// truth returns the constant truth value of a boolean or null literal.
func truth(e Expression) (tri, bool) {
	lit, ok := validLiteral(e)
	if !ok {
		return 0, false
	}
	if lit.value.IsNull() {
		return triNull, true
	}
	b, isBool := lit.value.Value.(bool)
	if !isBool {
		return 0, false
	}
	if b {
		return triTrue, true
	}
	return triFalse, true
}

func and3(orig *AndExpr, l, r Expression) Expression {
	lt, lok := truth(l)
	rt, rok := truth(r)
	switch {
	case lok && lt == triFalse, rok && rt == triFalse:
		return False()
	case lok && lt == triTrue:
		return r
	case rok && rt == triTrue:
		return l
	case lok && rok:
		return nullLiteral()
	case l == orig.left && r == orig.right:
		return orig
	}
	return &AndExpr{left: l, right: r}
}

func or3(orig *OrExpr, l, r Expression) Expression {
	lt, lok := truth(l)
	rt, rok := truth(r)
	switch {
	case lok && lt == triTrue, rok && rt == triTrue:
		return True()
	case lok && lt == triFalse:
		return r
	case rok && rt == triFalse:
		return l
	case lok && rok:
		return nullLiteral()
	case l == orig.left && r == orig.right:
		return orig
	}
	return &OrExpr{left: l, right: r}
}

func not3(orig *NotExpr, o Expression) Expression {
	if t, ok := truth(o); ok {
		switch t {
		case triTrue:
			return False()
		case triFalse:
			return True()
		default:
			return nullLiteral()
		}
	}
	if o == orig.operand {
		return orig
	}
	return &NotExpr{operand: o}
}

func validLiteral(e Expression) (*Literal, bool) {
	lit, ok := e.(*Literal)
	if !ok || lit.err != nil {
		return nil, false
	}
	return lit, true
}

func boolLiteral(b bool) Expression {
	if b {
		return True()
	}
	return False()
}
