package loopast

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Env binds parameter names to values during expression evaluation.
type Env map[string]cty.Value

// Expr is a value expression as written in annotation arguments and domain
// lists: literals, identifiers, lists, tuples, range()/list() calls and the
// + - * ** operators.
type Expr interface {
	Eval(env Env) (cty.Value, error)
	String() string
	walk(fn func(Expr))
}

// Ident references a parameter.
type Ident struct{ Name string }

// Lit is a literal number, string or boolean.
type Lit struct{ Val cty.Value }

// ListExpr is a bracketed list, `[a, b]`.
type ListExpr struct{ Elems []Expr }

// TupleExpr is a parenthesized list with at least one comma, `(a, b)`.
type TupleExpr struct{ Elems []Expr }

// Call is a builtin call: range(...) or list(...).
type Call struct {
	Fn   string
	Args []Expr
}

// Binary is a binary arithmetic or concatenation expression.
type Binary struct {
	Op   string
	L, R Expr
}

// UndefinedError reports an identifier with no binding.
type UndefinedError struct{ Name string }

func (e *UndefinedError) Error() string { return fmt.Sprintf("undefined name %q", e.Name) }

func (e *Ident) Eval(env Env) (cty.Value, error) {
	v, ok := env[e.Name]
	if !ok {
		return cty.NilVal, &UndefinedError{Name: e.Name}
	}
	return v, nil
}

func (e *Lit) Eval(Env) (cty.Value, error) { return e.Val, nil }

func (e *ListExpr) Eval(env Env) (cty.Value, error) { return evalElems(e.Elems, env) }

func (e *TupleExpr) Eval(env Env) (cty.Value, error) { return evalElems(e.Elems, env) }

func evalElems(elems []Expr, env Env) (cty.Value, error) {
	if len(elems) == 0 {
		return cty.EmptyTupleVal, nil
	}
	vals := make([]cty.Value, len(elems))
	for i, el := range elems {
		v, err := el.Eval(env)
		if err != nil {
			return cty.NilVal, err
		}
		vals[i] = v
	}
	return cty.TupleVal(vals), nil
}

func (e *Call) Eval(env Env) (cty.Value, error) {
	args := make([]cty.Value, len(e.Args))
	for i, a := range e.Args {
		v, err := a.Eval(env)
		if err != nil {
			return cty.NilVal, err
		}
		args[i] = v
	}
	switch e.Fn {
	case "range":
		return evalRange(args)
	case "list":
		if len(args) != 1 || !Iterable(args[0]) {
			return cty.NilVal, fmt.Errorf("list() takes one sequence argument")
		}
		return TupleOf(args[0].AsValueSlice()), nil
	}
	return cty.NilVal, fmt.Errorf("unknown function %q", e.Fn)
}

func evalRange(args []cty.Value) (cty.Value, error) {
	ints := make([]int64, len(args))
	for i, a := range args {
		n, ok := IntValue(a)
		if !ok {
			return cty.NilVal, fmt.Errorf("range() arguments must be integers")
		}
		ints[i] = n
	}
	var start, stop, step int64 = 0, 0, 1
	switch len(ints) {
	case 1:
		stop = ints[0]
	case 2:
		start, stop = ints[0], ints[1]
	case 3:
		start, stop, step = ints[0], ints[1], ints[2]
	default:
		return cty.NilVal, fmt.Errorf("range() takes 1 to 3 arguments, got %d", len(ints))
	}
	if step == 0 {
		return cty.NilVal, fmt.Errorf("range() step must not be zero")
	}
	var out []cty.Value
	for n := start; (step > 0 && n < stop) || (step < 0 && n > stop); n += step {
		out = append(out, cty.NumberIntVal(n))
	}
	return TupleOf(out), nil
}

func (e *Binary) Eval(env Env) (cty.Value, error) {
	l, err := e.L.Eval(env)
	if err != nil {
		return cty.NilVal, err
	}
	r, err := e.R.Eval(env)
	if err != nil {
		return cty.NilVal, err
	}
	if !l.IsKnown() || !r.IsKnown() || l.IsNull() || r.IsNull() {
		return cty.NilVal, fmt.Errorf("operator %s on null value", e.Op)
	}
	lt, rt := l.Type(), r.Type()
	switch {
	case lt == cty.Number && rt == cty.Number:
		return numberOp(e.Op, l, r)
	case e.Op == "+" && Iterable(l) && Iterable(r):
		return TupleOf(append(l.AsValueSlice(), r.AsValueSlice()...)), nil
	case e.Op == "+" && lt == cty.String && rt == cty.String:
		return cty.StringVal(l.AsString() + r.AsString()), nil
	case e.Op == "*" && Iterable(l) && rt == cty.Number:
		n, ok := IntValue(r)
		if !ok || n < 0 {
			return cty.NilVal, fmt.Errorf("list repetition needs a non-negative integer")
		}
		var out []cty.Value
		for range n {
			out = append(out, l.AsValueSlice()...)
		}
		return TupleOf(out), nil
	}
	return cty.NilVal, fmt.Errorf("unsupported operands for %s: %s and %s", e.Op, lt.FriendlyName(), rt.FriendlyName())
}

func numberOp(op string, l, r cty.Value) (cty.Value, error) {
	switch op {
	case "+":
		return l.Add(r), nil
	case "-":
		return l.Subtract(r), nil
	case "*":
		return l.Multiply(r), nil
	case "**":
		base, ok1 := IntValue(l)
		exp, ok2 := IntValue(r)
		if !ok1 || !ok2 || exp < 0 {
			return cty.NilVal, fmt.Errorf("** needs integer operands and a non-negative exponent")
		}
		res := new(big.Int).Exp(big.NewInt(base), big.NewInt(exp), nil)
		return cty.NumberVal(new(big.Float).SetInt(res)), nil
	}
	return cty.NilVal, fmt.Errorf("unknown operator %q", op)
}

// Iterable reports whether v is a known, non-null list, set or tuple.
func Iterable(v cty.Value) bool {
	if v == cty.NilVal || !v.IsKnown() || v.IsNull() {
		return false
	}
	t := v.Type()
	return t.IsTupleType() || t.IsListType() || t.IsSetType()
}

// IntValue returns v as an int64 when it is an integral number.
func IntValue(v cty.Value) (int64, bool) {
	if v == cty.NilVal || !v.IsKnown() || v.IsNull() || v.Type() != cty.Number {
		return 0, false
	}
	bf := v.AsBigFloat()
	if !bf.IsInt() {
		return 0, false
	}
	n, acc := bf.Int64()
	return n, acc == big.Exact
}

// TupleOf builds a tuple value, using the empty tuple for no elements.
func TupleOf(vals []cty.Value) cty.Value {
	if len(vals) == 0 {
		return cty.EmptyTupleVal
	}
	return cty.TupleVal(vals)
}

func (e *Ident) String() string { return e.Name }

func (e *Lit) String() string {
	switch e.Val.Type() {
	case cty.String:
		return "'" + strings.ReplaceAll(e.Val.AsString(), "'", `\'`) + "'"
	case cty.Bool:
		if e.Val.True() {
			return "True"
		}
		return "False"
	case cty.Number:
		return e.Val.AsBigFloat().Text('g', -1)
	}
	return e.Val.GoString()
}

func (e *ListExpr) String() string { return "[" + joinExprs(e.Elems) + "]" }

func (e *TupleExpr) String() string { return "(" + joinExprs(e.Elems) + ")" }

func (e *Call) String() string { return e.Fn + "(" + joinExprs(e.Args) + ")" }

func (e *Binary) String() string { return e.L.String() + e.Op + e.R.String() }

func joinExprs(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, ",")
}

func (e *Ident) walk(fn func(Expr)) { fn(e) }
func (e *Lit) walk(fn func(Expr))   { fn(e) }

func (e *ListExpr) walk(fn func(Expr)) {
	fn(e)
	for _, el := range e.Elems {
		el.walk(fn)
	}
}

func (e *TupleExpr) walk(fn func(Expr)) {
	fn(e)
	for _, el := range e.Elems {
		el.walk(fn)
	}
}

func (e *Call) walk(fn func(Expr)) {
	fn(e)
	for _, a := range e.Args {
		a.walk(fn)
	}
}

func (e *Binary) walk(fn func(Expr)) {
	fn(e)
	e.L.walk(fn)
	e.R.walk(fn)
}

// Idents returns the distinct identifiers referenced by e in first-seen order.
func Idents(e Expr) []string {
	var out []string
	seen := make(map[string]bool)
	e.walk(func(x Expr) {
		if id, ok := x.(*Ident); ok && !seen[id.Name] {
			seen[id.Name] = true
			out = append(out, id.Name)
		}
	})
	return out
}

// ParseExpr parses one value expression starting at the scanner's cursor.
func ParseExpr(s *Scanner) (Expr, error) {
	return parseAdditive(s)
}

// ParseExprString parses a complete expression held in a string.
func ParseExprString(text string, line int) (Expr, error) {
	s := NewScanner(text, line)
	s.HashComments = true
	e, err := ParseExpr(s)
	if err != nil {
		return nil, err
	}
	s.SkipSpace()
	if !s.EOF() {
		return nil, s.Errorf("unexpected %q after expression", s.Peek())
	}
	return e, nil
}

func parseAdditive(s *Scanner) (Expr, error) {
	l, err := parseMultiplicative(s)
	if err != nil {
		return nil, err
	}
	for {
		s.SkipSpace()
		op := s.Peek()
		if op != '+' && op != '-' {
			return l, nil
		}
		s.Next()
		r, err := parseMultiplicative(s)
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: string(op), L: l, R: r}
	}
}

func parseMultiplicative(s *Scanner) (Expr, error) {
	l, err := parsePower(s)
	if err != nil {
		return nil, err
	}
	for {
		s.SkipSpace()
		if s.Peek() != '*' || s.peekAt(1) == '*' {
			return l, nil
		}
		s.Next()
		r, err := parsePower(s)
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: "*", L: l, R: r}
	}
}

// parsePower is right-associative: 2**3**2 == 2**(3**2).
func parsePower(s *Scanner) (Expr, error) {
	base, err := parsePrimary(s)
	if err != nil {
		return nil, err
	}
	if s.AcceptString("**") {
		exp, err := parsePower(s)
		if err != nil {
			return nil, err
		}
		return &Binary{Op: "**", L: base, R: exp}, nil
	}
	return base, nil
}

func parsePrimary(s *Scanner) (Expr, error) {
	s.SkipSpace()
	r := s.Peek()
	switch {
	case r == 0:
		return nil, s.Errorf("expected expression, found end of input")
	case r == '[':
		s.Next()
		elems, err := parseElems(s, ']')
		if err != nil {
			return nil, err
		}
		return &ListExpr{Elems: elems}, nil
	case r == '(':
		s.Next()
		s.SkipSpace()
		if s.Accept(')') {
			return &TupleExpr{}, nil
		}
		first, err := ParseExpr(s)
		if err != nil {
			return nil, err
		}
		if s.Accept(')') {
			return first, nil
		}
		if err := s.Expect(','); err != nil {
			return nil, err
		}
		rest, err := parseElems(s, ')')
		if err != nil {
			return nil, err
		}
		return &TupleExpr{Elems: append([]Expr{first}, rest...)}, nil
	case r == '\'' || r == '"':
		str, err := s.QuotedString()
		if err != nil {
			return nil, err
		}
		return &Lit{Val: cty.StringVal(str)}, nil
	case r == '-' || r == '+' || r == '.' || (r >= '0' && r <= '9'):
		text, err := s.Number()
		if err != nil {
			return nil, err
		}
		v, err := cty.ParseNumberVal(strings.TrimPrefix(text, "+"))
		if err != nil {
			return nil, s.Errorf("bad number %q", text)
		}
		return &Lit{Val: v}, nil
	case isIdentStart(r):
		name, _ := s.Ident()
		switch name {
		case "True", "true":
			return &Lit{Val: cty.True}, nil
		case "False", "false":
			return &Lit{Val: cty.False}, nil
		}
		if s.Accept('(') {
			args, err := parseElems(s, ')')
			if err != nil {
				return nil, err
			}
			return &Call{Fn: name, Args: args}, nil
		}
		return &Ident{Name: name}, nil
	}
	return nil, s.Errorf("unexpected %q in expression", r)
}

// parseElems parses a comma-separated list up to and including close. A
// trailing comma is allowed.
func parseElems(s *Scanner, close rune) ([]Expr, error) {
	var elems []Expr
	for {
		if s.Accept(close) {
			return elems, nil
		}
		e, err := ParseExpr(s)
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		if s.Accept(',') {
			continue
		}
		if err := s.Expect(close); err != nil {
			return nil, err
		}
		return elems, nil
	}
}
