package loopast

import (
	"regexp"
	"strconv"
	"strings"
)

// Bound is a loop bound of the form Expr + Off. Expr is opaque C text (empty
// for a constant bound); Off is folded integer arithmetic so that bounds
// like N-1+1 render as N.
type Bound struct {
	Expr string
	Off  int
}

// Const returns a constant bound.
func Const(n int) Bound { return Bound{Off: n} }

// Sym returns a symbolic bound.
func Sym(expr string) Bound { return ParseBound(expr) }

var trailingOffset = regexp.MustCompile(`^(.*[A-Za-z0-9_\)\]])\s*([+-])\s*(\d+)$`)

// ParseBound splits a trailing integer offset off an expression.
func ParseBound(text string) Bound {
	text = strings.TrimSpace(text)
	if n, err := strconv.Atoi(text); err == nil {
		return Bound{Off: n}
	}
	if stripped, ok := stripParens(text); ok {
		if n, err := strconv.Atoi(stripped); err == nil {
			return Bound{Off: n}
		}
	}
	m := trailingOffset.FindStringSubmatch(text)
	if m == nil || !topLevelAdditive(m[1]) {
		return Bound{Expr: text}
	}
	n, _ := strconv.Atoi(m[3])
	if m[2] == "-" {
		n = -n
	}
	inner := ParseBound(m[1])
	inner.Off += n
	return inner
}

// topLevelAdditive reports whether appending "+c" to expr is arithmetically
// the same as adding c to it, i.e. expr contains no lower-precedence
// operators outside parentheses.
func topLevelAdditive(expr string) bool {
	depth := 0
	for _, r := range expr {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case '?', ':', '<', '>', '=', '&', '|', ',':
			if depth == 0 {
				return false
			}
		}
	}
	return depth == 0
}

func stripParens(text string) (string, bool) {
	if len(text) < 2 || text[0] != '(' || text[len(text)-1] != ')' {
		return text, false
	}
	depth := 0
	for i, r := range text {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(text)-1 {
				return text, false
			}
		}
	}
	return strings.TrimSpace(text[1 : len(text)-1]), true
}

// IsConst reports whether the bound has no symbolic part.
func (b Bound) IsConst() bool { return b.Expr == "" }

// Add returns b + n.
func (b Bound) Add(n int) Bound {
	b.Off += n
	return b
}

// Diff returns b - o when both share the same symbolic part.
func (b Bound) Diff(o Bound) (int, bool) {
	if b.Expr != o.Expr {
		return 0, false
	}
	return b.Off - o.Off, true
}

// String renders the bound as C text.
func (b Bound) String() string {
	if b.Expr == "" {
		return strconv.Itoa(b.Off)
	}
	expr := b.Expr
	if !topLevelAdditive(expr) {
		expr = "(" + expr + ")"
	}
	switch {
	case b.Off == 0:
		return expr
	case b.Off > 0:
		return expr + "+" + strconv.Itoa(b.Off)
	default:
		return expr + "-" + strconv.Itoa(-b.Off)
	}
}

// Substitute replaces identifier name with repl inside the symbolic part.
func (b Bound) Substitute(name, repl string) Bound {
	if b.Expr == "" {
		return b
	}
	nb := ParseBound(SubstituteIdent(b.Expr, name, repl))
	nb.Off += b.Off
	return nb
}

// MinBound renders min(a, b) as a C conditional expression, folding it when
// both sides are comparable.
func MinBound(a, b Bound) Bound {
	if d, ok := a.Diff(b); ok {
		if d <= 0 {
			return a
		}
		return b
	}
	as, bs := a.String(), b.String()
	return Bound{Expr: "((" + as + ")<(" + bs + ")?(" + as + "):(" + bs + "))"}
}
