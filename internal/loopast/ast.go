// Package loopast holds the payload AST of an annotated loop nest: loops with
// folded integer bounds, opaque statements, and the transform directives
// attached to loops. It parses the C subset that loop blocks are written in
// and renders trees back to C text.
package loopast

// Node is one element of a loop nest.
type Node interface {
	// Clone returns a deep copy.
	Clone() Node
	node()
}

// Loop is `for (Index = Lower; Index < Upper; Index += Step) Body`, with Upper
// exclusive.
type Loop struct {
	Index string
	// Lower is nil for a loop that continues from the index's current value,
	// as emitted for unroll remainders.
	Lower *Bound
	Upper Bound
	Step  int
	Body  []Node

	// Directives are applied to this loop in order.
	Directives []*Directive
	// Pragmas are emitted as `#pragma <text>` lines before the loop header.
	Pragmas []string
	// Introduced marks index variables created by a transformation that need
	// a declaration in the generated code.
	Introduced bool
	Line       int
}

// Stmt is an opaque payload statement. The engine never interprets it beyond
// identifier substitution and array-reference scanning.
type Stmt struct {
	Text string
	Line int
}

// Block is a brace-delimited scope.
type Block struct {
	Body []Node
}

func (*Loop) node()  {}
func (*Stmt) node()  {}
func (*Block) node() {}

// Clone returns a deep copy of the loop. Directives are shared because
// they are immutable after parsing.
func (l *Loop) Clone() Node {
	cp := *l
	if l.Lower != nil {
		lb := *l.Lower
		cp.Lower = &lb
	}
	cp.Body = CloneNodes(l.Body)
	cp.Directives = append([]*Directive(nil), l.Directives...)
	cp.Pragmas = append([]string(nil), l.Pragmas...)
	return &cp
}

// Clone returns a copy of the statement.
func (s *Stmt) Clone() Node {
	cp := *s
	return &cp
}

// Clone returns a deep copy of the block.
func (b *Block) Clone() Node {
	return &Block{Body: CloneNodes(b.Body)}
}

// CloneNodes deep-copies a node list.
func CloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// LowerOr returns the lower bound, or def for a continuation loop.
func (l *Loop) LowerOr(def Bound) Bound {
	if l.Lower == nil {
		return def
	}
	return *l.Lower
}

// TripCount returns the iteration count when both bounds share a symbolic
// part (in particular when both are constants).
func (l *Loop) TripCount() (int, bool) {
	if l.Lower == nil || l.Step <= 0 {
		return 0, false
	}
	span, ok := l.Upper.Diff(*l.Lower)
	if !ok {
		return 0, false
	}
	if span <= 0 {
		return 0, true
	}
	return (span + l.Step - 1) / l.Step, true
}

// Substitute replaces identifier name with repl throughout the loop: its
// bounds and its body. A nested loop that rebinds name shadows it, so only
// that loop's bounds are rewritten.
func (l *Loop) Substitute(name, repl string) {
	if l.Lower != nil {
		lb := l.Lower.Substitute(name, repl)
		l.Lower = &lb
	}
	l.Upper = l.Upper.Substitute(name, repl)
	if l.Index == name {
		return
	}
	SubstituteNodes(l.Body, name, repl)
}

// SubstituteNodes applies identifier substitution to every node in place.
func SubstituteNodes(nodes []Node, name, repl string) {
	for _, n := range nodes {
		switch v := n.(type) {
		case *Loop:
			v.Substitute(name, repl)
		case *Stmt:
			v.Text = SubstituteIdent(v.Text, name, repl)
		case *Block:
			SubstituteNodes(v.Body, name, repl)
		}
	}
}

// Walk visits loops depth-first, parents before children. Returning false
// from fn stops descent into that loop.
func Walk(nodes []Node, fn func(*Loop) bool) {
	for _, n := range nodes {
		switch v := n.(type) {
		case *Loop:
			if fn(v) {
				Walk(v.Body, fn)
			}
		case *Block:
			Walk(v.Body, fn)
		}
	}
}

// Loops returns every loop in the forest, parents before children.
func Loops(nodes []Node) []*Loop {
	var out []*Loop
	Walk(nodes, func(l *Loop) bool {
		out = append(out, l)
		return true
	})
	return out
}

// IsInnermost reports whether the loop contains no nested loop.
func (l *Loop) IsInnermost() bool {
	return len(Loops(l.Body)) == 0
}

// Innermost returns the innermost loops of a subtree, including root when it
// has no nested loops.
func Innermost(root *Loop) []*Loop {
	var out []*Loop
	for _, l := range append([]*Loop{root}, Loops(root.Body)...) {
		if l.IsInnermost() {
			out = append(out, l)
		}
	}
	return out
}

// IndexNames returns every loop index used in the forest.
func IndexNames(nodes []Node) map[string]bool {
	names := make(map[string]bool)
	for _, l := range Loops(nodes) {
		names[l.Index] = true
	}
	return names
}

// IntroducedIndexes lists, in first-seen order, index variables created by
// transformations.
func IntroducedIndexes(nodes []Node) []string {
	var out []string
	seen := make(map[string]bool)
	for _, l := range Loops(nodes) {
		if l.Introduced && !seen[l.Index] {
			seen[l.Index] = true
			out = append(out, l.Index)
		}
	}
	return out
}
