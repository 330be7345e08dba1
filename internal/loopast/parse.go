package loopast

import (
	"strconv"
	"strings"
)

// Directive is one `transform Kind(name=expr, ...)` annotation attached to the
// loop that follows it.
type Directive struct {
	Kind string
	Args []Arg
	Line int
}

// Arg is one directive argument. Name is empty for positional arguments.
type Arg struct {
	Name  string
	Value Expr
}

// Lookup returns the named argument, or the positional argument at pos when
// no named one exists (pos < 0 disables the fallback).
func (d *Directive) Lookup(name string, pos int) (Expr, bool) {
	for _, a := range d.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	if pos >= 0 {
		n := 0
		for _, a := range d.Args {
			if a.Name != "" {
				continue
			}
			if n == pos {
				return a.Value, true
			}
			n++
		}
	}
	return nil, false
}

// Idents lists the parameter names referenced by the directive's arguments.
func (d *Directive) Idents() []string {
	var out []string
	seen := make(map[string]bool)
	for _, a := range d.Args {
		for _, id := range Idents(a.Value) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func (d *Directive) String() string {
	parts := make([]string, len(d.Args))
	for i, a := range d.Args {
		if a.Name == "" {
			parts[i] = a.Value.String()
		} else {
			parts[i] = a.Name + "=" + a.Value.String()
		}
	}
	return d.Kind + "(" + strings.Join(parts, ", ") + ")"
}

// ParseNest parses the body of a loop block: C loops, opaque statements,
// preprocessor lines and transform directives. line is the source line the
// text starts on.
func ParseNest(text string, line int) ([]Node, error) {
	s := NewScanner(text, line)
	return parseNodes(s, false)
}

func parseNodes(s *Scanner, inBraces bool) ([]Node, error) {
	var nodes []Node
	for {
		s.SkipSpace()
		if s.EOF() {
			if inBraces {
				return nil, s.Errorf("missing '}'")
			}
			return nodes, nil
		}
		if s.Peek() == '}' {
			if !inBraces {
				return nil, s.Errorf("unexpected '}'")
			}
			s.Next()
			return nodes, nil
		}
		n, err := parseNode(s)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
}

func parseNode(s *Scanner) (Node, error) {
	var directives []*Directive
	for s.PeekIdent() == "transform" {
		d, err := parseDirective(s)
		if err != nil {
			return nil, err
		}
		directives = append(directives, d)
		s.SkipSpace()
	}
	line := s.Line()
	switch {
	case s.PeekIdent() == "for":
		loop, err := parseLoop(s)
		if err != nil {
			return nil, err
		}
		loop.Directives = directives
		return loop, nil
	case len(directives) > 0:
		return nil, &SyntaxError{Line: directives[len(directives)-1].Line, Msg: "transform directive must be followed by a for loop"}
	case s.Peek() == '#':
		return &Stmt{Text: strings.TrimSpace(s.ReadLine()), Line: line}, nil
	case s.Peek() == '{':
		s.Next()
		body, err := parseNodes(s, true)
		if err != nil {
			return nil, err
		}
		return &Block{Body: body}, nil
	}
	text, err := s.Statement()
	if err != nil {
		return nil, err
	}
	return &Stmt{Text: text, Line: line}, nil
}

func parseDirective(s *Scanner) (*Directive, error) {
	line := s.Line()
	s.AcceptKeyword("transform")
	kind, err := s.Ident()
	if err != nil {
		return nil, err
	}
	d := &Directive{Kind: kind, Line: line}
	if err := s.Expect('('); err != nil {
		return nil, err
	}
	for {
		if s.Accept(')') {
			return d, nil
		}
		var arg Arg
		if id := s.PeekIdent(); id != "" {
			save, saveLine := s.pos, s.line
			s.Ident()
			if s.Accept('=') {
				arg.Name = id
			} else {
				s.pos, s.line = save, saveLine
			}
		}
		if arg.Value, err = ParseExpr(s); err != nil {
			return nil, err
		}
		d.Args = append(d.Args, arg)
		if s.Accept(',') {
			continue
		}
		if err := s.Expect(')'); err != nil {
			return nil, err
		}
		return d, nil
	}
}

func parseLoop(s *Scanner) (*Loop, error) {
	line := s.Line()
	s.AcceptKeyword("for")
	header, err := s.Balanced('(', ')')
	if err != nil {
		return nil, err
	}
	loop, err := parseHeader(header)
	if err != nil {
		return nil, &SyntaxError{Line: line, Msg: err.Error()}
	}
	loop.Line = line
	s.SkipSpace()
	if s.Peek() == '{' {
		s.Next()
		if loop.Body, err = parseNodes(s, true); err != nil {
			return nil, err
		}
		return loop, nil
	}
	body, err := parseNode(s)
	if err != nil {
		return nil, err
	}
	loop.Body = []Node{body}
	return loop, nil
}

type headerError string

func (e headerError) Error() string { return "malformed loop header: " + string(e) }

// parseHeader understands `i=lb; i<ub|i<=ub; i++|++i|i+=c|i=i+c`, with an
// optional int declaration in the init clause (marking the index as
// Introduced) and an empty init for loops that continue from the index's
// current value.
func parseHeader(header string) (*Loop, error) {
	parts := splitTopLevel(header, ';')
	if len(parts) != 3 {
		return nil, headerError("expected three clauses")
	}
	init, cond, incr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])

	loop := &Loop{}
	if init != "" {
		init = strings.TrimPrefix(init, "register ")
		if rest, ok := strings.CutPrefix(init, "int "); ok {
			// The index is scoped to the loop; generated code declares it.
			init, loop.Introduced = rest, true
		}
		eq := strings.Index(init, "=")
		if eq < 0 {
			return nil, headerError("init clause has no assignment")
		}
		loop.Index = strings.TrimSpace(init[:eq])
		lb := ParseBound(init[eq+1:])
		loop.Lower = &lb
	}

	var idx, rest string
	inclusive := false
	if i := strings.Index(cond, "<="); i >= 0 {
		idx, rest, inclusive = cond[:i], cond[i+2:], true
	} else if i := strings.Index(cond, "<"); i >= 0 {
		idx, rest = cond[:i], cond[i+1:]
	} else {
		return nil, headerError("condition must be < or <=")
	}
	idx = strings.TrimSpace(idx)
	if loop.Index == "" {
		loop.Index = idx
	}
	if !isIdentifier(loop.Index) || idx != loop.Index {
		return nil, headerError("index variable mismatch")
	}
	loop.Upper = ParseBound(rest)
	if inclusive {
		loop.Upper = loop.Upper.Add(1)
	}

	step, ok := parseIncrement(incr, loop.Index)
	if !ok {
		return nil, headerError("unsupported increment " + strconv.Quote(incr))
	}
	loop.Step = step
	return loop, nil
}

func parseIncrement(incr, idx string) (int, bool) {
	compact := strings.Join(strings.Fields(incr), "")
	switch compact {
	case idx + "++", "++" + idx:
		return 1, true
	}
	var num string
	switch {
	case strings.HasPrefix(compact, idx+"+="):
		num = compact[len(idx)+2:]
	case strings.HasPrefix(compact, idx+"="+idx+"+"):
		num = compact[2*len(idx)+2:]
	default:
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !isIdentStart(r) || !isIdentPart(r) {
			return false
		}
	}
	return true
}

func splitTopLevel(text string, sep rune) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range text {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, text[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, text[start:])
}

// ParseDirectives parses a sequence of `transform Kind(...)` directives with
// no loop of their own, as written in the header of a region annotation.
func ParseDirectives(text string, line int) ([]*Directive, error) {
	s := NewScanner(text, line)
	var out []*Directive
	for {
		s.SkipSpace()
		if s.EOF() {
			return out, nil
		}
		if s.PeekIdent() != "transform" {
			return nil, s.Errorf("expected transform directive")
		}
		d, err := parseDirective(s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
}
