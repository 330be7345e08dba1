package annotation

import (
	"errors"
	"strings"

	"github.com/looptune/looptune/internal/loopast"
	"github.com/looptune/looptune/internal/transform"
)

const (
	openMarker  = "/*@"
	closeMarker = "@*/"
)

// marker is one `/*@ ... @*/` comment.
type marker struct {
	start, end   int // whole comment
	contentStart int
	content      string
	line         int
}

type frameKind int

const (
	frameTuning frameKind = iota
	frameLoop
	frameRegion
)

// frame is an open begin annotation awaiting its end.
type frame struct {
	kind       frameKind
	open       marker
	nest       []loopast.Node
	directives []*loopast.Directive
}

// Parse parses annotated source text.
func Parse(src string) (*Program, error) {
	return parse(src, nil)
}

// ParseWithSpec parses loop blocks from src with a tuning spec loaded
// separately, e.g. by ParseHCL. src must not carry its own tuning block.
func ParseWithSpec(src string, spec *TuningSpec) (*Program, error) {
	if spec == nil {
		return nil, malformed(0, "nil tuning spec")
	}
	return parse(src, spec)
}

func parse(src string, external *TuningSpec) (*Program, error) {
	markers, err := scanMarkers(src)
	if err != nil {
		return nil, err
	}
	prog := &Program{Source: src, Spec: external}

	var stack []*frame
	for _, m := range markers {
		content := strings.TrimSpace(m.content)
		switch {
		case content == "" || content == "end":
			if len(stack) == 0 {
				return nil, malformed(m.line, "end annotation without a matching begin")
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if err := closeFrame(prog, top, m); err != nil {
				return nil, err
			}
		case hasKeyword(content, "begin"):
			f, err := openBegin(m)
			if err != nil {
				return nil, err
			}
			if f.kind == frameTuning {
				if prog.Spec != nil {
					return nil, malformed(m.line, "tuning spec given twice")
				}
				spec, err := parseTuning(f.open)
				if err != nil {
					return nil, err
				}
				prog.Spec = spec
			}
			stack = append(stack, f)
		case hasKeyword(content, "Loops"):
			f, err := openRegion(m)
			if err != nil {
				return nil, err
			}
			stack = append(stack, f)
		default:
			return nil, malformed(m.line, "unknown annotation %q", firstWord(content))
		}
	}
	for _, f := range stack {
		if f.kind != frameTuning {
			return nil, malformed(f.open.line, "unterminated Loop block")
		}
		// A tuning block may run to end of file.
		prog.Markers = append(prog.Markers, Region{f.open.start, f.open.end})
	}

	if len(prog.Blocks) > 0 && prog.Spec == nil {
		return nil, malformed(prog.Blocks[0].Line, "Loop block without a PerfTuning block")
	}
	if err := validateDirectives(prog); err != nil {
		return nil, err
	}
	return prog, nil
}

func scanMarkers(src string) ([]marker, error) {
	var out []marker
	for off := 0; ; {
		i := strings.Index(src[off:], openMarker)
		if i < 0 {
			return out, nil
		}
		start := off + i
		j := strings.Index(src[start+len(openMarker):], closeMarker)
		if j < 0 {
			return nil, malformed(lineAt(src, start), "unterminated annotation comment")
		}
		contentStart := start + len(openMarker)
		end := contentStart + j + len(closeMarker)
		out = append(out, marker{
			start:        start,
			end:          end,
			contentStart: contentStart,
			content:      src[contentStart : contentStart+j],
			line:         lineAt(src, start),
		})
		off = end
	}
}

func lineAt(src string, off int) int {
	return strings.Count(src[:off], "\n") + 1
}

func hasKeyword(content, kw string) bool {
	if !strings.HasPrefix(content, kw) {
		return false
	}
	rest := content[len(kw):]
	return rest == "" || !isWordByte(rest[0])
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func firstWord(s string) string {
	for i := 0; i < len(s); i++ {
		if !isWordByte(s[i]) {
			if i == 0 {
				return s[:1]
			}
			return s[:i]
		}
	}
	return s
}

// parenBody returns the text inside the parenthesized argument following the
// keyword(s) already consumed from sc, and the line it starts on.
func parenBody(sc *loopast.Scanner, m marker) (string, int, error) {
	sc.SkipSpace()
	line := sc.Line()
	body, err := sc.Balanced('(', ')')
	if err != nil {
		return "", 0, syntaxToMalformed(err, m.line)
	}
	sc.SkipSpace()
	if !sc.EOF() {
		return "", 0, malformed(sc.Line(), "unexpected text after annotation body")
	}
	return body, line, nil
}

func openBegin(m marker) (*frame, error) {
	sc := loopast.NewScanner(m.content, m.line)
	sc.AcceptKeyword("begin")
	kind, err := sc.Ident()
	if err != nil {
		return nil, malformed(m.line, "begin annotation without a kind")
	}
	switch kind {
	case "PerfTuning":
		return &frame{kind: frameTuning, open: m}, nil
	case "Loop":
		body, line, err := parenBody(sc, m)
		if err != nil {
			return nil, err
		}
		nest, err := loopast.ParseNest(body, line)
		if err != nil {
			return nil, syntaxToMalformed(err, line)
		}
		return &frame{kind: frameLoop, open: m, nest: nest}, nil
	}
	return nil, malformed(m.line, "unknown annotation kind %q", kind)
}

func openRegion(m marker) (*frame, error) {
	sc := loopast.NewScanner(m.content, m.line)
	sc.AcceptKeyword("Loops")
	body, line, err := parenBody(sc, m)
	if err != nil {
		return nil, err
	}
	dirs, err := loopast.ParseDirectives(body, line)
	if err != nil {
		return nil, syntaxToMalformed(err, line)
	}
	return &frame{kind: frameRegion, open: m, directives: dirs}, nil
}

func closeFrame(prog *Program, f *frame, end marker) error {
	src := prog.Source
	switch f.kind {
	case frameTuning:
		prog.Markers = append(prog.Markers, Region{f.open.start, f.open.end}, Region{end.start, end.end})
	case frameLoop:
		prog.Blocks = append(prog.Blocks, &LoopBlock{
			Region:   Region{f.open.start, end.end},
			Nest:     f.nest,
			Original: src[f.open.end:end.start],
			Line:     f.open.line,
		})
	case frameRegion:
		payload := src[f.open.end:end.start]
		line := lineAt(src, f.open.end)
		nest, err := loopast.ParseNest(payload, line)
		if err != nil {
			return syntaxToMalformed(err, line)
		}
		var first *loopast.Loop
		for _, n := range nest {
			if l, ok := n.(*loopast.Loop); ok {
				first = l
				break
			}
		}
		if first == nil {
			return malformed(f.open.line, "Loops annotation is not followed by a for loop")
		}
		first.Directives = append(f.directives, first.Directives...)
		prog.Blocks = append(prog.Blocks, &LoopBlock{
			Region:   Region{f.open.start, end.end},
			Nest:     nest,
			Original: payload,
			Line:     f.open.line,
		})
	}
	return nil
}

// validateDirectives checks directive kinds, argument names and parameter
// references.
func validateDirectives(prog *Program) error {
	for _, b := range prog.Blocks {
		for _, l := range loopast.Loops(b.Nest) {
			for _, d := range l.Directives {
				if err := transform.CheckDirective(d); err != nil {
					return malformed(d.Line, "%v", err)
				}
				for _, id := range d.Idents() {
					if !prog.Spec.Declared(id) {
						return malformed(d.Line, "transform %s references undeclared parameter %s", d.Kind, id)
					}
				}
			}
		}
	}
	return nil
}

func syntaxToMalformed(err error, line int) error {
	var se *loopast.SyntaxError
	if errors.As(err, &se) {
		return malformed(se.Line, "%s", se.Msg)
	}
	return malformed(line, "%v", err)
}
