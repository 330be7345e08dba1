package transform

import (
	"strconv"
	"strings"

	"github.com/looptune/looptune/internal/loopast"
)

// Unroll replicates the loop body Factor times per iteration.
type Unroll struct {
	Factor int
}

func (u Unroll) Name() string { return "Unroll" }

// Apply unrolls l. With constant trip counts a remainder loop is emitted only
// when Factor does not divide the trip count; with symbolic bounds the main
// loop stops Factor-1 steps early and a remainder loop continues from the
// index's final value.
func (u Unroll) Apply(l *loopast.Loop) ([]loopast.Node, error) {
	if u.Factor <= 0 {
		return nil, invalid("unroll factor must be positive, got %d", u.Factor)
	}
	if u.Factor == 1 {
		return []loopast.Node{l}, nil
	}
	f, s := u.Factor, l.Step

	main := &loopast.Loop{
		Index:      l.Index,
		Lower:      l.Lower,
		Step:       f * s,
		Body:       replicate(l.Body, l.Index, f, s),
		Pragmas:    l.Pragmas,
		Introduced: l.Introduced,
		Line:       l.Line,
	}
	rem := &loopast.Loop{
		Index:   l.Index,
		Upper:   l.Upper,
		Step:    s,
		Body:    l.Body,
		Pragmas: append([]string(nil), l.Pragmas...),
		Line:    l.Line,
	}

	if trip, ok := l.TripCount(); ok {
		full := trip / f
		if full == 0 {
			return []loopast.Node{l}, nil
		}
		if trip%f == 0 {
			main.Upper = l.Upper
			return []loopast.Node{main}, nil
		}
		end := l.Lower.Add(full * f * s)
		main.Upper = end
		rem.Lower = &end
		return []loopast.Node{main, rem}, nil
	}

	main.Upper = l.Upper.Add(-(f - 1) * s)
	return []loopast.Node{main, rem}, nil
}

// replicate returns f copies of body, the k-th with index advanced by k*s.
// Copies are wrapped in blocks when the body declares variables.
func replicate(body []loopast.Node, index string, f, s int) []loopast.Node {
	scoped := declares(body)
	var out []loopast.Node
	for k := range f {
		cp := loopast.CloneNodes(body)
		if k > 0 {
			loopast.SubstituteNodes(cp, index, "("+index+"+"+strconv.Itoa(k*s)+")")
		}
		if scoped {
			out = append(out, &loopast.Block{Body: cp})
		} else {
			out = append(out, cp...)
		}
	}
	return out
}

var declKeywords = []string{
	"int", "long", "short", "char", "float", "double", "unsigned", "signed",
	"const", "register", "static", "size_t", "struct",
}

// declares reports whether any top-level statement of body looks like a
// declaration.
func declares(body []loopast.Node) bool {
	for _, n := range body {
		st, ok := n.(*loopast.Stmt)
		if !ok {
			continue
		}
		word := leadingWord(st.Text)
		for _, kw := range declKeywords {
			if word == kw {
				return true
			}
		}
	}
	return false
}

func leadingWord(text string) string {
	text = strings.TrimSpace(text)
	end := strings.IndexFunc(text, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	if end < 0 {
		return text
	}
	return text[:end]
}
