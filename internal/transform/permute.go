package transform

import (
	"slices"

	"github.com/looptune/looptune/internal/loopast"
)

// Permute reorders nested loops so that the loops named in Order appear, from
// outermost to innermost, in that order. Loops not named keep their place.
// Whether the new order computes the same result is left to the directive's
// author.
type Permute struct {
	Order []string
}

func (p Permute) Name() string { return "Permute" }

func (p Permute) Apply(l *loopast.Loop) ([]loopast.Node, error) {
	if len(p.Order) < 2 {
		if len(p.Order) == 1 && !slices.ContainsFunc(nestPath(l), func(x *loopast.Loop) bool { return x.Index == p.Order[0] }) {
			return nil, invalid("no loop over %s in the nest", p.Order[0])
		}
		return []loopast.Node{l}, nil
	}
	path := nestPath(l)
	var slots []*loopast.Loop
	var headers []header
	for i, name := range p.Order {
		if slices.Contains(p.Order[:i], name) {
			return nil, invalid("loop %s listed twice", name)
		}
		at := slices.IndexFunc(path, func(x *loopast.Loop) bool { return x.Index == name })
		if at < 0 {
			return nil, invalid("no loop over %s in the nest", name)
		}
		slots = append(slots, path[at])
		headers = append(headers, headerOf(path[at]))
	}
	slices.SortFunc(slots, func(a, b *loopast.Loop) int {
		return slices.Index(path, a) - slices.Index(path, b)
	})
	for i, slot := range slots {
		headers[i].set(slot)
	}
	return []loopast.Node{l}, nil
}

// nestPath follows the nest down from l while each body holds exactly one
// loop; statements beside that loop are allowed.
func nestPath(l *loopast.Loop) []*loopast.Loop {
	path := []*loopast.Loop{l}
	for cur := l; ; {
		var next *loopast.Loop
		for _, n := range cur.Body {
			if x, ok := n.(*loopast.Loop); ok {
				if next != nil {
					return path
				}
				next = x
			}
		}
		if next == nil {
			return path
		}
		path = append(path, next)
		cur = next
	}
}

// header is the part of a loop that moves under permutation.
type header struct {
	index      string
	lower      *loopast.Bound
	upper      loopast.Bound
	step       int
	pragmas    []string
	introduced bool
}

func headerOf(l *loopast.Loop) header {
	return header{l.Index, l.Lower, l.Upper, l.Step, l.Pragmas, l.Introduced}
}

func (h header) set(l *loopast.Loop) {
	l.Index, l.Lower, l.Upper, l.Step = h.index, h.lower, h.upper, h.step
	l.Pragmas, l.Introduced = h.pragmas, h.introduced
}
