package transform

import (
	"slices"

	"github.com/looptune/looptune/internal/loopast"
)

// RegTile strip-mines the named loops. Each tiled loop becomes an outer tile
// loop stepping by factor and an inner point loop covering one tile.
type RegTile struct {
	Loops   []string
	Factors []int
}

func (t RegTile) Name() string { return "RegTile" }

// Apply tiles loops of the nest rooted at l. When the tiled loops form a
// perfectly nested chain whose bounds do not depend on each other, all tile
// loops are hoisted above the outermost tiled loop in their original
// relative order; otherwise every loop is tiled in place.
func (t RegTile) Apply(l *loopast.Loop) ([]loopast.Node, error) {
	if len(t.Loops) != len(t.Factors) {
		return nil, invalid("%d loops but %d factors", len(t.Loops), len(t.Factors))
	}
	factors := make(map[string]int, len(t.Loops))
	for i, name := range t.Loops {
		if _, dup := factors[name]; dup {
			return nil, invalid("loop %s tiled twice", name)
		}
		if t.Factors[i] <= 0 {
			return nil, invalid("tile factor for %s must be positive, got %d", name, t.Factors[i])
		}
		factors[name] = t.Factors[i]
	}

	all := append([]*loopast.Loop{l}, loopast.Loops(l.Body)...)
	var targets []*loopast.Loop
	for _, name := range t.Loops {
		found := false
		for _, x := range all {
			if x.Index == name {
				found = true
				if factors[name] > 1 {
					targets = append(targets, x)
				}
			}
		}
		if !found {
			return nil, invalid("no loop over %s in the nest", name)
		}
	}
	if len(targets) == 0 {
		return []loopast.Node{l}, nil
	}
	// Outermost first.
	slices.SortStableFunc(targets, func(a, b *loopast.Loop) int {
		return slices.Index(all, a) - slices.Index(all, b)
	})

	names := newNamer(all)
	if chain, ok := hoistable(l, targets); ok {
		return []loopast.Node{tileChain(l, chain, targets, factors, names)}, nil
	}
	root := []loopast.Node{l}
	for _, x := range targets {
		tile := tileLoop(x, factors[x.Index], names)
		root = replaceLoop(root, x, tile)
	}
	return root, nil
}

// perfectChain follows single-loop bodies down from l.
func perfectChain(l *loopast.Loop) []*loopast.Loop {
	chain := []*loopast.Loop{l}
	for cur := l; len(cur.Body) == 1; {
		next, ok := cur.Body[0].(*loopast.Loop)
		if !ok {
			break
		}
		chain = append(chain, next)
		cur = next
	}
	return chain
}

// hoistable returns the chain segment from the outermost to the innermost
// target when the targets can share one band of tile loops.
func hoistable(l *loopast.Loop, targets []*loopast.Loop) ([]*loopast.Loop, bool) {
	chain := perfectChain(l)
	first := slices.Index(chain, targets[0])
	last := slices.Index(chain, targets[len(targets)-1])
	if first < 0 || last < 0 {
		return nil, false
	}
	seen := make(map[string]bool)
	for _, x := range targets {
		pos := slices.Index(chain, x)
		if pos < 0 || seen[x.Index] {
			return nil, false
		}
		seen[x.Index] = true
		for _, outer := range chain[first:pos] {
			if boundsUse(x, outer.Index) {
				return nil, false
			}
		}
	}
	return chain[first : last+1], true
}

func boundsUse(l *loopast.Loop, name string) bool {
	if l.Lower != nil && loopast.ContainsIdent(l.Lower.Expr, name) {
		return true
	}
	return loopast.ContainsIdent(l.Upper.Expr, name)
}

// tileChain builds the tile band above chain[0] and turns every target into
// its point loop.
func tileChain(l *loopast.Loop, chain, targets []*loopast.Loop, factors map[string]int, names *namer) loopast.Node {
	top := chain[0]
	var band []*loopast.Loop
	for _, x := range targets {
		band = append(band, pointLoop(x, factors[x.Index], names))
	}
	var inner loopast.Node = top
	for i := len(band) - 1; i >= 0; i-- {
		band[i].Body = []loopast.Node{inner}
		inner = band[i]
	}
	if top == l {
		return inner
	}
	parent := chainParent(l, top)
	parent.Body = []loopast.Node{inner}
	return l
}

func chainParent(l, child *loopast.Loop) *loopast.Loop {
	for cur := l; len(cur.Body) == 1; {
		next, ok := cur.Body[0].(*loopast.Loop)
		if !ok {
			break
		}
		if next == child {
			return cur
		}
		cur = next
	}
	return nil
}

// tileLoop tiles x in place: the returned tile loop wraps x.
func tileLoop(x *loopast.Loop, factor int, names *namer) *loopast.Loop {
	tile := pointLoop(x, factor, names)
	tile.Body = []loopast.Node{x}
	return tile
}

// pointLoop rewrites x's header to cover a single tile and returns the
// matching tile loop, without a body.
func pointLoop(x *loopast.Loop, factor int, names *namer) *loopast.Loop {
	span := factor * x.Step
	lower := x.LowerOr(loopast.Sym(x.Index))
	idx := names.fresh(x.Index + "t")
	tile := &loopast.Loop{
		Index:      idx,
		Lower:      &lower,
		Upper:      x.Upper,
		Step:       span,
		Introduced: true,
		Line:       x.Line,
	}

	start := loopast.Sym(idx)
	end := start.Add(span)
	if trip, ok := x.TripCount(); !ok || trip%factor != 0 {
		end = loopast.MinBound(end, x.Upper)
	}
	x.Lower = &start
	x.Upper = end
	return tile
}

// replaceLoop swaps target for repl anywhere in nodes.
func replaceLoop(nodes []loopast.Node, target *loopast.Loop, repl loopast.Node) []loopast.Node {
	for i, n := range nodes {
		switch v := n.(type) {
		case *loopast.Loop:
			if v == target {
				nodes[i] = repl
				continue
			}
			v.Body = replaceLoop(v.Body, target, repl)
		case *loopast.Block:
			v.Body = replaceLoop(v.Body, target, repl)
		}
	}
	return nodes
}

// namer hands out index names not used in a nest.
type namer struct {
	used map[string]bool
}

func newNamer(loops []*loopast.Loop) *namer {
	used := make(map[string]bool)
	for _, l := range loops {
		used[l.Index] = true
	}
	return &namer{used: used}
}

func (n *namer) fresh(base string) string {
	name := base
	for n.used[name] {
		name += "t"
	}
	n.used[name] = true
	return name
}
