package transform

import (
	"slices"
	"strings"

	"github.com/looptune/looptune/internal/loopast"
)

// Vectorize attaches vectorization pragmas to the innermost loops. It never
// changes control flow.
type Vectorize struct {
	Enabled bool
	Hints   []string
}

func (v Vectorize) Name() string { return "Vectorize" }

// vectorTokens are hints that expand to `vector <token>`.
var vectorTokens = []string{"always", "aligned", "unaligned", "temporal", "nontemporal"}

func (v Vectorize) Apply(l *loopast.Loop) ([]loopast.Node, error) {
	if !v.Enabled {
		return []loopast.Node{l}, nil
	}
	var pragmas []string
	for _, h := range v.Hints {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if slices.Contains(vectorTokens, h) {
			h = "vector " + h
		}
		pragmas = append(pragmas, h)
	}
	for _, inner := range loopast.Innermost(l) {
		addPragmas(inner, pragmas)
	}
	return []loopast.Node{l}, nil
}

// Pragma emits `#pragma <text>` before the annotated loop.
type Pragma struct {
	Text []string
}

func (p Pragma) Name() string { return "Pragma" }

func (p Pragma) Apply(l *loopast.Loop) ([]loopast.Node, error) {
	var pragmas []string
	for _, t := range p.Text {
		if t = strings.TrimSpace(t); t != "" {
			pragmas = append(pragmas, t)
		}
	}
	addPragmas(l, pragmas)
	return []loopast.Node{l}, nil
}

func addPragmas(l *loopast.Loop, pragmas []string) {
	for _, p := range pragmas {
		if !slices.Contains(l.Pragmas, p) {
			l.Pragmas = append(l.Pragmas, p)
		}
	}
}
