// Package search enumerates variants of a parameter space. A strategy is
// chosen once per session from a closed set and driven through the
// Enumerator interface: Next proposes, Observe feeds back the outcome.
package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/looptune/looptune/internal/domain"
)

// Algorithm is the closed set of search strategies.
type Algorithm int

const (
	Exhaustive Algorithm = iota
	Simplex
	Random
)

var algorithmNames = map[Algorithm]string{
	Exhaustive: "Exhaustive",
	Simplex:    "Simplex",
	Random:     "Random",
}

func (a Algorithm) String() string {
	if n, ok := algorithmNames[a]; ok {
		return n
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// ParseAlgorithm maps an annotation name to a strategy, case-insensitively.
func ParseAlgorithm(name string) (Algorithm, error) {
	for a, n := range algorithmNames {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown search algorithm %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (a Algorithm) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// Options configures a strategy and the session budget.
type Options struct {
	// TotalRuns caps charged evaluations; 0 means unlimited.
	TotalRuns int
	// TimeLimit caps the wall-clock length of the search; 0 means unlimited.
	TimeLimit time.Duration
	// Patience is the number of non-improving observations Simplex tolerates.
	Patience int
	// X0 is the Simplex start coordinate; nil means the origin.
	X0 []int
	// Seed seeds Random; 0 means the default seed 1.
	Seed int64
	// PlateauWindow and PlateauTolerance additionally stop Simplex when the
	// last PlateauWindow successful scores differ by at most the tolerance.
	PlateauWindow    int
	PlateauTolerance float64
	// Convergence overrides the Simplex stopping rule.
	Convergence ConvergenceStrategy
}

// DefaultPatience is used when Options.Patience is unset.
const DefaultPatience = 5

// Kind classifies an evaluation outcome.
type Kind int

const (
	Succeeded Kind = iota
	Failed
	Rejected // structurally invalid, never built
)

// Observation is the feedback for one proposed variant.
type Observation struct {
	Variant domain.Variant
	Kind    Kind
	Score   float64
}

// Enumerator produces variants lazily. Consuming it is destructive; it
// cannot be restarted.
type Enumerator interface {
	// Next returns the next variant to evaluate, or false when the strategy
	// is finished.
	Next() (domain.Variant, bool)
	// Observe reports the outcome of a variant returned by Next.
	Observe(Observation)
	// Adaptive reports whether Next depends on prior observations. Adaptive
	// strategies must be driven one variant at a time.
	Adaptive() bool
	// Skipped returns how many points were skipped as infeasible.
	Skipped() int
	Name() string
}

// New selects and builds a strategy.
func New(alg Algorithm, space *domain.Space, opts Options) (Enumerator, error) {
	if space == nil {
		return nil, fmt.Errorf("search: nil space")
	}
	switch alg {
	case Exhaustive:
		return newExhaustive(space), nil
	case Simplex:
		return newSimplex(space, opts)
	case Random:
		if opts.TotalRuns <= 0 && opts.TimeLimit <= 0 {
			return nil, fmt.Errorf("search: Random requires total_runs or time_limit")
		}
		return newRandom(space, opts.Seed), nil
	}
	return nil, fmt.Errorf("search: unknown algorithm %v", alg)
}

// feasible evaluates constraints, treating an evaluation error as infeasible.
func feasible(space *domain.Space, v domain.Variant) bool {
	ok, err := space.Feasible(v)
	return err == nil && ok
}
