package search

import (
	"fmt"
	"sync"

	"github.com/looptune/looptune/internal/domain"
)

type move struct{ param, dir int }

// simplexEnumerator is a discrete neighbour walk around the best variant.
// Until a first success it proposes points in exhaustive order starting at
// x0. Afterwards, an improving move along (param, dir) is retried once more
// in the same direction; otherwise the first parameter in declared order
// with an unexplored neighbour of the best (+1 before -1) is proposed.
type simplexEnumerator struct {
	mu    sync.Mutex
	space *domain.Space
	sizes []int

	start       []int
	scan        []int
	startTried  bool
	originTried bool
	explored    map[string]bool

	best      []int
	bestScore float64
	lastMove  *move

	pending     bool
	history     []Step
	convergence ConvergenceStrategy
	done        bool
	reason      string
	infeasible  int
}

func newSimplex(space *domain.Space, opts Options) (*simplexEnumerator, error) {
	sizes := space.Sizes()
	start := make([]int, len(sizes))
	if opts.X0 != nil {
		if len(opts.X0) != len(sizes) {
			return nil, fmt.Errorf("search: x0 has %d coordinates, space has %d parameters", len(opts.X0), len(sizes))
		}
		for i, c := range opts.X0 {
			if c < 0 || c >= sizes[i] {
				return nil, fmt.Errorf("search: x0[%d]=%d out of range [0,%d)", i, c, sizes[i])
			}
		}
		copy(start, opts.X0)
	}
	conv := opts.Convergence
	if conv == nil {
		conv = NewNoImprovementStrategy(opts.Patience)
		if opts.PlateauWindow > 0 {
			conv = NewCombinedStrategy(conv, &PlateauStrategy{Window: opts.PlateauWindow, Tolerance: opts.PlateauTolerance})
		}
	}
	return &simplexEnumerator{
		space:       space,
		sizes:       sizes,
		start:       start,
		explored:    make(map[string]bool),
		convergence: conv,
	}, nil
}

func (s *simplexEnumerator) Name() string   { return Simplex.String() }
func (s *simplexEnumerator) Adaptive() bool { return true }

func (s *simplexEnumerator) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infeasible
}

// Reason explains why the walk stopped, empty while it is running.
func (s *simplexEnumerator) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *simplexEnumerator) Next() (domain.Variant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.pending {
		return domain.Variant{}, false
	}
	if s.best == nil {
		if v, ok := s.nextScan(); ok {
			return v, true
		}
		s.finish("space exhausted without a successful variant")
		return domain.Variant{}, false
	}
	if s.lastMove != nil {
		if v, ok := s.try(s.shift(s.best, *s.lastMove)); ok {
			return v, true
		}
	}
	for p := range s.sizes {
		for _, dir := range []int{1, -1} {
			if v, ok := s.try(s.shift(s.best, move{p, dir})); ok {
				return v, true
			}
		}
	}
	s.finish("no unexplored neighbour of the best variant")
	return domain.Variant{}, false
}

// nextScan proposes x0 first, then walks the odometer from the origin.
func (s *simplexEnumerator) nextScan() (domain.Variant, bool) {
	if !s.startTried {
		s.startTried = true
		s.scan = make([]int, len(s.sizes))
		if v, ok := s.try(s.start); ok {
			return v, true
		}
	}
	if !s.originTried {
		s.originTried = true
		if v, ok := s.try(s.scan); ok {
			return v, true
		}
	}
	for s.advanceScan() {
		if v, ok := s.try(s.scan); ok {
			return v, true
		}
	}
	return domain.Variant{}, false
}

func (s *simplexEnumerator) advanceScan() bool {
	for k := len(s.scan) - 1; k >= 0; k-- {
		s.scan[k]++
		if s.scan[k] < s.sizes[k] {
			return true
		}
		s.scan[k] = 0
	}
	return false
}

func (s *simplexEnumerator) shift(coord []int, m move) []int {
	out := append([]int(nil), coord...)
	out[m.param] += m.dir
	return out
}

// try proposes coord when it is in range, unexplored and feasible.
func (s *simplexEnumerator) try(coord []int) (domain.Variant, bool) {
	for i, c := range coord {
		if c < 0 || c >= s.sizes[i] {
			return domain.Variant{}, false
		}
	}
	key := domain.CoordKey(coord)
	if s.explored[key] {
		return domain.Variant{}, false
	}
	s.explored[key] = true
	v := s.space.VariantAt(coord)
	if !feasible(s.space, v) {
		s.infeasible++
		return domain.Variant{}, false
	}
	s.pending = true
	return v, true
}

func (s *simplexEnumerator) Observe(o Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
	s.history = append(s.history, Step{Seq: len(s.history), Score: o.Score, OK: o.Kind == Succeeded})

	coord := o.Variant.Coord()
	if o.Kind == Succeeded && (s.best == nil || o.Score < s.bestScore) {
		s.lastMove = nil
		if s.best != nil {
			s.lastMove = moveBetween(s.best, coord)
		}
		s.best = coord
		s.bestScore = o.Score
	} else {
		s.lastMove = nil
	}

	if converged, reason := s.convergence.CheckConvergence(s.history); converged {
		s.finish(reason)
	}
}

func (s *simplexEnumerator) finish(reason string) {
	if !s.done {
		s.done = true
		s.reason = reason
	}
}

// moveBetween returns the unit move from a to b, or nil when they differ in
// more than one coordinate or by more than one step.
func moveBetween(a, b []int) *move {
	var m *move
	for i := range a {
		d := b[i] - a[i]
		if d == 0 {
			continue
		}
		if m != nil || (d != 1 && d != -1) {
			return nil
		}
		m = &move{param: i, dir: d}
	}
	return m
}
