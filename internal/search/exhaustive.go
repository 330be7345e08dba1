package search

import (
	"sync"

	"github.com/looptune/looptune/internal/domain"
)

// exhaustiveEnumerator walks the Cartesian product as an odometer: the first
// declared parameter varies slowest, each domain in declared order.
type exhaustiveEnumerator struct {
	mu         sync.Mutex
	space      *domain.Space
	sizes      []int
	coord      []int
	started    bool
	done       bool
	infeasible int
}

func newExhaustive(space *domain.Space) *exhaustiveEnumerator {
	return &exhaustiveEnumerator{
		space: space,
		sizes: space.Sizes(),
		coord: make([]int, space.Dims()),
	}
}

func (e *exhaustiveEnumerator) Name() string        { return Exhaustive.String() }
func (e *exhaustiveEnumerator) Adaptive() bool      { return false }
func (e *exhaustiveEnumerator) Observe(Observation) {}

func (e *exhaustiveEnumerator) Skipped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.infeasible
}

func (e *exhaustiveEnumerator) Next() (domain.Variant, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for !e.done {
		if !e.started {
			e.started = true
			for _, n := range e.sizes {
				if n == 0 {
					e.done = true
				}
			}
			if e.done {
				break
			}
		} else if !e.advance() {
			e.done = true
			break
		}
		v := e.space.VariantAt(e.coord)
		if feasible(e.space, v) {
			return v, true
		}
		e.infeasible++
	}
	return domain.Variant{}, false
}

// advance increments the odometer, reporting false after the last point.
func (e *exhaustiveEnumerator) advance() bool {
	for k := len(e.coord) - 1; k >= 0; k-- {
		e.coord[k]++
		if e.coord[k] < e.sizes[k] {
			return true
		}
		e.coord[k] = 0
	}
	return false
}
