package search

import (
	"sync"

	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/pkg/utils"
)

// randomEnumerator samples the space without replacement using a sparse
// Fisher-Yates shuffle over linear indices, so memory grows with the number
// of draws rather than the size of the space.
type randomEnumerator struct {
	mu         sync.Mutex
	space      *domain.Space
	sizes      []int
	n          int
	drawn      int
	swaps      map[int]int
	rng        *utils.RandSource
	infeasible int
}

func newRandom(space *domain.Space, seed int64) *randomEnumerator {
	if seed == 0 {
		seed = 1
	}
	return &randomEnumerator{
		space: space,
		sizes: space.Sizes(),
		n:     space.Cardinality(),
		swaps: make(map[int]int),
		rng:   utils.NewRandSource(seed),
	}
}

func (r *randomEnumerator) Name() string        { return Random.String() }
func (r *randomEnumerator) Adaptive() bool      { return false }
func (r *randomEnumerator) Observe(Observation) {}

func (r *randomEnumerator) Skipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infeasible
}

func (r *randomEnumerator) at(i int) int {
	if v, ok := r.swaps[i]; ok {
		return v
	}
	return i
}

func (r *randomEnumerator) Next() (domain.Variant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.drawn < r.n {
		j := r.drawn + r.rng.Intn(r.n-r.drawn)
		idx := r.at(j)
		r.swaps[j] = r.at(r.drawn)
		delete(r.swaps, r.drawn)
		r.drawn++

		v := r.space.VariantAt(decode(idx, r.sizes))
		if feasible(r.space, v) {
			return v, true
		}
		r.infeasible++
	}
	return domain.Variant{}, false
}

// decode maps a linear index to a coordinate, last parameter fastest.
func decode(idx int, sizes []int) []int {
	coord := make([]int, len(sizes))
	for k := len(sizes) - 1; k >= 0; k-- {
		coord[k] = idx % sizes[k]
		idx /= sizes[k]
	}
	return coord
}
