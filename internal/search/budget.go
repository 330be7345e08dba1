package search

import (
	"context"
	"sync"
	"time"
)

// Budget accounts evaluations against total_runs and time_limit. Workers
// Reserve before evaluating a variant and Settle afterwards; whether invalid
// and failed variants are charged is configurable. Reserve blocks while
// outstanding reservations could still exhaust the budget, so concurrent
// workers never overshoot the cap.
type Budget struct {
	mu   sync.Mutex
	cond *sync.Cond

	limit         int
	deadline      time.Time
	chargeInvalid bool
	chargeFailed  bool

	charged int
	pending int
	now     func() time.Time
}

// NewBudget creates a budget. A zero limit or time limit disables that cap.
func NewBudget(limit int, timeLimit time.Duration, chargeInvalid, chargeFailed bool) *Budget {
	b := &Budget{
		limit:         limit,
		chargeInvalid: chargeInvalid,
		chargeFailed:  chargeFailed,
		now:           time.Now,
	}
	if timeLimit > 0 {
		b.deadline = b.now().Add(timeLimit)
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Reserve claims one evaluation slot. It returns false once the budget is
// spent, the deadline has passed or ctx is done.
func (b *Budget) Reserve(ctx context.Context) bool {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if ctx.Err() != nil || b.expiredLocked() {
			return false
		}
		if b.limit <= 0 || b.charged+b.pending < b.limit {
			b.pending++
			return true
		}
		if b.pending == 0 {
			return false
		}
		b.cond.Wait()
	}
}

// Release returns a reservation that was never evaluated.
func (b *Budget) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending > 0 {
		b.pending--
	}
	b.cond.Broadcast()
}

// Settle closes a reservation with the evaluation outcome.
func (b *Budget) Settle(kind Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending > 0 {
		b.pending--
	}
	switch {
	case kind == Succeeded,
		kind == Failed && b.chargeFailed,
		kind == Rejected && b.chargeInvalid:
		b.charged++
	}
	b.cond.Broadcast()
}

// Charged returns the number of charged evaluations.
func (b *Budget) Charged() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.charged
}

// Exhausted reports whether no further evaluation can be reserved.
func (b *Budget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expiredLocked() || (b.limit > 0 && b.charged >= b.limit)
}

func (b *Budget) expiredLocked() bool {
	return !b.deadline.IsZero() && !b.now().Before(b.deadline)
}
