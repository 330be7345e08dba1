package search

import (
	"context"
	"testing"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/looptune/looptune/internal/domain"
)

func intDomain(name string, ns ...int64) domain.Domain {
	vals := make([]cty.Value, len(ns))
	for i, n := range ns {
		vals[i] = cty.NumberIntVal(n)
	}
	return domain.Domain{Name: name, Values: vals}
}

func mustSpace(t *testing.T, cons []*domain.Constraint, ds ...domain.Domain) *domain.Space {
	t.Helper()
	s, err := domain.NewSpace(ds, cons)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return s
}

func drain(e Enumerator) []domain.Variant {
	var out []domain.Variant
	for {
		v, ok := e.Next()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in   string
		want Algorithm
	}{
		{"Exhaustive", Exhaustive},
		{"simplex", Simplex},
		{" RANDOM ", Random},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseAlgorithm(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := ParseAlgorithm("Annealing"); err == nil {
		t.Fatalf("expected error for unknown algorithm")
	}
}

func TestExhaustiveDeclaredOrder(t *testing.T) {
	space := mustSpace(t, nil,
		intDomain("U4", 1, 24),
		domain.Domain{Name: "IVEC1", Values: []cty.Value{cty.False, cty.True}},
	)
	e, err := New(Exhaustive, space, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := drain(e)
	want := []string{
		"U4=1 IVEC1=False",
		"U4=1 IVEC1=True",
		"U4=24 IVEC1=False",
		"U4=24 IVEC1=True",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d variants, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Key() != want[i] {
			t.Errorf("variant %d = %q, want %q", i, got[i].Key(), want[i])
		}
	}
	if _, ok := e.Next(); ok {
		t.Fatalf("exhausted enumerator must stay exhausted")
	}
}

func TestExhaustiveCoversProductOnce(t *testing.T) {
	space := mustSpace(t, nil,
		intDomain("A", 1, 2, 3),
		intDomain("B", 1, 2),
		intDomain("C", 1, 2, 3, 4),
	)
	e, _ := New(Exhaustive, space, Options{})
	got := drain(e)
	if len(got) != space.Cardinality() || len(got) != 24 {
		t.Fatalf("expected 24 variants, got %d", len(got))
	}
	seen := make(map[string]bool)
	for _, v := range got {
		if seen[v.CoordKey()] {
			t.Fatalf("variant %s visited twice", v.Key())
		}
		seen[v.CoordKey()] = true
	}
}

func TestExhaustiveSkipsInfeasible(t *testing.T) {
	c, err := domain.CompileConstraint("cap", "U1*U2 <= 4", 1)
	if err != nil {
		t.Fatalf("CompileConstraint: %v", err)
	}
	space := mustSpace(t, []*domain.Constraint{c}, intDomain("U1", 1, 2, 4), intDomain("U2", 1, 2, 4))
	e, _ := New(Exhaustive, space, Options{})
	got := drain(e)
	if len(got) != 6 {
		t.Fatalf("expected 6 feasible variants, got %d", len(got))
	}
	if e.Skipped() != 3 {
		t.Fatalf("expected 3 skipped, got %d", e.Skipped())
	}
}

func TestRandomWithoutReplacement(t *testing.T) {
	space := mustSpace(t, nil, intDomain("A", 1, 2, 3, 4, 5), intDomain("B", 1, 2, 3))
	if _, err := New(Random, space, Options{}); err == nil {
		t.Fatalf("Random without total_runs or time_limit must be rejected")
	}
	e, err := New(Random, space, Options{TotalRuns: 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := drain(e)
	if len(got) != 15 {
		t.Fatalf("expected all 15 points, got %d", len(got))
	}
	seen := make(map[string]bool)
	for _, v := range got {
		if seen[v.CoordKey()] {
			t.Fatalf("point %s drawn twice", v.Key())
		}
		seen[v.CoordKey()] = true
	}

	again, _ := New(Random, space, Options{TotalRuns: 100})
	for i, v := range drain(again) {
		if v.CoordKey() != got[i].CoordKey() {
			t.Fatalf("default seed must be deterministic; draw %d differs", i)
		}
	}
}

// bowl scores distance from a target coordinate.
func bowl(target []int) func(domain.Variant) float64 {
	return func(v domain.Variant) float64 {
		score := 1.0
		for i, c := range v.Coord() {
			d := c - target[i]
			score += float64(d * d)
		}
		return score
	}
}

func TestSimplexReachesMinimum(t *testing.T) {
	space := mustSpace(t, nil, intDomain("U1", 1, 2, 3, 4, 5, 6, 7, 8), intDomain("U2", 1, 2, 3, 4, 5, 6, 7, 8))
	e, err := New(Simplex, space, Options{Patience: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !e.Adaptive() {
		t.Fatalf("Simplex must be adaptive")
	}
	score := bowl([]int{5, 2})
	best, bestScore, evals := "", 0.0, 0
	for {
		v, ok := e.Next()
		if !ok {
			break
		}
		evals++
		s := score(v)
		if best == "" || s < bestScore {
			best, bestScore = v.CoordKey(), s
		}
		e.Observe(Observation{Variant: v, Kind: Succeeded, Score: s})
	}
	if best != "5,2" {
		t.Fatalf("expected walk to reach 5,2, best was %s", best)
	}
	if evals >= space.Cardinality() {
		t.Fatalf("expected neighbour walk to evaluate fewer than %d points, got %d", space.Cardinality(), evals)
	}
}

func TestSimplexRetriesImprovingMove(t *testing.T) {
	space := mustSpace(t, nil, intDomain("A", 0, 1, 2, 3), intDomain("B", 0, 1, 2, 3))
	e, _ := New(Simplex, space, Options{})
	score := bowl([]int{3, 0})

	var order []string
	for i := 0; i < 4; i++ {
		v, ok := e.Next()
		if !ok {
			t.Fatalf("walk ended early")
		}
		order = append(order, v.CoordKey())
		e.Observe(Observation{Variant: v, Kind: Succeeded, Score: score(v)})
	}
	want := []string{"0,0", "1,0", "2,0", "3,0"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("step %d = %s, want %s (order %v)", i, order[i], want[i], order)
		}
	}
}

func TestSimplexStartsAtX0AndSkipsFailures(t *testing.T) {
	space := mustSpace(t, nil, intDomain("A", 0, 1, 2), intDomain("B", 0, 1, 2))
	if _, err := New(Simplex, space, Options{X0: []int{3, 0}}); err == nil {
		t.Fatalf("expected out-of-range x0 error")
	}
	e, err := New(Simplex, space, Options{X0: []int{1, 1}, Patience: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v, _ := e.Next()
	if v.CoordKey() != "1,1" {
		t.Fatalf("expected first proposal at x0, got %s", v.CoordKey())
	}
	e.Observe(Observation{Variant: v, Kind: Failed})
	v, _ = e.Next()
	if v.CoordKey() != "0,0" {
		t.Fatalf("expected scan from origin after a failed start, got %s", v.CoordKey())
	}
	e.Observe(Observation{Variant: v, Kind: Succeeded, Score: 1})
	for n := 0; ; n++ {
		v, ok := e.Next()
		if !ok {
			if n != 2 {
				t.Fatalf("expected patience of 2 to stop after 2 failures, got %d", n)
			}
			break
		}
		e.Observe(Observation{Variant: v, Kind: Failed})
	}
}

func TestNoImprovementStrategy(t *testing.T) {
	s := NewNoImprovementStrategy(0)
	if s.Patience != DefaultPatience {
		t.Fatalf("expected default patience %d", DefaultPatience)
	}
	hist := []Step{{Seq: 0, OK: false}, {Seq: 1, OK: false}}
	if done, _ := s.CheckConvergence(hist); done {
		t.Fatalf("must not converge before any success")
	}
	hist = []Step{{Seq: 0, Score: 2, OK: true}, {Seq: 1, Score: 3, OK: true}, {Seq: 2, Score: 1, OK: true}}
	for i := 3; i < 3+DefaultPatience; i++ {
		hist = append(hist, Step{Seq: i, Score: 5, OK: true})
	}
	if done, reason := s.CheckConvergence(hist); !done || reason == "" {
		t.Fatalf("expected convergence after %d non-improving steps", DefaultPatience)
	}
}

func TestPlateauStrategy(t *testing.T) {
	p := &PlateauStrategy{Window: 3, Tolerance: 0.1}
	hist := []Step{{Score: 9, OK: true}, {Score: 1.0, OK: true}, {OK: false}, {Score: 1.05, OK: true}, {Score: 1.02, OK: true}}
	if done, _ := p.CheckConvergence(hist); !done {
		t.Fatalf("expected plateau")
	}
	c := NewCombinedStrategy(NewNoImprovementStrategy(100), p)
	if done, reason := c.CheckConvergence(hist); !done || reason[:7] != "plateau" {
		t.Fatalf("expected combined strategy to report plateau, got %q", reason)
	}
}

func TestBudgetCharging(t *testing.T) {
	ctx := context.Background()
	b := NewBudget(2, 0, false, true)
	for _, k := range []Kind{Rejected, Failed, Succeeded} {
		if !b.Reserve(ctx) {
			t.Fatalf("reserve refused before budget was spent")
		}
		b.Settle(k)
	}
	if b.Charged() != 2 || !b.Exhausted() {
		t.Fatalf("expected 2 charged and exhausted, got %d", b.Charged())
	}
	if b.Reserve(ctx) {
		t.Fatalf("reserve must fail once exhausted")
	}
}

func TestBudgetBlocksOnOutstanding(t *testing.T) {
	ctx := context.Background()
	b := NewBudget(1, 0, false, true)
	if !b.Reserve(ctx) {
		t.Fatalf("first reserve failed")
	}
	got := make(chan bool, 1)
	go func() { got <- b.Reserve(ctx) }()

	select {
	case <-got:
		t.Fatalf("second reserve must wait for the outstanding one")
	case <-time.After(20 * time.Millisecond):
	}
	b.Settle(Rejected)
	select {
	case ok := <-got:
		if !ok {
			t.Fatalf("uncharged outcome should free the slot")
		}
	case <-time.After(time.Second):
		t.Fatalf("reserve did not wake up")
	}
}

func TestBudgetCancelAndDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBudget(1, 0, false, true)
	b.Reserve(ctx)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if b.Reserve(ctx) {
		t.Fatalf("reserve must fail after cancellation")
	}

	d := NewBudget(0, time.Hour, false, false)
	d.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if d.Reserve(context.Background()) || !d.Exhausted() {
		t.Fatalf("expired budget must refuse reservations")
	}
}
