package recorder

import (
	"sync"
	"testing"

	"github.com/zclconf/go-cty/cty"

	"github.com/looptune/looptune/internal/domain"
)

func testSpace(t *testing.T) *domain.Space {
	t.Helper()
	d, err := domain.NewDomain("U", cty.TupleVal([]cty.Value{
		cty.NumberIntVal(1), cty.NumberIntVal(2), cty.NumberIntVal(4), cty.NumberIntVal(8),
	}))
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	space, err := domain.NewSpace([]domain.Domain{d}, nil)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return space
}

func TestParseReducer(t *testing.T) {
	samples := []float64{5, 1, 3}
	tests := []struct {
		name string
		want float64
	}{
		{"", 3},
		{"mean", 3},
		{"median", 3},
		{"min", 1},
	}
	for _, tt := range tests {
		r, err := ParseReducer(tt.name)
		if err != nil {
			t.Fatalf("ParseReducer(%q): %v", tt.name, err)
		}
		if got := r(samples); got != tt.want {
			t.Errorf("%q reducer = %v, want %v", tt.name, got, tt.want)
		}
	}
	if _, err := ParseReducer("trimmed"); err == nil {
		t.Error("expected error for unknown reducer")
	}
}

func TestLessTotalOrder(t *testing.T) {
	ok := &Measurement{Seq: 3, Status: Success, Aggregate: 2}
	faster := &Measurement{Seq: 4, Status: Success, Aggregate: 1}
	tie := &Measurement{Seq: 5, Status: Success, Aggregate: 2}
	failed := &Measurement{Seq: 1, Status: BuildFailed}

	if !Less(ok, failed, FirstWins) || Less(failed, ok, FirstWins) {
		t.Error("success must order before failure")
	}
	if !Less(faster, ok, FirstWins) {
		t.Error("lower aggregate must win")
	}
	if !Less(ok, tie, FirstWins) || Less(tie, ok, FirstWins) {
		t.Error("first-found must win ties by default")
	}
	if !Less(tie, ok, LastWins) {
		t.Error("last-found must win ties with LastWins")
	}
}

func TestRecorderBestAndCounts(t *testing.T) {
	space := testSpace(t)
	r := New(nil, FirstWins)

	steps := []struct {
		m        *Measurement
		improved bool
	}{
		{&Measurement{Variant: space.VariantAt([]int{0}), Status: Success, Samples: []float64{8, 8}}, true},
		{&Measurement{Variant: space.VariantAt([]int{1}), Status: RunFailed, Samples: []float64{1}}, false},
		{&Measurement{Variant: space.VariantAt([]int{2}), Status: Success, Samples: []float64{2, 4}}, true},
		{&Measurement{Variant: space.VariantAt([]int{3}), Status: Success, Samples: []float64{3}}, false},
		{&Measurement{Variant: space.VariantAt([]int{3}), Status: Invalid}, false},
	}
	for i, s := range steps {
		if got := r.Record(s.m); got != s.improved {
			t.Errorf("step %d: improved = %v, want %v", i, got, s.improved)
		}
	}

	res := r.Result()
	if res.Best == nil || res.Best.Variant.Key() != "U=4" || res.Best.Aggregate != 3 {
		t.Fatalf("best = %+v", res.Best)
	}
	if res.Best.StdDev != 1 || res.History[0].StdDev != 0 {
		t.Errorf("stddev = %v / %v, want 1 / 0", res.Best.StdDev, res.History[0].StdDev)
	}
	if len(res.History) != 5 || res.History[1].Samples != nil {
		t.Errorf("history = %+v; failed samples must be discarded", res.History)
	}
	want := map[string]int{"Success": 3, "RunFailed": 1, "Invalid": 1}
	for k, v := range want {
		if res.Counts[k] != v {
			t.Errorf("Counts[%s] = %d, want %d", k, res.Counts[k], v)
		}
	}
	if res.Succeeded() != 3 {
		t.Errorf("Succeeded = %d", res.Succeeded())
	}
}

func TestRecorderNoSuccess(t *testing.T) {
	space := testSpace(t)
	r := New(nil, FirstWins)
	r.Record(&Measurement{Variant: space.VariantAt([]int{0}), Status: BuildFailed, Diagnostics: "error: x"})
	res := r.Result()
	if res.Best != nil {
		t.Fatalf("Best = %+v, want nil", res.Best)
	}
	if res.Counts["BuildFailed"] != 1 {
		t.Errorf("Counts = %v", res.Counts)
	}
}

func TestRecorderConcurrentWriters(t *testing.T) {
	space := testSpace(t)
	r := New(nil, FirstWins)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Record(&Measurement{
				Seq:     i + 1,
				Variant: space.VariantAt([]int{i % 4}),
				Status:  Success,
				Samples: []float64{float64(10 + i%7)},
			})
		}(i)
	}
	wg.Wait()

	res := r.Result()
	if len(res.History) != 40 {
		t.Fatalf("history length = %d", len(res.History))
	}
	for i, m := range res.History {
		if m.Seq != i+1 {
			t.Fatalf("history[%d].Seq = %d", i, m.Seq)
		}
	}
	// Aggregate 10 occurs at i = 0, 7, 14, ...; the first one wins.
	if res.Best.Seq != 1 {
		t.Errorf("best seq = %d, want 1", res.Best.Seq)
	}
}
