// Package recorder aggregates measurements and keeps the running best
// variant of a search.
package recorder

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/pkg/logger"
	"github.com/looptune/looptune/pkg/utils"
)

// Status is the outcome of evaluating one variant.
type Status int

const (
	Success Status = iota
	BuildFailed
	RunFailed
	Invalid
)

var statusNames = [...]string{"Success", "BuildFailed", "RunFailed", "Invalid"}

func (s Status) String() string {
	if int(s) >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Measurement is the evaluation record of one variant. Samples hold one
// elapsed time per repetition and are empty unless Status is Success.
type Measurement struct {
	Seq         int
	Variant     domain.Variant
	Status      Status
	Samples     []float64
	Aggregate   float64
	StdDev      float64 // spread of Samples
	Throughput  float64 // mean of reported throughput figures, 0 when none
	Timeout     bool
	Diagnostics string
}

// Reducer folds the repetition samples of a measurement into one score.
type Reducer func([]float64) float64

// Reducer names.
const (
	ReduceMean   = "mean"
	ReduceMedian = "median"
	ReduceMin    = "min"
)

// ParseReducer returns the named reducer; an empty name selects the mean.
func ParseReducer(name string) (Reducer, error) {
	switch name {
	case "", ReduceMean:
		return utils.Mean, nil
	case ReduceMedian:
		return utils.Median, nil
	case ReduceMin:
		return utils.MinOf, nil
	}
	return nil, fmt.Errorf("unknown reducer %q", name)
}

// TieBreak decides between measurements with equal aggregates.
type TieBreak int

const (
	FirstWins TieBreak = iota
	LastWins
)

// ParseTieBreak maps "first" (default) or "last".
func ParseTieBreak(name string) (TieBreak, error) {
	switch name {
	case "", "first":
		return FirstWins, nil
	case "last":
		return LastWins, nil
	}
	return 0, fmt.Errorf("unknown tie break %q", name)
}

// Less is the total order on measurements: successes before failures, then
// ascending aggregate, then evaluation sequence per tb.
func Less(a, b *Measurement, tb TieBreak) bool {
	as, bs := a.Status == Success, b.Status == Success
	if as != bs {
		return as
	}
	if as && a.Aggregate != b.Aggregate {
		return a.Aggregate < b.Aggregate
	}
	if tb == LastWins {
		return a.Seq > b.Seq
	}
	return a.Seq < b.Seq
}

// SearchResult is what a search leaves behind. Best is nil when no variant
// succeeded.
type SearchResult struct {
	Best    *Measurement
	History []*Measurement
	Counts  map[string]int
}

// Succeeded returns the number of successful measurements.
func (r *SearchResult) Succeeded() int { return r.Counts[Success.String()] }

// Recorder is the single writer of a search's results; Record may be called
// from several workers.
type Recorder struct {
	mu       sync.Mutex
	reduce   Reducer
	tieBreak TieBreak
	history  []*Measurement
	best     *Measurement
	counts   map[string]int
	nextSeq  int
	logger   *slog.Logger
}

// New creates a recorder. A nil reducer selects the mean.
func New(reduce Reducer, tb TieBreak) *Recorder {
	if reduce == nil {
		reduce = utils.Mean
	}
	return &Recorder{
		reduce:   reduce,
		tieBreak: tb,
		counts:   make(map[string]int),
		logger:   logger.Default,
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(l *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = l
}

// Record stores m, computing its aggregate, and reports whether it became
// the new best. A zero Seq is replaced by the next arrival number.
func (r *Recorder) Record(m *Measurement) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	if m.Seq == 0 {
		m.Seq = r.nextSeq
	}
	if m.Status == Success {
		m.Aggregate = r.reduce(m.Samples)
		m.StdDev = utils.StdDev(m.Samples)
	} else {
		m.Samples = nil
		m.Aggregate = 0
		m.StdDev = 0
	}
	r.history = append(r.history, m)
	r.counts[m.Status.String()]++

	improved := m.Status == Success && (r.best == nil || Less(m, r.best, r.tieBreak))
	if improved {
		r.best = m
		r.logger.Info("New best variant",
			"seq", m.Seq,
			"variant", m.Variant.Key(),
			"aggregate", m.Aggregate)
	}
	r.logger.Debug("Measurement recorded",
		"seq", m.Seq,
		"variant", m.Variant.Key(),
		"status", m.Status.String(),
		"timeout", m.Timeout)
	return improved
}

// Best returns the best successful measurement so far, or nil.
func (r *Recorder) Best() *Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.best
}

// Len returns the number of recorded measurements.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}

// Result snapshots the search result with history in sequence order. It is
// valid at any point, including after cancellation.
func (r *Recorder) Result() *SearchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := slices.Clone(r.history)
	slices.SortStableFunc(history, func(a, b *Measurement) int { return a.Seq - b.Seq })
	counts := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		counts[k] = v
	}
	return &SearchResult{Best: r.best, History: history, Counts: counts}
}
