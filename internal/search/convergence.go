package search

import (
	"fmt"
	"math"
)

// Step is one entry of an adaptive search's observation history.
type Step struct {
	Seq   int
	Score float64
	OK    bool
}

// ConvergenceStrategy decides when an adaptive search should stop.
type ConvergenceStrategy interface {
	// CheckConvergence checks if the search has converged based on history
	CheckConvergence(history []Step) (bool, string)
	// Name returns the name of the convergence strategy
	Name() string
}

// NoImprovementStrategy detects convergence when the best score has not
// improved for a number of observations. Failed observations count as
// non-improving once a success has been seen.
type NoImprovementStrategy struct {
	Patience int
}

// NewNoImprovementStrategy creates a no-improvement strategy; patience <= 0
// selects DefaultPatience.
func NewNoImprovementStrategy(patience int) *NoImprovementStrategy {
	if patience <= 0 {
		patience = DefaultPatience
	}
	return &NoImprovementStrategy{Patience: patience}
}

func (s *NoImprovementStrategy) Name() string {
	return "no_improvement"
}

func (s *NoImprovementStrategy) CheckConvergence(history []Step) (bool, string) {
	bestScore := math.MaxFloat64
	bestIndex := -1
	for i, st := range history {
		if st.OK && st.Score < bestScore {
			bestScore = st.Score
			bestIndex = i
		}
	}
	if bestIndex < 0 {
		return false, ""
	}

	since := len(history) - 1 - bestIndex
	if since >= s.Patience {
		return true, fmt.Sprintf("no improvement for %d evaluations (best at evaluation %d)", since, history[bestIndex].Seq)
	}
	return false, ""
}

// PlateauStrategy detects convergence when the last Window successful
// scores lie within Tolerance of each other.
type PlateauStrategy struct {
	Window    int
	Tolerance float64
}

func (s *PlateauStrategy) Name() string {
	return "plateau"
}

func (s *PlateauStrategy) CheckConvergence(history []Step) (bool, string) {
	if s.Window < 2 {
		return false, ""
	}
	var recent []float64
	for i := len(history) - 1; i >= 0 && len(recent) < s.Window; i-- {
		if history[i].OK {
			recent = append(recent, history[i].Score)
		}
	}
	if len(recent) < s.Window {
		return false, ""
	}
	lo, hi := recent[0], recent[0]
	for _, v := range recent {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo <= s.Tolerance {
		return true, fmt.Sprintf("score plateaued for %d evaluations (range: %.6f)", s.Window, hi-lo)
	}
	return false, ""
}

// CombinedStrategy converges when any member strategy does.
type CombinedStrategy struct {
	strategies []ConvergenceStrategy
}

// NewCombinedStrategy combines strategies in order.
func NewCombinedStrategy(strategies ...ConvergenceStrategy) *CombinedStrategy {
	return &CombinedStrategy{strategies: strategies}
}

func (s *CombinedStrategy) Name() string {
	return "combined"
}

func (s *CombinedStrategy) CheckConvergence(history []Step) (bool, string) {
	for _, strategy := range s.strategies {
		if converged, reason := strategy.CheckConvergence(history); converged {
			return true, fmt.Sprintf("%s: %s", strategy.Name(), reason)
		}
	}
	return false, ""
}
