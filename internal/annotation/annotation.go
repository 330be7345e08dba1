// Package annotation parses annotated source text into a TuningSpec and the
// loop blocks it governs. Parsing is purely structural: it checks the
// annotation grammar and that directives only reference declared parameters,
// never whether a transformation is legal for its loop nest.
package annotation

import (
	"fmt"
	"slices"
	"time"

	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/internal/loopast"
	"github.com/looptune/looptune/internal/search"
)

// MalformedAnnotation is the only error Parse returns. It is fatal to the
// whole session.
type MalformedAnnotation struct {
	Line   int
	Reason string
}

func (e *MalformedAnnotation) Error() string {
	if e.Line <= 0 {
		return "malformed annotation: " + e.Reason
	}
	return fmt.Sprintf("malformed annotation at line %d: %s", e.Line, e.Reason)
}

func malformed(line int, format string, args ...any) *MalformedAnnotation {
	return &MalformedAnnotation{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// Timing methods for performance_counter.method.
const (
	TimingWall     = "wall"
	TimingReported = "reported"
)

// ParamDecl is one declared parameter and its domain.
type ParamDecl struct {
	Name   string
	Domain domain.Domain
	Line   int
}

// InputDecl declares one input variable of the generated driver header.
type InputDecl struct {
	Name    string
	Type    string
	Dims    []string // C expressions, one per dimension
	Dynamic bool     // heap-allocated in malloc_arrays()
	Static  bool
	Init    string // "random", a C expression, or empty for none
	Line    int
}

// SearchSpec selects the strategy and its options.
type SearchSpec struct {
	Algorithm search.Algorithm
	Options   search.Options
}

// TuningSpec is the parsed tuning block. It is immutable after parsing.
type TuningSpec struct {
	BuildCommand string
	Libs         string
	Repetitions  int
	Timing       string
	Search       SearchSpec
	Params       []ParamDecl
	Constraints  []*domain.Constraint
	InputParams  []ParamDecl
	InputDecls   []InputDecl
	DeclFile     string
	InitFile     string
	Line         int
}

// DefaultDeclFile is the generated input declaration header name.
const DefaultDeclFile = "decl_init.h"

func newTuningSpec(line int) *TuningSpec {
	return &TuningSpec{
		Repetitions: 1,
		Timing:      TimingWall,
		Search:      SearchSpec{Algorithm: search.Exhaustive},
		DeclFile:    DefaultDeclFile,
		Line:        line,
	}
}

// Space builds the performance parameter space.
func (ts *TuningSpec) Space() (*domain.Space, error) {
	ds := make([]domain.Domain, len(ts.Params))
	for i, p := range ts.Params {
		ds[i] = p.Domain
	}
	inputs := make([]string, len(ts.InputParams))
	for i, p := range ts.InputParams {
		inputs[i] = p.Name
	}
	return domain.NewSpace(ds, ts.Constraints, inputs...)
}

// InputSpace builds the space of input parameter combinations; each point is
// tuned separately.
func (ts *TuningSpec) InputSpace() (*domain.Space, error) {
	ds := make([]domain.Domain, len(ts.InputParams))
	for i, p := range ts.InputParams {
		ds[i] = p.Domain
	}
	return domain.NewSpace(ds, nil)
}

// Declared reports whether name is a performance or input parameter.
func (ts *TuningSpec) Declared(name string) bool {
	return slices.ContainsFunc(ts.Params, func(p ParamDecl) bool { return p.Name == name }) ||
		slices.ContainsFunc(ts.InputParams, func(p ParamDecl) bool { return p.Name == name })
}

// Region is a half-open byte range [Start, End) of the source.
type Region struct {
	Start int
	End   int
}

// LoopBlock is one annotated loop nest.
type LoopBlock struct {
	Region   Region
	Nest     []loopast.Node
	Original string // code the baseline build keeps in place of the block
	Line     int
}

// Program is an annotated source file split into spec, loop blocks and the
// tuning markers that materialized variants drop.
type Program struct {
	Source  string
	Spec    *TuningSpec
	Blocks  []*LoopBlock
	Markers []Region
}

// finish applies cross-section checks shared by both front-ends.
func (ts *TuningSpec) finish() error {
	seen := make(map[string]int)
	for _, p := range append(slices.Clone(ts.Params), ts.InputParams...) {
		if first, dup := seen[p.Name]; dup {
			return malformed(p.Line, "duplicate parameter %s (first declared at line %d)", p.Name, first)
		}
		seen[p.Name] = p.Line
	}
	if ts.Repetitions < 1 {
		return malformed(ts.Line, "repetitions must be positive, got %d", ts.Repetitions)
	}
	opts := ts.Search.Options
	if ts.Search.Algorithm == search.Random && opts.TotalRuns <= 0 && opts.TimeLimit <= 0 {
		return malformed(ts.Line, "Random search requires total_runs or time_limit")
	}
	if opts.X0 != nil && len(opts.X0) != len(ts.Params) {
		return malformed(ts.Line, "x0 has %d coordinates, %d performance parameters declared", len(opts.X0), len(ts.Params))
	}
	if _, err := ts.Space(); err != nil {
		return malformed(ts.Line, "%v", err)
	}
	return nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
