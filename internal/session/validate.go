package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/internal/driver"
	"github.com/looptune/looptune/internal/loopast"
)

// Validation compares the output of a transformed build with the baseline
// build of the untransformed program.
type Validation struct {
	Variant     string   `yaml:"variant" json:"variant"`
	Match       bool     `yaml:"match" json:"match"`
	Differences []string `yaml:"differences,omitempty" json:"differences,omitempty"`
	Baseline    string   `yaml:"-" json:"-"`
	Transformed string   `yaml:"-" json:"-"`
}

// maxDifferences bounds the lines listed in a Validation.
const maxDifferences = 10

// Validate builds and runs the baseline and v once each and diffs their
// standard output line by line. Build or run failures are returned as
// errors.
func (s *Session) Validate(ctx context.Context, v domain.Variant, inputs loopast.Env) (*Validation, error) {
	base, err := s.mat.Baseline(v, inputs)
	if err != nil {
		return nil, err
	}
	variant, err := s.mat.Materialize(v, inputs)
	if err != nil {
		return nil, err
	}
	baseOut, err := s.drv.Capture(ctx, driver.Job{Seq: 0, Variant: v, Materialized: base})
	if err != nil {
		return nil, fmt.Errorf("baseline: %w", err)
	}
	varOut, err := s.drv.Capture(ctx, driver.Job{Seq: 1, Variant: v, Materialized: variant})
	if err != nil {
		return nil, fmt.Errorf("variant %s: %w", v.Key(), err)
	}
	val := &Validation{
		Variant:     v.Key(),
		Baseline:    baseOut,
		Transformed: varOut,
		Differences: diffLines(baseOut, varOut),
	}
	val.Match = len(val.Differences) == 0
	s.logger.Info("Validation finished", "variant", v.Key(), "match", val.Match)
	return val, nil
}

func diffLines(a, b string) []string {
	al := strings.Split(strings.TrimRight(a, "\n"), "\n")
	bl := strings.Split(strings.TrimRight(b, "\n"), "\n")
	var out []string
	for i := 0; i < max(len(al), len(bl)); i++ {
		var x, y string
		if i < len(al) {
			x = al[i]
		}
		if i < len(bl) {
			y = bl[i]
		}
		if x == y {
			continue
		}
		if len(out) == maxDifferences {
			out = append(out, "...")
			break
		}
		out = append(out, fmt.Sprintf("line %d: baseline %q, variant %q", i+1, x, y))
	}
	return out
}

// VariantFor picks the variant of space whose parameters render as the
// given values. Unnamed parameters take their first domain value.
func VariantFor(space *domain.Space, values map[string]string) (domain.Variant, error) {
	coord := make([]int, space.Dims())
	used := 0
	for i, d := range space.Domains() {
		want, ok := values[d.Name]
		if !ok {
			continue
		}
		used++
		found := false
		for j, val := range d.Values {
			if domain.Format(val) == want {
				coord[i], found = j, true
				break
			}
		}
		if !found {
			return domain.Variant{}, fmt.Errorf("parameter %s has no value %q", d.Name, want)
		}
	}
	if used != len(values) {
		for name := range values {
			if _, ok := space.Lookup(name); !ok {
				return domain.Variant{}, fmt.Errorf("unknown parameter %s", name)
			}
		}
	}
	return space.VariantAt(coord), nil
}
