// Package domain models the tunable parameter space: per-parameter discrete
// value domains, their Cartesian product, feasibility constraints and the
// immutable variants drawn from it.
package domain

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/looptune/looptune/internal/loopast"
	"github.com/looptune/looptune/pkg/utils"
)

// InvariantViolation is the panic value for programmer errors such as an
// out-of-range domain index. It is never returned as an ordinary error.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.Msg }

func violate(format string, args ...any) {
	panic(&InvariantViolation{Msg: fmt.Sprintf(format, args...)})
}

// Domain is the ordered, non-empty candidate list of one parameter.
type Domain struct {
	Name   string
	Values []cty.Value
}

// Size returns the number of candidate values.
func (d Domain) Size() int { return len(d.Values) }

// ValueAt returns the i-th candidate. Out-of-range access panics with
// *InvariantViolation.
func (d Domain) ValueAt(i int) cty.Value {
	if i < 0 || i >= len(d.Values) {
		violate("domain %s: index %d out of range [0,%d)", d.Name, i, len(d.Values))
	}
	return d.Values[i]
}

// NewDomain builds a domain from a list value (tuple, list or set).
func NewDomain(name string, list cty.Value) (Domain, error) {
	if !loopast.Iterable(list) {
		return Domain{}, fmt.Errorf("parameter %s: domain must be a list", name)
	}
	vals := list.AsValueSlice()
	if len(vals) == 0 {
		return Domain{}, fmt.Errorf("parameter %s: domain list is empty", name)
	}
	return Domain{Name: name, Values: vals}, nil
}

// Space is the ordered product of parameter domains, restricted by
// constraints. It is read-only once built.
type Space struct {
	domains     []Domain
	index       map[string]int
	constraints []*Constraint
	inputs      loopast.Env
}

// NewSpace validates and assembles a parameter space. Names must be unique,
// domains non-empty and every constraint may only reference declared
// parameters or the given input names.
func NewSpace(domains []Domain, constraints []*Constraint, inputNames ...string) (*Space, error) {
	s := &Space{
		domains:     append([]Domain(nil), domains...),
		index:       make(map[string]int, len(domains)),
		constraints: append([]*Constraint(nil), constraints...),
	}
	for i, d := range domains {
		if d.Size() == 0 {
			return nil, fmt.Errorf("parameter %s: domain list is empty", d.Name)
		}
		if _, dup := s.index[d.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter %s", d.Name)
		}
		s.index[d.Name] = i
	}
	known := make(map[string]bool, len(inputNames))
	for _, n := range inputNames {
		known[n] = true
	}
	for _, c := range constraints {
		for _, ref := range c.References() {
			if _, ok := s.index[ref]; !ok && !known[ref] {
				return nil, fmt.Errorf("constraint %s references undeclared parameter %s", c.Name, ref)
			}
		}
	}
	return s, nil
}

// WithInputs returns a copy of the space that evaluates constraints with the
// given input parameter bindings in scope.
func (s *Space) WithInputs(inputs loopast.Env) *Space {
	cp := *s
	cp.inputs = inputs
	return &cp
}

// Domains returns the parameter domains in declared order.
func (s *Space) Domains() []Domain { return s.domains }

// Dims returns the number of parameters.
func (s *Space) Dims() int { return len(s.domains) }

// Sizes returns the domain sizes in declared order.
func (s *Space) Sizes() []int {
	out := make([]int, len(s.domains))
	for i, d := range s.domains {
		out[i] = d.Size()
	}
	return out
}

// Cardinality is the product of all domain sizes, saturating at MaxInt.
func (s *Space) Cardinality() int {
	return utils.Product(s.Sizes())
}

// Lookup returns the position of a parameter.
func (s *Space) Lookup(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Names returns parameter names in declared order.
func (s *Space) Names() []string {
	out := make([]string, len(s.domains))
	for i, d := range s.domains {
		out[i] = d.Name
	}
	return out
}

// VariantAt builds the variant at a coordinate. A coordinate of the wrong
// length or with an out-of-range component panics with *InvariantViolation.
func (s *Space) VariantAt(coord []int) Variant {
	if len(coord) != len(s.domains) {
		violate("coordinate has %d components, space has %d parameters", len(coord), len(s.domains))
	}
	for i, c := range coord {
		s.domains[i].ValueAt(c)
	}
	return Variant{space: s, coord: append([]int(nil), coord...)}
}

// Feasible reports whether v satisfies every constraint.
func (s *Space) Feasible(v Variant) (bool, error) {
	if len(s.constraints) == 0 {
		return true, nil
	}
	env := v.Env()
	for _, c := range s.constraints {
		ok, err := c.Eval(env)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Describe renders the space as `NAME[size] ...` for logs.
func (s *Space) Describe() string {
	parts := make([]string, len(s.domains))
	for i, d := range s.domains {
		parts[i] = fmt.Sprintf("%s[%d]", d.Name, d.Size())
	}
	return strings.Join(parts, " ")
}
