package domain

import (
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/looptune/looptune/internal/loopast"
)

// Variant is one concrete assignment of every parameter. It is identified by
// its coordinate tuple and never changes after creation.
type Variant struct {
	space *Space
	coord []int
}

// Assignment is one parameter binding of a variant.
type Assignment struct {
	Name  string    `json:"name" yaml:"name"`
	Value cty.Value `json:"-" yaml:"-"`
	Text  string    `json:"value" yaml:"value"`
}

// IsZero reports whether v is the zero Variant.
func (v Variant) IsZero() bool { return v.space == nil }

// Space returns the space the variant was drawn from.
func (v Variant) Space() *Space { return v.space }

// Coord returns a copy of the coordinate tuple.
func (v Variant) Coord() []int { return append([]int(nil), v.coord...) }

// CoordKey encodes the coordinate tuple, unique within one space.
func (v Variant) CoordKey() string {
	return CoordKey(v.coord)
}

// CoordKey encodes a coordinate tuple as text.
func CoordKey(coord []int) string {
	var b strings.Builder
	for i, c := range coord {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(c))
	}
	return b.String()
}

// Value returns the value bound to name.
func (v Variant) Value(name string) (cty.Value, bool) {
	if v.space == nil {
		return cty.NilVal, false
	}
	i, ok := v.space.index[name]
	if !ok {
		return cty.NilVal, false
	}
	return v.space.domains[i].Values[v.coord[i]], true
}

// Env returns a fresh name → value map of the variant's parameters plus the
// input parameter bindings of its space.
func (v Variant) Env() loopast.Env {
	env := make(loopast.Env, len(v.coord))
	if v.space == nil {
		return env
	}
	for k, val := range v.space.inputs {
		env[k] = val
	}
	for i, c := range v.coord {
		d := v.space.domains[i]
		env[d.Name] = d.Values[c]
	}
	return env
}

// Assignments lists bindings in declared parameter order.
func (v Variant) Assignments() []Assignment {
	if v.space == nil {
		return nil
	}
	out := make([]Assignment, len(v.coord))
	for i, c := range v.coord {
		d := v.space.domains[i]
		out[i] = Assignment{Name: d.Name, Value: d.Values[c], Text: Format(d.Values[c])}
	}
	return out
}

// Key renders the assignment tuple, e.g. `U4=24 IVEC1=False`.
func (v Variant) Key() string {
	as := v.Assignments()
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = a.Name + "=" + a.Text
	}
	return strings.Join(parts, " ")
}

func (v Variant) String() string { return "{" + v.Key() + "}" }
