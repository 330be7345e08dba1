package domain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/looptune/looptune/internal/loopast"
)

// Format renders a value the way it is substituted into build commands and
// shown in reports: strings bare, booleans as True/False, integers without a
// fraction, lists as [a,'b'].
func Format(v cty.Value) string {
	return format(v, false)
}

func format(v cty.Value, nested bool) string {
	if v == cty.NilVal || v.IsNull() {
		return "None"
	}
	if !v.IsKnown() {
		return "?"
	}
	switch t := v.Type(); {
	case t == cty.String:
		if nested {
			return "'" + v.AsString() + "'"
		}
		return v.AsString()
	case t == cty.Bool:
		if v.True() {
			return "True"
		}
		return "False"
	case t == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			i, _ := bf.Int(nil)
			return i.String()
		}
		return bf.Text('g', -1)
	case loopast.Iterable(v):
		elems := v.AsValueSlice()
		parts := make([]string, len(elems))
		for i, e := range elems {
			parts[i] = format(e, true)
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return v.GoString()
}

// AsInt converts an integral number value.
func AsInt(v cty.Value) (int, error) {
	if v == cty.NilVal || v.IsNull() {
		return 0, fmt.Errorf("expected integer, got null")
	}
	num, err := convert.Convert(v, cty.Number)
	if err != nil {
		return 0, fmt.Errorf("expected integer, got %s", v.Type().FriendlyName())
	}
	if !num.AsBigFloat().IsInt() {
		return 0, fmt.Errorf("expected integer, got %s", Format(v))
	}
	var n int
	if err := gocty.FromCtyValue(num, &n); err != nil {
		return 0, fmt.Errorf("expected integer: %w", err)
	}
	return n, nil
}

// AsBool converts a boolean value. Numbers are truthy when non-zero, as in
// annotation flags written 0/1.
func AsBool(v cty.Value) (bool, error) {
	if v == cty.NilVal || v.IsNull() {
		return false, fmt.Errorf("expected boolean, got null")
	}
	if v.Type() == cty.Number {
		return v.AsBigFloat().Cmp(new(big.Float)) != 0, nil
	}
	b, err := convert.Convert(v, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("expected boolean, got %s", v.Type().FriendlyName())
	}
	return b.True(), nil
}

// AsString converts a string-like value.
func AsString(v cty.Value) (string, error) {
	if v == cty.NilVal || v.IsNull() {
		return "", fmt.Errorf("expected string, got null")
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil {
		return "", fmt.Errorf("expected string, got %s", v.Type().FriendlyName())
	}
	return s.AsString(), nil
}

// AsStrings converts a list of strings. A bare string becomes a one-element
// list.
func AsStrings(v cty.Value) ([]string, error) {
	if v != cty.NilVal && !v.IsNull() && v.Type() == cty.String {
		return []string{v.AsString()}, nil
	}
	if !loopast.Iterable(v) {
		return nil, fmt.Errorf("expected list of strings")
	}
	var out []string
	for _, e := range v.AsValueSlice() {
		s, err := AsString(e)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// AsInts converts a list of integers. A bare number becomes a one-element
// list.
func AsInts(v cty.Value) ([]int, error) {
	if v != cty.NilVal && !v.IsNull() && v.Type() == cty.Number {
		n, err := AsInt(v)
		return []int{n}, err
	}
	if !loopast.Iterable(v) {
		return nil, fmt.Errorf("expected list of integers")
	}
	var out []int
	for _, e := range v.AsValueSlice() {
		n, err := AsInt(e)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Elements returns the elements of a list value, or nil.
func Elements(v cty.Value) []cty.Value {
	if !loopast.Iterable(v) {
		return nil
	}
	return v.AsValueSlice()
}
