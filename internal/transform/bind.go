package transform

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/internal/loopast"
)

// DefaultScalarType is the temporary type used by ScalarReplace when the
// directive does not name one.
const DefaultScalarType = "double"

// Bind resolves a directive's arguments under env and returns the steps it
// stands for. Composite expands to permut, regtile, scalarreplace and vector
// steps in that order, skipping absent arguments.
func Bind(d *loopast.Directive, env loopast.Env) ([]Step, error) {
	if err := CheckDirective(d); err != nil {
		return nil, invalid("%v", err)
	}
	b := binder{d: d, env: env}
	switch d.Kind {
	case "Unroll":
		v, err := b.required("ufactor")
		if err != nil {
			return nil, err
		}
		f, err := domain.AsInt(v)
		if err != nil {
			return nil, invalid("ufactor: %v", err)
		}
		return []Step{Unroll{Factor: f}}, nil
	case "RegTile":
		loops, err := b.required("loops")
		if err != nil {
			return nil, err
		}
		factors, err := b.required("ufactors")
		if err != nil {
			return nil, err
		}
		t, err := regTileFrom(loops, factors)
		if err != nil {
			return nil, err
		}
		return []Step{t}, nil
	case "Permute", "Permut":
		v, err := b.required("seq")
		if err != nil {
			return nil, err
		}
		return permutesFrom(v)
	case "ScalarReplace":
		s := ScalarReplace{Enabled: true, Type: DefaultScalarType}
		if v, ok, err := b.optional("enable"); err != nil {
			return nil, err
		} else if ok {
			if s.Enabled, err = domain.AsBool(v); err != nil {
				return nil, invalid("enable: %v", err)
			}
		}
		if v, ok, err := b.optional("dtype"); err != nil {
			return nil, err
		} else if ok {
			if s.Type, err = domain.AsString(v); err != nil {
				return nil, invalid("dtype: %v", err)
			}
		}
		return []Step{s}, nil
	case "Vectorize":
		vec := Vectorize{Enabled: true}
		if v, ok, err := b.optional("enable"); err != nil {
			return nil, err
		} else if ok {
			if vec.Enabled, err = domain.AsBool(v); err != nil {
				return nil, invalid("enable: %v", err)
			}
		}
		if v, ok, err := b.optional("hints"); err != nil {
			return nil, err
		} else if ok {
			if vec.Hints, err = domain.AsStrings(v); err != nil {
				return nil, invalid("hints: %v", err)
			}
		}
		return []Step{vec}, nil
	case "Pragma":
		v, err := b.required("pragma_str")
		if err != nil {
			return nil, err
		}
		texts, err := domain.AsStrings(v)
		if err != nil {
			return nil, invalid("pragma_str: %v", err)
		}
		return []Step{Pragma{Text: texts}}, nil
	case "Composite":
		return b.composite()
	}
	return nil, invalid("unknown transform %q", d.Kind)
}

type binder struct {
	d   *loopast.Directive
	env loopast.Env
}

func (b binder) optional(name string) (cty.Value, bool, error) {
	expr, ok := arg(b.d, name)
	if !ok {
		return cty.NilVal, false, nil
	}
	v, err := expr.Eval(b.env)
	if err != nil {
		return cty.NilVal, false, invalid("%s: %v", name, err)
	}
	return v, true, nil
}

func (b binder) required(name string) (cty.Value, error) {
	v, ok, err := b.optional(name)
	if err != nil {
		return cty.NilVal, err
	}
	if !ok {
		return cty.NilVal, invalid("missing argument %s", name)
	}
	return v, nil
}

// composite expands `permut=[seq...], regtile=(loops, factors),
// scalarreplace=(enable, type), vector=(enable, hints)`. The tuple arguments
// may also be given as a bare flag.
func (b binder) composite() ([]Step, error) {
	var steps []Step
	if v, ok, err := b.optional("permut"); err != nil {
		return nil, err
	} else if ok {
		ps, err := permutesFrom(v)
		if err != nil {
			return nil, err
		}
		steps = append(steps, ps...)
	}
	if v, ok, err := b.optional("regtile"); err != nil {
		return nil, err
	} else if ok {
		parts := domain.Elements(v)
		if !loopast.Iterable(v) || len(parts) != 2 {
			return nil, invalid("regtile expects (loops, factors)")
		}
		t, err := regTileFrom(parts[0], parts[1])
		if err != nil {
			return nil, err
		}
		steps = append(steps, t)
	}
	if v, ok, err := b.optional("scalarreplace"); err != nil {
		return nil, err
	} else if ok {
		s := ScalarReplace{Type: DefaultScalarType}
		flag, rest, err := flagTuple(v)
		if err != nil {
			return nil, invalid("scalarreplace: %v", err)
		}
		s.Enabled = flag
		if len(rest) > 0 {
			if s.Type, err = domain.AsString(rest[0]); err != nil {
				return nil, invalid("scalarreplace type: %v", err)
			}
		}
		steps = append(steps, s)
	}
	if v, ok, err := b.optional("vector"); err != nil {
		return nil, err
	} else if ok {
		var vec Vectorize
		flag, rest, err := flagTuple(v)
		if err != nil {
			return nil, invalid("vector: %v", err)
		}
		vec.Enabled = flag
		if len(rest) > 0 {
			if vec.Hints, err = domain.AsStrings(rest[0]); err != nil {
				return nil, invalid("vector hints: %v", err)
			}
		}
		steps = append(steps, vec)
	}
	return steps, nil
}

// flagTuple splits `(flag, rest...)` or a bare flag.
func flagTuple(v cty.Value) (bool, []cty.Value, error) {
	if !loopast.Iterable(v) {
		f, err := domain.AsBool(v)
		return f, nil, err
	}
	elems := domain.Elements(v)
	if len(elems) == 0 {
		return false, nil, invalid("empty tuple")
	}
	f, err := domain.AsBool(elems[0])
	return f, elems[1:], err
}

func regTileFrom(loops, factors cty.Value) (RegTile, error) {
	names, err := domain.AsStrings(loops)
	if err != nil {
		return RegTile{}, invalid("loops: %v", err)
	}
	fs, err := domain.AsInts(factors)
	if err != nil {
		return RegTile{}, invalid("factors: %v", err)
	}
	if len(names) != len(fs) {
		return RegTile{}, invalid("%d loops but %d factors", len(names), len(fs))
	}
	return RegTile{Loops: names, Factors: fs}, nil
}

// permutesFrom accepts a single order, ['i','j'], or a list of orders
// applied one after another, [['i','j'], ['k','i']].
func permutesFrom(v cty.Value) ([]Step, error) {
	elems := domain.Elements(v)
	nested := len(elems) > 0 && loopast.Iterable(elems[0])
	if !nested {
		seq, err := domain.AsStrings(v)
		if err != nil {
			return nil, invalid("permutation: %v", err)
		}
		return []Step{Permute{Order: seq}}, nil
	}
	steps := make([]Step, 0, len(elems))
	for _, e := range elems {
		seq, err := domain.AsStrings(e)
		if err != nil {
			return nil, invalid("permutation: %v", err)
		}
		steps = append(steps, Permute{Order: seq})
	}
	return steps, nil
}
