package transform

import (
	"fmt"
	"slices"

	"github.com/looptune/looptune/internal/loopast"
)

// vocabulary lists every directive kind and the argument names it accepts,
// in positional order.
var vocabulary = map[string][]string{
	"Unroll":        {"ufactor"},
	"RegTile":       {"loops", "ufactors"},
	"Permute":       {"seq"},
	"Permut":        {"seq"},
	"ScalarReplace": {"enable", "dtype"},
	"Vectorize":     {"enable", "hints"},
	"Pragma":        {"pragma_str"},
	"Composite":     {"permut", "regtile", "scalarreplace", "vector"},
}

// argAliases maps alternative argument spellings to their canonical name.
var argAliases = map[string]string{
	"order":     "seq",
	"factor":    "ufactor",
	"enabled":   "enable",
	"type":      "dtype",
	"hint":      "hints",
	"pragma":    "pragma_str",
	"permute":   "permut",
	"vectorize": "vector",
}

// CheckDirective validates a directive's kind and argument names.
func CheckDirective(d *loopast.Directive) error {
	names, ok := vocabulary[d.Kind]
	if !ok {
		return fmt.Errorf("unknown transform %q", d.Kind)
	}
	positional := 0
	for _, a := range d.Args {
		if a.Name == "" {
			positional++
			continue
		}
		if !slices.Contains(names, canonical(a.Name)) {
			return fmt.Errorf("transform %s: unknown argument %q", d.Kind, a.Name)
		}
	}
	if positional > len(names) {
		return fmt.Errorf("transform %s: too many arguments", d.Kind)
	}
	return nil
}

func canonical(name string) string {
	if c, ok := argAliases[name]; ok {
		return c
	}
	return name
}

// arg looks up a directive argument by canonical name or alias, falling back
// to its position in the vocabulary.
func arg(d *loopast.Directive, name string) (loopast.Expr, bool) {
	for _, a := range d.Args {
		if a.Name != "" && canonical(a.Name) == name {
			return a.Value, true
		}
	}
	return d.Lookup("\x00", slices.Index(vocabulary[d.Kind], name))
}
