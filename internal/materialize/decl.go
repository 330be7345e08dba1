package materialize

import (
	"fmt"
	"strings"

	"github.com/looptune/looptune/internal/annotation"
	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/internal/loopast"
)

// Names of the generated setup functions.
const (
	MallocFunc = "malloc_arrays"
	InitFunc   = "init_input_vars"
)

// InitRandom selects pseudo-random element values.
const InitRandom = "random"

// InputFiles generates the input declaration header and, when the tuning
// spec names one, the separate init file. Input parameters become #define
// lines; input_vars declarations become globals set up by malloc_arrays()
// and init_input_vars(). It returns nil when the tuning spec declares neither.
func InputFiles(spec *annotation.TuningSpec, inputs loopast.Env) (map[string]string, error) {
	if len(spec.InputParams) == 0 && len(spec.InputDecls) == 0 {
		return nil, nil
	}
	declFile := spec.DeclFile
	if declFile == "" {
		declFile = annotation.DefaultDeclFile
	}

	var h strings.Builder
	guard := headerGuard(declFile)
	fmt.Fprintf(&h, "#ifndef %s\n#define %s\n\n#include <stdlib.h>\n\n", guard, guard)
	if len(spec.InputParams) > 0 {
		for _, p := range spec.InputParams {
			v, ok := inputs[p.Name]
			if !ok {
				return nil, fmt.Errorf("materialize: no value bound for input parameter %s", p.Name)
			}
			fmt.Fprintf(&h, "#define %s %s\n", p.Name, domain.Format(v))
		}
		h.WriteString("\n")
	}
	for _, d := range spec.InputDecls {
		h.WriteString(declaration(d) + "\n")
	}

	funcs := setupFuncs(spec.InputDecls)
	files := make(map[string]string, 2)
	if spec.InitFile == "" {
		if len(spec.InputDecls) > 0 {
			h.WriteString("\n" + funcs)
		}
		h.WriteString("\n#endif\n")
		files[declFile] = h.String()
		return files, nil
	}
	fmt.Fprintf(&h, "\nvoid %s(void);\nvoid %s(void);\n\n#endif\n", MallocFunc, InitFunc)
	files[declFile] = h.String()
	files[spec.InitFile] = funcs
	return files, nil
}

func declaration(d annotation.InputDecl) string {
	switch {
	case len(d.Dims) == 0:
		return fmt.Sprintf("%s %s;", d.Type, d.Name)
	case d.Dynamic:
		return fmt.Sprintf("%s (*%s)%s;", d.Type, d.Name, dims(d.Dims[1:]))
	default:
		return fmt.Sprintf("%s %s%s;", d.Type, d.Name, dims(d.Dims))
	}
}

func setupFuncs(decls []annotation.InputDecl) string {
	var b strings.Builder
	fmt.Fprintf(&b, "void %s(void) {\n", MallocFunc)
	for _, d := range decls {
		if d.Dynamic {
			fmt.Fprintf(&b, "%s%s = malloc((%s) * sizeof(*%s));\n", loopast.Indent, d.Name, d.Dims[0], d.Name)
		}
	}
	b.WriteString("}\n\n")

	fmt.Fprintf(&b, "void %s(void) {\n", InitFunc)
	for _, d := range decls {
		if d.Init == "" {
			continue
		}
		val := d.Init
		if val == InitRandom {
			val = fmt.Sprintf("(%s) ((rand() %% 1000) / 100.0)", d.Type)
		}
		if len(d.Dims) == 0 {
			fmt.Fprintf(&b, "%s%s = %s;\n", loopast.Indent, d.Name, val)
			continue
		}
		in := loopast.Indent + loopast.Indent
		fmt.Fprintf(&b, "%s{\n", loopast.Indent)
		fmt.Fprintf(&b, "%s%s *p = (%s *) %s;\n", in, d.Type, d.Type, d.Name)
		fmt.Fprintf(&b, "%slong n;\n", in)
		fmt.Fprintf(&b, "%sfor (n = 0; n < %s; n++)\n", in, elements(d.Dims))
		fmt.Fprintf(&b, "%s%sp[n] = %s;\n", in, loopast.Indent, val)
		fmt.Fprintf(&b, "%s}\n", loopast.Indent)
	}
	b.WriteString("}\n")
	return b.String()
}

func dims(ds []string) string {
	var b strings.Builder
	for _, d := range ds {
		b.WriteString("[" + d + "]")
	}
	return b.String()
}

func elements(ds []string) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = "(long) (" + d + ")"
	}
	return strings.Join(parts, " * ")
}

func headerGuard(name string) string {
	g := []byte(strings.ToUpper(name))
	for i, c := range g {
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			g[i] = '_'
		}
	}
	if len(g) > 0 && g[0] >= '0' && g[0] <= '9' {
		return "LOOPTUNE_" + string(g)
	}
	return string(g)
}
