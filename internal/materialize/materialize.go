// Package materialize turns a transformed variant back into buildable source
// text: it renders each loop block, splices it over the annotated region,
// drops the tuning annotation and writes the input declaration header.
package materialize

import (
	"fmt"
	"slices"
	"strings"

	"github.com/looptune/looptune/internal/annotation"
	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/internal/loopast"
	"github.com/looptune/looptune/internal/transform"
)

// OriginalFlag is added to baseline build commands so sources can tell the
// untransformed build apart.
const OriginalFlag = "-DORIGINAL"

// Materialized is one buildable variant.
type Materialized struct {
	Key    string
	Source string
	// Files are written next to the source, keyed by file name.
	Files map[string]string

	Template string
	Libs     string
	Env      loopast.Env
	// Extra flags follow the expanded command.
	Extra []string
}

// BuildCommand expands the build template for the given source and binary
// paths.
func (m *Materialized) BuildCommand(source, binary string) string {
	cmd := Command(m.Template, m.Env, m.Libs, source, binary)
	if len(m.Extra) > 0 {
		cmd += " " + strings.Join(m.Extra, " ")
	}
	return cmd
}

// Materializer renders variants of one annotated program. It holds no
// mutable state and may be shared across goroutines.
type Materializer struct {
	prog   *annotation.Program
	engine *transform.Engine
}

// New creates a materializer for prog.
func New(prog *annotation.Program, engine *transform.Engine) (*Materializer, error) {
	if prog == nil || prog.Spec == nil {
		return nil, fmt.Errorf("materialize: program has no tuning spec")
	}
	if engine == nil {
		engine = transform.NewEngine()
	}
	return &Materializer{prog: prog, engine: engine}, nil
}

// Transform applies the engine to every loop block. A structurally invalid
// variant yields *transform.InvalidVariant.
func (m *Materializer) Transform(v domain.Variant, inputs loopast.Env) ([][]loopast.Node, error) {
	env := mergeEnv(v.Env(), inputs)
	out := make([][]loopast.Node, len(m.prog.Blocks))
	for i, b := range m.prog.Blocks {
		nest, err := m.engine.ApplyEnv(b.Nest, env)
		if err != nil {
			return nil, err
		}
		out[i] = nest
	}
	return out, nil
}

// Materialize transforms and renders the variant.
func (m *Materializer) Materialize(v domain.Variant, inputs loopast.Env) (*Materialized, error) {
	nests, err := m.Transform(v, inputs)
	if err != nil {
		return nil, err
	}
	blocks := make([]string, len(nests))
	for i, nest := range nests {
		indent := lineIndent(m.prog.Source, m.prog.Blocks[i].Region.Start)
		blocks[i] = renderBlock(nest, indent)
	}
	return m.build(v, inputs, blocks, nil)
}

// Baseline renders the program with every block's original code kept, for
// validating a variant's output against the untransformed build. v supplies
// build command placeholders only.
func (m *Materializer) Baseline(v domain.Variant, inputs loopast.Env) (*Materialized, error) {
	blocks := make([]string, len(m.prog.Blocks))
	for i, b := range m.prog.Blocks {
		blocks[i] = b.Original
	}
	return m.build(v, inputs, blocks, []string{OriginalFlag})
}

func (m *Materializer) build(v domain.Variant, inputs loopast.Env, blocks []string, extra []string) (*Materialized, error) {
	src, err := splice(m.prog, blocks)
	if err != nil {
		return nil, err
	}
	spec := m.prog.Spec
	files, err := InputFiles(spec, inputs)
	if err != nil {
		return nil, err
	}
	return &Materialized{
		Key:      v.Key(),
		Source:   src,
		Files:    files,
		Template: spec.BuildCommand,
		Libs:     spec.Libs,
		Env:      mergeEnv(v.Env(), inputs),
		Extra:    extra,
	}, nil
}

type edit struct {
	region annotation.Region
	text   string
}

// splice replaces block regions with blocks[i] and removes tuning markers;
// all other text is copied unchanged.
func splice(prog *annotation.Program, blocks []string) (string, error) {
	edits := make([]edit, 0, len(prog.Blocks)+len(prog.Markers))
	for i, b := range prog.Blocks {
		edits = append(edits, edit{b.Region, blocks[i]})
	}
	for _, r := range prog.Markers {
		edits = append(edits, edit{r, ""})
	}
	slices.SortFunc(edits, func(a, b edit) int { return a.region.Start - b.region.Start })

	var sb strings.Builder
	pos := 0
	for _, e := range edits {
		if e.region.Start < pos {
			return "", fmt.Errorf("materialize: overlapping annotation regions at offset %d", e.region.Start)
		}
		sb.WriteString(prog.Source[pos:e.region.Start])
		sb.WriteString(e.text)
		pos = e.region.End
	}
	sb.WriteString(prog.Source[pos:])
	return sb.String(), nil
}

// renderBlock renders a transformed nest for a site whose first line is
// already indented by indent. Indexes introduced by transformations are
// declared in a new scope around the nest.
func renderBlock(nest []loopast.Node, indent string) string {
	ids := loopast.IntroducedIndexes(nest)
	if len(ids) == 0 {
		text := loopast.Render(nest, indent)
		return strings.TrimSuffix(strings.TrimPrefix(text, indent), "\n")
	}
	inner := indent + loopast.Indent
	var b strings.Builder
	b.WriteString("{\n")
	b.WriteString(inner + "int " + strings.Join(ids, ", ") + ";\n")
	b.WriteString(loopast.Render(nest, inner))
	b.WriteString(indent + "}")
	return b.String()
}

// lineIndent returns the whitespace before off on its line, or "" when
// other text precedes it.
func lineIndent(src string, off int) string {
	start := strings.LastIndexByte(src[:off], '\n') + 1
	prefix := src[start:off]
	if strings.TrimLeft(prefix, " \t") != "" {
		return ""
	}
	return prefix
}

func mergeEnv(a, b loopast.Env) loopast.Env {
	out := make(loopast.Env, len(a)+len(b))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range a {
		out[k] = v
	}
	return out
}
