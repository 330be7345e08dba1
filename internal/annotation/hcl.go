package annotation

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/internal/search"
)

// hclSpecFile is the top-level structure of a standalone tuning spec:
//
//	build { build_command = "gcc -O3" }
//	performance_params {
//	  param "U" { values = concat([1], range(2, 9)) }
//	  constraint "small" { condition = U <= 4 }
//	}
//	search { algorithm = "Simplex" }
type hclSpecFile struct {
	Build      *hclBuild      `hcl:"build,block"`
	Counter    *hclCounter    `hcl:"performance_counter,block"`
	PerfParams *hclParamBlock `hcl:"performance_params,block"`
	Search     *hclSearch     `hcl:"search,block"`
	InputParam *hclParamBlock `hcl:"input_params,block"`
	InputVars  *hclInputVars  `hcl:"input_vars,block"`
}

type hclBuild struct {
	BuildCommand string  `hcl:"build_command"`
	Libs         *string `hcl:"libs,optional"`
}

type hclCounter struct {
	Repetitions *int    `hcl:"repetitions,optional"`
	Method      *string `hcl:"method,optional"`
}

type hclParamBlock struct {
	Params      []*hclParam      `hcl:"param,block"`
	Constraints []*hclConstraint `hcl:"constraint,block"`
}

type hclParam struct {
	Name     string         `hcl:"name,label"`
	Values   hcl.Expression `hcl:"values"`
	DefRange hcl.Range      `hcl:",def_range"`
}

type hclConstraint struct {
	Name      string         `hcl:"name,label"`
	Condition hcl.Expression `hcl:"condition"`
	DefRange  hcl.Range      `hcl:",def_range"`
}

type hclSearch struct {
	Algorithm        *string  `hcl:"algorithm,optional"`
	TotalRuns        *int     `hcl:"total_runs,optional"`
	TimeLimit        *float64 `hcl:"time_limit,optional"`
	Patience         *int     `hcl:"patience,optional"`
	X0               []int    `hcl:"x0,optional"`
	Seed             *int64   `hcl:"seed,optional"`
	PlateauWindow    *int     `hcl:"plateau_window,optional"`
	PlateauTolerance *float64 `hcl:"plateau_tolerance,optional"`
}

type hclInputVars struct {
	DeclFile *string    `hcl:"decl_file,optional"`
	InitFile *string    `hcl:"init_file,optional"`
	Decls    []*hclDecl `hcl:"decl,block"`
}

type hclDecl struct {
	Name     string    `hcl:"name,label"`
	Type     string    `hcl:"type"`
	Dims     []string  `hcl:"dims,optional"`
	Storage  *string   `hcl:"storage,optional"`
	Init     *string   `hcl:"init,optional"`
	DefRange hcl.Range `hcl:",def_range"`
}

// domainFunctions are available inside param values.
var domainFunctions = map[string]function.Function{
	"range":   stdlib.RangeFunc,
	"concat":  stdlib.ConcatFunc,
	"flatten": stdlib.FlattenFunc,
	"reverse": stdlib.ReverseListFunc,
	"pow":     stdlib.PowFunc,
}

// ParseHCL loads a tuning spec kept in its own HCL file. Loop blocks are then
// parsed with ParseWithSpec.
func ParseHCL(filename string, src []byte) (*TuningSpec, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diagsToMalformed(diags)
	}
	var raw hclSpecFile
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, diagsToMalformed(diags)
	}

	spec := newTuningSpec(1)
	if raw.Build != nil {
		spec.BuildCommand = raw.Build.BuildCommand
		setIf(&spec.Libs, raw.Build.Libs)
	}
	if c := raw.Counter; c != nil {
		setIf(&spec.Repetitions, c.Repetitions)
		if c.Method != nil {
			m, err := timingMethod(*c.Method)
			if err != nil {
				return nil, malformed(1, "%v", err)
			}
			spec.Timing = m
		}
	}
	if s := raw.Search; s != nil {
		if s.Algorithm != nil {
			alg, err := search.ParseAlgorithm(*s.Algorithm)
			if err != nil {
				return nil, malformed(1, "%v", err)
			}
			spec.Search.Algorithm = alg
		}
		opts := &spec.Search.Options
		setIf(&opts.TotalRuns, s.TotalRuns)
		setIf(&opts.Patience, s.Patience)
		setIf(&opts.Seed, s.Seed)
		setIf(&opts.PlateauWindow, s.PlateauWindow)
		setIf(&opts.PlateauTolerance, s.PlateauTolerance)
		if s.TimeLimit != nil {
			opts.TimeLimit = secondsToDuration(*s.TimeLimit)
		}
		opts.X0 = s.X0
	}

	var err error
	if raw.PerfParams != nil {
		if spec.Params, err = decodeParams(raw.PerfParams.Params); err != nil {
			return nil, err
		}
		for _, c := range raw.PerfParams.Constraints {
			text := string(c.Condition.Range().SliceBytes(src))
			spec.Constraints = append(spec.Constraints, domain.NewConstraint(c.Name, text, c.Condition))
		}
	}
	if raw.InputParam != nil {
		if len(raw.InputParam.Constraints) > 0 {
			return nil, malformed(raw.InputParam.Constraints[0].DefRange.Start.Line, "constraints are only allowed on performance parameters")
		}
		if spec.InputParams, err = decodeParams(raw.InputParam.Params); err != nil {
			return nil, err
		}
	}
	if iv := raw.InputVars; iv != nil {
		setIf(&spec.DeclFile, iv.DeclFile)
		setIf(&spec.InitFile, iv.InitFile)
		for _, d := range iv.Decls {
			decl := InputDecl{Name: d.Name, Type: d.Type, Dims: d.Dims, Line: d.DefRange.Start.Line}
			if d.Storage != nil {
				switch *d.Storage {
				case "dynamic":
					decl.Dynamic = true
				case "static":
					decl.Static = true
				default:
					return nil, malformed(decl.Line, "decl %s: unknown storage %q", d.Name, *d.Storage)
				}
			}
			setIf(&decl.Init, d.Init)
			if decl.Dynamic && len(decl.Dims) == 0 {
				return nil, malformed(decl.Line, "decl %s: dynamic declarations need a dimension", d.Name)
			}
			spec.InputDecls = append(spec.InputDecls, decl)
		}
	}

	if err := spec.finish(); err != nil {
		return nil, err
	}
	return spec, nil
}

func decodeParams(params []*hclParam) ([]ParamDecl, error) {
	ctx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"True": cty.True, "False": cty.False},
		Functions: domainFunctions,
	}
	out := make([]ParamDecl, 0, len(params))
	for _, p := range params {
		line := p.DefRange.Start.Line
		v, diags := p.Values.Value(ctx)
		if diags.HasErrors() {
			return nil, diagsToMalformed(diags)
		}
		d, err := domain.NewDomain(p.Name, v)
		if err != nil {
			return nil, malformed(line, "%v", err)
		}
		out = append(out, ParamDecl{Name: p.Name, Domain: d, Line: line})
	}
	return out, nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func diagsToMalformed(diags hcl.Diagnostics) error {
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		line := 0
		if d.Subject != nil {
			line = d.Subject.Start.Line
		}
		return malformed(line, "%s: %s", d.Summary, d.Detail)
	}
	return malformed(0, "%s", diags.Error())
}
