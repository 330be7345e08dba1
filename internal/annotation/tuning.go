package annotation

import (
	"errors"
	"regexp"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/internal/loopast"
	"github.com/looptune/looptune/internal/search"
)

// sections lists the statement kinds each tuning section accepts and, for
// arg statements, the accepted keys.
var sections = map[string]struct {
	stmts []string
	args  []string
}{
	"build":               {stmts: []string{"arg"}, args: []string{"build_command", "libs"}},
	"performance_counter": {stmts: []string{"arg"}, args: []string{"repetitions", "method"}},
	"performance_params":  {stmts: []string{"param", "constraint"}},
	"search": {stmts: []string{"arg"}, args: []string{
		"algorithm", "total_runs", "time_limit", "patience", "x0", "seed", "plateau_window", "plateau_tolerance",
	}},
	"input_params": {stmts: []string{"param"}},
	"input_vars":   {stmts: []string{"arg", "decl"}, args: []string{"decl_file", "init_file"}},
}

func parseTuning(m marker) (*TuningSpec, error) {
	sc := loopast.NewScanner(m.content, m.line)
	sc.HashComments = true
	sc.AcceptKeyword("begin")
	sc.AcceptKeyword("PerfTuning")
	body, line, err := parenBody(sc, m)
	if err != nil {
		return nil, err
	}

	spec := newTuningSpec(m.line)
	s := loopast.NewScanner(body, line)
	s.HashComments = true
	for {
		s.SkipSpace()
		if s.EOF() {
			break
		}
		if !s.AcceptKeyword("def") {
			return nil, malformed(s.Line(), "expected def, found %q", s.PeekIdent())
		}
		nameLine := s.Line()
		name, err := s.Ident()
		if err != nil {
			return nil, syntaxToMalformed(err, nameLine)
		}
		sec, ok := sections[name]
		if !ok {
			return nil, malformed(nameLine, "unknown section %q", name)
		}
		if err := s.Expect('{'); err != nil {
			return nil, syntaxToMalformed(err, nameLine)
		}
		if err := parseSection(s, spec, name, sec.stmts, sec.args); err != nil {
			return nil, err
		}
	}
	if err := spec.finish(); err != nil {
		return nil, err
	}
	return spec, nil
}

func parseSection(s *loopast.Scanner, spec *TuningSpec, section string, stmts, args []string) error {
	for {
		if s.Accept('}') {
			return nil
		}
		if s.EOF() {
			return malformed(s.Line(), "unterminated section %s", section)
		}
		line := s.Line()
		kw, err := s.Ident()
		if err != nil {
			return syntaxToMalformed(err, line)
		}
		if !contains(stmts, kw) {
			return malformed(line, "unexpected %s statement in section %s", kw, section)
		}
		switch kw {
		case "arg":
			err = parseArg(s, spec, section, args)
		case "param":
			err = parseParam(s, spec, section)
		case "constraint":
			err = parseConstraint(s, spec)
		case "decl":
			err = parseDecl(s, spec, line)
		}
		if err != nil {
			return err
		}
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// evalStatement parses `= expr ;` and evaluates expr without bindings.
func evalStatement(s *loopast.Scanner, what string) (cty.Value, error) {
	line := s.Line()
	if err := s.Expect('='); err != nil {
		return cty.NilVal, syntaxToMalformed(err, line)
	}
	expr, err := loopast.ParseExpr(s)
	if err != nil {
		return cty.NilVal, syntaxToMalformed(err, line)
	}
	if err := s.Expect(';'); err != nil {
		return cty.NilVal, syntaxToMalformed(err, line)
	}
	v, err := expr.Eval(nil)
	if err != nil {
		return cty.NilVal, malformed(line, "%s: %v", what, err)
	}
	return v, nil
}

func parseArg(s *loopast.Scanner, spec *TuningSpec, section string, keys []string) error {
	line := s.Line()
	key, err := s.Ident()
	if err != nil {
		return syntaxToMalformed(err, line)
	}
	if !contains(keys, key) {
		return malformed(line, "unknown key %q in section %s", key, section)
	}
	v, err := evalStatement(s, key)
	if err != nil {
		return err
	}
	if err := applyArg(spec, key, v); err != nil {
		return malformed(line, "%s: %v", key, err)
	}
	return nil
}

func applyArg(spec *TuningSpec, key string, v cty.Value) error {
	var err error
	opts := &spec.Search.Options
	switch key {
	case "build_command":
		spec.BuildCommand, err = domain.AsString(v)
	case "libs":
		spec.Libs, err = domain.AsString(v)
	case "repetitions":
		spec.Repetitions, err = domain.AsInt(v)
	case "method":
		var m string
		if m, err = domain.AsString(v); err == nil {
			spec.Timing, err = timingMethod(m)
		}
	case "algorithm":
		var name string
		if name, err = domain.AsString(v); err == nil {
			spec.Search.Algorithm, err = search.ParseAlgorithm(name)
		}
	case "total_runs":
		opts.TotalRuns, err = domain.AsInt(v)
	case "time_limit":
		var secs float64
		if secs, err = asFloat(v); err == nil {
			opts.TimeLimit = secondsToDuration(secs)
		}
	case "patience":
		opts.Patience, err = domain.AsInt(v)
	case "x0":
		opts.X0, err = domain.AsInts(v)
	case "seed":
		var n int
		n, err = domain.AsInt(v)
		opts.Seed = int64(n)
	case "plateau_window":
		opts.PlateauWindow, err = domain.AsInt(v)
	case "plateau_tolerance":
		opts.PlateauTolerance, err = asFloat(v)
	case "decl_file":
		spec.DeclFile, err = domain.AsString(v)
	case "init_file":
		spec.InitFile, err = domain.AsString(v)
	}
	return err
}

func asFloat(v cty.Value) (float64, error) {
	if v == cty.NilVal || v.IsNull() || v.Type() != cty.Number {
		return 0, errors.New("expected number")
	}
	f, _ := v.AsBigFloat().Float64()
	return f, nil
}

func timingMethod(m string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(m)) {
	case "basic timer", "basic", "wall", "":
		return TimingWall, nil
	case "reported", "program output":
		return TimingReported, nil
	}
	return "", errors.New("unknown timing method " + m)
}

func parseParam(s *loopast.Scanner, spec *TuningSpec, section string) error {
	line := s.Line()
	name, err := s.Ident()
	if err != nil {
		return syntaxToMalformed(err, line)
	}
	if s.Accept('[') {
		if err := s.Expect(']'); err != nil {
			return syntaxToMalformed(err, line)
		}
	}
	v, err := evalStatement(s, "parameter "+name)
	if err != nil {
		return err
	}
	d, err := domain.NewDomain(name, v)
	if err != nil {
		return malformed(line, "%v", err)
	}
	decl := ParamDecl{Name: name, Domain: d, Line: line}
	if section == "input_params" {
		spec.InputParams = append(spec.InputParams, decl)
	} else {
		spec.Params = append(spec.Params, decl)
	}
	return nil
}

// parseConstraint accepts `constraint NAME = 'expr';` or an unquoted
// expression running to the semicolon.
func parseConstraint(s *loopast.Scanner, spec *TuningSpec) error {
	line := s.Line()
	name, err := s.Ident()
	if err != nil {
		return syntaxToMalformed(err, line)
	}
	if err := s.Expect('='); err != nil {
		return syntaxToMalformed(err, line)
	}
	s.SkipSpace()
	var text string
	if r := s.Peek(); r == '\'' || r == '"' {
		if text, err = s.QuotedString(); err != nil {
			return syntaxToMalformed(err, line)
		}
		if err := s.Expect(';'); err != nil {
			return syntaxToMalformed(err, line)
		}
	} else {
		stmt, err := s.Statement()
		if err != nil {
			return syntaxToMalformed(err, line)
		}
		text = strings.TrimSuffix(stmt, ";")
	}
	c, err := domain.CompileConstraint(name, text, line)
	if err != nil {
		return malformed(line, "%v", err)
	}
	spec.Constraints = append(spec.Constraints, c)
	return nil
}

var (
	declPattern = regexp.MustCompile(`(?s)^(?:(static|dynamic)\s+)?(.+?)\s*\b([A-Za-z_]\w*)\s*((?:\[[^\]]*\]\s*)*)(?:=\s*(.*?))?\s*;$`)
	dimPattern  = regexp.MustCompile(`\[([^\]]*)\]`)
)

// parseDecl parses `decl [static|dynamic] TYPE NAME[DIM]... [= init];`.
func parseDecl(s *loopast.Scanner, spec *TuningSpec, line int) error {
	stmt, err := s.Statement()
	if err != nil {
		return syntaxToMalformed(err, line)
	}
	m := declPattern.FindStringSubmatch(strings.TrimSpace(stmt))
	if m == nil || strings.TrimSpace(m[2]) == "" {
		return malformed(line, "malformed decl %q", stmt)
	}
	d := InputDecl{
		Name:    m[3],
		Type:    strings.Join(strings.Fields(m[2]), " "),
		Dynamic: m[1] == "dynamic",
		Static:  m[1] == "static",
		Init:    strings.TrimSpace(m[5]),
		Line:    line,
	}
	for _, dm := range dimPattern.FindAllStringSubmatch(m[4], -1) {
		dim := strings.TrimSpace(dm[1])
		if dim == "" {
			return malformed(line, "decl %s: empty dimension", d.Name)
		}
		d.Dims = append(d.Dims, dim)
	}
	if d.Dynamic && len(d.Dims) == 0 {
		return malformed(line, "decl %s: dynamic declarations need a dimension", d.Name)
	}
	for _, prev := range spec.InputDecls {
		if prev.Name == d.Name {
			return malformed(line, "duplicate decl %s", d.Name)
		}
	}
	spec.InputDecls = append(spec.InputDecls, d)
	return nil
}
