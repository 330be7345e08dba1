package domain

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/looptune/looptune/internal/loopast"
)

// Constraint is a named boolean expression over parameters; variants for
// which it is false are skipped by every search strategy.
type Constraint struct {
	Name   string
	Source string
	expr   hcl.Expression
}

// CompileConstraint parses a constraint expression. Both HCL syntax and the
// Python-style spellings used in tuning blocks (and, or, not, True, False,
// single-quoted strings) are accepted.
func CompileConstraint(name, src string, line int) (*Constraint, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(toHCL(src)), name, hcl.Pos{Line: max(line, 1), Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("constraint %s: %s", name, diags.Error())
	}
	return &Constraint{Name: name, Source: src, expr: expr}, nil
}

// NewConstraint wraps an already parsed HCL expression.
func NewConstraint(name, source string, expr hcl.Expression) *Constraint {
	return &Constraint{Name: name, Source: source, expr: expr}
}

// References lists the root variable names the expression reads.
func (c *Constraint) References() []string {
	var out []string
	seen := make(map[string]bool)
	for _, tr := range c.expr.Variables() {
		n := tr.RootName()
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// Eval evaluates the constraint in env.
func (c *Constraint) Eval(env loopast.Env) (bool, error) {
	vars := make(map[string]cty.Value, len(env))
	for k, v := range env {
		vars[k] = v
	}
	val, diags := c.expr.Value(&hcl.EvalContext{Variables: vars})
	if diags.HasErrors() {
		return false, fmt.Errorf("constraint %s: %s", c.Name, diags.Error())
	}
	b, err := convert.Convert(val, cty.Bool)
	if err != nil || b.IsNull() || !b.IsKnown() {
		return false, fmt.Errorf("constraint %s: result is %s, not a boolean", c.Name, val.Type().FriendlyName())
	}
	return b.True(), nil
}

// toHCL rewrites Python-style boolean operators and literals into HCL
// syntax. Text inside string literals is only requoted.
func toHCL(src string) string {
	var b strings.Builder
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case r == '\'' || r == '"':
			j := i + 1
			var lit strings.Builder
			for j < len(rs) && rs[j] != r {
				if rs[j] == '\\' && j+1 < len(rs) {
					j++
				}
				if rs[j] == '"' {
					lit.WriteByte('\\')
				}
				lit.WriteRune(rs[j])
				j++
			}
			b.WriteString(`"` + lit.String() + `"`)
			i = min(j+1, len(rs))
		case r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			j := i
			for j < len(rs) && (rs[j] == '_' || rs[j] >= 'a' && rs[j] <= 'z' || rs[j] >= 'A' && rs[j] <= 'Z' || rs[j] >= '0' && rs[j] <= '9') {
				j++
			}
			switch word := string(rs[i:j]); word {
			case "and":
				b.WriteString("&&")
			case "or":
				b.WriteString("||")
			case "not":
				b.WriteString("!")
			case "True":
				b.WriteString("true")
			case "False":
				b.WriteString("false")
			default:
				b.WriteString(word)
			}
			i = j
		default:
			b.WriteRune(r)
			i++
		}
	}
	return b.String()
}
