// Package transform rewrites annotated loop nests for one parameter binding.
// Every rewrite works on a deep copy: the parsed nest is shared by all
// variants of a session and is never modified.
package transform

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/internal/loopast"
	"github.com/looptune/looptune/pkg/logger"
)

// InvalidVariant reports a directive that is structurally inconsistent for
// the current binding, such as a Permute naming a missing loop or a
// non-positive tile factor. The variant is skipped, never built.
type InvalidVariant struct {
	Transform string
	Line      int
	Reason    string
}

func (e *InvalidVariant) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid variant: %s at line %d: %s", e.Transform, e.Line, e.Reason)
	}
	return fmt.Sprintf("invalid variant: %s: %s", e.Transform, e.Reason)
}

func invalid(format string, args ...any) *InvalidVariant {
	return &InvalidVariant{Reason: fmt.Sprintf(format, args...)}
}

// Step is one bound transformation. Apply receives a loop owned by the
// caller and returns the nodes that replace it.
type Step interface {
	Name() string
	Apply(l *loopast.Loop) ([]loopast.Node, error)
}

// Engine applies the directives of a loop nest.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a transformation engine.
func NewEngine() *Engine {
	return &Engine{logger: logger.Default}
}

// SetLogger sets the engine's logger
func (e *Engine) SetLogger(l *slog.Logger) {
	e.logger = l
}

// Apply transforms nest under the variant's bindings, input parameters
// included.
func (e *Engine) Apply(nest []loopast.Node, v domain.Variant) ([]loopast.Node, error) {
	return e.ApplyEnv(nest, v.Env())
}

// ApplyEnv transforms nest with arbitrary bindings. Directives are applied
// bottom-up, inner annotated loops first, and within one loop in the order
// they were written.
func (e *Engine) ApplyEnv(nest []loopast.Node, env loopast.Env) ([]loopast.Node, error) {
	return e.rewrite(loopast.CloneNodes(nest), env)
}

func (e *Engine) rewrite(nodes []loopast.Node, env loopast.Env) ([]loopast.Node, error) {
	out := make([]loopast.Node, 0, len(nodes))
	for _, n := range nodes {
		switch v := n.(type) {
		case *loopast.Loop:
			body, err := e.rewrite(v.Body, env)
			if err != nil {
				return nil, err
			}
			v.Body = body
			repl, err := e.applyDirectives(v, env)
			if err != nil {
				return nil, err
			}
			out = append(out, repl...)
		case *loopast.Block:
			body, err := e.rewrite(v.Body, env)
			if err != nil {
				return nil, err
			}
			v.Body = body
			out = append(out, v)
		default:
			out = append(out, n)
		}
	}
	return out, nil
}

func (e *Engine) applyDirectives(l *loopast.Loop, env loopast.Env) ([]loopast.Node, error) {
	directives := l.Directives
	l.Directives = nil
	current := []loopast.Node{l}
	for _, d := range directives {
		steps, err := Bind(d, env)
		if err != nil {
			return nil, located(err, d)
		}
		for _, step := range steps {
			var next []loopast.Node
			for _, n := range current {
				loop, ok := n.(*loopast.Loop)
				if !ok {
					next = append(next, n)
					continue
				}
				repl, err := step.Apply(loop)
				if err != nil {
					return nil, located(err, d)
				}
				next = append(next, repl...)
			}
			current = next
			e.logger.Debug("Transform applied",
				"transform", step.Name(),
				"loop", l.Index,
				"line", d.Line)
		}
	}
	return current, nil
}

// located fills in the directive position of an InvalidVariant.
func located(err error, d *loopast.Directive) error {
	var iv *InvalidVariant
	if errors.As(err, &iv) {
		if iv.Transform == "" {
			iv.Transform = d.Kind
		}
		if iv.Line == 0 {
			iv.Line = d.Line
		}
		return iv
	}
	return &InvalidVariant{Transform: d.Kind, Line: d.Line, Reason: err.Error()}
}
