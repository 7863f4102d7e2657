// Package filter evaluates CEL predicates over bot analysis records,
// letting operators narrow what the analysis sink receives without touching
// bot code.
package filter

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
)

// Program is a compiled record predicate. The expression sees the record as
// the map variable `msg`.
type Program struct {
	prg    cel.Program
	logged bool
}

// Compile builds a predicate from a CEL expression. A compile failure is a
// configuration error; the caller should refuse to start.
func Compile(expr string) (*Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("msg", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("filter: environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filter: compile error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter: program creation error: %w", err)
	}
	return &Program{prg: prg}, nil
}

// Match evaluates the predicate against one record. Evaluation errors and
// non-boolean results count as no-match and are logged once per program.
func (p *Program) Match(record map[string]any) bool {
	out, _, err := p.prg.Eval(map[string]any{"msg": record})
	if err != nil {
		p.logOnce("filter evaluation failed", err)
		return false
	}
	matched, ok := out.Value().(bool)
	if !ok {
		p.logOnce("filter result is not a boolean", nil)
		return false
	}
	return matched
}

func (p *Program) logOnce(msg string, err error) {
	if p.logged {
		return
	}
	p.logged = true
	if err != nil {
		slog.Warn(msg, "error", err)
		return
	}
	slog.Warn(msg)
}
