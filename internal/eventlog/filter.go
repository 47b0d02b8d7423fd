package eventlog

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// Filter wraps a compiled CEL program evaluated against event fields. A nil
// or disabled filter matches everything. Used by the HTTP events endpoint
// and the CLI for ad-hoc queries, e.g.:
//
//	kind == "TaskExecutedErr" && height >= 100
//	method == "transfer" && !ok
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles an expression. Empty input yields a match-all filter.
func NewFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("seq", cel.IntType),
		cel.Variable("height", cel.IntType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("account", cel.StringType),
		cel.Variable("nonce", cel.IntType),
		cel.Variable("method", cel.StringType),
		cel.Variable("ok", cel.BoolType),
		cel.Variable("note", cel.StringType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	return &Filter{prog: prog, enabled: true}, nil
}

// Match evaluates the expression against an event. Evaluation errors count
// as non-matches.
func (f *Filter) Match(ev Event) bool {
	if f == nil || !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"seq":     int64(ev.Seq),
		"height":  int64(ev.Height),
		"kind":    ev.Kind,
		"account": ev.Account,
		"nonce":   int64(ev.Nonce),
		"method":  ev.Method,
		"ok":      ev.Ok,
		"note":    ev.Note,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
