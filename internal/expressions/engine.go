package expressions

import (
	"context"

	"github.com/flowscope/flowscope/pkg/schema"
)

// Engine compiles and evaluates edge-condition expressions.
// Two implementations: Expr (default dialect) and CEL. The graph builder only
// needs Check at load time; Evaluate exists for callers that preview
// conditions against sample run state.
type Engine interface {
	Name() string
	// Check compiles the expression without evaluating it. Used by the graph
	// builder to fail a definition load on malformed conditions.
	Check(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Registry resolves a condition dialect name to an Engine.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry creates a Registry with the expr and cel engines registered.
func NewRegistry() (*Registry, error) {
	celEng, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	r := &Registry{engines: map[string]Engine{}}
	r.engines["expr"] = NewExprEngine()
	r.engines["cel"] = celEng
	return r, nil
}

// ForDialect returns the engine for the given dialect.
// An empty dialect resolves to expr.
func (r *Registry) ForDialect(dialect string) (Engine, error) {
	if dialect == "" {
		dialect = "expr"
	}
	eng, ok := r.engines[dialect]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "unknown condition dialect: %s", dialect)
	}
	return eng, nil
}
