package graph

import (
	"strings"

	"github.com/flowscope/flowscope/internal/expressions"
	"github.com/flowscope/flowscope/pkg/schema"
)

// Model is the in-memory topology of one workflow selection: the primary
// graph plus zero or more named sub-agent overlays. Pure data; layout and
// reconciliation operate on it without mutating it.
type Model struct {
	Nodes     []schema.NodeSpec
	Edges     []schema.EdgeSpec
	Subgraphs map[string]*Model
}

// Builder turns declarative graph definitions into validated Models.
type Builder struct {
	conditions *expressions.Registry
}

// NewBuilder creates a Builder with the condition-dialect registry.
func NewBuilder() (*Builder, error) {
	reg, err := expressions.NewRegistry()
	if err != nil {
		return nil, err
	}
	return &Builder{conditions: reg}, nil
}

// Build validates a GraphDefinition and produces a Model.
// Failures are fatal to the load: no partial model is ever returned.
func (b *Builder) Build(def *schema.GraphDefinition) (*Model, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidGraph, "graph definition is nil")
	}

	model, err := b.buildGraph(def.Nodes, def.Edges)
	if err != nil {
		return nil, err
	}

	if len(def.Subgraphs) > 0 {
		model.Subgraphs = make(map[string]*Model, len(def.Subgraphs))
		for name, sub := range def.Subgraphs {
			subModel, err := b.buildGraph(sub.Nodes, sub.Edges)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeInvalidGraph,
					"subgraph %q: %s", name, err.Error()).WithCause(err)
			}
			model.Subgraphs[name] = subModel
		}
	}

	return model, nil
}

// buildGraph validates one node/edge list and assembles it, synthesizing the
// terminal node when referenced and deriving model providers.
func (b *Builder) buildGraph(nodes []schema.NodeSpec, edges []schema.EdgeSpec) (*Model, error) {
	index := make(map[string]struct{}, len(nodes))
	out := make([]schema.NodeSpec, 0, len(nodes)+1)

	for i, n := range nodes {
		if n.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidGraph, "node at index %d has empty id", i)
		}
		if _, exists := index[n.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidGraph, "duplicate node id: %s", n.ID).WithNode(n.ID)
		}
		index[n.ID] = struct{}{}

		n.ModelProvider = ClassifyProvider(n.ModelID)
		out = append(out, n)
	}

	needsTerminal := false
	for _, e := range edges {
		if _, ok := index[e.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidGraph,
				"edge %s references unknown source node: %s", e.ID, e.Source)
		}
		if e.Target == schema.TerminalNodeID {
			needsTerminal = true
		} else if _, ok := index[e.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidGraph,
				"edge %s references unknown target node: %s", e.ID, e.Target)
		}
		if e.Condition != "" {
			if err := b.checkCondition(e); err != nil {
				return nil, err
			}
		}
	}

	// Synthesize the terminal node lazily: only when an edge targets the
	// sentinel, and exactly once no matter how many edges do.
	if needsTerminal {
		if _, exists := index[schema.TerminalNodeID]; !exists {
			out = append(out, schema.NodeSpec{
				ID:    schema.TerminalNodeID,
				Kind:  schema.NodeKindTerminal,
				Label: "End",
			})
		}
	}

	return &Model{Nodes: out, Edges: edges}, nil
}

// checkCondition compile-checks a conditional edge's expression.
func (b *Builder) checkCondition(e schema.EdgeSpec) error {
	eng, err := b.conditions.ForDialect(e.Dialect)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeInvalidGraph,
			"edge %s: %s", e.ID, err.Error()).WithCause(err)
	}
	if err := eng.Check(e.Condition); err != nil {
		return schema.NewErrorf(schema.ErrCodeInvalidGraph,
			"edge %s has invalid condition: %s", e.ID, err.Error()).WithCause(err)
	}
	return nil
}

// ClassifyProvider maps a model id to its provider. The classification is
// total: every non-empty id maps to exactly one provider, with unknown ids
// treated as locally hosted. Purely a presentation hint.
func ClassifyProvider(modelID string) schema.ModelProvider {
	if modelID == "" {
		return ""
	}
	id := strings.ToLower(modelID)
	switch {
	case strings.Contains(id, "gpt"), strings.Contains(id, "o1"):
		return schema.ProviderOpenAI
	case strings.Contains(id, "claude"), strings.Contains(id, "opus"),
		strings.Contains(id, "sonnet"), strings.Contains(id, "haiku"):
		return schema.ProviderAnthropic
	default:
		return schema.ProviderLocal
	}
}
