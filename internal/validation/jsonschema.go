package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowscope/flowscope/pkg/schema"
)

// graphSchemaJSON is the JSON Schema for GraphDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowscope.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes", "edges"],
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "subgraphs": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/subgraph" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "kind": {
          "type": "string",
          "enum": ["orchestrator", "agent", "sub_agent", "error_handler", "terminal"]
        },
        "label": { "type": "string" },
        "model_id": { "type": "string" },
        "model_provider": {
          "type": "string",
          "enum": ["openai", "anthropic", "local"]
        }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["id", "source", "target"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "source": {
          "type": "string",
          "minLength": 1
        },
        "target": {
          "type": "string",
          "minLength": 1
        },
        "conditional": { "type": "boolean" },
        "label": { "type": "string" },
        "condition": { "type": "string" },
        "dialect": {
          "type": "string",
          "enum": ["expr", "cel"]
        }
      },
      "additionalProperties": false
    },
    "subgraph": {
      "type": "object",
      "required": ["nodes"],
      "properties": {
        "nodes": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/node" }
        },
        "edges": {
          "type": "array",
          "items": { "$ref": "#/$defs/edge" }
        }
      },
      "additionalProperties": false
    }
  }
}`

// GraphValidator validates graph definition documents against the graph JSON
// Schema (Draft 2020-12) plus the structural rules JSON Schema cannot
// express. It is safe for concurrent use.
type GraphValidator struct {
	graphSchema *jsonschema.Schema
}

// NewGraphValidator creates a GraphValidator with the graph schema pre-compiled.
func NewGraphValidator() (*GraphValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	if err := c.AddResource("https://flowscope.dev/schemas/graph.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add graph schema resource: %w", err)
	}

	gs, err := c.Compile("https://flowscope.dev/schemas/graph.json")
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}

	return &GraphValidator{graphSchema: gs}, nil
}

// ValidateDocument validates a raw definition document before it is stored.
// Returns the decoded definition on success so callers do not parse twice.
func (v *GraphValidator) ValidateDocument(document []byte) (*schema.GraphDefinition, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(document)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition document is not valid JSON").WithCause(err)
	}

	if err := v.graphSchema.Validate(doc); err != nil {
		return nil, toFlowError(err)
	}

	var def schema.GraphDefinition
	if err := json.Unmarshal(document, &def); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode definition document").WithCause(err)
	}
	if err := v.checkStructure(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// ValidateDefinition validates an already-decoded definition.
func (v *GraphValidator) ValidateDefinition(def *schema.GraphDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "graph definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize graph definition").WithCause(err)
	}
	if err := v.graphSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return v.checkStructure(def)
}

// checkStructure enforces the rules JSON Schema cannot express: unique node
// ids per graph, unique edge ids, and edge endpoints that resolve within
// their own graph (the terminal sentinel is always a valid target).
func (v *GraphValidator) checkStructure(def *schema.GraphDefinition) error {
	if err := checkGraph("", def.Nodes, def.Edges); err != nil {
		return err
	}
	for name, sub := range def.Subgraphs {
		if err := checkGraph(name, sub.Nodes, sub.Edges); err != nil {
			return err
		}
	}
	return nil
}

func checkGraph(subgraph string, nodes []schema.NodeSpec, edges []schema.EdgeSpec) error {
	where := func(msg string) string {
		if subgraph == "" {
			return msg
		}
		return fmt.Sprintf("subgraph %q: %s", subgraph, msg)
	}

	ids := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if _, exists := ids[n.ID]; exists {
			return schema.NewError(schema.ErrCodeValidation,
				where(fmt.Sprintf("duplicate node id %q", n.ID))).WithNode(n.ID)
		}
		ids[n.ID] = struct{}{}
	}

	edgeIDs := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		if _, exists := edgeIDs[e.ID]; exists {
			return schema.NewError(schema.ErrCodeValidation,
				where(fmt.Sprintf("duplicate edge id %q", e.ID)))
		}
		edgeIDs[e.ID] = struct{}{}

		if _, ok := ids[e.Source]; !ok {
			return schema.NewError(schema.ErrCodeValidation,
				where(fmt.Sprintf("edge %q source %q is not a node", e.ID, e.Source)))
		}
		if _, ok := ids[e.Target]; !ok && e.Target != schema.TerminalNodeID {
			return schema.NewError(schema.ErrCodeValidation,
				where(fmt.Sprintf("edge %q target %q is not a node", e.ID, e.Target)))
		}
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError with
// every leaf violation listed, so the console can show all problems at once.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
