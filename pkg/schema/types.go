package schema

// TerminalNodeID is the sentinel id edges may target to mean "end of flow".
// A terminal NodeSpec with this id is synthesized by the graph builder when
// at least one edge references it.
const TerminalNodeID = "__end__"

// NodeKind classifies a topology node by its role in the agent graph.
type NodeKind string

const (
	NodeKindOrchestrator NodeKind = "orchestrator"
	NodeKindAgent        NodeKind = "agent"
	NodeKindSubAgent     NodeKind = "sub_agent"
	NodeKindErrorHandler NodeKind = "error_handler"
	NodeKindTerminal     NodeKind = "terminal"
)

// ModelProvider is a presentation hint derived from a node's model id.
type ModelProvider string

const (
	ProviderOpenAI    ModelProvider = "openai"
	ProviderAnthropic ModelProvider = "anthropic"
	ProviderLocal     ModelProvider = "local"
)

// NodeSpec describes a single node of the workflow topology.
// Identity is ID; specs are immutable once a definition is loaded.
type NodeSpec struct {
	ID            string        `json:"id"`
	Kind          NodeKind      `json:"kind"`
	Label         string        `json:"label"`
	ModelID       string        `json:"model_id,omitempty"`
	ModelProvider ModelProvider `json:"model_provider,omitempty"`
}

// EdgeSpec describes a directed edge between two topology nodes.
// Conditional edges may carry a condition expression which is compile-checked
// at load time; evaluation belongs to the server-side scheduler.
type EdgeSpec struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Target      string `json:"target"`
	Conditional bool   `json:"conditional"`
	Label       string `json:"label,omitempty"`
	Condition   string `json:"condition,omitempty"`
	Dialect     string `json:"dialect,omitempty"` // "expr" (default) or "cel"
}

// SubgraphDefinition is a named secondary graph rendered as an overlay
// beside the primary graph.
type SubgraphDefinition struct {
	Nodes []NodeSpec `json:"nodes"`
	Edges []EdgeSpec `json:"edges"`
}

// GraphDefinition is the declarative topology document fetched from the
// definition store.
type GraphDefinition struct {
	Nodes     []NodeSpec                    `json:"nodes"`
	Edges     []EdgeSpec                    `json:"edges"`
	Subgraphs map[string]SubgraphDefinition `json:"subgraphs,omitempty"`
}

// NodeMetadata is per-node runtime metadata sourced from the metadata poller.
// It is replaced whole per node; there is no partial merge.
type NodeMetadata struct {
	ChannelID     string   `json:"channel_id"`
	PFail         *float64 `json:"p_fail"`
	LastLatencyMs *float64 `json:"last_latency_ms"`
	ToolCount     int      `json:"tool_count"`
	Version       int      `json:"version"`
}

// Equal reports whether two metadata values are identical field by field.
// Nil receivers and arguments compare equal to each other.
func (m *NodeMetadata) Equal(other *NodeMetadata) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.ChannelID == other.ChannelID &&
		floatPtrEqual(m.PFail, other.PFail) &&
		floatPtrEqual(m.LastLatencyMs, other.LastLatencyMs) &&
		m.ToolCount == other.ToolCount &&
		m.Version == other.Version
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
