package schema

// Execution event types emitted by the orchestrator bridge.
// Events are totally ordered by arrival; the Timestamp field is server clock
// and may be skewed, so it is trusted for display only.
const (
	EventNodeEntered  = "node_entered"
	EventNodeExited   = "node_exited"
	EventNodeError    = "node_error"
	EventLLMStart     = "llm_start"
	EventLLMEnd       = "llm_end"
	EventToolStart    = "tool_start"
	EventToolEnd      = "tool_end"
	EventBridgeStatus = "bridge_status"
)

// ExecutionEvent is a single entry in a run's execution event stream.
// Node ids are always canonical; overlay namespacing is presentation-only
// and never appears on the wire.
type ExecutionEvent struct {
	Type      string  `json:"type"`
	Node      string  `json:"node,omitempty"`
	Tool      string  `json:"tool,omitempty"`
	Error     string  `json:"error,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// TouchesActiveSet reports whether an event type affects active-node
// membership. llm/tool/bridge events are log-only.
func TouchesActiveSet(eventType string) bool {
	switch eventType {
	case EventNodeEntered, EventNodeExited, EventNodeError:
		return true
	default:
		return false
	}
}
