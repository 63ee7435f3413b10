package stream

import (
	"context"

	"github.com/flowscope/flowscope/pkg/schema"
)

// RunEvent is an execution event tagged with the run it belongs to, the unit
// the hub fans out to SSE and WebSocket consumers.
type RunEvent struct {
	RunID string                `json:"run_id"`
	Event schema.ExecutionEvent `json:"event"`
}

// EventFilter specifies which run events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for live execution events.
type EventHub interface {
	Publish(ctx context.Context, event RunEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error)
}
