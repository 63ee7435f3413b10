package store

import (
	"encoding/json"
	"time"

	"github.com/flowscope/flowscope/pkg/schema"
)

// Definition is a persisted workflow graph definition. Documents are
// immutable once saved: every save of an existing name gets the next
// version, so a canvas pointed at (name, version) never shifts underneath
// the operator.
type Definition struct {
	Name      string          `json:"name"`
	Version   int             `json:"version"`
	Document  json.RawMessage `json:"document"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RunEvent is one persisted execution event, tagged with the run it belongs
// to and a per-run monotonic sequence. The sequence lets late subscribers
// replay history in order and detect gaps.
type RunEvent struct {
	ID         int64                 `json:"id"`
	RunID      string                `json:"run_id"`
	Sequence   int64                 `json:"sequence"`
	Event      schema.ExecutionEvent `json:"event"`
	ReceivedAt time.Time             `json:"received_at"`
}
