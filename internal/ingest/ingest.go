package ingest

import "github.com/flowscope/flowscope/pkg/schema"

// DefaultLogCapacity bounds the event log when the caller does not configure
// a capacity.
const DefaultLogCapacity = 500

// Ingestor consumes a run's execution events in delivery order and maintains
// the derived active-node set plus a bounded event log (oldest evicted
// first).
//
// Not safe for concurrent use: it is owned by a single session loop, which
// is also why no lock is needed. Transitions trust arrival order, never the
// event timestamp, which is server clock and display-only.
type Ingestor struct {
	capacity  int
	ring      []schema.ExecutionEvent
	head      int // index of the oldest entry
	count     int
	active    map[string]struct{}
	connected bool
}

// NewIngestor creates an Ingestor whose log holds at most capacity events.
// Non-positive capacities fall back to DefaultLogCapacity.
func NewIngestor(capacity int) *Ingestor {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Ingestor{
		capacity: capacity,
		ring:     make([]schema.ExecutionEvent, capacity),
		active:   make(map[string]struct{}),
	}
}

// ApplyEvent appends the event to the log and updates active-set membership:
// node_entered adds (idempotently, so loop re-entry is a no-op), node_exited
// and node_error remove, all other event types are log-only.
func (in *Ingestor) ApplyEvent(ev schema.ExecutionEvent) {
	in.append(ev)

	if ev.Node == "" || !schema.TouchesActiveSet(ev.Type) {
		return
	}
	if ev.Type == schema.EventNodeEntered {
		in.active[ev.Node] = struct{}{}
		return
	}
	delete(in.active, ev.Node)
}

// Clear resets the log and the active set. It is the only way active nodes
// are removed outside matching exit/error events: a dropped connection gives
// no guarantee that in-flight node_entered events will ever be matched, so
// the surrounding page decides when stale activity is discarded.
func (in *Ingestor) Clear() {
	in.head = 0
	in.count = 0
	in.active = make(map[string]struct{})
}

// ActiveSet returns the live active-node set keyed by canonical node id.
// The map is owned by the Ingestor; callers must treat it as read-only.
func (in *Ingestor) ActiveSet() map[string]struct{} {
	return in.active
}

// IsActive reports whether the node's most recent node_entered has not been
// closed by a node_exited or node_error.
func (in *Ingestor) IsActive(nodeID string) bool {
	_, ok := in.active[nodeID]
	return ok
}

// Events returns the logged events, oldest first.
func (in *Ingestor) Events() []schema.ExecutionEvent {
	out := make([]schema.ExecutionEvent, in.count)
	for i := 0; i < in.count; i++ {
		out[i] = in.ring[(in.head+i)%in.capacity]
	}
	return out
}

// Len returns the number of logged events.
func (in *Ingestor) Len() int {
	return in.count
}

// SetConnected records the transport's connection state. The Ingestor never
// computes this itself and never clears state on disconnect; both are the
// transport owner's calls to make.
func (in *Ingestor) SetConnected(connected bool) {
	in.connected = connected
}

// Connected reports the transport state last recorded by SetConnected.
func (in *Ingestor) Connected() bool {
	return in.connected
}

func (in *Ingestor) append(ev schema.ExecutionEvent) {
	if in.count == in.capacity {
		in.ring[in.head] = ev
		in.head = (in.head + 1) % in.capacity
		return
	}
	in.ring[(in.head+in.count)%in.capacity] = ev
	in.count++
}
