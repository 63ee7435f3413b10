package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/flowscope/flowscope/internal/canvas"
	"github.com/flowscope/flowscope/internal/graph"
	"github.com/flowscope/flowscope/internal/ingest"
	"github.com/flowscope/flowscope/internal/layout"
	"github.com/flowscope/flowscope/pkg/schema"
)

// Config holds per-session tuning.
type Config struct {
	// LayoutOptions spaces the primary graph.
	LayoutOptions layout.Options
	// OverlayOptions spaces the sub-agent overlay, independently of the
	// primary graph.
	OverlayOptions layout.Options
	// OverlayMargin is the horizontal gap between the primary bounding box
	// and the overlay.
	OverlayMargin float64
	// EventLogCapacity bounds the in-memory execution event log.
	EventLogCapacity int
	Logger           *slog.Logger
}

// DefaultConfig returns the canvas defaults.
func DefaultConfig() Config {
	return Config{
		LayoutOptions:    layout.DefaultOptions(),
		OverlayOptions:   layout.DefaultOptions(),
		OverlayMargin:    300,
		EventLogCapacity: ingest.DefaultLogCapacity,
	}
}

// Snapshot is the render surface's view of the canvas: value copies, safe to
// hand across goroutines and serialize.
type Snapshot struct {
	Generation uint64                  `json:"generation"`
	Connected  bool                    `json:"connected"`
	Overlay    string                  `json:"overlay,omitempty"`
	Nodes      []canvas.Node           `json:"nodes"`
	Edges      []canvas.Edge           `json:"edges"`
	Events     []schema.ExecutionEvent `json:"events"`
}

// Session owns one workflow selection's topology canvas. All mutable state
// lives on a single goroutine fed by a command channel: one command runs to
// completion before the next starts, so the event stream, the metadata
// poller, and the render surface never race. That is the whole concurrency
// model; there are no locks around the node collection.
//
// Every loaded graph gets a monotonically increasing generation. Event and
// metadata deliveries carry the generation they were subscribed under and
// are discarded once superseded, so a stale callback can never overwrite a
// newer graph's collection.
type Session struct {
	ID string

	cfg     Config
	builder *graph.Builder
	logger  *slog.Logger

	cmds chan func()

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
	done      chan struct{}

	// Loop-owned state. Only the run loop reads or writes these.
	generation uint64
	model      *graph.Model
	primary    *layout.Result
	nodes      []*canvas.Node
	edges      []canvas.Edge
	overlay    string
	ingestor   *ingest.Ingestor
	metadata   map[string]*schema.NodeMetadata
}

// New creates a Session. Start must be called before any other method.
func New(cfg Config) (*Session, error) {
	builder, err := graph.NewBuilder()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		ID:       id,
		cfg:      cfg,
		builder:  builder,
		logger:   logger.With(slog.String("session_id", id)),
		cmds:     make(chan func(), 64),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
		ingestor: ingest.NewIngestor(cfg.EventLogCapacity),
		metadata: make(map[string]*schema.NodeMetadata),
	}, nil
}

// Start launches the command loop.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop shuts the loop down after in-flight commands finish.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
	<-s.done
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stopped:
			return
		case cmd := <-s.cmds:
			cmd()
		}
	}
}

// do posts a command and waits for the loop to execute it.
func (s *Session) do(fn func()) error {
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(ran) }:
	case <-s.stopped:
		return fmt.Errorf("session %s is stopped", s.ID)
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return fmt.Errorf("session %s is stopped", s.ID)
	}
}

// LoadGraph replaces the whole canvas with the given definition: build,
// lay out, reset run state. Returns the new generation; event and metadata
// producers must tag their deliveries with it. Any failure leaves an empty
// canvas, never a partial one.
func (s *Session) LoadGraph(def *schema.GraphDefinition) (uint64, error) {
	var gen uint64
	var loadErr error
	err := s.do(func() {
		s.generation++
		gen = s.generation

		// Selection change: everything derived from the old graph is gone.
		s.model = nil
		s.primary = nil
		s.nodes = nil
		s.edges = nil
		s.overlay = ""
		s.ingestor = ingest.NewIngestor(s.cfg.EventLogCapacity)
		s.metadata = make(map[string]*schema.NodeMetadata)

		model, err := s.builder.Build(def)
		if err != nil {
			loadErr = err
			return
		}
		res, err := layout.Layout(model, s.cfg.LayoutOptions)
		if err != nil {
			loadErr = err
			return
		}

		s.model = model
		s.primary = res
		s.nodes = res.Nodes
		s.edges = res.Edges
		s.logger.Debug("graph loaded",
			slog.Uint64("generation", gen),
			slog.Int("nodes", len(res.Nodes)),
			slog.Int("edges", len(res.Edges)))
	})
	if err != nil {
		return 0, err
	}
	return gen, loadErr
}

// HandleEvent ingests one execution event and reconciles. Deliveries tagged
// with a superseded generation are dropped.
func (s *Session) HandleEvent(gen uint64, ev schema.ExecutionEvent) error {
	return s.do(func() {
		if gen != s.generation {
			s.logger.Debug("dropping stale event",
				slog.Uint64("event_generation", gen),
				slog.Uint64("current_generation", s.generation))
			return
		}
		s.ingestor.ApplyEvent(ev)
		canvas.Reconcile(s.nodes, s.ingestor.ActiveSet(), s.metadata)
	})
}

// HandleMetadata replaces the metadata snapshot and reconciles. Deliveries
// tagged with a superseded generation are dropped.
func (s *Session) HandleMetadata(gen uint64, snap map[string]*schema.NodeMetadata) error {
	return s.do(func() {
		if gen != s.generation {
			return
		}
		if snap == nil {
			return
		}
		s.metadata = snap
		canvas.Reconcile(s.nodes, s.ingestor.ActiveSet(), s.metadata)
	})
}

// SetConnected records the stream transport's state on the canvas.
func (s *Session) SetConnected(connected bool) error {
	return s.do(func() { s.ingestor.SetConnected(connected) })
}

// ClearRunState drops the event log and the active set, then reconciles so
// stale activity disappears from the canvas. Called by the page when it
// decides a reconnect should not keep showing the last known active nodes.
func (s *Session) ClearRunState() error {
	return s.do(func() {
		s.ingestor.Clear()
		canvas.Reconcile(s.nodes, s.ingestor.ActiveSet(), s.metadata)
	})
}

// SetPosition applies a user drag. Positions are owned by layout and drags;
// reconciliation never touches them.
func (s *Session) SetPosition(renderID string, x, y float64) error {
	return s.do(func() {
		id := canvas.ParseRenderID(renderID)
		for _, n := range s.nodes {
			if n.RenderID == id {
				n.X = x
				n.Y = y
				return
			}
		}
	})
}

// EnableOverlay lays out the named sub-graph independently and places it
// beside the primary graph. Enabling a different overlay replaces the
// current one; primary positions, including drags, are untouched.
func (s *Session) EnableOverlay(name string) error {
	var opErr error
	err := s.do(func() {
		if s.model == nil {
			opErr = schema.NewError(schema.ErrCodeInvalidGraph, "no graph loaded")
			return
		}
		sub, ok := s.model.Subgraphs[name]
		if !ok {
			opErr = schema.NewErrorf(schema.ErrCodeNotFound, "subgraph %q not in definition", name)
			return
		}

		res, err := layout.Layout(sub, s.cfg.OverlayOptions)
		if err != nil {
			opErr = err
			return
		}
		shifted := layout.OffsetOverlay(s.primary, res, s.cfg.OverlayMargin)

		s.removeOverlay()
		s.nodes = append(s.nodes, shifted.Nodes...)
		s.edges = append(s.edges, shifted.Edges...)
		s.overlay = name

		canvas.Reconcile(s.nodes, s.ingestor.ActiveSet(), s.metadata)
	})
	if err != nil {
		return err
	}
	return opErr
}

// DisableOverlay removes the overlay nodes and edges from the canvas.
func (s *Session) DisableOverlay() error {
	return s.do(func() {
		s.removeOverlay()
		s.overlay = ""
	})
}

// removeOverlay strips overlay-tagged elements. Loop-owned; callers hold the
// loop by construction.
func (s *Session) removeOverlay() {
	nodes := s.nodes[:0]
	for _, n := range s.nodes {
		if !n.RenderID.IsOverlay() {
			nodes = append(nodes, n)
		}
	}
	s.nodes = nodes

	edges := s.edges[:0]
	for _, e := range s.edges {
		if !e.RenderID.IsOverlay() {
			edges = append(edges, e)
		}
	}
	s.edges = edges
}

// Snapshot returns a value copy of the canvas for the render surface.
func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() {
		snap.Generation = s.generation
		snap.Connected = s.ingestor.Connected()
		snap.Overlay = s.overlay
		snap.Nodes = make([]canvas.Node, len(s.nodes))
		for i, n := range s.nodes {
			snap.Nodes[i] = *n
		}
		snap.Edges = append([]canvas.Edge(nil), s.edges...)
		snap.Events = s.ingestor.Events()
	})
	return snap, err
}
