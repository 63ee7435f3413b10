package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscope/flowscope/pkg/schema"
)

func testDefinition() *schema.GraphDefinition {
	return &schema.GraphDefinition{
		Nodes: []schema.NodeSpec{
			{ID: "router", Kind: schema.NodeKindOrchestrator, Label: "Router", ModelID: "gpt-4o"},
			{ID: "research", Kind: schema.NodeKindAgent, Label: "Research", ModelID: "claude-sonnet-4"},
		},
		Edges: []schema.EdgeSpec{
			{ID: "e1", Source: "router", Target: "research"},
			{ID: "e2", Source: "research", Target: schema.TerminalNodeID},
		},
		Subgraphs: map[string]schema.SubgraphDefinition{
			"sub_agents": {
				Nodes: []schema.NodeSpec{
					{ID: "research", Kind: schema.NodeKindSubAgent, Label: "Research (sub)"},
					{ID: "browse", Kind: schema.NodeKindSubAgent, Label: "Browse"},
				},
				Edges: []schema.EdgeSpec{{ID: "s1", Source: "research", Target: "browse"}},
			},
		},
	}
}

func startedSession(t *testing.T) *Session {
	t.Helper()
	s, err := New(DefaultConfig())
	require.NoError(t, err)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestLoadGraphLaysOutCanvas(t *testing.T) {
	s := startedSession(t)

	gen, err := s.LoadGraph(testDefinition())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 3, "router, research, synthesized terminal")
	assert.Len(t, snap.Edges, 2)
}

func TestLoadFailureLeavesEmptyCanvas(t *testing.T) {
	s := startedSession(t)

	_, err := s.LoadGraph(testDefinition())
	require.NoError(t, err)

	bad := testDefinition()
	bad.Edges = append(bad.Edges, schema.EdgeSpec{ID: "dangling", Source: "router", Target: "ghost"})
	_, err = s.LoadGraph(bad)
	require.Error(t, err)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Nodes, "no partial graph is ever rendered")
}

func TestEventReconciliation(t *testing.T) {
	s := startedSession(t)
	gen, err := s.LoadGraph(testDefinition())
	require.NoError(t, err)

	require.NoError(t, s.HandleEvent(gen, schema.ExecutionEvent{Type: schema.EventNodeEntered, Node: "router"}))

	snap, _ := s.Snapshot()
	for _, n := range snap.Nodes {
		if n.RenderID.Canonical() == "router" {
			assert.True(t, n.Active)
		} else {
			assert.False(t, n.Active)
		}
	}
}

func TestStaleGenerationDropped(t *testing.T) {
	s := startedSession(t)
	oldGen, err := s.LoadGraph(testDefinition())
	require.NoError(t, err)

	newGen, err := s.LoadGraph(testDefinition())
	require.NoError(t, err)
	require.NotEqual(t, oldGen, newGen)

	// Callbacks from the old selection arrive late: both must be ignored.
	require.NoError(t, s.HandleEvent(oldGen, schema.ExecutionEvent{Type: schema.EventNodeEntered, Node: "router"}))
	require.NoError(t, s.HandleMetadata(oldGen, map[string]*schema.NodeMetadata{
		"router": {ChannelID: "stale", Version: 99},
	}))

	snap, _ := s.Snapshot()
	assert.Empty(t, snap.Events, "stale event must not reach the log")
	for _, n := range snap.Nodes {
		assert.False(t, n.Active)
		assert.Nil(t, n.Metadata)
	}
}

func TestMetadataReconciliation(t *testing.T) {
	s := startedSession(t)
	gen, err := s.LoadGraph(testDefinition())
	require.NoError(t, err)

	require.NoError(t, s.HandleMetadata(gen, map[string]*schema.NodeMetadata{
		"research": {ChannelID: "ch-2", Version: 3},
	}))

	snap, _ := s.Snapshot()
	for _, n := range snap.Nodes {
		if n.RenderID.Canonical() == "research" {
			require.NotNil(t, n.Metadata)
			assert.Equal(t, 3, n.Metadata.Version)
		}
	}
}

func TestDragSurvivesReconciliation(t *testing.T) {
	s := startedSession(t)
	gen, err := s.LoadGraph(testDefinition())
	require.NoError(t, err)

	require.NoError(t, s.SetPosition("router", 777, 888))
	require.NoError(t, s.HandleMetadata(gen, map[string]*schema.NodeMetadata{
		"router": {ChannelID: "ch-1", Version: 1},
	}))

	snap, _ := s.Snapshot()
	for _, n := range snap.Nodes {
		if n.RenderID.String() == "router" {
			assert.Equal(t, 777.0, n.X)
			assert.Equal(t, 888.0, n.Y)
		}
	}
}

func TestOverlayLifecycle(t *testing.T) {
	s := startedSession(t)
	gen, err := s.LoadGraph(testDefinition())
	require.NoError(t, err)

	require.NoError(t, s.EnableOverlay("sub_agents"))

	snap, _ := s.Snapshot()
	assert.Equal(t, "sub_agents", snap.Overlay)
	assert.Len(t, snap.Nodes, 5, "3 primary + 2 overlay")

	var primaryMax float64
	var overlayMin float64 = 1 << 30
	for _, n := range snap.Nodes {
		if n.RenderID.IsOverlay() {
			if n.X < overlayMin {
				overlayMin = n.X
			}
		} else if n.X > primaryMax {
			primaryMax = n.X
		}
	}
	assert.GreaterOrEqual(t, overlayMin, primaryMax+DefaultConfig().OverlayMargin,
		"overlay sits beside the primary bounding box")

	// Activity reported under the canonical id lights up both twins.
	require.NoError(t, s.HandleEvent(gen, schema.ExecutionEvent{Type: schema.EventNodeEntered, Node: "research"}))
	snap, _ = s.Snapshot()
	activeCount := 0
	for _, n := range snap.Nodes {
		if n.Active {
			activeCount++
			assert.Equal(t, "research", n.RenderID.Canonical())
		}
	}
	assert.Equal(t, 2, activeCount)

	require.NoError(t, s.DisableOverlay())
	snap, _ = s.Snapshot()
	assert.Len(t, snap.Nodes, 3)
	assert.Empty(t, snap.Overlay)
}

func TestEnableOverlayUnknownName(t *testing.T) {
	s := startedSession(t)
	_, err := s.LoadGraph(testDefinition())
	require.NoError(t, err)

	err = s.EnableOverlay("nope")
	require.Error(t, err)

	var ferr *schema.FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, schema.ErrCodeNotFound, ferr.Code)
}

func TestClearRunState(t *testing.T) {
	s := startedSession(t)
	gen, err := s.LoadGraph(testDefinition())
	require.NoError(t, err)

	require.NoError(t, s.HandleEvent(gen, schema.ExecutionEvent{Type: schema.EventNodeEntered, Node: "router"}))
	require.NoError(t, s.ClearRunState())

	snap, _ := s.Snapshot()
	assert.Empty(t, snap.Events)
	for _, n := range snap.Nodes {
		assert.False(t, n.Active, "reconnect decided to drop stale activity")
	}
}

func TestStoppedSessionRejectsCommands(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)
	s.Start()
	s.Stop()

	_, err = s.LoadGraph(testDefinition())
	require.Error(t, err)
}
