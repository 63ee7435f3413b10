package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscope/flowscope/internal/canvas"
	"github.com/flowscope/flowscope/internal/graph"
	"github.com/flowscope/flowscope/pkg/schema"
)

func subAgentModel() *graph.Model {
	return &graph.Model{
		Nodes: []schema.NodeSpec{
			{ID: "research", Kind: schema.NodeKindSubAgent},
			{ID: "browse", Kind: schema.NodeKindSubAgent},
		},
		Edges: []schema.EdgeSpec{
			{ID: "s1", Source: "research", Target: "browse"},
		},
	}
}

func TestOffsetOverlayNamespacesAndTranslates(t *testing.T) {
	primary := &Result{
		Nodes: []*canvas.Node{
			{RenderID: canvas.CanonicalID("a"), X: 120},
			{RenderID: canvas.CanonicalID("b"), X: 500},
		},
	}
	sub := &Result{
		Nodes: []*canvas.Node{
			{Spec: schema.NodeSpec{ID: "research"}, RenderID: canvas.CanonicalID("research"), X: 20, Y: 0},
		},
		Edges: []canvas.Edge{
			{Spec: schema.EdgeSpec{ID: "s1"}, RenderID: canvas.CanonicalID("s1"), Source: canvas.CanonicalID("research"), Target: canvas.CanonicalID("browse")},
		},
	}

	out := OffsetOverlay(primary, sub, 300)

	require.Len(t, out.Nodes, 1)
	n := out.Nodes[0]
	assert.Equal(t, "sub_research", n.RenderID.String())
	assert.Equal(t, "research", n.RenderID.Canonical())
	assert.Equal(t, 820.0, n.X, "x' = max(primary.x) + margin + x")
	assert.Equal(t, 0.0, n.Y, "y is untouched")

	require.Len(t, out.Edges, 1)
	e := out.Edges[0]
	assert.Equal(t, "sub_s1", e.RenderID.String())
	assert.Equal(t, "sub_research", e.Source.String())
	assert.Equal(t, "sub_browse", e.Target.String())
}

func TestOffsetOverlayDoesNotMutateInputs(t *testing.T) {
	primary := &Result{Nodes: []*canvas.Node{{RenderID: canvas.CanonicalID("a"), X: 100}}}
	sub, err := Layout(subAgentModel(), DefaultOptions())
	require.NoError(t, err)

	origX := sub.Nodes[0].X
	origID := sub.Nodes[0].RenderID

	_ = OffsetOverlay(primary, sub, 250)

	assert.Equal(t, origX, sub.Nodes[0].X)
	assert.Equal(t, origID, sub.Nodes[0].RenderID)
}

func TestOffsetOverlayEmptyPrimary(t *testing.T) {
	sub, err := Layout(subAgentModel(), DefaultOptions())
	require.NoError(t, err)

	out := OffsetOverlay(&Result{}, sub, 100)
	for i, n := range out.Nodes {
		assert.Equal(t, sub.Nodes[i].X+100, n.X)
	}
}
