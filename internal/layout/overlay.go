package layout

import "github.com/flowscope/flowscope/internal/canvas"

// OffsetOverlay namespaces and translates an independently laid-out sub-graph
// so it sits beside the primary graph in the shared render surface.
// Every render id gains the overlay tag and every x shifts by the primary
// graph's maximum x plus the margin; y is untouched. The translation reads
// only the primary bounding box, so the two graphs may be fully disjoint.
func OffsetOverlay(primary, sub *Result, margin float64) *Result {
	offset := primary.MaxX() + margin

	out := &Result{
		Nodes: make([]*canvas.Node, 0, len(sub.Nodes)),
		Edges: make([]canvas.Edge, 0, len(sub.Edges)),
	}
	for _, n := range sub.Nodes {
		shifted := *n
		shifted.RenderID = canvas.OverlayID(n.RenderID.Canonical())
		shifted.X = n.X + offset
		out.Nodes = append(out.Nodes, &shifted)
	}
	for _, e := range sub.Edges {
		e.RenderID = canvas.OverlayID(e.RenderID.Canonical())
		e.Source = canvas.OverlayID(e.Source.Canonical())
		e.Target = canvas.OverlayID(e.Target.Canonical())
		out.Edges = append(out.Edges, e)
	}
	return out
}
