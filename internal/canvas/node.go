package canvas

import "github.com/flowscope/flowscope/pkg/schema"

// Node is a positioned topology node as handed to the render surface.
// X and Y are written by layout and by user drags only; Active and Metadata
// are written by Reconcile only. Rev increments on every real change to the
// reconciled fields so the surface can skip untouched nodes.
type Node struct {
	Spec     schema.NodeSpec      `json:"spec"`
	RenderID RenderID             `json:"render_id"`
	X        float64              `json:"x"`
	Y        float64              `json:"y"`
	Active   bool                 `json:"active"`
	Metadata *schema.NodeMetadata `json:"metadata,omitempty"`
	Rev      uint64               `json:"rev"`
}

// Edge is a positioned topology edge keyed by render ids.
type Edge struct {
	Spec     schema.EdgeSpec `json:"spec"`
	RenderID RenderID        `json:"render_id"`
	Source   RenderID        `json:"source"`
	Target   RenderID        `json:"target"`
}
