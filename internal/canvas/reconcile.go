package canvas

import "github.com/flowscope/flowscope/pkg/schema"

// Reconcile merges the latest active-node set and metadata snapshot into the
// existing node collection. It writes Active and Metadata only when the new
// value actually differs, and never touches positions, so user-dragged
// coordinates survive indefinitely and an unchanged tick causes zero writes.
//
// Activity and metadata are looked up under the canonical id first and the
// full render id second: execution events are emitted against canonical ids,
// so a primary node and its overlay twin both reflect activity reported under
// either key. O(n) over the node count, O(1) per lookup, no I/O.
//
// Returns the number of nodes whose reconciled fields changed.
func Reconcile(nodes []*Node, active map[string]struct{}, metadata map[string]*schema.NodeMetadata) int {
	changed := 0

	for _, n := range nodes {
		canonical := n.RenderID.Canonical()
		render := n.RenderID.String()

		_, isActive := active[canonical]
		if !isActive {
			_, isActive = active[render]
		}

		meta, ok := metadata[canonical]
		if !ok {
			meta = metadata[render]
		}

		dirty := false
		if n.Active != isActive {
			n.Active = isActive
			dirty = true
		}
		// Stale-preserve: a snapshot missing this node keeps the last known
		// value rather than blanking it.
		if meta != nil && !n.Metadata.Equal(meta) {
			n.Metadata = meta
			dirty = true
		}
		if dirty {
			n.Rev++
			changed++
		}
	}

	return changed
}
