package canvas

import (
	"encoding/json"
	"strings"
)

// overlayPrefix is the wire form of the overlay namespace. It exists only at
// the render-surface boundary; inside the engine a RenderID is a tagged value
// and canonical-id extraction is a field read, not a string slice.
const overlayPrefix = "sub_"

// RenderID keys a node or edge within the single diagramming surface.
// It is either the canonical id (primary graph) or the canonical id tagged
// as belonging to the sub-agent overlay.
type RenderID struct {
	canonical string
	overlay   bool
}

// CanonicalID builds the render id of a primary-graph element.
func CanonicalID(id string) RenderID {
	return RenderID{canonical: id}
}

// OverlayID builds the render id of a sub-agent overlay element.
func OverlayID(id string) RenderID {
	return RenderID{canonical: id, overlay: true}
}

// ParseRenderID decodes the wire form back into a tagged RenderID.
func ParseRenderID(s string) RenderID {
	if rest, ok := strings.CutPrefix(s, overlayPrefix); ok {
		return OverlayID(rest)
	}
	return CanonicalID(s)
}

// Canonical returns the node identifier as known to the execution engine,
// independent of any rendering namespace.
func (r RenderID) Canonical() string { return r.canonical }

// IsOverlay reports whether the id belongs to the sub-agent overlay.
func (r RenderID) IsOverlay() bool { return r.overlay }

// String returns the wire form: the canonical id, prefixed for overlay
// elements.
func (r RenderID) String() string {
	if r.overlay {
		return overlayPrefix + r.canonical
	}
	return r.canonical
}

func (r RenderID) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RenderID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = ParseRenderID(s)
	return nil
}
