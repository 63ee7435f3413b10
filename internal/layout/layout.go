package layout

import (
	"sort"

	"github.com/flowscope/flowscope/internal/canvas"
	"github.com/flowscope/flowscope/internal/graph"
	"github.com/flowscope/flowscope/pkg/schema"
)

// Options controls node spacing and box dimensions.
type Options struct {
	RankSep    float64 `json:"rank_sep"`
	NodeSep    float64 `json:"node_sep"`
	NodeWidth  float64 `json:"node_width"`
	NodeHeight float64 `json:"node_height"`
}

// DefaultOptions returns the spacing used by the topology canvas.
func DefaultOptions() Options {
	return Options{
		RankSep:    90,
		NodeSep:    60,
		NodeWidth:  180,
		NodeHeight: 72,
	}
}

// Result is a laid-out node/edge collection ready for the render surface.
type Result struct {
	Nodes []*canvas.Node
	Edges []canvas.Edge
}

// MaxX returns the largest node x coordinate, or 0 for an empty result.
func (r *Result) MaxX() float64 {
	max := 0.0
	for _, n := range r.Nodes {
		if n.X > max {
			max = n.X
		}
	}
	return max
}

// Layout computes a top-to-bottom layered placement for the model.
// Ranks come from longest-path assignment with back edges excluded, so
// cyclic input terminates; within-rank order starts from input order and is
// refined by barycenter sweeps with ties broken stably. Identical model and
// options always produce bit-identical positions: every loop follows the
// input slices, never map iteration order.
func Layout(m *graph.Model, opts Options) (*Result, error) {
	if m == nil || len(m.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeLayout, "cannot lay out an empty graph")
	}

	ranks := assignRanks(m.Nodes, m.Edges)
	ordered := orderRanks(m.Nodes, m.Edges, ranks)

	// Width of each rank, to center narrow ranks under the widest one.
	maxCols := 0
	for _, row := range ordered {
		if len(row) > maxCols {
			maxCols = len(row)
		}
	}
	slot := opts.NodeWidth + opts.NodeSep
	maxWidth := float64(maxCols-1) * slot

	pos := make(map[string][2]float64, len(m.Nodes))
	for rank, row := range ordered {
		offset := (maxWidth - float64(len(row)-1)*slot) / 2
		for col, id := range row {
			pos[id] = [2]float64{
				offset + float64(col)*slot,
				float64(rank) * (opts.NodeHeight + opts.RankSep),
			}
		}
	}

	res := &Result{
		Nodes: make([]*canvas.Node, 0, len(m.Nodes)),
		Edges: make([]canvas.Edge, 0, len(m.Edges)),
	}
	for _, spec := range m.Nodes {
		p := pos[spec.ID]
		res.Nodes = append(res.Nodes, &canvas.Node{
			Spec:     spec,
			RenderID: canvas.CanonicalID(spec.ID),
			X:        p[0],
			Y:        p[1],
		})
	}
	for _, e := range m.Edges {
		res.Edges = append(res.Edges, canvas.Edge{
			Spec:     e,
			RenderID: canvas.CanonicalID(e.ID),
			Source:   canvas.CanonicalID(e.Source),
			Target:   canvas.CanonicalID(e.Target),
		})
	}
	return res, nil
}

// orderRanks produces the left-to-right node order of every rank.
// Initial order is input order; four alternating barycenter sweeps pull each
// node toward the mean column of its neighbors in the adjacent rank.
func orderRanks(nodes []schema.NodeSpec, edges []schema.EdgeSpec, ranks map[string]int) [][]string {
	maxRank := 0
	for _, r := range ranks {
		if r > maxRank {
			maxRank = r
		}
	}

	rows := make([][]string, maxRank+1)
	for _, n := range nodes {
		r := ranks[n.ID]
		rows[r] = append(rows[r], n.ID)
	}

	// Neighbor lists in edge input order.
	preds := make(map[string][]string)
	succs := make(map[string][]string)
	for _, e := range edges {
		// Only edges spanning downward contribute to ordering; back edges
		// were already excluded from ranking and would fight the sweeps.
		if ranks[e.Source] < ranks[e.Target] {
			preds[e.Target] = append(preds[e.Target], e.Source)
			succs[e.Source] = append(succs[e.Source], e.Target)
		}
	}

	const sweeps = 4
	for s := 0; s < sweeps; s++ {
		if s%2 == 0 {
			for r := 1; r <= maxRank; r++ {
				sortByBarycenter(rows[r], rows[r-1], preds)
			}
		} else {
			for r := maxRank - 1; r >= 0; r-- {
				sortByBarycenter(rows[r], rows[r+1], succs)
			}
		}
	}
	return rows
}

// sortByBarycenter stably reorders row by the mean column of each node's
// neighbors in the adjacent row. Nodes without neighbors keep their column.
func sortByBarycenter(row, adjacent []string, neighbors map[string][]string) {
	col := make(map[string]int, len(adjacent))
	for i, id := range adjacent {
		col[id] = i
	}

	weight := make(map[string]float64, len(row))
	for i, id := range row {
		ns := neighbors[id]
		if len(ns) == 0 {
			weight[id] = float64(i)
			continue
		}
		sum := 0.0
		for _, n := range ns {
			sum += float64(col[n])
		}
		weight[id] = sum / float64(len(ns))
	}

	sort.SliceStable(row, func(i, j int) bool {
		return weight[row[i]] < weight[row[j]]
	})
}
