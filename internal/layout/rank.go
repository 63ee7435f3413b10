package layout

import "github.com/flowscope/flowscope/pkg/schema"

// assignRanks computes the horizontal band of every node: the longest path
// from any source, counting only forward edges. Back edges found by a
// depth-first walk are excluded, which makes the assignment well-defined for
// arbitrary directed graphs, cycles included.
//
// Everything iterates in input order so equal graphs always rank equally.
func assignRanks(nodes []schema.NodeSpec, edges []schema.EdgeSpec) map[string]int {
	adj := make(map[string][]int, len(nodes))
	for i, e := range edges {
		adj[e.Source] = append(adj[e.Source], i)
	}

	back := findBackEdges(nodes, edges, adj)

	// In-degrees over forward edges only.
	indeg := make(map[string]int, len(nodes))
	for _, n := range nodes {
		indeg[n.ID] = 0
	}
	for i, e := range edges {
		if back[i] {
			continue
		}
		if _, known := indeg[e.Target]; known {
			indeg[e.Target]++
		}
	}

	// Kahn's algorithm seeded in input order; rank is the longest path in.
	ranks := make(map[string]int, len(nodes))
	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if indeg[n.ID] == 0 {
			queue = append(queue, n.ID)
			ranks[n.ID] = 0
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, ei := range adj[id] {
			if back[ei] {
				continue
			}
			target := edges[ei].Target
			if _, known := indeg[target]; !known {
				continue
			}
			if r := ranks[id] + 1; r > ranks[target] {
				ranks[target] = r
			}
			indeg[target]--
			if indeg[target] == 0 {
				queue = append(queue, target)
			}
		}
	}

	return ranks
}

// findBackEdges classifies edges via an iterative depth-first walk over the
// nodes in input order. An edge into a node currently on the walk's stack is
// a back edge.
func findBackEdges(nodes []schema.NodeSpec, edges []schema.EdgeSpec, adj map[string][]int) map[int]bool {
	const (
		white = 0 // unvisited
		gray  = 1 // on stack
		black = 2 // done
	)

	color := make(map[string]int, len(nodes))
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}

	back := make(map[int]bool)

	type frame struct {
		id   string
		next int // index into adj[id]
	}

	for _, start := range nodes {
		if color[start.ID] != white {
			continue
		}
		stack := []frame{{id: start.ID}}
		color[start.ID] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			out := adj[top.id]

			if top.next >= len(out) {
				color[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}

			ei := out[top.next]
			top.next++
			target := edges[ei].Target
			if !known[target] {
				continue
			}
			switch color[target] {
			case gray:
				back[ei] = true
			case white:
				color[target] = gray
				stack = append(stack, frame{id: target})
			}
		}
	}

	return back
}
