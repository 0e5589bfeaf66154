// Package topology computes the breadth-first topology levels, MD-index
// structural signatures and loop/back-edge information the matching steps
// use as discriminators, operating on *graph.FlowGraph.
package topology

import "github.com/AliverAnme/bindiff/pkg/graph"

// noLeafSentinelLevel is one past any level a real BFS from the entry point
// could reach in practice. The BFS passes below do not use it: the
// bottom-up fallback seeds every vertex at level 1 instead.
const noLeafSentinelLevel = ^uint16(0)

// CalculateTopology runs the two breadth-first searches BinDiff's matching
// algorithm needs: a top-down pass from the function's entry point, and a
// bottom-up pass from a virtual super-sink connected to every basic block
// with no successors (a "leaf"). Levels are stored directly on each vertex
// (BFSTopDown / BFSBottomUp).
//
// When a flow graph has no leaves at all — every vertex sits on some cycle,
// so nothing has an empty out-edge set — there is no natural anchor for the
// bottom-up pass. In that case every vertex is seeded at bottom-up level 1,
// which keeps downstream MD-index computation well-defined without
// inventing a level ordering the cyclic structure doesn't actually have.
func CalculateTopology(fg *graph.FlowGraph) {
	n := fg.VertexCount()
	if n == 0 {
		return
	}

	topDown := bfsTopDown(fg)
	bottomUp := bfsBottomUp(fg)

	for v := 0; v < n; v++ {
		bb := fg.Vertex(v)
		bb.BFSTopDown = topDown[v]
		bb.BFSBottomUp = bottomUp[v]
	}

	CalculateMdIndex(fg)
}

func bfsTopDown(fg *graph.FlowGraph) []uint16 {
	n := fg.VertexCount()
	levels := make([]uint16, n)
	visited := make([]bool, n)

	entry := fg.GetVertex(fg.EntryPointAddress)
	if entry < 0 {
		return levels
	}
	visited[entry] = true
	queue := []int{entry}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, ei := range fg.OutEdges(v) {
			t := fg.Edge(ei).Target
			if !visited[t] {
				visited[t] = true
				levels[t] = levels[v] + 1
				queue = append(queue, t)
			}
		}
	}
	return levels
}

func bfsBottomUp(fg *graph.FlowGraph) []uint16 {
	n := fg.VertexCount()
	levels := make([]uint16, n)
	visited := make([]bool, n)

	var leaves []int
	for v := 0; v < n; v++ {
		if len(fg.OutEdges(v)) == 0 {
			leaves = append(leaves, v)
		}
	}

	if len(leaves) == 0 {
		// No leaves: every vertex is on a cycle. Seed everything at level 1
		// (see the fallback note on CalculateTopology).
		for v := 0; v < n; v++ {
			levels[v] = 1
		}
		return levels
	}

	queue := make([]int, 0, len(leaves))
	for _, v := range leaves {
		visited[v] = true
		levels[v] = 1 // virtual super-sink is level 0; leaves connect to it at level 1
		queue = append(queue, v)
	}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, ei := range fg.InEdges(v) {
			s := fg.Edge(ei).Source
			if !visited[s] {
				visited[s] = true
				levels[s] = levels[v] + 1
				queue = append(queue, s)
			}
		}
	}
	return levels
}
