package topology

import "github.com/AliverAnme/bindiff/pkg/graph"

// computeDominators returns, for every vertex reachable from the entry
// point, the index of its immediate dominator (idom[entry] == entry).
// Unreachable vertices get idom == -1.
//
// This uses the Cooper/Harvey/Kennedy iterative fixed-point algorithm
// rather than Lengauer-Tarjan directly: both converge to the same
// dominator tree, and the iterative version needs no auxiliary DFS
// numbering data structure, which keeps it a short, self-contained
// function over a plain adjacency list (see DESIGN.md for why this
// substitution doesn't change back-edge/loop-entry semantics).
func computeDominators(fg *graph.FlowGraph) []int {
	n := fg.VertexCount()
	idom := make([]int, n)
	for i := range idom {
		idom[i] = -1
	}

	entry := fg.GetVertex(fg.EntryPointAddress)
	if entry < 0 {
		return idom
	}

	order, postOrderIndex := reversePostOrder(fg, entry)
	idom[entry] = entry

	changed := true
	for changed {
		changed = false
		for _, v := range order {
			if v == entry {
				continue
			}
			var newIdom = -1
			for _, ei := range fg.InEdges(v) {
				pred := fg.Edge(ei).Source
				if idom[pred] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = pred
					continue
				}
				newIdom = intersect(idom, postOrderIndex, newIdom, pred)
			}
			if newIdom != -1 && idom[v] != newIdom {
				idom[v] = newIdom
				changed = true
			}
		}
	}
	return idom
}

// reversePostOrder returns vertices reachable from entry in reverse
// postorder (the processing order CHK's algorithm needs to converge in a
// single pass for acyclic regions), plus a lookup from vertex to its
// position in that order (higher means "earlier"/closer to entry).
func reversePostOrder(fg *graph.FlowGraph, entry int) ([]int, []int) {
	n := fg.VertexCount()
	visited := make([]bool, n)
	var post []int

	var visit func(v int)
	visit = func(v int) {
		visited[v] = true
		for _, ei := range fg.OutEdges(v) {
			t := fg.Edge(ei).Target
			if !visited[t] {
				visit(t)
			}
		}
		post = append(post, v)
	}
	visit(entry)

	order := make([]int, len(post))
	index := make([]int, n)
	for i := range index {
		index[i] = -1
	}
	for i, v := range post {
		rev := len(post) - 1 - i
		order[rev] = v
		index[v] = i + 1 // postorder number: larger = earlier in reverse postorder
	}
	return order, index
}

func intersect(idom, postOrderIndex []int, a, b int) int {
	for a != b {
		for postOrderIndex[a] < postOrderIndex[b] {
			a = idom[a]
		}
		for postOrderIndex[b] < postOrderIndex[a] {
			b = idom[b]
		}
	}
	return a
}

// dominates reports whether idom-tree ancestor a dominates vertex b
// (a == b counts as dominating).
func dominates(idom []int, a, b int) bool {
	for b != -1 {
		if b == a {
			return true
		}
		if idom[b] == b {
			return b == a
		}
		b = idom[b]
	}
	return false
}
