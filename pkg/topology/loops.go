package topology

import "github.com/AliverAnme/bindiff/pkg/graph"

// MarkLoops finds back edges (an edge (u, v) where v dominates u), flags
// them EdgeDominated, flags their target vertex VertexLoopEntry, and
// records the loop count on the flow graph. This is the sole consumer of
// computeDominators; callers run it after CalculateTopology, which does
// not call it itself.
func MarkLoops(fg *graph.FlowGraph) {
	idom := computeDominators(fg)

	var loopCount uint16
	for i := range fg.Edges() {
		e := fg.Edge(i)
		if dominates(idom, e.Target, e.Source) {
			e.Flags |= graph.EdgeDominated
			fg.Vertex(e.Target).Flags |= graph.VertexLoopEntry
			loopCount++
		}
	}
	fg.SetLoopCount(loopCount)
}
