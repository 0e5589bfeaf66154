package topology

import (
	"math"

	"github.com/AliverAnme/bindiff/pkg/graph"
)

// The four irrational weights of the MD-index formula. Using
// 1/sqrt(2), 1/sqrt(3), 1/sqrt(5), 1/sqrt(7) rather than rational
// coefficients is deliberate: it keeps two structurally different
// (src_level, dst_level, outdeg, indeg) tuples from summing to the same
// MD-index by coincidence anywhere near as often as small rationals would.
var (
	weightSrcLevel = 1 / math.Sqrt(2)
	weightDstLevel = 1 / math.Sqrt(3)
	weightOutDeg   = 1 / math.Sqrt(5)
	weightInDeg    = 1 / math.Sqrt(7)
)

// EdgeMdIndex computes the MD-index contribution of a single edge, given
// the BFS level of its source and target and the out/in degree of its
// endpoints. topDown selects which pair of BFS levels (top-down vs.
// bottom-up) to use.
func EdgeMdIndex(fg *graph.FlowGraph, edgeIdx int, topDown bool) float64 {
	e := fg.Edge(edgeIdx)
	srcV, dstV := fg.Vertex(e.Source), fg.Vertex(e.Target)

	var srcLevel, dstLevel float64
	if topDown {
		srcLevel, dstLevel = float64(srcV.BFSTopDown), float64(dstV.BFSTopDown)
	} else {
		srcLevel, dstLevel = float64(srcV.BFSBottomUp), float64(dstV.BFSBottomUp)
	}

	outDeg := float64(len(fg.OutEdges(e.Source)))
	inDeg := float64(len(fg.InEdges(e.Target)))

	return weightSrcLevel*srcLevel + weightDstLevel*dstLevel + weightOutDeg*outDeg + weightInDeg*inDeg
}

// CalculateMdIndex computes and caches the per-edge MD-index (both
// directions) and the function-level MD-index (the sum over all edges),
// also both directions. CalculateTopology calls this once BFS levels are
// available; callers that already have BFS levels (e.g. tests) may call it
// directly.
func CalculateMdIndex(fg *graph.FlowGraph) {
	var total, totalInverted float64
	for i := range fg.Edges() {
		e := fg.Edge(i)
		e.MDIndexTopDown = EdgeMdIndex(fg, i, true)
		e.MDIndexBottomUp = EdgeMdIndex(fg, i, false)
		total += e.MDIndexTopDown
		totalInverted += e.MDIndexBottomUp
	}
	fg.SetMdIndex(total)
	fg.SetMdIndexInverted(totalInverted)
}

// VertexMdIndex sums the MD-index of every edge touching vertex v (in or
// out), recomputed on demand rather than cached — spec.md notes this is
// comparatively expensive and only needed by a handful of matching steps,
// unlike the function-level totals which every step consults.
func VertexMdIndex(fg *graph.FlowGraph, v int, topDown bool) float64 {
	var sum float64
	for _, ei := range fg.OutEdges(v) {
		if topDown {
			sum += fg.Edge(ei).MDIndexTopDown
		} else {
			sum += fg.Edge(ei).MDIndexBottomUp
		}
	}
	for _, ei := range fg.InEdges(v) {
		if topDown {
			sum += fg.Edge(ei).MDIndexTopDown
		} else {
			sum += fg.Edge(ei).MDIndexBottomUp
		}
	}
	return sum
}
