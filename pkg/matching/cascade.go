package matching

import (
	"sort"

	"github.com/AliverAnme/bindiff/pkg/graph"
	"github.com/AliverAnme/bindiff/pkg/matchctx"
)

// RunFunctionCascade matches unmatched flow graphs in primary against
// unmatched flow graphs in secondary, applying steps in order: each step
// buckets the still-unmatched candidates by its key, resolves any bucket
// that is a unique 1:1 pair directly, and hands any bucket with more than
// one candidate on either side down to the next step, restricted to just
// that bucket's candidates. A bucket present on only one side, or with a
// count of zero on either side, is dropped — there is nothing the
// remaining steps could do with a single-sided bucket since by
// construction the other side never had a candidate to compare against.
func RunFunctionCascade(mc *matchctx.Context, steps []FunctionStep, primary, secondary []*graph.FlowGraph) {
	if len(steps) == 0 || len(primary) == 0 || len(secondary) == 0 {
		return
	}
	step := steps[0]
	rest := steps[1:]

	bucket1 := bucketFunctions(mc, step, primary)
	bucket2 := bucketFunctions(mc, step, secondary)

	for _, key := range sortedKeys(bucket1) {
		group1 := bucket1[key]
		group2, ok := bucket2[key]
		if !ok || len(group1) == 0 || len(group2) == 0 {
			continue
		}
		if len(group1) == 1 && len(group2) == 1 {
			mc.Registry.AddFunctionMatch(group1[0], group2[0], step.Name(), step.Confidence(), 1.0)
			continue
		}
		RunFunctionCascade(mc, rest, group1, group2)
	}
}

func bucketFunctions(mc *matchctx.Context, step FunctionStep, fgs []*graph.FlowGraph) map[uint64][]*graph.FlowGraph {
	out := map[uint64][]*graph.FlowGraph{}
	for _, fg := range fgs {
		if fg.GetFixedPoint() != nil {
			continue
		}
		if key, ok := step.Key(mc, fg); ok {
			out[key] = append(out[key], fg)
		}
	}
	return out
}

// RunBasicBlockCascade matches unmatched basic blocks within fp, applying
// steps in order the same way RunFunctionCascade does at the function
// level, dispatching to the vertex-keyed or edge-keyed shape per step.
func RunBasicBlockCascade(mc *matchctx.Context, fp *graph.FixedPoint, steps []BasicBlockStep, primaryVerts, secondaryVerts []int) {
	if len(steps) == 0 || len(primaryVerts) == 0 || len(secondaryVerts) == 0 {
		return
	}
	step := steps[0]
	rest := steps[1:]

	if step.IsEdgeMatching() {
		runEdgeKeyedStep(mc, fp, step, rest, primaryVerts, secondaryVerts)
		return
	}
	runVertexKeyedStep(mc, fp, step, rest, primaryVerts, secondaryVerts)
}

func runVertexKeyedStep(mc *matchctx.Context, fp *graph.FixedPoint, step BasicBlockStep, rest []BasicBlockStep, primaryVerts, secondaryVerts []int) {
	bucket1 := bucketVertices(mc, fp, step, SidePrimary, primaryVerts)
	bucket2 := bucketVertices(mc, fp, step, SideSecondary, secondaryVerts)

	for _, key := range sortedKeys(bucket1) {
		group1 := bucket1[key]
		group2, ok := bucket2[key]
		if !ok || len(group1) == 0 || len(group2) == 0 {
			continue
		}
		if len(group1) == 1 && len(group2) == 1 {
			mc.Registry.AddBasicBlockMatch(fp, group1[0], group2[0], step.Name())
			continue
		}
		RunBasicBlockCascade(mc, fp, rest, group1, group2)
	}
}

func bucketVertices(mc *matchctx.Context, fp *graph.FixedPoint, step BasicBlockStep, side Side, verts []int) map[uint64][]int {
	fg := flowGraphFor(fp, side)
	out := map[uint64][]int{}
	for _, v := range verts {
		if fg.GetVertexFixedPoint(v) != nil {
			continue
		}
		if key, ok := step.VertexKey(mc, fp, side, v); ok {
			out[key] = append(out[key], v)
		}
	}
	return out
}

// runEdgeKeyedStep buckets edges incident to the candidate vertex sets
// (rather than the vertices themselves) by step.EdgeKey. A unique 1:1
// bucket confirms both endpoints of the matched edge at once — the source
// pair and the target pair — since an edge-keyed step's whole premise is
// that matching the edge implies matching both of its ends. An ambiguous
// bucket marks every touched edge on both sides with a diagnostic flag bit
// (purely informational — it records which step considered this edge
// without being able to resolve it) and recurses into the remaining steps
// over the vertex sets recovered from those edges' endpoints.
func runEdgeKeyedStep(mc *matchctx.Context, fp *graph.FixedPoint, step BasicBlockStep, rest []BasicBlockStep, primaryVerts, secondaryVerts []int) {
	primaryEdges := incidentEdges(fp.Primary, primaryVerts)
	secondaryEdges := incidentEdges(fp.Secondary, secondaryVerts)

	bucket1 := bucketEdges(mc, fp, step, SidePrimary, primaryEdges)
	bucket2 := bucketEdges(mc, fp, step, SideSecondary, secondaryEdges)

	stepFlagBit := diagnosticFlagBit(step)

	for _, key := range sortedKeys(bucket1) {
		group1 := bucket1[key]
		group2, ok := bucket2[key]
		if !ok || len(group1) == 0 || len(group2) == 0 {
			continue
		}
		if len(group1) == 1 && len(group2) == 1 {
			e1 := fp.Primary.Edge(group1[0])
			e2 := fp.Secondary.Edge(group2[0])
			mc.Registry.AddBasicBlockMatch(fp, e1.Source, e2.Source, step.Name())
			mc.Registry.AddBasicBlockMatch(fp, e1.Target, e2.Target, step.Name())
			continue
		}
		for _, ei := range group1 {
			fp.Primary.Edge(ei).Flags |= stepFlagBit
		}
		for _, ei := range group2 {
			fp.Secondary.Edge(ei).Flags |= stepFlagBit
		}
		nextPrimary := vertexSetFromEdges(fp.Primary, group1)
		nextSecondary := vertexSetFromEdges(fp.Secondary, group2)
		RunBasicBlockCascade(mc, fp, rest, nextPrimary, nextSecondary)
	}
}

func bucketEdges(mc *matchctx.Context, fp *graph.FixedPoint, step BasicBlockStep, side Side, edges []int) map[uint64][]int {
	out := map[uint64][]int{}
	for _, ei := range edges {
		if key, ok := step.EdgeKey(mc, fp, side, ei); ok {
			out[key] = append(out[key], ei)
		}
	}
	return out
}

// incidentEdges returns, deduplicated, every edge (in or out) touching any
// vertex in verts that has at least one unmatched endpoint.
func incidentEdges(fg *graph.FlowGraph, verts []int) []int {
	seen := map[int]bool{}
	var out []int
	add := func(ei int) {
		e := fg.Edge(ei)
		if fg.GetVertexFixedPoint(e.Source) != nil && fg.GetVertexFixedPoint(e.Target) != nil {
			return
		}
		if !seen[ei] {
			seen[ei] = true
			out = append(out, ei)
		}
	}
	for _, v := range verts {
		for _, ei := range fg.OutEdges(v) {
			add(ei)
		}
		for _, ei := range fg.InEdges(v) {
			add(ei)
		}
	}
	return out
}

// vertexSetFromEdges returns, deduplicated, every unmatched endpoint of
// edges.
func vertexSetFromEdges(fg *graph.FlowGraph, edges []int) []int {
	seen := map[int]bool{}
	var out []int
	add := func(v int) {
		if fg.GetVertexFixedPoint(v) != nil {
			return
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, ei := range edges {
		e := fg.Edge(ei)
		add(e.Source)
		add(e.Target)
	}
	return out
}

// diagnosticFlagBit derives the flag bit an edge-keyed step sets on
// ambiguous candidate edges from its position in a fixed, stable catalog
// order, so repeated runs mark the same bit for the same step regardless
// of which candidate subset happened to reach it first. The bits start
// above graph.EdgeDominated (1 << 5 for catalog index 0) so the edge-kind
// bits are never touched; a step with no free bit left gets 0.
func diagnosticFlagBit(step BasicBlockStep) uint8 {
	idx := catalogIndex(step.Name())
	if idx < 0 || idx > 2 {
		return 0
	}
	return 1 << uint(idx+5)
}

func sortedKeys[V any](m map[uint64][]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
