package matching

import (
	"context"
	"sort"

	"github.com/AliverAnme/bindiff/pkg/graph"
	"github.com/AliverAnme/bindiff/pkg/lcs"
	"github.com/AliverAnme/bindiff/pkg/matchctx"
	"github.com/AliverAnme/bindiff/pkg/topology"
)

// SimilarityThreshold is the minimum fuzzy structural similarity score
// RunFuzzyFunctionMatch will accept as a fallback match once the exact-key
// cascade has run out of discriminators, mirroring the teacher's own
// two-phase (exact, then fuzzy-bucketed) function matching strategy.
const SimilarityThreshold = 0.6

// Run executes a full matching pass: the function-level cascade over
// every flow graph on both sides, a fuzzy structural fallback for
// whatever the cascade couldn't resolve, and then — for every function
// fixed point produced — the basic-block cascade plus an LCS pass to
// populate instruction-level matches. Basic block matching for different
// function pairs runs concurrently (matchctx.ForEachFunctionPair);
// matching within one pair is sequential, as spec.md's concurrency model
// requires for deterministic output.
func Run(ctx context.Context, mc *matchctx.Context, functionSteps []FunctionStep, basicBlockSteps []BasicBlockStep) error {
	primary := allFlowGraphs(mc.Primary)
	secondary := allFlowGraphs(mc.Secondary)

	RunFunctionCascade(mc, functionSteps, primary, secondary)
	RunFuzzyFunctionMatch(mc, primary, secondary)

	fixedPoints := mc.Registry.FixedPoints()
	return matchctx.ForEachFunctionPair(ctx, mc, fixedPoints, func(ctx context.Context, fp *graph.FixedPoint) error {
		MatchBasicBlocks(mc, fp, basicBlockSteps)
		return nil
	})
}

func allFlowGraphs(cg *graph.CallGraph) []*graph.FlowGraph {
	var out []*graph.FlowGraph
	for i := 0; i < cg.VertexCount(); i++ {
		if fg := cg.Vertex(i).FlowGraph; fg != nil {
			out = append(out, fg)
		}
	}
	return out
}

// RunFuzzyFunctionMatch greedily pairs remaining unmatched flow graphs by
// structural similarity, highest similarity first, never reusing a
// candidate once it's claimed — the same greedy assignment shape the
// teacher's own two-phase topology matcher uses, grounded here on
// structural Features instead of SSA-derived ones.
func RunFuzzyFunctionMatch(mc *matchctx.Context, primary, secondary []*graph.FlowGraph) {
	var remaining1, remaining2 []*graph.FlowGraph
	for _, fg := range primary {
		if fg.GetFixedPoint() == nil {
			remaining1 = append(remaining1, fg)
		}
	}
	for _, fg := range secondary {
		if fg.GetFixedPoint() == nil {
			remaining2 = append(remaining2, fg)
		}
	}
	if len(remaining1) == 0 || len(remaining2) == 0 {
		return
	}

	features1 := make([]*topology.Features, len(remaining1))
	for i, fg := range remaining1 {
		features1[i] = topology.ExtractFeatures(fg)
	}
	features2 := make([]*topology.Features, len(remaining2))
	for i, fg := range remaining2 {
		features2[i] = topology.ExtractFeatures(fg)
	}

	type candidate struct {
		i, j       int
		similarity float64
	}
	var candidates []candidate
	for i := range remaining1 {
		for j := range remaining2 {
			sim := topology.Similarity(features1[i], features2[j])
			if sim >= SimilarityThreshold {
				candidates = append(candidates, candidate{i, j, sim})
			}
		}
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].similarity > candidates[b].similarity })

	usedPrimary := make([]bool, len(remaining1))
	usedSecondary := make([]bool, len(remaining2))
	for _, c := range candidates {
		if usedPrimary[c.i] || usedSecondary[c.j] {
			continue
		}
		if remaining1[c.i].GetFixedPoint() != nil || remaining2[c.j].GetFixedPoint() != nil {
			continue
		}
		_, ok := mc.Registry.AddFunctionMatch(remaining1[c.i], remaining2[c.j], "function: structural similarity", 0.3, c.similarity)
		if ok {
			usedPrimary[c.i] = true
			usedSecondary[c.j] = true
		}
	}
}

// MatchBasicBlocks runs the basic-block cascade over every vertex of fp's
// two flow graphs, then runs the LCS pass over every resulting basic block
// fixed point to populate instruction-level matches.
func MatchBasicBlocks(mc *matchctx.Context, fp *graph.FixedPoint, steps []BasicBlockStep) {
	primaryVerts := allVertices(fp.Primary)
	secondaryVerts := allVertices(fp.Secondary)

	RunBasicBlockCascade(mc, fp, steps, primaryVerts, secondaryVerts)

	for _, bbfp := range fp.BasicBlockFixedPoints() {
		MatchInstructions(fp, bbfp)
	}
}

func allVertices(fg *graph.FlowGraph) []int {
	out := make([]int, fg.VertexCount())
	for i := range out {
		out[i] = i
	}
	return out
}

// MatchInstructions runs Hirschberg LCS over the prime signatures of the
// instructions in a matched basic block pair and records the resulting
// InstructionMatches on bbfp.
func MatchInstructions(fp *graph.FixedPoint, bbfp *graph.BasicBlockFixedPoint) {
	primaryInsns := fp.Primary.GetInstructions(bbfp.PrimaryVertex)
	secondaryInsns := fp.Secondary.GetInstructions(bbfp.SecondaryVertex)

	x := make([]uint32, len(primaryInsns))
	for i, insn := range primaryInsns {
		x[i] = insn.Prime
	}
	y := make([]uint32, len(secondaryInsns))
	for i, insn := range secondaryInsns {
		y[i] = insn.Prime
	}

	matches := lcs.Compute(x, y)
	out := make([]graph.InstructionMatch, len(matches))
	for i, m := range matches {
		out[i] = graph.InstructionMatch{
			Primary:   &primaryInsns[m.X],
			Secondary: &secondaryInsns[m.Y],
		}
	}
	bbfp.AddInstructionMatches(out)
}
