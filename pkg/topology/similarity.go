package topology

import (
	"fmt"
	"math"

	"github.com/AliverAnme/bindiff/pkg/graph"
)

// Features is a coarse structural fingerprint of a flow graph, cheap to
// compute and useful for bucketing candidates before running the full
// discriminator cascade: two functions with wildly different block or
// instruction counts are never worth comparing in detail.
type Features struct {
	BlockCount       int
	InstrCount       int
	LoopCount        int
	BranchCount      int // blocks with more than one outgoing edge
	CallCount        int
	MnemonicCounts   map[uint32]int // prime -> occurrence count
}

// ExtractFeatures walks every basic block of fg once and tallies Features.
// MarkLoops/CalculateTopology must already have run so LoopCount reflects
// real back-edge counts.
func ExtractFeatures(fg *graph.FlowGraph) *Features {
	f := &Features{MnemonicCounts: map[uint32]int{}}
	f.BlockCount = fg.VertexCount()
	f.LoopCount = int(fg.GetLoopCount())

	for v := 0; v < fg.VertexCount(); v++ {
		if len(fg.OutEdges(v)) > 1 {
			f.BranchCount++
		}
		f.CallCount += fg.GetCallCount(v)
		for _, insn := range fg.GetInstructions(v) {
			f.InstrCount++
			f.MnemonicCounts[insn.Prime]++
		}
	}
	return f
}

// bucket maps a count to a coarse log2 bucket, so that e.g. 34 and 60
// instructions land in the same bucket but 34 and 130 don't — the same
// idea as a fuzzy hash, trading precision for resilience to small
// compiler/version differences between two builds of "the same" function.
func bucket(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Log2(float64(n))) + 1
}

// FuzzyHash returns a short string key grouping flow graphs with similar
// coarse shape: two functions with the same fuzzy hash are worth scoring
// with Similarity, two functions with different fuzzy hashes almost never
// are.
func (f *Features) FuzzyHash() string {
	return fmt.Sprintf("B%dI%dL%dBR%dC%d",
		bucket(f.BlockCount), bucket(f.InstrCount), bucket(f.LoopCount),
		bucket(f.BranchCount), bucket(f.CallCount))
}

// Similarity computes a weighted structural similarity score in [0, 1]
// between two Features, combining block/instruction/loop/branch/call count
// ratios with a frequency-map similarity over mnemonic primes. It is one of
// the function-level matching-step discriminators, not the primary
// matching mechanism (see pkg/matching): unlike the exact-key discriminator
// steps, this one degrades gracefully to "probably similar" rather than
// "identical", which is why it carries an explicit confidence weight below
// the cascade's unique-key steps.
func Similarity(a, b *Features) float64 {
	type weighted struct {
		value, weight float64
	}
	terms := []weighted{
		{ratioSimilarity(a.BlockCount, b.BlockCount), 2},
		{ratioSimilarity(a.InstrCount, b.InstrCount), 2},
		{closenessSimilarity(a.LoopCount, b.LoopCount), 1},
		{ratioSimilarity(a.BranchCount, b.BranchCount), 1},
		{ratioSimilarity(a.CallCount, b.CallCount), 1},
		{mapSimilarity(a.MnemonicCounts, b.MnemonicCounts), 3},
	}

	var sum, totalWeight float64
	for _, t := range terms {
		sum += t.value * t.weight
		totalWeight += t.weight
	}
	if totalWeight == 0 {
		return 0
	}
	return sum / totalWeight
}

func ratioSimilarity(a, b int) float64 {
	if a == 0 && b == 0 {
		return 1
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi == 0 {
		return 0
	}
	return float64(lo) / float64(hi)
}

func closenessSimilarity(a, b int) float64 {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return 1 / (1 + float64(diff))
}

// mapSimilarity is a weighted Jaccard (intersection/union) similarity over
// frequency maps, used to compare the mnemonic multisets of two flow
// graphs without caring about instruction order.
func mapSimilarity(a, b map[uint32]int) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	var intersection, union float64
	seen := map[uint32]bool{}
	for k, av := range a {
		bv := b[k]
		intersection += float64(minInt(av, bv))
		union += float64(maxInt(av, bv))
		seen[k] = true
	}
	for k, bv := range b {
		if !seen[k] {
			union += float64(bv)
		}
	}
	if union == 0 {
		return 1
	}
	return intersection / union
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
