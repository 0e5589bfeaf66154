// Package outwriter turns a completed matching run into a reportable
// Report and fans that report out to one or more Writer destinations,
// mirroring the chain-of-responsibility shape of the original
// implementation's ChainWriter.
package outwriter

import (
	"sort"

	"github.com/AliverAnme/bindiff/pkg/graph"
	"github.com/AliverAnme/bindiff/pkg/matchctx"
)

// Report is the flattened, presentation-ready result of a matching run:
// every function-level match plus the functions on each side that were
// never claimed by any fixed point.
type Report struct {
	PrimaryBinary   string `json:"primary_binary,omitempty"`
	SecondaryBinary string `json:"secondary_binary,omitempty"`

	Similarity float64 `json:"similarity"`

	Functions []FunctionMatch `json:"functions"`

	UnmatchedPrimary   []UnmatchedFunction `json:"unmatched_primary,omitempty"`
	UnmatchedSecondary []UnmatchedFunction `json:"unmatched_secondary,omitempty"`
}

// FunctionMatch is one confirmed function-level fixed point: the pair of
// matched functions, the step that matched them, and every basic block
// (and, within each, every instruction) the cascade went on to match
// inside that pair.
type FunctionMatch struct {
	PrimaryAddress   uint64 `json:"primary_address"`
	PrimaryName      string `json:"primary_name"`
	SecondaryAddress uint64 `json:"secondary_address"`
	SecondaryName    string `json:"secondary_name"`
	IsLibrary        bool   `json:"is_library,omitempty"`

	MatchedBy  string  `json:"matched_by"`
	Confidence float64 `json:"confidence"`
	Similarity float64 `json:"similarity"`

	BasicBlocksTotal int `json:"basic_blocks_total"`

	BasicBlockMatches []BasicBlockMatch `json:"basic_block_matches"`
}

// BasicBlockMatch is one confirmed basic-block-level fixed point within a
// matched function pair.
type BasicBlockMatch struct {
	PrimaryAddress   uint64 `json:"primary_address"`
	SecondaryAddress uint64 `json:"secondary_address"`

	MatchedBy string `json:"matched_by"`

	InstructionMatches []InstructionMatch `json:"instruction_matches"`
}

// InstructionMatch is one confirmed instruction-level correspondence found
// by the LCS pass over a matched basic block pair.
type InstructionMatch struct {
	PrimaryAddress   uint64 `json:"primary_address"`
	SecondaryAddress uint64 `json:"secondary_address"`
}

// UnmatchedFunction is a function on one side that no fixed point claimed.
type UnmatchedFunction struct {
	Address   uint64 `json:"address"`
	Name      string `json:"name"`
	IsLibrary bool   `json:"is_library,omitempty"`
}

// BuildReport assembles a Report from mc's call graphs and whatever fixed
// points the matching run recorded. Functions are sorted by primary
// address (function matches) or by address (unmatched lists) so the
// output is deterministic regardless of the order matching steps happened
// to complete in.
func BuildReport(mc *matchctx.Context, primaryBinary, secondaryBinary string) *Report {
	fixedPoints := mc.Registry.FixedPoints()

	report := &Report{
		PrimaryBinary:   primaryBinary,
		SecondaryBinary: secondaryBinary,
	}

	report.Functions = make([]FunctionMatch, len(fixedPoints))
	var totalSimilarity float64
	for i, fp := range fixedPoints {
		report.Functions[i] = functionMatchFromFixedPoint(fp)
		totalSimilarity += fp.Similarity
	}
	if len(fixedPoints) > 0 {
		report.Similarity = totalSimilarity / float64(len(fixedPoints))
	}
	sort.Slice(report.Functions, func(i, j int) bool {
		return report.Functions[i].PrimaryAddress < report.Functions[j].PrimaryAddress
	})

	report.UnmatchedPrimary = unmatchedFunctions(mc.Primary)
	report.UnmatchedSecondary = unmatchedFunctions(mc.Secondary)

	return report
}

func functionMatchFromFixedPoint(fp *graph.FixedPoint) FunctionMatch {
	bbfps := fp.BasicBlockFixedPoints()
	blockMatches := make([]BasicBlockMatch, len(bbfps))
	for i, bbfp := range bbfps {
		blockMatches[i] = basicBlockMatchFromFixedPoint(fp, bbfp)
	}

	return FunctionMatch{
		PrimaryAddress:    uint64(fp.Primary.EntryPointAddress),
		PrimaryName:       vertexName(fp.Primary),
		SecondaryAddress:  uint64(fp.Secondary.EntryPointAddress),
		SecondaryName:     vertexName(fp.Secondary),
		IsLibrary:         vertexIsLibrary(fp.Primary),
		MatchedBy:         fp.MatchedBy,
		Confidence:        fp.Confidence,
		Similarity:        fp.Similarity,
		BasicBlocksTotal:  fp.Primary.VertexCount(),
		BasicBlockMatches: blockMatches,
	}
}

func basicBlockMatchFromFixedPoint(fp *graph.FixedPoint, bbfp *graph.BasicBlockFixedPoint) BasicBlockMatch {
	insnMatches := bbfp.InstructionMatches()
	instructions := make([]InstructionMatch, len(insnMatches))
	for i, m := range insnMatches {
		instructions[i] = InstructionMatch{
			PrimaryAddress:   uint64(m.Primary.Address),
			SecondaryAddress: uint64(m.Secondary.Address),
		}
	}

	return BasicBlockMatch{
		PrimaryAddress:     uint64(fp.Primary.GetAddress(bbfp.PrimaryVertex)),
		SecondaryAddress:   uint64(fp.Secondary.GetAddress(bbfp.SecondaryVertex)),
		MatchedBy:          bbfp.MatchedBy,
		InstructionMatches: instructions,
	}
}

func vertexName(fg *graph.FlowGraph) string {
	v := callGraphVertex(fg)
	if v == nil {
		return ""
	}
	return v.GoodName()
}

func vertexIsLibrary(fg *graph.FlowGraph) bool {
	v := callGraphVertex(fg)
	return v != nil && v.IsLibrary
}

func callGraphVertex(fg *graph.FlowGraph) *graph.CallGraphVertex {
	cg := fg.CallGraph()
	if cg == nil || fg.CallGraphVertex() < 0 {
		return nil
	}
	return cg.Vertex(fg.CallGraphVertex())
}

func unmatchedFunctions(cg *graph.CallGraph) []UnmatchedFunction {
	var out []UnmatchedFunction
	for i := 0; i < cg.VertexCount(); i++ {
		v := cg.Vertex(i)
		if v.FlowGraph == nil || v.FlowGraph.GetFixedPoint() != nil {
			continue
		}
		out = append(out, UnmatchedFunction{Address: uint64(v.Address), Name: v.GoodName(), IsLibrary: v.IsLibrary})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
