package matching

import (
	"github.com/AliverAnme/bindiff/pkg/graph"
	"github.com/AliverAnme/bindiff/pkg/matchctx"
	"github.com/AliverAnme/bindiff/pkg/topology"
)

// simpleBasicBlockStep adapts a key-function pair to the BasicBlockStep
// interface, the same flattening simpleFunctionStep does for the function
// catalog.
type simpleBasicBlockStep struct {
	name, display string
	confidence    float64
	edgeMatching  bool
	vertexKey     func(mc *matchctx.Context, fp *graph.FixedPoint, side Side, v int) (uint64, bool)
	edgeKey       func(mc *matchctx.Context, fp *graph.FixedPoint, side Side, edgeIdx int) (uint64, bool)
}

func (s *simpleBasicBlockStep) Name() string          { return s.name }
func (s *simpleBasicBlockStep) DisplayName() string   { return s.display }
func (s *simpleBasicBlockStep) Confidence() float64   { return s.confidence }
func (s *simpleBasicBlockStep) IsEdgeMatching() bool  { return s.edgeMatching }
func (s *simpleBasicBlockStep) VertexKey(mc *matchctx.Context, fp *graph.FixedPoint, side Side, v int) (uint64, bool) {
	if s.vertexKey == nil {
		return 0, false
	}
	return s.vertexKey(mc, fp, side, v)
}
func (s *simpleBasicBlockStep) EdgeKey(mc *matchctx.Context, fp *graph.FixedPoint, side Side, edgeIdx int) (uint64, bool) {
	if s.edgeKey == nil {
		return 0, false
	}
	return s.edgeKey(mc, fp, side, edgeIdx)
}

// basicBlockPropagationName and basicBlockManualName mirror the two named
// basic-block steps the original implementation always carries by name
// (propagation from an already-matched neighbor, and a manual override
// supplied by a human analyst), since downstream tooling and diagnostics
// refer to them by these exact strings.
const (
	basicBlockPropagationName = "basic block: propagation (size 1)"
	basicBlockManualName      = "basic block: manual"
)

// catalogOrder fixes the stable ordering diagnosticFlagBit relies on for
// edge-keyed steps, independent of which concrete catalog slice a caller
// happens to pass to RunBasicBlockCascade.
var catalogOrder = []string{
	"basic block: prime signature",
	"basic block: md index + instruction count",
	basicBlockPropagationName,
	"basic block: byte hash",
}

func catalogIndex(name string) int {
	for i, n := range catalogOrder {
		if n == name {
			return i
		}
	}
	return -1
}

// NewManualBasicBlockStep builds the one step a human analyst's overrides
// feed into the cascade: overrides maps a primary basic block address to
// the secondary basic block address it should be forced to match,
// regardless of what any automatic discriminator would have concluded.
// Matching always tries this step first (see DefaultBasicBlockStepsWithOverrides)
// since a manual override should never be second-guessed by a later,
// lower-confidence step.
func NewManualBasicBlockStep(overrides map[graph.Address]graph.Address) BasicBlockStep {
	return &simpleBasicBlockStep{
		name: basicBlockManualName, display: "Manual override", confidence: 1.0,
		vertexKey: func(mc *matchctx.Context, fp *graph.FixedPoint, side Side, v int) (uint64, bool) {
			fg := flowGraphFor(fp, side)
			addr := fg.GetAddress(v)
			if side == SidePrimary {
				target, ok := overrides[addr]
				if !ok {
					return 0, false
				}
				return uint64(target), true
			}
			// Secondary side: key by its own address directly so it lines
			// up with whatever primary address mapped to it above.
			for _, target := range overrides {
				if target == addr {
					return uint64(addr), true
				}
			}
			return 0, false
		},
	}
}

// DefaultBasicBlockStepsWithOverrides prepends a manual override step (if
// overrides is non-empty) to DefaultBasicBlockSteps.
func DefaultBasicBlockStepsWithOverrides(overrides map[graph.Address]graph.Address) []BasicBlockStep {
	steps := DefaultBasicBlockSteps()
	if len(overrides) == 0 {
		return steps
	}
	return append([]BasicBlockStep{NewManualBasicBlockStep(overrides)}, steps...)
}

// DefaultBasicBlockSteps returns the catalog of basic-block-level
// discriminators in cascade order.
func DefaultBasicBlockSteps() []BasicBlockStep {
	return []BasicBlockStep{
		&simpleBasicBlockStep{
			name: "basic block: prime signature", display: "Prime signature (basic block)", confidence: 1.0,
			vertexKey: func(mc *matchctx.Context, fp *graph.FixedPoint, side Side, v int) (uint64, bool) {
				return flowGraphFor(fp, side).Vertex(v).Prime, true
			},
		},
		&simpleBasicBlockStep{
			name: "basic block: md index + instruction count", display: "MD index + instruction count", confidence: 0.9,
			vertexKey: func(mc *matchctx.Context, fp *graph.FixedPoint, side Side, v int) (uint64, bool) {
				fg := flowGraphFor(fp, side)
				bb := fg.Vertex(v)
				return mdIndexInstructionCountKey(topology.VertexMdIndex(fg, v, true), bb.InstructionCount), true
			},
		},
		&simpleBasicBlockStep{
			name: basicBlockPropagationName, display: "Propagation from matched neighbor (size 1)", confidence: 0.8,
			edgeMatching: true,
			edgeKey: func(mc *matchctx.Context, fp *graph.FixedPoint, side Side, edgeIdx int) (uint64, bool) {
				return propagationKey(fp, side, edgeIdx)
			},
		},
		&simpleBasicBlockStep{
			name: "basic block: byte hash", display: "Byte hash (basic block)", confidence: 0.65,
			vertexKey: func(mc *matchctx.Context, fp *graph.FixedPoint, side Side, v int) (uint64, bool) {
				h := flowGraphFor(fp, side).Vertex(v).Hash
				if h == 0 {
					return 0, false
				}
				return uint64(h), true
			},
		},
		&simpleBasicBlockStep{
			name: "basic block: string hash", display: "String reference hash (basic block)", confidence: 0.6,
			vertexKey: func(mc *matchctx.Context, fp *graph.FixedPoint, side Side, v int) (uint64, bool) {
				h := flowGraphFor(fp, side).Vertex(v).StringHash
				if h == 0 {
					return 0, false
				}
				return uint64(h), true
			},
		},
		&simpleBasicBlockStep{
			name: "basic block: loop entry + instruction count", display: "Loop entry parity", confidence: 0.4,
			vertexKey: func(mc *matchctx.Context, fp *graph.FixedPoint, side Side, v int) (uint64, bool) {
				bb := flowGraphFor(fp, side).Vertex(v)
				loopBit := uint64(0)
				if bb.IsLoopEntry() {
					loopBit = 1
				}
				return loopBit<<32 | uint64(bb.InstructionCount), true
			},
		},
	}
}

// mdIndexInstructionCountKey reproduces the reference implementation's
// exact basic-block discriminator formula bit for bit:
// uint64(mdIndex * 1e18) + instructionCount. The huge multiplier pushes
// the MD index into the high decimal digits so the instruction count can
// never perturb which MD-index bucket a block lands in, while still
// letting two blocks with the same MD index (common for size-1 blocks in
// unrelated functions, which otherwise all present MD index 0) separate
// out by their own instruction count.
func mdIndexInstructionCountKey(mdIndex float64, instructionCount int) uint64 {
	return uint64(mdIndex*1e18) + uint64(instructionCount)
}

// propagationKey keys an edge by the identity of its already-matched
// endpoint (so the edge is only ever comparable to edges dangling off the
// SAME matched neighbor's confirmed partner) combined with the edge's own
// flags, so a branch-true edge off a matched block never gets confused
// with its sibling branch-false edge. Edges where neither endpoint is
// matched yet, or both already are, have nothing for this step to
// propagate from or to, so it returns ok=false and leaves them for later
// steps/later cascade rounds.
func propagationKey(fp *graph.FixedPoint, side Side, edgeIdx int) (uint64, bool) {
	fg := flowGraphFor(fp, side)
	e := fg.Edge(edgeIdx)

	srcMatched := fg.GetVertexFixedPoint(e.Source) != nil
	dstMatched := fg.GetVertexFixedPoint(e.Target) != nil
	if srcMatched == dstMatched {
		return 0, false
	}

	var anchor *graph.BasicBlockFixedPoint
	if srcMatched {
		anchor = fg.GetVertexFixedPoint(e.Source)
	} else {
		anchor = fg.GetVertexFixedPoint(e.Target)
	}

	// Identify the anchor by its position within the parent fixed point's
	// basic block matches (stable regardless of side) rather than by
	// vertex index (which differs between primary and secondary), so both
	// sides of a propagated edge produce the same key when they really do
	// hang off corresponding matched blocks.
	anchorIndex := -1
	for i, b := range fp.BasicBlockFixedPoints() {
		if b == anchor {
			anchorIndex = i
			break
		}
	}
	if anchorIndex < 0 {
		return 0, false
	}

	return uint64(anchorIndex)<<8 | uint64(e.Flags), true
}
