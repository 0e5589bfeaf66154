package matching

import (
	"math"

	"github.com/AliverAnme/bindiff/pkg/graph"
	"github.com/AliverAnme/bindiff/pkg/matchctx"
)

// simpleFunctionStep adapts a name/display-name/confidence/key-function
// quadruple to the FunctionStep interface, so the catalog below reads as a
// flat list rather than one named type per step.
type simpleFunctionStep struct {
	name, display string
	confidence    float64
	key           func(mc *matchctx.Context, fg *graph.FlowGraph) (uint64, bool)
}

func (s *simpleFunctionStep) Name() string        { return s.name }
func (s *simpleFunctionStep) DisplayName() string { return s.display }
func (s *simpleFunctionStep) Confidence() float64 { return s.confidence }
func (s *simpleFunctionStep) Key(mc *matchctx.Context, fg *graph.FlowGraph) (uint64, bool) {
	return s.key(mc, fg)
}

// DefaultFunctionSteps returns the catalog of function-level discriminators
// in the order they cascade. Confidence falls down the list from the prime
// signature (1.0) to the call graph neighborhood (0.5); the name hash step
// (0.95) comes last, so it only sees candidates that every earlier step
// left ambiguous.
func DefaultFunctionSteps() []FunctionStep {
	return []FunctionStep{
		&simpleFunctionStep{
			name: "function: prime signature", display: "Prime signature (function)", confidence: 1.0,
			key: func(mc *matchctx.Context, fg *graph.FlowGraph) (uint64, bool) { return fg.GetPrime(), true },
		},
		&simpleFunctionStep{
			name: "function: edge/vertex count", display: "Edges and vertices count", confidence: 0.9,
			key: func(mc *matchctx.Context, fg *graph.FlowGraph) (uint64, bool) {
				return uint64(fg.VertexCount())<<32 | uint64(len(fg.Edges())), true
			},
		},
		&simpleFunctionStep{
			name: "function: MD index", display: "MD index (function)", confidence: 0.85,
			key: func(mc *matchctx.Context, fg *graph.FlowGraph) (uint64, bool) {
				if !fg.HasMdIndex() {
					return 0, false
				}
				return quantizeMdIndex(fg.GetMdIndex()), true
			},
		},
		&simpleFunctionStep{
			name: "function: instruction count", display: "Instruction count (function)", confidence: 0.6,
			key: func(mc *matchctx.Context, fg *graph.FlowGraph) (uint64, bool) {
				return uint64(fg.TotalInstructionCount()), true
			},
		},
		&simpleFunctionStep{
			name: "function: string references", display: "String references (function)", confidence: 0.6,
			key: func(mc *matchctx.Context, fg *graph.FlowGraph) (uint64, bool) {
				if fg.GetStringReferences() == 0 {
					return 0, false
				}
				return uint64(fg.GetStringReferences()), true
			},
		},
		&simpleFunctionStep{
			name: "function: call sequence hash", display: "Call sequence", confidence: 0.55,
			key: func(mc *matchctx.Context, fg *graph.FlowGraph) (uint64, bool) {
				return callSequenceHash(fg)
			},
		},
		&simpleFunctionStep{
			name: "function: call graph neighbors", display: "Call graph neighborhood", confidence: 0.5,
			key: func(mc *matchctx.Context, fg *graph.FlowGraph) (uint64, bool) {
				return callGraphNeighborhoodHash(fg)
			},
		},
		&simpleFunctionStep{
			name: "function: name hash", display: "Function name", confidence: 0.95,
			key: func(mc *matchctx.Context, fg *graph.FlowGraph) (uint64, bool) {
				name := functionName(fg)
				if name == "" {
					return 0, false
				}
				return fnv64(name), true
			},
		},
	}
}

// quantizeMdIndex collapses an MD index to a fixed-precision integer key,
// tolerating the floating point jitter that accumulates across two
// independently-compiled binaries while still distinguishing structurally
// different functions.
func quantizeMdIndex(v float64) uint64 {
	return uint64(math.Round(v * 1e6))
}

func functionName(fg *graph.FlowGraph) string {
	cg := fg.CallGraph()
	if cg == nil {
		return ""
	}
	v := fg.CallGraphVertex()
	if v < 0 || v >= cg.VertexCount() {
		return ""
	}
	return cg.Vertex(v).GoodName()
}

func fnv64(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	var h uint64 = offset64
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

// callSequenceHash folds, for every basic block that makes calls (in
// vertex order), the block's vertex index and its number of call targets
// into one hash — capturing "this function makes calls in this relative
// shape" without depending on call target addresses, which will never
// match across binaries.
func callSequenceHash(fg *graph.FlowGraph) (uint64, bool) {
	var h uint64 = 1469598103934665603
	found := false
	for v := 0; v < fg.VertexCount(); v++ {
		n := fg.GetCallCount(v)
		if n == 0 {
			continue
		}
		found = true
		h ^= uint64(v)
		h *= 1099511628211
		h ^= uint64(n)
		h *= 1099511628211
	}
	if !found {
		return 0, false
	}
	return h, true
}

// callGraphNeighborhoodHash folds in the names of this function's callers
// and callees, order-independently, so that two functions which call and
// are called by the same-named set of other functions hash identically
// even if BinDiff's other discriminators can't tell them apart on their
// own code alone (e.g. two nearly-identical dispatch wrappers that only
// differ by which neighbor called them).
func callGraphNeighborhoodHash(fg *graph.FlowGraph) (uint64, bool) {
	cg := fg.CallGraph()
	if cg == nil {
		return 0, false
	}
	v := fg.CallGraphVertex()
	if v < 0 || v >= cg.VertexCount() {
		return 0, false
	}
	callees := cg.CalleesOf(v)
	callers := cg.CallersOf(v)
	if len(callees) == 0 && len(callers) == 0 {
		return 0, false
	}
	var acc uint64
	for _, ci := range callees {
		acc += fnv64("callee:" + cg.Vertex(ci).Name)
	}
	for _, ci := range callers {
		acc += fnv64("caller:" + cg.Vertex(ci).Name)
	}
	return acc, true
}
