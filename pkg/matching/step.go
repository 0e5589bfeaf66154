// Package matching implements the cascading discriminator pipeline that
// turns ambiguous candidate sets into confirmed fixed points: a catalog of
// function-level steps partitions unmatched flow graphs by some key (an
// instruction count, a prime product, a structural hash...), confirms
// unique pairs directly, and hands any still-ambiguous bucket down to the
// next step in the catalog; basic-block-level steps do the same thing one
// level down, within a single matched function pair.
package matching

import (
	"github.com/AliverAnme/bindiff/pkg/graph"
	"github.com/AliverAnme/bindiff/pkg/matchctx"
)

// FunctionStep is one discriminator in the function-level matching
// catalog. Key computes the bucket a flow graph falls into for this step;
// ok is false when the step has nothing meaningful to say about fg (for
// example, a call-signature step on a function with no calls), which
// removes fg from consideration at this step without matching it to
// anything.
type FunctionStep interface {
	Name() string
	DisplayName() string
	Confidence() float64
	Key(mc *matchctx.Context, fg *graph.FlowGraph) (key uint64, ok bool)
}

// Side identifies which half of a FixedPoint a basic-block step's Key
// functions are being asked to look at.
type Side int

const (
	SidePrimary Side = iota
	SideSecondary
)

// flowGraphFor returns the FlowGraph fp exposes for side.
func flowGraphFor(fp *graph.FixedPoint, side Side) *graph.FlowGraph {
	if side == SidePrimary {
		return fp.Primary
	}
	return fp.Secondary
}

// BasicBlockStep is one discriminator in the basic-block-level matching
// catalog. Vertex-keyed steps (IsEdgeMatching() == false) key individual
// basic blocks directly. Edge-keyed steps key edges incident to the
// candidate vertex set instead — used for propagation-style steps that
// only make sense relative to an already-matched neighbor — and on a
// confirmed match add both endpoints of the matched edge as basic block
// fixed points, per spec.md's edge-keyed cascade semantics.
type BasicBlockStep interface {
	Name() string
	DisplayName() string
	Confidence() float64
	IsEdgeMatching() bool

	VertexKey(mc *matchctx.Context, fp *graph.FixedPoint, side Side, vertex int) (key uint64, ok bool)
	EdgeKey(mc *matchctx.Context, fp *graph.FixedPoint, side Side, edgeIdx int) (key uint64, ok bool)
}
