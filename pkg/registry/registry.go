// Package registry owns the growing set of confirmed matches a matching run
// produces: function-level FixedPoints and, within each, basic block level
// BasicBlockFixedPoints. It enforces the invariants spec.md requires of the
// result set regardless of which matching step or thread produced a given
// match: at most one fixed point per flow graph per side, and no basic
// block vertex appearing in more than one basic block fixed point within
// the same function fixed point.
package registry

import (
	"sync"

	"github.com/AliverAnme/bindiff/pkg/graph"
)

// Registry is the run-scoped collection of all fixed points discovered so
// far. It is safe for concurrent use: basic-block matching for different
// function pairs runs in parallel (see pkg/matchctx) and each pair calls
// AddBasicBlockMatch as it resolves blocks.
type Registry struct {
	mu          sync.Mutex
	fixedPoints []*graph.FixedPoint
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// AddFunctionMatch records a confirmed match between primary and
// secondary, produced by the named matching step. It is idempotent: if
// either side already has a fixed point, the existing one is returned and
// ok is false, since the invariant "at most one fixed point per flow
// graph per side" means the first match to claim either side wins and all
// later attempts to match it elsewhere are rejected, not merged.
func (r *Registry) AddFunctionMatch(primary, secondary *graph.FlowGraph, matchedBy string, confidence, similarity float64) (*graph.FixedPoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := primary.GetFixedPoint(); existing != nil {
		return existing, false
	}
	if existing := secondary.GetFixedPoint(); existing != nil {
		return existing, false
	}

	fp := &graph.FixedPoint{
		Primary:    primary,
		Secondary:  secondary,
		MatchedBy:  matchedBy,
		Confidence: confidence,
		Similarity: similarity,
	}
	primary.SetFixedPoint(fp)
	secondary.SetFixedPoint(fp)
	r.fixedPoints = append(r.fixedPoints, fp)
	return fp, true
}

// AddBasicBlockMatch records a confirmed match between basic block
// primaryVertex of fp.Primary and secondaryVertex of fp.Secondary. Like
// AddFunctionMatch, this is idempotent-reject-on-duplicate: if either
// vertex already belongs to a basic block fixed point within fp, the
// existing one is returned and ok is false.
func (r *Registry) AddBasicBlockMatch(fp *graph.FixedPoint, primaryVertex, secondaryVertex int, matchedBy string) (*graph.BasicBlockFixedPoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := fp.Primary.GetVertexFixedPoint(primaryVertex); existing != nil {
		return existing, false
	}
	if existing := fp.Secondary.GetVertexFixedPoint(secondaryVertex); existing != nil {
		return existing, false
	}

	bbfp := &graph.BasicBlockFixedPoint{
		Parent:          fp,
		PrimaryVertex:   primaryVertex,
		SecondaryVertex: secondaryVertex,
		MatchedBy:       matchedBy,
	}
	fp.Primary.SetVertexFixedPoint(primaryVertex, bbfp)
	fp.Secondary.SetVertexFixedPoint(secondaryVertex, bbfp)
	graph.AppendBasicBlockFixedPoint(fp, bbfp)
	return bbfp, true
}

// FixedPoints returns every function-level fixed point recorded so far, in
// the order they were added (the function-level cascade, then the fuzzy
// fallback), not address order — callers that need address order (e.g.
// output writers) must sort by entry point address themselves.
func (r *Registry) FixedPoints() []*graph.FixedPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*graph.FixedPoint, len(r.fixedPoints))
	copy(out, r.fixedPoints)
	return out
}

// ResetMatches clears every fixed point this registry tracks, plus all
// vertex and function fixed point pointers on both sides' flow graphs, and
// empties the registry so a fresh matching run can start clean.
func (r *Registry) ResetMatches() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fp := range r.fixedPoints {
		fp.Primary.ResetMatches()
		fp.Secondary.ResetMatches()
	}
	r.fixedPoints = nil
}
