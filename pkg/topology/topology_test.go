package topology

import (
	"testing"

	"github.com/AliverAnme/bindiff/pkg/graph"
)

// diamond builds A -> {B, C} -> D, the canonical non-trivial no-loop CFG.
func diamond() *graph.FlowGraph {
	cache := graph.NewInstructionCache(nil)
	instructions := []graph.Instruction{
		graph.NewInstruction(cache, 0x1000, "cmp", 2, 0),
		graph.NewInstruction(cache, 0x1010, "mov", 3, 0),
		graph.NewInstruction(cache, 0x1020, "mov", 5, 0),
		graph.NewInstruction(cache, 0x1030, "ret", 7, 0),
	}
	vertices := []graph.BasicBlock{
		{Address: 0x1000, InstructionStart: 0, InstructionCount: 1},
		{Address: 0x1010, InstructionStart: 1, InstructionCount: 1},
		{Address: 0x1020, InstructionStart: 2, InstructionCount: 1},
		{Address: 0x1030, InstructionStart: 3, InstructionCount: 1},
	}
	edges := []graph.Edge{
		{Source: 0, Target: 1, Flags: graph.EdgeTrue},
		{Source: 0, Target: 2, Flags: graph.EdgeFalse},
		{Source: 1, Target: 3, Flags: graph.EdgeUnconditional},
		{Source: 2, Target: 3, Flags: graph.EdgeUnconditional},
	}
	fg, err := graph.NewFlowGraph(0x1000, vertices, edges, instructions, nil)
	if err != nil {
		panic(err)
	}
	return fg
}

// loopy builds A -> B -> C -> B (back edge C->B), A -> D (exit).
func loopy() *graph.FlowGraph {
	vertices := []graph.BasicBlock{
		{Address: 0x1000},
		{Address: 0x1010},
		{Address: 0x1020},
		{Address: 0x1030},
	}
	edges := []graph.Edge{
		{Source: 0, Target: 1},
		{Source: 0, Target: 3},
		{Source: 1, Target: 2},
		{Source: 2, Target: 1}, // back edge
	}
	fg, err := graph.NewFlowGraph(0x1000, vertices, edges, nil, nil)
	if err != nil {
		panic(err)
	}
	return fg
}

func TestCalculateTopologyDiamond(t *testing.T) {
	fg := diamond()
	CalculateTopology(fg)

	if fg.Vertex(0).BFSTopDown != 0 {
		t.Fatalf("entry BFSTopDown = %d, want 0", fg.Vertex(0).BFSTopDown)
	}
	if fg.Vertex(1).BFSTopDown != 1 || fg.Vertex(2).BFSTopDown != 1 {
		t.Fatalf("middle blocks should be at top-down level 1")
	}
	if fg.Vertex(3).BFSTopDown != 2 {
		t.Fatalf("exit block BFSTopDown = %d, want 2", fg.Vertex(3).BFSTopDown)
	}
	if fg.Vertex(3).BFSBottomUp != 1 {
		t.Fatalf("exit block is the only leaf, want BFSBottomUp 1, got %d", fg.Vertex(3).BFSBottomUp)
	}
	if !fg.HasMdIndex() {
		t.Fatalf("CalculateTopology should cache the function-level MD index")
	}
}

func TestMarkLoopsDetectsBackEdge(t *testing.T) {
	fg := loopy()
	CalculateTopology(fg)
	MarkLoops(fg)

	if fg.GetLoopCount() != 1 {
		t.Fatalf("GetLoopCount() = %d, want 1", fg.GetLoopCount())
	}
	if !fg.Vertex(1).IsLoopEntry() {
		t.Fatalf("vertex 1 (back edge target) should be flagged as a loop entry")
	}
	// Find the back edge C->B and check it's flagged dominated.
	found := false
	for i := range fg.Edges() {
		e := fg.Edge(i)
		if e.Source == 2 && e.Target == 1 {
			found = true
			if !e.IsDominated() {
				t.Fatalf("back edge should be flagged EdgeDominated")
			}
		}
	}
	if !found {
		t.Fatalf("expected to find the C->B edge")
	}
}

func TestCalculateTopologyNoLeaves(t *testing.T) {
	// A <-> B, a pure 2-cycle with no leaf at all.
	vertices := []graph.BasicBlock{{Address: 0x1000}, {Address: 0x1010}}
	edges := []graph.Edge{{Source: 0, Target: 1}, {Source: 1, Target: 0}}
	fg, err := graph.NewFlowGraph(0x1000, vertices, edges, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	CalculateTopology(fg)
	if fg.Vertex(0).BFSBottomUp != 1 || fg.Vertex(1).BFSBottomUp != 1 {
		t.Fatalf("no-leaf fallback should seed every vertex at bottom-up level 1")
	}
}

func TestFuzzyHashAndSimilarity(t *testing.T) {
	a := ExtractFeatures(diamond())
	b := ExtractFeatures(diamond())
	if a.FuzzyHash() != b.FuzzyHash() {
		t.Fatalf("identical graphs should have identical fuzzy hashes")
	}
	if sim := Similarity(a, b); sim < 0.99 {
		t.Fatalf("identical graphs should score near-1 similarity, got %f", sim)
	}

	c := ExtractFeatures(loopy())
	if sim := Similarity(a, c); sim >= 1.0 {
		t.Fatalf("structurally different graphs should not score similarity 1.0, got %f", sim)
	}
}
