package registry

import (
	"testing"

	"github.com/AliverAnme/bindiff/pkg/graph"
)

func trivialFlowGraph(addr graph.Address) *graph.FlowGraph {
	fg, err := graph.NewFlowGraph(addr, []graph.BasicBlock{{Address: addr}}, nil, nil, nil)
	if err != nil {
		panic(err)
	}
	return fg
}

func TestAddFunctionMatchRejectsDoubleClaim(t *testing.T) {
	r := New()
	a, b, c := trivialFlowGraph(1), trivialFlowGraph(2), trivialFlowGraph(3)

	fp1, ok := r.AddFunctionMatch(a, b, "exact", 1, 1)
	if !ok || fp1 == nil {
		t.Fatalf("first match should succeed")
	}

	fp2, ok := r.AddFunctionMatch(a, c, "other", 1, 1)
	if ok {
		t.Fatalf("second match claiming an already-matched primary should be rejected")
	}
	if fp2 != fp1 {
		t.Fatalf("rejected match should return the existing fixed point")
	}

	if len(r.FixedPoints()) != 1 {
		t.Fatalf("registry should only record one fixed point")
	}
}

func TestAddBasicBlockMatchRejectsDuplicateVertex(t *testing.T) {
	r := New()
	a, b := trivialFlowGraph(1), trivialFlowGraph(2)
	fp, _ := r.AddFunctionMatch(a, b, "exact", 1, 1)

	bb1, ok := r.AddBasicBlockMatch(fp, 0, 0, "prime")
	if !ok || bb1 == nil {
		t.Fatalf("first basic block match should succeed")
	}

	_, ok = r.AddBasicBlockMatch(fp, 0, 0, "other")
	if ok {
		t.Fatalf("duplicate vertex basic block match should be rejected")
	}

	if len(fp.BasicBlockFixedPoints()) != 1 {
		t.Fatalf("fixed point should only record one basic block match")
	}
}

func TestResetMatchesClearsEverything(t *testing.T) {
	r := New()
	a, b := trivialFlowGraph(1), trivialFlowGraph(2)
	fp, _ := r.AddFunctionMatch(a, b, "exact", 1, 1)
	r.AddBasicBlockMatch(fp, 0, 0, "prime")

	r.ResetMatches()

	if a.GetFixedPoint() != nil || b.GetFixedPoint() != nil {
		t.Fatalf("ResetMatches should clear function fixed points")
	}
	if len(r.FixedPoints()) != 0 {
		t.Fatalf("ResetMatches should empty the registry")
	}
}
