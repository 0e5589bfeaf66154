package outwriter

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/AliverAnme/bindiff/pkg/graph"
	"github.com/AliverAnme/bindiff/pkg/matchctx"
	"github.com/rs/zerolog"
)

func buildFlowGraph(addr graph.Address, name string) (*graph.FlowGraph, graph.CallGraphVertex) {
	insns := []graph.Instruction{graph.NewInstruction(graph.NewInstructionCache(nil), addr, "ret", 7, 0)}
	verts := []graph.BasicBlock{{Address: addr, InstructionStart: 0, InstructionCount: 1}}
	fg, err := graph.NewFlowGraph(addr, verts, nil, insns, nil)
	if err != nil {
		panic(err)
	}
	return fg, graph.CallGraphVertex{Address: addr, Name: name, FlowGraph: fg}
}

func buildContext() *matchctx.Context {
	pFg, pv := buildFlowGraph(0x1000, "main")
	sFg, sv := buildFlowGraph(0x9000, "main")
	_, pv2 := buildFlowGraph(0x2000, "unmatched_primary")
	_, sv2 := buildFlowGraph(0xa000, "unmatched_secondary")

	primary, err := graph.NewCallGraph([]graph.CallGraphVertex{pv, pv2}, nil)
	if err != nil {
		panic(err)
	}
	secondary, err := graph.NewCallGraph([]graph.CallGraphVertex{sv, sv2}, nil)
	if err != nil {
		panic(err)
	}

	mc := matchctx.New(primary, secondary, zerolog.Nop())
	fp, _ := mc.Registry.AddFunctionMatch(pFg, sFg, "function: exact prime", 1.0, 0.9)
	bbfp, _ := mc.Registry.AddBasicBlockMatch(fp, 0, 0, "basic block: exact prime")
	bbfp.AddInstructionMatches([]graph.InstructionMatch{
		{Primary: &pFg.GetInstructions(0)[0], Secondary: &sFg.GetInstructions(0)[0]},
	})
	return mc
}

func TestBuildReportListsMatchedAndUnmatchedFunctions(t *testing.T) {
	mc := buildContext()
	report := BuildReport(mc, "a.bin", "b.bin")

	if len(report.Functions) != 1 {
		t.Fatalf("expected 1 matched function, got %d", len(report.Functions))
	}
	fn := report.Functions[0]
	if fn.PrimaryAddress != 0x1000 || fn.SecondaryAddress != 0x9000 {
		t.Fatalf("unexpected match addresses: %+v", fn)
	}
	if fn.PrimaryName != "main" {
		t.Fatalf("expected primary name to resolve via the call graph, got %q", fn.PrimaryName)
	}

	if len(fn.BasicBlockMatches) != 1 {
		t.Fatalf("expected 1 basic block match, got %+v", fn.BasicBlockMatches)
	}
	bb := fn.BasicBlockMatches[0]
	if bb.PrimaryAddress != 0x1000 || bb.SecondaryAddress != 0x9000 {
		t.Fatalf("unexpected basic block addresses: %+v", bb)
	}
	if len(bb.InstructionMatches) != 1 || bb.InstructionMatches[0].PrimaryAddress != 0x1000 {
		t.Fatalf("unexpected instruction matches: %+v", bb.InstructionMatches)
	}

	if len(report.UnmatchedPrimary) != 1 || report.UnmatchedPrimary[0].Address != 0x2000 {
		t.Fatalf("unexpected unmatched primary: %+v", report.UnmatchedPrimary)
	}
	if len(report.UnmatchedSecondary) != 1 || report.UnmatchedSecondary[0].Address != 0xa000 {
		t.Fatalf("unexpected unmatched secondary: %+v", report.UnmatchedSecondary)
	}
}

// TestBuildReportPreservesLibraryFlag covers spec scenario S5: a library
// flag on the matched primary function must survive into the Report even
// though it played no part in the matching decision itself.
func TestBuildReportPreservesLibraryFlag(t *testing.T) {
	pFg, pv := buildFlowGraph(0x1000, "libfunc")
	pv.IsLibrary = true
	sFg, sv := buildFlowGraph(0x9000, "libfunc")

	primary, err := graph.NewCallGraph([]graph.CallGraphVertex{pv}, nil)
	if err != nil {
		t.Fatal(err)
	}
	secondary, err := graph.NewCallGraph([]graph.CallGraphVertex{sv}, nil)
	if err != nil {
		t.Fatal(err)
	}

	mc := matchctx.New(primary, secondary, zerolog.Nop())
	mc.Registry.AddFunctionMatch(pFg, sFg, "function: exact prime", 1.0, 0.9)

	report := BuildReport(mc, "a.bin", "b.bin")
	if len(report.Functions) != 1 {
		t.Fatalf("expected 1 matched function, got %d", len(report.Functions))
	}
	if !report.Functions[0].IsLibrary {
		t.Fatalf("expected the library flag to be preserved on the matched function")
	}
}

func TestJSONWriterProducesValidJSON(t *testing.T) {
	report := BuildReport(buildContext(), "a.bin", "b.bin")
	var buf bytes.Buffer
	if err := NewJSONWriter(&buf).Write(report); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "\"primary_address\"") {
		t.Fatalf("expected JSON output to contain field names, got %s", buf.String())
	}
}

func TestCSVWriterEmitsOneRowPerMatch(t *testing.T) {
	report := BuildReport(buildContext(), "a.bin", "b.bin")
	var buf bytes.Buffer
	if err := NewCSVWriter(&buf).Write(report); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected a header row plus one match row, got %d lines", len(lines))
	}
}

type failingWriter struct{}

func (failingWriter) Write(*Report) error { return errors.New("boom") }

func TestChainWriterStopsAtFirstError(t *testing.T) {
	chain := NewChainWriter()
	var buf bytes.Buffer
	calledAfterFailure := false
	chain.Add(failingWriter{})
	chain.Add(NewJSONWriter(&buf))

	err := chain.Write(&Report{})
	if err == nil {
		t.Fatalf("expected ChainWriter to propagate the first error")
	}
	if buf.Len() != 0 || calledAfterFailure {
		t.Fatalf("expected the chain to stop before reaching later writers")
	}
}

func TestChainWriterEmpty(t *testing.T) {
	chain := NewChainWriter()
	if !chain.Empty() {
		t.Fatalf("expected a fresh ChainWriter to be empty")
	}
	chain.Add(NewJSONWriter(&bytes.Buffer{}))
	if chain.Empty() {
		t.Fatalf("expected a non-empty ChainWriter after Add")
	}
}
