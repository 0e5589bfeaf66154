package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/AliverAnme/bindiff/pkg/bderrors"
	"github.com/AliverAnme/bindiff/pkg/graph"
	"github.com/AliverAnme/bindiff/pkg/primesig"
)

func sampleFile() *File {
	return &File{
		BinaryName: "sample.exe",
		Functions: []Function{
			{
				Address: 0x1000,
				Name:    "main",
				Calls:   []uint64{0x2000},
				FlowGraph: &FlowGraph{
					BasicBlocks: []BasicBlock{
						{
							Address: 0x1000,
							Instructions: []Instruction{
								{Address: 0x1000, Mnemonic: "push"},
								{Address: 0x1001, Mnemonic: "call", IsCall: true, CallTargets: []uint64{0x2000}},
							},
							Successors: []Successor{{TargetAddress: 0x1010, Kind: "unconditional"}},
						},
						{
							Address: 0x1010,
							Instructions: []Instruction{
								{Address: 0x1010, Mnemonic: "mov"},
								{Address: 0x1011, Mnemonic: "ret"},
							},
						},
					},
				},
			},
			{
				Address: 0x2000,
				Name:    "helper",
				FlowGraph: &FlowGraph{
					BasicBlocks: []BasicBlock{
						{
							Address: 0x2000,
							Instructions: []Instruction{
								{Address: 0x2000, Mnemonic: "nop"},
								{Address: 0x2001, Mnemonic: "ret"},
							},
						},
					},
				},
			},
		},
	}
}

func TestBuildProducesWellFormedCallGraph(t *testing.T) {
	cache := graph.NewInstructionCache(nil)
	cg, err := Build(sampleFile(), cache)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	if cg.VertexCount() != 2 {
		t.Fatalf("expected 2 vertices, got %d", cg.VertexCount())
	}

	main := cg.GetVertex(0x1000)
	if main < 0 {
		t.Fatalf("expected to find main at 0x1000")
	}
	fg := cg.Vertex(main).FlowGraph
	if fg == nil {
		t.Fatalf("expected main to have a flow graph")
	}
	if fg.VertexCount() != 2 {
		t.Fatalf("expected 2 basic blocks, got %d", fg.VertexCount())
	}
	if fg.GetPrime() == 0 {
		t.Fatalf("expected a non-zero function prime signature")
	}
	if !fg.HasMdIndex() {
		t.Fatalf("expected topology to have run during ingestion")
	}

	callees := cg.CalleesOf(main)
	if len(callees) != 1 || cg.Vertex(callees[0]).Address != 0x2000 {
		t.Fatalf("expected main to call helper, got %+v", callees)
	}
}

func TestBuildSharesInstructionCacheAcrossFunctions(t *testing.T) {
	cache := graph.NewInstructionCache(nil)
	if _, err := Build(sampleFile(), cache); err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if cache.Mnemonic(primesig.GetPrime("ret")) != "ret" {
		t.Fatalf("expected shared cache to retain the ret mnemonic")
	}
}

func TestBuildRejectsDuplicateFunctionAddress(t *testing.T) {
	f := sampleFile()
	f.Functions[1].Address = f.Functions[0].Address
	cache := graph.NewInstructionCache(nil)
	_, err := Build(f, cache)
	if err == nil || !errors.Is(err, bderrors.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestBuildRejectsEmptyBasicBlock(t *testing.T) {
	f := sampleFile()
	f.Functions[0].FlowGraph.BasicBlocks[0].Instructions = nil
	cache := graph.NewInstructionCache(nil)
	_, err := Build(f, cache)
	if err == nil || !errors.Is(err, bderrors.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestBuildRejectsSuccessorToUnknownAddress(t *testing.T) {
	f := sampleFile()
	f.Functions[0].FlowGraph.BasicBlocks[0].Successors = []Successor{{TargetAddress: 0xdead, Kind: "unconditional"}}
	cache := graph.NewInstructionCache(nil)
	_, err := Build(f, cache)
	if err == nil || !errors.Is(err, bderrors.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestBuildRejectsMissingEntryBlock(t *testing.T) {
	f := sampleFile()
	f.Functions[0].Address = 0x999
	cache := graph.NewInstructionCache(nil)
	_, err := Build(f, cache)
	if err == nil || !errors.Is(err, bderrors.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestBuildRejectsCallTargetsOnNonCallInstruction(t *testing.T) {
	f := sampleFile()
	f.Functions[0].FlowGraph.BasicBlocks[0].Instructions[0].CallTargets = []uint64{0x2000}
	cache := graph.NewInstructionCache(nil)
	_, err := Build(f, cache)
	if err == nil || !errors.Is(err, bderrors.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestValidateRejectsCallToUnknownFunction(t *testing.T) {
	f := sampleFile()
	f.Functions[0].Calls = []uint64{0xbeef}
	err := Validate(f)
	if err == nil || !errors.Is(err, bderrors.ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	cache := graph.NewInstructionCache(nil)
	r := strings.NewReader(`{"binary_name":"x","functions":[],"bogus_field":1}`)
	_, err := Decode(r, cache)
	if err == nil || !errors.Is(err, bderrors.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}
