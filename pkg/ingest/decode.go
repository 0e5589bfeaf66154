package ingest

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"sort"

	"github.com/AliverAnme/bindiff/pkg/bderrors"
	"github.com/AliverAnme/bindiff/pkg/graph"
	"github.com/AliverAnme/bindiff/pkg/primesig"
	"github.com/AliverAnme/bindiff/pkg/topology"
)

// Decode reads one side's disassembly export from r and builds the
// corresponding CallGraph (with every function's FlowGraph already
// attached), sharing cache for prime-to-mnemonic bookkeeping across
// however many files are decoded against the same cache in one run.
func Decode(r io.Reader, cache *graph.InstructionCache) (*graph.CallGraph, error) {
	var file File
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("ingest: decoding export: %w: %v", bderrors.ErrMalformedInput, err)
	}
	return Build(&file, cache)
}

// Build turns an already-decoded File into a CallGraph.
func Build(file *File, cache *graph.InstructionCache) (*graph.CallGraph, error) {
	if err := Validate(file); err != nil {
		return nil, err
	}

	functions := append([]Function(nil), file.Functions...)
	sort.Slice(functions, func(i, j int) bool { return functions[i].Address < functions[j].Address })

	vertices := make([]graph.CallGraphVertex, len(functions))
	addressToIndex := make(map[uint64]int, len(functions))
	for i, fn := range functions {
		if i > 0 && functions[i-1].Address == fn.Address {
			return nil, fmt.Errorf("ingest: duplicate function address %#x: %w", fn.Address, bderrors.ErrMalformedInput)
		}
		addressToIndex[fn.Address] = i
		vertices[i] = graph.CallGraphVertex{
			Address:       graph.Address(fn.Address),
			Name:          fn.Name,
			DemangledName: fn.DemangledName,
			IsLibrary:     fn.IsLibrary,
		}
	}

	var edges []graph.CallGraphEdge
	for i, fn := range functions {
		for _, target := range fn.Calls {
			if j, ok := addressToIndex[target]; ok {
				edges = append(edges, graph.CallGraphEdge{Source: i, Target: j})
			}
		}
	}

	for i, fn := range functions {
		if fn.FlowGraph == nil {
			continue
		}
		fg, err := buildFlowGraph(graph.Address(fn.Address), fn.FlowGraph, cache)
		if err != nil {
			return nil, fmt.Errorf("ingest: function %#x: %w", fn.Address, err)
		}
		vertices[i].FlowGraph = fg
	}

	cg, err := graph.NewCallGraph(vertices, edges)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w: %v", bderrors.ErrInconsistent, err)
	}
	return cg, nil
}

func buildFlowGraph(entry graph.Address, wire *FlowGraph, cache *graph.InstructionCache) (*graph.FlowGraph, error) {
	if len(wire.BasicBlocks) == 0 {
		return nil, fmt.Errorf("flow graph has no basic blocks: %w", bderrors.ErrMalformedInput)
	}

	blocks := append([]BasicBlock(nil), wire.BasicBlocks...)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Address < blocks[j].Address })

	addressToIndex := make(map[uint64]int, len(blocks))
	for i, b := range blocks {
		if len(b.Instructions) == 0 {
			return nil, fmt.Errorf("basic block %#x has no instructions: %w", b.Address, bderrors.ErrMalformedInput)
		}
		if i > 0 && blocks[i-1].Address == b.Address {
			return nil, fmt.Errorf("duplicate basic block address %#x: %w", b.Address, bderrors.ErrMalformedInput)
		}
		addressToIndex[b.Address] = i
	}

	var instructions []graph.Instruction
	var callTargets []graph.Address
	vertices := make([]graph.BasicBlock, len(blocks))

	for i, b := range blocks {
		instrStart := len(instructions)
		callStart := len(callTargets)
		var primes []uint32
		var byteHashInput []byte
		var stringHashInput []byte

		for _, wi := range b.Instructions {
			prime := primesig.GetPrime(wi.Mnemonic)
			var features uint32
			if wi.IsCall {
				features |= graph.CallInstructionFeature
			}
			instructions = append(instructions, graph.NewInstruction(cache, graph.Address(wi.Address), wi.Mnemonic, prime, features))
			primes = append(primes, prime)
			byteHashInput = append(byteHashInput, []byte(wi.Mnemonic)...)
			if wi.StringRef != "" {
				stringHashInput = append(stringHashInput, []byte(wi.StringRef)...)
			}
			for _, ct := range wi.CallTargets {
				callTargets = append(callTargets, graph.Address(ct))
			}
		}

		vertices[i] = graph.BasicBlock{
			Address:          graph.Address(b.Address),
			Prime:            primesig.ProductSeq(primes),
			Hash:             fnv32(byteHashInput),
			StringHash:       fnv32(stringHashInput),
			InstructionStart: instrStart,
			InstructionCount: len(instructions) - instrStart,
			CallTargetStart:  callStart,
			CallTargetCount:  len(callTargets) - callStart,
		}
	}

	var edges []graph.Edge
	for i, b := range blocks {
		for _, succ := range b.Successors {
			target, ok := addressToIndex[succ.TargetAddress]
			if !ok {
				return nil, fmt.Errorf("basic block %#x has a successor at unknown address %#x: %w", b.Address, succ.TargetAddress, bderrors.ErrMalformedInput)
			}
			edges = append(edges, graph.Edge{Source: i, Target: target, Flags: successorFlags(succ.Kind)})
		}
	}

	fg, err := graph.NewFlowGraph(entry, vertices, edges, instructions, callTargets)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bderrors.ErrInconsistent, err)
	}

	allPrimes := make([]uint32, len(instructions))
	var allStringBytes []byte
	for i, insn := range instructions {
		allPrimes[i] = insn.Prime
	}
	for _, b := range blocks {
		for _, wi := range b.Instructions {
			if wi.StringRef != "" {
				allStringBytes = append(allStringBytes, []byte(wi.StringRef)...)
			}
		}
	}
	fg.SetPrime(primesig.ProductSeq(allPrimes))
	fg.SetStringReferences(fnv32(allStringBytes))
	fg.SetByteHash(fnv32(byteHashOfAllInstructions(blocks)))
	fg.CalculateCallLevels()

	topology.CalculateTopology(fg)
	topology.MarkLoops(fg)

	return fg, nil
}

func byteHashOfAllInstructions(blocks []BasicBlock) []byte {
	var out []byte
	for _, b := range blocks {
		for _, wi := range b.Instructions {
			out = append(out, []byte(wi.Mnemonic)...)
		}
	}
	return out
}

func successorFlags(kind string) uint8 {
	switch kind {
	case "true":
		return graph.EdgeTrue
	case "false":
		return graph.EdgeFalse
	case "switch":
		return graph.EdgeSwitch
	default:
		return graph.EdgeUnconditional
	}
}

func fnv32(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write(b)
	return h.Sum32()
}
