package graph

import "fmt"

// FlowGraph is the control flow graph of a single function: its basic
// blocks, the edges between them, and the flattened instruction/call-target
// slices the blocks slice into. Vertices are kept sorted by address so
// GetVertex can binary search.
type FlowGraph struct {
	EntryPointAddress Address

	vertices     []BasicBlock
	edges        []Edge
	out          [][]int // out[v] = indices into edges, edges with Source==v
	in           [][]int // in[v] = indices into edges, edges with Target==v

	instructions []Instruction
	callTargets  []Address

	callGraph       *CallGraph
	callGraphVertex int

	fixedPoint *FixedPoint

	mdIndex         float64
	mdIndexInverted float64
	hasMdIndex      bool

	prime           uint64
	byteHash        uint32
	stringRefs      uint32
	numLoops        uint16

	levelForCall []callLevelEntry // sorted by Address, filled by CalculateCallLevels
}

type callLevelEntry struct {
	Address Address
	Level   Level
}

// NewFlowGraph builds a FlowGraph from vertices sorted by address, the edges
// between them (referencing vertex indices), and the flattened instruction
// and call-target backing slices the vertices index into.
func NewFlowGraph(entryPoint Address, vertices []BasicBlock, edges []Edge, instructions []Instruction, callTargets []Address) (*FlowGraph, error) {
	addrs := make([]Address, len(vertices))
	for i, v := range vertices {
		addrs[i] = v.Address
	}
	if !IsSorted(addrs) {
		return nil, fmt.Errorf("graph: flow graph 0x%x vertices are not address-sorted", uint64(entryPoint))
	}
	fg := &FlowGraph{
		EntryPointAddress: entryPoint,
		vertices:          vertices,
		edges:             edges,
		instructions:      instructions,
		callTargets:       callTargets,
		callGraphVertex:   -1,
	}
	fg.buildAdjacency()
	return fg, nil
}

func (f *FlowGraph) buildAdjacency() {
	f.out = make([][]int, len(f.vertices))
	f.in = make([][]int, len(f.vertices))
	for i, e := range f.edges {
		if e.Source < 0 || e.Source >= len(f.vertices) || e.Target < 0 || e.Target >= len(f.vertices) {
			continue
		}
		f.out[e.Source] = append(f.out[e.Source], i)
		f.in[e.Target] = append(f.in[e.Target], i)
	}
}

// GetVertex does an O(log n) binary search for the basic block starting at
// address, returning its index or -1 if none starts there.
func (f *FlowGraph) GetVertex(address Address) int {
	lo, hi := 0, len(f.vertices)
	for lo < hi {
		mid := (lo + hi) / 2
		if f.vertices[mid].Address < address {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(f.vertices) && f.vertices[lo].Address == address {
		return lo
	}
	return -1
}

func (f *FlowGraph) VertexCount() int   { return len(f.vertices) }
func (f *FlowGraph) Vertex(v int) *BasicBlock { return &f.vertices[v] }
func (f *FlowGraph) Vertices() []BasicBlock   { return f.vertices }
func (f *FlowGraph) Edges() []Edge            { return f.edges }
func (f *FlowGraph) OutEdges(v int) []int     { return f.out[v] }
func (f *FlowGraph) InEdges(v int) []int      { return f.in[v] }
func (f *FlowGraph) Edge(i int) *Edge         { return &f.edges[i] }

func (f *FlowGraph) GetAddress(v int) Address { return f.vertices[v].Address }

// GetInstructions returns the slice of instructions belonging to vertex v.
func (f *FlowGraph) GetInstructions(v int) []Instruction {
	bb := &f.vertices[v]
	return f.instructions[bb.InstructionStart : bb.InstructionStart+bb.InstructionCount]
}

func (f *FlowGraph) GetInstructionCount(v int) int { return f.vertices[v].InstructionCount }

// TotalInstructionCount returns the total instruction count of the
// function.
func (f *FlowGraph) TotalInstructionCount() int { return len(f.instructions) }

// GetCallTargets returns the call target addresses for vertex v, in order
// of appearance.
func (f *FlowGraph) GetCallTargets(v int) []Address {
	bb := &f.vertices[v]
	return f.callTargets[bb.CallTargetStart : bb.CallTargetStart+bb.CallTargetCount]
}

func (f *FlowGraph) GetCallCount(v int) int { return f.vertices[v].CallTargetCount }

// IsTrivial reports whether this graph consists of a single basic block.
func (f *FlowGraph) IsTrivial() bool { return len(f.vertices) == 1 }

// IsCircular reports whether edge e is a self loop (source == target).
func (f *FlowGraph) IsCircular(e *Edge) bool { return e.Source == e.Target }

func (f *FlowGraph) GetFixedPoint() *FixedPoint        { return f.fixedPoint }
func (f *FlowGraph) SetFixedPoint(fp *FixedPoint)      { f.fixedPoint = fp }
func (f *FlowGraph) GetVertexFixedPoint(v int) *BasicBlockFixedPoint {
	return f.vertices[v].FixedPoint
}
func (f *FlowGraph) SetVertexFixedPoint(v int, bbfp *BasicBlockFixedPoint) {
	f.vertices[v].FixedPoint = bbfp
}

func (f *FlowGraph) CallGraph() *CallGraph     { return f.callGraph }
func (f *FlowGraph) SetCallGraph(cg *CallGraph) { f.callGraph = cg }
func (f *FlowGraph) CallGraphVertex() int       { return f.callGraphVertex }
func (f *FlowGraph) SetCallGraphVertex(v int)   { f.callGraphVertex = v }

// GetMdIndex and GetMdIndexInverted return the cached function-level MD
// index, computed and cached the first time CalculateTopology runs
// (top-down and bottom-up variants respectively).
func (f *FlowGraph) GetMdIndex() float64         { return f.mdIndex }
func (f *FlowGraph) GetMdIndexInverted() float64 { return f.mdIndexInverted }
func (f *FlowGraph) SetMdIndex(v float64) {
	f.mdIndex = v
	f.hasMdIndex = true
}
func (f *FlowGraph) SetMdIndexInverted(v float64) { f.mdIndexInverted = v }
func (f *FlowGraph) HasMdIndex() bool             { return f.hasMdIndex }

func (f *FlowGraph) SetPrime(p uint64)       { f.prime = p }
func (f *FlowGraph) GetPrime() uint64        { return f.prime }
func (f *FlowGraph) SetByteHash(h uint32)    { f.byteHash = h }
func (f *FlowGraph) GetByteHash() uint32     { return f.byteHash }
func (f *FlowGraph) SetStringReferences(h uint32) { f.stringRefs = h }
func (f *FlowGraph) GetStringReferences() uint32  { return f.stringRefs }
func (f *FlowGraph) SetLoopCount(n uint16)   { f.numLoops = n }
func (f *FlowGraph) GetLoopCount() uint16    { return f.numLoops }

// ResetMatches clears all fixed point pointers (function-level and every
// basic block's), without touching signatures, topology, or any other
// structural data so the graph can be rematched from scratch.
func (f *FlowGraph) ResetMatches() {
	f.fixedPoint = nil
	for i := range f.vertices {
		f.vertices[i].FixedPoint = nil
	}
}
