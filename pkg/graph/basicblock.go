package graph

// Vertex flag bits. VertexLoopEntry is the only vertex bit the engine sets;
// the diagnostic marks of pkg/matching's edge-keyed cascade go on
// Edge.Flags, not on vertices.
const (
	VertexLoopEntry uint32 = 1 << 31
)

// Edge flag bits, mirroring the handful of edge kinds BinDiff-style
// disassembly exports: at most one of Unconditional/True/False/Switch is
// set per edge, and Dominated is an independent bit set by loop detection.
const (
	EdgeUnconditional uint8 = 1 << 0
	EdgeTrue          uint8 = 1 << 1
	EdgeFalse         uint8 = 1 << 2
	EdgeSwitch        uint8 = 1 << 3
	EdgeDominated     uint8 = 1 << 4
)

// Level identifies a call's position inside a flow graph: BasicBlockLevel
// is the shortest path in blocks from the function entry to the block
// containing the call, IntraBlockIndex orders calls within that block by
// code flow.
type Level struct {
	BasicBlockLevel uint16
	IntraBlockIndex uint16
}

// BasicBlock is a vertex in a FlowGraph. Instructions and call targets are
// not stored inline; they live in the owning FlowGraph's backing slices and
// are addressed by [InstructionStart:InstructionStart+InstructionCount) and
// [CallTargetStart:CallTargetStart+CallTargetCount) respectively, so that
// FlowGraph.GetInstructions/GetCallTargets are O(1) slice operations.
type BasicBlock struct {
	Address Address

	Prime           uint64 // prime product of this block's instructions
	StringHash      uint32 // hash of string references touched in this block
	Hash            uint32 // binary hash of this block's raw bytes/mnemonics
	Flags           uint32

	InstructionStart int
	InstructionCount int
	CallTargetStart  int
	CallTargetCount  int

	FixedPoint *BasicBlockFixedPoint // nil until matched

	BFSTopDown   uint16
	BFSBottomUp  uint16
}

// IsLoopEntry reports whether this vertex is the target of a back edge, as
// determined by loop detection.
func (b *BasicBlock) IsLoopEntry() bool {
	return b.Flags&VertexLoopEntry != 0
}

// Edge is a directed control-flow edge between two basic blocks of the same
// FlowGraph, identified by the indices of their source/target vertices in
// the owning FlowGraph's vertex slice.
type Edge struct {
	Source int
	Target int

	MDIndexTopDown    float64
	MDIndexBottomUp   float64
	Flags             uint8
}

func (e Edge) IsUnconditional() bool { return e.Flags&EdgeUnconditional != 0 }
func (e Edge) IsDominated() bool     { return e.Flags&EdgeDominated != 0 }
