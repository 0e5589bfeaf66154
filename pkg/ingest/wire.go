// Package ingest decodes the disassembly-export JSON format into the
// engine's graph model: a BinExport-style shape of call graph vertices
// and, per function, a flow graph of basic blocks and edges, each basic
// block carrying its raw decoded instructions.
package ingest

// File is the root shape of one side's disassembly export: one binary's
// worth of functions, each with its flow graph.
type File struct {
	BinaryName string     `json:"binary_name"`
	Functions  []Function `json:"functions"`
}

// Function is one call graph vertex plus its flow graph, if one was
// disassembled (imports/thunks may appear with no flow graph at all).
type Function struct {
	Address       uint64 `json:"address"`
	Name          string `json:"name"`
	DemangledName string `json:"demangled_name,omitempty"`
	IsLibrary     bool   `json:"is_library,omitempty"`
	Calls         []uint64 `json:"calls,omitempty"`

	FlowGraph *FlowGraph `json:"flow_graph,omitempty"`
}

// FlowGraph is the basic-block-level control flow graph of one function.
type FlowGraph struct {
	BasicBlocks []BasicBlock `json:"basic_blocks"`
}

// BasicBlock is one vertex: its instructions, in address order, and the
// edges leaving it.
type BasicBlock struct {
	Address      uint64        `json:"address"`
	Instructions []Instruction `json:"instructions"`
	Successors   []Successor   `json:"successors,omitempty"`
}

// Instruction is one decoded machine instruction.
type Instruction struct {
	Address      uint64   `json:"address"`
	Mnemonic     string   `json:"mnemonic"`
	IsCall       bool     `json:"is_call,omitempty"`
	CallTargets  []uint64 `json:"call_targets,omitempty"`
	StringRef    string   `json:"string_ref,omitempty"`
}

// Successor describes one outgoing edge from a basic block.
type Successor struct {
	TargetAddress uint64 `json:"target_address"`
	Kind          string `json:"kind"` // "unconditional", "true", "false", "switch"
}
