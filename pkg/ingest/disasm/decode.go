// Package disasm decodes a raw x86-64 instruction stream into the same
// basic-block/successor shape pkg/ingest expects on the wire, so a fixture
// generator can turn real machine code into ingestion JSON instead of
// hand-written synthetic instruction streams.
package disasm

import (
	"sort"

	"golang.org/x/arch/x86/x86asm"
)

// Instruction is one decoded instruction, with its call target resolved if
// it was a direct CALL with a PC-relative or RIP-relative operand.
type Instruction struct {
	Address     uint64
	Mnemonic    string
	IsCall      bool
	CallTargets []uint64
}

// Successor describes one outgoing edge from a BasicBlock.
type Successor struct {
	TargetAddress uint64
	Kind          string // "unconditional", "true", "false"
}

// BasicBlock is one partition of a function's decoded instruction stream.
type BasicBlock struct {
	Address      uint64
	Instructions []Instruction
	Successors   []Successor
}

// Function is a decoded function: its entry address and basic blocks.
type Function struct {
	EntryAddress uint64
	Blocks       []BasicBlock
	Calls        []uint64
}

var conditionalJumps = map[x86asm.Op]bool{
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JE: true, x86asm.JG: true, x86asm.JGE: true, x86asm.JL: true,
	x86asm.JLE: true, x86asm.JNE: true, x86asm.JNO: true, x86asm.JNP: true,
	x86asm.JNS: true, x86asm.JO: true, x86asm.JP: true, x86asm.JS: true,
	x86asm.JCXZ: true, x86asm.JECXZ: true, x86asm.JRCXZ: true,
}

// decoded is one already-decoded instruction plus the bookkeeping the CFG
// builder needs: its address, whether it's a branch, and (if resolvable)
// the address it branches to.
type decoded struct {
	addr       uint64
	inst       x86asm.Inst
	isCall     bool
	isJump     bool
	isCondJump bool
	isRet      bool
	target     uint64
	hasTarget  bool
}

// DecodeFunction decodes code (the raw bytes of one function, starting at
// entryAddr) and partitions it into basic blocks, mirroring the
// leader/partition/successor algorithm used elsewhere in the pack for
// fixed-width ISAs, generalized here for x86-64's variable instruction
// length: decode errors skip one byte and resume (tolerating data embedded
// in the code stream), and ENDBR32/ENDBR64 (control-flow-enforcement
// landing pads invisible to x86asm) are skipped as a unit.
func DecodeFunction(code []byte, entryAddr uint64) Function {
	var decs []decoded

	offset := 0
	addr := entryAddr
	for offset < len(code) {
		if isEndbr(code[offset:]) {
			offset += 4
			addr += 4
			continue
		}

		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			offset++
			addr++
			continue
		}

		d := decoded{addr: addr, inst: inst}
		switch inst.Op {
		case x86asm.CALL:
			d.isCall = true
			if t, ok := relTarget(inst, addr); ok {
				d.target, d.hasTarget = t, true
			}
		case x86asm.JMP:
			d.isJump = true
			if t, ok := relTarget(inst, addr); ok {
				d.target, d.hasTarget = t, true
			}
		case x86asm.RET:
			d.isRet = true
		default:
			if conditionalJumps[inst.Op] {
				d.isJump = true
				d.isCondJump = true
				if t, ok := relTarget(inst, addr); ok {
					d.target, d.hasTarget = t, true
				}
			}
		}

		decs = append(decs, d)
		offset += inst.Len
		addr += uint64(inst.Len)
	}

	return buildCFG(entryAddr, decs)
}

func isEndbr(b []byte) bool {
	return len(b) >= 4 && b[0] == 0xf3 && b[1] == 0x0f && b[2] == 0x1e && (b[3] == 0xfa || b[3] == 0xfb)
}

func relTarget(inst x86asm.Inst, addr uint64) (uint64, bool) {
	switch arg := inst.Args[0].(type) {
	case x86asm.Rel:
		return addr + uint64(inst.Len) + uint64(int64(arg)), true
	case x86asm.Mem:
		if arg.Base == x86asm.RIP && arg.Index == 0 {
			return addr + uint64(inst.Len) + uint64(arg.Disp), true
		}
	}
	return 0, false
}

func buildCFG(entryAddr uint64, decs []decoded) Function {
	fn := Function{EntryAddress: entryAddr}
	if len(decs) == 0 {
		return fn
	}

	addrToIdx := make(map[uint64]int, len(decs))
	for i, d := range decs {
		addrToIdx[d.addr] = i
	}

	leaders := map[int]bool{0: true}
	for i, d := range decs {
		if !d.isJump && !d.isRet {
			continue
		}
		if i+1 < len(decs) {
			leaders[i+1] = true
		}
		if d.hasTarget {
			if idx, ok := addrToIdx[d.target]; ok {
				leaders[idx] = true
			}
		}
	}

	sortedLeaders := make([]int, 0, len(leaders))
	for idx := range leaders {
		sortedLeaders = append(sortedLeaders, idx)
	}
	sort.Ints(sortedLeaders)

	blocks := make([]BasicBlock, len(sortedLeaders))
	var calls []uint64
	for bi, start := range sortedLeaders {
		end := len(decs)
		if bi+1 < len(sortedLeaders) {
			end = sortedLeaders[bi+1]
		}

		block := BasicBlock{Address: decs[start].addr}
		for i := start; i < end; i++ {
			d := decs[i]
			insn := Instruction{Address: d.addr, Mnemonic: d.inst.Op.String(), IsCall: d.isCall}
			if d.isCall && d.hasTarget {
				insn.CallTargets = []uint64{d.target}
				calls = append(calls, d.target)
			}
			block.Instructions = append(block.Instructions, insn)
		}

		last := decs[end-1]
		switch {
		case last.isRet:
			// Terminal block: no successors.
		case last.isCondJump:
			if last.hasTarget {
				if tb, ok := addrToIdx[last.target]; ok {
					block.Successors = append(block.Successors, Successor{TargetAddress: decs[tb].addr, Kind: "true"})
				}
			}
			if end < len(decs) {
				block.Successors = append(block.Successors, Successor{TargetAddress: decs[end].addr, Kind: "false"})
			}
		case last.isJump:
			if last.hasTarget {
				if tb, ok := addrToIdx[last.target]; ok {
					block.Successors = append(block.Successors, Successor{TargetAddress: decs[tb].addr, Kind: "unconditional"})
				}
			}
		default:
			if end < len(decs) {
				block.Successors = append(block.Successors, Successor{TargetAddress: decs[end].addr, Kind: "unconditional"})
			}
		}

		blocks[bi] = block
	}

	fn.Blocks = blocks
	fn.Calls = dedupUint64(calls)
	return fn
}

func dedupUint64(in []uint64) []uint64 {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[uint64]bool, len(in))
	var out []uint64
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
