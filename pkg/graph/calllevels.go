package graph

import "sort"

// CalculateCallLevels computes, for every call instruction in the flow
// graph, the shortest-path level from the function entry point to the
// basic block containing that call, and the call's order within that block
// by code flow. Results are cached for GetLevelForCallAddress.
func (f *FlowGraph) CalculateCallLevels() {
	depth := make([]int, len(f.vertices))
	for i := range depth {
		depth[i] = -1
	}
	entry := f.GetVertex(f.EntryPointAddress)
	if entry < 0 {
		f.levelForCall = nil
		return
	}
	depth[entry] = 0
	queue := []int{entry}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, ei := range f.out[v] {
			t := f.edges[ei].Target
			if depth[t] == -1 {
				depth[t] = depth[v] + 1
				queue = append(queue, t)
			}
		}
	}

	var entries []callLevelEntry
	for v := range f.vertices {
		if depth[v] < 0 {
			continue
		}
		targets := f.GetCallTargets(v)
		insns := f.GetInstructions(v)
		for idx, target := range targets {
			_ = target
			entries = append(entries, callLevelEntry{
				Address: callAddressFor(insns, idx),
				Level: Level{
					BasicBlockLevel: uint16(depth[v]),
					IntraBlockIndex: uint16(idx),
				},
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Address < entries[j].Address })
	f.levelForCall = entries
}

// callAddressFor picks the address a call at position idx in a block's
// call targets occurred at. Ingestion guarantees call instructions appear
// in the same order as call targets within a block, so idx indexes
// directly into the subset of insns that are calls; fall back to the
// address of the block's last instruction (0 for an empty block) if insns
// holds fewer calls than expected (defensive only, never true for
// well-formed input).
func callAddressFor(insns []Instruction, idx int) Address {
	seen := 0
	for _, in := range insns {
		if in.Features&CallInstructionFeature == 0 {
			continue
		}
		if seen == idx {
			return in.Address
		}
		seen++
	}
	if len(insns) > 0 {
		return insns[len(insns)-1].Address
	}
	return 0
}

// CallInstructionFeature is the Instruction.Features bit ingestion sets on
// instructions that perform a call, used to line call targets up with the
// instruction that issued them when computing call levels.
const CallInstructionFeature uint32 = 1 << 0

// GetLevelForCallAddress returns the level recorded for the call at
// address, found by binary search; if several entries share the address,
// the first one's level is returned (there is normally at most one,
// ingestion never emits duplicate call addresses within a function).
func (f *FlowGraph) GetLevelForCallAddress(address Address) (Level, bool) {
	entries := f.levelForCall
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if entries[mid].Address < address {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(entries) && entries[lo].Address == address {
		return entries[lo].Level, true
	}
	return Level{}, false
}
