// Package graph implements the call graph / flow graph data model shared by
// the matching engine: addresses, instructions, basic blocks, edges and the
// fixed points that record a confirmed match between two binaries.
package graph

import "sort"

// Address is a virtual memory address inside a disassembled binary.
type Address uint64

// IsSorted reports whether addresses is in strictly ascending order, which
// every address-indexed collection in this package relies on for binary
// search.
func IsSorted(addresses []Address) bool {
	for i := 1; i < len(addresses); i++ {
		if addresses[i-1] >= addresses[i] {
			return false
		}
	}
	return true
}

// search returns the index of target in a sorted addresses slice, or -1.
func search(addresses []Address, target Address) int {
	i := sort.Search(len(addresses), func(i int) bool { return addresses[i] >= target })
	if i < len(addresses) && addresses[i] == target {
		return i
	}
	return -1
}
