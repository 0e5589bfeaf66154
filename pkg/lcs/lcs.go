// Package lcs implements Hirschberg's divide-and-conquer longest common
// subsequence algorithm over sequences of instruction prime signatures:
// O(|y|) memory per recursive call instead of the O(|x|*|y|) a naive DP
// table would need, which matters because this runs once per matched
// basic block pair and basic blocks can be large.
package lcs

// Match is one element of the LCS: the index into x and the index into y
// of a pair of equal elements that appear, in order, in both sequences.
type Match struct {
	X, Y int
}

// Compute returns the longest common subsequence of x and y as a list of
// index pairs, in increasing order of both X and Y. Equal elements are
// compared with ==, matching the original's use of prime signature
// equality rather than full instruction equality.
func Compute(x, y []uint32) []Match {
	var matches []Match
	compute(x, 0, len(x), y, 0, len(y), &matches)
	return matches
}

// compute mirrors the original's two-phase wrapper: strip any common
// prefix and suffix (cheap, and the common case for basic blocks that
// mostly agree), then divide-and-conquer on what's left.
func compute(x []uint32, xlo, xhi int, y []uint32, ylo, yhi int, out *[]Match) {
	if xlo == xhi || ylo == yhi {
		return
	}

	start1, start2 := xlo, ylo
	for start1 < xhi && start2 < yhi && x[start1] == y[start2] {
		*out = append(*out, Match{start1, start2})
		start1++
		start2++
	}
	if start1 == xhi || start2 == yhi {
		return
	}

	rstart1, rstart2 := xhi-1, yhi-1
	for rstart1 > start1 && rstart2 > start2 && x[rstart1] == y[rstart2] {
		rstart1--
		rstart2--
	}
	rstart1++
	rstart2++

	computeCore(x, start1, rstart1, y, start2, rstart2, out)

	for ; rstart1 < xhi && rstart2 < yhi; rstart1, rstart2 = rstart1+1, rstart2+1 {
		*out = append(*out, Match{rstart1, rstart2})
	}
}

// computeCore is the actual Hirschberg recursion: base cases for an empty
// or single-element x range, otherwise split x in half and find the
// optimal split point in y using two LCS-length passes (forward from the
// low end, backward from the high end).
func computeCore(x []uint32, xlo, xhi int, y []uint32, ylo, yhi int, out *[]Match) {
	nx := xhi - xlo
	switch {
	case nx == 0:
		return
	case nx == 1:
		for j := ylo; j < yhi; j++ {
			if y[j] == x[xlo] {
				*out = append(*out, Match{xlo, j})
				return
			}
		}
		return
	}

	xmid := xlo + nx/2

	forward := lcsLens(x[xlo:xmid], y[ylo:yhi])
	backward := lcsLensReversed(x[xmid:xhi], y[ylo:yhi])

	// Find the split point in y that maximizes forward[i] + backward[i],
	// keeping the EARLIEST such split: the loop only updates on a strict
	// ">" comparison, which is load-bearing for result determinism when
	// multiple splits tie (see DESIGN.md's Open Question ledger).
	lmax := -1
	ymid := ylo
	for i := 0; i <= yhi-ylo; i++ {
		b := forward[i]
		e := backward[len(backward)-1-i]
		if b+e > lmax {
			lmax = b + e
			ymid = ylo + i
		}
	}

	computeCore(x, xlo, xmid, y, ylo, ymid, out)
	computeCore(x, xmid, xhi, y, ymid, yhi, out)
}

// lcsLens computes, for every prefix length j of y (0..len(y)), the LCS
// length of the full x against y[:j], using the standard two-row DP so we
// never materialize the full |x|*|y| table.
func lcsLens(x, y []uint32) []int {
	curr := make([]int, len(y)+1)
	prev := make([]int, len(y)+1)
	for _, xv := range x {
		prev, curr = curr, prev
		for j, yv := range y {
			if xv == yv {
				curr[j+1] = prev[j] + 1
			} else if curr[j] > prev[j+1] {
				curr[j+1] = curr[j]
			} else {
				curr[j+1] = prev[j+1]
			}
		}
	}
	return curr
}

// lcsLensReversed computes, for every j in 0..len(y), the LCS length of
// the whole of x against the LAST j elements of y (as opposed to lcsLens,
// which measures against the FIRST j elements). Running lcsLens over both
// sequences reversed and noting that LCS is invariant under reversing
// both arguments gives exactly this, with no extra index flip needed:
// lcsLens(reverse(x), reverse(y))[j] == LCS(x, last j elements of y).
func lcsLensReversed(x, y []uint32) []int {
	return lcsLens(reversed(x), reversed(y))
}

func reversed(s []uint32) []uint32 {
	out := make([]uint32, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
