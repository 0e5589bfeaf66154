// Package bderrors defines the sentinel error kinds the matching engine
// distinguishes: malformed input, internal inconsistency, resource
// exhaustion, soft (non-fatal) signature collisions, and cooperative
// cancellation. Call sites wrap these with fmt.Errorf's %w verb rather than
// reaching for a custom error-kind framework, matching how the teacher
// reports failures throughout pkg/storage and pkg/diff.
package bderrors

import "errors"

// ErrMalformedInput means the ingestion input did not conform to the
// expected shape (missing required fields, addresses out of range, a
// basic block with no instructions, etc.) and parsing cannot continue.
var ErrMalformedInput = errors.New("bindiff: malformed input")

// ErrInconsistent means the input, or state built from it, violates a
// cross-reference invariant the rest of the engine relies on (e.g. an edge
// referencing a vertex index outside the flow graph, a call to an address
// that is not a known function, or an entry point that is not one of the
// function's basic blocks). Ingestion returns it for such input.
var ErrInconsistent = errors.New("bindiff: inconsistent internal state")

// ErrResourceExhausted means a configured resource budget (parallelism,
// memory, candidate set size) was exceeded and the matching run gave up
// on the offending unit of work rather than continue unboundedly.
var ErrResourceExhausted = errors.New("bindiff: resource exhausted")

// ErrCancelled means the caller's context was cancelled or timed out
// before matching completed.
var ErrCancelled = errors.New("bindiff: matching run cancelled")

// Collision is not a failure: it records a soft, non-fatal event (most
// commonly, two distinct mnemonics hashing to the same prime signature)
// that callers log and continue past. It implements error only so it can
// be threaded through the same reporting paths as real failures when a
// caller wants to collect every diagnostic a run produced.
type Collision struct {
	Prime        uint32
	FirstSeen    string
	SecondSeen   string
}

func (c *Collision) Error() string {
	return "bindiff: prime signature collision between mnemonics"
}
