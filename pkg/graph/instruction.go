package graph

import (
	"fmt"
	"sync"
)

// Instruction is a single decoded machine instruction inside a basic block.
// Prime is the polynomial hash of the mnemonic (see pkg/primesig); Features
// carries per-instruction flag bits, of which the one defined is
// CallInstructionFeature, set on call instructions.
type Instruction struct {
	Address  Address
	Mnemonic string
	Prime    uint32
	Features uint32
}

// InstructionCache is a run-scoped, concurrency-safe mapping from prime
// signature to the mnemonic that produced it. It is write-once per key:
// the first mnemonic recorded for a given prime wins, and later collisions
// are logged rather than treated as fatal, mirroring the original
// implementation's tolerance for stripped-mnemonic exports (VxClass space
// optimization omits mnemonic strings entirely in some exports).
type InstructionCache struct {
	entries sync.Map // uint32 -> string

	mu        sync.Mutex
	collision func(prime uint32, have, got string)
}

// NewInstructionCache returns an empty cache. onCollision, if non-nil, is
// invoked whenever two distinct non-empty mnemonics map to the same prime;
// it is purely diagnostic and never changes the stored mapping.
func NewInstructionCache(onCollision func(prime uint32, have, got string)) *InstructionCache {
	return &InstructionCache{collision: onCollision}
}

// Put records mnemonic for prime if no mnemonic has been recorded for that
// prime yet. Returns the mnemonic that is now authoritative for prime
// (either the one just stored, or the one that already existed).
func (c *InstructionCache) Put(prime uint32, mnemonic string) string {
	actual, loaded := c.entries.LoadOrStore(prime, mnemonic)
	existing := actual.(string)
	if loaded && existing != "" && mnemonic != "" && existing != mnemonic {
		if c.collision != nil {
			c.collision(prime, existing, mnemonic)
		}
	}
	return existing
}

// Mnemonic returns the mnemonic recorded for prime, or "" if none.
func (c *InstructionCache) Mnemonic(prime uint32) string {
	v, ok := c.entries.Load(prime)
	if !ok {
		return ""
	}
	return v.(string)
}

// NewInstruction builds an Instruction, registering its mnemonic in cache.
// cache must not be nil: every instruction must be attributable to some
// mnemonic string for rendering diagnostics, even if that string is empty.
func NewInstruction(cache *InstructionCache, address Address, mnemonic string, prime uint32, features uint32) Instruction {
	if cache == nil {
		panic("graph: NewInstruction requires a non-nil InstructionCache")
	}
	cache.Put(prime, mnemonic)
	return Instruction{Address: address, Mnemonic: mnemonic, Prime: prime, Features: features}
}

func (i Instruction) String() string {
	return fmt.Sprintf("%#x: %s", uint64(i.Address), i.Mnemonic)
}
