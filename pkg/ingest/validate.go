package ingest

import (
	"fmt"

	"github.com/AliverAnme/bindiff/pkg/bderrors"
)

// Validate checks a decoded File for the malformed-input conditions
// ingestion must reject before any matching runs: addresses that don't
// line up, structurally empty blocks/functions, and successors or call
// targets that don't resolve to anything in the same export. Decode/Build
// already reject most of these inline as they walk the wire shape; Validate
// exists so callers ingesting a File they didn't get from Decode (e.g. a
// fixture generator double-checking its own output) can run the same
// checks up front.
func Validate(file *File) error {
	if file == nil {
		return fmt.Errorf("ingest: nil file: %w", bderrors.ErrMalformedInput)
	}

	seenFn := make(map[uint64]bool, len(file.Functions))
	for _, fn := range file.Functions {
		if seenFn[fn.Address] {
			return fmt.Errorf("ingest: duplicate function address %#x: %w", fn.Address, bderrors.ErrMalformedInput)
		}
		seenFn[fn.Address] = true

		if fn.Name == "" {
			return fmt.Errorf("ingest: function %#x has no name: %w", fn.Address, bderrors.ErrMalformedInput)
		}

		if fn.FlowGraph != nil {
			if err := validateFlowGraph(fn.Address, fn.FlowGraph); err != nil {
				return fmt.Errorf("ingest: function %#x: %w", fn.Address, err)
			}
		}
	}

	for _, fn := range file.Functions {
		for _, target := range fn.Calls {
			if !seenFn[target] {
				return fmt.Errorf("ingest: function %#x calls unknown address %#x: %w", fn.Address, target, bderrors.ErrInconsistent)
			}
		}
	}

	return nil
}

func validateFlowGraph(entry uint64, fg *FlowGraph) error {
	if len(fg.BasicBlocks) == 0 {
		return fmt.Errorf("flow graph has no basic blocks: %w", bderrors.ErrMalformedInput)
	}

	foundEntry := false
	seenBlock := make(map[uint64]bool, len(fg.BasicBlocks))
	for _, b := range fg.BasicBlocks {
		if seenBlock[b.Address] {
			return fmt.Errorf("duplicate basic block address %#x: %w", b.Address, bderrors.ErrMalformedInput)
		}
		seenBlock[b.Address] = true
		if b.Address == entry {
			foundEntry = true
		}

		if len(b.Instructions) == 0 {
			return fmt.Errorf("basic block %#x has no instructions: %w", b.Address, bderrors.ErrMalformedInput)
		}

		seenInsnAddr := make(map[uint64]bool, len(b.Instructions))
		for _, wi := range b.Instructions {
			if wi.Mnemonic == "" {
				return fmt.Errorf("instruction at %#x has an empty mnemonic: %w", wi.Address, bderrors.ErrMalformedInput)
			}
			if seenInsnAddr[wi.Address] {
				return fmt.Errorf("duplicate instruction address %#x in basic block %#x: %w", wi.Address, b.Address, bderrors.ErrMalformedInput)
			}
			seenInsnAddr[wi.Address] = true
			if wi.Address < b.Address {
				return fmt.Errorf("instruction at %#x precedes its basic block %#x: %w", wi.Address, b.Address, bderrors.ErrInconsistent)
			}
			if !wi.IsCall && len(wi.CallTargets) > 0 {
				return fmt.Errorf("instruction at %#x has call targets but is not marked as a call: %w", wi.Address, bderrors.ErrInconsistent)
			}
		}
	}

	if !foundEntry {
		return fmt.Errorf("entry point %#x is not one of the function's basic blocks: %w", entry, bderrors.ErrInconsistent)
	}

	for _, b := range fg.BasicBlocks {
		for _, succ := range b.Successors {
			if !seenBlock[succ.TargetAddress] {
				return fmt.Errorf("basic block %#x has a successor at unknown address %#x: %w", b.Address, succ.TargetAddress, bderrors.ErrMalformedInput)
			}
			switch succ.Kind {
			case "unconditional", "true", "false", "switch":
			default:
				return fmt.Errorf("basic block %#x has a successor of unknown kind %q: %w", b.Address, succ.Kind, bderrors.ErrMalformedInput)
			}
		}
	}

	return nil
}
