// Command bindiff-fixture decodes the .text section of a real x86-64 ELF
// binary into the disassembly-export JSON shape pkg/ingest consumes,
// letting the matching engine be exercised against real machine code
// instead of synthetic instruction streams in integration tests.
package main

import (
	"debug/elf"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"github.com/AliverAnme/bindiff/pkg/ingest"
	"github.com/AliverAnme/bindiff/pkg/ingest/disasm"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	var (
		inPath  = flag.String("elf", "", "path to the input ELF binary (required)")
		outPath = flag.String("out", "", "output path for the ingestion JSON (default: stdout)")
		binName = flag.String("name", "", "binary name recorded in the export (default: the -elf path as given)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `bindiff-fixture - decode an ELF binary's .text section into ingestion JSON

Usage:
  bindiff-fixture -elf <path> [-out <path>] [-name <binary-name>]
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *inPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *binName == "" {
		*binName = *inPath
	}

	file, err := buildFixture(*inPath, *binName)
	if err != nil {
		log.Error().Err(err).Str("elf", *inPath).Msg("bindiff-fixture: decoding failed")
		os.Exit(1)
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Error().Err(err).Str("out", *outPath).Msg("bindiff-fixture: creating output file failed")
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(file); err != nil {
		log.Error().Err(err).Msg("bindiff-fixture: writing ingestion JSON failed")
		os.Exit(1)
	}

	log.Info().Int("functions", len(file.Functions)).Str("binary", file.BinaryName).Msg("bindiff-fixture: done")
}

func buildFixture(elfPath, binaryName string) (*ingest.File, error) {
	f, err := elf.Open(elfPath)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", elfPath, err)
	}
	defer f.Close()

	if f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("unsupported ELF machine %s (only EM_X86_64 is supported)", f.Machine)
	}

	text := f.Section(".text")
	if text == nil {
		return nil, fmt.Errorf("no .text section in %q", elfPath)
	}
	code, err := text.Data()
	if err != nil {
		return nil, fmt.Errorf("reading .text section: %w", err)
	}

	syms, err := f.Symbols()
	if err != nil {
		return nil, fmt.Errorf("reading symbol table: %w", err)
	}

	funcSyms := functionSymbols(syms, text)
	if len(funcSyms) == 0 {
		return nil, fmt.Errorf(".text section has no FUNC symbols to decode")
	}

	file := &ingest.File{BinaryName: binaryName}
	for i, sym := range funcSyms {
		start := sym.Value - text.Addr
		end := uint64(len(code))
		if i+1 < len(funcSyms) {
			end = funcSyms[i+1].Value - text.Addr
		}
		if sym.Size > 0 && start+sym.Size < end {
			end = start + sym.Size
		}
		if start >= uint64(len(code)) || start >= end {
			continue
		}

		decoded := disasm.DecodeFunction(code[start:end], sym.Value)
		file.Functions = append(file.Functions, toWireFunction(sym.Name, decoded))
	}

	return file, nil
}

// functionSymbols returns every STT_FUNC symbol inside text, sorted by
// address, so consecutive entries bound each other's decode range.
func functionSymbols(syms []elf.Symbol, text *elf.Section) []elf.Symbol {
	var out []elf.Symbol
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		if s.Value < text.Addr || s.Value >= text.Addr+text.Size {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

func toWireFunction(name string, fn disasm.Function) ingest.Function {
	wf := ingest.Function{
		Address: fn.EntryAddress,
		Name:    name,
		Calls:   fn.Calls,
	}
	if len(fn.Blocks) == 0 {
		return wf
	}

	fg := &ingest.FlowGraph{}
	for _, b := range fn.Blocks {
		wb := ingest.BasicBlock{Address: b.Address}
		for _, insn := range b.Instructions {
			wb.Instructions = append(wb.Instructions, ingest.Instruction{
				Address:     insn.Address,
				Mnemonic:    insn.Mnemonic,
				IsCall:      insn.IsCall,
				CallTargets: insn.CallTargets,
			})
		}
		for _, succ := range b.Successors {
			wb.Successors = append(wb.Successors, ingest.Successor{
				TargetAddress: succ.TargetAddress,
				Kind:          succ.Kind,
			})
		}
		fg.BasicBlocks = append(fg.BasicBlocks, wb)
	}
	wf.FlowGraph = fg
	return wf
}
