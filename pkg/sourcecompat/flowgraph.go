package sourcecompat

import (
	"fmt"
	"go/constant"
	"hash/fnv"
	"sort"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/AliverAnme/bindiff/pkg/graph"
	"github.com/AliverAnme/bindiff/pkg/primesig"
	"github.com/AliverAnme/bindiff/pkg/topology"
)

// BuildCallGraph synthesizes a graph.CallGraph from every function defined
// in pkg (not its dependencies), assigning each function and basic block a
// stable synthetic address derived purely from sort order, so that the same
// Go source loaded twice in a row always produces identical addresses. cache
// is shared with any binary-side ingestion happening in the same run, the
// same way ingest.Decode shares one InstructionCache across both sides of a
// diff.
func BuildCallGraph(pkg *ssa.Package, cache *graph.InstructionCache) (*graph.CallGraph, error) {
	if pkg == nil {
		return nil, fmt.Errorf("sourcecompat: nil SSA package")
	}

	fns := packageFunctions(pkg)
	sort.Slice(fns, func(i, j int) bool { return qualifiedName(fns[i]) < qualifiedName(fns[j]) })

	vertices := make([]graph.CallGraphVertex, len(fns))
	addressOf := make(map[*ssa.Function]graph.Address, len(fns))
	for i, fn := range fns {
		addr := graph.Address(i + 1)
		addressOf[fn] = addr
		vertices[i] = graph.CallGraphVertex{
			Address:       addr,
			Name:          qualifiedName(fn),
			DemangledName: fn.Name(),
			IsLibrary:     fn.Pkg == nil,
		}
	}

	var edges []graph.CallGraphEdge
	for i, fn := range fns {
		for _, callee := range calledFunctions(fn) {
			if j, ok := indexOf(addressOf, callee); ok {
				edges = append(edges, graph.CallGraphEdge{Source: i, Target: j})
			}
		}
	}

	for i, fn := range fns {
		if len(fn.Blocks) == 0 {
			continue
		}
		fg, err := buildFlowGraph(addressOf[fn], fn, addressOf, cache)
		if err != nil {
			return nil, fmt.Errorf("sourcecompat: function %s: %w", qualifiedName(fn), err)
		}
		vertices[i].FlowGraph = fg
	}

	return graph.NewCallGraph(vertices, edges)
}

// packageFunctions returns every *ssa.Function defined directly in pkg,
// including package-level methods and their anonymous closures, but
// excluding imported and synthetic functions (such as the package
// initializer).
func packageFunctions(pkg *ssa.Package) []*ssa.Function {
	var fns []*ssa.Function
	for _, member := range pkg.Members {
		if fn, ok := member.(*ssa.Function); ok && fn.Synthetic == "" {
			fns = append(fns, fn)
			fns = append(fns, anonymousFuncs(fn)...)
		}
	}
	for fn := range ssautil.AllFunctions(pkg.Prog) {
		if fn.Pkg == pkg && fn.Synthetic == "" && fn.Parent() == nil {
			found := false
			for _, existing := range fns {
				if existing == fn {
					found = true
					break
				}
			}
			if !found {
				fns = append(fns, fn)
				fns = append(fns, anonymousFuncs(fn)...)
			}
		}
	}
	return fns
}

// qualifiedName formats fn as "pkg.Name", or "pkg.Name$N" for anonymous
// closures (N being their position in AnonFuncs), mirroring the teacher's
// own extractFunctionSig naming in pkg/analysis/topology/topology.go.
func qualifiedName(fn *ssa.Function) string {
	if parent := fn.Parent(); parent != nil {
		for i, anon := range parent.AnonFuncs {
			if anon == fn {
				return fmt.Sprintf("%s$%d", qualifiedName(parent), i+1)
			}
		}
	}
	if fn.Pkg != nil && fn.Pkg.Pkg != nil {
		return fmt.Sprintf("%s.%s", fn.Pkg.Pkg.Name(), fn.Name())
	}
	return fn.Name()
}

func anonymousFuncs(fn *ssa.Function) []*ssa.Function {
	var out []*ssa.Function
	for _, anon := range fn.AnonFuncs {
		out = append(out, anon)
		out = append(out, anonymousFuncs(anon)...)
	}
	return out
}

func calledFunctions(fn *ssa.Function) []*ssa.Function {
	var out []*ssa.Function
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if callee := calleeOf(instr); callee != nil {
				out = append(out, callee)
			}
		}
	}
	return out
}

func calleeOf(instr ssa.Instruction) *ssa.Function {
	var call ssa.CallCommon
	switch i := instr.(type) {
	case *ssa.Call:
		call = i.Call
	case *ssa.Go:
		call = i.Call
	case *ssa.Defer:
		call = i.Call
	default:
		return nil
	}
	if call.IsInvoke() {
		return nil
	}
	switch v := call.Value.(type) {
	case *ssa.Function:
		return v
	case *ssa.MakeClosure:
		if fn, ok := v.Fn.(*ssa.Function); ok {
			return fn
		}
	}
	return nil
}

func indexOf(addressOf map[*ssa.Function]graph.Address, fn *ssa.Function) (int, bool) {
	addr, ok := addressOf[fn]
	if !ok {
		return 0, false
	}
	return int(addr) - 1, true
}

func buildFlowGraph(entry graph.Address, fn *ssa.Function, addressOf map[*ssa.Function]graph.Address, cache *graph.InstructionCache) (*graph.FlowGraph, error) {
	blocks := fn.Blocks

	var instructions []graph.Instruction
	var callTargets []graph.Address
	vertices := make([]graph.BasicBlock, len(blocks))

	for i, b := range blocks {
		instrStart := len(instructions)
		callStart := len(callTargets)
		var primes []uint32
		var byteHashInput []byte
		var stringHashInput []byte

		for _, instr := range b.Instrs {
			mnemonic := instructionMnemonic(instr)
			prime := primesig.GetPrime(mnemonic)
			var features uint32

			if callee := calleeOf(instr); callee != nil {
				features |= graph.CallInstructionFeature
				if addr, ok := addressOf[callee]; ok {
					callTargets = append(callTargets, addr)
				}
			}

			instructions = append(instructions, graph.NewInstruction(cache, graph.Address(len(instructions)), mnemonic, prime, features))
			primes = append(primes, prime)
			byteHashInput = append(byteHashInput, []byte(mnemonic)...)
			if lit := stringConstOperand(instr); lit != "" {
				stringHashInput = append(stringHashInput, []byte(lit)...)
			}
		}

		vertices[i] = graph.BasicBlock{
			Address:          graph.Address(i),
			Prime:            primesig.ProductSeq(primes),
			Hash:             fnv32(byteHashInput),
			StringHash:       fnv32(stringHashInput),
			InstructionStart: instrStart,
			InstructionCount: len(instructions) - instrStart,
			CallTargetStart:  callStart,
			CallTargetCount:  len(callTargets) - callStart,
		}
	}

	var edges []graph.Edge
	for i, b := range blocks {
		for si, succ := range b.Succs {
			edges = append(edges, graph.Edge{Source: i, Target: succ.Index, Flags: successorFlags(b, si)})
		}
	}

	fg, err := graph.NewFlowGraph(entry, vertices, edges, instructions, callTargets)
	if err != nil {
		return nil, err
	}

	allPrimes := make([]uint32, len(instructions))
	for i, insn := range instructions {
		allPrimes[i] = insn.Prime
	}
	var allStringBytes []byte
	for _, b := range blocks {
		for _, instr := range b.Instrs {
			if lit := stringConstOperand(instr); lit != "" {
				allStringBytes = append(allStringBytes, []byte(lit)...)
			}
		}
	}
	fg.SetPrime(primesig.ProductSeq(allPrimes))
	fg.SetStringReferences(fnv32(allStringBytes))
	fg.SetByteHash(fnv32(byteHashOfAllInstructions(blocks)))
	fg.CalculateCallLevels()

	topology.CalculateTopology(fg)
	topology.MarkLoops(fg)

	return fg, nil
}

// instructionMnemonic derives a mnemonic-like string from an SSA
// instruction, mirroring how ingest derives one from a disassembled
// instruction's opcode: it only needs to be a stable, comparable label, not
// a faithful rendition of Go syntax.
func instructionMnemonic(instr ssa.Instruction) string {
	switch i := instr.(type) {
	case *ssa.BinOp:
		return "binop:" + i.Op.String()
	case *ssa.UnOp:
		return "unop:" + i.Op.String()
	case *ssa.Call:
		return "call"
	case *ssa.Go:
		return "go"
	case *ssa.Defer:
		return "defer"
	case *ssa.If:
		return "if"
	case *ssa.Jump:
		return "jump"
	case *ssa.Return:
		return "return"
	case *ssa.Panic:
		return "panic"
	case *ssa.Select:
		return "select"
	case *ssa.Range:
		return "range"
	case *ssa.Next:
		return "next"
	case *ssa.Phi:
		return "phi"
	case *ssa.MakeClosure:
		return "makeclosure"
	case *ssa.MakeMap:
		return "makemap"
	case *ssa.MakeSlice:
		return "makeslice"
	case *ssa.MakeChan:
		return "makechan"
	case *ssa.MakeInterface:
		return "makeinterface"
	case *ssa.Alloc:
		return "alloc"
	case *ssa.Store:
		return "store"
	case *ssa.Field:
		return "field"
	case *ssa.FieldAddr:
		return "fieldaddr"
	case *ssa.Index:
		return "index"
	case *ssa.IndexAddr:
		return "indexaddr"
	case *ssa.Lookup:
		return "lookup"
	case *ssa.Slice:
		return "slice"
	case *ssa.Convert:
		return "convert"
	case *ssa.ChangeType:
		return "changetype"
	case *ssa.ChangeInterface:
		return "changeinterface"
	case *ssa.TypeAssert:
		return "typeassert"
	case *ssa.Extract:
		return "extract"
	case *ssa.Send:
		return "send"
	default:
		return fmt.Sprintf("%T", instr)
	}
}

func stringConstOperand(instr ssa.Instruction) string {
	for _, op := range instr.Operands(nil) {
		if op == nil || *op == nil {
			continue
		}
		if c, ok := (*op).(*ssa.Const); ok && c.Value != nil && c.Value.Kind() == constant.String {
			return constant.StringVal(c.Value)
		}
	}
	return ""
}

func byteHashOfAllInstructions(blocks []*ssa.BasicBlock) []byte {
	var out []byte
	for _, b := range blocks {
		for _, instr := range b.Instrs {
			out = append(out, []byte(instructionMnemonic(instr))...)
		}
	}
	return out
}

// successorFlags classifies an *ssa.BasicBlock's si-th successor edge by
// inspecting the block's control instruction: an *ssa.If's first successor
// is its true branch, second its false branch; anything else is
// unconditional, since SSA doesn't expose switch-style multi-way branches
// directly (those are already lowered to chained Ifs by the SSA builder).
func successorFlags(b *ssa.BasicBlock, si int) uint8 {
	if len(b.Instrs) == 0 {
		return graph.EdgeUnconditional
	}
	if _, ok := b.Instrs[len(b.Instrs)-1].(*ssa.If); ok {
		if si == 0 {
			return graph.EdgeTrue
		}
		return graph.EdgeFalse
	}
	return graph.EdgeUnconditional
}

func fnv32(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write(b)
	return h.Sum32()
}
