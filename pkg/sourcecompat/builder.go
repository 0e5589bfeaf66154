// Package sourcecompat bridges the Go source toolchain into the matching
// engine: it loads Go packages, builds their SSA form, and synthesizes a
// graph.CallGraph from the SSA functions so two versions of Go source can be
// diffed with the exact same matching pipeline used for disassembled
// binaries. Addresses are synthetic (assigned in a stable, sorted order)
// since Go source has no notion of a load address.
package sourcecompat

import (
	"fmt"
	"strings"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// LoadPackages loads the packages matching patterns, rooted at dir, with
// enough information (syntax, types, dependencies) to build SSA from them.
func LoadPackages(dir string, patterns ...string) ([]*packages.Package, error) {
	cfg := &packages.Config{
		Dir: dir,
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedImports | packages.NeedDeps | packages.NeedTypes |
			packages.NeedTypesSizes | packages.NeedSyntax | packages.NeedTypesInfo,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("sourcecompat: loading packages: %w", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		return nil, fmt.Errorf("sourcecompat: one or more packages failed to load")
	}
	return pkgs, nil
}

// BuildSSA constructs SSA form for the given packages and returns the
// program plus the SSA package for the first entry in initialPkgs.
func BuildSSA(initialPkgs []*packages.Package) (*ssa.Program, *ssa.Package, error) {
	if len(initialPkgs) == 0 {
		return nil, nil, fmt.Errorf("sourcecompat: input packages list is empty")
	}

	var errorMessages strings.Builder
	packages.Visit(initialPkgs, nil, func(pkg *packages.Package) {
		for _, e := range pkg.Errors {
			errorMessages.WriteString(e.Error() + "\n")
		}
	})

	mode := ssa.InstantiateGenerics
	prog, pkgs := ssautil.AllPackages(initialPkgs, mode)
	if prog == nil {
		return nil, nil, fmt.Errorf("sourcecompat: failed to initialize SSA program builder")
	}

	for _, p := range initialPkgs {
		if ssaPkg := prog.Package(p.Types); ssaPkg != nil {
			ssaPkg.Build()
		}
	}

	mainPkg := initialPkgs[0]
	var ssaPkg *ssa.Package
	if len(pkgs) > 0 && pkgs[0] != nil {
		ssaPkg = pkgs[0]
	}
	if ssaPkg == nil && mainPkg.Types != nil {
		ssaPkg = prog.Package(mainPkg.Types)
	}
	if ssaPkg == nil {
		if errorMessages.Len() > 0 {
			return nil, nil, fmt.Errorf("sourcecompat: could not find main SSA package for %s (packages contain errors: %s)", mainPkg.ID, strings.TrimSpace(errorMessages.String()))
		}
		return nil, nil, fmt.Errorf("sourcecompat: could not find main SSA package for %s", mainPkg.ID)
	}

	return prog, ssaPkg, nil
}
