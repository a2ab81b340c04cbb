package scan

import (
	"cmp"
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/tools/go/callgraph/rta"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/715d/paranoia/pkg/paranoia"
)

// CallSite kinds.
const (
	KindCall = "call" // static call, go or defer
	KindRef  = "ref"  // function value taken
	KindAsm  = "asm"  // call from an assembly file
)

// CallSite is a reference to the marker found in source.
type CallSite struct {
	// Caller is the fully qualified name of the enclosing function.
	Caller   string         `json:"caller"`
	Position token.Position `json:"position"`
	Kind     string         `json:"kind"`

	// Reachable is true if the enclosing function is reachable from an
	// entry point.
	Reachable bool `json:"reachable"`

	// Live is false if the reference sits in a block only entered through a
	// constant-false condition, which the compiler removes.
	Live bool `json:"live"`

	// Directive is set when the enclosing function is kept by a directive.
	Directive string `json:"directive,omitempty"`
}

// Retained reports whether this site keeps the marker in the binary.
func (c CallSite) Retained() bool {
	return c.Reachable && c.Live
}

// Report is the result of a scan.
type Report struct {
	Symbol string `json:"symbol"`

	// Retained predicts whether the linker keeps the marker.
	Retained bool `json:"retained"`

	// Roots are the entry points reachability was computed from.
	Roots []string `json:"roots"`

	CallSites []CallSite `json:"call_sites"`

	// Warnings about the marker's own declaration.
	Warnings []string `json:"warnings,omitempty"`
}

// ScannerOptions holds configuration options for the scanner.
type ScannerOptions struct {
	// Symbol is the fully qualified marker name. Defaults to paranoia.Symbol.
	Symbol string
}

// Scanner locates marker references and predicts their survival using
// Rapid Type Analysis over the SSA form of the program.
type Scanner struct {
	opts ScannerOptions
}

// NewScanner creates a new scanner with the given options.
func NewScanner(opts ScannerOptions) *Scanner {
	if opts.Symbol == "" {
		opts.Symbol = paranoia.Symbol
	}
	return &Scanner{opts: opts}
}

// Scan analyzes the given packages. At least one of them must be a main
// package; its main and init functions are the entry points.
func (s *Scanner) Scan(pkgs []*packages.Package) (*Report, error) {
	if len(pkgs) == 0 {
		return nil, errors.New("no packages provided")
	}
	valid := slices.DeleteFunc(slices.Clone(pkgs), func(p *packages.Package) bool { return p == nil })
	if len(valid) == 0 {
		return nil, errors.New("no valid packages provided")
	}

	prog, ssaPkgs := ssautil.AllPackages(valid, ssa.InstantiateGenerics)
	prog.Build()

	mains := ssautil.MainPackages(ssaPkgs)
	if len(mains) == 0 {
		return nil, errors.New("no main packages")
	}

	var roots []*ssa.Function
	for _, mainPkg := range mains {
		roots = append(roots, mainPkg.Func("main"), mainPkg.Func("init"))
	}

	// Functions kept alive by directives are entry points as far as the
	// linker is concerned.
	decls := collectDecls(prog, valid)
	for fn, d := range decls.directives {
		if rootDirective(d) != DirectiveNone {
			roots = append(roots, fn)
		}
	}

	slog.Debug("computing reachability", "roots", len(roots))
	reachable := reachability(roots)

	report := &Report{Symbol: s.opts.Symbol}
	for _, root := range roots {
		report.Roots = append(report.Roots, root.String())
	}
	slices.Sort(report.Roots)
	report.Roots = slices.Compact(report.Roots)

	isReachable := func(fn *ssa.Function) bool {
		return reachable[fn]
	}

	for fn := range ssautil.AllFunctions(prog) {
		if fn.String() == s.opts.Symbol {
			report.Warnings = append(report.Warnings, markerWarnings(decls.directives[fn])...)
		}
		for _, site := range s.functionSites(prog.Fset, fn) {
			site.Reachable = isReachable(fn)
			if d := rootDirective(decls.directives[declOf(fn)]); d != DirectiveNone {
				site.Directive = d.String()
			}
			report.CallSites = append(report.CallSites, site)
		}
	}

	asmSites, err := s.assemblySites(prog, valid, isReachable)
	if err != nil {
		return nil, err
	}
	report.CallSites = append(report.CallSites, asmSites...)

	report.CallSites = dedupeSites(report.CallSites)
	for _, site := range report.CallSites {
		if site.Retained() {
			report.Retained = true
			break
		}
	}

	slog.Debug("scan complete", "symbol", s.opts.Symbol, "call_sites", len(report.CallSites), "retained", report.Retained)
	return report, nil
}

// reachability returns the functions reachable from roots through live
// blocks only: a call behind a constant-false condition is compiled away, so
// its callee is not kept on that call's account. Dynamic calls are resolved
// to the targets rapid type analysis finds for them.
func reachability(roots []*ssa.Function) map[*ssa.Function]bool {
	res := rta.Analyze(roots, true)
	dynamic := make(map[ssa.CallInstruction][]*ssa.Function)
	for _, node := range res.CallGraph.Nodes {
		for _, edge := range node.Out {
			if edge.Site != nil && edge.Site.Common().StaticCallee() == nil {
				dynamic[edge.Site] = append(dynamic[edge.Site], edge.Callee.Func)
			}
		}
	}

	reachable := make(map[*ssa.Function]bool)
	var queue []*ssa.Function
	visit := func(fn *ssa.Function) {
		if fn != nil && !reachable[fn] {
			reachable[fn] = true
			queue = append(queue, fn)
		}
	}
	for _, root := range roots {
		visit(root)
	}

	for len(queue) > 0 {
		fn := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		live := liveBlocks(fn)
		for _, block := range fn.Blocks {
			if !live[block] {
				continue
			}
			for _, instr := range block.Instrs {
				if call, ok := instr.(ssa.CallInstruction); ok {
					visit(call.Common().StaticCallee())
					for _, callee := range dynamic[call] {
						visit(callee)
					}
				}
				// Function values: closures, method values, callbacks.
				for _, op := range instr.Operands(nil) {
					if op == nil {
						continue
					}
					if f, ok := (*op).(*ssa.Function); ok {
						visit(f)
					}
				}
			}
		}
	}
	return reachable
}

// functionSites returns every reference to the marker inside fn.
func (s *Scanner) functionSites(fset *token.FileSet, fn *ssa.Function) []CallSite {
	var (
		sites []CallSite
		live  = liveBlocks(fn)
	)

	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			kind := ""
			if call, ok := instr.(ssa.CallInstruction); ok {
				if callee := call.Common().StaticCallee(); callee != nil && callee.String() == s.opts.Symbol {
					kind = KindCall
				}
			}
			if kind == "" && s.referencesMarker(instr) {
				kind = KindRef
			}
			if kind == "" {
				continue
			}

			pos := instr.Pos()
			if !pos.IsValid() {
				pos = fn.Pos()
			}
			sites = append(sites, CallSite{
				Caller:   fn.String(),
				Position: fset.Position(pos),
				Kind:     kind,
				Live:     live[block],
			})
		}
	}
	return sites
}

// referencesMarker reports whether instr uses the marker as a value rather
// than calling it directly.
func (s *Scanner) referencesMarker(instr ssa.Instruction) bool {
	var operands []*ssa.Value
	if call, ok := instr.(ssa.CallInstruction); ok {
		// The callee operand of a static call is not a reference.
		operands = make([]*ssa.Value, 0, len(call.Common().Args))
		for i := range call.Common().Args {
			operands = append(operands, &call.Common().Args[i])
		}
	} else {
		operands = instr.Operands(nil)
	}

	for _, op := range operands {
		if op == nil || *op == nil {
			continue
		}
		if fn, ok := (*op).(*ssa.Function); ok && fn.String() == s.opts.Symbol {
			return true
		}
	}
	return false
}

// liveBlocks returns the blocks of fn reachable from its entry when
// branches on constant conditions only follow the taken edge.
func liveBlocks(fn *ssa.Function) map[*ssa.BasicBlock]bool {
	live := make(map[*ssa.BasicBlock]bool, len(fn.Blocks))
	if len(fn.Blocks) == 0 {
		return live
	}

	stack := []*ssa.BasicBlock{fn.Blocks[0]}
	if fn.Recover != nil {
		stack = append(stack, fn.Recover)
	}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if live[b] {
			continue
		}
		live[b] = true

		succs := b.Succs
		if len(b.Instrs) > 0 {
			if branch, ok := b.Instrs[len(b.Instrs)-1].(*ssa.If); ok && len(succs) == 2 {
				if c, ok := branch.Cond.(*ssa.Const); ok && c.Value != nil && c.Value.Kind() == constant.Bool {
					if constant.BoolVal(c.Value) {
						succs = succs[:1]
					} else {
						succs = succs[1:]
					}
				}
			}
		}
		stack = append(stack, succs...)
	}
	return live
}

// assemblySites finds marker calls in assembly files. Reachability is that
// of the Go declaration of the enclosing TEXT symbol.
func (s *Scanner) assemblySites(prog *ssa.Program, pkgs []*packages.Package, isReachable func(*ssa.Function) bool) ([]CallSite, error) {
	var (
		sites []CallSite
		errs  []error
	)
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		if !isUserPackage(pkg) {
			return
		}
		calls, err := scanAssembly(pkg)
		if err != nil {
			errs = append(errs, err)
			return
		}
		for _, call := range calls {
			if call.Target != s.opts.Symbol {
				continue
			}
			site := CallSite{
				Caller:   pkg.PkgPath + "." + call.Caller,
				Position: token.Position{Filename: call.File, Line: call.Line},
				Kind:     KindAsm,
				Live:     true,
			}
			if fn := asmStub(prog, pkg, call.Caller); fn != nil {
				site.Reachable = isReachable(fn)
			} else {
				// No Go declaration to trace; assume the linker keeps it.
				site.Reachable = true
			}
			sites = append(sites, site)
		}
	})
	if len(errs) > 0 {
		return nil, fmt.Errorf("scanning assembly: %w", errors.Join(errs...))
	}
	return sites, nil
}

// asmStub returns the SSA function for the Go declaration of an assembly
// TEXT symbol, if one exists.
func asmStub(prog *ssa.Program, pkg *packages.Package, name string) *ssa.Function {
	if pkg.Types == nil {
		return nil
	}
	fn, ok := pkg.Types.Scope().Lookup(name).(*types.Func)
	if !ok {
		return nil
	}
	return prog.FuncValue(fn)
}

type declInfo struct {
	directives map[*ssa.Function][]DirectiveType
}

// collectDecls maps the SSA function of every declaration carrying
// directives to those directives.
func collectDecls(prog *ssa.Program, pkgs []*packages.Package) declInfo {
	info := declInfo{directives: make(map[*ssa.Function][]DirectiveType)}
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		if pkg.TypesInfo == nil || !isUserPackage(pkg) {
			return
		}
		for _, file := range pkg.Syntax {
			for _, decl := range file.Decls {
				fd, ok := decl.(*ast.FuncDecl)
				if !ok || fd.Name == nil {
					continue
				}
				ds := FuncDirectives(fd)
				if len(ds) == 0 {
					continue
				}
				obj, ok := pkg.TypesInfo.Defs[fd.Name].(*types.Func)
				if !ok {
					continue
				}
				if fn := prog.FuncValue(obj); fn != nil {
					info.directives[fn] = ds
				}
			}
		}
	})
	return info
}

// declOf returns the top-level function enclosing an anonymous function.
func declOf(fn *ssa.Function) *ssa.Function {
	for fn.Parent() != nil {
		fn = fn.Parent()
	}
	return fn
}

func rootDirective(ds []DirectiveType) DirectiveType {
	for _, d := range ds {
		if d.IsRoot() {
			return d
		}
	}
	return DirectiveNone
}

func markerWarnings(ds []DirectiveType) []string {
	var warnings []string
	if !slices.Contains(ds, DirectiveNoinline) {
		warnings = append(warnings, "marker is not marked //go:noinline; inlined calls leave no symbol behind")
	}
	if d := rootDirective(ds); d != DirectiveNone {
		warnings = append(warnings, fmt.Sprintf("marker carries //%s, which keeps it in every binary", d))
	}
	return warnings
}

// dedupeSites removes sites reported more than once, which happens when test
// variants of a package are loaded alongside it. A site is retained if any
// single copy of it is retained.
func dedupeSites(sites []CallSite) []CallSite {
	byKey := make(map[string]int, len(sites))
	var out []CallSite
	for _, site := range sites {
		key := fmt.Sprintf("%s|%s|%s", site.Position, site.Kind, site.Caller)
		if i, ok := byKey[key]; ok {
			if site.Retained() && !out[i].Retained() {
				out[i] = site
			}
			continue
		}
		byKey[key] = len(out)
		out = append(out, site)
	}

	slices.SortFunc(out, func(a, b CallSite) int {
		return cmp.Or(
			strings.Compare(a.Position.Filename, b.Position.Filename),
			cmp.Compare(a.Position.Line, b.Position.Line),
			cmp.Compare(a.Position.Column, b.Position.Column),
			strings.Compare(a.Kind, b.Kind),
		)
	})
	return out
}
