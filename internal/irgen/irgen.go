// Package irgen lowers the typed tree to Cinder IR. It threads a single
// diag.Bag through the whole module so independent functions keep lowering
// after an error; when the bag carries errors the returned module is
// incomplete and must not be verified, optimized, or emitted.
//
// Lowering is deliberately literal. It materializes every variable and
// parameter as a frame slot, plants the implicit division, bounds, and
// match guards, and leaves all cleanup to the pass pipeline.
package irgen

import (
	"errors"
	"fmt"

	"github.com/cinder-lang/cinder/internal/ast"
	"github.com/cinder-lang/cinder/internal/buildcfg"
	"github.com/cinder-lang/cinder/internal/diag"
	"github.com/cinder-lang/cinder/internal/ir"
	"github.com/cinder-lang/cinder/internal/vm"
)

// Diagnostic codes lowering can produce.
const (
	codeNotConst    = "L0001" // expression is not a compile-time constant
	codeUnknownName = "L0002" // unresolved constant or configurable reference
	codeBadConstArg = "L0003" // malformed const-generic argument
	codeIndexRange  = "L0004" // constant index out of bounds
	codeDivZero     = "L0005" // division by a constant zero
	codeInstDepth   = "L0006" // generic instantiation recursion
	codeNeedFeature = "L0007" // disabled language feature
	codeUnknownFn   = "L0008" // call to an unknown function
	codeNoMain      = "L0009" // script without a main entry
	codeEntrySig    = "L0010" // entry function signature constraints
	codeBadAsm      = "L0011" // malformed asm block
	codeLoopCtl     = "L0012" // break or continue outside a loop
	codeBadType     = "L0013" // type that cannot be lowered
	codeNoEntries   = "L0014" // contract without entry functions
)

// maxInstDepth bounds the generic instantiation stack. A program that hits
// it is recursively instantiating itself with ever-larger arguments.
const maxInstDepth = 128

// Generator lowers one module. It is single-use and not safe for
// concurrent use.
type Generator struct {
	src *ast.Module
	cfg *buildcfg.Config
	mod *ir.Module
	bag *diag.Bag

	consts map[string]ir.ConstRef   // module constants, filled in declaration order
	decode map[string]*ir.Function  // per-configurable decode helpers
	decls  map[string]*ast.FuncDecl // source functions by name
	fns    map[string]*ir.Function  // lowered functions by (mangled) name
	depth  int                      // instantiation stack depth
}

// Lower converts a typed module to IR under the given build configuration.
// The returned bag collects every diagnostic; when it has errors the module
// is incomplete.
func Lower(src *ast.Module, cfg *buildcfg.Config) (*ir.Module, *diag.Bag) {
	g := &Generator{
		src:    src,
		cfg:    cfg,
		mod:    ir.NewModule(src.Name, lowerKind(src.Kind)),
		bag:    &diag.Bag{},
		consts: make(map[string]ir.ConstRef),
		decode: make(map[string]*ir.Function),
		decls:  make(map[string]*ast.FuncDecl),
		fns:    make(map[string]*ir.Function),
	}
	for _, fd := range src.Funcs {
		g.decls[fd.Name] = fd
	}
	g.lowerConsts()
	g.lowerConfigs()
	g.checkEntries()
	if g.bag.HasErrors() {
		return g.mod, g.bag
	}

	// Declare every non-generic function before lowering any body, so
	// forward calls and mutual recursion resolve. Generic functions are
	// instantiated on demand at their call sites.
	for _, fd := range src.Funcs {
		if fd.IsGeneric() {
			continue
		}
		f, err := g.declare(fd, fd.Name, nil)
		if err != nil {
			g.bag.Errorf(fd.Span, codeBadType, "function %s: %v", fd.Name, err)
			continue
		}
		g.fns[fd.Name] = f
	}
	for _, fd := range src.Funcs {
		if fd.IsGeneric() {
			continue
		}
		if f := g.fns[fd.Name]; f != nil {
			g.lowerBody(f, fd, nil)
		}
	}
	return g.mod, g.bag
}

func lowerKind(k ast.ModuleKind) ir.ModuleKind {
	switch k {
	case ast.Contract:
		return ir.KindContract
	case ast.Library:
		return ir.KindLibrary
	default:
		return ir.KindScript
	}
}

func lowerHint(h ast.InlineHint) ir.InlineHint {
	switch h {
	case ast.HintAlways:
		return ir.InlineAlways
	case ast.HintNever:
		return ir.InlineNever
	default:
		return ir.InlineDefault
	}
}

// lowerConsts evaluates module constants in declaration order, so each may
// reference the ones before it.
func (g *Generator) lowerConsts() {
	for _, cd := range g.src.Consts {
		ref, err := g.constEval(cd.Value, nil)
		if err != nil {
			g.bag.Errorf(cd.Span, constErrCode(err), "const %s: %v", cd.Name, err)
			continue
		}
		g.consts[cd.Name] = ref
	}
}

func constErrCode(err error) string {
	if errors.Is(err, errDivZero) {
		return codeDivZero
	}
	return codeNotConst
}

// lowerConfigs declares each configurable on the module and synthesizes its
// decode helper. Helper bodies depend only on the declared type, never on
// the configurable's name, so helpers for same-shaped configurables are
// structurally identical and fold together under deduplication.
func (g *Generator) lowerConfigs() {
	for _, cd := range g.src.Configs {
		ty, err := g.lowerType(cd.Ty, nil)
		if err != nil {
			g.bag.Errorf(cd.Span, codeBadType, "configurable %s: %v", cd.Name, err)
			continue
		}
		def, err := g.constEval(cd.Default, nil)
		if err != nil {
			g.bag.Errorf(cd.Span, constErrCode(err), "configurable %s default: %v", cd.Name, err)
			continue
		}
		g.mod.Configs = append(g.mod.Configs, &ir.ConfigDecl{
			Name:    cd.Name,
			Ty:      ty,
			Default: def,
			Span:    cd.Span,
		})
		g.decode[cd.Name] = g.declareDecode(cd.Name, ty)
	}
}

// declareDecode builds the helper that turns a configurable's storage
// pointer into a value of its declared type: a load for register-sized
// types, a copy into a fresh frame slot for everything else.
func (g *Generator) declareDecode(name string, ty ir.Type) *ir.Function {
	ts := g.mod.Types
	ret := ty
	if ts.IsAggregate(ty) {
		ret = ts.Pointer(ty)
	}
	f := g.mod.NewFunction("__decode_"+name, ret)
	// Helpers must survive as functions so same-shaped ones deduplicate;
	// inlining them would copy the body to every use site instead.
	f.Hint = ir.InlineNever
	p := f.Entry().AddParam("raw", ts.Pointer(ty))
	b := ir.NewBuilder(f)
	switch {
	case ty == ir.UnitType:
		b.Ret(b.Unit())
	case ts.IsAggregate(ty):
		out := f.NewLocal("out", ty, true, ir.NoConst)
		dst := b.GetLocal(out)
		b.MemCopyVal(dst, p)
		b.Ret(dst)
	default:
		b.Ret(b.Load(p))
	}
	return f
}

// checkEntries enforces the per-kind entry rules before any lowering: a
// script exposes exactly main, a contract exposes at least one entry, and
// every entry fits the calling convention the dispatcher relies on.
func (g *Generator) checkEntries() {
	entries := 0
	for _, fd := range g.src.Funcs {
		if !fd.IsEntry {
			continue
		}
		entries++
		g.checkEntry(fd)
	}
	switch g.src.Kind {
	case ast.Script:
		main := g.decls["main"]
		if main == nil || !main.IsEntry {
			g.bag.Errorf(g.src.Span, codeNoMain,
				"script %s does not define an entry function main", g.src.Name)
		}
	case ast.Contract:
		if entries == 0 {
			g.bag.Errorf(g.src.Span, codeNoEntries,
				"contract %s declares no entry functions", g.src.Name)
		}
	}
}

func (g *Generator) checkEntry(fd *ast.FuncDecl) {
	if fd.IsGeneric() {
		g.bag.Errorf(fd.Span, codeEntrySig, "entry function %s cannot be generic", fd.Name)
		return
	}
	if len(fd.Params) > vm.NumArgRegs {
		g.bag.Errorf(fd.Span, codeEntrySig,
			"entry function %s has %d parameters; the call convention carries at most %d",
			fd.Name, len(fd.Params), vm.NumArgRegs)
	}
	ts := g.mod.Types
	for _, p := range fd.Params {
		ty, err := g.lowerType(p.Ty, nil)
		if err != nil {
			g.bag.Errorf(p.Span, codeBadType, "parameter %s: %v", p.Name, err)
			continue
		}
		if !ts.IsRegisterSized(ty) {
			g.bag.Errorf(p.Span, codeEntrySig,
				"entry function %s parameter %s is %s; entry parameters must be register-sized",
				fd.Name, p.Name, ts.String(ty))
		}
	}
	ret, err := g.lowerType(fd.Ret, nil)
	if err == nil && !ts.IsRegisterSized(ret) {
		g.bag.Errorf(fd.Span, codeEntrySig,
			"entry function %s returns %s; entry results must be register-sized",
			fd.Name, ts.String(ret))
	}
}

// declare creates the IR shell of a function under the given name:
// signature lowered, entry block parameters added, body still empty.
// Aggregate parameters and results travel as pointers.
func (g *Generator) declare(fd *ast.FuncDecl, name string, su *subst) (*ir.Function, error) {
	ts := g.mod.Types
	ret, err := g.lowerType(fd.Ret, su)
	if err != nil {
		return nil, err
	}
	if ts.IsAggregate(ret) {
		ret = ts.Pointer(ret)
	}
	f := g.mod.NewFunction(name, ret)
	f.Hint = lowerHint(fd.Hint)
	f.IsEntry = fd.IsEntry && !fd.IsGeneric()
	f.Span = fd.Span
	for _, p := range fd.Params {
		ty, err := g.lowerType(p.Ty, su)
		if err != nil {
			g.mod.RemoveFunction(f)
			return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		if ts.IsAggregate(ty) {
			ty = ts.Pointer(ty)
		}
		f.Entry().AddParam(p.Name, ty)
	}
	return f, nil
}

// instantiate resolves a call target, materializing generic functions for
// the concrete arguments at this call site. Instantiations are cached by
// mangled name, and the shell is registered before the body is lowered so
// recursive instantiations at the same arguments resolve to themselves.
func (g *Generator) instantiate(fd *ast.FuncDecl, call *ast.CallExpr, outer *subst) (*ir.Function, error) {
	if !fd.IsGeneric() {
		f := g.fns[fd.Name]
		if f == nil {
			return nil, fmt.Errorf("function %s was not lowered", fd.Name)
		}
		return f, nil
	}
	if len(fd.ConstParams) > 0 && !g.cfg.Enabled(buildcfg.FeatureConstGenerics) {
		g.bag.Errorf(call.Span, codeNeedFeature,
			"calling %s needs the %s feature", fd.Name, buildcfg.FeatureConstGenerics)
		return nil, errStop
	}
	if len(call.TypeArgs) != len(fd.TypeParams) || len(call.ConstArgs) != len(fd.ConstParams) {
		g.bag.Errorf(call.Span, codeBadConstArg,
			"call to %s supplies %d type and %d const arguments, want %d and %d",
			fd.Name, len(call.TypeArgs), len(call.ConstArgs), len(fd.TypeParams), len(fd.ConstParams))
		return nil, errStop
	}

	su := &subst{
		types:  make(map[string]ir.Type, len(fd.TypeParams)),
		consts: make(map[string]uint64, len(fd.ConstParams)),
	}
	name := fd.Name
	for i, tp := range fd.TypeParams {
		ty, err := g.lowerType(call.TypeArgs[i], outer)
		if err != nil {
			g.bag.Errorf(call.Span, codeBadType, "type argument %d of %s: %v", i, fd.Name, err)
			return nil, errStop
		}
		su.types[tp] = ty
		name += fmt.Sprintf("__t%d", int(ty))
	}
	for i, cp := range fd.ConstParams {
		ref, err := g.constEval(call.ConstArgs[i], outer)
		if err != nil {
			g.bag.Errorf(call.Span, codeBadConstArg, "const argument %d of %s: %v", i, fd.Name, err)
			return nil, errStop
		}
		c := g.mod.Consts.Get(ref)
		if c.Kind != ir.ConstUint || c.Ty != ir.U64Type {
			g.bag.Errorf(call.Span, codeBadConstArg,
				"const argument %d of %s must be a u64 constant", i, fd.Name)
			return nil, errStop
		}
		su.consts[cp] = c.U64
		name += fmt.Sprintf("__c%d", c.U64)
	}

	if f, ok := g.fns[name]; ok {
		return f, nil
	}
	if g.depth >= maxInstDepth {
		g.bag.Errorf(call.Span, codeInstDepth,
			"instantiating %s exceeds the depth limit of %d; is it recursively generic?",
			fd.Name, maxInstDepth)
		return nil, errStop
	}
	f, err := g.declare(fd, name, su)
	if err != nil {
		g.bag.Errorf(call.Span, codeBadType, "instantiating %s: %v", fd.Name, err)
		return nil, errStop
	}
	g.fns[name] = f
	g.depth++
	g.lowerBody(f, fd, su)
	g.depth--
	return f, nil
}
