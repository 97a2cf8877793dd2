package irgen

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/holiman/uint256"

	"github.com/cinder-lang/cinder/internal/ast"
	"github.com/cinder-lang/cinder/internal/ir"
	"github.com/cinder-lang/cinder/internal/source"
	"github.com/cinder-lang/cinder/internal/vm"
)

// errStop propagates "a diagnostic was reported, stop lowering this
// function" up the expression walk. The bag already has the details.
var errStop = errors.New("lowering stopped")

// binding is one name in scope. Register-sized values live in a frame slot;
// aggregate parameters and match payloads are pointers into storage owned
// elsewhere; unit bindings carry nothing at all.
type binding struct {
	local   *ir.Local
	ptr     ir.Value
	isUnit  bool
	mutable bool
}

type loopFrame struct {
	cont *ir.Block // continue target, the loop header
	exit *ir.Block // break target
}

// fnCtx lowers one function body.
type fnCtx struct {
	g       *Generator
	fd      *ast.FuncDecl
	su      *subst
	f       *ir.Function
	b       *ir.Builder
	scopes  []map[string]*binding
	loops   []loopFrame
	reverts map[uint64]*ir.Block // shared revert blocks by abort code
}

// lowerBody fills a declared function shell with its lowered body. On a
// reported diagnostic the function is left incomplete; the caller checks
// the bag before using the module.
func (g *Generator) lowerBody(f *ir.Function, fd *ast.FuncDecl, su *subst) {
	fx := &fnCtx{g: g, fd: fd, su: su, f: f, b: ir.NewBuilder(f)}
	fx.b.At(fd.Span)
	fx.pushScope()
	ts := g.mod.Types
	for i, pd := range fd.Params {
		param := f.Params()[i]
		ty, err := g.lowerType(pd.Ty, su)
		if err != nil {
			g.bag.Errorf(pd.Span, codeBadType, "parameter %s: %v", pd.Name, err)
			return
		}
		switch {
		case ty == ir.UnitType:
			fx.bind(pd.Name, &binding{isUnit: true, mutable: pd.Mutable})
		case ts.IsAggregate(ty):
			// The caller copied into fresh storage; the parameter is
			// a pointer the body may read and write directly.
			fx.bind(pd.Name, &binding{ptr: param, mutable: pd.Mutable})
		default:
			l := f.NewLocal(pd.Name, ty, pd.Mutable, ir.NoConst)
			fx.b.At(pd.Span)
			fx.b.Store(param, fx.b.GetLocal(l))
			fx.bind(pd.Name, &binding{local: l, mutable: pd.Mutable})
		}
	}
	terminated, err := fx.lowerBlock(fd.Body)
	if err != nil {
		return
	}
	if !terminated {
		fx.b.At(fd.Span)
		fx.seal()
	}
}

// seal terminates the fallthrough block. Unit functions return implicitly;
// for anything else the checker proved every path returns, so the
// fallthrough aborts if it is ever reached.
func (fx *fnCtx) seal() {
	if fx.f.RetTy == ir.UnitType {
		fx.b.Ret(fx.b.Unit())
		return
	}
	fx.b.Revert(fx.b.Uint(ir.U64Type, vm.RevertAssert))
}

func (fx *fnCtx) pushScope() {
	fx.scopes = append(fx.scopes, make(map[string]*binding))
}

func (fx *fnCtx) popScope() {
	fx.scopes = fx.scopes[:len(fx.scopes)-1]
}

func (fx *fnCtx) bind(name string, b *binding) {
	fx.scopes[len(fx.scopes)-1][name] = b
}

func (fx *fnCtx) lookup(name string) *binding {
	for i := len(fx.scopes) - 1; i >= 0; i-- {
		if b, ok := fx.scopes[i][name]; ok {
			return b
		}
	}
	return nil
}

// errf records a diagnostic and returns errStop.
func (fx *fnCtx) errf(sp source.Span, code, format string, args ...interface{}) error {
	fx.g.bag.Errorf(sp, code, format, args...)
	return errStop
}

func (fx *fnCtx) lowerTypeAt(t ast.Type, sp source.Span) (ir.Type, error) {
	ty, err := fx.g.lowerType(t, fx.su)
	if err != nil {
		return ir.NoType, fx.errf(sp, codeBadType, "%v", err)
	}
	return ty, nil
}

func (fx *fnCtx) newTemp(name string, ty ir.Type) *ir.Local {
	return fx.f.NewLocal(name, ty, true, ir.NoConst)
}

// newTempInit returns a read-only slot whose bytes the backend seeds from
// the constant before entry.
func (fx *fnCtx) newTempInit(ty ir.Type, ref ir.ConstRef) *ir.Local {
	return fx.f.NewLocal("cdata", ty, false, ref)
}

// revertBlock returns this function's shared revert block for one abort
// code, creating it on first use.
func (fx *fnCtx) revertBlock(code uint64) *ir.Block {
	if fx.reverts == nil {
		fx.reverts = make(map[uint64]*ir.Block)
	}
	if blk, ok := fx.reverts[code]; ok {
		return blk
	}
	blk := fx.f.NewBlock(revertLabel(code))
	saved := fx.b.Blk
	fx.b.SetBlock(blk)
	fx.b.Revert(fx.b.Uint(ir.U64Type, code))
	fx.b.SetBlock(saved)
	fx.reverts[code] = blk
	return blk
}

func revertLabel(code uint64) string {
	switch code {
	case vm.RevertAssert:
		return "revert_assert"
	case vm.RevertArith:
		return "revert_div"
	case vm.RevertBounds:
		return "revert_bounds"
	case vm.RevertMatch:
		return "revert_match"
	default:
		return "revert"
	}
}

// guard branches to the shared revert block when bad holds and continues
// lowering in a fresh fallthrough block.
func (fx *fnCtx) guard(bad ir.Value, code uint64, label string) {
	fail := fx.revertBlock(code)
	cont := fx.f.NewBlock(label)
	fx.b.CondBr(bad, fail, cont)
	fx.b.SetBlock(cont)
}

// lowerBlock lowers a statement list in its own scope. It reports whether
// the block ended in a terminator; statements after one are unreachable
// and dropped.
func (fx *fnCtx) lowerBlock(blk *ast.Block) (bool, error) {
	fx.pushScope()
	defer fx.popScope()
	for _, s := range blk.Stmts {
		terminated, err := fx.lowerStmt(s)
		if err != nil {
			return false, err
		}
		if terminated {
			return true, nil
		}
	}
	return false, nil
}

func (fx *fnCtx) lowerStmt(s ast.Stmt) (bool, error) {
	fx.b.At(s.Pos())
	switch s := s.(type) {
	case *ast.Let:
		return false, fx.lowerLet(s)
	case *ast.Assign:
		return false, fx.lowerAssign(s)
	case *ast.ExprStmt:
		_, _, err := fx.lowerExpr(s.X)
		return false, err
	case *ast.Return:
		return true, fx.lowerReturn(s)
	case *ast.If:
		return fx.lowerIf(s)
	case *ast.While:
		return false, fx.lowerWhile(s)
	case *ast.Break:
		if len(fx.loops) == 0 {
			return false, fx.errf(s.Span, codeLoopCtl, "break outside of a loop")
		}
		fx.b.Br(fx.loops[len(fx.loops)-1].exit)
		return true, nil
	case *ast.Continue:
		if len(fx.loops) == 0 {
			return false, fx.errf(s.Span, codeLoopCtl, "continue outside of a loop")
		}
		fx.b.Br(fx.loops[len(fx.loops)-1].cont)
		return true, nil
	case *ast.Match:
		return fx.lowerMatch(s)
	case *ast.Revert:
		code, _, err := fx.lowerExpr(s.Code)
		if err != nil {
			return false, err
		}
		fx.b.At(s.Span)
		fx.b.Revert(code)
		return true, nil
	case *ast.Assert:
		cond, _, err := fx.lowerExpr(s.Cond)
		if err != nil {
			return false, err
		}
		fx.b.At(s.Span)
		fail := fx.revertBlock(vm.RevertAssert)
		cont := fx.f.NewBlock("assert_ok")
		fx.b.CondBr(cond, cont, fail)
		fx.b.SetBlock(cont)
		return false, nil
	default:
		panic(fmt.Sprintf("unknown statement %T", s))
	}
}

func (fx *fnCtx) lowerLet(s *ast.Let) error {
	t := s.Ty
	if t == nil {
		t = s.Init.TypeOf()
	}
	ty, err := fx.lowerTypeAt(t, s.Span)
	if err != nil {
		return err
	}
	ts := fx.g.mod.Types
	switch {
	case ty == ir.UnitType:
		if _, _, err := fx.lowerExpr(s.Init); err != nil {
			return err
		}
		fx.bind(s.Name, &binding{isUnit: true, mutable: s.Mutable})
	case ts.IsAggregate(ty):
		l := fx.f.NewLocal(s.Name, ty, s.Mutable, ir.NoConst)
		dst := fx.b.GetLocal(l)
		if err := fx.materializeInto(dst, s.Init); err != nil {
			return err
		}
		fx.bind(s.Name, &binding{local: l, mutable: s.Mutable})
	default:
		v, _, err := fx.lowerExpr(s.Init)
		if err != nil {
			return err
		}
		l := fx.f.NewLocal(s.Name, ty, s.Mutable, ir.NoConst)
		fx.b.Store(v, fx.b.GetLocal(l))
		fx.bind(s.Name, &binding{local: l, mutable: s.Mutable})
	}
	return nil
}

func (fx *fnCtx) lowerAssign(s *ast.Assign) error {
	ty, err := fx.lowerTypeAt(s.Value.TypeOf(), s.Span)
	if err != nil {
		return err
	}
	ptr, _, err := fx.addrOf(s.Target)
	if err != nil {
		return err
	}
	ts := fx.g.mod.Types
	switch {
	case ty == ir.UnitType:
		_, _, err := fx.lowerExpr(s.Value)
		return err
	case ts.IsAggregate(ty):
		return fx.assignAggregate(ptr, s.Value)
	default:
		v, _, err := fx.lowerExpr(s.Value)
		if err != nil {
			return err
		}
		fx.b.Store(v, ptr)
		return nil
	}
}

// assignAggregate writes an aggregate value through ptr. Sources that are
// produced whole (variables, constants, call results) copy straight in;
// piecewise construction could read the destination midway through being
// overwritten, so it builds in a scratch slot and copies once.
func (fx *fnCtx) assignAggregate(ptr ir.Value, value ast.Expr) error {
	switch value.(type) {
	case *ast.VarRef, *ast.ConstUse, *ast.ConfigUse, *ast.CallExpr:
		return fx.materializeInto(ptr, value)
	}
	ts := fx.g.mod.Types
	tmp := fx.newTemp("tmp", ts.Elem(ptr.Type()))
	tp := fx.b.GetLocal(tmp)
	if err := fx.materializeInto(tp, value); err != nil {
		return err
	}
	fx.b.MemCopyVal(ptr, tp)
	return nil
}

func (fx *fnCtx) lowerReturn(s *ast.Return) error {
	if s.X == nil {
		fx.b.Ret(fx.b.Unit())
		return nil
	}
	ty, err := fx.lowerTypeAt(s.X.TypeOf(), s.Span)
	if err != nil {
		return err
	}
	if fx.g.mod.Types.IsAggregate(ty) {
		ptr, _, err := fx.addrOf(s.X)
		if err != nil {
			return err
		}
		fx.b.At(s.Span)
		fx.b.Ret(ptr)
		return nil
	}
	v, _, err := fx.lowerExpr(s.X)
	if err != nil {
		return err
	}
	fx.b.At(s.Span)
	fx.b.Ret(v)
	return nil
}

func (fx *fnCtx) lowerIf(s *ast.If) (bool, error) {
	cond, _, err := fx.lowerExpr(s.Cond)
	if err != nil {
		return false, err
	}
	var join *ir.Block
	ensureJoin := func() *ir.Block {
		if join == nil {
			join = fx.f.NewBlock("join")
		}
		return join
	}
	thenBlk := fx.f.NewBlock("then")
	var elseBlk *ir.Block
	if s.Else != nil {
		elseBlk = fx.f.NewBlock("else")
	} else {
		elseBlk = ensureJoin()
	}
	fx.b.At(s.Span)
	fx.b.CondBr(cond, thenBlk, elseBlk)

	fx.b.SetBlock(thenBlk)
	thenDone, err := fx.lowerBlock(s.Then)
	if err != nil {
		return false, err
	}
	if !thenDone {
		fx.b.Br(ensureJoin())
	}
	if s.Else != nil {
		fx.b.SetBlock(elseBlk)
		elseDone, err := fx.lowerBlock(s.Else)
		if err != nil {
			return false, err
		}
		if !elseDone {
			fx.b.Br(ensureJoin())
		}
	}
	if join == nil {
		return true, nil
	}
	fx.b.SetBlock(join)
	return false, nil
}

func (fx *fnCtx) lowerWhile(s *ast.While) error {
	head := fx.f.NewBlock("while_cond")
	body := fx.f.NewBlock("while_body")
	exit := fx.f.NewBlock("while_exit")
	fx.b.Br(head)

	fx.b.SetBlock(head)
	cond, _, err := fx.lowerExpr(s.Cond)
	if err != nil {
		return err
	}
	fx.b.At(s.Span)
	fx.b.CondBr(cond, body, exit)

	fx.b.SetBlock(body)
	fx.loops = append(fx.loops, loopFrame{cont: head, exit: exit})
	terminated, err := fx.lowerBlock(s.Body)
	fx.loops = fx.loops[:len(fx.loops)-1]
	if err != nil {
		return err
	}
	if !terminated {
		fx.b.Br(head)
	}
	fx.b.SetBlock(exit)
	return nil
}

// lowerMatch reads the union's tag word and branches through a comparison
// chain. A revert backs the chain: the checker proved the arms cover every
// variant, so the revert only fires on memory corruption.
func (fx *fnCtx) lowerMatch(s *ast.Match) (bool, error) {
	subj, _, err := fx.addrOf(s.Subject)
	if err != nil {
		return false, err
	}
	ts := fx.g.mod.Types
	unionTy := ts.Elem(subj.Type())
	variants := ts.Fields(unionTy)

	fx.b.At(s.Span)
	if len(s.Arms) == 0 {
		fx.b.Br(fx.revertBlock(vm.RevertMatch))
		return true, nil
	}
	raw := fx.b.PtrToInt(subj)
	tagPtr := fx.b.IntToPtr(raw, ir.U64Type)
	tag := fx.b.Load(tagPtr)

	var join *ir.Block
	ensureJoin := func() *ir.Block {
		if join == nil {
			join = fx.f.NewBlock("match_join")
		}
		return join
	}
	for i, arm := range s.Arms {
		if arm.Variant < 0 || arm.Variant >= len(variants) {
			return false, fx.errf(arm.Span, codeUnknownName,
				"%s has no variant %d", ts.String(unionTy), arm.Variant)
		}
		armBlk := fx.f.NewBlock("arm")
		var next *ir.Block
		if i == len(s.Arms)-1 {
			next = fx.revertBlock(vm.RevertMatch)
		} else {
			next = fx.f.NewBlock("match_next")
		}
		fx.b.At(arm.Span)
		hit := fx.b.Cmp(ir.CmpEq, tag, fx.b.Uint(ir.U64Type, uint64(arm.Variant)))
		fx.b.CondBr(hit, armBlk, next)

		fx.b.SetBlock(armBlk)
		fx.pushScope()
		if arm.Binding != "" {
			if err := fx.bindPayload(subj, arm); err != nil {
				fx.popScope()
				return false, err
			}
		}
		terminated, err := fx.lowerBlock(arm.Body)
		fx.popScope()
		if err != nil {
			return false, err
		}
		if !terminated {
			fx.b.Br(ensureJoin())
		}
		if i < len(s.Arms)-1 {
			fx.b.SetBlock(next)
		}
	}
	if join == nil {
		return true, nil
	}
	fx.b.SetBlock(join)
	return false, nil
}

func (fx *fnCtx) bindPayload(subj ir.Value, arm *ast.Arm) error {
	ts := fx.g.mod.Types
	unionTy := ts.Elem(subj.Type())
	pty := ts.Fields(unionTy)[arm.Variant].Ty
	if pty == ir.UnitType {
		fx.bind(arm.Binding, &binding{isUnit: true})
		return nil
	}
	pp, err := fx.b.GEP(subj, fx.b.Uint(ir.U64Type, uint64(arm.Variant)))
	if err != nil {
		return fx.errf(arm.Span, codeBadType, "%v", err)
	}
	if ts.IsAggregate(pty) {
		fx.bind(arm.Binding, &binding{ptr: pp})
		return nil
	}
	l := fx.f.NewLocal(arm.Binding, pty, false, ir.NoConst)
	fx.b.Store(fx.b.Load(pp), fx.b.GetLocal(l))
	fx.bind(arm.Binding, &binding{local: l})
	return nil
}

// lowerExpr lowers an expression to its IR value: register-sized and u256
// expressions yield the value itself, aggregates yield a pointer to their
// storage. fresh reports that the pointer is a temporary this expression
// alone owns, letting call lowering skip its defensive copy.
func (fx *fnCtx) lowerExpr(e ast.Expr) (v ir.Value, fresh bool, err error) {
	ts := fx.g.mod.Types
	fx.b.At(e.Pos())
	switch e := e.(type) {
	case *ast.IntLit:
		ty, err := fx.lowerTypeAt(e.Ty, e.Span)
		if err != nil {
			return nil, false, err
		}
		return fx.b.Uint(ty, e.Val), false, nil
	case *ast.WideLit:
		return fx.b.Wide(e.Val), false, nil
	case *ast.BoolLit:
		return fx.b.Bool(e.Val), false, nil
	case *ast.UnitLit:
		return fx.b.Unit(), false, nil
	case *ast.StrLit:
		ref := fx.g.mod.Consts.Str(e.Val, ts)
		tmpl := fx.newTempInit(ts.StringArray(uint64(len(e.Val))), ref)
		return fx.b.GetLocal(tmpl), false, nil
	case *ast.VarRef:
		bnd := fx.lookup(e.Name)
		if bnd == nil {
			return nil, false, fx.errf(e.Span, codeUnknownName, "undefined name %s", e.Name)
		}
		switch {
		case bnd.isUnit:
			return fx.b.Unit(), false, nil
		case bnd.local != nil:
			p := fx.b.GetLocal(bnd.local)
			if ts.IsAggregate(bnd.local.Ty) {
				return p, false, nil
			}
			return fx.b.Load(p), false, nil
		default:
			return bnd.ptr, false, nil
		}
	case *ast.ConstUse:
		ref, ok := fx.g.consts[e.Name]
		if !ok {
			return nil, false, fx.errf(e.Span, codeUnknownName, "unknown constant %s", e.Name)
		}
		c := fx.g.mod.Consts.Get(ref)
		if ts.IsAggregate(c.Ty) {
			tmpl := fx.newTempInit(c.Ty, ref)
			return fx.b.GetLocal(tmpl), false, nil
		}
		return fx.b.Const(ref), false, nil
	case *ast.ConfigUse:
		return fx.lowerConfigUse(e)
	case *ast.ConstParamUse:
		v, ok := fx.su.constArg(e.Name)
		if !ok {
			return nil, false, fx.errf(e.Span, codeUnknownName, "unbound const parameter %s", e.Name)
		}
		return fx.b.Uint(ir.U64Type, v), false, nil
	case *ast.Unary:
		x, _, err := fx.lowerExpr(e.X)
		if err != nil {
			return nil, false, err
		}
		fx.b.At(e.Span)
		return fx.b.Not(x), false, nil
	case *ast.Binary:
		return fx.lowerBinary(e)
	case *ast.Compare:
		x, _, err := fx.lowerExpr(e.X)
		if err != nil {
			return nil, false, err
		}
		y, _, err := fx.lowerExpr(e.Y)
		if err != nil {
			return nil, false, err
		}
		fx.b.At(e.Span)
		return fx.b.Cmp(lowerPred(e.Pred), x, y), false, nil
	case *ast.CallExpr:
		return fx.lowerCall(e)
	case *ast.StructLit:
		return fx.lowerAggLit(e, e.Ty)
	case *ast.TupleLit:
		return fx.lowerAggLit(e, e.Ty)
	case *ast.ArrayLit:
		return fx.lowerAggLit(e, e.Ty)
	case *ast.UnionLit:
		return fx.lowerAggLit(e, e.Ty)
	case *ast.FieldAccess:
		base, _, err := fx.lowerExpr(e.X)
		if err != nil {
			return nil, false, err
		}
		fx.b.At(e.Span)
		gep, err := fx.b.GEP(base, fx.b.Uint(ir.U64Type, uint64(e.Index)))
		if err != nil {
			return nil, false, fx.errf(e.Span, codeBadType, "%v", err)
		}
		return fx.loadPlace(gep)
	case *ast.IndexExpr:
		base, _, err := fx.lowerExpr(e.X)
		if err != nil {
			return nil, false, err
		}
		gep, err := fx.indexInto(base, e.Index, e.Span)
		if err != nil {
			return nil, false, err
		}
		return fx.loadPlace(gep)
	case *ast.AddrOf:
		p, _, err := fx.addrOf(e.X)
		if err != nil {
			return nil, false, err
		}
		return p, false, nil
	case *ast.Deref:
		p, _, err := fx.lowerExpr(e.X)
		if err != nil {
			return nil, false, err
		}
		return fx.loadPlace(p)
	case *ast.AsmExpr:
		return fx.lowerAsm(e)
	default:
		panic(fmt.Sprintf("unknown expression %T", e))
	}
}

// loadPlace turns a pointer into the value it addresses: aggregates stay
// pointers, unit dissolves, scalars load.
func (fx *fnCtx) loadPlace(p ir.Value) (ir.Value, bool, error) {
	ts := fx.g.mod.Types
	pointee := ts.Elem(p.Type())
	switch {
	case pointee == ir.UnitType:
		return fx.b.Unit(), false, nil
	case ts.IsAggregate(pointee):
		return p, false, nil
	default:
		return fx.b.Load(p), false, nil
	}
}

func (fx *fnCtx) lowerBinary(e *ast.Binary) (ir.Value, bool, error) {
	x, _, err := fx.lowerExpr(e.X)
	if err != nil {
		return nil, false, err
	}
	y, _, err := fx.lowerExpr(e.Y)
	if err != nil {
		return nil, false, err
	}
	fx.b.At(e.Span)
	op := lowerBinOp(e.Op)
	if op == ir.OpDiv || op == ir.OpMod {
		if err := fx.guardDivisor(y, e.Y.Pos()); err != nil {
			return nil, false, err
		}
	}
	return fx.b.Bin(op, x, y), false, nil
}

// guardDivisor plants the revert that backs the wrapping div and mod
// instructions. Constant divisors are decided here: zero is a compile-time
// error, anything else needs no guard.
func (fx *fnCtx) guardDivisor(y ir.Value, sp source.Span) error {
	if ci, ok := y.(*ir.ConstInstr); ok {
		if fx.g.mod.Consts.IsZero(ci.C) {
			return fx.errf(sp, codeDivZero, "division by zero")
		}
		return nil
	}
	var zero ir.Value
	if y.Type() == ir.U256Type {
		zero = fx.b.Wide(uint256.NewInt(0))
	} else {
		zero = fx.b.Uint(y.Type(), 0)
	}
	bad := fx.b.Cmp(ir.CmpEq, y, zero)
	fx.guard(bad, vm.RevertArith, "div_ok")
	return nil
}

// indexInto bounds-checks idx against the pointee of base and yields the
// element pointer.
func (fx *fnCtx) indexInto(base ir.Value, idxExpr ast.Expr, sp source.Span) (ir.Value, error) {
	ts := fx.g.mod.Types
	seq := ts.Elem(base.Type())
	n := ts.Len(seq)
	idx, _, err := fx.lowerExpr(idxExpr)
	if err != nil {
		return nil, err
	}
	fx.b.At(sp)
	if ci, ok := idx.(*ir.ConstInstr); ok {
		c := fx.g.mod.Consts.Get(ci.C)
		if c.Kind == ir.ConstUint && c.U64 >= n {
			return nil, fx.errf(sp, codeIndexRange,
				"index %d out of bounds for %s", c.U64, ts.String(seq))
		}
	} else {
		bad := fx.b.Cmp(ir.CmpGe, idx, fx.b.Uint(ir.U64Type, n))
		fx.guard(bad, vm.RevertBounds, "index_ok")
	}
	gep, err := fx.b.GEP(base, idx)
	if err != nil {
		return nil, fx.errf(sp, codeBadType, "%v", err)
	}
	return gep, nil
}

// addrOf lowers an expression to a pointer at its storage. Variables and
// projections resolve to their existing slots; everything else is a
// temporary materialized on the spot, reported fresh so call lowering can
// skip its defensive copy.
func (fx *fnCtx) addrOf(e ast.Expr) (ir.Value, bool, error) {
	ts := fx.g.mod.Types
	fx.b.At(e.Pos())
	switch e := e.(type) {
	case *ast.VarRef:
		bnd := fx.lookup(e.Name)
		if bnd == nil {
			return nil, false, fx.errf(e.Span, codeUnknownName, "undefined name %s", e.Name)
		}
		switch {
		case bnd.isUnit:
			return fx.b.GetLocal(fx.newTemp("tmp", ir.UnitType)), true, nil
		case bnd.local != nil:
			return fx.b.GetLocal(bnd.local), false, nil
		default:
			return bnd.ptr, false, nil
		}
	case *ast.FieldAccess:
		base, _, err := fx.addrOf(e.X)
		if err != nil {
			return nil, false, err
		}
		fx.b.At(e.Span)
		gep, err := fx.b.GEP(base, fx.b.Uint(ir.U64Type, uint64(e.Index)))
		if err != nil {
			return nil, false, fx.errf(e.Span, codeBadType, "%v", err)
		}
		return gep, false, nil
	case *ast.IndexExpr:
		base, _, err := fx.addrOf(e.X)
		if err != nil {
			return nil, false, err
		}
		gep, err := fx.indexInto(base, e.Index, e.Span)
		if err != nil {
			return nil, false, err
		}
		return gep, false, nil
	case *ast.Deref:
		p, _, err := fx.lowerExpr(e.X)
		if err != nil {
			return nil, false, err
		}
		return p, false, nil
	default:
		ty, err := fx.lowerTypeAt(e.TypeOf(), e.Pos())
		if err != nil {
			return nil, false, err
		}
		if ts.IsAggregate(ty) {
			tmp := fx.newTemp("tmp", ty)
			dst := fx.b.GetLocal(tmp)
			if err := fx.materializeInto(dst, e); err != nil {
				return nil, false, err
			}
			return dst, true, nil
		}
		v, _, err := fx.lowerExpr(e)
		if err != nil {
			return nil, false, err
		}
		tmp := fx.newTemp("tmp", ty)
		p := fx.b.GetLocal(tmp)
		if ty != ir.UnitType {
			fx.b.Store(v, p)
		}
		return p, true, nil
	}
}

func (fx *fnCtx) lowerAggLit(e ast.Expr, t ast.Type) (ir.Value, bool, error) {
	ty, err := fx.lowerTypeAt(t, e.Pos())
	if err != nil {
		return nil, false, err
	}
	tmp := fx.newTemp("lit", ty)
	dst := fx.b.GetLocal(tmp)
	if err := fx.materializeInto(dst, e); err != nil {
		return nil, false, err
	}
	return dst, true, nil
}

// materializeInto writes the value of e into the aggregate storage at dst.
// Whole-constant initializers copy from a pre-seeded template; calls and
// configurables copy their raw result; literals construct field by field.
func (fx *fnCtx) materializeInto(dst ir.Value, e ast.Expr) error {
	ts := fx.g.mod.Types
	fx.b.At(e.Pos())
	if ref, err := fx.g.constEval(e, fx.su); err == nil {
		tmpl := fx.newTempInit(ts.Elem(dst.Type()), ref)
		fx.b.MemCopyVal(dst, fx.b.GetLocal(tmpl))
		return nil
	}
	switch e := e.(type) {
	case *ast.StructLit:
		return fx.fillFields(dst, e.Fields)
	case *ast.TupleLit:
		return fx.fillFields(dst, e.Elems)
	case *ast.ArrayLit:
		return fx.fillFields(dst, e.Elems)
	case *ast.UnionLit:
		raw := fx.b.PtrToInt(dst)
		tagPtr := fx.b.IntToPtr(raw, ir.U64Type)
		fx.b.Store(fx.b.Uint(ir.U64Type, uint64(e.Variant)), tagPtr)
		pty := ts.Fields(ts.Elem(dst.Type()))[e.Variant].Ty
		if pty == ir.UnitType {
			_, _, err := fx.lowerExpr(e.Payload)
			return err
		}
		pp, err := fx.b.GEP(dst, fx.b.Uint(ir.U64Type, uint64(e.Variant)))
		if err != nil {
			return fx.errf(e.Span, codeBadType, "%v", err)
		}
		if ts.IsAggregate(pty) {
			return fx.materializeInto(pp, e.Payload)
		}
		v, _, err := fx.lowerExpr(e.Payload)
		if err != nil {
			return err
		}
		fx.b.Store(v, pp)
		return nil
	case *ast.CallExpr:
		raw, err := fx.lowerCallRaw(e)
		if err != nil {
			return err
		}
		fx.b.MemCopyVal(dst, raw)
		return nil
	case *ast.ConfigUse:
		raw, err := fx.lowerConfigRaw(e)
		if err != nil {
			return err
		}
		fx.b.MemCopyVal(dst, raw)
		return nil
	default:
		src, _, err := fx.lowerExpr(e)
		if err != nil {
			return err
		}
		fx.b.MemCopyVal(dst, src)
		return nil
	}
}

// fillFields constructs an aggregate member by member through element
// pointers, in declaration order.
func (fx *fnCtx) fillFields(dst ir.Value, elems []ast.Expr) error {
	ts := fx.g.mod.Types
	aggTy := ts.Elem(dst.Type())
	fields := ts.Fields(aggTy)
	for i, el := range elems {
		var elTy ir.Type
		if ts.Kind(aggTy) == ir.TypeArray {
			elTy = ts.Elem(aggTy)
		} else {
			elTy = fields[i].Ty
		}
		if elTy == ir.UnitType {
			if _, _, err := fx.lowerExpr(el); err != nil {
				return err
			}
			continue
		}
		fx.b.At(el.Pos())
		fp, err := fx.b.GEP(dst, fx.b.Uint(ir.U64Type, uint64(i)))
		if err != nil {
			return fx.errf(el.Pos(), codeBadType, "%v", err)
		}
		if ts.IsAggregate(elTy) {
			if err := fx.materializeInto(fp, el); err != nil {
				return err
			}
			continue
		}
		v, _, err := fx.lowerExpr(el)
		if err != nil {
			return err
		}
		fx.b.Store(v, fp)
	}
	return nil
}

// lowerConfigRaw reads a configurable through its decode helper and returns
// the helper's raw result: the value itself for register-sized types, a
// pointer into the helper's frame for aggregates.
func (fx *fnCtx) lowerConfigRaw(e *ast.ConfigUse) (ir.Value, error) {
	dec := fx.g.decode[e.Name]
	if dec == nil {
		return nil, fx.errf(e.Span, codeUnknownName, "unknown configurable %s", e.Name)
	}
	ptr, err := fx.b.GetConfig(e.Name)
	if err != nil {
		return nil, fx.errf(e.Span, codeUnknownName, "%v", err)
	}
	return fx.b.Call(dec, ptr), nil
}

func (fx *fnCtx) lowerConfigUse(e *ast.ConfigUse) (ir.Value, bool, error) {
	raw, err := fx.lowerConfigRaw(e)
	if err != nil {
		return nil, false, err
	}
	cfgTy := fx.g.mod.Config(e.Name).Ty
	ts := fx.g.mod.Types
	if !ts.IsAggregate(cfgTy) {
		return raw, false, nil
	}
	tmp := fx.newTemp("cfg", cfgTy)
	dst := fx.b.GetLocal(tmp)
	fx.b.MemCopyVal(dst, raw)
	return dst, true, nil
}

// lowerCallRaw emits the call and returns its raw result. For aggregate
// results that is a pointer into the callee's just-popped frame, which the
// caller copies before anything can clobber it.
func (fx *fnCtx) lowerCallRaw(e *ast.CallExpr) (ir.Value, error) {
	g := fx.g
	fd := g.decls[e.Callee]
	if fd == nil {
		return nil, fx.errf(e.Span, codeUnknownFn, "call to unknown function %s", e.Callee)
	}
	callee, err := g.instantiate(fd, e, fx.su)
	if err != nil {
		if errors.Is(err, errStop) {
			return nil, err
		}
		return nil, fx.errf(e.Span, codeUnknownFn, "%v", err)
	}
	if len(e.Args) != len(callee.Params()) {
		return nil, fx.errf(e.Span, codeUnknownFn,
			"call to %s with %d arguments, want %d", e.Callee, len(e.Args), len(callee.Params()))
	}
	ts := g.mod.Types
	args := make([]ir.Value, len(e.Args))
	for i, a := range e.Args {
		ty, err := fx.lowerTypeAt(a.TypeOf(), a.Pos())
		if err != nil {
			return nil, err
		}
		if !ts.IsAggregate(ty) {
			v, _, err := fx.lowerExpr(a)
			if err != nil {
				return nil, err
			}
			args[i] = v
			continue
		}
		ptr, fresh, err := fx.addrOf(a)
		if err != nil {
			return nil, err
		}
		if !fresh {
			// The callee owns its parameter storage; give it a copy so
			// its writes stay invisible here.
			tmp := fx.newTemp("arg", ty)
			dst := fx.b.GetLocal(tmp)
			fx.b.MemCopyVal(dst, ptr)
			ptr = dst
		}
		args[i] = ptr
	}
	fx.b.At(e.Span)
	return fx.b.Call(callee, args...), nil
}

func (fx *fnCtx) lowerCall(e *ast.CallExpr) (ir.Value, bool, error) {
	raw, err := fx.lowerCallRaw(e)
	if err != nil {
		return nil, false, err
	}
	ty, err := fx.lowerTypeAt(e.Ty, e.Span)
	if err != nil {
		return nil, false, err
	}
	ts := fx.g.mod.Types
	if !ts.IsAggregate(ty) {
		return raw, false, nil
	}
	tmp := fx.newTemp("ret", ty)
	dst := fx.b.GetLocal(tmp)
	fx.b.MemCopyVal(dst, raw)
	return dst, true, nil
}

// lowerAsm validates an asm block against the target's opcode table and
// embeds it. Mnemonics are canonicalized to lowercase; register names must
// be bound in the block or name a reserved register.
func (fx *fnCtx) lowerAsm(e *ast.AsmExpr) (ir.Value, bool, error) {
	ts := fx.g.mod.Types
	bound := make(map[string]bool, len(e.Args))
	args := make([]ir.AsmArg, 0, len(e.Args))
	for _, a := range e.Args {
		if a.Reg == "" {
			return nil, false, fx.errf(e.Span, codeBadAsm, "asm binding with an empty register name")
		}
		if bound[a.Reg] {
			return nil, false, fx.errf(e.Span, codeBadAsm, "asm binds register %s twice", a.Reg)
		}
		bound[a.Reg] = true
		var init ir.Value
		if a.Init != nil {
			v, _, err := fx.lowerExpr(a.Init)
			if err != nil {
				return nil, false, err
			}
			if !ts.IsRegisterSized(v.Type()) {
				return nil, false, fx.errf(a.Init.Pos(), codeBadAsm,
					"asm register %s is seeded with %s; registers hold one word",
					a.Reg, ts.String(v.Type()))
			}
			init = v
		}
		args = append(args, ir.AsmArg{Reg: a.Reg, Init: init})
	}
	ops := make([]ir.AsmOp, 0, len(e.Ops))
	for _, op := range e.Ops {
		oc, ok := vm.ByName(op.Name)
		if !ok {
			return nil, false, fx.errf(e.Span, codeBadAsm, "unknown instruction %s in asm block", op.Name)
		}
		info := vm.Describe(oc)
		if want := info.Fmt.NumOperandRegs(); len(op.Regs) != want {
			return nil, false, fx.errf(e.Span, codeBadAsm,
				"%s takes %d register operands, got %d", info.Name, want, len(op.Regs))
		}
		switch {
		case info.Fmt.HasImm() && op.Imm == "":
			return nil, false, fx.errf(e.Span, codeBadAsm, "%s needs an immediate operand", info.Name)
		case !info.Fmt.HasImm() && op.Imm != "":
			return nil, false, fx.errf(e.Span, codeBadAsm, "%s takes no immediate operand", info.Name)
		case op.Imm != "":
			if err := checkImm(info, op.Imm); err != nil {
				return nil, false, fx.errf(e.Span, codeBadAsm, "%s: %v", info.Name, err)
			}
		}
		for _, r := range op.Regs {
			if bound[r] {
				continue
			}
			if _, ok := vm.ReservedByName(r); ok {
				continue
			}
			return nil, false, fx.errf(e.Span, codeBadAsm, "asm register %s is not bound", r)
		}
		ops = append(ops, ir.AsmOp{Name: info.Name, Regs: append([]string(nil), op.Regs...), Imm: op.Imm})
	}
	retTy := ir.UnitType
	if e.RetReg != "" {
		if !bound[e.RetReg] {
			return nil, false, fx.errf(e.Span, codeBadAsm, "asm result register %s is not bound", e.RetReg)
		}
		ty, err := fx.lowerTypeAt(e.RetTy, e.Span)
		if err != nil {
			return nil, false, err
		}
		if !ts.IsRegisterSized(ty) {
			return nil, false, fx.errf(e.Span, codeBadAsm,
				"asm result typed %s; registers hold one word", ts.String(ty))
		}
		retTy = ty
	}
	fx.b.At(e.Span)
	return fx.b.Asm(args, ops, e.RetReg, retTy), false, nil
}

func checkImm(info vm.Info, imm string) error {
	v, err := strconv.ParseUint(imm, 0, 32)
	if err != nil {
		return fmt.Errorf("bad immediate %q", imm)
	}
	var max uint64
	switch info.Fmt {
	case vm.FmtRI:
		max = vm.MaxImm12
	case vm.FmtI18:
		max = vm.MaxImm18
	default:
		max = vm.MaxImm24
	}
	if v > max {
		return fmt.Errorf("immediate %d does not fit the field (max %d)", v, max)
	}
	return nil
}

func lowerBinOp(op ast.BinOp) ir.BinOpKind {
	switch op {
	case ast.Add:
		return ir.OpAdd
	case ast.Sub:
		return ir.OpSub
	case ast.Mul:
		return ir.OpMul
	case ast.Div:
		return ir.OpDiv
	case ast.Mod:
		return ir.OpMod
	case ast.And:
		return ir.OpAnd
	case ast.Or:
		return ir.OpOr
	case ast.Xor:
		return ir.OpXor
	case ast.Shl:
		return ir.OpShl
	default:
		return ir.OpShr
	}
}

func lowerPred(p ast.Pred) ir.CmpPred {
	switch p {
	case ast.Eq:
		return ir.CmpEq
	case ast.Ne:
		return ir.CmpNe
	case ast.Lt:
		return ir.CmpLt
	case ast.Le:
		return ir.CmpLe
	case ast.Gt:
		return ir.CmpGt
	default:
		return ir.CmpGe
	}
}
