package opt

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/cinder-lang/cinder/internal/ir"
)

// dedup merges functions with structurally identical bodies: same
// signature, same frame layout, and the same instructions under a
// consistent renaming of values, blocks, and locals. Every call site of a
// merged function is rewritten to the surviving copy. Entry points are ABI
// surface and are never removed, though a helper may fold into one.
//
// The main customers are the synthesized configurable decode helpers,
// whose bodies depend only on the declared type: a module with twenty
// u64 configurables carries one decoder after this pass.
type dedup struct{}

func (p *dedup) Name() string { return "dedup" }

func (p *dedup) Run(m *ir.Module) (bool, error) {
	changed := false
	// Merging two callees can make their callers identical in turn.
	for mergeOnce(m) {
		changed = true
	}
	return changed, nil
}

func mergeOnce(m *ir.Module) bool {
	buckets := make(map[uint64][]*ir.Function)
	for _, f := range m.Funcs {
		h := shape(f)
		buckets[h] = append(buckets[h], f)
	}
	for _, fs := range buckets {
		for i := 0; i < len(fs); i++ {
			for j := i + 1; j < len(fs); j++ {
				keep, drop := fs[i], fs[j]
				if !sameFunction(keep, drop) {
					continue
				}
				if drop.IsEntry {
					if keep.IsEntry {
						continue // two ABI names; both must survive
					}
					keep, drop = drop, keep
				}
				rewriteCalls(m, drop, keep)
				m.RemoveFunction(drop)
				return true
			}
		}
	}
	return false
}

// shape is a coarse structural fingerprint used to bucket candidates before
// the exact comparison: signature, sizes, and the instruction kind stream.
func shape(f *ir.Function) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	w := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	w(uint64(f.RetTy))
	w(uint64(len(f.Blocks)))
	w(uint64(len(f.Locals)))
	for _, prm := range f.Params() {
		w(uint64(prm.Ty))
	}
	for _, b := range f.Blocks {
		w(uint64(len(b.Params)))
		w(uint64(len(b.Instrs)))
		for _, in := range b.Instrs {
			w(instrTag(in))
		}
	}
	return h.Sum64()
}

func instrTag(in ir.Instr) uint64 {
	switch t := in.(type) {
	case *ir.ConstInstr:
		return 1
	case *ir.GetLocal:
		return 2
	case *ir.GetElemPtr:
		return 3
	case *ir.Load:
		return 4
	case *ir.Store:
		return 5
	case *ir.MemCopyVal:
		return 6
	case *ir.MemCopyBytes:
		return 7
	case *ir.PtrToInt:
		return 8
	case *ir.IntToPtr:
		return 9
	case *ir.UnOp:
		return 10
	case *ir.Call:
		return 11
	case *ir.GetConfig:
		return 12
	case *ir.AsmBlock:
		return 13
	case *ir.Br:
		return 14
	case *ir.CondBr:
		return 15
	case *ir.BinOp:
		return 16 + uint64(t.Op)
	case *ir.Cmp:
		return 32 + uint64(t.Pred)
	case *ir.Ret:
		return 48
	case *ir.Revert:
		return 49
	}
	return 63
}

// sameFunction reports whether two functions compute the same thing
// instruction for instruction. Names and spans may differ; types, interned
// constants, operand flow, branch targets, callees, and configurable names
// must line up exactly, with a self call pairing against a self call. Both
// functions live in the same module, so type and constant handles compare
// directly.
func sameFunction(a, b *ir.Function) bool {
	if a.RetTy != b.RetTy || a.Hint != b.Hint ||
		len(a.Blocks) != len(b.Blocks) || len(a.Locals) != len(b.Locals) {
		return false
	}
	x := &matcher{
		fa:     a,
		fb:     b,
		values: make(map[ir.Value]ir.Value),
		blocks: make(map[*ir.Block]*ir.Block, len(a.Blocks)),
		locals: make(map[*ir.Local]*ir.Local, len(a.Locals)),
	}
	for i, la := range a.Locals {
		lb := b.Locals[i]
		if la.Ty != lb.Ty || la.Mutable != lb.Mutable || la.Init != lb.Init {
			return false
		}
		x.locals[la] = lb
	}
	for i, ba := range a.Blocks {
		bb := b.Blocks[i]
		if len(ba.Params) != len(bb.Params) || len(ba.Instrs) != len(bb.Instrs) {
			return false
		}
		x.blocks[ba] = bb
		for j, pa := range ba.Params {
			if pa.Ty != bb.Params[j].Ty {
				return false
			}
			x.values[pa] = bb.Params[j]
		}
	}
	for i, ba := range a.Blocks {
		bb := b.Blocks[i]
		for j, ia := range ba.Instrs {
			if !x.instr(ia, bb.Instrs[j]) {
				return false
			}
		}
	}
	return true
}

// matcher holds the correspondence built while walking two functions in
// lockstep. Definitions pair positionally, so the value map stays a
// bijection without an explicit reverse check.
type matcher struct {
	fa, fb *ir.Function
	values map[ir.Value]ir.Value
	blocks map[*ir.Block]*ir.Block
	locals map[*ir.Local]*ir.Local
}

// val checks one operand pair against the correspondence. An operand whose
// definition has not been visited yet fails the match; that only happens
// when a use precedes its definition in block order, which none of the
// lowering or pass output produces.
func (x *matcher) val(a, b ir.Value) bool {
	mapped, ok := x.values[a]
	return ok && mapped == b
}

func (x *matcher) vals(as, bs []ir.Value) bool {
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if !x.val(as[i], bs[i]) {
			return false
		}
	}
	return true
}

func (x *matcher) instr(a, b ir.Instr) bool {
	switch ta := a.(type) {
	case *ir.ConstInstr:
		tb, ok := b.(*ir.ConstInstr)
		if !ok || ta.C != tb.C || ta.Ty != tb.Ty {
			return false
		}
		x.values[ta] = tb
	case *ir.GetLocal:
		tb, ok := b.(*ir.GetLocal)
		if !ok || x.locals[ta.Local] != tb.Local || ta.Ty != tb.Ty {
			return false
		}
		x.values[ta] = tb
	case *ir.GetElemPtr:
		tb, ok := b.(*ir.GetElemPtr)
		if !ok || ta.Ty != tb.Ty || !x.val(ta.Base, tb.Base) || !x.vals(ta.Indices, tb.Indices) {
			return false
		}
		x.values[ta] = tb
	case *ir.Load:
		tb, ok := b.(*ir.Load)
		if !ok || ta.Ty != tb.Ty || !x.val(ta.Ptr, tb.Ptr) {
			return false
		}
		x.values[ta] = tb
	case *ir.Store:
		tb, ok := b.(*ir.Store)
		if !ok || !x.val(ta.Val, tb.Val) || !x.val(ta.Ptr, tb.Ptr) {
			return false
		}
	case *ir.MemCopyVal:
		tb, ok := b.(*ir.MemCopyVal)
		if !ok || !x.val(ta.Dst, tb.Dst) || !x.val(ta.Src, tb.Src) {
			return false
		}
	case *ir.MemCopyBytes:
		tb, ok := b.(*ir.MemCopyBytes)
		if !ok || ta.Len != tb.Len || !x.val(ta.Dst, tb.Dst) || !x.val(ta.Src, tb.Src) {
			return false
		}
	case *ir.PtrToInt:
		tb, ok := b.(*ir.PtrToInt)
		if !ok || !x.val(ta.Ptr, tb.Ptr) {
			return false
		}
		x.values[ta] = tb
	case *ir.IntToPtr:
		tb, ok := b.(*ir.IntToPtr)
		if !ok || ta.Ty != tb.Ty || !x.val(ta.Int, tb.Int) {
			return false
		}
		x.values[ta] = tb
	case *ir.BinOp:
		tb, ok := b.(*ir.BinOp)
		if !ok || ta.Op != tb.Op || !x.val(ta.X, tb.X) || !x.val(ta.Y, tb.Y) {
			return false
		}
		x.values[ta] = tb
	case *ir.UnOp:
		tb, ok := b.(*ir.UnOp)
		if !ok || !x.val(ta.X, tb.X) {
			return false
		}
		x.values[ta] = tb
	case *ir.Cmp:
		tb, ok := b.(*ir.Cmp)
		if !ok || ta.Pred != tb.Pred || !x.val(ta.X, tb.X) || !x.val(ta.Y, tb.Y) {
			return false
		}
		x.values[ta] = tb
	case *ir.Call:
		tb, ok := b.(*ir.Call)
		if !ok || !x.sameCallee(ta.Callee, tb.Callee) || !x.vals(ta.Args, tb.Args) {
			return false
		}
		x.values[ta] = tb
	case *ir.GetConfig:
		tb, ok := b.(*ir.GetConfig)
		if !ok || ta.Name != tb.Name || ta.Ty != tb.Ty {
			return false
		}
		x.values[ta] = tb
	case *ir.AsmBlock:
		tb, ok := b.(*ir.AsmBlock)
		if !ok || !x.sameAsm(ta, tb) {
			return false
		}
		x.values[ta] = tb
	case *ir.Br:
		tb, ok := b.(*ir.Br)
		if !ok || x.blocks[ta.Target] != tb.Target || !x.vals(ta.Args, tb.Args) {
			return false
		}
	case *ir.CondBr:
		tb, ok := b.(*ir.CondBr)
		if !ok || !x.val(ta.Cond, tb.Cond) ||
			x.blocks[ta.Then] != tb.Then || x.blocks[ta.Else] != tb.Else ||
			!x.vals(ta.ThenArgs, tb.ThenArgs) || !x.vals(ta.ElseArgs, tb.ElseArgs) {
			return false
		}
	case *ir.Ret:
		tb, ok := b.(*ir.Ret)
		if !ok || !x.val(ta.Val, tb.Val) {
			return false
		}
	case *ir.Revert:
		tb, ok := b.(*ir.Revert)
		if !ok || !x.val(ta.Code, tb.Code) {
			return false
		}
	default:
		return false
	}
	return true
}

// sameCallee pairs call targets. A recursive call in one function lines up
// with a recursive call in the other, so structural twins that call
// themselves still merge.
func (x *matcher) sameCallee(a, b *ir.Function) bool {
	if a == x.fa && b == x.fb {
		return true
	}
	return a == b
}

func (x *matcher) sameAsm(a, b *ir.AsmBlock) bool {
	if a.RetReg != b.RetReg || a.Ty != b.Ty ||
		len(a.Args) != len(b.Args) || len(a.Ops) != len(b.Ops) {
		return false
	}
	for i, aa := range a.Args {
		ab := b.Args[i]
		if aa.Reg != ab.Reg || (aa.Init == nil) != (ab.Init == nil) {
			return false
		}
		if aa.Init != nil && !x.val(aa.Init, ab.Init) {
			return false
		}
	}
	for i, oa := range a.Ops {
		ob := b.Ops[i]
		if oa.Name != ob.Name || oa.Imm != ob.Imm || len(oa.Regs) != len(ob.Regs) {
			return false
		}
		for j := range oa.Regs {
			if oa.Regs[j] != ob.Regs[j] {
				return false
			}
		}
	}
	return true
}

func rewriteCalls(m *ir.Module, from, to *ir.Function) {
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				if call, ok := in.(*ir.Call); ok && call.Callee == from {
					call.Callee = to
				}
			}
		}
	}
}
