package opt

import (
	"github.com/holiman/uint256"

	"github.com/cinder-lang/cinder/internal/ir"
)

// constFold evaluates instructions whose operands are all literals and
// replaces their uses with the interned result. Conditional branches over a
// literal condition become unconditional branches, which is what exposes
// whole arms to dead code elimination.
//
// Division and modulo by a literal zero are left untouched: lowering routed
// every dynamic divisor through a guard, and once the divisor turns out to
// be zero the guard's compare folds to true and the operation's block drops
// out as unreachable.
type constFold struct{}

func (p *constFold) Name() string { return "constfold" }

func (p *constFold) Run(m *ir.Module) (bool, error) {
	changed := false
	for _, f := range m.Funcs {
		for foldFunction(m, f) {
			changed = true
		}
	}
	return changed, nil
}

// foldFunction performs one sweep over the function and reports whether
// anything folded. The caller sweeps until a fixed point so results feeding
// other foldable operations collapse within a single pass run.
func foldFunction(m *ir.Module, f *ir.Function) bool {
	changed := false
	for _, b := range f.Blocks {
		for i, in := range b.Instrs {
			switch t := in.(type) {
			case *ir.BinOp:
				x, y := literal(t.X), literal(t.Y)
				if x == nil || y == nil {
					continue
				}
				ref, ok := foldBin(m, t.Op, x, y)
				if !ok {
					continue
				}
				replaceWithConst(f, b, i, t, ref)
				changed = true
			case *ir.UnOp:
				x := literal(t.X)
				if x == nil {
					continue
				}
				ref, ok := foldNot(m, x)
				if !ok {
					continue
				}
				replaceWithConst(f, b, i, t, ref)
				changed = true
			case *ir.Cmp:
				x, y := literal(t.X), literal(t.Y)
				if x == nil || y == nil {
					continue
				}
				ref, ok := foldCmp(m, t.Pred, x, y)
				if !ok {
					continue
				}
				replaceWithConst(f, b, i, t, ref)
				changed = true
			case *ir.CondBr:
				c := literal(t.Cond)
				if c == nil || m.Consts.Get(c.C).Kind != ir.ConstBool {
					continue
				}
				target, args := t.Else, t.ElseArgs
				if m.Consts.Get(c.C).Bit {
					target, args = t.Then, t.ThenArgs
				}
				br := &ir.Br{Target: target, Args: args}
				br.SetSpan(t.Span())
				b.ReplaceAt(i, br)
				changed = true
			}
		}
	}
	return changed
}

// literal unwraps a value to its constant materialization, nil when the
// value is not a literal.
func literal(v ir.Value) *ir.ConstInstr {
	c, _ := v.(*ir.ConstInstr)
	return c
}

func replaceWithConst(f *ir.Function, b *ir.Block, i int, old ir.Instr, ref ir.ConstRef) {
	c := &ir.ConstInstr{C: ref, Ty: f.Mod.Consts.Get(ref).Ty}
	c.SetSpan(old.Span())
	b.ReplaceAt(i, c)
	ir.ReplaceUses(f, old.(ir.Value), c)
}

func foldBin(m *ir.Module, op ir.BinOpKind, x, y *ir.ConstInstr) (ir.ConstRef, bool) {
	cx, cy := m.Consts.Get(x.C), m.Consts.Get(y.C)
	switch cx.Kind {
	case ir.ConstUint:
		v, ok := foldUintBin(op, cx.U64, cy.U64, m.Types.Bits(cx.Ty))
		if !ok {
			return ir.NoConst, false
		}
		// Interning masks the result back to the operand width, so
		// narrow arithmetic wraps here exactly as it does on the VM.
		return m.Consts.Uint(cx.Ty, v, m.Types), true
	case ir.ConstWide:
		w, ok := foldWideBin(op, cx.Wide, cy.Wide)
		if !ok {
			return ir.NoConst, false
		}
		return m.Consts.Wide(w), true
	}
	return ir.NoConst, false
}

func foldUintBin(op ir.BinOpKind, x, y uint64, bits uint) (uint64, bool) {
	switch op {
	case ir.OpAdd:
		return x + y, true
	case ir.OpSub:
		return x - y, true
	case ir.OpMul:
		return x * y, true
	case ir.OpDiv:
		if y == 0 {
			return 0, false
		}
		return x / y, true
	case ir.OpMod:
		if y == 0 {
			return 0, false
		}
		return x % y, true
	case ir.OpAnd:
		return x & y, true
	case ir.OpOr:
		return x | y, true
	case ir.OpXor:
		return x ^ y, true
	case ir.OpShl:
		if y >= uint64(bits) {
			return 0, true
		}
		return x << y, true
	case ir.OpShr:
		if y >= uint64(bits) {
			return 0, true
		}
		return x >> y, true
	}
	return 0, false
}

func foldWideBin(op ir.BinOpKind, x, y *uint256.Int) (*uint256.Int, bool) {
	z := new(uint256.Int)
	switch op {
	case ir.OpAdd:
		return z.Add(x, y), true
	case ir.OpSub:
		return z.Sub(x, y), true
	case ir.OpMul:
		return z.Mul(x, y), true
	case ir.OpDiv:
		if y.IsZero() {
			return nil, false
		}
		return z.Div(x, y), true
	case ir.OpMod:
		if y.IsZero() {
			return nil, false
		}
		return z.Mod(x, y), true
	case ir.OpAnd:
		return z.And(x, y), true
	case ir.OpOr:
		return z.Or(x, y), true
	case ir.OpXor:
		return z.Xor(x, y), true
	case ir.OpShl:
		if !y.LtUint64(256) {
			return z, true
		}
		return z.Lsh(x, uint(y.Uint64())), true
	case ir.OpShr:
		if !y.LtUint64(256) {
			return z, true
		}
		return z.Rsh(x, uint(y.Uint64())), true
	}
	return nil, false
}

func foldNot(m *ir.Module, x *ir.ConstInstr) (ir.ConstRef, bool) {
	c := m.Consts.Get(x.C)
	switch c.Kind {
	case ir.ConstBool:
		return m.Consts.Bool(!c.Bit), true
	case ir.ConstUint:
		return m.Consts.Uint(c.Ty, ^c.U64, m.Types), true
	case ir.ConstWide:
		return m.Consts.Wide(new(uint256.Int).Not(c.Wide)), true
	}
	return ir.NoConst, false
}

func foldCmp(m *ir.Module, pred ir.CmpPred, x, y *ir.ConstInstr) (ir.ConstRef, bool) {
	cx, cy := m.Consts.Get(x.C), m.Consts.Get(y.C)
	var cmp int
	switch cx.Kind {
	case ir.ConstUint:
		switch {
		case cx.U64 < cy.U64:
			cmp = -1
		case cx.U64 > cy.U64:
			cmp = 1
		}
	case ir.ConstWide:
		cmp = cx.Wide.Cmp(cy.Wide)
	case ir.ConstBool:
		if pred != ir.CmpEq && pred != ir.CmpNe {
			return ir.NoConst, false
		}
		if cx.Bit != cy.Bit {
			cmp = 1
		}
	default:
		return ir.NoConst, false
	}
	var out bool
	switch pred {
	case ir.CmpEq:
		out = cmp == 0
	case ir.CmpNe:
		out = cmp != 0
	case ir.CmpLt:
		out = cmp < 0
	case ir.CmpLe:
		out = cmp <= 0
	case ir.CmpGt:
		out = cmp > 0
	case ir.CmpGe:
		out = cmp >= 0
	}
	return m.Consts.Bool(out), true
}
