package opt

import (
	"fmt"

	"github.com/cinder-lang/cinder/internal/ir"
)

// inlineCutoff is the body size, in instructions, under which a callee with
// no explicit hint is still considered worth splicing into its callers.
const inlineCutoff = 24

// inliner replaces calls to small or inline(always) callees with a clone of
// the callee body. Callee frame slots become caller frame slots one for
// one, never copies, so a pointer formed inside the callee keeps naming the
// same storage after the splice; writes through arguments stay visible to
// the caller exactly as they were across the call.
type inliner struct {
	budget int
}

func (p *inliner) Name() string { return "inline" }

func (p *inliner) Run(m *ir.Module) (bool, error) {
	changed := false
	for _, f := range m.Funcs {
		c, err := p.expand(f)
		changed = changed || c
		if err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// expand splices call sites in f until none is eligible or the growth
// budget is spent. The scan restarts after every splice, so calls carried
// in by an inlined body are themselves candidates.
func (p *inliner) expand(f *ir.Function) (bool, error) {
	changed := false
	for {
		b, idx, call := findSite(f)
		if call == nil {
			return changed, nil
		}
		if f.NumInstrs()+call.Callee.NumInstrs() > p.budget {
			if call.Callee.Hint == ir.InlineAlways {
				return changed, fmt.Errorf(
					"inlining %s into %s would grow past the budget of %d instructions; inline(always) cycle?",
					call.Callee.Name, f.Name, p.budget)
			}
			return changed, nil
		}
		splice(f, b, idx, call)
		changed = true
	}
}

func findSite(f *ir.Function) (*ir.Block, int, *ir.Call) {
	for _, b := range f.Blocks {
		for i, in := range b.Instrs {
			if call, ok := in.(*ir.Call); ok && inlinable(f, call.Callee) {
				return b, i, call
			}
		}
	}
	return nil, 0, nil
}

// inlinable reports whether calls from f to g are candidates at all; the
// growth budget is checked per site. Direct self-calls are excluded since
// splicing one only unrolls the recursion a level without removing it.
func inlinable(f, g *ir.Function) bool {
	if g == f || g.Hint == ir.InlineNever || len(g.Blocks) == 0 {
		return false
	}
	if g.Hint == ir.InlineAlways {
		return true
	}
	return g.NumInstrs() <= inlineCutoff
}

// splice replaces one call with the callee's body. The call block is cut at
// the call: everything after it moves to a continuation block that receives
// the call result as a parameter, the callee's blocks are cloned into f
// with each ret rewritten to a branch onto the continuation, and the cut
// block jumps into the cloned entry. Reverts clone as-is; those paths never
// reach the continuation.
func splice(f *ir.Function, b *ir.Block, idx int, call *ir.Call) {
	g := call.Callee
	vm := ir.NewValueMap()

	for _, l := range g.Locals {
		vm.Locals[l] = f.NewLocal(l.Name, l.Ty, l.Mutable, l.Init)
	}

	clones := make([]*ir.Block, len(g.Blocks))
	for i, gb := range g.Blocks {
		nb := f.NewBlock(g.Name + "_" + gb.Label)
		clones[i] = nb
		vm.Blocks[gb] = nb
		if i == 0 {
			// The entry's parameters are the function parameters; they
			// map straight onto the call arguments.
			for j, prm := range gb.Params {
				vm.Values[prm] = call.Args[j]
			}
			continue
		}
		for _, prm := range gb.Params {
			vm.Values[prm] = nb.AddParam(prm.Name, prm.Ty)
		}
	}

	cont := f.NewBlock(b.Label + "_cont")
	res := cont.AddParam("res", g.RetTy)
	cont.SetInstrs(append([]ir.Instr(nil), b.Instrs[idx+1:]...))

	for i, gb := range g.Blocks {
		nb := clones[i]
		for _, in := range gb.Instrs {
			if ret, ok := in.(*ir.Ret); ok {
				val := ret.Val
				if nv, ok := vm.Values[val]; ok {
					val = nv
				}
				br := &ir.Br{Target: cont, Args: []ir.Value{val}}
				br.SetSpan(ret.Span())
				nb.Append(br)
				continue
			}
			nb.Append(ir.CloneInstr(in, vm))
		}
	}

	// The callee's block slice may place a use ahead of its definition
	// even though the CFG dominates correctly, so a clone made above can
	// still hold the original instruction as an operand. Settle every
	// slot now that the whole body is mapped.
	for _, nb := range clones {
		for _, in := range nb.Instrs {
			vm.Rewrite(in)
		}
	}

	enter := &ir.Br{Target: clones[0]}
	enter.SetSpan(call.Span())
	b.SetInstrs(append(append([]ir.Instr(nil), b.Instrs[:idx]...), enter))

	ir.ReplaceUses(f, call, res)
}
