package opt

import "github.com/cinder-lang/cinder/internal/ir"

// deadCode removes what can no longer execute or be observed: blocks the
// entry cannot reach, pure instructions whose result has no use, straight
// branch chains, frame slots nothing references, and functions no entry
// point reaches. Side-effecting instructions (store, mem_copy, call, revert,
// asm) are never removed on the grounds of an unused result; frame traffic
// that is still read is promote's business, not this pass's.
type deadCode struct{}

func (p *deadCode) Name() string { return "dce" }

func (p *deadCode) Run(m *ir.Module) (bool, error) {
	changed := false
	for _, f := range m.Funcs {
		for sweepFunction(f) {
			changed = true
		}
	}
	if reapFunctions(m) {
		changed = true
	}
	return changed, nil
}

// sweepFunction performs one cleanup round; the caller repeats it until
// nothing moves, so removals that expose further removals settle within a
// single pass run.
func sweepFunction(f *ir.Function) bool {
	changed := false
	if dropUnreachable(f) {
		changed = true
	}
	if dropUnusedValues(f) {
		changed = true
	}
	if mergeChains(f) {
		changed = true
	}
	if dropOrphanLocals(f) {
		changed = true
	}
	return changed
}

func dropUnreachable(f *ir.Function) bool {
	live := map[*ir.Block]bool{f.Entry(): true}
	work := []*ir.Block{f.Entry()}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		t := b.Terminator()
		if t == nil {
			continue
		}
		for _, s := range ir.Successors(t) {
			if !live[s] {
				live[s] = true
				work = append(work, s)
			}
		}
	}
	changed := false
	for _, b := range append([]*ir.Block(nil), f.Blocks...) {
		if !live[b] {
			f.RemoveBlock(b)
			changed = true
		}
	}
	return changed
}

// dropUnusedValues removes pure instructions whose result no one reads.
// Removing a use exposes its operands on the next round's recount, so
// dependency chains unravel across rounds.
func dropUnusedValues(f *ir.Function) bool {
	changed := false
	uses := ir.Uses(f)
	for _, b := range f.Blocks {
		for i := len(b.Instrs) - 1; i >= 0; i-- {
			in := b.Instrs[i]
			if ir.HasSideEffects(in) || ir.IsTerminator(in) {
				continue
			}
			v, ok := in.(ir.Value)
			if !ok || uses[v] > 0 {
				continue
			}
			b.RemoveAt(i)
			changed = true
		}
	}
	return changed
}

// mergeChains folds straight-line control flow: a block ending in an
// unconditional branch absorbs its target when it is the target's only
// predecessor. Branch arguments substitute for the target's parameters
// before the instruction lists join.
func mergeChains(f *ir.Function) bool {
	changed := false
	for {
		b, c := findChain(f)
		if b == nil {
			return changed
		}
		br := b.Terminator().(*ir.Br)
		for i, prm := range c.Params {
			ir.ReplaceUses(f, prm, br.Args[i])
		}
		c.Params = nil
		merged := append(append([]ir.Instr(nil), b.Instrs[:len(b.Instrs)-1]...), c.Instrs...)
		b.SetInstrs(merged)
		f.RemoveBlock(c)
		changed = true
	}
}

func findChain(f *ir.Function) (b, c *ir.Block) {
	preds := ir.Predecessors(f)
	for _, b := range f.Blocks {
		br, ok := b.Terminator().(*ir.Br)
		if !ok {
			continue
		}
		c := br.Target
		if c == b || len(preds[c]) != 1 {
			continue
		}
		return b, c
	}
	return nil, nil
}

// dropOrphanLocals removes frame slots no instruction points at anymore,
// typically slots whose only traffic sat in a block that proved
// unreachable.
func dropOrphanLocals(f *ir.Function) bool {
	referenced := make(map[*ir.Local]bool)
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if gl, ok := in.(*ir.GetLocal); ok {
				referenced[gl.Local] = true
			}
		}
	}
	changed := false
	for _, l := range append([]*ir.Local(nil), f.Locals...) {
		if !referenced[l] {
			f.RemoveLocal(l)
			changed = true
		}
	}
	return changed
}

// reapFunctions removes functions no entry point can reach. Entry points
// are the roots: they are ABI surface and stay regardless of callers. A
// module with no entries at all is left untouched rather than emptied.
func reapFunctions(m *ir.Module) bool {
	live := make(map[*ir.Function]bool)
	var mark func(*ir.Function)
	mark = func(f *ir.Function) {
		if live[f] {
			return
		}
		live[f] = true
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				if call, ok := in.(*ir.Call); ok {
					mark(call.Callee)
				}
			}
		}
	}
	roots := 0
	for _, f := range m.Funcs {
		if f.IsEntry {
			mark(f)
			roots++
		}
	}
	if roots == 0 {
		return false
	}
	changed := false
	for _, f := range append([]*ir.Function(nil), m.Funcs...) {
		if !live[f] {
			m.RemoveFunction(f)
			changed = true
		}
	}
	return changed
}
