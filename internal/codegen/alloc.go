package codegen

import (
	"time"

	"github.com/cinder-lang/cinder/internal/codegen/regalloc"
	"github.com/cinder-lang/cinder/internal/ir"
	"github.com/cinder-lang/cinder/internal/vm"
)

// asmFunc is one function's finished code, physical registers throughout,
// waiting for module layout to resolve branch and call targets.
type asmFunc struct {
	fn      *ir.Function
	code    []vinstr
	labels  map[*ir.Block]int // block -> index into code
	elapsed time.Duration
}

// lowerFunc runs the per-function pipeline: instruction selection over
// virtual registers, the dead-address sweep, linear scan, spill rewriting,
// and finally the frame-extend patch once the frame stops growing.
func (g *gen) lowerFunc(f *ir.Function) (*asmFunc, error) {
	started := time.Now()
	x := newFngen(g, f)
	if err := x.lower(); err != nil {
		return nil, err
	}
	x.sweepDeadDefs()
	asn, err := x.allocate()
	if err != nil {
		return nil, newError(f.Name, f.Span, "%v", err)
	}
	x.frame.reserveSpills(asn.NumSlots())
	if err := x.assignRegs(asn); err != nil {
		return nil, err
	}
	total := x.frame.total()
	if total > vm.MaxImm24 {
		return nil, newError(f.Name, f.Span,
			"frame is %d bytes, the frame-extend immediate carries at most %d", total, vm.MaxImm24)
	}
	x.code[0].imm = uint32(total)
	return &asmFunc{fn: f, code: x.code, labels: x.labels, elapsed: time.Since(started)}, nil
}

// sweepDeadDefs drops pure register-producing instructions whose result
// nothing reads. Lowering materializes frame addresses eagerly, so the
// ones every consumer folded into an immediate field die here. Removing an
// instruction can orphan its operands, so the sweep runs to a fixed point.
func (x *fngen) sweepDeadDefs() {
	for x.sweepOnce() {
	}
}

func (x *fngen) sweepOnce() bool {
	uses := make(map[reg]int)
	for _, in := range x.code {
		n := vm.Describe(in.op).Fmt.NumOperandRegs()
		if n > 0 && !vm.WritesA(in.op) && in.a.virtual() {
			uses[in.a]++
		}
		if n > 1 && in.b.virtual() {
			uses[in.b]++
		}
		if n > 2 && in.c.virtual() {
			uses[in.c]++
		}
		if n > 3 && in.d.virtual() {
			uses[in.d]++
		}
	}

	removed := 0
	shift := make([]int, len(x.code))
	out := x.code[:0]
	for i, in := range x.code {
		shift[i] = removed
		if !in.raw && in.a.virtual() && vm.WritesA(in.op) && uses[in.a] == 0 {
			removed++
			continue
		}
		out = append(out, in)
	}
	if removed == 0 {
		return false
	}
	x.code = out
	for b, idx := range x.labels {
		if idx >= len(shift) {
			x.labels[b] = idx - removed
			continue
		}
		x.labels[b] = idx - shift[idx]
	}
	return true
}

// allocate hands the allocator its stripped view of the code: virtual
// defs and uses per instruction, call sites, and the block ranges with
// successor edges. The prologue becomes a synthetic block falling into
// the entry block.
func (x *fngen) allocate() (*regalloc.Assignment, error) {
	ops := make([]regalloc.Op, len(x.code))
	for i, in := range x.code {
		o := regalloc.Op{Call: in.op == vm.CALL}
		n := vm.Describe(in.op).Fmt.NumOperandRegs()
		if n > 0 && in.a.virtual() {
			if vm.WritesA(in.op) {
				o.Defs = append(o.Defs, in.a.vreg())
			} else {
				o.Uses = append(o.Uses, in.a.vreg())
			}
		}
		if n > 1 && in.b.virtual() {
			o.Uses = append(o.Uses, in.b.vreg())
		}
		if n > 2 && in.c.virtual() {
			o.Uses = append(o.Uses, in.c.vreg())
		}
		if n > 3 && in.d.virtual() {
			o.Uses = append(o.Uses, in.d.vreg())
		}
		ops[i] = o
	}
	return regalloc.Allocate(ops, x.blockRanges(), vm.FirstAlloc, vm.LastAlloc)
}

func (x *fngen) blockRanges() []regalloc.Block {
	idx := make(map[*ir.Block]int, len(x.fn.Blocks))
	for i, b := range x.fn.Blocks {
		idx[b] = i
	}
	entry := len(x.code)
	if len(x.fn.Blocks) > 0 {
		entry = x.labels[x.fn.Blocks[0]]
	}
	out := make([]regalloc.Block, 0, len(x.fn.Blocks)+1)
	out = append(out, regalloc.Block{Start: 0, End: entry, Succs: []int{1}})
	for i, b := range x.fn.Blocks {
		end := len(x.code)
		if i+1 < len(x.fn.Blocks) {
			end = x.labels[x.fn.Blocks[i+1]]
		}
		rb := regalloc.Block{Start: x.labels[b], End: end}
		if t := b.Terminator(); t != nil {
			for _, s := range ir.Successors(t) {
				rb.Succs = append(rb.Succs, idx[s]+1)
			}
		}
		out = append(out, rb)
	}
	return out
}

// assignRegs substitutes the allocation into the code. Spilled operands
// reload into the reserved scratch registers before each instruction and
// spilled results store back right after; at most three operands can be
// spilled and the result scratch is a fourth, so the scratch window always
// suffices.
func (x *fngen) assignRegs(asn *regalloc.Assignment) error {
	out := make([]vinstr, 0, len(x.code))
	newIdx := make([]int, len(x.code)+1)

	for i := range x.code {
		in := x.code[i]
		newIdx[i] = len(out)
		n := vm.Describe(in.op).Fmt.NumOperandRegs()
		if n == 0 {
			out = append(out, in)
			continue
		}

		x.at = in.span
		nextScratch := 0
		take := func() (vm.Reg, error) {
			if nextScratch == vm.NumScratch {
				return 0, x.errf("spill rewriting ran out of scratch registers")
			}
			s := vm.RegScratch0 + vm.Reg(nextScratch)
			nextScratch++
			return s, nil
		}
		reloaded := make(map[reg]vm.Reg)
		mapUse := func(r reg) (vm.Reg, error) {
			if !r.virtual() {
				return vm.Reg(r), nil
			}
			if pr, ok := asn.Reg(r.vreg()); ok {
				return pr, nil
			}
			slot, ok := asn.Slot(r.vreg())
			if !ok {
				return 0, x.errf("virtual register escaped allocation")
			}
			if s, ok := reloaded[r]; ok {
				return s, nil
			}
			s, err := take()
			if err != nil {
				return 0, err
			}
			off := x.frame.spillOffset(slot)
			switch {
			case off <= vm.MaxImm12:
				out = append(out, vinstr{op: vm.LD, a: phys(s), b: phys(vm.RegFP), imm: uint32(off), span: in.span})
			case off <= vm.MaxImm18:
				out = append(out, vinstr{op: vm.MOVI, a: phys(s), imm: uint32(off), span: in.span})
				out = append(out, vinstr{op: vm.ADD, a: phys(s), b: phys(vm.RegFP), c: phys(s), span: in.span})
				out = append(out, vinstr{op: vm.LD, a: phys(s), b: phys(s), span: in.span})
			default:
				return 0, x.errf("frame too large to address spill slot %d", slot)
			}
			reloaded[r] = s
			return s, nil
		}

		writes := vm.WritesA(in.op)
		defStore := -1
		var defScratch vm.Reg
		var err error
		var pr vm.Reg

		if n > 0 {
			if writes && in.a.virtual() {
				if p, ok := asn.Reg(in.a.vreg()); ok {
					in.a = phys(p)
				} else if slot, ok := asn.Slot(in.a.vreg()); ok {
					defScratch, err = take()
					if err != nil {
						return err
					}
					in.a = phys(defScratch)
					defStore = slot
				} else {
					return x.errf("virtual register escaped allocation")
				}
			} else if !writes {
				if pr, err = mapUse(in.a); err != nil {
					return err
				}
				in.a = phys(pr)
			}
		}
		if n > 1 {
			if pr, err = mapUse(in.b); err != nil {
				return err
			}
			in.b = phys(pr)
		}
		if n > 2 {
			if pr, err = mapUse(in.c); err != nil {
				return err
			}
			in.c = phys(pr)
		}
		if n > 3 {
			if pr, err = mapUse(in.d); err != nil {
				return err
			}
			in.d = phys(pr)
		}
		out = append(out, in)

		if defStore >= 0 {
			off := x.frame.spillOffset(defStore)
			switch {
			case off <= vm.MaxImm12:
				out = append(out, vinstr{op: vm.SD, a: phys(defScratch), b: phys(vm.RegFP), imm: uint32(off), span: in.span})
			case off <= vm.MaxImm18:
				sa := vm.RegScratch0
				if sa == defScratch {
					sa = vm.RegScratch0 + 1
				}
				out = append(out, vinstr{op: vm.MOVI, a: phys(sa), imm: uint32(off), span: in.span})
				out = append(out, vinstr{op: vm.ADD, a: phys(sa), b: phys(vm.RegFP), c: phys(sa), span: in.span})
				out = append(out, vinstr{op: vm.SD, a: phys(defScratch), b: phys(sa), span: in.span})
			default:
				return x.errf("frame too large to address spill slot %d", defStore)
			}
		}
	}
	newIdx[len(x.code)] = len(out)

	for b, idx := range x.labels {
		x.labels[b] = newIdx[idx]
	}
	x.code = out
	return nil
}
