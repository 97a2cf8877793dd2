// Package regalloc maps the backend's virtual registers onto the CVM's
// allocatable register file with a linear scan over live intervals.
//
// The allocator never looks at opcodes. The backend hands it a stripped
// view of the code: per instruction, which virtual registers are read and
// written and whether the instruction calls another function. Blocks come
// as index ranges with successor edges so liveness can follow branches and
// loops. Two placement rules fall out of the CVM calling convention: every
// general-purpose register is caller-saved, so any value live across a
// call must sit in the frame, and the backend keeps a small scratch window
// outside the pool for reloading spilled operands.
package regalloc

import (
	"fmt"
	"sort"

	"github.com/cinder-lang/cinder/internal/vm"
)

// VReg names one virtual register. The backend numbers them densely from
// zero within each function.
type VReg int

// Op is the allocator's view of one instruction: registers read, registers
// written, and whether control leaves the function. A call clobbers the
// whole pool, so intervals spanning one cannot stay in a register.
type Op struct {
	Uses []VReg
	Defs []VReg
	Call bool
}

// Block is a half-open instruction range [Start, End) plus the indices of
// its successor blocks in the same slice.
type Block struct {
	Start, End int
	Succs      []int
}

// Interval is the live range of one virtual register, in instruction
// indices, both ends inclusive. Ranges are conservative: a value live on a
// loop back edge stays live to the end of the jumping block.
type Interval struct {
	V          VReg
	Start, End int
	UseCount   int
	AcrossCall bool
}

// Assignment is the allocation result. Every virtual register that appears
// in the program gets either a physical register or a spill slot index;
// slots are numbered densely from zero and sized by the backend.
type Assignment struct {
	regs   map[VReg]vm.Reg
	slots  map[VReg]int
	nslots int
}

// Reg returns the physical register assigned to v, if it got one.
func (a *Assignment) Reg(v VReg) (vm.Reg, bool) {
	r, ok := a.regs[v]
	return r, ok
}

// Slot returns the spill slot index assigned to v, if it was spilled.
func (a *Assignment) Slot(v VReg) (int, bool) {
	s, ok := a.slots[v]
	return s, ok
}

// NumSlots returns how many spill slots the assignment uses.
func (a *Assignment) NumSlots() int { return a.nslots }

// Allocate runs linear scan over ops using the register pool [first, last].
// Blocks must cover every instruction exactly once.
func Allocate(ops []Op, blocks []Block, first, last vm.Reg) (*Assignment, error) {
	if first > last || !vm.Valid(first) || !vm.Valid(last) {
		return nil, fmt.Errorf("regalloc: bad register pool r%d..r%d", first, last)
	}
	intervals := BuildIntervals(ops, blocks)

	a := &allocator{
		asn:   &Assignment{regs: make(map[VReg]vm.Reg), slots: make(map[VReg]int)},
		first: first,
		inUse: make([]bool, int(last-first)+1),
	}
	for i := range intervals {
		iv := &intervals[i]
		a.expire(iv.Start)
		if iv.AcrossCall {
			a.spill(iv)
			continue
		}
		if r, ok := a.take(); ok {
			a.place(iv, r)
			continue
		}
		a.evictOrSpill(iv)
	}
	return a.asn, nil
}

type allocator struct {
	asn    *Assignment
	first  vm.Reg
	inUse  []bool      // indexed by pool position
	active []*Interval // holding a register, sorted by End
}

func (a *allocator) take() (vm.Reg, bool) {
	for i, used := range a.inUse {
		if !used {
			return a.first + vm.Reg(i), true
		}
	}
	return 0, false
}

func (a *allocator) place(iv *Interval, r vm.Reg) {
	a.inUse[r-a.first] = true
	a.asn.regs[iv.V] = r
	i := sort.Search(len(a.active), func(i int) bool { return a.active[i].End > iv.End })
	a.active = append(a.active, nil)
	copy(a.active[i+1:], a.active[i:])
	a.active[i] = iv
}

func (a *allocator) spill(iv *Interval) {
	a.asn.slots[iv.V] = a.asn.nslots
	a.asn.nslots++
}

// expire releases the registers of every active interval that ends before
// the next interval starts.
func (a *allocator) expire(start int) {
	i := 0
	for ; i < len(a.active) && a.active[i].End < start; i++ {
		a.inUse[a.asn.regs[a.active[i].V]-a.first] = false
	}
	a.active = a.active[i:]
}

// evictOrSpill resolves pool exhaustion: whichever of the candidate and the
// furthest-ending active interval dies last is the one that goes to the
// frame, keeping register occupancy short.
func (a *allocator) evictOrSpill(iv *Interval) {
	last := len(a.active) - 1
	if last >= 0 && a.active[last].End > iv.End {
		victim := a.active[last]
		a.active = a.active[:last]
		r := a.asn.regs[victim.V]
		delete(a.asn.regs, victim.V)
		a.spill(victim)
		a.place(iv, r)
		return
	}
	a.spill(iv)
}

// BuildIntervals computes one conservative live interval per virtual
// register: the span from its first mention to its last, widened by block
// liveness so values carried around loops hold their register through the
// back edge.
func BuildIntervals(ops []Op, blocks []Block) []Interval {
	live := liveness(ops, blocks)

	start := make(map[VReg]int)
	end := make(map[VReg]int)
	count := make(map[VReg]int)
	touch := func(v VReg, i int) {
		if s, ok := start[v]; !ok || i < s {
			start[v] = i
		}
		if e, ok := end[v]; !ok || i > e {
			end[v] = i
		}
	}
	for i, op := range ops {
		for _, v := range op.Uses {
			touch(v, i)
			count[v]++
		}
		for _, v := range op.Defs {
			touch(v, i)
			count[v]++
		}
	}
	for bi, b := range blocks {
		if b.End <= b.Start {
			continue
		}
		for v := range live.in[bi] {
			touch(v, b.Start)
		}
		for v := range live.out[bi] {
			touch(v, b.End-1)
		}
	}

	order := make([]VReg, 0, len(start))
	for v := range start {
		order = append(order, v)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	intervals := make([]Interval, 0, len(order))
	for _, v := range order {
		intervals = append(intervals, Interval{
			V:        v,
			Start:    start[v],
			End:      end[v],
			UseCount: count[v],
		})
	}
	for i, op := range ops {
		if !op.Call {
			continue
		}
		for j := range intervals {
			if intervals[j].Start < i && i < intervals[j].End {
				intervals[j].AcrossCall = true
			}
		}
	}
	sort.SliceStable(intervals, func(i, j int) bool {
		if intervals[i].Start != intervals[j].Start {
			return intervals[i].Start < intervals[j].Start
		}
		return intervals[i].V < intervals[j].V
	})
	return intervals
}

type liveSets struct {
	in, out []map[VReg]bool
}

// liveness runs the usual backward dataflow over the block graph: a
// register is live-in when read before any write, or live-out past the
// block without a write shadowing it.
func liveness(ops []Op, blocks []Block) liveSets {
	n := len(blocks)
	gen := make([]map[VReg]bool, n)
	kill := make([]map[VReg]bool, n)
	for i, b := range blocks {
		g := make(map[VReg]bool)
		k := make(map[VReg]bool)
		for j := b.Start; j < b.End && j < len(ops); j++ {
			for _, v := range ops[j].Uses {
				if !k[v] {
					g[v] = true
				}
			}
			for _, v := range ops[j].Defs {
				k[v] = true
			}
		}
		gen[i], kill[i] = g, k
	}

	ls := liveSets{in: make([]map[VReg]bool, n), out: make([]map[VReg]bool, n)}
	for i := range ls.in {
		ls.in[i] = make(map[VReg]bool)
		ls.out[i] = make(map[VReg]bool)
	}
	for changed := true; changed; {
		changed = false
		for i := n - 1; i >= 0; i-- {
			out := ls.out[i]
			for _, s := range blocks[i].Succs {
				if s < 0 || s >= n {
					continue
				}
				for v := range ls.in[s] {
					out[v] = true
				}
			}
			in := ls.in[i]
			before := len(in)
			for v := range gen[i] {
				in[v] = true
			}
			for v := range out {
				if !kill[i][v] {
					in[v] = true
				}
			}
			if len(in) != before {
				changed = true
			}
		}
	}
	return ls
}
