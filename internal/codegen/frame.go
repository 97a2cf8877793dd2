package codegen

import (
	"github.com/cinder-lang/cinder/internal/ir"
)

// frame lays out one function's stack storage. Declared locals come first
// in declaration order, then the temporaries the backend invents for wide
// intermediates and copied-out call results, then the spill slots. Every
// region is aligned per the type model and the frame is extended once, by
// the prologue CFEI, after its final size is known.
type frame struct {
	locals map[*ir.Local]uint64
	used   uint64 // bytes taken by locals and temps
	spill0 uint64 // offset of spill slot 0
	nspill int
}

func newFrame(f *ir.Function) *frame {
	ts := f.Mod.Types
	fr := &frame{locals: make(map[*ir.Local]uint64, len(f.Locals))}
	for _, l := range f.Locals {
		fr.locals[l] = fr.temp(ts.SizeOf(l.Ty), ts.AlignOf(l.Ty))
	}
	return fr
}

// temp reserves size bytes of backend scratch storage and returns the
// offset from the frame pointer.
func (fr *frame) temp(size, align uint64) uint64 {
	off := ir.AlignUp(fr.used, align)
	fr.used = off + size
	return off
}

// reserveSpills appends n eight-byte slots after everything else. Called
// once, after register allocation.
func (fr *frame) reserveSpills(n int) {
	fr.spill0 = ir.AlignUp(fr.used, 8)
	fr.nspill = n
}

// spillOffset returns the frame offset of a spill slot.
func (fr *frame) spillOffset(slot int) uint64 {
	return fr.spill0 + uint64(slot)*8
}

// total returns the byte count the prologue must extend the frame by.
func (fr *frame) total() uint64 {
	if fr.nspill > 0 {
		return ir.AlignUp(fr.spill0+uint64(fr.nspill)*8, 8)
	}
	return ir.AlignUp(fr.used, 8)
}
