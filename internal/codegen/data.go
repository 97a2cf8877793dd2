package codegen

import (
	"encoding/binary"

	"github.com/cinder-lang/cinder/internal/ir"
)

// dataSection accumulates the bytes appended after the code: the
// configurable-constant slots first, in declaration order and at the
// offsets ir.ConfigSlots publishes, then a pool of interned constants the
// code references through $ds. Pool offsets are final the moment an entry
// is interned, so lowering can bake them into immediates as it goes.
type dataSection struct {
	m     *ir.Module
	slots []ir.ConfigSlot
	size  uint64

	consts map[ir.ConstRef]uint64
	words  map[uint64]uint64
	pool   []poolEntry
}

type poolEntry struct {
	off uint64
	c   ir.ConstRef // NoConst for raw words
	raw uint64
}

func newDataSection(m *ir.Module) *dataSection {
	d := &dataSection{
		m:      m,
		slots:  ir.ConfigSlots(m),
		consts: make(map[ir.ConstRef]uint64),
		words:  make(map[uint64]uint64),
	}
	for _, s := range d.slots {
		d.size = s.Offset + s.Size
	}
	return d
}

// constOffset interns a constant's encoded bytes and returns their offset
// from the start of the data section.
func (d *dataSection) constOffset(c ir.ConstRef) uint64 {
	if off, ok := d.consts[c]; ok {
		return off
	}
	ty := d.m.Consts.Get(c).Ty
	off := ir.AlignUp(d.size, d.m.Types.AlignOf(ty))
	d.pool = append(d.pool, poolEntry{off: off, c: c})
	d.consts[c] = off
	d.size = off + d.m.Types.SizeOf(ty)
	return off
}

// wordOffset interns one raw 64-bit word, big-endian. Used for immediates
// past the movi range, revert codes and dispatch selectors.
func (d *dataSection) wordOffset(v uint64) uint64 {
	if off, ok := d.words[v]; ok {
		return off
	}
	off := ir.AlignUp(d.size, 8)
	d.pool = append(d.pool, poolEntry{off: off, c: ir.NoConst, raw: v})
	d.words[v] = off
	d.size = off + 8
	return off
}

// configOffset returns the slot offset of a configurable.
func (d *dataSection) configOffset(name string) (uint64, bool) {
	for _, s := range d.slots {
		if s.Name == name {
			return s.Offset, true
		}
	}
	return 0, false
}

// bytes renders the section: configurable defaults in their slots, then
// the pool. Alignment gaps stay zero.
func (d *dataSection) bytes() []byte {
	buf := make([]byte, d.size)
	for _, s := range d.slots {
		decl := d.m.Config(s.Name)
		copy(buf[s.Offset:], d.m.Consts.Encode(decl.Default, d.m.Types))
	}
	for _, e := range d.pool {
		if e.c == ir.NoConst {
			binary.BigEndian.PutUint64(buf[e.off:], e.raw)
			continue
		}
		copy(buf[e.off:], d.m.Consts.Encode(e.c, d.m.Types))
	}
	return buf
}
