package ir

// ConfigSlot is the storage assignment of one configurable constant inside
// the artifact's data section. Slots sit at the very start of the section,
// in declaration order, so deployment tooling can patch them by offset
// without re-reading the bytecode.
type ConfigSlot struct {
	Name   string
	Ty     Type
	Offset uint64 // bytes from the start of the data section
	Size   uint64
}

// ConfigSlots lays out every configurable of the module. The layout is a
// pure function of the declarations: both the configurables pass and the
// backend derive it independently and must agree.
func ConfigSlots(m *Module) []ConfigSlot {
	if len(m.Configs) == 0 {
		return nil
	}
	slots := make([]ConfigSlot, 0, len(m.Configs))
	off := uint64(0)
	for _, c := range m.Configs {
		align := m.Types.AlignOf(c.Ty)
		off = AlignUp(off, align)
		size := m.Types.SizeOf(c.Ty)
		slots = append(slots, ConfigSlot{Name: c.Name, Ty: c.Ty, Offset: off, Size: size})
		off += size
	}
	return slots
}

// AlignUp rounds n up to the next multiple of align (a power of two).
func AlignUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}
