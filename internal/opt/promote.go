package opt

import "github.com/cinder-lang/cinder/internal/ir"

// promote forwards frame-slot traffic for slots whose address never
// escapes: a load that can see an earlier store to the same slot in its
// block is replaced by the stored value. A slot left with no loads loses
// its stores, its address materializations, and finally the slot itself.
//
// This is the one pass that deletes get_local/load/store traffic. A slot
// qualifies only when every use of every pointer to it is the pointer
// operand of a plain load or store; a copy endpoint, a call argument, a
// pointer stored or offset or handed to asm all pin the slot, because then
// its storage identity is observable.
type promote struct{}

func (p *promote) Name() string { return "promote" }

func (p *promote) Run(m *ir.Module) (bool, error) {
	changed := false
	for _, f := range m.Funcs {
		for promoteFunction(f) {
			changed = true
		}
	}
	return changed, nil
}

func promoteFunction(f *ir.Function) bool {
	changed := false
	for _, l := range append([]*ir.Local(nil), f.Locals...) {
		if l.Init != ir.NoConst {
			// The backend seeds initialized slots before entry, so a
			// load may legitimately precede any store.
			continue
		}
		pointers, plain := slotPointers(f, l)
		if !plain || len(pointers) == 0 {
			continue
		}
		if forwardLoads(f, pointers) {
			changed = true
		}
		if !hasLoads(f, pointers) {
			dropSlot(f, l, pointers)
			changed = true
		}
	}
	return changed
}

// slotPointers collects every address materialization of the slot and
// reports whether all their uses are plain load/store pointer operands.
func slotPointers(f *ir.Function, l *ir.Local) ([]*ir.GetLocal, bool) {
	var pointers []*ir.GetLocal
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if gl, ok := in.(*ir.GetLocal); ok && gl.Local == l {
				pointers = append(pointers, gl)
			}
		}
	}
	if len(pointers) == 0 {
		return nil, false
	}
	uses := ir.Uses(f)
	for _, gl := range pointers {
		plain := 0
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				switch t := in.(type) {
				case *ir.Load:
					if t.Ptr == gl {
						plain++
					}
				case *ir.Store:
					// The pointer appearing as the stored value is an
					// escape, not a write.
					if t.Ptr == gl && t.Val != gl {
						plain++
					}
				}
			}
		}
		if plain != uses[gl] {
			return pointers, false
		}
	}
	return pointers, true
}

// forwardLoads rewrites loads that follow a store to the same slot within
// one block. Tracking is per block; nothing is assumed across branches.
// Calls and asm blocks cannot clobber the slot here because its address
// never escapes, so a known value survives them.
func forwardLoads(f *ir.Function, pointers []*ir.GetLocal) bool {
	mine := pointerSet(pointers)
	changed := false
	for _, b := range f.Blocks {
		var known ir.Value
		i := 0
		for i < len(b.Instrs) {
			switch t := b.Instrs[i].(type) {
			case *ir.Store:
				if mine[t.Ptr] {
					known = t.Val
				}
			case *ir.Load:
				if mine[t.Ptr] && known != nil {
					ir.ReplaceUses(f, t, known)
					b.RemoveAt(i)
					changed = true
					continue
				}
			}
			i++
		}
	}
	return changed
}

func hasLoads(f *ir.Function, pointers []*ir.GetLocal) bool {
	mine := pointerSet(pointers)
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if ld, ok := in.(*ir.Load); ok && mine[ld.Ptr] {
				return true
			}
		}
	}
	return false
}

// dropSlot removes a slot that has no readers left: every store through its
// pointers, the pointers themselves, and the frame entry.
func dropSlot(f *ir.Function, l *ir.Local, pointers []*ir.GetLocal) {
	mine := pointerSet(pointers)
	for _, b := range f.Blocks {
		for i := len(b.Instrs) - 1; i >= 0; i-- {
			switch t := b.Instrs[i].(type) {
			case *ir.Store:
				if mine[t.Ptr] {
					b.RemoveAt(i)
				}
			case *ir.GetLocal:
				if t.Local == l {
					b.RemoveAt(i)
				}
			}
		}
	}
	f.RemoveLocal(l)
}

func pointerSet(pointers []*ir.GetLocal) map[ir.Value]bool {
	mine := make(map[ir.Value]bool, len(pointers))
	for _, gl := range pointers {
		mine[gl] = true
	}
	return mine
}
