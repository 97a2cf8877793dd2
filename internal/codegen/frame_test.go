package codegen

import (
	"fmt"
	"testing"

	"github.com/cinder-lang/cinder/internal/ir"
)

func TestFrameLaysOutLocalsInOrder(t *testing.T) {
	m := ir.NewModule("frames", ir.KindScript)
	f := m.NewFunction("main", ir.UnitType)
	f.NewLocal("byte", ir.U8Type, true, ir.NoConst)
	f.NewLocal("word", ir.U64Type, true, ir.NoConst)
	f.NewLocal("blob", m.Types.Array(ir.U8Type, 3), true, ir.NoConst)
	f.NewLocal("wide", ir.U256Type, true, ir.NoConst)

	fr := newFrame(f)
	want := map[string]uint64{
		"byte": 0,  // one byte, no alignment
		"word": 8,  // padded up to its eight-byte alignment
		"blob": 16, // byte array packs right after
		"wide": 24, // padded again for the 256-bit value
	}
	for _, l := range f.Locals {
		if got := fr.locals[l]; got != want[l.Name] {
			t.Errorf("local %s at offset %d, want %d", l.Name, got, want[l.Name])
		}
	}
	if got := fr.total(); got != 56 {
		t.Fatalf("frame total = %d, want 56", got)
	}
}

func TestFrameTempsFollowLocals(t *testing.T) {
	m := ir.NewModule("frames", ir.KindScript)
	f := m.NewFunction("main", ir.UnitType)
	f.NewLocal("x", ir.U64Type, true, ir.NoConst)

	fr := newFrame(f)
	if off := fr.temp(32, 8); off != 8 {
		t.Fatalf("first temp at %d, want 8", off)
	}
	if off := fr.temp(1, 1); off != 40 {
		t.Fatalf("second temp at %d, want 40", off)
	}
	if got := fr.total(); got != 48 {
		t.Fatalf("frame total = %d, want the last temp padded to 48", got)
	}
}

func TestFrameSpillSlotsComeLast(t *testing.T) {
	m := ir.NewModule("frames", ir.KindScript)
	f := m.NewFunction("main", ir.UnitType)

	fr := newFrame(f)
	fr.temp(12, 4)
	fr.reserveSpills(2)
	if fr.spill0 != 16 {
		t.Fatalf("spill region at %d, want 16", fr.spill0)
	}
	if got := fr.spillOffset(1); got != 24 {
		t.Fatalf("spill slot 1 at %d, want 24", got)
	}
	if got := fr.total(); got != 32 {
		t.Fatalf("frame total = %d, want 32", got)
	}
}

func TestFrameEmptyIsZero(t *testing.T) {
	m := ir.NewModule("frames", ir.KindScript)
	f := m.NewFunction("main", ir.UnitType)

	fr := newFrame(f)
	if got := fr.total(); got != 0 {
		t.Fatalf("empty frame total = %d, want 0", got)
	}
}

// The type model is the only layout oracle: a local's frame slot must be
// exactly as large as ir.SizeOf says, for aggregates nested four deep.
func TestFrameSlotSizesMatchTypeModel(t *testing.T) {
	m := ir.NewModule("frames", ir.KindScript)
	ts := m.Types
	inner := ts.Struct([]ir.Field{{Name: "a", Ty: ir.U64Type}})
	pair := ts.Tuple(ir.U64Type, ir.U64Type)
	outer := ts.Struct([]ir.Field{{Name: "a", Ty: inner}, {Name: "x", Ty: pair}})
	deep := ts.Array(outer, 3)
	union := ts.Union([]ir.Field{{Name: "one", Ty: inner}, {Name: "many", Ty: deep}})

	for i, ty := range []ir.Type{inner, pair, outer, deep, union} {
		f := m.NewFunction(fmt.Sprintf("probe%d", i), ir.UnitType)
		l := f.NewLocal("slot", ty, true, ir.NoConst)
		fr := newFrame(f)
		if off := fr.locals[l]; off != 0 {
			t.Errorf("%s: lone local at offset %d, want 0", ts.String(ty), off)
		}
		if got, want := fr.total(), ts.SizeOf(ty); got != want {
			t.Errorf("%s: frame slot spans %d bytes, SizeOf says %d", ts.String(ty), got, want)
		}
	}
}
