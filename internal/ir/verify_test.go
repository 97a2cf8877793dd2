package ir

import (
	"strings"
	"testing"
)

// retUnit gives a block the minimal legal terminator.
func retUnit(b *Builder) {
	b.Ret(b.Unit())
}

func TestVerifyCatchesCorruption(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Module
		want  string
	}{
		{
			name: "branch to a block of another function",
			build: func() *Module {
				m := NewModule("m", KindScript)
				other := m.NewFunction("other", UnitType)
				retUnit(NewBuilder(other))
				f := m.NewFunction("f", UnitType)
				f.Entry().Append(&Br{Target: other.Entry()})
				return m
			},
			want: "not in this function",
		},
		{
			name: "store type mismatch",
			build: func() *Module {
				m := NewModule("m", KindScript)
				f := m.NewFunction("f", UnitType)
				l := f.NewLocal("x", U64Type, true, NoConst)
				b := NewBuilder(f)
				b.Store(b.Bool(true), b.GetLocal(l))
				retUnit(b)
				return m
			},
			want: "store of bool through ptr u64",
		},
		{
			name: "use before definition",
			build: func() *Module {
				m := NewModule("m", KindScript)
				f := m.NewFunction("f", U64Type)
				b := NewBuilder(f)
				v := b.Uint(U64Type, 1)
				sum := b.Bin(OpAdd, v, v)
				b.Ret(sum)
				ins := f.Entry().Instrs
				ins[0], ins[1] = ins[1], ins[0]
				return m
			},
			want: "before its definition",
		},
		{
			name: "definition does not dominate cross-block use",
			build: func() *Module {
				m := NewModule("m", KindScript)
				f := m.NewFunction("f", UnitType)
				flag := f.Entry().AddParam("flag", BoolType)
				a := f.NewBlock("a")
				c := f.NewBlock("c")
				b := NewBuilder(f)
				b.CondBr(flag, a, c)
				b.SetBlock(a)
				v := b.Uint(U64Type, 1)
				retUnit(b)
				b.SetBlock(c)
				b.Bin(OpAdd, v, v)
				retUnit(b)
				return m
			},
			want: "does not dominate",
		},
		{
			name: "local read before any store",
			build: func() *Module {
				m := NewModule("m", KindScript)
				f := m.NewFunction("f", U64Type)
				l := f.NewLocal("x", U64Type, false, NoConst)
				b := NewBuilder(f)
				b.Ret(b.Load(b.GetLocal(l)))
				return m
			},
			want: "read before any store",
		},
		{
			name: "terminator in the middle of a block",
			build: func() *Module {
				m := NewModule("m", KindScript)
				f := m.NewFunction("f", UnitType)
				b := NewBuilder(f)
				u := b.Unit()
				b.Ret(u)
				f.Entry().Append(&Ret{Val: u})
				return m
			},
			want: "terminator in the middle",
		},
		{
			name: "get_elem_ptr index out of bounds",
			build: func() *Module {
				m := NewModule("m", KindScript)
				ts := m.Types
				pair := ts.Tuple(U64Type, U64Type)
				f := m.NewFunction("f", UnitType)
				l := f.NewLocal("p", pair, true, NoConst)
				b := NewBuilder(f)
				base := b.GetLocal(l)
				idx := b.Uint(U64Type, 5)
				f.Entry().Append(&GetElemPtr{Base: base, Indices: []Value{idx}, Ty: ts.Pointer(U64Type)})
				retUnit(b)
				return m
			},
			want: "get_elem_ptr",
		},
		{
			name: "entry block has predecessors",
			build: func() *Module {
				m := NewModule("m", KindScript)
				f := m.NewFunction("f", UnitType)
				loop := f.NewBlock("loop")
				b := NewBuilder(f)
				b.Br(loop)
				b.SetBlock(loop)
				b.emit(&Br{Target: f.Entry()})
				return m
			},
			want: "entry block has predecessors",
		},
		{
			name: "branch argument count mismatch",
			build: func() *Module {
				m := NewModule("m", KindScript)
				f := m.NewFunction("f", U64Type)
				join := f.NewBlock("join")
				r := join.AddParam("r", U64Type)
				b := NewBuilder(f)
				b.Br(join)
				b.SetBlock(join)
				b.Ret(r)
				return m
			},
			want: "with 0 args, want 1",
		},
		{
			name: "call argument type mismatch",
			build: func() *Module {
				m := NewModule("m", KindScript)
				callee := m.NewFunction("callee", U64Type)
				n := callee.Entry().AddParam("n", U64Type)
				NewBuilder(callee).Ret(n)
				f := m.NewFunction("f", U64Type)
				b := NewBuilder(f)
				b.Ret(b.Call(callee, b.Bool(false)))
				return m
			},
			want: "arg 0 is bool, want u64",
		},
		{
			name: "asm result register unbound",
			build: func() *Module {
				m := NewModule("m", KindScript)
				f := m.NewFunction("f", U64Type)
				b := NewBuilder(f)
				v := b.Asm([]AsmArg{{Reg: "a"}}, []AsmOp{{Name: "movi", Regs: []string{"a"}, Imm: "1"}}, "q", U64Type)
				b.Ret(v)
				return m
			},
			want: `result register "q" is not bound`,
		},
		{
			name: "mem_copy_val pointee mismatch",
			build: func() *Module {
				m := NewModule("m", KindScript)
				f := m.NewFunction("f", UnitType)
				l1 := f.NewLocal("a", U64Type, true, NoConst)
				l2 := f.NewLocal("b", U32Type, true, NoConst)
				b := NewBuilder(f)
				p1 := b.GetLocal(l1)
				p2 := b.GetLocal(l2)
				b.MemCopyVal(p1, p2)
				retUnit(b)
				return m
			},
			want: "mem_copy_val between",
		},
		{
			name: "configurable default type mismatch",
			build: func() *Module {
				m := NewModule("m", KindContract)
				m.Configs = append(m.Configs, &ConfigDecl{
					Name:    "limit",
					Ty:      U64Type,
					Default: m.Consts.Bool(true),
				})
				return m
			},
			want: "declared u64 but default is bool",
		},
		{
			name: "duplicate function names",
			build: func() *Module {
				m := NewModule("m", KindScript)
				retUnit(NewBuilder(m.NewFunction("twin", UnitType)))
				retUnit(NewBuilder(m.NewFunction("twin", UnitType)))
				return m
			},
			want: "duplicate function",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.build())
			if err == nil {
				t.Fatalf("verifier accepted corrupt module")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
			if !strings.Contains(err.Error(), "internal compiler error") {
				t.Fatalf("verifier failure %q is not reported as an internal error", err)
			}
		})
	}
}

func TestVerifyToleratesUnreachableBlocks(t *testing.T) {
	m := NewModule("m", KindScript)
	f := m.NewFunction("f", U64Type)
	b := NewBuilder(f)
	b.Ret(b.Uint(U64Type, 1))
	orphan := f.NewBlock("orphan")
	b.SetBlock(orphan)
	b.Ret(b.Uint(U64Type, 2))
	if err := Verify(m); err != nil {
		t.Fatalf("unreachable-but-wellformed block rejected: %v", err)
	}
}

func TestVerifyStoreReachesLoadAcrossBlocks(t *testing.T) {
	m := NewModule("m", KindScript)
	f := m.NewFunction("f", U64Type)
	l := f.NewLocal("x", U64Type, true, NoConst)
	next := f.NewBlock("next")
	b := NewBuilder(f)
	b.Store(b.Uint(U64Type, 9), b.GetLocal(l))
	b.Br(next)
	b.SetBlock(next)
	b.Ret(b.Load(b.GetLocal(l)))
	if err := Verify(m); err != nil {
		t.Fatalf("store in entry should reach load in successor: %v", err)
	}
}
