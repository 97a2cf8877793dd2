package ir

// ValueMap rewrites values, blocks, and locals while instructions are copied
// between functions. Unmapped entries pass through unchanged, so an inlined
// body may keep referring to caller values.
type ValueMap struct {
	Values map[Value]Value
	Blocks map[*Block]*Block
	Locals map[*Local]*Local
}

// NewValueMap returns an empty mapping.
func NewValueMap() *ValueMap {
	return &ValueMap{
		Values: make(map[Value]Value),
		Blocks: make(map[*Block]*Block),
		Locals: make(map[*Local]*Local),
	}
}

func (m *ValueMap) value(v Value) Value {
	if n, ok := m.Values[v]; ok {
		return n
	}
	return v
}

func (m *ValueMap) values(vs []Value) []Value {
	if vs == nil {
		return nil
	}
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[i] = m.value(v)
	}
	return out
}

func (m *ValueMap) block(b *Block) *Block {
	if n, ok := m.Blocks[b]; ok {
		return n
	}
	return b
}

func (m *ValueMap) local(l *Local) *Local {
	if n, ok := m.Locals[l]; ok {
		return n
	}
	return l
}

// Rewrite re-applies the mapping to an instruction's operand slots in
// place. Block slice order need not match definition order, so a clone
// sweep in slice order can copy a use before its definition's mapping
// exists; callers run Rewrite over the finished clones to settle those
// slots.
func (m *ValueMap) Rewrite(in Instr) {
	for _, slot := range in.operands() {
		if n, ok := m.Values[*slot]; ok {
			*slot = n
		}
	}
}

// CloneInstr copies one instruction, rewriting operands through vm. The copy
// carries the original span and no parent; the caller appends it to a block.
// Cloned value-producing instructions are recorded in vm.Values so later
// clones see their remapped results.
func CloneInstr(in Instr, vm *ValueMap) Instr {
	var out Instr
	switch t := in.(type) {
	case *ConstInstr:
		out = &ConstInstr{C: t.C, Ty: t.Ty}
	case *GetLocal:
		out = &GetLocal{Local: vm.local(t.Local), Ty: t.Ty}
	case *GetElemPtr:
		out = &GetElemPtr{Base: vm.value(t.Base), Indices: vm.values(t.Indices), Ty: t.Ty}
	case *Load:
		out = &Load{Ptr: vm.value(t.Ptr), Ty: t.Ty}
	case *Store:
		out = &Store{Val: vm.value(t.Val), Ptr: vm.value(t.Ptr)}
	case *MemCopyVal:
		out = &MemCopyVal{Dst: vm.value(t.Dst), Src: vm.value(t.Src)}
	case *MemCopyBytes:
		out = &MemCopyBytes{Dst: vm.value(t.Dst), Src: vm.value(t.Src), Len: t.Len}
	case *PtrToInt:
		out = &PtrToInt{Ptr: vm.value(t.Ptr)}
	case *IntToPtr:
		out = &IntToPtr{Int: vm.value(t.Int), Ty: t.Ty}
	case *BinOp:
		out = &BinOp{Op: t.Op, X: vm.value(t.X), Y: vm.value(t.Y)}
	case *UnOp:
		out = &UnOp{X: vm.value(t.X)}
	case *Cmp:
		out = &Cmp{Pred: t.Pred, X: vm.value(t.X), Y: vm.value(t.Y)}
	case *Call:
		out = &Call{Callee: t.Callee, Args: vm.values(t.Args)}
	case *GetConfig:
		out = &GetConfig{Name: t.Name, Ty: t.Ty}
	case *AsmBlock:
		args := make([]AsmArg, len(t.Args))
		for i, a := range t.Args {
			args[i] = AsmArg{Reg: a.Reg}
			if a.Init != nil {
				args[i].Init = vm.value(a.Init)
			}
		}
		ops := make([]AsmOp, len(t.Ops))
		for i, op := range t.Ops {
			regs := make([]string, len(op.Regs))
			copy(regs, op.Regs)
			ops[i] = AsmOp{Name: op.Name, Regs: regs, Imm: op.Imm}
		}
		out = &AsmBlock{Args: args, Ops: ops, RetReg: t.RetReg, Ty: t.Ty}
	case *Br:
		out = &Br{Target: vm.block(t.Target), Args: vm.values(t.Args)}
	case *CondBr:
		out = &CondBr{
			Cond:     vm.value(t.Cond),
			Then:     vm.block(t.Then),
			Else:     vm.block(t.Else),
			ThenArgs: vm.values(t.ThenArgs),
			ElseArgs: vm.values(t.ElseArgs),
		}
	case *Ret:
		out = &Ret{Val: vm.value(t.Val)}
	case *Revert:
		out = &Revert{Code: vm.value(t.Code)}
	default:
		panic("ir: clone of unknown instruction")
	}
	out.SetSpan(in.Span())
	if oldVal, ok := in.(Value); ok {
		vm.Values[oldVal] = out.(Value)
	}
	return out
}
