package ir

import (
	"fmt"

	"github.com/cinder-lang/cinder/internal/source"
	"github.com/holiman/uint256"
)

// Builder appends instructions to a function at a movable insertion point.
// Every emitted instruction inherits the builder's current span.
type Builder struct {
	Fn   *Function
	Blk  *Block
	span source.Span
}

// NewBuilder returns a builder positioned at the function's entry block.
func NewBuilder(f *Function) *Builder {
	return &Builder{Fn: f, Blk: f.Entry()}
}

// SetBlock moves the insertion point to the end of blk.
func (b *Builder) SetBlock(blk *Block) { b.Blk = blk }

// At sets the span applied to subsequently emitted instructions.
func (b *Builder) At(sp source.Span) *Builder {
	b.span = sp
	return b
}

func (b *Builder) emit(in Instr) Instr {
	in.SetSpan(b.span)
	b.Blk.Append(in)
	return in
}

// Const materializes an interned constant.
func (b *Builder) Const(c ConstRef) Value {
	in := &ConstInstr{C: c, Ty: b.Fn.Mod.Consts.Get(c).Ty}
	b.emit(in)
	return in
}

// Uint materializes an integer constant of the given scalar type.
func (b *Builder) Uint(ty Type, v uint64) Value {
	m := b.Fn.Mod
	return b.Const(m.Consts.Uint(ty, v, m.Types))
}

// Wide materializes a 256-bit constant.
func (b *Builder) Wide(v *uint256.Int) Value {
	return b.Const(b.Fn.Mod.Consts.Wide(v))
}

// Bool materializes a boolean constant.
func (b *Builder) Bool(v bool) Value {
	return b.Const(b.Fn.Mod.Consts.Bool(v))
}

// Unit materializes the unit constant.
func (b *Builder) Unit() Value {
	return b.Const(b.Fn.Mod.Consts.Unit())
}

// GetLocal produces a pointer to a frame slot.
func (b *Builder) GetLocal(l *Local) Value {
	in := &GetLocal{Local: l, Ty: b.Fn.Mod.Types.Pointer(l.Ty)}
	b.emit(in)
	return in
}

// GEP produces a pointer to an aggregate member. The result type is derived
// from the base pointee and the index path.
func (b *Builder) GEP(base Value, indices ...Value) (Value, error) {
	ts := b.Fn.Mod.Types
	if !ts.IsPointer(base.Type()) {
		return nil, fmt.Errorf("get_elem_ptr base is %s, want pointer", ts.String(base.Type()))
	}
	elem, err := ElemType(ts, b.Fn.Mod.Consts, ts.Elem(base.Type()), indices)
	if err != nil {
		return nil, err
	}
	in := &GetElemPtr{Base: base, Indices: indices, Ty: ts.Pointer(elem)}
	b.emit(in)
	return in, nil
}

// Load reads through a pointer; the result type is the pointee.
func (b *Builder) Load(ptr Value) Value {
	ts := b.Fn.Mod.Types
	in := &Load{Ptr: ptr, Ty: ts.Elem(ptr.Type())}
	b.emit(in)
	return in
}

// Store writes val through ptr.
func (b *Builder) Store(val, ptr Value) {
	b.emit(&Store{Val: val, Ptr: ptr})
}

// MemCopyVal copies the whole pointee from src to dst.
func (b *Builder) MemCopyVal(dst, src Value) {
	b.emit(&MemCopyVal{Dst: dst, Src: src})
}

// MemCopyBytes copies n raw bytes from src to dst.
func (b *Builder) MemCopyBytes(dst, src Value, n uint64) {
	b.emit(&MemCopyBytes{Dst: dst, Src: src, Len: n})
}

// PtrToInt reinterprets a pointer as u64.
func (b *Builder) PtrToInt(ptr Value) Value {
	in := &PtrToInt{Ptr: ptr}
	b.emit(in)
	return in
}

// IntToPtr reinterprets a u64 as a pointer to elem.
func (b *Builder) IntToPtr(v Value, elem Type) Value {
	in := &IntToPtr{Int: v, Ty: b.Fn.Mod.Types.Pointer(elem)}
	b.emit(in)
	return in
}

// Bin applies a binary operation.
func (b *Builder) Bin(op BinOpKind, x, y Value) Value {
	in := &BinOp{Op: op, X: x, Y: y}
	b.emit(in)
	return in
}

// Not applies bitwise not.
func (b *Builder) Not(x Value) Value {
	in := &UnOp{X: x}
	b.emit(in)
	return in
}

// Cmp compares two integers and yields bool.
func (b *Builder) Cmp(pred CmpPred, x, y Value) Value {
	in := &Cmp{Pred: pred, X: x, Y: y}
	b.emit(in)
	return in
}

// Call invokes callee with args.
func (b *Builder) Call(callee *Function, args ...Value) Value {
	in := &Call{Callee: callee, Args: args}
	b.emit(in)
	return in
}

// GetConfig yields a pointer to the named configurable's storage. The
// configurable must already be declared on the module.
func (b *Builder) GetConfig(name string) (Value, error) {
	m := b.Fn.Mod
	c := m.Config(name)
	if c == nil {
		return nil, fmt.Errorf("configurable %q is not declared", name)
	}
	in := &GetConfig{Name: name, Ty: m.Types.Pointer(c.Ty)}
	b.emit(in)
	return in, nil
}

// Asm embeds an opaque assembly block.
func (b *Builder) Asm(args []AsmArg, ops []AsmOp, retReg string, ty Type) Value {
	in := &AsmBlock{Args: args, Ops: ops, RetReg: retReg, Ty: ty}
	b.emit(in)
	return in
}

// Br terminates the current block with an unconditional branch.
func (b *Builder) Br(target *Block, args ...Value) {
	b.emit(&Br{Target: target, Args: args})
}

// CondBr terminates the current block with a conditional branch. Target
// arguments default to none; use CondBrArgs when the targets take params.
func (b *Builder) CondBr(cond Value, then, els *Block) {
	b.emit(&CondBr{Cond: cond, Then: then, Else: els})
}

// CondBrArgs is CondBr with explicit argument lists for both targets.
func (b *Builder) CondBrArgs(cond Value, then *Block, thenArgs []Value, els *Block, elseArgs []Value) {
	b.emit(&CondBr{Cond: cond, Then: then, Else: els, ThenArgs: thenArgs, ElseArgs: elseArgs})
}

// Ret terminates the current block returning val.
func (b *Builder) Ret(val Value) {
	b.emit(&Ret{Val: val})
}

// Revert terminates the current block aborting with the given code value.
func (b *Builder) Revert(code Value) {
	b.emit(&Revert{Code: code})
}

// ElemType walks an aggregate type along a get_elem_ptr index path and
// returns the selected element type. Struct and union steps need constant
// indices; array and string steps accept dynamic u64 values.
func ElemType(ts *Types, consts *Consts, base Type, indices []Value) (Type, error) {
	cur := base
	for step, idx := range indices {
		switch ts.Kind(cur) {
		case TypeStruct, TypeUnion:
			ci, ok := idx.(*ConstInstr)
			if !ok {
				return NoType, fmt.Errorf("index %d into %s must be constant", step, ts.String(cur))
			}
			c := consts.Get(ci.C)
			if c.Kind != ConstUint {
				return NoType, fmt.Errorf("index %d into %s must be an integer constant", step, ts.String(cur))
			}
			fields := ts.Fields(cur)
			if c.U64 >= uint64(len(fields)) {
				return NoType, fmt.Errorf("index %d out of range for %s", c.U64, ts.String(cur))
			}
			cur = fields[c.U64].Ty
		case TypeArray:
			if ci, ok := idx.(*ConstInstr); ok {
				c := consts.Get(ci.C)
				if c.Kind == ConstUint && c.U64 >= ts.Len(cur) {
					return NoType, fmt.Errorf("index %d out of range for %s", c.U64, ts.String(cur))
				}
			}
			cur = ts.Elem(cur)
		case TypeString:
			if ci, ok := idx.(*ConstInstr); ok {
				c := consts.Get(ci.C)
				if c.Kind == ConstUint && c.U64 >= ts.Len(cur) {
					return NoType, fmt.Errorf("index %d out of range for %s", c.U64, ts.String(cur))
				}
			}
			cur = U8Type
		default:
			return NoType, fmt.Errorf("cannot index into %s", ts.String(cur))
		}
	}
	return cur, nil
}
