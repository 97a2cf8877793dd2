package ir

import (
	"fmt"

	"github.com/cinder-lang/cinder/internal/source"
)

// ModuleKind tells the backend what artifact shape the module produces.
type ModuleKind uint8

const (
	KindScript   ModuleKind = iota // standalone executable with main entry
	KindContract                   // ABI-dispatched entry points
	KindLibrary                    // no bytecode entry, linked by callers
)

// String returns the textual IR keyword for the module kind.
func (k ModuleKind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindContract:
		return "contract"
	case KindLibrary:
		return "library"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Module owns everything the middle end works on: functions, the interned
// type and constant arenas, and configurable-constant declarations. A module
// is built single-threaded and never shared between goroutines.
type Module struct {
	Name    string
	Kind    ModuleKind
	Types   *Types
	Consts  *Consts
	Funcs   []*Function
	Configs []*ConfigDecl
}

// ConfigDecl declares one configurable constant: a module-level value with a
// compile-time default that deployment tooling may patch in the data section.
type ConfigDecl struct {
	Name    string
	Ty      Type
	Default ConstRef
	Span    source.Span
}

// NewModule returns an empty module with fresh arenas.
func NewModule(name string, kind ModuleKind) *Module {
	return &Module{
		Name:   name,
		Kind:   kind,
		Types:  NewTypes(),
		Consts: NewConsts(),
	}
}

// Function returns the named function or nil.
func (m *Module) Function(name string) *Function {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Config returns the named configurable declaration or nil.
func (m *Module) Config(name string) *ConfigDecl {
	for _, c := range m.Configs {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// NewFunction appends an empty function with an entry block.
func (m *Module) NewFunction(name string, ret Type) *Function {
	f := &Function{Name: name, RetTy: ret, Mod: m}
	f.NewBlock("entry")
	m.Funcs = append(m.Funcs, f)
	return f
}

// RemoveFunction unlinks a function from the module. Callers are
// responsible for having rewritten all call sites first.
func (m *Module) RemoveFunction(f *Function) {
	for i, g := range m.Funcs {
		if g == f {
			m.Funcs = append(m.Funcs[:i], m.Funcs[i+1:]...)
			return
		}
	}
}

// InlineHint is the front end's inlining request for a function.
type InlineHint uint8

const (
	InlineDefault InlineHint = iota
	InlineAlways
	InlineNever
)

// String returns the textual IR attribute for the hint, "" for default.
func (h InlineHint) String() string {
	switch h {
	case InlineAlways:
		return "inline(always)"
	case InlineNever:
		return "inline(never)"
	default:
		return ""
	}
}

// Function is one IR function. Parameters are the entry block's parameters;
// Blocks[0] is always the entry block.
type Function struct {
	Name    string
	RetTy   Type
	Hint    InlineHint
	IsEntry bool // exported entry point, kept alive and listed in the ABI
	Blocks  []*Block
	Locals  []*Local
	Mod     *Module
	Span    source.Span

	nblocks int // label counter for NewBlock
}

// Entry returns the function's entry block.
func (f *Function) Entry() *Block { return f.Blocks[0] }

// Params returns the function parameters (the entry block's parameters).
func (f *Function) Params() []*Param { return f.Blocks[0].Params }

// NewBlock appends a block, uniquing the label if needed.
func (f *Function) NewBlock(label string) *Block {
	if label == "" {
		label = "block"
	}
	name := label
	for f.blockNamed(name) != nil {
		f.nblocks++
		name = fmt.Sprintf("%s%d", label, f.nblocks)
	}
	b := &Block{Label: name, Fn: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

func (f *Function) blockNamed(label string) *Block {
	for _, b := range f.Blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}

// Block returns the block with the given label or nil.
func (f *Function) Block(label string) *Block { return f.blockNamed(label) }

// RemoveBlock unlinks a block. The caller guarantees nothing branches to it.
func (f *Function) RemoveBlock(b *Block) {
	for i, x := range f.Blocks {
		if x == b {
			f.Blocks = append(f.Blocks[:i], f.Blocks[i+1:]...)
			return
		}
	}
}

// NewLocal appends a named stack slot, uniquing the name if needed.
func (f *Function) NewLocal(name string, ty Type, mutable bool, init ConstRef) *Local {
	base := name
	for i := 1; f.Local(name) != nil; i++ {
		name = fmt.Sprintf("%s%d", base, i)
	}
	l := &Local{Name: name, Ty: ty, Mutable: mutable, Init: init}
	f.Locals = append(f.Locals, l)
	return l
}

// Local returns the named stack slot or nil.
func (f *Function) Local(name string) *Local {
	for _, l := range f.Locals {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// RemoveLocal unlinks a stack slot. The caller guarantees it has no uses.
func (f *Function) RemoveLocal(l *Local) {
	for i, x := range f.Locals {
		if x == l {
			f.Locals = append(f.Locals[:i], f.Locals[i+1:]...)
			return
		}
	}
}

// NumInstrs counts instructions across all blocks, the size measure used by
// the inliner budget.
func (f *Function) NumInstrs() int {
	n := 0
	for _, b := range f.Blocks {
		n += len(b.Instrs)
	}
	return n
}

// Local is a named, typed, frame-resident slot. All access goes through
// get_local followed by load, store, or pointer arithmetic.
type Local struct {
	Name    string
	Ty      Type
	Mutable bool
	Init    ConstRef // NoConst when uninitialized
}

// Block is a basic block: parameters, a straight-line instruction list, and
// a terminator as the final instruction.
type Block struct {
	Label  string
	Fn     *Function
	Params []*Param
	Instrs []Instr
}

// AddParam appends a block parameter and returns it.
func (b *Block) AddParam(name string, ty Type) *Param {
	p := &Param{Name: name, Ty: ty, Blk: b, Index: len(b.Params)}
	b.Params = append(b.Params, p)
	return p
}

// Append adds an instruction at the end of the block.
func (b *Block) Append(in Instr) {
	in.setParent(b)
	b.Instrs = append(b.Instrs, in)
}

// Terminator returns the block's final instruction when it is a terminator,
// nil otherwise (a verifier error, but printable for debugging).
func (b *Block) Terminator() Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if IsTerminator(last) {
		return last
	}
	return nil
}

// SetInstrs replaces the block's instruction list and reparents every entry.
func (b *Block) SetInstrs(ins []Instr) {
	for _, in := range ins {
		in.setParent(b)
	}
	b.Instrs = ins
}

// ReplaceAt swaps the instruction at index i for in, keeping its position.
func (b *Block) ReplaceAt(i int, in Instr) {
	in.setParent(b)
	b.Instrs[i] = in
}

// InsertAt places in before index i.
func (b *Block) InsertAt(i int, in Instr) {
	in.setParent(b)
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[i+1:], b.Instrs[i:])
	b.Instrs[i] = in
}

// RemoveAt deletes the instruction at index i.
func (b *Block) RemoveAt(i int) {
	copy(b.Instrs[i:], b.Instrs[i+1:])
	b.Instrs = b.Instrs[:len(b.Instrs)-1]
}

// Value is an SSA value: a block parameter or a value-producing instruction.
// Pointer identity is definition identity.
type Value interface {
	Type() Type
	valueNode()
}

// Param is a block parameter. Function parameters are the entry block's
// parameters; branch instructions supply arguments for every other block.
type Param struct {
	Name  string
	Ty    Type
	Blk   *Block
	Index int
}

func (p *Param) Type() Type { return p.Ty }
func (p *Param) valueNode() {}

// Instr is a sealed instruction. Concrete variants live in this package
// only, so passes can type-switch exhaustively.
type Instr interface {
	Parent() *Block
	Span() source.Span
	SetSpan(source.Span)
	// operands returns pointers to every value operand slot, letting
	// ReplaceUses and the inliner rewrite uses in place.
	operands() []*Value
	setParent(*Block)
	isInstr()
}

type instrBase struct {
	blk  *Block
	span source.Span
}

func (x *instrBase) Parent() *Block         { return x.blk }
func (x *instrBase) Span() source.Span      { return x.span }
func (x *instrBase) SetSpan(sp source.Span) { x.span = sp }
func (x *instrBase) setParent(b *Block)     { x.blk = b }
func (x *instrBase) isInstr()               {}

// ConstInstr materializes an interned constant as a value.
type ConstInstr struct {
	instrBase
	C  ConstRef
	Ty Type
}

func (c *ConstInstr) Type() Type         { return c.Ty }
func (c *ConstInstr) valueNode()         {}
func (c *ConstInstr) operands() []*Value { return nil }

// GetLocal produces a pointer to a frame slot of the enclosing function.
type GetLocal struct {
	instrBase
	Local *Local
	Ty    Type // ptr to Local.Ty
}

func (g *GetLocal) Type() Type         { return g.Ty }
func (g *GetLocal) valueNode()         {}
func (g *GetLocal) operands() []*Value { return nil }

// GetElemPtr computes a pointer to a field or element of an aggregate. The
// base is a pointer to the aggregate; indices step through struct fields,
// union variants, and array elements in order.
type GetElemPtr struct {
	instrBase
	Base    Value
	Indices []Value
	Ty      Type // ptr to the selected element
}

func (g *GetElemPtr) Type() Type { return g.Ty }
func (g *GetElemPtr) valueNode() {}
func (g *GetElemPtr) operands() []*Value {
	out := make([]*Value, 0, len(g.Indices)+1)
	out = append(out, &g.Base)
	for i := range g.Indices {
		out = append(out, &g.Indices[i])
	}
	return out
}

// Load reads a scalar value through a pointer. Aggregates move between
// memory locations with mem_copy_val instead.
type Load struct {
	instrBase
	Ptr Value
	Ty  Type
}

func (l *Load) Type() Type         { return l.Ty }
func (l *Load) valueNode()         {}
func (l *Load) operands() []*Value { return []*Value{&l.Ptr} }

// Store writes a scalar value through a pointer.
type Store struct {
	instrBase
	Val Value
	Ptr Value
}

func (s *Store) operands() []*Value { return []*Value{&s.Val, &s.Ptr} }

// MemCopyVal copies a whole value between two pointers of the same pointee
// type; the byte count is the pointee size.
type MemCopyVal struct {
	instrBase
	Dst Value
	Src Value
}

func (m *MemCopyVal) operands() []*Value { return []*Value{&m.Dst, &m.Src} }

// MemCopyBytes copies an explicit byte count between raw pointers.
type MemCopyBytes struct {
	instrBase
	Dst Value
	Src Value
	Len uint64
}

func (m *MemCopyBytes) operands() []*Value { return []*Value{&m.Dst, &m.Src} }

// PtrToInt reinterprets a pointer as u64.
type PtrToInt struct {
	instrBase
	Ptr Value
}

func (p *PtrToInt) Type() Type         { return U64Type }
func (p *PtrToInt) valueNode()         {}
func (p *PtrToInt) operands() []*Value { return []*Value{&p.Ptr} }

// IntToPtr reinterprets a u64 as a typed pointer.
type IntToPtr struct {
	instrBase
	Int Value
	Ty  Type // the pointer type produced
}

func (p *IntToPtr) Type() Type         { return p.Ty }
func (p *IntToPtr) valueNode()         {}
func (p *IntToPtr) operands() []*Value { return []*Value{&p.Int} }

// BinOpKind is a two-operand arithmetic or bitwise operation.
type BinOpKind uint8

const (
	OpAdd BinOpKind = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
)

var binOpNames = [...]string{"add", "sub", "mul", "div", "mod", "and", "or", "xor", "shl", "shr"}

// String returns the textual IR mnemonic.
func (k BinOpKind) String() string {
	if int(k) < len(binOpNames) {
		return binOpNames[k]
	}
	return fmt.Sprintf("binop(%d)", uint8(k))
}

// BinOp applies an unsigned, wrapping arithmetic or bitwise operation to two
// operands of the same integer type.
type BinOp struct {
	instrBase
	Op BinOpKind
	X  Value
	Y  Value
}

func (b *BinOp) Type() Type         { return b.X.Type() }
func (b *BinOp) valueNode()         {}
func (b *BinOp) operands() []*Value { return []*Value{&b.X, &b.Y} }

// UnOp is the single unary operation: bitwise not.
type UnOp struct {
	instrBase
	X Value
}

func (u *UnOp) Type() Type         { return u.X.Type() }
func (u *UnOp) valueNode()         {}
func (u *UnOp) operands() []*Value { return []*Value{&u.X} }

// CmpPred is an unsigned comparison predicate.
type CmpPred uint8

const (
	CmpEq CmpPred = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

var cmpNames = [...]string{"eq", "ne", "lt", "le", "gt", "ge"}

// String returns the textual IR mnemonic.
func (p CmpPred) String() string {
	if int(p) < len(cmpNames) {
		return cmpNames[p]
	}
	return fmt.Sprintf("pred(%d)", uint8(p))
}

// Cmp compares two integer operands of the same type and yields bool.
type Cmp struct {
	instrBase
	Pred CmpPred
	X    Value
	Y    Value
}

func (c *Cmp) Type() Type         { return BoolType }
func (c *Cmp) valueNode()         {}
func (c *Cmp) operands() []*Value { return []*Value{&c.X, &c.Y} }

// Call invokes another function in the same module and continues in the
// current block with the callee's result.
type Call struct {
	instrBase
	Callee *Function
	Args   []Value
}

func (c *Call) Type() Type { return c.Callee.RetTy }
func (c *Call) valueNode() {}
func (c *Call) operands() []*Value {
	out := make([]*Value, len(c.Args))
	for i := range c.Args {
		out[i] = &c.Args[i]
	}
	return out
}

// GetConfig yields a pointer to a configurable constant's storage: a
// data-section slot when the target supports patching, otherwise a local
// frozen to the declared default.
type GetConfig struct {
	instrBase
	Name string
	Ty   Type // ptr to the declared type
}

func (g *GetConfig) Type() Type         { return g.Ty }
func (g *GetConfig) valueNode()         {}
func (g *GetConfig) operands() []*Value { return nil }

// AsmArg binds a named virtual register of an asm block to an optional
// initializer value.
type AsmArg struct {
	Reg  string
	Init Value // nil for uninitialized scratch registers
}

// AsmOp is one verbatim instruction inside an asm block: a mnemonic, the
// register names it mentions, and an optional trailing immediate.
type AsmOp struct {
	Name string
	Regs []string
	Imm  string
}

// AsmBlock embeds target assembly opaquely. The compiler tracks only the
// register bindings (uses) and the declared result.
type AsmBlock struct {
	instrBase
	Args   []AsmArg
	Ops    []AsmOp
	RetReg string // "" when the block produces no value
	Ty     Type   // UnitType when RetReg is ""
}

func (a *AsmBlock) Type() Type { return a.Ty }
func (a *AsmBlock) valueNode() {}
func (a *AsmBlock) operands() []*Value {
	var out []*Value
	for i := range a.Args {
		if a.Args[i].Init != nil {
			out = append(out, &a.Args[i].Init)
		}
	}
	return out
}

// Br jumps unconditionally, passing arguments to the target's parameters.
type Br struct {
	instrBase
	Target *Block
	Args   []Value
}

func (b *Br) operands() []*Value {
	out := make([]*Value, len(b.Args))
	for i := range b.Args {
		out[i] = &b.Args[i]
	}
	return out
}

// CondBr branches on a bool to one of two targets with their arguments.
type CondBr struct {
	instrBase
	Cond     Value
	Then     *Block
	Else     *Block
	ThenArgs []Value
	ElseArgs []Value
}

func (c *CondBr) operands() []*Value {
	out := make([]*Value, 0, 1+len(c.ThenArgs)+len(c.ElseArgs))
	out = append(out, &c.Cond)
	for i := range c.ThenArgs {
		out = append(out, &c.ThenArgs[i])
	}
	for i := range c.ElseArgs {
		out = append(out, &c.ElseArgs[i])
	}
	return out
}

// Ret returns from the function. Unit functions return the unit constant.
type Ret struct {
	instrBase
	Val Value
}

func (r *Ret) operands() []*Value { return []*Value{&r.Val} }

// Revert aborts the whole transaction with a numeric code. Execution never
// continues past it.
type Revert struct {
	instrBase
	Code Value
}

func (r *Revert) operands() []*Value { return []*Value{&r.Code} }

// IsTerminator reports whether the instruction ends a block.
func IsTerminator(in Instr) bool {
	switch in.(type) {
	case *Br, *CondBr, *Ret, *Revert:
		return true
	}
	return false
}

// HasSideEffects reports whether the instruction must survive dead code
// elimination even when its result is unused.
func HasSideEffects(in Instr) bool {
	switch in.(type) {
	case *Store, *MemCopyVal, *MemCopyBytes, *Call, *AsmBlock, *Br, *CondBr, *Ret, *Revert:
		return true
	}
	return false
}

// Successors returns the blocks a terminator can transfer control to.
func Successors(in Instr) []*Block {
	switch t := in.(type) {
	case *Br:
		return []*Block{t.Target}
	case *CondBr:
		return []*Block{t.Then, t.Else}
	}
	return nil
}

// ReplaceUses rewrites every operand slot in the function that currently
// holds old to hold new. Definitions are untouched.
func ReplaceUses(f *Function, old, new Value) {
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			for _, slot := range in.operands() {
				if *slot == old {
					*slot = new
				}
			}
		}
	}
}

// Uses counts how many operand slots reference each value in the function.
func Uses(f *Function) map[Value]int {
	uses := make(map[Value]int)
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			for _, slot := range in.operands() {
				uses[*slot]++
			}
		}
	}
	return uses
}

// Predecessors computes the predecessor sets of every block.
func Predecessors(f *Function) map[*Block][]*Block {
	preds := make(map[*Block][]*Block, len(f.Blocks))
	for _, b := range f.Blocks {
		if t := b.Terminator(); t != nil {
			for _, s := range Successors(t) {
				preds[s] = append(preds[s], b)
			}
		}
	}
	return preds
}
