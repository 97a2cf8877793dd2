package codegen

import (
	"strconv"

	"github.com/cinder-lang/cinder/internal/buildcfg"
	"github.com/cinder-lang/cinder/internal/codegen/regalloc"
	"github.com/cinder-lang/cinder/internal/ir"
	"github.com/cinder-lang/cinder/internal/source"
	"github.com/cinder-lang/cinder/internal/vm"
)

// reg is an instruction operand before allocation. Values below vm.NumRegs
// are physical CVM registers; everything from vm.NumRegs up is a virtual
// register waiting for linear scan.
type reg uint32

func phys(r vm.Reg) reg     { return reg(r) }
func (r reg) virtual() bool { return r >= vm.NumRegs }
func (r reg) vreg() regalloc.VReg {
	return regalloc.VReg(r - vm.NumRegs)
}

// vinstr is one CVM instruction with symbolic pieces still unresolved:
// operands may be virtual registers, an intra-function branch names its
// target block, and a call names the IR callee. raw marks verbatim asm
// block ops, which the optimizer sweep leaves alone.
type vinstr struct {
	op  vm.Opcode
	a   reg
	b   reg
	c   reg
	d   reg
	imm uint32

	target *ir.Block    // branch target; nil for verbatim immediates
	callee *ir.Function // call target patched during module layout
	span   source.Span
	raw    bool
}

// fngen lowers one function. Blocks keep their IR order; every IR value
// maps to exactly one register, created on first touch. Types wider than a
// register hold the address of their bytes instead, so arithmetic on them
// goes through the memory opcodes.
type fngen struct {
	g     *gen
	fn    *ir.Function
	ts    *ir.Types
	frame *frame

	code   []vinstr
	labels map[*ir.Block]int
	vals   map[ir.Value]reg
	// frameAddrs notes values that are statically $fp+offset, letting
	// loads and stores through them fold into the immediate field.
	frameAddrs map[ir.Value]uint64
	nvreg      uint32
	at         source.Span
}

func newFngen(g *gen, f *ir.Function) *fngen {
	return &fngen{
		g:          g,
		fn:         f,
		ts:         f.Mod.Types,
		frame:      newFrame(f),
		labels:     make(map[*ir.Block]int),
		vals:       make(map[ir.Value]reg),
		frameAddrs: make(map[ir.Value]uint64),
	}
}

func (x *fngen) errf(format string, args ...interface{}) error {
	return newError(x.fn.Name, x.at, format, args...)
}

func (x *fngen) emit(in vinstr) {
	in.span = x.at
	x.code = append(x.code, in)
}

func (x *fngen) newVReg() reg {
	r := reg(vm.NumRegs) + reg(x.nvreg)
	x.nvreg++
	return r
}

// valueReg returns the register carrying v, creating a virtual register on
// first use. Unit values live in $zero.
func (x *fngen) valueReg(v ir.Value) reg {
	if v.Type() == ir.UnitType {
		return phys(vm.RegZero)
	}
	if r, ok := x.vals[v]; ok {
		return r
	}
	r := x.newVReg()
	x.vals[v] = r
	return r
}

// lower translates the whole function into virtual-register code: one CFEI
// to claim the frame, the incoming arguments copied out of the argument
// registers, initialized locals seeded from their data-section templates,
// then every block in order.
func (x *fngen) lower() error {
	for _, b := range x.fn.Blocks {
		for _, p := range b.Params {
			x.valueReg(p)
		}
	}
	x.at = x.fn.Span
	x.emit(vinstr{op: vm.CFEI}) // size patched once spills are known
	for i, p := range x.fn.Params() {
		if p.Ty == ir.UnitType {
			continue
		}
		x.emit(vinstr{op: vm.MOV, a: x.valueReg(p), b: phys(vm.RegArg0 + vm.Reg(i))})
	}
	if err := x.seedLocals(); err != nil {
		return err
	}
	for bi, b := range x.fn.Blocks {
		x.labels[b] = len(x.code)
		var next *ir.Block
		if bi+1 < len(x.fn.Blocks) {
			next = x.fn.Blocks[bi+1]
		}
		for _, in := range b.Instrs {
			x.at = in.Span()
			if err := x.lowerInstr(in, next); err != nil {
				return err
			}
		}
	}
	return nil
}

// seedLocals copies every initialized local's template into its frame
// slot. Scalars store directly; aggregates and wide values copy from the
// interned template in the data section.
func (x *fngen) seedLocals() error {
	for _, l := range x.fn.Locals {
		if l.Init == ir.NoConst {
			continue
		}
		size := x.ts.SizeOf(l.Ty)
		if size == 0 {
			continue
		}
		off := x.frame.locals[l]
		if x.ts.IsRegisterSized(l.Ty) {
			v := x.newVReg()
			if err := x.constInto(v, l.Init); err != nil {
				return err
			}
			if err := x.storeToFrame(v, off, size); err != nil {
				return err
			}
			continue
		}
		src := x.newVReg()
		if err := x.dataAddrInto(src, x.g.data.constOffset(l.Init)); err != nil {
			return err
		}
		dst := x.newVReg()
		if err := x.addrInto(dst, off); err != nil {
			return err
		}
		if err := x.copyBytes(dst, src, size); err != nil {
			return err
		}
	}
	return nil
}

func (x *fngen) lowerInstr(in ir.Instr, next *ir.Block) error {
	switch t := in.(type) {
	case *ir.ConstInstr:
		return x.lowerConst(t)
	case *ir.GetLocal:
		off := x.frame.locals[t.Local]
		if err := x.addrInto(x.valueReg(t), off); err != nil {
			return err
		}
		x.frameAddrs[t] = off
		return nil
	case *ir.GetElemPtr:
		return x.lowerGEP(t)
	case *ir.Load:
		return x.lowerLoad(t)
	case *ir.Store:
		return x.lowerStore(t)
	case *ir.MemCopyVal:
		size := x.ts.SizeOf(x.ts.Elem(t.Dst.Type()))
		return x.copyBytes(x.valueReg(t.Dst), x.valueReg(t.Src), size)
	case *ir.MemCopyBytes:
		return x.copyBytes(x.valueReg(t.Dst), x.valueReg(t.Src), t.Len)
	case *ir.PtrToInt:
		x.emit(vinstr{op: vm.MOV, a: x.valueReg(t), b: x.valueReg(t.Ptr)})
		return nil
	case *ir.IntToPtr:
		x.emit(vinstr{op: vm.MOV, a: x.valueReg(t), b: x.valueReg(t.Int)})
		return nil
	case *ir.BinOp:
		return x.lowerBin(t)
	case *ir.UnOp:
		return x.lowerNot(t)
	case *ir.Cmp:
		return x.lowerCmp(t)
	case *ir.Call:
		return x.lowerCall(t)
	case *ir.GetConfig:
		off, ok := x.g.data.configOffset(t.Name)
		if !ok {
			return x.errf("configurable %s has no data-section slot", t.Name)
		}
		return x.dataAddrInto(x.valueReg(t), off)
	case *ir.AsmBlock:
		return x.lowerAsm(t)
	case *ir.Br:
		return x.lowerBr(t, next)
	case *ir.CondBr:
		return x.lowerCondBr(t, next)
	case *ir.Ret:
		x.emit(vinstr{op: vm.RET, a: x.valueReg(t.Val)})
		return nil
	case *ir.Revert:
		x.emit(vinstr{op: vm.RVRT, a: x.valueReg(t.Code)})
		return nil
	}
	return x.errf("cannot lower %T", in)
}

func (x *fngen) lowerConst(t *ir.ConstInstr) error {
	if x.g.m.Consts.Get(t.C).Kind == ir.ConstUnit {
		return nil
	}
	return x.constInto(x.valueReg(t), t.C)
}

// constInto materializes a constant. Scalars land as values; wide values,
// strings and aggregates are interned in the data section and the register
// receives their address.
func (x *fngen) constInto(dst reg, ref ir.ConstRef) error {
	c := x.g.m.Consts.Get(ref)
	switch c.Kind {
	case ir.ConstUnit:
		x.emit(vinstr{op: vm.MOV, a: dst, b: phys(vm.RegZero)})
		return nil
	case ir.ConstBool:
		var v uint64
		if c.Bit {
			v = 1
		}
		return x.immInto(dst, v)
	case ir.ConstUint:
		return x.immInto(dst, c.U64)
	default:
		return x.dataAddrInto(dst, x.g.data.constOffset(ref))
	}
}

// immInto materializes a u64: movi when it fits the 18-bit field,
// otherwise a load of a pooled word.
func (x *fngen) immInto(dst reg, v uint64) error {
	if v <= vm.MaxImm18 {
		x.emit(vinstr{op: vm.MOVI, a: dst, imm: uint32(v)})
		return nil
	}
	return x.poolLoadInto(dst, x.g.data.wordOffset(v))
}

// poolLoadInto loads the eight-byte word at a data-section offset.
func (x *fngen) poolLoadInto(dst reg, off uint64) error {
	if off <= vm.MaxImm12 {
		x.emit(vinstr{op: vm.LD, a: dst, b: phys(vm.RegDS), imm: uint32(off)})
		return nil
	}
	t := x.newVReg()
	if err := x.dataAddrInto(t, off); err != nil {
		return err
	}
	x.emit(vinstr{op: vm.LD, a: dst, b: t})
	return nil
}

// dataAddrInto materializes $ds+off. The 18-bit dadr immediate bounds how
// much data a module can address.
func (x *fngen) dataAddrInto(dst reg, off uint64) error {
	if off > vm.MaxImm18 {
		return x.errf("data section offset %d exceeds the %d-byte addressable range", off, vm.MaxImm18+1)
	}
	x.emit(vinstr{op: vm.DADR, a: dst, imm: uint32(off)})
	return nil
}

// addrInto materializes $fp+off.
func (x *fngen) addrInto(dst reg, off uint64) error {
	if off <= vm.MaxImm12 {
		x.emit(vinstr{op: vm.ADDI, a: dst, b: phys(vm.RegFP), imm: uint32(off)})
		return nil
	}
	t := x.newVReg()
	if err := x.immInto(t, off); err != nil {
		return err
	}
	x.emit(vinstr{op: vm.ADD, a: dst, b: phys(vm.RegFP), c: t})
	return nil
}

// copyBytes copies size bytes between two addresses, preferring the
// immediate-count form on targets that carry it.
func (x *fngen) copyBytes(dst, src reg, size uint64) error {
	if size == 0 {
		return nil
	}
	if size <= vm.MaxImm12 && x.g.cfg.TargetAtLeast(vm.Describe(vm.MCPI).MinVM) {
		x.emit(vinstr{op: vm.MCPI, a: dst, b: src, imm: uint32(size)})
		return nil
	}
	n := x.newVReg()
	if err := x.immInto(n, size); err != nil {
		return err
	}
	x.emit(vinstr{op: vm.MCP, a: dst, b: src, c: n})
	return nil
}

// storeToFrame writes a register-sized value at $fp+off.
func (x *fngen) storeToFrame(v reg, off, size uint64) error {
	if off <= vm.MaxImm12 {
		x.emit(vinstr{op: storeOp(size), a: v, b: phys(vm.RegFP), imm: uint32(off)})
		return nil
	}
	p := x.newVReg()
	if err := x.addrInto(p, off); err != nil {
		return err
	}
	x.emit(vinstr{op: storeOp(size), a: v, b: p})
	return nil
}

func loadOp(size uint64) vm.Opcode {
	switch size {
	case 1:
		return vm.LB
	case 2:
		return vm.LH
	case 4:
		return vm.LW
	default:
		return vm.LD
	}
}

func storeOp(size uint64) vm.Opcode {
	switch size {
	case 1:
		return vm.SB
	case 2:
		return vm.SH
	case 4:
		return vm.SW
	default:
		return vm.SD
	}
}

func (x *fngen) lowerGEP(t *ir.GetElemPtr) error {
	cur := x.ts.Elem(t.Base.Type())
	var off uint64
	dyn := reg(0)
	haveDyn := false
	for _, idx := range t.Indices {
		switch x.ts.Kind(cur) {
		case ir.TypeStruct, ir.TypeUnion:
			i, err := x.constIndex(idx)
			if err != nil {
				return err
			}
			off += x.ts.FieldOffset(cur, int(i))
			cur = x.ts.Fields(cur)[i].Ty
		case ir.TypeArray, ir.TypeString:
			elem := ir.U8Type
			if x.ts.Kind(cur) == ir.TypeArray {
				elem = x.ts.Elem(cur)
			}
			esize := x.ts.SizeOf(elem)
			if ci, ok := constUint(x.g.m, idx); ok {
				off += ci * esize
			} else {
				s, err := x.scaleIndex(x.valueReg(idx), esize)
				if err != nil {
					return err
				}
				if haveDyn {
					sum := x.newVReg()
					x.emit(vinstr{op: vm.ADD, a: sum, b: dyn, c: s})
					dyn = sum
				} else {
					dyn, haveDyn = s, true
				}
			}
			cur = elem
		default:
			return x.errf("cannot index into %s", x.ts.String(cur))
		}
	}

	dst := x.valueReg(t)
	if base, ok := x.frameAddrs[t.Base]; ok && !haveDyn {
		total := base + off
		if err := x.addrInto(dst, total); err != nil {
			return err
		}
		x.frameAddrs[t] = total
		return nil
	}
	b := x.valueReg(t.Base)
	if haveDyn {
		sum := x.newVReg()
		x.emit(vinstr{op: vm.ADD, a: sum, b: b, c: dyn})
		b = sum
	}
	switch {
	case off == 0:
		x.emit(vinstr{op: vm.MOV, a: dst, b: b})
	case off <= vm.MaxImm12:
		x.emit(vinstr{op: vm.ADDI, a: dst, b: b, imm: uint32(off)})
	default:
		o := x.newVReg()
		if err := x.immInto(o, off); err != nil {
			return err
		}
		x.emit(vinstr{op: vm.ADD, a: dst, b: b, c: o})
	}
	return nil
}

// scaleIndex multiplies a dynamic element index by the element size.
func (x *fngen) scaleIndex(idx reg, esize uint64) (reg, error) {
	if esize == 1 {
		return idx, nil
	}
	s := x.newVReg()
	if esize <= vm.MaxImm12 {
		x.emit(vinstr{op: vm.MULI, a: s, b: idx, imm: uint32(esize)})
		return s, nil
	}
	e := x.newVReg()
	if err := x.immInto(e, esize); err != nil {
		return 0, err
	}
	x.emit(vinstr{op: vm.MUL, a: s, b: idx, c: e})
	return s, nil
}

func (x *fngen) constIndex(v ir.Value) (uint64, error) {
	if u, ok := constUint(x.g.m, v); ok {
		return u, nil
	}
	return 0, x.errf("aggregate field index is not a constant")
}

func constUint(m *ir.Module, v ir.Value) (uint64, bool) {
	ci, ok := v.(*ir.ConstInstr)
	if !ok {
		return 0, false
	}
	c := m.Consts.Get(ci.C)
	if c.Kind != ir.ConstUint {
		return 0, false
	}
	return c.U64, true
}

func (x *fngen) lowerLoad(t *ir.Load) error {
	dst := x.valueReg(t)
	size := x.ts.SizeOf(t.Ty)
	if !x.ts.IsRegisterSized(t.Ty) {
		off := x.frame.temp(size, x.ts.AlignOf(t.Ty))
		if err := x.addrInto(dst, off); err != nil {
			return err
		}
		x.frameAddrs[t] = off
		return x.copyBytes(dst, x.valueReg(t.Ptr), size)
	}
	in := vinstr{op: loadOp(size), a: dst}
	if off, ok := x.frameAddrs[t.Ptr]; ok && off <= vm.MaxImm12 {
		in.b, in.imm = phys(vm.RegFP), uint32(off)
	} else {
		in.b = x.valueReg(t.Ptr)
	}
	x.emit(in)
	return nil
}

func (x *fngen) lowerStore(t *ir.Store) error {
	size := x.ts.SizeOf(t.Val.Type())
	if size == 0 {
		return nil
	}
	if !x.ts.IsRegisterSized(t.Val.Type()) {
		return x.copyBytes(x.valueReg(t.Ptr), x.valueReg(t.Val), size)
	}
	v := x.valueReg(t.Val)
	in := vinstr{op: storeOp(size), a: v}
	if off, ok := x.frameAddrs[t.Ptr]; ok && off <= vm.MaxImm12 {
		in.b, in.imm = phys(vm.RegFP), uint32(off)
	} else {
		in.b = x.valueReg(t.Ptr)
	}
	x.emit(in)
	return nil
}

var binOps = [...]vm.Opcode{
	ir.OpAdd: vm.ADD,
	ir.OpSub: vm.SUB,
	ir.OpMul: vm.MUL,
	ir.OpDiv: vm.DIV,
	ir.OpMod: vm.MOD,
	ir.OpAnd: vm.AND,
	ir.OpOr:  vm.OR,
	ir.OpXor: vm.XOR,
	ir.OpShl: vm.SLL,
	ir.OpShr: vm.SRL,
}

var wideOps = map[ir.BinOpKind]vm.Opcode{
	ir.OpAdd: vm.WADD,
	ir.OpSub: vm.WSUB,
	ir.OpMul: vm.WMUL,
	ir.OpDiv: vm.WDIV,
	ir.OpMod: vm.WMOD,
}

var cmpOps = [...]vm.Opcode{
	ir.CmpEq: vm.EQ,
	ir.CmpNe: vm.NE,
	ir.CmpLt: vm.LT,
	ir.CmpLe: vm.LE,
	ir.CmpGt: vm.GT,
	ir.CmpGe: vm.GE,
}

func (x *fngen) lowerBin(t *ir.BinOp) error {
	ty := t.X.Type()
	if ty == ir.U256Type {
		return x.lowerWideBin(t)
	}
	dst := x.valueReg(t)
	x.emit(vinstr{op: binOps[t.Op], a: dst, b: x.valueReg(t.X), c: x.valueReg(t.Y)})
	if bits := x.ts.Bits(ty); bits < 64 && growsPastWidth(t.Op) {
		x.maskNarrow(dst, bits)
	}
	return nil
}

// growsPastWidth reports whether the 64-bit result can carry bits above a
// narrower operand width and so needs truncating to stay canonical.
func growsPastWidth(op ir.BinOpKind) bool {
	switch op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpShl:
		return true
	}
	return false
}

// maskNarrow truncates a value to its declared width with a shift pair.
func (x *fngen) maskNarrow(r reg, bits uint) {
	n := uint32(64 - bits)
	x.emit(vinstr{op: vm.SLLI, a: r, b: r, imm: n})
	x.emit(vinstr{op: vm.SRLI, a: r, b: r, imm: n})
}

// lowerWideBin lowers 256-bit arithmetic. The result is a fresh 32-byte
// frame temporary; the destination register carries its address, matching
// how every wide value travels.
func (x *fngen) lowerWideBin(t *ir.BinOp) error {
	op, ok := wideOps[t.Op]
	if !ok {
		return x.errf("256-bit %s has no CVM encoding", t.Op)
	}
	if !x.g.cfg.Enabled(buildcfg.FeatureWideArith) {
		return x.errf("256-bit %s needs the %s feature", t.Op, buildcfg.FeatureWideArith)
	}
	dst := x.valueReg(t)
	off := x.frame.temp(32, 8)
	if err := x.addrInto(dst, off); err != nil {
		return err
	}
	x.frameAddrs[t] = off
	x.emit(vinstr{op: op, a: dst, b: x.valueReg(t.X), c: x.valueReg(t.Y)})
	return nil
}

func (x *fngen) lowerNot(t *ir.UnOp) error {
	ty := t.X.Type()
	dst := x.valueReg(t)
	if ty == ir.BoolType {
		x.emit(vinstr{op: vm.XOR, a: dst, b: x.valueReg(t.X), c: phys(vm.RegOne)})
		return nil
	}
	if ty == ir.U256Type {
		return x.errf("256-bit bitwise not has no CVM encoding")
	}
	x.emit(vinstr{op: vm.NOT, a: dst, b: x.valueReg(t.X)})
	if bits := x.ts.Bits(ty); bits < 64 {
		x.maskNarrow(dst, bits)
	}
	return nil
}

func (x *fngen) lowerCmp(t *ir.Cmp) error {
	if t.X.Type() == ir.U256Type {
		return x.lowerWideCmp(t)
	}
	x.emit(vinstr{
		op: cmpOps[t.Pred],
		a:  x.valueReg(t),
		b:  x.valueReg(t.X),
		c:  x.valueReg(t.Y),
	})
	return nil
}

// lowerWideCmp compares two 256-bit values through their addresses.
// Equality uses the memory compare, which every CVM release carries; the
// orderings need the wide-arithmetic opcode group.
func (x *fngen) lowerWideCmp(t *ir.Cmp) error {
	dst := x.valueReg(t)
	xr, yr := x.valueReg(t.X), x.valueReg(t.Y)
	switch t.Pred {
	case ir.CmpEq, ir.CmpNe:
		n := x.newVReg()
		if err := x.immInto(n, 32); err != nil {
			return err
		}
		x.emit(vinstr{op: vm.MEQ, a: dst, b: xr, c: yr, d: n})
		if t.Pred == ir.CmpNe {
			x.emit(vinstr{op: vm.XOR, a: dst, b: dst, c: phys(vm.RegOne)})
		}
		return nil
	}
	if !x.g.cfg.Enabled(buildcfg.FeatureWideArith) {
		return x.errf("256-bit %s comparison needs the %s feature", t.Pred, buildcfg.FeatureWideArith)
	}
	switch t.Pred {
	case ir.CmpLt:
		x.emit(vinstr{op: vm.WLT, a: dst, b: xr, c: yr})
	case ir.CmpGt:
		x.emit(vinstr{op: vm.WLT, a: dst, b: yr, c: xr})
	case ir.CmpGe:
		x.emit(vinstr{op: vm.WLT, a: dst, b: xr, c: yr})
		x.emit(vinstr{op: vm.XOR, a: dst, b: dst, c: phys(vm.RegOne)})
	case ir.CmpLe:
		x.emit(vinstr{op: vm.WLT, a: dst, b: yr, c: xr})
		x.emit(vinstr{op: vm.XOR, a: dst, b: dst, c: phys(vm.RegOne)})
	}
	return nil
}

// lowerCall marshals arguments into the argument registers, emits the
// call, and captures the result. Results wider than a register come back
// as an address into the popped callee frame; those bytes stay intact
// until the stack grows again, so they are copied out immediately.
func (x *fngen) lowerCall(t *ir.Call) error {
	if len(t.Args) > vm.NumArgRegs {
		return x.errf("call to %s passes %d arguments, the convention carries at most %d",
			t.Callee.Name, len(t.Args), vm.NumArgRegs)
	}
	for i, a := range t.Args {
		x.emit(vinstr{op: vm.MOV, a: phys(vm.RegArg0 + vm.Reg(i)), b: x.valueReg(a)})
	}
	x.emit(vinstr{op: vm.CALL, callee: t.Callee})
	ret := t.Callee.RetTy
	if ret == ir.UnitType {
		return nil
	}
	if x.ts.IsRegisterSized(ret) {
		x.emit(vinstr{op: vm.MOV, a: x.valueReg(t), b: phys(vm.RegRet)})
		return nil
	}
	size := x.ts.SizeOf(ret)
	off := x.frame.temp(size, x.ts.AlignOf(ret))
	dst := x.valueReg(t)
	if err := x.addrInto(dst, off); err != nil {
		return err
	}
	x.frameAddrs[t] = off
	return x.copyBytes(dst, phys(vm.RegRet), size)
}

// lowerAsm binds the block's named registers to fresh virtual registers
// and passes the ops through verbatim. Reserved names resolve to their
// physical registers; everything else must be a declared binding.
func (x *fngen) lowerAsm(t *ir.AsmBlock) error {
	bound := make(map[string]reg, len(t.Args))
	for _, a := range t.Args {
		r := x.newVReg()
		if a.Init != nil {
			x.emit(vinstr{op: vm.MOV, a: r, b: x.valueReg(a.Init)})
		}
		bound[a.Reg] = r
	}
	resolve := func(name string) (reg, error) {
		if r, ok := bound[name]; ok {
			return r, nil
		}
		if pr, ok := vm.ReservedByName(name); ok {
			return phys(pr), nil
		}
		return 0, x.errf("asm op names unbound register %s", name)
	}
	for _, op := range t.Ops {
		code, ok := vm.ByName(op.Name)
		if !ok {
			return x.errf("unknown asm mnemonic %s", op.Name)
		}
		if !x.g.cfg.TargetAtLeast(vm.Describe(code).MinVM) {
			return x.errf("asm op %s needs CVM %s, targeting %s",
				op.Name, vm.Describe(code).MinVM, x.g.cfg.TargetVM)
		}
		in := vinstr{op: code, raw: true}
		if len(op.Regs) > 4 {
			return x.errf("asm op %s names %d registers", op.Name, len(op.Regs))
		}
		fields := []*reg{&in.a, &in.b, &in.c, &in.d}
		for i, name := range op.Regs {
			r, err := resolve(name)
			if err != nil {
				return err
			}
			*fields[i] = r
		}
		if op.Imm != "" {
			v, err := strconv.ParseUint(op.Imm, 0, 32)
			if err != nil {
				return x.errf("asm immediate %q: %v", op.Imm, err)
			}
			in.imm = uint32(v)
		}
		x.emit(in)
	}
	if t.RetReg != "" && t.Ty != ir.UnitType {
		r, err := resolve(t.RetReg)
		if err != nil {
			return err
		}
		x.emit(vinstr{op: vm.MOV, a: x.valueReg(t), b: r})
	}
	return nil
}

func (x *fngen) lowerBr(t *ir.Br, next *ir.Block) error {
	if err := x.edgeCopies(t.Target, t.Args); err != nil {
		return err
	}
	if t.Target != next {
		x.emit(vinstr{op: vm.JI, target: t.Target})
	}
	return nil
}

// lowerCondBr emits a jump-if-nonzero to the then edge and falls through
// to the else edge. When the then edge carries arguments, the copies need
// somewhere to run, so the branch lands on a local trampoline laid after
// the else path.
func (x *fngen) lowerCondBr(t *ir.CondBr, next *ir.Block) error {
	cond := x.valueReg(t.Cond)
	if len(t.ThenArgs) == 0 {
		x.emit(vinstr{op: vm.JNZI, a: cond, target: t.Then})
		if err := x.edgeCopies(t.Else, t.ElseArgs); err != nil {
			return err
		}
		if t.Else != next {
			x.emit(vinstr{op: vm.JI, target: t.Else})
		}
		return nil
	}
	tramp := &ir.Block{Label: t.Then.Label + ".args"}
	x.emit(vinstr{op: vm.JNZI, a: cond, target: tramp})
	if err := x.edgeCopies(t.Else, t.ElseArgs); err != nil {
		return err
	}
	x.emit(vinstr{op: vm.JI, target: t.Else})
	x.labels[tramp] = len(x.code)
	if err := x.edgeCopies(t.Then, t.ThenArgs); err != nil {
		return err
	}
	if t.Then != next {
		x.emit(vinstr{op: vm.JI, target: t.Then})
	}
	return nil
}

// edgeCopies moves branch arguments into the target's parameter registers.
// A multi-argument edge stages every read through a temporary before the
// first parameter is written, so edges that permute values cannot overwrite
// a source they still need.
func (x *fngen) edgeCopies(target *ir.Block, args []ir.Value) error {
	if len(args) != len(target.Params) {
		return x.errf("branch to %s passes %d arguments for %d parameters",
			target.Label, len(args), len(target.Params))
	}
	if len(args) == 1 {
		if target.Params[0].Ty != ir.UnitType {
			x.emit(vinstr{op: vm.MOV, a: x.valueReg(target.Params[0]), b: x.valueReg(args[0])})
		}
		return nil
	}
	tmps := make([]reg, len(args))
	for i, a := range args {
		if target.Params[i].Ty == ir.UnitType {
			continue
		}
		tmps[i] = x.newVReg()
		x.emit(vinstr{op: vm.MOV, a: tmps[i], b: x.valueReg(a)})
	}
	for i, p := range target.Params {
		if p.Ty == ir.UnitType {
			continue
		}
		x.emit(vinstr{op: vm.MOV, a: x.valueReg(p), b: tmps[i]})
	}
	return nil
}
