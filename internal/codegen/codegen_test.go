package codegen

import (
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/holiman/uint256"

	"github.com/cinder-lang/cinder/internal/abi"
	"github.com/cinder-lang/cinder/internal/buildcfg"
	"github.com/cinder-lang/cinder/internal/ir"
	"github.com/cinder-lang/cinder/internal/source"
	"github.com/cinder-lang/cinder/internal/vm"
)

func cfgFor(t *testing.T, target string, features ...buildcfg.Feature) *buildcfg.Config {
	t.Helper()
	cfg, err := buildcfg.New(target, buildcfg.OptNone, features...)
	if err != nil {
		t.Fatalf("buildcfg.New(%q): %v", target, err)
	}
	return cfg
}

func compile(t *testing.T, m *ir.Module, cfg *buildcfg.Config) *Artifact {
	t.Helper()
	art, err := Generate(m, cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return art
}

func compileErr(t *testing.T, m *ir.Module, cfg *buildcfg.Config) *Error {
	t.Helper()
	_, err := Generate(m, cfg)
	if err == nil {
		t.Fatalf("Generate succeeded, want error")
	}
	ce, ok := err.(*Error)
	if !ok {
		t.Fatalf("Generate returned %T, want *Error", err)
	}
	return ce
}

// opIndices returns the word indices decoding to op, skipping the raw
// data-offset words of the header.
func opIndices(words []uint32, op vm.Opcode) []int {
	var out []int
	for i, w := range words {
		if i == 2 || i == 3 {
			continue
		}
		if vm.Decode(w).Op == op {
			out = append(out, i)
		}
	}
	return out
}

func onlyOp(t *testing.T, words []uint32, op vm.Opcode) (int, vm.Instr) {
	t.Helper()
	idx := opIndices(words, op)
	if len(idx) != 1 {
		t.Fatalf("%d %s instructions in the image, want 1", len(idx), vm.Describe(op).Name)
	}
	return idx[0], vm.Decode(words[idx[0]])
}

func TestScriptImageHeader(t *testing.T) {
	m := ir.NewModule("demo", ir.KindScript)
	f := m.NewFunction("main", ir.U64Type)
	f.IsEntry = true
	b := ir.NewBuilder(f)
	b.Ret(b.Uint(ir.U64Type, 42))

	art := compile(t, m, buildcfg.Default())
	words := art.Words()
	if len(words) != 7 {
		t.Fatalf("image is %d words, want 7", len(words))
	}

	entry := vm.Decode(words[0])
	if entry.Op != vm.JI || entry.Imm != 4 {
		t.Fatalf("word 0 is %s, want ji 4", entry)
	}
	if vm.Decode(words[1]).Op != vm.NOOP {
		t.Fatalf("word 1 is %s, want noop", vm.Decode(words[1]))
	}
	if words[2] != 0 || words[3] != uint32(len(art.Bytecode)) {
		t.Fatalf("data offset words = %d,%d, want 0,%d", words[2], words[3], len(art.Bytecode))
	}
	if vm.Decode(words[4]).Op != vm.CFEI {
		t.Fatalf("function does not start with cfei: %s", vm.Decode(words[4]))
	}

	_, movi := onlyOp(t, words, vm.MOVI)
	if movi.Imm != 42 {
		t.Fatalf("movi immediate = %d, want 42", movi.Imm)
	}
	_, ret := onlyOp(t, words, vm.RET)
	if ret.A != movi.A {
		t.Fatalf("ret reads %s, constant lives in %s", vm.Name(ret.A), vm.Name(movi.A))
	}

	if len(art.Entries) != 1 {
		t.Fatalf("%d entries, want 1", len(art.Entries))
	}
	e := art.Entries[0]
	if e.Name != "main" || e.Addr != 4 || e.Ret != ir.U64Type || len(e.Params) != 0 {
		t.Fatalf("entry = %+v", e)
	}
	if want := abi.Selector(m.Types, "main", nil); e.Selector != want {
		t.Fatalf("entry selector = %#x, want %#x", e.Selector, want)
	}
}

func TestScriptWithoutMainRejected(t *testing.T) {
	m := ir.NewModule("demo", ir.KindScript)
	f := m.NewFunction("helper", ir.U64Type)
	b := ir.NewBuilder(f)
	b.Ret(b.Uint(ir.U64Type, 1))

	ce := compileErr(t, m, buildcfg.Default())
	if !strings.Contains(ce.Msg, "no main entry") {
		t.Fatalf("error = %q, want it to name the missing main entry", ce.Msg)
	}
}

func TestContractDispatch(t *testing.T) {
	m := ir.NewModule("token", ir.KindContract)

	get := m.NewFunction("get", ir.U64Type)
	get.IsEntry = true
	gb := ir.NewBuilder(get)
	gb.Ret(gb.Uint(ir.U64Type, 7))

	set := m.NewFunction("set", ir.UnitType)
	set.IsEntry = true
	set.Entry().AddParam("v", ir.U64Type)
	sb := ir.NewBuilder(set)
	sb.Ret(sb.Unit())

	art := compile(t, m, buildcfg.Default())
	words := art.Words()

	entry := vm.Decode(words[0])
	if entry.Op != vm.JI || entry.Imm != 4 {
		t.Fatalf("word 0 is %s, want ji 4 into the dispatcher", entry)
	}
	cdw := vm.Decode(words[4])
	if cdw.Op != vm.CDW || cdw.A != vm.RegScratch0 || cdw.Imm != 0 {
		t.Fatalf("dispatcher starts with %s, want cdw of calldata word 0", cdw)
	}
	if srli := vm.Decode(words[5]); srli.Op != vm.SRLI || srli.Imm != 32 {
		t.Fatalf("dispatcher word 1 is %s, want srli by 32", srli)
	}

	if len(art.Entries) != 2 {
		t.Fatalf("%d entries, want 2", len(art.Entries))
	}
	if got, want := art.Entries[0].Selector, abi.Selector(m.Types, "get", nil); got != want {
		t.Fatalf("get selector = %#x, want %#x", got, want)
	}
	if got, want := art.Entries[1].Selector, abi.Selector(m.Types, "set", []ir.Type{ir.U64Type}); got != want {
		t.Fatalf("set selector = %#x, want %#x", got, want)
	}

	dispatch := words[4:art.Entries[0].Addr]
	var jnzis []vm.Instr
	reverts := 0
	for _, w := range dispatch {
		switch in := vm.Decode(w); in.Op {
		case vm.JNZI:
			jnzis = append(jnzis, in)
		case vm.RVRT:
			reverts++
		}
	}
	if len(jnzis) != 2 {
		t.Fatalf("%d selector compares take a branch, want 2", len(jnzis))
	}
	if reverts != 1 {
		t.Fatalf("%d reverts in the dispatcher, want 1 for the unmatched selector", reverts)
	}

	// get takes no arguments; its stub tail-jumps straight into the body.
	stub := vm.Decode(words[jnzis[0].Imm])
	if stub.Op != vm.JI || stub.Imm != art.Entries[0].Addr {
		t.Fatalf("get stub is %s, want ji %d", stub, art.Entries[0].Addr)
	}

	// set loads its one argument from the second calldata word first.
	load := vm.Decode(words[jnzis[1].Imm])
	if load.Op != vm.CDW || load.A != vm.RegArg0 || load.Imm != 8 {
		t.Fatalf("set stub starts with %s, want cdw $arg0 8", load)
	}
	jump := vm.Decode(words[jnzis[1].Imm+1])
	if jump.Op != vm.JI || jump.Imm != art.Entries[1].Addr {
		t.Fatalf("set stub ends with %s, want ji %d", jump, art.Entries[1].Addr)
	}

	for _, e := range art.Entries {
		if in := vm.Decode(words[e.Addr]); in.Op != vm.CFEI {
			t.Fatalf("%s starts with %s, want cfei", e.Name, in)
		}
	}

	// The unmatched-selector revert code sits in the data section.
	found := false
	for off := 0; off+8 <= len(art.Data); off += 8 {
		if binary.BigEndian.Uint64(art.Data[off:]) == vm.RevertBadSelector {
			found = true
		}
	}
	if !found {
		t.Fatalf("revert code %#x not present in the data section", uint64(vm.RevertBadSelector))
	}

	if !strings.Contains(art.Listing(), "selector dispatch:") {
		t.Fatalf("listing does not label the dispatcher:\n%s", art.Listing())
	}
}

func TestContractDispatchNeedsCalldataOpcode(t *testing.T) {
	m := ir.NewModule("token", ir.KindContract)
	f := m.NewFunction("get", ir.U64Type)
	f.IsEntry = true
	b := ir.NewBuilder(f)
	b.Ret(b.Uint(ir.U64Type, 7))

	ce := compileErr(t, m, cfgFor(t, "1.0.0"))
	if !strings.Contains(ce.Msg, "needs CVM") {
		t.Fatalf("error = %q, want the missing opcode named", ce.Msg)
	}
}

func TestCallArgumentMarshaling(t *testing.T) {
	m := ir.NewModule("calls", ir.KindScript)

	main := m.NewFunction("main", ir.U64Type)
	main.IsEntry = true

	sum := m.NewFunction("sum", ir.U64Type)
	pa := sum.Entry().AddParam("a", ir.U64Type)
	pb := sum.Entry().AddParam("b", ir.U64Type)
	sb := ir.NewBuilder(sum)
	sb.Ret(sb.Bin(ir.OpAdd, pa, pb))

	mb := ir.NewBuilder(main)
	mb.Ret(mb.Call(sum, mb.Uint(ir.U64Type, 1), mb.Uint(ir.U64Type, 2)))

	art := compile(t, m, buildcfg.Default())
	words := art.Words()

	ci, call := onlyOp(t, words, vm.CALL)
	if tgt := vm.Decode(words[call.Imm]); tgt.Op != vm.CFEI {
		t.Fatalf("call lands on %s, want the callee prologue", tgt)
	}
	first := vm.Decode(words[ci-2])
	second := vm.Decode(words[ci-1])
	if first.Op != vm.MOV || first.A != vm.RegArg0 {
		t.Fatalf("word before the argument moves is %s, want mov into $arg0", first)
	}
	if second.Op != vm.MOV || second.A != vm.RegArg0+1 {
		t.Fatalf("second argument move is %s, want mov into $arg1", second)
	}

	// The callee copies its parameters out of the argument registers.
	body := words[call.Imm:]
	if in := vm.Decode(body[1]); in.Op != vm.MOV || in.B != vm.RegArg0 {
		t.Fatalf("callee word 1 is %s, want mov from $arg0", in)
	}
	if in := vm.Decode(body[2]); in.Op != vm.MOV || in.B != vm.RegArg0+1 {
		t.Fatalf("callee word 2 is %s, want mov from $arg1", in)
	}

	// The result comes back through $ret.
	if in := vm.Decode(words[ci+1]); in.Op != vm.MOV || in.B != vm.RegRet {
		t.Fatalf("word after the call is %s, want mov from $ret", in)
	}
}

func TestTooManyCallArguments(t *testing.T) {
	m := ir.NewModule("calls", ir.KindScript)

	wide := m.NewFunction("nine", ir.UnitType)
	for i := 0; i < 9; i++ {
		wide.Entry().AddParam("p", ir.U64Type)
	}
	wb := ir.NewBuilder(wide)
	wb.Ret(wb.Unit())

	main := m.NewFunction("main", ir.UnitType)
	main.IsEntry = true
	mb := ir.NewBuilder(main)
	args := make([]ir.Value, 9)
	for i := range args {
		args[i] = mb.Uint(ir.U64Type, uint64(i))
	}
	mb.Call(wide, args...)
	mb.Ret(mb.Unit())

	ce := compileErr(t, m, buildcfg.Default())
	if ce.Fn != "main" {
		t.Fatalf("error blames %q, want main", ce.Fn)
	}
	if !strings.Contains(ce.Msg, "at most 8") {
		t.Fatalf("error = %q, want the argument limit named", ce.Msg)
	}
}

func TestValueSpillsAcrossCall(t *testing.T) {
	m := ir.NewModule("spills", ir.KindScript)

	h := m.NewFunction("h", ir.U64Type)
	hb := ir.NewBuilder(h)
	hb.Ret(hb.Uint(ir.U64Type, 1))

	main := m.NewFunction("main", ir.U64Type)
	main.IsEntry = true
	mb := ir.NewBuilder(main)
	a := mb.Uint(ir.U64Type, 5)
	r := mb.Call(h)
	mb.Ret(mb.Bin(ir.OpAdd, a, r))

	art := compile(t, m, buildcfg.Default())
	words := art.Words()

	ci, _ := onlyOp(t, words, vm.CALL)
	si, store := onlyOp(t, words, vm.SD)
	li, load := onlyOp(t, words, vm.LD)
	if store.B != vm.RegFP || load.B != vm.RegFP {
		t.Fatalf("spill store/reload not frame-relative: %s / %s", store, load)
	}
	if !(si < ci && ci < li) {
		t.Fatalf("spill at %d, call at %d, reload at %d; want store before and reload after", si, ci, li)
	}
	if store.Imm != load.Imm {
		t.Fatalf("spill slot offsets differ: store %d, reload %d", store.Imm, load.Imm)
	}

	// One spill slot extends main's otherwise empty frame by eight bytes.
	var mainEntry Entry
	for _, e := range art.Entries {
		if e.Name == "main" {
			mainEntry = e
		}
	}
	if in := vm.Decode(words[mainEntry.Addr]); in.Op != vm.CFEI || in.Imm != 8 {
		t.Fatalf("main prologue is %s, want cfei 8", in)
	}
}

func TestConditionalLoopBranches(t *testing.T) {
	m := ir.NewModule("loops", ir.KindScript)
	f := m.NewFunction("main", ir.U64Type)
	f.IsEntry = true
	loop := f.NewBlock("loop")
	i := loop.AddParam("i", ir.U64Type)
	done := f.NewBlock("done")

	b := ir.NewBuilder(f)
	b.Br(loop, b.Uint(ir.U64Type, 0))
	b.SetBlock(loop)
	next := b.Bin(ir.OpAdd, i, b.Uint(ir.U64Type, 1))
	cond := b.Cmp(ir.CmpLt, next, b.Uint(ir.U64Type, 10))
	b.CondBrArgs(cond, loop, []ir.Value{next}, done, nil)
	b.SetBlock(done)
	b.Ret(next)

	art := compile(t, m, buildcfg.Default())
	words := art.Words()

	ji, jnzi := onlyOp(t, words, vm.JNZI)
	// The taken edge carries an argument, so it lands on a trampoline that
	// runs the copy and only then loops back.
	tramp := vm.Decode(words[jnzi.Imm])
	if tramp.Op != vm.MOV {
		t.Fatalf("branch target is %s, want the edge copy", tramp)
	}
	back := vm.Decode(words[jnzi.Imm+1])
	if back.Op != vm.JI {
		t.Fatalf("trampoline ends with %s, want ji", back)
	}
	if int(back.Imm) >= int(jnzi.Imm) || back.Imm < 4 {
		t.Fatalf("back edge jumps to %d from %d, want a backward jump into the body", back.Imm, jnzi.Imm)
	}
	if ji >= int(jnzi.Imm) {
		t.Fatalf("jnzi at %d sits after its trampoline %d", ji, jnzi.Imm)
	}

	if last := vm.Decode(words[len(words)-1]); last.Op != vm.RET {
		t.Fatalf("image ends with %s, want ret", last)
	}
}

func TestBulkCopyForms(t *testing.T) {
	m := ir.NewModule("copies", ir.KindScript)
	arr := m.Types.Array(ir.U64Type, 4)
	f := m.NewFunction("main", ir.UnitType)
	f.IsEntry = true
	dst := f.NewLocal("dst", arr, true, ir.NoConst)
	src := f.NewLocal("src", arr, false, ir.NoConst)
	b := ir.NewBuilder(f)
	b.MemCopyVal(b.GetLocal(dst), b.GetLocal(src))
	b.Ret(b.Unit())

	art := compile(t, m, buildcfg.Default())
	_, mcpi := onlyOp(t, art.Words(), vm.MCPI)
	if mcpi.Imm != 32 {
		t.Fatalf("mcpi length = %d, want 32", mcpi.Imm)
	}

	// Before the immediate form existed the length rides a register.
	old := compile(t, m, cfgFor(t, "1.0.0"))
	words := old.Words()
	if n := len(opIndices(words, vm.MCPI)); n != 0 {
		t.Fatalf("%d mcpi on a 1.0.0 target, want none", n)
	}
	_, mcp := onlyOp(t, words, vm.MCP)
	lenIdx := opIndices(words, vm.MOVI)
	var lenReg bool
	for _, i := range lenIdx {
		in := vm.Decode(words[i])
		if in.Imm == 32 && in.A == mcp.C {
			lenReg = true
		}
	}
	if !lenReg {
		t.Fatalf("no movi 32 feeding the mcp count register %s", vm.Name(mcp.C))
	}
}

func TestWideArithmeticFeatureGate(t *testing.T) {
	m := ir.NewModule("wide", ir.KindScript)
	f := m.NewFunction("main", ir.UnitType)
	f.IsEntry = true
	b := ir.NewBuilder(f)
	x := b.Wide(uint256.NewInt(1))
	y := b.Wide(uint256.NewInt(2))
	b.Bin(ir.OpAdd, x, y)
	b.Ret(b.Unit())

	ce := compileErr(t, m, cfgFor(t, "1.3.0"))
	if ce.Fn != "main" || !strings.Contains(ce.Msg, string(buildcfg.FeatureWideArith)) {
		t.Fatalf("error = %v, want the wide-arith feature named", ce)
	}

	art := compile(t, m, cfgFor(t, "1.3.0", buildcfg.FeatureWideArith))
	words := art.Words()
	if n := len(opIndices(words, vm.WADD)); n != 1 {
		t.Fatalf("%d wadd in the image, want 1", n)
	}
	// Both operands come out of the constant pool by address.
	if n := len(opIndices(words, vm.DADR)); n < 2 {
		t.Fatalf("%d dadr in the image, want the two pooled operands", n)
	}
	if len(art.Data) != 64 {
		t.Fatalf("data section is %d bytes, want two 32-byte constants", len(art.Data))
	}
	if art.Data[31] != 1 || art.Data[63] != 2 {
		t.Fatalf("pooled constants end in %d, %d, want 1, 2", art.Data[31], art.Data[63])
	}
}

func TestWideComparisons(t *testing.T) {
	build := func(pred ir.CmpPred) *ir.Module {
		m := ir.NewModule("cmp", ir.KindScript)
		f := m.NewFunction("main", ir.BoolType)
		f.IsEntry = true
		b := ir.NewBuilder(f)
		x := b.Wide(uint256.NewInt(5))
		y := b.Wide(uint256.NewInt(9))
		b.Ret(b.Cmp(pred, x, y))
		return m
	}

	// Inequality runs on the memory compare, which every target carries.
	plain := cfgFor(t, "1.3.0")
	art := compile(t, build(ir.CmpNe), plain)
	words := art.Words()
	_, meq := onlyOp(t, words, vm.MEQ)
	var lenReg bool
	for _, i := range opIndices(words, vm.MOVI) {
		in := vm.Decode(words[i])
		if in.Imm == 32 && in.A == meq.D {
			lenReg = true
		}
	}
	if !lenReg {
		t.Fatalf("no movi 32 feeding the meq length register %s", vm.Name(meq.D))
	}
	_, flip := onlyOp(t, words, vm.XOR)
	if flip.C != vm.RegOne {
		t.Fatalf("ne flip is xor with %s, want $one", vm.Name(flip.C))
	}

	// Orderings need the wide opcode group.
	ce := compileErr(t, build(ir.CmpLt), plain)
	if !strings.Contains(ce.Msg, string(buildcfg.FeatureWideArith)) {
		t.Fatalf("error = %q, want the wide-arith feature named", ce.Msg)
	}
	art = compile(t, build(ir.CmpLt), cfgFor(t, "1.3.0", buildcfg.FeatureWideArith))
	onlyOp(t, art.Words(), vm.WLT)
}

func TestNarrowArithmeticTruncates(t *testing.T) {
	m := ir.NewModule("narrow", ir.KindScript)
	f := m.NewFunction("main", ir.U8Type)
	f.IsEntry = true
	b := ir.NewBuilder(f)
	b.Ret(b.Bin(ir.OpAdd, b.Uint(ir.U8Type, 200), b.Uint(ir.U8Type, 100)))

	art := compile(t, m, buildcfg.Default())
	words := art.Words()
	si, sll := onlyOp(t, words, vm.SLLI)
	if sll.Imm != 56 {
		t.Fatalf("slli by %d, want 56 for a u8 result", sll.Imm)
	}
	srl := vm.Decode(words[si+1])
	if srl.Op != vm.SRLI || srl.Imm != 56 || srl.A != sll.A {
		t.Fatalf("word after slli is %s, want the matching srli", srl)
	}
}

func TestDeadAddressFolding(t *testing.T) {
	m := ir.NewModule("folds", ir.KindScript)
	f := m.NewFunction("main", ir.U64Type)
	f.IsEntry = true
	l := f.NewLocal("x", ir.U64Type, true, m.Consts.Uint(ir.U64Type, 7, m.Types))
	b := ir.NewBuilder(f)
	b.Ret(b.Load(b.GetLocal(l)))

	art := compile(t, m, buildcfg.Default())
	words := art.Words()

	// The load folds to $fp plus an immediate, so the materialized local
	// address is dead and must not survive.
	if n := len(opIndices(words, vm.ADDI)); n != 0 {
		t.Fatalf("%d addi in the image, want the folded address gone", n)
	}
	_, store := onlyOp(t, words, vm.SD)
	if store.B != vm.RegFP || store.Imm != 0 {
		t.Fatalf("local seed is %s, want sd at $fp+0", store)
	}
	_, load := onlyOp(t, words, vm.LD)
	if load.B != vm.RegFP || load.Imm != 0 {
		t.Fatalf("load is %s, want ld at $fp+0", load)
	}
	if in := vm.Decode(words[4]); in.Op != vm.CFEI || in.Imm != 8 {
		t.Fatalf("prologue is %s, want cfei 8 for the one local", in)
	}
}

func TestAsmBlockPassThrough(t *testing.T) {
	m := ir.NewModule("asm", ir.KindScript)
	f := m.NewFunction("main", ir.U64Type)
	f.IsEntry = true
	b := ir.NewBuilder(f)
	x := b.Uint(ir.U64Type, 5)
	res := b.Asm(
		[]ir.AsmArg{{Reg: "acc", Init: x}},
		[]ir.AsmOp{
			{Name: "slli", Regs: []string{"acc", "acc"}, Imm: "3"},
			{Name: "add", Regs: []string{"acc", "acc", "$one"}},
		},
		"acc", ir.U64Type)
	b.Ret(res)

	art := compile(t, m, buildcfg.Default())
	words := art.Words()
	_, sll := onlyOp(t, words, vm.SLLI)
	if sll.Imm != 3 {
		t.Fatalf("slli immediate = %d, want 3", sll.Imm)
	}
	_, add := onlyOp(t, words, vm.ADD)
	if add.C != vm.RegOne {
		t.Fatalf("add reads %s, want the $one binding", vm.Name(add.C))
	}
}

func TestAsmOpNeedsTargetSupport(t *testing.T) {
	m := ir.NewModule("asm", ir.KindScript)
	f := m.NewFunction("main", ir.UnitType)
	f.IsEntry = true
	b := ir.NewBuilder(f)
	b.Asm(
		[]ir.AsmArg{{Reg: "a"}, {Reg: "b"}},
		[]ir.AsmOp{{Name: "mcpi", Regs: []string{"a", "b"}, Imm: "8"}},
		"", ir.UnitType)
	b.Ret(b.Unit())

	ce := compileErr(t, m, cfgFor(t, "1.0.0"))
	if !strings.Contains(ce.Msg, "needs CVM") {
		t.Fatalf("error = %q, want the version requirement named", ce.Msg)
	}
}

func TestRevertCarriesCode(t *testing.T) {
	m := ir.NewModule("reverts", ir.KindScript)
	f := m.NewFunction("main", ir.UnitType)
	f.IsEntry = true
	b := ir.NewBuilder(f)
	b.Revert(b.Uint(ir.U64Type, 5))

	art := compile(t, m, buildcfg.Default())
	words := art.Words()
	ri, rvrt := onlyOp(t, words, vm.RVRT)
	movi := vm.Decode(words[ri-1])
	if movi.Op != vm.MOVI || movi.Imm != 5 || movi.A != rvrt.A {
		t.Fatalf("revert code setup is %s before %s, want movi 5 into the revert register", movi, rvrt)
	}
}

func TestConfigSlotAddressing(t *testing.T) {
	m := ir.NewModule("cfg", ir.KindScript)
	m.Configs = append(m.Configs, &ir.ConfigDecl{
		Name:    "fee",
		Ty:      ir.U64Type,
		Default: m.Consts.Uint(ir.U64Type, 750, m.Types),
	})
	f := m.NewFunction("main", ir.U64Type)
	f.IsEntry = true
	b := ir.NewBuilder(f)
	p, err := b.GetConfig("fee")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	b.Ret(b.Load(p))

	art := compile(t, m, buildcfg.Default())

	if len(art.Configs) != 1 {
		t.Fatalf("%d configurable slots, want 1", len(art.Configs))
	}
	slot := art.Configs[0]
	if slot.Name != "fee" || slot.Offset != 0 || slot.Size != 8 {
		t.Fatalf("slot = %+v", slot)
	}
	_, dadr := onlyOp(t, art.Words(), vm.DADR)
	if uint64(dadr.Imm) != slot.Offset {
		t.Fatalf("dadr addresses offset %d, slot sits at %d", dadr.Imm, slot.Offset)
	}
	if got := binary.BigEndian.Uint64(art.Data); got != 750 {
		t.Fatalf("slot default = %d, want 750", got)
	}
}

func TestFrameOverflowReported(t *testing.T) {
	m := ir.NewModule("frames", ir.KindScript)
	f := m.NewFunction("main", ir.UnitType)
	f.IsEntry = true
	f.NewLocal("huge", m.Types.Array(ir.U64Type, 2097153), true, ir.NoConst)
	b := ir.NewBuilder(f)
	b.Ret(b.Unit())

	ce := compileErr(t, m, buildcfg.Default())
	if ce.Fn != "main" {
		t.Fatalf("error blames %q, want main", ce.Fn)
	}
	if !strings.Contains(ce.Msg, "frame") {
		t.Fatalf("error = %q, want the frame size named", ce.Msg)
	}
}

func TestDebugSpansCoverInstructions(t *testing.T) {
	m := ir.NewModule("spans", ir.KindScript)
	f := m.NewFunction("main", ir.U64Type)
	f.IsEntry = true
	sp := source.Span{Path: "t.cn", Start: 3, End: 9}
	b := ir.NewBuilder(f)
	b.At(sp)
	b.Ret(b.Uint(ir.U64Type, 42))

	art := compile(t, m, buildcfg.Default())
	mi, _ := onlyOp(t, art.Words(), vm.MOVI)

	got, ok := art.SpanAt(uint32(mi))
	if !ok || got != sp {
		t.Fatalf("SpanAt(%d) = %v, %v; want %v", mi, got, ok, sp)
	}
	// Run-length: the following ret shares the span without its own entry.
	if got, ok := art.SpanAt(uint32(mi + 1)); !ok || got != sp {
		t.Fatalf("SpanAt(%d) = %v, %v; want the preceding span", mi+1, got, ok)
	}
	// The prologue predates any span.
	if _, ok := art.SpanAt(0); ok {
		t.Fatalf("SpanAt(0) found a span, the header has none")
	}
	if len(art.Debug) != 1 {
		t.Fatalf("%d debug entries, want 1 coalesced run", len(art.Debug))
	}
}

func TestListingRendersImage(t *testing.T) {
	m := ir.NewModule("cfg", ir.KindScript)
	m.Configs = append(m.Configs, &ir.ConfigDecl{
		Name:    "fee",
		Ty:      ir.U64Type,
		Default: m.Consts.Uint(ir.U64Type, 750, m.Types),
	})
	f := m.NewFunction("main", ir.U64Type)
	f.IsEntry = true
	b := ir.NewBuilder(f)
	p, err := b.GetConfig("fee")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	b.Ret(b.Load(p))

	art := compile(t, m, buildcfg.Default())
	listing := art.Listing()

	for _, want := range []string{
		"halfword", // column header
		"fn main:",
		".word 0x", // raw data-offset words
		"cfei",
		"dadr",
		"data section, 8 bytes",
	} {
		if !strings.Contains(listing, want) {
			t.Fatalf("listing lacks %q:\n%s", want, listing)
		}
	}

	// Every code word renders one row, keyed by its half-word and byte
	// columns.
	for i := range art.Words() {
		row := fmt.Sprintf("%8d %8d  ", i, i*4)
		if !strings.Contains(listing, row) {
			t.Fatalf("listing lacks the row for word %d:\n%s", i, listing)
		}
	}

	if stats := art.Funcs; len(stats) != 1 || stats[0].Name != "main" || stats[0].Words == 0 {
		t.Fatalf("function stats = %+v", stats)
	}
}

func TestUnitValuesRideZeroRegister(t *testing.T) {
	m := ir.NewModule("units", ir.KindScript)
	f := m.NewFunction("main", ir.UnitType)
	f.IsEntry = true
	b := ir.NewBuilder(f)
	b.Ret(b.Unit())

	art := compile(t, m, buildcfg.Default())
	_, ret := onlyOp(t, art.Words(), vm.RET)
	if ret.A != vm.RegZero {
		t.Fatalf("unit return reads %s, want $zero", vm.Name(ret.A))
	}
}
