package irgen

import (
	"strings"
	"testing"

	"github.com/holiman/uint256"

	"github.com/cinder-lang/cinder/internal/ast"
	"github.com/cinder-lang/cinder/internal/buildcfg"
	"github.com/cinder-lang/cinder/internal/diag"
	"github.com/cinder-lang/cinder/internal/ir"
	"github.com/cinder-lang/cinder/internal/vm"
)

func lit(v uint64) *ast.IntLit        { return &ast.IntLit{Ty: ast.U64, Val: v} }
func uref(name string) *ast.VarRef    { return &ast.VarRef{Name: name, Ty: ast.U64} }
func stmts(ss ...ast.Stmt) *ast.Block { return &ast.Block{Stmts: ss} }

func binary(op ast.BinOp, x, y ast.Expr) *ast.Binary { return &ast.Binary{Op: op, X: x, Y: y} }

func param(name string, ty ast.Type) *ast.ParamDecl { return &ast.ParamDecl{Name: name, Ty: ty} }

func fn(name string, ret ast.Type, body *ast.Block, params ...*ast.ParamDecl) *ast.FuncDecl {
	return &ast.FuncDecl{Name: name, Params: params, Ret: ret, Body: body}
}

func entry(name string, ret ast.Type, body *ast.Block, params ...*ast.ParamDecl) *ast.FuncDecl {
	f := fn(name, ret, body, params...)
	f.IsEntry = true
	return f
}

func script(funcs ...*ast.FuncDecl) *ast.Module {
	return &ast.Module{Name: "t", Kind: ast.Script, Funcs: funcs}
}

func lowerOK(t *testing.T, src *ast.Module) *ir.Module {
	t.Helper()
	mod, bag := Lower(src, buildcfg.Default())
	if bag.HasErrors() {
		t.Fatalf("Lower reported errors: %v", bag.Err())
	}
	if err := ir.Verify(mod); err != nil {
		t.Fatalf("lowered module does not verify: %v\n%s", err, ir.Print(mod))
	}
	return mod
}

func lowerBad(t *testing.T, src *ast.Module, code string) *diag.Bag {
	t.Helper()
	_, bag := Lower(src, buildcfg.Default())
	if !bag.HasErrors() {
		t.Fatalf("Lower(%s) reported no errors, want code %s", src.Name, code)
	}
	if !hasCode(bag, code) {
		t.Fatalf("Lower diagnostics %v, want code %s", bag.Err(), code)
	}
	return bag
}

func hasCode(bag *diag.Bag, code string) bool {
	for _, d := range bag.All() {
		if d.Code == code {
			return true
		}
	}
	return false
}

func instrsOf(f *ir.Function) []ir.Instr {
	var out []ir.Instr
	for _, b := range f.Blocks {
		out = append(out, b.Instrs...)
	}
	return out
}

func TestLowerArithmeticScript(t *testing.T) {
	// fn add(a, b: u64) -> u64 { return a + b }
	// fn main() { let mut i = 0; while i < 10 { i = add(i, 1) } }
	add := fn("add", ast.U64, stmts(
		&ast.Return{X: binary(ast.Add, uref("a"), uref("b"))},
	), param("a", ast.U64), param("b", ast.U64))
	main := entry("main", ast.Unit, stmts(
		&ast.Let{Name: "i", Mutable: true, Init: lit(0)},
		&ast.While{
			Cond: &ast.Compare{Pred: ast.Lt, X: uref("i"), Y: lit(10)},
			Body: stmts(&ast.Assign{
				Target: uref("i"),
				Value:  &ast.CallExpr{Callee: "add", Args: []ast.Expr{uref("i"), lit(1)}, Ty: ast.U64},
			}),
		},
	))
	mod := lowerOK(t, script(add, main))

	m := mod.Function("main")
	if m == nil {
		t.Fatalf("main was not lowered")
	}
	if !m.IsEntry {
		t.Fatalf("main.IsEntry = false, want true")
	}
	if a := mod.Function("add"); a == nil || a.IsEntry {
		t.Fatalf("add lowered as entry, want plain function")
	}
	for _, label := range []string{"while_cond", "while_body", "while_exit"} {
		if m.Block(label) == nil {
			t.Fatalf("main has no %q block:\n%s", label, ir.Print(mod))
		}
	}
}

func TestForwardAndMutualCallsResolve(t *testing.T) {
	// even/odd call each other; even is declared after its first use.
	odd := fn("odd", ast.Bool, stmts(
		&ast.If{
			Cond: &ast.Compare{Pred: ast.Eq, X: uref("n"), Y: lit(0)},
			Then: stmts(&ast.Return{X: &ast.BoolLit{Val: false}}),
		},
		&ast.Return{X: &ast.CallExpr{
			Callee: "even",
			Args:   []ast.Expr{binary(ast.Sub, uref("n"), lit(1))},
			Ty:     ast.Bool,
		}},
	), param("n", ast.U64))
	even := fn("even", ast.Bool, stmts(
		&ast.If{
			Cond: &ast.Compare{Pred: ast.Eq, X: uref("n"), Y: lit(0)},
			Then: stmts(&ast.Return{X: &ast.BoolLit{Val: true}}),
		},
		&ast.Return{X: &ast.CallExpr{
			Callee: "odd",
			Args:   []ast.Expr{binary(ast.Sub, uref("n"), lit(1))},
			Ty:     ast.Bool,
		}},
	), param("n", ast.U64))
	main := entry("main", ast.Unit, stmts(
		&ast.ExprStmt{X: &ast.CallExpr{Callee: "even", Args: []ast.Expr{lit(7)}, Ty: ast.Bool}},
	))
	lowerOK(t, script(odd, even, main))
}

func TestDivisionByConstantZeroRejected(t *testing.T) {
	main := entry("main", ast.Unit, stmts(
		&ast.Let{Name: "x", Init: binary(ast.Div, lit(1), lit(0))},
	))
	lowerBad(t, script(main), "L0005")
}

func TestConstantDivisionByZeroInConstDecl(t *testing.T) {
	src := script(entry("main", ast.Unit, stmts()))
	src.Consts = []*ast.ConstDecl{
		{Name: "BAD", Ty: ast.U64, Value: binary(ast.Mod, lit(3), lit(0))},
	}
	lowerBad(t, src, "L0005")
}

func TestDynamicDivisorGetsGuard(t *testing.T) {
	div := fn("div", ast.U64, stmts(
		&ast.Return{X: binary(ast.Div, uref("a"), uref("b"))},
	), param("a", ast.U64), param("b", ast.U64))
	main := entry("main", ast.Unit, stmts(
		&ast.Let{Name: "x", Init: binary(ast.Div, lit(8), lit(2))},
		&ast.ExprStmt{X: &ast.CallExpr{Callee: "div", Args: []ast.Expr{uref("x"), lit(2)}, Ty: ast.U64}},
	))
	mod := lowerOK(t, script(div, main))

	f := mod.Function("div")
	guard := f.Block("revert_div")
	if guard == nil {
		t.Fatalf("div has no revert_div block:\n%s", ir.Print(mod))
	}
	rv, ok := guard.Terminator().(*ir.Revert)
	if !ok {
		t.Fatalf("revert_div terminator = %T, want *ir.Revert", guard.Terminator())
	}
	code, ok := rv.Code.(*ir.ConstInstr)
	if !ok {
		t.Fatalf("revert code = %T, want constant", rv.Code)
	}
	if got := mod.Consts.Get(code.C).U64; got != vm.RevertArith {
		t.Fatalf("revert code = %#x, want %#x", got, vm.RevertArith)
	}
	if f.Block("div_ok") == nil {
		t.Fatalf("div has no fallthrough block after the guard")
	}
	// A constant nonzero divisor needs no guard.
	if mod.Function("main").Block("revert_div") != nil {
		t.Fatalf("constant division in main grew a guard")
	}
}

func TestConstantIndexOutOfBounds(t *testing.T) {
	arrTy := &ast.Array{Elem: ast.U64, Len: ast.ArrayLen{N: 3}}
	main := entry("main", ast.Unit, stmts(
		&ast.Let{Name: "a", Init: &ast.ArrayLit{Ty: arrTy, Elems: []ast.Expr{lit(1), lit(2), lit(3)}}},
		&ast.Let{Name: "x", Init: &ast.IndexExpr{
			X:     &ast.VarRef{Name: "a", Ty: arrTy},
			Index: lit(5),
			Ty:    ast.U64,
		}},
	))
	lowerBad(t, script(main), "L0004")
}

func TestDynamicIndexGetsBoundsGuard(t *testing.T) {
	arrTy := &ast.Array{Elem: ast.U64, Len: ast.ArrayLen{N: 3}}
	pick := fn("pick", ast.U64, stmts(
		&ast.Let{Name: "a", Init: &ast.ArrayLit{Ty: arrTy, Elems: []ast.Expr{lit(1), lit(2), lit(3)}}},
		&ast.Return{X: &ast.IndexExpr{
			X:     &ast.VarRef{Name: "a", Ty: arrTy},
			Index: uref("i"),
			Ty:    ast.U64,
		}},
	), param("i", ast.U64))
	main := entry("main", ast.Unit, stmts(
		&ast.ExprStmt{X: &ast.CallExpr{Callee: "pick", Args: []ast.Expr{lit(1)}, Ty: ast.U64}},
	))
	mod := lowerOK(t, script(pick, main))

	f := mod.Function("pick")
	if f.Block("revert_bounds") == nil || f.Block("index_ok") == nil {
		t.Fatalf("pick lacks the bounds guard blocks:\n%s", ir.Print(mod))
	}
}

func TestScriptWithoutMain(t *testing.T) {
	lowerBad(t, script(fn("helper", ast.Unit, stmts())), "L0009")
}

func TestContractWithoutEntries(t *testing.T) {
	src := &ast.Module{Name: "t", Kind: ast.Contract, Funcs: []*ast.FuncDecl{
		fn("internal", ast.Unit, stmts()),
	}}
	lowerBad(t, src, "L0014")
}

func TestEntryParamsMustBeRegisterSized(t *testing.T) {
	pair := &ast.Struct{Name: "Pair", Fields: []ast.Field{{Name: "a", Ty: ast.U64}, {Name: "b", Ty: ast.U64}}}
	main := entry("main", ast.Unit, stmts(), param("p", pair))
	lowerBad(t, script(main), "L0010")
}

func TestEntryParamCountIsBounded(t *testing.T) {
	params := make([]*ast.ParamDecl, vm.NumArgRegs+1)
	for i := range params {
		params[i] = param(string(rune('a'+i)), ast.U64)
	}
	main := entry("main", ast.Unit, stmts(), params...)
	lowerBad(t, script(main), "L0010")
}

func TestBreakOutsideLoop(t *testing.T) {
	main := entry("main", ast.Unit, stmts(&ast.Break{}))
	lowerBad(t, script(main), "L0012")
}

func TestUnreachableStatementsAreDropped(t *testing.T) {
	main := entry("main", ast.Unit, stmts(
		&ast.Revert{Code: lit(42)},
		&ast.Let{Name: "never", Init: lit(1)},
	))
	mod := lowerOK(t, script(main))

	f := mod.Function("main")
	if len(f.Blocks) != 1 {
		t.Fatalf("main has %d blocks, want 1", len(f.Blocks))
	}
	rv, ok := f.Entry().Terminator().(*ir.Revert)
	if !ok {
		t.Fatalf("main terminator = %T, want *ir.Revert", f.Entry().Terminator())
	}
	code := rv.Code.(*ir.ConstInstr)
	if got := mod.Consts.Get(code.C).U64; got != 42 {
		t.Fatalf("revert code = %d, want 42", got)
	}
}

func TestAssertLowering(t *testing.T) {
	check := fn("check", ast.Unit, stmts(
		&ast.Assert{Cond: &ast.Compare{Pred: ast.Lt, X: uref("n"), Y: lit(100)}},
	), param("n", ast.U64))
	main := entry("main", ast.Unit, stmts(
		&ast.ExprStmt{X: &ast.CallExpr{Callee: "check", Args: []ast.Expr{lit(1)}, Ty: ast.Unit}},
	))
	mod := lowerOK(t, script(check, main))

	f := mod.Function("check")
	guard := f.Block("revert_assert")
	if guard == nil || f.Block("assert_ok") == nil {
		t.Fatalf("check lacks assert blocks:\n%s", ir.Print(mod))
	}
	rv := guard.Terminator().(*ir.Revert)
	code := rv.Code.(*ir.ConstInstr)
	if got := mod.Consts.Get(code.C).U64; got != vm.RevertAssert {
		t.Fatalf("assert revert code = %#x, want %#x", got, vm.RevertAssert)
	}
}

func TestMatchLowersToTagDispatch(t *testing.T) {
	shape := &ast.Union{Name: "Shape", Variants: []ast.Field{
		{Name: "Circle", Ty: ast.U64},
		{Name: "Empty", Ty: ast.Unit},
	}}
	area := fn("area", ast.U64, stmts(
		&ast.Match{
			Subject: &ast.VarRef{Name: "s", Ty: shape},
			Arms: []*ast.Arm{
				{Variant: 0, Binding: "r", Body: stmts(&ast.Return{X: binary(ast.Mul, uref("r"), uref("r"))})},
				{Variant: 1, Body: stmts(&ast.Return{X: lit(0)})},
			},
		},
	), param("s", shape))
	main := entry("main", ast.Unit, stmts(
		&ast.Let{Name: "s", Init: &ast.UnionLit{Ty: shape, Variant: 0, Payload: lit(3)}},
		&ast.ExprStmt{X: &ast.CallExpr{
			Callee: "area",
			Args:   []ast.Expr{&ast.VarRef{Name: "s", Ty: shape}},
			Ty:     ast.U64,
		}},
	))
	mod := lowerOK(t, script(area, main))

	f := mod.Function("area")
	if f.Block("revert_match") == nil {
		t.Fatalf("area has no revert_match backstop:\n%s", ir.Print(mod))
	}
	// The tag dispatch reads through a u64 view of the union storage.
	var sawTagLoad bool
	for _, in := range instrsOf(f) {
		if ld, ok := in.(*ir.Load); ok && ld.Ty == ir.U64Type {
			sawTagLoad = true
		}
	}
	if !sawTagLoad {
		t.Fatalf("area never loads the union tag:\n%s", ir.Print(mod))
	}
}

func TestAggregateCallConvention(t *testing.T) {
	pair := &ast.Struct{Name: "Pair", Fields: []ast.Field{{Name: "a", Ty: ast.U64}, {Name: "b", Ty: ast.U64}}}
	// fn swap(p: Pair) -> Pair { return Pair{p.b, p.a} }
	swap := fn("swap", pair, stmts(
		&ast.Return{X: &ast.StructLit{Ty: pair, Fields: []ast.Expr{
			&ast.FieldAccess{X: &ast.VarRef{Name: "p", Ty: pair}, Index: 1, Ty: ast.U64},
			&ast.FieldAccess{X: &ast.VarRef{Name: "p", Ty: pair}, Index: 0, Ty: ast.U64},
		}}},
	), param("p", pair))
	main := entry("main", ast.Unit, stmts(
		&ast.Let{Name: "p", Init: &ast.StructLit{Ty: pair, Fields: []ast.Expr{lit(1), lit(2)}}},
		&ast.Let{Name: "q", Init: &ast.CallExpr{
			Callee: "swap",
			Args:   []ast.Expr{&ast.VarRef{Name: "p", Ty: pair}},
			Ty:     pair,
		}},
	))
	mod := lowerOK(t, script(swap, main))

	ts := mod.Types
	f := mod.Function("swap")
	if !ts.IsPointer(f.RetTy) {
		t.Fatalf("swap returns %s, want a pointer", ts.String(f.RetTy))
	}
	if got := len(f.Params()); got != 1 {
		t.Fatalf("swap has %d params, want 1", got)
	}
	if !ts.IsPointer(f.Params()[0].Ty) {
		t.Fatalf("swap param is %s, want a pointer", ts.String(f.Params()[0].Ty))
	}
	// The caller copies the argument and the result into frame slots it owns.
	m := mod.Function("main")
	var copies int
	for _, in := range instrsOf(m) {
		if _, ok := in.(*ir.MemCopyVal); ok {
			copies++
		}
	}
	if copies < 2 {
		t.Fatalf("main performs %d value copies, want at least 2:\n%s", copies, ir.Print(mod))
	}
}

func TestConfigurablesGetDecodeHelpers(t *testing.T) {
	src := script(entry("main", ast.Unit, stmts(
		&ast.Let{Name: "x", Init: &ast.ConfigUse{Name: "LIMIT", Ty: ast.U64}},
	)))
	src.Configs = []*ast.ConfigDecl{
		{Name: "LIMIT", Ty: ast.U64, Default: lit(100)},
		{Name: "RATE", Ty: ast.U64, Default: lit(5)},
	}
	mod := lowerOK(t, src)

	if len(mod.Configs) != 2 {
		t.Fatalf("module carries %d configurables, want 2", len(mod.Configs))
	}
	limit := mod.Function("__decode_LIMIT")
	rate := mod.Function("__decode_RATE")
	if limit == nil || rate == nil {
		t.Fatalf("decode helpers missing:\n%s", ir.Print(mod))
	}
	// Same declared type, same body shape: the deduplication pass folds them.
	if got, want := len(instrsOf(limit)), len(instrsOf(rate)); got != want {
		t.Fatalf("decode helpers differ in size: %d vs %d", got, want)
	}

	m := mod.Function("main")
	var sawGet bool
	var sawCall bool
	for _, in := range instrsOf(m) {
		switch t := in.(type) {
		case *ir.GetConfig:
			if t.Name == "LIMIT" {
				sawGet = true
			}
		case *ir.Call:
			if t.Callee == limit {
				sawCall = true
			}
		}
	}
	if !sawGet || !sawCall {
		t.Fatalf("main reads LIMIT without get_config+decode (get=%v call=%v):\n%s",
			sawGet, sawCall, ir.Print(mod))
	}
}

func TestConfigurableDefaultMustBeConstant(t *testing.T) {
	src := script(entry("main", ast.Unit, stmts()))
	src.Configs = []*ast.ConfigDecl{
		{Name: "X", Ty: ast.U64, Default: &ast.VarRef{Name: "y", Ty: ast.U64}},
	}
	lowerBad(t, src, "L0001")
}

func TestConstDeclsFlowIntoConfigDefaults(t *testing.T) {
	src := script(entry("main", ast.Unit, stmts()))
	src.Consts = []*ast.ConstDecl{
		{Name: "A", Ty: ast.U64, Value: lit(10)},
		{Name: "B", Ty: ast.U64, Value: binary(ast.Sub,
			binary(ast.Mul, &ast.ConstUse{Name: "A", Ty: ast.U64}, &ast.ConstUse{Name: "A", Ty: ast.U64}),
			lit(1))},
	}
	src.Configs = []*ast.ConfigDecl{
		{Name: "CAP", Ty: ast.U64, Default: &ast.ConstUse{Name: "B", Ty: ast.U64}},
	}
	mod := lowerOK(t, src)

	cfg := mod.Config("CAP")
	if cfg == nil {
		t.Fatalf("CAP was not declared")
	}
	if got := mod.Consts.Get(cfg.Default).U64; got != 99 {
		t.Fatalf("CAP default = %d, want 99", got)
	}
}

func TestGenericInstantiationIsCachedPerArguments(t *testing.T) {
	// fn id[T](x: T) -> T { return x }
	tp := &ast.TypeParam{Name: "T"}
	id := &ast.FuncDecl{
		Name:       "id",
		TypeParams: []string{"T"},
		Params:     []*ast.ParamDecl{param("x", tp)},
		Ret:        tp,
		Body:       stmts(&ast.Return{X: &ast.VarRef{Name: "x", Ty: tp}}),
	}
	call := func(ty ast.Type, arg ast.Expr) *ast.CallExpr {
		return &ast.CallExpr{Callee: "id", TypeArgs: []ast.Type{ty}, Args: []ast.Expr{arg}, Ty: ty}
	}
	main := entry("main", ast.Unit, stmts(
		&ast.ExprStmt{X: call(ast.U64, lit(1))},
		&ast.ExprStmt{X: call(ast.U64, lit(2))},
		&ast.ExprStmt{X: call(ast.Bool, &ast.BoolLit{Val: true})},
	))
	mod := lowerOK(t, script(id, main))

	var instances []string
	for _, f := range mod.Funcs {
		if strings.HasPrefix(f.Name, "id__t") {
			instances = append(instances, f.Name)
		}
	}
	if len(instances) != 2 {
		t.Fatalf("id instantiated as %v, want exactly 2 instances", instances)
	}
	if mod.Function("id") != nil {
		t.Fatalf("the generic template itself was lowered")
	}
}

func TestConstGenericsNeedTheFeature(t *testing.T) {
	// fn zeros[const N]() -> [u64; N]
	arr := &ast.Array{Elem: ast.U64, Len: ast.ArrayLen{Param: "N"}}
	zeros := &ast.FuncDecl{
		Name:        "zeros",
		ConstParams: []string{"N"},
		Ret:         arr,
		Body: stmts(&ast.Return{X: &ast.ArrayLit{
			Ty:    arr,
			Elems: []ast.Expr{lit(0), lit(0)},
		}}),
	}
	callZeros := &ast.CallExpr{
		Callee:    "zeros",
		ConstArgs: []ast.Expr{lit(2)},
		Ty:        &ast.Array{Elem: ast.U64, Len: ast.ArrayLen{N: 2}},
	}
	main := entry("main", ast.Unit, stmts(&ast.ExprStmt{X: callZeros}))
	src := script(zeros, main)

	cfg, err := buildcfg.New("", buildcfg.OptFull)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, bag := Lower(src, cfg)
	if !hasCode(bag, "L0007") {
		t.Fatalf("diagnostics %v, want L0007", bag.Err())
	}

	// With the feature enabled the same module lowers and the instance name
	// carries the const argument.
	mod := lowerOK(t, src)
	var found bool
	for _, f := range mod.Funcs {
		if strings.HasPrefix(f.Name, "zeros__c2") {
			found = true
		}
	}
	if !found {
		t.Fatalf("zeros__c2 instance missing:\n%s", ir.Print(mod))
	}
}

func TestRunawayInstantiationIsBounded(t *testing.T) {
	// fn rec[const N]() { rec[N + 1]() } never converges.
	rec := &ast.FuncDecl{
		Name:        "rec",
		ConstParams: []string{"N"},
		Ret:         ast.Unit,
		Body: stmts(&ast.ExprStmt{X: &ast.CallExpr{
			Callee:    "rec",
			ConstArgs: []ast.Expr{binary(ast.Add, &ast.ConstParamUse{Name: "N"}, lit(1))},
			Ty:        ast.Unit,
		}}),
	}
	main := entry("main", ast.Unit, stmts(&ast.ExprStmt{X: &ast.CallExpr{
		Callee:    "rec",
		ConstArgs: []ast.Expr{lit(0)},
		Ty:        ast.Unit,
	}}))
	lowerBad(t, script(rec, main), "L0006")
}

func TestAsmBlockValidation(t *testing.T) {
	asm := func(ops []ast.AsmOp, retReg string) *ast.AsmExpr {
		return &ast.AsmExpr{
			Args:   []ast.AsmArg{{Reg: "a", Init: lit(1)}, {Reg: "b", Init: lit(2)}},
			Ops:    ops,
			RetReg: retReg,
			RetTy:  ast.U64,
		}
	}
	tests := []struct {
		name string
		expr *ast.AsmExpr
		ok   bool
	}{
		{"valid add", asm([]ast.AsmOp{{Name: "add", Regs: []string{"a", "a", "b"}}}, "a"), true},
		{"case insensitive mnemonic", asm([]ast.AsmOp{{Name: "ADD", Regs: []string{"a", "a", "b"}}}, "a"), true},
		{"reading a reserved register", asm([]ast.AsmOp{{Name: "mov", Regs: []string{"a", "$hp"}}}, "a"), true},
		{"immediate form", asm([]ast.AsmOp{{Name: "addi", Regs: []string{"a", "b"}, Imm: "40"}}, "a"), true},
		{"unknown mnemonic", asm([]ast.AsmOp{{Name: "frobnicate", Regs: []string{"a"}}}, "a"), false},
		{"wrong operand count", asm([]ast.AsmOp{{Name: "add", Regs: []string{"a", "b"}}}, "a"), false},
		{"missing immediate", asm([]ast.AsmOp{{Name: "addi", Regs: []string{"a", "b"}}}, "a"), false},
		{"stray immediate", asm([]ast.AsmOp{{Name: "add", Regs: []string{"a", "a", "b"}, Imm: "1"}}, "a"), false},
		{"immediate too wide", asm([]ast.AsmOp{{Name: "addi", Regs: []string{"a", "b"}, Imm: "4096"}}, "a"), false},
		{"unbound register", asm([]ast.AsmOp{{Name: "add", Regs: []string{"a", "a", "z"}}}, "a"), false},
		{"unbound result register", asm([]ast.AsmOp{{Name: "add", Regs: []string{"a", "a", "b"}}}, "z"), false},
		{
			"duplicate binding",
			&ast.AsmExpr{
				Args: []ast.AsmArg{{Reg: "a", Init: lit(1)}, {Reg: "a", Init: lit(2)}},
				Ops:  []ast.AsmOp{{Name: "noop"}},
			},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var init ast.Stmt = &ast.Let{Name: "x", Init: tt.expr}
			if tt.expr.RetReg == "" {
				init = &ast.ExprStmt{X: tt.expr}
			}
			src := script(entry("main", ast.Unit, stmts(init)))
			if tt.ok {
				lowerOK(t, src)
				return
			}
			lowerBad(t, src, "L0011")
		})
	}
}

func TestAsmResultMustFitARegister(t *testing.T) {
	pair := &ast.Struct{Name: "Pair", Fields: []ast.Field{{Name: "a", Ty: ast.U64}}}
	main := entry("main", ast.Unit, stmts(
		&ast.Let{Name: "x", Init: &ast.AsmExpr{
			Args:   []ast.AsmArg{{Reg: "a", Init: lit(1)}},
			Ops:    []ast.AsmOp{{Name: "noop"}},
			RetReg: "a",
			RetTy:  pair,
		}},
	))
	lowerBad(t, script(main), "L0011")
}

func TestStringConstantsAndIndexing(t *testing.T) {
	src := script(entry("main", ast.Unit, stmts(
		&ast.Let{Name: "greeting", Init: &ast.StrLit{Val: []byte("hello")}},
		&ast.Let{Name: "first", Init: &ast.IndexExpr{
			X:     &ast.VarRef{Name: "greeting", Ty: &ast.Str{Len: ast.ArrayLen{N: 5}}},
			Index: lit(0),
			Ty:    ast.U8,
		}},
	)))
	mod := lowerOK(t, src)

	// The literal lives in a pre-seeded read-only slot.
	m := mod.Function("main")
	var seeded bool
	for _, l := range m.Locals {
		if l.Init != ir.NoConst && mod.Consts.Get(l.Init).Kind == ir.ConstString {
			seeded = true
		}
	}
	if !seeded {
		t.Fatalf("string literal has no seeded slot:\n%s", ir.Print(mod))
	}
}

func TestUnitValuesCarryNothing(t *testing.T) {
	// Unit locals, parameters, and calls lower without loads or stores.
	noop := fn("noop", ast.Unit, stmts(), param("u", ast.Unit))
	main := entry("main", ast.Unit, stmts(
		&ast.Let{Name: "u", Init: &ast.UnitLit{}},
		&ast.ExprStmt{X: &ast.CallExpr{
			Callee: "noop",
			Args:   []ast.Expr{&ast.VarRef{Name: "u", Ty: ast.Unit}},
			Ty:     ast.Unit,
		}},
	))
	lowerOK(t, script(noop, main))
}

func TestWideArithmeticLowering(t *testing.T) {
	w := func(v uint64) *ast.WideLit { return &ast.WideLit{Val: uint256.NewInt(v)} }
	sum := fn("sum", ast.U256, stmts(
		&ast.Return{X: &ast.Binary{Op: ast.Add,
			X: &ast.VarRef{Name: "a", Ty: ast.U256},
			Y: &ast.VarRef{Name: "b", Ty: ast.U256}}},
	), param("a", ast.U256), param("b", ast.U256))
	main := entry("main", ast.Unit, stmts(
		&ast.ExprStmt{X: &ast.CallExpr{
			Callee: "sum",
			Args:   []ast.Expr{w(1), w(2)},
			Ty:     ast.U256,
		}},
	))
	mod := lowerOK(t, script(sum, main))

	f := mod.Function("sum")
	if f.RetTy != ir.U256Type {
		t.Fatalf("sum returns %s, want u256", mod.Types.String(f.RetTy))
	}
}

func TestConstantFolding(t *testing.T) {
	tests := []struct {
		name string
		expr ast.Expr
		want uint64
	}{
		{"arith chain", binary(ast.Add, lit(2), binary(ast.Mul, lit(3), lit(4))), 14},
		{"wrapping sub", binary(ast.Sub, lit(0), lit(1)), ^uint64(0)},
		{"shift to zero", binary(ast.Shl, lit(1), lit(64)), 0},
		{"bit ops", binary(ast.Xor, binary(ast.Or, lit(0xf0), lit(0x0f)), lit(0xff)), 0},
		{"masked not", &ast.Unary{X: &ast.IntLit{Ty: ast.U8, Val: 0x0f}}, 0xf0},
		{"nested select", &ast.FieldAccess{
			X: &ast.TupleLit{
				Ty:    &ast.Tuple{Elems: []ast.Type{ast.U64, ast.U64}},
				Elems: []ast.Expr{lit(7), lit(8)},
			},
			Index: 1,
			Ty:    ast.U64,
		}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := script(entry("main", ast.Unit, stmts()))
			ty := ast.Type(ast.U64)
			if il, ok := tt.expr.(*ast.Unary); ok {
				ty = il.X.TypeOf()
			}
			src.Configs = []*ast.ConfigDecl{{Name: "K", Ty: ty, Default: tt.expr}}
			mod := lowerOK(t, src)
			if got := mod.Consts.Get(mod.Config("K").Default).U64; got != tt.want {
				t.Fatalf("K = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestComparisonFolding(t *testing.T) {
	tests := []struct {
		name string
		expr ast.Expr
		want bool
	}{
		{"lt", &ast.Compare{Pred: ast.Lt, X: lit(3), Y: lit(4)}, true},
		{"ge", &ast.Compare{Pred: ast.Ge, X: lit(3), Y: lit(4)}, false},
		{"bool eq", &ast.Compare{Pred: ast.Eq, X: &ast.BoolLit{Val: true}, Y: &ast.BoolLit{Val: true}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := script(entry("main", ast.Unit, stmts()))
			src.Configs = []*ast.ConfigDecl{{Name: "K", Ty: ast.Bool, Default: tt.expr}}
			mod := lowerOK(t, src)
			if got := mod.Consts.Get(mod.Config("K").Default).Bit; got != tt.want {
				t.Fatalf("K = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderedBoolComparisonIsNotConstant(t *testing.T) {
	src := script(entry("main", ast.Unit, stmts()))
	src.Configs = []*ast.ConfigDecl{{
		Name: "K", Ty: ast.Bool,
		Default: &ast.Compare{Pred: ast.Lt, X: &ast.BoolLit{}, Y: &ast.BoolLit{Val: true}},
	}}
	lowerBad(t, src, "L0001")
}

func TestIfElseJoins(t *testing.T) {
	// Both arms fall through to a join; a second if has a terminating arm.
	clamp := fn("clamp", ast.U64, stmts(
		&ast.Let{Name: "r", Mutable: true, Init: uref("x")},
		&ast.If{
			Cond: &ast.Compare{Pred: ast.Gt, X: uref("x"), Y: lit(10)},
			Then: stmts(&ast.Assign{Target: uref("r"), Value: lit(10)}),
			Else: stmts(&ast.Assign{Target: uref("r"), Value: uref("x")}),
		},
		&ast.If{
			Cond: &ast.Compare{Pred: ast.Eq, X: uref("r"), Y: lit(0)},
			Then: stmts(&ast.Return{X: lit(1)}),
		},
		&ast.Return{X: uref("r")},
	), param("x", ast.U64))
	main := entry("main", ast.Unit, stmts(
		&ast.ExprStmt{X: &ast.CallExpr{Callee: "clamp", Args: []ast.Expr{lit(5)}, Ty: ast.U64}},
	))
	mod := lowerOK(t, script(clamp, main))

	f := mod.Function("clamp")
	if f.Block("join") == nil {
		t.Fatalf("clamp has no join block:\n%s", ir.Print(mod))
	}
}

func TestCallArityMismatch(t *testing.T) {
	add := fn("add", ast.U64, stmts(
		&ast.Return{X: binary(ast.Add, uref("a"), uref("b"))},
	), param("a", ast.U64), param("b", ast.U64))
	main := entry("main", ast.Unit, stmts(
		&ast.ExprStmt{X: &ast.CallExpr{Callee: "add", Args: []ast.Expr{lit(1)}, Ty: ast.U64}},
	))
	lowerBad(t, script(add, main), "L0008")
}

func TestCallToUnknownFunction(t *testing.T) {
	main := entry("main", ast.Unit, stmts(
		&ast.ExprStmt{X: &ast.CallExpr{Callee: "missing", Ty: ast.Unit}},
	))
	lowerBad(t, script(main), "L0008")
}

func TestSwapThroughSelfAssignment(t *testing.T) {
	// p = Pair{p.b, p.a} must build into a scratch slot, not write through
	// p while still reading it.
	pair := &ast.Struct{Name: "Pair", Fields: []ast.Field{{Name: "a", Ty: ast.U64}, {Name: "b", Ty: ast.U64}}}
	pref := &ast.VarRef{Name: "p", Ty: pair}
	main := entry("main", ast.Unit, stmts(
		&ast.Let{Name: "p", Mutable: true, Init: &ast.StructLit{Ty: pair, Fields: []ast.Expr{lit(1), lit(2)}}},
		&ast.Assign{Target: pref, Value: &ast.StructLit{Ty: pair, Fields: []ast.Expr{
			&ast.FieldAccess{X: pref, Index: 1, Ty: ast.U64},
			&ast.FieldAccess{X: pref, Index: 0, Ty: ast.U64},
		}}},
	))
	mod := lowerOK(t, script(main))

	// The assignment ends in a whole-value copy from the scratch slot.
	m := mod.Function("main")
	var copies int
	for _, in := range instrsOf(m) {
		if _, ok := in.(*ir.MemCopyVal); ok {
			copies++
		}
	}
	if copies == 0 {
		t.Fatalf("self-assignment lowered without a staging copy:\n%s", ir.Print(mod))
	}
}
