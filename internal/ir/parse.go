package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cinder-lang/cinder/internal/source"
	"github.com/holiman/uint256"
)

// Parse reads the textual IR form produced by Print and rebuilds the module.
// Print and Parse are inverses up to structural identity, which golden tests
// rely on.
func Parse(input string) (*Module, error) {
	p := &parser{
		lines: strings.Split(input, "\n"),
		meta:  source.NewTable(),
	}
	if err := p.run(); err != nil {
		return nil, err
	}
	return p.m, nil
}

type parser struct {
	lines []string
	ln    int // current line index
	m     *Module

	meta     *source.Table
	tagged   []taggedSpan // placeholders resolved after the metadata table
	pending  []pendingCall
	values   map[string]Value
	curFn    *Function
	curBlock *Block
	headers  int // block headers seen in the current function
}

type taggedSpan struct {
	id    int
	instr Instr     // non-nil for instruction tags
	fn    *Function // non-nil for function header tags
	cfg   *ConfigDecl
}

type pendingCall struct {
	call *Call
	name string
	line int
}

// ParseError reports where the textual IR stopped making sense, so
// drivers can point back at the offending input line.
type ParseError struct {
	Line int // 1-based line in the input
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ir: line %d: %s", e.Line, e.Msg)
}

func (p *parser) errf(format string, args ...interface{}) error {
	return &ParseError{Line: p.ln + 1, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) next() (string, bool) {
	for p.ln < len(p.lines) {
		line := strings.TrimSpace(p.lines[p.ln])
		if line == "" {
			p.ln++
			continue
		}
		return line, true
	}
	return "", false
}

func (p *parser) advance() { p.ln++ }

func (p *parser) run() error {
	line, ok := p.next()
	if !ok {
		return fmt.Errorf("ir: empty input")
	}
	toks, err := lex(line)
	if err != nil {
		return p.errf("%v", err)
	}
	tr := &tokens{list: toks}
	kindWord, _ := tr.word()
	var kind ModuleKind
	switch kindWord {
	case "script":
		kind = KindScript
	case "contract":
		kind = KindContract
	case "library":
		kind = KindLibrary
	default:
		return p.errf("expected module kind, got %q", kindWord)
	}
	name, ok := tr.word()
	if !ok {
		return p.errf("expected module name")
	}
	if !tr.punct("{") {
		return p.errf("expected '{' after module header")
	}
	p.m = NewModule(name, kind)
	p.advance()

	for {
		line, ok := p.next()
		if !ok {
			return p.errf("unexpected end of input inside module")
		}
		if line == "}" {
			p.advance()
			break
		}
		switch {
		case strings.HasPrefix(line, "config "):
			if err := p.configDecl(line); err != nil {
				return err
			}
			p.advance()
		case strings.HasPrefix(line, "fn ") || strings.HasPrefix(line, "entry fn "):
			if err := p.function(line); err != nil {
				return err
			}
		default:
			return p.errf("unexpected line in module body: %q", line)
		}
	}

	if err := p.metadata(); err != nil {
		return err
	}
	if err := p.resolve(); err != nil {
		return err
	}
	return nil
}

func (p *parser) configDecl(line string) error {
	tr, tag, err := p.lexTagged(line)
	if err != nil {
		return err
	}
	tr.word() // "config"
	name, ok := tr.word()
	if !ok {
		return p.errf("expected configurable name")
	}
	if !tr.punct(":") {
		return p.errf("expected ':' after configurable name")
	}
	ty, err := p.parseType(tr)
	if err != nil {
		return err
	}
	if !tr.punct("=") {
		return p.errf("expected '=' in configurable declaration")
	}
	def, err := p.literal(tr, ty)
	if err != nil {
		return err
	}
	decl := &ConfigDecl{Name: name, Ty: ty, Default: def}
	p.m.Configs = append(p.m.Configs, decl)
	if tag != 0 {
		p.tagged = append(p.tagged, taggedSpan{id: tag, cfg: decl})
	}
	return nil
}

func (p *parser) function(line string) error {
	header := strings.TrimSuffix(line, "{")
	if header == line {
		return p.errf("expected '{' at end of function header")
	}
	tr, tag, err := p.lexTagged(strings.TrimSpace(header))
	if err != nil {
		return err
	}

	isEntry := false
	w, _ := tr.word()
	if w == "entry" {
		isEntry = true
		w, _ = tr.word()
	}
	if w != "fn" {
		return p.errf("expected 'fn', got %q", w)
	}
	name, ok := tr.word()
	if !ok {
		return p.errf("expected function name")
	}

	f := &Function{Name: name, Mod: p.m, IsEntry: isEntry}
	p.m.Funcs = append(p.m.Funcs, f)
	p.curFn = f
	p.values = make(map[string]Value)

	entry := &Block{Label: "entry", Fn: f}
	f.Blocks = []*Block{entry}
	p.curBlock = nil

	if !tr.punct("(") {
		return p.errf("expected '(' after function name")
	}
	decls, err := p.paramDecls(tr)
	if err != nil {
		return err
	}
	if err := p.bindParams(entry, decls); err != nil {
		return err
	}
	if !tr.punct("->") {
		return p.errf("expected '->' after parameter list")
	}
	f.RetTy, err = p.parseType(tr)
	if err != nil {
		return err
	}
	if w, ok := tr.peekWord(); ok && w == "inline" {
		tr.word()
		if !tr.punct("(") {
			return p.errf("expected '(' after inline")
		}
		hint, _ := tr.word()
		switch hint {
		case "always":
			f.Hint = InlineAlways
		case "never":
			f.Hint = InlineNever
		default:
			return p.errf("unknown inline hint %q", hint)
		}
		if !tr.punct(")") {
			return p.errf("expected ')' after inline hint")
		}
	}
	if tag != 0 {
		p.tagged = append(p.tagged, taggedSpan{id: tag, fn: f})
	}
	p.advance()

	for {
		line, ok := p.next()
		if !ok {
			return p.errf("unexpected end of input inside function %s", f.Name)
		}
		if line == "}" {
			p.advance()
			break
		}
		switch {
		case strings.HasPrefix(line, "local "):
			if err := p.localDecl(line); err != nil {
				return err
			}
			p.advance()
		case strings.HasSuffix(line, "):") && !strings.Contains(line, "="):
			if err := p.blockHeader(line); err != nil {
				return err
			}
			p.advance()
		default:
			if p.curBlock == nil {
				return p.errf("instruction before first block label")
			}
			if err := p.instruction(line); err != nil {
				return err
			}
		}
	}
	return nil
}

type paramDecl struct {
	name string
	ty   Type
}

func (p *parser) paramDecls(tr *tokens) ([]paramDecl, error) {
	var decls []paramDecl
	if tr.punct(")") {
		return decls, nil
	}
	for {
		name, ok := tr.word()
		if !ok {
			return nil, p.errf("expected parameter name")
		}
		if !tr.punct(":") {
			return nil, p.errf("expected ':' after parameter %s", name)
		}
		ty, err := p.parseType(tr)
		if err != nil {
			return nil, err
		}
		decls = append(decls, paramDecl{name: name, ty: ty})
		if tr.punct(")") {
			return decls, nil
		}
		if !tr.punct(",") {
			return nil, p.errf("expected ',' or ')' in parameter list")
		}
	}
}

// bindParams attaches parsed parameter declarations to a block. When the
// block already has parameters (the entry block gets them from the function
// header), the declarations rebind the same Param values so every use
// resolves to one definition.
func (p *parser) bindParams(blk *Block, decls []paramDecl) error {
	if len(blk.Params) > 0 {
		if len(decls) != len(blk.Params) {
			return p.errf("block %s redeclares %d parameters, has %d", blk.Label, len(decls), len(blk.Params))
		}
		for i, d := range decls {
			if blk.Params[i].Ty != d.ty {
				return p.errf("block %s parameter %d type mismatch", blk.Label, i)
			}
			p.values[d.name] = blk.Params[i]
		}
		return nil
	}
	for _, d := range decls {
		prm := &Param{Name: d.name, Ty: d.ty, Blk: blk, Index: len(blk.Params)}
		blk.Params = append(blk.Params, prm)
		p.values[d.name] = prm
	}
	return nil
}

func (p *parser) localDecl(line string) error {
	tr, err := lexTokens(line)
	if err != nil {
		return p.errf("%v", err)
	}
	tr.word() // "local"
	mutable := false
	if w, ok := tr.peekWord(); ok && w == "mut" {
		tr.word()
		mutable = true
	}
	ty, err := p.parseType(tr)
	if err != nil {
		return err
	}
	name, ok := tr.word()
	if !ok {
		return p.errf("expected local name")
	}
	init := NoConst
	if tr.punct("=") {
		init, err = p.literal(tr, ty)
		if err != nil {
			return err
		}
	}
	p.curFn.Locals = append(p.curFn.Locals, &Local{Name: name, Ty: ty, Mutable: mutable, Init: init})
	return nil
}

func (p *parser) blockHeader(line string) error {
	tr, err := lexTokens(line)
	if err != nil {
		return p.errf("%v", err)
	}
	label, ok := tr.word()
	if !ok {
		return p.errf("expected block label")
	}
	var blk *Block
	if p.curBlock == nil {
		// The first header describes the entry block, whose parameters
		// came from the function header. Adopt its label.
		blk = p.curFn.Blocks[0]
		blk.Label = label
	} else {
		blk = p.lookupBlock(label)
	}
	// Branch targets forward-declare blocks in mention order; headers fix
	// the authoritative order so a reprint matches the input.
	p.moveBlock(blk, p.headers)
	p.headers++
	if !tr.punct("(") {
		return p.errf("expected '(' after block label")
	}
	decls, err := p.paramDecls(tr)
	if err != nil {
		return err
	}
	if err := p.bindParams(blk, decls); err != nil {
		return err
	}
	if !tr.punct(":") {
		return p.errf("expected ':' after block header")
	}
	p.curBlock = blk
	return nil
}

func (p *parser) moveBlock(blk *Block, to int) {
	blocks := p.curFn.Blocks
	from := -1
	for i, b := range blocks {
		if b == blk {
			from = i
			break
		}
	}
	if from < 0 || from == to || to >= len(blocks) {
		return
	}
	copy(blocks[from:], blocks[from+1:])
	blocks[len(blocks)-1] = nil
	blocks = blocks[:len(blocks)-1]
	rest := append([]*Block(nil), blocks[to:]...)
	blocks = append(blocks[:to], blk)
	p.curFn.Blocks = append(blocks, rest...)
}

// lookupBlock finds or forward-declares a block by label. The entry block
// was created with the function; later labels appear in branch targets
// before their headers.
func (p *parser) lookupBlock(label string) *Block {
	for _, b := range p.curFn.Blocks {
		if b.Label == label {
			return b
		}
	}
	b := &Block{Label: label, Fn: p.curFn}
	p.curFn.Blocks = append(p.curFn.Blocks, b)
	return b
}

func (p *parser) instruction(line string) error {
	// Asm blocks span several lines; collect the body before lexing.
	if strings.HasSuffix(line, "{") {
		return p.asmInstruction(line)
	}
	tr, tag, err := p.lexTagged(line)
	if err != nil {
		return err
	}
	in, err := p.instrBody(tr)
	if err != nil {
		return err
	}
	p.finish(in, tag)
	p.advance()
	return nil
}

func (p *parser) finish(in Instr, tag int) {
	p.curBlock.Append(in)
	if tag != 0 {
		p.tagged = append(p.tagged, taggedSpan{id: tag, instr: in})
	}
}

func (p *parser) instrBody(tr *tokens) (Instr, error) {
	first, ok := tr.word()
	if !ok {
		return nil, p.errf("expected instruction")
	}

	// Value-producing form: vN = <op> ...
	var resultName string
	if tr.punct("=") {
		resultName = first
		first, ok = tr.word()
		if !ok {
			return nil, p.errf("expected operation after '='")
		}
	}

	var in Instr
	var err error
	switch first {
	case "const":
		var ty Type
		ty, err = p.parseType(tr)
		if err != nil {
			return nil, err
		}
		var c ConstRef
		c, err = p.literal(tr, ty)
		if err != nil {
			return nil, err
		}
		in = &ConstInstr{C: c, Ty: ty}
	case "get_local":
		name, _ := tr.word()
		l := p.curFn.Local(name)
		if l == nil {
			return nil, p.errf("get_local of unknown local %q", name)
		}
		in = &GetLocal{Local: l, Ty: p.m.Types.Pointer(l.Ty)}
	case "get_elem_ptr":
		var base Value
		base, err = p.value(tr)
		if err != nil {
			return nil, err
		}
		if !tr.punct(",") {
			return nil, p.errf("expected ',' after get_elem_ptr base")
		}
		var ty Type
		ty, err = p.parseType(tr)
		if err != nil {
			return nil, err
		}
		var indices []Value
		for tr.punct(",") {
			var idx Value
			idx, err = p.value(tr)
			if err != nil {
				return nil, err
			}
			indices = append(indices, idx)
		}
		in = &GetElemPtr{Base: base, Indices: indices, Ty: ty}
	case "load":
		var ptr Value
		ptr, err = p.value(tr)
		if err != nil {
			return nil, err
		}
		if !p.m.Types.IsPointer(ptr.Type()) {
			return nil, p.errf("load of non-pointer")
		}
		in = &Load{Ptr: ptr, Ty: p.m.Types.Elem(ptr.Type())}
	case "store":
		var val, ptr Value
		val, err = p.value(tr)
		if err != nil {
			return nil, err
		}
		if w, _ := tr.word(); w != "to" {
			return nil, p.errf("expected 'to' in store")
		}
		ptr, err = p.value(tr)
		if err != nil {
			return nil, err
		}
		in = &Store{Val: val, Ptr: ptr}
	case "mem_copy_val":
		var dst, src Value
		if dst, src, err = p.valuePair(tr); err != nil {
			return nil, err
		}
		in = &MemCopyVal{Dst: dst, Src: src}
	case "mem_copy_bytes":
		var dst, src Value
		if dst, src, err = p.valuePair(tr); err != nil {
			return nil, err
		}
		if !tr.punct(",") {
			return nil, p.errf("expected ',' before mem_copy_bytes length")
		}
		w, _ := tr.word()
		var n uint64
		n, err = strconv.ParseUint(w, 0, 64)
		if err != nil {
			return nil, p.errf("bad mem_copy_bytes length %q", w)
		}
		in = &MemCopyBytes{Dst: dst, Src: src, Len: n}
	case "ptr_to_int":
		var ptr Value
		ptr, err = p.value(tr)
		if err != nil {
			return nil, err
		}
		tr.punct(",")
		tr.word() // the annotated u64
		in = &PtrToInt{Ptr: ptr}
	case "int_to_ptr":
		var v Value
		v, err = p.value(tr)
		if err != nil {
			return nil, err
		}
		if !tr.punct(",") {
			return nil, p.errf("expected ',' in int_to_ptr")
		}
		var ty Type
		ty, err = p.parseType(tr)
		if err != nil {
			return nil, err
		}
		if p.m.Types.Kind(ty) != TypePointer {
			return nil, p.errf("int_to_ptr target must be a pointer type")
		}
		in = &IntToPtr{Int: v, Ty: ty}
	case "add", "sub", "mul", "div", "mod", "and", "or", "xor", "shl", "shr":
		var x, y Value
		if x, y, err = p.valuePair(tr); err != nil {
			return nil, err
		}
		in = &BinOp{Op: binOpByName(first), X: x, Y: y}
	case "not":
		var x Value
		x, err = p.value(tr)
		if err != nil {
			return nil, err
		}
		in = &UnOp{X: x}
	case "cmp":
		predName, _ := tr.word()
		pred, ok := cmpByName(predName)
		if !ok {
			return nil, p.errf("unknown comparison predicate %q", predName)
		}
		var x, y Value
		if x, y, err = p.valuePair(tr); err != nil {
			return nil, err
		}
		in = &Cmp{Pred: pred, X: x, Y: y}
	case "call":
		name, _ := tr.word()
		if !tr.punct("(") {
			return nil, p.errf("expected '(' after callee name")
		}
		var args []Value
		args, err = p.argList(tr)
		if err != nil {
			return nil, err
		}
		c := &Call{Args: args}
		p.pending = append(p.pending, pendingCall{call: c, name: name, line: p.ln})
		in = c
	case "get_config":
		var ty Type
		ty, err = p.parseType(tr)
		if err != nil {
			return nil, err
		}
		if !tr.punct(",") {
			return nil, p.errf("expected ',' in get_config")
		}
		name, _ := tr.word()
		in = &GetConfig{Name: name, Ty: ty}
	case "br":
		label, _ := tr.word()
		if !tr.punct("(") {
			return nil, p.errf("expected '(' after branch target")
		}
		var args []Value
		args, err = p.argList(tr)
		if err != nil {
			return nil, err
		}
		in = &Br{Target: p.lookupBlock(label), Args: args}
	case "cbr":
		var cond Value
		cond, err = p.value(tr)
		if err != nil {
			return nil, err
		}
		if !tr.punct(",") {
			return nil, p.errf("expected ',' after cbr condition")
		}
		thenLabel, _ := tr.word()
		if !tr.punct("(") {
			return nil, p.errf("expected '(' after cbr target")
		}
		var thenArgs []Value
		thenArgs, err = p.argList(tr)
		if err != nil {
			return nil, err
		}
		if !tr.punct(",") {
			return nil, p.errf("expected ',' between cbr targets")
		}
		elseLabel, _ := tr.word()
		if !tr.punct("(") {
			return nil, p.errf("expected '(' after cbr target")
		}
		var elseArgs []Value
		elseArgs, err = p.argList(tr)
		if err != nil {
			return nil, err
		}
		in = &CondBr{
			Cond: cond,
			Then: p.lookupBlock(thenLabel), ThenArgs: thenArgs,
			Else: p.lookupBlock(elseLabel), ElseArgs: elseArgs,
		}
	case "ret":
		if _, err = p.parseType(tr); err != nil {
			return nil, err
		}
		var val Value
		val, err = p.value(tr)
		if err != nil {
			return nil, err
		}
		in = &Ret{Val: val}
	case "revert":
		var code Value
		code, err = p.value(tr)
		if err != nil {
			return nil, err
		}
		in = &Revert{Code: code}
	default:
		return nil, p.errf("unknown instruction %q", first)
	}

	if resultName != "" {
		v, ok := in.(Value)
		if !ok {
			return nil, p.errf("%q does not produce a value", first)
		}
		p.values[resultName] = v
	}
	return in, nil
}

func (p *parser) asmInstruction(line string) error {
	header := strings.TrimSpace(strings.TrimSuffix(line, "{"))
	tr, tag, err := p.lexTagged(header)
	if err != nil {
		return err
	}
	resultName, _ := tr.word()
	if !tr.punct("=") {
		return p.errf("expected '=' in asm instruction")
	}
	if w, _ := tr.word(); w != "asm" {
		return p.errf("expected 'asm', got %q", w)
	}
	if !tr.punct("(") {
		return p.errf("expected '(' after asm")
	}

	blk := &AsmBlock{Ty: UnitType}
	declared := map[string]bool{}
	if !tr.punct(")") {
		for {
			reg, ok := tr.word()
			if !ok {
				return p.errf("expected asm register name")
			}
			arg := AsmArg{Reg: reg}
			if tr.punct(":") {
				arg.Init, err = p.value(tr)
				if err != nil {
					return err
				}
			}
			declared[reg] = true
			blk.Args = append(blk.Args, arg)
			if tr.punct(")") {
				break
			}
			if !tr.punct(",") {
				return p.errf("expected ',' or ')' in asm bindings")
			}
		}
	}
	if tr.punct("->") {
		blk.Ty, err = p.parseType(tr)
		if err != nil {
			return err
		}
		blk.RetReg, _ = tr.word()
		declared[blk.RetReg] = true
	}
	p.advance()

	for {
		opLine, ok := p.next()
		if !ok {
			return p.errf("unterminated asm block")
		}
		if strings.HasPrefix(opLine, "}") {
			rest := strings.TrimSpace(strings.TrimPrefix(opLine, "}"))
			if rest != "" {
				if tag != 0 {
					return p.errf("duplicate span tag on asm block")
				}
				tag, err = parseTagSuffix(rest)
				if err != nil {
					return p.errf("%v", err)
				}
			}
			p.advance()
			break
		}
		fields := strings.Fields(opLine)
		op := AsmOp{Name: fields[0]}
		for _, tok := range fields[1:] {
			if declared[tok] {
				op.Regs = append(op.Regs, tok)
			} else {
				if op.Imm != "" {
					return p.errf("asm op %q has more than one immediate", op.Name)
				}
				op.Imm = tok
			}
		}
		blk.Ops = append(blk.Ops, op)
		p.advance()
	}

	p.values[resultName] = blk
	p.finish(blk, tag)
	return nil
}

func (p *parser) value(tr *tokens) (Value, error) {
	name, ok := tr.word()
	if !ok {
		return nil, p.errf("expected value operand")
	}
	v, ok := p.values[name]
	if !ok {
		return nil, p.errf("use of undefined value %q", name)
	}
	return v, nil
}

func (p *parser) valuePair(tr *tokens) (Value, Value, error) {
	a, err := p.value(tr)
	if err != nil {
		return nil, nil, err
	}
	if !tr.punct(",") {
		return nil, nil, p.errf("expected ',' between operands")
	}
	b, err := p.value(tr)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func (p *parser) argList(tr *tokens) ([]Value, error) {
	var args []Value
	if tr.punct(")") {
		return args, nil
	}
	for {
		v, err := p.value(tr)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		if tr.punct(")") {
			return args, nil
		}
		if !tr.punct(",") {
			return nil, p.errf("expected ',' or ')' in argument list")
		}
	}
}

// literal parses a constant literal of the expected type and interns it.
func (p *parser) literal(tr *tokens, ty Type) (ConstRef, error) {
	ts, cs := p.m.Types, p.m.Consts
	switch ts.Kind(ty) {
	case TypeUnit:
		if !tr.punct("(") || !tr.punct(")") {
			return NoConst, p.errf("expected '()' for unit literal")
		}
		return cs.Unit(), nil
	case TypeBool:
		w, _ := tr.word()
		switch w {
		case "true":
			return cs.Bool(true), nil
		case "false":
			return cs.Bool(false), nil
		}
		return NoConst, p.errf("expected bool literal, got %q", w)
	case TypeU8, TypeU16, TypeU32, TypeU64:
		w, _ := tr.word()
		n, err := strconv.ParseUint(w, 0, 64)
		if err != nil {
			return NoConst, p.errf("bad integer literal %q", w)
		}
		return cs.Uint(ty, n, ts), nil
	case TypeU256:
		w, _ := tr.word()
		var v *uint256.Int
		var err error
		if strings.HasPrefix(w, "0x") {
			v, err = uint256.FromHex(w)
		} else {
			v, err = uint256.FromDecimal(w)
		}
		if err != nil {
			return NoConst, p.errf("bad u256 literal %q: %v", w, err)
		}
		return cs.Wide(v), nil
	case TypeString:
		s, ok := tr.str()
		if !ok {
			return NoConst, p.errf("expected string literal")
		}
		if uint64(len(s)) != ts.Len(ty) {
			return NoConst, p.errf("string literal length %d does not match %s", len(s), ts.String(ty))
		}
		return cs.Str([]byte(s), ts), nil
	case TypeStruct:
		if !tr.punct("{") {
			return NoConst, p.errf("expected '{' for struct literal")
		}
		return p.aggLiteral(tr, ty, "}")
	case TypeArray:
		if !tr.punct("[") {
			return NoConst, p.errf("expected '[' for array literal")
		}
		return p.aggLiteral(tr, ty, "]")
	case TypeUnion:
		if w, _ := tr.word(); w != "tag" {
			return NoConst, p.errf("expected 'tag' for union literal")
		}
		w, _ := tr.word()
		tag, err := strconv.ParseUint(w, 0, 64)
		if err != nil {
			return NoConst, p.errf("bad union tag %q", w)
		}
		variants := ts.Fields(ty)
		if tag >= uint64(len(variants)) {
			return NoConst, p.errf("union tag %d out of range", tag)
		}
		payload, err := p.literal(tr, variants[tag].Ty)
		if err != nil {
			return NoConst, err
		}
		return cs.Union(ty, tag, payload), nil
	}
	return NoConst, p.errf("cannot parse literal of type %s", ts.String(ty))
}

func (p *parser) aggLiteral(tr *tokens, ty Type, close string) (ConstRef, error) {
	ts, cs := p.m.Types, p.m.Consts
	var elemTy func(i int) (Type, error)
	var count int
	if ts.Kind(ty) == TypeStruct {
		fields := ts.Fields(ty)
		count = len(fields)
		elemTy = func(i int) (Type, error) {
			if i >= len(fields) {
				return NoType, p.errf("too many elements in %s literal", ts.String(ty))
			}
			return fields[i].Ty, nil
		}
	} else {
		count = int(ts.Len(ty))
		elemTy = func(i int) (Type, error) {
			if uint64(i) >= ts.Len(ty) {
				return NoType, p.errf("too many elements in %s literal", ts.String(ty))
			}
			return ts.Elem(ty), nil
		}
	}
	var elems []ConstRef
	if tr.punct(close) {
		if count != 0 {
			return NoConst, p.errf("empty literal for non-empty %s", ts.String(ty))
		}
		return cs.Agg(ty, elems), nil
	}
	for {
		et, err := elemTy(len(elems))
		if err != nil {
			return NoConst, err
		}
		e, err := p.literal(tr, et)
		if err != nil {
			return NoConst, err
		}
		elems = append(elems, e)
		if tr.punct(close) {
			break
		}
		if !tr.punct(",") {
			return NoConst, p.errf("expected ',' or '%s' in literal", close)
		}
	}
	if len(elems) != count {
		return NoConst, p.errf("literal has %d elements, %s wants %d", len(elems), ts.String(ty), count)
	}
	return cs.Agg(ty, elems), nil
}

// parseType parses a type in textual IR syntax from the token stream.
func (p *parser) parseType(tr *tokens) (Type, error) {
	ts := p.m.Types
	w, ok := tr.word()
	if ok {
		switch w {
		case "unit":
			return UnitType, nil
		case "bool":
			return BoolType, nil
		case "u8":
			return U8Type, nil
		case "u16":
			return U16Type, nil
		case "u32":
			return U32Type, nil
		case "u64":
			return U64Type, nil
		case "u256":
			return U256Type, nil
		case "str":
			if !tr.punct("[") {
				return NoType, p.errf("expected '[' after str")
			}
			n, err := p.typeLen(tr)
			if err != nil {
				return NoType, err
			}
			if !tr.punct("]") {
				return NoType, p.errf("expected ']' after str length")
			}
			return ts.StringArray(n), nil
		case "ptr":
			elem, err := p.parseType(tr)
			if err != nil {
				return NoType, err
			}
			return ts.Pointer(elem), nil
		case "union":
			if !tr.punct("{") {
				return NoType, p.errf("expected '{' after union")
			}
			fields, err := p.fieldList(tr, true)
			if err != nil {
				return NoType, err
			}
			return ts.Union(fields), nil
		default:
			return NoType, p.errf("unknown type %q", w)
		}
	}
	switch {
	case tr.punct("["):
		elem, err := p.parseType(tr)
		if err != nil {
			return NoType, err
		}
		if !tr.punct(";") {
			return NoType, p.errf("expected ';' in array type")
		}
		n, err := p.typeLen(tr)
		if err != nil {
			return NoType, err
		}
		if !tr.punct("]") {
			return NoType, p.errf("expected ']' in array type")
		}
		return ts.Array(elem, n), nil
	case tr.punct("{"):
		fields, err := p.fieldList(tr, false)
		if err != nil {
			return NoType, err
		}
		return ts.Struct(fields), nil
	}
	return NoType, p.errf("expected type")
}

func (p *parser) typeLen(tr *tokens) (uint64, error) {
	w, ok := tr.word()
	if !ok {
		return 0, p.errf("expected length")
	}
	n, err := strconv.ParseUint(w, 0, 64)
	if err != nil {
		return 0, p.errf("bad length %q", w)
	}
	return n, nil
}

// fieldList parses struct or union members after the opening brace. Struct
// fields may be positional (bare types) or named; union variants are always
// named.
func (p *parser) fieldList(tr *tokens, named bool) ([]Field, error) {
	var fields []Field
	if tr.punct("}") {
		return fields, nil
	}
	for {
		var f Field
		if w, ok := tr.peekWord(); ok && tr.peekPunctAfterWord(":") {
			tr.word()
			tr.punct(":")
			f.Name = w
			ty, err := p.parseType(tr)
			if err != nil {
				return nil, err
			}
			f.Ty = ty
		} else {
			if named {
				return nil, p.errf("union variants must be named")
			}
			ty, err := p.parseType(tr)
			if err != nil {
				return nil, err
			}
			f.Name = strconv.Itoa(len(fields))
			f.Ty = ty
		}
		fields = append(fields, f)
		if tr.punct("}") {
			return fields, nil
		}
		if !tr.punct(",") {
			return nil, p.errf("expected ',' or '}' in field list")
		}
	}
}

// metadata parses the trailing !N table and resolves recorded tags.
func (p *parser) metadata() error {
	for {
		line, ok := p.next()
		if !ok {
			break
		}
		if !strings.HasPrefix(line, "!") {
			return p.errf("unexpected line after module: %q", line)
		}
		tr, err := lexTokens(line)
		if err != nil {
			return p.errf("%v", err)
		}
		tr.punct("!")
		idWord, _ := tr.word()
		id, err := strconv.Atoi(idWord)
		if err != nil {
			return p.errf("bad metadata id %q", idWord)
		}
		if !tr.punct("=") {
			return p.errf("expected '=' in metadata entry")
		}
		kind, _ := tr.word()
		switch kind {
		case "path":
			path, ok := tr.str()
			if !ok {
				return p.errf("expected path string")
			}
			if err := p.meta.AddPath(id, path); err != nil {
				return p.errf("%v", err)
			}
		case "span":
			if !tr.punct("!") {
				return p.errf("expected file reference in span entry")
			}
			fileWord, _ := tr.word()
			file, err := strconv.Atoi(fileWord)
			if err != nil {
				return p.errf("bad file id %q", fileWord)
			}
			sw, _ := tr.word()
			start, err := strconv.Atoi(sw)
			if err != nil {
				return p.errf("bad span start %q", sw)
			}
			ew, _ := tr.word()
			end, err := strconv.Atoi(ew)
			if err != nil {
				return p.errf("bad span end %q", ew)
			}
			if err := p.meta.AddSpan(id, file, start, end); err != nil {
				return p.errf("%v", err)
			}
		default:
			return p.errf("unknown metadata kind %q", kind)
		}
		p.advance()
	}

	for _, t := range p.tagged {
		sp := p.meta.Lookup(t.id)
		if !sp.IsValid() {
			return fmt.Errorf("ir: span tag !%d has no metadata entry", t.id)
		}
		switch {
		case t.instr != nil:
			t.instr.SetSpan(sp)
		case t.fn != nil:
			t.fn.Span = sp
		case t.cfg != nil:
			t.cfg.Span = sp
		}
	}
	return nil
}

// resolve patches call sites now that every function exists.
func (p *parser) resolve() error {
	for _, pc := range p.pending {
		f := p.m.Function(pc.name)
		if f == nil {
			return &ParseError{Line: pc.line + 1, Msg: fmt.Sprintf("call to unknown function %q", pc.name)}
		}
		pc.call.Callee = f
	}
	return nil
}

// lexTagged lexes a line after splitting off a trailing ", !N" span tag.
func (p *parser) lexTagged(line string) (*tokens, int, error) {
	tag := 0
	if i := strings.LastIndex(line, ", !"); i >= 0 {
		t, err := parseTagSuffix(strings.TrimSpace(line[i+2:]))
		if err == nil {
			tag = t
			line = line[:i]
		}
	}
	tr, err := lexTokens(line)
	if err != nil {
		return nil, 0, p.errf("%v", err)
	}
	return tr, tag, nil
}

func parseTagSuffix(s string) (int, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, ","), " ")
	if !strings.HasPrefix(s, "!") {
		return 0, fmt.Errorf("not a span tag: %q", s)
	}
	return strconv.Atoi(strings.TrimPrefix(s, "!"))
}

func binOpByName(name string) BinOpKind {
	for i, n := range binOpNames {
		if n == name {
			return BinOpKind(i)
		}
	}
	panic("ir: binOpByName on unchecked name " + name)
}

func cmpByName(name string) (CmpPred, bool) {
	for i, n := range cmpNames {
		if n == name {
			return CmpPred(i), true
		}
	}
	return 0, false
}

// tokens is a cursor over one lexed line.
type tokens struct {
	list []token
	pos  int
}

type tokKind uint8

const (
	tokWord tokKind = iota
	tokPunct
	tokString
)

type token struct {
	kind tokKind
	text string
}

func (tr *tokens) word() (string, bool) {
	if tr.pos < len(tr.list) && tr.list[tr.pos].kind == tokWord {
		w := tr.list[tr.pos].text
		tr.pos++
		return w, true
	}
	return "", false
}

func (tr *tokens) peekWord() (string, bool) {
	if tr.pos < len(tr.list) && tr.list[tr.pos].kind == tokWord {
		return tr.list[tr.pos].text, true
	}
	return "", false
}

// peekPunctAfterWord reports whether the token after the next word is the
// given punctuation, used to disambiguate named from positional fields.
func (tr *tokens) peekPunctAfterWord(p string) bool {
	return tr.pos+1 < len(tr.list) &&
		tr.list[tr.pos].kind == tokWord &&
		tr.list[tr.pos+1].kind == tokPunct &&
		tr.list[tr.pos+1].text == p
}

func (tr *tokens) punct(p string) bool {
	if tr.pos < len(tr.list) && tr.list[tr.pos].kind == tokPunct && tr.list[tr.pos].text == p {
		tr.pos++
		return true
	}
	return false
}

func (tr *tokens) str() (string, bool) {
	if tr.pos < len(tr.list) && tr.list[tr.pos].kind == tokString {
		s := tr.list[tr.pos].text
		tr.pos++
		return s, true
	}
	return "", false
}

func lexTokens(line string) (*tokens, error) {
	toks, err := lex(line)
	if err != nil {
		return nil, err
	}
	return &tokens{list: toks}, nil
}

func lex(line string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '"':
			j := i + 1
			for j < len(line) {
				if line[j] == '\\' {
					j += 2
					continue
				}
				if line[j] == '"' {
					break
				}
				j++
			}
			if j >= len(line) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			s, err := strconv.Unquote(line[i : j+1])
			if err != nil {
				return nil, fmt.Errorf("bad string literal %s: %v", line[i:j+1], err)
			}
			toks = append(toks, token{kind: tokString, text: s})
			i = j + 1
		case c == '-' && i+1 < len(line) && line[i+1] == '>':
			toks = append(toks, token{kind: tokPunct, text: "->"})
			i += 2
		case strings.ContainsRune("{}()[],:;=!", rune(c)):
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++
		default:
			j := i
			for j < len(line) && !strings.ContainsRune(" \t{}()[],:;=!\"", rune(line[j])) {
				j++
			}
			if j == i {
				return nil, fmt.Errorf("unexpected character %q", c)
			}
			toks = append(toks, token{kind: tokWord, text: line[i:j]})
			i = j
		}
	}
	return toks, nil
}
