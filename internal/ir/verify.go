package ir

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

// VerifierError is an internal compiler error: the module handed to Verify
// violates a structural invariant, which means lowering or an earlier pass
// has a bug. It is never shown as a user diagnostic.
type VerifierError struct {
	Func    string
	Block   string
	Message string
	Dump    string // bounded spew dump of the offending instruction
}

// verifierDump keeps instruction dumps readable; the graph is cyclic and a
// full dump would print the whole function.
var verifierDump = &spew.ConfigState{Indent: "  ", MaxDepth: 2, DisablePointerAddresses: true}

func (e *VerifierError) Error() string {
	loc := ""
	if e.Func != "" {
		loc = " in " + e.Func
		if e.Block != "" {
			loc += ", block " + e.Block
		}
	}
	msg := fmt.Sprintf("internal compiler error: %s%s; please file a bug report", e.Message, loc)
	if e.Dump != "" {
		msg += "\n" + e.Dump
	}
	return msg
}

// Verify checks every structural invariant of the module and returns the
// first violation found. It runs after lowering and, in debug configurations,
// after every optimization pass.
func Verify(m *Module) error {
	v := &verifier{m: m}
	return v.module()
}

type verifier struct {
	m   *Module
	f   *Function
	blk *Block
}

func (v *verifier) fail(format string, args ...interface{}) error {
	e := &VerifierError{Message: fmt.Sprintf(format, args...)}
	if v.f != nil {
		e.Func = v.f.Name
	}
	if v.blk != nil {
		e.Block = v.blk.Label
	}
	return e
}

func (v *verifier) failInstr(in Instr, format string, args ...interface{}) error {
	err := v.fail(format, args...).(*VerifierError)
	err.Dump = verifierDump.Sdump(in)
	return err
}

func (v *verifier) module() error {
	seenFn := make(map[string]bool, len(v.m.Funcs))
	for _, f := range v.m.Funcs {
		if seenFn[f.Name] {
			return v.fail("duplicate function %q", f.Name)
		}
		seenFn[f.Name] = true
	}
	seenCfg := make(map[string]bool, len(v.m.Configs))
	for _, c := range v.m.Configs {
		if seenCfg[c.Name] {
			return v.fail("duplicate configurable %q", c.Name)
		}
		seenCfg[c.Name] = true
		if c.Default == NoConst {
			return v.fail("configurable %q has no default", c.Name)
		}
		if got := v.m.Consts.Get(c.Default).Ty; got != c.Ty {
			return v.fail("configurable %q declared %s but default is %s",
				c.Name, v.m.Types.String(c.Ty), v.m.Types.String(got))
		}
	}
	for _, f := range v.m.Funcs {
		if err := v.function(f); err != nil {
			return err
		}
	}
	return nil
}

func (v *verifier) function(f *Function) error {
	v.f, v.blk = f, nil
	defer func() { v.f, v.blk = nil, nil }()

	if len(f.Blocks) == 0 {
		return v.fail("function has no blocks")
	}
	seenLocal := make(map[string]bool, len(f.Locals))
	for _, l := range f.Locals {
		if seenLocal[l.Name] {
			return v.fail("duplicate local %q", l.Name)
		}
		seenLocal[l.Name] = true
		if l.Init != NoConst {
			if got := v.m.Consts.Get(l.Init).Ty; got != l.Ty {
				return v.fail("local %q declared %s but initializer is %s",
					l.Name, v.m.Types.String(l.Ty), v.m.Types.String(got))
			}
		}
	}

	blockIdx := make(map[*Block]int, len(f.Blocks))
	for i, b := range f.Blocks {
		if b.Fn != f {
			v.blk = b
			return v.fail("block does not belong to its function")
		}
		if prev, dup := blockIdx[b]; dup {
			return v.fail("block %q appears twice (index %d and %d)", b.Label, prev, i)
		}
		blockIdx[b] = i
	}

	// Terminator discipline and instruction ownership.
	seenInstr := make(map[Instr]bool)
	for _, b := range f.Blocks {
		v.blk = b
		if len(b.Instrs) == 0 {
			return v.fail("block is empty")
		}
		for i, in := range b.Instrs {
			if seenInstr[in] {
				return v.failInstr(in, "instruction appears in more than one position")
			}
			seenInstr[in] = true
			if in.Parent() != b {
				return v.failInstr(in, "instruction parent does not match its block")
			}
			if IsTerminator(in) != (i == len(b.Instrs)-1) {
				if IsTerminator(in) {
					return v.failInstr(in, "terminator in the middle of a block")
				}
				return v.failInstr(in, "block does not end in a terminator")
			}
		}
	}
	v.blk = nil

	reach := reachable(f)
	preds := Predecessors(f)
	if len(preds[f.Entry()]) > 0 {
		return v.fail("entry block has predecessors")
	}
	doms := dominators(f, reach, preds)
	defs := v.defSites(f)

	for _, b := range f.Blocks {
		v.blk = b
		for i, in := range b.Instrs {
			if err := v.instr(f, in); err != nil {
				return err
			}
			if err := v.operandsDominate(f, b, i, in, defs, doms, reach, blockIdx); err != nil {
				return err
			}
		}
	}
	v.blk = nil

	return v.localsStoredBeforeRead(f, reach)
}

type defSite struct {
	blk *Block
	idx int // -1 for block parameters
}

func (v *verifier) defSites(f *Function) map[Value]defSite {
	defs := make(map[Value]defSite)
	for _, b := range f.Blocks {
		for _, p := range b.Params {
			defs[p] = defSite{blk: b, idx: -1}
		}
		for i, in := range b.Instrs {
			if val, ok := in.(Value); ok {
				defs[val] = defSite{blk: b, idx: i}
			}
		}
	}
	return defs
}

// reachable returns the set of blocks reachable from entry. Dominance and
// stored-before-read checks only apply to reachable code: passes may leave
// unreachable blocks behind for dead code elimination to collect.
func reachable(f *Function) map[*Block]bool {
	reach := make(map[*Block]bool, len(f.Blocks))
	stack := []*Block{f.Entry()}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reach[b] {
			continue
		}
		reach[b] = true
		if t := b.Terminator(); t != nil {
			stack = append(stack, Successors(t)...)
		}
	}
	return reach
}

// dominators computes the dominator sets of every reachable block with the
// straightforward iterative dataflow: dom(b) = {b} ∪ ⋂ dom(preds).
func dominators(f *Function, reach map[*Block]bool, preds map[*Block][]*Block) map[*Block]map[*Block]bool {
	var order []*Block
	for _, b := range f.Blocks {
		if reach[b] {
			order = append(order, b)
		}
	}
	dom := make(map[*Block]map[*Block]bool, len(order))
	entry := f.Entry()
	dom[entry] = map[*Block]bool{entry: true}
	all := make(map[*Block]bool, len(order))
	for _, b := range order {
		all[b] = true
	}
	for _, b := range order {
		if b != entry {
			set := make(map[*Block]bool, len(order))
			for k := range all {
				set[k] = true
			}
			dom[b] = set
		}
	}
	for changed := true; changed; {
		changed = false
		for _, b := range order {
			if b == entry {
				continue
			}
			next := make(map[*Block]bool)
			first := true
			for _, p := range preds[b] {
				if !reach[p] {
					continue
				}
				if first {
					for k := range dom[p] {
						next[k] = true
					}
					first = false
					continue
				}
				for k := range next {
					if !dom[p][k] {
						delete(next, k)
					}
				}
			}
			next[b] = true
			if len(next) != len(dom[b]) {
				dom[b] = next
				changed = true
				continue
			}
			for k := range next {
				if !dom[b][k] {
					dom[b] = next
					changed = true
					break
				}
			}
		}
	}
	return dom
}

func (v *verifier) operandsDominate(f *Function, b *Block, idx int, in Instr,
	defs map[Value]defSite, doms map[*Block]map[*Block]bool, reach map[*Block]bool, blockIdx map[*Block]int,
) error {
	for _, slot := range in.operands() {
		val := *slot
		if val == nil {
			return v.failInstr(in, "nil operand")
		}
		site, ok := defs[val]
		if !ok {
			return v.failInstr(in, "operand is not defined in this function")
		}
		if !reach[b] {
			// Unreachable code only needs local ordering.
			if site.blk == b && site.idx >= idx {
				return v.failInstr(in, "use of value before its definition")
			}
			continue
		}
		if site.blk == b {
			if site.idx >= idx {
				return v.failInstr(in, "use of value before its definition")
			}
			continue
		}
		if !doms[b][site.blk] {
			return v.failInstr(in, "use of value whose definition does not dominate it")
		}
	}
	return nil
}

// instr checks the per-variant typing rules.
func (v *verifier) instr(f *Function, in Instr) error {
	ts, cs := v.m.Types, v.m.Consts
	switch t := in.(type) {
	case *ConstInstr:
		if got := cs.Get(t.C).Ty; got != t.Ty {
			return v.failInstr(in, "const instruction typed %s but literal is %s",
				ts.String(t.Ty), ts.String(got))
		}
	case *GetLocal:
		if f.Local(t.Local.Name) != t.Local {
			return v.failInstr(in, "get_local of a local owned by another function")
		}
		if t.Ty != ts.Pointer(t.Local.Ty) {
			return v.failInstr(in, "get_local typed %s, want %s",
				ts.String(t.Ty), ts.String(ts.Pointer(t.Local.Ty)))
		}
	case *GetElemPtr:
		if !ts.IsPointer(t.Base.Type()) {
			return v.failInstr(in, "get_elem_ptr base is %s, want pointer", ts.String(t.Base.Type()))
		}
		for i, idx := range t.Indices {
			if idx.Type() != U64Type {
				return v.failInstr(in, "get_elem_ptr index %d is %s, want u64", i, ts.String(idx.Type()))
			}
		}
		elem, err := ElemType(ts, cs, ts.Elem(t.Base.Type()), t.Indices)
		if err != nil {
			return v.failInstr(in, "get_elem_ptr: %v", err)
		}
		if t.Ty != ts.Pointer(elem) {
			return v.failInstr(in, "get_elem_ptr typed %s, want %s",
				ts.String(t.Ty), ts.String(ts.Pointer(elem)))
		}
	case *Load:
		if !ts.IsPointer(t.Ptr.Type()) {
			return v.failInstr(in, "load of non-pointer %s", ts.String(t.Ptr.Type()))
		}
		elem := ts.Elem(t.Ptr.Type())
		if t.Ty != elem {
			return v.failInstr(in, "load typed %s through %s", ts.String(t.Ty), ts.String(t.Ptr.Type()))
		}
		if !loadable(ts, elem) {
			return v.failInstr(in, "load of %s; aggregates move with mem_copy_val", ts.String(elem))
		}
	case *Store:
		if !ts.IsPointer(t.Ptr.Type()) {
			return v.failInstr(in, "store through non-pointer %s", ts.String(t.Ptr.Type()))
		}
		elem := ts.Elem(t.Ptr.Type())
		if t.Val.Type() != elem {
			return v.failInstr(in, "store of %s through %s",
				ts.String(t.Val.Type()), ts.String(t.Ptr.Type()))
		}
		if !loadable(ts, elem) {
			return v.failInstr(in, "store of %s; aggregates move with mem_copy_val", ts.String(elem))
		}
	case *MemCopyVal:
		if !ts.IsPointer(t.Dst.Type()) || !ts.IsPointer(t.Src.Type()) {
			return v.failInstr(in, "mem_copy_val operands must be pointers")
		}
		if t.Dst.Type() != t.Src.Type() {
			return v.failInstr(in, "mem_copy_val between %s and %s",
				ts.String(t.Dst.Type()), ts.String(t.Src.Type()))
		}
	case *MemCopyBytes:
		if !ts.IsPointer(t.Dst.Type()) || !ts.IsPointer(t.Src.Type()) {
			return v.failInstr(in, "mem_copy_bytes operands must be pointers")
		}
	case *PtrToInt:
		if !ts.IsPointer(t.Ptr.Type()) {
			return v.failInstr(in, "ptr_to_int of %s", ts.String(t.Ptr.Type()))
		}
	case *IntToPtr:
		if t.Int.Type() != U64Type {
			return v.failInstr(in, "int_to_ptr of %s, want u64", ts.String(t.Int.Type()))
		}
		if !ts.IsPointer(t.Ty) {
			return v.failInstr(in, "int_to_ptr produces %s, want pointer", ts.String(t.Ty))
		}
	case *BinOp:
		if t.X.Type() != t.Y.Type() {
			return v.failInstr(in, "%s operands differ: %s vs %s",
				t.Op, ts.String(t.X.Type()), ts.String(t.Y.Type()))
		}
		if !ts.IsInteger(t.X.Type()) {
			return v.failInstr(in, "%s on non-integer %s", t.Op, ts.String(t.X.Type()))
		}
	case *UnOp:
		// not on bool is logical negation; registers hold 0 or 1.
		if !ts.IsInteger(t.X.Type()) && t.X.Type() != BoolType {
			return v.failInstr(in, "not on %s", ts.String(t.X.Type()))
		}
	case *Cmp:
		if t.X.Type() != t.Y.Type() {
			return v.failInstr(in, "cmp operands differ: %s vs %s",
				ts.String(t.X.Type()), ts.String(t.Y.Type()))
		}
		if !ts.IsInteger(t.X.Type()) {
			if t.X.Type() != BoolType || (t.Pred != CmpEq && t.Pred != CmpNe) {
				return v.failInstr(in, "%s cmp on %s", t.Pred, ts.String(t.X.Type()))
			}
		}
	case *Call:
		if t.Callee == nil {
			return v.failInstr(in, "call with nil callee")
		}
		if v.m.Function(t.Callee.Name) != t.Callee {
			return v.failInstr(in, "call to %q which is not in this module", t.Callee.Name)
		}
		params := t.Callee.Params()
		if len(t.Args) != len(params) {
			return v.failInstr(in, "call to %q with %d args, want %d",
				t.Callee.Name, len(t.Args), len(params))
		}
		for i, a := range t.Args {
			if a.Type() != params[i].Ty {
				return v.failInstr(in, "call to %q: arg %d is %s, want %s",
					t.Callee.Name, i, ts.String(a.Type()), ts.String(params[i].Ty))
			}
		}
	case *GetConfig:
		c := v.m.Config(t.Name)
		if c == nil {
			return v.failInstr(in, "get_config of undeclared %q", t.Name)
		}
		if t.Ty != ts.Pointer(c.Ty) {
			return v.failInstr(in, "get_config %q typed %s, want %s",
				t.Name, ts.String(t.Ty), ts.String(ts.Pointer(c.Ty)))
		}
	case *AsmBlock:
		seen := make(map[string]bool, len(t.Args))
		for _, a := range t.Args {
			if a.Reg == "" {
				return v.failInstr(in, "asm binding with empty register name")
			}
			if seen[a.Reg] {
				return v.failInstr(in, "asm binds register %q twice", a.Reg)
			}
			seen[a.Reg] = true
			if a.Init != nil && !ts.IsRegisterSized(a.Init.Type()) {
				return v.failInstr(in, "asm binding %q initialized with %s; registers hold one word",
					a.Reg, ts.String(a.Init.Type()))
			}
		}
		if t.RetReg == "" {
			if t.Ty != UnitType {
				return v.failInstr(in, "asm without result register typed %s", ts.String(t.Ty))
			}
		} else if !seen[t.RetReg] {
			return v.failInstr(in, "asm result register %q is not bound", t.RetReg)
		} else if !ts.IsRegisterSized(t.Ty) {
			return v.failInstr(in, "asm result typed %s; registers hold one word", ts.String(t.Ty))
		}
	case *Br:
		if err := v.branchTarget(f, in, t.Target, t.Args); err != nil {
			return err
		}
	case *CondBr:
		if t.Cond.Type() != BoolType {
			return v.failInstr(in, "cbr condition is %s, want bool", ts.String(t.Cond.Type()))
		}
		if err := v.branchTarget(f, in, t.Then, t.ThenArgs); err != nil {
			return err
		}
		if err := v.branchTarget(f, in, t.Else, t.ElseArgs); err != nil {
			return err
		}
	case *Ret:
		if t.Val.Type() != f.RetTy {
			return v.failInstr(in, "ret of %s from function returning %s",
				ts.String(t.Val.Type()), ts.String(f.RetTy))
		}
	case *Revert:
		if t.Code.Type() != U64Type {
			return v.failInstr(in, "revert code is %s, want u64", ts.String(t.Code.Type()))
		}
	default:
		return v.failInstr(in, "unknown instruction %T", in)
	}
	return nil
}

func (v *verifier) branchTarget(f *Function, in Instr, target *Block, args []Value) error {
	if target == nil {
		return v.failInstr(in, "branch to nil block")
	}
	found := false
	for _, b := range f.Blocks {
		if b == target {
			found = true
			break
		}
	}
	if !found {
		return v.failInstr(in, "branch to block %q which is not in this function", target.Label)
	}
	if len(args) != len(target.Params) {
		return v.failInstr(in, "branch to %q with %d args, want %d",
			target.Label, len(args), len(target.Params))
	}
	for i, a := range args {
		if a.Type() != target.Params[i].Ty {
			return v.failInstr(in, "branch to %q: arg %d is %s, want %s",
				target.Label, i, v.m.Types.String(a.Type()), v.m.Types.String(target.Params[i].Ty))
		}
	}
	return nil
}

// loadable reports whether load/store may move values of this type directly.
// Everything else is frame memory moved by mem_copy_val.
func loadable(ts *Types, t Type) bool {
	switch ts.Kind(t) {
	case TypeBool, TypeU8, TypeU16, TypeU32, TypeU64, TypeU256, TypePointer:
		return true
	}
	return false
}

// localsStoredBeforeRead flags locals that can be read before anything was
// stored to them on some path from entry. This is def-reachability, not full
// definite assignment: taking the local's address in any way other than an
// immediate load or store counts as a definition, since the pointer may be
// written through elsewhere.
func (v *verifier) localsStoredBeforeRead(f *Function, reach map[*Block]bool) error {
	for _, l := range f.Locals {
		if l.Init != NoConst {
			continue
		}
		if err := v.checkLocalReads(f, l, reach); err != nil {
			return err
		}
	}
	return nil
}

func (v *verifier) checkLocalReads(f *Function, l *Local, reach map[*Block]bool) error {
	// Per block: index of the first read and first definition of l.
	type evt struct {
		firstRead Instr
		readIdx   int
		defIdx    int
	}
	events := make(map[*Block]evt)
	for _, b := range f.Blocks {
		if !reach[b] {
			continue
		}
		e := evt{readIdx: -1, defIdx: -1}
		for i, in := range b.Instrs {
			gl, ok := in.(*GetLocal)
			if !ok || gl.Local != l {
				continue
			}
			read, def := classifyLocalUses(f, gl)
			if read && e.readIdx < 0 {
				e.readIdx, e.firstRead = i, gl
			}
			if def && e.defIdx < 0 {
				e.defIdx = i
			}
		}
		events[b] = e
	}

	// A block is "hot" on entry when some path from the function entry
	// reaches it without passing a definition of l.
	hot := map[*Block]bool{f.Entry(): true}
	work := []*Block{f.Entry()}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		e := events[b]
		if e.readIdx >= 0 && (e.defIdx < 0 || e.readIdx <= e.defIdx) {
			v.blk = b
			return v.failInstr(e.firstRead, "local %q may be read before any store reaches it", l.Name)
		}
		if e.defIdx >= 0 {
			continue // every path onward has a definition
		}
		if t := b.Terminator(); t != nil {
			for _, s := range Successors(t) {
				if !hot[s] {
					hot[s] = true
					work = append(work, s)
				}
			}
		}
	}
	return nil
}

// classifyLocalUses inspects every use of one get_local result: loads and
// copy-sources read the slot; stores and copy-destinations define it. Any
// escape of the pointer (calls, pointer arithmetic, branches, asm) counts as
// a definition and stops the analysis from flagging later reads.
func classifyLocalUses(f *Function, gl *GetLocal) (read, def bool) {
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			for _, slot := range in.operands() {
				if *slot != Value(gl) {
					continue
				}
				switch u := in.(type) {
				case *Load:
					read = true
				case *Store:
					if u.Ptr == Value(gl) {
						def = true
					}
					if u.Val == Value(gl) {
						def = true // pointer escapes into memory
					}
				case *MemCopyVal:
					if u.Src == Value(gl) {
						read = true
					}
					if u.Dst == Value(gl) {
						def = true
					}
				case *MemCopyBytes:
					if u.Src == Value(gl) {
						read = true
					}
					if u.Dst == Value(gl) {
						def = true
					}
				default:
					def = true
				}
			}
		}
	}
	return read, def
}
