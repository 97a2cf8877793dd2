package codegen

import (
	"encoding/binary"

	"github.com/cinder-lang/cinder/internal/abi"
	"github.com/cinder-lang/cinder/internal/ir"
	"github.com/cinder-lang/cinder/internal/source"
	"github.com/cinder-lang/cinder/internal/vm"
)

// The module image starts with four reserved words:
//
//	word 0  entry jump: scripts jump to main, contracts to the dispatcher
//	word 1  reserved, noop
//	word 2  data section byte offset, high half
//	word 3  data section byte offset, low half
//
// Contracts continue with the selector dispatch, then every function in
// module order. The data section bytes follow the last code word, at the
// offset the loader reads from words 2 and 3.
const headerWords = 4

// assemble stitches the header, dispatcher and functions into the final
// word stream, resolving branch targets and call addresses.
func (g *gen) assemble(funcs []*asmFunc) (*Artifact, error) {
	var dispatch []vinstr
	if g.m.Kind == ir.KindContract {
		var err error
		dispatch, err = g.dispatcher(funcs)
		if err != nil {
			return nil, err
		}
	}

	starts := make(map[*ir.Function]uint32, len(funcs))
	addr := uint32(headerWords + len(dispatch))
	for _, af := range funcs {
		starts[af.fn] = addr
		addr += uint32(len(af.code))
	}
	dsOff := uint64(addr) * 4

	art := &Artifact{
		Module:  g.m.Name,
		Kind:    g.m.Kind,
		Configs: g.data.slots,
	}
	words := make([]uint32, 0, addr)

	switch g.m.Kind {
	case ir.KindScript:
		main := g.m.Function("main")
		if main == nil || !main.IsEntry {
			return nil, newError(g.m.Name, source.Span{}, "script module has no main entry")
		}
		if starts[main] > vm.MaxImm24 {
			return nil, newError(main.Name, main.Span, "entry sits past the 24-bit jump range")
		}
		words = append(words, mustEncode(vm.Instr{Op: vm.JI, Imm: starts[main]}))
	case ir.KindContract:
		words = append(words, mustEncode(vm.Instr{Op: vm.JI, Imm: headerWords}))
	case ir.KindLibrary:
		words = append(words, mustEncode(vm.Instr{Op: vm.NOOP}))
	}
	words = append(words, mustEncode(vm.Instr{Op: vm.NOOP}))
	words = append(words, uint32(dsOff>>32), uint32(dsOff))

	if len(dispatch) > 0 {
		art.marks = append(art.marks, mark{word: headerWords, text: "selector dispatch"})
		for _, in := range dispatch {
			w, err := g.finalWord(in, nil, 0, starts)
			if err != nil {
				return nil, err
			}
			words = append(words, w)
		}
	}

	for _, af := range funcs {
		base := starts[af.fn]
		art.marks = append(art.marks, mark{word: base, text: "fn " + af.fn.Name})
		art.Funcs = append(art.Funcs, FuncStat{Name: af.fn.Name, Words: len(af.code), Elapsed: af.elapsed})
		for i, in := range af.code {
			w, err := g.finalWord(in, af, base, starts)
			if err != nil {
				return nil, err
			}
			words = append(words, w)
			if !in.span.IsValid() {
				continue
			}
			if n := len(art.Debug); n == 0 || art.Debug[n-1].Span != in.span {
				art.Debug = append(art.Debug, DebugEntry{Word: base + uint32(i), Span: in.span})
			}
		}
	}

	art.Bytecode = make([]byte, 4*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint32(art.Bytecode[i*4:], w)
	}
	art.Data = g.data.bytes()

	for _, af := range funcs {
		if !af.fn.IsEntry {
			continue
		}
		tys := paramTypes(af.fn)
		art.Entries = append(art.Entries, Entry{
			Name:     af.fn.Name,
			Selector: abi.Selector(g.m.Types, af.fn.Name, tys),
			Addr:     starts[af.fn],
			Params:   tys,
			Ret:      af.fn.RetTy,
		})
	}
	return art, nil
}

// finalWord resolves one instruction's symbolic pieces and encodes it.
// af is nil for dispatcher code, which never branches into a function
// body by label.
func (g *gen) finalWord(in vinstr, af *asmFunc, base uint32, starts map[*ir.Function]uint32) (uint32, error) {
	name := "dispatch"
	if af != nil {
		name = af.fn.Name
	}
	conv := func(r reg) (vm.Reg, error) {
		if r.virtual() {
			return 0, newError(name, in.span, "virtual register survived to emission")
		}
		return vm.Reg(r), nil
	}
	out := vm.Instr{Op: in.op, Imm: in.imm}
	var err error
	if out.A, err = conv(in.a); err != nil {
		return 0, err
	}
	if out.B, err = conv(in.b); err != nil {
		return 0, err
	}
	if out.C, err = conv(in.c); err != nil {
		return 0, err
	}
	if out.D, err = conv(in.d); err != nil {
		return 0, err
	}

	switch {
	case in.callee != nil:
		target, ok := starts[in.callee]
		if !ok {
			return 0, newError(name, in.span, "call to %s, which was never laid out", in.callee.Name)
		}
		if target > vm.MaxImm24 {
			return 0, newError(name, in.span, "%s sits past the 24-bit call range", in.callee.Name)
		}
		out.Imm = target
	case in.target != nil:
		idx, ok := af.labels[in.target]
		if !ok {
			return 0, newError(name, in.span, "branch to unplaced block %s", in.target.Label)
		}
		word := base + uint32(idx)
		limit := uint32(vm.MaxImm24)
		if in.op == vm.JNZI {
			limit = vm.MaxImm18
		}
		if word > limit {
			return 0, newError(name, in.span, "jump to %s exceeds the %d-word encoding range", in.target.Label, limit)
		}
		out.Imm = word
	}

	w, err := out.Encode()
	if err != nil {
		return 0, newError(name, in.span, "%v", err)
	}
	return w, nil
}

func mustEncode(in vm.Instr) uint32 {
	w, err := in.Encode()
	if err != nil {
		panic("codegen: header word: " + err.Error())
	}
	return w
}

// dispatcher builds the contract's entry dispatch. The caller's selector
// arrives in the high half of the first calldata word; each entry compares
// it against its tag and jumps to a stub that loads the declared arguments
// from the following calldata words and tail-jumps into the function. The
// entry's own frame extension then grows the root frame, so its ret halts
// the program with the result. An unmatched selector reverts.
func (g *gen) dispatcher(funcs []*asmFunc) ([]vinstr, error) {
	cdw := vm.Describe(vm.CDW)
	if !g.cfg.TargetAtLeast(cdw.MinVM) {
		return nil, newError(g.m.Name, source.Span{},
			"contract dispatch reads calldata with %s, which needs CVM %s (targeting %s)",
			cdw.Name, cdw.MinVM, g.cfg.TargetVM)
	}

	type ent struct {
		fn     *ir.Function
		sel    uint32
		selOff uint64
		pooled bool
		nargs  int
	}
	var entries []ent
	for _, af := range funcs {
		if !af.fn.IsEntry {
			continue
		}
		tys := paramTypes(af.fn)
		e := ent{
			fn:    af.fn,
			sel:   abi.Selector(g.m.Types, af.fn.Name, tys),
			nargs: len(tys),
		}
		if uint64(e.sel) > vm.MaxImm18 {
			e.pooled = true
			e.selOff = g.data.wordOffset(uint64(e.sel))
		}
		entries = append(entries, e)
	}
	badOff := g.data.wordOffset(vm.RevertBadSelector)

	loadLen := func(off uint64) int {
		if off <= vm.MaxImm12 {
			return 1
		}
		return 2
	}
	selLen := func(e ent) int {
		if !e.pooled {
			return 1
		}
		return loadLen(e.selOff)
	}

	compareLen := 2
	for _, e := range entries {
		compareLen += selLen(e) + 2
	}
	compareLen += loadLen(badOff) + 1
	stubAt := make([]int, len(entries))
	at := compareLen
	for i, e := range entries {
		stubAt[i] = at
		at += e.nargs + 1
	}

	s0, s1, s2 := phys(vm.RegScratch0), phys(vm.RegScratch0+1), phys(vm.RegScratch0+2)
	var code []vinstr

	// pooledLoad reads the eight-byte word at a data-section offset into
	// dst using only dispatch scratch registers.
	pooledLoad := func(dst reg, off uint64) error {
		if off <= vm.MaxImm12 {
			code = append(code, vinstr{op: vm.LD, a: dst, b: phys(vm.RegDS), imm: uint32(off)})
			return nil
		}
		if off > vm.MaxImm18 {
			return newError("dispatch", source.Span{},
				"data section offset %d exceeds the %d-byte addressable range", off, vm.MaxImm18+1)
		}
		code = append(code, vinstr{op: vm.DADR, a: dst, imm: uint32(off)})
		code = append(code, vinstr{op: vm.LD, a: dst, b: dst})
		return nil
	}

	code = append(code, vinstr{op: vm.CDW, a: s0})
	code = append(code, vinstr{op: vm.SRLI, a: s0, b: s0, imm: 32})
	for i, e := range entries {
		if !e.pooled {
			code = append(code, vinstr{op: vm.MOVI, a: s1, imm: e.sel})
		} else if err := pooledLoad(s1, e.selOff); err != nil {
			return nil, err
		}
		code = append(code, vinstr{op: vm.EQ, a: s2, b: s0, c: s1})
		word := uint32(headerWords + stubAt[i])
		if word > vm.MaxImm18 {
			return nil, newError(e.fn.Name, e.fn.Span, "dispatch stub sits past the 18-bit jump range")
		}
		code = append(code, vinstr{op: vm.JNZI, a: s2, imm: word})
	}
	if err := pooledLoad(s0, badOff); err != nil {
		return nil, err
	}
	code = append(code, vinstr{op: vm.RVRT, a: s0})

	for _, e := range entries {
		for j := 0; j < e.nargs; j++ {
			code = append(code, vinstr{op: vm.CDW, a: phys(vm.RegArg0 + vm.Reg(j)), imm: uint32(8 * (j + 1))})
		}
		code = append(code, vinstr{op: vm.JI, callee: e.fn})
	}
	return code, nil
}

func paramTypes(f *ir.Function) []ir.Type {
	ps := f.Params()
	tys := make([]ir.Type, len(ps))
	for i, p := range ps {
		tys[i] = p.Ty
	}
	return tys
}
