package ir

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cinder-lang/cinder/internal/source"
)

// Print renders the module in textual IR form, including the trailing
// metadata table with every span referenced by a !N tag. The output parses
// back with Parse into a structurally identical module.
func Print(m *Module) string {
	p := &printer{m: m, meta: source.NewTable()}
	return p.module()
}

// String implements fmt.Stringer for debugger and log output.
func (m *Module) String() string { return Print(m) }

type printer struct {
	m    *Module
	meta *source.Table
	b    strings.Builder
	name map[Value]string
}

func (p *printer) module() string {
	fmt.Fprintf(&p.b, "%s %s {\n", p.m.Kind, p.m.Name)
	for _, c := range p.m.Configs {
		fmt.Fprintf(&p.b, "    config %s: %s = %s%s\n",
			c.Name, p.m.Types.String(c.Ty), p.m.Consts.Literal(c.Default, p.m.Types), p.tag(c.Span))
	}
	if len(p.m.Configs) > 0 && len(p.m.Funcs) > 0 {
		p.b.WriteString("\n")
	}
	for i, f := range p.m.Funcs {
		if i > 0 {
			p.b.WriteString("\n")
		}
		p.function(f)
	}
	p.b.WriteString("}\n")
	p.metadata()
	return p.b.String()
}

func (p *printer) function(f *Function) {
	p.name = make(map[Value]string)
	n := 0
	for _, blk := range f.Blocks {
		for _, prm := range blk.Params {
			p.name[prm] = fmt.Sprintf("v%d", n)
			n++
		}
		for _, in := range blk.Instrs {
			if v, ok := in.(Value); ok {
				p.name[v] = fmt.Sprintf("v%d", n)
				n++
			}
		}
	}

	p.b.WriteString("    ")
	if f.IsEntry {
		p.b.WriteString("entry ")
	}
	fmt.Fprintf(&p.b, "fn %s(", f.Name)
	for i, prm := range f.Params() {
		if i > 0 {
			p.b.WriteString(", ")
		}
		fmt.Fprintf(&p.b, "%s: %s", p.name[prm], p.m.Types.String(prm.Ty))
	}
	fmt.Fprintf(&p.b, ") -> %s", p.m.Types.String(f.RetTy))
	if h := f.Hint.String(); h != "" {
		p.b.WriteString(" " + h)
	}
	fmt.Fprintf(&p.b, "%s {\n", p.tag(f.Span))

	for _, l := range f.Locals {
		p.b.WriteString("        local ")
		if l.Mutable {
			p.b.WriteString("mut ")
		}
		fmt.Fprintf(&p.b, "%s %s", p.m.Types.String(l.Ty), l.Name)
		if l.Init != NoConst {
			fmt.Fprintf(&p.b, " = %s", p.m.Consts.Literal(l.Init, p.m.Types))
		}
		p.b.WriteString("\n")
	}

	for i, blk := range f.Blocks {
		if i > 0 || len(f.Locals) > 0 {
			p.b.WriteString("\n")
		}
		fmt.Fprintf(&p.b, "        %s(", blk.Label)
		for j, prm := range blk.Params {
			if j > 0 {
				p.b.WriteString(", ")
			}
			fmt.Fprintf(&p.b, "%s: %s", p.name[prm], p.m.Types.String(prm.Ty))
		}
		p.b.WriteString("):\n")
		for _, in := range blk.Instrs {
			p.instr(in)
		}
	}
	p.b.WriteString("    }\n")
}

func (p *printer) instr(in Instr) {
	p.b.WriteString("        ")
	if v, ok := in.(Value); ok {
		fmt.Fprintf(&p.b, "%s = ", p.name[v])
	}
	switch t := in.(type) {
	case *ConstInstr:
		fmt.Fprintf(&p.b, "const %s %s", p.m.Types.String(t.Ty), p.m.Consts.Literal(t.C, p.m.Types))
	case *GetLocal:
		fmt.Fprintf(&p.b, "get_local %s", t.Local.Name)
	case *GetElemPtr:
		fmt.Fprintf(&p.b, "get_elem_ptr %s, %s", p.val(t.Base), p.m.Types.String(t.Ty))
		for _, idx := range t.Indices {
			fmt.Fprintf(&p.b, ", %s", p.val(idx))
		}
	case *Load:
		fmt.Fprintf(&p.b, "load %s", p.val(t.Ptr))
	case *Store:
		fmt.Fprintf(&p.b, "store %s to %s", p.val(t.Val), p.val(t.Ptr))
	case *MemCopyVal:
		fmt.Fprintf(&p.b, "mem_copy_val %s, %s", p.val(t.Dst), p.val(t.Src))
	case *MemCopyBytes:
		fmt.Fprintf(&p.b, "mem_copy_bytes %s, %s, %d", p.val(t.Dst), p.val(t.Src), t.Len)
	case *PtrToInt:
		fmt.Fprintf(&p.b, "ptr_to_int %s, u64", p.val(t.Ptr))
	case *IntToPtr:
		fmt.Fprintf(&p.b, "int_to_ptr %s, %s", p.val(t.Int), p.m.Types.String(t.Ty))
	case *BinOp:
		fmt.Fprintf(&p.b, "%s %s, %s", t.Op, p.val(t.X), p.val(t.Y))
	case *UnOp:
		fmt.Fprintf(&p.b, "not %s", p.val(t.X))
	case *Cmp:
		fmt.Fprintf(&p.b, "cmp %s %s, %s", t.Pred, p.val(t.X), p.val(t.Y))
	case *Call:
		fmt.Fprintf(&p.b, "call %s(%s)", t.Callee.Name, p.vals(t.Args))
	case *GetConfig:
		fmt.Fprintf(&p.b, "get_config %s, %s", p.m.Types.String(t.Ty), t.Name)
	case *AsmBlock:
		p.asm(t)
	case *Br:
		fmt.Fprintf(&p.b, "br %s(%s)", t.Target.Label, p.vals(t.Args))
	case *CondBr:
		fmt.Fprintf(&p.b, "cbr %s, %s(%s), %s(%s)",
			p.val(t.Cond), t.Then.Label, p.vals(t.ThenArgs), t.Else.Label, p.vals(t.ElseArgs))
	case *Ret:
		fmt.Fprintf(&p.b, "ret %s %s", p.m.Types.String(t.Val.Type()), p.val(t.Val))
	case *Revert:
		fmt.Fprintf(&p.b, "revert %s", p.val(t.Code))
	default:
		fmt.Fprintf(&p.b, "<unknown instruction %T>", in)
	}
	p.b.WriteString(p.tag(in.Span()))
	p.b.WriteString("\n")
}

func (p *printer) asm(t *AsmBlock) {
	p.b.WriteString("asm(")
	for i, a := range t.Args {
		if i > 0 {
			p.b.WriteString(", ")
		}
		p.b.WriteString(a.Reg)
		if a.Init != nil {
			fmt.Fprintf(&p.b, ": %s", p.val(a.Init))
		}
	}
	p.b.WriteString(")")
	if t.RetReg != "" {
		fmt.Fprintf(&p.b, " -> %s %s", p.m.Types.String(t.Ty), t.RetReg)
	}
	p.b.WriteString(" {\n")
	for _, op := range t.Ops {
		fmt.Fprintf(&p.b, "            %s", op.Name)
		for _, r := range op.Regs {
			p.b.WriteString(" " + r)
		}
		if op.Imm != "" {
			p.b.WriteString(" " + op.Imm)
		}
		p.b.WriteString("\n")
	}
	p.b.WriteString("        }")
}

func (p *printer) val(v Value) string {
	if v == nil {
		return "<nil>"
	}
	if n, ok := p.name[v]; ok {
		return n
	}
	return "<unnamed>"
}

func (p *printer) vals(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = p.val(v)
	}
	return strings.Join(parts, ", ")
}

func (p *printer) tag(sp source.Span) string {
	if !sp.IsValid() {
		return ""
	}
	return fmt.Sprintf(", !%d", p.meta.SpanID(sp))
}

func (p *printer) metadata() {
	if p.meta.Len() == 0 {
		return
	}
	p.b.WriteString("\n")
	entries := p.meta.Entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	for _, e := range entries {
		switch e.Kind {
		case source.EntryPath:
			fmt.Fprintf(&p.b, "!%d = path %q\n", e.ID, e.Path)
		case source.EntrySpan:
			fmt.Fprintf(&p.b, "!%d = span !%d %d %d\n", e.ID, e.File, e.Span.Start, e.Span.End)
		}
	}
}
