// Package codegen is the Cinder backend: it lowers a verified IR module to
// CVM bytecode plus the trailing data section.
//
// Lowering is per function. Instruction selection maps every IR value to
// one register, with a twist for types wider than a register: their
// register carries the address of the bytes, parked in a frame temporary,
// and arithmetic on them goes through the memory opcode group. A linear
// scan then assigns the virtual registers to the allocatable file,
// spilling across calls because the convention preserves nothing. Module
// layout stitches the functions behind a four-word header (for contracts,
// the selector dispatch sits there too), then patches every jump, call and
// frame-extend immediate.
//
// Backend failures are fatal and carry the function name and source span:
// a frame or jump that outgrows its immediate encoding cannot be repaired
// by writing different source, only by splitting the function.
package codegen

import (
	"fmt"

	"github.com/cinder-lang/cinder/internal/buildcfg"
	"github.com/cinder-lang/cinder/internal/ir"
	"github.com/cinder-lang/cinder/internal/source"
)

// Error is a fatal backend failure. The first one aborts compilation;
// there is no per-item recovery this late.
type Error struct {
	Fn   string
	Span source.Span
	Msg  string
}

func (e *Error) Error() string {
	if e.Span.IsValid() {
		return fmt.Sprintf("codegen: %s: %s: %s", e.Fn, e.Span, e.Msg)
	}
	return fmt.Sprintf("codegen: %s: %s", e.Fn, e.Msg)
}

func newError(fn string, span source.Span, format string, args ...interface{}) *Error {
	return &Error{Fn: fn, Span: span, Msg: fmt.Sprintf(format, args...)}
}

// gen is the module-level state shared by every function: the build
// configuration and the growing data section.
type gen struct {
	m    *ir.Module
	cfg  *buildcfg.Config
	data *dataSection
}

// Generate lowers a verified module to its artifact. The module is
// consumed read-only; every piece of layout state lives in the generator.
func Generate(m *ir.Module, cfg *buildcfg.Config) (*Artifact, error) {
	g := &gen{m: m, cfg: cfg, data: newDataSection(m)}
	funcs := make([]*asmFunc, 0, len(m.Funcs))
	for _, f := range m.Funcs {
		af, err := g.lowerFunc(f)
		if err != nil {
			return nil, err
		}
		funcs = append(funcs, af)
	}
	return g.assemble(funcs)
}
