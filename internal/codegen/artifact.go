package codegen

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cinder-lang/cinder/internal/ir"
	"github.com/cinder-lang/cinder/internal/source"
	"github.com/cinder-lang/cinder/internal/vm"
)

// Artifact is everything the backend produces for one module: the code
// words, the trailing data section, the entry points with their dispatch
// tags, the configurable slots, and a word-to-span debug map.
type Artifact struct {
	Module   string
	Kind     ir.ModuleKind
	Bytecode []byte // big-endian 32-bit words
	Data     []byte
	Entries  []Entry
	Configs  []ir.ConfigSlot
	Debug    []DebugEntry
	Funcs    []FuncStat

	marks []mark
}

// Entry is one entry point in the finished image.
type Entry struct {
	Name     string
	Selector uint32
	Addr     uint32 // word index of the function's first instruction
	Params   []ir.Type
	Ret      ir.Type
}

// DebugEntry maps a code word to the source span that produced it. The
// mapping is run-length style: a word without its own entry belongs to the
// nearest preceding one.
type DebugEntry struct {
	Word uint32
	Span source.Span
}

// FuncStat records how one function compiled, for --verbose and metrics.
type FuncStat struct {
	Name    string
	Words   int
	Elapsed time.Duration
}

type mark struct {
	word uint32
	text string
}

// SpanAt returns the source span covering a code word, if any.
func (a *Artifact) SpanAt(word uint32) (source.Span, bool) {
	i := sort.Search(len(a.Debug), func(i int) bool { return a.Debug[i].Word > word })
	if i == 0 {
		return source.Span{}, false
	}
	return a.Debug[i-1].Span, true
}

// Listing renders the image as the half-word / byte / opcode / raw table,
// with the data section hex-dumped underneath. Instructions are half a
// data word wide, so the half-word column is the jump index.
func (a *Artifact) Listing() string {
	var b strings.Builder
	labels := make(map[uint32]string, len(a.marks))
	for _, m := range a.marks {
		labels[m.word] = m.text
	}
	fmt.Fprintf(&b, "%8s %8s  %-28s %s\n", "halfword", "byte", "opcode", "raw")
	n := len(a.Bytecode) / 4
	for i := 0; i < n; i++ {
		if text, ok := labels[uint32(i)]; ok {
			fmt.Fprintf(&b, "%s:\n", text)
		}
		w := binary.BigEndian.Uint32(a.Bytecode[i*4:])
		var text string
		if i == 2 || i == 3 {
			text = fmt.Sprintf(".word 0x%08x", w)
		} else {
			text = vm.Decode(w).String()
		}
		fmt.Fprintf(&b, "%8d %8d  %-28s %08x\n", i, i*4, text, w)
	}
	if len(a.Data) > 0 {
		fmt.Fprintf(&b, "\ndata section, %d bytes at byte offset %d:\n", len(a.Data), len(a.Bytecode))
		for off := 0; off < len(a.Data); off += 16 {
			end := off + 16
			if end > len(a.Data) {
				end = len(a.Data)
			}
			fmt.Fprintf(&b, "  %06x ", off)
			for _, c := range a.Data[off:end] {
				fmt.Fprintf(&b, " %02x", c)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Words decodes the bytecode back into instruction words, mostly for
// tests and the REPL.
func (a *Artifact) Words() []uint32 {
	out := make([]uint32, len(a.Bytecode)/4)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(a.Bytecode[i*4:])
	}
	return out
}
