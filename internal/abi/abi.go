// Package abi describes a compiled module's external surface: the entry
// points with their dispatch selectors, and the configurable-constant
// slots of the data section. The driver writes the descriptor as JSON next
// to the bytecode so deployment tooling can call entries and patch
// configurables without recompiling.
package abi

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/cinder-lang/cinder/internal/ir"
)

// Selector returns the 32-bit dispatch tag of an entry point: the first
// four bytes of the SHA3-256 digest of its canonical signature. Contract
// callers put the tag in the high half of the first calldata word.
func Selector(ts *ir.Types, name string, params []ir.Type) uint32 {
	sum := sha3.Sum256([]byte(Signature(ts, name, params)))
	return binary.BigEndian.Uint32(sum[:4])
}

// Signature renders the string Selector hashes: the entry name followed by
// the comma-joined parameter types in textual IR spelling, in parentheses.
func Signature(ts *ir.Types, name string, params []ir.Type) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(ts.String(p))
	}
	b.WriteByte(')')
	return b.String()
}

// Entry is one callable entry point.
type Entry struct {
	Name      string   `json:"name"`
	Signature string   `json:"signature"`
	Selector  string   `json:"selector"`
	Params    []string `json:"params"`
	Return    string   `json:"return,omitempty"`
}

// Config is one configurable constant: deployment tooling overwrites the
// Size bytes at Offset in the data section to change its value.
type Config struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// Descriptor is the ABI document for one module.
type Descriptor struct {
	Module  string   `json:"module"`
	Kind    string   `json:"kind"`
	Entries []Entry  `json:"entries"`
	Configs []Config `json:"configurables,omitempty"`
}

// Describe builds the descriptor for a lowered module.
func Describe(m *ir.Module) *Descriptor {
	d := &Descriptor{Module: m.Name, Kind: m.Kind.String()}
	for _, f := range m.Funcs {
		if !f.IsEntry {
			continue
		}
		ps := f.Params()
		tys := make([]ir.Type, len(ps))
		names := make([]string, len(ps))
		for i, p := range ps {
			tys[i] = p.Ty
			names[i] = m.Types.String(p.Ty)
		}
		e := Entry{
			Name:      f.Name,
			Signature: Signature(m.Types, f.Name, tys),
			Selector:  fmt.Sprintf("0x%08x", Selector(m.Types, f.Name, tys)),
			Params:    names,
		}
		if f.RetTy != ir.UnitType {
			e.Return = m.Types.String(f.RetTy)
		}
		d.Entries = append(d.Entries, e)
	}
	for _, s := range ir.ConfigSlots(m) {
		d.Configs = append(d.Configs, Config{
			Name:   s.Name,
			Type:   m.Types.String(s.Ty),
			Offset: s.Offset,
			Size:   s.Size,
		})
	}
	return d
}

// Encode renders the descriptor as indented JSON with a trailing newline.
func (d *Descriptor) Encode() ([]byte, error) {
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
