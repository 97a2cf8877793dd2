// Package ir defines the Cinder intermediate representation: interned types
// and constants, the module/function/block instruction graph, its textual
// form, and the structural verifier. The IR is the contract between lowering,
// the optimization passes, and the CVM backend, and this package is the only
// layout oracle: every size and alignment decision the backend makes comes
// from here.
package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is a handle into a module's interned type arena. Equal handles mean
// structurally equal types, so passes compare types with ==.
type Type int32

// NoType marks "no type" slots, e.g. instructions that produce no value.
const NoType Type = -1

// TypeKind discriminates the interned type nodes.
type TypeKind uint8

const (
	TypeUnit TypeKind = iota
	TypeBool
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeU256
	TypeString  // fixed-length byte string
	TypePointer // typed pointer into frame or data memory
	TypeArray
	TypeStruct
	TypeUnion
)

// Field is one named member of a struct or union type. Tuple lowering uses
// the positional names "0", "1", ... so field names are always present.
type Field struct {
	Name string
	Ty   Type
}

type typeNode struct {
	kind   TypeKind
	elem   Type    // pointer, array element
	n      uint64  // array or string length
	fields []Field // struct members, union variants
}

// Types is the per-module type arena. The zero value is not usable; call
// NewTypes, which seeds the scalar types at fixed handles.
type Types struct {
	nodes  []typeNode
	intern map[string]Type
}

// Fixed handles for the seeded scalars. They are identical across modules,
// which keeps golden dumps and tests stable.
const (
	UnitType Type = iota
	BoolType
	U8Type
	U16Type
	U32Type
	U64Type
	U256Type
)

// NewTypes returns an arena with the scalar types pre-interned.
func NewTypes() *Types {
	ts := &Types{intern: make(map[string]Type)}
	for _, k := range []TypeKind{TypeUnit, TypeBool, TypeU8, TypeU16, TypeU32, TypeU64, TypeU256} {
		ts.nodes = append(ts.nodes, typeNode{kind: k})
	}
	return ts
}

// Pointer interns a pointer-to-elem type.
func (ts *Types) Pointer(elem Type) Type {
	return ts.get(fmt.Sprintf("p%d", elem), typeNode{kind: TypePointer, elem: elem})
}

// Array interns a fixed-length array type.
func (ts *Types) Array(elem Type, n uint64) Type {
	return ts.get(fmt.Sprintf("a%d:%d", elem, n), typeNode{kind: TypeArray, elem: elem, n: n})
}

// StringArray interns a fixed-length byte string type.
func (ts *Types) StringArray(n uint64) Type {
	return ts.get(fmt.Sprintf("s%d", n), typeNode{kind: TypeString, n: n})
}

// Struct interns a struct type with ordered named fields.
func (ts *Types) Struct(fields []Field) Type {
	return ts.get(aggregateKey('r', fields), typeNode{kind: TypeStruct, fields: cloneFields(fields)})
}

// Tuple interns a struct with positional field names.
func (ts *Types) Tuple(elems ...Type) Type {
	fields := make([]Field, len(elems))
	for i, e := range elems {
		fields[i] = Field{Name: strconv.Itoa(i), Ty: e}
	}
	return ts.Struct(fields)
}

// Union interns a tagged union type with named variants.
func (ts *Types) Union(variants []Field) Type {
	return ts.get(aggregateKey('u', variants), typeNode{kind: TypeUnion, fields: cloneFields(variants)})
}

func (ts *Types) get(key string, node typeNode) Type {
	if t, ok := ts.intern[key]; ok {
		return t
	}
	t := Type(len(ts.nodes))
	ts.nodes = append(ts.nodes, node)
	ts.intern[key] = t
	return t
}

func aggregateKey(tag byte, fields []Field) string {
	var b strings.Builder
	b.WriteByte(tag)
	for _, f := range fields {
		fmt.Fprintf(&b, ":%s=%d", f.Name, f.Ty)
	}
	return b.String()
}

func cloneFields(fields []Field) []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

func (ts *Types) node(t Type) typeNode {
	if t < 0 || int(t) >= len(ts.nodes) {
		panic(fmt.Sprintf("ir: type handle %d out of range", t))
	}
	return ts.nodes[t]
}

// Kind returns the type's kind.
func (ts *Types) Kind(t Type) TypeKind { return ts.node(t).kind }

// Elem returns the element type of a pointer or array.
func (ts *Types) Elem(t Type) Type {
	n := ts.node(t)
	if n.kind != TypePointer && n.kind != TypeArray {
		panic(fmt.Sprintf("ir: Elem on %s", ts.String(t)))
	}
	return n.elem
}

// Len returns the element count of an array or byte length of a string.
func (ts *Types) Len(t Type) uint64 {
	n := ts.node(t)
	if n.kind != TypeArray && n.kind != TypeString {
		panic(fmt.Sprintf("ir: Len on %s", ts.String(t)))
	}
	return n.n
}

// Fields returns the members of a struct or the variants of a union.
// The returned slice must not be mutated.
func (ts *Types) Fields(t Type) []Field {
	n := ts.node(t)
	if n.kind != TypeStruct && n.kind != TypeUnion {
		panic(fmt.Sprintf("ir: Fields on %s", ts.String(t)))
	}
	return n.fields
}

// IsPointer reports whether t is a pointer type.
func (ts *Types) IsPointer(t Type) bool { return ts.node(t).kind == TypePointer }

// IsAggregate reports whether t is indexed by get_elem_ptr.
func (ts *Types) IsAggregate(t Type) bool {
	switch ts.node(t).kind {
	case TypeArray, TypeStruct, TypeUnion, TypeString:
		return true
	}
	return false
}

// IsInteger reports whether t is one of the unsigned integer scalars.
func (ts *Types) IsInteger(t Type) bool {
	switch ts.node(t).kind {
	case TypeU8, TypeU16, TypeU32, TypeU64, TypeU256:
		return true
	}
	return false
}

// Bits returns the width of an integer scalar in bits.
func (ts *Types) Bits(t Type) uint {
	switch ts.node(t).kind {
	case TypeU8:
		return 8
	case TypeU16:
		return 16
	case TypeU32:
		return 32
	case TypeU64:
		return 64
	case TypeU256:
		return 256
	}
	panic(fmt.Sprintf("ir: Bits on %s", ts.String(t)))
}

// unionTagSize is the storage reserved in front of every union payload.
const unionTagSize = 8

// SizeOf returns the byte size of a value of type t. Structs have no
// interior padding: the size is exactly the sum of the field sizes, and
// backends that need aligned storage express it through slot offsets, not
// through the type itself.
func (ts *Types) SizeOf(t Type) uint64 {
	n := ts.node(t)
	switch n.kind {
	case TypeUnit:
		return 0
	case TypeBool, TypeU8:
		return 1
	case TypeU16:
		return 2
	case TypeU32:
		return 4
	case TypeU64, TypePointer:
		return 8
	case TypeU256:
		return 32
	case TypeString:
		return n.n
	case TypeArray:
		return ts.SizeOf(n.elem) * n.n
	case TypeStruct:
		var sum uint64
		for _, f := range n.fields {
			sum += ts.SizeOf(f.Ty)
		}
		return sum
	case TypeUnion:
		var max uint64
		for _, f := range n.fields {
			if s := ts.SizeOf(f.Ty); s > max {
				max = s
			}
		}
		return unionTagSize + max
	}
	panic(fmt.Sprintf("ir: SizeOf on kind %d", n.kind))
}

// AlignOf returns the required frame alignment for a value of type t.
func (ts *Types) AlignOf(t Type) uint64 {
	n := ts.node(t)
	switch n.kind {
	case TypeUnit, TypeBool, TypeU8, TypeString:
		return 1
	case TypeU16:
		return 2
	case TypeU32:
		return 4
	case TypeU64, TypePointer, TypeU256, TypeUnion:
		return 8
	case TypeArray:
		return ts.AlignOf(n.elem)
	case TypeStruct:
		var max uint64 = 1
		for _, f := range n.fields {
			if a := ts.AlignOf(f.Ty); a > max {
				max = a
			}
		}
		return max
	}
	panic(fmt.Sprintf("ir: AlignOf on kind %d", n.kind))
}

// IsRegisterSized reports whether values of t travel in a single CVM
// register. Everything else is frame-resident and handled by pointer.
func (ts *Types) IsRegisterSized(t Type) bool {
	switch ts.node(t).kind {
	case TypeUnit, TypeBool, TypeU8, TypeU16, TypeU32, TypeU64, TypePointer:
		return true
	}
	return false
}

// FieldOffset returns the byte offset of field i inside a struct, or of the
// payload inside a union variant (always after the tag).
func (ts *Types) FieldOffset(t Type, i int) uint64 {
	n := ts.node(t)
	switch n.kind {
	case TypeStruct:
		var off uint64
		for j := 0; j < i; j++ {
			off += ts.SizeOf(n.fields[j].Ty)
		}
		return off
	case TypeUnion:
		return unionTagSize
	}
	panic(fmt.Sprintf("ir: FieldOffset on %s", ts.String(t)))
}

// String renders the type in textual IR syntax.
func (ts *Types) String(t Type) string {
	if t == NoType {
		return "<none>"
	}
	n := ts.node(t)
	switch n.kind {
	case TypeUnit:
		return "unit"
	case TypeBool:
		return "bool"
	case TypeU8:
		return "u8"
	case TypeU16:
		return "u16"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeU256:
		return "u256"
	case TypeString:
		return fmt.Sprintf("str[%d]", n.n)
	case TypePointer:
		return "ptr " + ts.String(n.elem)
	case TypeArray:
		return fmt.Sprintf("[%s; %d]", ts.String(n.elem), n.n)
	case TypeStruct:
		return ts.aggregateString("{", "}", n.fields, positional(n.fields))
	case TypeUnion:
		return "union " + ts.aggregateString("{", "}", n.fields, false)
	}
	return fmt.Sprintf("type(%d)", t)
}

func (ts *Types) aggregateString(open, close string, fields []Field, bare bool) string {
	var b strings.Builder
	b.WriteString(open)
	for i, f := range fields {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(" ")
		if !bare {
			b.WriteString(f.Name)
			b.WriteString(": ")
		}
		b.WriteString(ts.String(f.Ty))
	}
	if len(fields) > 0 {
		b.WriteString(" ")
	}
	b.WriteString(close)
	return b.String()
}

// positional reports whether the fields carry the auto-generated tuple
// names, in which case the printer uses the bare { t1, t2 } form.
func positional(fields []Field) bool {
	for i, f := range fields {
		if f.Name != strconv.Itoa(i) {
			return false
		}
	}
	return true
}
