package ast

// Type is a resolved source-level type. Nominal types arrive from the front
// end with their structural definition attached, so lowering never needs a
// symbol table.
type Type interface {
	typeNode()
}

// PrimKind enumerates the scalar types.
type PrimKind uint8

const (
	KindUnit PrimKind = iota
	KindBool
	KindU8
	KindU16
	KindU32
	KindU64
	KindU256
)

// Prim is a scalar type.
type Prim struct {
	Kind PrimKind
}

// Shared scalar instances. Comparing against these is convenient but not
// required; lowering treats any *Prim with the same kind identically.
var (
	Unit = &Prim{Kind: KindUnit}
	Bool = &Prim{Kind: KindBool}
	U8   = &Prim{Kind: KindU8}
	U16  = &Prim{Kind: KindU16}
	U32  = &Prim{Kind: KindU32}
	U64  = &Prim{Kind: KindU64}
	U256 = &Prim{Kind: KindU256}
)

// ArrayLen is a fixed length that may name a const-generic parameter
// instead of a literal count.
type ArrayLen struct {
	N     uint64
	Param string // nonempty inside generic bodies
}

// Str is a fixed-length byte string.
type Str struct {
	Len ArrayLen
}

// Ptr is a pointer to Elem.
type Ptr struct {
	Elem Type
}

// Array is a fixed-length array.
type Array struct {
	Elem Type
	Len  ArrayLen
}

// Tuple is a positional product type.
type Tuple struct {
	Elems []Type
}

// Field is one named member of a struct or union.
type Field struct {
	Name string
	Ty   Type
}

// Struct is a nominal record resolved to its ordered fields.
type Struct struct {
	Name   string
	Fields []Field
}

// Union is a nominal tagged union resolved to its variants.
type Union struct {
	Name     string
	Variants []Field
}

// TypeParam references a generic type parameter by name. It only occurs
// inside generic declarations and is substituted away at instantiation.
type TypeParam struct {
	Name string
}

func (*Prim) typeNode()      {}
func (*Str) typeNode()       {}
func (*Ptr) typeNode()       {}
func (*Array) typeNode()     {}
func (*Tuple) typeNode()     {}
func (*Struct) typeNode()    {}
func (*Union) typeNode()     {}
func (*TypeParam) typeNode() {}
