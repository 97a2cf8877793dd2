package ir

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ConstRef is a handle into a module's interned constant arena.
type ConstRef int32

// NoConst marks empty constant slots, e.g. locals without initializers.
const NoConst ConstRef = -1

// ConstKind discriminates interned constants.
type ConstKind uint8

const (
	ConstUnit ConstKind = iota
	ConstBool
	ConstUint   // u8..u64
	ConstWide   // u256
	ConstString // fixed-length byte string
	ConstAgg    // struct or array: ordered element constants
	ConstUnion  // tagged union: variant index plus payload constant
)

// Const is an immutable literal. Aggregates reference other interned
// constants, so structural equality of refs follows from interning.
type Const struct {
	Ty    Type
	Kind  ConstKind
	Bit   bool         // ConstBool
	U64   uint64       // ConstUint, and the tag of ConstUnion
	Wide  *uint256.Int // ConstWide
	Bytes []byte       // ConstString
	Elems []ConstRef   // ConstAgg
	Elem  ConstRef     // ConstUnion payload
}

// Consts is the per-module constant arena.
type Consts struct {
	list   []Const
	intern map[string]ConstRef
}

// NewConsts returns an empty constant arena.
func NewConsts() *Consts {
	return &Consts{intern: make(map[string]ConstRef)}
}

// Unit interns the unit constant.
func (cs *Consts) Unit() ConstRef {
	return cs.get("()", Const{Ty: UnitType, Kind: ConstUnit})
}

// Bool interns a boolean constant.
func (cs *Consts) Bool(v bool) ConstRef {
	return cs.get(fmt.Sprintf("b%v", v), Const{Ty: BoolType, Kind: ConstBool, Bit: v})
}

// Uint interns an integer constant of the given scalar type. The value is
// masked to the type's width so equal bit patterns intern identically.
func (cs *Consts) Uint(ty Type, v uint64, ts *Types) ConstRef {
	v &= widthMask(ts.Bits(ty))
	return cs.get(fmt.Sprintf("i%d:%d", ty, v), Const{Ty: ty, Kind: ConstUint, U64: v})
}

// Wide interns a 256-bit constant. The argument is copied.
func (cs *Consts) Wide(v *uint256.Int) ConstRef {
	return cs.get("w"+v.Hex(), Const{Ty: U256Type, Kind: ConstWide, Wide: new(uint256.Int).Set(v)})
}

// Str interns a fixed-length byte string constant of type str[len(b)].
func (cs *Consts) Str(b []byte, ts *Types) ConstRef {
	ty := ts.StringArray(uint64(len(b)))
	return cs.get(fmt.Sprintf("s%d:%x", ty, b), Const{Ty: ty, Kind: ConstString, Bytes: append([]byte(nil), b...)})
}

// Agg interns a struct or array constant from already-interned elements.
func (cs *Consts) Agg(ty Type, elems []ConstRef) ConstRef {
	var b strings.Builder
	fmt.Fprintf(&b, "g%d", ty)
	for _, e := range elems {
		fmt.Fprintf(&b, ":%d", e)
	}
	return cs.get(b.String(), Const{Ty: ty, Kind: ConstAgg, Elems: append([]ConstRef(nil), elems...)})
}

// Union interns a tagged union constant with the given variant payload.
func (cs *Consts) Union(ty Type, tag uint64, payload ConstRef) ConstRef {
	return cs.get(fmt.Sprintf("v%d:%d:%d", ty, tag, payload),
		Const{Ty: ty, Kind: ConstUnion, U64: tag, Elem: payload})
}

func (cs *Consts) get(key string, c Const) ConstRef {
	if r, ok := cs.intern[key]; ok {
		return r
	}
	r := ConstRef(len(cs.list))
	cs.list = append(cs.list, c)
	cs.intern[key] = r
	return r
}

// Get resolves a handle. The returned pointer aliases arena storage and
// must be treated as read-only.
func (cs *Consts) Get(r ConstRef) *Const {
	if r < 0 || int(r) >= len(cs.list) {
		panic(fmt.Sprintf("ir: const handle %d out of range", r))
	}
	return &cs.list[r]
}

// Literal renders the constant in textual IR syntax (without its type).
func (cs *Consts) Literal(r ConstRef, ts *Types) string {
	c := cs.Get(r)
	switch c.Kind {
	case ConstUnit:
		return "()"
	case ConstBool:
		if c.Bit {
			return "true"
		}
		return "false"
	case ConstUint:
		return fmt.Sprintf("%d", c.U64)
	case ConstWide:
		return c.Wide.Hex()
	case ConstString:
		return fmt.Sprintf("%q", c.Bytes)
	case ConstAgg:
		var b strings.Builder
		open, close := "{", "}"
		if ts.Kind(c.Ty) == TypeArray {
			open, close = "[", "]"
		}
		b.WriteString(open)
		for i, e := range c.Elems {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(" ")
			b.WriteString(cs.Literal(e, ts))
		}
		if len(c.Elems) > 0 {
			b.WriteString(" ")
		}
		b.WriteString(close)
		return b.String()
	case ConstUnion:
		return fmt.Sprintf("tag %d %s", c.U64, cs.Literal(c.Elem, ts))
	}
	return fmt.Sprintf("const(%d)", r)
}

// Encode serializes the constant to its in-memory byte layout: big-endian
// scalars, concatenated fields without interior padding, union tag word
// followed by the payload padded to the union size. The result length is
// exactly ts.SizeOf(c.Ty).
func (cs *Consts) Encode(r ConstRef, ts *Types) []byte {
	c := cs.Get(r)
	switch c.Kind {
	case ConstUnit:
		return nil
	case ConstBool:
		if c.Bit {
			return []byte{1}
		}
		return []byte{0}
	case ConstUint:
		var word [8]byte
		binary.BigEndian.PutUint64(word[:], c.U64)
		size := ts.SizeOf(c.Ty)
		return append([]byte(nil), word[8-size:]...)
	case ConstWide:
		b := c.Wide.Bytes32()
		return b[:]
	case ConstString:
		return append([]byte(nil), c.Bytes...)
	case ConstAgg:
		out := make([]byte, 0, ts.SizeOf(c.Ty))
		for _, e := range c.Elems {
			out = append(out, cs.Encode(e, ts)...)
		}
		return out
	case ConstUnion:
		out := make([]byte, unionTagSize, ts.SizeOf(c.Ty))
		binary.BigEndian.PutUint64(out[:unionTagSize], c.U64)
		out = append(out, cs.Encode(c.Elem, ts)...)
		for uint64(len(out)) < ts.SizeOf(c.Ty) {
			out = append(out, 0)
		}
		return out
	}
	panic(fmt.Sprintf("ir: Encode on const kind %d", c.Kind))
}

// IsZero reports whether the constant is all-zero in its encoded form.
func (cs *Consts) IsZero(r ConstRef) bool {
	c := cs.Get(r)
	switch c.Kind {
	case ConstUnit:
		return true
	case ConstBool:
		return !c.Bit
	case ConstUint:
		return c.U64 == 0
	case ConstWide:
		return c.Wide.IsZero()
	case ConstString:
		for _, b := range c.Bytes {
			if b != 0 {
				return false
			}
		}
		return true
	case ConstAgg:
		for _, e := range c.Elems {
			if !cs.IsZero(e) {
				return false
			}
		}
		return true
	case ConstUnion:
		return c.U64 == 0 && cs.IsZero(c.Elem)
	}
	return false
}

func widthMask(bits uint) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (1 << bits) - 1
}
