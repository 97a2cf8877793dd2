package irgen

import (
	"fmt"

	"github.com/cinder-lang/cinder/internal/ast"
	"github.com/cinder-lang/cinder/internal/ir"
)

// subst carries one generic instantiation: type parameters bound to interned
// IR types and const-generic parameters bound to their u64 values. nil is
// the empty substitution used outside generic bodies.
type subst struct {
	types  map[string]ir.Type
	consts map[string]uint64
}

func (su *subst) typeArg(name string) (ir.Type, bool) {
	if su == nil {
		return ir.NoType, false
	}
	t, ok := su.types[name]
	return t, ok
}

func (su *subst) constArg(name string) (uint64, bool) {
	if su == nil {
		return 0, false
	}
	v, ok := su.consts[name]
	return v, ok
}

// lowerType interns the IR form of a resolved source type. Inside generic
// bodies, type parameters and const-generic array lengths resolve through
// the substitution.
func (g *Generator) lowerType(t ast.Type, su *subst) (ir.Type, error) {
	ts := g.mod.Types
	switch t := t.(type) {
	case nil:
		// Omitted types mean unit: functions without a declared result,
		// asm blocks without a result register.
		return ir.UnitType, nil
	case *ast.Prim:
		switch t.Kind {
		case ast.KindUnit:
			return ir.UnitType, nil
		case ast.KindBool:
			return ir.BoolType, nil
		case ast.KindU8:
			return ir.U8Type, nil
		case ast.KindU16:
			return ir.U16Type, nil
		case ast.KindU32:
			return ir.U32Type, nil
		case ast.KindU64:
			return ir.U64Type, nil
		case ast.KindU256:
			return ir.U256Type, nil
		default:
			return ir.NoType, fmt.Errorf("unknown scalar kind %d", t.Kind)
		}
	case *ast.Str:
		n, err := g.arrayLen(t.Len, su)
		if err != nil {
			return ir.NoType, err
		}
		return ts.StringArray(n), nil
	case *ast.Ptr:
		elem, err := g.lowerType(t.Elem, su)
		if err != nil {
			return ir.NoType, err
		}
		return ts.Pointer(elem), nil
	case *ast.Array:
		elem, err := g.lowerType(t.Elem, su)
		if err != nil {
			return ir.NoType, err
		}
		n, err := g.arrayLen(t.Len, su)
		if err != nil {
			return ir.NoType, err
		}
		return ts.Array(elem, n), nil
	case *ast.Tuple:
		elems := make([]ir.Type, len(t.Elems))
		for i, e := range t.Elems {
			ty, err := g.lowerType(e, su)
			if err != nil {
				return ir.NoType, err
			}
			elems[i] = ty
		}
		return ts.Tuple(elems...), nil
	case *ast.Struct:
		fields := make([]ir.Field, len(t.Fields))
		for i, f := range t.Fields {
			ty, err := g.lowerType(f.Ty, su)
			if err != nil {
				return ir.NoType, err
			}
			fields[i] = ir.Field{Name: f.Name, Ty: ty}
		}
		return ts.Struct(fields), nil
	case *ast.Union:
		variants := make([]ir.Field, len(t.Variants))
		for i, v := range t.Variants {
			ty, err := g.lowerType(v.Ty, su)
			if err != nil {
				return ir.NoType, err
			}
			variants[i] = ir.Field{Name: v.Name, Ty: ty}
		}
		return ts.Union(variants), nil
	case *ast.TypeParam:
		ty, ok := su.typeArg(t.Name)
		if !ok {
			return ir.NoType, fmt.Errorf("unbound type parameter %s", t.Name)
		}
		return ty, nil
	default:
		return ir.NoType, fmt.Errorf("unknown type %T", t)
	}
}

// arrayLen resolves a possibly const-generic array length.
func (g *Generator) arrayLen(l ast.ArrayLen, su *subst) (uint64, error) {
	if l.Param == "" {
		return l.N, nil
	}
	n, ok := su.constArg(l.Param)
	if !ok {
		return 0, fmt.Errorf("unbound const parameter %s", l.Param)
	}
	return n, nil
}
