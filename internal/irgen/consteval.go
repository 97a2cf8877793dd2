package irgen

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/cinder-lang/cinder/internal/ast"
	"github.com/cinder-lang/cinder/internal/ir"
)

// errDivZero distinguishes a constant division by zero from a merely
// non-constant expression, so callers report it under its own code.
var errDivZero = errors.New("division by zero")

// constEval reduces a compile-time expression to an interned constant:
// literals, references to previously evaluated constants, const-generic
// parameters, aggregate literals, selection into constant aggregates, and
// wrapping integer arithmetic and comparisons over all of those.
func (g *Generator) constEval(e ast.Expr, su *subst) (ir.ConstRef, error) {
	cs, ts := g.mod.Consts, g.mod.Types
	switch e := e.(type) {
	case *ast.IntLit:
		ty, err := g.lowerType(e.Ty, su)
		if err != nil {
			return ir.NoConst, err
		}
		return cs.Uint(ty, e.Val, ts), nil
	case *ast.WideLit:
		return cs.Wide(e.Val), nil
	case *ast.BoolLit:
		return cs.Bool(e.Val), nil
	case *ast.StrLit:
		return cs.Str(e.Val, ts), nil
	case *ast.UnitLit:
		return cs.Unit(), nil
	case *ast.ConstUse:
		ref, ok := g.consts[e.Name]
		if !ok {
			return ir.NoConst, fmt.Errorf("constant %s is not defined at this point", e.Name)
		}
		return ref, nil
	case *ast.ConstParamUse:
		v, ok := su.constArg(e.Name)
		if !ok {
			return ir.NoConst, fmt.Errorf("unbound const parameter %s", e.Name)
		}
		return cs.Uint(ir.U64Type, v, ts), nil
	case *ast.Unary:
		x, err := g.constEval(e.X, su)
		if err != nil {
			return ir.NoConst, err
		}
		c := cs.Get(x)
		switch c.Kind {
		case ir.ConstUint:
			return cs.Uint(c.Ty, ^c.U64, ts), nil
		case ir.ConstWide:
			return cs.Wide(new(uint256.Int).Not(c.Wide)), nil
		case ir.ConstBool:
			return cs.Bool(!c.Bit), nil
		default:
			return ir.NoConst, fmt.Errorf("not applied to a non-integer constant")
		}
	case *ast.Binary:
		return g.constBinary(e, su)
	case *ast.Compare:
		return g.constCompare(e, su)
	case *ast.StructLit:
		return g.constAgg(e.Ty, e.Fields, su)
	case *ast.TupleLit:
		return g.constAgg(e.Ty, e.Elems, su)
	case *ast.ArrayLit:
		return g.constAgg(e.Ty, e.Elems, su)
	case *ast.UnionLit:
		ty, err := g.lowerType(e.Ty, su)
		if err != nil {
			return ir.NoConst, err
		}
		payload, err := g.constEval(e.Payload, su)
		if err != nil {
			return ir.NoConst, err
		}
		return cs.Union(ty, uint64(e.Variant), payload), nil
	case *ast.FieldAccess:
		base, err := g.constEval(e.X, su)
		if err != nil {
			return ir.NoConst, err
		}
		c := cs.Get(base)
		if c.Kind != ir.ConstAgg || e.Index >= len(c.Elems) {
			return ir.NoConst, fmt.Errorf("field selection on a non-aggregate constant")
		}
		return c.Elems[e.Index], nil
	case *ast.IndexExpr:
		base, err := g.constEval(e.X, su)
		if err != nil {
			return ir.NoConst, err
		}
		idx, err := g.constEval(e.Index, su)
		if err != nil {
			return ir.NoConst, err
		}
		bc, ic := cs.Get(base), cs.Get(idx)
		if ic.Kind != ir.ConstUint {
			return ir.NoConst, fmt.Errorf("index is not an integer constant")
		}
		switch bc.Kind {
		case ir.ConstAgg:
			if ic.U64 >= uint64(len(bc.Elems)) {
				return ir.NoConst, fmt.Errorf("index %d out of bounds for a length-%d constant", ic.U64, len(bc.Elems))
			}
			return bc.Elems[ic.U64], nil
		case ir.ConstString:
			if ic.U64 >= uint64(len(bc.Bytes)) {
				return ir.NoConst, fmt.Errorf("index %d out of bounds for a length-%d constant", ic.U64, len(bc.Bytes))
			}
			return cs.Uint(ir.U8Type, uint64(bc.Bytes[ic.U64]), ts), nil
		default:
			return ir.NoConst, fmt.Errorf("indexing a non-aggregate constant")
		}
	default:
		return ir.NoConst, fmt.Errorf("expression is not constant")
	}
}

func (g *Generator) constAgg(t ast.Type, elems []ast.Expr, su *subst) (ir.ConstRef, error) {
	ty, err := g.lowerType(t, su)
	if err != nil {
		return ir.NoConst, err
	}
	refs := make([]ir.ConstRef, len(elems))
	for i, e := range elems {
		ref, err := g.constEval(e, su)
		if err != nil {
			return ir.NoConst, err
		}
		refs[i] = ref
	}
	return g.mod.Consts.Agg(ty, refs), nil
}

func (g *Generator) constBinary(e *ast.Binary, su *subst) (ir.ConstRef, error) {
	cs, ts := g.mod.Consts, g.mod.Types
	x, err := g.constEval(e.X, su)
	if err != nil {
		return ir.NoConst, err
	}
	y, err := g.constEval(e.Y, su)
	if err != nil {
		return ir.NoConst, err
	}
	cx, cy := cs.Get(x), cs.Get(y)
	switch {
	case cx.Kind == ir.ConstUint && cy.Kind == ir.ConstUint:
		v, err := foldUint(e.Op, cx.U64, cy.U64)
		if err != nil {
			return ir.NoConst, err
		}
		return cs.Uint(cx.Ty, v, ts), nil
	case cx.Kind == ir.ConstWide && cy.Kind == ir.ConstWide:
		v, err := foldWide(e.Op, cx.Wide, cy.Wide)
		if err != nil {
			return ir.NoConst, err
		}
		return cs.Wide(v), nil
	default:
		return ir.NoConst, fmt.Errorf("%v applied to non-integer constants", e.Op)
	}
}

// foldUint applies one wrapping operation; interning masks the result to the
// operand width. Shifting by the width or more yields zero.
func foldUint(op ast.BinOp, x, y uint64) (uint64, error) {
	switch op {
	case ast.Add:
		return x + y, nil
	case ast.Sub:
		return x - y, nil
	case ast.Mul:
		return x * y, nil
	case ast.Div:
		if y == 0 {
			return 0, errDivZero
		}
		return x / y, nil
	case ast.Mod:
		if y == 0 {
			return 0, errDivZero
		}
		return x % y, nil
	case ast.And:
		return x & y, nil
	case ast.Or:
		return x | y, nil
	case ast.Xor:
		return x ^ y, nil
	case ast.Shl:
		if y >= 64 {
			return 0, nil
		}
		return x << y, nil
	case ast.Shr:
		if y >= 64 {
			return 0, nil
		}
		return x >> y, nil
	default:
		return 0, fmt.Errorf("unknown operator %v", op)
	}
}

func foldWide(op ast.BinOp, x, y *uint256.Int) (*uint256.Int, error) {
	z := new(uint256.Int)
	switch op {
	case ast.Add:
		return z.Add(x, y), nil
	case ast.Sub:
		return z.Sub(x, y), nil
	case ast.Mul:
		return z.Mul(x, y), nil
	case ast.Div:
		if y.IsZero() {
			return nil, errDivZero
		}
		return z.Div(x, y), nil
	case ast.Mod:
		if y.IsZero() {
			return nil, errDivZero
		}
		return z.Mod(x, y), nil
	case ast.And:
		return z.And(x, y), nil
	case ast.Or:
		return z.Or(x, y), nil
	case ast.Xor:
		return z.Xor(x, y), nil
	case ast.Shl:
		if !y.IsUint64() || y.Uint64() >= 256 {
			return z, nil
		}
		return z.Lsh(x, uint(y.Uint64())), nil
	case ast.Shr:
		if !y.IsUint64() || y.Uint64() >= 256 {
			return z, nil
		}
		return z.Rsh(x, uint(y.Uint64())), nil
	default:
		return nil, fmt.Errorf("unknown operator %v", op)
	}
}

func (g *Generator) constCompare(e *ast.Compare, su *subst) (ir.ConstRef, error) {
	cs := g.mod.Consts
	x, err := g.constEval(e.X, su)
	if err != nil {
		return ir.NoConst, err
	}
	y, err := g.constEval(e.Y, su)
	if err != nil {
		return ir.NoConst, err
	}
	cx, cy := cs.Get(x), cs.Get(y)
	switch {
	case cx.Kind == ir.ConstUint && cy.Kind == ir.ConstUint:
		return cs.Bool(comparePred(e.Pred, compareU64(cx.U64, cy.U64))), nil
	case cx.Kind == ir.ConstWide && cy.Kind == ir.ConstWide:
		return cs.Bool(comparePred(e.Pred, cx.Wide.Cmp(cy.Wide))), nil
	case cx.Kind == ir.ConstBool && cy.Kind == ir.ConstBool:
		switch e.Pred {
		case ast.Eq:
			return cs.Bool(cx.Bit == cy.Bit), nil
		case ast.Ne:
			return cs.Bool(cx.Bit != cy.Bit), nil
		default:
			return ir.NoConst, fmt.Errorf("ordered comparison of booleans")
		}
	default:
		return ir.NoConst, fmt.Errorf("comparison of non-integer constants")
	}
}

func compareU64(x, y uint64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func comparePred(p ast.Pred, cmp int) bool {
	switch p {
	case ast.Eq:
		return cmp == 0
	case ast.Ne:
		return cmp != 0
	case ast.Lt:
		return cmp < 0
	case ast.Le:
		return cmp <= 0
	case ast.Gt:
		return cmp > 0
	default:
		return cmp >= 0
	}
}
