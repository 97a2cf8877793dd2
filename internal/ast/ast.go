// Package ast defines the typed program tree the front end hands to IR
// lowering. Names, field indices, and types are already resolved: every
// expression carries its type, variant and field access is positional, and
// generic calls name their concrete type arguments. The middle end never
// sees raw syntax.
package ast

import (
	"github.com/holiman/uint256"

	"github.com/cinder-lang/cinder/internal/source"
)

// ModuleKind mirrors the artifact shape a module compiles to.
type ModuleKind uint8

const (
	Script   ModuleKind = iota // standalone program with a main function
	Contract                   // selector-dispatched entry points
	Library                    // callable code, no entry of its own
)

// Module is one compilation unit after type checking.
type Module struct {
	Name    string
	Kind    ModuleKind
	Consts  []*ConstDecl
	Configs []*ConfigDecl
	Funcs   []*FuncDecl
	Span    source.Span
}

// ConstDecl is a module-level compile-time constant. Value must be a
// constant expression (literals, aggregate literals, references to earlier
// constants, and integer arithmetic over those).
type ConstDecl struct {
	Name  string
	Ty    Type
	Value Expr
	Span  source.Span
}

// ConfigDecl is a configurable constant: typed like a const, but deployment
// tooling may overwrite its storage in the compiled artifact.
type ConfigDecl struct {
	Name    string
	Ty      Type
	Default Expr
	Span    source.Span
}

// InlineHint is the source-level inlining request on a function.
type InlineHint uint8

const (
	HintDefault InlineHint = iota
	HintAlways
	HintNever
)

// FuncDecl is one function. Generic functions carry type and const
// parameters and are only materialized at instantiation time.
type FuncDecl struct {
	Name        string
	TypeParams  []string // names bound by TypeParam references in the body
	ConstParams []string // const-generic u64 parameters
	Params      []*ParamDecl
	Ret         Type
	Body        *Block
	Hint        InlineHint
	IsEntry     bool // ABI-visible: contract entry, script main, library export
	Span        source.Span
}

// ParamDecl is a function parameter.
type ParamDecl struct {
	Name    string
	Ty      Type
	Mutable bool
	Span    source.Span
}

// IsGeneric reports whether the function needs instantiation before
// lowering.
func (f *FuncDecl) IsGeneric() bool {
	return len(f.TypeParams) > 0 || len(f.ConstParams) > 0
}

// Block is a statement list with its own scope.
type Block struct {
	Stmts []Stmt
	Span  source.Span
}

// Stmt is a statement node.
type Stmt interface {
	Pos() source.Span
	stmtNode()
}

// Let binds a new variable, optionally mutable, always initialized.
type Let struct {
	Name    string
	Mutable bool
	Ty      Type
	Init    Expr
	Span    source.Span
}

// Assign stores Value into the place named by Target, which must be an
// lvalue: a variable, field, index, or dereference chain.
type Assign struct {
	Target Expr
	Value  Expr
	Span   source.Span
}

// ExprStmt evaluates an expression for its effects.
type ExprStmt struct {
	X    Expr
	Span source.Span
}

// Return leaves the function. X is nil in unit functions.
type Return struct {
	X    Expr
	Span source.Span
}

// If branches on a boolean condition. Else may be nil.
type If struct {
	Cond Expr
	Then *Block
	Else *Block
	Span source.Span
}

// While loops while the condition holds.
type While struct {
	Cond Expr
	Body *Block
	Span source.Span
}

// Break exits the innermost loop.
type Break struct {
	Span source.Span
}

// Continue restarts the innermost loop.
type Continue struct {
	Span source.Span
}

// Match dispatches on a union's tag. The checker guarantees arms cover
// distinct variants; a defensive revert backs any gap at runtime.
type Match struct {
	Subject Expr
	Arms    []*Arm
	Span    source.Span
}

// Arm handles one variant, binding its payload under Binding when nonempty.
type Arm struct {
	Variant int
	Binding string
	Body    *Block
	Span    source.Span
}

// Revert aborts the program with a user-supplied u64 code.
type Revert struct {
	Code Expr
	Span source.Span
}

// Assert reverts with the assertion-failure code when the condition is
// false.
type Assert struct {
	Cond Expr
	Span source.Span
}

func (s *Let) Pos() source.Span      { return s.Span }
func (s *Assign) Pos() source.Span   { return s.Span }
func (s *ExprStmt) Pos() source.Span { return s.Span }
func (s *Return) Pos() source.Span   { return s.Span }
func (s *If) Pos() source.Span       { return s.Span }
func (s *While) Pos() source.Span    { return s.Span }
func (s *Break) Pos() source.Span    { return s.Span }
func (s *Continue) Pos() source.Span { return s.Span }
func (s *Match) Pos() source.Span    { return s.Span }
func (s *Revert) Pos() source.Span   { return s.Span }
func (s *Assert) Pos() source.Span   { return s.Span }

func (*Let) stmtNode()      {}
func (*Assign) stmtNode()   {}
func (*ExprStmt) stmtNode() {}
func (*Return) stmtNode()   {}
func (*If) stmtNode()       {}
func (*While) stmtNode()    {}
func (*Break) stmtNode()    {}
func (*Continue) stmtNode() {}
func (*Match) stmtNode()    {}
func (*Revert) stmtNode()   {}
func (*Assert) stmtNode()   {}

// Expr is a typed expression node.
type Expr interface {
	Pos() source.Span
	TypeOf() Type
	exprNode()
}

// BinOp enumerates the arithmetic and bitwise operators. All integer
// arithmetic wraps at the operand width.
type BinOp uint8

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Mod
	And
	Or
	Xor
	Shl
	Shr
)

var binOpNames = [...]string{"+", "-", "*", "/", "%", "&", "|", "^", "<<", ">>"}

func (op BinOp) String() string { return binOpNames[op] }

// Pred enumerates the unsigned comparison predicates.
type Pred uint8

const (
	Eq Pred = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

var predNames = [...]string{"==", "!=", "<", "<=", ">", ">="}

func (p Pred) String() string { return predNames[p] }

// IntLit is an integer literal of any width up to u64.
type IntLit struct {
	Ty   Type
	Val  uint64
	Span source.Span
}

// WideLit is a u256 literal.
type WideLit struct {
	Val  *uint256.Int
	Span source.Span
}

// BoolLit is true or false.
type BoolLit struct {
	Val  bool
	Span source.Span
}

// StrLit is a fixed-length byte string literal of type str[len].
type StrLit struct {
	Val  []byte
	Span source.Span
}

// UnitLit is the unit value.
type UnitLit struct {
	Span source.Span
}

// VarRef names a local binding or parameter.
type VarRef struct {
	Name string
	Ty   Type
	Span source.Span
}

// ConstUse names a module-level constant.
type ConstUse struct {
	Name string
	Ty   Type
	Span source.Span
}

// ConfigUse names a configurable constant.
type ConfigUse struct {
	Name string
	Ty   Type
	Span source.Span
}

// ConstParamUse names a const-generic parameter as a u64 value.
type ConstParamUse struct {
	Name string
	Span source.Span
}

// Unary is bitwise not, the only unary operator.
type Unary struct {
	X    Expr
	Span source.Span
}

// Binary applies a wrapping arithmetic or bitwise operator.
type Binary struct {
	Op   BinOp
	X    Expr
	Y    Expr
	Span source.Span
}

// Compare applies an unsigned comparison and yields bool.
type Compare struct {
	Pred Pred
	X    Expr
	Y    Expr
	Span source.Span
}

// CallExpr invokes a function by resolved name. Generic callees carry the
// concrete type arguments and const-generic arguments for this call site.
type CallExpr struct {
	Callee    string
	TypeArgs  []Type
	ConstArgs []Expr // compile-time u64 expressions
	Args      []Expr
	Ty        Type // already substituted result type
	Span      source.Span
}

// StructLit constructs a struct value field by field, in declaration order.
type StructLit struct {
	Ty     Type
	Fields []Expr
	Span   source.Span
}

// TupleLit constructs a tuple value.
type TupleLit struct {
	Ty    Type
	Elems []Expr
	Span  source.Span
}

// ArrayLit constructs a fixed-length array value.
type ArrayLit struct {
	Ty    Type
	Elems []Expr
	Span  source.Span
}

// UnionLit constructs a tagged union value carrying one variant.
type UnionLit struct {
	Ty      Type
	Variant int
	Payload Expr
	Span    source.Span
}

// FieldAccess selects a struct or tuple member by resolved position.
type FieldAccess struct {
	X     Expr
	Index int
	Ty    Type
	Span  source.Span
}

// IndexExpr selects an array or string element. Constant indices are
// checked at compile time; dynamic ones get a bounds guard.
type IndexExpr struct {
	X     Expr
	Index Expr
	Ty    Type
	Span  source.Span
}

// AddrOf takes the address of an lvalue. Taking the address of a temporary
// first materializes it.
type AddrOf struct {
	X    Expr
	Ty   Type // pointer type
	Span source.Span
}

// Deref reads through a pointer.
type Deref struct {
	X    Expr
	Ty   Type
	Span source.Span
}

// AsmExpr embeds verbatim target assembly. Register names are virtual and
// bound by the register allocator; Init expressions seed them. Width
// conversions in the standard library are no-op asm blocks that retype a
// register.
type AsmExpr struct {
	Args   []AsmArg
	Ops    []AsmOp
	RetReg string // "" when the block yields unit
	RetTy  Type
	Span   source.Span
}

// AsmArg binds one virtual register, optionally initialized.
type AsmArg struct {
	Reg  string
	Init Expr
}

// AsmOp is one literal instruction: mnemonic, register names, optional
// trailing immediate.
type AsmOp struct {
	Name string
	Regs []string
	Imm  string
}

func (e *IntLit) Pos() source.Span        { return e.Span }
func (e *WideLit) Pos() source.Span       { return e.Span }
func (e *BoolLit) Pos() source.Span       { return e.Span }
func (e *StrLit) Pos() source.Span        { return e.Span }
func (e *UnitLit) Pos() source.Span       { return e.Span }
func (e *VarRef) Pos() source.Span        { return e.Span }
func (e *ConstUse) Pos() source.Span      { return e.Span }
func (e *ConfigUse) Pos() source.Span     { return e.Span }
func (e *ConstParamUse) Pos() source.Span { return e.Span }
func (e *Unary) Pos() source.Span         { return e.Span }
func (e *Binary) Pos() source.Span        { return e.Span }
func (e *Compare) Pos() source.Span       { return e.Span }
func (e *CallExpr) Pos() source.Span      { return e.Span }
func (e *StructLit) Pos() source.Span     { return e.Span }
func (e *TupleLit) Pos() source.Span      { return e.Span }
func (e *ArrayLit) Pos() source.Span      { return e.Span }
func (e *UnionLit) Pos() source.Span      { return e.Span }
func (e *FieldAccess) Pos() source.Span   { return e.Span }
func (e *IndexExpr) Pos() source.Span     { return e.Span }
func (e *AddrOf) Pos() source.Span        { return e.Span }
func (e *Deref) Pos() source.Span         { return e.Span }
func (e *AsmExpr) Pos() source.Span       { return e.Span }

func (e *IntLit) TypeOf() Type        { return e.Ty }
func (e *WideLit) TypeOf() Type       { return U256 }
func (e *BoolLit) TypeOf() Type       { return Bool }
func (e *StrLit) TypeOf() Type        { return &Str{Len: ArrayLen{N: uint64(len(e.Val))}} }
func (e *UnitLit) TypeOf() Type       { return Unit }
func (e *VarRef) TypeOf() Type        { return e.Ty }
func (e *ConstUse) TypeOf() Type      { return e.Ty }
func (e *ConfigUse) TypeOf() Type     { return e.Ty }
func (e *ConstParamUse) TypeOf() Type { return U64 }
func (e *Unary) TypeOf() Type         { return e.X.TypeOf() }
func (e *Binary) TypeOf() Type        { return e.X.TypeOf() }
func (e *Compare) TypeOf() Type       { return Bool }
func (e *CallExpr) TypeOf() Type      { return e.Ty }
func (e *StructLit) TypeOf() Type     { return e.Ty }
func (e *TupleLit) TypeOf() Type      { return e.Ty }
func (e *ArrayLit) TypeOf() Type      { return e.Ty }
func (e *UnionLit) TypeOf() Type      { return e.Ty }
func (e *FieldAccess) TypeOf() Type   { return e.Ty }
func (e *IndexExpr) TypeOf() Type     { return e.Ty }
func (e *AddrOf) TypeOf() Type        { return e.Ty }
func (e *Deref) TypeOf() Type         { return e.Ty }
func (e *AsmExpr) TypeOf() Type       { return e.RetTy }

func (*IntLit) exprNode()        {}
func (*WideLit) exprNode()       {}
func (*BoolLit) exprNode()       {}
func (*StrLit) exprNode()        {}
func (*UnitLit) exprNode()       {}
func (*VarRef) exprNode()        {}
func (*ConstUse) exprNode()      {}
func (*ConfigUse) exprNode()     {}
func (*ConstParamUse) exprNode() {}
func (*Unary) exprNode()         {}
func (*Binary) exprNode()        {}
func (*Compare) exprNode()       {}
func (*CallExpr) exprNode()      {}
func (*StructLit) exprNode()     {}
func (*TupleLit) exprNode()      {}
func (*ArrayLit) exprNode()      {}
func (*UnionLit) exprNode()      {}
func (*FieldAccess) exprNode()   {}
func (*IndexExpr) exprNode()     {}
func (*AddrOf) exprNode()        {}
func (*Deref) exprNode()         {}
func (*AsmExpr) exprNode()       {}
