// Package ast defines the program tree consumed by the Quartz compiler.
//
// The tree is pure data. Nodes are built once, either programmatically or
// by DecodeYAML, and never mutated afterwards.
package ast

import "github.com/kkestell/quartz/pkg/bytecode"

// Node is the interface implemented by all tree nodes.
type Node interface {
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// Operator names a unary or binary operator.
type Operator string

const (
	OpAdd Operator = "+"
	OpSub Operator = "-"
	OpMul Operator = "*"
	OpDiv Operator = "/"
	OpMod Operator = "%"
	OpEq  Operator = "=="
	OpNe  Operator = "!="
	OpGt  Operator = ">"
	OpLt  Operator = "<"
	OpGe  Operator = ">="
	OpLe  Operator = "<="
	OpAnd Operator = "&&"
	OpOr  Operator = "||"
	OpNot Operator = "!"
)

// Literal is a constant value. Only nil, number, boolean and string
// values are meaningful here.
type Literal struct {
	Value bytecode.Value
}

// Binary is a two-operand expression, including the short-circuit
// operators && and ||.
type Binary struct {
	Left  Expr
	Op    Operator
	Right Expr
}

// Unary is a prefix expression: - or !.
type Unary struct {
	Op      Operator
	Operand Expr
}

// Variable references a declared variable (or, as a call target, a function).
type Variable struct {
	Name string
}

// Assign stores into an already declared variable and yields the value.
type Assign struct {
	Name  string
	Value Expr
}

// Call invokes a function. Callee must be a Variable naming a function.
type Call struct {
	Callee Expr
	Args   []Expr
}

func (n *Literal) node()  {}
func (n *Binary) node()   {}
func (n *Unary) node()    {}
func (n *Variable) node() {}
func (n *Assign) node()   {}
func (n *Call) node()     {}

func (n *Literal) expr()  {}
func (n *Binary) expr()   {}
func (n *Unary) expr()    {}
func (n *Variable) expr() {}
func (n *Assign) expr()   {}
func (n *Call) expr()     {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// ExprStmt evaluates an expression for effect.
type ExprStmt struct {
	Expr Expr
}

// Print writes the value of an expression.
type Print struct {
	Expr Expr
}

// VarDecl declares a variable in the current function. Init may be nil.
type VarDecl struct {
	Name string
	Init Expr
}

// Block is a statement sequence.
type Block struct {
	Stmts []Stmt
}

// If is a conditional. Else may be nil.
type If struct {
	Cond Expr
	Then Stmt
	Else Stmt
}

// While loops while Cond is true.
type While struct {
	Cond Expr
	Body Stmt
}

// FuncDecl declares a top-level function.
type FuncDecl struct {
	Name   string
	Params []string
	Body   *Block
}

// Return leaves the current function. Value may be nil.
type Return struct {
	Value Expr
}

func (n *ExprStmt) node() {}
func (n *Print) node()    {}
func (n *VarDecl) node()  {}
func (n *Block) node()    {}
func (n *If) node()       {}
func (n *While) node()    {}
func (n *FuncDecl) node() {}
func (n *Return) node()   {}

func (n *ExprStmt) stmt() {}
func (n *Print) stmt()    {}
func (n *VarDecl) stmt()  {}
func (n *Block) stmt()    {}
func (n *If) stmt()       {}
func (n *While) stmt()    {}
func (n *FuncDecl) stmt() {}
func (n *Return) stmt()   {}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func Num(n float64) *Literal    { return &Literal{Value: bytecode.Number(n)} }
func Str(s string) *Literal     { return &Literal{Value: bytecode.String(s)} }
func Bool(b bool) *Literal      { return &Literal{Value: bytecode.Boolean(b)} }
func Nil() *Literal             { return &Literal{Value: bytecode.Nil} }
func Var(name string) *Variable { return &Variable{Name: name} }

func Bin(left Expr, op Operator, right Expr) *Binary {
	return &Binary{Left: left, Op: op, Right: right}
}

// CallFn calls the named function.
func CallFn(name string, args ...Expr) *Call {
	return &Call{Callee: Var(name), Args: args}
}

// Func declares a function with the given body statements.
func Func(name string, params []string, body ...Stmt) *FuncDecl {
	return &FuncDecl{Name: name, Params: params, Body: &Block{Stmts: body}}
}
