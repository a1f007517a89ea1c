package compiler

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/kkestell/quartz/pkg/ast"
	"github.com/kkestell/quartz/pkg/bytecode"
)

// DefaultEntryName is the function that becomes function 0.
const DefaultEntryName = "main"

type options struct {
	entryName string
	log       commonlog.Logger
}

// Option configures IR and bytecode generation.
type Option func(*options)

// WithEntryName sets the name of the entry function.
func WithEntryName(name string) Option {
	return func(o *options) { o.entryName = name }
}

// WithLogger sets the logger used for debug output.
func WithLogger(log commonlog.Logger) Option {
	return func(o *options) { o.log = log }
}

func buildOptions(opts []Option) options {
	o := options{entryName: DefaultEntryName, log: commonlog.GetLogger("quartz.compiler")}
	for _, opt := range opts {
		opt(&o)
	}
	if o.entryName == "" {
		o.entryName = DefaultEntryName
	}
	return o
}

// ---------------------------------------------------------------------------
// IR generation
// ---------------------------------------------------------------------------

// generator lowers the tree into IR. Temporaries and labels are numbered
// per function.
type generator struct {
	opts      options
	arity     map[string]int // callable function name -> parameter count
	fn        *Function
	tempCount int
	labelNum  int
}

// GenerateIR lowers a program tree into IR. Top-level function declarations
// are registered before any body is lowered, so functions may call each
// other regardless of order. If no entry function is declared, the
// top-level statements form its body.
func GenerateIR(stmts []ast.Stmt, opts ...Option) (*Program, error) {
	g := &generator{opts: buildOptions(opts), arity: make(map[string]int)}
	return g.program(stmts)
}

func (g *generator) program(stmts []ast.Stmt) (*Program, error) {
	entryName := g.opts.entryName

	var funcs []*ast.FuncDecl
	var entryDecl *ast.FuncDecl
	var topLevel []ast.Stmt

	for _, s := range stmts {
		decl, ok := s.(*ast.FuncDecl)
		if !ok {
			topLevel = append(topLevel, s)
			continue
		}
		if _, dup := g.arity[decl.Name]; dup || (decl.Name == entryName && entryDecl != nil) {
			return nil, newError(decl.Name, ErrDuplicate, "function %q declared twice", decl.Name)
		}
		if decl.Name == entryName {
			if len(decl.Params) != 0 {
				return nil, newError(decl.Name, ErrUnsupported, "entry function cannot take parameters")
			}
			entryDecl = decl
			continue
		}
		g.arity[decl.Name] = len(decl.Params)
		funcs = append(funcs, decl)
	}

	if entryDecl != nil {
		if len(topLevel) > 0 {
			return nil, newError(entryName, ErrUnsupported, "top-level statements alongside an explicit %s function", entryName)
		}
		// Only an explicit entry function can be called by name.
		g.arity[entryName] = 0
	}

	prog := &Program{}

	var err error
	if entryDecl != nil {
		var body []ast.Stmt
		if entryDecl.Body != nil {
			body = entryDecl.Body.Stmts
		}
		prog.Entry, err = g.function(entryDecl.Name, nil, body)
	} else {
		prog.Entry, err = g.function(entryName, nil, topLevel)
	}
	if err != nil {
		return nil, err
	}

	for _, decl := range funcs {
		var body []ast.Stmt
		if decl.Body != nil {
			body = decl.Body.Stmts
		}
		fn, err := g.function(decl.Name, decl.Params, body)
		if err != nil {
			return nil, err
		}
		prog.Functions = append(prog.Functions, fn)
	}

	return prog, nil
}

func (g *generator) function(name string, params []string, body []ast.Stmt) (*Function, error) {
	g.fn = newFunction(name)
	g.tempCount = 0
	g.labelNum = 0

	// Parameters take the first temporaries so they line up with the
	// argument slots the VM binds on call.
	for _, p := range params {
		if _, dup := g.fn.Symbols[p]; dup {
			return nil, g.errorf(ErrDuplicate, "parameter %q declared twice", p)
		}
		t := g.newTemp()
		g.fn.Params = append(g.fn.Params, t)
		g.fn.Symbols[p] = t
	}

	for _, s := range body {
		if err := g.stmt(s); err != nil {
			return nil, err
		}
	}

	g.opts.log.Debugf("lowered %s: %d IR instructions, %d temporaries", name, len(g.fn.Instructions), g.tempCount)
	return g.fn, nil
}

func (g *generator) errorf(err error, format string, args ...any) *Error {
	return newError(g.fn.Name, err, format, args...)
}

func (g *generator) newTemp() string {
	t := fmt.Sprintf("t%d", g.tempCount)
	g.tempCount++
	return t
}

func (g *generator) newLabel(hint string) string {
	l := fmt.Sprintf(".%s%d", hint, g.labelNum)
	g.labelNum++
	return l
}

func (g *generator) emit(op Op, operands ...Operand) {
	in := Instruction{Op: op}
	switch len(operands) {
	case 3:
		in.C = operands[2]
		fallthrough
	case 2:
		in.B = operands[1]
		fallthrough
	case 1:
		in.A = operands[0]
	}
	g.fn.emit(in)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (g *generator) stmt(s ast.Stmt) error {
	switch s := s.(type) {
	case *ast.ExprStmt:
		_, err := g.expr(s.Expr)
		return err

	case *ast.Print:
		t, err := g.expr(s.Expr)
		if err != nil {
			return err
		}
		g.emit(OpPrint, Temp(t))
		return nil

	case *ast.VarDecl:
		var src string
		if s.Init != nil {
			var err error
			if src, err = g.expr(s.Init); err != nil {
				return err
			}
		}
		t := g.newTemp()
		g.fn.Symbols[s.Name] = t
		if s.Init != nil {
			g.emit(OpCopy, Temp(t), Temp(src))
		} else {
			g.emit(OpLoadConst, Temp(t), Lit(bytecode.Nil))
		}
		return nil

	case *ast.Block:
		for _, inner := range s.Stmts {
			if err := g.stmt(inner); err != nil {
				return err
			}
		}
		return nil

	case *ast.If:
		return g.ifStmt(s)

	case *ast.While:
		return g.whileStmt(s)

	case *ast.Return:
		if s.Value == nil {
			g.emit(OpReturn)
			return nil
		}
		t, err := g.expr(s.Value)
		if err != nil {
			return err
		}
		g.emit(OpReturn, Temp(t))
		return nil

	case *ast.FuncDecl:
		return g.errorf(ErrUnsupported, "nested function declaration %q", s.Name)

	case nil:
		return g.errorf(ErrUnsupported, "nil statement")
	}

	return g.errorf(ErrUnsupported, "statement %T", s)
}

func (g *generator) ifStmt(s *ast.If) error {
	cond, err := g.expr(s.Cond)
	if err != nil {
		return err
	}
	elseLabel := g.newLabel("else")
	endLabel := g.newLabel("endif")

	g.emit(OpJumpIfFalse, Temp(cond), Label(elseLabel))
	if s.Then != nil {
		if err := g.stmt(s.Then); err != nil {
			return err
		}
	}
	g.emit(OpJump, Label(endLabel))
	g.emit(OpLabel, Label(elseLabel))
	if s.Else != nil {
		if err := g.stmt(s.Else); err != nil {
			return err
		}
	}
	g.emit(OpLabel, Label(endLabel))
	return nil
}

func (g *generator) whileStmt(s *ast.While) error {
	startLabel := g.newLabel("loop")
	endLabel := g.newLabel("endloop")

	g.emit(OpLabel, Label(startLabel))
	cond, err := g.expr(s.Cond)
	if err != nil {
		return err
	}
	g.emit(OpJumpIfFalse, Temp(cond), Label(endLabel))
	if s.Body != nil {
		if err := g.stmt(s.Body); err != nil {
			return err
		}
	}
	g.emit(OpJump, Label(startLabel))
	g.emit(OpLabel, Label(endLabel))
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var binaryOps = map[ast.Operator]Op{
	ast.OpAdd: OpAdd,
	ast.OpSub: OpSub,
	ast.OpMul: OpMul,
	ast.OpDiv: OpDiv,
	ast.OpMod: OpMod,
	ast.OpEq:  OpEq,
	ast.OpGt:  OpGt,
	ast.OpLt:  OpLt,
	ast.OpGe:  OpGte,
	ast.OpLe:  OpLte,
}

// expr lowers an expression and returns the temporary holding its value.
func (g *generator) expr(e ast.Expr) (string, error) {
	switch e := e.(type) {
	case *ast.Literal:
		switch e.Value.Kind() {
		case bytecode.KindNil, bytecode.KindNumber, bytecode.KindBoolean, bytecode.KindString:
		default:
			return "", g.errorf(ErrUnsupported, "%s literal", e.Value.Kind())
		}
		t := g.newTemp()
		g.emit(OpLoadConst, Temp(t), Lit(e.Value))
		return t, nil

	case *ast.Variable:
		if t, ok := g.fn.Symbols[e.Name]; ok {
			return t, nil
		}
		if _, ok := g.arity[e.Name]; ok {
			return "", g.errorf(ErrUnsupported, "function %q used as a value", e.Name)
		}
		return "", g.errorf(ErrUndefined, "variable %q", e.Name)

	case *ast.Assign:
		src, err := g.expr(e.Value)
		if err != nil {
			return "", err
		}
		t, ok := g.fn.Symbols[e.Name]
		if !ok {
			return "", g.errorf(ErrUndeclaredAssign, "%q", e.Name)
		}
		g.emit(OpCopy, Temp(t), Temp(src))
		return t, nil

	case *ast.Unary:
		operand, err := g.expr(e.Operand)
		if err != nil {
			return "", err
		}
		var op Op
		switch e.Op {
		case ast.OpSub:
			op = OpNeg
		case ast.OpNot:
			op = OpNot
		default:
			return "", g.errorf(ErrUnsupported, "unary operator %q", e.Op)
		}
		t := g.newTemp()
		g.emit(op, Temp(t), Temp(operand))
		return t, nil

	case *ast.Binary:
		switch e.Op {
		case ast.OpAnd, ast.OpOr:
			return g.logical(e)
		case ast.OpNe:
			eq, err := g.binary(OpEq, e.Left, e.Right)
			if err != nil {
				return "", err
			}
			t := g.newTemp()
			g.emit(OpNot, Temp(t), Temp(eq))
			return t, nil
		}
		op, ok := binaryOps[e.Op]
		if !ok {
			return "", g.errorf(ErrUnsupported, "binary operator %q", e.Op)
		}
		return g.binary(op, e.Left, e.Right)

	case *ast.Call:
		return g.call(e)

	case nil:
		return "", g.errorf(ErrUnsupported, "nil expression")
	}

	return "", g.errorf(ErrUnsupported, "expression %T", e)
}

func (g *generator) binary(op Op, left, right ast.Expr) (string, error) {
	l, err := g.expr(left)
	if err != nil {
		return "", err
	}
	r, err := g.expr(right)
	if err != nil {
		return "", err
	}
	t := g.newTemp()
	g.emit(op, Temp(t), Temp(l), Temp(r))
	return t, nil
}

// logical lowers && and || without a dedicated opcode. The result
// temporary starts as a copy of the left operand; the right operand is
// only evaluated when the left one does not decide the result.
func (g *generator) logical(e *ast.Binary) (string, error) {
	left, err := g.expr(e.Left)
	if err != nil {
		return "", err
	}
	result := g.newTemp()
	g.emit(OpCopy, Temp(result), Temp(left))

	endLabel := g.newLabel("sc_end")
	if e.Op == ast.OpAnd {
		g.emit(OpJumpIfFalse, Temp(left), Label(endLabel))
	} else {
		rhsLabel := g.newLabel("sc_rhs")
		g.emit(OpJumpIfFalse, Temp(left), Label(rhsLabel))
		g.emit(OpJump, Label(endLabel))
		g.emit(OpLabel, Label(rhsLabel))
	}

	right, err := g.expr(e.Right)
	if err != nil {
		return "", err
	}
	g.emit(OpCopy, Temp(result), Temp(right))
	g.emit(OpLabel, Label(endLabel))
	return result, nil
}

func (g *generator) call(e *ast.Call) (string, error) {
	callee, ok := e.Callee.(*ast.Variable)
	if !ok {
		return "", g.errorf(ErrUnsupported, "call target must be a function name, got %T", e.Callee)
	}
	if _, shadowed := g.fn.Symbols[callee.Name]; shadowed {
		return "", g.errorf(ErrUnsupported, "%q is a variable, not a function", callee.Name)
	}
	want, ok := g.arity[callee.Name]
	if !ok {
		return "", g.errorf(ErrUndefined, "function %q", callee.Name)
	}
	if len(e.Args) != want {
		return "", g.errorf(ErrArity, "%s takes %d, got %d", callee.Name, want, len(e.Args))
	}

	// Every argument is evaluated before any is pushed, so nested calls
	// never interleave with this call's argument pushes.
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		t, err := g.expr(a)
		if err != nil {
			return "", err
		}
		args[i] = t
	}
	for _, a := range args {
		g.emit(OpArg, Temp(a))
	}

	t := g.newTemp()
	g.emit(OpCall, Temp(t), FuncRef(callee.Name))
	return t, nil
}
