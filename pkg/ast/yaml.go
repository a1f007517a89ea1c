package ast

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kkestell/quartz/pkg/bytecode"
)

// ErrInvalidTree is wrapped by every structural error DecodeYAML reports.
var ErrInvalidTree = errors.New("invalid program tree")

// DecodeYAML decodes a program tree written as YAML data. A program is a
// sequence of statements; every statement and expression is a mapping
// whose first recognised key selects the node kind:
//
//	# add two numbers and print the sum
//	- func: add
//	  params: [a, b]
//	  body:
//	    - return: {binary: "+", left: {var: a}, right: {var: b}}
//	- var: x
//	  init: {call: add, args: [10, 20]}
//	- print: {var: x}
//
// Statement keys: expr, print, var (init), block, if (then, else),
// while (do), func (params, body), return. Expression keys: lit, var,
// assign (value), unary (operand), binary (left, right), call (args).
// A bare scalar is shorthand for a literal. Bodies accept either one
// statement or a list.
func DecodeYAML(data []byte) ([]Stmt, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}
	root := resolve(doc.Content[0])
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return nil, nil
	}
	return decodeStmtList(root)
}

// DecodeYAMLFile reads and decodes a program tree file.
func DecodeYAMLFile(path string) ([]Stmt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	stmts, err := DecodeYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return stmts, nil
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func treeErr(n *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrInvalidTree, n.Line, fmt.Sprintf(format, args...))
}

// fields indexes a mapping node by key.
type fields struct {
	node *yaml.Node
	keys []string
	vals map[string]*yaml.Node
}

func mapping(n *yaml.Node) (*fields, error) {
	if n.Kind != yaml.MappingNode {
		return nil, treeErr(n, "expected a mapping")
	}
	f := &fields{node: n, vals: make(map[string]*yaml.Node)}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i].Value
		if _, dup := f.vals[k]; dup {
			return nil, treeErr(n.Content[i], "duplicate key %q", k)
		}
		f.keys = append(f.keys, k)
		f.vals[k] = resolve(n.Content[i+1])
	}
	return f, nil
}

// kind returns the first key that is one of the candidates.
func (f *fields) kind(candidates ...string) (string, bool) {
	for _, k := range f.keys {
		for _, c := range candidates {
			if k == c {
				return k, true
			}
		}
	}
	return "", false
}

func (f *fields) get(key string) *yaml.Node {
	return f.vals[key]
}

func (f *fields) require(key string) (*yaml.Node, error) {
	n, ok := f.vals[key]
	if !ok {
		return nil, treeErr(f.node, "missing %q", key)
	}
	return n, nil
}

// allow rejects keys outside the given set so typos do not pass silently.
func (f *fields) allow(keys ...string) error {
	for _, k := range f.keys {
		found := false
		for _, a := range keys {
			if k == a {
				found = true
				break
			}
		}
		if !found {
			return treeErr(f.node, "unexpected key %q", k)
		}
	}
	return nil
}

func scalarString(n *yaml.Node, what string) (string, error) {
	if n == nil || n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		if n == nil {
			return "", fmt.Errorf("%w: missing %s", ErrInvalidTree, what)
		}
		return "", treeErr(n, "%s must be a scalar", what)
	}
	return n.Value, nil
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

var stmtKeys = []string{"expr", "print", "var", "block", "if", "while", "func", "return"}

func decodeStmtList(n *yaml.Node) ([]Stmt, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, treeErr(n, "expected a list of statements")
	}
	stmts := make([]Stmt, 0, len(n.Content))
	for _, c := range n.Content {
		s, err := decodeStmt(resolve(c))
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func decodeBody(n *yaml.Node) (*Block, error) {
	if isNull(n) {
		return &Block{}, nil
	}
	if n.Kind == yaml.SequenceNode {
		stmts, err := decodeStmtList(n)
		if err != nil {
			return nil, err
		}
		return &Block{Stmts: stmts}, nil
	}
	s, err := decodeStmt(n)
	if err != nil {
		return nil, err
	}
	if b, ok := s.(*Block); ok {
		return b, nil
	}
	return &Block{Stmts: []Stmt{s}}, nil
}

func decodeStmt(n *yaml.Node) (Stmt, error) {
	f, err := mapping(n)
	if err != nil {
		return nil, err
	}
	kind, ok := f.kind(stmtKeys...)
	if !ok {
		return nil, treeErr(n, "not a statement (expected one of %v)", stmtKeys)
	}
	v := f.get(kind)

	switch kind {
	case "expr":
		if err := f.allow("expr"); err != nil {
			return nil, err
		}
		e, err := decodeExpr(v)
		if err != nil {
			return nil, err
		}
		return &ExprStmt{Expr: e}, nil

	case "print":
		if err := f.allow("print"); err != nil {
			return nil, err
		}
		e, err := decodeExpr(v)
		if err != nil {
			return nil, err
		}
		return &Print{Expr: e}, nil

	case "var":
		if err := f.allow("var", "init"); err != nil {
			return nil, err
		}
		name, err := scalarString(v, "variable name")
		if err != nil {
			return nil, err
		}
		decl := &VarDecl{Name: name}
		if init := f.get("init"); init != nil {
			if decl.Init, err = decodeExpr(init); err != nil {
				return nil, err
			}
		}
		return decl, nil

	case "block":
		if err := f.allow("block"); err != nil {
			return nil, err
		}
		b, err := decodeBody(v)
		if err != nil {
			return nil, err
		}
		return b, nil

	case "if":
		if err := f.allow("if", "then", "else"); err != nil {
			return nil, err
		}
		cond, err := decodeExpr(v)
		if err != nil {
			return nil, err
		}
		thenNode, err := f.require("then")
		if err != nil {
			return nil, err
		}
		then, err := decodeBody(thenNode)
		if err != nil {
			return nil, err
		}
		stmt := &If{Cond: cond, Then: then}
		if elseNode := f.get("else"); elseNode != nil {
			if stmt.Else, err = decodeBody(elseNode); err != nil {
				return nil, err
			}
		}
		return stmt, nil

	case "while":
		if err := f.allow("while", "do"); err != nil {
			return nil, err
		}
		cond, err := decodeExpr(v)
		if err != nil {
			return nil, err
		}
		body, err := decodeBody(f.get("do"))
		if err != nil {
			return nil, err
		}
		return &While{Cond: cond, Body: body}, nil

	case "func":
		if err := f.allow("func", "params", "body"); err != nil {
			return nil, err
		}
		name, err := scalarString(v, "function name")
		if err != nil {
			return nil, err
		}
		var params []string
		if p := f.get("params"); !isNull(p) {
			if p.Kind != yaml.SequenceNode {
				return nil, treeErr(p, "params must be a list")
			}
			for _, c := range p.Content {
				param, err := scalarString(resolve(c), "parameter name")
				if err != nil {
					return nil, err
				}
				params = append(params, param)
			}
		}
		body, err := decodeBody(f.get("body"))
		if err != nil {
			return nil, err
		}
		return &FuncDecl{Name: name, Params: params, Body: body}, nil

	case "return":
		if err := f.allow("return"); err != nil {
			return nil, err
		}
		if isNull(v) {
			return &Return{}, nil
		}
		e, err := decodeExpr(v)
		if err != nil {
			return nil, err
		}
		return &Return{Value: e}, nil
	}

	return nil, treeErr(n, "unhandled statement %q", kind)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

var exprKeys = []string{"lit", "var", "assign", "unary", "binary", "call"}

var binaryOps = map[Operator]bool{
	OpAdd: true, OpSub: true, OpMul: true, OpDiv: true, OpMod: true,
	OpEq: true, OpNe: true, OpGt: true, OpLt: true, OpGe: true, OpLe: true,
	OpAnd: true, OpOr: true,
}

func decodeExpr(n *yaml.Node) (Expr, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: missing expression", ErrInvalidTree)
	}
	if n.Kind == yaml.ScalarNode {
		v, err := decodeScalar(n)
		if err != nil {
			return nil, err
		}
		return &Literal{Value: v}, nil
	}

	f, err := mapping(n)
	if err != nil {
		return nil, err
	}
	kind, ok := f.kind(exprKeys...)
	if !ok {
		return nil, treeErr(n, "not an expression (expected one of %v)", exprKeys)
	}
	v := f.get(kind)

	switch kind {
	case "lit":
		if err := f.allow("lit"); err != nil {
			return nil, err
		}
		if v.Kind != yaml.ScalarNode {
			return nil, treeErr(v, "literal must be a scalar")
		}
		val, err := decodeScalar(v)
		if err != nil {
			return nil, err
		}
		return &Literal{Value: val}, nil

	case "var":
		if err := f.allow("var"); err != nil {
			return nil, err
		}
		name, err := scalarString(v, "variable name")
		if err != nil {
			return nil, err
		}
		return &Variable{Name: name}, nil

	case "assign":
		if err := f.allow("assign", "value"); err != nil {
			return nil, err
		}
		name, err := scalarString(v, "assignment target")
		if err != nil {
			return nil, err
		}
		valNode, err := f.require("value")
		if err != nil {
			return nil, err
		}
		val, err := decodeExpr(valNode)
		if err != nil {
			return nil, err
		}
		return &Assign{Name: name, Value: val}, nil

	case "unary":
		if err := f.allow("unary", "operand"); err != nil {
			return nil, err
		}
		op, err := scalarString(v, "operator")
		if err != nil {
			return nil, err
		}
		if Operator(op) != OpSub && Operator(op) != OpNot {
			return nil, treeErr(v, "unknown unary operator %q", op)
		}
		operandNode, err := f.require("operand")
		if err != nil {
			return nil, err
		}
		operand, err := decodeExpr(operandNode)
		if err != nil {
			return nil, err
		}
		return &Unary{Op: Operator(op), Operand: operand}, nil

	case "binary":
		if err := f.allow("binary", "left", "right"); err != nil {
			return nil, err
		}
		op, err := scalarString(v, "operator")
		if err != nil {
			return nil, err
		}
		if !binaryOps[Operator(op)] {
			return nil, treeErr(v, "unknown binary operator %q", op)
		}
		leftNode, err := f.require("left")
		if err != nil {
			return nil, err
		}
		rightNode, err := f.require("right")
		if err != nil {
			return nil, err
		}
		left, err := decodeExpr(leftNode)
		if err != nil {
			return nil, err
		}
		right, err := decodeExpr(rightNode)
		if err != nil {
			return nil, err
		}
		return &Binary{Left: left, Op: Operator(op), Right: right}, nil

	case "call":
		if err := f.allow("call", "args"); err != nil {
			return nil, err
		}
		name, err := scalarString(v, "function name")
		if err != nil {
			return nil, err
		}
		call := &Call{Callee: &Variable{Name: name}}
		if a := f.get("args"); !isNull(a) {
			if a.Kind != yaml.SequenceNode {
				return nil, treeErr(a, "args must be a list")
			}
			for _, c := range a.Content {
				arg, err := decodeExpr(resolve(c))
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
			}
		}
		return call, nil
	}

	return nil, treeErr(n, "unhandled expression %q", kind)
}

// decodeScalar maps YAML scalars onto values. yaml.v3 resolves integers to
// int, so both integer and float tags become numbers.
func decodeScalar(n *yaml.Node) (bytecode.Value, error) {
	var raw any
	if err := n.Decode(&raw); err != nil {
		return bytecode.Nil, treeErr(n, "%v", err)
	}
	switch v := raw.(type) {
	case nil:
		return bytecode.Nil, nil
	case bool:
		return bytecode.Boolean(v), nil
	case int:
		return bytecode.Number(float64(v)), nil
	case int64:
		return bytecode.Number(float64(v)), nil
	case uint64:
		return bytecode.Number(float64(v)), nil
	case float64:
		return bytecode.Number(v), nil
	case string:
		return bytecode.String(v), nil
	}
	return bytecode.Nil, treeErr(n, "unsupported literal %q", n.Value)
}
