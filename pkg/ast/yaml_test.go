package ast

import (
	"errors"
	"testing"

	"github.com/kkestell/quartz/pkg/bytecode"
)

func TestDecodeYAMLProgram(t *testing.T) {
	src := `
- func: add
  params: [a, b]
  body:
    - return: {binary: "+", left: {var: a}, right: {var: b}}
- var: x
  init: {call: add, args: [10, 20]}
- if: {binary: ">", left: {var: x}, right: 25}
  then:
    print: "big"
  else:
    - print: {lit: small}
- while: {lit: false}
  do: []
- expr: {assign: x, value: {unary: "-", operand: {var: x}}}
- return:
`
	stmts, err := DecodeYAML([]byte(src))
	if err != nil {
		t.Fatalf("DecodeYAML failed: %v", err)
	}
	if len(stmts) != 6 {
		t.Fatalf("got %d statements, want 6", len(stmts))
	}

	fn, ok := stmts[0].(*FuncDecl)
	if !ok {
		t.Fatalf("stmts[0] = %T, want *FuncDecl", stmts[0])
	}
	if fn.Name != "add" || len(fn.Params) != 2 || fn.Params[1] != "b" {
		t.Errorf("func = %s%v", fn.Name, fn.Params)
	}
	ret, ok := fn.Body.Stmts[0].(*Return)
	if !ok {
		t.Fatalf("body[0] = %T, want *Return", fn.Body.Stmts[0])
	}
	if bin, ok := ret.Value.(*Binary); !ok || bin.Op != OpAdd {
		t.Errorf("return value = %#v, want + expression", ret.Value)
	}

	decl := stmts[1].(*VarDecl)
	call, ok := decl.Init.(*Call)
	if !ok {
		t.Fatalf("init = %T, want *Call", decl.Init)
	}
	if len(call.Args) != 2 {
		t.Fatalf("call has %d args, want 2", len(call.Args))
	}
	if lit := call.Args[0].(*Literal); !lit.Value.Equal(bytecode.Number(10)) {
		t.Errorf("arg 0 = %v, want 10", lit.Value)
	}

	ifStmt := stmts[2].(*If)
	then := ifStmt.Then.(*Block)
	if p := then.Stmts[0].(*Print); !p.Expr.(*Literal).Value.Equal(bytecode.String("big")) {
		t.Errorf("then prints %v, want big", p.Expr)
	}
	if ifStmt.Else == nil {
		t.Error("else branch missing")
	}

	if w := stmts[3].(*While); len(w.Body.(*Block).Stmts) != 0 {
		t.Error("while body should be empty")
	}

	assign := stmts[4].(*ExprStmt).Expr.(*Assign)
	if u, ok := assign.Value.(*Unary); !ok || u.Op != OpSub {
		t.Errorf("assign value = %#v, want unary -", assign.Value)
	}

	if r := stmts[5].(*Return); r.Value != nil {
		t.Errorf("bare return has value %#v", r.Value)
	}
}

func TestDecodeYAMLLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want bytecode.Value
	}{
		{"- print: {lit: 3}", bytecode.Number(3)},
		{"- print: {lit: 2.5}", bytecode.Number(2.5)},
		{"- print: {lit: true}", bytecode.Boolean(true)},
		{"- print: {lit: ~}", bytecode.Nil},
		{`- print: {lit: "10"}`, bytecode.String("10")},
		{"- print: hello", bytecode.String("hello")},
	}

	for _, tt := range tests {
		stmts, err := DecodeYAML([]byte(tt.src))
		if err != nil {
			t.Errorf("%s: %v", tt.src, err)
			continue
		}
		lit := stmts[0].(*Print).Expr.(*Literal)
		if !lit.Value.Identical(tt.want) {
			t.Errorf("%s: literal = %v (%s), want %v", tt.src, lit.Value, lit.Value.Kind(), tt.want)
		}
	}
}

func TestDecodeYAMLEmpty(t *testing.T) {
	for _, src := range []string{"", "~", "[]"} {
		stmts, err := DecodeYAML([]byte(src))
		if err != nil {
			t.Errorf("%q: %v", src, err)
		}
		if len(stmts) != 0 {
			t.Errorf("%q: got %d statements", src, len(stmts))
		}
	}
}

func TestDecodeYAMLErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"not a list", "print: 1"},
		{"unknown statement", "- nope: 1"},
		{"unknown expression", "- print: {frob: 1}"},
		{"unknown operator", "- print: {binary: '**', left: 1, right: 2}"},
		{"missing operand", "- print: {binary: '+', left: 1}"},
		{"unexpected key", "- var: x\n  init: 1\n  extra: 2"},
		{"params not a list", "- func: f\n  params: a"},
		{"sequence expression", "- print: [1, 2]"},
		{"non-scalar literal", "- print: {lit: [1]}"},
		{"missing then", "- if: true"},
		{"malformed", "- ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeYAML([]byte(tt.src))
			if !errors.Is(err, ErrInvalidTree) {
				t.Errorf("%q: error = %v, want ErrInvalidTree", tt.src, err)
			}
		})
	}
}
