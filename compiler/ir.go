package compiler

import (
	"fmt"
	"strings"

	"github.com/kkestell/quartz/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// IR: flat three-address form between the tree and bytecode
// ---------------------------------------------------------------------------

// Op is an IR operation.
type Op byte

const (
	OpAdd Op = iota // A = B + C
	OpSub           // A = B - C
	OpMul           // A = B * C
	OpDiv           // A = B / C
	OpMod           // A = B % C
	OpNeg           // A = -B
	OpNot           // A = !B
	OpEq            // A = B == C
	OpGt            // A = B > C
	OpLt            // A = B < C
	OpGte           // A = B >= C
	OpLte           // A = B <= C

	OpLoadConst   // A = literal B
	OpCopy        // A = B
	OpLabel       // A:
	OpJump        // goto A
	OpJumpIfFalse // if !A goto B
	OpArg         // push A as the next call argument
	OpCall        // A = call function B
	OpReturn      // return [A]
	OpPrint       // print A
)

var opNames = [...]string{
	OpAdd:         "add",
	OpSub:         "sub",
	OpMul:         "mul",
	OpDiv:         "div",
	OpMod:         "mod",
	OpNeg:         "neg",
	OpNot:         "not",
	OpEq:          "eq",
	OpGt:          "gt",
	OpLt:          "lt",
	OpGte:         "gte",
	OpLte:         "lte",
	OpLoadConst:   "const",
	OpCopy:        "copy",
	OpLabel:       "label",
	OpJump:        "jump",
	OpJumpIfFalse: "jump_if_false",
	OpArg:         "arg",
	OpCall:        "call",
	OpReturn:      "return",
	OpPrint:       "print",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", byte(op))
}

// IsBinary reports whether op reads two temporaries and writes one.
func (op Op) IsBinary() bool {
	return op <= OpLte && op != OpNeg && op != OpNot
}

// OperandKind classifies an IR operand.
type OperandKind byte

const (
	OperandNone OperandKind = iota
	OperandTemp
	OperandLabel
	OperandFunc
	OperandLiteral
)

// Operand is a temporary name, a label name, a function name or a literal.
type Operand struct {
	Kind  OperandKind
	Name  string
	Value bytecode.Value
}

func Temp(name string) Operand     { return Operand{Kind: OperandTemp, Name: name} }
func Label(name string) Operand    { return Operand{Kind: OperandLabel, Name: name} }
func FuncRef(name string) Operand  { return Operand{Kind: OperandFunc, Name: name} }
func Lit(v bytecode.Value) Operand { return Operand{Kind: OperandLiteral, Value: v} }

func (o Operand) IsNone() bool { return o.Kind == OperandNone }

func (o Operand) String() string {
	switch o.Kind {
	case OperandTemp, OperandLabel, OperandFunc:
		return o.Name
	case OperandLiteral:
		if s, ok := o.Value.AsString(); ok {
			return fmt.Sprintf("%q", s)
		}
		return o.Value.String()
	}
	return "_"
}

// Instruction is one IR operation with up to three operands.
type Instruction struct {
	Op      Op
	A, B, C Operand
}

func (in Instruction) String() string {
	if in.Op.IsBinary() {
		return fmt.Sprintf("%s = %s %s, %s", in.A, in.Op, in.B, in.C)
	}
	switch in.Op {
	case OpNeg, OpNot:
		return fmt.Sprintf("%s = %s %s", in.A, in.Op, in.B)
	case OpLoadConst:
		return fmt.Sprintf("%s = const %s", in.A, in.B)
	case OpCopy:
		return fmt.Sprintf("%s = %s", in.A, in.B)
	case OpLabel:
		return in.A.String() + ":"
	case OpJump, OpArg, OpPrint:
		return fmt.Sprintf("%s %s", in.Op, in.A)
	case OpJumpIfFalse:
		return fmt.Sprintf("jump_if_false %s, %s", in.A, in.B)
	case OpCall:
		return fmt.Sprintf("%s = call %s", in.A, in.B)
	case OpReturn:
		if in.A.IsNone() {
			return "return"
		}
		return "return " + in.A.String()
	}
	return fmt.Sprintf("%s %s, %s, %s", in.Op, in.A, in.B, in.C)
}

// Function is an IR function: parameters, an append-only instruction list
// and the symbol table mapping declared names to temporaries.
type Function struct {
	Name         string
	Params       []string // parameter temporaries, in declaration order
	Instructions []Instruction
	Symbols      map[string]string
}

func newFunction(name string) *Function {
	return &Function{Name: name, Symbols: make(map[string]string)}
}

// NumArgs returns the declared argument count.
func (f *Function) NumArgs() int { return len(f.Params) }

func (f *Function) emit(in Instruction) {
	f.Instructions = append(f.Instructions, in)
}

func (f *Function) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("func %s(%s)\n", f.Name, strings.Join(f.Params, ", ")))
	for _, in := range f.Instructions {
		if in.Op == OpLabel {
			sb.WriteString(in.String())
		} else {
			sb.WriteString("    " + in.String())
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Program is the IR for a whole compilation unit.
type Program struct {
	Entry     *Function
	Functions []*Function // declaration order, entry excluded
}

func (p *Program) String() string {
	var sb strings.Builder
	sb.WriteString(p.Entry.String())
	for _, fn := range p.Functions {
		sb.WriteString("\n")
		sb.WriteString(fn.String())
	}
	return sb.String()
}
