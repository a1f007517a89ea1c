package bytecode

import (
	"errors"
	"fmt"
	"math"
)

// Sentinel errors for program construction and loading.
var (
	ErrInvalidMagic       = errors.New("invalid bytecode magic")
	ErrUnsupportedVersion = errors.New("unsupported bytecode version")
	ErrUnknownOpcode      = errors.New("unknown opcode")
	ErrUnknownConstant    = errors.New("unknown constant tag")
	ErrTruncated          = errors.New("unexpected end of bytecode")
	ErrTrailingData       = errors.New("trailing data after bytecode")
	ErrInvalidOperand     = errors.New("operand out of range")
	ErrNoFunctions        = errors.New("program has no functions")
	ErrUnencodable        = errors.New("constant cannot be encoded")
)

// Instruction is a resolved opcode with its operand. Operand is meaningful
// only when Op.HasOperand() is true.
type Instruction struct {
	Op      Opcode
	Operand uint16
}

func (in Instruction) String() string {
	if in.Op.HasOperand() {
		return fmt.Sprintf("%s %d", in.Op, in.Operand)
	}
	return in.Op.String()
}

// Function is a resolved function body.
type Function struct {
	NumArgs      int
	Instructions []Instruction
}

// Program is a loaded or generated bytecode program. Function 0 is the
// entry point. Programs are immutable once built.
type Program struct {
	constants []Value
	functions []*Function
}

// NewProgram builds a program from a constant pool and function table and
// validates every operand against them.
func NewProgram(constants []Value, functions []*Function) (*Program, error) {
	p := &Program{constants: constants, functions: functions}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Constant returns the pool entry at index i.
func (p *Program) Constant(i int) (Value, error) {
	if i < 0 || i >= len(p.constants) {
		return Nil, fmt.Errorf("%w: constant %d of %d", ErrInvalidOperand, i, len(p.constants))
	}
	return p.constants[i], nil
}

// Function returns the function at index i.
func (p *Program) Function(i int) (*Function, error) {
	if i < 0 || i >= len(p.functions) {
		return nil, fmt.Errorf("%w: function %d of %d", ErrInvalidOperand, i, len(p.functions))
	}
	return p.functions[i], nil
}

func (p *Program) ConstantCount() int { return len(p.constants) }
func (p *Program) FunctionCount() int { return len(p.functions) }

// Constants returns the constant pool.
func (p *Program) Constants() []Value { return p.constants }

// Functions returns the function table.
func (p *Program) Functions() []*Function { return p.functions }

// Validate checks that the program can be executed without reading outside
// the constant pool, the function table or a function body.
func (p *Program) Validate() error {
	if len(p.functions) == 0 {
		return ErrNoFunctions
	}
	if len(p.constants) > math.MaxUint16+1 {
		return fmt.Errorf("%w: %d constants", ErrInvalidOperand, len(p.constants))
	}
	for i, c := range p.constants {
		switch c.Kind() {
		case KindNumber, KindBoolean, KindString:
		default:
			return fmt.Errorf("%w: constant %d is %s", ErrUnencodable, i, c.Kind())
		}
	}
	for fi, fn := range p.functions {
		if fn == nil {
			return fmt.Errorf("function %d is nil", fi)
		}
		if fn.NumArgs < 0 {
			return fmt.Errorf("function %d: negative argument count %d", fi, fn.NumArgs)
		}
		for ip, in := range fn.Instructions {
			if err := p.checkOperand(fn, in); err != nil {
				return fmt.Errorf("function %d at %04d: %w", fi, ip, err)
			}
		}
	}
	return nil
}

func (p *Program) checkOperand(fn *Function, in Instruction) error {
	if !in.Op.IsValid() {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, byte(in.Op))
	}
	switch in.Op {
	case OpPushConst:
		if int(in.Operand) >= len(p.constants) {
			return fmt.Errorf("%w: constant %d", ErrInvalidOperand, in.Operand)
		}
	case OpGetProperty, OpSetProperty:
		if int(in.Operand) >= len(p.constants) {
			return fmt.Errorf("%w: constant %d", ErrInvalidOperand, in.Operand)
		}
		if !p.constants[in.Operand].IsString() {
			return fmt.Errorf("%w: property name %d is not a string", ErrInvalidOperand, in.Operand)
		}
	case OpCall:
		if int(in.Operand) >= len(p.functions) {
			return fmt.Errorf("%w: function %d", ErrInvalidOperand, in.Operand)
		}
	case OpJump, OpJumpIfTrue, OpJumpIfFalse:
		// Jumping to one past the last instruction falls off the end.
		if int(in.Operand) > len(fn.Instructions) {
			return fmt.Errorf("%w: jump target %d", ErrInvalidOperand, in.Operand)
		}
	}
	return nil
}
