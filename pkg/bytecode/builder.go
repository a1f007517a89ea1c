package bytecode

import (
	"fmt"
	"math"
)

// Builder assembles a Program one function at a time. Errors are sticky:
// the first one is reported by Build.
type Builder struct {
	constants []Value
	functions []*Function
	current   *Function
	err       error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddConstant adds a value to the constant pool and returns its index.
// Deduplicates identical values.
func (b *Builder) AddConstant(v Value) uint16 {
	for i, c := range b.constants {
		if c.Identical(v) {
			return uint16(i)
		}
	}
	if len(b.constants) > math.MaxUint16 {
		b.fail(fmt.Errorf("%w: constant pool exceeds %d entries", ErrInvalidOperand, math.MaxUint16+1))
		return 0
	}
	b.constants = append(b.constants, v)
	return uint16(len(b.constants) - 1)
}

// StartFunction begins a new function and returns its index. Any function
// in progress is finished first.
func (b *Builder) StartFunction(numArgs int) int {
	b.EndFunction()
	b.current = &Function{NumArgs: numArgs}
	b.functions = append(b.functions, b.current)
	return len(b.functions) - 1
}

// EndFunction finishes the function in progress.
func (b *Builder) EndFunction() {
	b.current = nil
}

// Emit appends an operand-less instruction and returns its address.
func (b *Builder) Emit(op Opcode) int {
	if op.HasOperand() {
		b.fail(fmt.Errorf("%s requires an operand", op))
	}
	return b.emit(Instruction{Op: op})
}

// EmitArg appends an instruction with a 16-bit operand and returns its address.
func (b *Builder) EmitArg(op Opcode, operand uint16) int {
	if !op.HasOperand() {
		b.fail(fmt.Errorf("%s takes no operand", op))
	}
	return b.emit(Instruction{Op: op, Operand: operand})
}

// EmitConstant adds v to the pool and emits PUSH_CONST for it.
func (b *Builder) EmitConstant(v Value) int {
	return b.EmitArg(OpPushConst, b.AddConstant(v))
}

func (b *Builder) emit(in Instruction) int {
	if b.current == nil {
		b.fail(fmt.Errorf("%s emitted outside a function", in.Op))
		return -1
	}
	b.current.Instructions = append(b.current.Instructions, in)
	return len(b.current.Instructions) - 1
}

// CurrentOffset returns the address the next instruction will occupy.
func (b *Builder) CurrentOffset() int {
	if b.current == nil {
		return 0
	}
	return len(b.current.Instructions)
}

// LastOp returns the opcode of the most recent instruction in the current
// function.
func (b *Builder) LastOp() (Opcode, bool) {
	if b.current == nil || len(b.current.Instructions) == 0 {
		return 0, false
	}
	return b.current.Instructions[len(b.current.Instructions)-1].Op, true
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates and returns the finished program.
func (b *Builder) Build() (*Program, error) {
	b.EndFunction()
	if b.err != nil {
		return nil, b.err
	}
	return NewProgram(b.constants, b.functions)
}
