package vm

import (
	"fmt"

	"github.com/kkestell/quartz/pkg/bytecode"
)

// CallFrame is the execution context of one active call. Its operand stack
// and locals belong to the call alone.
type CallFrame struct {
	Function int
	IP       int
	stack    []bytecode.Value
	locals   map[uint16]bytecode.Value
}

func newFrame(function int) *CallFrame {
	return &CallFrame{
		Function: function,
		stack:    make([]bytecode.Value, 0, 8),
		locals:   make(map[uint16]bytecode.Value),
	}
}

func (f *CallFrame) push(v bytecode.Value) {
	f.stack = append(f.stack, v)
}

func (f *CallFrame) pop() (bytecode.Value, error) {
	if len(f.stack) == 0 {
		return bytecode.Nil, ErrStackUnderflow
	}
	v := f.stack[len(f.stack)-1]
	f.stack[len(f.stack)-1] = bytecode.Nil
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *CallFrame) peek() (bytecode.Value, error) {
	if len(f.stack) == 0 {
		return bytecode.Nil, ErrStackUnderflow
	}
	return f.stack[len(f.stack)-1], nil
}

// pop2 pops b then a, returning them in push order.
func (f *CallFrame) pop2() (a, b bytecode.Value, err error) {
	if len(f.stack) < 2 {
		return bytecode.Nil, bytecode.Nil, ErrStackUnderflow
	}
	b, _ = f.pop()
	a, _ = f.pop()
	return a, b, nil
}

func (f *CallFrame) getLocal(slot uint16) (bytecode.Value, error) {
	v, ok := f.locals[slot]
	if !ok {
		return bytecode.Nil, fmt.Errorf("%w: slot %d", ErrUndefinedLocal, slot)
	}
	return v, nil
}

func (f *CallFrame) setLocal(slot uint16, v bytecode.Value) {
	f.locals[slot] = v
}

// Stack returns a copy of the operand stack, bottom first.
func (f *CallFrame) Stack() []bytecode.Value {
	return append([]bytecode.Value(nil), f.stack...)
}

// Locals returns a copy of the local slots.
func (f *CallFrame) Locals() map[uint16]bytecode.Value {
	m := make(map[uint16]bytecode.Value, len(f.locals))
	for k, v := range f.locals {
		m[k] = v
	}
	return m
}
