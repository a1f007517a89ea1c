package compiler

import (
	"errors"
	"fmt"
)

// Sentinel errors for lowering. Every error returned by the compiler wraps
// one of these inside an *Error.
var (
	ErrUndefined        = errors.New("undefined symbol")
	ErrUndeclaredAssign = errors.New("assignment to undeclared variable")
	ErrDuplicate        = errors.New("duplicate declaration")
	ErrArity            = errors.New("wrong number of arguments")
	ErrUnsupported      = errors.New("unsupported construct")
	ErrNoExpansion      = errors.New("no bytecode expansion for IR op")
	ErrUnresolvedLabel  = errors.New("unresolved label")
	ErrOperandOverflow  = errors.New("operand does not fit in 16 bits")
)

// Error is a compile error located in a function.
type Error struct {
	Func   string
	Err    error
	Detail string
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Func != "" {
		return fmt.Sprintf("in %s: %s", e.Func, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(fn string, err error, format string, args ...any) *Error {
	return &Error{Func: fn, Err: err, Detail: fmt.Sprintf(format, args...)}
}
