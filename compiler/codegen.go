package compiler

import (
	"fmt"
	"math"

	"github.com/kkestell/quartz/pkg/ast"
	"github.com/kkestell/quartz/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Codegen: resolve IR into bytecode
// ---------------------------------------------------------------------------

var binaryOpcodes = map[Op]bytecode.Opcode{
	OpAdd: bytecode.OpAdd,
	OpSub: bytecode.OpSub,
	OpMul: bytecode.OpMul,
	OpDiv: bytecode.OpDiv,
	OpMod: bytecode.OpMod,
	OpEq:  bytecode.OpEq,
	OpGt:  bytecode.OpGt,
	OpLt:  bytecode.OpLt,
	OpGte: bytecode.OpGe,
	OpLte: bytecode.OpLe,
}

// expansionSize returns how many bytecode instructions an IR instruction
// becomes. Labels occupy no address.
func expansionSize(in Instruction) (int, bool) {
	if in.Op.IsBinary() {
		return 4, true
	}
	switch in.Op {
	case OpLabel:
		return 0, true
	case OpCopy, OpLoadConst, OpJumpIfFalse, OpPrint, OpCall:
		return 2, true
	case OpNeg, OpNot:
		return 3, true
	case OpJump, OpArg:
		return 1, true
	case OpReturn:
		if in.A.IsNone() {
			return 1, true
		}
		return 2, true
	}
	return 0, false
}

// Codegen resolves IR functions into one bytecode program. The constant
// pool is shared by all functions.
type Codegen struct {
	opts    options
	builder *bytecode.Builder
	funcs   map[string]int // function name -> function table index

	// Per-function state
	fn     *Function
	labels map[string]int
	slots  map[string]uint16
}

// GenerateBytecode resolves an IR program. The entry function is placed at
// index 0 and the rest follow in declaration order.
func GenerateBytecode(p *Program, opts ...Option) (*bytecode.Program, error) {
	c := &Codegen{
		opts:    buildOptions(opts),
		builder: bytecode.NewBuilder(),
		funcs:   make(map[string]int),
	}
	return c.program(p)
}

func (c *Codegen) program(p *Program) (*bytecode.Program, error) {
	if p == nil || p.Entry == nil {
		return nil, newError("", ErrUnsupported, "program has no entry function")
	}

	all := append([]*Function{p.Entry}, p.Functions...)
	if len(all) > math.MaxUint16+1 {
		return nil, newError("", ErrOperandOverflow, "%d functions", len(all))
	}
	for i, fn := range all {
		if _, dup := c.funcs[fn.Name]; dup {
			return nil, newError(fn.Name, ErrDuplicate, "function %q", fn.Name)
		}
		c.funcs[fn.Name] = i
	}

	for i, fn := range all {
		if err := c.function(fn, i == 0); err != nil {
			return nil, err
		}
	}

	prog, err := c.builder.Build()
	if err != nil {
		return nil, newError("", err, "building program")
	}
	return prog, nil
}

func (c *Codegen) errorf(err error, format string, args ...any) *Error {
	return newError(c.fn.Name, err, format, args...)
}

func (c *Codegen) function(fn *Function, isEntry bool) error {
	c.fn = fn
	c.labels = make(map[string]int)
	c.slots = make(map[string]uint16)

	// Pass 1: addresses of every label.
	addr := 0
	for _, in := range fn.Instructions {
		size, ok := expansionSize(in)
		if !ok {
			return c.errorf(ErrNoExpansion, "%s", in.Op)
		}
		if in.Op == OpLabel {
			if _, dup := c.labels[in.A.Name]; dup {
				return c.errorf(ErrDuplicate, "label %s", in.A.Name)
			}
			c.labels[in.A.Name] = addr
		}
		addr += size
	}

	// Parameters are bound by the VM to slots 0..N-1.
	for _, p := range fn.Params {
		if _, err := c.slot(p); err != nil {
			return err
		}
	}

	// Pass 2: emit.
	c.builder.StartFunction(fn.NumArgs())
	for _, in := range fn.Instructions {
		if err := c.instruction(in); err != nil {
			return err
		}
	}
	if emitted := c.builder.CurrentOffset(); emitted != addr {
		return c.errorf(ErrNoExpansion, "emitted %d instructions, expected %d", emitted, addr)
	}

	if isEntry {
		if op, ok := c.builder.LastOp(); !ok || !op.IsTerminator() {
			c.builder.Emit(bytecode.OpHalt)
		}
	}

	c.opts.log.Debugf("resolved %s: %d instructions, %d locals, %d labels",
		fn.Name, c.builder.CurrentOffset(), len(c.slots), len(c.labels))
	c.builder.EndFunction()
	return nil
}

// slot maps a temporary to its local slot, assigning the next free slot on
// first use.
func (c *Codegen) slot(name string) (uint16, error) {
	if s, ok := c.slots[name]; ok {
		return s, nil
	}
	if len(c.slots) > math.MaxUint16 {
		return 0, c.errorf(ErrOperandOverflow, "more than %d locals", math.MaxUint16+1)
	}
	s := uint16(len(c.slots))
	c.slots[name] = s
	return s, nil
}

func (c *Codegen) label(o Operand) (uint16, error) {
	if o.Kind != OperandLabel {
		return 0, c.errorf(ErrUnsupported, "expected a label, got %s", o)
	}
	addr, ok := c.labels[o.Name]
	if !ok {
		return 0, c.errorf(ErrUnresolvedLabel, "%s", o.Name)
	}
	if addr > math.MaxUint16 {
		return 0, c.errorf(ErrOperandOverflow, "address %d of %s", addr, o.Name)
	}
	return uint16(addr), nil
}

func (c *Codegen) get(o Operand) error {
	if o.Kind != OperandTemp {
		return c.errorf(ErrUnsupported, "expected a temporary, got %s", o)
	}
	s, err := c.slot(o.Name)
	if err != nil {
		return err
	}
	c.builder.EmitArg(bytecode.OpGetLocal, s)
	return nil
}

func (c *Codegen) set(o Operand) error {
	if o.Kind != OperandTemp {
		return c.errorf(ErrUnsupported, "expected a temporary, got %s", o)
	}
	s, err := c.slot(o.Name)
	if err != nil {
		return err
	}
	c.builder.EmitArg(bytecode.OpSetLocal, s)
	return nil
}

// instruction emits the fixed expansion for one IR instruction. Every read
// goes through GET_LOCAL and every write through SET_LOCAL; nothing stays
// on the operand stack between IR instructions except call arguments.
func (c *Codegen) instruction(in Instruction) error {
	if op, ok := binaryOpcodes[in.Op]; ok {
		if err := c.get(in.B); err != nil {
			return err
		}
		if err := c.get(in.C); err != nil {
			return err
		}
		c.builder.Emit(op)
		return c.set(in.A)
	}

	switch in.Op {
	case OpLabel:
		return nil

	case OpCopy:
		if err := c.get(in.B); err != nil {
			return err
		}
		return c.set(in.A)

	case OpLoadConst:
		if in.B.Kind != OperandLiteral {
			return c.errorf(ErrUnsupported, "const operand %s", in.B)
		}
		switch in.B.Value.Kind() {
		case bytecode.KindNil:
			c.builder.Emit(bytecode.OpPushNil)
		case bytecode.KindNumber, bytecode.KindBoolean, bytecode.KindString:
			c.builder.EmitConstant(in.B.Value)
		default:
			return c.errorf(ErrUnsupported, "%s constant", in.B.Value.Kind())
		}
		return c.set(in.A)

	case OpNeg, OpNot:
		if err := c.get(in.B); err != nil {
			return err
		}
		if in.Op == OpNeg {
			c.builder.Emit(bytecode.OpNeg)
		} else {
			c.builder.Emit(bytecode.OpNot)
		}
		return c.set(in.A)

	case OpJump:
		addr, err := c.label(in.A)
		if err != nil {
			return err
		}
		c.builder.EmitArg(bytecode.OpJump, addr)
		return nil

	case OpJumpIfFalse:
		addr, err := c.label(in.B)
		if err != nil {
			return err
		}
		if err := c.get(in.A); err != nil {
			return err
		}
		c.builder.EmitArg(bytecode.OpJumpIfFalse, addr)
		return nil

	case OpPrint:
		if err := c.get(in.A); err != nil {
			return err
		}
		c.builder.Emit(bytecode.OpPrint)
		return nil

	case OpArg:
		return c.get(in.A)

	case OpCall:
		if in.B.Kind != OperandFunc {
			return c.errorf(ErrUnsupported, "call target %s", in.B)
		}
		idx, ok := c.funcs[in.B.Name]
		if !ok {
			return c.errorf(ErrUndefined, "function %q", in.B.Name)
		}
		c.builder.EmitArg(bytecode.OpCall, uint16(idx))
		return c.set(in.A)

	case OpReturn:
		if !in.A.IsNone() {
			if err := c.get(in.A); err != nil {
				return err
			}
		}
		c.builder.Emit(bytecode.OpReturn)
		return nil
	}

	return c.errorf(ErrNoExpansion, "%s", in.Op)
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// Compile lowers a program tree all the way to bytecode.
func Compile(stmts []ast.Stmt, opts ...Option) (*bytecode.Program, error) {
	ir, err := GenerateIR(stmts, opts...)
	if err != nil {
		return nil, err
	}
	return GenerateBytecode(ir, opts...)
}

// CompileToBytes lowers a program tree and serializes the result.
func CompileToBytes(stmts []ast.Stmt, opts ...Option) ([]byte, error) {
	prog, err := Compile(stmts, opts...)
	if err != nil {
		return nil, err
	}
	data, err := prog.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return data, nil
}
