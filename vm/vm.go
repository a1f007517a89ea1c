// Package vm implements the Zircon virtual machine: a single-threaded,
// stack-of-frames interpreter for bytecode programs.
//
// Each call gets a frame with a private operand stack and sparse local
// slots. Globals and the heap are shared by all frames and live for one
// Run. Any failure during dispatch stops the machine and is reported as a
// *Fault carrying a snapshot of the state at that moment.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/kkestell/quartz/pkg/bytecode"
)

// VM executes a bytecode program. A VM is not safe for concurrent use.
type VM struct {
	program *bytecode.Program

	frames  []*CallFrame
	globals map[uint16]bytecode.Value
	heap    *Heap

	running   bool
	result    bytecode.Value
	hasResult bool
	steps     uint64

	// Location of the instruction being executed
	curFn int
	curIP int
	curOp bytecode.Opcode

	out       io.Writer
	log       commonlog.Logger
	trace     bool
	stepLimit uint64
}

// Option configures a VM.
type Option func(*VM)

// WithOutput sets where PRINT writes. Defaults to standard output.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithLogger sets the logger used for tracing and fault reports.
func WithLogger(log commonlog.Logger) Option {
	return func(vm *VM) { vm.log = log }
}

// WithTrace logs every dispatched instruction at debug level.
func WithTrace(trace bool) Option {
	return func(vm *VM) { vm.trace = trace }
}

// WithStepLimit stops execution with ErrStepLimit after n instructions.
// Zero means no limit.
func WithStepLimit(n uint64) Option {
	return func(vm *VM) { vm.stepLimit = n }
}

// New creates a VM for program.
func New(program *bytecode.Program, opts ...Option) *VM {
	vm := &VM{
		program: program,
		globals: make(map[uint16]bytecode.Value),
		heap:    NewHeap(),
		out:     os.Stdout,
		log:     commonlog.GetLogger("zircon.vm"),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// Frames returns the call stack, bottom first. After HALT the halting
// frame is still present; after the last RETURN the stack is empty.
func (vm *VM) Frames() []*CallFrame { return vm.frames }

// OperandStack returns a copy of the current frame's operand stack, or
// nil when no frame is active.
func (vm *VM) OperandStack() []bytecode.Value {
	if len(vm.frames) == 0 {
		return nil
	}
	return vm.frames[len(vm.frames)-1].Stack()
}

// Locals returns a copy of the current frame's locals.
func (vm *VM) Locals() map[uint16]bytecode.Value {
	if len(vm.frames) == 0 {
		return nil
	}
	return vm.frames[len(vm.frames)-1].Locals()
}

// Globals returns a copy of the global slots.
func (vm *VM) Globals() map[uint16]bytecode.Value {
	m := make(map[uint16]bytecode.Value, len(vm.globals))
	for k, v := range vm.globals {
		m[k] = v
	}
	return m
}

// Heap returns the machine's heap.
func (vm *VM) Heap() *Heap { return vm.heap }

// IsRunning reports whether the machine is still executing.
func (vm *VM) IsRunning() bool { return vm.running }

// ReturnValue returns the value produced when the entry frame returned.
// The second result is false if the program halted instead.
func (vm *VM) ReturnValue() (bytecode.Value, bool) {
	return vm.result, vm.hasResult
}

// Steps returns the number of instructions executed by the last Run.
func (vm *VM) Steps() uint64 { return vm.steps }

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Run executes the program from function 0 until it halts, returns from
// the entry frame or faults. State from a previous Run is discarded.
func (vm *VM) Run() (err error) {
	vm.frames = []*CallFrame{newFrame(0)}
	vm.globals = make(map[uint16]bytecode.Value)
	vm.heap = NewHeap()
	vm.running = true
	vm.result = bytecode.Nil
	vm.hasResult = false
	vm.steps = 0
	vm.curFn, vm.curIP, vm.curOp = 0, 0, 0

	defer func() {
		if r := recover(); r != nil {
			err = vm.fault(fmt.Errorf("%w: %v", ErrInternal, r))
		}
	}()

	if err := vm.run(); err != nil {
		return vm.fault(err)
	}
	return nil
}

func (vm *VM) fault(err error) *Fault {
	vm.running = false
	f := &Fault{Err: err, Snapshot: vm.snapshot()}
	vm.log.Debugf("%s", f.Error())
	return f
}

func (vm *VM) currentFrame() *CallFrame {
	return vm.frames[len(vm.frames)-1]
}

func (vm *VM) run() error {
	for vm.running && len(vm.frames) > 0 {
		frame := vm.currentFrame()
		fn, err := vm.program.Function(frame.Function)
		if err != nil {
			return fmt.Errorf("%w: %d", ErrInvalidFunction, frame.Function)
		}

		// Falling off the end is an implicit return.
		if frame.IP >= len(fn.Instructions) {
			if err := vm.doReturn(frame); err != nil {
				return err
			}
			continue
		}

		if vm.stepLimit > 0 && vm.steps >= vm.stepLimit {
			return fmt.Errorf("%w: %d", ErrStepLimit, vm.stepLimit)
		}

		in := fn.Instructions[frame.IP]
		vm.curFn, vm.curIP, vm.curOp = frame.Function, frame.IP, in.Op
		frame.IP++
		vm.steps++

		if vm.trace && vm.log.AllowLevel(commonlog.Debug) {
			vm.log.Debugf("[fn%d %04X] %-14s depth=%d stack=%d", vm.curFn, vm.curIP, in, len(vm.frames), len(frame.stack))
		}

		if need := bytecode.GetOpcodeInfo(in.Op).StackPop; need > len(frame.stack) {
			return fmt.Errorf("%w: %s needs %d operands, stack has %d",
				ErrStackUnderflow, in.Op, need, len(frame.stack))
		}

		if err := vm.execute(frame, fn, in); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) execute(frame *CallFrame, fn *bytecode.Function, in bytecode.Instruction) error {
	switch in.Op {
	// ============ Stack Operations ============
	case bytecode.OpPushConst:
		v, err := vm.program.Constant(int(in.Operand))
		if err != nil {
			return fmt.Errorf("%w: %d", ErrInvalidConstant, in.Operand)
		}
		frame.push(v)

	case bytecode.OpPushNil:
		frame.push(bytecode.Nil)

	case bytecode.OpPop:
		if _, err := frame.pop(); err != nil {
			return err
		}

	case bytecode.OpDup:
		v, err := frame.peek()
		if err != nil {
			return err
		}
		frame.push(v)

	case bytecode.OpSwap:
		a, b, err := frame.pop2()
		if err != nil {
			return err
		}
		frame.push(b)
		frame.push(a)

	// ============ Arithmetic, Logic, Comparison ============
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
		bytecode.OpGt, bytecode.OpLt, bytecode.OpGe, bytecode.OpLe:
		a, b, err := frame.pop2()
		if err != nil {
			return err
		}
		r, err := arith(in.Op, a, b)
		if err != nil {
			return err
		}
		frame.push(r)

	case bytecode.OpAnd, bytecode.OpOr:
		a, b, err := frame.pop2()
		if err != nil {
			return err
		}
		r, err := logic(in.Op, a, b)
		if err != nil {
			return err
		}
		frame.push(r)

	case bytecode.OpNeg:
		v, err := frame.pop()
		if err != nil {
			return err
		}
		n, ok := v.AsNumber()
		if !ok {
			return typeError(in.Op, "a number", v)
		}
		frame.push(bytecode.Number(-n))

	case bytecode.OpNot:
		v, err := frame.pop()
		if err != nil {
			return err
		}
		b, ok := v.AsBool()
		if !ok {
			return typeError(in.Op, "a boolean", v)
		}
		frame.push(bytecode.Boolean(!b))

	case bytecode.OpEq:
		a, b, err := frame.pop2()
		if err != nil {
			return err
		}
		frame.push(bytecode.Boolean(a.Equal(b)))

	// ============ Control Flow ============
	case bytecode.OpJump:
		return vm.jump(frame, fn, in.Operand)

	case bytecode.OpJumpIfTrue, bytecode.OpJumpIfFalse:
		v, err := frame.pop()
		if err != nil {
			return err
		}
		b, ok := v.AsBool()
		if !ok {
			return typeError(in.Op, "a boolean", v)
		}
		if b == (in.Op == bytecode.OpJumpIfTrue) {
			return vm.jump(frame, fn, in.Operand)
		}

	case bytecode.OpHalt:
		vm.running = false

	// ============ I/O ============
	case bytecode.OpPrint:
		v, err := frame.pop()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(vm.out, v.String()); err != nil {
			return fmt.Errorf("%w: %v", ErrOutput, err)
		}

	// ============ Variables ============
	case bytecode.OpGetLocal:
		v, err := frame.getLocal(in.Operand)
		if err != nil {
			return err
		}
		frame.push(v)

	case bytecode.OpSetLocal:
		v, err := frame.pop()
		if err != nil {
			return err
		}
		frame.setLocal(in.Operand, v)

	case bytecode.OpGetGlobal:
		v, ok := vm.globals[in.Operand]
		if !ok {
			return fmt.Errorf("%w: slot %d", ErrUndefinedGlobal, in.Operand)
		}
		frame.push(v)

	case bytecode.OpSetGlobal:
		v, err := frame.pop()
		if err != nil {
			return err
		}
		vm.globals[in.Operand] = v

	// ============ Calls ============
	case bytecode.OpCall:
		return vm.call(frame, int(in.Operand))

	case bytecode.OpReturn:
		return vm.doReturn(frame)

	// ============ Heap and Structured Values ============
	default:
		if handled, err := vm.memory(frame, in); handled {
			return err
		}
		return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, byte(in.Op))
	}

	return nil
}

func (vm *VM) jump(frame *CallFrame, fn *bytecode.Function, target uint16) error {
	if int(target) > len(fn.Instructions) {
		return fmt.Errorf("%w: %04X", ErrInvalidJump, target)
	}
	frame.IP = int(target)
	return nil
}

// call moves the callee's arguments from the caller's stack into slots
// 0..N-1 of a new frame. The last argument pushed binds the highest slot.
func (vm *VM) call(caller *CallFrame, index int) error {
	callee, err := vm.program.Function(index)
	if err != nil {
		return fmt.Errorf("%w: %d", ErrInvalidFunction, index)
	}
	if len(caller.stack) < callee.NumArgs {
		return fmt.Errorf("%w: fn%d needs %d arguments, stack has %d",
			ErrStackUnderflow, index, callee.NumArgs, len(caller.stack))
	}

	frame := newFrame(index)
	for i := callee.NumArgs - 1; i >= 0; i-- {
		v, _ := caller.pop()
		frame.setLocal(uint16(i), v)
	}
	vm.frames = append(vm.frames, frame)
	return nil
}

// doReturn pops the frame's result (nil if its stack is empty) and hands it
// to the caller. Returning from the entry frame stops the machine.
func (vm *VM) doReturn(frame *CallFrame) error {
	result := bytecode.Nil
	if len(frame.stack) > 0 {
		result, _ = frame.pop()
	}

	vm.frames[len(vm.frames)-1] = nil
	vm.frames = vm.frames[:len(vm.frames)-1]

	if len(vm.frames) > 0 {
		vm.currentFrame().push(result)
		return nil
	}

	vm.result = result
	vm.hasResult = true
	vm.running = false
	return nil
}
