package vm

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/kkestell/quartz/pkg/bytecode"
)

// assemble builds a program from one emit callback per function. Function i
// takes args[i] arguments; missing entries default to zero.
func assemble(t *testing.T, args []int, fns ...func(b *bytecode.Builder)) *bytecode.Program {
	t.Helper()
	b := bytecode.NewBuilder()
	for i, fn := range fns {
		n := 0
		if i < len(args) {
			n = args[i]
		}
		b.StartFunction(n)
		fn(b)
	}
	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return p
}

func runProgram(t *testing.T, p *bytecode.Program, opts ...Option) *VM {
	t.Helper()
	m := New(p, opts...)
	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return m
}

func runFault(t *testing.T, p *bytecode.Program, opts ...Option) (*VM, *Fault) {
	t.Helper()
	m := New(p, opts...)
	err := m.Run()
	if err == nil {
		t.Fatal("expected a fault, got nil")
	}
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected *Fault, got %T: %v", err, err)
	}
	return m, f
}

func expectStack(t *testing.T, m *VM, want ...bytecode.Value) {
	t.Helper()
	got := m.OperandStack()
	if len(got) != len(want) {
		t.Fatalf("stack = %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("stack[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

// ---------------------------------------------------------------------------
// Arithmetic, logic, comparison
// ---------------------------------------------------------------------------

func TestBinaryOps(t *testing.T) {
	n := bytecode.Number
	tests := []struct {
		name string
		a, b bytecode.Value
		op   bytecode.Opcode
		want bytecode.Value
	}{
		{"add", n(10), n(20), bytecode.OpAdd, n(30)},
		{"sub", n(10), n(20), bytecode.OpSub, n(-10)},
		{"mul", n(6), n(7), bytecode.OpMul, n(42)},
		{"div", n(7), n(2), bytecode.OpDiv, n(3.5)},
		{"div by zero", n(1), n(0), bytecode.OpDiv, n(math.Inf(1))},
		{"mod", n(7), n(3), bytecode.OpMod, n(1)},
		{"mod negative", n(-7), n(3), bytecode.OpMod, n(-1)},
		{"mod fraction", n(5.5), n(2), bytecode.OpMod, n(1.5)},
		{"gt", n(2), n(1), bytecode.OpGt, bytecode.Boolean(true)},
		{"lt", n(2), n(1), bytecode.OpLt, bytecode.Boolean(false)},
		{"ge equal", n(2), n(2), bytecode.OpGe, bytecode.Boolean(true)},
		{"le", n(3), n(2), bytecode.OpLe, bytecode.Boolean(false)},
		{"and", bytecode.Boolean(true), bytecode.Boolean(false), bytecode.OpAnd, bytecode.Boolean(false)},
		{"or", bytecode.Boolean(true), bytecode.Boolean(false), bytecode.OpOr, bytecode.Boolean(true)},
		{"eq numbers", n(1), n(1), bytecode.OpEq, bytecode.Boolean(true)},
		{"eq strings", bytecode.String("a"), bytecode.String("a"), bytecode.OpEq, bytecode.Boolean(true)},
		{"eq kinds differ", bytecode.Boolean(true), n(1), bytecode.OpEq, bytecode.Boolean(false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := assemble(t, nil, func(b *bytecode.Builder) {
				b.EmitConstant(tt.a)
				b.EmitConstant(tt.b)
				b.Emit(tt.op)
				b.Emit(bytecode.OpHalt)
			})
			m := runProgram(t, p)
			expectStack(t, m, tt.want)
		})
	}
}

func TestDivideZeroByZeroIsNaN(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Number(0))
		b.EmitConstant(bytecode.Number(0))
		b.Emit(bytecode.OpDiv)
		b.Emit(bytecode.OpHalt)
	})
	m := runProgram(t, p)
	got, ok := m.OperandStack()[0].AsNumber()
	if !ok || !math.IsNaN(got) {
		t.Errorf("0/0 = %v, want NaN", m.OperandStack()[0])
	}
}

func TestUnaryOps(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Number(4))
		b.Emit(bytecode.OpNeg)
		b.EmitConstant(bytecode.Boolean(false))
		b.Emit(bytecode.OpNot)
		b.Emit(bytecode.OpHalt)
	})
	m := runProgram(t, p)
	expectStack(t, m, bytecode.Number(-4), bytecode.Boolean(true))
}

func TestNilEquality(t *testing.T) {
	tests := []struct {
		name  string
		other func(b *bytecode.Builder)
		want  bool
	}{
		{"nil", func(b *bytecode.Builder) { b.Emit(bytecode.OpPushNil) }, true},
		{"zero", func(b *bytecode.Builder) { b.EmitConstant(bytecode.Number(0)) }, false},
		{"false", func(b *bytecode.Builder) { b.EmitConstant(bytecode.Boolean(false)) }, false},
		{"empty string", func(b *bytecode.Builder) { b.EmitConstant(bytecode.String("")) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := assemble(t, nil, func(b *bytecode.Builder) {
				b.Emit(bytecode.OpPushNil)
				tt.other(b)
				b.Emit(bytecode.OpEq)
				b.Emit(bytecode.OpHalt)
			})
			expectStack(t, runProgram(t, p), bytecode.Boolean(tt.want))
		})
	}
}

func TestTypeMismatch(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Boolean(true))
		b.EmitConstant(bytecode.Number(1))
		b.Emit(bytecode.OpAdd)
		b.Emit(bytecode.OpHalt)
	})
	m, f := runFault(t, p)

	if !errors.Is(f, ErrTypeMismatch) {
		t.Errorf("err = %v, want ErrTypeMismatch", f)
	}
	if f.Snapshot.Op != bytecode.OpAdd || f.Snapshot.IP != 2 || f.Snapshot.Function != 0 {
		t.Errorf("fault at fn%d %d (%s), want fn0 2 (ADD)", f.Snapshot.Function, f.Snapshot.IP, f.Snapshot.Op)
	}
	if m.IsRunning() {
		t.Error("machine still running after a fault")
	}
	if !strings.Contains(f.Error(), "fn0 at 0002") {
		t.Errorf("Error() = %q", f.Error())
	}
}

func TestStackFaults(t *testing.T) {
	tests := []struct {
		name string
		emit func(b *bytecode.Builder)
		want error
	}{
		{"pop empty", func(b *bytecode.Builder) { b.Emit(bytecode.OpPop) }, ErrStackUnderflow},
		{"dup empty", func(b *bytecode.Builder) { b.Emit(bytecode.OpDup) }, ErrStackUnderflow},
		{"add one operand", func(b *bytecode.Builder) {
			b.EmitConstant(bytecode.Number(1))
			b.Emit(bytecode.OpAdd)
		}, ErrStackUnderflow},
		{"undefined local", func(b *bytecode.Builder) { b.EmitArg(bytecode.OpGetLocal, 3) }, ErrUndefinedLocal},
		{"undefined global", func(b *bytecode.Builder) { b.EmitArg(bytecode.OpGetGlobal, 0) }, ErrUndefinedGlobal},
		{"branch on number", func(b *bytecode.Builder) {
			b.EmitConstant(bytecode.Number(1))
			b.EmitArg(bytecode.OpJumpIfFalse, 0)
		}, ErrTypeMismatch},
		{"neg string", func(b *bytecode.Builder) {
			b.EmitConstant(bytecode.String("x"))
			b.Emit(bytecode.OpNeg)
		}, ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := assemble(t, nil, func(b *bytecode.Builder) {
				tt.emit(b)
				b.Emit(bytecode.OpHalt)
			})
			_, f := runFault(t, p)
			if !errors.Is(f, tt.want) {
				t.Errorf("err = %v, want %v", f, tt.want)
			}
		})
	}
}

func TestUnderflowLeavesOperandsInPlace(t *testing.T) {
	for _, op := range []bytecode.Opcode{bytecode.OpStore, bytecode.OpSetElement, bytecode.OpSwap} {
		t.Run(op.String(), func(t *testing.T) {
			p := assemble(t, nil, func(b *bytecode.Builder) {
				b.EmitConstant(bytecode.Number(7))
				b.Emit(op)
			})
			_, f := runFault(t, p)
			if !errors.Is(f, ErrStackUnderflow) {
				t.Fatalf("err = %v, want ErrStackUnderflow", f)
			}
			if f.Snapshot.Op != op {
				t.Errorf("fault op = %s, want %s", f.Snapshot.Op, op)
			}
			stack := f.Snapshot.Frames[0].Stack
			if len(stack) != 1 || !stack[0].Equal(bytecode.Number(7)) {
				t.Errorf("stack at fault = %v, want [7]", stack)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Variables and control flow
// ---------------------------------------------------------------------------

func TestLocalsAndGlobals(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Number(5))
		b.EmitArg(bytecode.OpSetLocal, 2)
		b.EmitConstant(bytecode.String("g"))
		b.EmitArg(bytecode.OpSetGlobal, 7)
		b.EmitArg(bytecode.OpGetLocal, 2)
		b.EmitArg(bytecode.OpGetGlobal, 7)
		b.Emit(bytecode.OpHalt)
	})
	m := runProgram(t, p)
	expectStack(t, m, bytecode.Number(5), bytecode.String("g"))

	if v := m.Locals()[2]; !v.Equal(bytecode.Number(5)) {
		t.Errorf("local 2 = %s, want 5", v)
	}
	if v := m.Globals()[7]; !v.Equal(bytecode.String("g")) {
		t.Errorf("global 7 = %s, want g", v)
	}
}

func TestSwapAndPop(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Number(1))
		b.EmitConstant(bytecode.Number(2))
		b.EmitConstant(bytecode.Number(3))
		b.Emit(bytecode.OpPop)
		b.Emit(bytecode.OpSwap)
		b.Emit(bytecode.OpHalt)
	})
	expectStack(t, runProgram(t, p), bytecode.Number(2), bytecode.Number(1))
}

// Counts local 0 up to 5 with a backward jump.
func TestLoop(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Number(0)) // 0
		b.EmitArg(bytecode.OpSetLocal, 0)  // 1
		b.EmitArg(bytecode.OpGetLocal, 0)  // 2: loop
		b.EmitConstant(bytecode.Number(5)) // 3
		b.Emit(bytecode.OpLt)              // 4
		b.EmitArg(bytecode.OpJumpIfFalse, 12)
		b.EmitArg(bytecode.OpGetLocal, 0)  // 6
		b.EmitConstant(bytecode.Number(1)) // 7
		b.Emit(bytecode.OpAdd)             // 8
		b.EmitArg(bytecode.OpSetLocal, 0)  // 9
		b.EmitArg(bytecode.OpJump, 2)      // 10
		b.Emit(bytecode.OpHalt)            // 11
		b.EmitArg(bytecode.OpGetLocal, 0)  // 12
		b.Emit(bytecode.OpHalt)            // 13
	})
	m := runProgram(t, p)
	expectStack(t, m, bytecode.Number(5))
}

func TestJumpIfTrue(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Boolean(true))
		b.EmitArg(bytecode.OpJumpIfTrue, 3)
		b.EmitConstant(bytecode.String("skipped"))
		b.EmitConstant(bytecode.String("taken"))
		b.Emit(bytecode.OpHalt)
	})
	expectStack(t, runProgram(t, p), bytecode.String("taken"))
}

func TestHaltStopsExecution(t *testing.T) {
	var out bytes.Buffer
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Number(1))
		b.Emit(bytecode.OpHalt)
		b.EmitConstant(bytecode.String("unreachable"))
		b.Emit(bytecode.OpPrint)
	})
	m := runProgram(t, p, WithOutput(&out))

	if out.Len() != 0 {
		t.Errorf("output after HALT: %q", out.String())
	}
	if len(m.Frames()) != 1 {
		t.Errorf("frames after HALT = %d, want 1", len(m.Frames()))
	}
	if _, ok := m.ReturnValue(); ok {
		t.Error("HALT should not produce a return value")
	}
	if m.Steps() != 2 {
		t.Errorf("steps = %d, want 2", m.Steps())
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func TestCallReturn(t *testing.T) {
	p := assemble(t, []int{0, 2},
		func(b *bytecode.Builder) {
			b.EmitConstant(bytecode.Number(10))
			b.EmitConstant(bytecode.Number(20))
			b.EmitArg(bytecode.OpCall, 1)
			b.Emit(bytecode.OpHalt)
		},
		func(b *bytecode.Builder) {
			b.EmitArg(bytecode.OpGetLocal, 0)
			b.EmitArg(bytecode.OpGetLocal, 1)
			b.Emit(bytecode.OpAdd)
			b.Emit(bytecode.OpReturn)
		},
	)
	m := runProgram(t, p)
	expectStack(t, m, bytecode.Number(30))
}

// The first argument pushed binds slot 0.
func TestCallArgumentOrder(t *testing.T) {
	p := assemble(t, []int{0, 2},
		func(b *bytecode.Builder) {
			b.EmitConstant(bytecode.Number(10))
			b.EmitConstant(bytecode.Number(20))
			b.EmitArg(bytecode.OpCall, 1)
			b.Emit(bytecode.OpHalt)
		},
		func(b *bytecode.Builder) {
			b.EmitArg(bytecode.OpGetLocal, 0)
			b.EmitArg(bytecode.OpGetLocal, 1)
			b.Emit(bytecode.OpSub)
			b.Emit(bytecode.OpReturn)
		},
	)
	expectStack(t, runProgram(t, p), bytecode.Number(-10))
}

func TestImplicitReturnIsNil(t *testing.T) {
	p := assemble(t, nil,
		func(b *bytecode.Builder) {
			b.EmitArg(bytecode.OpCall, 1)
			b.Emit(bytecode.OpHalt)
		},
		func(b *bytecode.Builder) {},
	)
	expectStack(t, runProgram(t, p), bytecode.Nil)
}

func TestReturnFromEntry(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Number(7))
	})
	m := runProgram(t, p)

	v, ok := m.ReturnValue()
	if !ok || !v.Equal(bytecode.Number(7)) {
		t.Errorf("ReturnValue() = %s, %v; want 7, true", v, ok)
	}
	if len(m.Frames()) != 0 {
		t.Errorf("frames = %d, want 0", len(m.Frames()))
	}
	if m.OperandStack() != nil {
		t.Errorf("OperandStack() = %v, want nil", m.OperandStack())
	}
}

func TestCalleeStackIsPrivate(t *testing.T) {
	p := assemble(t, nil,
		func(b *bytecode.Builder) {
			b.EmitConstant(bytecode.String("caller"))
			b.EmitArg(bytecode.OpCall, 1)
			b.Emit(bytecode.OpHalt)
		},
		func(b *bytecode.Builder) {
			// Underflows: the caller's value is not visible here.
			b.Emit(bytecode.OpPop)
		},
	)
	_, f := runFault(t, p)
	if !errors.Is(f, ErrStackUnderflow) {
		t.Fatalf("err = %v, want ErrStackUnderflow", f)
	}
	if len(f.Snapshot.Frames) != 2 {
		t.Fatalf("snapshot frames = %d, want 2", len(f.Snapshot.Frames))
	}
	caller := f.Snapshot.Frames[0]
	if len(caller.Stack) != 1 || !caller.Stack[0].Equal(bytecode.String("caller")) {
		t.Errorf("caller stack = %v", caller.Stack)
	}
}

func TestCallWithoutEnoughArguments(t *testing.T) {
	p := assemble(t, []int{0, 2},
		func(b *bytecode.Builder) {
			b.EmitConstant(bytecode.Number(1))
			b.EmitArg(bytecode.OpCall, 1)
		},
		func(b *bytecode.Builder) {},
	)
	_, f := runFault(t, p)
	if !errors.Is(f, ErrStackUnderflow) {
		t.Errorf("err = %v, want ErrStackUnderflow", f)
	}
}

func TestRecursion(t *testing.T) {
	// fn1(n): if n < 1 return 0 else return n + fn1(n - 1)
	p := assemble(t, []int{0, 1},
		func(b *bytecode.Builder) {
			b.EmitConstant(bytecode.Number(10))
			b.EmitArg(bytecode.OpCall, 1)
			b.Emit(bytecode.OpReturn)
		},
		func(b *bytecode.Builder) {
			b.EmitArg(bytecode.OpGetLocal, 0)  // 0
			b.EmitConstant(bytecode.Number(1)) // 1
			b.Emit(bytecode.OpLt)              // 2
			b.EmitArg(bytecode.OpJumpIfFalse, 6)
			b.EmitConstant(bytecode.Number(0)) // 4
			b.Emit(bytecode.OpReturn)          // 5
			b.EmitArg(bytecode.OpGetLocal, 0)  // 6
			b.EmitArg(bytecode.OpGetLocal, 0)  // 7
			b.EmitConstant(bytecode.Number(1)) // 8
			b.Emit(bytecode.OpSub)             // 9
			b.EmitArg(bytecode.OpCall, 1)      // 10
			b.Emit(bytecode.OpAdd)             // 11
			b.Emit(bytecode.OpReturn)          // 12
		},
	)
	m := runProgram(t, p)
	v, ok := m.ReturnValue()
	if !ok || !v.Equal(bytecode.Number(55)) {
		t.Errorf("ReturnValue() = %s, %v; want 55", v, ok)
	}
}

// ---------------------------------------------------------------------------
// Heap
// ---------------------------------------------------------------------------

func TestHeapLifecycle(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Number(10))
		b.Emit(bytecode.OpAlloc)
		b.EmitArg(bytecode.OpSetLocal, 0)

		// store [ref, 3] = 42
		b.EmitArg(bytecode.OpGetLocal, 0)
		b.EmitConstant(bytecode.Number(3))
		b.EmitConstant(bytecode.Number(42))
		b.Emit(bytecode.OpStore)

		// load [ref, 3]
		b.EmitArg(bytecode.OpGetLocal, 0)
		b.EmitConstant(bytecode.Number(3))
		b.Emit(bytecode.OpLoad)

		// unset cells read as nil
		b.EmitArg(bytecode.OpGetLocal, 0)
		b.EmitConstant(bytecode.Number(9))
		b.Emit(bytecode.OpLoad)

		b.EmitArg(bytecode.OpGetLocal, 0)
		b.Emit(bytecode.OpFree)

		// reuses the freed address
		b.EmitConstant(bytecode.Number(4))
		b.Emit(bytecode.OpAlloc)
		b.Emit(bytecode.OpHalt)
	})
	m := runProgram(t, p)
	expectStack(t, m, bytecode.Number(42), bytecode.Nil, bytecode.HeapRef(0))

	if m.Heap().Len() != 1 {
		t.Errorf("heap addresses = %d, want 1", m.Heap().Len())
	}
	block, ok := m.Heap().Block(0)
	if !ok || len(block) != 4 {
		t.Errorf("block 0 = %v, %v; want 4 nil cells", block, ok)
	}
}

func TestHeapReuseIsLIFO(t *testing.T) {
	h := NewHeap()
	for i := 0; i < 3; i++ {
		if _, err := h.Alloc(1); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.Free(0); err != nil {
		t.Fatal(err)
	}
	if err := h.Free(2); err != nil {
		t.Fatal(err)
	}
	if got := h.FreeList(); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("FreeList() = %v, want [0 2]", got)
	}

	for _, want := range []int{2, 0, 3} {
		addr, err := h.Alloc(2)
		if err != nil {
			t.Fatal(err)
		}
		if addr != want {
			t.Errorf("Alloc() = %d, want %d", addr, want)
		}
	}
}

func TestHeapZeroSizeBlockIsLive(t *testing.T) {
	h := NewHeap()
	addr, err := h.Alloc(0)
	if err != nil {
		t.Fatal(err)
	}
	if !h.IsLive(addr) {
		t.Error("zero-size block should be live")
	}
	if _, err := h.Load(addr, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Load = %v, want ErrOutOfBounds", err)
	}
	if err := h.Free(addr); err != nil {
		t.Errorf("Free = %v", err)
	}
}

func TestHeapFaults(t *testing.T) {
	alloc := func(b *bytecode.Builder, size float64) {
		b.EmitConstant(bytecode.Number(size))
		b.Emit(bytecode.OpAlloc)
		b.EmitArg(bytecode.OpSetLocal, 0)
	}
	ref := func(b *bytecode.Builder) { b.EmitArg(bytecode.OpGetLocal, 0) }

	tests := []struct {
		name string
		emit func(b *bytecode.Builder)
		want error
	}{
		{"load after free", func(b *bytecode.Builder) {
			alloc(b, 2)
			ref(b)
			b.Emit(bytecode.OpFree)
			ref(b)
			b.EmitConstant(bytecode.Number(0))
			b.Emit(bytecode.OpLoad)
		}, ErrInvalidAddress},
		{"store after free", func(b *bytecode.Builder) {
			alloc(b, 2)
			ref(b)
			b.Emit(bytecode.OpFree)
			ref(b)
			b.EmitConstant(bytecode.Number(0))
			b.EmitConstant(bytecode.Number(1))
			b.Emit(bytecode.OpStore)
		}, ErrInvalidAddress},
		{"double free", func(b *bytecode.Builder) {
			alloc(b, 2)
			ref(b)
			b.Emit(bytecode.OpFree)
			ref(b)
			b.Emit(bytecode.OpFree)
		}, ErrInvalidAddress},
		{"load out of bounds", func(b *bytecode.Builder) {
			alloc(b, 2)
			ref(b)
			b.EmitConstant(bytecode.Number(2))
			b.Emit(bytecode.OpLoad)
		}, ErrOutOfBounds},
		{"store negative index", func(b *bytecode.Builder) {
			alloc(b, 2)
			ref(b)
			b.EmitConstant(bytecode.Number(-1))
			b.EmitConstant(bytecode.Number(1))
			b.Emit(bytecode.OpStore)
		}, ErrOutOfBounds},
		{"negative size", func(b *bytecode.Builder) {
			alloc(b, -1)
		}, ErrInvalidSize},
		{"load through a number", func(b *bytecode.Builder) {
			b.EmitConstant(bytecode.Number(0))
			b.EmitConstant(bytecode.Number(0))
			b.Emit(bytecode.OpLoad)
		}, ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := assemble(t, nil, func(b *bytecode.Builder) {
				tt.emit(b)
				b.Emit(bytecode.OpHalt)
			})
			_, f := runFault(t, p)
			if !errors.Is(f, tt.want) {
				t.Errorf("err = %v, want %v", f, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Arrays and objects
// ---------------------------------------------------------------------------

func TestArrays(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Number(3))
		b.Emit(bytecode.OpNewArray)
		b.Emit(bytecode.OpDup)
		b.EmitConstant(bytecode.Number(1))
		b.EmitConstant(bytecode.String("x"))
		b.Emit(bytecode.OpSetElement)
		b.Emit(bytecode.OpDup)
		b.EmitConstant(bytecode.Number(1))
		b.Emit(bytecode.OpGetElement)
		b.Emit(bytecode.OpSwap)
		b.Emit(bytecode.OpArrayLength)
		b.Emit(bytecode.OpHalt)
	})
	expectStack(t, runProgram(t, p), bytecode.String("x"), bytecode.Number(3))
}

func TestArrayIdentity(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Number(1))
		b.Emit(bytecode.OpNewArray)
		b.Emit(bytecode.OpDup)
		b.Emit(bytecode.OpEq)
		b.EmitConstant(bytecode.Number(1))
		b.Emit(bytecode.OpNewArray)
		b.EmitConstant(bytecode.Number(1))
		b.Emit(bytecode.OpNewArray)
		b.Emit(bytecode.OpEq)
		b.Emit(bytecode.OpHalt)
	})
	expectStack(t, runProgram(t, p), bytecode.Boolean(true), bytecode.Boolean(false))
}

func TestArrayBounds(t *testing.T) {
	tests := []struct {
		name string
		emit func(b *bytecode.Builder)
	}{
		{"get", func(b *bytecode.Builder) {
			b.EmitConstant(bytecode.Number(2))
			b.Emit(bytecode.OpGetElement)
		}},
		{"set", func(b *bytecode.Builder) {
			b.EmitConstant(bytecode.Number(5))
			b.Emit(bytecode.OpPushNil)
			b.Emit(bytecode.OpSetElement)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := assemble(t, nil, func(b *bytecode.Builder) {
				b.EmitConstant(bytecode.Number(2))
				b.Emit(bytecode.OpNewArray)
				tt.emit(b)
				b.Emit(bytecode.OpHalt)
			})
			_, f := runFault(t, p)
			if !errors.Is(f, ErrOutOfBounds) {
				t.Errorf("err = %v, want ErrOutOfBounds", f)
			}
		})
	}
}

func TestObjects(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		name := b.AddConstant(bytecode.String("name"))
		missing := b.AddConstant(bytecode.String("missing"))

		b.Emit(bytecode.OpNewObject)
		b.Emit(bytecode.OpDup)
		b.EmitConstant(bytecode.String("zircon"))
		b.EmitArg(bytecode.OpSetProperty, name)
		b.Emit(bytecode.OpDup)
		b.EmitArg(bytecode.OpGetProperty, name)
		b.Emit(bytecode.OpSwap)
		b.EmitArg(bytecode.OpGetProperty, missing)
		b.Emit(bytecode.OpHalt)
	})
	expectStack(t, runProgram(t, p), bytecode.String("zircon"), bytecode.Nil)
}

func TestPropertyOnNonObject(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		name := b.AddConstant(bytecode.String("name"))
		b.EmitConstant(bytecode.Number(1))
		b.EmitArg(bytecode.OpGetProperty, name)
		b.Emit(bytecode.OpHalt)
	})
	_, f := runFault(t, p)
	if !errors.Is(f, ErrTypeMismatch) {
		t.Errorf("err = %v, want ErrTypeMismatch", f)
	}
}

// ---------------------------------------------------------------------------
// Output, limits, determinism
// ---------------------------------------------------------------------------

func TestPrint(t *testing.T) {
	var out bytes.Buffer
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.String("hi"))
		b.Emit(bytecode.OpPrint)
		b.EmitConstant(bytecode.Number(1.5))
		b.Emit(bytecode.OpPrint)
		b.Emit(bytecode.OpPushNil)
		b.Emit(bytecode.OpPrint)
		b.EmitConstant(bytecode.Boolean(true))
		b.Emit(bytecode.OpPrint)
		b.Emit(bytecode.OpHalt)
	})
	runProgram(t, p, WithOutput(&out))

	want := "hi\n1.5\nnil\ntrue\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestStepLimit(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitArg(bytecode.OpJump, 0)
	})
	m, f := runFault(t, p, WithStepLimit(100))
	if !errors.Is(f, ErrStepLimit) {
		t.Errorf("err = %v, want ErrStepLimit", f)
	}
	if m.Steps() != 100 {
		t.Errorf("steps = %d, want 100", m.Steps())
	}
}

func TestRunIsRepeatable(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Number(1))
		b.Emit(bytecode.OpAlloc)
		b.EmitConstant(bytecode.String("x"))
		b.EmitArg(bytecode.OpSetGlobal, 0)
		b.EmitConstant(bytecode.String("out"))
		b.Emit(bytecode.OpPrint)
		b.Emit(bytecode.OpHalt)
	})

	var out bytes.Buffer
	m := New(p, WithOutput(&out))
	for i := 0; i < 2; i++ {
		if err := m.Run(); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		expectStack(t, m, bytecode.HeapRef(0))
		if m.Heap().Len() != 1 {
			t.Errorf("run %d: heap addresses = %d, want 1", i, m.Heap().Len())
		}
		if len(m.Globals()) != 1 {
			t.Errorf("run %d: globals = %v", i, m.Globals())
		}
	}
	if out.String() != "out\nout\n" {
		t.Errorf("output = %q", out.String())
	}
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func TestSnapshotIsImmutable(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Number(1))
		b.Emit(bytecode.OpNewArray)
		b.EmitArg(bytecode.OpSetGlobal, 0)
		b.EmitConstant(bytecode.Number(1))
		b.Emit(bytecode.OpAlloc)
		b.Emit(bytecode.OpPop)
		b.Emit(bytecode.OpPop)
	})
	m, f := runFault(t, p)

	live, _ := m.Globals()[0].AsArray()
	live.Set(0, bytecode.Number(99))

	snap, ok := f.Snapshot.Globals[0].AsArray()
	if !ok {
		t.Fatalf("global 0 = %s, want an array", f.Snapshot.Globals[0])
	}
	if v, _ := snap.Get(0); !v.IsNil() {
		t.Errorf("snapshot array element = %s, want nil", v)
	}
	if len(f.Snapshot.Heap) != 1 || len(f.Snapshot.Heap[0]) != 1 {
		t.Errorf("snapshot heap = %v", f.Snapshot.Heap)
	}
	if f.Snapshot.Steps != 7 {
		t.Errorf("snapshot steps = %d, want 7", f.Snapshot.Steps)
	}
}

func TestFaultDump(t *testing.T) {
	p := assemble(t, nil, func(b *bytecode.Builder) {
		b.EmitConstant(bytecode.Number(2))
		b.Emit(bytecode.OpAlloc)
		b.Emit(bytecode.OpFree)
		b.EmitConstant(bytecode.String("s"))
		b.EmitArg(bytecode.OpSetLocal, 4)
		b.Emit(bytecode.OpPop)
	})
	_, f := runFault(t, p)

	dump := f.Dump()
	for _, want := range []string{
		"vm fault in fn0 at 0005 (POP)",
		"call stack:",
		"#0 fn0 ip=0006",
		`[4] "s"`,
		"@0 (free)",
		"free list: [0]",
	} {
		if !strings.Contains(dump, want) {
			t.Errorf("Dump() missing %q:\n%s", want, dump)
		}
	}
}
