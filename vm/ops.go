package vm

import (
	"fmt"
	"math"

	"github.com/kkestell/quartz/pkg/bytecode"
)

func typeError(op bytecode.Opcode, want string, got bytecode.Value) error {
	return fmt.Errorf("%w: %s expects %s, got %s", ErrTypeMismatch, op, want, got.Kind())
}

// arith applies a numeric binary opcode. Division by zero follows IEEE-754.
func arith(op bytecode.Opcode, a, b bytecode.Value) (bytecode.Value, error) {
	x, ok := a.AsNumber()
	if !ok {
		return bytecode.Nil, typeError(op, "numbers", a)
	}
	y, ok := b.AsNumber()
	if !ok {
		return bytecode.Nil, typeError(op, "numbers", b)
	}

	switch op {
	case bytecode.OpAdd:
		return bytecode.Number(x + y), nil
	case bytecode.OpSub:
		return bytecode.Number(x - y), nil
	case bytecode.OpMul:
		return bytecode.Number(x * y), nil
	case bytecode.OpDiv:
		return bytecode.Number(x / y), nil
	case bytecode.OpMod:
		return bytecode.Number(math.Mod(x, y)), nil
	case bytecode.OpGt:
		return bytecode.Boolean(x > y), nil
	case bytecode.OpLt:
		return bytecode.Boolean(x < y), nil
	case bytecode.OpGe:
		return bytecode.Boolean(x >= y), nil
	case bytecode.OpLe:
		return bytecode.Boolean(x <= y), nil
	}
	return bytecode.Nil, fmt.Errorf("%w: %s is not arithmetic", ErrInternal, op)
}

// logic applies AND or OR. Both operands are already evaluated.
func logic(op bytecode.Opcode, a, b bytecode.Value) (bytecode.Value, error) {
	x, ok := a.AsBool()
	if !ok {
		return bytecode.Nil, typeError(op, "booleans", a)
	}
	y, ok := b.AsBool()
	if !ok {
		return bytecode.Nil, typeError(op, "booleans", b)
	}
	if op == bytecode.OpAnd {
		return bytecode.Boolean(x && y), nil
	}
	return bytecode.Boolean(x || y), nil
}

// toInt truncates a numeric operand used as a size or index.
func toInt(op bytecode.Opcode, v bytecode.Value) (int, error) {
	n, ok := v.AsNumber()
	if !ok {
		return 0, typeError(op, "a number", v)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%w: %s with %s", ErrOutOfBounds, op, v)
	}
	n = math.Trunc(n)
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s with %s", ErrOutOfBounds, op, v)
	}
	return int(n), nil
}

func toSize(op bytecode.Opcode, v bytecode.Value) (int, error) {
	n, err := toInt(op, v)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > MaxBlockSize {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	return n, nil
}

func toAddress(op bytecode.Opcode, v bytecode.Value) (int, error) {
	addr, ok := v.AsHeapRef()
	if !ok {
		return 0, typeError(op, "a heap reference", v)
	}
	return addr, nil
}

func propertyName(p *bytecode.Program, op bytecode.Opcode, index uint16) (string, error) {
	c, err := p.Constant(int(index))
	if err != nil {
		return "", fmt.Errorf("%w: %d", ErrInvalidConstant, index)
	}
	name, ok := c.AsString()
	if !ok {
		return "", typeError(op, "a string property name", c)
	}
	return name, nil
}

// memory executes heap and structured-value opcodes. It reports false for
// any opcode outside those groups. Operand counts are checked by run.
func (vm *VM) memory(frame *CallFrame, in bytecode.Instruction) (bool, error) {
	switch in.Op {
	// ============ Heap ============
	case bytecode.OpAlloc:
		v, err := frame.pop()
		if err != nil {
			return true, err
		}
		size, err := toSize(in.Op, v)
		if err != nil {
			return true, err
		}
		addr, err := vm.heap.Alloc(size)
		if err != nil {
			return true, err
		}
		frame.push(bytecode.HeapRef(addr))

	case bytecode.OpStore:
		value, _ := frame.pop()
		i, _ := frame.pop()
		ref, _ := frame.pop()
		addr, err := toAddress(in.Op, ref)
		if err != nil {
			return true, err
		}
		idx, err := toInt(in.Op, i)
		if err != nil {
			return true, err
		}
		return true, vm.heap.Store(addr, idx, value)

	case bytecode.OpLoad:
		ref, i, err := frame.pop2()
		if err != nil {
			return true, err
		}
		addr, err := toAddress(in.Op, ref)
		if err != nil {
			return true, err
		}
		idx, err := toInt(in.Op, i)
		if err != nil {
			return true, err
		}
		v, err := vm.heap.Load(addr, idx)
		if err != nil {
			return true, err
		}
		frame.push(v)

	case bytecode.OpFree:
		ref, err := frame.pop()
		if err != nil {
			return true, err
		}
		addr, err := toAddress(in.Op, ref)
		if err != nil {
			return true, err
		}
		return true, vm.heap.Free(addr)

	// ============ Arrays ============
	case bytecode.OpNewArray:
		v, err := frame.pop()
		if err != nil {
			return true, err
		}
		size, err := toSize(in.Op, v)
		if err != nil {
			return true, err
		}
		frame.push(bytecode.ArrayValue(bytecode.NewArray(size)))

	case bytecode.OpGetElement:
		av, i, err := frame.pop2()
		if err != nil {
			return true, err
		}
		arr, ok := av.AsArray()
		if !ok {
			return true, typeError(in.Op, "an array", av)
		}
		idx, err := toInt(in.Op, i)
		if err != nil {
			return true, err
		}
		v, ok := arr.Get(idx)
		if !ok {
			return true, fmt.Errorf("%w: index %d of array (length %d)", ErrOutOfBounds, idx, arr.Len())
		}
		frame.push(v)

	case bytecode.OpSetElement:
		value, _ := frame.pop()
		i, _ := frame.pop()
		av, _ := frame.pop()
		arr, ok := av.AsArray()
		if !ok {
			return true, typeError(in.Op, "an array", av)
		}
		idx, err := toInt(in.Op, i)
		if err != nil {
			return true, err
		}
		if !arr.Set(idx, value) {
			return true, fmt.Errorf("%w: index %d of array (length %d)", ErrOutOfBounds, idx, arr.Len())
		}

	case bytecode.OpArrayLength:
		av, err := frame.pop()
		if err != nil {
			return true, err
		}
		arr, ok := av.AsArray()
		if !ok {
			return true, typeError(in.Op, "an array", av)
		}
		frame.push(bytecode.Number(float64(arr.Len())))

	// ============ Objects ============
	case bytecode.OpNewObject:
		frame.push(bytecode.ObjectValue(bytecode.NewObject()))

	case bytecode.OpGetProperty:
		name, err := propertyName(vm.program, in.Op, in.Operand)
		if err != nil {
			return true, err
		}
		ov, err := frame.pop()
		if err != nil {
			return true, err
		}
		obj, ok := ov.AsObject()
		if !ok {
			return true, typeError(in.Op, "an object", ov)
		}
		frame.push(obj.Get(name))

	case bytecode.OpSetProperty:
		name, err := propertyName(vm.program, in.Op, in.Operand)
		if err != nil {
			return true, err
		}
		ov, value, err := frame.pop2()
		if err != nil {
			return true, err
		}
		obj, ok := ov.AsObject()
		if !ok {
			return true, typeError(in.Op, "an object", ov)
		}
		obj.Set(name, value)

	default:
		return false, nil
	}

	return true, nil
}
