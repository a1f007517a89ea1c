package vm

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kkestell/quartz/pkg/bytecode"
)

// Sentinel errors for execution faults. A *Fault returned by Run wraps
// exactly one of these.
var (
	ErrStackUnderflow  = errors.New("operand stack underflow")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrUndefinedLocal  = errors.New("undefined local")
	ErrUndefinedGlobal = errors.New("undefined global")
	ErrInvalidFunction = errors.New("invalid function index")
	ErrInvalidConstant = errors.New("invalid constant index")
	ErrInvalidJump     = errors.New("invalid jump target")
	ErrInvalidAddress  = errors.New("invalid heap address")
	ErrInvalidSize     = errors.New("invalid size")
	ErrOutOfBounds     = errors.New("index out of bounds")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrStepLimit       = errors.New("step limit exceeded")
	ErrOutput          = errors.New("output failed")
	ErrInternal        = errors.New("internal error")
)

// FrameState is a copy of one call frame.
type FrameState struct {
	Function int
	IP       int
	Stack    []bytecode.Value
	Locals   map[uint16]bytecode.Value
}

// Snapshot is an immutable copy of the machine state at the moment of a
// fault. Arrays and objects are deep-copied, so later mutation of the live
// machine does not show through.
type Snapshot struct {
	Function int             // function executing the failing instruction
	IP       int             // address of the failing instruction
	Op       bytecode.Opcode // failing opcode
	Steps    uint64
	Frames   []FrameState // bottom first
	Globals  map[uint16]bytecode.Value
	Heap     [][]bytecode.Value // nil entries are freed addresses
	FreeList []int
}

// Fault is the single error Run reports for any failure during execution.
type Fault struct {
	Err      error
	Snapshot *Snapshot
}

func (f *Fault) Error() string {
	s := f.Snapshot
	if s == nil {
		return "vm fault: " + f.Err.Error()
	}
	return fmt.Sprintf("vm fault in fn%d at %04X (%s): %v", s.Function, s.IP, s.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Dump renders the snapshot for postmortem inspection.
func (f *Fault) Dump() string {
	var sb strings.Builder
	sb.WriteString(f.Error())
	sb.WriteString("\n")
	if f.Snapshot != nil {
		sb.WriteString(f.Snapshot.Dump())
	}
	return sb.String()
}

// Dump renders the call stack (innermost first), globals and heap.
func (s *Snapshot) Dump() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("steps: %d\n", s.Steps))

	sb.WriteString("call stack:\n")
	if len(s.Frames) == 0 {
		sb.WriteString("  (empty)\n")
	}
	for i := len(s.Frames) - 1; i >= 0; i-- {
		fr := s.Frames[i]
		sb.WriteString(fmt.Sprintf("  #%d fn%d ip=%04X\n", len(s.Frames)-1-i, fr.Function, fr.IP))
		if len(fr.Stack) == 0 {
			sb.WriteString("    stack: (empty)\n")
		} else {
			parts := make([]string, len(fr.Stack))
			for j, v := range fr.Stack {
				parts[j] = formatValue(v)
			}
			sb.WriteString("    stack: [" + strings.Join(parts, ", ") + "]\n")
		}
		if len(fr.Locals) == 0 {
			sb.WriteString("    locals: (none)\n")
		} else {
			sb.WriteString("    locals:\n")
			for _, slot := range sortedSlots(fr.Locals) {
				sb.WriteString(fmt.Sprintf("      [%d] %s\n", slot, formatValue(fr.Locals[slot])))
			}
		}
	}

	sb.WriteString("globals:")
	if len(s.Globals) == 0 {
		sb.WriteString(" (none)\n")
	} else {
		sb.WriteString("\n")
		for _, slot := range sortedSlots(s.Globals) {
			sb.WriteString(fmt.Sprintf("  [%d] %s\n", slot, formatValue(s.Globals[slot])))
		}
	}

	sb.WriteString("heap:")
	if len(s.Heap) == 0 {
		sb.WriteString(" (empty)\n")
	} else {
		sb.WriteString("\n")
		for addr, block := range s.Heap {
			if block == nil {
				sb.WriteString(fmt.Sprintf("  @%d (free)\n", addr))
				continue
			}
			parts := make([]string, len(block))
			for j, v := range block {
				parts[j] = formatValue(v)
			}
			sb.WriteString(fmt.Sprintf("  @%d [%s]\n", addr, strings.Join(parts, ", ")))
		}
	}
	if len(s.FreeList) > 0 {
		sb.WriteString(fmt.Sprintf("free list: %v\n", s.FreeList))
	}

	return sb.String()
}

func formatValue(v bytecode.Value) string {
	if s, ok := v.AsString(); ok {
		return fmt.Sprintf("%q", s)
	}
	return v.String()
}

func sortedSlots(m map[uint16]bytecode.Value) []uint16 {
	slots := make([]uint16, 0, len(m))
	for k := range m {
		slots = append(slots, k)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

// ---------------------------------------------------------------------------
// Deep copy
// ---------------------------------------------------------------------------

// cloner copies values, preserving sharing and cycles between containers.
type cloner struct {
	arrays  map[*bytecode.Array]*bytecode.Array
	objects map[*bytecode.Object]*bytecode.Object
}

func newCloner() *cloner {
	return &cloner{
		arrays:  make(map[*bytecode.Array]*bytecode.Array),
		objects: make(map[*bytecode.Object]*bytecode.Object),
	}
}

func (c *cloner) value(v bytecode.Value) bytecode.Value {
	if a, ok := v.AsArray(); ok {
		if cp, seen := c.arrays[a]; seen {
			return bytecode.ArrayValue(cp)
		}
		cp := bytecode.NewArray(a.Len())
		c.arrays[a] = cp
		for i, e := range a.Elements() {
			cp.Set(i, c.value(e))
		}
		return bytecode.ArrayValue(cp)
	}
	if o, ok := v.AsObject(); ok {
		if cp, seen := c.objects[o]; seen {
			return bytecode.ObjectValue(cp)
		}
		cp := bytecode.NewObject()
		c.objects[o] = cp
		for _, k := range o.Keys() {
			cp.Set(k, c.value(o.Get(k)))
		}
		return bytecode.ObjectValue(cp)
	}
	return v
}

func (c *cloner) values(vs []bytecode.Value) []bytecode.Value {
	out := make([]bytecode.Value, len(vs))
	for i, v := range vs {
		out[i] = c.value(v)
	}
	return out
}

func (c *cloner) slots(m map[uint16]bytecode.Value) map[uint16]bytecode.Value {
	out := make(map[uint16]bytecode.Value, len(m))
	for k, v := range m {
		out[k] = c.value(v)
	}
	return out
}

// snapshot copies the current machine state.
func (vm *VM) snapshot() *Snapshot {
	c := newCloner()
	s := &Snapshot{
		Function: vm.curFn,
		IP:       vm.curIP,
		Op:       vm.curOp,
		Steps:    vm.steps,
		Globals:  c.slots(vm.globals),
		FreeList: vm.heap.FreeList(),
	}
	for _, fr := range vm.frames {
		s.Frames = append(s.Frames, FrameState{
			Function: fr.Function,
			IP:       fr.IP,
			Stack:    c.values(fr.stack),
			Locals:   c.slots(fr.locals),
		})
	}
	for _, block := range vm.heap.blocks {
		if block == nil {
			s.Heap = append(s.Heap, nil)
			continue
		}
		s.Heap = append(s.Heap, c.values(block))
	}
	return s
}
