package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x01-0x0F)
	// ========================================================================

	OpPushConst Opcode = 0x01 // Push constant from pool: OpPushConst <index:u16>
	OpPop       Opcode = 0x02 // Pop top of stack
	OpDup       Opcode = 0x03 // Duplicate top of stack
	OpSwap      Opcode = 0x04 // Swap top two stack elements
	OpPushNil   Opcode = 0x05 // Push nil

	// ========================================================================
	// Arithmetic (0x10-0x1F)
	// ========================================================================

	OpAdd Opcode = 0x10 // Pop two, push sum
	OpSub Opcode = 0x11 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x12 // Pop two, push product
	OpDiv Opcode = 0x13 // Pop two, push quotient (IEEE-754, no zero check)
	OpMod Opcode = 0x14 // Pop two, push remainder
	OpNeg Opcode = 0x15 // Negate top of stack

	// ========================================================================
	// Logical (0x20-0x2F)
	// ========================================================================

	OpAnd Opcode = 0x20 // Pop two booleans, push conjunction
	OpOr  Opcode = 0x21 // Pop two booleans, push disjunction
	OpNot Opcode = 0x22 // Pop boolean, push negation

	// ========================================================================
	// Comparison (0x30-0x3F)
	// ========================================================================

	OpEq Opcode = 0x30 // Pop two, push equality (polymorphic)
	OpGt Opcode = 0x31 // Pop two numbers, push a > b
	OpLt Opcode = 0x32 // Pop two numbers, push a < b
	OpGe Opcode = 0x33 // Pop two numbers, push a >= b
	OpLe Opcode = 0x34 // Pop two numbers, push a <= b

	// ========================================================================
	// Control flow (0x40-0x4F)
	// ========================================================================

	OpJump        Opcode = 0x40 // Jump to absolute address: OpJump <addr:u16>
	OpJumpIfTrue  Opcode = 0x41 // Pop boolean, jump if true
	OpJumpIfFalse Opcode = 0x42 // Pop boolean, jump if false

	// ========================================================================
	// I/O (0x60-0x6F)
	// ========================================================================

	OpPrint Opcode = 0x60 // Pop and print

	// ========================================================================
	// Variables (0x70-0x7F)
	// ========================================================================

	OpGetLocal  Opcode = 0x70 // Push local: OpGetLocal <slot:u16>
	OpSetLocal  Opcode = 0x71 // Pop and store to local: OpSetLocal <slot:u16>
	OpGetGlobal Opcode = 0x72 // Push global: OpGetGlobal <slot:u16>
	OpSetGlobal Opcode = 0x73 // Pop and store to global: OpSetGlobal <slot:u16>

	// ========================================================================
	// Calls (0x80-0x8F)
	// ========================================================================

	OpCall   Opcode = 0x80 // Call function: OpCall <function:u16>
	OpReturn Opcode = 0x81 // Return top of frame stack (nil if empty)

	// ========================================================================
	// Heap memory (0x90-0x9F)
	// ========================================================================

	OpAlloc Opcode = 0x90 // Pop size, push heap reference
	OpStore Opcode = 0x91 // Pop address, index, value; store into block
	OpLoad  Opcode = 0x92 // Pop address, index; push value
	OpFree  Opcode = 0x93 // Pop address, release block

	// ========================================================================
	// Arrays (0xA0-0xAF)
	// ========================================================================

	OpNewArray    Opcode = 0xA0 // Pop size, push nil-filled array
	OpGetElement  Opcode = 0xA1 // Pop array, index; push element
	OpSetElement  Opcode = 0xA2 // Pop array, index, value; mutate array
	OpArrayLength Opcode = 0xA3 // Pop array, push its length

	// ========================================================================
	// Objects (0xB0-0xBF)
	// ========================================================================

	OpNewObject   Opcode = 0xB0 // Push empty object
	OpGetProperty Opcode = 0xB1 // Pop object, push property: OpGetProperty <name:u16>
	OpSetProperty Opcode = 0xB2 // Pop object, value; set property: OpSetProperty <name:u16>

	// ========================================================================
	// Termination
	// ========================================================================

	OpHalt Opcode = 0xFF // Stop execution
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // Operands the opcode needs on the stack (-1 = checked by the opcode)
	HasOperand bool   // Whether a u16 operand follows the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpPushConst: {"PUSH_CONST", 0, true},
	OpPop:       {"POP", 1, false},
	OpDup:       {"DUP", 1, false},
	OpSwap:      {"SWAP", 2, false},
	OpPushNil:   {"PUSH_NIL", 0, false},

	// Arithmetic
	OpAdd: {"ADD", 2, false},
	OpSub: {"SUB", 2, false},
	OpMul: {"MUL", 2, false},
	OpDiv: {"DIV", 2, false},
	OpMod: {"MOD", 2, false},
	OpNeg: {"NEG", 1, false},

	// Logical
	OpAnd: {"AND", 2, false},
	OpOr:  {"OR", 2, false},
	OpNot: {"NOT", 1, false},

	// Comparison
	OpEq: {"EQ", 2, false},
	OpGt: {"GT", 2, false},
	OpLt: {"LT", 2, false},
	OpGe: {"GE", 2, false},
	OpLe: {"LE", 2, false},

	// Control flow
	OpJump:        {"JUMP", 0, true},
	OpJumpIfTrue:  {"JUMP_IF_TRUE", 1, true},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 1, true},

	// I/O
	OpPrint: {"PRINT", 1, false},

	// Variables
	OpGetLocal:  {"GET_LOCAL", 0, true},
	OpSetLocal:  {"SET_LOCAL", 1, true},
	OpGetGlobal: {"GET_GLOBAL", 0, true},
	OpSetGlobal: {"SET_GLOBAL", 1, true},

	// Calls
	OpCall:   {"CALL", -1, true},
	OpReturn: {"RETURN", -1, false},

	// Heap
	OpAlloc: {"ALLOC", 1, false},
	OpStore: {"STORE", 3, false},
	OpLoad:  {"LOAD", 2, false},
	OpFree:  {"FREE", 1, false},

	// Arrays
	OpNewArray:    {"NEW_ARRAY", 1, false},
	OpGetElement:  {"GET_ELEMENT", 2, false},
	OpSetElement:  {"SET_ELEMENT", 3, false},
	OpArrayLength: {"ARRAY_LENGTH", 1, false},

	// Objects
	OpNewObject:   {"NEW_OBJECT", 0, false},
	OpGetProperty: {"GET_PROPERTY", 1, true},
	OpSetProperty: {"SET_PROPERTY", 2, true},

	OpHalt: {"HALT", 0, false},
}

// GetOpcodeInfo returns metadata for an opcode.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// HasOperand reports whether the opcode carries a 16-bit operand.
func (op Opcode) HasOperand() bool {
	return GetOpcodeInfo(op).HasOperand
}

// EncodedLen returns the number of bytes the instruction occupies on the wire.
func (op Opcode) EncodedLen() int {
	if op.HasOperand() {
		return 3
	}
	return 1
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpIfFalse
}

// IsTerminator returns true if this opcode ends execution of a function.
func (op Opcode) IsTerminator() bool {
	return op == OpReturn || op == OpHalt
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
