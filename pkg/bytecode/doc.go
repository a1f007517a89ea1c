// Package bytecode defines the Zircon value model, the instruction set and
// the binary container that carries compiled programs from the Quartz
// compiler to the virtual machine.
//
// # Architecture Overview
//
//   - Value: a closed tagged union (nil, number, boolean, string, heap
//     reference, array, object). Arrays and objects are shared containers
//     mutated in place; everything else is immutable.
//
//   - Opcodes: one byte each, grouped by range. Operand-bearing opcodes
//     carry a single 16-bit operand: a constant index, a local or global
//     slot, an absolute jump address or a function index.
//
//   - Program: a deduplicated constant pool plus a function table.
//     Function 0 is always the entry point. Programs are built with a
//     Builder (or NewProgram) and validated before use.
//
// # Wire Format
//
// All multi-byte fields are little-endian:
//
//	"ZRCN" version:u8
//	constCount:u32 { tag:u8 payload }*
//	funcCount:u32  { numArgs:u32 instrCount:u32 { op:u8 [operand:u16] }* }*
//
// Constant tags are 0x01 number (f64), 0x02 boolean (u8) and 0x03 string
// (u16 length followed by UTF-8 bytes). Loading is all-or-nothing: any
// malformed header, unknown opcode or tag, truncation, trailing data or
// out-of-range operand rejects the whole file.
package bytecode
