package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the whole program.
func (p *Program) Disassemble() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; Zircon Bytecode v%d\n", Version))

	if len(p.constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range p.constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, formatConstant(c)))
		}
	}

	for i, fn := range p.functions {
		sb.WriteString("\n")
		sb.WriteString(p.DisassembleFunction(i, fn))
	}

	return sb.String()
}

// DisassembleFunction returns the listing of one function. Operands that
// index the constant pool or the function table are annotated.
func (p *Program) DisassembleFunction(index int, fn *Function) string {
	var sb strings.Builder

	label := fmt.Sprintf("fn%d", index)
	if index == 0 {
		label += " (entry)"
	}
	sb.WriteString(fmt.Sprintf("; === %s args=%d ===\n", label, fn.NumArgs))

	for ip, in := range fn.Instructions {
		sb.WriteString(fmt.Sprintf("%04X  %-14s", ip, in.Op))
		if in.Op.HasOperand() {
			sb.WriteString(fmt.Sprintf(" %5d", in.Operand))
			switch in.Op {
			case OpPushConst, OpGetProperty, OpSetProperty:
				if int(in.Operand) < len(p.constants) {
					sb.WriteString("  ; " + formatConstant(p.constants[in.Operand]))
				}
			case OpCall:
				if int(in.Operand) < len(p.functions) {
					sb.WriteString(fmt.Sprintf("  ; fn%d/%d", in.Operand, p.functions[in.Operand].NumArgs))
				}
			case OpJump, OpJumpIfTrue, OpJumpIfFalse:
				sb.WriteString(fmt.Sprintf("  ; -> %04X", in.Operand))
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func formatConstant(v Value) string {
	if s, ok := v.AsString(); ok {
		display := s
		if len(display) > 40 {
			display = display[:37] + "..."
		}
		return fmt.Sprintf("%q", display)
	}
	return v.String()
}
