package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Magic is the 4-byte header tag of a bytecode file.
var Magic = []byte("ZRCN")

// Version is the bytecode format version written and accepted.
const Version byte = 1

// Constant type tags.
const (
	tagNumber  byte = 0x01
	tagBoolean byte = 0x02
	tagString  byte = 0x03
)

// Serialize encodes the program. All multi-byte fields are little-endian.
func (p *Program) Serialize() ([]byte, error) {
	buf := make([]byte, 0, 64)

	buf = append(buf, Magic...)
	buf = append(buf, Version)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.constants)))
	for i, c := range p.constants {
		switch c.Kind() {
		case KindNumber:
			n, _ := c.AsNumber()
			buf = append(buf, tagNumber)
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(n))
		case KindBoolean:
			b, _ := c.AsBool()
			buf = append(buf, tagBoolean)
			if b {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case KindString:
			s, _ := c.AsString()
			if len(s) > math.MaxUint16 {
				return nil, fmt.Errorf("%w: constant %d: string of %d bytes", ErrUnencodable, i, len(s))
			}
			buf = append(buf, tagString)
			buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
			buf = append(buf, s...)
		default:
			return nil, fmt.Errorf("%w: constant %d is %s", ErrUnencodable, i, c.Kind())
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.functions)))
	for _, fn := range p.functions {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(fn.NumArgs))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(fn.Instructions)))
		for _, in := range fn.Instructions {
			buf = append(buf, byte(in.Op))
			if in.Op.HasOperand() {
				buf = binary.LittleEndian.AppendUint16(buf, in.Operand)
			}
		}
	}

	return buf, nil
}

// WriteTo writes the serialized program to w.
func (p *Program) WriteTo(w io.Writer) (int64, error) {
	data, err := p.Serialize()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// decoder reads the wire format and tracks its position for error messages.
type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) need(n int, what string) error {
	if d.pos+n > len(d.data) {
		return fmt.Errorf("%w reading %s at pos %d", ErrTruncated, what, d.pos)
	}
	return nil
}

func (d *decoder) u8(what string) (byte, error) {
	if err := d.need(1, what); err != nil {
		return 0, err
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) u16(what string) (uint16, error) {
	if err := d.need(2, what); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(d.data[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *decoder) u32(what string) (uint32, error) {
	if err := d.need(4, what); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) u64(what string) (uint64, error) {
	if err := d.need(8, what); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v, nil
}

// remaining bounds element counts so a corrupt count cannot trigger a huge
// allocation before the truncation is noticed.
func (d *decoder) remaining() int {
	return len(d.data) - d.pos
}

// Deserialize decodes a program produced by Serialize. The header is
// checked before anything else is read, and the result is only returned
// once every operand has been validated.
func Deserialize(data []byte) (*Program, error) {
	if len(data) < len(Magic)+1 {
		return nil, fmt.Errorf("%w: need at least %d header bytes, got %d", ErrTruncated, len(Magic)+1, len(data))
	}
	if !bytes.Equal(data[:len(Magic)], Magic) {
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrInvalidMagic, Magic, data[:len(Magic)])
	}
	if v := data[len(Magic)]; v != Version {
		return nil, fmt.Errorf("%w: %d (supported: %d)", ErrUnsupportedVersion, v, Version)
	}

	d := &decoder{data: data, pos: len(Magic) + 1}

	constCount, err := d.u32("constant count")
	if err != nil {
		return nil, err
	}
	if int64(constCount) > int64(d.remaining()) {
		return nil, fmt.Errorf("%w: %d constants declared, %d bytes left", ErrTruncated, constCount, d.remaining())
	}
	constants := make([]Value, 0, constCount)
	for i := uint32(0); i < constCount; i++ {
		tag, err := d.u8(fmt.Sprintf("constant %d tag", i))
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagNumber:
			bits, err := d.u64(fmt.Sprintf("constant %d", i))
			if err != nil {
				return nil, err
			}
			constants = append(constants, Number(math.Float64frombits(bits)))
		case tagBoolean:
			b, err := d.u8(fmt.Sprintf("constant %d", i))
			if err != nil {
				return nil, err
			}
			constants = append(constants, Boolean(b != 0))
		case tagString:
			n, err := d.u16(fmt.Sprintf("constant %d length", i))
			if err != nil {
				return nil, err
			}
			if err := d.need(int(n), fmt.Sprintf("constant %d", i)); err != nil {
				return nil, err
			}
			constants = append(constants, String(string(d.data[d.pos:d.pos+int(n)])))
			d.pos += int(n)
		default:
			return nil, fmt.Errorf("%w: 0x%02X for constant %d at pos %d", ErrUnknownConstant, tag, i, d.pos-1)
		}
	}

	funcCount, err := d.u32("function count")
	if err != nil {
		return nil, err
	}
	if int64(funcCount) > int64(d.remaining()/8) {
		return nil, fmt.Errorf("%w: %d functions declared, %d bytes left", ErrTruncated, funcCount, d.remaining())
	}
	functions := make([]*Function, 0, funcCount)
	for i := uint32(0); i < funcCount; i++ {
		numArgs, err := d.u32(fmt.Sprintf("function %d argument count", i))
		if err != nil {
			return nil, err
		}
		count, err := d.u32(fmt.Sprintf("function %d instruction count", i))
		if err != nil {
			return nil, err
		}
		if int64(count) > int64(d.remaining()) {
			return nil, fmt.Errorf("%w: function %d declares %d instructions, %d bytes left", ErrTruncated, i, count, d.remaining())
		}
		if numArgs > math.MaxInt32 {
			return nil, fmt.Errorf("%w: function %d argument count %d", ErrInvalidOperand, i, numArgs)
		}
		fn := &Function{NumArgs: int(numArgs), Instructions: make([]Instruction, 0, count)}
		for j := uint32(0); j < count; j++ {
			b, err := d.u8(fmt.Sprintf("function %d instruction %d", i, j))
			if err != nil {
				return nil, err
			}
			op := Opcode(b)
			if !op.IsValid() {
				return nil, fmt.Errorf("%w: 0x%02X in function %d at pos %d", ErrUnknownOpcode, b, i, d.pos-1)
			}
			in := Instruction{Op: op}
			if op.HasOperand() {
				if in.Operand, err = d.u16(fmt.Sprintf("function %d instruction %d operand", i, j)); err != nil {
					return nil, err
				}
			}
			fn.Instructions = append(fn.Instructions, in)
		}
		functions = append(functions, fn)
	}

	if d.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d bytes at pos %d", ErrTrailingData, d.remaining(), d.pos)
	}

	return NewProgram(constants, functions)
}

// Read decodes a program from r.
func Read(r io.Reader) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Deserialize(data)
}

// LoadFile reads and decodes the bytecode file at path.
func LoadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	p, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return p, nil
}

// WriteFile serializes the program to path.
func (p *Program) WriteFile(path string) error {
	data, err := p.Serialize()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
