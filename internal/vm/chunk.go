package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Chunk is a compiled unit of bytecode: instructions, the constant
// pool they index into, and a per-byte source line table.
type Chunk struct {
	Code      []byte
	Constants []Value
	Lines     []int
}

func NewChunk() *Chunk {
	return &Chunk{}
}

// Write appends a single byte with its source line.
func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// WriteOp appends an opcode with its operands. Operands wider than one
// byte must be emitted with WriteUint16.
func (c *Chunk) WriteOp(op Opcode, line int) {
	c.Write(byte(op), line)
}

// WriteUint16 appends a big-endian 16-bit operand.
func (c *Chunk) WriteUint16(v uint16, line int) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	c.Write(buf[0], line)
	c.Write(buf[1], line)
}

// AddConstant appends v to the constant pool, deduplicating scalar
// constants, and returns its index.
func (c *Chunk) AddConstant(v Value) int {
	switch v.Type {
	case IntType, FloatType, StringType:
		for i, existing := range c.Constants {
			if existing.Type == v.Type && existing.Equals(v) {
				return i
			}
		}
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// Line returns the source line for the instruction at offset.
func (c *Chunk) Line(offset int) int {
	if offset >= 0 && offset < len(c.Lines) {
		return c.Lines[offset]
	}
	return 0
}

// Disassemble renders the chunk in a human-readable form, one
// instruction per line. Used for debugging and the disasm CLI command.
func (c *Chunk) Disassemble(name string) string {
	var out strings.Builder
	fmt.Fprintf(&out, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = c.disassembleInstruction(&out, offset)
	}
	return out.String()
}

func (c *Chunk) disassembleInstruction(out *strings.Builder, offset int) int {
	fmt.Fprintf(out, "%04d %4d ", offset, c.Line(offset))
	op := Opcode(c.Code[offset])
	switch op {
	case OpConstant, OpDefineGlobal, OpExportGlobal, OpGetGlobal, OpSetGlobal, OpGetMember:
		idx := binary.BigEndian.Uint16(c.Code[offset+1:])
		fmt.Fprintf(out, "%-16s %4d '%s'\n", op, idx, c.Constants[idx])
		return offset + 3
	case OpJump, OpJumpIfFalse:
		target := binary.BigEndian.Uint16(c.Code[offset+1:])
		fmt.Fprintf(out, "%-16s %4d\n", op, target)
		return offset + 3
	case OpImport:
		spec := binary.BigEndian.Uint16(c.Code[offset+1:])
		name := binary.BigEndian.Uint16(c.Code[offset+3:])
		fmt.Fprintf(out, "%-16s '%s' as '%s'\n", op, c.Constants[spec], c.Constants[name])
		return offset + 5
	case OpGetLocal, OpSetLocal, OpCall:
		fmt.Fprintf(out, "%-16s %4d\n", op, c.Code[offset+1])
		return offset + 2
	default:
		fmt.Fprintf(out, "%s\n", op)
		return offset + 1
	}
}
