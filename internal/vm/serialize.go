package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Bytecode file layout:
//
//	magic "EMBC" | version u16 | chunk
//
// where chunk is:
//
//	const count u32 | constants | code len u32 | code | line count u32 | lines u32...
//
// Constants are tag-prefixed. Function constants carry name, arity,
// upvalue count and a nested chunk.

var bytecodeMagic = [4]byte{'E', 'M', 'B', 'C'}

const BytecodeVersion uint16 = 1

const (
	constNil      byte = 0
	constBool     byte = 1
	constInt      byte = 2
	constFloat    byte = 3
	constString   byte = 4
	constFunction byte = 5
)

var (
	// ErrBadMagic means the input is not an Ember bytecode stream.
	ErrBadMagic = errors.New("bad bytecode magic")
	// ErrTruncated means the stream ended mid-structure.
	ErrTruncated = errors.New("truncated bytecode")
)

// Serialize encodes a chunk into the bytecode wire format.
func Serialize(c *Chunk) ([]byte, error) {
	var out []byte
	out = append(out, bytecodeMagic[:]...)
	out = binary.BigEndian.AppendUint16(out, BytecodeVersion)
	return serializeChunk(out, c)
}

func serializeChunk(out []byte, c *Chunk) ([]byte, error) {
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.Constants)))
	for _, v := range c.Constants {
		var err error
		out, err = serializeConstant(out, v)
		if err != nil {
			return nil, err
		}
	}
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.Code)))
	out = append(out, c.Code...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(c.Lines)))
	for _, l := range c.Lines {
		out = binary.BigEndian.AppendUint32(out, uint32(l))
	}
	return out, nil
}

func serializeConstant(out []byte, v Value) ([]byte, error) {
	switch v.Type {
	case NilType:
		return append(out, constNil), nil
	case BoolType:
		out = append(out, constBool)
		if v.Bool {
			return append(out, 1), nil
		}
		return append(out, 0), nil
	case IntType:
		out = append(out, constInt)
		return binary.BigEndian.AppendUint64(out, uint64(v.Int)), nil
	case FloatType:
		out = append(out, constFloat)
		return binary.BigEndian.AppendUint64(out, math.Float64bits(v.Float)), nil
	case StringType:
		out = append(out, constString)
		out = binary.BigEndian.AppendUint32(out, uint32(len(v.Str)))
		return append(out, v.Str...), nil
	case FunctionType:
		fn := v.Function()
		out = append(out, constFunction)
		out = binary.BigEndian.AppendUint32(out, uint32(len(fn.Name)))
		out = append(out, fn.Name...)
		out = binary.BigEndian.AppendUint16(out, uint16(fn.Arity))
		out = binary.BigEndian.AppendUint16(out, uint16(fn.UpvalueCount))
		return serializeChunk(out, fn.Chunk)
	default:
		return nil, fmt.Errorf("cannot serialize %s constant", v.Type)
	}
}

// Deserialize decodes a bytecode stream produced by Serialize. Every
// read is bounds checked; malformed input yields an error, never a
// panic.
func Deserialize(data []byte) (*Chunk, error) {
	r := &byteReader{data: data}
	magic, err := r.bytes(4)
	if err != nil {
		return nil, err
	}
	if [4]byte(magic) != bytecodeMagic {
		return nil, ErrBadMagic
	}
	version, err := r.uint16()
	if err != nil {
		return nil, err
	}
	if version != BytecodeVersion {
		return nil, fmt.Errorf("unsupported bytecode version %d", version)
	}
	c, err := deserializeChunk(r)
	if err != nil {
		return nil, err
	}
	if r.pos != len(r.data) {
		return nil, fmt.Errorf("%d trailing bytes after bytecode", len(r.data)-r.pos)
	}
	return c, nil
}

func deserializeChunk(r *byteReader) (*Chunk, error) {
	c := NewChunk()

	constCount, err := r.uint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < constCount; i++ {
		v, err := deserializeConstant(r)
		if err != nil {
			return nil, err
		}
		c.Constants = append(c.Constants, v)
	}

	codeLen, err := r.uint32()
	if err != nil {
		return nil, err
	}
	code, err := r.bytes(int(codeLen))
	if err != nil {
		return nil, err
	}
	c.Code = append(c.Code, code...)

	lineCount, err := r.uint32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < lineCount; i++ {
		l, err := r.uint32()
		if err != nil {
			return nil, err
		}
		c.Lines = append(c.Lines, int(l))
	}
	return c, nil
}

func deserializeConstant(r *byteReader) (Value, error) {
	tag, err := r.byte()
	if err != nil {
		return Nil(), err
	}
	switch tag {
	case constNil:
		return Nil(), nil
	case constBool:
		b, err := r.byte()
		if err != nil {
			return Nil(), err
		}
		return NewBool(b != 0), nil
	case constInt:
		u, err := r.uint64()
		if err != nil {
			return Nil(), err
		}
		return NewInt(int64(u)), nil
	case constFloat:
		u, err := r.uint64()
		if err != nil {
			return Nil(), err
		}
		return NewFloat(math.Float64frombits(u)), nil
	case constString:
		s, err := r.lengthPrefixed()
		if err != nil {
			return Nil(), err
		}
		return NewString(s), nil
	case constFunction:
		name, err := r.lengthPrefixed()
		if err != nil {
			return Nil(), err
		}
		arity, err := r.uint16()
		if err != nil {
			return Nil(), err
		}
		upvalues, err := r.uint16()
		if err != nil {
			return Nil(), err
		}
		chunk, err := deserializeChunk(r)
		if err != nil {
			return Nil(), err
		}
		return NewFunction(&CompiledFunction{
			Name:         name,
			Arity:        int(arity),
			UpvalueCount: int(upvalues),
			Chunk:        chunk,
		}), nil
	default:
		return Nil(), fmt.Errorf("unknown constant tag %d", tag)
	}
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, ErrTruncated
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) byte() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *byteReader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *byteReader) uint64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *byteReader) lengthPrefixed() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
