package wire

import (
	"bytes"
	"errors"
	"io"
)

const MaxVarIntLen = 5

// WriteVarInt appends v using 7 bits per byte, least significant group first.
func WriteVarInt(buf *bytes.Buffer, v int32) {
	u := uint32(v)
	for {
		if u&^0x7F == 0 {
			buf.WriteByte(byte(u))
			return
		}
		buf.WriteByte(byte(u&0x7F) | 0x80)
		u >>= 7
	}
}

// ReadVarInt consumes one varint. More than five bytes is a DecodeError.
func ReadVarInt(buf *bytes.Buffer) (int32, error) {
	var out uint32
	for i := 0; i < MaxVarIntLen; i++ {
		b, err := buf.ReadByte()
		if err != nil {
			return 0, decodeErr(ErrTruncated, "varint byte %d", i)
		}
		out |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(out), nil
		}
	}
	return 0, decodeErr(ErrVarIntTooBig, "")
}

// VarIntSize returns the encoded width of v in bytes.
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u&^0x7F != 0 {
		u >>= 7
		n++
	}
	return n
}

// ReadVarIntFrom reads a varint from a stream. io.EOF before the first byte is
// returned as is so callers can tell a clean close from a cut frame.
func ReadVarIntFrom(r io.ByteReader) (int32, error) {
	var out uint32
	for i := 0; i < MaxVarIntLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i == 0 && errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, decodeErr(ErrTruncated, "varint byte %d", i)
			}
			return 0, err
		}
		out |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(out), nil
		}
	}
	return 0, decodeErr(ErrVarIntTooBig, "")
}
