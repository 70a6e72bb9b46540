package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
)

func WriteBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
		return
	}
	buf.WriteByte(0)
}

func ReadBool(buf *bytes.Buffer) (bool, error) {
	b, err := buf.ReadByte()
	if err != nil {
		return false, decodeErr(ErrTruncated, "bool")
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, decodeErr(ErrInvalidBool, "0x%02x", b)
	}
}

func WriteUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func ReadUint16(buf *bytes.Buffer) (uint16, error) {
	if buf.Len() < 2 {
		return 0, decodeErr(ErrTruncated, "uint16")
	}
	return binary.BigEndian.Uint16(buf.Next(2)), nil
}

func WriteInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func ReadInt64(buf *bytes.Buffer) (int64, error) {
	if buf.Len() < 8 {
		return 0, decodeErr(ErrTruncated, "int64")
	}
	return int64(binary.BigEndian.Uint64(buf.Next(8))), nil
}

// WriteUUID writes the 16 raw bytes of id, most significant first.
func WriteUUID(buf *bytes.Buffer, id uuid.UUID) {
	buf.Write(id[:])
}

func ReadUUID(buf *bytes.Buffer) (uuid.UUID, error) {
	if buf.Len() < 16 {
		return uuid.Nil, decodeErr(ErrTruncated, "uuid")
	}
	id, err := uuid.FromBytes(buf.Next(16))
	if err != nil {
		return uuid.Nil, decodeErr(err, "")
	}
	return id, nil
}
