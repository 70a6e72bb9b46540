package wire

import (
	"bytes"
	"unicode/utf8"
)

// MaxUTF8Width bounds the bytes one rune can take on the wire.
const MaxUTF8Width = 4

// WriteString writes a varint byte length followed by the UTF-8 bytes of s.
// maxChars counts runes, not bytes.
func WriteString(buf *bytes.Buffer, s string, maxChars int) error {
	if !utf8.ValidString(s) {
		return encodeErr(ErrInvalidUTF8, "")
	}
	if n := utf8.RuneCountInString(s); n > maxChars {
		return encodeErr(ErrTooLong, "%d chars, max %d", n, maxChars)
	}
	WriteVarInt(buf, int32(len(s)))
	buf.WriteString(s)
	return nil
}

// ReadString reads a string written by WriteString and enforces the same bound.
func ReadString(buf *bytes.Buffer, maxChars int) (string, error) {
	n, err := ReadVarInt(buf)
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", decodeErr(ErrNegativeLength, "%d", n)
	}
	if int64(n) > int64(maxChars)*MaxUTF8Width {
		return "", decodeErr(ErrTooLong, "%d bytes, max %d chars", n, maxChars)
	}
	if int(n) > buf.Len() {
		return "", decodeErr(ErrTruncated, "string declares %d bytes, %d remain", n, buf.Len())
	}
	raw := buf.Next(int(n))
	if !utf8.Valid(raw) {
		return "", decodeErr(ErrInvalidUTF8, "")
	}
	if c := utf8.RuneCount(raw); c > maxChars {
		return "", decodeErr(ErrTooLong, "%d chars, max %d", c, maxChars)
	}
	return string(raw), nil
}

// WriteBytes writes a varint length followed by b.
func WriteBytes(buf *bytes.Buffer, b []byte, maxBytes int) error {
	if len(b) > maxBytes {
		return encodeErr(ErrTooLong, "%d bytes, max %d", len(b), maxBytes)
	}
	WriteVarInt(buf, int32(len(b)))
	buf.Write(b)
	return nil
}

// ReadBytes reads a length-prefixed blob. The result never aliases buf.
func ReadBytes(buf *bytes.Buffer, maxBytes int) ([]byte, error) {
	n, err := ReadVarInt(buf)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, decodeErr(ErrNegativeLength, "%d", n)
	}
	if int(n) > maxBytes {
		return nil, decodeErr(ErrTooLong, "%d bytes, max %d", n, maxBytes)
	}
	if int(n) > buf.Len() {
		return nil, decodeErr(ErrTruncated, "blob declares %d bytes, %d remain", n, buf.Len())
	}
	out := make([]byte, n)
	copy(out, buf.Next(int(n)))
	return out, nil
}
