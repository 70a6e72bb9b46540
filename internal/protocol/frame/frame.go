package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/mcrelay/internal/protocol/wire"
)

// DefaultMaxFrameBytes is the largest body a three byte varint can announce.
const DefaultMaxFrameBytes = 2097151

var (
	ErrFrameTooLarge = errors.New("frame: frame too large")
	ErrEmptyFrame    = errors.New("frame: empty frame")
)

// Frame is one uncompressed packet: id and body.
type Frame struct {
	ID      int32
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: DefaultMaxFrameBytes}
}

// Reader is what ReadFrame needs from a stream; *bufio.Reader satisfies it.
type Reader interface {
	io.Reader
	io.ByteReader
}

// ReadRaw reads one length-prefixed body without interpreting it. Bodies read
// after compression is enabled are forwarded this way.
func ReadRaw(r Reader, limits Limits) ([]byte, error) {
	n, err := wire.ReadVarIntFrom(r)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, &wire.DecodeError{Field: "frame length", Err: wire.ErrNegativeLength}
	}
	if n == 0 {
		return nil, &wire.DecodeError{Field: "frame length", Err: ErrEmptyFrame}
	}
	if int(n) > limits.MaxFrameBytes {
		return nil, &wire.DecodeError{Field: "frame length", Err: fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, limits.MaxFrameBytes)}
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &wire.DecodeError{Field: "frame body", Err: wire.ErrTruncated}
		}
		return nil, err
	}
	return body, nil
}

// Parse splits an uncompressed body into id and payload.
func Parse(body []byte) (Frame, error) {
	buf := bytes.NewBuffer(body)
	id, err := wire.ReadVarInt(buf)
	if err != nil {
		return Frame{}, wire.WithField(err, "packet id")
	}
	return Frame{ID: id, Payload: buf.Bytes()}, nil
}

func ReadFrame(r Reader, limits Limits) (Frame, error) {
	body, err := ReadRaw(r, limits)
	if err != nil {
		return Frame{}, err
	}
	return Parse(body)
}

// Encode returns the full wire bytes of f, length prefix included.
func Encode(f Frame, limits Limits) ([]byte, error) {
	bodyLen := wire.VarIntSize(f.ID) + len(f.Payload)
	if bodyLen > limits.MaxFrameBytes {
		return nil, &wire.EncodeError{Field: "frame length", Err: fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, bodyLen, limits.MaxFrameBytes)}
	}
	var buf bytes.Buffer
	buf.Grow(wire.VarIntSize(int32(bodyLen)) + bodyLen)
	wire.WriteVarInt(&buf, int32(bodyLen))
	wire.WriteVarInt(&buf, f.ID)
	buf.Write(f.Payload)
	return buf.Bytes(), nil
}

// WriteFrame writes f with a single Write call so a frame is never split
// between concurrent writers sharing w under a lock.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	b, err := Encode(f, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// WriteRaw writes a body previously returned by ReadRaw.
func WriteRaw(w io.Writer, body []byte, limits Limits) error {
	if len(body) > limits.MaxFrameBytes {
		return &wire.EncodeError{Field: "frame length", Err: fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(body), limits.MaxFrameBytes)}
	}
	var buf bytes.Buffer
	buf.Grow(wire.MaxVarIntLen + len(body))
	wire.WriteVarInt(&buf, int32(len(body)))
	buf.Write(body)
	_, err := w.Write(buf.Bytes())
	return err
}
