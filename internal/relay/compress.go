package relay

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/mcrelay/internal/protocol/frame"
	"github.com/danmuck/mcrelay/internal/protocol/wire"
	"github.com/klauspost/compress/zlib"
)

// MaxUncompressedBytes caps what a compressed frame may inflate to.
const MaxUncompressedBytes = 8 << 20

var ErrBadCompression = errors.New("relay: bad compressed frame")

// unpack parses a frame body read at the given compression threshold. With
// compression on, the body starts with the inflated length, 0 meaning the rest
// is stored as is.
func unpack(body []byte, threshold int32) (frame.Frame, error) {
	if threshold < 0 {
		return frame.Parse(body)
	}
	buf := bytes.NewBuffer(body)
	dataLen, err := wire.ReadVarInt(buf)
	if err != nil {
		return frame.Frame{}, wire.WithField(err, "data length")
	}
	if dataLen == 0 {
		return frame.Parse(buf.Bytes())
	}
	if dataLen < 0 || dataLen > MaxUncompressedBytes {
		return frame.Frame{}, &wire.DecodeError{Field: "data length", Err: fmt.Errorf("%w: inflated length %d", ErrBadCompression, dataLen)}
	}
	zr, err := zlib.NewReader(buf)
	if err != nil {
		return frame.Frame{}, &wire.DecodeError{Field: "compressed body", Err: fmt.Errorf("%w: %v", ErrBadCompression, err)}
	}
	defer zr.Close()
	out := make([]byte, dataLen)
	if _, err := io.ReadFull(zr, out); err != nil {
		return frame.Frame{}, &wire.DecodeError{Field: "compressed body", Err: fmt.Errorf("%w: %v", ErrBadCompression, err)}
	}
	return frame.Parse(out)
}

// pack is the inverse of unpack. Bodies below threshold are stored as is.
func pack(f frame.Frame, threshold int32) ([]byte, error) {
	var inner bytes.Buffer
	wire.WriteVarInt(&inner, f.ID)
	inner.Write(f.Payload)
	if threshold < 0 {
		return inner.Bytes(), nil
	}

	var out bytes.Buffer
	if inner.Len() < int(threshold) {
		wire.WriteVarInt(&out, 0)
		out.Write(inner.Bytes())
		return out.Bytes(), nil
	}
	wire.WriteVarInt(&out, int32(inner.Len()))
	zw := zlib.NewWriter(&out)
	if _, err := zw.Write(inner.Bytes()); err != nil {
		return nil, &wire.EncodeError{Field: "compressed body", Err: err}
	}
	if err := zw.Close(); err != nil {
		return nil, &wire.EncodeError{Field: "compressed body", Err: err}
	}
	return out.Bytes(), nil
}
