package packet

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/danmuck/mcrelay/internal/protocol/wire"
)

var ErrTrailingBytes = errors.New("trailing bytes")

// Packet is one typed protocol message. Implementations delegate to a Layout.
type Packet interface {
	Encode(buf *bytes.Buffer, dir Direction, v Version) error
	Decode(buf *bytes.Buffer, dir Direction, v Version) error
}

// EncodePayload returns the body of p at (dir, v). Nothing is returned on error.
func EncodePayload(p Packet, dir Direction, v Version) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Encode(&buf, dir, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePayload fills p from a complete packet body. Bytes left over after the
// layout is consumed mean the peers disagree on the layout, so they are a
// DecodeError too.
func DecodePayload(p Packet, payload []byte, dir Direction, v Version) error {
	buf := bytes.NewBuffer(payload)
	if err := p.Decode(buf, dir, v); err != nil {
		return err
	}
	if buf.Len() > 0 {
		return &wire.DecodeError{Err: fmt.Errorf("%w: %d", ErrTrailingBytes, buf.Len())}
	}
	return nil
}
