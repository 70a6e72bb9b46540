package packet

import (
	"bytes"
	"fmt"

	"github.com/danmuck/mcrelay/internal/protocol/key"
	"github.com/danmuck/mcrelay/internal/protocol/wire"
	"github.com/google/uuid"
)

// Rule declares one field of a packet: which versions and directions carry it
// and how it is written and read.
type Rule[P any] struct {
	Name     string
	Versions Range
	// Directions restricts the rule; empty means both.
	Directions []Direction
	Encode     func(p P, buf *bytes.Buffer) error
	Decode     func(p P, buf *bytes.Buffer) error
}

func (r Rule[P]) applies(dir Direction, v Version) bool {
	if !r.Versions.Contains(v) {
		return false
	}
	if len(r.Directions) == 0 {
		return true
	}
	for _, d := range r.Directions {
		if d == dir {
			return true
		}
	}
	return false
}

// Layout is the ordered field table of one packet type. Encode and Decode both
// walk it, so a field's presence is declared exactly once.
type Layout[P any] []Rule[P]

// Encode writes every applicable field into a scratch buffer and appends it to
// buf only if all of them succeeded.
func (l Layout[P]) Encode(p P, buf *bytes.Buffer, dir Direction, v Version) error {
	var scratch bytes.Buffer
	for _, r := range l {
		if !r.applies(dir, v) {
			continue
		}
		if err := r.Encode(p, &scratch); err != nil {
			return wire.WithField(err, r.Name)
		}
	}
	buf.Write(scratch.Bytes())
	return nil
}

func (l Layout[P]) Decode(p P, buf *bytes.Buffer, dir Direction, v Version) error {
	for _, r := range l {
		if !r.applies(dir, v) {
			continue
		}
		if err := r.Decode(p, buf); err != nil {
			return wire.WithField(err, r.Name)
		}
	}
	return nil
}

// Fields lists the field names present at (dir, v), in wire order.
func (l Layout[P]) Fields(dir Direction, v Version) []string {
	out := make([]string, 0, len(l))
	for _, r := range l {
		if r.applies(dir, v) {
			out = append(out, r.Name)
		}
	}
	return out
}

func StringRule[P any](name string, versions Range, maxChars int, at func(P) *string) Rule[P] {
	return Rule[P]{
		Name:     name,
		Versions: versions,
		Encode: func(p P, buf *bytes.Buffer) error {
			return wire.WriteString(buf, *at(p), maxChars)
		},
		Decode: func(p P, buf *bytes.Buffer) error {
			s, err := wire.ReadString(buf, maxChars)
			if err != nil {
				return err
			}
			*at(p) = s
			return nil
		},
	}
}

func VarIntRule[P any](name string, versions Range, at func(P) *int32) Rule[P] {
	return Rule[P]{
		Name:     name,
		Versions: versions,
		Encode: func(p P, buf *bytes.Buffer) error {
			wire.WriteVarInt(buf, *at(p))
			return nil
		},
		Decode: func(p P, buf *bytes.Buffer) error {
			v, err := wire.ReadVarInt(buf)
			if err != nil {
				return err
			}
			*at(p) = v
			return nil
		},
	}
}

func Uint16Rule[P any](name string, versions Range, at func(P) *uint16) Rule[P] {
	return Rule[P]{
		Name:     name,
		Versions: versions,
		Encode: func(p P, buf *bytes.Buffer) error {
			wire.WriteUint16(buf, *at(p))
			return nil
		},
		Decode: func(p P, buf *bytes.Buffer) error {
			v, err := wire.ReadUint16(buf)
			if err != nil {
				return err
			}
			*at(p) = v
			return nil
		},
	}
}

func BytesRule[P any](name string, versions Range, maxBytes int, at func(P) *[]byte) Rule[P] {
	return Rule[P]{
		Name:     name,
		Versions: versions,
		Encode: func(p P, buf *bytes.Buffer) error {
			return wire.WriteBytes(buf, *at(p), maxBytes)
		},
		Decode: func(p P, buf *bytes.Buffer) error {
			b, err := wire.ReadBytes(buf, maxBytes)
			if err != nil {
				return err
			}
			*at(p) = b
			return nil
		},
	}
}

// OptionalBytesRule writes a presence bool, then the blob when present. Absent
// and empty stay distinct across a round trip.
func OptionalBytesRule[P any](name string, versions Range, maxBytes int, at func(P) (*bool, *[]byte)) Rule[P] {
	return Rule[P]{
		Name:     name,
		Versions: versions,
		Encode: func(p P, buf *bytes.Buffer) error {
			present, b := at(p)
			if !*present {
				wire.WriteBool(buf, false)
				return nil
			}
			if len(*b) > maxBytes {
				return &wire.EncodeError{Err: fmt.Errorf("%w: %d bytes, max %d", wire.ErrTooLong, len(*b), maxBytes)}
			}
			wire.WriteBool(buf, true)
			return wire.WriteBytes(buf, *b, maxBytes)
		},
		Decode: func(p P, buf *bytes.Buffer) error {
			present, b := at(p)
			ok, err := wire.ReadBool(buf)
			if err != nil {
				return err
			}
			*present = ok
			if !ok {
				*b = nil
				return nil
			}
			v, err := wire.ReadBytes(buf, maxBytes)
			if err != nil {
				return err
			}
			*b = v
			return nil
		},
	}
}

func OptionalUUIDRule[P any](name string, versions Range, at func(P) (*bool, *uuid.UUID)) Rule[P] {
	return Rule[P]{
		Name:     name,
		Versions: versions,
		Encode: func(p P, buf *bytes.Buffer) error {
			present, id := at(p)
			wire.WriteBool(buf, *present)
			if *present {
				wire.WriteUUID(buf, *id)
			}
			return nil
		},
		Decode: func(p P, buf *bytes.Buffer) error {
			present, id := at(p)
			ok, err := wire.ReadBool(buf)
			if err != nil {
				return err
			}
			*present = ok
			if !ok {
				*id = uuid.Nil
				return nil
			}
			v, err := wire.ReadUUID(buf)
			if err != nil {
				return err
			}
			*id = v
			return nil
		},
	}
}

// KeyRule carries an identifier in its text form.
func KeyRule[P any](name string, versions Range, at func(P) *key.Key) Rule[P] {
	return Rule[P]{
		Name:     name,
		Versions: versions,
		Encode: func(p P, buf *bytes.Buffer) error {
			k := *at(p)
			if k.IsZero() {
				return &wire.EncodeError{Err: key.ErrEmpty}
			}
			return wire.WriteString(buf, k.String(), key.MaxLength)
		},
		Decode: func(p P, buf *bytes.Buffer) error {
			s, err := wire.ReadString(buf, key.MaxLength)
			if err != nil {
				return err
			}
			k, err := key.Parse(s)
			if err != nil {
				return &wire.DecodeError{Err: err}
			}
			*at(p) = k
			return nil
		},
	}
}
