package wire

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated      = errors.New("truncated input")
	ErrVarIntTooBig   = errors.New("varint too big")
	ErrNegativeLength = errors.New("negative length")
	ErrTooLong        = errors.New("value exceeds bound")
	ErrInvalidUTF8    = errors.New("invalid utf-8")
	ErrInvalidBool    = errors.New("invalid bool")
)

// DecodeError reports malformed, truncated or over-limit input. A connection that
// hits one is desynchronized and must be dropped.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("wire: decode: %v", e.Err)
	}
	return fmt.Sprintf("wire: decode %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a value that violates its field bound. Nothing was written.
type EncodeError struct {
	Field string
	Err   error
}

func (e *EncodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("wire: encode: %v", e.Err)
	}
	return fmt.Sprintf("wire: encode %s: %v", e.Field, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func decodeErr(err error, format string, args ...any) error {
	if format == "" {
		return &DecodeError{Err: err}
	}
	return &DecodeError{Err: fmt.Errorf("%w: "+format, append([]any{err}, args...)...)}
}

func encodeErr(err error, format string, args ...any) error {
	if format == "" {
		return &EncodeError{Err: err}
	}
	return &EncodeError{Err: fmt.Errorf("%w: "+format, append([]any{err}, args...)...)}
}

// IsDecode reports whether err carries a DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsEncode reports whether err carries an EncodeError.
func IsEncode(err error) bool {
	var ee *EncodeError
	return errors.As(err, &ee)
}

// WithField names the field on a Decode/EncodeError that has none yet. Other
// errors are returned unchanged.
func WithField(err error, field string) error {
	var de *DecodeError
	if errors.As(err, &de) {
		if de.Field == "" {
			return &DecodeError{Field: field, Err: de.Err}
		}
		return err
	}
	var ee *EncodeError
	if errors.As(err, &ee) {
		if ee.Field == "" {
			return &EncodeError{Field: field, Err: ee.Err}
		}
		return err
	}
	return err
}
