package exchange

import (
	"bytes"
	"encoding/base64"

	"github.com/danmuck/mcrelay/internal/protocol/key"
)

// Kind tags the active variant of a Result.
type Kind uint8

const (
	KindForward Kind = iota
	KindHandled
	KindRespond
)

func (k Kind) String() string {
	switch k {
	case KindForward:
		return "forward"
	case KindHandled:
		return "handled"
	case KindRespond:
		return "respond"
	default:
		return "unknown"
	}
}

// Payload is optional cookie data. Absent and empty are different values.
type Payload struct {
	data    []byte
	present bool
}

// NoPayload answers as if the client had no cookie stored.
func NoPayload() Payload { return Payload{} }

// PayloadOf copies b. A nil b still counts as present and empty.
func PayloadOf(b []byte) Payload {
	out := make([]byte, len(b))
	copy(out, b)
	return Payload{data: out, present: true}
}

// Bytes returns a copy of the data and whether any is present.
func (p Payload) Bytes() ([]byte, bool) {
	if !p.present {
		return nil, false
	}
	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out, true
}

func (p Payload) Present() bool { return p.present }

func (p Payload) Equal(o Payload) bool {
	return p.present == o.present && bytes.Equal(p.data, o.data)
}

// Result is what interception decided for one exchange. It is a value: copy it
// freely, replace it wholesale. The zero Result forwards under the original key.
type Result struct {
	kind    Kind
	key     key.Key
	payload Payload
}

// Forward lets the request through unchanged.
func Forward() Result { return Result{kind: KindForward} }

// Handled drops the request; the proxy dealt with it.
func Handled() Result { return Result{kind: KindHandled} }

// Respond answers the requester directly with p instead of asking the peer.
func Respond(p Payload) Result { return Result{kind: KindRespond, payload: p} }

// ForwardAs lets the request through under k. A zero k is the same as Forward.
func ForwardAs(k key.Key) Result { return Result{kind: KindForward, key: k} }

func (r Result) Kind() Kind { return r.kind }

// IsAllowed reports whether the request continues to the original destination.
func (r Result) IsAllowed() bool { return r.kind == KindForward }

// Key returns the substituted key of a Forward result.
func (r Result) Key() (key.Key, bool) {
	if r.kind != KindForward || r.key.IsZero() {
		return key.Key{}, false
	}
	return r.key, true
}

// Payload returns the answer of a Respond result.
func (r Result) Payload() (Payload, bool) {
	if r.kind != KindRespond {
		return Payload{}, false
	}
	return r.payload, true
}

// KeyOr returns the key to put on the wire for a Forward result.
func (r Result) KeyOr(original key.Key) key.Key {
	if k, ok := r.Key(); ok {
		return k
	}
	return original
}

func (r Result) Equal(o Result) bool {
	return r.kind == o.kind && r.key == o.key && r.payload.Equal(o.payload)
}

func (r Result) String() string {
	switch r.kind {
	case KindForward:
		if k, ok := r.Key(); ok {
			return "forward to client as " + k.String()
		}
		return "forward to client"
	case KindRespond:
		if !r.payload.present {
			return "respond without data"
		}
		return "respond with " + base64.StdEncoding.EncodeToString(r.payload.data)
	case KindHandled:
		return "handled by proxy"
	default:
		return "unknown result"
	}
}
