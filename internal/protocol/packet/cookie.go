package packet

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/danmuck/mcrelay/internal/protocol/key"
)

// MaxCookiePayload bounds a stored cookie.
const MaxCookiePayload = 5120

// CookieRequest asks the client for the cookie stored under Key.
type CookieRequest struct {
	Key key.Key
}

var cookieRequestLayout = Layout[*CookieRequest]{
	KeyRule("key", Since(V1_20_5), func(p *CookieRequest) *key.Key { return &p.Key }),
}

func (p *CookieRequest) Encode(buf *bytes.Buffer, dir Direction, v Version) error {
	return cookieRequestLayout.Encode(p, buf, dir, v)
}

func (p *CookieRequest) Decode(buf *bytes.Buffer, dir Direction, v Version) error {
	return cookieRequestLayout.Decode(p, buf, dir, v)
}

func (p *CookieRequest) String() string {
	return fmt.Sprintf("CookieRequest{key=%s}", p.Key)
}

// CookieResponse answers a CookieRequest. HasPayload false means the client
// holds no cookie under Key, which differs from an empty cookie.
type CookieResponse struct {
	Key        key.Key
	HasPayload bool
	Payload    []byte
}

var cookieResponseLayout = Layout[*CookieResponse]{
	KeyRule("key", Since(V1_20_5), func(p *CookieResponse) *key.Key { return &p.Key }),
	OptionalBytesRule("payload", Since(V1_20_5), MaxCookiePayload, func(p *CookieResponse) (*bool, *[]byte) {
		return &p.HasPayload, &p.Payload
	}),
}

func (p *CookieResponse) Encode(buf *bytes.Buffer, dir Direction, v Version) error {
	return cookieResponseLayout.Encode(p, buf, dir, v)
}

func (p *CookieResponse) Decode(buf *bytes.Buffer, dir Direction, v Version) error {
	return cookieResponseLayout.Decode(p, buf, dir, v)
}

func (p *CookieResponse) String() string {
	if !p.HasPayload {
		return fmt.Sprintf("CookieResponse{key=%s, payload=none}", p.Key)
	}
	return fmt.Sprintf("CookieResponse{key=%s, payload=%s}", p.Key, base64.StdEncoding.EncodeToString(p.Payload))
}
