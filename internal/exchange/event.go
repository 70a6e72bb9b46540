package exchange

import (
	"fmt"
	"sync"

	"github.com/danmuck/mcrelay/internal/protocol/key"
	"github.com/google/uuid"
)

// Identity names the player a cookie is requested from.
type Identity struct {
	Username string
	ID       uuid.UUID
}

func (i Identity) String() string {
	if i.ID == uuid.Nil {
		return i.Username
	}
	return fmt.Sprintf("%s (%s)", i.Username, i.ID)
}

// Origin says who asked for the cookie.
type Origin uint8

const (
	OriginBackend Origin = iota
	OriginProxy
)

func (o Origin) String() string {
	switch o {
	case OriginBackend:
		return "backend"
	case OriginProxy:
		return "proxy"
	default:
		return "unknown"
	}
}

// CookieRequestEvent is handed to handlers before a cookie request reaches the
// client. Handlers read the request and replace the result; the last
// SetResult wins.
type CookieRequestEvent struct {
	identity    Identity
	originalKey key.Key
	origin      Origin

	mu     sync.Mutex
	result Result
}

func NewCookieRequestEvent(identity Identity, k key.Key, origin Origin) *CookieRequestEvent {
	return &CookieRequestEvent{identity: identity, originalKey: k, origin: origin, result: Forward()}
}

func (e *CookieRequestEvent) Identity() Identity { return e.identity }
func (e *CookieRequestEvent) OriginalKey() key.Key { return e.originalKey }
func (e *CookieRequestEvent) Origin() Origin { return e.origin }

func (e *CookieRequestEvent) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

func (e *CookieRequestEvent) SetResult(r Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.result = r
}

func (e *CookieRequestEvent) String() string {
	return fmt.Sprintf("CookieRequestEvent{player=%s, origin=%s, originalKey=%s, result=%s}",
		e.identity, e.origin, e.originalKey, e.Result())
}
