package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/mcrelay/internal/protocol/key"
	"github.com/google/uuid"
)

// State is the lifecycle position of one exchange.
type State uint8

const (
	StatePending State = iota
	StateResolved
	StateApplied
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateApplied:
		return "applied"
	case StateDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Exchange is one intercepted cookie request. Only its Coordinator moves it
// between states.
type Exchange struct {
	ID          uuid.UUID
	Identity    Identity
	OriginalKey key.Key
	Origin      Origin
	StartedAt   time.Time

	route Route

	mu     sync.Mutex
	state  State
	result Result
	err    error
	done   chan struct{}
}

func newExchange(identity Identity, k key.Key, origin Origin, route Route) *Exchange {
	return &Exchange{
		ID:          uuid.New(),
		Identity:    identity,
		OriginalKey: k,
		Origin:      origin,
		StartedAt:   time.Now(),
		route:       route,
		state:       StatePending,
		done:        make(chan struct{}),
	}
}

func (x *Exchange) State() State {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// Result returns the resolved result; false while still pending.
func (x *Exchange) Result() (Result, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state == StatePending {
		return Result{}, false
	}
	return x.result, true
}

// Done is closed once the exchange is applied or discarded.
func (x *Exchange) Done() <-chan struct{} { return x.done }

// Err is the outcome of the apply step, valid after Done is closed.
func (x *Exchange) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// finish must be called with x.mu held.
func (x *Exchange) finish(state State, err error) {
	x.state = state
	x.err = err
	close(x.done)
}

func (x *Exchange) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return fmt.Sprintf("Exchange{id=%s, player=%s, origin=%s, key=%s, state=%s, result=%s}",
		x.ID, x.Identity, x.Origin, x.OriginalKey, x.state, x.result)
}
