package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/mcrelay/internal/observability"
	"github.com/danmuck/mcrelay/internal/protocol/key"
	"github.com/danmuck/mcrelay/internal/protocol/packet"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PacketWriter puts one packet on a connection. Implementations encode fully
// before writing, so a failed encode writes nothing.
type PacketWriter interface {
	WritePacket(p packet.Packet) error
}

type PacketWriterFunc func(p packet.Packet) error

func (f PacketWriterFunc) WritePacket(p packet.Packet) error { return f(p) }

// Route holds the writers an exchange may touch. Downstream is the peer the
// request was headed for; Upstream is whoever waits for the answer.
type Route struct {
	Downstream PacketWriter
	Upstream   PacketWriter
}

// Dispatcher runs every interested handler for ev and then delivers ev exactly
// once on the returned channel. Handler writes happen before the delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *CookieRequestEvent) <-chan *CookieRequestEvent
}

type Option func(*Coordinator)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithHandlerTimeout bounds how long an exchange waits for its handlers. On
// timeout the exchange fails open with Forward.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// Coordinator drives the exchanges of one connection. Coordinators of
// different connections share nothing.
type Coordinator struct {
	dispatcher Dispatcher
	logger     zerolog.Logger
	timeout    time.Duration

	// mu guards closed. Apply holds it shared across the closed check and the
	// write; Close takes it exclusively.
	mu      sync.RWMutex
	closed  bool
	closing chan struct{}

	pmu     sync.Mutex
	pending map[uuid.UUID]*Exchange
}

// NewCoordinator returns a coordinator dispatching through d. A nil d resolves
// every exchange to Forward.
func NewCoordinator(d Dispatcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		dispatcher: d,
		logger:     observability.Component("exchange"),
		closing:    make(chan struct{}),
		pending:    make(map[uuid.UUID]*Exchange),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin registers a Pending exchange for a request observed on the wire or
// raised by the proxy.
func (c *Coordinator) Begin(identity Identity, k key.Key, origin Origin, route Route) (*Exchange, error) {
	if k.IsZero() {
		return nil, ErrInvalidKey
	}
	if route.Downstream == nil {
		return nil, fmt.Errorf("%w: missing downstream writer", ErrNoRoute)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	x := newExchange(identity, k, origin, route)
	c.pmu.Lock()
	c.pending[x.ID] = x
	c.pmu.Unlock()
	c.logger.Debug().
		Str("exchange", x.ID.String()).
		Str("player", identity.String()).
		Str("origin", origin.String()).
		Str("key", k.String()).
		Msg("cookie exchange pending")
	return x, nil
}

// Resolve fixes the result of a pending exchange. Resolving twice is a
// ResolutionConflict.
func (c *Coordinator) Resolve(x *Exchange, r Result) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state != StatePending {
		return c.conflict(x, "resolve")
	}
	x.result = r
	x.state = StateResolved
	return nil
}

// Apply performs the single wire action of a resolved exchange. A second call
// is a ResolutionConflict and writes nothing. If the connection closed, or a
// writer reports ErrStaleExchangeWrite, the exchange is discarded and that
// error is returned.
func (c *Coordinator) Apply(x *Exchange) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	x.mu.Lock()
	defer x.mu.Unlock()
	switch x.state {
	case StatePending:
		return fmt.Errorf("%w: exchange %s", ErrNotResolved, x.ID)
	case StateApplied, StateDiscarded:
		return c.conflict(x, "apply")
	}
	defer c.forget(x)

	if c.closed {
		x.finish(StateDiscarded, ErrStaleExchangeWrite)
		observability.RecordExchangeError("stale")
		c.logger.Info().
			Str("exchange", x.ID.String()).
			Str("key", x.OriginalKey.String()).
			Str("result", x.result.String()).
			Msg("connection closed before cookie exchange applied; discarded")
		return ErrStaleExchangeWrite
	}

	err := c.write(x)
	if errors.Is(err, ErrStaleExchangeWrite) {
		x.finish(StateDiscarded, err)
		observability.RecordExchangeError("stale")
		c.logger.Info().Err(err).
			Str("exchange", x.ID.String()).
			Str("result", x.result.String()).
			Msg("connection moved on before cookie exchange applied; discarded")
		return err
	}
	x.finish(StateApplied, err)
	if err != nil {
		observability.RecordExchangeError("write")
		c.logger.Warn().Err(err).
			Str("exchange", x.ID.String()).
			Str("result", x.result.String()).
			Msg("cookie exchange write failed")
		return err
	}
	observability.RecordExchange(x.Origin.String(), x.result.Kind().String(), time.Since(x.StartedAt))
	c.logger.Debug().
		Str("exchange", x.ID.String()).
		Str("player", x.Identity.String()).
		Str("key", x.OriginalKey.String()).
		Str("result", x.result.String()).
		Msg("cookie exchange applied")
	return nil
}

func (c *Coordinator) write(x *Exchange) error {
	switch x.result.Kind() {
	case KindForward:
		return x.route.Downstream.WritePacket(&packet.CookieRequest{Key: x.result.KeyOr(x.OriginalKey)})
	case KindHandled:
		return nil
	case KindRespond:
		if x.route.Upstream == nil {
			return fmt.Errorf("%w: respond without upstream writer", ErrNoRoute)
		}
		data, ok := x.result.payload.Bytes()
		return x.route.Upstream.WritePacket(&packet.CookieResponse{Key: x.OriginalKey, HasPayload: ok, Payload: data})
	default:
		return fmt.Errorf("exchange: unknown result kind %d", x.result.Kind())
	}
}

// Intercept begins an exchange, dispatches it to handlers and applies the
// result on its own goroutine. Wait on x.Done for the outcome.
func (c *Coordinator) Intercept(ctx context.Context, identity Identity, k key.Key, origin Origin, route Route) (*Exchange, error) {
	x, err := c.Begin(identity, k, origin, route)
	if err != nil {
		return nil, err
	}
	ev := NewCookieRequestEvent(identity, k, origin)
	go c.run(ctx, x, ev)
	return x, nil
}

func (c *Coordinator) run(ctx context.Context, x *Exchange, ev *CookieRequestEvent) {
	result := c.await(ctx, x, ev)
	if err := c.Resolve(x, result); err != nil {
		return
	}
	if err := c.Apply(x); err != nil && !errors.Is(err, ErrStaleExchangeWrite) {
		c.logger.Debug().Err(err).Str("exchange", x.ID.String()).Msg("cookie exchange finished with error")
	}
}

func (c *Coordinator) await(ctx context.Context, x *Exchange, ev *CookieRequestEvent) Result {
	if c.dispatcher == nil {
		return Forward()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	select {
	case got, ok := <-c.dispatcher.Dispatch(ctx, ev):
		if !ok || got == nil {
			return Forward()
		}
		return got.Result()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			observability.RecordExchangeError("timeout")
			c.logger.Warn().
				Str("exchange", x.ID.String()).
				Str("key", x.OriginalKey.String()).
				Dur("timeout", c.timeout).
				Msg("cookie handlers timed out; forwarding")
		}
		return Forward()
	case <-c.closing:
		return Forward()
	}
}

// conflict must be called with x.mu held.
func (c *Coordinator) conflict(x *Exchange, op string) error {
	observability.RecordExchangeError("conflict")
	c.logger.Error().
		Str("exchange", x.ID.String()).
		Str("op", op).
		Str("state", x.state.String()).
		Msg("cookie exchange resolved twice")
	return fmt.Errorf("%w: %s on %s exchange %s", ErrResolutionConflict, op, x.state, x.ID)
}

func (c *Coordinator) forget(x *Exchange) {
	c.pmu.Lock()
	delete(c.pending, x.ID)
	c.pmu.Unlock()
}

// Close marks the owning connection closed. Exchanges applied afterwards are
// discarded without writing. Close waits for a write in progress, so close the
// connections first when a peer may have stopped reading. Close is idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.closing)
}

func (c *Coordinator) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Pending counts exchanges not yet applied or discarded.
func (c *Coordinator) Pending() int {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	return len(c.pending)
}
