package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/mcrelay/internal/protocol/key"
	"github.com/danmuck/mcrelay/internal/protocol/packet"
	"github.com/danmuck/mcrelay/internal/protocol/wire"
	"github.com/danmuck/mcrelay/internal/testutil/testlog"
	"github.com/google/uuid"
)

// recorder encodes each packet like a real connection would and keeps only
// what encoded cleanly.
type recorder struct {
	dir packet.Direction

	mu      sync.Mutex
	packets []packet.Packet
}

func (r *recorder) WritePacket(p packet.Packet) error {
	if _, err := packet.EncodePayload(p, r.dir, packet.V1_20_5); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, p)
	return nil
}

func (r *recorder) written() []packet.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]packet.Packet(nil), r.packets...)
}

type dispatchFunc func(ctx context.Context, ev *CookieRequestEvent) <-chan *CookieRequestEvent

func (f dispatchFunc) Dispatch(ctx context.Context, ev *CookieRequestEvent) <-chan *CookieRequestEvent {
	return f(ctx, ev)
}

func deciding(r Result) Dispatcher {
	return dispatchFunc(func(_ context.Context, ev *CookieRequestEvent) <-chan *CookieRequestEvent {
		ev.SetResult(r)
		out := make(chan *CookieRequestEvent, 1)
		out <- ev
		close(out)
		return out
	})
}

func newRoute() (*recorder, *recorder, Route) {
	client := &recorder{dir: packet.Clientbound}
	backend := &recorder{dir: packet.Serverbound}
	return client, backend, Route{Downstream: client, Upstream: backend}
}

var steve = Identity{Username: "Steve", ID: uuid.MustParse("8667ba71-b85a-4004-af54-457a9734eed7")}

func waitDone(t *testing.T, x *Exchange) {
	t.Helper()
	select {
	case <-x.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("exchange %s did not finish", x.ID)
	}
}

func TestInterceptWithoutHandlersForwardsOriginalKey(t *testing.T) {
	testlog.Start(t)

	client, backend, route := newRoute()
	c := NewCoordinator(nil)
	k := key.MustParse("backend:session")

	x, err := c.Intercept(context.Background(), steve, k, OriginBackend, route)
	if err != nil {
		t.Fatalf("Intercept: %v", err)
	}
	waitDone(t, x)
	if err := x.Err(); err != nil {
		t.Fatalf("exchange error: %v", err)
	}
	got := client.written()
	if len(got) != 1 {
		t.Fatalf("client writes = %d, want 1", len(got))
	}
	req, ok := got[0].(*packet.CookieRequest)
	if !ok || req.Key != k {
		t.Fatalf("client got %v, want CookieRequest{%s}", got[0], k)
	}
	if n := len(backend.written()); n != 0 {
		t.Fatalf("backend writes = %d, want 0", n)
	}
	if r, _ := x.Result(); !r.Equal(Forward()) {
		t.Fatalf("result = %s, want forward", r)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", c.Pending())
	}
}

func TestInterceptAppliesHandlerDecision(t *testing.T) {
	original := key.MustParse("backend:session")
	rewritten := key.MustParse("proxy:session")

	cases := []struct {
		name          string
		result        Result
		clientWrites  int
		backendWrites int
		check         func(t *testing.T, client, backend []packet.Packet)
	}{
		{
			name:         "forward as",
			result:       ForwardAs(rewritten),
			clientWrites: 1,
			check: func(t *testing.T, client, _ []packet.Packet) {
				if got := client[0].(*packet.CookieRequest).Key; got != rewritten {
					t.Fatalf("client key = %s, want %s", got, rewritten)
				}
			},
		},
		{
			name:   "handled",
			result: Handled(),
		},
		{
			name:          "respond with data",
			result:        Respond(PayloadOf([]byte("cookie"))),
			backendWrites: 1,
			check: func(t *testing.T, _, backend []packet.Packet) {
				resp := backend[0].(*packet.CookieResponse)
				if resp.Key != original || !resp.HasPayload || string(resp.Payload) != "cookie" {
					t.Fatalf("backend got %v", resp)
				}
			},
		},
		{
			name:          "respond without data",
			result:        Respond(NoPayload()),
			backendWrites: 1,
			check: func(t *testing.T, _, backend []packet.Packet) {
				resp := backend[0].(*packet.CookieResponse)
				if resp.HasPayload {
					t.Fatalf("backend got payload %v, want none", resp.Payload)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			testlog.Start(t)

			client, backend, route := newRoute()
			c := NewCoordinator(deciding(tc.result))
			x, err := c.Intercept(context.Background(), steve, original, OriginBackend, route)
			if err != nil {
				t.Fatalf("Intercept: %v", err)
			}
			waitDone(t, x)
			if err := x.Err(); err != nil {
				t.Fatalf("exchange error: %v", err)
			}
			cw, bw := client.written(), backend.written()
			if len(cw) != tc.clientWrites || len(bw) != tc.backendWrites {
				t.Fatalf("writes client=%d backend=%d, want %d/%d", len(cw), len(bw), tc.clientWrites, tc.backendWrites)
			}
			if tc.check != nil {
				tc.check(t, cw, bw)
			}
			if x.State() != StateApplied {
				t.Fatalf("state = %s, want applied", x.State())
			}
		})
	}
}

func TestApplyTwiceIsConflict(t *testing.T) {
	testlog.Start(t)

	client, _, route := newRoute()
	c := NewCoordinator(nil)
	x, err := c.Begin(steve, key.MustParse("a:b"), OriginBackend, route)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Apply(x); !errors.Is(err, ErrNotResolved) {
		t.Fatalf("Apply before Resolve = %v, want ErrNotResolved", err)
	}
	if err := c.Resolve(x, Forward()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := c.Apply(x); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if err := c.Apply(x); !errors.Is(err, ErrResolutionConflict) {
		t.Fatalf("second Apply = %v, want ErrResolutionConflict", err)
	}
	if n := len(client.written()); n != 1 {
		t.Fatalf("client writes = %d, want 1", n)
	}
}

func TestResolveTwiceIsConflict(t *testing.T) {
	testlog.Start(t)

	_, _, route := newRoute()
	c := NewCoordinator(nil)
	x, err := c.Begin(steve, key.MustParse("a:b"), OriginBackend, route)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Resolve(x, Handled()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := c.Resolve(x, Forward()); !errors.Is(err, ErrResolutionConflict) {
		t.Fatalf("second Resolve = %v, want ErrResolutionConflict", err)
	}
	if r, _ := x.Result(); !r.Equal(Handled()) {
		t.Fatalf("result = %s, want handled", r)
	}
}

func TestConcurrentApplyWritesOnce(t *testing.T) {
	testlog.Start(t)

	client, _, route := newRoute()
	c := NewCoordinator(nil)
	x, err := c.Begin(steve, key.MustParse("a:b"), OriginBackend, route)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Resolve(x, Forward()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Apply(x)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrResolutionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 7 {
		t.Fatalf("ok=%d conflicts=%d, want 1/7", ok, conflicts)
	}
	if n := len(client.written()); n != 1 {
		t.Fatalf("client writes = %d, want 1", n)
	}
}

func TestClosedConnectionDiscardsPendingExchange(t *testing.T) {
	testlog.Start(t)

	client, backend, route := newRoute()
	release := make(chan struct{})
	blocked := dispatchFunc(func(_ context.Context, ev *CookieRequestEvent) <-chan *CookieRequestEvent {
		out := make(chan *CookieRequestEvent, 1)
		go func() {
			<-release
			ev.SetResult(Respond(PayloadOf([]byte("late"))))
			out <- ev
			close(out)
		}()
		return out
	})
	c := NewCoordinator(blocked)
	x, err := c.Intercept(context.Background(), steve, key.MustParse("a:b"), OriginBackend, route)
	if err != nil {
		t.Fatalf("Intercept: %v", err)
	}
	c.Close()
	close(release)
	waitDone(t, x)

	if x.State() != StateDiscarded {
		t.Fatalf("state = %s, want discarded", x.State())
	}
	if !errors.Is(x.Err(), ErrStaleExchangeWrite) {
		t.Fatalf("err = %v, want ErrStaleExchangeWrite", x.Err())
	}
	if len(client.written())+len(backend.written()) != 0 {
		t.Fatal("closed connection was written to")
	}
	if _, err := c.Begin(steve, key.MustParse("a:c"), OriginBackend, route); !errors.Is(err, ErrClosed) {
		t.Fatalf("Begin after Close = %v, want ErrClosed", err)
	}
}

func TestApplyAfterCloseIsStale(t *testing.T) {
	testlog.Start(t)

	client, _, route := newRoute()
	c := NewCoordinator(nil)
	x, err := c.Begin(steve, key.MustParse("a:b"), OriginBackend, route)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	c.Close()
	c.Close()
	if err := c.Resolve(x, Forward()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := c.Apply(x); !errors.Is(err, ErrStaleExchangeWrite) {
		t.Fatalf("Apply = %v, want ErrStaleExchangeWrite", err)
	}
	if n := len(client.written()); n != 0 {
		t.Fatalf("client writes = %d, want 0", n)
	}
	if c.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", c.Pending())
	}
}

func TestCloseWaitsForWriteInProgress(t *testing.T) {
	testlog.Start(t)

	entered := make(chan struct{})
	hangup := make(chan struct{})
	blocked := PacketWriterFunc(func(packet.Packet) error {
		close(entered)
		<-hangup
		return io.ErrClosedPipe
	})
	c := NewCoordinator(nil)
	x, err := c.Begin(steve, key.MustParse("a:b"), OriginBackend, Route{Downstream: blocked})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Resolve(x, Forward()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	applied := make(chan error, 1)
	go func() { applied <- c.Apply(x) }()
	<-entered

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a write was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	// the connection closing is what fails the blocked write
	close(hangup)
	select {
	case err := <-applied:
		if !errors.Is(err, io.ErrClosedPipe) {
			t.Fatalf("Apply = %v, want io.ErrClosedPipe", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Apply did not return")
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the write failed")
	}
	if x.State() != StateApplied || !errors.Is(x.Err(), io.ErrClosedPipe) {
		t.Fatalf("exchange = %s err=%v, want applied with write error", x.State(), x.Err())
	}
	if c.Pending() != 0 {
		t.Fatalf("pending = %d, want 0", c.Pending())
	}
}

func TestWriterStaleErrorDiscardsExchange(t *testing.T) {
	testlog.Start(t)

	stale := PacketWriterFunc(func(packet.Packet) error {
		return fmt.Errorf("%w: state has no cookie packets", ErrStaleExchangeWrite)
	})
	c := NewCoordinator(nil)
	x, err := c.Begin(steve, key.MustParse("a:b"), OriginBackend, Route{Downstream: stale})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Resolve(x, Forward()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := c.Apply(x); !errors.Is(err, ErrStaleExchangeWrite) {
		t.Fatalf("Apply = %v, want ErrStaleExchangeWrite", err)
	}
	if x.State() != StateDiscarded {
		t.Fatalf("state = %s, want discarded", x.State())
	}
	if err := c.Apply(x); !errors.Is(err, ErrResolutionConflict) {
		t.Fatalf("second Apply = %v, want ErrResolutionConflict", err)
	}
}

func TestRespondOverLimitWritesNothing(t *testing.T) {
	testlog.Start(t)

	client, backend, route := newRoute()
	big := make([]byte, packet.MaxCookiePayload+1)
	c := NewCoordinator(deciding(Respond(PayloadOf(big))))
	x, err := c.Intercept(context.Background(), steve, key.MustParse("a:b"), OriginBackend, route)
	if err != nil {
		t.Fatalf("Intercept: %v", err)
	}
	waitDone(t, x)
	if !wire.IsEncode(x.Err()) {
		t.Fatalf("err = %v, want EncodeError", x.Err())
	}
	if x.State() != StateApplied {
		t.Fatalf("state = %s, want applied", x.State())
	}
	if len(client.written())+len(backend.written()) != 0 {
		t.Fatal("oversized response was written")
	}
}

func TestHandlerTimeoutFailsOpen(t *testing.T) {
	testlog.Start(t)

	client, _, route := newRoute()
	never := dispatchFunc(func(context.Context, *CookieRequestEvent) <-chan *CookieRequestEvent {
		return make(chan *CookieRequestEvent)
	})
	c := NewCoordinator(never, WithHandlerTimeout(20*time.Millisecond))
	k := key.MustParse("slow:handler")
	x, err := c.Intercept(context.Background(), steve, k, OriginBackend, route)
	if err != nil {
		t.Fatalf("Intercept: %v", err)
	}
	waitDone(t, x)
	got := client.written()
	if len(got) != 1 || got[0].(*packet.CookieRequest).Key != k {
		t.Fatalf("client writes = %v, want forwarded %s", got, k)
	}
}

func TestBeginRejectsBadInput(t *testing.T) {
	testlog.Start(t)

	_, _, route := newRoute()
	c := NewCoordinator(nil)
	if _, err := c.Begin(steve, key.Key{}, OriginBackend, route); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("zero key = %v, want ErrInvalidKey", err)
	}
	if _, err := c.Begin(steve, key.MustParse("a:b"), OriginBackend, Route{}); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("no route = %v, want ErrNoRoute", err)
	}
}

func TestRespondWithoutUpstreamIsNoRoute(t *testing.T) {
	testlog.Start(t)

	client := &recorder{dir: packet.Clientbound}
	c := NewCoordinator(nil)
	x, err := c.Begin(steve, key.MustParse("a:b"), OriginProxy, Route{Downstream: client})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Resolve(x, Respond(NoPayload())); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := c.Apply(x); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("Apply = %v, want ErrNoRoute", err)
	}
}

func TestMultiplePendingExchanges(t *testing.T) {
	testlog.Start(t)

	client, _, route := newRoute()
	c := NewCoordinator(nil)
	a, err := c.Begin(steve, key.MustParse("a:one"), OriginBackend, route)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	b, err := c.Begin(steve, key.MustParse("a:two"), OriginBackend, route)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if c.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", c.Pending())
	}
	for _, x := range []*Exchange{b, a} {
		if err := c.Resolve(x, Forward()); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if err := c.Apply(x); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	got := client.written()
	if len(got) != 2 || got[0].(*packet.CookieRequest).Key.Value() != "two" {
		t.Fatalf("client writes = %v", got)
	}
}
