package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/mcrelay/internal/exchange"
	"github.com/danmuck/mcrelay/internal/observability"
	"github.com/danmuck/mcrelay/internal/protocol/frame"
	"github.com/danmuck/mcrelay/internal/protocol/key"
	"github.com/danmuck/mcrelay/internal/protocol/packet"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrCookiesUnsupported = errors.New("relay: cookies unsupported on this connection")
	ErrRateLimited        = errors.New("relay: cookie request rate limited")
)

type SessionConfig struct {
	Limits frame.Limits
	// RequestRate is per second. Zero or less means unlimited.
	RequestRate    float64
	RequestBurst   int
	HandlerTimeout time.Duration
	Registry       *packet.Registry
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Limits:         frame.DefaultLimits(),
		RequestRate:    5,
		RequestBurst:   10,
		HandlerTimeout: 2 * time.Second,
		Registry:       packet.Default(),
	}
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID               uuid.UUID `json:"id"`
	Client           string    `json:"client"`
	Player           string    `json:"player,omitempty"`
	PlayerID         string    `json:"player_id,omitempty"`
	Version          string    `json:"version"`
	State            string    `json:"state"`
	Compression      int32     `json:"compression"`
	Encrypted        bool      `json:"encrypted"`
	Passthrough      bool      `json:"passthrough"`
	PendingExchanges int       `json:"pending_exchanges"`
	StartedAt        time.Time `json:"started_at"`
}

// Session relays one client to one backend. It follows the protocol state
// until encryption starts and routes every cookie request through its
// Coordinator.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time

	client   *Conn
	backend  *Conn
	registry *packet.Registry
	coord    *exchange.Coordinator
	limiter  *rate.Limiter
	logger   zerolog.Logger

	mu          sync.RWMutex
	version     packet.Version
	state       packet.State
	identity    exchange.Identity
	passthrough bool
	encrypted   bool

	cmu      sync.Mutex
	rewrites map[key.Key][]key.Key
	waiters  map[key.Key][]*waiter

	shutdownOnce sync.Once
}

func NewSession(client, backend *Conn, d exchange.Dispatcher, cfg SessionConfig) *Session {
	if cfg.Registry == nil {
		cfg.Registry = packet.Default()
	}
	limit := rate.Inf
	if cfg.RequestRate > 0 {
		limit = rate.Limit(cfg.RequestRate)
	}
	id := uuid.New()
	logger := observability.Component("relay").With().
		Str("session", id.String()).
		Str("client", client.RemoteAddr()).
		Logger()
	return &Session{
		ID:        id,
		StartedAt: time.Now(),
		client:    client,
		backend:   backend,
		registry:  cfg.Registry,
		coord: exchange.NewCoordinator(d,
			exchange.WithLogger(logger),
			exchange.WithHandlerTimeout(cfg.HandlerTimeout),
		),
		limiter:  rate.NewLimiter(limit, cfg.RequestBurst),
		logger:   logger,
		version:  packet.MinimumVersion,
		state:    packet.StateHandshake,
		rewrites: make(map[key.Key][]key.Key),
		waiters:  make(map[key.Key][]*waiter),
	}
}

// Run pumps both directions until either side hangs up, ctx ends or a packet
// fails to decode. A clean hang-up returns nil.
func (s *Session) Run(ctx context.Context) error {
	observability.SessionOpened()
	defer observability.SessionClosed()
	s.logger.Info().Msg("session opened")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.shutdown()
		case <-done:
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.shutdown()
		return s.pumpServerbound()
	})
	g.Go(func() error {
		defer s.shutdown()
		return s.pumpClientbound(gctx)
	})
	err := g.Wait()
	if err != nil {
		s.logger.Warn().Err(err).Msg("session closed with error")
		return err
	}
	s.logger.Info().Str("player", s.Identity().String()).Msg("session closed")
	return nil
}

// shutdown closes the connections before the coordinator so an exchange write
// blocked on a peer that stopped reading fails instead of holding Close.
func (s *Session) shutdown() {
	s.shutdownOnce.Do(func() {
		_ = s.client.Close()
		_ = s.backend.Close()
		s.coord.Close()
		s.dropAllWaiters()
	})
}

func (s *Session) Close() { s.shutdown() }

func (s *Session) Identity() exchange.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) view() (packet.Version, packet.State) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, s.state
}

func (s *Session) setState(state packet.State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	if prev != state {
		s.logger.Debug().Str("from", prev.String()).Str("to", state.String()).Msg("state changed")
	}
}

func (s *Session) isPassthrough() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.passthrough
}

func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	info := SessionInfo{
		ID:          s.ID,
		Client:      s.client.RemoteAddr(),
		Player:      s.identity.Username,
		Version:     s.version.String(),
		State:       s.state.String(),
		Encrypted:   s.encrypted,
		Passthrough: s.passthrough,
		StartedAt:   s.StartedAt,
	}
	if s.identity.ID != uuid.Nil {
		info.PlayerID = s.identity.ID.String()
	}
	s.mu.RUnlock()
	info.Compression = s.backend.Compression()
	info.PendingExchanges = s.coord.Pending()
	return info
}

func (s *Session) pumpServerbound() error {
	for {
		in, err := s.client.Read()
		if err != nil {
			return s.readErr(err)
		}
		pipe, err := s.serverbound(in)
		if err != nil {
			return err
		}
		if pipe {
			_, err := s.client.Pipe(s.backend)
			return s.readErr(err)
		}
	}
}

func (s *Session) pumpClientbound(ctx context.Context) error {
	for {
		in, err := s.backend.Read()
		if err != nil {
			return s.readErr(err)
		}
		pipe, err := s.clientbound(ctx, in)
		if err != nil {
			return err
		}
		if pipe {
			_, err := s.backend.Pipe(s.client)
			return s.readErr(err)
		}
	}
}

func (s *Session) readErr(err error) error {
	if err == nil || isClosedErr(err) {
		return nil
	}
	if s.client.Closed() || s.backend.Closed() {
		return nil
	}
	return err
}

// serverbound handles one client frame. pipe reports that the rest of the
// client stream must be copied without framing.
func (s *Session) serverbound(in Inbound) (pipe bool, err error) {
	if s.isPassthrough() {
		return true, s.backend.Forward(in)
	}
	v, state := s.view()
	switch markerOf(state, packet.Serverbound, v, in.ID) {
	case markerEncryptionResponse:
		return true, s.backend.Forward(in)
	case markerFinishConfiguration:
		s.setState(packet.StatePlay)
		return false, s.backend.Forward(in)
	case markerAcknowledgeConfiguration:
		s.setState(packet.StateConfig)
		return false, s.backend.Forward(in)
	}

	p, err := s.decode(state, packet.Serverbound, v, in)
	if err != nil {
		return false, err
	}
	switch p := p.(type) {
	case *packet.Handshake:
		if s.handshake(p) {
			return true, s.backend.Forward(in)
		}
	case *packet.ServerLogin:
		s.login(p)
	case *packet.LoginAcknowledged:
		s.setState(packet.StateConfig)
	case *packet.CookieResponse:
		return false, s.cookieResponse(in, p, state)
	}
	return false, s.backend.Forward(in)
}

// clientbound handles one backend frame.
func (s *Session) clientbound(ctx context.Context, in Inbound) (pipe bool, err error) {
	if s.isPassthrough() {
		return true, s.client.Forward(in)
	}
	v, state := s.view()
	switch markerOf(state, packet.Clientbound, v, in.ID) {
	case markerEncryptionRequest:
		s.seal()
		return true, s.client.Forward(in)
	case markerLoginSuccess:
		if v < packet.V1_20_2 {
			s.setState(packet.StatePlay)
		}
		return false, s.client.Forward(in)
	}

	p, err := s.decode(state, packet.Clientbound, v, in)
	if err != nil {
		return false, err
	}
	switch p := p.(type) {
	case *packet.SetCompression:
		if err := s.client.Forward(in); err != nil {
			return false, err
		}
		s.client.SetCompression(p.Threshold)
		s.backend.SetCompression(p.Threshold)
		s.logger.Debug().Int32("threshold", p.Threshold).Msg("compression enabled")
		return false, nil
	case *packet.CookieRequest:
		return false, s.interceptCookie(ctx, p)
	}
	return false, s.client.Forward(in)
}

// decode returns nil, nil for frames without a typed packet. A failed decode
// ends the session.
func (s *Session) decode(state packet.State, dir packet.Direction, v packet.Version, in Inbound) (packet.Packet, error) {
	p, ok := s.registry.New(state, dir, v, in.ID)
	if !ok {
		return nil, nil
	}
	if err := packet.DecodePayload(p, in.Payload, dir, v); err != nil {
		observability.RecordDecodeFailure(state.String(), dir.String())
		s.logger.Error().Err(err).
			Str("state", state.String()).
			Str("direction", dir.String()).
			Str("version", v.String()).
			Int32("id", in.ID).
			Msg("packet decode failed; closing session")
		return nil, fmt.Errorf("relay: decode %T: %w", p, err)
	}
	return p, nil
}

// handshake records the version and next state. It reports whether the
// session should stop looking at packets.
func (s *Session) handshake(p *packet.Handshake) bool {
	v := packet.Version(p.ProtocolVersion)
	next, err := p.TargetState()

	s.mu.Lock()
	s.version = v
	if err == nil {
		s.state = next
	}
	s.passthrough = err != nil || next == packet.StateStatus || !v.Supported()
	passthrough := s.passthrough
	s.mu.Unlock()

	s.logger.Debug().
		Str("version", v.String()).
		Int32("next", p.NextState).
		Bool("passthrough", passthrough).
		Msg("handshake")
	return passthrough
}

func (s *Session) login(p *packet.ServerLogin) {
	s.mu.Lock()
	s.identity.Username = p.Username
	if p.HasPlayerID {
		s.identity.ID = p.PlayerID
	}
	s.mu.Unlock()
	s.logger.Info().Str("player", p.Username).Msg("login start")
}

func (s *Session) seal() {
	s.mu.Lock()
	s.encrypted = true
	s.mu.Unlock()
	s.client.Seal()
	s.backend.Seal()
	s.logger.Debug().Msg("encryption requested; relaying raw bytes")
}

// writePacket encodes p completely before touching conn.
func (s *Session) writePacket(conn *Conn, state packet.State, dir packet.Direction, p packet.Packet) error {
	v, _ := s.view()
	id, err := s.registry.ID(state, dir, v, p)
	if err != nil {
		return err
	}
	payload, err := packet.EncodePayload(p, dir, v)
	if err != nil {
		return err
	}
	return conn.WriteFrame(frame.Frame{ID: id, Payload: payload})
}

// writeExchange writes an exchange's packet under the state the connection is
// in now, which may differ from the state the request arrived in. A state
// without cookie packets makes the write stale.
func (s *Session) writeExchange(conn *Conn, dir packet.Direction, p packet.Packet) error {
	v, state := s.view()
	if !cookieState(state) {
		return fmt.Errorf("%w: %s has no cookie packets", exchange.ErrStaleExchangeWrite, state)
	}
	id, err := s.registry.ID(state, dir, v, p)
	if err != nil {
		return fmt.Errorf("%w: %v", exchange.ErrStaleExchangeWrite, err)
	}
	payload, err := packet.EncodePayload(p, dir, v)
	if err != nil {
		return err
	}
	return conn.WriteFrame(frame.Frame{ID: id, Payload: payload})
}

// clientWriter writes exchange packets to the client and remembers rewritten
// keys so the client's answer can be mapped back to original.
func (s *Session) clientWriter(original key.Key) exchange.PacketWriter {
	return exchange.PacketWriterFunc(func(p packet.Packet) error {
		req, ok := p.(*packet.CookieRequest)
		rewritten := ok && req.Key != original
		if rewritten {
			s.rememberRewrite(req.Key, original)
		}
		err := s.writeExchange(s.client, packet.Clientbound, p)
		if err != nil && rewritten {
			s.takeRewrite(req.Key)
		}
		return err
	})
}

func (s *Session) backendWriter() exchange.PacketWriter {
	return exchange.PacketWriterFunc(func(p packet.Packet) error {
		return s.writeExchange(s.backend, packet.Serverbound, p)
	})
}

func (s *Session) interceptCookie(ctx context.Context, req *packet.CookieRequest) error {
	route := exchange.Route{
		Downstream: s.clientWriter(req.Key),
		Upstream:   s.backendWriter(),
	}
	_, err := s.coord.Intercept(ctx, s.Identity(), req.Key, exchange.OriginBackend, route)
	if errors.Is(err, exchange.ErrClosed) {
		return nil
	}
	return err
}

func (s *Session) cookieResponse(in Inbound, resp *packet.CookieResponse, state packet.State) error {
	original, rewritten := s.takeRewrite(resp.Key)
	if rewritten {
		resp.Key = original
	}
	if s.deliver(resp) {
		return nil
	}
	if rewritten {
		return s.writePacket(s.backend, state, packet.Serverbound, resp)
	}
	return s.backend.Forward(in)
}

func (s *Session) rememberRewrite(wireKey, original key.Key) {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	s.rewrites[wireKey] = append(s.rewrites[wireKey], original)
}

func (s *Session) takeRewrite(wireKey key.Key) (key.Key, bool) {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	queue := s.rewrites[wireKey]
	if len(queue) == 0 {
		return key.Key{}, false
	}
	original := queue[0]
	if len(queue) == 1 {
		delete(s.rewrites, wireKey)
	} else {
		s.rewrites[wireKey] = queue[1:]
	}
	return original, true
}

// RequestCookie asks the client for the cookie under k on the proxy's behalf.
// The request goes through the same handlers as backend requests. The channel
// yields the answer once, or is closed without one when a handler marks the
// request handled, ctx ends or the session closes.
func (s *Session) RequestCookie(ctx context.Context, k key.Key) (<-chan packet.CookieResponse, error) {
	v, state := s.view()
	s.mu.RLock()
	blocked := s.encrypted || s.passthrough
	s.mu.RUnlock()
	if blocked || v < packet.V1_20_5 || !cookieState(state) {
		return nil, fmt.Errorf("%w: %s in %s", ErrCookiesUnsupported, v, state)
	}
	if !s.limiter.Allow() {
		observability.RecordExchangeError("rate_limited")
		return nil, ErrRateLimited
	}

	w := s.addWaiter(k)
	route := exchange.Route{
		Downstream: s.clientWriter(k),
		Upstream: exchange.PacketWriterFunc(func(p packet.Packet) error {
			resp, ok := p.(*packet.CookieResponse)
			if !ok {
				return fmt.Errorf("relay: unexpected %T for proxy cookie request", p)
			}
			s.deliverTo(w, resp)
			return nil
		}),
	}
	x, err := s.coord.Intercept(ctx, s.Identity(), k, exchange.OriginProxy, route)
	if err != nil {
		s.dropWaiter(w)
		return nil, err
	}
	go func() {
		select {
		case <-x.Done():
			r, _ := x.Result()
			if x.Err() != nil || r.Kind() == exchange.KindHandled {
				s.dropWaiter(w)
				return
			}
		case <-w.done:
			return
		}
		select {
		case <-ctx.Done():
			s.dropWaiter(w)
		case <-w.done:
		}
	}()
	return w.ch, nil
}

// Coordinator exposes the session's exchanges, mainly for inspection.
func (s *Session) Coordinator() *exchange.Coordinator { return s.coord }
