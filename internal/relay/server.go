package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/mcrelay/internal/exchange"
	"github.com/danmuck/mcrelay/internal/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrBackendRequired = errors.New("relay: backend address required")

type Config struct {
	Backend     string
	DialTimeout time.Duration
	// DialAttempts is how many times a backend dial is tried per client.
	// Values below 1 mean one attempt.
	DialAttempts int
	Backoff      BackoffConfig
	Session      SessionConfig
}

// Dialer opens the backend side of a new session.
type Dialer func(ctx context.Context) (net.Conn, error)

// Server accepts clients and relays each one to the backend.
type Server struct {
	cfg        Config
	dispatcher exchange.Dispatcher
	dial       Dialer
	logger     zerolog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	wg       sync.WaitGroup
}

type ServerOption func(*Server)

// WithDialer replaces the TCP dial to cfg.Backend.
func WithDialer(d Dialer) ServerOption {
	return func(s *Server) { s.dial = d }
}

func NewServer(cfg Config, d exchange.Dispatcher, opts ...ServerOption) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		logger:     observability.Component("relay"),
		sessions:   make(map[uuid.UUID]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dial == nil {
		backend := strings.TrimSpace(cfg.Backend)
		if backend == "" {
			return nil, ErrBackendRequired
		}
		dialer := net.Dialer{Timeout: cfg.DialTimeout}
		s.dial = func(ctx context.Context) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", backend)
		}
	}
	return s, nil
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx ends, then closes every session and waits for
// them.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	s.logger.Info().Str("addr", ln.Addr().String()).Str("backend", s.cfg.Backend).Msg("relay listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	defer s.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, clientConn net.Conn) {
	backendConn, err := s.dialBackend(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("client", clientConn.RemoteAddr().String()).Msg("backend dial failed")
		_ = clientConn.Close()
		return
	}
	limits := s.cfg.Session.Limits
	session := NewSession(NewConn(clientConn, limits), NewConn(backendConn, limits), s.dispatcher, s.cfg.Session)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, session.ID)
		s.mu.Unlock()
	}()

	_ = session.Run(ctx)
}

func (s *Server) dialBackend(ctx context.Context) (net.Conn, error) {
	attempts := max(s.cfg.DialAttempts, 1)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleepBackoff(ctx, nextBackoffDelay(s.cfg.Backoff, attempt-1, rng)); err != nil {
				return nil, err
			}
		}
		var conn net.Conn
		if conn, err = s.dial(ctx); err == nil {
			return conn, nil
		}
		s.logger.Debug().Err(err).Int("attempt", attempt).Int("attempts", attempts).Msg("backend dial attempt failed")
	}
	return nil, err
}

func (s *Server) Session(id uuid.UUID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// SessionByPlayer finds a live session by username, case-insensitively.
func (s *Server) SessionByPlayer(username string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if strings.EqualFold(session.Identity().Username, username) {
			return session, nil
		}
	}
	return nil, fmt.Errorf("relay: no session for player %q", username)
}

// Sessions lists live sessions, oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.mu.RLock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Info())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
