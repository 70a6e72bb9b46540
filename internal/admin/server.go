// Package admin serves the relay's HTTP control surface.
package admin

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/mcrelay/internal/observability"
	"github.com/danmuck/mcrelay/internal/protocol/key"
	"github.com/danmuck/mcrelay/internal/protocol/packet"
	"github.com/danmuck/mcrelay/internal/relay"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	version             = "0.1.0"
	cookieWaitDefault   = 5 * time.Second
	shutdownGracePeriod = 5 * time.Second
)

// Relay is what the admin surface reads from and acts on.
type Relay interface {
	Sessions() []relay.SessionInfo
	SessionByPlayer(username string) (*relay.Session, error)
}

type Server struct {
	relay    Relay
	router   *gin.Engine
	appeared time.Time
}

func New(r Relay, corsOrigins []string) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.RequestLogger(observability.Component("admin")))
	router.Use(observability.RequestMetricsMiddleware())
	if origins := normalizeOrigins(corsOrigins); len(origins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = router.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{relay: r, router: router, appeared: time.Now()}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.appeared).String(),
			"sessions": len(s.relay.Sessions()),
			"version":  version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": s.relay.Sessions()})
	})

	// key values may contain '/', so the key is a catch-all
	s.router.POST("/players/:player/cookies/*key", s.requestCookie)
}

// requestCookie asks a connected player for a cookie and waits for the answer.
// The optional "wait" query bounds the wait ("2s").
func (s *Server) requestCookie(c *gin.Context) {
	k, err := key.Parse(strings.TrimPrefix(c.Param("key"), "/"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wait := cookieWaitDefault
	if raw := strings.TrimSpace(c.Query("wait")); raw != "" {
		if wait, err = time.ParseDuration(raw); err != nil || wait <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wait"})
			return
		}
	}
	session, err := s.relay.SessionByPlayer(c.Param("player"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
	defer cancel()
	answers, err := session.RequestCookie(ctx, k)
	switch {
	case errors.Is(err, relay.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	case errors.Is(err, relay.ErrCookiesUnsupported):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	select {
	case resp, ok := <-answers:
		if !ok {
			c.JSON(http.StatusAccepted, gin.H{"key": k.String(), "answered": false})
			return
		}
		c.JSON(http.StatusOK, cookieBody(resp))
	case <-ctx.Done():
		c.JSON(http.StatusGatewayTimeout, gin.H{"key": k.String(), "error": "no answer before deadline"})
	}
}

func cookieBody(resp packet.CookieResponse) gin.H {
	body := gin.H{"key": resp.Key.String(), "answered": true, "present": resp.HasPayload}
	if resp.HasPayload {
		body["data"] = base64.StdEncoding.EncodeToString(resp.Payload)
	}
	return body
}

// Serve runs the admin listener until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger := observability.Component("admin")
	logger.Info().Str("addr", ln.Addr().String()).Msg("admin listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
