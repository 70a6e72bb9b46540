package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/mcrelay/internal/protocol/frame"
	"github.com/danmuck/mcrelay/internal/protocol/packet"
	"github.com/danmuck/mcrelay/internal/relay"
	"github.com/danmuck/mcrelay/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

type fakeRelay struct {
	infos    []relay.SessionInfo
	sessions map[string]*relay.Session
}

func (f *fakeRelay) Sessions() []relay.SessionInfo { return f.infos }

func (f *fakeRelay) SessionByPlayer(username string) (*relay.Session, error) {
	if s, ok := f.sessions[strings.ToLower(username)]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("relay: no session for player %q", username)
}

func do(t *testing.T, h http.Handler, method, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestHealthAndSessions(t *testing.T) {
	testlog.Start(t)

	fake := &fakeRelay{infos: []relay.SessionInfo{{Player: "Steve", Version: "1.21", State: "play"}}}
	srv := New(fake, []string{"http://localhost:3000", " "})

	code, body := do(t, srv.Handler(), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, 1, body["sessions"])

	code, body = do(t, srv.Handler(), http.MethodGet, "/sessions")
	require.Equal(t, http.StatusOK, code)
	list, ok := body["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	require.Equal(t, "Steve", list[0].(map[string]any)["player"])
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)

	srv := New(&fakeRelay{}, nil)
	do(t, srv.Handler(), http.MethodGet, "/health")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mcrelay_http_requests_total")
}

func TestRequestCookieErrors(t *testing.T) {
	testlog.Start(t)

	srv := New(&fakeRelay{}, nil)
	code, _ := do(t, srv.Handler(), http.MethodPost, "/players/steve/cookies/Bad%20Key")
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, srv.Handler(), http.MethodPost, "/players/steve/cookies/a:b?wait=never")
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, srv.Handler(), http.MethodPost, "/players/nobody/cookies/a:b")
	require.Equal(t, http.StatusNotFound, code)
}

// answerCookie plays a client that answers the next cookie request it
// receives with data.
func answerCookie(clientConn net.Conn, clientReader *bufio.Reader, data []byte) {
	_ = clientConn.SetDeadline(time.Now().Add(2 * time.Second))
	f, err := frame.ReadFrame(clientReader, frame.DefaultLimits())
	if err != nil {
		return
	}
	req := &packet.CookieRequest{}
	if err := packet.DecodePayload(req, f.Payload, packet.Clientbound, packet.V1_21); err != nil {
		return
	}
	resp := &packet.CookieResponse{Key: req.Key, HasPayload: true, Payload: data}
	id, _ := packet.Default().ID(packet.StateLogin, packet.Serverbound, packet.V1_21, resp)
	payload, _ := packet.EncodePayload(resp, packet.Serverbound, packet.V1_21)
	_ = frame.WriteFrame(clientConn, frame.Frame{ID: id, Payload: payload}, frame.DefaultLimits())
}

// loggedIn runs a 1.21 session past login start and returns the client pipe.
func loggedIn(t *testing.T) (*relay.Session, net.Conn, *bufio.Reader) {
	t.Helper()
	clientSide, clientProxy := net.Pipe()
	backendProxy, backendSide := net.Pipe()
	cfg := relay.DefaultSessionConfig()
	s := relay.NewSession(relay.NewConn(clientProxy, cfg.Limits), relay.NewConn(backendProxy, cfg.Limits), nil, cfg)
	go func() { _ = s.Run(context.Background()) }()
	t.Cleanup(func() {
		_ = clientSide.Close()
		_ = backendSide.Close()
		s.Close()
	})

	backendReader := bufio.NewReader(backendSide)
	send := func(state packet.State, p packet.Packet) {
		id, err := packet.Default().ID(state, packet.Serverbound, packet.V1_21, p)
		require.NoError(t, err)
		payload, err := packet.EncodePayload(p, packet.Serverbound, packet.V1_21)
		require.NoError(t, err)
		require.NoError(t, frame.WriteFrame(clientSide, frame.Frame{ID: id, Payload: payload}, frame.DefaultLimits()))
		_, err = frame.ReadFrame(backendReader, frame.DefaultLimits())
		require.NoError(t, err)
	}
	send(packet.StateHandshake, &packet.Handshake{ProtocolVersion: int32(packet.V1_21), ServerAddress: "localhost", ServerPort: 25565, NextState: packet.IntentLogin})
	send(packet.StateLogin, &packet.ServerLogin{Username: "Steve", HasPlayerID: true})
	return s, clientSide, bufio.NewReader(clientSide)
}

func TestRequestCookieAnswered(t *testing.T) {
	testlog.Start(t)

	session, clientConn, clientReader := loggedIn(t)
	srv := New(&fakeRelay{sessions: map[string]*relay.Session{"steve": session}}, nil)

	go answerCookie(clientConn, clientReader, []byte("hi"))

	code, body := do(t, srv.Handler(), http.MethodPost, "/players/Steve/cookies/mcrelay:profile?wait=2s")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "mcrelay:profile", body["key"])
	require.Equal(t, true, body["present"])
	require.Equal(t, "aGk=", body["data"])
}

func TestRequestCookieKeyWithSlash(t *testing.T) {
	testlog.Start(t)

	session, clientConn, clientReader := loggedIn(t)
	srv := New(&fakeRelay{sessions: map[string]*relay.Session{"steve": session}}, nil)

	for _, path := range []string{
		"/players/steve/cookies/mcrelay:worlds/nether?wait=2s",
		"/players/steve/cookies/mcrelay:worlds%2Fnether?wait=2s",
	} {
		go answerCookie(clientConn, clientReader, []byte("ok"))
		code, body := do(t, srv.Handler(), http.MethodPost, path)
		require.Equal(t, http.StatusOK, code, path)
		require.Equal(t, "mcrelay:worlds/nether", body["key"], path)
	}

	code, _ := do(t, srv.Handler(), http.MethodPost, "/players/steve/cookies/")
	require.Equal(t, http.StatusBadRequest, code)
}
