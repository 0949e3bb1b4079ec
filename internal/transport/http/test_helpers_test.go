package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/quill-server/internal/auth"
	"github.com/vovakirdan/quill-server/internal/config"
	"github.com/vovakirdan/quill-server/internal/core"
	"github.com/vovakirdan/quill-server/internal/metrics"
	"github.com/vovakirdan/quill-server/internal/proto"
	"github.com/vovakirdan/quill-server/internal/service/messages"
	"github.com/vovakirdan/quill-server/internal/store/sqlite"
)

const testSecret = "test-secret"

type testServer struct {
	ts     *httptest.Server
	store  *sqlite.SQLiteStore
	hub    *core.Hub
	auth   *auth.Service
	users  map[string]int64
	tokens map[string]string
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = testSecret
	cfg.JWTIssuer = "test"
	cfg.JWTAudience = "test"
	cfg.RateLimitPerSecond = 0
	return cfg
}

// startTestServer runs the full HTTP stack over an in-memory store with
// alice, bob and carol registered.
func startTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	}
	authService := auth.NewService(st, jwtConfig)
	msgService := messages.New(st, st, st)
	relayMetrics := metrics.New()

	disabledLogger := zerolog.Nop()
	hub := core.NewHub(msgService, auth.NewVerifier(st, jwtConfig, cfg.JWTRequired), core.HubOptions{
		Metrics: relayMetrics,
		Logger:  &disabledLogger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(Deps{
		Hub:      hub,
		Auth:     authService,
		Messages: msgService,
		Users:    st,
		Metrics:  relayMetrics,
	}, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	s := &testServer{
		ts:     ts,
		store:  st,
		hub:    hub,
		auth:   authService,
		users:  map[string]int64{},
		tokens: map[string]string{},
	}
	for _, name := range []string{"alice", "bob", "carol"} {
		token, user, err := authService.Register(context.Background(), name, "password123")
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
		s.users[name] = user.ID
		s.tokens[name] = token
	}
	return s
}

func (s *testServer) wsURL() string {
	return strings.Replace(s.ts.URL, "http", "ws", 1) + "/ws"
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, s.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// connectAs dials and completes the identity handshake.
func (s *testServer) connectAs(t *testing.T, name string) *websocket.Conn {
	t.Helper()

	conn := s.dial(t)
	send(t, conn, proto.InboundTypeIdentity, proto.IdentityData{UserID: s.users[name], Protocol: proto.ProtocolVersion})

	var ident proto.EventIdentified
	readEvent(t, conn, core.EventNameIdentified, &ident)
	if ident.UserID != s.users[name] {
		t.Fatalf("identified as %d, want %d", ident.UserID, s.users[name])
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// readEvent reads until an event named event arrives and decodes it into v.
func readEvent(t *testing.T, conn *websocket.Conn, event string, v any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if out.Type == proto.OutboundTypeEvent && out.Event == event {
			if v != nil {
				if err := out.Decode(v); err != nil {
					t.Fatalf("decode %s: %v", event, err)
				}
			}
			return
		}
	}
}

// readError reads until an error envelope arrives.
func readError(t *testing.T, conn *websocket.Conn) *proto.Error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("waiting for error: %v", err)
		}
		if out.Type == proto.OutboundTypeError {
			return out.Error
		}
	}
}

// do performs an authenticated JSON request against the server.
func (s *testServer) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+s.tokens[user])
	}

	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}
