package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/quill-server/internal/core"
	"github.com/vovakirdan/quill-server/internal/proto"
)

// fakeRelay is a minimal relay endpoint the tests can break at will.
type fakeRelay struct {
	srv *httptest.Server

	dials    atomic.Int32
	refuse   atomic.Bool
	echo     atomic.Bool
	rejectDM atomic.Bool
	nextID   atomic.Int64

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []proto.Inbound
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()

	r := &fakeRelay{}
	r.echo.Store(true)
	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRelay) url() string {
	return strings.Replace(r.srv.URL, "http", "ws", 1) + "/ws"
}

func (r *fakeRelay) serve(w http.ResponseWriter, req *http.Request) {
	r.dials.Add(1)
	if r.refuse.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns = append(r.conns, conn)
	r.mu.Unlock()
	defer conn.CloseNow()

	ctx := req.Context()
	for {
		var in proto.Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return
		}
		r.mu.Lock()
		r.received = append(r.received, in)
		r.mu.Unlock()

		switch in.Type {
		case proto.InboundTypeIdentity:
			var data proto.IdentityData
			_ = json.Unmarshal(in.Data, &data)
			out, _ := proto.NewEvent(core.EventNameIdentified, proto.EventIdentified{UserID: data.UserID})
			_ = wsjson.Write(ctx, conn, out)
		case proto.InboundTypeDirectMessage:
			var data proto.DirectMessageData
			_ = json.Unmarshal(in.Data, &data)
			if r.rejectDM.Load() {
				out := proto.NewError(core.ErrCodeValidation, "message content is required")
				out.Error.ClientID = data.ClientID
				_ = wsjson.Write(ctx, conn, out)
				continue
			}
			if !r.echo.Load() {
				continue
			}
			out, _ := proto.NewEvent(core.EventNameNewMessage, proto.EventNewMessage{
				Message: proto.Message{
					ID:         r.nextID.Add(1),
					ClientID:   data.ClientID,
					ReceiverID: data.To,
					Content:    data.Content,
					CreatedAt:  time.Now(),
				},
				IsSender: true,
			})
			_ = wsjson.Write(ctx, conn, out)
		}
	}
}

// kill drops every open connection without a close handshake.
func (r *fakeRelay) kill() {
	r.mu.Lock()
	conns := r.conns
	r.conns = nil
	r.mu.Unlock()
	for _, c := range conns {
		_ = c.CloseNow()
	}
}

func (r *fakeRelay) countReceived(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, in := range r.received {
		if in.Type == typ {
			n++
		}
	}
	return n
}

func (r *fakeRelay) firstReceived() proto.Inbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.received) == 0 {
		return proto.Inbound{}
	}
	return r.received[0]
}

func (c *Client) retryPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry != nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func connectClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(c.Disconnect)
}
