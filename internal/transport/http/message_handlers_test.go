package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/vovakirdan/quill-server/internal/core"
	"github.com/vovakirdan/quill-server/internal/proto"
	"github.com/vovakirdan/quill-server/internal/store"
)

func TestRESTSendRelaysToConnectedPeer(t *testing.T) {
	s := startTestServer(t, testConfig())
	bob := s.connectAs(t, "bob")

	resp := s.do(t, http.MethodPost, "/api/messages", "alice", SendMessageRequest{
		To:      s.users["bob"],
		Content: "over rest",
	})
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var created proto.Message
	decodeBody(t, resp, &created)

	var got proto.EventNewMessage
	readEvent(t, bob, core.EventNameNewMessage, &got)
	if got.ID != created.ID || got.Content != "over rest" {
		t.Fatalf("unexpected relay: %+v", got)
	}
}

func TestRESTFallbackWithSameClientIDIsExactlyOnce(t *testing.T) {
	s := startTestServer(t, testConfig())
	alice := s.connectAs(t, "alice")

	// The socket send lands, but suppose its echo never reached the client.
	send(t, alice, proto.InboundTypeDirectMessage, proto.DirectMessageData{
		To:       s.users["bob"],
		Content:  "exactly once",
		ClientID: "retry-key",
	})
	var echo proto.EventNewMessage
	readEvent(t, alice, core.EventNameNewMessage, &echo)

	resp := s.do(t, http.MethodPost, "/api/messages", "alice", SendMessageRequest{
		To:       s.users["bob"],
		Content:  "exactly once",
		ClientID: "retry-key",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var retried proto.Message
	decodeBody(t, resp, &retried)
	if retried.ID != echo.ID {
		t.Fatalf("retry created message %d, want existing %d", retried.ID, echo.ID)
	}

	list := s.do(t, http.MethodGet, fmt.Sprintf("/api/messages/%d", s.users["bob"]), "alice", nil)
	var msgs []proto.Message
	decodeBody(t, list, &msgs)
	if len(msgs) != 1 {
		t.Fatalf("expected one stored message, got %d", len(msgs))
	}
}

func TestRESTSendValidation(t *testing.T) {
	s := startTestServer(t, testConfig())

	tests := []struct {
		name string
		req  SendMessageRequest
		code int
	}{
		{name: "empty", req: SendMessageRequest{To: s.users["bob"], Content: " "}, code: http.StatusBadRequest},
		{name: "self", req: SendMessageRequest{To: s.users["alice"], Content: "me"}, code: http.StatusBadRequest},
		{name: "unknown receiver", req: SendMessageRequest{To: 9999, Content: "hi"}, code: http.StatusBadRequest},
		{name: "bad type", req: SendMessageRequest{To: s.users["bob"], Content: "hi", MessageType: "voice"}, code: http.StatusBadRequest},
		{name: "missing recipient", req: SendMessageRequest{Content: "hi"}, code: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/api/messages", "alice", tt.req)
			if resp.StatusCode != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, resp.StatusCode)
			}
		})
	}
}

func TestRESTListMessagesAscendingAndPaged(t *testing.T) {
	s := startTestServer(t, testConfig())

	for i := 0; i < 5; i++ {
		from, to := "alice", "bob"
		if i%2 == 1 {
			from, to = "bob", "alice"
		}
		resp := s.do(t, http.MethodPost, "/api/messages", from, SendMessageRequest{To: s.users[to], Content: fmt.Sprintf("m%d", i)})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("send %d: status %d", i, resp.StatusCode)
		}
	}

	resp := s.do(t, http.MethodGet, fmt.Sprintf("/api/messages/%d?limit=2&offset=1", s.users["alice"]), "bob", nil)
	var page []proto.Message
	decodeBody(t, resp, &page)
	if len(page) != 2 || page[0].Content != "m1" || page[1].Content != "m2" {
		t.Fatalf("unexpected page: %+v", page)
	}

	resp = s.do(t, http.MethodGet, "/api/messages/not-a-number", "bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("malformed peer should yield an empty list, got status %d", resp.StatusCode)
	}
	var empty []proto.Message
	decodeBody(t, resp, &empty)
	if len(empty) != 0 {
		t.Fatalf("expected empty list, got %d", len(empty))
	}
}

func TestRESTDeleteMessage(t *testing.T) {
	s := startTestServer(t, testConfig())
	bob := s.connectAs(t, "bob")

	resp := s.do(t, http.MethodPost, "/api/messages", "alice", SendMessageRequest{To: s.users["bob"], Content: "oops"})
	var msg proto.Message
	decodeBody(t, resp, &msg)
	path := fmt.Sprintf("/api/messages/%d", msg.ID)

	if resp := s.do(t, http.MethodDelete, path, "bob", nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-sender delete: expected 403, got %d", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodDelete, path, "alice", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("sender delete: expected 204, got %d", resp.StatusCode)
	}

	var deleted proto.EventMessageDeleted
	readEvent(t, bob, core.EventNameMessageDeleted, &deleted)
	if deleted.MessageID != msg.ID {
		t.Fatalf("unexpected delete notice: %+v", deleted)
	}

	// Stale reference is still a success.
	if resp := s.do(t, http.MethodDelete, path, "alice", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("repeat delete: expected 204, got %d", resp.StatusCode)
	}
}

func TestRESTConversationsAndRead(t *testing.T) {
	s := startTestServer(t, testConfig())

	post := func(from, to, content string) proto.Message {
		resp := s.do(t, http.MethodPost, "/api/messages", from, SendMessageRequest{To: s.users[to], Content: content})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("send: status %d", resp.StatusCode)
		}
		var m proto.Message
		decodeBody(t, resp, &m)
		return m
	}

	post("bob", "alice", "b1")
	first := post("bob", "alice", "b2")
	post("carol", "alice", "c1")

	resp := s.do(t, http.MethodGet, "/api/conversations", "alice", nil)
	var convs []ConversationResponse
	decodeBody(t, resp, &convs)
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].PeerID != s.users["carol"] || convs[1].PeerID != s.users["bob"] {
		t.Fatalf("conversations not ordered by recency: %+v", convs)
	}
	if convs[1].UnreadCount != 2 || convs[1].LastMessage.Content != "b2" {
		t.Fatalf("unexpected bob summary: %+v", convs[1])
	}

	// Only the receiver may mark a single message read.
	if resp := s.do(t, http.MethodPut, fmt.Sprintf("/api/messages/%d/read", first.ID), "bob", nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("sender mark read: expected 403, got %d", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodPut, fmt.Sprintf("/api/messages/%d/read", first.ID), "alice", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("mark read: expected 204, got %d", resp.StatusCode)
	}

	resp = s.do(t, http.MethodPut, fmt.Sprintf("/api/conversations/%d/read", s.users["bob"]), "alice", nil)
	var count CountResponse
	decodeBody(t, resp, &count)
	if count.Count != 1 {
		t.Fatalf("expected 1 remaining unread, got %d", count.Count)
	}

	resp = s.do(t, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", s.users["carol"]), "alice", nil)
	decodeBody(t, resp, &count)
	if count.Count != 1 {
		t.Fatalf("expected 1 deleted, got %d", count.Count)
	}

	resp = s.do(t, http.MethodGet, "/api/conversations", "alice", nil)
	decodeBody(t, resp, &convs)
	if len(convs) != 1 || convs[0].UnreadCount != 0 {
		t.Fatalf("unexpected conversations after cleanup: %+v", convs)
	}
}

func TestRESTSharedPostPreview(t *testing.T) {
	s := startTestServer(t, testConfig())

	post := &store.Post{AuthorID: s.users["carol"], Title: "Channels", Body: "Do not communicate by sharing memory."}
	if err := s.store.CreatePost(context.Background(), post); err != nil {
		t.Fatalf("create post: %v", err)
	}

	resp := s.do(t, http.MethodPost, "/api/messages", "alice", SendMessageRequest{
		To:           s.users["bob"],
		Content:      "read this",
		MessageType:  string(store.MessageKindSharedPost),
		SharedPostID: &post.ID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var msg proto.Message
	decodeBody(t, resp, &msg)
	if msg.Preview == nil || msg.Preview.Title != "Channels" || !strings.HasPrefix(msg.Preview.Excerpt, "Do not") {
		t.Fatalf("unexpected preview: %+v", msg.Preview)
	}
}

func TestUserStatus(t *testing.T) {
	s := startTestServer(t, testConfig())

	resp := s.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d/status", s.users["bob"]), "alice", nil)
	var status StatusResponse
	decodeBody(t, resp, &status)
	if status.Status != "offline" || status.LastActive != "never" || status.LastActiveAt != nil {
		t.Fatalf("unexpected status for unseen user: %+v", status)
	}

	s.connectAs(t, "bob")
	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d/status", s.users["bob"]), "alice", nil)
	decodeBody(t, resp, &status)
	if status.Status != "online" {
		t.Fatalf("expected online, got %+v", status)
	}

	if resp := s.do(t, http.MethodGet, "/api/users/9999/status", "alice", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown user: expected 404, got %d", resp.StatusCode)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	s := startTestServer(t, testConfig())

	resp := s.do(t, http.MethodPost, "/api/register", "", RegisterRequest{Username: "dave", Password: "password123"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	var reg AuthResponse
	decodeBody(t, resp, &reg)
	if reg.Token == "" || reg.UserID == 0 {
		t.Fatalf("unexpected register response: %+v", reg)
	}

	if resp := s.do(t, http.MethodPost, "/api/register", "", RegisterRequest{Username: "dave", Password: "password123"}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", resp.StatusCode)
	}

	if resp := s.do(t, http.MethodPost, "/api/login", "", LoginRequest{Username: "dave", Password: "nope"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", resp.StatusCode)
	}

	resp = s.do(t, http.MethodPost, "/api/login", "", LoginRequest{Username: "dave", Password: "password123"})
	var login AuthResponse
	decodeBody(t, resp, &login)
	if login.UserID != reg.UserID {
		t.Fatalf("login returned user %d, want %d", login.UserID, reg.UserID)
	}
}
