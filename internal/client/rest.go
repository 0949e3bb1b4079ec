package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vovakirdan/quill-server/internal/proto"
)

// APIError is a non-2xx REST response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

// Status is a user's presence as reported by the server.
type Status struct {
	UserID     int64  `json:"userId"`
	Status     string `json:"status"`
	LastActive string `json:"lastActive"`
}

// REST talks to the persistence endpoints directly. It is the fallback path
// when the relay connection is unavailable.
type REST struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewREST creates a REST client for baseURL (http://host). A nil hc uses
// http.DefaultClient.
func NewREST(baseURL, token string, hc *http.Client) *REST {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &REST{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    hc,
	}
}

// Token returns the bearer token in use.
func (r *REST) Token() string {
	return r.token
}

// Login exchanges credentials for a token and keeps it for later calls.
func (r *REST) Login(ctx context.Context, username, password string) (int64, error) {
	var resp struct {
		Token  string `json:"token"`
		UserID int64  `json:"userId"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := r.do(ctx, http.MethodPost, "/api/login", body, &resp); err != nil {
		return 0, err
	}
	r.token = resp.Token
	return resp.UserID, nil
}

// SendMessage persists a message. Reusing a ClientID returns the message
// already stored under it.
func (r *REST) SendMessage(ctx context.Context, d Draft) (*proto.Message, error) {
	var msg proto.Message
	err := r.do(ctx, http.MethodPost, "/api/messages", proto.DirectMessageData{
		To:           d.To,
		Content:      d.Content,
		MessageType:  d.MessageType,
		SharedPostID: d.SharedPostID,
		ClientID:     d.ClientID,
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns the thread with peerID, oldest first.
func (r *REST) ListMessages(ctx context.Context, peerID int64, limit, offset int) ([]proto.Message, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/messages/" + strconv.FormatInt(peerID, 10)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var msgs []proto.Message
	if err := r.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkConversationRead marks everything peerID sent to the caller as read.
func (r *REST) MarkConversationRead(ctx context.Context, peerID int64) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}
	path := "/api/conversations/" + strconv.FormatInt(peerID, 10) + "/read"
	if err := r.do(ctx, http.MethodPut, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Status returns a user's presence.
func (r *REST) Status(ctx context.Context, userID int64) (*Status, error) {
	var st Status
	path := "/api/users/" + strconv.FormatInt(userID, 10) + "/status"
	if err := r.do(ctx, http.MethodGet, path, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *REST) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.NewDecoder(resp.Body).Decode(&payload) == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
