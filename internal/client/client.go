// Package client implements the client side of the relay: a reconnecting
// WebSocket connection, a REST fallback for sends, a de-duplicating inbox and
// the typing idle timer.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/quill-server/internal/core"
	"github.com/vovakirdan/quill-server/internal/proto"
	"github.com/vovakirdan/quill-server/internal/utils"
)

// State is the lifecycle state of the relay connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentified
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentified:
		return "identified"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrNotConnected   = errors.New("client: not connected")
	ErrConnectionLost = errors.New("client: connection lost")
	ErrAckTimeout     = errors.New("client: no echo before ack timeout")
)

// RejectedError is a command the server refused, such as a validation failure.
// It is never retried over another path.
type RejectedError struct {
	Code string
	Msg  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("client: rejected (%s): %s", e.Code, e.Msg)
}

const (
	defaultReconnectInterval = 3 * time.Second
	defaultAckTimeout        = 5 * time.Second
	defaultDialTimeout       = 10 * time.Second
	defaultEventBuffer       = 64
)

// Options configure a Client.
type Options struct {
	URL    string // ws://host/ws
	UserID int64
	Token  string

	ReconnectInterval time.Duration
	AckTimeout        time.Duration
	DialTimeout       time.Duration
	EventBuffer       int

	Clock  clock.Clock
	Logger *zerolog.Logger
}

// Draft is an outgoing direct message.
type Draft struct {
	To           int64
	Content      string
	MessageType  string
	SharedPostID *int64
	ClientID     string
}

type ack struct {
	msg *proto.Message
	err error
}

// Client holds one relay connection and re-establishes it after unexpected
// closes. Sends fail fast unless the connection is identified.
type Client struct {
	opts    Options
	clock   clock.Clock
	backoff backoff.BackOff
	log     zerolog.Logger
	events  chan proto.Outbound

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	stop     context.CancelFunc
	gen      uint64
	retry    *clock.Timer
	retrySeq uint64
	userID   int64
	pending  map[string]chan ack
}

// New creates a disconnected client.
func New(opts Options) *Client {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Client{
		opts:    opts,
		clock:   clk,
		backoff: backoff.NewConstantBackOff(opts.ReconnectInterval),
		log:     logger.With().Str("component", "relay_client").Logger(),
		events:  make(chan proto.Outbound, opts.EventBuffer),
		pending: make(map[string]chan ack),
	}
}

// Events returns relay events other than the identity reply.
func (c *Client) Events() <-chan proto.Outbound {
	return c.events
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UserID returns the identity confirmed by the server, or 0.
func (c *Client) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Connect opens the connection and completes the identity handshake.
// It cancels any pending reconnection attempt and is a no-op when a
// connection is already open or being opened.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.cancelRetryLocked()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	gen := c.beginLocked()
	c.mu.Unlock()

	return c.dial(ctx, gen, false)
}

// Disconnect closes the connection without scheduling a reconnection.
// In-flight sends fail with ErrConnectionLost.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.cancelRetryLocked()
	c.gen++
	conn, stop := c.conn, c.stop
	c.conn, c.stop = nil, nil
	c.state = StateDisconnected
	c.failPendingLocked()
	c.mu.Unlock()

	if conn != nil {
		stop()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

// SendMessage sends a direct message over the socket and waits for the
// server's echo. A missing ClientID is generated.
func (c *Client) SendMessage(ctx context.Context, d Draft) (*proto.Message, error) {
	if d.ClientID == "" {
		d.ClientID = utils.NewClientMessageID()
	}

	c.mu.Lock()
	if c.state != StateIdentified {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := c.conn
	ch := make(chan ack, 1)
	c.pending[d.ClientID] = ch
	c.mu.Unlock()
	defer c.forget(d.ClientID, ch)

	timer := c.clock.Timer(c.opts.AckTimeout)
	defer timer.Stop()

	err := c.write(ctx, conn, proto.InboundTypeDirectMessage, proto.DirectMessageData{
		To:           d.To,
		Content:      d.Content,
		MessageType:  d.MessageType,
		SharedPostID: d.SharedPostID,
		ClientID:     d.ClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	select {
	case a := <-ch:
		return a.msg, a.err
	case <-timer.C:
		return nil, ErrAckTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendTyping relays a typing indicator. Nothing is awaited.
func (c *Client) SendTyping(ctx context.Context, to int64, isTyping bool) error {
	return c.sendFireAndForget(ctx, proto.InboundTypeTyping, proto.TypingData{To: to, IsTyping: isTyping})
}

// MarkRead marks the conversation with peerID read.
func (c *Client) MarkRead(ctx context.Context, peerID int64) error {
	return c.sendFireAndForget(ctx, proto.InboundTypeMarkRead, proto.MarkReadData{PeerID: peerID})
}

func (c *Client) sendFireAndForget(ctx context.Context, typ string, data any) error {
	c.mu.Lock()
	if c.state != StateIdentified {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	if err := c.write(ctx, conn, typ, data); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	return wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload})
}

func (c *Client) beginLocked() uint64 {
	c.gen++
	c.state = StateConnecting
	return c.gen
}

// dial runs one connection attempt. A failed attempt started by the
// reconnect timer schedules the next one.
func (c *Client) dial(ctx context.Context, gen uint64, retryOnFail bool) error {
	dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	conn, userID, err := c.open(dctx)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = StateDisconnected
			if retryOnFail {
				c.scheduleLocked()
			}
		}
		c.mu.Unlock()
		return err
	}

	readCtx, stop := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.gen != gen {
		// Disconnect or another Connect won while we were dialing.
		c.mu.Unlock()
		stop()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return ErrNotConnected
	}
	c.conn = conn
	c.stop = stop
	c.userID = userID
	c.state = StateIdentified
	c.backoff.Reset()
	c.mu.Unlock()

	c.log.Info().Int64("user_id", userID).Str("url", c.opts.URL).Msg("relay connected")
	go c.readLoop(readCtx, conn)
	return nil
}

// open dials and sends identity before any other traffic.
func (c *Client) open(ctx context.Context) (*websocket.Conn, int64, error) {
	conn, _, err := websocket.Dial(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("dial: %w", err)
	}

	err = c.write(ctx, conn, proto.InboundTypeIdentity, proto.IdentityData{
		UserID:   c.opts.UserID,
		Token:    c.opts.Token,
		Protocol: proto.ProtocolVersion,
	})
	if err != nil {
		_ = conn.CloseNow()
		return nil, 0, fmt.Errorf("send identity: %w", err)
	}

	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			_ = conn.CloseNow()
			return nil, 0, fmt.Errorf("await identity: %w", err)
		}
		if out.Type == proto.OutboundTypeError && out.Error != nil {
			_ = conn.Close(websocket.StatusPolicyViolation, "identity rejected")
			return nil, 0, &RejectedError{Code: out.Error.Code, Msg: out.Error.Msg}
		}
		if out.Event != core.EventNameIdentified {
			continue
		}
		var ident proto.EventIdentified
		if err := out.Decode(&ident); err != nil {
			_ = conn.CloseNow()
			return nil, 0, fmt.Errorf("decode identity reply: %w", err)
		}
		return conn, ident.UserID, nil
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			c.dropped(conn, err)
			return
		}
		c.dispatch(out)
	}
}

func (c *Client) dispatch(out proto.Outbound) {
	switch {
	case out.Type == proto.OutboundTypeError && out.Error != nil && out.Error.ClientID != "":
		c.resolve(out.Error.ClientID, ack{err: &RejectedError{Code: out.Error.Code, Msg: out.Error.Msg}})
	case out.Event == core.EventNameNewMessage:
		var ev proto.EventNewMessage
		if err := out.Decode(&ev); err != nil {
			c.log.Warn().Err(err).Msg("malformed new_message")
			break
		}
		if ev.IsSender && ev.ClientID != "" {
			msg := ev.Message
			c.resolve(ev.ClientID, ack{msg: &msg})
		}
	}

	select {
	case c.events <- out:
	default:
		c.log.Debug().Str("event", out.Event).Msg("event buffer full, dropping")
	}
}

func (c *Client) resolve(clientID string, a ack) {
	c.mu.Lock()
	ch, ok := c.pending[clientID]
	if ok {
		delete(c.pending, clientID)
	}
	c.mu.Unlock()
	if ok {
		ch <- a
	}
}

func (c *Client) forget(clientID string, ch chan ack) {
	c.mu.Lock()
	if c.pending[clientID] == ch {
		delete(c.pending, clientID)
	}
	c.mu.Unlock()
}

// dropped handles the end of a read loop. Only the current connection
// triggers a reconnection; closes we initiated are ignored.
func (c *Client) dropped(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.stop()
	c.conn, c.stop = nil, nil
	c.state = StateDisconnected
	c.failPendingLocked()
	c.scheduleLocked()
	c.mu.Unlock()

	_ = conn.CloseNow()
	c.log.Warn().Err(err).Dur("retry_in", c.opts.ReconnectInterval).Msg("relay connection lost")
}

func (c *Client) failPendingLocked() {
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- ack{err: ErrConnectionLost}
	}
}

// scheduleLocked arms the reconnect timer unless one is already pending.
func (c *Client) scheduleLocked() {
	if c.retry != nil {
		return
	}
	wait := c.backoff.NextBackOff()
	if wait == backoff.Stop {
		return
	}
	c.retrySeq++
	seq := c.retrySeq
	c.retry = c.clock.AfterFunc(wait, func() { c.reconnect(seq) })
}

func (c *Client) cancelRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.retrySeq++
}

func (c *Client) reconnect(seq uint64) {
	c.mu.Lock()
	if c.retry == nil || c.retrySeq != seq {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	gen := c.beginLocked()
	c.mu.Unlock()

	if err := c.dial(context.Background(), gen, true); err != nil {
		c.log.Debug().Err(err).Msg("reconnect attempt failed")
	}
}
