package core

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-connection command and event buffer size.
const DefaultBuffer = 32

// Client is one live connection as seen by the core layer.
// It stays anonymous (UserID 0) until an identity command succeeds.
type Client struct {
	ID       string
	Commands chan Command
	Events   chan Event

	userID    atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with initialized channels.
func NewClient(id string, buffer int) *Client {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Client{
		ID:       id,
		Commands: make(chan Command, buffer),
		Events:   make(chan Event, buffer),
		done:     make(chan struct{}),
	}
}

// UserID returns the identified user, or 0 for an anonymous connection.
func (c *Client) UserID() int64 {
	return c.userID.Load()
}

// Identified reports whether the connection completed the handshake.
func (c *Client) Identified() bool {
	return c.UserID() != 0
}

// Done is closed once the connection has been unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Deliver queues an event without blocking. It returns false when the
// connection is closed or its buffer is full; the event is dropped.
func (c *Client) Deliver(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) setUserID(id int64) {
	c.userID.Store(id)
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
