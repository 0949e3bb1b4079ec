package core

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Presence is the derived online state of a user.
type Presence struct {
	Online       bool
	LastActiveAt time.Time // zero when the user was never seen
}

// Registry maps a user to at most one live connection.
// The most recent registration wins.
type Registry struct {
	mu       sync.RWMutex
	clients  map[int64]*Client
	lastSeen map[int64]time.Time
	clock    clock.Clock
}

// NewRegistry creates an empty registry. A nil clock uses wall time.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		clients:  make(map[int64]*Client),
		lastSeen: make(map[int64]time.Time),
		clock:    clk,
	}
}

// Register binds userID to client and returns the connection it replaced, if any.
// The replaced connection is left open; it simply stops receiving relayed events.
// A client that is already closed is not registered.
func (r *Registry) Register(userID int64, client *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-client.done:
		return nil
	default:
	}

	prev := r.clients[userID]
	r.clients[userID] = client
	r.lastSeen[userID] = r.clock.Now()
	if prev == client {
		return nil
	}
	return prev
}

// Lookup returns the live connection of userID.
func (r *Registry) Lookup(userID int64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[userID]
	return c, ok
}

// Unregister removes client only if it is still the registered connection for
// its user. A stale connection closing never evicts a newer one.
func (r *Registry) Unregister(client *Client) bool {
	userID := client.UserID()
	if userID == 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.clients[userID] != client {
		return false
	}
	delete(r.clients, userID)
	r.lastSeen[userID] = r.clock.Now()
	return true
}

// Presence reports whether userID is connected and when it was last active.
func (r *Registry) Presence(userID int64) Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, online := r.clients[userID]
	last := r.lastSeen[userID]
	if online {
		last = r.clock.Now()
	}
	return Presence{Online: online, LastActiveAt: last}
}

// Online returns the number of registered users.
func (r *Registry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
