package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/quill-server/internal/service/messages"
	"github.com/vovakirdan/quill-server/internal/store/sqlite"
)

func mustEvent[T Event](t *testing.T, ch <-chan Event) T {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if typed, ok := ev.(T); ok {
				return typed
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	var zero T
	t.Fatalf("expected %T event not received", zero)
	return zero
}

func mustNoEvent[T Event](t *testing.T, ch <-chan Event, wait time.Duration) {
	t.Helper()

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if _, ok := ev.(T); ok {
				t.Fatalf("unexpected %T event: %+v", ev, ev)
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

type countingMetrics struct {
	mu        sync.Mutex
	online    int
	persisted int
	delivered map[string]int
	dropped   map[string]int
	typing    int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{delivered: map[string]int{}, dropped: map[string]int{}}
}

func (m *countingMetrics) SetOnline(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = n
}

func (m *countingMetrics) MessagePersisted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persisted++
}

func (m *countingMetrics) EventDelivered(ev string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[ev]++
}

func (m *countingMetrics) EventDropped(ev string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[ev]++
}

func (m *countingMetrics) TypingDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing++
}

func (m *countingMetrics) counts() (online, persisted, typingDropped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online, m.persisted, m.typing
}

type testEnv struct {
	hub     *Hub
	store   *sqlite.SQLiteStore
	metrics *countingMetrics
	users   map[string]int64
}

func newTestEnv(t *testing.T, verifier IdentityVerifier) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	users := make(map[string]int64)
	for _, name := range []string{"alice", "bob", "carol"} {
		u, err := st.CreateUser(context.Background(), name, "hash")
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		users[name] = u.ID
	}

	metrics := newCountingMetrics()
	hub := NewHub(messages.New(st, st, st), verifier, HubOptions{Metrics: metrics})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	return &testEnv{hub: hub, store: st, metrics: metrics, users: users}
}

// connect registers a new connection and completes the handshake as name.
func (e *testEnv) connect(t *testing.T, connID, name string) *Client {
	t.Helper()

	c := NewClient(connID, 0)
	e.hub.RegisterClient(c)
	c.Commands <- IdentityCommand{UserID: e.users[name]}
	ev := mustEvent[IdentifiedEvent](t, c.Events)
	if ev.UserID != e.users[name] {
		t.Fatalf("identified as %d, want %d", ev.UserID, e.users[name])
	}
	return c
}
