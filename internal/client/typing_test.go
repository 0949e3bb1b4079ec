package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type recordingSender struct {
	mu    sync.Mutex
	calls []bool
	down  bool
}

func (s *recordingSender) SendTyping(_ context.Context, _ int64, isTyping bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return ErrNotConnected
	}
	s.calls = append(s.calls, isTyping)
	return nil
}

func (s *recordingSender) setDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *recordingSender) snapshot() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.calls...)
}

func equalCalls(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTypingStartsOnceAndStopsWhenIdle(t *testing.T) {
	sender := &recordingSender{}
	mock := clock.NewMock()
	n := NewTypingNotifier(sender, 8, 3*time.Second, mock, nil)

	n.Keystroke()
	mock.Add(2 * time.Second)
	n.Keystroke()
	mock.Add(2 * time.Second)
	n.Keystroke()

	if got := sender.snapshot(); !equalCalls(got, []bool{true}) {
		t.Fatalf("keystrokes inside the idle window should send one start, got %v", got)
	}

	mock.Add(3 * time.Second)
	waitFor(t, "idle stop", func() bool { return equalCalls(sender.snapshot(), []bool{true, false}) })
	if n.Typing() {
		t.Fatalf("notifier still typing after idle stop")
	}
}

func TestTypingStopsImmediately(t *testing.T) {
	tests := []struct {
		name string
		stop func(*TypingNotifier)
	}{
		{name: "sent", stop: (*TypingNotifier).Sent},
		{name: "leave", stop: (*TypingNotifier).Leave},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &recordingSender{}
			mock := clock.NewMock()
			n := NewTypingNotifier(sender, 8, 3*time.Second, mock, nil)

			n.Keystroke()
			tt.stop(n)
			if got := sender.snapshot(); !equalCalls(got, []bool{true, false}) {
				t.Fatalf("expected start then stop, got %v", got)
			}

			// The idle timer was cancelled with the stop.
			mock.Add(10 * time.Second)
			time.Sleep(10 * time.Millisecond)
			if got := sender.snapshot(); len(got) != 2 {
				t.Fatalf("expected no further indicators, got %v", got)
			}
		})
	}
}

func TestTypingStopWithoutStartIsSilent(t *testing.T) {
	sender := &recordingSender{}
	n := NewTypingNotifier(sender, 8, time.Second, clock.NewMock(), nil)

	n.Sent()
	n.Leave()
	if got := sender.snapshot(); len(got) != 0 {
		t.Fatalf("expected nothing sent, got %v", got)
	}
}

func TestTypingIgnoresSendFailures(t *testing.T) {
	r := newFakeRelay(t)
	c := newTestClient(r, clock.NewMock())
	n := NewTypingNotifier(c, 8, time.Second, clock.NewMock(), nil)

	// Disconnected client: indicators fail fast and are dropped.
	n.Keystroke()
	n.Sent()
	if r.dials.Load() != 0 || n.Typing() {
		t.Fatalf("unexpected state after failed indicators")
	}
}

func TestTypingRetriesStartAfterFailedSend(t *testing.T) {
	sender := &recordingSender{down: true}
	n := NewTypingNotifier(sender, 8, 3*time.Second, clock.NewMock(), nil)

	n.Keystroke()
	if n.Typing() {
		t.Fatalf("a start that was never sent must not count as typing")
	}

	sender.setDown(false)
	n.Keystroke()
	if got := sender.snapshot(); !equalCalls(got, []bool{true}) {
		t.Fatalf("expected start after the connection came back, got %v", got)
	}
	if !n.Typing() {
		t.Fatalf("expected typing after a delivered start")
	}
}
