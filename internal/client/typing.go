package client

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const typingWriteTimeout = 2 * time.Second

// TypingSender relays typing indicators. *Client implements it.
type TypingSender interface {
	SendTyping(ctx context.Context, to int64, isTyping bool) error
}

// TypingNotifier turns keystrokes into start/stop indicators for one peer.
// The first keystroke sends isTyping=true; the stop follows after idle
// without input, or at once on Sent or Leave.
type TypingNotifier struct {
	sender TypingSender
	to     int64
	idle   time.Duration
	clock  clock.Clock
	log    zerolog.Logger

	mu     sync.Mutex
	typing bool
	timer  *clock.Timer
	seq    uint64
}

// NewTypingNotifier creates a notifier for conversations with to.
func NewTypingNotifier(sender TypingSender, to int64, idle time.Duration, clk clock.Clock, logger *zerolog.Logger) *TypingNotifier {
	if clk == nil {
		clk = clock.New()
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &TypingNotifier{
		sender: sender,
		to:     to,
		idle:   idle,
		clock:  clk,
		log:    l,
	}
}

// Keystroke restarts the idle timer. A start that fails to send is retried on
// the next keystroke.
func (n *TypingNotifier) Keystroke() {
	n.mu.Lock()
	n.stopTimerLocked()
	seq := n.seq
	n.timer = n.clock.AfterFunc(n.idle, func() { n.expire(seq) })
	start := !n.typing
	n.typing = true
	n.mu.Unlock()

	if start && n.send(true) != nil {
		n.mu.Lock()
		n.typing = false
		n.mu.Unlock()
	}
}

// Sent stops the indicator because the draft was sent.
func (n *TypingNotifier) Sent() { n.halt() }

// Leave stops the indicator because the user left the conversation.
func (n *TypingNotifier) Leave() { n.halt() }

// Typing reports whether a start was sent without a matching stop.
func (n *TypingNotifier) Typing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.typing
}

func (n *TypingNotifier) halt() {
	n.mu.Lock()
	n.stopTimerLocked()
	was := n.typing
	n.typing = false
	n.mu.Unlock()

	if was {
		n.send(false)
	}
}

func (n *TypingNotifier) expire(seq uint64) {
	n.mu.Lock()
	if seq != n.seq || !n.typing {
		n.mu.Unlock()
		return
	}
	n.timer = nil
	n.typing = false
	n.mu.Unlock()

	n.send(false)
}

func (n *TypingNotifier) stopTimerLocked() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.seq++
}

func (n *TypingNotifier) send(isTyping bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), typingWriteTimeout)
	defer cancel()
	err := n.sender.SendTyping(ctx, n.to, isTyping)
	if err != nil {
		n.log.Debug().Err(err).Int64("peer_id", n.to).Bool("typing", isTyping).Msg("typing indicator not sent")
	}
	return err
}
