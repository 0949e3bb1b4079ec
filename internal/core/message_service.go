package core

import (
	"context"

	"github.com/vovakirdan/quill-server/internal/service/messages"
	"github.com/vovakirdan/quill-server/internal/store"
)

// MessageService abstracts conversation persistence for the Hub.
type MessageService interface {
	// Send validates and stores a draft. created is false when the draft's
	// client id was already stored and the existing message is returned.
	Send(ctx context.Context, d messages.Draft) (msg *store.Message, created bool, err error)

	// DeleteMessage removes a message authored by byUserID. It returns nil
	// when the message no longer exists.
	DeleteMessage(ctx context.Context, byUserID, id int64) (*store.Message, error)

	// DeleteConversation removes every message between two users.
	DeleteConversation(ctx context.Context, userA, userB int64) (int64, error)

	// MarkAllRead marks messages from senderID to receiverID read.
	MarkAllRead(ctx context.Context, senderID, receiverID int64) (int64, error)
}

// IdentityVerifier resolves the user a connection claims to be.
type IdentityVerifier interface {
	// Verify returns the authoritative user id. Rejections wrap ErrUnauthorized.
	Verify(ctx context.Context, claimedUserID int64, token string) (int64, error)
}

// Observer is told about changes other subsystems may cache, such as feeds
// or notification counters.
type Observer interface {
	MessageCreated(msg *store.Message)
	MessageDeleted(msg *store.Message)
	ConversationDeleted(userA, userB int64)
}

// Metrics receives relay counters.
type Metrics interface {
	SetOnline(n int)
	MessagePersisted()
	EventDelivered(event string)
	EventDropped(event string)
	TypingDropped()
}

type nopObserver struct{}

func (nopObserver) MessageCreated(*store.Message)    {}
func (nopObserver) MessageDeleted(*store.Message)    {}
func (nopObserver) ConversationDeleted(int64, int64) {}

type nopMetrics struct{}

func (nopMetrics) SetOnline(int)         {}
func (nopMetrics) MessagePersisted()     {}
func (nopMetrics) EventDelivered(string) {}
func (nopMetrics) EventDropped(string)   {}
func (nopMetrics) TypingDropped()        {}
