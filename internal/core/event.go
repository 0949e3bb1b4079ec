package core

import "github.com/vovakirdan/quill-server/internal/store"

// Event names as they appear on the wire.
const (
	EventNameIdentified          = "identified"
	EventNameNewMessage          = "new_message"
	EventNameTyping              = "typing_indicator"
	EventNameMessageDeleted      = "message_deleted"
	EventNameConversationDeleted = "conversation_deleted"
	EventNameMessagesRead        = "messages_read"
	EventNameNotification        = "notification"
	EventNameError               = "error"
)

// NotificationKindMessage marks a notification about a new direct message.
const NotificationKindMessage = "message"

// Event is sent to connections to describe what happened in the system.
// The set of events is closed; see the types below.
type Event interface {
	Name() string
	isEvent()
}

// IdentifiedEvent confirms a successful handshake.
type IdentifiedEvent struct {
	UserID int64
}

// NewMessageEvent carries a persisted message. IsSender is true on the echo
// sent back to the author.
type NewMessageEvent struct {
	Message  *store.Message
	IsSender bool
}

// TypingEvent tells the receiver that From started or stopped typing.
type TypingEvent struct {
	From     int64
	IsTyping bool
}

// MessageDeletedEvent tells a participant that a message is gone.
type MessageDeletedEvent struct {
	MessageID int64
	PeerID    int64
}

// ConversationDeletedEvent tells a participant that PeerID wiped their thread.
type ConversationDeletedEvent struct {
	PeerID int64
}

// MessagesReadEvent tells a sender that ReaderID has read Count messages.
type MessagesReadEvent struct {
	ReaderID int64
	Count    int64
}

// NotificationEvent is a lightweight alert for the notification badge.
type NotificationEvent struct {
	Kind      string
	From      int64
	MessageID int64
	Preview   string
}

// ErrorEvent reports a failed command to the connection that issued it.
// ClientID is set when the failed command was a direct message carrying one.
type ErrorEvent struct {
	Err      *CoreError
	ClientID string
}

func (IdentifiedEvent) Name() string          { return EventNameIdentified }
func (NewMessageEvent) Name() string          { return EventNameNewMessage }
func (TypingEvent) Name() string              { return EventNameTyping }
func (MessageDeletedEvent) Name() string      { return EventNameMessageDeleted }
func (ConversationDeletedEvent) Name() string { return EventNameConversationDeleted }
func (MessagesReadEvent) Name() string        { return EventNameMessagesRead }
func (NotificationEvent) Name() string        { return EventNameNotification }
func (ErrorEvent) Name() string               { return EventNameError }

func (IdentifiedEvent) isEvent()          {}
func (NewMessageEvent) isEvent()          {}
func (TypingEvent) isEvent()              {}
func (MessageDeletedEvent) isEvent()      {}
func (ConversationDeletedEvent) isEvent() {}
func (MessagesReadEvent) isEvent()        {}
func (NotificationEvent) isEvent()        {}
func (ErrorEvent) isEvent()               {}
