package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeIdentity      = "identity"
	InboundTypeDirectMessage = "direct_message"
	InboundTypeTyping        = "typing_indicator"
	InboundTypeMarkRead      = "mark_read"
	InboundTypeDeleteMessage = "delete_message"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// IdentityData binds the connection to a user.
type IdentityData struct {
	UserID   int64  `json:"userId"`
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// DirectMessageData is a message from the client to another user.
type DirectMessageData struct {
	To           int64  `json:"to"`
	Content      string `json:"content"`
	MessageType  string `json:"messageType,omitempty"`
	SharedPostID *int64 `json:"sharedPostId,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
}

// TypingData starts or stops a typing indicator.
type TypingData struct {
	To       int64 `json:"to"`
	IsTyping bool  `json:"isTyping"`
}

// MarkReadData marks the whole conversation with a peer as read.
type MarkReadData struct {
	PeerID int64 `json:"peerId"`
}

// DeleteMessageData removes one of the sender's messages.
type DeleteMessageData struct {
	MessageID int64 `json:"messageId"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// PostPreview is the snapshot of a shared post.
type PostPreview struct {
	Title    string `json:"title"`
	Excerpt  string `json:"excerpt"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Message is the wire form of a stored message. It is used both in
// new_message events and REST responses.
type Message struct {
	ID           int64        `json:"id"`
	ClientID     string       `json:"clientId,omitempty"`
	SenderID     int64        `json:"senderId"`
	ReceiverID   int64        `json:"receiverId"`
	Content      string       `json:"content"`
	MessageType  string       `json:"messageType"`
	SharedPostID *int64       `json:"sharedPostId,omitempty"`
	Preview      *PostPreview `json:"preview,omitempty"`
	IsRead       bool         `json:"isRead"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// EventIdentified confirms the handshake.
type EventIdentified struct {
	UserID int64 `json:"userId"`
}

// EventNewMessage delivers a message. IsSender marks the author's own echo.
type EventNewMessage struct {
	Message
	IsSender bool `json:"isSender"`
}

// EventTyping relays a typing indicator.
type EventTyping struct {
	From     int64 `json:"from"`
	IsTyping bool  `json:"isTyping"`
}

// EventMessageDeleted tells a participant a message was removed.
type EventMessageDeleted struct {
	MessageID int64 `json:"messageId"`
	PeerID    int64 `json:"peerId"`
}

// EventConversationDeleted tells a participant the thread with PeerID is gone.
type EventConversationDeleted struct {
	PeerID int64 `json:"peerId"`
}

// EventMessagesRead is a read receipt.
type EventMessagesRead struct {
	ReaderID int64 `json:"readerId"`
	Count    int64 `json:"count"`
}

// EventNotification is a lightweight alert for badges and toasts.
type EventNotification struct {
	Kind      string `json:"kind"`
	From      int64  `json:"from"`
	MessageID int64  `json:"messageId,omitempty"`
	Preview   string `json:"preview,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code     string `json:"code"`
	Msg      string `json:"msg"`
	ClientID string `json:"clientId,omitempty"`
}

// NewEvent builds an event envelope, marshalling data.
func NewEvent(event string, data any) (Outbound, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Outbound{}, err
	}
	return Outbound{Type: OutboundTypeEvent, Event: event, Data: raw}, nil
}

// NewError builds an error envelope.
func NewError(code, msg string) Outbound {
	return Outbound{Type: OutboundTypeError, Error: &Error{Code: code, Msg: msg}}
}

// Decode unmarshals the payload of an outbound event into v.
func (o Outbound) Decode(v any) error {
	return json.Unmarshal(o.Data, v)
}
