package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a user in the system.
// Users are owned by the account subsystem; messaging only reads them.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Post is the subset of a blog post that messaging needs for share previews.
type Post struct {
	ID        int64
	AuthorID  int64
	Title     string
	Body      string
	ImageURL  string
	UpdatedAt time.Time
}

// MessageKind tags the payload carried by a message.
type MessageKind string

const (
	MessageKindText       MessageKind = "text"
	MessageKindSharedPost MessageKind = "shared_post"
)

// PostPreview is a snapshot of a shared post taken when the message was sent.
// It is never refreshed from the post afterwards.
type PostPreview struct {
	Title    string
	Excerpt  string
	ImageURL string
}

// Message represents a persisted direct message between two users.
type Message struct {
	ID           int64
	ClientID     string // optional per-sender idempotency key
	SenderID     int64
	ReceiverID   int64
	Content      string
	Read         bool
	Kind         MessageKind
	SharedPostID *int64
	Preview      *PostPreview
	CreatedAt    time.Time
}

// Peer returns the other participant of the message as seen by userID.
func (m *Message) Peer(userID int64) int64 {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// ConversationSummary is the per-peer projection used for a conversation list.
type ConversationSummary struct {
	PeerID      int64
	LastMessage *Message
	UnreadCount int
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// UserExists reports whether a user with the given ID exists.
	UserExists(ctx context.Context, id int64) (bool, error)
}

// PostStore provides read access to blog posts for share previews.
type PostStore interface {
	// CreatePost stores a post. Used by the blog subsystem and tests.
	CreatePost(ctx context.Context, post *Post) error

	// UpdatePost overwrites title, body and image of an existing post.
	UpdatePost(ctx context.Context, post *Post) error

	// GetPost retrieves a post by ID.
	GetPost(ctx context.Context, id int64) (*Post, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a message and fills in ID and CreatedAt.
	// When msg.ClientID is set and a message with the same sender and client ID
	// already exists, the stored message is copied into msg and created is false.
	CreateMessage(ctx context.Context, msg *Message) (created bool, err error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// ListMessages returns messages exchanged between two users in either
	// direction, oldest first.
	ListMessages(ctx context.Context, userA, userB int64, limit, offset int) ([]*Message, error)

	// MarkRead sets the read flag on one message.
	// Returns false if the message does not exist.
	MarkRead(ctx context.Context, id int64) (bool, error)

	// MarkAllRead flips every unread message from sender to receiver.
	// Returns the number of messages changed.
	MarkAllRead(ctx context.Context, senderID, receiverID int64) (int64, error)

	// ListConversations returns one summary per peer of userID, most recent first.
	ListConversations(ctx context.Context, userID int64) ([]*ConversationSummary, error)

	// DeleteMessage hard-deletes a message. Returns false if nothing was deleted.
	DeleteMessage(ctx context.Context, id int64) (bool, error)

	// DeleteConversation removes every message between two users.
	// Returns the number of deleted messages.
	DeleteConversation(ctx context.Context, userA, userB int64) (int64, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	PostStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
