package core

import "github.com/vovakirdan/quill-server/internal/store"

// Command represents an action requested by a connection.
// The set of commands is closed; see the types below.
type Command interface {
	isCommand()
}

// IdentityCommand binds the connection to a user.
type IdentityCommand struct {
	UserID   int64
	Token    string
	Protocol int
}

// DirectMessageCommand sends a message to another user.
type DirectMessageCommand struct {
	ClientID     string
	To           int64
	Content      string
	Kind         store.MessageKind
	SharedPostID *int64
}

// TypingCommand relays a typing state change to another user.
type TypingCommand struct {
	To       int64
	IsTyping bool
}

// MarkReadCommand marks every message received from PeerID as read.
type MarkReadCommand struct {
	PeerID int64
}

// DeleteMessageCommand removes a message sent by the connection's user.
type DeleteMessageCommand struct {
	MessageID int64
}

func (IdentityCommand) isCommand()      {}
func (DirectMessageCommand) isCommand() {}
func (TypingCommand) isCommand()        {}
func (MarkReadCommand) isCommand()      {}
func (DeleteMessageCommand) isCommand() {}
