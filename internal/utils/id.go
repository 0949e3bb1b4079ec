package utils

import "github.com/google/uuid"

// NewID returns a random identifier for connections.
func NewID() string {
	return uuid.NewString()
}

// NewClientMessageID returns the idempotency key a client attaches to one
// logical send. Retries of that send must reuse it.
func NewClientMessageID() string {
	return uuid.NewString()
}
