package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vovakirdan/quill-server/internal/store"
)

const (
	// MaxContentLength is the maximum message length in runes.
	MaxContentLength = 5000
	// ExcerptLength is the number of runes of a post body kept in a share preview.
	ExcerptLength = 150

	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Validation errors. All of them are reported to the caller and never retried.
var (
	ErrInvalidUser        = errors.New("invalid user id")
	ErrEmptyContent       = errors.New("message content is required")
	ErrContentTooLong     = errors.New("message content is too long")
	ErrSelfMessage        = errors.New("cannot send a message to yourself")
	ErrReceiverNotFound   = errors.New("receiver not found")
	ErrInvalidKind        = errors.New("invalid message type")
	ErrMissingSharedPost  = errors.New("shared post id is required")
	ErrSharedPostNotFound = errors.New("shared post not found")
	ErrUnexpectedPost     = errors.New("text messages cannot reference a post")
)

var (
	// ErrNotSender is returned when someone other than the sender deletes a message.
	ErrNotSender = errors.New("only the sender can delete a message")
	// ErrMessageNotFound is returned by GetMessage for unknown ids.
	ErrMessageNotFound = errors.New("message not found")
)

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidUser, ErrEmptyContent, ErrContentTooLong, ErrSelfMessage, ErrReceiverNotFound,
		ErrInvalidKind, ErrMissingSharedPost, ErrSharedPostNotFound, ErrUnexpectedPost,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Draft is an unsent message as submitted by a client.
type Draft struct {
	ClientID     string
	SenderID     int64
	ReceiverID   int64
	Content      string
	Kind         store.MessageKind
	SharedPostID *int64
	// Preview is used only when no post lookup is configured.
	Preview *store.PostPreview
}

// Service provides conversation and message business logic.
type Service struct {
	messages store.MessageStore
	users    store.UserStore
	posts    store.PostStore
}

// New creates a new message service. posts may be nil, in which case a
// shared-post draft must carry its own preview.
func New(messages store.MessageStore, users store.UserStore, posts store.PostStore) *Service {
	return &Service{
		messages: messages,
		users:    users,
		posts:    posts,
	}
}

// Send validates a draft and persists it. The returned bool is false when the
// draft's client id was already stored, in which case the existing message is
// returned and nothing new is written.
func (s *Service) Send(ctx context.Context, d Draft) (*store.Message, bool, error) {
	msg, err := s.prepare(ctx, d)
	if err != nil {
		return nil, false, err
	}

	created, err := s.messages.CreateMessage(ctx, msg)
	if err != nil {
		return nil, false, fmt.Errorf("create message: %w", err)
	}
	return msg, created, nil
}

func (s *Service) prepare(ctx context.Context, d Draft) (*store.Message, error) {
	if d.SenderID <= 0 || d.ReceiverID <= 0 {
		return nil, ErrInvalidUser
	}
	if d.SenderID == d.ReceiverID {
		return nil, ErrSelfMessage
	}

	content := strings.TrimSpace(d.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, ErrContentTooLong
	}

	if s.users != nil {
		exists, err := s.users.UserExists(ctx, d.ReceiverID)
		if err != nil {
			return nil, fmt.Errorf("check receiver: %w", err)
		}
		if !exists {
			return nil, ErrReceiverNotFound
		}
	}

	msg := &store.Message{
		ClientID:   d.ClientID,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Content:    content,
		Kind:       d.Kind,
	}

	switch d.Kind {
	case "", store.MessageKindText:
		if d.SharedPostID != nil {
			return nil, ErrUnexpectedPost
		}
		msg.Kind = store.MessageKindText
	case store.MessageKindSharedPost:
		if d.SharedPostID == nil || *d.SharedPostID <= 0 {
			return nil, ErrMissingSharedPost
		}
		preview, err := s.snapshot(ctx, *d.SharedPostID, d.Preview)
		if err != nil {
			return nil, err
		}
		postID := *d.SharedPostID
		msg.SharedPostID = &postID
		msg.Preview = preview
	default:
		return nil, ErrInvalidKind
	}

	return msg, nil
}

// snapshot captures the preview of a post as it is right now.
func (s *Service) snapshot(ctx context.Context, postID int64, fallback *store.PostPreview) (*store.PostPreview, error) {
	if s.posts == nil {
		if fallback == nil || strings.TrimSpace(fallback.Title) == "" {
			return nil, ErrSharedPostNotFound
		}
		preview := *fallback
		preview.Excerpt = excerpt(preview.Excerpt)
		return &preview, nil
	}

	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSharedPostNotFound
		}
		return nil, fmt.Errorf("lookup shared post: %w", err)
	}

	return &store.PostPreview{
		Title:    post.Title,
		Excerpt:  excerpt(post.Body),
		ImageURL: post.ImageURL,
	}, nil
}

func excerpt(body string) string {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= ExcerptLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:ExcerptLength])
}

// GetMessage returns a single message.
func (s *Service) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	msg, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the thread between two users, oldest first.
// Malformed identities yield an empty list rather than an error.
func (s *Service) ListMessages(ctx context.Context, userA, userB int64, limit, offset int) ([]*store.Message, error) {
	if userA <= 0 || userB <= 0 {
		return []*store.Message{}, nil
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	msgs, err := s.messages.ListMessages(ctx, userA, userB, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// MarkRead marks one message read. Marking an already read message succeeds.
// Returns false when the message does not exist.
func (s *Service) MarkRead(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	return s.messages.MarkRead(ctx, id)
}

// MarkAllRead marks every message from sender to receiver read.
func (s *Service) MarkAllRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	if senderID <= 0 || receiverID <= 0 {
		return 0, ErrInvalidUser
	}
	return s.messages.MarkAllRead(ctx, senderID, receiverID)
}

// ListConversations returns the conversation summaries of a user.
func (s *Service) ListConversations(ctx context.Context, userID int64) ([]*store.ConversationSummary, error) {
	if userID <= 0 {
		return []*store.ConversationSummary{}, nil
	}
	return s.messages.ListConversations(ctx, userID)
}

// DeleteMessage removes a message sent by byUserID. A missing message is not
// an error; the returned message is nil in that case.
func (s *Service) DeleteMessage(ctx context.Context, byUserID, id int64) (*store.Message, error) {
	msg, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg.SenderID != byUserID {
		return nil, ErrNotSender
	}

	deleted, err := s.messages.DeleteMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	if !deleted {
		// Lost a race with another delete; same outcome.
		return nil, nil
	}
	return msg, nil
}

// DeleteConversation removes every message between two users. Either
// participant may call it and it cannot be undone.
func (s *Service) DeleteConversation(ctx context.Context, userA, userB int64) (int64, error) {
	if userA <= 0 || userB <= 0 {
		return 0, ErrInvalidUser
	}
	n, err := s.messages.DeleteConversation(ctx, userA, userB)
	if err != nil {
		return 0, fmt.Errorf("delete conversation: %w", err)
	}
	return n, nil
}
