package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/quill-server/internal/proto"
	"github.com/vovakirdan/quill-server/internal/service/messages"
	"github.com/vovakirdan/quill-server/internal/store"
)

const notificationPreviewLength = 80

// HubOptions carries optional Hub collaborators. Zero values are replaced
// with no-op implementations.
type HubOptions struct {
	Registry *Registry
	Observer Observer
	Metrics  Metrics
	Logger   *zerolog.Logger
}

// Hub relays events between identified connections and persists messages.
// Every connection gets its own worker, so commands from one connection are
// handled in order while connections proceed independently.
type Hub struct {
	registry *Registry
	messages MessageService
	verifier IdentityVerifier
	observer Observer
	metrics  Metrics
	log      *zerolog.Logger

	register chan *Client
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewHub creates a new relay hub. verifier may be nil, in which case any
// positive user id is accepted.
func NewHub(svc MessageService, verifier IdentityVerifier, opts HubOptions) *Hub {
	if opts.Registry == nil {
		opts.Registry = NewRegistry(nil)
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	return &Hub{
		registry: opts.Registry,
		messages: svc,
		verifier: verifier,
		observer: opts.Observer,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		register: make(chan *Client, 64),
		done:     make(chan struct{}),
	}
}

// Registry exposes the connection registry, used for presence lookups.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run starts workers for registered connections until ctx is cancelled.
// It waits for all workers to stop before returning.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.serve(ctx, client)
			}()
		}
	}
}

// RegisterClient attaches a new anonymous connection to the hub.
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// UnregisterClient detaches a connection. Its registry entry is removed only
// if no newer connection has replaced it.
func (h *Hub) UnregisterClient(client *Client) {
	client.close()
	if h.registry.Unregister(client) {
		h.metrics.SetOnline(h.registry.Online())
		h.log.Debug().Int64("user_id", client.UserID()).Str("conn_id", client.ID).Msg("user offline")
	}
}

func (h *Hub) serve(ctx context.Context, client *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.done:
			return
		case cmd := <-client.Commands:
			h.handle(ctx, client, cmd)
		}
	}
}

func (h *Hub) handle(ctx context.Context, client *Client, cmd Command) {
	if ident, ok := cmd.(IdentityCommand); ok {
		if err := h.identify(ctx, client, ident); err != nil {
			h.fail(client, err)
		}
		return
	}

	userID := client.UserID()
	if userID == 0 || !h.current(client) {
		// A replaced connection lost its registry entry and may not act for the user.
		if dm, ok := cmd.(DirectMessageCommand); ok {
			h.deliver(client, ErrorEvent{Err: ToCoreError(ErrNotIdentified), ClientID: dm.ClientID})
			return
		}
		h.fail(client, ErrNotIdentified)
		return
	}

	var err error
	switch c := cmd.(type) {
	case DirectMessageCommand:
		if _, err := h.SendDirectMessage(ctx, client, userID, c); err != nil {
			h.deliver(client, ErrorEvent{Err: ToCoreError(err), ClientID: c.ClientID})
		}
	case TypingCommand:
		h.RelayTyping(userID, c)
	case MarkReadCommand:
		_, err = h.MarkConversationRead(ctx, userID, c.PeerID)
	case DeleteMessageCommand:
		err = h.DeleteMessage(ctx, client, userID, c.MessageID)
	default:
		err = fmt.Errorf("%w: unknown command %T", ErrBadRequest, cmd)
	}
	if err != nil {
		h.fail(client, err)
	}
}

func (h *Hub) identify(ctx context.Context, client *Client, cmd IdentityCommand) error {
	if cmd.Protocol != 0 && cmd.Protocol != proto.ProtocolVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, cmd.Protocol, proto.ProtocolVersion)
	}

	userID := cmd.UserID
	if h.verifier != nil {
		verified, err := h.verifier.Verify(ctx, cmd.UserID, cmd.Token)
		if err != nil {
			h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("identity rejected")
			return err
		}
		userID = verified
	}
	if userID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrUnauthorized)
	}

	if current := client.UserID(); current != 0 && current != userID {
		return ErrAlreadyIdentified
	}

	client.setUserID(userID)
	if replaced := h.registry.Register(userID, client); replaced != nil {
		h.log.Debug().Int64("user_id", userID).Str("conn_id", client.ID).Str("replaced_conn_id", replaced.ID).Msg("connection replaced")
	}
	select {
	case <-client.done:
		// Closed while the handshake was in flight. Register refused it, or
		// UnregisterClient removes it after the close.
		h.log.Debug().Int64("user_id", userID).Str("conn_id", client.ID).Msg("identified after close")
		return nil
	default:
	}
	h.metrics.SetOnline(h.registry.Online())
	h.log.Debug().Int64("user_id", userID).Str("conn_id", client.ID).Msg("user online")

	h.deliver(client, IdentifiedEvent{UserID: userID})
	return nil
}

// SendDirectMessage persists a message from senderID and relays it. origin is
// the connection that submitted it, or nil for REST; a non-nil origin must be
// the sender's registered connection. The receiver gets new_message and a
// notification if connected and the sender's registered connection gets the
// echo. A client id that was already stored is echoed again but not
// re-delivered to the receiver.
func (h *Hub) SendDirectMessage(ctx context.Context, origin *Client, senderID int64, cmd DirectMessageCommand) (*store.Message, error) {
	if h.messages == nil {
		return nil, ErrUnavailable
	}
	if origin != nil && !h.current(origin) {
		return nil, ErrNotIdentified
	}

	msg, created, err := h.messages.Send(ctx, messages.Draft{
		ClientID:     cmd.ClientID,
		SenderID:     senderID,
		ReceiverID:   cmd.To,
		Content:      cmd.Content,
		Kind:         cmd.Kind,
		SharedPostID: cmd.SharedPostID,
	})
	if err != nil {
		if !messages.IsValidation(err) {
			h.log.Error().Err(err).Int64("user_id", senderID).Int64("peer_id", cmd.To).Msg("persist message")
		}
		return nil, err
	}

	if created {
		h.metrics.MessagePersisted()
		h.observer.MessageCreated(msg)
		if receiver, ok := h.registry.Lookup(msg.ReceiverID); ok {
			h.deliver(receiver, NewMessageEvent{Message: msg})
			h.deliver(receiver, NotificationEvent{
				Kind:      NotificationKindMessage,
				From:      senderID,
				MessageID: msg.ID,
				Preview:   previewOf(msg.Content),
			})
		}
	}

	if sender, ok := h.registry.Lookup(senderID); ok {
		h.deliver(sender, NewMessageEvent{Message: msg, IsSender: true})
	}

	return msg, nil
}

// RelayTyping forwards a typing state change. Nothing is stored and an absent
// receiver drops it silently.
func (h *Hub) RelayTyping(from int64, cmd TypingCommand) {
	receiver, ok := h.registry.Lookup(cmd.To)
	if !ok || cmd.To == from {
		h.metrics.TypingDropped()
		return
	}
	if !h.deliver(receiver, TypingEvent{From: from, IsTyping: cmd.IsTyping}) {
		h.metrics.TypingDropped()
	}
}

// DeleteMessage hard-deletes a message authored by userID and notifies both
// sides. origin follows the SendDirectMessage rules. Deleting a message that
// is already gone succeeds.
func (h *Hub) DeleteMessage(ctx context.Context, origin *Client, userID, messageID int64) error {
	if h.messages == nil {
		return ErrUnavailable
	}
	if origin != nil && !h.current(origin) {
		return ErrNotIdentified
	}

	msg, err := h.messages.DeleteMessage(ctx, userID, messageID)
	if err != nil {
		if !errors.Is(err, messages.ErrNotSender) {
			h.log.Error().Err(err).Int64("user_id", userID).Int64("message_id", messageID).Msg("delete message")
		}
		return err
	}
	if msg == nil {
		return nil
	}

	h.observer.MessageDeleted(msg)
	if peer, ok := h.registry.Lookup(msg.ReceiverID); ok {
		h.deliver(peer, MessageDeletedEvent{MessageID: msg.ID, PeerID: userID})
	}
	if self, ok := h.registry.Lookup(userID); ok {
		h.deliver(self, MessageDeletedEvent{MessageID: msg.ID, PeerID: msg.ReceiverID})
	}
	return nil
}

// DeleteConversation removes the whole thread between userID and peerID and
// notifies both sides.
func (h *Hub) DeleteConversation(ctx context.Context, userID, peerID int64) (int64, error) {
	if h.messages == nil {
		return 0, ErrUnavailable
	}

	n, err := h.messages.DeleteConversation(ctx, userID, peerID)
	if err != nil {
		return 0, err
	}

	h.observer.ConversationDeleted(userID, peerID)
	if peer, ok := h.registry.Lookup(peerID); ok {
		h.deliver(peer, ConversationDeletedEvent{PeerID: userID})
	}
	if self, ok := h.registry.Lookup(userID); ok {
		h.deliver(self, ConversationDeletedEvent{PeerID: peerID})
	}
	return n, nil
}

// MarkConversationRead marks everything peerID sent to readerID as read and
// tells peerID about it.
func (h *Hub) MarkConversationRead(ctx context.Context, readerID, peerID int64) (int64, error) {
	if h.messages == nil {
		return 0, ErrUnavailable
	}

	n, err := h.messages.MarkAllRead(ctx, peerID, readerID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if peer, ok := h.registry.Lookup(peerID); ok {
			h.deliver(peer, MessagesReadEvent{ReaderID: readerID, Count: n})
		}
	}
	return n, nil
}

func (h *Hub) deliver(client *Client, ev Event) bool {
	if client.Deliver(ev) {
		h.metrics.EventDelivered(ev.Name())
		return true
	}
	h.metrics.EventDropped(ev.Name())
	h.log.Debug().Str("conn_id", client.ID).Str("event", ev.Name()).Msg("event dropped")
	return false
}

// current reports whether client is the registered connection of its user.
func (h *Hub) current(client *Client) bool {
	registered, ok := h.registry.Lookup(client.UserID())
	return ok && registered == client
}

func (h *Hub) fail(client *Client, err error) {
	h.deliver(client, ErrorEvent{Err: ToCoreError(err)})
}

func previewOf(content string) string {
	if utf8.RuneCountInString(content) <= notificationPreviewLength {
		return content
	}
	return string([]rune(content)[:notificationPreviewLength])
}
