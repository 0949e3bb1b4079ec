package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/quill-server/internal/core"
	"github.com/vovakirdan/quill-server/internal/proto"
	"github.com/vovakirdan/quill-server/internal/service/messages"
	"github.com/vovakirdan/quill-server/internal/store"
)

// MessageHandlers provides the REST fallback for direct messaging. Writes go
// through the hub so connected peers see the same events as over WebSocket.
type MessageHandlers struct {
	hub      *core.Hub
	messages *messages.Service
	log      *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(hub *core.Hub, svc *messages.Service, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		hub:      hub,
		messages: svc,
		log:      logger,
	}
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	To           int64  `json:"to" binding:"required"`
	Content      string `json:"content"`
	MessageType  string `json:"messageType"`
	SharedPostID *int64 `json:"sharedPostId"`
	ClientID     string `json:"clientId" binding:"max=64"`
}

// ConversationResponse is one entry of the conversation list.
type ConversationResponse struct {
	PeerID      int64         `json:"peerId"`
	LastMessage proto.Message `json:"lastMessage"`
	UnreadCount int           `json:"unreadCount"`
}

// CountResponse reports how many rows an operation touched.
type CountResponse struct {
	Count int64 `json:"count"`
}

// ListMessages returns the thread with a peer, oldest first.
// GET /api/messages/:peerId?limit=&offset=
func (h *MessageHandlers) ListMessages(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	// A malformed peer id yields an empty thread.
	peerID, _ := strconv.ParseInt(c.Param("peerId"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	msgs, err := h.messages.ListMessages(c.Request.Context(), uid, peerID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Int64("peer_id", peerID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]proto.Message, 0, len(msgs))
	for _, m := range msgs {
		response = append(response, toProtoMessage(m))
	}
	c.JSON(http.StatusOK, response)
}

// SendMessage persists and relays a message.
// POST /api/messages
func (h *MessageHandlers) SendMessage(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: core.ErrCodeBadRequest})
		return
	}

	msg, err := h.hub.SendDirectMessage(c.Request.Context(), nil, uid, core.DirectMessageCommand{
		ClientID:     req.ClientID,
		To:           req.To,
		Content:      req.Content,
		Kind:         store.MessageKind(req.MessageType),
		SharedPostID: req.SharedPostID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.log.Debug().Int64("user_id", uid).Int64("peer_id", req.To).Int64("message_id", msg.ID).Msg("message sent over rest")
	c.JSON(http.StatusCreated, toProtoMessage(msg))
}

// DeleteMessage removes one of the caller's messages.
// DELETE /api/messages/:id
func (h *MessageHandlers) DeleteMessage(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid message id", Code: core.ErrCodeBadRequest})
		return
	}

	if err := h.hub.DeleteMessage(c.Request.Context(), nil, uid, id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkMessageRead marks a single received message read.
// PUT /api/messages/:id/read
func (h *MessageHandlers) MarkMessageRead(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid message id", Code: core.ErrCodeBadRequest})
		return
	}

	msg, err := h.messages.GetMessage(c.Request.Context(), id)
	if errors.Is(err, messages.ErrMessageNotFound) {
		// Already deleted: nothing left to mark.
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	if msg.ReceiverID != uid {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the receiver can mark a message read", Code: core.ErrCodeBadRequest})
		return
	}

	if _, err := h.messages.MarkRead(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkConversationRead marks everything the peer sent to the caller as read.
// PUT /api/conversations/:peerId/read
func (h *MessageHandlers) MarkConversationRead(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	peerID, ok := h.peerParam(c)
	if !ok {
		return
	}

	n, err := h.hub.MarkConversationRead(c.Request.Context(), uid, peerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: n})
}

// DeleteConversation removes the whole thread with a peer.
// DELETE /api/conversations/:peerId
func (h *MessageHandlers) DeleteConversation(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	peerID, ok := h.peerParam(c)
	if !ok {
		return
	}

	n, err := h.hub.DeleteConversation(c.Request.Context(), uid, peerID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.log.Info().Int64("user_id", uid).Int64("peer_id", peerID).Int64("deleted", n).Msg("conversation deleted")
	c.JSON(http.StatusOK, CountResponse{Count: n})
}

// ListConversations returns one summary per peer, most recent first.
// GET /api/conversations
func (h *MessageHandlers) ListConversations(c *gin.Context) {
	uid, ok := currentUserID(c, h.log)
	if !ok {
		return
	}

	convs, err := h.messages.ListConversations(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to list conversations")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		response = append(response, ConversationResponse{
			PeerID:      conv.PeerID,
			LastMessage: toProtoMessage(conv.LastMessage),
			UnreadCount: conv.UnreadCount,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *MessageHandlers) peerParam(c *gin.Context) (int64, bool) {
	peerID, err := strconv.ParseInt(c.Param("peerId"), 10, 64)
	if err != nil || peerID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid peer id", Code: core.ErrCodeBadRequest})
		return 0, false
	}
	return peerID, true
}

func (h *MessageHandlers) writeError(c *gin.Context, err error) {
	ce := core.ToCoreError(err)

	status := http.StatusInternalServerError
	switch ce.Code {
	case core.ErrCodeValidation, core.ErrCodeBadRequest:
		status = http.StatusBadRequest
	case core.ErrCodeNotSender:
		status = http.StatusForbidden
	case core.ErrCodeNotFound:
		status = http.StatusNotFound
	case core.ErrCodeUnauthorized:
		status = http.StatusUnauthorized
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, ErrorResponse{Error: ce.Message, Code: ce.Code})
}
