package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/quill-server/internal/core"
	"github.com/vovakirdan/quill-server/internal/store"
)

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	users    store.UserStore
	registry *core.Registry
	log      *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(users store.UserStore, registry *core.Registry, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		users:    users,
		registry: registry,
		log:      logger,
	}
}

// StatusResponse represents a user's presence.
type StatusResponse struct {
	UserID       int64      `json:"userId"`
	Status       string     `json:"status"` // online or offline
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
	LastActive   string     `json:"lastActive"`
}

// GetStatus reports whether a user is connected and when they were last seen.
// GET /api/users/:id/status
func (h *UserHandlers) GetStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id", Code: core.ErrCodeBadRequest})
		return
	}

	exists, err := h.users.UserExists(c.Request.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", id).Msg("failed to check user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found", Code: core.ErrCodeNotFound})
		return
	}

	c.JSON(http.StatusOK, statusResponse(id, h.registry.Presence(id)))
}

func statusResponse(userID int64, p core.Presence) StatusResponse {
	resp := StatusResponse{UserID: userID, Status: "offline", LastActive: "never"}
	if p.Online {
		resp.Status = "online"
		resp.LastActive = "now"
	}
	if !p.LastActiveAt.IsZero() {
		last := p.LastActiveAt
		resp.LastActiveAt = &last
		if !p.Online {
			resp.LastActive = humanize.Time(last)
		}
	}
	return resp
}
