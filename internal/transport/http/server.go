package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/quill-server/internal/auth"
	"github.com/vovakirdan/quill-server/internal/config"
	"github.com/vovakirdan/quill-server/internal/core"
	"github.com/vovakirdan/quill-server/internal/metrics"
	"github.com/vovakirdan/quill-server/internal/service/messages"
	"github.com/vovakirdan/quill-server/internal/store"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Hub      *core.Hub
	Auth     *auth.Service
	Messages *messages.Service
	Users    store.UserStore
	Metrics  *metrics.Relay // optional
}

// NewServer builds the HTTP server: REST API, WebSocket endpoint, health and metrics.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	var limited rateLimitRecorder
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
		limited = deps.Metrics
	}
	router.GET("/ws", gin.WrapH(NewWSHandler(deps.Hub, cfg, limited, logger)))

	apiHandlers := NewAPIHandlers(deps.Auth, logger)
	messageHandlers := NewMessageHandlers(deps.Hub, deps.Messages, logger)
	userHandlers := NewUserHandlers(deps.Users, deps.Hub.Registry(), logger)

	api := router.Group("/api")
	{
		api.POST("/register", apiHandlers.Register)
		api.POST("/login", apiHandlers.Login)

		protected := api.Group("")
		protected.Use(AuthMiddleware(deps.Auth, logger))
		{
			protected.GET("/messages/:peerId", messageHandlers.ListMessages)
			protected.POST("/messages", messageHandlers.SendMessage)
			protected.DELETE("/messages/:id", messageHandlers.DeleteMessage)
			protected.PUT("/messages/:id/read", messageHandlers.MarkMessageRead)

			protected.GET("/conversations", messageHandlers.ListConversations)
			protected.PUT("/conversations/:peerId/read", messageHandlers.MarkConversationRead)
			protected.DELETE("/conversations/:peerId", messageHandlers.DeleteConversation)

			protected.GET("/users/:id/status", userHandlers.GetStatus)
		}
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
