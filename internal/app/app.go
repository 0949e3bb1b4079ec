package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/quill-server/internal/auth"
	"github.com/vovakirdan/quill-server/internal/config"
	"github.com/vovakirdan/quill-server/internal/core"
	"github.com/vovakirdan/quill-server/internal/log"
	"github.com/vovakirdan/quill-server/internal/metrics"
	"github.com/vovakirdan/quill-server/internal/service/messages"
	"github.com/vovakirdan/quill-server/internal/store"
	"github.com/vovakirdan/quill-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/quill-server/internal/transport/http"
)

// App wires together storage, the relay hub and the HTTP transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := JWTConfig(cfg)
	authService := auth.NewService(st, jwtConfig)
	msgService := messages.New(st, st, st)
	relayMetrics := metrics.New()

	hub := core.NewHub(msgService, auth.NewVerifier(st, jwtConfig, cfg.JWTRequired), core.HubOptions{
		Observer: newActivityLog(log.Component(logger, "activity")),
		Metrics:  relayMetrics,
		Logger:   log.Component(logger, "hub"),
	})

	server := transporthttp.NewServer(transporthttp.Deps{
		Hub:      hub,
		Auth:     authService,
		Messages: msgService,
		Users:    st,
		Metrics:  relayMetrics,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

// JWTConfig derives token settings from the application config.
func JWTConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(ctx)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		a.hub.Run(hubCtx)
	}()

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	a.log.Info().Str("addr", a.server.Addr).Msg("quill server listening")

	select {
	case err := <-serverErr:
		stopHub()
		<-hubDone
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		err := a.server.Shutdown(shutdownCtx)
		stopHub()
		<-hubDone
		a.cleanup()
		if err != nil {
			return err
		}
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
