package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/api"
	"github.com/eldtechnologies/chatrelay/internal/api/middleware"
	"github.com/eldtechnologies/chatrelay/internal/broker"
	"github.com/eldtechnologies/chatrelay/internal/config"
	"github.com/eldtechnologies/chatrelay/internal/handlers"
	"github.com/eldtechnologies/chatrelay/internal/history"
	"github.com/eldtechnologies/chatrelay/internal/hub"
	"github.com/eldtechnologies/chatrelay/internal/identity"
	"github.com/eldtechnologies/chatrelay/internal/presence"
	"github.com/eldtechnologies/chatrelay/internal/ratelimit"
	"github.com/eldtechnologies/chatrelay/internal/session"
	"github.com/eldtechnologies/chatrelay/internal/store"
	"github.com/eldtechnologies/chatrelay/internal/transport/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("configuration failed")
	}

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	instanceID := uuid.NewString()
	logger = logger.With().Str("instance", instanceID).Logger()

	ctx := context.Background()

	// Initialize Redis store
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		logger.Fatal().Err(err).Msg("redis configuration failed")
	}
	redisStore, err := store.NewRedisStore(ctx, redisOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	logger.Info().Str("addr", redisOpts.Addr).Msg("connected to Redis")

	// Broker and local fan-out
	brk := broker.New(redisStore.Client(), redisOpts, logger)
	defer brk.Close()

	fanout := hub.NewHub(brk, logger, cfg.HubBuffer)
	hubCtx, stopHub := context.WithCancel(ctx)
	hubErr := make(chan error, 1)
	go func() { hubErr <- fanout.Run(hubCtx) }()

	select {
	case <-fanout.Ready():
	case err := <-hubErr:
		logger.Fatal().Err(err).Msg("broker subscription failed")
	case <-time.After(30 * time.Second):
		logger.Fatal().Msg("broker subscription timed out")
	}

	// Coordination core
	presenceMgr := presence.NewManager(redisStore, logger)
	historyMgr := history.NewManager(redisStore, logger,
		history.WithMax(cfg.HistoryMax),
		history.WithTrimOnWrite(cfg.TrimOnWrite),
	)
	coordinator := session.NewCoordinator(
		presenceMgr,
		historyMgr,
		brk,
		fanout,
		identity.NewFaker(0, cfg.AvatarBaseURL),
		logger,
		session.WithHistoryMax(cfg.HistoryMax),
		session.WithMaxMessageBytes(cfg.MaxMessageBytes),
	)

	// Rate limits shared by every instance through Redis
	whitelist, err := ratelimit.NewWhitelist(cfg.RateLimitWhitelist)
	if err != nil {
		logger.Warn().Err(err).Msg("ignoring invalid whitelist entries")
	}
	limiter := ratelimit.New(redisStore.Client())
	sendGate := limiter.Gate(
		ratelimit.Rule{Name: "send", Limit: cfg.SendRateLimit, Window: time.Minute},
		whitelist,
		logger,
	)

	socket := ws.NewHandler(coordinator, logger,
		ws.WithThrottle(sendGate),
		ws.WithReadLimit(ws.ReadLimitFor(cfg.MaxMessageBytes)),
	)

	// Create router
	router := api.NewRouter(logger, api.Options{
		Handler: handlers.NewHandler(redisStore, presenceMgr, historyMgr, instanceID),
		Socket:  socket,
		Limiter: limiter,
		RateLimit: middleware.RateLimiterConfig{
			ConnectLimit:  cfg.ConnectRateLimit,
			SnapshotLimit: cfg.SnapshotRateLimit,
			Whitelist:     whitelist,
		},
		StaticDir: cfg.StaticDir,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chat relay")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-hubErr:
		logger.Error().Err(err).Msg("hub stopped")
	}

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Hijacked WebSocket connections outlive srv.Shutdown; end their
	// sessions so their members leave the shared table.
	if err := socket.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("sessions did not terminate in time")
	}

	stopHub()
	logger.Info().Msg("server stopped")
}
