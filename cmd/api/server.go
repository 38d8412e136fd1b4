package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/chat-relay/backend/internal/bus"
	"github.com/zhouzirui/chat-relay/backend/internal/config"
	"github.com/zhouzirui/chat-relay/backend/internal/handler"
	"github.com/zhouzirui/chat-relay/backend/internal/handler/ws"
	"github.com/zhouzirui/chat-relay/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/chat-relay/backend/internal/service/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/presence"
	"github.com/zhouzirui/chat-relay/backend/internal/service/ratelimit"
	"github.com/zhouzirui/chat-relay/backend/internal/service/relay"
	"github.com/zhouzirui/chat-relay/backend/internal/service/responder"
	"github.com/zhouzirui/chat-relay/backend/internal/service/room"
	"github.com/zhouzirui/chat-relay/backend/internal/service/session"
	redisstore "github.com/zhouzirui/chat-relay/backend/internal/store/redis"
)

const shutdownTimeout = 10 * time.Second

func serve(ctx context.Context, cfg *config.Config) error {
	instanceID := cfg.Bus.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger := log.With().Str("component", "main").Str("instance", instanceID).Logger()

	store, err := redisstore.Open(cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Check(ctx, 3*time.Second); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable at startup, presence and rate limits degrade until it recovers")
	}

	fanout, err := bus.New(bus.Options{
		Driver:     cfg.Bus.Driver,
		NATSURL:    cfg.Bus.NATSURL,
		InstanceID: instanceID,
		Redis:      store.UniversalClient,
	})
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Bus.Driver).Msg("bus unavailable, falling back to single-instance memory bus")
		fanout = bus.NewMemory()
	}
	defer fanout.Close()

	rooms := room.NewRouter(instanceID, fanout)
	defer rooms.Close()

	transcripts := chatservice.NewServiceWithLimits(cfg.Transcript.Retention, cfg.Transcript.MaxConversations)
	resp := responder.New(newProvider(ctx, cfg.AI), rooms, transcripts, responder.Options{
		Model:        cfg.AI.Model,
		SystemPrompt: cfg.AI.SystemPrompt,
		MaxTokens:    cfg.AI.MaxTokens,
		Timeout:      cfg.AI.Timeout,
	})

	manager := relay.NewManager(
		rooms,
		presence.NewTracker(store),
		ratelimit.NewLimiter(store),
		session.NewStore(store, cfg.Session.TTL),
		resp,
		relay.Options{MessageLimit: cfg.RateLimit.Messages, MessageWindow: cfg.RateLimit.Window},
	)

	sockets := ws.New(manager, cfg.Server)
	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: handler.NewRouter(handler.Dependencies{
			InstanceID:     instanceID,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			WebSocket:      sockets,
			Transcripts:    transcripts,
			Store:          store,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("bus", cfg.Bus.Driver).Str("ai", cfg.AI.Provider).Msg("chat relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		sockets.CloseAll()
		if shutdownErr := manager.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn().Err(shutdownErr).Msg("generations did not finish before shutdown deadline")
		}
		return err
	})

	return eg.Wait()
}

// newProvider picks the Ark chain when configured, falling back to echo.
func newProvider(ctx context.Context, cfg config.AIConfig) ai.Provider {
	if cfg.Provider == config.ProviderArk {
		svc, err := ai.NewService(ctx, cfg)
		if err == nil {
			log.Info().Str("component", "ai").Msg("AI service initialized successfully")
			return svc
		}
		log.Warn().Err(err).Str("component", "ai").Msg("failed to initialize AI service, using echo provider - 请检查 Ark 模型相关环境变量")
	}
	return ai.NewEchoProvider(40 * time.Millisecond)
}
