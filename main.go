package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"league-chat/internal/chat"
	"league-chat/internal/config"
	"league-chat/internal/db"
	"league-chat/internal/handlers"
	"league-chat/internal/middleware"
	"league-chat/internal/observability"
	"league-chat/internal/rabbitmq"
	"league-chat/internal/realtime"
	"league-chat/internal/repositories"
	"league-chat/internal/telemetry"
	"league-chat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", cfg.ServiceName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	database, err := db.Connect(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	source, err := realtime.NewPGSource(cfg.Database.DSN, db.NotifyChannel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start realtime listener")
	}
	defer source.Close()

	publisher := rabbitmq.NewPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	mode, reason := rabbitmq.Describe(publisher)
	log.Info().Str("mode", mode).Str("reason", reason).Msg("event publisher ready")

	var cache chat.PreviewCache = chat.NewMemoryPreviewCache()
	if cfg.Cache.Engine == "redis" {
		redisCache, err := chat.NewRedisPreviewCache(cfg.Cache.RedisURL, cfg.Session.UserID)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid redis url")
		}
		if err := redisCache.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to reach redis")
		}
		defer redisCache.Close()
		cache = redisCache
	}

	emitter := telemetry.NewChatEmitter(publisher, cfg.ServiceName, cfg.Environment)

	engine := chat.NewEngine(chat.Deps{
		Session: chat.Session{
			UserID:      cfg.Session.UserID,
			DisplayName: cfg.Session.DisplayName,
			Token:       cfg.Session.Token,
		},
		Messages:  repositories.NewMessageRepo(database),
		Reads:     repositories.NewReadRepo(database),
		Reactions: repositories.NewReactionRepo(database),
		Presence:  repositories.NewPresenceRepo(database),
		Members:   repositories.NewMemberRepo(database),
		Manager:   realtime.NewManager(source),
		Cache:     cache,
		Notifier:  chat.NewPushNotifier(cfg.Notify.URL, cfg.Notify.Timeout),
		Emitter:   emitter,
	}, chat.Options{
		PageSize:          cfg.Chat.PageSize,
		HeartbeatInterval: cfg.Chat.HeartbeatInterval,
		ReadDebounce:      cfg.Chat.ReadDebounce,
		RecomputeDelay:    cfg.Chat.RecomputeDelay,
		SystemSenderID:    cfg.Chat.SystemSenderID,
		BatchMinLeagues:   cfg.Chat.BatchMinLeagues,
	})
	defer engine.Stop()

	// Without a session the API still serves, every call answering 401.
	if err := engine.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("chat engine not started")
	}

	hub := ws.NewHub()
	engine.OnRoomChange(hub.BroadcastRoom)
	engine.OnUnreadChange(hub.BroadcastUnread)
	engine.OnInboxChange(hub.BroadcastInbox)

	leagueHandler := handlers.NewLeagueHandler(engine)
	sessionWS := ws.NewSessionWebSocketHandler(hub, cfg.Session.Token, cfg.Session.UserID, engine)

	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(handlers.RequestID())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", sessionWS.Handle)

	api := router.Group("/", middleware.AuthMiddleware(cfg.Session.Token, cfg.Session.UserID))
	leagueHandler.Register(api)
	handlers.RegisterDebugRoutes(api, emitter, cfg.Environment == "dev")

	srv := &http.Server{Addr: cfg.Addr(), Handler: router}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
}
