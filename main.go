package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/chat"
	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/ratelimit"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		log.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}

	store, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		log.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	observability.SetPublisher(publisher)
	log.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))

	verifier := auth.NewVerifier(cfg.JWTSecret)
	chatService := chat.NewService(store, store, log)
	hub := ws.NewHub(log)
	eventRouter := ws.NewRouter(hub, chatService, log, cfg.WS.EventTimeout)

	chatHandler := handlers.NewChatHandler(chatService, log)
	chatWS := ws.NewChatWebSocketHandler(hub, eventRouter, verifier, cfg.WS, cfg.AllowedOrigins, log)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestLogger(log))

	authMiddleware := middleware.AuthMiddleware(verifier)
	var writeLimit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if cfg.Redis.Addr != "" {
		client, err := ratelimit.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("rate limiting disabled", "error", err)
		} else {
			defer client.Close()
			limiter := ratelimit.NewRedisLimiter(client, cfg.RateLimit.Requests, cfg.RateLimit.Window)
			writeLimit = middleware.RateLimit(limiter, limiter.Limit(), log)
		}
	}

	router.GET("/health", handlers.Health)
	router.GET("/metrics", observability.MetricsHandler())

	router.GET("/conversations", authMiddleware, chatHandler.ListConversations)
	router.POST("/conversations", authMiddleware, writeLimit, chatHandler.StartConversation)
	router.GET("/messages", authMiddleware, chatHandler.ListMessages)
	router.POST("/messages", authMiddleware, writeLimit, chatHandler.PostMessage)

	router.GET("/ws", chatWS.Handle)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("chat server listening", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	hub.Shutdown()
	if err := publisher.Close(); err != nil {
		log.Warn("close publisher", "error", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.Warn("close store", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("flush traces", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (repositories.Store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		store := repositories.NewMongoStore(client, cfg.MongoDatabase)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		log.Warn("using in-memory store, data is lost on restart")
		return repositories.NewMemoryStore(), nil
	default:
		database, err := db.Connect(cfg.DSN, log)
		if err != nil {
			return nil, err
		}
		return repositories.NewPostgresStore(database), nil
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With("service", cfg.Tracing.ServiceName)
	slog.SetDefault(logger)
	return logger
}
