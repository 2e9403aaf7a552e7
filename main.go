package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-sync/internal/auth"
	"chat-sync/internal/blocking"
	"chat-sync/internal/cache"
	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/directory"
	"chat-sync/internal/handlers"
	"chat-sync/internal/media"
	"chat-sync/internal/membership"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/store"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/ws"
)

func main() {
	cfg := config.Load()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "chat-sync", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(ctx)
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AuditExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.chat_sync", "chat-sync", cfg.Environment)

	var profileCache cache.Cache = cache.Noop{}
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Printf("redis unavailable, profile cache disabled: %v", err)
		} else {
			profileCache = redisCache
			defer redisCache.Close()
		}
	}

	dir := directory.NewCached(directory.NewRepo(database), profileCache)
	notifier := store.NewNotifier()
	conversationStore := store.NewSQLStore(database, notifier)

	uploader := media.NewHTTPUploader(cfg.MediaUploadURL, cfg.MediaPreset)
	blockSvc := blocking.NewService(dir)
	connector := membership.NewConnector(conversationStore, dir)

	tokens := auth.NewTokenManager(cfg.JWTSecret, 24*time.Hour)
	authSvc := auth.NewService(dir, conversationStore, uploader, tokens)

	authHandler := handlers.NewAuthHandler(authSvc, emitter)
	userHandler := handlers.NewUserHandler(dir, blockSvc, emitter)
	conversationHandler := handlers.NewConversationHandler(conversationStore, dir, connector, blockSvc, uploader, emitter)
	sessionWS := ws.NewSessionHandler(conversationStore, dir, blockSvc, uploader, tokens)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-sync"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/auth/register", authHandler.Register)
	router.POST("/auth/login", authHandler.Login)

	authMiddleware := middleware.AuthMiddleware(tokens)

	router.GET("/me", authMiddleware, userHandler.Me)
	router.GET("/users/search", authMiddleware, userHandler.Search)
	router.POST("/users/:user_id/block", authMiddleware, userHandler.Block)
	router.DELETE("/users/:user_id/block", authMiddleware, userHandler.Unblock)

	router.GET("/conversations", authMiddleware, conversationHandler.List)
	router.POST("/conversations/start", authMiddleware, conversationHandler.Start)
	router.POST("/conversations/:conversation_id/seen", authMiddleware, conversationHandler.MarkSeen)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.GetMessages)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.SendMessage)

	router.GET("/ws/session", sessionWS.Handle)

	handlers.RegisterDebugRoutes(router, emitter, os.Getenv("DEBUG_ROUTES") == "true")

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
