package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/RahmatullahZadran/appss/internal/cache"
	"github.com/RahmatullahZadran/appss/internal/config"
	"github.com/RahmatullahZadran/appss/internal/handlers"
	"github.com/RahmatullahZadran/appss/internal/handlers/ws"
	"github.com/RahmatullahZadran/appss/internal/livequery"
	"github.com/RahmatullahZadran/appss/internal/repository"
	"github.com/RahmatullahZadran/appss/internal/service"
	"github.com/RahmatullahZadran/appss/internal/storage"
)

func main() {
	cfg := config.Load()

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

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize database connection
	db, err := repository.InitDB(cfg.DB)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := repository.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	logger.Info().Msg("connected to PostgreSQL")

	// Initialize Redis cache; the server runs without it, single-instance.
	redisCache := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := redisCache.Ping(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, running without cache and change bus")
		redisCache = nil
	} else {
		defer redisCache.Close()
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
	}

	messageCache := cache.NewMessageCache(redisCache)
	userCache := cache.NewUserCache(redisCache)

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	summaryRepo := repository.NewSummaryRepository(db)

	// Live queries read straight from the database so a snapshot never
	// trails a write behind a stale cached window.
	broker := livequery.NewBroker(messageRepo.FindLatest, logger)
	if redisCache != nil {
		broker.WithBus(livequery.NewRedisBus(redisCache))
	}
	broker.Start(ctx)

	// Initialize services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret)
	userService := service.NewUserService(userRepo, userCache)
	messageService := service.NewMessageService(messageRepo, conversationRepo, summaryRepo, messageCache, logger)
	messageService.SetNotifier(broker)
	conversationService := service.NewConversationService(conversationRepo, summaryRepo, userRepo, messageCache, userCache, logger)

	// Initialize S3/MinIO storage (best-effort; feature endpoints return 503 if missing)
	var objectStore service.ObjectStore
	var mediaReader handlers.ObjectReader
	if !cfg.S3.Enabled() {
		logger.Warn().Msg("S3 storage not configured")
	} else if st, err := storage.NewS3Storage(ctx, cfg.S3); err != nil {
		logger.Warn().Err(err).Msg("failed to initialize S3 storage")
	} else {
		objectStore, mediaReader = st, st
		logger.Info().Str("bucket", cfg.S3.Bucket).Msg("S3 storage initialized")
	}
	profileImageService := service.NewProfileImageService(userRepo, objectStore, userCache)

	hub := ws.NewHub(logger)
	defer hub.Close()

	app := handlers.NewApp(handlers.Routes{
		Auth:           handlers.NewAuthHandler(authService),
		User:           handlers.NewUserHandler(userService),
		ProfileImage:   handlers.NewProfileImageHandler(profileImageService, cfg.PublicAPIBaseURL),
		Media:          handlers.NewMediaHandler(mediaReader, logger),
		Conversation:   handlers.NewConversationHandler(conversationService),
		Message:        handlers.NewMessageHandler(messageService, cfg.PageSize),
		WebSocket:      handlers.NewWebSocketHandler(messageService, broker, hub, cfg.LiveWindow, cfg.MaxPageSize, logger),
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		AccessLog:      cfg.IsDevelopment(),
		Health: func(c *fiber.Ctx) error {
			status := fiber.Map{"status": "ok", "database": "ok", "redis": "disabled", "connections": hub.Count()}
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Context()) != nil {
				status["status"], status["database"] = "degraded", "unreachable"
			}
			if redisCache != nil {
				status["redis"] = "ok"
				if err := redisCache.Ping(); err != nil {
					status["status"], status["redis"] = "degraded", "unreachable"
				}
			}
			code := fiber.StatusOK
			if status["status"] != "ok" {
				code = fiber.StatusServiceUnavailable
			}
			return c.Status(code).JSON(status)
		},
	})

	// Start server in goroutine
	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("starting feed server")
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	stop()
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server stopped")
}
