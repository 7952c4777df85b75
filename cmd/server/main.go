package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/unimarket/campus-market/internal/config"
	"github.com/unimarket/campus-market/internal/database"
	"github.com/unimarket/campus-market/internal/logger"
	"github.com/unimarket/campus-market/internal/middleware"
	"github.com/unimarket/campus-market/internal/presence"
	"github.com/unimarket/campus-market/internal/routes"
	"github.com/unimarket/campus-market/internal/services"
	chatws "github.com/unimarket/campus-market/internal/websocket"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLog, err := logger.New(cfg.IsDevelopment(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() {
		_ = zapLog.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		zapLog.Fatal("DB_URL is required")
	}
	if err := database.ConnectDB(ctx, cfg.DBUrl, zapLog); err != nil {
		zapLog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.CloseDB()

	// 3. Presence, storage and push
	tracker, closeTracker, err := newTracker(ctx, cfg, zapLog)
	if err != nil {
		zapLog.Fatal("failed to set up presence tracker", zap.Error(err))
	}
	defer closeTracker()

	var storage services.StorageService
	if cfg.StorageConfigured() {
		storage = services.NewSupabaseStorageService(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey)
	} else {
		zapLog.Warn("storage not configured, avatar and image uploads are disabled")
	}

	hub := chatws.NewHub(zapLog.Named("chat_hub"))
	go hub.Run(ctx)

	limiter := middleware.NewUserRateLimiter(cfg.ChatRatePerMinute, cfg.ChatRatePerMinute/6+1, zapLog)
	go limiter.Run(ctx)

	// 4. Setup Fiber
	app := fiber.New(fiber.Config{
		BodyLimit: services.MaxImageSizeBytes + 1024*1024,
	})

	app.Use(cors.New())
	app.Use(recover.New())
	app.Use(middleware.RequestLogger(zapLog))

	if err := routes.RegisterRoutes(app, cfg, routes.Dependencies{
		DB:      database.DB,
		Tracker: tracker,
		Storage: storage,
		Hub:     hub,
		Limiter: limiter,
		Log:     zapLog,
	}); err != nil {
		zapLog.Fatal("failed to register routes", zap.Error(err))
	}

	// 5. Start Server
	errCh := make(chan error, 1)
	go func() {
		zapLog.Info("server starting", zap.String("port", cfg.Port), zap.String("presence_backend", cfg.PresenceBackend))
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			zapLog.Error("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		zapLog.Info("shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			zapLog.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}

// newTracker picks the presence backend. The redis backend is shared across
// instances; the memory backend only sees this process.
func newTracker(ctx context.Context, cfg *config.Config, log *zap.Logger) (presence.Tracker, func(), error) {
	ttls := presence.TTLs{Presence: cfg.PresenceTTL, Typing: cfg.TypingTTL}

	if cfg.PresenceBackend != config.PresenceBackendRedis {
		log.Info("using in-memory presence tracker")
		return presence.NewMemoryTracker(ttls), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info("using redis presence tracker", zap.String("addr", opts.Addr), zap.String("prefix", cfg.RedisPrefix))
	return presence.NewRedisTracker(client, cfg.RedisPrefix, ttls), func() { _ = client.Close() }, nil
}
