package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openagora/agora/internal/api"
	"github.com/openagora/agora/internal/bus"
	"github.com/openagora/agora/internal/cache"
	"github.com/openagora/agora/internal/db"
	"github.com/openagora/agora/internal/gateway"
	"github.com/openagora/agora/internal/moderation"
	"github.com/openagora/agora/internal/room"
	"github.com/openagora/agora/internal/store"
	"github.com/openagora/agora/internal/view"
	"github.com/openagora/agora/pkg/config"
	"github.com/openagora/agora/pkg/logging"
	"github.com/openagora/agora/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Agora sync server")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Connect to the durable store
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Connect to Redis. A nil cache means single-node operation: events
	// stay process-local and live queries fall back to poll-only wakeups.
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisCache.Close()

	repo := db.NewRepository(database.DB)
	communities := db.NewCommunityRepository(repo)
	posts := db.NewPostRepository(repo)
	comments := db.NewCommentRepository(repo)

	// Push channel with the cross-node bridge
	eventBus := bus.New(redisCache)
	busCtx, busCancel := context.WithCancel(context.Background())
	defer busCancel()
	go func() {
		if err := eventBus.Run(busCtx); err != nil && busCtx.Err() == nil {
			logger.Error("Event bridge stopped", zap.Error(err))
		}
	}()

	// Snapshot adapter over the durable store
	adapter := store.NewAdapter(posts, comments, redisCache, cfg.Realtime.SnapshotPollInterval)

	// Attach the authorities for the acknowledged request kinds
	room.NewAuthorizer(communities, eventBus).Attach()
	moderation.NewAuthority(communities, posts, comments, eventBus, redisCache).Attach()

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	invalidate := func(collection string) {
		redisCache.Invalidate(context.Background(), collection)
	}
	api.NewRouter(repo, eventBus, invalidate).SetupRoutes(engine)

	gateway.New(eventBus, adapter, view.Config{
		JoinAckTimeout:   cfg.Realtime.JoinAckTimeout,
		DeleteAckTimeout: cfg.Realtime.DeleteAckTimeout,
	}).SetupRoutes(engine)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
