package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/harvi-app/study-engine/internal/cache"
	"github.com/harvi-app/study-engine/internal/config"
	"github.com/harvi-app/study-engine/internal/contentapi"
	"github.com/harvi-app/study-engine/internal/events"
	"github.com/harvi-app/study-engine/internal/governor"
	"github.com/harvi-app/study-engine/internal/handlers"
	"github.com/harvi-app/study-engine/internal/prefetch"
	"github.com/harvi-app/study-engine/internal/repositories/sqlite"
	"github.com/harvi-app/study-engine/internal/scheduler"
	"github.com/harvi-app/study-engine/internal/services"
	"github.com/harvi-app/study-engine/internal/store"
	"github.com/harvi-app/study-engine/internal/syncqueue"
	"github.com/harvi-app/study-engine/internal/utils"
	"github.com/harvi-app/study-engine/internal/validator"
	"github.com/harvi-app/study-engine/internal/worker"
)

func main() {
	// .env is optional; on a device the environment is usually baked in.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	logger := utils.NewSlogLogger(slogLogger)

	// Initialize storage
	st := store.New(cfg.Store, slogLogger)
	repoManager := sqlite.NewRepositoryManager(st, cache.NewManager(), slogLogger)
	if err := repoManager.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize repositories: %v", err)
	}
	repo := repoManager.GetRepository()

	// Event bus and outbound plumbing
	bus := events.NewBus(slogLogger)
	v := validator.New()
	gov := governor.New(&http.Client{Timeout: cfg.Backend.Timeout}, cfg.Governor, repo.Setting(), bus, slogLogger, nil)
	client := contentapi.New(cfg.Backend, gov, v, slogLogger)

	// Offline result sync
	queue := syncqueue.NewQueue(repo.SyncItems(), cfg.Backend.SigningKey, bus, slogLogger)
	replayer := syncqueue.NewReplayer(queue, client, repo.Result(), v, bus, slogLogger, cfg.Sync.BatchLimit)

	// Prefetch coordinators and the background worker
	hierarchical := prefetch.NewHierarchical(client, repo.Lecture(), cfg.Prefetch, bus, slogLogger)
	predictive := prefetch.NewPredictive(client, repo.Lecture(), cfg.Prefetch.Staleness, bus, slogLogger)
	dispatcher := worker.NewDispatcher(cfg.Worker, slogLogger)

	// Initialize services
	serviceManager := services.NewServiceManager(services.Deps{
		Repo:         repoManager,
		Queue:        queue,
		Replayer:     replayer,
		Client:       client,
		Governor:     gov,
		Dispatcher:   dispatcher,
		Hierarchical: hierarchical,
		Predictive:   predictive,
		Publisher:    bus,
		Logger:       slogLogger,
	})
	if err := serviceManager.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Periodic sync replay
	syncScheduler := scheduler.New(cfg.Sync, replayer, client, repo.Setting(), slogLogger)
	if err := syncScheduler.Start(); err != nil {
		log.Fatalf("Failed to start sync scheduler: %v", err)
	}

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handlers.SetupMiddleware(router, logger)
	handlers.NewHandlerManager(serviceManager, v, logger).SetupRoutes(router)

	// The API is the device UI's private surface; never bind beyond loopback.
	server := &http.Server{
		Addr:    "127.0.0.1:" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Background jobs stop before the services so nothing replays into a
	// closing store.
	syncScheduler.Stop()

	// Shutdown services; this drains the worker and closes the store.
	if err := serviceManager.Shutdown(ctx); err != nil {
		log.Printf("Failed to shutdown services: %v", err)
	}

	if err := bus.Close(); err != nil {
		log.Printf("Failed to close event bus: %v", err)
	}

	logger.Info("Server exited")
}
