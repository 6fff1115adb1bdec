// TinyGenerator orchestrator server: provides the HTTP API, manages queue
// workers, and runs the tagging and series state pipelines.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/agent"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/api"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/cleanup"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/llm"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/pipeline"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/queue"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/storage"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	podID := resolvePodID()
	logger := slog.Default()

	slog.Info("Starting TinyGenerator",
		"http_port", httpPort,
		"pod_id", podID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (runs pending migrations on startup)
	dbConfig, err := storage.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	store, err := storage.New(ctx, dbConfig, logger)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. One-time startup orphan cleanup
	if err := queue.CleanupStartupOrphans(ctx, store, podID); err != nil {
		slog.Error("Failed to cleanup startup orphans", "error", err)
		// Non-fatal, the periodic scan will catch anything left.
	}

	// 4. Model client and executor
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		slog.Error("GEMINI_API_KEY is required")
		os.Exit(1)
	}
	modelClient, err := llm.NewGenAIClient(ctx, apiKey)
	if err != nil {
		slog.Error("Failed to initialize model client", "error", err)
		os.Exit(1)
	}
	executor := agent.NewExecutor(modelClient, store, store, logger)
	slog.Info("Model client initialized")

	// 5. Command registry and dispatcher
	registry := queue.NewRegistry()
	dispatcher := queue.NewDispatcher(store, registry, logger)
	pipeline.RegisterAll(registry, pipeline.Deps{
		Store:    store,
		Executor: executor,
		Enqueuer: dispatcher,
		Config:   cfg.Pipeline,
		Logger:   logger,
	})
	slog.Info("Pipeline operations registered", "operations", registry.Operations())

	// 6. Worker pool (before the HTTP server, so claims can start)
	workerPool := queue.NewWorkerPool(podID, store, cfg.Queue, registry)
	if err := workerPool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 7. Retention cleanup loop
	cleanupService := cleanup.NewService(cfg.Retention, store)
	cleanupService.Start(ctx)

	// 8. HTTP server (non-blocking)
	httpServer := api.NewServer(store, dispatcher, workerPool, logger)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("TinyGenerator started successfully",
		"pod_id", podID,
		"workers", cfg.Queue.WorkerCount)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown: drain workers first, then stop the HTTP server.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	cleanupService.Stop()

	done := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, incomplete commands will be orphan-recovered")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
