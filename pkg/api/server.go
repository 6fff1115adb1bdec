// Package api exposes the HTTP control surface: enqueueing pipeline
// commands, inspecting the queue, cancellation, and health.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/queue"
)

// CommandStore is the read/cancel surface the handlers need.
type CommandStore interface {
	GetCommand(ctx context.Context, id string) (*models.QueuedCommand, error)
	GetCommandByRunID(ctx context.Context, runID string) (*models.QueuedCommand, error)
	ListCommands(ctx context.Context, status config.CommandStatus, limit int) ([]*models.QueuedCommand, error)
	CancelPendingCommand(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
}

// Enqueuer submits new commands. Implemented by *queue.Dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, input queue.EnqueueInput) (*models.QueuedCommand, bool, error)
}

// Pool is the worker pool surface used for health and in-flight cancellation.
type Pool interface {
	Health() *queue.PoolHealth
	CancelCommand(commandID string) bool
}

// Server is the HTTP API server.
type Server struct {
	store      CommandStore
	dispatcher Enqueuer
	pool       Pool
	logger     *slog.Logger
	httpServer *http.Server
	engine     *gin.Engine
}

// NewServer wires the handlers onto a gin engine.
func NewServer(store CommandStore, dispatcher Enqueuer, pool Pool, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		store:      store,
		dispatcher: dispatcher,
		pool:       pool,
		logger:     logger,
		engine:     engine,
	}

	engine.GET("/health", s.healthHandler)

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/commands", s.enqueueCommandHandler)
		v1.GET("/commands", s.listCommandsHandler)
		v1.GET("/commands/:id", s.getCommandHandler)
		v1.POST("/commands/:id/cancel", s.cancelCommandHandler)
	}

	return s
}

// Handler returns the underlying http.Handler, used directly in tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
