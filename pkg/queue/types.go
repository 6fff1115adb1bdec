// Package queue provides the DB-backed command queue: enqueueing with
// dedup, worker pool processing, heartbeats, and orphan recovery.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoCommandsAvailable indicates no pending commands are in the queue.
	ErrNoCommandsAvailable = errors.New("no commands available")

	// ErrAtCapacity indicates the global concurrent command limit has been reached.
	ErrAtCapacity = errors.New("at capacity")

	// ErrUnknownOperation indicates no factory is registered for an operation.
	ErrUnknownOperation = errors.New("unknown operation")
)

// Command is one unit of work built by a factory from a queued row.
// Execute owns the whole run and writes its results progressively; the worker
// only handles claiming, heartbeat, and the terminal status update.
type Command interface {
	Execute(ctx context.Context) CommandResult
}

// CommandResult is lightweight, just the terminal outcome.
type CommandResult struct {
	Success bool
	Message string
}

// CommandFactory builds an executable command from its queued row.
type CommandFactory func(cmd *models.QueuedCommand) (Command, error)

// Store is the persistence surface the queue needs. Implemented by the
// storage package; fakes implement it in tests.
type Store interface {
	// EnqueueCommand inserts a pending command row.
	EnqueueCommand(ctx context.Context, cmd *models.QueuedCommand) error

	// FindActiveCommand returns the pending or running command for an
	// operation and thread scope, or nil when there is none.
	FindActiveCommand(ctx context.Context, operation, threadScope string) (*models.QueuedCommand, error)

	// ClaimNextCommand atomically claims the best pending command for the
	// pod, or returns nil when the queue is empty.
	ClaimNextCommand(ctx context.Context, podID string) (*models.QueuedCommand, error)

	// CountRunningCommands returns the number of running commands across all pods.
	CountRunningCommands(ctx context.Context) (int, error)

	// CountPendingCommands returns the queue depth.
	CountPendingCommands(ctx context.Context) (int, error)

	// HeartbeatCommand refreshes a running command's heartbeat timestamp.
	HeartbeatCommand(ctx context.Context, id string) error

	// CompleteCommand writes a terminal status and message.
	CompleteCommand(ctx context.Context, id string, status config.CommandStatus, message string) error

	// CancelPendingCommand flips a still-pending command to cancelled.
	// Returns false when the command is no longer pending.
	CancelPendingCommand(ctx context.Context, id string) (bool, error)

	// RecoverOrphanCommands times out running commands whose heartbeat is
	// older than the threshold. Returns how many were recovered.
	RecoverOrphanCommands(ctx context.Context, threshold time.Time) (int, error)

	// RecoverPodCommands times out running commands owned by a pod,
	// used once at startup after a crash.
	RecoverPodCommands(ctx context.Context, podID string) (int, error)
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy        bool           `json:"is_healthy"`
	DBReachable      bool           `json:"db_reachable"`
	DBError          string         `json:"db_error,omitempty"`
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	RunningCommands  int            `json:"running_commands"`
	MaxConcurrent    int            `json:"max_concurrent"`
	QueueDepth       int            `json:"queue_depth"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"` // "idle" or "working"
	CurrentCommandID  string    `json:"current_command_id,omitempty"`
	CommandsProcessed int       `json:"commands_processed"`
	LastActivity      time.Time `json:"last_activity"`
}
