package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// CommandRegistry is the subset of WorkerPool used by Worker for cancellation wiring.
type CommandRegistry interface {
	RegisterCommand(commandID string, cancel context.CancelFunc)
	UnregisterCommand(commandID string)
}

// Worker is a single queue worker that polls for and processes commands.
type Worker struct {
	id       string
	podID    string
	store    Store
	config   *config.QueueConfig
	registry *Registry
	pool     CommandRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu                sync.RWMutex
	status            WorkerStatus
	currentCommandID  string
	commandsProcessed int
	lastActivity      time.Time
}

// NewWorker creates a new queue worker.
func NewWorker(id, podID string, store Store, cfg *config.QueueConfig, registry *Registry, pool CommandRegistry) *Worker {
	return &Worker{
		id:           id,
		podID:        podID,
		store:        store,
		config:       cfg,
		registry:     registry,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            string(w.status),
		CurrentCommandID:  w.currentCommandID,
		CommandsProcessed: w.commandsProcessed,
		LastActivity:      w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoCommandsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing command", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess checks capacity, claims a command, and processes it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	// Best-effort capacity check; racy with concurrent workers but bounded
	// by WorkerCount and mitigated by poll jitter.
	running, err := w.store.CountRunningCommands(ctx)
	if err != nil {
		return fmt.Errorf("checking running commands: %w", err)
	}
	if running >= w.config.MaxConcurrentCommands {
		return ErrAtCapacity
	}

	claimed, err := w.store.ClaimNextCommand(ctx, w.podID)
	if err != nil {
		return fmt.Errorf("claiming command: %w", err)
	}
	if claimed == nil {
		return ErrNoCommandsAvailable
	}

	log := slog.With("command_id", claimed.ID, "operation", claimed.Operation,
		"run_id", claimed.RunID, "worker_id", w.id)
	log.Info("Command claimed")

	w.setStatus(WorkerStatusWorking, claimed.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	cmdCtx, cancelCmd := context.WithTimeout(ctx, w.config.CommandTimeout)
	defer cancelCmd()

	// Register cancel function for API-triggered cancellation.
	w.pool.RegisterCommand(claimed.ID, cancelCmd)
	defer w.pool.UnregisterCommand(claimed.ID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(cmdCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, claimed.ID)

	status, message := w.execute(cmdCtx, claimed)

	cancelHeartbeat()

	// Terminal update uses a background context, cmdCtx may be cancelled.
	if err := w.store.CompleteCommand(context.Background(), claimed.ID, status, message); err != nil {
		log.Error("Failed to update command terminal status", "error", err)
		return err
	}

	w.mu.Lock()
	w.commandsProcessed++
	w.mu.Unlock()

	log.Info("Command processing complete", "status", status)
	return nil
}

// execute builds and runs the command, mapping the outcome and any context
// expiry to a terminal status.
func (w *Worker) execute(ctx context.Context, claimed *models.QueuedCommand) (config.CommandStatus, string) {
	command, err := w.registry.Build(claimed)
	if err != nil {
		return config.CommandStatusFailed, fmt.Sprintf("building command: %v", err)
	}

	result := command.Execute(ctx)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return config.CommandStatusTimedOut,
			fmt.Sprintf("command timed out after %v", w.config.CommandTimeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return config.CommandStatusCancelled, "command cancelled"
	case result.Success:
		return config.CommandStatusCompleted, result.Message
	default:
		return config.CommandStatusFailed, result.Message
	}
}

// runHeartbeat periodically refreshes the heartbeat for orphan detection.
func (w *Worker) runHeartbeat(ctx context.Context, commandID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.HeartbeatCommand(ctx, commandID); err != nil {
				slog.Warn("Heartbeat update failed", "command_id", commandID, "error", err)
			}
		}
	}
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, commandID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentCommandID = commandID
	w.lastActivity = time.Now()
}
