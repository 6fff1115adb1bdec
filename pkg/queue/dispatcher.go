package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
)

// NewRunID builds a correlation ID for one command run. The prefix names the
// operation family, the entity ID scopes it, and the timestamp disambiguates
// successive runs on the same entity.
func NewRunID(prefix string, entityID int64) string {
	return fmt.Sprintf("%s_%d_%d", prefix, entityID, time.Now().Unix())
}

// EnqueueInput describes one command to enqueue.
type EnqueueInput struct {
	Operation   string
	RunIDPrefix string
	EntityID    int64
	Priority    int
	Metadata    map[string]string
	Payload     any
}

// Dispatcher validates and enqueues commands.
type Dispatcher struct {
	store    Store
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store Store, registry *Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		registry: registry,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Enqueue inserts a pending command unless an equivalent one is already
// pending or running. The dedup key is (operation, thread scope): at most one
// active command per operation per entity. The returned bool is false when an
// existing command was returned instead of a new one.
func (d *Dispatcher) Enqueue(ctx context.Context, input EnqueueInput) (*models.QueuedCommand, bool, error) {
	if !d.registry.Known(input.Operation) {
		return nil, false, fmt.Errorf("operation %q: %w", input.Operation, ErrUnknownOperation)
	}

	threadScope := fmt.Sprintf("%s_%d", input.RunIDPrefix, input.EntityID)
	existing, err := d.store.FindActiveCommand(ctx, input.Operation, threadScope)
	if err != nil {
		return nil, false, fmt.Errorf("checking for active command: %w", err)
	}
	if existing != nil {
		d.logger.Info("duplicate command suppressed",
			"operation", input.Operation, "thread_scope", threadScope, "existing_run_id", existing.RunID)
		return existing, false, nil
	}

	var payload json.RawMessage
	if input.Payload != nil {
		payload, err = json.Marshal(input.Payload)
		if err != nil {
			return nil, false, fmt.Errorf("encoding payload: %w", err)
		}
	}

	cmd := &models.QueuedCommand{
		ID:          uuid.NewString(),
		Operation:   input.Operation,
		RunID:       NewRunID(input.RunIDPrefix, input.EntityID),
		ThreadScope: threadScope,
		Status:      config.CommandStatusPending,
		Priority:    input.Priority,
		Metadata:    input.Metadata,
		Payload:     payload,
		CreatedAt:   time.Now(),
	}
	if err := d.store.EnqueueCommand(ctx, cmd); err != nil {
		return nil, false, fmt.Errorf("enqueueing command: %w", err)
	}

	d.logger.Info("command enqueued",
		"operation", cmd.Operation, "run_id", cmd.RunID, "priority", cmd.Priority)
	return cmd, true, nil
}
