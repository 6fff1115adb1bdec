package models

import (
	"encoding/json"
	"time"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
)

// QueuedCommand is one row of the command queue. The payload is an opaque
// JSON document decoded by the command factory registered for Operation.
type QueuedCommand struct {
	ID          string // uuid
	Operation   string
	RunID       string // "{prefix}_{entityID}_{unix}", dedup/idempotency key
	ThreadScope string
	Status      config.CommandStatus
	Priority    int
	Metadata    map[string]string
	Payload     json.RawMessage
	PodID       string
	Message     string // CommandResult message (success or failure reason)

	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastHeartbeatAt *time.Time
}
