package api

import (
	"encoding/json"
	"time"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
)

// CommandResponse is the JSON shape of a queued command.
type CommandResponse struct {
	ID          string            `json:"id"`
	Operation   string            `json:"operation"`
	RunID       string            `json:"run_id"`
	Status      string            `json:"status"`
	Priority    int               `json:"priority"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	PodID       string            `json:"pod_id,omitempty"`
	Message     string            `json:"message,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func commandResponse(cmd *models.QueuedCommand) CommandResponse {
	return CommandResponse{
		ID:          cmd.ID,
		Operation:   cmd.Operation,
		RunID:       cmd.RunID,
		Status:      string(cmd.Status),
		Priority:    cmd.Priority,
		Metadata:    cmd.Metadata,
		Payload:     cmd.Payload,
		PodID:       cmd.PodID,
		Message:     cmd.Message,
		CreatedAt:   cmd.CreatedAt,
		StartedAt:   cmd.StartedAt,
		CompletedAt: cmd.CompletedAt,
	}
}
