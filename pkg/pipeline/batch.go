package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/queue"
)

// BatchTagPayload is the JSON payload of the batch-tag command.
type BatchTagPayload struct {
	StoryIDs []int64 `json:"storyIds"`
}

// BatchTagCommand fans out one tag-ambient command per story. The per-story
// commands carry the batch run ID in their metadata, and each story's own
// auto-launch flag decides whether the rest of its chain follows.
type BatchTagCommand struct {
	deps    Deps
	payload BatchTagPayload
	cmd     *models.QueuedCommand
	logger  *slog.Logger
}

// NewBatchTagCommandFactory returns the queue factory for batch tagging.
func NewBatchTagCommandFactory(deps Deps) queue.CommandFactory {
	return func(cmd *models.QueuedCommand) (queue.Command, error) {
		var payload BatchTagPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", cmd.Operation, err)
		}
		if len(payload.StoryIDs) == 0 {
			return nil, fmt.Errorf("%s: storyIds is required", cmd.Operation)
		}
		return &BatchTagCommand{
			deps:    deps,
			payload: payload,
			cmd:     cmd,
			logger:  deps.Logger.With("operation", cmd.Operation, "run_id", cmd.RunID),
		}, nil
	}
}

func (c *BatchTagCommand) Execute(ctx context.Context) queue.CommandResult {
	var enqueued, skipped, failed int
	for _, storyID := range c.payload.StoryIDs {
		if err := ctx.Err(); err != nil {
			return queue.CommandResult{Message: err.Error()}
		}
		_, created, err := c.deps.Enqueuer.Enqueue(ctx, queue.EnqueueInput{
			Operation:   OpTagAmbient,
			RunIDPrefix: runPrefixForOp(OpTagAmbient),
			EntityID:    storyID,
			Metadata:    map[string]string{"triggeredBy": c.cmd.RunID},
			Payload:     TagPayload{StoryID: storyID},
		})
		if err != nil {
			c.logger.Error("batch fan-out failed for story", "story_id", storyID, "error", err)
			failed++
			continue
		}
		if created {
			enqueued++
		} else {
			// An active command for this story already exists.
			skipped++
		}
	}

	message := fmt.Sprintf("%d enqueued, %d already active, %d failed", enqueued, skipped, failed)
	return queue.CommandResult{Success: failed == 0, Message: message}
}
