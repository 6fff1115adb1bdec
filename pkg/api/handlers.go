package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/pipeline"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/queue"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/storage"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/version"
)

// EnqueueCommandRequest is the request body for POST /api/v1/commands.
// Which entity fields are required depends on the operation.
type EnqueueCommandRequest struct {
	Operation string  `json:"operation" binding:"required"`
	StoryID   int64   `json:"storyId"`
	SerieID   int64   `json:"serieId"`
	Episode   int     `json:"episode"`
	StoryIDs  []int64 `json:"storyIds"`
	Priority  int     `json:"priority"`
}

// enqueueInput maps the request onto the dispatcher input for its operation.
func enqueueInput(req EnqueueCommandRequest) (queue.EnqueueInput, error) {
	input := queue.EnqueueInput{
		Operation: req.Operation,
		Priority:  req.Priority,
	}
	switch req.Operation {
	case pipeline.OpTagAmbient, pipeline.OpTagVoice, pipeline.OpTagFx, pipeline.OpTagMusic:
		if req.StoryID == 0 {
			return input, errors.New("storyId is required for tagging operations")
		}
		input.EntityID = req.StoryID
		input.Payload = pipeline.TagPayload{StoryID: req.StoryID}
	case pipeline.OpBatchTag:
		if len(req.StoryIDs) == 0 {
			return input, errors.New("storyIds is required for batch-tag")
		}
		input.Payload = pipeline.BatchTagPayload{StoryIDs: req.StoryIDs}
	case pipeline.OpUpdateSeriesState,
		pipeline.OpSeriesCanon, pipeline.OpSeriesDelta, pipeline.OpSeriesVerdict,
		pipeline.OpSeriesStateUpdate, pipeline.OpSeriesCompress, pipeline.OpSeriesRecap:
		if req.SerieID == 0 || req.Episode <= 0 {
			return input, errors.New("serieId and episode are required for series operations")
		}
		if req.Operation == pipeline.OpUpdateSeriesState {
			// Alias: start the series chain at its first stage.
			input.Operation = pipeline.OpSeriesCanon
		}
		input.EntityID = req.SerieID
		input.Payload = pipeline.SeriesStatePayload{SerieID: req.SerieID, Episode: req.Episode}
	default:
		return input, errors.New("unknown operation: " + req.Operation)
	}
	input.RunIDPrefix = runPrefix(input.Operation)
	return input, nil
}

func runPrefix(operation string) string {
	switch operation {
	case pipeline.OpTagAmbient:
		return "amb"
	case pipeline.OpTagVoice:
		return "voc"
	case pipeline.OpTagFx:
		return "fx"
	case pipeline.OpTagMusic:
		return "mus"
	case pipeline.OpBatchTag:
		return "batch"
	case pipeline.OpSeriesCanon, pipeline.OpSeriesDelta, pipeline.OpSeriesVerdict,
		pipeline.OpSeriesStateUpdate, pipeline.OpSeriesCompress, pipeline.OpSeriesRecap:
		return "serie"
	default:
		return "cmd"
	}
}

// enqueueCommandHandler handles POST /api/v1/commands.
// Returns 201 with the new command, or 200 with the already-active one when
// the same operation is still pending or running for the same entity.
func (s *Server) enqueueCommandHandler(c *gin.Context) {
	var req EnqueueCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input, err := enqueueInput(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd, created, err := s.dispatcher.Enqueue(c.Request.Context(), input)
	if err != nil {
		if errors.Is(err, queue.ErrUnknownOperation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("enqueue failed", "operation", req.Operation, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue command"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, commandResponse(cmd))
}

// listCommandsHandler handles GET /api/v1/commands.
func (s *Server) listCommandsHandler(c *gin.Context) {
	var status config.CommandStatus
	if v := c.Query("status"); v != "" {
		status = config.CommandStatus(v)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + v})
			return
		}
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	commands, err := s.store.ListCommands(c.Request.Context(), status, limit)
	if err != nil {
		s.logger.Error("list commands failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list commands"})
		return
	}

	responses := make([]CommandResponse, 0, len(commands))
	for _, cmd := range commands {
		responses = append(responses, commandResponse(cmd))
	}
	c.JSON(http.StatusOK, gin.H{"commands": responses, "count": len(responses)})
}

// getCommandHandler handles GET /api/v1/commands/:id. The id may be a
// command UUID or a run ID.
func (s *Server) getCommandHandler(c *gin.Context) {
	id := c.Param("id")
	cmd, err := s.store.GetCommand(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		cmd, err = s.store.GetCommandByRunID(c.Request.Context(), id)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "command not found"})
			return
		}
		s.logger.Error("get command failed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load command"})
		return
	}
	c.JSON(http.StatusOK, commandResponse(cmd))
}

// cancelCommandHandler handles POST /api/v1/commands/:id/cancel.
// Pending commands are cancelled in the database; running commands are
// cancelled through the pod's cancel registry.
func (s *Server) cancelCommandHandler(c *gin.Context) {
	id := c.Param("id")
	cmd, err := s.store.GetCommand(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "command not found"})
			return
		}
		s.logger.Error("get command failed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load command"})
		return
	}

	switch cmd.Status {
	case config.CommandStatusPending:
		cancelled, err := s.store.CancelPendingCommand(c.Request.Context(), id)
		if err != nil {
			s.logger.Error("cancel pending command failed", "id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel command"})
			return
		}
		if !cancelled {
			// Claimed between the read and the cancel: fall back to the pool.
			if !s.pool.CancelCommand(id) {
				c.JSON(http.StatusConflict, gin.H{"error": "command is no longer cancellable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelled", "id": id})
	case config.CommandStatusRunning:
		if !s.pool.CancelCommand(id) {
			// Running on another pod; this pod cannot reach its context.
			c.JSON(http.StatusConflict, gin.H{"error": "command is running on another pod"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelling", "id": id})
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "command already " + string(cmd.Status)})
	}
}

// healthHandler handles GET /health: database reachability plus pool health.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK
	checks := gin.H{}

	if err := s.store.Ping(ctx); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
		checks["database"] = gin.H{"status": "unhealthy", "error": err.Error()}
	} else {
		checks["database"] = gin.H{"status": "healthy"}
	}

	if s.pool != nil {
		poolHealth := s.pool.Health()
		checks["worker_pool"] = poolHealth
		if poolHealth != nil && !poolHealth.IsHealthy && status == "healthy" {
			status = "degraded"
		}
	}

	c.JSON(httpStatus, gin.H{"status": status, "version": version.Full(), "checks": checks})
}
