// Package pipeline implements the generation commands executed by the queue:
// the four chunked tagging pipelines and the series state machine.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/agent"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/queue"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/tags"
)

// Operation names registered with the queue. The series state machine is one
// operation per stage; each stage command enqueues the next one on success.
const (
	OpTagAmbient = "tag-ambient"
	OpTagVoice   = "tag-voice"
	OpTagFx      = "tag-fx"
	OpTagMusic   = "tag-music"
	OpBatchTag   = "batch-tag"

	OpSeriesCanon       = "serie-canon"
	OpSeriesDelta       = "serie-delta"
	OpSeriesVerdict     = "serie-verdict"
	OpSeriesStateUpdate = "serie-state"
	OpSeriesCompress    = "serie-compress"
	OpSeriesRecap       = "serie-recap"

	// OpUpdateSeriesState is the API-facing alias that starts the series
	// chain at its first stage. It is not a registered queue operation.
	OpUpdateSeriesState = "update-series-state"
)

// Store is the persistence surface the pipeline commands need.
// *storage.Store implements it; tests use fakes.
type Store interface {
	GetStory(ctx context.Context, id int64) (*models.Story, error)
	UpdateStoryAnnotatedText(ctx context.Context, id int64, annotated string) error

	GetStoryTags(ctx context.Context, storyID int64) ([]tags.Entry, error)
	ReplaceStoryTagsByType(ctx context.Context, storyID int64, tagType config.TagType, entries []tags.Entry) error

	GetSerieEpisodeStory(ctx context.Context, serieID int64, episode int) (*models.Story, error)
	GetCurrentSeriesState(ctx context.Context, serieID int64) (*models.SeriesState, error)
	InsertNewCurrentState(ctx context.Context, state *models.SeriesState, prevVersion int) error
	UpdateSeriesStateSummary(ctx context.Context, stateID int64, summary string) error

	EnsureSeriesEpisode(ctx context.Context, serieID int64, episode int, storyID int64) (*models.SeriesEpisode, error)
	UpdateEpisodeStageField(ctx context.Context, serieID int64, episode int, column, value string) error
}

// Executor runs model calls for a role.
type Executor interface {
	Execute(ctx context.Context, req agent.ExecutionRequest) (*agent.ExecutionResult, error)
}

// Enqueuer enqueues follow-up commands (stage chaining and batch fan-out).
type Enqueuer interface {
	Enqueue(ctx context.Context, input queue.EnqueueInput) (*models.QueuedCommand, bool, error)
}

// Deps bundles the dependencies injected into every pipeline command.
type Deps struct {
	Store    Store
	Executor Executor
	Enqueuer Enqueuer
	Config   *config.PipelineConfig
	Logger   *slog.Logger
}
