package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/agent"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/queue"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/storage"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/tags"
)

// openThreadsKey is the state document key carrying unresolved plot threads.
const openThreadsKey = "fili_aperti"

// SeriesStatePayload is the JSON payload shared by every series stage command.
type SeriesStatePayload struct {
	SerieID int64 `json:"serieId"`
	Episode int   `json:"episode"`
}

// seriesStage describes one stage of the narrative state machine: how to tell
// a completed stage from a pending one, how to run it, and which operation
// follows it in the chain.
type seriesStage struct {
	name string
	next string
	done func(ep *models.SeriesEpisode) bool
	run  func(c *SeriesStageCommand, ctx context.Context, st *stageState) error
}

// stageState is the episode context loaded once per stage command.
type stageState struct {
	ep        *models.SeriesEpisode
	current   *models.SeriesState
	bootstrap bool
}

func neverDone(*models.SeriesEpisode) bool { return false }

// seriesStages maps each stage operation to its definition. The continuity
// verdict has no done predicate because it persists nothing, and the
// compressor re-checks the state row itself so a rerun stays idempotent.
var seriesStages = map[string]seriesStage{
	OpSeriesCanon: {
		name: "canon_extractor",
		next: OpSeriesDelta,
		done: func(ep *models.SeriesEpisode) bool { return ep.CanonEvents != "" },
		run:  (*SeriesStageCommand).runCanonExtractor,
	},
	OpSeriesDelta: {
		name: "delta_builder",
		next: OpSeriesVerdict,
		done: func(ep *models.SeriesEpisode) bool { return ep.DeltaJSON != "" },
		run:  (*SeriesStageCommand).runDeltaBuilder,
	},
	OpSeriesVerdict: {
		name: "continuity_validator",
		next: OpSeriesStateUpdate,
		done: neverDone,
		run:  (*SeriesStageCommand).runContinuityValidator,
	},
	OpSeriesStateUpdate: {
		name: "state_updater",
		next: OpSeriesCompress,
		done: func(ep *models.SeriesEpisode) bool { return ep.StateOut != "" },
		run:  (*SeriesStageCommand).runStateUpdater,
	},
	OpSeriesCompress: {
		name: "state_compressor",
		next: OpSeriesRecap,
		done: neverDone,
		run:  (*SeriesStageCommand).runStateCompressor,
	},
	OpSeriesRecap: {
		name: "recap_builder",
		next: "",
		done: func(ep *models.SeriesEpisode) bool { return ep.RecapText != "" },
		run:  (*SeriesStageCommand).runRecapBuilder,
	},
}

// SeriesStageCommand runs one stage of the series state machine and enqueues
// the following stage. Each stage writes its output to the episode row, so
// restarting the chain from the first stage resumes at the first stage whose
// output is missing instead of repeating completed work.
type SeriesStageCommand struct {
	deps    Deps
	stage   seriesStage
	payload SeriesStatePayload
	cmd     *models.QueuedCommand
	logger  *slog.Logger
}

// NewSeriesStageCommandFactory returns the queue factory shared by the six
// series stage operations.
func NewSeriesStageCommandFactory(deps Deps) queue.CommandFactory {
	return func(cmd *models.QueuedCommand) (queue.Command, error) {
		stage, ok := seriesStages[cmd.Operation]
		if !ok {
			return nil, fmt.Errorf("%s: not a series stage operation", cmd.Operation)
		}
		var payload SeriesStatePayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", cmd.Operation, err)
		}
		if payload.SerieID == 0 {
			return nil, fmt.Errorf("%s: serieId is required", cmd.Operation)
		}
		if payload.Episode <= 0 {
			return nil, fmt.Errorf("%s: episode must be positive", cmd.Operation)
		}
		return &SeriesStageCommand{
			deps:    deps,
			stage:   stage,
			payload: payload,
			cmd:     cmd,
			logger: deps.Logger.With("operation", cmd.Operation, "run_id", cmd.RunID,
				"serie_id", payload.SerieID, "episode", payload.Episode),
		}, nil
	}
}

func (c *SeriesStageCommand) Execute(ctx context.Context) queue.CommandResult {
	story, err := c.deps.Store.GetSerieEpisodeStory(ctx, c.payload.SerieID, c.payload.Episode)
	if err != nil {
		return queue.CommandResult{Message: fmt.Sprintf("loading episode story: %v", err)}
	}
	ep, err := c.deps.Store.EnsureSeriesEpisode(ctx, c.payload.SerieID, c.payload.Episode, story.ID)
	if err != nil {
		return queue.CommandResult{Message: err.Error()}
	}

	current, err := c.deps.Store.GetCurrentSeriesState(ctx, c.payload.SerieID)
	bootstrap := false
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return queue.CommandResult{Message: fmt.Sprintf("loading series state: %v", err)}
		}
		// First episode of the series: there is no state to contradict yet.
		bootstrap = true
	}

	// Snapshot the input state once. Later stages and reruns reuse the
	// snapshot, so every stage of one episode sees the same state even if
	// the series moved on in the meantime.
	if ep.StateIn == "" {
		stateIn := "{}"
		if !bootstrap {
			stateIn = current.WorldState
		}
		if err := c.setStage(ctx, ep, "state_in", stateIn); err != nil {
			return queue.CommandResult{Message: err.Error()}
		}
		ep.StateIn = stateIn
	}

	message := c.stage.name + " completed"
	if c.stage.done(ep) {
		message = c.stage.name + " already completed"
		c.logger.Info("stage output already present, skipping")
	} else {
		if err := ctx.Err(); err != nil {
			return queue.CommandResult{Message: fmt.Sprintf("%s: %v", c.stage.name, err)}
		}
		st := &stageState{ep: ep, current: current, bootstrap: bootstrap}
		if err := c.stage.run(c, ctx, st); err != nil {
			return queue.CommandResult{Message: fmt.Sprintf("%s: %v", c.stage.name, err)}
		}
		c.logger.Info("stage completed", "stage", c.stage.name)
	}

	// A lost link breaks the machine, so a failed enqueue fails the command
	// even though the stage output is already persisted: the rerun skips the
	// work and just re-chains.
	if err := c.enqueueNext(ctx); err != nil {
		return queue.CommandResult{Message: fmt.Sprintf("enqueuing next stage: %v", err)}
	}
	return queue.CommandResult{Success: true, Message: message}
}

func (c *SeriesStageCommand) enqueueNext(ctx context.Context) error {
	if c.stage.next == "" {
		return nil
	}
	_, created, err := c.deps.Enqueuer.Enqueue(ctx, queue.EnqueueInput{
		Operation:   c.stage.next,
		RunIDPrefix: "serie",
		EntityID:    c.payload.SerieID,
		Metadata:    map[string]string{"triggeredBy": c.cmd.RunID},
		Payload:     c.payload,
	})
	if err != nil {
		return err
	}
	c.logger.Info("next stage enqueued", "next", c.stage.next, "created", created)
	return nil
}

func (c *SeriesStageCommand) setStage(ctx context.Context, ep *models.SeriesEpisode, column, value string) error {
	return c.deps.Store.UpdateEpisodeStageField(ctx, ep.SerieID, ep.Episode, column, value)
}

// callRole runs one model call through the executor with the role's retry
// budget, format contract and output validation.
func (c *SeriesStageCommand) callRole(ctx context.Context, role config.Role, prompt string) (string, error) {
	stage := c.deps.Config.StageFor(role)
	result, err := c.deps.Executor.Execute(ctx, agent.ExecutionRequest{
		Role:         role,
		Prompt:       prompt,
		SystemSuffix: roleContract(role),
		Retry:        stage.Retry,
		Validate: func(output string) (bool, string) {
			return tags.Validate(role, tags.ParseTagBlocks(output))
		},
	})
	if err != nil {
		return "", err
	}
	return result.Output, nil
}

func (c *SeriesStageCommand) runCanonExtractor(ctx context.Context, st *stageState) error {
	story, err := c.deps.Store.GetStory(ctx, st.ep.StoryID)
	if err != nil {
		return fmt.Errorf("loading story: %w", err)
	}
	output, err := c.callRole(ctx, config.RoleCanonExtractor, buildCanonPrompt(story.Text))
	if err != nil {
		return err
	}
	// Keep only the event blocks, one canonical line each.
	var events []string
	for _, b := range tags.BlocksByTag(tags.ParseTagBlocks(output), "EVENTO") {
		if !b.IsEmpty() {
			events = append(events, "[EVENTO] "+b.Content())
		}
	}
	canon := strings.Join(events, "\n")
	if err := c.setStage(ctx, st.ep, "canon_events", canon); err != nil {
		return err
	}
	st.ep.CanonEvents = canon
	return nil
}

func (c *SeriesStageCommand) runDeltaBuilder(ctx context.Context, st *stageState) error {
	if st.ep.CanonEvents == "" {
		return errors.New("canon events missing, cannot build delta")
	}
	stage := c.deps.Config.StageFor(config.RoleDeltaBuilder)
	result, err := c.deps.Executor.Execute(ctx, agent.ExecutionRequest{
		Role:         config.RoleDeltaBuilder,
		Prompt:       buildDeltaPrompt(st.ep.CanonEvents, st.ep.StateIn),
		SystemSuffix: deltaContract,
		Retry:        stage.Retry,
		// The contract asks for JSON but a tag-format answer is also
		// usable; the state updater handles both.
		Validate: func(output string) (bool, string) {
			if looksLikeJSON(extractJSON(output)) {
				var doc map[string]any
				if err := json.Unmarshal([]byte(extractJSON(output)), &doc); err != nil {
					return false, fmt.Sprintf("invalid JSON object: %v", err)
				}
				return true, ""
			}
			return tags.Validate(config.RoleDeltaBuilder, tags.ParseTagBlocks(output))
		},
	})
	if err != nil {
		return err
	}
	if err := c.setStage(ctx, st.ep, "delta_json", result.Output); err != nil {
		return err
	}
	st.ep.DeltaJSON = result.Output
	return nil
}

// runContinuityValidator is advisory: the verdict goes to the log, never to
// the episode row, and a contradiction does not stop the chain.
func (c *SeriesStageCommand) runContinuityValidator(ctx context.Context, st *stageState) error {
	if st.bootstrap {
		c.logger.Info("continuity check skipped, no prior state to contradict")
		return nil
	}
	if st.ep.DeltaJSON == "" {
		return errors.New("delta missing, cannot validate continuity")
	}
	output, err := c.callRole(ctx, config.RoleContinuityValidator,
		buildVerdictPrompt(st.ep.DeltaJSON, st.ep.StateIn))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("continuity check unavailable", "error", err)
		return nil
	}
	blocks := tags.BlocksByTag(tags.ParseTagBlocks(output), "VERDETTO")
	if len(blocks) == 0 {
		c.logger.Warn("continuity check returned no verdict")
		return nil
	}
	verdict := strings.ToUpper(strings.TrimSpace(blocks[0].Content()))
	if strings.HasPrefix(verdict, "OK") {
		c.logger.Info("continuity check passed")
		return nil
	}
	description := blocks[0].Field("DESCRIZIONE")
	if description == "" {
		description = verdict
	}
	c.logger.Warn("continuity contradiction", "description", description)
	return nil
}

// runStateUpdater is the one mechanical stage: no model call, just applying
// the delta to the input state and appending the new version.
func (c *SeriesStageCommand) runStateUpdater(ctx context.Context, st *stageState) error {
	if st.ep.DeltaJSON == "" {
		return errors.New("delta missing, cannot update state")
	}

	var stateOut string
	if looksLikeJSON(extractJSON(st.ep.DeltaJSON)) {
		merged, err := mergeStateJSON(st.ep.StateIn, st.ep.DeltaJSON)
		if err != nil {
			return err
		}
		stateOut = merged
	} else {
		// Tag-format fallback: the delta prose becomes the new state as-is.
		stateOut = st.ep.DeltaJSON
	}

	openThreads := ""
	if !st.bootstrap {
		openThreads = st.current.OpenThreads
	}
	var doc map[string]any
	if json.Unmarshal([]byte(stateOut), &doc) == nil {
		if threads, ok := doc[openThreadsKey]; ok {
			if encoded, err := json.Marshal(threads); err == nil {
				openThreads = string(encoded)
			}
		}
	}

	prevVersion := 0
	if !st.bootstrap {
		prevVersion = st.current.Version
	}
	newState := &models.SeriesState{
		SerieID:        st.ep.SerieID,
		WorldState:     stateOut,
		OpenThreads:    openThreads,
		LastMajorEvent: lastEvent(st.ep.CanonEvents),
		CreatedByStage: "state_updater",
		SourceEpisode:  st.ep.Episode,
	}
	if err := c.deps.Store.InsertNewCurrentState(ctx, newState, prevVersion); err != nil {
		return err
	}
	c.logger.Info("series state advanced", "version", newState.Version)

	if err := c.setStage(ctx, st.ep, "state_out", stateOut); err != nil {
		return err
	}
	st.ep.StateOut = stateOut
	if err := c.setStage(ctx, st.ep, "open_threads_out", openThreads); err != nil {
		return err
	}
	st.ep.OpenThreadsOut = openThreads
	return nil
}

func (c *SeriesStageCommand) runStateCompressor(ctx context.Context, st *stageState) error {
	// The summary lives on the state row, so re-read the current state:
	// on a resumed run the version was appended by an earlier attempt.
	state, err := c.deps.Store.GetCurrentSeriesState(ctx, st.ep.SerieID)
	if err != nil {
		return fmt.Errorf("loading current state: %w", err)
	}
	if state.Summary != "" {
		return nil
	}
	output, err := c.callRole(ctx, config.RoleStateCompressor,
		buildCompressPrompt(state.WorldState, c.deps.Config.CompressedStateMaxTokens))
	if err != nil {
		return err
	}
	blocks := tags.BlocksByTag(tags.ParseTagBlocks(output), "STATO")
	return c.deps.Store.UpdateSeriesStateSummary(ctx, state.ID, blocks[0].Content())
}

func (c *SeriesStageCommand) runRecapBuilder(ctx context.Context, st *stageState) error {
	if st.ep.CanonEvents == "" {
		return errors.New("canon events missing, cannot build recap")
	}
	output, err := c.callRole(ctx, config.RoleRecapBuilder, buildRecapPrompt(st.ep.CanonEvents))
	if err != nil {
		return err
	}
	blocks := tags.BlocksByTag(tags.ParseTagBlocks(output), "RECAP")
	recap := blocks[0].Content()
	if err := c.setStage(ctx, st.ep, "recap_text", recap); err != nil {
		return err
	}
	st.ep.RecapText = recap
	return nil
}

// lastEvent returns the final event line of the canon list, without its tag.
func lastEvent(canonEvents string) string {
	lines := strings.Split(strings.TrimSpace(canonEvents), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[i]), "[EVENTO]"))
		if line != "" {
			return line
		}
	}
	return ""
}
