package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/agent"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/chunk"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/queue"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/tags"
)

// roleForTagType binds each tagging pipeline to its agent role.
var roleForTagType = map[config.TagType]config.Role{
	config.TagTypeAmbient: config.RoleAmbientTagger,
	config.TagTypeVoice:   config.RoleVoiceTagger,
	config.TagTypeFx:      config.RoleFxTagger,
	config.TagTypeMusic:   config.RoleMusicTagger,
}

// nextTagOp chains the tagging pipelines: ambient, then voice, fx, music.
var nextTagOp = map[string]string{
	OpTagAmbient: OpTagVoice,
	OpTagVoice:   OpTagFx,
	OpTagFx:      OpTagMusic,
}

// opForTagType maps a tag type to its queue operation name.
var opForTagType = map[config.TagType]string{
	config.TagTypeAmbient: OpTagAmbient,
	config.TagTypeVoice:   OpTagVoice,
	config.TagTypeFx:      OpTagFx,
	config.TagTypeMusic:   OpTagMusic,
}

// TagPayload is the JSON payload of every tagging command.
type TagPayload struct {
	StoryID int64 `json:"storyId"`
}

// TagCommand runs one tagging pipeline over one story: chunk the source,
// call the model per chunk, merge the results into the story's tag set, and
// rebuild the annotated text.
type TagCommand struct {
	deps    Deps
	tagType config.TagType
	payload TagPayload
	cmd     *models.QueuedCommand
	logger  *slog.Logger
}

// NewTagCommandFactory returns a queue factory for one tagging pipeline.
func NewTagCommandFactory(deps Deps, tagType config.TagType) queue.CommandFactory {
	return func(cmd *models.QueuedCommand) (queue.Command, error) {
		var payload TagPayload
		if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", cmd.Operation, err)
		}
		if payload.StoryID == 0 {
			return nil, fmt.Errorf("%s: storyId is required", cmd.Operation)
		}
		return &TagCommand{
			deps:    deps,
			tagType: tagType,
			payload: payload,
			cmd:     cmd,
			logger: deps.Logger.With("operation", cmd.Operation,
				"run_id", cmd.RunID, "story_id", payload.StoryID),
		}, nil
	}
}

// Execute runs the pipeline. Chunks are processed sequentially; the first
// chunk whose model call exhausts its retry budget aborts the run without
// touching the stored tag set.
func (c *TagCommand) Execute(ctx context.Context) queue.CommandResult {
	role := roleForTagType[c.tagType]
	stage := c.deps.Config.StageFor(role)

	story, err := c.deps.Store.GetStory(ctx, c.payload.StoryID)
	if err != nil {
		return queue.CommandResult{Message: fmt.Sprintf("loading story: %v", err)}
	}

	chunks := chunk.Split(story.Text, stage.Chunk.MinTokens, stage.Chunk.MaxTokens, stage.Chunk.TargetTokens)
	if len(chunks) == 0 {
		// Empty source text is a broken precondition, not a tagging outcome.
		return queue.CommandResult{Message: "story text is empty, nothing to tag"}
	}
	c.logger.Info("tagging started", "chunks", len(chunks))

	sourceLines := strings.Split(story.Text, "\n")
	var (
		newEntries []tags.Entry
		cues       []locatedCue
		startLine  int
	)
	for i, ch := range chunks {
		result, err := c.deps.Executor.Execute(ctx, agent.ExecutionRequest{
			Role:         role,
			Prompt:       buildTagPrompt(ch.Text),
			SystemSuffix: tagContract(c.tagType),
			Retry:        stage.Retry,
			Validate: func(output string) (bool, string) {
				return tags.Validate(role, tags.ParseTagBlocks(output))
			},
		})
		if err != nil {
			return queue.CommandResult{
				Message: fmt.Sprintf("chunk %d/%d: %v", i+1, len(chunks), err),
			}
		}

		blocks := tags.ParseTagBlocks(result.Output)
		if c.tagType == config.TagTypeMusic {
			for _, cue := range tags.CuesFromBlocks(blocks) {
				cues = append(cues, locatedCue{cue: cue, fromLine: startLine})
			}
		} else {
			newEntries = append(newEntries, c.entriesForChunk(blocks, sourceLines, startLine)...)
		}
		startLine += strings.Count(ch.Text, "\n")
	}

	base, err := c.deps.Store.GetStoryTags(ctx, story.ID)
	if err != nil {
		return queue.CommandResult{Message: fmt.Sprintf("loading tag set: %v", err)}
	}

	var annotated string
	var kept int
	if c.tagType == config.TagTypeMusic {
		newEntries, annotated = c.placeMusicCues(story, base, sourceLines, cues)
		kept = len(newEntries)
	} else {
		merged := tags.MergeByType(base, c.tagType, newEntries)
		annotated = tags.Rebuild(story.Text, merged)
		kept = len(newEntries)
	}

	if err := c.deps.Store.ReplaceStoryTagsByType(ctx, story.ID, c.tagType, newEntries); err != nil {
		return queue.CommandResult{Message: fmt.Sprintf("persisting tag set: %v", err)}
	}
	if err := c.deps.Store.UpdateStoryAnnotatedText(ctx, story.ID, annotated); err != nil {
		return queue.CommandResult{Message: fmt.Sprintf("persisting annotated text: %v", err)}
	}

	c.chainNext(ctx, story, newEntries)

	return queue.CommandResult{
		Success: true,
		Message: fmt.Sprintf("%d chunk(s) processed, %d %s tag(s)", len(chunks), kept, c.tagType),
	}
}

// entriesForChunk converts model output blocks into tag entries anchored
// inside the chunk. A block quoting a POSIZIONE line is anchored there;
// everything else anchors at the chunk's first line.
func (c *TagCommand) entriesForChunk(blocks []tags.Block, sourceLines []string, startLine int) []tags.Entry {
	wantTag := tags.TagName(c.tagType)
	var out []tags.Entry
	ordinal := 0
	for _, b := range blocks {
		if b.Tag != wantTag || b.IsEmpty() {
			continue
		}
		entry := tags.EntryFromBlock(c.tagType, b, startLine, ordinal)
		if pos := entry.Fields["POSIZIONE"]; pos != "" {
			delete(entry.Fields, "POSIZIONE")
			if anchor := tags.LocateCueAnchor(sourceLines, tags.Cue{Position: pos}, startLine); anchor >= 0 {
				entry.Line = anchor
			}
		}
		ordinal++
		out = append(out, entry)
	}
	return out
}

type locatedCue struct {
	cue      tags.Cue
	fromLine int
}

// placeMusicCues anchors the collected cues against the source text, applies
// the proximity filter, and splices the survivors into the annotated text.
// The spliced output (not a plain rebuild) is what gets persisted: splicing
// reopens narrator blocks around inserted cues so no block is corrupted.
func (c *TagCommand) placeMusicCues(story *models.Story, base []tags.Entry, sourceLines []string, cues []locatedCue) ([]tags.Entry, string) {
	minDistance := c.deps.Config.MusicMinCueDistance

	var entries []tags.Entry
	var anchored []tags.Cue
	ordinals := make(map[int]int)
	for _, lc := range cues {
		anchor := tags.LocateCueAnchor(sourceLines, lc.cue, lc.fromLine)
		if anchor < 0 {
			c.logger.Warn("music cue position not found, dropping cue",
				"position", lc.cue.Position)
			continue
		}
		entries = append(entries, tags.Entry{
			Type:    config.TagTypeMusic,
			Line:    anchor,
			Ordinal: ordinals[anchor],
			Content: lc.cue.Content,
			Fields:  lc.cue.Fields,
		})
		ordinals[anchor]++
		anchored = append(anchored, lc.cue)
	}

	merged := tags.MergeByType(base, config.TagTypeMusic, entries)
	filtered := tags.FilterMusicTagsByProximity(merged, minDistance)

	// Split the filtered set back into kept music entries and the rest.
	keptContent := make(map[string]bool)
	var keptMusic, others []tags.Entry
	for _, e := range filtered {
		if e.Type == config.TagTypeMusic {
			keptMusic = append(keptMusic, e)
			keptContent[e.Content] = true
		} else {
			others = append(others, e)
		}
	}
	var keptCues []tags.Cue
	for _, cue := range anchored {
		if keptContent[cue.Content] {
			keptCues = append(keptCues, cue)
		}
	}

	baseAnnotated := tags.Rebuild(story.Text, others)
	annotated := tags.SpliceCues(baseAnnotated, keptCues, 0, minDistance)
	return keptMusic, annotated
}

// musicCueSetComplete gates the hand-off from the music stage to the series
// state machine: the episode must carry at least one spliced cue. An empty
// set means either the tagger declined to score the episode or the proximity
// filter dropped every cue, and the episode needs review before its state is
// advanced.
func musicCueSetComplete(entries []tags.Entry) bool {
	return len(entries) > 0
}

// chainNext enqueues the follow-up stage. Auto-launch gating: the story must
// opt in and not be marked for downstream deletion. After the music stage the
// chain hands over to the series state machine for series episodes, provided
// the persisted cue set passes the completeness check.
func (c *TagCommand) chainNext(ctx context.Context, story *models.Story, persisted []tags.Entry) {
	if !story.AutoLaunch || story.DeleteNextItems {
		return
	}

	metadata := map[string]string{"triggeredBy": c.cmd.RunID}
	if next, ok := nextTagOp[c.cmd.Operation]; ok {
		_, created, err := c.deps.Enqueuer.Enqueue(ctx, queue.EnqueueInput{
			Operation:   next,
			RunIDPrefix: runPrefixForOp(next),
			EntityID:    story.ID,
			Metadata:    metadata,
			Payload:     TagPayload{StoryID: story.ID},
		})
		if err != nil {
			c.logger.Error("failed to enqueue next tagging stage", "next", next, "error", err)
			return
		}
		c.logger.Info("next tagging stage enqueued", "next", next, "created", created)
		return
	}

	// End of the tagging chain: kick the series state machine.
	if c.cmd.Operation == OpTagMusic && story.SerieID != nil && story.Episode != nil {
		if !musicCueSetComplete(persisted) {
			c.logger.Warn("music cue set incomplete, series state update not chained")
			return
		}
		_, created, err := c.deps.Enqueuer.Enqueue(ctx, queue.EnqueueInput{
			Operation:   OpSeriesCanon,
			RunIDPrefix: runPrefixForOp(OpSeriesCanon),
			EntityID:    *story.SerieID,
			Metadata:    metadata,
			Payload:     SeriesStatePayload{SerieID: *story.SerieID, Episode: *story.Episode},
		})
		if err != nil {
			c.logger.Error("failed to enqueue series state update", "error", err)
			return
		}
		c.logger.Info("series state update enqueued", "created", created)
	}
}

// runPrefixForOp returns the run-ID prefix for an operation.
func runPrefixForOp(op string) string {
	switch op {
	case OpTagAmbient:
		return "amb"
	case OpTagVoice:
		return "voc"
	case OpTagFx:
		return "fx"
	case OpTagMusic:
		return "mus"
	case OpBatchTag:
		return "batch"
	case OpSeriesCanon, OpSeriesDelta, OpSeriesVerdict,
		OpSeriesStateUpdate, OpSeriesCompress, OpSeriesRecap:
		return "serie"
	default:
		return "cmd"
	}
}
