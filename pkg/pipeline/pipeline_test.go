package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/agent"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/queue"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/storage"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/tags"
)

// fakeStore is an in-memory pipeline.Store.
type fakeStore struct {
	stories   map[int64]*models.Story
	storyTags map[int64][]tags.Entry
	episodes  map[string]*models.SeriesEpisode
	states    map[int64][]*models.SeriesState // per serie, append order
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		stories:   map[int64]*models.Story{},
		storyTags: map[int64][]tags.Entry{},
		episodes:  map[string]*models.SeriesEpisode{},
		states:    map[int64][]*models.SeriesState{},
		nextID:    100,
	}
}

func epKey(serieID int64, episode int) string { return fmt.Sprintf("%d/%d", serieID, episode) }

func (f *fakeStore) GetStory(_ context.Context, id int64) (*models.Story, error) {
	story, ok := f.stories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return story, nil
}

func (f *fakeStore) UpdateStoryAnnotatedText(_ context.Context, id int64, annotated string) error {
	story, ok := f.stories[id]
	if !ok {
		return storage.ErrNotFound
	}
	story.AnnotatedText = annotated
	return nil
}

func (f *fakeStore) GetStoryTags(_ context.Context, storyID int64) ([]tags.Entry, error) {
	return append([]tags.Entry(nil), f.storyTags[storyID]...), nil
}

func (f *fakeStore) ReplaceStoryTagsByType(_ context.Context, storyID int64, tagType config.TagType, entries []tags.Entry) error {
	var kept []tags.Entry
	for _, e := range f.storyTags[storyID] {
		if e.Type != tagType {
			kept = append(kept, e)
		}
	}
	f.storyTags[storyID] = append(kept, entries...)
	return nil
}

func (f *fakeStore) GetSerieEpisodeStory(_ context.Context, serieID int64, episode int) (*models.Story, error) {
	for _, story := range f.stories {
		if story.SerieID != nil && *story.SerieID == serieID && story.Episode != nil && *story.Episode == episode {
			return story, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetCurrentSeriesState(_ context.Context, serieID int64) (*models.SeriesState, error) {
	for _, st := range f.states[serieID] {
		if st.IsCurrent {
			return st, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) InsertNewCurrentState(_ context.Context, state *models.SeriesState, prevVersion int) error {
	for _, st := range f.states[state.SerieID] {
		if st.Version == prevVersion+1 {
			return storage.ErrVersionConflict
		}
		st.IsCurrent = false
	}
	f.nextID++
	state.ID = f.nextID
	state.Version = prevVersion + 1
	state.IsCurrent = true
	state.CreatedAt = time.Now()
	f.states[state.SerieID] = append(f.states[state.SerieID], state)
	return nil
}

func (f *fakeStore) UpdateSeriesStateSummary(_ context.Context, stateID int64, summary string) error {
	for _, all := range f.states {
		for _, st := range all {
			if st.ID == stateID {
				st.Summary = summary
				return nil
			}
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) EnsureSeriesEpisode(_ context.Context, serieID int64, episode int, storyID int64) (*models.SeriesEpisode, error) {
	key := epKey(serieID, episode)
	if ep, ok := f.episodes[key]; ok {
		return ep, nil
	}
	f.nextID++
	ep := &models.SeriesEpisode{ID: f.nextID, SerieID: serieID, Episode: episode, StoryID: storyID}
	f.episodes[key] = ep
	return ep, nil
}

func (f *fakeStore) UpdateEpisodeStageField(_ context.Context, serieID int64, episode int, column, value string) error {
	ep, ok := f.episodes[epKey(serieID, episode)]
	if !ok {
		return storage.ErrNotFound
	}
	switch column {
	case "canon_events":
		ep.CanonEvents = value
	case "delta_json":
		ep.DeltaJSON = value
	case "state_in":
		ep.StateIn = value
	case "state_out":
		ep.StateOut = value
	case "open_threads_out":
		ep.OpenThreadsOut = value
	case "recap_text":
		ep.RecapText = value
	default:
		return fmt.Errorf("unknown stage column %q", column)
	}
	return nil
}

// stubExecutor returns scripted outputs per role, in order. A script entry
// of "" simulates a terminal execution failure for that call.
type stubExecutor struct {
	scripts map[config.Role][]string
	calls   map[config.Role]int
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{scripts: map[config.Role][]string{}, calls: map[config.Role]int{}}
}

func (s *stubExecutor) Execute(_ context.Context, req agent.ExecutionRequest) (*agent.ExecutionResult, error) {
	idx := s.calls[req.Role]
	s.calls[req.Role] = idx + 1
	script := s.scripts[req.Role]
	if idx >= len(script) {
		return nil, fmt.Errorf("role %s: no scripted output for call %d", req.Role, idx+1)
	}
	output := script[idx]
	if output == "" {
		return nil, fmt.Errorf("role %s failed after 3 attempt(s) across 1 model(s): %w", req.Role, agent.ErrModelsExhausted)
	}
	if req.Validate != nil {
		if ok, reason := req.Validate(output); !ok {
			return nil, fmt.Errorf("role %s: scripted output rejected: %s", req.Role, reason)
		}
	}
	return &agent.ExecutionResult{Output: output, Model: "stub", Attempts: 1, ModelsTried: []string{"stub"}}, nil
}

// fakeEnqueuer records fan-out and chain enqueues.
type fakeEnqueuer struct {
	inputs []queue.EnqueueInput
	// operations reported as already active (dedup hit)
	active map[string]bool
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, input queue.EnqueueInput) (*models.QueuedCommand, bool, error) {
	f.inputs = append(f.inputs, input)
	if f.active[input.Operation] {
		return &models.QueuedCommand{Operation: input.Operation}, false, nil
	}
	return &models.QueuedCommand{Operation: input.Operation, RunID: queue.NewRunID(input.RunIDPrefix, input.EntityID)}, true, nil
}

func testDeps(store *fakeStore, exec *stubExecutor, enq *fakeEnqueuer) Deps {
	cfg := config.DefaultPipelineConfig()
	cfg.Defaults.Chunk = config.ChunkBounds{MinTokens: 1, MaxTokens: 1000, TargetTokens: 500}
	cfg.Defaults.Retry.RetryDelayBase = 0
	cfg.MusicMinCueDistance = 5
	return Deps{
		Store:    store,
		Executor: exec,
		Enqueuer: enq,
		Config:   cfg,
		Logger:   slog.New(slog.NewTextHandler(&strings.Builder{}, nil)),
	}
}

func buildCommand(t *testing.T, factory queue.CommandFactory, operation string, payload any) queue.Command {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	cmd, err := factory(&models.QueuedCommand{
		Operation: operation,
		RunID:     queue.NewRunID("test", 1),
		Payload:   raw,
	})
	require.NoError(t, err)
	return cmd
}

func storyText() string {
	return strings.Join([]string{
		"Il vento scuoteva le persiane della locanda.",
		"Anna scese le scale senza fare rumore.",
		"Fuori, il mercato si stava svegliando.",
		"Un carro passò sbattendo sulle pietre.",
		"Anna comprò del pane e sparì nel vicolo.",
	}, "\n")
}

func TestTagCommand_AmbientPersistsTagsAndChains(t *testing.T) {
	store := newFakeStore()
	store.stories[1] = &models.Story{ID: 1, Text: storyText(), AutoLaunch: true}

	exec := newStubExecutor()
	exec.scripts[config.RoleAmbientTagger] = []string{
		"[AMBIENTE] locanda di notte\nTONO: cupo",
	}
	enq := &fakeEnqueuer{}

	cmd := buildCommand(t, NewTagCommandFactory(testDeps(store, exec, enq), config.TagTypeAmbient),
		OpTagAmbient, TagPayload{StoryID: 1})
	result := cmd.Execute(context.Background())
	require.True(t, result.Success, result.Message)

	entries := store.storyTags[1]
	require.Len(t, entries, 1)
	assert.Equal(t, config.TagTypeAmbient, entries[0].Type)
	assert.Equal(t, "locanda di notte", entries[0].Content)
	assert.Equal(t, "cupo", entries[0].Fields["TONO"])
	assert.Contains(t, store.stories[1].AnnotatedText, "[AMBIENTE] locanda di notte")

	require.Len(t, enq.inputs, 1)
	assert.Equal(t, OpTagVoice, enq.inputs[0].Operation)
	assert.NotEmpty(t, enq.inputs[0].Metadata["triggeredBy"])
}

func TestTagCommand_ModelFailureAbortsWithoutPersisting(t *testing.T) {
	store := newFakeStore()
	store.stories[1] = &models.Story{ID: 1, Text: storyText(), AutoLaunch: true}
	store.storyTags[1] = []tags.Entry{{Type: config.TagTypeAmbient, Line: 0, Content: "precedente"}}

	exec := newStubExecutor()
	exec.scripts[config.RoleAmbientTagger] = []string{""} // terminal failure
	enq := &fakeEnqueuer{}

	cmd := buildCommand(t, NewTagCommandFactory(testDeps(store, exec, enq), config.TagTypeAmbient),
		OpTagAmbient, TagPayload{StoryID: 1})
	result := cmd.Execute(context.Background())

	require.False(t, result.Success)
	assert.Contains(t, result.Message, "chunk 1/1")
	// Previous tag set untouched, nothing chained.
	assert.Equal(t, "precedente", store.storyTags[1][0].Content)
	assert.Empty(t, enq.inputs)
}

func TestTagCommand_NoChainWithoutAutoLaunch(t *testing.T) {
	store := newFakeStore()
	store.stories[1] = &models.Story{ID: 1, Text: storyText(), AutoLaunch: true, DeleteNextItems: true}

	exec := newStubExecutor()
	exec.scripts[config.RoleFxTagger] = []string{"[EFFETTO]"}
	enq := &fakeEnqueuer{}

	cmd := buildCommand(t, NewTagCommandFactory(testDeps(store, exec, enq), config.TagTypeFx),
		OpTagFx, TagPayload{StoryID: 1})
	result := cmd.Execute(context.Background())

	require.True(t, result.Success, result.Message)
	assert.Empty(t, enq.inputs)
}

func TestTagCommand_EmptyBlockMeansNothingToTag(t *testing.T) {
	store := newFakeStore()
	store.stories[1] = &models.Story{ID: 1, Text: storyText()}

	exec := newStubExecutor()
	exec.scripts[config.RoleFxTagger] = []string{"[EFFETTO]"}
	enq := &fakeEnqueuer{}

	cmd := buildCommand(t, NewTagCommandFactory(testDeps(store, exec, enq), config.TagTypeFx),
		OpTagFx, TagPayload{StoryID: 1})
	result := cmd.Execute(context.Background())

	require.True(t, result.Success, result.Message)
	assert.Empty(t, store.storyTags[1])
}

func TestTagCommand_MusicSpliceAndProximity(t *testing.T) {
	store := newFakeStore()
	serieID := int64(7)
	episode := 2
	store.stories[1] = &models.Story{
		ID: 1, Text: storyText(), AutoLaunch: true,
		SerieID: &serieID, Episode: &episode,
	}

	exec := newStubExecutor()
	// Two cues two lines apart: the proximity filter (min distance 5)
	// keeps only the first.
	exec.scripts[config.RoleMusicTagger] = []string{strings.Join([]string{
		"[MUSICA] archi tesi",
		"MOOD: inquieto",
		"POSIZIONE: Anna scese le scale",
		"[MUSICA] percussioni",
		"POSIZIONE: Un carro passò",
	}, "\n")}
	enq := &fakeEnqueuer{}

	cmd := buildCommand(t, NewTagCommandFactory(testDeps(store, exec, enq), config.TagTypeMusic),
		OpTagMusic, TagPayload{StoryID: 1})
	result := cmd.Execute(context.Background())
	require.True(t, result.Success, result.Message)

	entries := store.storyTags[1]
	require.Len(t, entries, 1)
	assert.Equal(t, "archi tesi", entries[0].Content)
	assert.Equal(t, 1, entries[0].Line) // anchored at the quoted line

	annotated := store.stories[1].AnnotatedText
	assert.Contains(t, annotated, "[MUSICA] archi tesi")
	assert.NotContains(t, annotated, "percussioni")
	// The cue sits immediately before the line it quotes.
	lines := strings.Split(annotated, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "[MUSICA]") {
			require.Greater(t, len(lines), i+2)
			assert.Equal(t, "MOOD: inquieto", lines[i+1])
			assert.Contains(t, lines[i+2], "Anna scese le scale")
		}
	}

	// End of the tagging chain for a series episode: state machine enqueued.
	require.Len(t, enq.inputs, 1)
	assert.Equal(t, OpSeriesCanon, enq.inputs[0].Operation)
	assert.Equal(t, serieID, enq.inputs[0].EntityID)
}

func TestTagCommand_EmptyTextFailsPrecondition(t *testing.T) {
	store := newFakeStore()
	store.stories[1] = &models.Story{ID: 1, Text: "   \n\t\n", AutoLaunch: true}

	exec := newStubExecutor()
	enq := &fakeEnqueuer{}

	cmd := buildCommand(t, NewTagCommandFactory(testDeps(store, exec, enq), config.TagTypeAmbient),
		OpTagAmbient, TagPayload{StoryID: 1})
	result := cmd.Execute(context.Background())

	require.False(t, result.Success)
	assert.Contains(t, result.Message, "empty")
	assert.Zero(t, exec.calls[config.RoleAmbientTagger])
	assert.Empty(t, store.storyTags[1])
	assert.Empty(t, enq.inputs)
}

func TestTagCommand_MusicWithoutCuesDoesNotChain(t *testing.T) {
	store := newFakeStore()
	serieID := int64(7)
	episode := 2
	store.stories[1] = &models.Story{
		ID: 1, Text: storyText(), AutoLaunch: true,
		SerieID: &serieID, Episode: &episode,
	}

	exec := newStubExecutor()
	exec.scripts[config.RoleMusicTagger] = []string{"[MUSICA]"}
	enq := &fakeEnqueuer{}

	cmd := buildCommand(t, NewTagCommandFactory(testDeps(store, exec, enq), config.TagTypeMusic),
		OpTagMusic, TagPayload{StoryID: 1})
	result := cmd.Execute(context.Background())

	require.True(t, result.Success, result.Message)
	assert.Empty(t, store.storyTags[1])
	// No cue survived, so the episode is not handed over to the state
	// machine even though auto-launch is on.
	assert.Empty(t, enq.inputs)
}

func seriesFixtures(store *fakeStore) {
	serieID := int64(7)
	episode := 1
	store.stories[1] = &models.Story{ID: 1, Text: storyText(), SerieID: &serieID, Episode: &episode}
}

// executeSeriesChain starts the state machine at its first stage and follows
// the enqueued follow-ups the way the worker pool would, stopping at the
// first failed stage or when a stage enqueues nothing.
func executeSeriesChain(t *testing.T, deps Deps, enq *fakeEnqueuer, payload SeriesStatePayload) queue.CommandResult {
	t.Helper()
	factory := NewSeriesStageCommandFactory(deps)
	op := OpSeriesCanon
	for {
		seen := len(enq.inputs)
		result := buildCommand(t, factory, op, payload).Execute(context.Background())
		if !result.Success || len(enq.inputs) == seen {
			return result
		}
		op = enq.inputs[len(enq.inputs)-1].Operation
	}
}

func chainedOperations(enq *fakeEnqueuer) []string {
	var ops []string
	for _, in := range enq.inputs {
		ops = append(ops, in.Operation)
	}
	return ops
}

func TestSeriesState_BootstrapFullRun(t *testing.T) {
	store := newFakeStore()
	seriesFixtures(store)

	exec := newStubExecutor()
	exec.scripts[config.RoleCanonExtractor] = []string{
		"[EVENTO] Anna lascia la locanda\n[EVENTO] Anna sparisce nel vicolo",
	}
	exec.scripts[config.RoleDeltaBuilder] = []string{
		`{"anna": {"posizione": "vicolo"}, "fili_aperti": ["dove va Anna"]}`,
	}
	exec.scripts[config.RoleStateCompressor] = []string{"[STATO] Anna è nel vicolo."}
	exec.scripts[config.RoleRecapBuilder] = []string{"[RECAP] Anna ha lasciato la locanda."}
	enq := &fakeEnqueuer{}

	result := executeSeriesChain(t, testDeps(store, exec, enq), enq,
		SeriesStatePayload{SerieID: 7, Episode: 1})
	require.True(t, result.Success, result.Message)

	// Each stage enqueues the next one through the dispatcher.
	assert.Equal(t, []string{OpSeriesDelta, OpSeriesVerdict, OpSeriesStateUpdate,
		OpSeriesCompress, OpSeriesRecap}, chainedOperations(enq))

	// The validator makes no model call on bootstrap: no state to contradict.
	assert.Zero(t, exec.calls[config.RoleContinuityValidator])

	ep := store.episodes[epKey(7, 1)]
	require.NotNil(t, ep)
	assert.Equal(t, "{}", ep.StateIn)
	assert.Contains(t, ep.CanonEvents, "[EVENTO] Anna lascia la locanda")
	assert.Contains(t, ep.StateOut, "vicolo")
	assert.Contains(t, ep.OpenThreadsOut, "dove va Anna")
	assert.Equal(t, "Anna ha lasciato la locanda.", ep.RecapText)

	states := store.states[7]
	require.Len(t, states, 1)
	assert.Equal(t, 1, states[0].Version)
	assert.True(t, states[0].IsCurrent)
	assert.Equal(t, "Anna sparisce nel vicolo", states[0].LastMajorEvent)
	assert.Equal(t, "Anna è nel vicolo.", states[0].Summary)
	assert.Equal(t, 1, states[0].SourceEpisode)
}

func TestSeriesState_DeltaMergesIntoExistingState(t *testing.T) {
	store := newFakeStore()
	seriesFixtures(store)
	require.NoError(t, store.InsertNewCurrentState(context.Background(), &models.SeriesState{
		SerieID:    7,
		WorldState: `{"anna": {"umore": "calma"}, "luogo": "locanda"}`,
	}, 0))

	exec := newStubExecutor()
	exec.scripts[config.RoleCanonExtractor] = []string{"[EVENTO] Anna esce"}
	exec.scripts[config.RoleDeltaBuilder] = []string{`{"anna": {"posizione": "mercato"}}`}
	exec.scripts[config.RoleContinuityValidator] = []string{"[VERDETTO] OK"}
	exec.scripts[config.RoleStateCompressor] = []string{"[STATO] sintesi"}
	exec.scripts[config.RoleRecapBuilder] = []string{"[RECAP] riassunto"}
	enq := &fakeEnqueuer{}

	result := executeSeriesChain(t, testDeps(store, exec, enq), enq,
		SeriesStatePayload{SerieID: 7, Episode: 1})
	require.True(t, result.Success, result.Message)

	states := store.states[7]
	require.Len(t, states, 2)
	assert.False(t, states[0].IsCurrent)
	assert.Equal(t, 2, states[1].Version)

	// Deep merge: the delta adds a nested key without erasing siblings.
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(states[1].WorldState), &doc))
	anna := doc["anna"].(map[string]any)
	assert.Equal(t, "calma", anna["umore"])
	assert.Equal(t, "mercato", anna["posizione"])
	assert.Equal(t, "locanda", doc["luogo"])
}

func TestSeriesState_ContradictionIsAdvisory(t *testing.T) {
	store := newFakeStore()
	seriesFixtures(store)
	require.NoError(t, store.InsertNewCurrentState(context.Background(), &models.SeriesState{
		SerieID:    7,
		WorldState: `{"anna": {"stato": "morta"}}`,
	}, 0))

	exec := newStubExecutor()
	exec.scripts[config.RoleCanonExtractor] = []string{"[EVENTO] Anna compra il pane"}
	exec.scripts[config.RoleDeltaBuilder] = []string{`{"anna": {"posizione": "mercato"}}`}
	exec.scripts[config.RoleContinuityValidator] = []string{
		"[VERDETTO] CONTRADDIZIONE\nDESCRIZIONE: Anna risulta morta nello stato precedente",
	}
	exec.scripts[config.RoleStateCompressor] = []string{"[STATO] sintesi"}
	exec.scripts[config.RoleRecapBuilder] = []string{"[RECAP] riassunto"}
	enq := &fakeEnqueuer{}

	result := executeSeriesChain(t, testDeps(store, exec, enq), enq,
		SeriesStatePayload{SerieID: 7, Episode: 1})
	require.True(t, result.Success, result.Message)

	// The verdict only reaches the log: the state still advances and the
	// chain runs to the end.
	assert.Equal(t, 1, exec.calls[config.RoleContinuityValidator])
	states := store.states[7]
	require.Len(t, states, 2)
	assert.Equal(t, 2, states[1].Version)
	ep := store.episodes[epKey(7, 1)]
	assert.NotEmpty(t, ep.StateOut)
	assert.Equal(t, "riassunto", ep.RecapText)
}

func TestSeriesState_ValidatorOutageIsAdvisory(t *testing.T) {
	store := newFakeStore()
	seriesFixtures(store)
	require.NoError(t, store.InsertNewCurrentState(context.Background(), &models.SeriesState{
		SerieID:    7,
		WorldState: `{"luogo": "locanda"}`,
	}, 0))

	exec := newStubExecutor()
	exec.scripts[config.RoleCanonExtractor] = []string{"[EVENTO] Anna esce"}
	exec.scripts[config.RoleDeltaBuilder] = []string{`{"luogo": "mercato"}`}
	exec.scripts[config.RoleContinuityValidator] = []string{""} // terminal model failure
	exec.scripts[config.RoleStateCompressor] = []string{"[STATO] sintesi"}
	exec.scripts[config.RoleRecapBuilder] = []string{"[RECAP] riassunto"}
	enq := &fakeEnqueuer{}

	result := executeSeriesChain(t, testDeps(store, exec, enq), enq,
		SeriesStatePayload{SerieID: 7, Episode: 1})
	require.True(t, result.Success, result.Message)
	require.Len(t, store.states[7], 2)
}

func TestSeriesState_RerunResumesFromMissingStage(t *testing.T) {
	store := newFakeStore()
	seriesFixtures(store)
	require.NoError(t, store.InsertNewCurrentState(context.Background(), &models.SeriesState{
		SerieID:    7,
		WorldState: `{"luogo": "locanda"}`,
	}, 0))
	// Canon and delta already completed by a previous attempt.
	store.episodes[epKey(7, 1)] = &models.SeriesEpisode{
		SerieID: 7, Episode: 1, StoryID: 1,
		StateIn:     `{"luogo": "locanda"}`,
		CanonEvents: "[EVENTO] Anna esce",
		DeltaJSON:   `{"luogo": "mercato"}`,
	}

	exec := newStubExecutor()
	exec.scripts[config.RoleContinuityValidator] = []string{"[VERDETTO] OK"}
	exec.scripts[config.RoleStateCompressor] = []string{"[STATO] sintesi"}
	exec.scripts[config.RoleRecapBuilder] = []string{"[RECAP] riassunto"}
	enq := &fakeEnqueuer{}

	result := executeSeriesChain(t, testDeps(store, exec, enq), enq,
		SeriesStatePayload{SerieID: 7, Episode: 1})
	require.True(t, result.Success, result.Message)

	// The completed stages skip their work but still chain onward.
	assert.Zero(t, exec.calls[config.RoleCanonExtractor])
	assert.Zero(t, exec.calls[config.RoleDeltaBuilder])
	assert.Equal(t, 1, exec.calls[config.RoleContinuityValidator])

	states := store.states[7]
	require.Len(t, states, 2)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(states[1].WorldState), &doc))
	assert.Equal(t, "mercato", doc["luogo"])
}

func TestSeriesState_DeltaWrappedInFences(t *testing.T) {
	store := newFakeStore()
	seriesFixtures(store)

	exec := newStubExecutor()
	exec.scripts[config.RoleCanonExtractor] = []string{"[EVENTO] Anna esce"}
	exec.scripts[config.RoleDeltaBuilder] = []string{"```json\n{\"luogo\": \"mercato\"}\n```"}
	exec.scripts[config.RoleStateCompressor] = []string{"[STATO] sintesi"}
	exec.scripts[config.RoleRecapBuilder] = []string{"[RECAP] riassunto"}
	enq := &fakeEnqueuer{}

	result := executeSeriesChain(t, testDeps(store, exec, enq), enq,
		SeriesStatePayload{SerieID: 7, Episode: 1})
	require.True(t, result.Success, result.Message)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(store.episodes[epKey(7, 1)].StateOut), &doc))
	assert.Equal(t, "mercato", doc["luogo"])
}

func TestSeriesState_StageFailureStopsChain(t *testing.T) {
	store := newFakeStore()
	seriesFixtures(store)

	exec := newStubExecutor()
	exec.scripts[config.RoleCanonExtractor] = []string{""} // terminal model failure
	enq := &fakeEnqueuer{}

	result := executeSeriesChain(t, testDeps(store, exec, enq), enq,
		SeriesStatePayload{SerieID: 7, Episode: 1})

	require.False(t, result.Success)
	assert.Contains(t, result.Message, "canon_extractor")
	assert.Empty(t, enq.inputs)
	assert.Empty(t, store.episodes[epKey(7, 1)].CanonEvents)
}

func TestBatchTag_FanOut(t *testing.T) {
	store := newFakeStore()
	enq := &fakeEnqueuer{active: map[string]bool{}}

	cmd := buildCommand(t, NewBatchTagCommandFactory(testDeps(store, newStubExecutor(), enq)),
		OpBatchTag, BatchTagPayload{StoryIDs: []int64{1, 2, 3}})
	result := cmd.Execute(context.Background())

	require.True(t, result.Success, result.Message)
	require.Len(t, enq.inputs, 3)
	for i, input := range enq.inputs {
		assert.Equal(t, OpTagAmbient, input.Operation)
		assert.Equal(t, int64(i+1), input.EntityID)
		assert.NotEmpty(t, input.Metadata["triggeredBy"])
	}
	assert.Contains(t, result.Message, "3 enqueued")
}

func TestBatchTag_DedupCountsAsSkipped(t *testing.T) {
	store := newFakeStore()
	enq := &fakeEnqueuer{active: map[string]bool{OpTagAmbient: true}}

	cmd := buildCommand(t, NewBatchTagCommandFactory(testDeps(store, newStubExecutor(), enq)),
		OpBatchTag, BatchTagPayload{StoryIDs: []int64{1, 2}})
	result := cmd.Execute(context.Background())

	require.True(t, result.Success)
	assert.Contains(t, result.Message, "2 already active")
}
