package storage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/tags"
)

// newTestStore spins up a PostgreSQL testcontainer, applies migrations, and
// returns a ready store.
func newTestStore(t *testing.T) *Store {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(connStr, "test"))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewFromPool(pool, slog.Default())
}

func createTestSerie(t *testing.T, store *Store) int64 {
	var id int64
	err := store.pool.QueryRow(context.Background(),
		`INSERT INTO series (title) VALUES ('La Torre del Nord') RETURNING id`).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestStoryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	serieID := createTestSerie(t, store)
	episode := 1
	story := &models.Story{
		SerieID:    &serieID,
		Episode:    &episode,
		Title:      "Episodio 1",
		Text:       "Il vento soffiava.\nMarco si fermò.",
		AutoLaunch: true,
	}
	require.NoError(t, store.CreateStory(ctx, story))
	require.NotZero(t, story.ID)

	got, err := store.GetStory(ctx, story.ID)
	require.NoError(t, err)
	assert.Equal(t, story.Text, got.Text)
	assert.True(t, got.AutoLaunch)

	byEpisode, err := store.GetSerieEpisodeStory(ctx, serieID, 1)
	require.NoError(t, err)
	assert.Equal(t, story.ID, byEpisode.ID)

	require.NoError(t, store.UpdateStoryAnnotatedText(ctx, story.ID, "[AMBIENTE] vento\n"+story.Text))
	got, err = store.GetStory(ctx, story.ID)
	require.NoError(t, err)
	assert.Contains(t, got.AnnotatedText, "[AMBIENTE]")

	_, err = store.GetStory(ctx, 99999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceStoryTagsByType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	story := &models.Story{Text: "riga uno\nriga due"}
	require.NoError(t, store.CreateStory(ctx, story))

	ambient := []tags.Entry{
		{Type: config.TagTypeAmbient, Line: 0, Content: "bosco", Fields: map[string]string{"MOOD": "cupo"}},
	}
	voice := []tags.Entry{
		{Type: config.TagTypeVoice, Line: 1, Content: "saluto", Fields: map[string]string{"NOME": "Anna"}},
	}
	require.NoError(t, store.ReplaceStoryTagsByType(ctx, story.ID, config.TagTypeAmbient, ambient))
	require.NoError(t, store.ReplaceStoryTagsByType(ctx, story.ID, config.TagTypeVoice, voice))

	// Replacing one type leaves the other untouched.
	replacement := []tags.Entry{
		{Type: config.TagTypeAmbient, Line: 1, Content: "radura"},
	}
	require.NoError(t, store.ReplaceStoryTagsByType(ctx, story.ID, config.TagTypeAmbient, replacement))

	entries, err := store.GetStoryTags(ctx, story.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, config.TagTypeVoice, entries[1].Type)
	assert.Equal(t, "Anna", entries[1].Fields["NOME"])
	assert.Equal(t, "radura", entries[0].Content)

	n, err := store.CountStoryTagsByType(ctx, story.ID, config.TagTypeAmbient)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSeriesStateVersioning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	serieID := createTestSerie(t, store)

	_, err := store.GetCurrentSeriesState(ctx, serieID)
	require.ErrorIs(t, err, ErrNotFound)

	first := &models.SeriesState{
		SerieID:        serieID,
		WorldState:     `{"luogo":"torre"}`,
		OpenThreads:    `["la mappa"]`,
		CreatedByStage: "state_updater",
		SourceEpisode:  1,
	}
	require.NoError(t, store.InsertNewCurrentState(ctx, first, 0))
	assert.Equal(t, 1, first.Version)

	second := &models.SeriesState{
		SerieID:        serieID,
		WorldState:     `{"luogo":"foresta"}`,
		CreatedByStage: "state_updater",
		SourceEpisode:  2,
	}
	require.NoError(t, store.InsertNewCurrentState(ctx, second, 1))
	assert.Equal(t, 2, second.Version)

	current, err := store.GetCurrentSeriesState(ctx, serieID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)

	// Old versions survive untouched.
	v1, err := store.GetSeriesStateByVersion(ctx, serieID, 1)
	require.NoError(t, err)
	assert.Equal(t, `{"luogo":"torre"}`, v1.WorldState)
	assert.False(t, v1.IsCurrent)

	// A stale writer loses the race.
	stale := &models.SeriesState{SerieID: serieID, CreatedByStage: "state_updater"}
	require.ErrorIs(t, store.InsertNewCurrentState(ctx, stale, 1), ErrVersionConflict)
}

func TestEpisodeStageFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	serieID := createTestSerie(t, store)
	story := &models.Story{SerieID: &serieID}
	require.NoError(t, store.CreateStory(ctx, story))

	ep, err := store.EnsureSeriesEpisode(ctx, serieID, 1, story.ID)
	require.NoError(t, err)
	assert.Empty(t, ep.CanonEvents)

	// Ensure is idempotent.
	again, err := store.EnsureSeriesEpisode(ctx, serieID, 1, story.ID)
	require.NoError(t, err)
	assert.Equal(t, ep.ID, again.ID)

	require.NoError(t, store.UpdateEpisodeStageField(ctx, serieID, 1, "canon_events", "[EVENTO] Marco trova la mappa"))
	ep, err = store.GetSeriesEpisode(ctx, serieID, 1)
	require.NoError(t, err)
	assert.Contains(t, ep.CanonEvents, "EVENTO")

	require.Error(t, store.UpdateEpisodeStageField(ctx, serieID, 1, "not_a_column", "x"))
}

func TestAgentsAndModelRoles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fast := &models.Model{Name: "gemini-2.0-flash", Provider: "google", Enabled: true}
	big := &models.Model{Name: "gemini-2.5-pro", Provider: "google", Enabled: true}
	require.NoError(t, store.UpsertModel(ctx, fast))
	require.NoError(t, store.UpsertModel(ctx, big))

	agent := &models.Agent{
		Role: config.RoleAmbientTagger, Name: "ambient-default",
		SystemPrompt: "tagga", ModelID: fast.ID, MaxTokens: 2048, Active: true,
	}
	require.NoError(t, store.UpsertAgent(ctx, agent))

	resolved, err := store.GetActiveAgentForRole(ctx, config.RoleAmbientTagger)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "gemini-2.0-flash", resolved.ModelName)

	missing, err := store.GetActiveAgentForRole(ctx, config.RoleMusicTagger)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.BindModelToRole(ctx, models.ModelRole{ModelID: big.ID, Role: config.RoleAmbientTagger, Priority: 0, Enabled: true}))
	require.NoError(t, store.BindModelToRole(ctx, models.ModelRole{ModelID: fast.ID, Role: config.RoleAmbientTagger, Priority: 1, Enabled: true}))

	names, err := store.ListEnabledModelsForRole(ctx, config.RoleAmbientTagger)
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini-2.5-pro", "gemini-2.0-flash"}, names)
}

func TestCommandQueueStorage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cmd := &models.QueuedCommand{
		ID:          uuid.NewString(),
		Operation:   "tag-ambient",
		RunID:       "amb_1_1700000000",
		ThreadScope: "amb_1",
		Status:      config.CommandStatusPending,
		Priority:    5,
		Metadata:    map[string]string{"triggeredBy": "batch_7"},
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.EnqueueCommand(ctx, cmd))

	active, err := store.FindActiveCommand(ctx, "tag-ambient", "amb_1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "batch_7", active.Metadata["triggeredBy"])

	depth, err := store.CountPendingCommands(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	claimed, err := store.ClaimNextCommand(ctx, "pod-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, config.CommandStatusRunning, claimed.Status)
	assert.Equal(t, "pod-a", claimed.PodID)
	require.NotNil(t, claimed.StartedAt)

	// Queue is now empty.
	none, err := store.ClaimNextCommand(ctx, "pod-a")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, store.HeartbeatCommand(ctx, claimed.ID))
	require.NoError(t, store.CompleteCommand(ctx, claimed.ID, config.CommandStatusCompleted, "done"))

	final, err := store.GetCommand(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, config.CommandStatusCompleted, final.Status)
	assert.Equal(t, "done", final.Message)

	// Terminal commands no longer count as active for dedup.
	active, err = store.FindActiveCommand(ctx, "tag-ambient", "amb_1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestOrphanRecovery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stale := &models.QueuedCommand{
		ID: uuid.NewString(), Operation: "tag-fx", RunID: "fx_1_1",
		Status: config.CommandStatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, store.EnqueueCommand(ctx, stale))
	claimed, err := store.ClaimNextCommand(ctx, "pod-dead")
	require.NoError(t, err)

	// Push the heartbeat into the past.
	_, err = store.pool.Exec(ctx,
		`UPDATE commands SET last_heartbeat_at = now() - interval '1 hour' WHERE id = $1`, claimed.ID)
	require.NoError(t, err)

	recovered, err := store.RecoverOrphanCommands(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	cmd, err := store.GetCommand(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, config.CommandStatusTimedOut, cmd.Status)
	assert.Contains(t, cmd.Message, "orphaned")
}

func TestDeleteTerminalCommandsBefore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := &models.QueuedCommand{
		ID: uuid.NewString(), Operation: "tag-ambient", RunID: "amb_1_1",
		Status: config.CommandStatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, store.EnqueueCommand(ctx, old))
	claimed, err := store.ClaimNextCommand(ctx, "pod-a")
	require.NoError(t, err)
	require.NoError(t, store.CompleteCommand(ctx, claimed.ID, config.CommandStatusCompleted, "done"))

	// Age the completed row past the retention cutoff.
	_, err = store.pool.Exec(ctx,
		`UPDATE commands SET completed_at = now() - interval '60 days' WHERE id = $1`, claimed.ID)
	require.NoError(t, err)

	pending := &models.QueuedCommand{
		ID: uuid.NewString(), Operation: "tag-voice", RunID: "voc_1_1",
		Status: config.CommandStatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, store.EnqueueCommand(ctx, pending))

	deleted, err := store.DeleteTerminalCommandsBefore(ctx, time.Now().AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = store.GetCommand(ctx, claimed.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Non-terminal rows survive regardless of age.
	kept, err := store.GetCommand(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, config.CommandStatusPending, kept.Status)
}
