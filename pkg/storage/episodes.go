package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
)

const episodeColumns = `id, serie_id, episode, story_id, canon_events, delta_json,
	state_in, state_out, open_threads_out, recap_text, created_at, updated_at`

// episodeStageColumns are the per-stage fields updatable one at a time.
var episodeStageColumns = map[string]bool{
	"canon_events":     true,
	"delta_json":       true,
	"state_in":         true,
	"state_out":        true,
	"open_threads_out": true,
	"recap_text":       true,
}

func scanEpisode(row pgx.Row) (*models.SeriesEpisode, error) {
	var ep models.SeriesEpisode
	err := row.Scan(&ep.ID, &ep.SerieID, &ep.Episode, &ep.StoryID, &ep.CanonEvents,
		&ep.DeltaJSON, &ep.StateIn, &ep.StateOut, &ep.OpenThreadsOut, &ep.RecapText,
		&ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// GetSeriesEpisode returns the stage-tracking row for one episode.
func (s *Store) GetSeriesEpisode(ctx context.Context, serieID int64, episode int) (*models.SeriesEpisode, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+episodeColumns+` FROM series_episodes
		 WHERE serie_id = $1 AND episode = $2`, serieID, episode)
	ep, err := scanEpisode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: serie %d episode %d: %w", serieID, episode, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get serie %d episode %d: %w", serieID, episode, err)
	}
	return ep, nil
}

// EnsureSeriesEpisode returns the episode row, creating it when missing.
func (s *Store) EnsureSeriesEpisode(ctx context.Context, serieID int64, episode int, storyID int64) (*models.SeriesEpisode, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO series_episodes (serie_id, episode, story_id, created_at, updated_at)
		 VALUES ($1, $2, $3, now(), now())
		 ON CONFLICT (serie_id, episode) DO UPDATE SET updated_at = series_episodes.updated_at
		 RETURNING `+episodeColumns,
		serieID, episode, storyID)
	ep, err := scanEpisode(row)
	if err != nil {
		return nil, fmt.Errorf("storage: ensure serie %d episode %d: %w", serieID, episode, err)
	}
	return ep, nil
}

// UpdateEpisodeStageField writes one stage output field on the episode row.
// The column name is checked against a closed set before interpolation.
func (s *Store) UpdateEpisodeStageField(ctx context.Context, serieID int64, episode int, column, value string) error {
	if !episodeStageColumns[column] {
		return fmt.Errorf("storage: unknown episode stage column %q", column)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE series_episodes SET `+column+` = $3, updated_at = now()
		 WHERE serie_id = $1 AND episode = $2`,
		serieID, episode, value)
	if err != nil {
		return fmt.Errorf("storage: update serie %d episode %d %s: %w", serieID, episode, column, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: serie %d episode %d: %w", serieID, episode, ErrNotFound)
	}
	return nil
}
