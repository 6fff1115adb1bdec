package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
)

const seriesStateColumns = `id, serie_id, version, is_current, world_state, open_threads,
	last_major_event, summary, created_by_stage, source_episode, created_at`

func scanSeriesState(row pgx.Row) (*models.SeriesState, error) {
	var st models.SeriesState
	err := row.Scan(&st.ID, &st.SerieID, &st.Version, &st.IsCurrent, &st.WorldState,
		&st.OpenThreads, &st.LastMajorEvent, &st.Summary, &st.CreatedByStage,
		&st.SourceEpisode, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetCurrentSeriesState returns the single current state for a series, or
// ErrNotFound when the series has no state yet.
func (s *Store) GetCurrentSeriesState(ctx context.Context, serieID int64) (*models.SeriesState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+seriesStateColumns+` FROM series_states
		 WHERE serie_id = $1 AND is_current`, serieID)
	st, err := scanSeriesState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: serie %d current state: %w", serieID, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get serie %d current state: %w", serieID, err)
	}
	return st, nil
}

// GetSeriesStateByVersion returns one historical state.
func (s *Store) GetSeriesStateByVersion(ctx context.Context, serieID int64, version int) (*models.SeriesState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+seriesStateColumns+` FROM series_states
		 WHERE serie_id = $1 AND version = $2`, serieID, version)
	st, err := scanSeriesState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: serie %d state v%d: %w", serieID, version, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get serie %d state v%d: %w", serieID, version, err)
	}
	return st, nil
}

// UpdateSeriesStateSummary caches a compressed summary on a state row.
// The world state itself stays immutable; the summary is a derived cache.
func (s *Store) UpdateSeriesStateSummary(ctx context.Context, stateID int64, summary string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE series_states SET summary = $2 WHERE id = $1`, stateID, summary)
	if err != nil {
		return fmt.Errorf("storage: update state %d summary: %w", stateID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: state %d: %w", stateID, ErrNotFound)
	}
	return nil
}

// InsertNewCurrentState appends state version prevVersion+1 and flips the
// is_current flag in one transaction. prevVersion must match the version the
// caller read; when another writer got there first the unique constraint on
// (serie_id, version) fires and ErrVersionConflict is returned, old states
// are never mutated.
//
// prevVersion 0 bootstraps the first state of a series.
func (s *Store) InsertNewCurrentState(ctx context.Context, state *models.SeriesState, prevVersion int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin state insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE series_states SET is_current = false
		 WHERE serie_id = $1 AND is_current`, state.SerieID); err != nil {
		return fmt.Errorf("storage: clear current state flag: %w", err)
	}

	state.Version = prevVersion + 1
	state.IsCurrent = true
	err = tx.QueryRow(ctx,
		`INSERT INTO series_states (serie_id, version, is_current, world_state, open_threads,
			last_major_event, summary, created_by_stage, source_episode, created_at)
		 VALUES ($1, $2, true, $3, $4, $5, $6, $7, $8, now())
		 RETURNING id, created_at`,
		state.SerieID, state.Version, state.WorldState, state.OpenThreads,
		state.LastMajorEvent, state.Summary, state.CreatedByStage, state.SourceEpisode,
	).Scan(&state.ID, &state.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("storage: serie %d state v%d: %w", state.SerieID, state.Version, ErrVersionConflict)
		}
		return fmt.Errorf("storage: insert serie %d state v%d: %w", state.SerieID, state.Version, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit state insert: %w", err)
	}
	return nil
}
