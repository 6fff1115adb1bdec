package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
)

const storyColumns = `id, serie_id, episode, title, folder, text, annotated_text,
	auto_launch, delete_next_items, created_at, updated_at`

func scanStory(row pgx.Row) (*models.Story, error) {
	var s models.Story
	err := row.Scan(&s.ID, &s.SerieID, &s.Episode, &s.Title, &s.Folder, &s.Text,
		&s.AnnotatedText, &s.AutoLaunch, &s.DeleteNextItems, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// GetStory fetches one story by ID.
func (s *Store) GetStory(ctx context.Context, id int64) (*models.Story, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+storyColumns+` FROM stories WHERE id = $1`, id)
	story, err := scanStory(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("storage: story %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get story %d: %w", id, err)
	}
	return story, nil
}

// GetSerieEpisodeStory fetches the story bound to a series episode.
func (s *Store) GetSerieEpisodeStory(ctx context.Context, serieID int64, episode int) (*models.Story, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+storyColumns+` FROM stories WHERE serie_id = $1 AND episode = $2`,
		serieID, episode)
	story, err := scanStory(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("storage: serie %d episode %d: %w", serieID, episode, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get serie %d episode %d story: %w", serieID, episode, err)
	}
	return story, nil
}

// CreateStory inserts a story and returns it with the assigned ID.
func (s *Store) CreateStory(ctx context.Context, story *models.Story) error {
	now := time.Now()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO stories (serie_id, episode, title, folder, text, annotated_text,
			auto_launch, delete_next_items, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 RETURNING id`,
		story.SerieID, story.Episode, story.Title, story.Folder, story.Text,
		story.AnnotatedText, story.AutoLaunch, story.DeleteNextItems, now,
	).Scan(&story.ID)
	if err != nil {
		return fmt.Errorf("storage: create story: %w", err)
	}
	story.CreatedAt = now
	story.UpdatedAt = now
	return nil
}

// UpdateStoryAnnotatedText replaces a story's annotated text.
func (s *Store) UpdateStoryAnnotatedText(ctx context.Context, id int64, annotated string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE stories SET annotated_text = $2, updated_at = now() WHERE id = $1`,
		id, annotated)
	if err != nil {
		return fmt.Errorf("storage: update story %d annotated text: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: story %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetSerie fetches one series by ID.
func (s *Store) GetSerie(ctx context.Context, id int64) (*models.Serie, error) {
	var serie models.Serie
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, created_at FROM series WHERE id = $1`, id,
	).Scan(&serie.ID, &serie.Title, &serie.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: serie %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get serie %d: %w", id, err)
	}
	return &serie, nil
}
