package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/tags"
)

// GetStoryTags returns a story's full tag set ordered by line and ordinal.
func (s *Store) GetStoryTags(ctx context.Context, storyID int64) ([]tags.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tag_type, line, ordinal, content, fields
		 FROM story_tags WHERE story_id = $1
		 ORDER BY line, ordinal`, storyID)
	if err != nil {
		return nil, fmt.Errorf("storage: query story %d tags: %w", storyID, err)
	}
	defer rows.Close()

	var entries []tags.Entry
	for rows.Next() {
		var (
			e         tags.Entry
			rawFields []byte
		)
		if err := rows.Scan(&e.Type, &e.Line, &e.Ordinal, &e.Content, &rawFields); err != nil {
			return nil, fmt.Errorf("storage: scan story tag: %w", err)
		}
		if len(rawFields) > 0 {
			if err := json.Unmarshal(rawFields, &e.Fields); err != nil {
				return nil, fmt.Errorf("storage: decode tag fields: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplaceStoryTagsByType deletes a story's tags of one type and inserts the
// replacement set in a single transaction, so a failed run never leaves a
// half-replaced tag set behind.
func (s *Store) ReplaceStoryTagsByType(ctx context.Context, storyID int64, tagType config.TagType, entries []tags.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tag replacement: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM story_tags WHERE story_id = $1 AND tag_type = $2`,
		storyID, tagType); err != nil {
		return fmt.Errorf("storage: delete story %d %s tags: %w", storyID, tagType, err)
	}

	if len(entries) > 0 {
		batchRows := make([][]any, len(entries))
		for i, e := range entries {
			fields, err := json.Marshal(e.Fields)
			if err != nil {
				return fmt.Errorf("storage: encode tag fields: %w", err)
			}
			batchRows[i] = []any{storyID, string(e.Type), e.Line, e.Ordinal, e.Content, fields}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"story_tags"},
			[]string{"story_id", "tag_type", "line", "ordinal", "content", "fields"},
			pgx.CopyFromRows(batchRows)); err != nil {
			return fmt.Errorf("storage: copy story %d %s tags: %w", storyID, tagType, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit tag replacement: %w", err)
	}
	return nil
}

// CountStoryTagsByType returns how many tags of one type a story carries.
func (s *Store) CountStoryTagsByType(ctx context.Context, storyID int64, tagType config.TagType) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM story_tags WHERE story_id = $1 AND tag_type = $2`,
		storyID, tagType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count story %d %s tags: %w", storyID, tagType, err)
	}
	return n, nil
}
