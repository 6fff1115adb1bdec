package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
)

const commandColumns = `id, operation, run_id, thread_scope, status, priority, metadata,
	payload, pod_id, message, created_at, started_at, completed_at, last_heartbeat_at`

func scanCommand(row pgx.Row) (*models.QueuedCommand, error) {
	var (
		c           models.QueuedCommand
		rawMetadata []byte
	)
	err := row.Scan(&c.ID, &c.Operation, &c.RunID, &c.ThreadScope, &c.Status, &c.Priority,
		&rawMetadata, &c.Payload, &c.PodID, &c.Message, &c.CreatedAt, &c.StartedAt,
		&c.CompletedAt, &c.LastHeartbeatAt)
	if err != nil {
		return nil, err
	}
	if len(rawMetadata) > 0 {
		if err := json.Unmarshal(rawMetadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode command metadata: %w", err)
		}
	}
	return &c, nil
}

// EnqueueCommand inserts a pending command row.
func (s *Store) EnqueueCommand(ctx context.Context, cmd *models.QueuedCommand) error {
	metadata, err := json.Marshal(cmd.Metadata)
	if err != nil {
		return fmt.Errorf("storage: encode command metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO commands (id, operation, run_id, thread_scope, status, priority,
			metadata, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cmd.ID, cmd.Operation, cmd.RunID, cmd.ThreadScope, cmd.Status, cmd.Priority,
		metadata, cmd.Payload, cmd.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: enqueue command %s: %w", cmd.RunID, err)
	}
	return nil
}

// FindActiveCommand returns the pending or running command for an operation
// and thread scope, or nil when there is none.
func (s *Store) FindActiveCommand(ctx context.Context, operation, threadScope string) (*models.QueuedCommand, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+commandColumns+` FROM commands
		 WHERE operation = $1 AND thread_scope = $2 AND status IN ('pending', 'running')
		 ORDER BY created_at
		 LIMIT 1`, operation, threadScope)
	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: find active command %s/%s: %w", operation, threadScope, err)
	}
	return cmd, nil
}

// GetCommand fetches one command by ID.
func (s *Store) GetCommand(ctx context.Context, id string) (*models.QueuedCommand, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE id = $1`, id)
	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: command %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get command %s: %w", id, err)
	}
	return cmd, nil
}

// GetCommandByRunID fetches one command by its run correlation ID.
func (s *Store) GetCommandByRunID(ctx context.Context, runID string) (*models.QueuedCommand, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE run_id = $1
		 ORDER BY created_at DESC LIMIT 1`, runID)
	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: run %s: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get command by run %s: %w", runID, err)
	}
	return cmd, nil
}

// ListCommands returns the most recent commands, optionally filtered by status.
func (s *Store) ListCommands(ctx context.Context, status config.CommandStatus, limit int) ([]*models.QueuedCommand, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + commandColumns + ` FROM commands`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list commands: %w", err)
	}
	defer rows.Close()

	var out []*models.QueuedCommand
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan command: %w", err)
		}
		out = append(out, cmd)
	}
	return out, rows.Err()
}

// ClaimNextCommand atomically claims the best pending command using
// FOR UPDATE SKIP LOCKED, so concurrent workers never claim the same row.
// Higher priority first, then FIFO. Returns nil when the queue is empty.
func (s *Store) ClaimNextCommand(ctx context.Context, podID string) (*models.QueuedCommand, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	err = tx.QueryRow(ctx,
		`SELECT id FROM commands
		 WHERE status = 'pending'
		 ORDER BY priority DESC, created_at
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: query pending command: %w", err)
	}

	row := tx.QueryRow(ctx,
		`UPDATE commands
		 SET status = 'running', pod_id = $2, started_at = now(), last_heartbeat_at = now()
		 WHERE id = $1
		 RETURNING `+commandColumns, id, podID)
	cmd, err := scanCommand(row)
	if err != nil {
		return nil, fmt.Errorf("storage: claim command %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: commit claim: %w", err)
	}
	return cmd, nil
}

// CountRunningCommands returns the number of running commands across all pods.
func (s *Store) CountRunningCommands(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM commands WHERE status = 'running'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count running commands: %w", err)
	}
	return n, nil
}

// CountPendingCommands returns the queue depth.
func (s *Store) CountPendingCommands(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM commands WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count pending commands: %w", err)
	}
	return n, nil
}

// HeartbeatCommand refreshes a running command's heartbeat timestamp.
func (s *Store) HeartbeatCommand(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE commands SET last_heartbeat_at = now()
		 WHERE id = $1 AND status = 'running'`, id)
	if err != nil {
		return fmt.Errorf("storage: heartbeat command %s: %w", id, err)
	}
	return nil
}

// CompleteCommand writes a terminal status and message.
func (s *Store) CompleteCommand(ctx context.Context, id string, status config.CommandStatus, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE commands SET status = $2, message = $3, completed_at = now()
		 WHERE id = $1`, id, status, message)
	if err != nil {
		return fmt.Errorf("storage: complete command %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: command %s: %w", id, ErrNotFound)
	}
	return nil
}

// CancelPendingCommand flips a still-pending command to cancelled.
// Returns false when the command is no longer pending.
func (s *Store) CancelPendingCommand(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE commands SET status = 'cancelled', message = 'cancelled before start', completed_at = now()
		 WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("storage: cancel pending command %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecoverOrphanCommands times out running commands whose heartbeat is older
// than the threshold. Returns how many were recovered.
func (s *Store) RecoverOrphanCommands(ctx context.Context, threshold time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE commands
		 SET status = 'timed_out',
			 message = 'orphaned: no heartbeat since ' || to_char(last_heartbeat_at, 'YYYY-MM-DD HH24:MI:SS'),
			 completed_at = now()
		 WHERE status = 'running' AND last_heartbeat_at < $1`, threshold)
	if err != nil {
		return 0, fmt.Errorf("storage: recover orphan commands: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RecoverPodCommands times out running commands owned by a pod. Used once at
// startup to clear rows left behind by a crash of the same pod.
func (s *Store) RecoverPodCommands(ctx context.Context, podID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE commands
		 SET status = 'timed_out',
			 message = 'orphaned: pod ' || pod_id || ' restarted while command was running',
			 completed_at = now()
		 WHERE status = 'running' AND pod_id = $1`, podID)
	if err != nil {
		return 0, fmt.Errorf("storage: recover pod commands: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteTerminalCommandsBefore removes commands that reached a terminal
// status before the cutoff. Returns how many rows were deleted.
func (s *Store) DeleteTerminalCommandsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM commands
		 WHERE status IN ('completed', 'failed', 'cancelled', 'timed_out')
		   AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: delete terminal commands: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
