package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
)

// GetActiveAgentForRole returns the active agent for a role joined with its
// model name, or nil when the role has none. With multiple active rows the
// newest wins.
func (s *Store) GetActiveAgentForRole(ctx context.Context, role config.Role) (*models.Agent, error) {
	var a models.Agent
	err := s.pool.QueryRow(ctx,
		`SELECT a.id, a.role, a.name, a.system_prompt, a.model_id, m.name,
			a.temperature, a.max_tokens, a.active, a.created_at
		 FROM agents a
		 JOIN models m ON m.id = a.model_id
		 WHERE a.role = $1 AND a.active AND m.enabled
		 ORDER BY a.created_at DESC
		 LIMIT 1`, role,
	).Scan(&a.ID, &a.Role, &a.Name, &a.SystemPrompt, &a.ModelID, &a.ModelName,
		&a.Temperature, &a.MaxTokens, &a.Active, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get active agent for role %s: %w", role, err)
	}
	return &a, nil
}

// ListEnabledModelsForRole returns the enabled model names bound to a role,
// best priority first.
func (s *Store) ListEnabledModelsForRole(ctx context.Context, role config.Role) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.name
		 FROM model_roles mr
		 JOIN models m ON m.id = mr.model_id
		 WHERE mr.role = $1 AND mr.enabled AND m.enabled
		 ORDER BY mr.priority`, role)
	if err != nil {
		return nil, fmt.Errorf("storage: list models for role %s: %w", role, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("storage: scan model name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpsertAgent inserts or replaces the agent for a role by name.
// Used by seeding and admin tooling.
func (s *Store) UpsertAgent(ctx context.Context, agent *models.Agent) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO agents (role, name, system_prompt, model_id, temperature, max_tokens, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (role, name) DO UPDATE SET
			system_prompt = EXCLUDED.system_prompt,
			model_id = EXCLUDED.model_id,
			temperature = EXCLUDED.temperature,
			max_tokens = EXCLUDED.max_tokens,
			active = EXCLUDED.active
		 RETURNING id, created_at`,
		agent.Role, agent.Name, agent.SystemPrompt, agent.ModelID,
		agent.Temperature, agent.MaxTokens, agent.Active,
	).Scan(&agent.ID, &agent.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: upsert agent %s/%s: %w", agent.Role, agent.Name, err)
	}
	return nil
}

// UpsertModel inserts or updates a model by name.
func (s *Store) UpsertModel(ctx context.Context, model *models.Model) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO models (name, provider, enabled)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET
			provider = EXCLUDED.provider,
			enabled = EXCLUDED.enabled
		 RETURNING id`,
		model.Name, model.Provider, model.Enabled,
	).Scan(&model.ID)
	if err != nil {
		return fmt.Errorf("storage: upsert model %s: %w", model.Name, err)
	}
	return nil
}

// BindModelToRole inserts or updates a model_roles row.
func (s *Store) BindModelToRole(ctx context.Context, binding models.ModelRole) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO model_roles (model_id, role, priority, enabled)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (model_id, role) DO UPDATE SET
			priority = EXCLUDED.priority,
			enabled = EXCLUDED.enabled`,
		binding.ModelID, binding.Role, binding.Priority, binding.Enabled)
	if err != nil {
		return fmt.Errorf("storage: bind model %d to role %s: %w", binding.ModelID, binding.Role, err)
	}
	return nil
}
