package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the fully merged and validated application configuration.
type Config struct {
	Queue     *QueueConfig     `yaml:"queue"`
	Pipeline  *PipelineConfig  `yaml:"pipeline"`
	Retention *RetentionConfig `yaml:"retention"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Load tinygen.yaml from configDir (optional, defaults apply if absent)
//  2. Expand ${ENV} placeholders
//  3. Merge user values over built-in defaults
//  4. Validate the result
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := &Config{
		Queue:     DefaultQueueConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Retention: DefaultRetentionConfig(),
	}

	path := filepath.Join(configDir, "tinygen.yaml")
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("No tinygen.yaml found, using built-in defaults")
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		expanded, err := expandEnv(data)
		if err != nil {
			return nil, fmt.Errorf("failed to expand environment in %s: %w", path, err)
		}
		var user Config
		if err := yaml.Unmarshal(expanded, &user); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := merge(cfg, &user); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"workers", cfg.Queue.WorkerCount,
		"pipeline_stages", len(cfg.Pipeline.Stages))
	return cfg, nil
}

// merge overlays user-provided values onto the defaults.
func merge(base, user *Config) error {
	if user.Queue != nil {
		if err := mergo.Merge(base.Queue, user.Queue, mergo.WithOverride); err != nil {
			return fmt.Errorf("queue: %w", err)
		}
	}
	if user.Pipeline != nil {
		if err := mergo.Merge(base.Pipeline, user.Pipeline, mergo.WithOverride); err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
	}
	if user.Retention != nil {
		if err := mergo.Merge(base.Retention, user.Retention, mergo.WithOverride); err != nil {
			return fmt.Errorf("retention: %w", err)
		}
	}
	return nil
}

// validate checks invariants that would otherwise surface as runtime failures.
func validate(cfg *Config) error {
	if cfg.Queue.WorkerCount <= 0 {
		return fmt.Errorf("queue.worker_count must be positive, got %d", cfg.Queue.WorkerCount)
	}
	if cfg.Queue.MaxConcurrentCommands <= 0 {
		return fmt.Errorf("queue.max_concurrent_commands must be positive, got %d", cfg.Queue.MaxConcurrentCommands)
	}
	if cfg.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue.poll_interval must be positive, got %v", cfg.Queue.PollInterval)
	}

	stages := make(map[Role]StageConfig, len(cfg.Pipeline.Stages)+1)
	for role, sc := range cfg.Pipeline.Stages {
		if !role.IsValid() {
			return fmt.Errorf("pipeline.stages: unknown role %q", role)
		}
		stages[role] = sc
	}
	stages[""] = cfg.Pipeline.Defaults
	for role, sc := range stages {
		label := string(role)
		if label == "" {
			label = "defaults"
		}
		b := sc.Chunk
		if b.MinTokens <= 0 || b.MaxTokens < b.MinTokens || b.TargetTokens < b.MinTokens || b.TargetTokens > b.MaxTokens {
			return fmt.Errorf("pipeline.%s.chunk: invalid bounds min=%d target=%d max=%d",
				label, b.MinTokens, b.TargetTokens, b.MaxTokens)
		}
		if sc.Retry.MaxAttemptsPerModel <= 0 {
			return fmt.Errorf("pipeline.%s.retry.max_attempts_per_model must be positive", label)
		}
		if sc.Retry.RetryDelayBase < 0 {
			return fmt.Errorf("pipeline.%s.retry.retry_delay_base must not be negative", label)
		}
	}
	if cfg.Pipeline.MusicMinCueDistance < 0 {
		return fmt.Errorf("pipeline.music_min_cue_distance must not be negative")
	}
	if cfg.Retention.CommandRetentionDays <= 0 {
		return fmt.Errorf("retention.command_retention_days must be positive, got %d", cfg.Retention.CommandRetentionDays)
	}
	if cfg.Retention.CleanupInterval <= 0 {
		return fmt.Errorf("retention.cleanup_interval must be positive, got %v", cfg.Retention.CleanupInterval)
	}
	return nil
}
