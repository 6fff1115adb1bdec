package config

import "time"

// RetentionConfig controls command queue retention and cleanup behavior.
type RetentionConfig struct {
	// CommandRetentionDays is how many days to keep commands in a terminal
	// status before deleting their rows.
	CommandRetentionDays int `yaml:"command_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		CommandRetentionDays: 30,
		CleanupInterval:      12 * time.Hour,
	}
}
