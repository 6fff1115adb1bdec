package config

import "time"

// QueueConfig contains command queue and worker pool configuration.
// These values control how commands are polled, claimed, and processed.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod.
	// Each worker independently polls and processes commands.
	WorkerCount int `yaml:"worker_count"`

	// MaxConcurrentCommands is the global limit of concurrently running
	// commands across ALL replicas/pods. Enforced by database COUNT(*) check.
	MaxConcurrentCommands int `yaml:"max_concurrent_commands"`

	// PollInterval is the base interval for checking pending commands.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// CommandTimeout is the maximum time a command can run.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// GracefulShutdownTimeout is the max time to wait for running commands
	// to complete during shutdown. Should match CommandTimeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// HeartbeatInterval is how often a worker refreshes the heartbeat of the
	// command it is processing.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// OrphanDetectionInterval is how often to scan for orphaned commands.
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`

	// OrphanThreshold is how long a command can go without a heartbeat
	// before it is considered orphaned.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             3,
		MaxConcurrentCommands:   3,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		CommandTimeout:          30 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Minute,
		HeartbeatInterval:       15 * time.Second,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         5 * time.Minute,
	}
}
