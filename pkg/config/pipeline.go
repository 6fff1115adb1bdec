package config

import "time"

// ChunkBounds holds the token budget used when splitting source text for one role.
type ChunkBounds struct {
	MinTokens    int `yaml:"min_tokens"`
	MaxTokens    int `yaml:"max_tokens"`
	TargetTokens int `yaml:"target_tokens"`
}

// RetryConfig tunes the model execution attempt loop for one role.
type RetryConfig struct {
	// MaxAttemptsPerModel is the number of attempts before escalating to fallback.
	MaxAttemptsPerModel int `yaml:"max_attempts_per_model"`

	// RetryDelayBase is multiplied by the attempt number (linear backoff).
	RetryDelayBase time.Duration `yaml:"retry_delay_base"`

	// EnableFallback allows substituting alternate models bound to the same role.
	EnableFallback bool `yaml:"enable_fallback"`

	// EnableDiagnosis issues one best-effort self-diagnosis call on terminal failure.
	EnableDiagnosis bool `yaml:"enable_diagnosis"`

	// RequestTimeoutSeconds is advisory: it bounds the transport call,
	// never the retry loop itself.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// StageConfig groups the tuning for one pipeline role.
type StageConfig struct {
	Chunk ChunkBounds `yaml:"chunk"`
	Retry RetryConfig `yaml:"retry"`
}

// PipelineConfig holds per-role tuning plus pipeline chaining flags.
type PipelineConfig struct {
	// Stages maps a role code to its tuning. Roles not present use Defaults.
	Stages map[Role]StageConfig `yaml:"stages"`

	// Defaults applies to roles without an explicit entry in Stages.
	Defaults StageConfig `yaml:"defaults"`

	// MusicMinCueDistance is the minimum distance in lines between two
	// retained music cues (proximity filter).
	MusicMinCueDistance int `yaml:"music_min_cue_distance"`

	// CompressedStateMaxTokens bounds the cached state summary length.
	CompressedStateMaxTokens int `yaml:"compressed_state_max_tokens"`
}

// StageFor returns the tuning for a role, falling back to Defaults.
func (p *PipelineConfig) StageFor(role Role) StageConfig {
	if s, ok := p.Stages[role]; ok {
		return s
	}
	return p.Defaults
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Stages: map[Role]StageConfig{},
		Defaults: StageConfig{
			Chunk: ChunkBounds{MinTokens: 200, MaxTokens: 500, TargetTokens: 350},
			Retry: RetryConfig{
				MaxAttemptsPerModel:   3,
				RetryDelayBase:        2 * time.Second,
				EnableFallback:        true,
				EnableDiagnosis:       true,
				RequestTimeoutSeconds: 180,
			},
		},
		MusicMinCueDistance:      20,
		CompressedStateMaxTokens: 800,
	}
}
