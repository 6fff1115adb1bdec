package models

import (
	"time"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
)

// Agent is a role-bound configuration row: the prompt and default model used
// to produce one kind of output. At most one active agent per role is used
// by a pipeline run.
type Agent struct {
	ID           int64
	Role         config.Role
	Name         string
	SystemPrompt string
	ModelID      int64
	// ModelName is populated by joins against the models table.
	ModelName    string
	Temperature  *float32
	MaxTokens    int
	Active       bool
	CreatedAt    time.Time
}

// Model is a text-generation backend registered in storage.
type Model struct {
	ID       int64
	Name     string
	Provider string
	Enabled  bool
}

// ModelRole binds a model to a role with a fallback priority.
// Lower priority values are tried first.
type ModelRole struct {
	ModelID  int64
	Role     config.Role
	Priority int
	Enabled  bool
}
