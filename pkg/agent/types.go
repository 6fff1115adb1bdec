// Package agent executes model calls for pipeline stages: it resolves the
// active agent for a role, runs the call with bounded retries and linear
// backoff, falls back through the role's model chain, and optionally asks a
// diagnosis model to explain a terminal failure.
package agent

import (
	"context"
	"errors"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
)

var (
	// ErrNoActiveAgent is returned when no active agent exists for a role.
	ErrNoActiveAgent = errors.New("no active agent for role")
	// ErrModelsExhausted is returned when every model in a role's fallback
	// chain has been tried.
	ErrModelsExhausted = errors.New("all models for role exhausted")
)

// ModelClient is the transport to a model provider.
type ModelClient interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// GenerateRequest is one model call.
type GenerateRequest struct {
	Model        string
	SystemPrompt string
	Prompt       string
	Temperature  *float32
	MaxTokens    int
}

// AgentSource provides the active agent definition for a role.
type AgentSource interface {
	GetActiveAgentForRole(ctx context.Context, role config.Role) (*models.Agent, error)
}

// RoleModelSource provides the enabled models for a role, best first.
type RoleModelSource interface {
	ListEnabledModelsForRole(ctx context.Context, role config.Role) ([]string, error)
}

// ValidateFunc checks model output and returns ok plus a reason usable in
// retry logs and diagnosis prompts.
type ValidateFunc func(output string) (bool, string)

// ExecutionRequest describes one stage call.
type ExecutionRequest struct {
	Role   config.Role
	Prompt string
	// SystemSuffix is appended to the resolved agent's base system prompt,
	// typically the output format contract the validator expects.
	SystemSuffix string
	Retry        config.RetryConfig
	Validate     ValidateFunc
}

// ExecutionResult is returned on success.
type ExecutionResult struct {
	Output      string
	Model       string
	Attempts    int
	ModelsTried []string
}
