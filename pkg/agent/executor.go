package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
)

// Executor runs stage calls against the configured model backends.
type Executor struct {
	client ModelClient
	agents AgentSource
	roles  RoleModelSource
	logger *slog.Logger
}

// NewExecutor creates an executor. roles may be nil when fallback is never
// enabled for any stage.
func NewExecutor(client ModelClient, agents AgentSource, roles RoleModelSource, logger *slog.Logger) *Executor {
	return &Executor{
		client: client,
		agents: agents,
		roles:  roles,
		logger: logger.With("component", "executor"),
	}
}

// Execute resolves the active agent for the request's role and runs the call
// until it produces valid output or the retry budget is exhausted.
//
// Each model gets at most Retry.MaxAttemptsPerModel attempts with linear
// backoff between them (RetryDelayBase * attempt). When a model's budget is
// spent and fallback is enabled, the role's next enabled model is tried with
// a fresh attempt budget. A cancelled context stops the loop immediately.
//
// On terminal failure the returned error wraps the last attempt's failure;
// when diagnosis is enabled a best-effort diagnosis call is logged first and
// never affects the outcome.
func (e *Executor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	resolved, err := e.agents.GetActiveAgentForRole(ctx, req.Role)
	if err != nil {
		return nil, fmt.Errorf("resolving agent for role %s: %w", req.Role, err)
	}
	if resolved == nil {
		return nil, fmt.Errorf("role %s: %w", req.Role, ErrNoActiveAgent)
	}

	logger := e.logger.With("role", req.Role, "agent", resolved.Name)
	chain := newFallbackChain(e.roles, req.Role, resolved.ModelName)

	model := resolved.ModelName
	totalAttempts := 0
	var lastFailure error

	for {
		for attempt := 1; attempt <= req.Retry.MaxAttemptsPerModel; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			totalAttempts++

			output, err := e.generate(ctx, resolved, model, req)
			if err == nil {
				ok, reason := e.validate(req, output)
				if ok {
					logger.Info("execution succeeded",
						"model", model, "attempt", attempt, "total_attempts", totalAttempts)
					return &ExecutionResult{
						Output:      output,
						Model:       model,
						Attempts:    totalAttempts,
						ModelsTried: chain.Tried(),
					}, nil
				}
				err = fmt.Errorf("output rejected: %s", reason)
			}
			lastFailure = err
			logger.Warn("attempt failed",
				"model", model, "attempt", attempt, "error", err)

			if attempt < req.Retry.MaxAttemptsPerModel {
				if err := sleepContext(ctx, req.Retry.RetryDelayBase*time.Duration(attempt)); err != nil {
					return nil, err
				}
			}
		}

		if !req.Retry.EnableFallback || e.roles == nil {
			break
		}
		next, err := chain.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrModelsExhausted) {
				logger.Warn("fallback chain exhausted", "models_tried", chain.Tried())
				break
			}
			return nil, err
		}
		logger.Info("falling back to next model", "from", model, "to", next)
		model = next
	}

	if req.Retry.EnableDiagnosis {
		e.diagnose(ctx, req.Role, req.Prompt, lastFailure)
	}
	return nil, fmt.Errorf("role %s failed after %d attempt(s) across %d model(s): %w",
		req.Role, totalAttempts, len(chain.Tried()), lastFailure)
}

func (e *Executor) generate(ctx context.Context, agent *models.Agent, model string, req ExecutionRequest) (string, error) {
	callCtx := ctx
	if req.Retry.RequestTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(req.Retry.RequestTimeoutSeconds)*time.Second)
		defer cancel()
	}
	systemPrompt := agent.SystemPrompt
	if req.SystemSuffix != "" {
		systemPrompt = strings.TrimSpace(systemPrompt + "\n\n" + req.SystemSuffix)
	}
	return e.client.Generate(callCtx, GenerateRequest{
		Model:        model,
		SystemPrompt: systemPrompt,
		Prompt:       req.Prompt,
		Temperature:  agent.Temperature,
		MaxTokens:    agent.MaxTokens,
	})
}

func (e *Executor) validate(req ExecutionRequest, output string) (bool, string) {
	if req.Validate != nil {
		return req.Validate(output)
	}
	if strings.TrimSpace(output) == "" {
		return false, "empty output"
	}
	return true, ""
}

// diagnose asks the diagnosis agent why a call kept failing. Purely advisory:
// every error is swallowed and the explanation only reaches the logs.
func (e *Executor) diagnose(ctx context.Context, role config.Role, prompt string, failure error) {
	if ctx.Err() != nil {
		return
	}
	resolved, err := e.agents.GetActiveAgentForRole(ctx, config.RoleDiagnosis)
	if err != nil || resolved == nil {
		return
	}
	diagPrompt := fmt.Sprintf(
		"Una chiamata per il ruolo %s ha esaurito i tentativi.\nErrore finale: %v\n\nPrompt originale:\n%s\n\nSpiega in breve la causa probabile del fallimento.",
		role, failure, truncate(prompt, 4000))
	output, err := e.client.Generate(ctx, GenerateRequest{
		Model:        resolved.ModelName,
		SystemPrompt: resolved.SystemPrompt,
		Prompt:       diagPrompt,
		Temperature:  resolved.Temperature,
		MaxTokens:    resolved.MaxTokens,
	})
	if err != nil {
		e.logger.Warn("diagnosis call failed", "role", role, "error", err)
		return
	}
	e.logger.Info("failure diagnosis", "role", role, "diagnosis", strings.TrimSpace(output))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
