package agent

import (
	"context"
	"fmt"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/config"
)

// fallbackChain yields the next untried model for a role, consulting the
// source on every call so newly enabled models become visible mid-run.
// Models already tried (including the agent's initial model) are skipped.
type fallbackChain struct {
	source RoleModelSource
	role   config.Role
	tried  map[string]bool
	order  []string
}

func newFallbackChain(source RoleModelSource, role config.Role, initialModel string) *fallbackChain {
	return &fallbackChain{
		source: source,
		role:   role,
		tried:  map[string]bool{initialModel: true},
		order:  []string{initialModel},
	}
}

// Next returns the best untried model for the role, marking it tried.
// Returns ErrModelsExhausted when none remain.
func (f *fallbackChain) Next(ctx context.Context) (string, error) {
	names, err := f.source.ListEnabledModelsForRole(ctx, f.role)
	if err != nil {
		return "", fmt.Errorf("listing models for role %s: %w", f.role, err)
	}
	for _, name := range names {
		if f.tried[name] {
			continue
		}
		f.tried[name] = true
		f.order = append(f.order, name)
		return name, nil
	}
	return "", ErrModelsExhausted
}

// Tried returns the models attempted so far, in attempt order.
func (f *fallbackChain) Tried() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}
