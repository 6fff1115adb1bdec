package queue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cristido1/TinyGeneratorLC-sub008/pkg/models"
)

// Registry maps operation names to command factories. Registration happens
// during startup wiring; lookups happen on the worker hot path.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]CommandFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]CommandFactory)}
}

// Register binds an operation name to a factory. Re-registering an operation
// replaces the previous factory.
func (r *Registry) Register(operation string, factory CommandFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[operation] = factory
}

// Known reports whether an operation has a registered factory.
func (r *Registry) Known(operation string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[operation]
	return ok
}

// Operations returns the registered operation names, sorted.
func (r *Registry) Operations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]string, 0, len(r.factories))
	for op := range r.factories {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Build constructs the executable command for a queued row.
func (r *Registry) Build(cmd *models.QueuedCommand) (Command, error) {
	r.mu.RLock()
	factory, ok := r.factories[cmd.Operation]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("operation %q: %w", cmd.Operation, ErrUnknownOperation)
	}
	return factory(cmd)
}
