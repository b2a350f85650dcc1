package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/finmesh/capability"
	"github.com/hupe1980/finmesh/completion"
)

// Factory builds a configured Agent for one role. The workflow engine
// resolves step roles through a Registry of factories so that teams can be
// rewired without touching engine code.
type Factory func(endpoint completion.Endpoint, invoker *capability.Invoker) *Agent

// Registry maps role names to agent factories. The zero value is unusable;
// call NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty role registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a role name to its factory, replacing any previous binding.
func (r *Registry) Register(role string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[role] = factory
}

// Resolve returns the factory for a role. An unknown role is a configuration
// error, surfaced before any step of a workflow executes.
func (r *Registry) Resolve(role string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[role]
	if !ok {
		return nil, fmt.Errorf("no agent registered for role %q", role)
	}
	return factory, nil
}

// Roles returns all registered role names in sorted order.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]string, 0, len(r.factories))
	for role := range r.factories {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
