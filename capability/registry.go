package capability

import (
	"fmt"
	"sort"
	"sync"
)

// RegisterOptions configures a single capability registration.
type RegisterOptions struct {
	// Critical marks the capability as required at startup: an unavailable
	// probe result for a critical capability aborts startup checks.
	Critical bool
}

// WithCritical marks the capability as critical for startup.
func WithCritical() func(o *RegisterOptions) {
	return func(o *RegisterOptions) { o.Critical = true }
}

// Registry holds the set of named capabilities available to agents. It is
// populated at composition time and read-mostly afterwards; lookups are
// guarded anyway so late registration stays safe.
type Registry struct {
	mu       sync.RWMutex
	caps     map[string]Capability
	critical map[string]bool
}

// NewRegistry constructs an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		caps:     make(map[string]Capability),
		critical: make(map[string]bool),
	}
}

// Register adds a capability to the registry, replacing any previous entry
// with the same name.
func (r *Registry) Register(c Capability, optFns ...func(o *RegisterOptions)) {
	opts := RegisterOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Name()] = c
	r.critical[c.Name()] = opts.Critical
}

// Get retrieves a registered capability by name.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Critical reports whether the named capability was registered as critical.
func (r *Registry) Critical(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.critical[name]
}

// Names returns the sorted names of all registered capabilities.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns a human-readable listing of all capabilities with their
// descriptions, suitable for inclusion in a planning prompt.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)

	out := ""
	for _, name := range names {
		out += fmt.Sprintf("- %s: %s\n", name, r.caps[name].Description())
	}
	return out
}
