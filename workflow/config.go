package workflow

import (
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// StepConfig declares one workflow step in a scenario mode.
type StepConfig struct {
	// ID uniquely identifies the step within its mode.
	ID string `yaml:"id"`

	// Role names the agent that executes this step. It must resolve in
	// the agent role registry.
	Role string `yaml:"role"`

	// DependsOn lists step ids that must reach a terminal state before
	// this step may start. A failed or skipped dependency skips this step.
	DependsOn []string `yaml:"depends_on"`

	// Group names a parallel group. Steps sharing a group and ready in the
	// same wave run concurrently. Empty means the step runs on its own.
	Group string `yaml:"group"`

	// Required marks the step as load-bearing for the run outcome. A
	// failed required step fails the run; a failed informational step
	// only degrades it.
	Required bool `yaml:"required"`

	// Query is the step's question, optionally templated against the run
	// input as {{.Input}}.
	Query string `yaml:"query"`

	// Params is extra context handed to the agent.
	Params map[string]string `yaml:"params"`
}

// ModeConfig is the step list for one (scenario, mode) pair.
type ModeConfig struct {
	Steps []StepConfig `yaml:"steps"`
}

// ScenarioConfig maps mode names to their step graphs.
type ScenarioConfig struct {
	Modes map[string]ModeConfig `yaml:"modes"`
}

// Config is the full declarative scenario set.
type Config struct {
	Scenarios map[string]ScenarioConfig `yaml:"scenarios"`
}

// ParseConfig decodes and validates a scenario set from YAML.
func ParseConfig(r io.Reader) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode workflow config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads and validates a scenario set from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workflow config: %w", err)
	}
	defer f.Close()

	return ParseConfig(f)
}

// Lookup resolves the step graph for a scenario and mode. Unknown names are
// configuration errors.
func (c *Config) Lookup(scenario, mode string) ([]StepConfig, error) {
	sc, ok := c.Scenarios[scenario]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", scenario)
	}

	mc, ok := sc.Modes[mode]
	if !ok {
		return nil, fmt.Errorf("unknown mode %q in scenario %q", mode, scenario)
	}
	return mc.Steps, nil
}

// Validate checks every mode's step graph for duplicate ids, unknown
// dependencies and dependency cycles.
func (c *Config) Validate() error {
	if len(c.Scenarios) == 0 {
		return fmt.Errorf("workflow config declares no scenarios")
	}

	for scenario, sc := range c.Scenarios {
		if len(sc.Modes) == 0 {
			return fmt.Errorf("scenario %q declares no modes", scenario)
		}
		for mode, mc := range sc.Modes {
			if err := validateSteps(mc.Steps); err != nil {
				return fmt.Errorf("scenario %q mode %q: %w", scenario, mode, err)
			}
		}
	}
	return nil
}

func validateSteps(steps []StepConfig) error {
	if len(steps) == 0 {
		return fmt.Errorf("declares no steps")
	}

	byID := make(map[string]StepConfig, len(steps))
	for _, step := range steps {
		if step.ID == "" {
			return fmt.Errorf("step with empty id")
		}
		if step.Role == "" {
			return fmt.Errorf("step %q has no role", step.ID)
		}
		if _, ok := byID[step.ID]; ok {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		byID[step.ID] = step
	}

	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("step %q depends on unknown step %q", step.ID, dep)
			}
			if dep == step.ID {
				return fmt.Errorf("step %q depends on itself", step.ID)
			}
		}
	}

	if cycle := findCycle(byID); cycle != "" {
		return fmt.Errorf("dependency cycle through step %q", cycle)
	}
	return nil
}

// findCycle runs a DFS over the dependency graph and returns the id of a
// step on a cycle, or "" when the graph is a DAG.
func findCycle(byID map[string]StepConfig) string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(byID))

	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case inStack:
			return id
		case done:
			return ""
		}
		state[id] = inStack
		for _, dep := range byID[id].DependsOn {
			if hit := visit(dep); hit != "" {
				return hit
			}
		}
		state[id] = done
		return ""
	}

	for id := range byID {
		if hit := visit(id); hit != "" {
			return hit
		}
	}
	return ""
}

// ConfigStore holds the active scenario set and supports atomic hot reload.
// In-flight runs keep the step graph they resolved at start; Reload only
// affects subsequent Lookup calls.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewConfigStore wraps an initial validated config.
func NewConfigStore(cfg *Config) *ConfigStore {
	return &ConfigStore{cfg: cfg}
}

// Lookup resolves the step graph from the currently active config.
func (s *ConfigStore) Lookup(scenario, mode string) ([]StepConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Lookup(scenario, mode)
}

// Reload validates and atomically swaps in a new scenario set. On error the
// previous config stays active.
func (s *ConfigStore) Reload(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

// ReloadFile loads a YAML file and swaps it in atomically.
func (s *ConfigStore) ReloadFile(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	return s.Reload(cfg)
}
