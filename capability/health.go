package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/finmesh/logging"
)

// StatusKind enumerates capability availability states.
type StatusKind int

const (
	// StatusAvailable means the probe succeeded.
	StatusAvailable StatusKind = iota
	// StatusDegraded means the probe succeeded but the result looked empty
	// or suspicious.
	StatusDegraded
	// StatusUnavailable means the probe errored or timed out.
	StatusUnavailable
)

// String returns the string representation of the status kind.
func (k StatusKind) String() string {
	switch k {
	case StatusAvailable:
		return "available"
	case StatusDegraded:
		return "degraded"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Status is the probe outcome for one capability.
type Status struct {
	Kind   StatusKind `json:"kind"`
	Reason string     `json:"reason,omitempty"`
}

// HealthMonitorOptions configures a HealthMonitor.
type HealthMonitorOptions struct {
	// ProbeTimeout bounds each individual probe. Defaults to 5 seconds.
	ProbeTimeout time.Duration

	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// HealthMonitor probes every registered capability and records availability.
// The check is advisory: nothing in the system blocks on it except the
// optional startup gate on critical capabilities (RequireCritical).
type HealthMonitor struct {
	registry     *Registry
	probeTimeout time.Duration
	logger       logging.Logger

	mu   sync.RWMutex
	last map[string]Status
}

// NewHealthMonitor constructs a HealthMonitor over the given registry.
func NewHealthMonitor(registry *Registry, optFns ...func(o *HealthMonitorOptions)) *HealthMonitor {
	opts := HealthMonitorOptions{
		ProbeTimeout: 5 * time.Second,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &HealthMonitor{
		registry:     registry,
		probeTimeout: opts.ProbeTimeout,
		logger:       opts.Logger,
		last:         make(map[string]Status),
	}
}

// CheckAll probes every registered capability concurrently and returns the
// status map. The result is also retained for Last().
func (h *HealthMonitor) CheckAll(ctx context.Context) map[string]Status {
	names := h.registry.Names()

	results := make(map[string]Status, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range names {
		cap, ok := h.registry.Get(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, cap Capability) {
			defer wg.Done()
			status := h.probe(ctx, cap)
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, cap)
	}
	wg.Wait()

	h.mu.Lock()
	h.last = results
	h.mu.Unlock()

	for name, status := range results {
		h.logger.Info("health.check",
			"capability", name,
			"status", status.Kind.String(),
			"reason", status.Reason,
		)
	}

	return results
}

// Last returns the most recent CheckAll results.
func (h *HealthMonitor) Last() map[string]Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]Status, len(h.last))
	for name, status := range h.last {
		out[name] = status
	}
	return out
}

// RequireCritical runs CheckAll and returns an error naming every critical
// capability that is unavailable. Non-critical capabilities being down never
// fail the check.
func (h *HealthMonitor) RequireCritical(ctx context.Context) error {
	results := h.CheckAll(ctx)

	var down []string
	for name, status := range results {
		if status.Kind == StatusUnavailable && h.registry.Critical(name) {
			down = append(down, fmt.Sprintf("%s (%s)", name, status.Reason))
		}
	}
	if len(down) > 0 {
		return fmt.Errorf("critical capabilities unavailable: %s", strings.Join(down, ", "))
	}
	return nil
}

func (h *HealthMonitor) probe(ctx context.Context, cap Capability) Status {
	probeCtx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()

	err := cap.Probe(probeCtx)
	if err == nil {
		return Status{Kind: StatusAvailable}
	}

	var degraded *DegradedError
	if errors.As(err, &degraded) {
		return Status{Kind: StatusDegraded, Reason: degraded.Reason}
	}
	return Status{Kind: StatusUnavailable, Reason: err.Error()}
}
