package capability

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/finmesh/logging"
)

// InvokerOptions configures an Invoker instance.
type InvokerOptions struct {
	// Stats receives per-capability success/failure counters. Defaults to a
	// fresh instance if not provided.
	Stats *Stats

	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Invoker executes named capabilities with uniform deadline and error
// semantics. Every call returns an Observation regardless of outcome, so
// callers fan-in over a complete result set instead of handling exceptions.
// The Invoker is safe for concurrent use.
type Invoker struct {
	registry *Registry
	stats    *Stats
	logger   logging.Logger
}

// NewInvoker constructs an Invoker over the given registry.
func NewInvoker(registry *Registry, optFns ...func(o *InvokerOptions)) *Invoker {
	opts := InvokerOptions{
		Stats:  NewStats(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Invoker{registry: registry, stats: opts.Stats, logger: opts.Logger}
}

// Stats exposes the rolling counters backing this invoker.
func (inv *Invoker) Stats() *Stats { return inv.stats }

// Registry exposes the capability registry backing this invoker.
func (inv *Invoker) Registry() *Registry { return inv.registry }

// Invoke executes the named capability with the given arguments and a
// mandatory deadline. An unknown name fails immediately with
// KindCapabilityNotFound and no counter update; a deadline of zero or less
// falls back to 30 seconds. The call is cancelled independently of any other
// in-flight call when its own deadline expires.
//
// The returned Observation carries Index 0; callers executing a plan stamp
// the plan step index onto it.
func (inv *Invoker) Invoke(ctx context.Context, name string, args map[string]any, deadline time.Duration) Observation {
	cap, ok := inv.registry.Get(name)
	if !ok {
		inv.logger.Error("invoker.call.unknown_capability", "capability", name)

		return Observation{
			Capability: name,
			Err:        NewError(name, KindCapabilityNotFound, "capability %q is not registered", name),
		}
	}

	if deadline <= 0 {
		deadline = 30 * time.Second
	}

	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	payload, err := cap.Execute(callCtx, args)
	elapsed := time.Since(start)

	if err != nil {
		cerr := classify(name, callCtx, err)
		inv.stats.RecordFailure(name)
		inv.logger.Warn("invoker.call.failed",
			"capability", name,
			"kind", cerr.Kind.String(),
			"duration_ms", elapsed.Milliseconds(),
			"error", cerr.Message,
		)

		return Observation{Capability: name, Err: cerr, Elapsed: elapsed}
	}

	inv.stats.RecordSuccess(name)
	inv.logger.Debug("invoker.call.success",
		"capability", name,
		"duration_ms", elapsed.Milliseconds(),
	)

	return Observation{Capability: name, Success: true, Payload: payload, Elapsed: elapsed}
}

// classify maps an execution failure onto the fixed taxonomy. Classified
// errors pass through unchanged; context expiry on the per-call deadline
// becomes a timeout; everything else is treated as an upstream failure.
func classify(name string, callCtx context.Context, err error) *Error {
	var cerr *Error
	if errors.As(err, &cerr) {
		if cerr.Capability == "" {
			cerr.Capability = name
		}
		return cerr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return NewError(name, KindTimeout, "call exceeded deadline: %v", err)
	}
	return NewError(name, KindUpstreamServerError, "%v", err)
}
