package capability

import (
	"context"
	"fmt"
	"time"
)

// Kind classifies capability invocation failures.
type Kind int

const (
	// KindTimeout indicates the call exceeded its deadline. Retryable by the caller.
	KindTimeout Kind = iota + 1
	// KindRateLimited indicates the provider rejected the call due to rate
	// limiting. The caller should back off before retrying.
	KindRateLimited
	// KindUpstreamServerError indicates a transient provider failure. Retryable.
	KindUpstreamServerError
	// KindInvalidParameters indicates the supplied arguments failed
	// validation. Caller error, never retried.
	KindInvalidParameters
	// KindCapabilityNotFound indicates the capability name did not resolve.
	// Configuration error, never retried.
	KindCapabilityNotFound
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstreamServerError:
		return "upstream_server_error"
	case KindInvalidParameters:
		return "invalid_parameters"
	case KindCapabilityNotFound:
		return "capability_not_found"
	default:
		return "unknown"
	}
}

// Retryable reports whether a call failing with this kind may be retried.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindRateLimited || k == KindUpstreamServerError
}

// Error is a classified capability invocation failure.
type Error struct {
	Capability string `json:"capability"`
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Capability != "" {
		return fmt.Sprintf("capability error [%s] in %s: %s", e.Kind, e.Capability, e.Message)
	}
	return fmt.Sprintf("capability error [%s]: %s", e.Kind, e.Message)
}

// NewError creates a classified capability error.
func NewError(capability string, kind Kind, format string, args ...any) *Error {
	return &Error{Capability: capability, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Observation is the outcome of executing one planned capability call. A call
// that fails still yields an Observation; it is never silently dropped.
type Observation struct {
	Index      int           `json:"index"`
	Capability string        `json:"capability"`
	Success    bool          `json:"success"`
	Payload    any           `json:"payload,omitempty"`
	Err        *Error        `json:"error,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Capability is the uniform interface over one external data/action provider.
//
// Implementations should:
//   - Provide clear, descriptive names (snake_case recommended)
//   - Define a minimal JSON schema for parameters
//   - Honor ctx cancellation in Execute and Probe
//   - Be safe for concurrent use
type Capability interface {
	// Name returns the unique identifier for this capability.
	Name() string

	// Description returns a human-readable description provided to the
	// planning endpoint so it can decide when to use the capability.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Execute performs the call. Errors should be classified (*Error) where
	// the provider can tell; unclassified errors are treated as upstream
	// server errors by the Invoker.
	Execute(ctx context.Context, args map[string]any) (any, error)

	// Probe performs a lightweight availability check. A nil return means
	// available; a *DegradedError means reachable but suspicious; any other
	// error means unavailable.
	Probe(ctx context.Context) error
}

// DegradedError signals that a capability responded to its probe but the
// response looked empty or otherwise suspicious.
type DegradedError struct {
	Reason string
}

// Error implements the error interface.
func (e *DegradedError) Error() string {
	return fmt.Sprintf("degraded: %s", e.Reason)
}
