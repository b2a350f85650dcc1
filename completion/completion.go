// Package completion defines the contract FinMesh agents use to talk to a
// language-model completion endpoint. Agents depend only on the Endpoint
// interface and the small fixed error taxonomy; concrete providers live in
// the openai and anthropic subpackages.
package completion

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies completion endpoint failures so callers can branch on the
// category instead of inspecting error text.
type Kind int

const (
	// KindNone indicates the absence of a classified failure.
	KindNone Kind = iota
	// KindTimeout indicates the call exceeded its deadline. Retryable.
	KindTimeout
	// KindRateLimited indicates the provider rejected the call due to rate
	// limiting. Retryable after a fixed cooldown.
	KindRateLimited
	// KindServerError indicates a transient upstream failure. Retryable.
	KindServerError
	// KindClientError indicates an invalid request. Never retried.
	KindClientError
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindClientError:
		return "client_error"
	default:
		return "none"
	}
}

// Retryable reports whether calls failing with this kind may be retried.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindRateLimited || k == KindServerError
}

// Error is a classified completion endpoint failure.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("completion error [%s]: %s", e.Kind, e.Message)
}

// NewError creates a classified completion error.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from err. Context deadline expiry maps to
// KindTimeout; unclassified errors map to KindServerError so they remain
// retryable by default.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindServerError
}

// Message is a single conversational turn sent to the endpoint.
type Message struct {
	Role string `json:"role"` // "system", "user" or "assistant"
	Text string `json:"text"`
}

// Request captures the normalized endpoint input.
type Request struct {
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int64     `json:"max_tokens,omitempty"`
}

// Info contains metadata about an endpoint implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// Endpoint is the minimal interface agents require to drive generation.
// Implementations must honor ctx cancellation and return classified errors
// (an *Error, or something KindOf can map).
type Endpoint interface {
	Complete(ctx context.Context, req Request) (string, error)

	// Info returns information about the endpoint implementation.
	Info() Info
}
