package capability

import (
	"context"

	"github.com/hupe1980/finmesh/internal/util"
)

// FunctionCapability is a generic adapter that exposes a plain Go function
// as a FinMesh capability.
//
// Responsibilities:
//   - Holds a lightweight JSON-Schema-like parameter specification
//   - Validates supplied arguments against that schema before execution
//   - Normalizes validation failures to KindInvalidParameters so the Invoker
//     and agents can branch on kind
//
// A FunctionCapability has no internal mutable state after construction and
// is safe for concurrent use by multiple goroutines.
type FunctionCapability struct {
	// Capability identifier (snake_case recommended)
	name string
	// Human-readable description shown to the planning endpoint
	description string
	// JSON schema describing accepted arguments
	parameters map[string]any
	// Optional availability probe; nil means always available
	probe func(ctx context.Context) error
	// User supplied implementation
	fn func(ctx context.Context, args map[string]any) (any, error)
}

// FunctionOptions configures optional FunctionCapability behavior.
type FunctionOptions struct {
	// Probe overrides the default always-available probe.
	Probe func(ctx context.Context) error
}

// WithProbe sets a custom availability probe.
func WithProbe(probe func(ctx context.Context) error) func(o *FunctionOptions) {
	return func(o *FunctionOptions) { o.Probe = probe }
}

// NewFunctionCapability constructs a FunctionCapability from explicit schema
// and function.
//
// Example:
//
//	lookup := NewFunctionCapability(
//	  "knowledge_lookup",
//	  "Look up a topic in the local knowledge base",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "topic": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"topic"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return kb.Lookup(args["topic"].(string)), nil
//	  },
//	)
func NewFunctionCapability(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionOptions),
) *FunctionCapability {
	opts := FunctionOptions{}
	for _, optFn := range optFns {
		optFn(&opts)
	}
	return &FunctionCapability{
		name:        name,
		description: description,
		parameters:  parameters,
		probe:       opts.Probe,
		fn:          fn,
	}
}

// NewFunctionCapabilityFromStruct derives the parameter schema from a struct
// using reflection. It is a convenience for simple argument containers.
func NewFunctionCapabilityFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionOptions),
) *FunctionCapability {
	schema := util.CreateSchema(structType)
	return NewFunctionCapability(name, description, schema, fn, optFns...)
}

// Name returns the unique capability name used in plans and routing.
func (c *FunctionCapability) Name() string { return c.name }

// Description returns the short natural language description exposed to the
// planning endpoint.
func (c *FunctionCapability) Description() string { return c.description }

// Parameters returns the (minimal) JSON schema describing expected arguments.
func (c *FunctionCapability) Parameters() map[string]any { return c.parameters }

// Execute validates the provided args against the declared schema then
// invokes the underlying function. Validation failures surface as
// KindInvalidParameters.
func (c *FunctionCapability) Execute(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, c.parameters); err != nil {
		return nil, NewError(c.name, KindInvalidParameters, "parameter validation failed: %v", err)
	}
	return c.fn(ctx, args)
}

// Probe implements Capability. Without a custom probe the capability is
// always considered available.
func (c *FunctionCapability) Probe(ctx context.Context) error {
	if c.probe == nil {
		return nil
	}
	return c.probe(ctx)
}
