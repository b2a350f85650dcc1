package agent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/finmesh/capability"
	"github.com/hupe1980/finmesh/completion"
)

var openSchema = map[string]any{
	"type":       "object",
	"properties": map[string]any{},
}

// echoCapability answers instantly with a fixed payload.
func echoCapability(name, payload string) capability.Capability {
	return capability.NewFunctionCapability(name, "echoes a payload", openSchema,
		func(ctx context.Context, args map[string]any) (any, error) {
			return payload, nil
		})
}

// slowCapability blocks until its context is cancelled or d elapses.
func slowCapability(name string, d time.Duration) capability.Capability {
	return capability.NewFunctionCapability(name, "sleeps", openSchema,
		func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d):
				return "slow result", nil
			}
		})
}

// failingCapability always fails with an upstream error.
func failingCapability(name string) capability.Capability {
	return capability.NewFunctionCapability(name, "fails", openSchema,
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, fmt.Errorf("upstream is down")
		})
}

func newTestInvoker(caps ...capability.Capability) *capability.Invoker {
	registry := capability.NewRegistry()
	for _, c := range caps {
		registry.Register(c)
	}
	return capability.NewInvoker(registry)
}

func fastRetry() completion.RetryPolicy {
	return completion.RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		RateLimitWait:  time.Millisecond,
	}
}

func planText(names ...string) string {
	out := "["
	for i, name := range names {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"capability": %q, "params": {}, "purpose": "step"}`, name)
	}
	return out + "]"
}

func TestRunCompletesHappyPath(t *testing.T) {
	endpoint := completion.NewMockEndpoint()
	endpoint.AddResponse("Respond with a JSON array", planText("echo"))
	endpoint.AddResponse("Synthesize a final answer", "ACME looks healthy.")

	invoker := newTestInvoker(echoCapability("echo", "42"))
	a := New("researcher", endpoint, invoker, func(c *Config) {
		c.Retry = fastRetry()
	})

	inv, err := a.Run(context.Background(), "How is ACME doing?", map[string]string{"ticker": "ACME"})

	require.NoError(t, err)
	assert.Equal(t, StatusComplete, inv.Status)
	assert.Equal(t, "ACME looks healthy.", inv.Answer)
	assert.Equal(t, 1.0, inv.SuccessRate)
	assert.False(t, inv.Degraded)
	require.Len(t, inv.Observations, 1)
	assert.True(t, inv.Observations[0].Success)
	assert.Equal(t, "42", inv.Observations[0].Payload)
}

func TestRunExecutionBoundedBySlowestStep(t *testing.T) {
	deadline := 150 * time.Millisecond

	endpoint := completion.NewMockEndpoint()
	endpoint.AddResponse("Respond with a JSON array", planText("fast1", "slow", "fast2", "fast3"))
	endpoint.AddResponse("Synthesize a final answer", "best effort report")

	invoker := newTestInvoker(
		echoCapability("fast1", "a"),
		slowCapability("slow", time.Second),
		echoCapability("fast2", "b"),
		echoCapability("fast3", "c"),
	)
	a := New("quant", endpoint, invoker, func(c *Config) {
		c.StepDeadline = deadline
		c.Retry = fastRetry()
	})

	start := time.Now()
	inv, err := a.Run(context.Background(), "quote ACME", nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, StatusComplete, inv.Status)

	// Steps run concurrently: total time tracks the slowest step's
	// deadline, not the sum of all step durations.
	assert.Less(t, elapsed, 4*deadline)

	require.Len(t, inv.Observations, 4)
	assert.True(t, inv.Observations[0].Success)
	assert.False(t, inv.Observations[1].Success)
	assert.Equal(t, capability.KindTimeout, inv.Observations[1].Err.Kind)
	assert.True(t, inv.Observations[2].Success)
	assert.True(t, inv.Observations[3].Success)

	assert.Equal(t, 0.75, inv.SuccessRate)
	assert.False(t, inv.Degraded, "0.75 is above the degradation threshold")
}

func TestRunDegradedBelowThreshold(t *testing.T) {
	endpoint := completion.NewMockEndpoint()
	endpoint.AddResponse("Respond with a JSON array", planText("ok", "down1", "down2", "down3"))
	endpoint.AddResponse("Synthesize a final answer", "report built from partial data")

	invoker := newTestInvoker(
		echoCapability("ok", "a"),
		failingCapability("down1"),
		failingCapability("down2"),
		failingCapability("down3"),
	)
	a := New("researcher", endpoint, invoker, func(c *Config) {
		c.Retry = fastRetry()
	})

	inv, err := a.Run(context.Background(), "query", nil)

	require.NoError(t, err)
	assert.Equal(t, StatusComplete, inv.Status)
	assert.True(t, inv.Degraded)
	assert.Equal(t, 0.25, inv.SuccessRate)
	assert.NotEmpty(t, inv.Answer, "solving proceeds despite the degraded signal")
}

func TestRunFallbackPlanOnUnparsableResponse(t *testing.T) {
	endpoint := completion.NewMockEndpoint()
	endpoint.AddResponse("Respond with a JSON array", "I'd rather not say.")
	endpoint.AddResponse("Synthesize a final answer", "fallback answer")

	invoker := newTestInvoker(echoCapability("knowledge_lookup", "kb entry"))
	a := New("researcher", endpoint, invoker, func(c *Config) {
		c.Retry = fastRetry()
		c.FallbackCapability = "knowledge_lookup"
	})

	inv, err := a.Run(context.Background(), "what about rates?", nil)

	require.NoError(t, err)
	assert.Equal(t, StatusComplete, inv.Status)
	require.Equal(t, 1, inv.Plan.Len())
	assert.Equal(t, "knowledge_lookup", inv.Plan.Steps[0].Capability)
	assert.Equal(t, "what about rates?", inv.Plan.Steps[0].Params["query"])
}

func TestRunFallbackPlanOnPlanningExhaustion(t *testing.T) {
	endpoint := completion.NewMockEndpoint()
	endpoint.ScriptErrors(completion.NewError(completion.KindClientError, "context too long"))
	endpoint.AddResponse("Synthesize a final answer", "answered without capabilities")

	invoker := newTestInvoker()
	a := New("researcher", endpoint, invoker, func(c *Config) {
		c.Retry = fastRetry()
	})

	inv, err := a.Run(context.Background(), "query", nil)

	require.NoError(t, err)
	assert.Equal(t, StatusComplete, inv.Status)
	assert.Equal(t, 0, inv.Plan.Len())
	assert.Equal(t, 1.0, inv.SuccessRate, "an empty plan is not degraded")
	assert.Equal(t, "answered without capabilities", inv.Answer)
}

func TestRunSolvingExhaustionFailsInvocation(t *testing.T) {
	endpoint := completion.NewMockEndpoint()
	endpoint.AddResponse("Respond with a JSON array", planText("echo"))
	// First call (planning) succeeds, all solving attempts fail.
	endpoint.ScriptErrors(
		nil,
		completion.NewError(completion.KindServerError, "boom"),
		completion.NewError(completion.KindServerError, "boom"),
		completion.NewError(completion.KindServerError, "boom"),
	)

	invoker := newTestInvoker(echoCapability("echo", "42"))
	a := New("researcher", endpoint, invoker, func(c *Config) {
		c.Retry = fastRetry()
	})

	inv, err := a.Run(context.Background(), "query", nil)

	require.Error(t, err)
	assert.Equal(t, StatusFailed, inv.Status)
	assert.Error(t, inv.Err)
	assert.Empty(t, inv.Answer)
	require.Len(t, inv.Observations, 1, "partial observations are retained")
	assert.True(t, inv.Observations[0].Success)
}

func TestRegistryResolvesKnownRoles(t *testing.T) {
	registry := NewRegistry()
	registry.Register("researcher", func(endpoint completion.Endpoint, invoker *capability.Invoker) *Agent {
		return New("researcher", endpoint, invoker)
	})

	factory, err := registry.Resolve("researcher")
	require.NoError(t, err)
	assert.NotNil(t, factory)

	_, err = registry.Resolve("astrologer")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "astrologer")

	assert.Equal(t, []string{"researcher"}, registry.Roles())
}
