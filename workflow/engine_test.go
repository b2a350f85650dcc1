package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/finmesh/agent"
	"github.com/hupe1980/finmesh/capability"
	"github.com/hupe1980/finmesh/completion"
)

func fastRetry() completion.RetryPolicy {
	return completion.RetryPolicy{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		RateLimitWait:  time.Millisecond,
	}
}

// steadyRole builds an agent that plans nothing and answers from the shared
// endpoint.
func steadyRole(role string) agent.Factory {
	return func(endpoint completion.Endpoint, invoker *capability.Invoker) *agent.Agent {
		return agent.New(role, endpoint, invoker, func(c *agent.Config) {
			c.Retry = fastRetry()
		})
	}
}

// brokenRole builds an agent whose private endpoint always fails, so every
// invocation fails at the solving phase.
func brokenRole(role string) agent.Factory {
	return func(_ completion.Endpoint, invoker *capability.Invoker) *agent.Agent {
		broken := completion.NewMockEndpoint()
		broken.ScriptErrors(
			completion.NewError(completion.KindClientError, "prompt rejected"),
			completion.NewError(completion.KindClientError, "prompt rejected"),
		)
		return agent.New(role, broken, invoker, func(c *agent.Config) {
			c.Retry = fastRetry()
		})
	}
}

func newTestEngine(t *testing.T, yaml string, factories map[string]agent.Factory, endpoint completion.Endpoint, caps ...capability.Capability) *Engine {
	t.Helper()

	cfg, err := ParseConfig(strings.NewReader(yaml))
	require.NoError(t, err)

	registry := capability.NewRegistry()
	for _, c := range caps {
		registry.Register(c)
	}
	invoker := capability.NewInvoker(registry)

	roles := agent.NewRegistry()
	for role, factory := range factories {
		roles.Register(role, factory)
	}

	return NewEngine(NewConfigStore(cfg), roles, endpoint, invoker)
}

func TestRunCompleteWhenAllStepsSucceed(t *testing.T) {
	yaml := `
scenarios:
  research:
    modes:
      standard:
        steps:
          - {id: gather, role: analyst, required: true, query: "gather facts"}
          - {id: report, role: analyst, depends_on: [gather], required: true, query: "write report"}
`
	endpoint := completion.NewMockEndpoint()
	endpoint.AddResponse("Respond with a JSON array", "[]")
	endpoint.AddResponse("Synthesize a final answer", "the report")

	engine := newTestEngine(t, yaml, map[string]agent.Factory{"analyst": steadyRole("analyst")}, endpoint)

	var events []Progress
	run, err := engine.Run(context.Background(), "research", "standard", "ACME", func(o *RunOptions) {
		o.Progress = func(p Progress) { events = append(events, p) }
	})

	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, run.Status)
	require.Len(t, run.Results, 2)
	assert.Equal(t, "gather", run.Results[0].StepID)
	assert.Equal(t, StepStateSucceeded, run.Results[0].State)
	assert.Equal(t, StepStateSucceeded, run.Results[1].State)

	// started + finished per step, then the terminal notification.
	require.Len(t, events, 5)
	assert.Equal(t, StepStateExecuting, events[0].State)
	assert.Equal(t, StepStateSucceeded, events[1].State)
	assert.True(t, events[4].Final)
	assert.Equal(t, RunStatusComplete, events[4].Status)
}

func TestRunSkipsStepsWithFailedDependency(t *testing.T) {
	yaml := `
scenarios:
  research:
    modes:
      standard:
        steps:
          - {id: a, role: broken, query: "doomed"}
          - {id: b, role: analyst, depends_on: [a], query: "depends on a"}
          - {id: c, role: analyst, depends_on: [b], query: "depends on b"}
`
	endpoint := completion.NewMockEndpoint()
	endpoint.AddResponse("Respond with a JSON array", "[]")

	engine := newTestEngine(t, yaml, map[string]agent.Factory{
		"analyst": steadyRole("analyst"),
		"broken":  brokenRole("broken"),
	}, endpoint)

	run, err := engine.Run(context.Background(), "research", "standard", "ACME")

	require.NoError(t, err)
	assert.Equal(t, RunStatusDegraded, run.Status, "informational failures degrade, not fail")

	assert.Equal(t, StepStateFailed, run.Result("a").State)
	assert.Equal(t, StepStateSkipped, run.Result("b").State)
	assert.Nil(t, run.Result("b").Invocation, "a skipped step is never attempted")
	assert.Equal(t, StepStateSkipped, run.Result("c").State, "skips cascade")
}

func TestRunFailsWhenRequiredStepFails(t *testing.T) {
	yaml := `
scenarios:
  research:
    modes:
      standard:
        steps:
          - {id: a, role: broken, required: true, query: "doomed"}
          - {id: b, role: analyst, query: "independent"}
`
	endpoint := completion.NewMockEndpoint()
	endpoint.AddResponse("Respond with a JSON array", "[]")

	engine := newTestEngine(t, yaml, map[string]agent.Factory{
		"analyst": steadyRole("analyst"),
		"broken":  brokenRole("broken"),
	}, endpoint)

	run, err := engine.Run(context.Background(), "research", "standard", "ACME")

	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, StepStateSucceeded, run.Result("b").State, "independent steps still run")
}

func TestRunParallelGroupFansOut(t *testing.T) {
	yaml := `
scenarios:
  research:
    modes:
      standard:
        steps:
          - {id: a, role: analyst, group: gather, query: "first"}
          - {id: b, role: analyst, group: gather, query: "second"}
`
	stepDelay := 200 * time.Millisecond

	endpoint := completion.NewMockEndpoint()
	endpoint.AddResponse("Respond with a JSON array",
		`[{"capability": "ponder", "params": {}, "purpose": "think"}]`)
	endpoint.AddResponse("Synthesize a final answer", "done")

	ponder := capability.NewFunctionCapability("ponder", "sleeps a bit",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(stepDelay):
				return "pondered", nil
			}
		})

	engine := newTestEngine(t, yaml, map[string]agent.Factory{"analyst": steadyRole("analyst")}, endpoint, ponder)

	start := time.Now()
	run, err := engine.Run(context.Background(), "research", "standard", "ACME")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, run.Status)
	assert.Less(t, elapsed, 2*stepDelay, "grouped steps run concurrently")
}

func TestRunUnknownScenarioOrRole(t *testing.T) {
	yaml := `
scenarios:
  research:
    modes:
      standard:
        steps:
          - {id: a, role: mystery, query: "q"}
`
	endpoint := completion.NewMockEndpoint()
	engine := newTestEngine(t, yaml, map[string]agent.Factory{"analyst": steadyRole("analyst")}, endpoint)

	_, err := engine.Run(context.Background(), "unheard_of", "standard", "ACME")
	require.Error(t, err)

	_, err = engine.Run(context.Background(), "research", "standard", "ACME")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mystery")
}

func TestRunTemplatesStepQuery(t *testing.T) {
	yaml := `
scenarios:
  research:
    modes:
      standard:
        steps:
          - {id: a, role: analyst, query: "Report on {{.Input}}"}
`
	endpoint := completion.NewMockEndpoint()
	endpoint.AddResponse("Respond with a JSON array", "[]")

	engine := newTestEngine(t, yaml, map[string]agent.Factory{"analyst": steadyRole("analyst")}, endpoint)

	run, err := engine.Run(context.Background(), "research", "standard", "ACME Corp")

	require.NoError(t, err)
	require.NotNil(t, run.Result("a").Invocation)
	assert.Equal(t, "Report on ACME Corp", run.Result("a").Invocation.Query)
}
