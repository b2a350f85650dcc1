// Package agent implements the three-phase reasoning loop (plan → execute →
// solve) that drives a single specialized analysis agent. The planning phase
// asks the completion endpoint for an ordered list of capability calls, the
// execution phase fans those calls out concurrently through the capability
// invoker, and the solving phase synthesizes a final answer from the plan and
// the collected observations.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/finmesh/capability"
	"github.com/hupe1980/finmesh/completion"
	"github.com/hupe1980/finmesh/logging"
)

// Config tunes one agent's reasoning loop. All values are policy knobs, not
// architectural constants: deployments tune them per role.
type Config struct {
	// StepDeadline bounds each individual capability call during execution.
	StepDeadline time.Duration

	// DegradedThreshold is the success-rate floor below which a
	// degraded-quality signal is attached to the invocation. Execution
	// proceeds to solving either way.
	DegradedThreshold float64

	// Retry bounds completion endpoint retries in planning and solving.
	Retry completion.RetryPolicy

	// FallbackCapability, when set, becomes a single-step plan if the
	// planning phase cannot produce one. Empty means the fallback plan is
	// empty and the agent answers from the query alone.
	FallbackCapability string

	// Temperature is passed to the completion endpoint on both phases.
	Temperature float64

	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Agent runs the plan–execute–solve loop for one role. An Agent is cheap and
// stateless between runs; every Run produces a fresh Invocation owned by
// that run alone, so a single Agent is safe for concurrent use.
type Agent struct {
	role     string
	endpoint completion.Endpoint
	invoker  *capability.Invoker
	cfg      Config
	logger   logging.Logger
}

// New constructs an Agent for the given role.
func New(role string, endpoint completion.Endpoint, invoker *capability.Invoker, optFns ...func(c *Config)) *Agent {
	cfg := Config{
		StepDeadline:      30 * time.Second,
		DegradedThreshold: 0.3,
		Retry:             completion.DefaultRetryPolicy(),
		Temperature:       0.2,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&cfg)
	}
	return &Agent{role: role, endpoint: endpoint, invoker: invoker, cfg: cfg, logger: cfg.Logger}
}

// Role returns the agent's role tag.
func (a *Agent) Role() string { return a.role }

// Run executes one full reasoning loop. Planning failures are absorbed into
// a fallback plan and partial execution failures are absorbed at the fan-in
// boundary; only solving-phase exhaustion returns an error, and even then
// the Invocation (with its partial observations) is returned for inspection.
func (a *Agent) Run(ctx context.Context, query string, contextMap map[string]string) (*Invocation, error) {
	inv := &Invocation{
		ID:        uuid.NewString(),
		Role:      a.role,
		Query:     query,
		Context:   contextMap,
		Status:    StatusPlanning,
		StartedAt: time.Now().UTC(),
	}

	a.logger.Debug("agent.run.start", "role", a.role, "invocation_id", inv.ID)

	inv.Plan = a.plan(ctx, inv)

	inv.Status = StatusExecuting
	inv.Observations, inv.SuccessRate = a.execute(ctx, inv.Plan)

	if inv.Plan.Len() > 0 && inv.SuccessRate < a.cfg.DegradedThreshold {
		inv.Degraded = true
		a.logger.Warn("agent.execute.degraded",
			"role", a.role,
			"invocation_id", inv.ID,
			"success_rate", inv.SuccessRate,
			"threshold", a.cfg.DegradedThreshold,
		)
	}

	inv.Status = StatusSolving
	answer, err := a.solve(ctx, inv)
	inv.FinishedAt = time.Now().UTC()
	if err != nil {
		inv.Status = StatusFailed
		inv.Err = err
		a.logger.Error("agent.solve.failed", "role", a.role, "invocation_id", inv.ID, "error", err.Error())
		return inv, fmt.Errorf("solving failed for role %s: %w", a.role, err)
	}

	inv.Answer = answer
	inv.Status = StatusComplete
	a.logger.Info("agent.run.complete",
		"role", a.role,
		"invocation_id", inv.ID,
		"steps", inv.Plan.Len(),
		"success_rate", inv.SuccessRate,
		"degraded", inv.Degraded,
	)
	return inv, nil
}

// plan asks the endpoint for an ordered capability call list. Endpoint
// failures and unparsable responses both resolve to the fallback plan;
// planning never aborts the invocation.
func (a *Agent) plan(ctx context.Context, inv *Invocation) Plan {
	text, err := completion.Do(ctx, a.logger, a.cfg.Retry, "plan", func(ctx context.Context) (string, error) {
		return a.endpoint.Complete(ctx, a.planningRequest(inv))
	})
	if err != nil {
		a.logger.Warn("agent.plan.endpoint_failed", "role", a.role, "invocation_id", inv.ID, "error", err.Error())
		return a.fallbackPlan(inv.Query)
	}

	plan, ok := ParsePlan(text)
	if !ok {
		a.logger.Warn("agent.plan.unparsable", "role", a.role, "invocation_id", inv.ID)
		return a.fallbackPlan(inv.Query)
	}

	a.logger.Debug("agent.plan.ready", "role", a.role, "invocation_id", inv.ID, "steps", plan.Len())
	return plan
}

// fallbackPlan synthesizes the plan used when planning cannot produce one.
func (a *Agent) fallbackPlan(query string) Plan {
	if a.cfg.FallbackCapability == "" {
		return Plan{}
	}
	return Plan{Steps: []PlanStep{{
		Index:      0,
		Capability: a.cfg.FallbackCapability,
		Params:     map[string]any{"query": query},
		Purpose:    "fallback lookup",
	}}}
}

// execute fans all plan steps out concurrently, each bounded by its own
// deadline, and fans in the complete observation sequence reassembled in
// plan order. A step's failure never cancels its siblings.
func (a *Agent) execute(ctx context.Context, plan Plan) ([]capability.Observation, float64) {
	if plan.Len() == 0 {
		return nil, 1.0
	}

	observations := make([]capability.Observation, plan.Len())

	var wg sync.WaitGroup
	for i, step := range plan.Steps {
		wg.Add(1)
		go func(i int, step PlanStep) {
			defer wg.Done()
			obs := a.invoker.Invoke(ctx, step.Capability, step.Params, a.cfg.StepDeadline)
			obs.Index = step.Index
			observations[i] = obs
		}(i, step)
	}
	wg.Wait()

	success := 0
	for _, obs := range observations {
		if obs.Success {
			success++
		}
	}
	return observations, float64(success) / float64(plan.Len())
}

// solve asks the endpoint to synthesize the final answer from the plan and
// all observations, failed ones included (annotated as such).
func (a *Agent) solve(ctx context.Context, inv *Invocation) (string, error) {
	return completion.Do(ctx, a.logger, a.cfg.Retry, "solve", func(ctx context.Context) (string, error) {
		return a.endpoint.Complete(ctx, a.solvingRequest(inv))
	})
}

func (a *Agent) planningRequest(inv *Invocation) completion.Request {
	var sb strings.Builder
	sb.WriteString("Decide which capabilities to call before answering the question below.\n")
	sb.WriteString("Respond with a JSON array of steps, each {\"capability\": ..., \"params\": {...}, \"purpose\": ...}.\n")
	sb.WriteString("Respond with [] if no capability call is needed.\n\n")
	sb.WriteString("Available capabilities:\n")
	sb.WriteString(a.invoker.Registry().Describe())
	sb.WriteString("\nQuestion: ")
	sb.WriteString(inv.Query)
	writeContext(&sb, inv.Context)

	temp := a.cfg.Temperature
	return completion.Request{
		Messages: []completion.Message{
			{Role: "system", Text: fmt.Sprintf("You are the %s analyst of a financial research team.", a.role)},
			{Role: "user", Text: sb.String()},
		},
		Temperature: &temp,
	}
}

func (a *Agent) solvingRequest(inv *Invocation) completion.Request {
	var sb strings.Builder
	sb.WriteString("Synthesize a final answer to the question below from the gathered observations.\n")
	sb.WriteString("Failed lookups are annotated; call out which inputs were missing when they matter.\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(inv.Query)
	writeContext(&sb, inv.Context)
	sb.WriteString("\n\nObservations:\n")
	if len(inv.Observations) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, obs := range inv.Observations {
		purpose := ""
		if obs.Index < inv.Plan.Len() {
			purpose = inv.Plan.Steps[obs.Index].Purpose
		}
		if obs.Success {
			payload, err := json.Marshal(obs.Payload)
			if err != nil {
				payload = []byte(fmt.Sprintf("%v", obs.Payload))
			}
			sb.WriteString(fmt.Sprintf("%d. %s (%s): %s\n", obs.Index+1, obs.Capability, purpose, payload))
		} else {
			sb.WriteString(fmt.Sprintf("%d. %s (%s): [failed: %s] %s\n", obs.Index+1, obs.Capability, purpose, obs.Err.Kind, obs.Err.Message))
		}
	}

	temp := a.cfg.Temperature
	return completion.Request{
		Messages: []completion.Message{
			{Role: "system", Text: fmt.Sprintf("You are the %s analyst of a financial research team.", a.role)},
			{Role: "user", Text: sb.String()},
		},
		Temperature: &temp,
	}
}

func writeContext(sb *strings.Builder, contextMap map[string]string) {
	if len(contextMap) == 0 {
		return
	}
	sb.WriteString("\n\nContext:\n")
	for k, v := range contextMap {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", k, v))
	}
}
