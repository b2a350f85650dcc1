// Package workflow runs declarative multi-agent scenarios. A scenario mode
// declares a DAG of steps, each bound to an agent role; the engine executes
// the graph in dependency waves, fans parallel groups out concurrently, and
// aggregates step outcomes into one run status.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/finmesh/agent"
	"github.com/hupe1980/finmesh/capability"
	"github.com/hupe1980/finmesh/completion"
	"github.com/hupe1980/finmesh/internal/util"
	"github.com/hupe1980/finmesh/logging"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Engine executes workflow runs against the active scenario set.
type Engine struct {
	store    *ConfigStore
	roles    *agent.Registry
	endpoint completion.Endpoint
	invoker  *capability.Invoker
	logger   logging.Logger
}

// NewEngine constructs a workflow engine. Agents are built per step through
// the role registry, all sharing the given endpoint and invoker.
func NewEngine(store *ConfigStore, roles *agent.Registry, endpoint completion.Endpoint, invoker *capability.Invoker, optFns ...func(o *EngineOptions)) *Engine {
	opts := EngineOptions{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		store:    store,
		roles:    roles,
		endpoint: endpoint,
		invoker:  invoker,
		logger:   opts.Logger,
	}
}

// RunOptions configures one workflow run.
type RunOptions struct {
	// Progress receives a notification after every step transition and
	// once more when the run reaches its terminal status. Nil disables
	// reporting.
	Progress ProgressFunc
}

// Run executes the (scenario, mode) step graph against the given input.
// Unknown scenario, mode or role is a configuration error returned before
// any step executes. Individual step failures never error the call; they
// are folded into the run status.
func (e *Engine) Run(ctx context.Context, scenario, mode, input string, optFns ...func(o *RunOptions)) (*Run, error) {
	opts := RunOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	steps, err := e.store.Lookup(scenario, mode)
	if err != nil {
		return nil, err
	}

	agents := make(map[string]*agent.Agent, len(steps))
	for _, step := range steps {
		if _, ok := agents[step.Role]; ok {
			continue
		}
		factory, err := e.roles.Resolve(step.Role)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.ID, err)
		}
		agents[step.Role] = factory(e.endpoint, e.invoker)
	}

	run := &Run{
		ID:        uuid.NewString(),
		Scenario:  scenario,
		Mode:      mode,
		Input:     input,
		StartedAt: time.Now().UTC(),
	}

	e.logger.Info("workflow.run.start", "run_id", run.ID, "scenario", scenario, "mode", mode, "steps", len(steps))

	exec := &runExecution{
		engine:   e,
		run:      run,
		steps:    steps,
		agents:   agents,
		states:   make(map[string]StepState, len(steps)),
		progress: opts.Progress,
	}
	for _, step := range steps {
		exec.states[step.ID] = StepStatePending
	}

	exec.execute(ctx)

	run.Status = aggregate(run.Results)
	run.FinishedAt = time.Now().UTC()
	exec.report(Progress{RunID: run.ID, Status: run.Status, Final: true})

	e.logger.Info("workflow.run.finished", "run_id", run.ID, "status", run.Status)
	return run, nil
}

// runExecution carries the mutable state of one run. All state mutation and
// progress reporting happens on the wave loop goroutine; fanned-out steps
// only write their own slot in the wave's result slice.
type runExecution struct {
	engine   *Engine
	run      *Run
	steps    []StepConfig
	agents   map[string]*agent.Agent
	states   map[string]StepState
	progress ProgressFunc
}

func (x *runExecution) execute(ctx context.Context) {
	for {
		ready, remaining := x.readySteps()
		if len(ready) == 0 {
			if remaining > 0 {
				// Unreachable with a validated DAG; skip whatever is
				// left so the run still terminates.
				x.skipRemaining("unresolvable dependencies")
			}
			return
		}

		skippable, runnable := x.partition(ready)
		for _, step := range skippable {
			x.skip(step, "dependency failed")
		}

		for _, wave := range groupWaves(runnable) {
			x.runWave(ctx, wave)
		}
	}
}

// runWave executes one wave: a single step directly, a parallel group via
// fan-out/fan-in. Sibling failures stay isolated; every step yields exactly
// one result.
func (x *runExecution) runWave(ctx context.Context, wave []StepConfig) {
	for _, step := range wave {
		x.setState(step.ID, StepStateExecuting)
		x.report(Progress{RunID: x.run.ID, StepID: step.ID, State: StepStateExecuting})
	}

	if len(wave) == 1 {
		x.record(x.invokeStep(ctx, wave[0]))
		return
	}

	results := make([]StepResult, len(wave))

	var wg sync.WaitGroup
	for i, step := range wave {
		wg.Add(1)
		go func(i int, step StepConfig) {
			defer wg.Done()
			results[i] = x.invokeStep(ctx, step)
		}(i, step)
	}
	wg.Wait()

	for _, result := range results {
		x.record(result)
	}
}

// readySteps returns every pending step whose dependencies all reached a
// terminal state, plus the count of steps still pending overall.
func (x *runExecution) readySteps() ([]StepConfig, int) {
	var ready []StepConfig
	remaining := 0
	for _, step := range x.steps {
		if x.states[step.ID] != StepStatePending {
			continue
		}
		remaining++
		if x.depsTerminal(step) {
			ready = append(ready, step)
		}
	}
	return ready, remaining
}

func (x *runExecution) depsTerminal(step StepConfig) bool {
	for _, dep := range step.DependsOn {
		switch x.states[dep] {
		case StepStateSucceeded, StepStateFailed, StepStateSkipped:
		default:
			return false
		}
	}
	return true
}

// partition splits ready steps into those whose dependencies failed or were
// skipped (to be skipped themselves) and those clear to run.
func (x *runExecution) partition(ready []StepConfig) (skippable, runnable []StepConfig) {
	for _, step := range ready {
		blocked := false
		for _, dep := range step.DependsOn {
			if x.states[dep] == StepStateFailed || x.states[dep] == StepStateSkipped {
				blocked = true
				break
			}
		}
		if blocked {
			skippable = append(skippable, step)
		} else {
			runnable = append(runnable, step)
		}
	}
	return skippable, runnable
}

// groupWaves splits runnable steps into execution units: steps sharing a
// non-empty group form one concurrent wave, ungrouped steps run alone.
func groupWaves(runnable []StepConfig) [][]StepConfig {
	var waves [][]StepConfig
	grouped := make(map[string]int)
	for _, step := range runnable {
		if step.Group == "" {
			waves = append(waves, []StepConfig{step})
			continue
		}
		idx, ok := grouped[step.Group]
		if !ok {
			grouped[step.Group] = len(waves)
			waves = append(waves, []StepConfig{step})
			continue
		}
		waves[idx] = append(waves[idx], step)
	}
	return waves
}

// invokeStep runs one step's agent invocation. Safe to call off the loop
// goroutine: it reads immutable run fields and writes nothing shared.
func (x *runExecution) invokeStep(ctx context.Context, step StepConfig) StepResult {
	start := time.Now()

	query, err := util.RenderTemplate(step.Query, map[string]any{"Input": x.run.Input})
	if err != nil {
		query = step.Query
	}

	contextMap := make(map[string]string, len(step.Params)+1)
	for k, v := range step.Params {
		contextMap[k] = v
	}
	contextMap["input"] = x.run.Input

	inv, err := x.agents[step.Role].Run(ctx, query, contextMap)
	result := StepResult{
		StepID:     step.ID,
		Role:       step.Role,
		Required:   step.Required,
		Invocation: inv,
		Elapsed:    time.Since(start),
	}
	if err != nil {
		result.State = StepStateFailed
		result.Reason = err.Error()
	} else {
		result.State = StepStateSucceeded
	}
	return result
}

// record commits one step result: state table, run record, log, progress.
func (x *runExecution) record(result StepResult) {
	x.setState(result.StepID, result.State)
	x.run.Results = append(x.run.Results, result)

	detail := result.Reason
	if result.State == StepStateSucceeded && result.Invocation != nil {
		detail = summarize(result.Invocation)
	}

	x.engine.logger.Debug("workflow.step.finished",
		"run_id", x.run.ID,
		"step_id", result.StepID,
		"state", string(result.State),
		"elapsed", result.Elapsed.String(),
	)
	x.report(Progress{
		RunID:  x.run.ID,
		StepID: result.StepID,
		State:  result.State,
		Detail: detail,
	})
}

func (x *runExecution) skip(step StepConfig, reason string) {
	x.record(StepResult{
		StepID:   step.ID,
		Role:     step.Role,
		Required: step.Required,
		State:    StepStateSkipped,
		Reason:   reason,
	})
}

func (x *runExecution) skipRemaining(reason string) {
	for _, step := range x.steps {
		if x.states[step.ID] == StepStatePending {
			x.skip(step, reason)
		}
	}
}

func (x *runExecution) setState(stepID string, state StepState) {
	x.states[stepID] = state
}

func (x *runExecution) report(p Progress) {
	if x.progress != nil {
		x.progress(p)
	}
}

// aggregate folds step results into the run status. A required step that
// failed or was skipped fails the run; informational failures or skips only
// degrade it.
func aggregate(results []StepResult) RunStatus {
	status := RunStatusComplete
	for _, result := range results {
		if result.State == StepStateSucceeded {
			continue
		}
		if result.Required {
			return RunStatusFailed
		}
		status = RunStatusDegraded
	}
	return status
}

// summarize trims an invocation answer to a short progress detail.
func summarize(inv *agent.Invocation) string {
	const max = 140
	answer := inv.Answer
	if len(answer) > max {
		answer = answer[:max] + "…"
	}
	return answer
}
