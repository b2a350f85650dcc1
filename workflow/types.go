package workflow

import (
	"time"

	"github.com/hupe1980/finmesh/agent"
)

// StepState is the lifecycle state of one workflow step.
type StepState string

const (
	// StepStatePending means the step has not started yet.
	StepStatePending StepState = "pending"

	// StepStateExecuting means the step's agent invocation is in flight.
	StepStateExecuting StepState = "executing"

	// StepStateSucceeded means the step's agent invocation completed.
	StepStateSucceeded StepState = "succeeded"

	// StepStateFailed means the step's agent invocation failed.
	StepStateFailed StepState = "failed"

	// StepStateSkipped means the step was never attempted because a
	// dependency failed or was itself skipped.
	StepStateSkipped StepState = "skipped"
)

// RunStatus is the aggregate outcome of a workflow run.
type RunStatus string

const (
	// RunStatusComplete means every step succeeded.
	RunStatusComplete RunStatus = "complete"

	// RunStatusDegraded means at least one informational step failed or
	// was skipped, but every required step succeeded.
	RunStatusDegraded RunStatus = "degraded"

	// RunStatusFailed means a required step failed or was skipped.
	RunStatusFailed RunStatus = "failed"
)

// StepResult records one step's terminal state within a run.
type StepResult struct {
	StepID     string            `json:"step_id"`
	Role       string            `json:"role"`
	State      StepState         `json:"state"`
	Required   bool              `json:"required"`
	Invocation *agent.Invocation `json:"invocation,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Elapsed    time.Duration     `json:"elapsed"`
}

// Run is the record of one workflow execution.
type Run struct {
	ID         string        `json:"id"`
	Scenario   string        `json:"scenario"`
	Mode       string        `json:"mode"`
	Input      string        `json:"input"`
	Status     RunStatus     `json:"status"`
	Results    []StepResult  `json:"results"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Result returns the recorded result for a step id, or nil.
func (r *Run) Result(stepID string) *StepResult {
	for i := range r.Results {
		if r.Results[i].StepID == stepID {
			return &r.Results[i]
		}
	}
	return nil
}

// Progress describes one step transition during a run. The engine reports
// progress after every transition so the session layer can relay it.
type Progress struct {
	RunID   string    `json:"run_id"`
	StepID  string    `json:"step_id,omitempty"`
	State   StepState `json:"state,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Status  RunStatus `json:"status,omitempty"`
	Final   bool      `json:"final"`
}

// ProgressFunc receives progress notifications. A nil ProgressFunc is
// valid and disables reporting.
type ProgressFunc func(p Progress)
