package agent

import (
	"time"

	"github.com/hupe1980/finmesh/capability"
)

// Status tracks an invocation through the reasoning loop. Transitions are
// strictly ordered: planning → executing → solving → complete | failed.
type Status string

const (
	// StatusPlanning means the agent is asking the endpoint for a plan.
	StatusPlanning Status = "planning"
	// StatusExecuting means planned capability calls are in flight.
	StatusExecuting Status = "executing"
	// StatusSolving means the agent is synthesizing the final answer.
	StatusSolving Status = "solving"
	// StatusComplete means the invocation produced a final answer.
	StatusComplete Status = "complete"
	// StatusFailed means solving exhausted its retries.
	StatusFailed Status = "failed"
)

// PlanStep is one intended capability call. Params is an opaque key→value
// map handed to the capability unchanged.
type PlanStep struct {
	Index      int            `json:"index"`
	Capability string         `json:"capability"`
	Params     map[string]any `json:"params,omitempty"`
	Purpose    string         `json:"purpose,omitempty"`
}

// Plan is the ordered sequence of capability calls an agent intends to make
// before answering. It is produced once per invocation and immutable once
// execution begins. An empty plan is valid: the agent answers from the
// query alone.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// Len returns the number of plan steps.
func (p Plan) Len() int { return len(p.Steps) }

// Invocation is the complete record of one reasoning loop run. It is owned
// exclusively by that run and never shared across concurrent invocations.
type Invocation struct {
	ID           string                   `json:"id"`
	Role         string                   `json:"role"`
	Query        string                   `json:"query"`
	Context      map[string]string        `json:"context,omitempty"`
	Plan         Plan                     `json:"plan"`
	Observations []capability.Observation `json:"observations"`
	Answer       string                   `json:"answer,omitempty"`
	Status       Status                   `json:"status"`
	Degraded     bool                     `json:"degraded"`
	SuccessRate  float64                  `json:"success_rate"`
	Err          error                    `json:"-"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   time.Time                `json:"finished_at"`
}
