package session

import (
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates progress event payloads.
type EventKind string

const (
	// EventStepStarted signals a workflow step entered execution.
	EventStepStarted EventKind = "step_started"

	// EventStepProgress carries an intermediate detail for a running step.
	EventStepProgress EventKind = "step_progress"

	// EventStepSucceeded signals a step completed with a result summary.
	EventStepSucceeded EventKind = "step_succeeded"

	// EventStepFailed signals a step failed, carrying the error kind.
	EventStepFailed EventKind = "step_failed"

	// EventStepSkipped signals a step was never attempted.
	EventStepSkipped EventKind = "step_skipped"

	// EventRunComplete signals the run reached a terminal status.
	EventRunComplete EventKind = "run_complete"
)

// Event is one typed progress notification delivered to the client in the
// order it occurred. Seq numbers are assigned by the session's progress
// channel and drive reconnect replay.
type Event struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id"`
	Kind      EventKind `json:"kind"`
	StepID    string    `json:"step_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent constructs an event with a fresh id and UTC timestamp. The Seq
// field is stamped later, when the event enters a progress channel.
func NewEvent(sessionID string, kind EventKind) Event {
	return Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}
