// Package session owns the lifecycle of one end-to-end analysis request: it
// drives a workflow run, relays typed progress events over a client channel
// that survives disconnects, and persists enough state for a reconnecting
// client to be told where the run stands without replaying it.
package session

import "time"

// Status is the persisted lifecycle state of a session.
type Status string

const (
	// StatusInitializing means the session exists but its run has not
	// started.
	StatusInitializing Status = "initializing"

	// StatusRunning means the workflow run is in flight.
	StatusRunning Status = "running"

	// StatusDegraded means the run is still in flight but at least one
	// step has failed. The session may oscillate back to running when
	// subsequent steps succeed.
	StatusDegraded Status = "degraded"

	// StatusComplete means the run finished with every required step
	// succeeding.
	StatusComplete Status = "complete"

	// StatusFailed means a required step failed or the run errored.
	StatusFailed Status = "failed"

	// StatusAborted means the owning caller abandoned the session.
	StatusAborted Status = "aborted"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusAborted
}

// State is the persisted snapshot of one session. It is the only entity that
// survives a client disconnect; everything else is reconstructible from it
// or ephemeral to one run.
type State struct {
	ID        string    `json:"id"`
	Scenario  string    `json:"scenario"`
	Mode      string    `json:"mode"`
	Query     string    `json:"query"`
	Status    Status    `json:"status"`
	LastStep  string    `json:"last_step,omitempty"`
	Answer    string    `json:"answer,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the session persistence contract: a plain key-value interface
// with last-writer-wins semantics per key.
type Store interface {
	// Get returns the state for a session id. The second return is false
	// when the id is unknown or expired.
	Get(sessionID string) (State, bool, error)

	// Set stores a state snapshot. A positive ttl bounds its lifetime;
	// zero means no expiry.
	Set(sessionID string, state State, ttl time.Duration) error

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(sessionID string) error
}
