package completion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockEndpoint is a lightweight in-memory Endpoint useful for tests and
// examples. Responses can be registered per prompt substring and failures
// scripted per call, making retry behavior deterministic to assert on.
type MockEndpoint struct {
	mu        sync.Mutex
	responses []mockResponse
	script    []error
	calls     int
	callTimes []time.Time
}

type mockResponse struct {
	contains string
	response string
}

// NewMockEndpoint constructs an empty MockEndpoint.
func NewMockEndpoint() *MockEndpoint {
	return &MockEndpoint{}
}

// AddResponse registers a canned completion returned when the last request
// message contains the given substring. A prompt matching several substrings
// gets the earliest registered one; re-registering a substring replaces its
// response in place.
func (m *MockEndpoint) AddResponse(promptContains, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.responses {
		if r.contains == promptContains {
			m.responses[i].response = response
			return
		}
	}
	m.responses = append(m.responses, mockResponse{contains: promptContains, response: response})
}

// ScriptErrors queues per-call outcomes: a nil entry means the call succeeds,
// a non-nil entry is returned as that call's error. Once the script is
// exhausted all further calls succeed.
func (m *MockEndpoint) ScriptErrors(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, errs...)
}

// Calls returns how many times Complete was invoked.
func (m *MockEndpoint) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// CallTimes returns the timestamps of all Complete invocations in order.
func (m *MockEndpoint) CallTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Time, len(m.callTimes))
	copy(out, m.callTimes)
	return out
}

// Complete implements Endpoint.
func (m *MockEndpoint) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.calls++
	m.callTimes = append(m.callTimes, time.Now())
	var scripted error
	if len(m.script) > 0 {
		scripted = m.script[0]
		m.script = m.script[1:]
	}
	var last string
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Text
	}
	var response string
	for _, r := range m.responses {
		if strings.Contains(last, r.contains) {
			response = r.response
			break
		}
	}
	m.mu.Unlock()

	if scripted != nil {
		return "", scripted
	}
	if response == "" {
		response = fmt.Sprintf("Mock completion for: %s", last)
	}
	return response, nil
}

// Info implements Endpoint.
func (m *MockEndpoint) Info() Info {
	return Info{Name: "mock", Provider: "mock"}
}
