package session

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
	"github.com/hupe1980/finmesh/workflow"
)

const sessionYAML = `
scenarios:
  research:
    modes:
      standard:
        steps:
          - {id: gather, role: analyst, required: true, query: "gather facts on {{.Input}}"}
          - {id: report, role: analyst, depends_on: [gather], required: true, query: "report on {{.Input}}"}
      flaky:
        steps:
          - {id: doomed, role: broken, query: "doomed"}
          - {id: report, role: analyst, required: true, query: "report anyway"}
      slow:
        steps:
          - {id: nap, role: sleepy, required: true, query: "take your time"}
`

// slowEndpoint delays every completion until its context is cancelled or the
// delay elapses, keeping a run in flight long enough to observe mid-run
// transitions.
type slowEndpoint struct {
	delay time.Duration
}

func (e *slowEndpoint) Complete(ctx context.Context, req completion.Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(e.delay):
		return "[]", nil
	}
}

func (e *slowEndpoint) Info() completion.Info {
	return completion.Info{Name: "slow", Provider: "test"}
}

func fastRetry() completion.RetryPolicy {
	return completion.RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Millisecond}
}

func newTestManager(t *testing.T, endpoint completion.Endpoint, store Store, optFns ...func(o *ManagerOptions)) *Manager {
	t.Helper()

	cfg, err := workflow.ParseConfig(strings.NewReader(sessionYAML))
	require.NoError(t, err)

	invoker := capability.NewInvoker(capability.NewRegistry())

	roles := agent.NewRegistry()
	roles.Register("analyst", func(endpoint completion.Endpoint, invoker *capability.Invoker) *agent.Agent {
		return agent.New("analyst", endpoint, invoker, func(c *agent.Config) {
			c.Retry = fastRetry()
		})
	})
	roles.Register("sleepy", func(_ completion.Endpoint, invoker *capability.Invoker) *agent.Agent {
		return agent.New("sleepy", &slowEndpoint{delay: 500 * time.Millisecond}, invoker, func(c *agent.Config) {
			c.Retry = fastRetry()
		})
	})
	roles.Register("broken", func(_ completion.Endpoint, invoker *capability.Invoker) *agent.Agent {
		broken := completion.NewMockEndpoint()
		broken.ScriptErrors(
			completion.NewError(completion.KindClientError, "rejected"),
			completion.NewError(completion.KindClientError, "rejected"),
		)
		return agent.New("broken", broken, invoker, func(c *agent.Config) {
			c.Retry = fastRetry()
		})
	})

	engine := workflow.NewEngine(workflow.NewConfigStore(cfg), roles, endpoint, invoker)
	return NewManager(engine, store, optFns...)
}

func newSessionEndpoint() *completion.MockEndpoint {
	endpoint := completion.NewMockEndpoint()
	endpoint.AddResponse("Respond with a JSON array", "[]")
	endpoint.AddResponse("Synthesize a final answer", "the final report")
	return endpoint
}

func waitDone(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish in time")
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := NewInMemoryStore()
	manager := newTestManager(t, newSessionEndpoint(), store)

	sink := &captureSink{}
	sess, err := manager.Start(context.Background(), "research", "standard", "ACME")
	require.NoError(t, err)
	sess.Attach(sink, 0)

	waitDone(t, sess)

	assert.Equal(t, StatusComplete, sess.Status())

	state, ok, err := manager.Lookup(sess.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusComplete, state.Status)
	assert.Equal(t, "report", state.LastStep)
	assert.Equal(t, "the final report", state.Answer)

	// 2 steps x (started + succeeded) + run_complete.
	events := sink.all()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventRunComplete, last.Kind)
	assert.Equal(t, string(StatusComplete), last.Status)

	kinds := make([]EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, EventStepStarted)
	assert.Contains(t, kinds, EventStepSucceeded)
}

func TestSessionDegradedOscillation(t *testing.T) {
	store := NewInMemoryStore()
	manager := newTestManager(t, newSessionEndpoint(), store)

	sess, err := manager.Start(context.Background(), "research", "flaky", "ACME")
	require.NoError(t, err)

	waitDone(t, sess)

	// The informational failure degrades the session mid-run but the run
	// still produces a complete result.
	assert.Equal(t, StatusComplete, sess.Status())

	state, ok, err := manager.Lookup(sess.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusComplete, state.Status)
}

func TestSessionDisconnectDoesNotCancelRun(t *testing.T) {
	store := NewInMemoryStore()
	manager := newTestManager(t, newSessionEndpoint(), store)

	sess, err := manager.Start(context.Background(), "research", "standard", "ACME")
	require.NoError(t, err)

	// Never attach a client at all: every send is a silent no-op.
	waitDone(t, sess)

	assert.Equal(t, StatusComplete, sess.Status())
	assert.NotEmpty(t, sess.channel.Pending(), "events buffered for a later reconnect")
}

func TestSessionReconnectReplaysIdempotently(t *testing.T) {
	store := NewInMemoryStore()
	endpoint := newSessionEndpoint()
	manager := newTestManager(t, endpoint, store)

	sess, err := manager.Start(context.Background(), "research", "standard", "ACME")
	require.NoError(t, err)
	waitDone(t, sess)

	callsAfterRun := endpoint.Calls()

	first := &captureSink{}
	sess.Attach(first, 0)
	firstSeqs := seqsOf(first.all())
	require.NotEmpty(t, firstSeqs)
	sess.Detach(first)

	second := &captureSink{}
	sess.Attach(second, 0)
	secondSeqs := seqsOf(second.all())

	assert.Equal(t, firstSeqs, secondSeqs, "both reconnects see the identical missed-event set")
	assert.Equal(t, callsAfterRun, endpoint.Calls(), "reconnecting never re-invokes completed steps")
}

func TestSessionReconnectAfterAck(t *testing.T) {
	store := NewInMemoryStore()
	manager := newTestManager(t, newSessionEndpoint(), store)

	sess, err := manager.Start(context.Background(), "research", "standard", "ACME")
	require.NoError(t, err)
	waitDone(t, sess)

	all := sess.channel.Pending()
	require.Greater(t, len(all), 2)
	ackUpTo := all[1].Seq

	sink := &captureSink{}
	sess.Attach(sink, ackUpTo)

	seqs := seqsOf(sink.all())
	require.NotEmpty(t, seqs)
	assert.Equal(t, ackUpTo+1, seqs[0], "replay starts past the acknowledged cursor")
}

func TestManagerEvictsFinishedSessions(t *testing.T) {
	store := NewInMemoryStore()
	manager := newTestManager(t, newSessionEndpoint(), store, func(o *ManagerOptions) {
		o.Retention = 20 * time.Millisecond
	})

	sess, err := manager.Start(context.Background(), "research", "standard", "ACME")
	require.NoError(t, err)

	// Reachable for reattach while the run is in flight and inside the
	// retention window after it finishes.
	_, ok := manager.Get(sess.ID())
	assert.True(t, ok)

	waitDone(t, sess)

	require.Eventually(t, func() bool {
		_, live := manager.Get(sess.ID())
		return !live
	}, time.Second, 10*time.Millisecond, "finished sessions leave the live map")

	// The persisted state outlives the eviction.
	state, found, err := manager.Lookup(sess.ID())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusComplete, state.Status)
}

func TestSessionAbort(t *testing.T) {
	store := NewInMemoryStore()
	manager := newTestManager(t, newSessionEndpoint(), store)

	sess, err := manager.Start(context.Background(), "research", "slow", "ACME")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond) // let the slow step start
	sess.Abort()
	waitDone(t, sess)

	assert.Equal(t, StatusAborted, sess.Status(), "terminal states are never overwritten")

	state, ok, err := manager.Lookup(sess.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusAborted, state.Status)
}

func (s *captureSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func seqsOf(events []Event) []uint64 {
	out := make([]uint64, 0, len(events))
	for _, e := range events {
		out = append(out, e.Seq)
	}
	return out
}
