package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/finmesh/logging"
	"github.com/hupe1980/finmesh/workflow"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// TTL bounds how long a finished session's persisted state lives.
	// Zero means no expiry.
	TTL time.Duration

	// Retention is how long a finished session stays reachable in the live
	// map for late reattach before it is evicted. Zero falls back to TTL,
	// and to one minute when TTL is also zero.
	Retention time.Duration

	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

const defaultRetention = time.Minute

// Manager starts sessions and keeps the live ones reachable for client
// attach and reattach. Persisted state lives in the Store; the in-process
// map only holds sessions whose run is still in flight or recently finished.
type Manager struct {
	engine    *workflow.Engine
	store     Store
	ttl       time.Duration
	retention time.Duration
	logger    logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager constructs a session manager on top of a workflow engine and a
// persistence store.
func NewManager(engine *workflow.Engine, store Store, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	retention := opts.Retention
	if retention == 0 {
		retention = opts.TTL
	}
	if retention == 0 {
		retention = defaultRetention
	}
	return &Manager{
		engine:    engine,
		store:     store,
		ttl:       opts.TTL,
		retention: retention,
		logger:    opts.Logger,
		sessions:  make(map[string]*Session),
	}
}

// Start creates a session and launches its workflow run in the background.
// The returned session is live immediately; progress events begin flowing as
// soon as the first step starts.
func (m *Manager) Start(ctx context.Context, scenario, mode, query string) (*Session, error) {
	runCtx, cancel := context.WithCancel(ctx)

	sess := &Session{
		id:       uuid.NewString(),
		scenario: scenario,
		mode:     mode,
		query:    query,
		status:   StatusInitializing,
		channel:  NewProgressChannel(),
		store:    m.store,
		ttl:      m.ttl,
		logger:   m.logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if err := sess.persist(); err != nil {
		cancel()
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	m.logger.Info("session.start", "session_id", sess.id, "scenario", scenario, "mode", mode)

	go m.run(runCtx, sess)
	return sess, nil
}

// Get returns a live session by id.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	return sess, ok
}

// Lookup returns the persisted state for a session id, live or not.
func (m *Manager) Lookup(sessionID string) (State, bool, error) {
	return m.store.Get(sessionID)
}

func (m *Manager) run(ctx context.Context, sess *Session) {
	defer m.evictAfter(sess, m.retention)
	defer close(sess.done)
	defer sess.cancel()

	sess.transition(StatusRunning, "")

	run, err := m.engine.Run(ctx, sess.scenario, sess.mode, sess.query, func(o *workflow.RunOptions) {
		o.Progress = sess.relay
	})
	if err != nil {
		m.logger.Error("session.run.failed", "session_id", sess.id, "error", err.Error())
		sess.finish(StatusFailed, "")
		return
	}

	sess.finish(sessionStatus(run.Status), finalAnswer(run))
}

// evictAfter drops a finished session from the live map once the retention
// window passes. The persisted store state remains the answer for Lookup.
func (m *Manager) evictAfter(sess *Session, after time.Duration) {
	time.AfterFunc(after, func() {
		m.mu.Lock()
		delete(m.sessions, sess.id)
		m.mu.Unlock()
		m.logger.Debug("session.evicted", "session_id", sess.id)
	})
}

// sessionStatus maps a workflow run outcome onto the session lifecycle.
func sessionStatus(status workflow.RunStatus) Status {
	switch status {
	case workflow.RunStatusComplete:
		return StatusComplete
	case workflow.RunStatusDegraded:
		// Degraded runs still produced a best-effort answer.
		return StatusComplete
	default:
		return StatusFailed
	}
}

// finalAnswer picks the answer of the last succeeded step, which by scenario
// convention is the synthesis step.
func finalAnswer(run *workflow.Run) string {
	for i := len(run.Results) - 1; i >= 0; i-- {
		result := run.Results[i]
		if result.State == workflow.StepStateSucceeded && result.Invocation != nil {
			return result.Invocation.Answer
		}
	}
	return ""
}

// Session is the live state machine for one analysis request. All status
// mutation is serialized by the session mutex; the progress channel has its
// own lock for sends.
type Session struct {
	id       string
	scenario string
	mode     string
	query    string
	channel  *ProgressChannel
	store    Store
	ttl      time.Duration
	logger   logging.Logger
	cancel   context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	status    Status
	lastStep  string
	answer    string
	createdAt time.Time
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed when the session's workflow run has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Attach connects a client transport. afterSeq is the last sequence number
// the client saw (0 for a fresh connection); everything past it is replayed
// once, in order, before live streaming resumes. Reattaching never re-invokes
// completed workflow steps; only buffered events are re-delivered.
func (s *Session) Attach(sink Sink, afterSeq uint64) {
	s.channel.Ack(afterSeq)
	s.channel.Attach(sink)
	s.channel.Replay()
}

// Detach disconnects the given client transport. A stale transport whose
// replacement already attached is ignored. The workflow run keeps executing
// and events keep buffering for a later reattach.
func (s *Session) Detach(sink Sink) {
	s.channel.Detach(sink)
}

// Ack records the client's progress cursor.
func (s *Session) Ack(seq uint64) {
	s.channel.Ack(seq)
}

// Abort cancels the in-flight run and marks the session aborted. Aborting a
// finished session is a no-op.
func (s *Session) Abort() {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = StatusAborted
	s.mu.Unlock()

	s.cancel()
	s.persist()
	s.logger.Info("session.aborted", "session_id", s.id)
}

// relay maps one workflow progress notification onto the session lifecycle
// and the client event stream.
func (s *Session) relay(p workflow.Progress) {
	if p.Final {
		return // terminal handling happens in finish
	}

	event := NewEvent(s.id, eventKind(p.State))
	event.StepID = p.StepID
	event.Detail = p.Detail

	switch p.State {
	case workflow.StepStateFailed:
		s.oscillate(StatusDegraded, p.StepID)
	case workflow.StepStateSucceeded:
		s.oscillate(StatusRunning, p.StepID)
	case workflow.StepStateSkipped:
		s.oscillate(s.Status(), p.StepID)
	}

	s.channel.Publish(event)
}

// oscillate applies the running/degraded oscillation and persists the new
// snapshot. Terminal states are never overwritten.
func (s *Session) oscillate(status Status, lastStep string) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	if status == StatusRunning || status == StatusDegraded {
		s.status = status
	}
	if lastStep != "" {
		s.lastStep = lastStep
	}
	s.mu.Unlock()

	s.persist()
}

// transition moves to a non-terminal status and persists.
func (s *Session) transition(status Status, lastStep string) {
	s.oscillate(status, lastStep)
}

// finish records the terminal status and answer, persists, and emits the
// run-complete event.
func (s *Session) finish(status Status, answer string) {
	s.mu.Lock()
	if s.status.Terminal() {
		status = s.status
	} else {
		s.status = status
		s.answer = answer
	}
	s.mu.Unlock()

	s.persist()

	event := NewEvent(s.id, EventRunComplete)
	event.Status = string(status)
	s.channel.Publish(event)

	s.logger.Info("session.finished", "session_id", s.id, "status", string(status))
}

// persist writes the current snapshot into the store. During a run a store
// error is logged and swallowed; persistence failures must not break the run.
func (s *Session) persist() error {
	s.mu.Lock()
	if s.createdAt.IsZero() {
		s.createdAt = time.Now().UTC()
	}
	state := State{
		ID:        s.id,
		Scenario:  s.scenario,
		Mode:      s.mode,
		Query:     s.query,
		Status:    s.status,
		LastStep:  s.lastStep,
		Answer:    s.answer,
		CreatedAt: s.createdAt,
		UpdatedAt: time.Now().UTC(),
	}
	s.mu.Unlock()

	if err := s.store.Set(s.id, state, s.ttl); err != nil {
		s.logger.Warn("session.persist.failed", "session_id", s.id, "error", err.Error())
		return err
	}
	return nil
}

func eventKind(state workflow.StepState) EventKind {
	switch state {
	case workflow.StepStateExecuting:
		return EventStepStarted
	case workflow.StepStateSucceeded:
		return EventStepSucceeded
	case workflow.StepStateFailed:
		return EventStepFailed
	case workflow.StepStateSkipped:
		return EventStepSkipped
	default:
		return EventStepProgress
	}
}
