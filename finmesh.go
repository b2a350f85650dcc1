// Package finmesh provides a high-level façade over the orchestration layers
// (capabilities, agents, workflows, sessions) enabling rapid construction of
// multi-agent financial analysis systems. Most applications interact with
// this package by:
//  1. Creating a FinMesh via New() (optionally overriding default in-memory services)
//  2. Registering capabilities and agent roles
//  3. Running workflows synchronously (Run) or as streaming sessions (StartSession)
//
// The façade delegates orchestration to workflow.Engine and session.Manager
// while keeping setup and usage ergonomics concise. All defaults are safe for
// local development and testing; production deployments typically supply a
// durable session store, a real completion endpoint and a structured logger.
package finmesh

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/finmesh/agent"
	"github.com/hupe1980/finmesh/capability"
	"github.com/hupe1980/finmesh/completion"
	"github.com/hupe1980/finmesh/logging"
	"github.com/hupe1980/finmesh/session"
	"github.com/hupe1980/finmesh/workflow"
)

// Options configures the FinMesh instance.
type Options struct {
	// Endpoint is the completion endpoint shared by all agents.
	Endpoint completion.Endpoint

	// Workflows is the validated scenario configuration.
	Workflows *workflow.Config

	// SessionStore persists session state. Defaults to in-memory.
	SessionStore session.Store

	// SessionTTL bounds persisted session lifetimes. Zero means no expiry.
	SessionTTL time.Duration

	// ProbeTimeout bounds each capability health probe.
	ProbeTimeout time.Duration

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// FinMesh is the high-level façade aggregating the orchestration layers.
type FinMesh struct {
	registry *capability.Registry
	invoker  *capability.Invoker
	health   *capability.HealthMonitor
	roles    *agent.Registry
	store    *workflow.ConfigStore
	engine   *workflow.Engine
	manager  *session.Manager
	logger   logging.Logger
}

// New creates a FinMesh instance. The Endpoint and Workflows options are
// required; everything else has a local-development default.
func New(optFns ...func(o *Options)) (*FinMesh, error) {
	opts := Options{
		SessionStore: session.NewInMemoryStore(),
		ProbeTimeout: 5 * time.Second,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Endpoint == nil {
		return nil, fmt.Errorf("a completion endpoint is required")
	}
	if opts.Workflows == nil {
		return nil, fmt.Errorf("a workflow configuration is required")
	}
	if err := opts.Workflows.Validate(); err != nil {
		return nil, err
	}

	registry := capability.NewRegistry()
	stats := capability.NewStats()
	invoker := capability.NewInvoker(registry, func(o *capability.InvokerOptions) {
		o.Stats = stats
		o.Logger = opts.Logger
	})
	health := capability.NewHealthMonitor(registry, func(o *capability.HealthMonitorOptions) {
		o.ProbeTimeout = opts.ProbeTimeout
		o.Logger = opts.Logger
	})

	roles := agent.NewRegistry()
	store := workflow.NewConfigStore(opts.Workflows)
	engine := workflow.NewEngine(store, roles, opts.Endpoint, invoker, func(o *workflow.EngineOptions) {
		o.Logger = opts.Logger
	})
	manager := session.NewManager(engine, opts.SessionStore, func(o *session.ManagerOptions) {
		o.TTL = opts.SessionTTL
		o.Logger = opts.Logger
	})

	return &FinMesh{
		registry: registry,
		invoker:  invoker,
		health:   health,
		roles:    roles,
		store:    store,
		engine:   engine,
		manager:  manager,
		logger:   opts.Logger,
	}, nil
}

// RegisterCapability adds a capability to the shared registry.
func (m *FinMesh) RegisterCapability(c capability.Capability, optFns ...func(o *capability.RegisterOptions)) {
	m.registry.Register(c, optFns...)
}

// RegisterRole binds an agent role name to its factory.
func (m *FinMesh) RegisterRole(role string, factory agent.Factory) {
	m.roles.Register(role, factory)
}

// StartupCheck probes every registered capability and fails only when a
// critical capability is unavailable. Degraded or unavailable non-critical
// capabilities are logged and tolerated.
func (m *FinMesh) StartupCheck(ctx context.Context) error {
	return m.health.RequireCritical(ctx)
}

// Health exposes the capability health monitor.
func (m *FinMesh) Health() *capability.HealthMonitor { return m.health }

// Invoker exposes the capability invoker, mainly for tests and tooling.
func (m *FinMesh) Invoker() *capability.Invoker { return m.invoker }

// Sessions exposes the session manager for HTTP servers and clients.
func (m *FinMesh) Sessions() *session.Manager { return m.manager }

// ReloadWorkflows validates and atomically swaps in a new scenario set
// without touching in-flight sessions.
func (m *FinMesh) ReloadWorkflows(cfg *workflow.Config) error {
	return m.store.Reload(cfg)
}

// Run executes a workflow synchronously and returns the finished run.
func (m *FinMesh) Run(ctx context.Context, scenario, mode, input string, optFns ...func(o *workflow.RunOptions)) (*workflow.Run, error) {
	return m.engine.Run(ctx, scenario, mode, input, optFns...)
}

// StartSession launches a streaming analysis session in the background.
func (m *FinMesh) StartSession(ctx context.Context, scenario, mode, query string) (*session.Session, error) {
	return m.manager.Start(ctx, scenario, mode, query)
}
