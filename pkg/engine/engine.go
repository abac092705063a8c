// Package engine walks workflow graphs and runs each node's browser actions
// through the hybrid deterministic/AI strategy.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/aef/pkg/agent"
	"github.com/dukex/aef/pkg/browser"
	"github.com/dukex/aef/pkg/credentials"
	"github.com/dukex/aef/pkg/eventbus"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/otelhelper"
	"github.com/dukex/aef/pkg/persistence"
)

var (
	ErrEmptyWorkflow      = errors.New("workflow has no nodes")
	ErrNodeNotFound       = errors.New("node not found")
	ErrAlreadyRunning     = errors.New("execution is already running")
	ErrNotRunning         = errors.New("execution is not running")
	ErrNotPaused          = errors.New("execution is not paused")
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
	ErrWorkflowMismatch   = errors.New("execution belongs to another workflow")
)

// Fallback performs an action when the deterministic attempt failed.
// *agent.Fallback is the production implementation.
type Fallback interface {
	Execute(ctx context.Context, step agent.Step, action models.Action) (any, error)
}

// Injector substitutes credentials into an action. *credentials.Injector
// is the production implementation.
type Injector interface {
	Inject(ctx context.Context, action models.Action, required map[string][]string) (*credentials.Injection, error)
}

type Config struct {
	MaxRetries        int
	RetryDelay        time.Duration
	DefaultTimeoutMs  int
	StepBudget        int
	MaxLoopIterations int
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:        2,
		RetryDelay:        time.Second,
		DefaultTimeoutMs:  30000,
		StepBudget:        1000,
		MaxLoopIterations: 100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	if c.DefaultTimeoutMs <= 0 {
		c.DefaultTimeoutMs = def.DefaultTimeoutMs
	}

	if c.StepBudget <= 0 {
		c.StepBudget = def.StepBudget
	}

	if c.MaxLoopIterations <= 0 {
		c.MaxLoopIterations = def.MaxLoopIterations
	}

	return c
}

// Deps are the collaborators of an Engine. Driver, Fallback, Injector,
// Selectors and EventBus are optional.
type Deps struct {
	Persistence persistence.Persistence
	Driver      browser.Driver
	Fallback    Fallback
	Injector    Injector
	Selectors   *agent.SelectorCache
	EventBus    eventbus.EventBus
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

type ExecuteOptions struct {
	ExecutionID   string
	SessionID     string
	Variables     map[string]any
	PauseOnErrors *bool
}

// Engine runs executions concurrently; each execution is sequential.
type Engine struct {
	persistence persistence.Persistence
	driver      browser.Driver
	fallback    Fallback
	injector    Injector
	selectors   *agent.SelectorCache
	eventBus    eventbus.EventBus
	tracer      trace.Tracer
	logger      *slog.Logger
	config      Config

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func New(deps Deps, config Config) *Engine {
	e := &Engine{
		persistence: deps.Persistence,
		driver:      deps.Driver,
		fallback:    deps.Fallback,
		injector:    deps.Injector,
		selectors:   deps.Selectors,
		eventBus:    deps.EventBus,
		tracer:      deps.Tracer,
		logger:      deps.Logger,
		config:      config.withDefaults(),
		running:     make(map[string]context.CancelFunc),
	}

	if e.eventBus == nil {
		e.eventBus = eventbus.Noop{}
	}

	if e.tracer == nil {
		e.tracer = otelhelper.NoopTracer()
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	return e
}

// Execute runs workflow to completion, pause or cancellation and returns the
// final state. Node failures are reported in the state, not as errors.
func (e *Engine) Execute(ctx context.Context, workflow *models.Workflow, opts ExecuteOptions) (*models.ExecutionState, error) {
	r, reg, err := e.prepare(ctx, workflow, opts)
	if err != nil {
		return nil, err
	}

	return e.drive(reg, r, func(ctx context.Context) error {
		return r.walkScope(ctx, workflow.TopLevel())
	}, false), nil
}

// Start persists a pending execution and runs it in the background. The
// execution is registered before Start returns, so it can be cancelled
// right away. The returned state is a snapshot taken before the run began.
func (e *Engine) Start(ctx context.Context, workflow *models.Workflow, opts ExecuteOptions) (*models.ExecutionState, error) {
	r, reg, err := e.prepare(context.WithoutCancel(ctx), workflow, opts)
	if err != nil {
		return nil, err
	}

	snapshot := snapshotOf(r.state)

	go e.drive(reg, r, func(ctx context.Context) error {
		return r.walkScope(ctx, workflow.TopLevel())
	}, false)

	return snapshot, nil
}

func snapshotOf(state *models.ExecutionState) *models.ExecutionState {
	snapshot := *state
	snapshot.Variables = maps.Clone(state.Variables)
	snapshot.Steps = maps.Clone(state.Steps)

	return &snapshot
}

// ExecuteNodes runs only nodeIDs, in the given order, without following edges.
func (e *Engine) ExecuteNodes(ctx context.Context, workflow *models.Workflow, nodeIDs []string, opts ExecuteOptions) ([]models.NodeResult, *models.ExecutionState, error) {
	nodes := make([]*models.Node, 0, len(nodeIDs))

	for _, id := range nodeIDs {
		node := workflow.Node(id)
		if node == nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}

		nodes = append(nodes, node)
	}

	r, reg, err := e.prepare(ctx, workflow, opts)
	if err != nil {
		return nil, nil, err
	}

	state := e.drive(reg, r, func(ctx context.Context) error {
		for _, node := range nodes {
			if err := r.visit(ctx, node); err != nil {
				return err
			}
		}

		return nil
	}, false)

	results := make([]models.NodeResult, 0, len(nodes))
	for _, node := range nodes {
		results = append(results, r.nodeResult(node.ID))
	}

	return results, state, nil
}

// Resume continues a paused execution from the node it paused at, with the
// variables saved at that point.
func (e *Engine) Resume(ctx context.Context, workflow *models.Workflow, executionID string) (*models.ExecutionState, error) {
	r, reg, node, err := e.prepareResume(ctx, workflow, executionID)
	if err != nil {
		return nil, err
	}

	return e.drive(reg, r, func(ctx context.Context) error {
		return r.resumeFrom(ctx, node)
	}, true), nil
}

// StartResume is Resume in the background. Like Start, the execution is
// registered before it returns.
func (e *Engine) StartResume(ctx context.Context, workflow *models.Workflow, executionID string) (*models.ExecutionState, error) {
	r, reg, node, err := e.prepareResume(context.WithoutCancel(ctx), workflow, executionID)
	if err != nil {
		return nil, err
	}

	snapshot := snapshotOf(r.state)
	snapshot.Status = models.ExecutionStatusRunning

	go e.drive(reg, r, func(ctx context.Context) error {
		return r.resumeFrom(ctx, node)
	}, true)

	return snapshot, nil
}

// prepareResume registers executionID first so two resumes of the same
// execution cannot both pass the paused check.
func (e *Engine) prepareResume(ctx context.Context, workflow *models.Workflow, executionID string) (*run, *registration, *models.Node, error) {
	reg, err := e.register(ctx, executionID)
	if err != nil {
		return nil, nil, nil, err
	}

	r, node, err := e.loadPaused(ctx, workflow, executionID)
	if err != nil {
		e.release(reg)
		return nil, nil, nil, err
	}

	return r, reg, node, nil
}

func (e *Engine) loadPaused(ctx context.Context, workflow *models.Workflow, executionID string) (*run, *models.Node, error) {
	state, err := e.persistence.ExecutionRepository().GetByID(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	if state.Status != models.ExecutionStatusPaused {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrNotPaused, executionID, state.Status)
	}

	if state.WorkflowID != workflow.ID() {
		return nil, nil, fmt.Errorf("%w: %s", ErrWorkflowMismatch, state.WorkflowID)
	}

	node := workflow.Node(state.CurrentNodeID)
	if node == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNodeNotFound, state.CurrentNodeID)
	}

	return e.newRun(workflow, state), node, nil
}

// Cancel stops a running execution; it ends in the cancelled state.
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	cancel, ok := e.running[executionID]
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, executionID)
	}

	cancel()

	return nil
}

// Running lists the ids of executions in progress.
func (e *Engine) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := slices.Collect(maps.Keys(e.running))
	slices.Sort(ids)

	return ids
}

func (e *Engine) IsRunning(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.running[executionID]

	return ok
}

// prepare registers the execution and persists it as pending. ctx becomes
// the parent of the run context.
func (e *Engine) prepare(ctx context.Context, workflow *models.Workflow, opts ExecuteOptions) (*run, *registration, error) {
	if workflow == nil || len(workflow.Execution.Workflow.Nodes) == 0 {
		return nil, nil, ErrEmptyWorkflow
	}

	id := opts.ExecutionID
	if id == "" {
		id = uuid.NewString()
	}

	reg, err := e.register(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	pause := workflow.Execution.Config.PauseOnErrors
	if opts.PauseOnErrors != nil {
		pause = *opts.PauseOnErrors
	}

	vars := maps.Clone(workflow.Execution.Variables)
	if vars == nil {
		vars = map[string]any{}
	}

	maps.Copy(vars, opts.Variables)

	now := time.Now().UTC()
	state := &models.ExecutionState{
		ID:            id,
		WorkflowID:    workflow.ID(),
		SessionID:     opts.SessionID,
		Status:        models.ExecutionStatusPending,
		PauseOnErrors: pause,
		Variables:     vars,
		Steps:         map[string]*models.StepState{},
		StartedAt:     now,
		UpdatedAt:     now,
	}

	r := e.newRun(workflow, state)
	r.save(ctx)

	return r, reg, nil
}

// registration is a claimed slot in the running map. Its context is what
// Cancel cancels.
type registration struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

func (e *Engine) register(ctx context.Context, id string) (*registration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.running[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.running[id] = cancel

	return &registration{id: id, ctx: runCtx, cancel: cancel}, nil
}

func (e *Engine) release(reg *registration) {
	reg.cancel()

	e.mu.Lock()
	delete(e.running, reg.id)
	e.mu.Unlock()
}

// drive walks r under reg and releases reg when the walk ends.
func (e *Engine) drive(reg *registration, r *run, walk func(context.Context) error, resumed bool) *models.ExecutionState {
	defer e.release(reg)

	runCtx, span := otelhelper.StartSpan(reg.ctx, e.tracer, "engine.execute",
		attribute.String(otelhelper.WorkflowIDKey, r.state.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, r.state.ID),
	)
	defer span.End()

	r.state.Status = models.ExecutionStatusRunning
	r.state.Error = ""
	r.state.CompletedAt = nil

	r.logger.InfoContext(runCtx, "Execution started", "resumed", resumed, "session_id", r.state.SessionID)
	r.appendLog(runCtx, "", models.LogLevelInfo, "Execution started", map[string]any{"resumed": resumed})
	r.save(runCtx)
	r.publish(runCtx, eventExecutionStarted(r, resumed))

	err := walk(runCtx)
	r.finish(runCtx, err)

	if r.state.Status == models.ExecutionStatusFailed {
		otelhelper.SetError(span, errors.New(r.state.Error))
	}

	return r.state
}
