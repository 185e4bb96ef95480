package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentweave/types"
)

// DefaultMaxDepth bounds how many nodes deep a single traversal may recurse.
// A run never uses a bound below its node count, since an acyclic graph
// cannot go deeper than that.
const DefaultMaxDepth = 256

const tracerName = "github.com/BaSui01/agentweave/workflow"

// EngineConfig tunes execution.
type EngineConfig struct {
	RetryBaseDelay time.Duration
	MaxDepth       int
	HistorySize    int
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RetryBaseDelay: DefaultRetryBaseDelay,
		MaxDepth:       DefaultMaxDepth,
		HistorySize:    DefaultHistorySize,
	}
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithEventHub publishes every run event to hub.
func WithEventHub(hub *EventHub) EngineOption {
	return func(e *Engine) { e.hub = hub }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// Engine executes workflows held by a Registry.
type Engine struct {
	registry *Registry
	guard    *ExecutionGuard
	retry    *RetryController
	history  *RunHistory
	hub      *EventHub
	metrics  MetricsRecorder
	tracer   trace.Tracer
	maxDepth int
	logger   *zap.Logger
}

// NewEngine wires an engine around registry and runner.
func NewEngine(registry *Registry, runner AgentRunner, cfg EngineConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	e := &Engine{
		registry: registry,
		guard:    NewExecutionGuard(),
		retry:    NewRetryController(runner, cfg.RetryBaseDelay, logger),
		history:  NewRunHistory(cfg.HistorySize),
		metrics:  nopMetrics{},
		tracer:   otel.Tracer(tracerName),
		maxDepth: cfg.MaxDepth,
		logger:   logger.With(zap.String("component", "workflow_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Guard returns the engine's execution guard.
func (e *Engine) Guard() *ExecutionGuard { return e.guard }

// History returns the engine's run history.
func (e *Engine) History() *RunHistory { return e.history }

// CreateWorkflow registers a workflow. Errors are reported in the result.
func (e *Engine) CreateWorkflow(ctx context.Context, ownerID, name, description string, nodes []WorkflowNode) (res CreateResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while creating workflow", zap.Any("panic", r))
			res = CreateResult{Error: fmt.Sprintf("internal error: %v", r), ErrorCode: types.ErrInternalError}
		}
	}()

	id, err := e.registry.Create(ctx, ownerID, name, description, nodes)
	if err != nil {
		return CreateResult{Error: err.Error(), ErrorCode: types.GetErrorCode(err)}
	}
	return CreateResult{Success: true, WorkflowID: id}
}

// GetWorkflow returns the workflow with id.
func (e *Engine) GetWorkflow(ctx context.Context, id string) (*Workflow, bool) {
	wf, err := e.registry.Get(ctx, id)
	if err != nil {
		return nil, false
	}
	return wf, true
}

// GetUserWorkflows returns the owner's workflows, empty on store failure.
func (e *Engine) GetUserWorkflows(ctx context.Context, ownerID string) []*Workflow {
	wfs, err := e.registry.ListByOwner(ctx, ownerID)
	if err != nil {
		e.logger.Error("failed to list workflows", zap.String("owner_id", ownerID), zap.Error(err))
		return []*Workflow{}
	}
	return wfs
}

// DeleteWorkflow removes an owned workflow and its run history.
func (e *Engine) DeleteWorkflow(ctx context.Context, id, ownerID string) (deleted bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while deleting workflow", zap.Any("panic", r))
			deleted = false
		}
	}()
	if !e.registry.Delete(ctx, id, ownerID) {
		return false
	}
	e.history.Forget(id)
	return true
}

// SetWorkflowActive toggles the active flag of an owned workflow.
func (e *Engine) SetWorkflowActive(ctx context.Context, id, ownerID string, active bool) (*Workflow, error) {
	return e.registry.SetActive(ctx, id, ownerID, active)
}

// Runs returns the recent runs of a workflow, oldest first.
func (e *Engine) Runs(workflowID string) []*WorkflowResult {
	return e.history.ListByWorkflow(workflowID)
}

// execution is the state private to one run.
type execution struct {
	runID    string
	workflow *Workflow
	log      *ResultLog
	emit     func(RunEvent)
	maxDepth int
}

type nodeOutcome struct {
	success bool
	output  any
	err     string
}

// ExecuteWorkflow runs the workflow from its start node. Every failure,
// including a panic, is reported in the returned result.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID, ownerID string, input any) (result *WorkflowResult) {
	start := time.Now()
	result = &WorkflowResult{WorkflowID: workflowID, NodeResults: []NodeResult{}, StartedAt: start}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic during workflow execution",
				zap.String("workflow_id", workflowID),
				zap.Any("panic", r),
			)
			result.Success = false
			result.Error = fmt.Sprintf("internal error: %v", r)
			result.ErrorCode = types.ErrInternalError
			result.TotalExecutionTime = time.Since(start).Milliseconds()
		}
	}()

	wf, err := e.registry.Get(ctx, workflowID)
	if err != nil {
		return e.reject(result, err)
	}
	if wf.OwnerID != ownerID {
		return e.reject(result, types.NewAccessDeniedError("workflow belongs to another owner"))
	}
	if err := e.guard.Enter(workflowID); err != nil {
		return e.reject(result, err)
	}
	defer func() {
		e.guard.Exit(workflowID)
		e.metrics.SetInFlight(e.guard.Len())
	}()
	e.metrics.SetInFlight(e.guard.Len())

	run := &execution{
		runID:    uuid.NewString(),
		workflow: wf,
		log:      NewResultLog(),
		maxDepth: max(e.maxDepth, len(wf.Nodes)),
	}
	result.RunID = run.runID
	run.emit = e.emitterFor(ctx, wf.ID, run.runID)

	ctx = types.WithWorkflowID(ctx, wf.ID)
	ctx = types.WithRunID(ctx, run.runID)
	ctx, span := e.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.id", wf.ID),
		attribute.String("workflow.run_id", run.runID),
		attribute.Int("workflow.nodes", len(wf.Nodes)),
	))
	defer span.End()

	e.logger.Info("starting workflow execution",
		zap.String("workflow_id", wf.ID),
		zap.String("run_id", run.runID),
		zap.String("start_node", wf.StartNodeID),
	)
	run.emit(RunEvent{Type: EventWorkflowStart, Data: input})

	outcome := e.executeNode(ctx, run, wf.StartNodeID, input, 0)

	result.Success = outcome.success
	result.NodeResults = run.log.Snapshot()
	result.FinalOutput = outcome.output
	result.TotalExecutionTime = time.Since(start).Milliseconds()
	if !outcome.success {
		result.Error = outcome.err
		result.ErrorCode = types.ErrAgentExecution
		span.SetStatus(codes.Error, outcome.err)
	}

	e.finish(ctx, run, result)
	return result
}

func (e *Engine) reject(result *WorkflowResult, err error) *WorkflowResult {
	result.Success = false
	result.Error = err.Error()
	result.ErrorCode = types.GetErrorCode(err)
	result.TotalExecutionTime = time.Since(result.StartedAt).Milliseconds()
	e.logger.Debug("workflow execution rejected",
		zap.String("workflow_id", result.WorkflowID),
		zap.String("code", string(result.ErrorCode)),
	)
	return result
}

func (e *Engine) finish(ctx context.Context, run *execution, result *WorkflowResult) {
	duration := time.Since(result.StartedAt)
	e.metrics.RecordWorkflowRun(statusLabel(result.Success), duration)
	e.history.Save(result)

	summary := RunSummary{
		RunID:      run.runID,
		At:         result.StartedAt,
		Success:    result.Success,
		DurationMs: result.TotalExecutionTime,
		Error:      result.Error,
	}
	if err := e.registry.RecordRun(context.WithoutCancel(ctx), run.workflow.ID, summary); err != nil {
		e.logger.Warn("failed to record last run",
			zap.String("workflow_id", run.workflow.ID),
			zap.Error(err),
		)
	}

	run.emit(RunEvent{Type: EventWorkflowComplete, Data: result.FinalOutput, Error: result.Error})

	if result.Success {
		e.logger.Info("workflow execution completed",
			zap.String("workflow_id", run.workflow.ID),
			zap.String("run_id", run.runID),
			zap.Int("node_results", len(result.NodeResults)),
			zap.Int64("duration_ms", result.TotalExecutionTime),
		)
	} else {
		e.logger.Warn("workflow execution failed",
			zap.String("workflow_id", run.workflow.ID),
			zap.String("run_id", run.runID),
			zap.String("error", result.Error),
		)
	}
}

// emitterFor combines the context emitter and the event hub.
func (e *Engine) emitterFor(ctx context.Context, workflowID, runID string) func(RunEvent) {
	ctxEmit, hasCtxEmit := runEventEmitterFromContext(ctx)
	hub := e.hub
	return func(ev RunEvent) {
		ev.WorkflowID = workflowID
		ev.RunID = runID
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		if hasCtxEmit {
			ctxEmit(ev)
		}
		if hub != nil {
			hub.Publish(ev)
		}
	}
}

// executeNode runs one node with retries, logs its result and hands its
// output to the dispatcher.
func (e *Engine) executeNode(ctx context.Context, run *execution, nodeID string, input any, depth int) nodeOutcome {
	if depth > run.maxDepth {
		return nodeOutcome{err: fmt.Sprintf("max traversal depth %d exceeded at node %s", run.maxDepth, nodeID)}
	}
	node, ok := run.workflow.Node(nodeID)
	if !ok {
		return nodeOutcome{err: fmt.Sprintf("node not found: %s", nodeID)}
	}

	ctx, span := e.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("node.id", node.ID),
		attribute.String("node.agent_ref", node.AgentRef),
		attribute.String("node.edge_type", string(node.EdgeType)),
	))
	defer span.End()

	e.logger.Debug("executing node",
		zap.String("node_id", node.ID),
		zap.String("agent_ref", node.AgentRef),
		zap.String("edge_type", string(node.EdgeType)),
	)
	run.emit(RunEvent{Type: EventNodeStart, NodeID: node.ID, NodeName: node.Name})

	started := time.Now()
	ro := e.retry.Run(ctx, node, run.workflow.OwnerID, RunContext{
		Input:      input,
		WorkflowID: run.workflow.ID,
		NodeID:     node.ID,
		RunID:      run.runID,
	})
	elapsed := time.Since(started)

	run.log.Append(NodeResult{
		NodeID:        node.ID,
		AgentRef:      node.AgentRef,
		Success:       ro.Success,
		Output:        ro.Output,
		Error:         ro.Error,
		ExecutionTime: elapsed.Milliseconds(),
		Retries:       ro.Retries,
	})
	e.metrics.RecordNodeRun(string(node.EdgeType), statusLabel(ro.Success), ro.Retries, elapsed)
	span.SetAttributes(attribute.Int("node.retries", ro.Retries))

	if !ro.Success {
		span.SetStatus(codes.Error, ro.Error)
		e.logger.Debug("node failed",
			zap.String("node_id", node.ID),
			zap.Int("retries", ro.Retries),
			zap.String("error", ro.Error),
		)
		run.emit(RunEvent{Type: EventNodeError, NodeID: node.ID, NodeName: node.Name, Retries: ro.Retries, Error: ro.Error})
		return nodeOutcome{err: ro.Error}
	}

	run.emit(RunEvent{Type: EventNodeComplete, NodeID: node.ID, NodeName: node.Name, Retries: ro.Retries, Data: ro.Output})

	if len(node.NextIDs) == 0 {
		return nodeOutcome{success: true, output: ro.Output}
	}
	return e.dispatch(ctx, run, node, ro.Output, depth)
}
