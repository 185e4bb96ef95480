package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Scripted runner
// ---------------------------------------------------------------------------

type agentScript func(call int, rc RunContext) (*AgentRunResponse, error)

type recordedCall struct {
	AgentRef string
	OwnerID  string
	RC       RunContext
}

// scriptedRunner answers invocations per agent ref and records every call.
type scriptedRunner struct {
	mu      sync.Mutex
	scripts map[string]agentScript
	counts  map[string]int
	calls   []recordedCall
	total   atomic.Int32
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		scripts: make(map[string]agentScript),
		counts:  make(map[string]int),
	}
}

func (r *scriptedRunner) on(agentRef string, script agentScript) *scriptedRunner {
	r.mu.Lock()
	r.scripts[agentRef] = script
	r.mu.Unlock()
	return r
}

func (r *scriptedRunner) Invoke(ctx context.Context, agentRef, ownerID string, rc RunContext) (*AgentRunResponse, error) {
	r.total.Add(1)
	r.mu.Lock()
	call := r.counts[agentRef]
	r.counts[agentRef]++
	r.calls = append(r.calls, recordedCall{AgentRef: agentRef, OwnerID: ownerID, RC: rc})
	script := r.scripts[agentRef]
	r.mu.Unlock()

	if script == nil {
		return succeed(rc.Input), nil
	}
	return script(call, rc)
}

func (r *scriptedRunner) callsFor(agentRef string) []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedCall
	for _, c := range r.calls {
		if c.AgentRef == agentRef {
			out = append(out, c)
		}
	}
	return out
}

func (r *scriptedRunner) count(agentRef string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[agentRef]
}

func succeed(output any) *AgentRunResponse {
	return &AgentRunResponse{Success: true, Data: &TaskExecution{Success: true, ExecutionResult: output}}
}

func fail(message string) *AgentRunResponse {
	return &AgentRunResponse{Success: false, Error: message}
}

func returns(output any) agentScript {
	return func(int, RunContext) (*AgentRunResponse, error) { return succeed(output), nil }
}

func alwaysFails(message string) agentScript {
	return func(int, RunContext) (*AgentRunResponse, error) { return fail(message), nil }
}

// failsTimes fails the first n calls and then returns output.
func failsTimes(n int, output any) agentScript {
	return func(call int, _ RunContext) (*AgentRunResponse, error) {
		if call < n {
			return fail("transient"), nil
		}
		return succeed(output), nil
	}
}

// blockUntil holds the call until release is closed.
func blockUntil(release <-chan struct{}, started chan<- struct{}) agentScript {
	return func(int, RunContext) (*AgentRunResponse, error) {
		if started != nil {
			started <- struct{}{}
		}
		<-release
		return succeed("released"), nil
	}
}

// ---------------------------------------------------------------------------
// Audit sink
// ---------------------------------------------------------------------------

type recordingAudit struct {
	mu     sync.Mutex
	events []string
	err    error
	panics bool
}

func (a *recordingAudit) AppendEvent(_ context.Context, ownerID, text string, _ map[string]any) error {
	if a.panics {
		panic("audit exploded")
	}
	a.mu.Lock()
	a.events = append(a.events, ownerID+":"+text)
	a.mu.Unlock()
	return a.err
}

func (a *recordingAudit) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

var errAuditDown = errors.New("audit store unavailable")

// ---------------------------------------------------------------------------
// Builders
// ---------------------------------------------------------------------------

func node(id string, edge EdgeType, next ...string) WorkflowNode {
	return WorkflowNode{ID: id, AgentRef: id, Name: id, EdgeType: edge, NextIDs: next}
}

func testConfig() EngineConfig {
	return EngineConfig{RetryBaseDelay: time.Millisecond, MaxDepth: DefaultMaxDepth, HistorySize: 5}
}

func newTestEngine(runner AgentRunner, opts ...EngineOption) *Engine {
	reg := NewRegistry(NewMemoryStore(), nil, nil, zap.NewNop())
	return NewEngine(reg, runner, testConfig(), zap.NewNop(), opts...)
}

// mustCreate registers nodes for owner and returns the workflow id.
func mustCreate(e *Engine, owner string, nodes ...WorkflowNode) string {
	res := e.CreateWorkflow(context.Background(), owner, "wf", "", nodes)
	if !res.Success {
		panic("create failed: " + res.Error)
	}
	return res.WorkflowID
}

func resultIDs(results []NodeResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.NodeID
	}
	return ids
}

// countingMetrics tallies measurements by kind.
type countingMetrics struct {
	mu        sync.Mutex
	workflows []string
	nodes     []string
	retries   int
	inFlight  []int
}

func (m *countingMetrics) RecordWorkflowRun(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows = append(m.workflows, status)
}

func (m *countingMetrics) RecordNodeRun(edgeType, status string, retries int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = append(m.nodes, edgeType+"/"+status)
	m.retries += retries
}

func (m *countingMetrics) SetInFlight(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = append(m.inFlight, n)
}
