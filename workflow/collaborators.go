package workflow

import (
	"context"
	"time"
)

// RunContext is the payload handed to an agent for one node invocation.
type RunContext struct {
	Input      any    `json:"input"`
	WorkflowID string `json:"workflow_id"`
	NodeID     string `json:"node_id,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

// TaskExecution is the agent-level outcome carried inside AgentRunResponse.
type TaskExecution struct {
	Success         bool   `json:"success"`
	ExecutionResult any    `json:"execution_result,omitempty"`
	Message         string `json:"message,omitempty"`
}

// AgentRunResponse is what an AgentRunner returns for one invocation. The
// invocation succeeded only when Success, Data and Data.Success all hold.
type AgentRunResponse struct {
	Success bool           `json:"success"`
	Data    *TaskExecution `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// AgentRunner invokes an agent on behalf of an owner.
type AgentRunner interface {
	Invoke(ctx context.Context, agentRef, ownerID string, rc RunContext) (*AgentRunResponse, error)
}

// AgentRunnerFunc adapts a function to AgentRunner.
type AgentRunnerFunc func(ctx context.Context, agentRef, ownerID string, rc RunContext) (*AgentRunResponse, error)

// Invoke calls f.
func (f AgentRunnerFunc) Invoke(ctx context.Context, agentRef, ownerID string, rc RunContext) (*AgentRunResponse, error) {
	return f(ctx, agentRef, ownerID, rc)
}

// AgentLookup checks that an agent reference resolves for an owner.
type AgentLookup interface {
	Resolve(ctx context.Context, agentRef, ownerID string) error
}

// AuditSink records user-visible activity. Failures are never fatal to the caller.
type AuditSink interface {
	AppendEvent(ctx context.Context, ownerID, text string, metadata map[string]any) error
}

// NopAuditSink discards every event.
type NopAuditSink struct{}

// AppendEvent implements AuditSink.
func (NopAuditSink) AppendEvent(context.Context, string, string, map[string]any) error { return nil }

// MetricsRecorder receives execution measurements.
type MetricsRecorder interface {
	RecordWorkflowRun(status string, duration time.Duration)
	RecordNodeRun(edgeType string, status string, retries int, duration time.Duration)
	SetInFlight(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordWorkflowRun(string, time.Duration)          {}
func (nopMetrics) RecordNodeRun(string, string, int, time.Duration) {}
func (nopMetrics) SetInFlight(int)                                  {}

// MultiMetrics forwards every measurement to each recorder in order.
type MultiMetrics []MetricsRecorder

func (m MultiMetrics) RecordWorkflowRun(status string, duration time.Duration) {
	for _, r := range m {
		r.RecordWorkflowRun(status, duration)
	}
}

func (m MultiMetrics) RecordNodeRun(edgeType, status string, retries int, duration time.Duration) {
	for _, r := range m {
		r.RecordNodeRun(edgeType, status, retries, duration)
	}
}

func (m MultiMetrics) SetInFlight(n int) {
	for _, r := range m {
		r.SetInFlight(n)
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
