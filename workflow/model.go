package workflow

import (
	"time"

	"github.com/BaSui01/agentweave/types"
)

// EdgeType selects how a node hands its output to its successors.
type EdgeType string

const (
	// EdgeSequential visits successors one after another with the same input.
	EdgeSequential EdgeType = "sequential"
	// EdgeParallel runs every successor concurrently and waits for all of them.
	EdgeParallel EdgeType = "parallel"
	// EdgeConditional routes to NextIDs[0] or NextIDs[1] depending on Condition.
	EdgeConditional EdgeType = "conditional"
	// EdgeLoop is reserved; it is dispatched like EdgeSequential.
	EdgeLoop EdgeType = "loop"
	// EdgeFanOut runs every successor concurrently, each with its own index.
	EdgeFanOut EdgeType = "fan-out"
	// EdgeFanIn collects logged outputs of the listed nodes into one input.
	EdgeFanIn EdgeType = "fan-in"
)

// IsKnown reports whether t is one of the declared edge types.
func (t EdgeType) IsKnown() bool {
	switch t {
	case EdgeSequential, EdgeParallel, EdgeConditional, EdgeLoop, EdgeFanOut, EdgeFanIn:
		return true
	}
	return false
}

// WorkflowNode is one step of a workflow graph.
type WorkflowNode struct {
	ID         string   `json:"id" yaml:"id"`
	AgentRef   string   `json:"agent_ref" yaml:"agent_ref"`
	Name       string   `json:"name" yaml:"name"`
	EdgeType   EdgeType `json:"edge_type" yaml:"edge_type"`
	NextIDs    []string `json:"next_ids,omitempty" yaml:"next_ids,omitempty"`
	Condition  string   `json:"condition,omitempty" yaml:"condition,omitempty"`
	MaxRetries int      `json:"max_retries" yaml:"max_retries"`
	TimeoutMs  int      `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// RunSummary describes the most recent execution of a workflow.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	At         time.Time `json:"at"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Workflow is a named, owned graph of agent invocations.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	OwnerID     string         `json:"owner_id"`
	Nodes       []WorkflowNode `json:"nodes"`
	StartNodeID string         `json:"start_node_id"`
	IsActive    bool           `json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	LastRun     *RunSummary    `json:"last_run,omitempty"`
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (*WorkflowNode, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so stored workflows are never shared with callers.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	c := *w
	c.Nodes = cloneNodes(w.Nodes)
	if w.LastRun != nil {
		lr := *w.LastRun
		c.LastRun = &lr
	}
	return &c
}

func cloneNodes(nodes []WorkflowNode) []WorkflowNode {
	if nodes == nil {
		return nil
	}
	out := make([]WorkflowNode, len(nodes))
	for i, n := range nodes {
		out[i] = n
		if n.NextIDs != nil {
			out[i].NextIDs = append([]string(nil), n.NextIDs...)
		}
	}
	return out
}

// NodeResult is one entry of a run's result log.
type NodeResult struct {
	NodeID        string `json:"node_id"`
	AgentRef      string `json:"agent_ref"`
	Success       bool   `json:"success"`
	Output        any    `json:"output,omitempty"`
	Error         string `json:"error,omitempty"`
	ExecutionTime int64  `json:"execution_time_ms"`
	Retries       int    `json:"retries"`
}

// WorkflowResult is the outcome of ExecuteWorkflow. Failures are reported
// here rather than as Go errors.
type WorkflowResult struct {
	WorkflowID         string          `json:"workflow_id"`
	RunID              string          `json:"run_id,omitempty"`
	Success            bool            `json:"success"`
	NodeResults        []NodeResult    `json:"node_results"`
	FinalOutput        any             `json:"final_output,omitempty"`
	TotalExecutionTime int64           `json:"total_execution_time_ms"`
	Error              string          `json:"error,omitempty"`
	ErrorCode          types.ErrorCode `json:"error_code,omitempty"`
	StartedAt          time.Time       `json:"started_at"`
}

// CreateResult is the outcome of CreateWorkflow.
type CreateResult struct {
	Success    bool            `json:"success"`
	WorkflowID string          `json:"workflow_id,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  types.ErrorCode `json:"error_code,omitempty"`
}
