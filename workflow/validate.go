package workflow

import (
	"fmt"

	"github.com/BaSui01/agentweave/types"
)

// ValidateNodes performs the structural checks applied before a workflow is
// stored. Successor ids that name no node are allowed; they fail at run time.
func ValidateNodes(nodes []WorkflowNode) error {
	if len(nodes) == 0 {
		return types.NewValidationError("workflow must have at least one node")
	}

	seen := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			return types.NewValidationError(fmt.Sprintf("node at index %d has an empty id", i))
		}
		if seen[n.ID] {
			return types.NewValidationError(fmt.Sprintf("duplicate node id: %s", n.ID))
		}
		seen[n.ID] = true
		if n.MaxRetries < 0 {
			return types.NewValidationError(fmt.Sprintf("node %s: max_retries must not be negative", n.ID))
		}
		if n.TimeoutMs < 0 {
			return types.NewValidationError(fmt.Sprintf("node %s: timeout_ms must not be negative", n.ID))
		}
	}

	if id, ok := findCycle(nodes); ok {
		return types.NewValidationError(fmt.Sprintf("cycle detected in graph involving node: %s", id))
	}
	return nil
}

// followedIDs returns the successors traversal can actually visit. A fan-in
// node only continues to NextIDs[0]; the rest name nodes whose logged output
// it reads. A conditional node picks one of its first two entries.
func followedIDs(n *WorkflowNode) []string {
	switch n.EdgeType {
	case EdgeFanIn:
		return n.NextIDs[:min(len(n.NextIDs), 1)]
	case EdgeConditional:
		return n.NextIDs[:min(len(n.NextIDs), 2)]
	default:
		return n.NextIDs
	}
}

// findCycle runs a DFS over the followed edges and returns a node on the
// first back edge.
func findCycle(nodes []WorkflowNode) (string, bool) {
	edges := make(map[string][]string, len(nodes))
	for i := range nodes {
		edges[nodes[i].ID] = followedIDs(&nodes[i])
	}

	visited := make(map[string]bool, len(nodes))
	recStack := make(map[string]bool, len(nodes))

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		visited[id] = true
		recStack[id] = true
		for _, next := range edges[id] {
			if _, exists := edges[next]; !exists {
				continue
			}
			if !visited[next] {
				if at, found := visit(next); found {
					return at, true
				}
			} else if recStack[next] {
				return next, true
			}
		}
		recStack[id] = false
		return "", false
	}

	for _, n := range nodes {
		if !visited[n.ID] {
			if at, found := visit(n.ID); found {
				return at, true
			}
		}
	}
	return "", false
}
