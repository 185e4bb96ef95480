package workflow

import (
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentweave/types"
)

// ExecutionGuard tracks which workflows are currently executing. A workflow
// id may be in flight at most once.
type ExecutionGuard struct {
	mu       sync.Mutex
	inFlight map[string]time.Time
}

// NewExecutionGuard creates an empty guard.
func NewExecutionGuard() *ExecutionGuard {
	return &ExecutionGuard{inFlight: make(map[string]time.Time)}
}

// Enter marks workflowID as running, or returns an ALREADY_RUNNING error.
func (g *ExecutionGuard) Enter(workflowID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, running := g.inFlight[workflowID]; running {
		return types.NewAlreadyRunningError(workflowID)
	}
	g.inFlight[workflowID] = time.Now()
	return nil
}

// Exit releases workflowID. Releasing an id that is not held is a no-op.
func (g *ExecutionGuard) Exit(workflowID string) {
	g.mu.Lock()
	delete(g.inFlight, workflowID)
	g.mu.Unlock()
}

// IsRunning reports whether workflowID is in flight.
func (g *ExecutionGuard) IsRunning(workflowID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inFlight[workflowID]
	return ok
}

// Len returns the number of workflows in flight.
func (g *ExecutionGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}

// InFlight returns the ids currently running, sorted.
func (g *ExecutionGuard) InFlight() []string {
	g.mu.Lock()
	ids := make([]string, 0, len(g.inFlight))
	for id := range g.inFlight {
		ids = append(ids, id)
	}
	g.mu.Unlock()
	sort.Strings(ids)
	return ids
}
