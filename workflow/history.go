package workflow

import (
	"sync"
	"time"
)

// DefaultHistorySize is the number of runs kept per workflow.
const DefaultHistorySize = 20

// RunHistory stores and queries recent WorkflowResults, bounded per workflow.
type RunHistory struct {
	runs  map[string][]*WorkflowResult
	limit int
	mu    sync.RWMutex
}

// NewRunHistory creates a history keeping at most limit runs per workflow.
func NewRunHistory(limit int) *RunHistory {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &RunHistory{
		runs:  make(map[string][]*WorkflowResult),
		limit: limit,
	}
}

// Save appends a result, evicting the oldest run when over the limit.
func (h *RunHistory) Save(result *WorkflowResult) {
	if result == nil || result.RunID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	runs := append(h.runs[result.WorkflowID], result)
	if len(runs) > h.limit {
		runs = runs[len(runs)-h.limit:]
	}
	h.runs[result.WorkflowID] = runs
}

// Get retrieves a run by id.
func (h *RunHistory) Get(runID string) (*WorkflowResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, runs := range h.runs {
		for _, r := range runs {
			if r.RunID == runID {
				return r, true
			}
		}
	}
	return nil, false
}

// ListByWorkflow returns the workflow's runs, oldest first.
func (h *RunHistory) ListByWorkflow(workflowID string) []*WorkflowResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*WorkflowResult, len(h.runs[workflowID]))
	copy(out, h.runs[workflowID])
	return out
}

// ListByTimeRange returns runs started within [start, end].
func (h *RunHistory) ListByTimeRange(start, end time.Time) []*WorkflowResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []*WorkflowResult
	for _, runs := range h.runs {
		for _, r := range runs {
			if !r.StartedAt.Before(start) && !r.StartedAt.After(end) {
				result = append(result, r)
			}
		}
	}
	return result
}

// Forget drops every run of workflowID.
func (h *RunHistory) Forget(workflowID string) {
	h.mu.Lock()
	delete(h.runs, workflowID)
	h.mu.Unlock()
}
