package workflow

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Run events
// =============================================================================

// RunEventType identifies a run event.
type RunEventType string

const (
	// EventWorkflowStart is emitted once a run has passed all admission checks.
	EventWorkflowStart RunEventType = "workflow_start"
	// EventNodeStart is emitted before a node's first attempt.
	EventNodeStart RunEventType = "node_start"
	// EventNodeComplete is emitted after a node succeeds.
	EventNodeComplete RunEventType = "node_complete"
	// EventNodeError is emitted after a node exhausts its retries.
	EventNodeError RunEventType = "node_error"
	// EventWorkflowComplete is emitted when the run finishes, successfully or not.
	EventWorkflowComplete RunEventType = "workflow_complete"
)

// RunEvent describes progress of a single run.
type RunEvent struct {
	Type       RunEventType `json:"type"`
	WorkflowID string       `json:"workflow_id"`
	RunID      string       `json:"run_id"`
	NodeID     string       `json:"node_id,omitempty"`
	NodeName   string       `json:"node_name,omitempty"`
	Retries    int          `json:"retries,omitempty"`
	Data       any          `json:"data,omitempty"`
	Error      string       `json:"error,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// RunEventEmitter receives run events. Parallel branches call it
// concurrently, so implementations must be safe for concurrent use.
type RunEventEmitter func(RunEvent)

type runEventEmitterKey struct{}

// WithRunEventEmitter stores an emitter in the context for ExecuteWorkflow.
func WithRunEventEmitter(ctx context.Context, emitter RunEventEmitter) context.Context {
	if emitter == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runEventEmitterKey{}, emitter)
}

func runEventEmitterFromContext(ctx context.Context) (RunEventEmitter, bool) {
	if ctx == nil {
		return nil, false
	}
	emit, ok := ctx.Value(runEventEmitterKey{}).(RunEventEmitter)
	return emit, ok && emit != nil
}

// =============================================================================
// Event hub
// =============================================================================

// EventHub fans run events out to subscribers keyed by workflow id. Slow
// subscribers lose events rather than blocking execution.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan RunEvent]struct{}
	buffer int
}

// NewEventHub creates a hub whose subscriber channels hold buffer events.
func NewEventHub(buffer int) *EventHub {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventHub{
		subs:   make(map[string]map[chan RunEvent]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of events for workflowID and a function that
// unsubscribes and closes the channel.
func (h *EventHub) Subscribe(workflowID string) (<-chan RunEvent, func()) {
	ch := make(chan RunEvent, h.buffer)
	h.mu.Lock()
	if h.subs[workflowID] == nil {
		h.subs[workflowID] = make(map[chan RunEvent]struct{})
	}
	h.subs[workflowID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[workflowID], ch)
			if len(h.subs[workflowID]) == 0 {
				delete(h.subs, workflowID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber of ev.WorkflowID without blocking.
func (h *EventHub) Publish(ev RunEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.WorkflowID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of subscribers for workflowID.
func (h *EventHub) Subscribers(workflowID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[workflowID])
}
