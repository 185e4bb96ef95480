package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunHistory(t *testing.T) {
	t.Parallel()

	h := NewRunHistory(2)
	base := time.Now()
	h.Save(&WorkflowResult{WorkflowID: "w", RunID: "r1", StartedAt: base})
	h.Save(&WorkflowResult{WorkflowID: "w", RunID: "r2", StartedAt: base.Add(time.Minute)})
	h.Save(&WorkflowResult{WorkflowID: "w", RunID: "r3", StartedAt: base.Add(2 * time.Minute)})
	h.Save(&WorkflowResult{WorkflowID: "other", RunID: "o1", StartedAt: base})
	h.Save(&WorkflowResult{WorkflowID: "w"})

	runs := h.ListByWorkflow("w")
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].RunID)
	assert.Equal(t, "r3", runs[1].RunID)

	_, ok := h.Get("r1")
	assert.False(t, ok, "evicted")
	got, ok := h.Get("o1")
	require.True(t, ok)
	assert.Equal(t, "other", got.WorkflowID)

	assert.Len(t, h.ListByTimeRange(base, base.Add(time.Minute)), 2)

	h.Forget("w")
	assert.Empty(t, h.ListByWorkflow("w"))
}

func TestEventHub(t *testing.T) {
	t.Parallel()

	hub := NewEventHub(1)
	ch, cancel := hub.Subscribe("w")
	assert.Equal(t, 1, hub.Subscribers("w"))

	hub.Publish(RunEvent{WorkflowID: "w", Type: EventNodeStart})
	hub.Publish(RunEvent{WorkflowID: "w", Type: EventNodeComplete})
	hub.Publish(RunEvent{WorkflowID: "other", Type: EventNodeStart})

	ev := <-ch
	assert.Equal(t, EventNodeStart, ev.Type, "full buffers drop newer events")

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers("w"))
}

func TestResultLog_OutputsOf(t *testing.T) {
	t.Parallel()

	log := NewResultLog()
	log.Append(NodeResult{NodeID: "b", Output: 2})
	log.Append(NodeResult{NodeID: "x", Output: 0})
	log.Append(NodeResult{NodeID: "a", Output: 1})

	assert.Equal(t, []any{2, 1}, log.OutputsOf([]string{"a", "b"}))
	assert.Empty(t, log.OutputsOf([]string{"zzz"}))
	assert.Equal(t, 3, log.Len())
}
