package workflow

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Sequential
// ---------------------------------------------------------------------------

func TestDispatch_SequentialVisitsAllSuccessors(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner().
		on("A", returns("a")).
		on("B", alwaysFails("b failed")).
		on("C", returns("c"))
	e := newTestEngine(runner)
	id := mustCreate(e, "o",
		node("A", EdgeSequential, "B", "C"),
		node("B", EdgeSequential),
		node("C", EdgeSequential),
	)

	res := e.ExecuteWorkflow(context.Background(), id, "o", nil)
	assert.False(t, res.Success, "first failing successor decides the outcome")
	assert.Equal(t, "b failed", res.Error)
	assert.Equal(t, []string{"A", "B", "C"}, resultIDs(res.NodeResults))
	assert.Equal(t, "a", runner.callsFor("C")[0].RC.Input, "every successor gets the same input")
}

func TestDispatch_SequentialLastOutcomeWins(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner().on("B", returns("b")).on("C", returns("c"))
	e := newTestEngine(runner)
	id := mustCreate(e, "o",
		node("A", EdgeSequential, "B", "C"),
		node("B", EdgeSequential),
		node("C", EdgeSequential),
	)

	res := e.ExecuteWorkflow(context.Background(), id, "o", nil)
	require.True(t, res.Success)
	assert.Equal(t, "c", res.FinalOutput)
}

func TestDispatch_LoopAndUnknownBehaveSequentially(t *testing.T) {
	t.Parallel()

	for _, edge := range []EdgeType{EdgeLoop, EdgeType("round-robin")} {
		runner := newScriptedRunner().on("B", returns("b")).on("C", returns("c"))
		e := newTestEngine(runner)
		id := mustCreate(e, "o",
			node("A", edge, "B", "C"),
			node("B", EdgeSequential),
			node("C", EdgeSequential),
		)

		res := e.ExecuteWorkflow(context.Background(), id, "o", nil)
		require.True(t, res.Success, string(edge))
		assert.Equal(t, []string{"A", "B", "C"}, resultIDs(res.NodeResults))
		assert.Equal(t, "c", res.FinalOutput)
	}
}

// ---------------------------------------------------------------------------
// Parallel and fan-out
// ---------------------------------------------------------------------------

func TestDispatch_ParallelRunsConcurrently(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	slow := func(int, RunContext) (*AgentRunResponse, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		return succeed("branch"), nil
	}
	runner := newScriptedRunner().
		on("A", returns("a-out")).
		on("X", slow).on("Y", slow).
		on("Z", alwaysFails("z failed"))
	e := newTestEngine(runner)
	id := mustCreate(e, "o",
		node("A", EdgeParallel, "X", "Y", "Z"),
		node("X", EdgeSequential),
		node("Y", EdgeSequential),
		node("Z", EdgeSequential),
	)

	res := e.ExecuteWorkflow(context.Background(), id, "o", nil)
	assert.True(t, res.Success, "branch failures do not change the parallel node's outcome")
	assert.Equal(t, "a-out", res.FinalOutput)
	assert.Len(t, res.NodeResults, 4)
	assert.Equal(t, int32(2), peak.Load())
}

func TestDispatch_FanOutIndexes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		output any
		want   func(i int) any
	}{
		{"map output", map[string]any{"topic": "go"}, func(i int) any {
			return map[string]any{"topic": "go", "index": i}
		}},
		{"nil output", nil, func(i int) any { return map[string]any{"index": i} }},
		{"scalar output", "text", func(i int) any {
			return map[string]any{"input": "text", "index": i}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newScriptedRunner().on("A", returns(tt.output))
			e := newTestEngine(runner)
			id := mustCreate(e, "o",
				node("A", EdgeFanOut, "x", "y", "z"),
				node("x", EdgeSequential),
				node("y", EdgeSequential),
				node("z", EdgeSequential),
			)

			res := e.ExecuteWorkflow(context.Background(), id, "o", nil)
			require.True(t, res.Success)
			assert.Len(t, res.NodeResults, 4)
			for i, ref := range []string{"x", "y", "z"} {
				calls := runner.callsFor(ref)
				require.Len(t, calls, 1)
				assert.Equal(t, tt.want(i), calls[0].RC.Input)
			}
		})
	}
}

func TestDispatch_FanOutDoesNotMutateOutput(t *testing.T) {
	t.Parallel()

	out := map[string]any{"k": "v"}
	runner := newScriptedRunner().on("A", returns(out))
	e := newTestEngine(runner)
	id := mustCreate(e, "o", node("A", EdgeFanOut, "x"), node("x", EdgeSequential))

	res := e.ExecuteWorkflow(context.Background(), id, "o", nil)
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"k": "v"}, res.FinalOutput)
}

// ---------------------------------------------------------------------------
// Conditional
// ---------------------------------------------------------------------------

func conditionalWorkflow(e *Engine) string {
	cond := node("judge", EdgeConditional, "yes", "no")
	cond.Condition = "a > b"
	return mustCreate(e, "o", cond, node("yes", EdgeSequential), node("no", EdgeSequential))
}

func TestDispatch_ConditionalRouting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		output map[string]any
		want   string
	}{
		{map[string]any{"a": 5, "b": 3}, "yes"},
		{map[string]any{"a": 3, "b": 5}, "no"},
		{map[string]any{"a": 3}, "no"},
	}
	for _, tt := range tests {
		runner := newScriptedRunner().on("judge", returns(tt.output))
		e := newTestEngine(runner)
		id := conditionalWorkflow(e)

		res := e.ExecuteWorkflow(context.Background(), id, "o", nil)
		require.True(t, res.Success)
		assert.Equal(t, []string{"judge", tt.want}, resultIDs(res.NodeResults))
	}
}

func TestDispatch_ConditionalMissingBranch(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner().on("judge", returns(map[string]any{"ok": false}))
	e := newTestEngine(runner)
	cond := node("judge", EdgeConditional, "yes")
	cond.Condition = "ok"
	id := mustCreate(e, "o", cond, node("yes", EdgeSequential))

	res := e.ExecuteWorkflow(context.Background(), id, "o", nil)
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"ok": false}, res.FinalOutput)
	assert.Equal(t, 0, runner.count("yes"))
}

func TestDispatch_ConditionalEmptyConditionTakesFirst(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner()
	e := newTestEngine(runner)
	id := mustCreate(e, "o", node("judge", EdgeConditional, "yes", "no"), node("yes", EdgeSequential), node("no", EdgeSequential))

	res := e.ExecuteWorkflow(context.Background(), id, "o", nil)
	require.True(t, res.Success)
	assert.Equal(t, 1, runner.count("yes"))
	assert.Equal(t, 0, runner.count("no"))
}

// Exactly one branch runs, and it is the first one iff a > b.
func TestProperty_ConditionalRoutingCorrectness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("conditional nodes route on a > b", prop.ForAll(
		func(a, b int) bool {
			runner := newScriptedRunner().on("judge", returns(map[string]any{"a": a, "b": b}))
			e := newTestEngine(runner)
			id := conditionalWorkflow(e)

			res := e.ExecuteWorkflow(context.Background(), id, "o", nil)
			if !res.Success {
				return false
			}
			yes, no := runner.count("yes"), runner.count("no")
			if a > b {
				return yes == 1 && no == 0
			}
			return yes == 0 && no == 1
		},
		gen.IntRange(-1000, 1000),
		gen.IntRange(-1000, 1000),
	))

	properties.TestingRun(t)
}

// ---------------------------------------------------------------------------
// Fan-in
// ---------------------------------------------------------------------------

func TestDispatch_FanInCollectsInLogOrder(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner().
		on("r1", returns("first")).
		on("r2", returns("second")).
		on("join", returns("joined"))
	e := newTestEngine(runner)
	id := mustCreate(e, "o",
		node("start", EdgeSequential, "r1", "r2", "gather"),
		node("r1", EdgeSequential),
		node("r2", EdgeSequential),
		// Declared order differs from log order on purpose.
		node("gather", EdgeFanIn, "join", "r2", "r1"),
		node("join", EdgeSequential),
	)

	res := e.ExecuteWorkflow(context.Background(), id, "o", nil)
	require.True(t, res.Success)
	assert.Equal(t, "joined", res.FinalOutput)

	calls := runner.callsFor("join")
	require.Len(t, calls, 1)
	assert.Equal(t, []any{"first", "second"}, calls[0].RC.Input)
	assert.Equal(t, 1, runner.count("r1"), "fan-in only runs its first target")
}

func TestDispatch_FanInAfterParallel(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner().
		on("x", returns("x-out")).
		on("y", returns("y-out"))
	e := newTestEngine(runner)
	id := mustCreate(e, "o",
		node("root", EdgeSequential, "split", "gather"),
		node("split", EdgeParallel, "x", "y"),
		node("x", EdgeSequential),
		node("y", EdgeSequential),
		node("gather", EdgeFanIn, "sink", "x", "y"),
		node("sink", EdgeSequential),
	)

	res := e.ExecuteWorkflow(context.Background(), id, "o", nil)
	require.True(t, res.Success)

	input, ok := runner.callsFor("sink")[0].RC.Input.([]any)
	require.True(t, ok)
	got := []string{input[0].(string), input[1].(string)}
	sort.Strings(got)
	assert.Equal(t, []string{"x-out", "y-out"}, got)
}

func TestWithIndex(t *testing.T) {
	t.Parallel()

	assert.Equal(t, map[string]any{"index": 2}, withIndex(nil, 2))
	assert.Equal(t, map[string]any{"input": 7, "index": 0}, withIndex(7, 0))
	assert.Equal(t, map[string]any{"a": 1, "index": 1}, withIndex(map[string]any{"a": 1}, 1))
	assert.Equal(t, map[string]any{"index": 3}, withIndex(map[string]any{"index": 9}, 3))
}
