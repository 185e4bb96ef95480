package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRetryController_SucceedsFirstTry(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner().on("a", returns("done"))
	rc := NewRetryController(runner, time.Millisecond, zap.NewNop())

	n := node("a", EdgeSequential)
	n.MaxRetries = 3
	out := rc.Run(context.Background(), &n, "owner", RunContext{Input: "in"})

	assert.True(t, out.Success)
	assert.Equal(t, "done", out.Output)
	assert.Equal(t, 0, out.Retries)
	assert.Equal(t, 1, runner.count("a"))
}

func TestRetryController_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner().on("a", failsTimes(2, "ok"))
	rc := NewRetryController(runner, time.Millisecond, zap.NewNop())

	n := node("a", EdgeSequential)
	n.MaxRetries = 2
	out := rc.Run(context.Background(), &n, "owner", RunContext{})

	assert.True(t, out.Success)
	assert.Equal(t, "ok", out.Output)
	assert.Equal(t, 2, out.Retries)
	assert.Equal(t, 3, runner.count("a"))
}

func TestRetryController_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner().on("a", alwaysFails("boom"))
	rc := NewRetryController(runner, time.Millisecond, zap.NewNop())

	n := node("a", EdgeSequential)
	n.MaxRetries = 2
	out := rc.Run(context.Background(), &n, "owner", RunContext{})

	assert.False(t, out.Success)
	assert.Equal(t, "boom", out.Error)
	assert.Equal(t, 2, out.Retries)
	assert.Equal(t, 3, runner.count("a"))
}

func TestRetryController_FailureMessagePriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp *AgentRunResponse
		err  error
		want string
	}{
		{"go error wins", &AgentRunResponse{Error: "resp"}, errors.New("transport"), "transport"},
		{"response error", &AgentRunResponse{Error: "resp", Data: &TaskExecution{Message: "data"}}, nil, "resp"},
		{"data message", &AgentRunResponse{Success: true, Data: &TaskExecution{Message: "data"}}, nil, "data"},
		{"fallback without data", &AgentRunResponse{Success: true}, nil, "agent execution failed"},
		{"fallback on nil response", nil, nil, "agent execution failed"},
		{"inner failure", &AgentRunResponse{Success: true, Data: &TaskExecution{Success: false}}, nil, "agent execution failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := AgentRunnerFunc(func(context.Context, string, string, RunContext) (*AgentRunResponse, error) {
				return tt.resp, tt.err
			})
			rc := NewRetryController(runner, time.Millisecond, nil)
			n := node("a", EdgeSequential)
			out := rc.Run(context.Background(), &n, "owner", RunContext{})
			assert.False(t, out.Success)
			assert.Equal(t, tt.want, out.Error)
		})
	}
}

func TestRetryController_LinearBackoff(t *testing.T) {
	t.Parallel()

	var stamps []time.Time
	runner := AgentRunnerFunc(func(context.Context, string, string, RunContext) (*AgentRunResponse, error) {
		stamps = append(stamps, time.Now())
		return fail("nope"), nil
	})
	rc := NewRetryController(runner, 20*time.Millisecond, nil)

	n := node("a", EdgeSequential)
	n.MaxRetries = 2
	rc.Run(context.Background(), &n, "owner", RunContext{})

	if assert.Len(t, stamps, 3) {
		assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 20*time.Millisecond)
		assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 40*time.Millisecond)
	}
}

func TestRetryController_ContextCancelStopsBackoff(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner().on("a", alwaysFails("down"))
	rc := NewRetryController(runner, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	n := node("a", EdgeSequential)
	n.MaxRetries = 5
	out := rc.Run(ctx, &n, "owner", RunContext{})

	assert.False(t, out.Success)
	assert.Equal(t, 0, out.Retries)
	assert.Contains(t, out.Error, "down")
	assert.Contains(t, out.Error, "context canceled")
	assert.Equal(t, 1, runner.count("a"))
}

func TestRetryController_TimeoutPerAttempt(t *testing.T) {
	t.Parallel()

	runner := AgentRunnerFunc(func(ctx context.Context, _, _ string, _ RunContext) (*AgentRunResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	rc := NewRetryController(runner, time.Millisecond, nil)

	n := node("a", EdgeSequential)
	n.TimeoutMs = 10
	out := rc.Run(context.Background(), &n, "owner", RunContext{})

	assert.False(t, out.Success)
	assert.Equal(t, context.DeadlineExceeded.Error(), out.Error)
}

func TestRetryController_RunnerPanicIsFailure(t *testing.T) {
	t.Parallel()

	runner := AgentRunnerFunc(func(context.Context, string, string, RunContext) (*AgentRunResponse, error) {
		panic("kaboom")
	})
	rc := NewRetryController(runner, time.Millisecond, nil)

	n := node("a", EdgeSequential)
	n.MaxRetries = 1
	out := rc.Run(context.Background(), &n, "owner", RunContext{})

	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "kaboom")
	assert.Equal(t, 1, out.Retries)
}

func TestRetryController_NegativeMaxRetriesMeansOneAttempt(t *testing.T) {
	t.Parallel()

	runner := newScriptedRunner().on("a", alwaysFails("x"))
	rc := NewRetryController(runner, time.Millisecond, nil)

	n := node("a", EdgeSequential)
	n.MaxRetries = -3
	out := rc.Run(context.Background(), &n, "owner", RunContext{})

	assert.Equal(t, 0, out.Retries)
	assert.Equal(t, 1, runner.count("a"))
}

// For any retry budget and any number of leading failures, the runner is
// called min(failures+1, maxRetries+1) times and retries never exceed the budget.
func TestProperty_RetryBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("attempts are bounded by max_retries+1", prop.ForAll(
		func(maxRetries, failures int) bool {
			runner := newScriptedRunner().on("a", failsTimes(failures, "ok"))
			rc := NewRetryController(runner, time.Microsecond, nil)

			n := node("a", EdgeSequential)
			n.MaxRetries = maxRetries
			out := rc.Run(context.Background(), &n, "owner", RunContext{})

			attempts := runner.count("a")
			if attempts > maxRetries+1 || out.Retries != attempts-1 {
				return false
			}
			if failures <= maxRetries {
				return out.Success && attempts == failures+1
			}
			return !out.Success && attempts == maxRetries+1
		},
		gen.IntRange(0, 4),
		gen.IntRange(0, 6),
	))

	properties.TestingRun(t)
}
