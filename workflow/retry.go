package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultRetryBaseDelay is the linear backoff unit between attempts.
const DefaultRetryBaseDelay = time.Second

const fallbackFailureMessage = "agent execution failed"

// RetryOutcome summarises all attempts made for one node.
type RetryOutcome struct {
	Success bool
	Output  any
	Error   string
	// Retries is the number of attempts beyond the first.
	Retries int
}

// RetryController invokes a node's agent up to MaxRetries+1 times with a
// linear delay of baseDelay × attempts-so-far between attempts.
type RetryController struct {
	runner    AgentRunner
	baseDelay time.Duration
	logger    *zap.Logger
}

// NewRetryController creates a retry controller. A non-positive baseDelay
// falls back to DefaultRetryBaseDelay.
func NewRetryController(runner AgentRunner, baseDelay time.Duration, logger *zap.Logger) *RetryController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}
	return &RetryController{
		runner:    runner,
		baseDelay: baseDelay,
		logger:    logger.With(zap.String("component", "retry_controller")),
	}
}

// Run executes node with rc, retrying on failure.
func (c *RetryController) Run(ctx context.Context, node *WorkflowNode, ownerID string, rc RunContext) RetryOutcome {
	maxRetries := node.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr string
	for attempt := 0; attempt <= maxRetries; attempt++ {
		output, errMsg, ok := c.invokeOnce(ctx, node, ownerID, rc)
		if ok {
			return RetryOutcome{Success: true, Output: output, Retries: attempt}
		}
		lastErr = errMsg

		c.logger.Debug("node attempt failed",
			zap.String("node_id", node.ID),
			zap.String("agent_ref", node.AgentRef),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries+1),
			zap.String("error", errMsg),
		)

		if attempt == maxRetries {
			break
		}
		delay := c.baseDelay * time.Duration(attempt+1)
		select {
		case <-ctx.Done():
			return RetryOutcome{
				Error:   fmt.Sprintf("%s (retry aborted: %v)", lastErr, ctx.Err()),
				Retries: attempt,
			}
		case <-time.After(delay):
		}
	}

	return RetryOutcome{Error: lastErr, Retries: maxRetries}
}

func (c *RetryController) invokeOnce(ctx context.Context, node *WorkflowNode, ownerID string, rc RunContext) (output any, errMsg string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			output, errMsg, ok = nil, fmt.Sprintf("agent runner panicked: %v", r), false
		}
	}()

	if node.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(node.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	resp, err := c.runner.Invoke(ctx, node.AgentRef, ownerID, rc)
	if err == nil && resp != nil && resp.Success && resp.Data != nil && resp.Data.Success {
		return resp.Data.ExecutionResult, "", true
	}
	return nil, failureMessage(resp, err), false
}

func failureMessage(resp *AgentRunResponse, err error) string {
	switch {
	case err != nil:
		return err.Error()
	case resp == nil:
		return fallbackFailureMessage
	case resp.Error != "":
		return resp.Error
	case resp.Data != nil && resp.Data.Message != "":
		return resp.Data.Message
	}
	return fallbackFailureMessage
}
