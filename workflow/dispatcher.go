package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// dispatch routes a successful node's output to its successors according to
// the node's edge type.
func (e *Engine) dispatch(ctx context.Context, run *execution, node *WorkflowNode, output any, depth int) nodeOutcome {
	switch node.EdgeType {
	case EdgeParallel:
		return e.dispatchConcurrent(ctx, run, node, output, depth, false)
	case EdgeFanOut:
		return e.dispatchConcurrent(ctx, run, node, output, depth, true)
	case EdgeConditional:
		return e.dispatchConditional(ctx, run, node, output, depth)
	case EdgeFanIn:
		return e.dispatchFanIn(ctx, run, node, depth)
	default:
		return e.dispatchSequential(ctx, run, node, output, depth)
	}
}

// dispatchSequential visits every successor in order with the same input.
// The outcome is the first failing successor's, else the last one's.
func (e *Engine) dispatchSequential(ctx context.Context, run *execution, node *WorkflowNode, output any, depth int) nodeOutcome {
	var last nodeOutcome
	var failed *nodeOutcome
	for _, next := range node.NextIDs {
		o := e.executeNode(ctx, run, next, output, depth+1)
		if !o.success && failed == nil {
			f := o
			failed = &f
		}
		last = o
	}
	if failed != nil {
		return *failed
	}
	return last
}

// dispatchConcurrent starts every successor at once and waits for all of
// them. Branch outcomes are recorded in the log but do not change the
// node's own outcome.
func (e *Engine) dispatchConcurrent(ctx context.Context, run *execution, node *WorkflowNode, output any, depth int, indexed bool) nodeOutcome {
	var g errgroup.Group
	for i, next := range node.NextIDs {
		branchInput := output
		if indexed {
			branchInput = withIndex(output, i)
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("panic in branch",
						zap.String("node_id", node.ID),
						zap.String("branch", next),
						zap.Any("panic", r),
					)
					err = fmt.Errorf("branch %s panicked: %v", next, r)
				}
			}()
			e.executeNode(ctx, run, next, branchInput, depth+1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("concurrent branches finished with error",
			zap.String("node_id", node.ID),
			zap.Error(err),
		)
	}
	return nodeOutcome{success: true, output: output}
}

// dispatchConditional follows NextIDs[0] when the condition holds and
// NextIDs[1] otherwise. A missing branch ends the path with the node's output.
func (e *Engine) dispatchConditional(ctx context.Context, run *execution, node *WorkflowNode, output any, depth int) nodeOutcome {
	matched, err := ParseCondition(node.Condition).Evaluate(output)
	if err != nil {
		e.logger.Debug("condition evaluated to false",
			zap.String("node_id", node.ID),
			zap.String("condition", node.Condition),
			zap.Error(err),
		)
		matched = false
	}

	branch := 1
	if matched {
		branch = 0
	}
	if branch >= len(node.NextIDs) {
		return nodeOutcome{success: true, output: output}
	}
	return e.executeNode(ctx, run, node.NextIDs[branch], output, depth+1)
}

// dispatchFanIn gathers the logged outputs of the listed nodes and feeds
// them, in log order, to the first listed node only.
func (e *Engine) dispatchFanIn(ctx context.Context, run *execution, node *WorkflowNode, depth int) nodeOutcome {
	collected := run.log.OutputsOf(node.NextIDs)
	return e.executeNode(ctx, run, node.NextIDs[0], collected, depth+1)
}

// withIndex tags a fan-out branch input with its position. A map is shallow
// copied and gets an "index" key, nil becomes {index}. Any other value is not
// spread: it is kept whole under "input" next to "index".
func withIndex(output any, index int) any {
	switch v := output.(type) {
	case nil:
		return map[string]any{"index": index}
	case map[string]any:
		merged := make(map[string]any, len(v)+1)
		for k, val := range v {
			merged[k] = val
		}
		merged["index"] = index
		return merged
	default:
		return map[string]any{"input": output, "index": index}
	}
}
