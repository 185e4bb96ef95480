package types

import "context"

// ctxKey 请求范围值的上下文键
type ctxKey uint8

const (
	traceIDKey ctxKey = iota + 1
	ownerIDKey
	runIDKey
	workflowIDKey
)

func withValue(ctx context.Context, k ctxKey, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

// value 取值；空字符串视为未设置
func value(ctx context.Context, k ctxKey) (string, bool) {
	v, _ := ctx.Value(k).(string)
	return v, v != ""
}

// WithTraceID 记录请求的追踪 ID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withValue(ctx, traceIDKey, traceID)
}

// TraceID 返回追踪 ID
func TraceID(ctx context.Context) (string, bool) { return value(ctx, traceIDKey) }

// WithOwnerID 记录已认证的用户
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return withValue(ctx, ownerIDKey, ownerID)
}

// OwnerID 返回已认证的用户
func OwnerID(ctx context.Context) (string, bool) { return value(ctx, ownerIDKey) }

// WithRunID 记录当前执行的 run ID
func WithRunID(ctx context.Context, runID string) context.Context {
	return withValue(ctx, runIDKey, runID)
}

// RunID 返回当前执行的 run ID
func RunID(ctx context.Context) (string, bool) { return value(ctx, runIDKey) }

// WithWorkflowID 记录当前执行的工作流
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return withValue(ctx, workflowIDKey, workflowID)
}

// WorkflowID 返回当前执行的工作流
func WorkflowID(ctx context.Context) (string, bool) { return value(ctx, workflowIDKey) }
