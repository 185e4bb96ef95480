// =============================================================================
// 🤖 MockAgentRunner - Agent 调用模拟实现
// =============================================================================
// 按 agent 引用编排响应，记录每次调用，支持失败次数与错误注入
//
// 使用方法:
//
//	runner := mocks.NewMockAgentRunner().
//		WithOutput("extract", map[string]any{"ok": true}).
//		WithFailTimes("flaky", 2, "done")
//	engine := workflow.NewEngine(registry, runner, cfg, logger)
// =============================================================================
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentweave/workflow"
)

// RunnerFunc 自定义单个 agent 的响应逻辑，call 为该 agent 的调用序号（从 0 开始）
type RunnerFunc func(ctx context.Context, call int, rc workflow.RunContext) (*workflow.AgentRunResponse, error)

// RunnerCall 记录单次调用
type RunnerCall struct {
	AgentRef string
	OwnerID  string
	Context  workflow.RunContext
}

// MockAgentRunner 是 workflow.AgentRunner 的模拟实现
type MockAgentRunner struct {
	mu sync.Mutex

	scripts map[string]RunnerFunc
	counts  map[string]int
	calls   []RunnerCall

	// 未编排的 agent 原样回显输入
	delay time.Duration
}

// NewMockAgentRunner 创建新的 MockAgentRunner
func NewMockAgentRunner() *MockAgentRunner {
	return &MockAgentRunner{
		scripts: make(map[string]RunnerFunc),
		counts:  make(map[string]int),
	}
}

// --- Builder 方法 ---

// WithFunc 为 agentRef 设置自定义响应函数
func (m *MockAgentRunner) WithFunc(agentRef string, fn RunnerFunc) *MockAgentRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[agentRef] = fn
	return m
}

// WithOutput agentRef 总是成功并返回 output
func (m *MockAgentRunner) WithOutput(agentRef string, output any) *MockAgentRunner {
	return m.WithFunc(agentRef, func(context.Context, int, workflow.RunContext) (*workflow.AgentRunResponse, error) {
		return Succeed(output), nil
	})
}

// WithFailure agentRef 总是以 message 失败
func (m *MockAgentRunner) WithFailure(agentRef, message string) *MockAgentRunner {
	return m.WithFunc(agentRef, func(context.Context, int, workflow.RunContext) (*workflow.AgentRunResponse, error) {
		return Fail(message), nil
	})
}

// WithError agentRef 的调用返回 err
func (m *MockAgentRunner) WithError(agentRef string, err error) *MockAgentRunner {
	return m.WithFunc(agentRef, func(context.Context, int, workflow.RunContext) (*workflow.AgentRunResponse, error) {
		return nil, err
	})
}

// WithFailTimes agentRef 前 n 次调用失败，之后返回 output
func (m *MockAgentRunner) WithFailTimes(agentRef string, n int, output any) *MockAgentRunner {
	return m.WithFunc(agentRef, func(_ context.Context, call int, _ workflow.RunContext) (*workflow.AgentRunResponse, error) {
		if call < n {
			return Fail("transient failure"), nil
		}
		return Succeed(output), nil
	})
}

// WithBlock agentRef 的调用阻塞到 release 关闭或上下文取消；started 非 nil 时在阻塞前发送信号
func (m *MockAgentRunner) WithBlock(agentRef string, started chan<- struct{}, release <-chan struct{}) *MockAgentRunner {
	return m.WithFunc(agentRef, func(ctx context.Context, _ int, rc workflow.RunContext) (*workflow.AgentRunResponse, error) {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-release:
			return Succeed(rc.Input), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// WithDelay 为每次调用增加固定延迟
func (m *MockAgentRunner) WithDelay(d time.Duration) *MockAgentRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// --- workflow.AgentRunner 实现 ---

// Invoke 执行编排的响应
func (m *MockAgentRunner) Invoke(ctx context.Context, agentRef, ownerID string, rc workflow.RunContext) (*workflow.AgentRunResponse, error) {
	m.mu.Lock()
	call := m.counts[agentRef]
	m.counts[agentRef]++
	m.calls = append(m.calls, RunnerCall{AgentRef: agentRef, OwnerID: ownerID, Context: rc})
	script := m.scripts[agentRef]
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if script == nil {
		return Succeed(rc.Input), nil
	}
	return script(ctx, call, rc)
}

// --- 调用记录 ---

// Calls 返回全部调用记录的副本
func (m *MockAgentRunner) Calls() []RunnerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RunnerCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回 agentRef 被调用的次数
func (m *MockAgentRunner) CallCount(agentRef string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[agentRef]
}

// TotalCalls 返回调用总数
func (m *MockAgentRunner) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset 清空调用记录，保留编排
func (m *MockAgentRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.counts = make(map[string]int)
}

// --- 响应构造 ---

// Succeed 构造成功响应
func Succeed(output any) *workflow.AgentRunResponse {
	return &workflow.AgentRunResponse{
		Success: true,
		Data:    &workflow.TaskExecution{Success: true, ExecutionResult: output},
	}
}

// Fail 构造失败响应
func Fail(message string) *workflow.AgentRunResponse {
	return &workflow.AgentRunResponse{Success: false, Error: message}
}
