// =============================================================================
// 🧪 引擎测试夹具
// =============================================================================
// 组装内存存储 + MockAgentRunner + MockAuditSink + EventHub 的引擎，
// 并提供针对执行结果与运行事件的断言
//
// 使用方法:
//
//	h := testutil.NewHarness(t)
//	id := h.Create(t, "alice", fixtures.LinearNodes("a", "b"))
//	res := h.Engine.ExecuteWorkflow(testutil.TestContext(t), id, "alice", "x")
//	testutil.AssertNodeOrder(t, res, "a", "b")
// =============================================================================
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentweave/testutil/mocks"
	"github.com/BaSui01/agentweave/workflow"
)

// Harness 测试用引擎及其协作者
type Harness struct {
	Engine *workflow.Engine
	Runner *mocks.MockAgentRunner
	Audit  *mocks.MockAuditSink
	Hub    *workflow.EventHub
	Store  *workflow.MemoryStore
}

// HarnessOption 调整夹具
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	lookup workflow.AgentLookup
	engine workflow.EngineConfig
	opts   []workflow.EngineOption
}

// WithLookup 为注册表设置 Agent 目录
func WithLookup(lookup workflow.AgentLookup) HarnessOption {
	return func(c *harnessConfig) { c.lookup = lookup }
}

// WithEngineConfig 覆盖引擎配置
func WithEngineConfig(cfg workflow.EngineConfig) HarnessOption {
	return func(c *harnessConfig) { c.engine = cfg }
}

// WithEngineOptions 追加引擎选项
func WithEngineOptions(opts ...workflow.EngineOption) HarnessOption {
	return func(c *harnessConfig) { c.opts = append(c.opts, opts...) }
}

// NewHarness 创建夹具；重试间隔缩短为 1ms
func NewHarness(t testing.TB, opts ...HarnessOption) *Harness {
	t.Helper()

	cfg := harnessConfig{engine: workflow.DefaultEngineConfig()}
	cfg.engine.RetryBaseDelay = time.Millisecond
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Harness{
		Runner: mocks.NewMockAgentRunner(),
		Audit:  mocks.NewMockAuditSink(),
		Hub:    workflow.NewEventHub(64),
		Store:  workflow.NewMemoryStore(),
	}
	registry := workflow.NewRegistry(h.Store, cfg.lookup, h.Audit, zap.NewNop())
	engineOpts := append([]workflow.EngineOption{workflow.WithEventHub(h.Hub)}, cfg.opts...)
	h.Engine = workflow.NewEngine(registry, h.Runner, cfg.engine, zap.NewNop(), engineOpts...)
	return h
}

// Create 注册工作流并返回 ID，失败时终止测试
func (h *Harness) Create(t testing.TB, ownerID string, nodes []workflow.WorkflowNode) string {
	t.Helper()
	res := h.Engine.CreateWorkflow(context.Background(), ownerID, "test", "", nodes)
	require.True(t, res.Success, "create workflow: %s", res.Error)
	return res.WorkflowID
}

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回 30 秒超时的上下文，测试结束时取消
func TestContext(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// 🔍 执行结果断言
// =============================================================================

// NodeOrder 返回结果日志中的节点 ID 顺序
func NodeOrder(result *workflow.WorkflowResult) []string {
	if result == nil {
		return nil
	}
	ids := make([]string, len(result.NodeResults))
	for i, nr := range result.NodeResults {
		ids[i] = nr.NodeID
	}
	return ids
}

// AssertNodeOrder 断言结果日志按给定顺序记录节点
func AssertNodeOrder(t testing.TB, result *workflow.WorkflowResult, expected ...string) {
	t.Helper()
	assert.Equal(t, expected, NodeOrder(result))
}

// ResultFor 返回某节点的执行记录
func ResultFor(result *workflow.WorkflowResult, nodeID string) (workflow.NodeResult, bool) {
	if result != nil {
		for _, nr := range result.NodeResults {
			if nr.NodeID == nodeID {
				return nr, true
			}
		}
	}
	return workflow.NodeResult{}, false
}

// =============================================================================
// 📡 运行事件
// =============================================================================

// CollectEvents 读取事件直到收到 workflow_complete 或超时
func CollectEvents(t testing.TB, events <-chan workflow.RunEvent, timeout time.Duration) []workflow.RunEvent {
	t.Helper()

	deadline := time.After(timeout)
	var out []workflow.RunEvent
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
			if ev.Type == workflow.EventWorkflowComplete {
				return out
			}
		case <-deadline:
			t.Fatalf("no %s event within %v, got %d events", workflow.EventWorkflowComplete, timeout, len(out))
			return out
		}
	}
}

// EventTypes 提取事件类型序列
func EventTypes(events []workflow.RunEvent) []workflow.RunEventType {
	types := make([]workflow.RunEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}
