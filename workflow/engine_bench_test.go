package workflow

import (
	"context"
	"fmt"
	"testing"
)

// =============================================================================
// 🚀 引擎基准测试
// =============================================================================
// 运行方式:
//   go test -bench=. -benchmem ./workflow/...

func BenchmarkEngine_ExecuteSequential(b *testing.B) {
	e := newTestEngine(newScriptedRunner())
	id := mustCreate(e, "alice",
		node("a", EdgeSequential, "b"),
		node("b", EdgeSequential, "c"),
		node("c", EdgeSequential),
	)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if res := e.ExecuteWorkflow(ctx, id, "alice", "x"); !res.Success {
			b.Fatalf("run failed: %s", res.Error)
		}
	}
}

func BenchmarkEngine_ExecuteParallel(b *testing.B) {
	for _, width := range []int{2, 8, 32} {
		b.Run(fmt.Sprintf("width_%d", width), func(b *testing.B) {
			e := newTestEngine(newScriptedRunner())
			branches := make([]string, width)
			nodes := make([]WorkflowNode, 0, width+1)
			for i := range branches {
				branches[i] = fmt.Sprintf("n%d", i)
				nodes = append(nodes, node(branches[i], EdgeSequential))
			}
			nodes = append([]WorkflowNode{node("root", EdgeParallel, branches...)}, nodes...)
			id := mustCreate(e, "alice", nodes...)
			ctx := context.Background()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				e.ExecuteWorkflow(ctx, id, "alice", i)
			}
		})
	}
}

// BenchmarkEngine_ConcurrentWorkflows 不同工作流之间并发执行互不阻塞
func BenchmarkEngine_ConcurrentWorkflows(b *testing.B) {
	e := newTestEngine(newScriptedRunner())
	ctx := context.Background()

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		id := mustCreate(e, "alice", node("a", EdgeSequential, "b"), node("b", EdgeSequential))
		for pb.Next() {
			e.ExecuteWorkflow(ctx, id, "alice", "x")
		}
	})
}

func BenchmarkEvaluateCondition(b *testing.B) {
	data := map[string]any{
		"score":     87,
		"threshold": 50,
		"label":     "spam",
		"expected":  "spam",
		"nested":    map[string]any{"ok": true},
	}
	exprs := []string{"score > threshold", "label == expected", "nested.ok", "missing"}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		EvaluateCondition(exprs[i%len(exprs)], data)
	}
}

func BenchmarkValidateNodes(b *testing.B) {
	nodes := make([]WorkflowNode, 100)
	for i := range nodes {
		if i+1 < len(nodes) {
			nodes[i] = node(fmt.Sprintf("n%d", i), EdgeSequential, fmt.Sprintf("n%d", i+1))
		} else {
			nodes[i] = node(fmt.Sprintf("n%d", i), EdgeSequential)
		}
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := ValidateNodes(nodes); err != nil {
			b.Fatal(err)
		}
	}
}
