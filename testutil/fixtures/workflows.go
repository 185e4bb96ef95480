// =============================================================================
// 📦 测试数据工厂 - 工作流图
// =============================================================================
// 提供常见形状的节点列表，agent 引用与节点 ID 相同
// =============================================================================
package fixtures

import (
	"fmt"

	"github.com/BaSui01/agentweave/workflow"
)

// Node 创建 agent 引用与 ID 相同的节点
func Node(id string, edge workflow.EdgeType, next ...string) workflow.WorkflowNode {
	return workflow.WorkflowNode{
		ID:       id,
		AgentRef: id,
		Name:     id,
		EdgeType: edge,
		NextIDs:  next,
	}
}

// LinearNodes 依次串联的顺序节点
func LinearNodes(ids ...string) []workflow.WorkflowNode {
	nodes := make([]workflow.WorkflowNode, len(ids))
	for i, id := range ids {
		var next []string
		if i+1 < len(ids) {
			next = []string{ids[i+1]}
		}
		nodes[i] = Node(id, workflow.EdgeSequential, next...)
	}
	return nodes
}

// DiamondNodes start 并行分出 left、right，二者顺序汇入 join
func DiamondNodes() []workflow.WorkflowNode {
	return []workflow.WorkflowNode{
		Node("start", workflow.EdgeParallel, "left", "right"),
		Node("left", workflow.EdgeSequential, "join"),
		Node("right", workflow.EdgeSequential, "join"),
		Node("join", workflow.EdgeSequential),
	}
}

// ConditionalNodes check 根据 condition 选择 yes 或 no
func ConditionalNodes(condition string) []workflow.WorkflowNode {
	check := Node("check", workflow.EdgeConditional, "yes", "no")
	check.Condition = condition
	return []workflow.WorkflowNode{
		check,
		Node("yes", workflow.EdgeSequential),
		Node("no", workflow.EdgeSequential),
	}
}

// FanOutNodes split 扇出到 n 个终端 worker
func FanOutNodes(n int) []workflow.WorkflowNode {
	workers := make([]string, n)
	for i := range workers {
		workers[i] = fmt.Sprintf("worker-%d", i)
	}
	nodes := []workflow.WorkflowNode{Node("split", workflow.EdgeFanOut, workers...)}
	for _, w := range workers {
		nodes = append(nodes, Node(w, workflow.EdgeSequential))
	}
	return nodes
}

// GatherNodes a → b → gather，gather 将 a、b 的输出汇总后交给 report
func GatherNodes() []workflow.WorkflowNode {
	return []workflow.WorkflowNode{
		Node("a", workflow.EdgeSequential, "b"),
		Node("b", workflow.EdgeSequential, "gather"),
		Node("gather", workflow.EdgeFanIn, "report", "a", "b"),
		Node("report", workflow.EdgeSequential),
	}
}
