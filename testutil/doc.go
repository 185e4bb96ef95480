// Copyright 2026 AgentWeave Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 AgentWeave 测试的共享工具和辅助函数。

# 概述

testutil 包为 workflow 之外的各包（HTTP 处理器、存储、命令行）提供
统一的测试辅助能力。workflow 包自身的测试使用包内辅助函数，避免循环依赖。

# 核心能力

  - 引擎夹具: NewHarness 组装内存存储、MockAgentRunner、MockAuditSink
    与 EventHub，Harness.Create 注册工作流
  - 执行断言: NodeOrder / AssertNodeOrder / ResultFor
  - 运行事件: CollectEvents 读取到 workflow_complete 为止，EventTypes 提取类型序列
  - TestContext 返回随测试结束取消的上下文

# 子包

  - testutil/mocks: MockAgentRunner（按 agent 引用编排响应与失败次数）、
    MockAuditSink，均支持 Builder 模式与错误注入
  - testutil/fixtures: 常见工作流图（线性、菱形并行、条件分支、扇出扇入）

# 使用示例

	h := testutil.NewHarness(t)
	h.Runner.WithOutput("b", "ok")
	id := h.Create(t, "alice", fixtures.LinearNodes("a", "b"))
	res := h.Engine.ExecuteWorkflow(testutil.TestContext(t), id, "alice", "x")
	testutil.AssertNodeOrder(t, res, "a", "b")
*/
package testutil
