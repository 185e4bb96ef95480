// Copyright (c) AgentWeave Authors.
// Licensed under the MIT License.

/*
Package workflow 提供多 Agent 工作流的定义、校验与执行引擎。

# 概述

工作流是由节点组成的有向图，每个节点引用一个可复用的 Agent。执行从
起始节点开始，节点成功后按其边类型把输出交给后继节点：顺序、并行、
条件分支、扇出与扇入。节点失败按线性退避重试，单个工作流同一时刻
只允许一次执行。

# 核心类型

  - Workflow / WorkflowNode：工作流与节点定义
  - Registry：创建（含 Agent 解析与结构校验）、查询、删除、激活
  - Engine：ExecuteWorkflow 执行入口，返回 WorkflowResult
  - ExecutionGuard：同一 workflow id 的执行互斥
  - RetryController：每节点 MaxRetries+1 次尝试，延迟 BaseDelay×次数
  - Condition：条件表达式（>、<、==、真值），失败一律视为 false
  - ResultLog：单次执行私有的节点结果日志
  - RunHistory / EventHub：最近执行记录与实时事件分发

# 协作接口

  - AgentRunner：调用 Agent
  - AgentLookup：创建时校验 Agent 引用
  - AuditSink：审计事件，失败不影响调用方
  - Store：工作流持久化，MemoryStore 为内存实现
*/
package workflow
