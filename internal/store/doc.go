// 版权所有 2024 AgentWeave Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 store 提供 workflow.Store 与 workflow.AgentLookup 的持久化实现。

# 核心类型

  - GormStore：基于 gorm 的工作流存储，表结构与 internal/migration
    中的 workflows 表一致，节点列表与最近一次运行以 JSON 文本保存。
  - RedisStore：基于 internal/cache.Manager 的工作流存储，写入与
    用户索引集合在同一 MULTI/EXEC 事务中完成。
  - GormAgentDirectory：基于 agents 表的 Agent 目录，owner_id 为
    "*" 的记录对所有用户可见。
  - Instrumented：为任意存储记录操作次数与耗时。

所有实现在记录不存在时返回 workflow.ErrWorkflowNotFound。
*/
package store
