// 版权所有 2024 AgentWeave Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 持有 Redis 连接，是 Redis 工作流存储与审计流的共同底座。

Manager 只提供这两类使用方需要的操作：

  - GetJSON / MGetJSON：读取单个或批量 JSON 工作流，批量读取用一次 MGET；
  - SetMembers 与 Pipelined：维护用户的工作流 id 集合，写入在 MULTI/EXEC 中完成；
  - StreamAppend / StreamRange：审计事件流的追加与按 ID 分页读取。

所有键通过 Key 拼接统一前缀。后台探活只在 Redis 可用性变化时写日志；
PoolStats 供 internal/metrics 暴露连接池指标。关闭后的任何调用返回 ErrClosed。
*/
package cache
