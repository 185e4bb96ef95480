// 版权所有 2024 AgentWeave Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的工作流引擎指标采集能力，覆盖
HTTP、工作流执行、远程 Agent 调用与存储四个维度。

# 概述

Collector 通过 promauto.With(reg) 注册到调用方传入的 Registry，
所有指标以 namespace 为前缀，label 基数保持有界：路径先规范化，
状态码归类为 2xx/3xx/4xx/5xx。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、响应体大小，按 method/path/status 分组。
  - 工作流指标：执行总数与耗时、正在执行的工作流数。
  - 节点指标：按边类型统计执行次数、耗时与重试次数。
  - Runner 指标：远程 Agent 调用次数与耗时。
  - 存储指标：按后端与操作统计次数与耗时；RegisterDBStats 导出连接池状态。
*/
package metrics
