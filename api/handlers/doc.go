// Copyright (c) AgentWeave Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentWeave HTTP API 的请求处理器实现。

# 概述

handlers 包实现工作流 CRUD、同步执行、执行历史、WebSocket 事件流
与健康检查端点，以及统一的响应/错误处理。所有 Handler 均遵循标准
net/http 接口，工作流路由使用 Go 1.22 ServeMux 的方法与路径参数模式。

# 核心类型

  - WorkflowHandler：工作流 CRUD、执行、执行历史与事件流
  - WorkflowService：处理器依赖的引擎能力，*workflow.Engine 实现
  - HealthHandler：服务健康检查（/health, /healthz, /ready, /version）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、retryable 标记
  - StreamMessage：WebSocket 推送消息（event / result / error）
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码与响应大小

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteAnyError / WriteJSON，
    响应信封回显 X-Request-ID 为 request_id
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码映射（ALREADY_RUNNING → 409，ACCESS_DENIED → 403 等）
  - 用户隔离：他人的工作流按不存在处理
  - WebSocket：执行模式逐条推送运行事件并以最终结果收尾；watch 模式订阅 EventHub
  - 可扩展健康检查：RegisterCheck 注册关键依赖，RegisterOptionalCheck 注册
    可选依赖；仅可选依赖失败时状态为 degraded，仍返回 200
*/
package handlers
