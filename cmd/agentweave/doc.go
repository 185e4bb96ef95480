// Copyright (c) AgentWeave Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentWeave 服务端程序入口。

# 概述

cmd/agentweave 是 AgentWeave 工作流引擎的可执行入口，提供 HTTP API 服务、
数据库迁移、工作流定义校验、健康检查和版本查询等子命令。程序支持 YAML
配置文件与环境变量加载、结构化日志（zap）、Prometheus 指标、OpenTelemetry
链路追踪以及日志级别热重载。

# 核心类型

  - Server：组装存储、审计、执行器与引擎，管理 API 与 Metrics 双端口
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、validate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、CORS、
    Metrics、OTelTracing、RateLimiter（基于 IP）、MaxBodyBytes、OwnerAuth
  - 身份：启用认证时从 JWT 的 sub 读取用户 ID，否则读取配置的请求头
  - 存储：memory / database / redis，统一经过指标包装
  - 审计：log / redis / database 任意组合
  - 优雅关闭：信号触发 context 取消，API 与 Metrics 服务并行退出
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
