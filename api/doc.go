// Package api 汇总 AgentWeave HTTP API 的约定，处理器实现位于 api/handlers。
//
// # API 概览
//
// 工作流接口（均需用户身份）:
//   - POST   /v1/workflows                创建工作流
//   - GET    /v1/workflows                列出当前用户的工作流
//   - GET    /v1/workflows/{id}           获取工作流
//   - PATCH  /v1/workflows/{id}           切换启用状态
//   - DELETE /v1/workflows/{id}           删除工作流
//   - POST   /v1/workflows/{id}/execute   同步执行
//   - GET    /v1/workflows/{id}/runs      最近的执行记录
//   - GET    /v1/workflows/{id}/stream    WebSocket 执行并推送事件
//
// 运维接口: /health、/healthz、/ready、/version；Prometheus 指标在独立端口的 /metrics。
//
// # 认证
//
// 启用 JWT 时用户 ID 取自 Bearer Token 的 sub 声明:
//
//	Authorization: Bearer <token>
//
// 未启用时从请求头读取（默认 X-Owner-ID）。
//
// # 响应格式
//
// 所有 JSON 响应使用统一信封:
//
//	{"success": true, "data": {...}, "timestamp": "..."}
//	{"success": false, "error": {"code": "NOT_FOUND", "message": "..."}, "timestamp": "..."}
//
// # 生成文档
//
//	swag init -g cmd/agentweave/main.go -o api --parseDependency --parseInternal
package api
