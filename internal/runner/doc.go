// Package runner 提供基于 HTTP 的 workflow.AgentRunner 实现。
//
// 每次节点调用被发送为 POST {endpoint}/agents/{agent_ref}/run，请求体携带
// owner_id 与 RunContext，响应体即 workflow.AgentRunResponse。调用受
// golang.org/x/time/rate 限流，并在 OpenTelemetry span 中执行，trace-context
// 通过请求头传递给 Agent 服务。
package runner
