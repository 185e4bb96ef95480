// Package audit 提供 workflow.AuditSink 的多种实现：结构化日志、
// Redis Stream、audit_events 数据库表，以及将它们组合在一起的 MultiSink。
//
// 审计写入失败不会影响调用方，Registry 只记录一条告警日志。
package audit
