// Package config 提供 AgentWeave 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 AGENTWEAVE）的顺序加载。
// YAML 解析前展开 ${VAR} 与 ${VAR:-fallback} 占位符，未知键视为错误；
// Validate 以 FieldError 逐项报告问题，Redacted 用于打印生效配置。
// Reloader 轮询配置文件并在变化后重新加载，日志级别可在运行期生效。
package config
