// 版权所有 2024 AgentWeave Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 telemetry 初始化 OpenTelemetry SDK，并负责 API 与远端 Agent 之间的
上下文传播。

Init 总会安装 W3C trace-context 与 baggage 传播器，因此即使未启用导出，
入站 traceparent 仍能进入引擎的 span。启用时以 OTLP gRPC 导出 trace 与
指标，资源属性包含 service.instance.id、主机名与部署环境。

每次 Agent 调用前，runner 通过 WithRunBaggage 把工作流 ID、节点 ID 与
运行 ID 写入 baggage，Agent 服务可用 RunFromBaggage 关联调用来源。
*/
package telemetry
