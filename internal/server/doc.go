// 版权所有 2024 AgentWeave Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 API 与 metrics 端口的 http.Server 生命周期。

# 请求上下文

Manager 为所有请求提供同一个基础上下文（http.Server.BaseContext）。
同步执行接口与 WebSocket 流均以 r.Context() 驱动工作流，因此取消
基础上下文即可让仍在运行的执行退出。

# 分阶段关闭

  1. 停止接收新连接，等待进行中的请求在 ShutdownTimeout 内完成；
  2. 超时后取消基础上下文并调用 Close 强制断开，返回 ErrDrainTimeout；
  3. 无论是否超时，关闭结束时基础上下文都会被取消，被劫持的
     WebSocket 连接不受 Shutdown 跟踪，依赖这一步释放。

ActiveConnections 通过 ConnState 钩子统计未被劫持的连接，关闭时写入日志。

# 其他

  - Run 阻塞到 ctx 取消或服务异常退出，随后执行关闭；配合
    signal.NotifyContext 处理 SIGINT/SIGTERM。
  - Config 中同时设置 CertFile 与 KeyFile 时以 HTTPS 启动，TLS 参数
    来自 internal/tlsutil。
*/
package server
