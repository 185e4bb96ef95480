// Copyright (c) AgentWeave Authors.
// Licensed under the MIT License.

/*
Package types 提供 agentweave 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、api、internal
等上层模块提供统一的错误码与 Context 传播约定，以避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - 工作流错误码：VALIDATION_ERROR / NOT_FOUND / ACCESS_DENIED /
    ALREADY_RUNNING / AGENT_EXECUTION_ERROR / CONDITION_EVALUATION_ERROR

# 主要能力

  - 错误构造：NewValidationError / NewNotFoundError / NewAccessDeniedError 等
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - Context 传播：WithTraceID / WithOwnerID / WithRunID / WithWorkflowID
*/
package types
