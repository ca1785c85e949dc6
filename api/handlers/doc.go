// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 inkflow HTTP API 的请求处理器实现。

# 概述

处理器把 HTTP 请求一对一映射到工作流协调器、文档存储与检查点存储的操作，
统一以 JSON 响应，错误码映射为 HTTP 状态码。所有 Handler 均遵循标准
net/http 接口，由 Routes.Register 注册到 http.ServeMux。

# 核心类型

  - DocumentHandler    — 创建（同步或异步）、编辑、列表与详情
  - CheckpointHandler  — 检查点创建、查询、恢复与删除
  - ExecutionHandler   — 执行记录查询与 WebSocket 事件流
  - HealthHandler      — 存活与就绪检查（/health, /ready）
  - Response           — 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter     — 包装 http.ResponseWriter 以捕获状态码

# 错误映射

VALIDATION_FAILED → 400，NOT_FOUND → 404，TRANSIENT_INFRA → 503，
TIMEOUT → 504，其余 → 500。失败的执行结果仍在 data 中返回执行 ID。
*/
package handlers
