// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 inkflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 persistence、agent、
workflow、api 等上层模块提供统一的类型契约。

# 核心类型

  - Document / DocumentMetadata — 生成的文章及其创建参数
  - Message                     — 编辑对话的一轮（用户文本 + 助手摘要）
  - Checkpoint                  — 文章内容快照，每篇文章最多保留固定数量
  - DocumentView / Summary      — 查询投影
  - Error / ErrorCode           — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 错误分类

  - NOT_FOUND          — 文档/检查点/消息不存在，不可重试
  - VALIDATION_FAILED  — 请求格式错误，不可重试
  - TRANSIENT_INFRA    — 存储/搜索/生成服务暂不可用，自动重试
  - PIPELINE_FAILURE   — 阶段未能在修正轮次内产出合法结构化结果
*/
package types
