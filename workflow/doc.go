// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供文档创建与编辑的可重放执行引擎。

# 概述

一次执行是一个有限状态机。创建流程：

	start → persist_new_document → build_initial_context → run_pipeline → persist_content

编辑流程：

	start → load_document_context → run_summary_stage → run_instruction_stage
	      → merge_scope_directives → run_pipeline → persist_content
	      → persist_message → [create_checkpoint]

所有副作用（数据库写入、生成服务、网页搜索）都是活动，经 ActivityExecutor
执行。活动结果按 执行 ID/序号/活动名 写入日志；执行中断后重放时，
已完成的活动直接返回日志中的结果，不再触发副作用。

# 核心类型

  - Coordinator        — 提交、重放、恢复执行；并发提交同一执行 ID 只运行一次
  - ActivityExecutor   — 超时、指数退避重试、错误分类、熔断与结果日志
  - Execute            — 泛型活动入口
  - Activities         — 文档、消息、检查点、生成与搜索活动
  - EventBroker        — 按执行 ID 分发状态与活动事件
  - ExecutionHistory   — 进程内活动轨迹
  - CircuitBreaker     — 外部服务活动的熔断器（Closed/Open/HalfOpen）

# 失败

执行从不向调用方返回 error：失败被转换为 Result.Error，带错误码与失败时的状态。
被取消的执行保持 running，由 Coordinator.Recover 从日志继续。
*/
package workflow
