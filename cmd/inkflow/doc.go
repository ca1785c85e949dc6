// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 inkflow 服务端程序入口。

# 概述

cmd/inkflow 基于 urfave/cli 提供 HTTP API 服务、数据库迁移、执行恢复、
健康检查和版本查询等子命令。配置来自 YAML 文件与 INKFLOW_ 环境变量，
日志使用 zap，指标通过 /metrics 暴露给 Prometheus。

# 子命令

  - serve     — 启动 HTTP 服务；默认在后台恢复中断的执行
  - migrate   — up / down [n] / status / version
  - recover   — 继续所有 running 状态的执行后退出
  - health    — 请求 /ready 检查服务状态
  - version   — 打印构建信息

# 中间件链

Recovery → RequestID → SecurityHeaders → RequestLogger → RateLimiter
→ OTelTracing → MetricsMiddleware → ServeMux。
MetricsMiddleware 紧贴 ServeMux，以路由模式作为指标标签。

# 构建注入

Version、BuildTime、GitCommit 通过 ldflags 设置。
*/
package main
