// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 提供数据库 Schema 迁移管理能力，支持 PostgreSQL、
MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

迁移文件按方言内嵌于 migrations/<dialect>/，包含 documents、
messages、checkpoints 与 workflow_executions 四张表。检查点的
(document_id, created_at) 唯一约束保证同一文档的检查点严格有序；
messages.checkpoint_id 唯一索引保证检查点至多被一条消息引用；
messages.idempotency_key 唯一索引防止重试时重复追加。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/Steps/Version/Status/Info/Close。
  - CLI：inkflow migrate 子命令的终端输出层。
*/
package migration
