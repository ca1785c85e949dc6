// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供基于 GORM 的文档、消息、检查点与工作流执行存储。

# 存储

  - DocumentStore：创建、加载、更新内容（只写非空字段）、按所有者列出摘要、
    文档视图（文档 + 升序消息）。
  - MessageStore：带幂等键的追加、升序列出、最近 N 条、按 ID 批量删除。
  - CheckpointStore：每个文档最多保留 N 个快照；创建、恢复、删除均为单事务。
  - ExecutionStore：记录工作流执行的流程、状态与结果，供崩溃恢复使用。

# 约定

  - 所有时间戳为 UTC 微秒精度；同一文档内消息与检查点的时间戳严格递增。
  - 主键为 ULID；DeriveID 可由种子确定性派生，用于重放安全的创建。
  - gorm.ErrRecordNotFound 映射为 NOT_FOUND，其余驱动错误映射为可重试的
    TRANSIENT_INFRA。
*/
package persistence
