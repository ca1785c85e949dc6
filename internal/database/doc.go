// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接池管理，支持方言选择、
健康检查与事务重试。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：连接池配置；SQLite 强制单连接。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 方言选择：Dialector 按驱动名返回 postgres、mysql 或纯 Go 的 sqlite 方言。
  - 事务管理：WithTransaction 单次事务，WithTransactionRetry 对死锁、
    序列化失败等瞬时错误指数退避重试。
  - IsTransientError：存储层据此把驱动错误归类为可重试。
*/
package database
