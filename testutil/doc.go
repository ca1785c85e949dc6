// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 inkflow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextTB / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel
  - 数据工具: MustJSON / MustParseJSON
  - 时钟: StepClock，每次读取前进固定步长，用于严格时间序断言
  - 数据库: NewSQLitePool 打开已迁移的内存 SQLite 连接池

# 子包

  - testutil/mocks: 按阶段脚本化的 MockGenerator 与计数的 MockSearchProvider
*/
package testutil
