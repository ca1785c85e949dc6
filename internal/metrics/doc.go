// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、工作流执行、
活动重试、流水线阶段、调用预算、检查点操作、生成请求与数据库连接。

# 核心类型

  - Collector：持有各业务域的 Counter、Histogram、Gauge 向量。
    NewCollector 注册到默认 Registry（/metrics 端点直接暴露），
    NewCollectorWith 注册到指定 Registerer，测试用独立 Registry。

# 约定

  - 所有 Record 方法对 nil *Collector 安全，未启用指标时直接传 nil。
  - HTTP 状态码归类为 2xx/3xx/4xx/5xx，避免 label 基数膨胀。
  - 活动尝试 outcome 取 ok / retryable / fatal。
*/
package metrics
