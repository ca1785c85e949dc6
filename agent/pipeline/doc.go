// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 pipeline 实现写作流水线：一组有固定拓扑的生成阶段，以及约束它们的调用预算。

# 阶段图

  - summary：判断用户消息是否带有需要长期保存的写作偏好
  - instruction：把用户消息扩写为可执行指令，并推断编辑范围
  - orchestrator：依次把控制交给 research / seo / outline / writing，
    最后合成完整文档与改动摘要

专家阶段之间没有边，控制总是回到编排阶段（见 Graph）。

# 预算

Ledger 记录单次执行内每个键的调用次数：

  - web_search：最多 MaxSearchCalls 次，超出后返回 SearchLimitSentinel
  - handoff:<stage>：每个专家最多 MaxStageCalls 次，超出后返回 StageLimitSentinel
  - refine:<stage>：输出校验失败后的细化次数，超出后以 PIPELINE_FAILURE 结束

哨兵文本是正常结果，不是错误，编排阶段会看到它并据此收尾。

# 副作用

Pipeline 不直接访问生成或搜索服务，所有调用都经由 Invoker。
DirectInvoker 直接调用底层服务；工作流包提供的实现会为每次调用
加上超时、重试与日志重放。
*/
package pipeline
