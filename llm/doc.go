// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供生成服务的接入层。

# 核心接口

  - [Generator]：按阶段说明 + 对话历史 + 输入生成结构化（JSON）输出
  - [OpenAIGenerator]：基于 openai-go 的实现，使用 JSON object 输出格式
  - [MapHTTPError]：把上游 HTTP 状态码映射为 types.Error，决定是否可重试

# 子包

  - retry：活动执行器使用的指数退避重试策略
  - tokenizer：提示词 token 计数（tiktoken，离线时回落到估算）
  - tools：网页搜索服务
*/
package llm
