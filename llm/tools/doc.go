// Package tools 提供流水线可调用的外部工具。
//
// 目前只有网页搜索：WebSearchProvider 抽象搜索后端，TavilyProvider 是
// 基于 HTTP 的实现（x/time/rate 客户端限流），StaticSearchProvider 返回
// 固定结果，用于无搜索密钥的本地运行。调用次数预算由 agent/pipeline 的
// 账本控制，不在这里。
package tools
