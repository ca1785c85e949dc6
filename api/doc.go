// Package api 描述 inkflow 的 HTTP 接口。处理器实现位于 api/handlers。
//
// # 接口
//
// 业务接口均在 /api/v1 之下，请求与响应都是 JSON：
//
//	POST   /api/v1/documents                    创建文档（?async=true 返回 202 与执行 ID）
//	GET    /api/v1/documents?owner_id=          列出文档摘要
//	GET    /api/v1/documents/{id}               文档与对话历史
//	POST   /api/v1/documents/{id}/messages      编辑文档
//	POST   /api/v1/messages/{id}/checkpoint     为对话轮次创建检查点
//	GET    /api/v1/checkpoints/{id}             查询检查点
//	POST   /api/v1/checkpoints/{id}/restore     恢复检查点
//	DELETE /api/v1/checkpoints/{id}             删除检查点
//	GET    /api/v1/executions/{id}              执行记录
//	GET    /api/v1/executions/{id}/events       执行事件流（WebSocket）
//
// 运维接口：GET /health、GET /ready、GET /version、GET /metrics。
//
// # 幂等
//
// 创建与编辑请求可携带 Idempotency-Key 头，其值即执行 ID。
// 同一 ID 重复提交返回已记录的结果，不会再次生成内容。
//
// # 响应
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//	{"success": false, "error": {"code": "NOT_FOUND", "message": "..."}, ...}
package api
