// Package idempotency 提供工作流活动日志的键值存储。
//
// 每个活动完成后以 <execution_id>/<seq>/<activity> 为键记录结果；
// 同一执行被重放或崩溃恢复时，已完成的活动直接返回记录值。
// Redis 实现用于生产（跨进程持久），内存实现用于单节点与测试。
package idempotency
