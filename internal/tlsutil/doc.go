// Package tlsutil 提供集中式 TLS 配置，
// 用于生成服务与搜索服务的 HTTP 客户端、HTTPS 服务端和 Redis 日志连接（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
