// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理 Redis 连接。活动日志的 Redis 后端通过 Manager.Client 取得客户端。

# 核心类型

  - Manager：创建时校验连接；可选 TLS（tlsutil.ClientTLSConfig）；
    后台定时 Ping 并记录健康状态，就绪检查通过 Healthy/Ping 读取。
  - Stats：连接池统计。
*/
package cache
