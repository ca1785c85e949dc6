// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理。

# 核心类型

  - Manager：封装 net/http.Server 与 net.Listener，提供 Start/Run/Shutdown。
  - Config：监听地址、读写超时、优雅关闭超时与证书路径，
    由 ConfigFromServer 从应用配置转换。

# 行为

  - Start 非阻塞；配置了证书与私钥时以 HTTPS 提供服务，TLS 参数来自 tlsutil。
  - Run 阻塞到 ctx 结束或服务异常退出，随后在 ShutdownTimeout 内优雅关闭。
  - Errors() 返回异步错误通道。
*/
package server
