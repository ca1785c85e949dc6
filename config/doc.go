// Package config 提供 inkflow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（INKFLOW_ 前缀）的顺序叠加，
// 覆盖服务器、数据库、Redis、生成服务、网页搜索、工作流预算与检查点上限。
package config
