// Package observability 提供可观测性相关的子包。
//
// 子包列表：
//   - xlog: 结构化日志，基于 log/slog 扩展，支持 lumberjack 轮转
//   - xmetrics: 统一可观测性接口（指标、追踪），默认提供 OpenTelemetry 实现
//
// 设计原则：
//   - 遵循 OpenTelemetry 语义规范
//   - 自动从 context 中提取追踪信息注入日志
//   - 锁相关的日志字段与 span 属性使用统一命名
package observability
