// Package xlog 基于 log/slog 的结构化日志库。
//
// # 核心功能
//
//   - Builder 模式配置（输出目标、级别、格式、lumberjack 轮转）
//   - 自动从 context 注入 OTel trace_id/span_id 以及 [ContextWith] 附加的属性
//   - 动态级别调整（运行时热更新）
//   - 全局 Logger 与 [Discard]
//
// # 创建 Logger
//
// Builder 采用 first-error-wins：遇到第一个配置错误后，后续 Set 操作的结果不再生效，
// Build 返回该错误。
//
//	logger, cleanup, err := xlog.New().
//	    SetLevelString("debug").
//	    SetFormat("json").
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
//
// # 锁相关属性
//
// [LockName]、[Mode]、[ClientID]、[Outcome] 为 xlocks/xleader 统一的字段名，
// 便于按锁名聚合检索。
//
// # 派生 Logger 与级别控制
//
// [Logger.With] 和 [Logger.WithGroup] 返回 [Logger]，派生 logger 共享父级的 LevelVar。
package xlog
