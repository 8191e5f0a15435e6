package xlog

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
)

// 全局 Logger 面向 CLI 与测试等简单场景；库代码通过 Option 注入 Logger。
var globalLogger atomic.Pointer[LoggerWithLevel]

// Default 返回全局 Logger，首次调用时惰性创建（stderr、Info、text）。
func Default() LoggerWithLevel {
	if l := globalLogger.Load(); l != nil {
		return *l
	}
	l, _, err := New().Build()
	if err != nil {
		// 默认参数不会出错；兜底为不带 enrich 的 text logger
		lv := new(slog.LevelVar)
		l = newXLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: lv}), lv, nil, false)
	}
	if globalLogger.CompareAndSwap(nil, &l) {
		return l
	}
	return *globalLogger.Load()
}

// SetDefault 替换全局 Logger，nil 被忽略
func SetDefault(l LoggerWithLevel) {
	if l == nil {
		return
	}
	globalLogger.Store(&l)
}

// ResetDefault 清除全局 Logger，下次 Default 时重新创建
func ResetDefault() {
	globalLogger.Store(nil)
}

// Discard 返回丢弃所有输出的 Logger，用作组件未注入 Logger 时的默认值。
func Discard() LoggerWithLevel {
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelError + 4)
	return newXLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: lv}), lv, nil, false)
}

// 调用链：业务代码 → xlog.Info → globalEmit → emit → runtime.Callers
const globalSkip = 4

func globalEmit(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	l := Default()
	if x, ok := l.(*xlogger); ok {
		x.emit(ctx, level, msg, attrs, globalSkip)
		return
	}
	switch level {
	case slog.LevelDebug:
		l.Debug(ctx, msg, attrs...)
	case slog.LevelWarn:
		l.Warn(ctx, msg, attrs...)
	case slog.LevelError:
		l.Error(ctx, msg, attrs...)
	default:
		l.Info(ctx, msg, attrs...)
	}
}

// Debug 使用全局 Logger 记录 Debug 日志
func Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	globalEmit(ctx, slog.LevelDebug, msg, attrs)
}

// Info 使用全局 Logger 记录 Info 日志
func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	globalEmit(ctx, slog.LevelInfo, msg, attrs)
}

// Warn 使用全局 Logger 记录 Warn 日志
func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	globalEmit(ctx, slog.LevelWarn, msg, attrs)
}

// Error 使用全局 Logger 记录 Error 日志
func Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	globalEmit(ctx, slog.LevelError, msg, attrs)
}
