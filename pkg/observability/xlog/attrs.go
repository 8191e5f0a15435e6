package xlog

import (
	"log/slog"
	"time"
)

// 标准字段名，trace 字段参考 OpenTelemetry Semantic Conventions。
const (
	KeyError     = "error"
	KeyStack     = "stack"
	KeyDuration  = "duration"
	KeyCount     = "count"
	KeyComponent = "component"
	KeyOperation = "operation"
	KeyTraceID   = "trace_id"
	KeySpanID    = "span_id"

	// KeyLockName 锁名
	KeyLockName = "lock.name"
	// KeyLockMode 锁模式（exclusive/shared）
	KeyLockMode = "lock.mode"
	// KeyClientID 锁管理器客户端 ID
	KeyClientID = "lock.client_id"
	// KeyOutcome 锁请求结果
	KeyOutcome = "lock.outcome"
)

// Err 创建错误属性，err 为 nil 时返回会被忽略的空属性
//
//	if err != nil {
//	    logger.Error(ctx, "operation failed", xlog.Err(err))
//	}
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration 创建耗时属性
func Duration(d time.Duration) slog.Attr {
	return slog.String(KeyDuration, d.String())
}

// Component 创建组件名属性
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// Operation 创建操作名属性
func Operation(name string) slog.Attr {
	return slog.String(KeyOperation, name)
}

// Count 创建计数属性
func Count(n int64) slog.Attr {
	return slog.Int64(KeyCount, n)
}

// LockName 创建锁名属性
func LockName(name string) slog.Attr {
	return slog.String(KeyLockName, name)
}

// Mode 创建锁模式属性
func Mode(mode string) slog.Attr {
	return slog.String(KeyLockMode, mode)
}

// ClientID 创建客户端 ID 属性
func ClientID(id string) slog.Attr {
	return slog.String(KeyClientID, id)
}

// Outcome 创建请求结果属性
func Outcome(outcome string) slog.Attr {
	return slog.String(KeyOutcome, outcome)
}
