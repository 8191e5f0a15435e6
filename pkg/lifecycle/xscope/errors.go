package xscope

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrDisposed Scope 已释放，作为其 context 的取消原因
	ErrDisposed = errors.New("xscope: scope disposed")

	// ErrNilFunc Go 传入了 nil 函数
	ErrNilFunc = errors.New("xscope: nil func")

	// ErrHookPanic OnDispose 钩子 panic
	ErrHookPanic = errors.New("xscope: dispose hook panicked")

	// ErrSignal 因收到系统信号而释放
	ErrSignal = errors.New("xscope: received signal")
)

// SignalError 记录触发释放的信号。
// errors.Is(err, ErrSignal) 与 errors.Is(err, ErrDisposed) 均成立。
type SignalError struct {
	Signal os.Signal
}

// Error 实现 error 接口。
func (e *SignalError) Error() string {
	if e.Signal == nil {
		return "xscope: received signal <nil>"
	}
	return fmt.Sprintf("xscope: received signal %s", e.Signal)
}

// Unwrap 返回 ErrSignal 与 ErrDisposed。
func (e *SignalError) Unwrap() []error {
	return []error{ErrSignal, ErrDisposed}
}
