package xscope

import (
	"os"
	"syscall"

	"github.com/omeyang/xlockkit/pkg/observability/xlog"
)

// Option 配置 Scope 的选项函数。
type Option func(*options)

type options struct {
	name    string
	logger  xlog.Logger
	signals []os.Signal
}

func defaultOptions() *options {
	return &options{
		name:   "xscope",
		logger: xlog.Discard(),
	}
}

// WithName 设置 Scope 名称，用于日志。默认 "xscope"。
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger 设置日志记录器，nil 被忽略。
func WithLogger(logger xlog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSignals 收到任一信号时释放 Scope。
func WithSignals(signals ...os.Signal) Option {
	// 拷贝，避免调用方后续修改切片
	copied := append([]os.Signal(nil), signals...)
	return func(o *options) {
		o.signals = copied
	}
}

// DefaultSignals 返回常用的退出信号：SIGHUP、SIGINT、SIGTERM、SIGQUIT。
func DefaultSignals() []os.Signal {
	return []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
}
