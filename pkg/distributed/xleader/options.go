package xleader

import (
	"github.com/omeyang/xlockkit/pkg/lifecycle/xscope"
	"github.com/omeyang/xlockkit/pkg/observability/xlog"
	"github.com/omeyang/xlockkit/pkg/observability/xmetrics"
)

// Option 配置 Elector。
type Option func(*options)

type options struct {
	scope    *xscope.Scope
	logger   xlog.Logger
	observer xmetrics.Observer
	onError  func(error)
}

func defaultOptions() *options {
	return &options{
		logger:   xlog.Discard(),
		observer: xmetrics.NoopObserver{},
	}
}

// WithScope 绑定所属 Scope，Scope 释放时关闭 Elector。
func WithScope(s *xscope.Scope) Option {
	return func(o *options) { o.scope = s }
}

// WithLogger 设置日志记录器，nil 被忽略。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver 设置观测器，透传给内部协调器。
func WithObserver(obs xmetrics.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithErrorHandler 设置致命错误回调，在竞选 goroutine 中同步调用。
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}
