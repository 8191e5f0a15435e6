package xlocks

import (
	"context"
	"fmt"
	"strings"

	"github.com/omeyang/xlockkit/pkg/lifecycle/xscope"
	"github.com/omeyang/xlockkit/pkg/observability/xlog"
	"github.com/omeyang/xlockkit/pkg/observability/xmetrics"
)

// Mode 锁模式。
type Mode int

const (
	// ModeExclusive 独占，默认值。
	ModeExclusive Mode = iota
	// ModeShared 共享，与其他 shared 持有者兼容。
	ModeShared
)

// String 返回 "exclusive" 或 "shared"。
func (m Mode) String() string {
	switch m {
	case ModeExclusive:
		return "exclusive"
	case ModeShared:
		return "shared"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode 解析模式字符串，空串视为 exclusive。
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exclusive":
		return ModeExclusive, nil
	case "shared":
		return ModeShared, nil
	default:
		return ModeExclusive, fmt.Errorf("%w: unknown mode %q", ErrInvalidOptions, s)
	}
}

// MarshalText 实现 encoding.TextMarshaler。
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// LockOptions 交给平台的请求参数。
type LockOptions struct {
	Mode        Mode
	IfAvailable bool
	Steal       bool
}

// Validate 校验与取消信号无关的选项组合，平台可复用。
func (o LockOptions) Validate() error {
	switch {
	case o.Mode != ModeExclusive && o.Mode != ModeShared:
		return fmt.Errorf("%w: unknown mode %s", ErrInvalidOptions, o.Mode)
	case o.Steal && o.IfAvailable:
		return fmt.Errorf("%w: steal cannot be combined with ifAvailable", ErrInvalidOptions)
	case o.Steal && o.Mode != ModeExclusive:
		return fmt.Errorf("%w: steal requires exclusive mode", ErrInvalidOptions)
	}
	return nil
}

// validate 额外检查可取消 ctx 与 ifAvailable/steal 的互斥。
func validate(ctx context.Context, o LockOptions) error {
	if ctx.Done() != nil && (o.IfAvailable || o.Steal) {
		return fmt.Errorf("%w: a cancellable context cannot be combined with ifAvailable or steal", ErrInvalidOptions)
	}
	return o.Validate()
}

// RequestOption 单次请求的选项。
type RequestOption func(*LockOptions)

// WithMode 设置锁模式。
func WithMode(m Mode) RequestOption {
	return func(o *LockOptions) { o.Mode = m }
}

// WithShared 等价于 WithMode(ModeShared)。
func WithShared() RequestOption {
	return WithMode(ModeShared)
}

// WithIfAvailable 锁不可立即获得时返回 ErrLockHeld 而不排队。
func WithIfAvailable() RequestOption {
	return func(o *LockOptions) { o.IfAvailable = true }
}

// WithSteal 抢占当前持有者并排到队首。
func WithSteal() RequestOption {
	return func(o *LockOptions) { o.Steal = true }
}

// Option 协调器选项。
type Option func(*options)

type options struct {
	scope        *xscope.Scope
	forceRelease bool
	logger       xlog.Logger
	observer     xmetrics.Observer
}

func defaultOptions() *options {
	return &options{
		logger:   xlog.Discard(),
		observer: xmetrics.NoopObserver{},
	}
}

// WithScope 绑定所属 Scope，Scope 释放时关闭协调器。
func WithScope(s *xscope.Scope) Option {
	return func(o *options) { o.scope = s }
}

// WithForceRelease 关闭时立即以 ErrScopeDisposed 结束持锁中的请求，默认 false。
func WithForceRelease(enable bool) Option {
	return func(o *options) { o.forceRelease = enable }
}

// WithLogger 设置日志记录器，nil 被忽略。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver 设置观测器，nil 被忽略。
func WithObserver(obs xmetrics.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}
