package xdlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/omeyang/xlockkit/pkg/distributed/xlocks"
	"github.com/omeyang/xlockkit/pkg/observability/xlog"
	"github.com/omeyang/xlockkit/pkg/observability/xmetrics"
)

// releaseTimeout 释放锁的独立超时，调用方 ctx 已取消时仍尽力释放。
const releaseTimeout = 5 * time.Second

// backend 分布式后端的最小能力集合。
type backend interface {
	name() string

	// tryAcquire 尝试一次获取，被占用时返回 errBusy。
	tryAcquire(ctx context.Context, key string) (lease, error)

	// evict 删除 key 上的现有持有。
	evict(ctx context.Context, key string) error

	health(ctx context.Context) error
	close() error
}

// lease 一次成功的获取。
type lease interface {
	// lost 在失去所有权后关闭，之后 cause 返回原因。
	lost() <-chan struct{}
	cause() error

	// release 停止续期并释放锁。幂等，失去所有权后调用也安全。
	release(ctx context.Context) error
}

// Platform 基于 Redis、etcd 或 K8s Lease 的 xlocks.Platform 实现，只支持排他锁。
//
// 阻塞请求以指数退避轮询后端直到获得锁或 ctx 取消，不保证 FIFO。
// steal 先删除现有持有再获取；原持有者在下一次续期或 watch 事件时发现失锁，
// 其请求以包装 [ErrLeaseLost] 的错误返回。
type Platform struct {
	b      backend
	opts   *options
	logger xlog.Logger
	cb     *gobreaker.CircuitBreaker[lease]

	ctx       context.Context
	cancel    context.CancelCauseFunc
	closeOnce sync.Once
	closeErr  error
}

var _ xlocks.Platform = (*Platform)(nil)

func newPlatform(b backend, o *options) *Platform {
	ctx, cancel := context.WithCancelCause(context.Background())
	p := &Platform{
		b:      b,
		opts:   o,
		logger: o.logger.With(xlog.Component("xdlock"), slog.String("backend", b.name())),
		ctx:    ctx,
		cancel: cancel,
	}
	if o.breakerFailures > 0 {
		p.cb = gobreaker.NewCircuitBreaker[lease](gobreaker.Settings{
			Name:    "xdlock-" + b.name(),
			Timeout: o.breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= o.breakerFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, errBusy) ||
					errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				p.logger.Warn(context.Background(), "circuit breaker state changed",
					slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
			},
		})
	}
	return p
}

// guard 经熔断器执行一次后端操作。
func (p *Platform) guard(fn func() (lease, error)) (lease, error) {
	if p.cb == nil {
		return fn()
	}
	l, err := p.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return l, err
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Supported 总是返回 true。
func (p *Platform) Supported() bool {
	return true
}

// RequestLock 实现 xlocks.Platform。
func (p *Platform) RequestLock(ctx context.Context, name string, opts xlocks.LockOptions, grant xlocks.GrantFunc) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateKey(name); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.Mode != xlocks.ModeExclusive {
		return ErrModeNotSupported
	}
	if grant == nil {
		return xlocks.ErrNilCallback
	}
	if p.ctx.Err() != nil {
		return ErrPlatformClosed
	}

	l, err := p.acquire(ctx, name, opts)
	if err != nil {
		return err
	}
	if l == nil {
		return grant(ctx, false)
	}
	return p.hold(ctx, name, l, grant)
}

// acquire 按请求选项获取锁。ifAvailable 未获得时返回 (nil, nil)。
func (p *Platform) acquire(ctx context.Context, name string, opts xlocks.LockOptions) (l lease, err error) {
	key := p.opts.keyPrefix + name
	ctx, span := xmetrics.Start(ctx, p.opts.observer, xmetrics.SpanOptions{
		Component: "xdlock",
		Operation: "lock.acquire",
		Kind:      xmetrics.KindClient,
		Attrs: []xmetrics.Attr{
			xmetrics.Backend(p.b.name()),
			xmetrics.LockName(name),
			xmetrics.Bool(xmetrics.AttrIfAvailable, opts.IfAvailable),
			xmetrics.Bool(xmetrics.AttrSteal, opts.Steal),
		},
	})
	defer func() {
		outcome, status := "granted", xmetrics.StatusOK
		switch {
		case err != nil:
			outcome, status = "error", xmetrics.StatusError
		case l == nil:
			outcome = "held"
		}
		span.End(xmetrics.Result{Status: status, Err: err, Attrs: []xmetrics.Attr{xmetrics.Outcome(outcome)}})
	}()

	// 平台关闭时中止等待
	waitCtx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(p.ctx, func() { cancel(ErrPlatformClosed) })
	defer func() {
		stop()
		cancel(nil)
	}()

	attempt := func() (lease, error) {
		return p.guard(func() (lease, error) {
			if opts.Steal {
				if err := p.b.evict(waitCtx, key); err != nil {
					return nil, err
				}
			}
			return p.b.tryAcquire(waitCtx, key)
		})
	}

	if opts.IfAvailable {
		l, err = attempt()
		if errors.Is(err, errBusy) {
			return nil, nil
		}
		return l, err
	}

	l, err = retry.NewWithData[lease](
		retry.Context(waitCtx),
		retry.UntilSucceeded(),
		retry.Delay(p.opts.retryDelay),
		retry.MaxDelay(p.opts.maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errBusy) }),
	).Do(attempt)

	if waitCtx.Err() != nil {
		// 获得与取消竞争时放弃已获得的锁
		if err == nil && l != nil {
			p.release(ctx, name, l)
		}
		return nil, context.Cause(waitCtx)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// hold 在独立 goroutine 中执行 grant，直到其返回或失去锁。
func (p *Platform) hold(ctx context.Context, name string, l lease, grant xlocks.GrantFunc) error {
	lockCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	p.logger.Debug(ctx, "lock acquired", xlog.LockName(name))

	result := make(chan error, 1)
	go func() {
		result <- grant(lockCtx, true)
	}()

	select {
	case err := <-result:
		p.release(ctx, name, l)
		return err
	case <-l.lost():
		cause := l.cause()
		cancel(cause)
		p.logger.Warn(ctx, "lock lost", xlog.LockName(name), xlog.Err(cause))
		p.release(ctx, name, l)
		return cause
	}
}

func (p *Platform) release(ctx context.Context, name string, l lease) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := l.release(rctx); err != nil {
		p.logger.Warn(ctx, "release lock failed", xlog.LockName(name), xlog.Err(err))
	}
}

// Health 检查后端连接。
func (p *Platform) Health(ctx context.Context) error {
	if p.ctx.Err() != nil {
		return ErrPlatformClosed
	}
	return p.b.health(ctx)
}

// Close 关闭平台：中止排队中的请求，之后的请求返回 [ErrPlatformClosed]。
// 已持有的锁在回调结束后照常释放。不关闭调用方传入的客户端。幂等。
func (p *Platform) Close() error {
	p.closeOnce.Do(func() {
		p.cancel(ErrPlatformClosed)
		p.closeErr = p.b.close()
	})
	return p.closeErr
}
