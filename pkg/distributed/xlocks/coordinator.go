package xlocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/omeyang/xlockkit/pkg/observability/xlog"
	"github.com/omeyang/xlockkit/pkg/observability/xmetrics"
)

// Callback 持锁期间执行的回调。ctx 在调用方取消、协调器关闭或锁被抢占时取消。
type Callback func(ctx context.Context) (any, error)

// 请求结果分类，用于日志与指标。
const (
	outcomeGranted  = "granted"
	outcomeHeld     = "held"
	outcomeStolen   = "stolen"
	outcomeDisposed = "disposed"
	outcomeError    = "error"
)

// Coordinator 锁请求协调器。所有方法并发安全。
type Coordinator struct {
	platform  Platform
	supported bool
	opts      *options
	logger    xlog.Logger

	// scopeCtx 代表协调器自身的生命周期，仅在平台支持时创建。
	scopeCtx    context.Context
	scopeCancel context.CancelCauseFunc

	closed    atomic.Bool
	closeOnce sync.Once

	mu     sync.Mutex
	active map[*pending]struct{}
}

// New 创建协调器，平台能力在此探测一次。
func New(platform Platform, opts ...Option) (*Coordinator, error) {
	if platform == nil {
		return nil, ErrNilPlatform
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	c := &Coordinator{
		platform:  platform,
		supported: platform.Supported(),
		opts:      o,
		logger:    o.logger.With(xlog.Component("xlocks")),
		active:    make(map[*pending]struct{}),
	}
	if c.supported {
		c.scopeCtx, c.scopeCancel = context.WithCancelCause(context.Background())
	}
	if o.scope != nil {
		o.scope.OnDispose(func() { _ = c.Close() })
	}
	return c, nil
}

// Supported 报告平台是否支持锁。
func (c *Coordinator) Supported() bool {
	return c.supported
}

// Done 在协调器关闭后关闭；平台不支持时返回 nil。
func (c *Coordinator) Done() <-chan struct{} {
	if c.scopeCtx == nil {
		return nil
	}
	return c.scopeCtx.Done()
}

// Active 返回正在持锁执行回调、且可被强制释放的请求数。
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Request 请求名为 name 的锁并在持有期间执行 fn，返回 fn 的结果。
//
// ctx 可取消时视为携带了取消信号，不能与 WithIfAvailable/WithSteal 同用。
// 错误分类见 [ErrLockHeld]、[ErrLockStolen]、[ErrScopeDisposed]；
// 其他平台错误原样返回。
func (c *Coordinator) Request(ctx context.Context, name string, fn Callback, opts ...RequestOption) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if fn == nil {
		return nil, ErrNilCallback
	}
	var lo LockOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&lo)
		}
	}
	if err := validate(ctx, lo); err != nil {
		return nil, err
	}
	if !c.supported {
		return nil, ErrNotSupported
	}
	if c.closed.Load() {
		return nil, ErrScopeDisposed
	}

	ctx, span := xmetrics.Start(ctx, c.opts.observer, xmetrics.SpanOptions{
		Component: "xlocks",
		Operation: "lock.request",
		Attrs: []xmetrics.Attr{
			xmetrics.LockName(name),
			xmetrics.LockMode(lo.Mode.String()),
			xmetrics.Bool(xmetrics.AttrIfAvailable, lo.IfAvailable),
			xmetrics.Bool(xmetrics.AttrSteal, lo.Steal),
		},
	})

	// 请求 token：调用方 ctx 或协调器关闭任一触发即取消，返回前解除挂接
	reqCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	stopCaller := context.AfterFunc(ctx, func() { cancel(context.Cause(ctx)) })
	stopScope := context.AfterFunc(c.scopeCtx, func() { cancel(ErrScopeDisposed) })
	defer func() {
		stopCaller()
		stopScope()
		cancel(nil)
	}()

	p := newPending()
	perr := c.platform.RequestLock(reqCtx, name, lo, func(lockCtx context.Context, held bool) error {
		if !held {
			p.missed.Store(true)
			return nil
		}
		c.hold(lockCtx, p, fn)
		return nil
	})

	v, outcome, err := c.classify(reqCtx, p, perr)

	status := xmetrics.StatusOK
	if outcome == outcomeError {
		status = xmetrics.StatusError
	}
	span.End(xmetrics.Result{Status: status, Err: err, Attrs: []xmetrics.Attr{xmetrics.Outcome(outcome)}})

	attrs := []slog.Attr{xlog.LockName(name), xlog.Mode(lo.Mode.String()), xlog.Outcome(outcome)}
	switch outcome {
	case outcomeStolen:
		c.logger.Warn(ctx, "lock stolen", append(attrs, xlog.Err(err))...)
	case outcomeError:
		c.logger.Warn(ctx, "lock request failed", append(attrs, xlog.Err(err))...)
	default:
		c.logger.Debug(ctx, "lock request finished", attrs...)
	}
	return v, err
}

// hold 在平台授予锁后执行回调，直到回调结束、被强制释放或被抢占。
func (c *Coordinator) hold(lockCtx context.Context, p *pending, fn Callback) {
	if !c.track(p) {
		p.settle(nil, ErrScopeDisposed)
		return
	}
	defer c.untrack(p)

	go func() {
		v, err := invoke(lockCtx, fn)
		p.settle(v, err)
	}()
	<-p.done
}

// track 标记 p 已获得锁；开启强制释放时加入活跃集合。
// 协调器已关闭且开启强制释放时返回 false，回调不再执行。
func (c *Coordinator) track(p *pending) bool {
	p.granted.Store(true)
	if !c.opts.forceRelease {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return false
	}
	c.active[p] = struct{}{}
	return true
}

func (c *Coordinator) untrack(p *pending) {
	if !c.opts.forceRelease {
		return
	}
	c.mu.Lock()
	delete(c.active, p)
	c.mu.Unlock()
}

// classify 将平台返回值归类为协调协议的结果。
func (c *Coordinator) classify(reqCtx context.Context, p *pending, perr error) (any, string, error) {
	switch {
	case perr == nil && p.missed.Load():
		return nil, outcomeHeld, ErrLockHeld
	case perr == nil && p.granted.Load():
		v, err := p.result()
		if errors.Is(err, ErrScopeDisposed) {
			return nil, outcomeDisposed, ErrScopeDisposed
		}
		return v, outcomeGranted, err
	case perr == nil:
		return nil, outcomeError, ErrNotGranted
	case errors.Is(perr, ErrScopeDisposed):
		p.settle(nil, ErrScopeDisposed)
		return nil, outcomeDisposed, ErrScopeDisposed
	case p.granted.Load() || errors.Is(perr, ErrPreempted):
		// 持锁期间平台中断只可能是抢占，立即返回，不等待回调
		stolen := fmt.Errorf("%w: %w", ErrLockStolen, perr)
		p.settle(nil, stolen)
		return nil, outcomeStolen, stolen
	case reqCtx.Err() != nil:
		return nil, outcomeDisposed, disposedCause(context.Cause(reqCtx))
	default:
		return nil, outcomeError, perr
	}
}

func disposedCause(cause error) error {
	if cause == nil || errors.Is(cause, ErrScopeDisposed) {
		return ErrScopeDisposed
	}
	return fmt.Errorf("%w: %w", ErrScopeDisposed, cause)
}

// Close 关闭协调器：以 ErrScopeDisposed 取消所有请求 token，
// 开启强制释放时立即结束所有持锁中的请求。幂等。
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.scopeCancel != nil {
			c.scopeCancel(ErrScopeDisposed)
		}

		c.mu.Lock()
		active := c.active
		c.active = make(map[*pending]struct{})
		c.mu.Unlock()

		for p := range active {
			p.settle(nil, ErrScopeDisposed)
		}
		if len(active) > 0 {
			c.logger.Debug(context.Background(), "force released active locks",
				xlog.Count(int64(len(active))))
		}
	})
	return nil
}

func invoke(ctx context.Context, fn Callback) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, fmt.Errorf("%w: %v", ErrCallbackPanic, r)
		}
	}()
	return fn(ctx)
}

// pending 一次请求的结算状态，settle 先到先得。
type pending struct {
	granted atomic.Bool
	missed  atomic.Bool

	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

func newPending() *pending {
	return &pending{done: make(chan struct{})}
}

// settle 记录结果，仅首次生效，返回是否生效。
func (p *pending) settle(v any, err error) bool {
	settled := false
	p.once.Do(func() {
		p.value, p.err = v, err
		close(p.done)
		settled = true
	})
	return settled
}

// result 在 done 关闭后读取结果。
func (p *pending) result() (any, error) {
	<-p.done
	return p.value, p.err
}
