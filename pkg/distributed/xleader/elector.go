package xleader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/omeyang/xlockkit/pkg/distributed/xlocks"
	"github.com/omeyang/xlockkit/pkg/observability/xlog"
	"github.com/omeyang/xlockkit/pkg/reactive/xref"
)

// ErrNilName 锁名来源为 nil。
var ErrNilName = errors.New("xleader: nil lock name")

// Workload 以 leader 身份执行的工作负载。signal 在失去 leader 身份时取消；
// 平台不支持锁时为永不取消的 context。
type Workload func(signal context.Context)

// hold 一次持锁。release 关闭即主动放弃。
type hold struct {
	signal  context.Context
	gen     uint64
	release chan struct{}
	once    sync.Once
}

func (h *hold) releaseLock() {
	h.once.Do(func() { close(h.release) })
}

// Elector leader 选举器。所有方法并发安全。
type Elector struct {
	name     xref.Readonly[string]
	coord    *xlocks.Coordinator
	opts     *options
	logger   xlog.Logger
	isLeader *xref.Ref[bool]

	// current 当前持有，AsLeader 无锁读取。
	current atomic.Pointer[hold]

	// stateMu 串行化状态转换。
	stateMu  sync.Mutex
	gen      uint64
	lockName string
	cancel   context.CancelFunc
	closed   bool

	// flags 在 stateMu 内按转换顺序入队，在 stateMu 外由单个 goroutine 依次发布到 isLeader。
	flagMu   sync.Mutex
	flags    []bool
	flushing bool
	closing  atomic.Bool

	stopWatch func()
	wg        sync.WaitGroup
	closeOnce sync.Once

	errOnce sync.Once
	err     atomic.Pointer[error]
}

// New 创建 Elector 并立即以 name 的当前值开始竞选。
//
// isLeader 的监听者在内部锁之外执行，可以调用 Name 或修改锁名，不得调用 Close。
func New(platform xlocks.Platform, name xref.Readonly[string], opts ...Option) (*Elector, error) {
	if name == nil {
		return nil, ErrNilName
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	logger := o.logger.With(xlog.Component("xleader"))
	coord, err := xlocks.New(platform,
		xlocks.WithForceRelease(true),
		xlocks.WithLogger(o.logger),
		xlocks.WithObserver(o.observer),
	)
	if err != nil {
		return nil, err
	}

	e := &Elector{
		name:     name,
		coord:    coord,
		opts:     o,
		logger:   logger,
		isLeader: xref.New(false),
	}
	if coord.Supported() {
		e.stopWatch = name.Watch(func(newName, _ string) { e.restart(newName) })
		e.restart(name.Get())
	} else {
		logger.Info(context.Background(), "locks not supported, running every workload unconditionally")
	}
	if o.scope != nil {
		o.scope.OnDispose(func() { _ = e.Close() })
	}
	return e, nil
}

// IsLeader 返回只读的 leader 标志。
func (e *Elector) IsLeader() xref.Readonly[bool] {
	return e.isLeader.Readonly()
}

// Supported 报告平台是否支持锁。
func (e *Elector) Supported() bool {
	return e.coord.Supported()
}

// Name 返回当前竞选的锁名。
func (e *Elector) Name() string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.lockName
}

// Err 返回首个致命错误。
func (e *Elector) Err() error {
	if p := e.err.Load(); p != nil {
		return *p
	}
	return nil
}

// AsLeader 当前为 leader 时以持锁信号同步执行 w 并返回 true，否则返回 false。
// 平台不支持锁时总是执行。不会请求或释放锁。
func (e *Elector) AsLeader(w Workload) bool {
	if w == nil {
		return false
	}
	if !e.coord.Supported() {
		w(context.Background())
		return true
	}
	h := e.current.Load()
	if h == nil {
		return false
	}
	w(h.signal)
	return true
}

// restart 放弃当前持有与排队中的请求，以 name 重新竞选。
func (e *Elector) restart(name string) {
	defer e.publish()
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.closed {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.dropLocked()

	e.gen++
	e.lockName = name
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go e.campaign(ctx, name, e.gen)
}

// dropLocked 释放当前持有并置 isLeader=false，调用方持有 stateMu。
func (e *Elector) dropLocked() {
	if h := e.current.Swap(nil); h != nil {
		h.releaseLock()
	}
	e.queueLocked(false)
}

// queueLocked 记录一次 isLeader 转换，调用方持有 stateMu。
func (e *Elector) queueLocked(v bool) {
	e.flagMu.Lock()
	e.flags = append(e.flags, v)
	e.flagMu.Unlock()
}

// publish 按入队顺序发布 isLeader，调用方不得持有 stateMu。
// 已有 goroutine 在发布时直接返回，由其继续处理新入队的值。
func (e *Elector) publish() {
	e.flagMu.Lock()
	if e.flushing {
		e.flagMu.Unlock()
		return
	}
	e.flushing = true
	for len(e.flags) > 0 {
		v := e.flags[0]
		e.flags = e.flags[1:]
		e.flagMu.Unlock()
		e.isLeader.Set(v && !e.closing.Load())
		e.flagMu.Lock()
	}
	e.flags = nil
	e.flushing = false
	e.flagMu.Unlock()
}

// campaign 持续竞选 name，直到 ctx 取消、协调器关闭或出现致命错误。
func (e *Elector) campaign(ctx context.Context, name string, gen uint64) {
	defer e.wg.Done()
	attrs := xlog.LockName(name)

	for {
		e.logger.Debug(ctx, "contending", attrs)
		_, err := e.coord.Request(ctx, name, func(signal context.Context) (any, error) {
			h := &hold{signal: signal, gen: gen, release: make(chan struct{})}
			if !e.enter(h) {
				return nil, nil
			}
			e.logger.Info(signal, "became leader", attrs)
			select {
			case <-h.release:
			case <-signal.Done():
			}
			e.leave(h)
			return nil, nil
		})
		// 被抢占时 Request 先于回调返回，这里保证不残留 true
		e.leaveGen(gen)

		switch {
		case ctx.Err() != nil:
			return
		case err == nil, errors.Is(err, xlocks.ErrLockStolen):
			if err != nil {
				e.logger.Info(ctx, "leadership lost", attrs, xlog.Err(err))
			}
			select {
			case <-e.coord.Done():
				return
			default:
			}
		case xlocks.IsExpected(err):
			return
		default:
			e.fail(ctx, name, err)
			return
		}
	}
}

// enter 进入 Leading。先释放此前的持有；过期世代的授予直接丢弃。
func (e *Elector) enter(h *hold) bool {
	defer e.publish()
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.closed || h.gen != e.gen {
		return false
	}
	if prev := e.current.Swap(h); prev != nil {
		prev.releaseLock()
		e.queueLocked(false)
	}
	e.queueLocked(true)
	return true
}

func (e *Elector) leave(h *hold) {
	defer e.publish()
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.current.CompareAndSwap(h, nil) {
		e.queueLocked(false)
	}
}

func (e *Elector) leaveGen(gen uint64) {
	defer e.publish()
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if h := e.current.Load(); h != nil && h.gen == gen {
		e.current.Store(nil)
		h.releaseLock()
		e.queueLocked(false)
	}
}

func (e *Elector) fail(ctx context.Context, name string, err error) {
	e.errOnce.Do(func() { e.err.Store(&err) })
	e.logger.Error(ctx, "leader election failed", xlog.LockName(name), xlog.Err(err))
	if e.opts.onError != nil {
		e.opts.onError(err)
	}
}

// Close 停止竞选：停止监听锁名、撤回排队请求、强制释放持有并等待竞选 goroutine 退出。幂等。
func (e *Elector) Close() error {
	e.closeOnce.Do(func() {
		if e.stopWatch != nil {
			e.stopWatch()
		}

		e.closing.Store(true)
		e.stateMu.Lock()
		e.closed = true
		if e.cancel != nil {
			e.cancel()
		}
		e.dropLocked()
		e.stateMu.Unlock()
		e.publish()

		_ = e.coord.Close()
		e.wg.Wait()
		// 其他 goroutine 仍在发布时，closing 保证其后续只会写入 false
		e.isLeader.Set(false)
		e.logger.Debug(context.Background(), "elector closed")
	})
	return nil
}
