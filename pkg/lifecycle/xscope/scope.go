package xscope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xlockkit/pkg/observability/xlog"
)

// Scope 可释放的作用域。所有方法并发安全。
type Scope struct {
	opts   *options
	ctx    context.Context
	cancel context.CancelCauseFunc
	eg     errgroup.Group

	mu       sync.Mutex
	disposed bool
	nextHook uint64
	hooks    map[uint64]func()

	once       sync.Once
	err        error
	stopParent func() bool
	stopSignal func()
}

// New 创建 Scope。parent 取消时 Scope 随之释放；parent 为 nil 时视为 context.Background()。
func New(parent context.Context, opts ...Option) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	// 设计决策: 脱离 parent 的取消链，由 AfterFunc 触发 dispose，
	// 保证 Context() 的 cause 始终可以用 errors.Is(cause, ErrDisposed) 识别。
	ctx, cancel := context.WithCancelCause(context.WithoutCancel(parent))
	s := &Scope{opts: o, ctx: ctx, cancel: cancel, hooks: make(map[uint64]func())}

	s.stopParent = context.AfterFunc(parent, func() {
		s.dispose(fmt.Errorf("%w: %w", ErrDisposed, context.Cause(parent)))
	})
	if len(o.signals) > 0 {
		s.watchSignals(o.signals)
	}
	return s
}

func (s *Scope) watchSignals(sigs []os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	s.stopSignal = func() { signal.Stop(ch) }
	go func() {
		select {
		case sig := <-ch:
			s.opts.logger.Info(s.ctx, "signal received, disposing scope",
				slog.String("scope", s.opts.name), slog.String("signal", sig.String()))
			s.dispose(&SignalError{Signal: sig})
		case <-s.ctx.Done():
		}
	}()
}

// Name 返回 Scope 名称。
func (s *Scope) Name() string {
	return s.opts.name
}

// Context 返回 Scope 的 context，释放后以 ErrDisposed（或包装它的错误）为 cause 取消。
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Done 等价于 Context().Done()。
func (s *Scope) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Disposed 报告 Scope 是否已开始释放。
func (s *Scope) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// OnDispose 注册释放钩子，释放时按注册逆序执行。
// Scope 已释放时立即在当前 goroutine 执行 fn 并返回 false。
func (s *Scope) OnDispose(fn func()) bool {
	_, ok := s.addHook(fn)
	return ok
}

// addHook 注册钩子并返回注销函数，注销后释放时不再执行。
func (s *Scope) addHook(fn func()) (remove func(), ok bool) {
	if fn == nil {
		return func() {}, false
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		_ = runHook(fn)
		return func() {}, false
	}
	id := s.nextHook
	s.nextHook++
	s.hooks[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.hooks, id)
		s.mu.Unlock()
	}, true
}

// hookCount 返回未执行的钩子数。
func (s *Scope) hookCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hooks)
}

// Go 在 Scope 内启动 goroutine，Dispose 会等待其退出。
// fn 的返回错误汇总到 Dispose 的返回值中，fn 内不得调用 Dispose。
// Scope 已释放时不启动并返回 false。
func (s *Scope) Go(fn func(ctx context.Context) error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	s.eg.Go(func() error {
		if fn == nil {
			return ErrNilFunc
		}
		return fn(s.ctx)
	})
	return true
}

// Child 创建子 Scope：父 Scope 释放时子 Scope 一同释放，子 Scope 可提前单独释放。
// 子 Scope 提前释放后从父 Scope 注销。
func (s *Scope) Child(opts ...Option) *Scope {
	all := append([]Option{WithName(s.opts.name), WithLogger(s.opts.logger)}, opts...)
	child := New(s.ctx, all...)
	if remove, ok := s.addHook(func() { _ = child.Dispose() }); ok {
		child.OnDispose(remove)
	}
	return child
}

// Dispose 释放 Scope：取消 context、逆序执行钩子、等待 goroutine。
// 幂等，重复调用返回首次的结果。
func (s *Scope) Dispose() error {
	return s.dispose(ErrDisposed)
}

func (s *Scope) dispose(cause error) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.disposed = true
		ids := make([]uint64, 0, len(s.hooks))
		for id := range s.hooks {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		hooks := make([]func(), len(ids))
		for i, id := range ids {
			hooks[i] = s.hooks[id]
		}
		clear(s.hooks)
		s.mu.Unlock()

		s.stopParent()
		if s.stopSignal != nil {
			s.stopSignal()
		}
		s.cancel(cause)

		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			if err := runHook(hooks[i]); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
		s.err = errors.Join(errs...)

		if s.err != nil {
			s.opts.logger.Warn(s.ctx, "scope disposed with errors",
				slog.String("scope", s.opts.name), xlog.Err(s.err))
		} else {
			s.opts.logger.Debug(s.ctx, "scope disposed", slog.String("scope", s.opts.name))
		}
	})
	return s.err
}

func runHook(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHookPanic, r)
		}
	}()
	fn()
	return nil
}
