package xref

import (
	"sort"
	"sync"
)

// WatchFunc 值变化回调。
type WatchFunc[T any] func(newV, oldV T)

// Readonly 只读视图。
// 持有者可以读取和监听，但不能赋值。
type Readonly[T any] interface {
	// Get 返回当前值。
	Get() T

	// Watch 注册值变化监听，返回取消函数（幂等）。
	Watch(fn WatchFunc[T], opts ...WatchOption) (stop func())
}

// WatchOption 定义 Watch 的可选配置。
type WatchOption func(*watchOptions)

type watchOptions struct {
	immediate bool
}

// WithImmediate 注册后立即以当前值回调一次，oldV 为零值。
func WithImmediate() WatchOption {
	return func(o *watchOptions) {
		o.immediate = true
	}
}

// Ref 可观察的状态单元，所有方法并发安全。
type Ref[T comparable] struct {
	mu       sync.RWMutex
	value    T
	nextID   uint64
	watchers map[uint64]WatchFunc[T]
}

// New 创建初始值为 v 的 Ref。
func New[T comparable](v T) *Ref[T] {
	return &Ref[T]{
		value:    v,
		watchers: make(map[uint64]WatchFunc[T]),
	}
}

// Get 返回当前值。
func (r *Ref[T]) Get() T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

// Set 赋值。值发生变化时同步通知监听者并返回 true；相等时不做任何事。
func (r *Ref[T]) Set(v T) bool {
	r.mu.Lock()
	old := r.value
	if old == v {
		r.mu.Unlock()
		return false
	}
	r.value = v
	fns := r.snapshotLocked()
	r.mu.Unlock()

	for _, fn := range fns {
		fn(v, old)
	}
	return true
}

// Update 以当前值计算新值并赋值，返回是否发生变化。
// 计算与写入在同一临界区内完成。
func (r *Ref[T]) Update(fn func(T) T) bool {
	if fn == nil {
		return false
	}
	r.mu.Lock()
	old := r.value
	v := fn(old)
	if old == v {
		r.mu.Unlock()
		return false
	}
	r.value = v
	fns := r.snapshotLocked()
	r.mu.Unlock()

	for _, w := range fns {
		w(v, old)
	}
	return true
}

// Watch 注册值变化监听。fn 为 nil 时返回空操作的 stop。
func (r *Ref[T]) Watch(fn WatchFunc[T], opts ...WatchOption) (stop func()) {
	if fn == nil {
		return func() {}
	}
	o := watchOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.watchers[id] = fn
	cur := r.value
	r.mu.Unlock()

	if o.immediate {
		var zero T
		fn(cur, zero)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers, id)
			r.mu.Unlock()
		})
	}
}

// Readonly 返回只读视图。
func (r *Ref[T]) Readonly() Readonly[T] {
	return readonly[T]{r: r}
}

// Watchers 返回当前监听者数量，仅用于调试和测试。
func (r *Ref[T]) Watchers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.watchers)
}

// snapshotLocked 按注册顺序返回监听者快照，调用方需持有写锁。
func (r *Ref[T]) snapshotLocked() []WatchFunc[T] {
	if len(r.watchers) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(r.watchers))
	for id := range r.watchers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]WatchFunc[T], len(ids))
	for i, id := range ids {
		fns[i] = r.watchers[id]
	}
	return fns
}

type readonly[T comparable] struct {
	r *Ref[T]
}

func (v readonly[T]) Get() T { return v.r.Get() }

func (v readonly[T]) Watch(fn WatchFunc[T], opts ...WatchOption) func() {
	return v.r.Watch(fn, opts...)
}

// Const 返回永不变化的只读值。
// Watch 仅在 WithImmediate 时回调一次。
func Const[T any](v T) Readonly[T] {
	return constant[T]{v: v}
}

type constant[T any] struct {
	v T
}

func (c constant[T]) Get() T { return c.v }

func (c constant[T]) Watch(fn WatchFunc[T], opts ...WatchOption) func() {
	if fn == nil {
		return func() {}
	}
	o := watchOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.immediate {
		var zero T
		fn(c.v, zero)
	}
	return func() {}
}

// 编译期接口检查。
var (
	_ Readonly[int] = (*Ref[int])(nil)
	_ Readonly[int] = readonly[int]{}
	_ Readonly[int] = constant[int]{}
)
