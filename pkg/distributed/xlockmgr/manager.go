package xlockmgr

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/omeyang/xlockkit/pkg/distributed/xlocks"
	"github.com/omeyang/xlockkit/pkg/observability/xlog"
)

// Manager 进程内锁管理器。所有方法并发安全。
type Manager struct {
	shards    []shard
	mask      uint64
	opts      *options
	closed    atomic.Bool
	nameCount atomic.Int64
	done      chan struct{}
}

type shard struct {
	mu    sync.Mutex
	names map[string]*lockState
}

// lockState 一个锁名的持有集合与请求队列，由所在分片的 mu 保护。
type lockState struct {
	held  []*request
	queue []*request
}

type requestState int

const (
	stateQueued requestState = iota
	stateHeld
	stateDone
)

type request struct {
	name     string
	clientID string
	opts     xlocks.LockOptions

	// state 由分片 mu 保护
	state requestState

	granted   chan struct{}
	preempted chan struct{}

	lockCtx    context.Context
	lockCancel context.CancelCauseFunc
}

// New 创建 Manager。
func New(opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	shards := make([]shard, o.shardCount)
	for i := range shards {
		shards[i].names = make(map[string]*lockState)
	}
	return &Manager{
		shards: shards,
		mask:   uint64(o.shardCount - 1),
		opts:   o,
		done:   make(chan struct{}),
	}, nil
}

// NewClient 创建带随机 ID 的 Client。
func (m *Manager) NewClient() *Client {
	return m.Client(uuid.NewString())
}

// Client 创建指定 ID 的 Client，ID 仅用于 Query 与日志。
func (m *Manager) Client(id string) *Client {
	c := &Client{m: m, id: id}
	c.supported.Store(true)
	return c
}

// Close 关闭 Manager：排队中的请求返回 ErrClosed，已持有的锁保持到回调结束。
// 重复调用返回 ErrClosed。
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	close(m.done)
	return nil
}

// Len 返回当前存在持有者或排队请求的锁名数量。
func (m *Manager) Len() int {
	return int(max(m.nameCount.Load(), 0))
}

func (m *Manager) shardFor(name string) *shard {
	return &m.shards[xxhash.Sum64String(name)&m.mask]
}

func validName(name string) bool {
	return name != "" && !strings.HasPrefix(name, "-")
}

// enqueue 按请求选项登记 r。ifAvailable 且不可立即授予时返回 false。
func (m *Manager) enqueue(r *request) (bool, error) {
	s := m.shardFor(r.name)
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.closed.Load() {
		return false, ErrClosed
	}
	st, ok := s.names[r.name]
	if !ok {
		if !m.reserveName() {
			return false, ErrMaxNamesExceeded
		}
		st = &lockState{}
		s.names[r.name] = st
	}

	switch {
	case r.opts.IfAvailable:
		if len(st.queue) > 0 || conflicts(st.held, r.opts.Mode) {
			m.dropIfEmpty(s, r.name, st)
			return false, nil
		}
		m.grantLocked(st, r)
	case r.opts.Steal:
		for _, h := range st.held {
			h.state = stateDone
			h.lockCancel(ErrStolen)
			close(h.preempted)
			m.opts.logger.Debug(context.Background(), "lock stolen",
				xlog.LockName(r.name), xlog.ClientID(h.clientID))
		}
		st.held = nil
		st.queue = slices.Insert(st.queue, 0, r)
		m.processLocked(st)
	default:
		st.queue = append(st.queue, r)
		m.processLocked(st)
	}
	return true, nil
}

// reserveName 为新锁名计数，CAS 保证跨分片并发时不突破上限。
func (m *Manager) reserveName() bool {
	if m.opts.maxNames <= 0 {
		m.nameCount.Add(1)
		return true
	}
	for {
		cur := m.nameCount.Load()
		if cur >= int64(m.opts.maxNames) {
			return false
		}
		if m.nameCount.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func conflicts(held []*request, mode xlocks.Mode) bool {
	if len(held) == 0 {
		return false
	}
	if mode == xlocks.ModeExclusive {
		return true
	}
	for _, h := range held {
		if h.opts.Mode == xlocks.ModeExclusive {
			return true
		}
	}
	return false
}

func (m *Manager) grantLocked(st *lockState, r *request) {
	r.state = stateHeld
	st.held = append(st.held, r)
	close(r.granted)
}

// processLocked 从队首开始授予所有连续的兼容请求。
func (m *Manager) processLocked(st *lockState) {
	for len(st.queue) > 0 {
		head := st.queue[0]
		if conflicts(st.held, head.opts.Mode) {
			return
		}
		st.queue = st.queue[1:]
		m.grantLocked(st, head)
	}
}

// withdraw 撤回尚未授予的请求。r 已被授予时返回 false。
func (m *Manager) withdraw(r *request) bool {
	s := m.shardFor(r.name)
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.state != stateQueued {
		return false
	}
	r.state = stateDone
	if st, ok := s.names[r.name]; ok {
		st.queue = slices.DeleteFunc(st.queue, func(q *request) bool { return q == r })
		m.processLocked(st)
		m.dropIfEmpty(s, r.name, st)
	}
	return true
}

// release 释放 r 持有的锁并推进队列。被抢占的请求已不在持有集合中。
func (m *Manager) release(r *request) {
	s := m.shardFor(r.name)
	s.mu.Lock()
	defer s.mu.Unlock()

	r.state = stateDone
	if st, ok := s.names[r.name]; ok {
		st.held = slices.DeleteFunc(st.held, func(h *request) bool { return h == r })
		m.processLocked(st)
		m.dropIfEmpty(s, r.name, st)
	}
}

func (m *Manager) dropIfEmpty(s *shard, name string, st *lockState) {
	if len(st.held) == 0 && len(st.queue) == 0 {
		delete(s.names, name)
		m.nameCount.Add(-1)
	}
}

// LockInfo 描述一个持有或排队中的请求。
type LockInfo struct {
	Name     string
	Mode     xlocks.Mode
	ClientID string
}

// Snapshot Query 的结果，按锁名排序，同名内保持持有/排队顺序。
type Snapshot struct {
	Held    []LockInfo
	Pending []LockInfo
}

// Query 返回当前所有锁的快照。
func (m *Manager) Query() Snapshot {
	var snap Snapshot
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for name, st := range s.names {
			for _, r := range st.held {
				snap.Held = append(snap.Held, LockInfo{Name: name, Mode: r.opts.Mode, ClientID: r.clientID})
			}
			for _, r := range st.queue {
				snap.Pending = append(snap.Pending, LockInfo{Name: name, Mode: r.opts.Mode, ClientID: r.clientID})
			}
		}
		s.mu.Unlock()
	}
	byName := func(a, b LockInfo) int { return strings.Compare(a.Name, b.Name) }
	slices.SortStableFunc(snap.Held, byName)
	slices.SortStableFunc(snap.Pending, byName)
	return snap
}
