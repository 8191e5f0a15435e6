package xlockmgr

import (
	"context"
	"sync/atomic"

	"github.com/omeyang/xlockkit/pkg/distributed/xlocks"
	"github.com/omeyang/xlockkit/pkg/observability/xlog"
)

// Client 代表一个竞争锁的执行上下文（如一个标签页），实现 xlocks.Platform。
type Client struct {
	m         *Manager
	id        string
	supported atomic.Bool
}

var _ xlocks.Platform = (*Client)(nil)

// ID 返回客户端 ID。
func (c *Client) ID() string {
	return c.id
}

// Supported 报告是否具备锁能力，默认 true。
func (c *Client) Supported() bool {
	return c.supported.Load()
}

// SetSupported 模拟平台能力，只影响之后创建的协调器。
func (c *Client) SetSupported(v bool) {
	c.supported.Store(v)
}

// RequestLock 实现 xlocks.Platform。
func (c *Client) RequestLock(ctx context.Context, name string, opts xlocks.LockOptions, grant xlocks.GrantFunc) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !validName(name) {
		return ErrInvalidName
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	if grant == nil {
		return xlocks.ErrNilCallback
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	lockCtx, lockCancel := context.WithCancelCause(ctx)
	defer lockCancel(nil)
	r := &request{
		name:       name,
		clientID:   c.id,
		opts:       opts,
		granted:    make(chan struct{}),
		preempted:  make(chan struct{}),
		lockCtx:    lockCtx,
		lockCancel: lockCancel,
	}

	ok, err := c.m.enqueue(r)
	if err != nil {
		return err
	}
	if !ok {
		return grant(ctx, false)
	}

	select {
	case <-r.granted:
	case <-ctx.Done():
		if c.m.withdraw(r) {
			return context.Cause(ctx)
		}
		// 撤回与授予竞争时已被授予，按持有处理
	case <-c.m.done:
		if c.m.withdraw(r) {
			return ErrClosed
		}
	}
	return c.hold(r, grant)
}

// hold 在独立 goroutine 中执行 grant，直到其返回或锁被抢占。
func (c *Client) hold(r *request, grant xlocks.GrantFunc) error {
	c.m.opts.logger.Debug(r.lockCtx, "lock granted",
		xlog.LockName(r.name), xlog.Mode(r.opts.Mode.String()), xlog.ClientID(c.id))

	result := make(chan error, 1)
	go func() {
		result <- grant(r.lockCtx, true)
	}()

	select {
	case err := <-result:
		c.m.release(r)
		return err
	case <-r.preempted:
		return context.Cause(r.lockCtx)
	}
}
