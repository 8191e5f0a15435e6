package xdlock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	rsredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xlockkit/pkg/observability/xlog"
)

// NewRedisPlatform 创建基于 Redis 的平台。
// 单节点为标准 Redis 锁；多节点使用 Redlock 算法（需过半成功）。
// 客户端的生命周期由调用方管理。
func NewRedisPlatform(clients []redis.UniversalClient, opts ...Option) (*Platform, error) {
	if len(clients) == 0 {
		return nil, ErrNilClient
	}
	pools := make([]rsredis.Pool, len(clients))
	for i, client := range clients {
		if client == nil {
			return nil, fmt.Errorf("%w: client at index %s", ErrNilClient, strconv.Itoa(i))
		}
		pools[i] = goredis.NewPool(client)
	}

	o := applyOptions(opts)
	b := &redisBackend{
		clients: clients,
		rs:      redsync.New(pools...),
		expiry:  o.expiry,
		quorum:  len(clients)/2 + 1,
		logger:  o.logger.With(xlog.Component("xdlock")),
	}
	return newPlatform(b, o), nil
}

type redisBackend struct {
	clients []redis.UniversalClient
	rs      *redsync.Redsync
	expiry  time.Duration
	quorum  int
	logger  xlog.Logger
}

func (b *redisBackend) name() string { return "redis" }

func (b *redisBackend) tryAcquire(ctx context.Context, key string) (lease, error) {
	m := b.rs.NewMutex(key, redsync.WithExpiry(b.expiry), redsync.WithTries(1))
	if err := m.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, errBusy
		}
		return nil, err
	}
	l := &redisLease{
		b:      b,
		m:      m,
		key:    key,
		lostCh: make(chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.watchdog()
	return l, nil
}

// evict 删除 key。过半节点成功即视为成功。
func (b *redisBackend) evict(ctx context.Context, key string) error {
	var errs []error
	for _, c := range b.clients {
		if err := c.Del(ctx, key).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(b.clients)-len(errs) >= b.quorum {
		return nil
	}
	return errors.Join(errs...)
}

// owned 报告 value 是否仍在过半节点上持有 key。
// 无法确定（节点错误导致不足以判定）时返回错误。
func (b *redisBackend) owned(ctx context.Context, key, value string) (bool, error) {
	n := 0
	var errs []error
	for _, c := range b.clients {
		v, err := c.Get(ctx, key).Result()
		switch {
		case err == nil:
			if v == value {
				n++
			}
		case errors.Is(err, redis.Nil):
		default:
			errs = append(errs, err)
		}
	}
	if n >= b.quorum {
		return true, nil
	}
	if n+len(errs) >= b.quorum {
		return false, errors.Join(errs...)
	}
	return false, nil
}

func (b *redisBackend) health(ctx context.Context) error {
	var errs []error
	for _, c := range b.clients {
		if err := c.Ping(ctx).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *redisBackend) close() error { return nil }

// redisLease 由看门狗每 expiry/3 续期一次。
// 续期失败且确认 key 已不属于自己，或连续失败超过 expiry，视为失锁。
type redisLease struct {
	b   *redisBackend
	m   *redsync.Mutex
	key string

	lostCh   chan struct{}
	lostErr  error
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

func (l *redisLease) lost() <-chan struct{} { return l.lostCh }

func (l *redisLease) cause() error { return l.lostErr }

func (l *redisLease) watchdog() {
	defer close(l.done)
	interval := l.b.expiry / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastOK := time.Now()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		ok, err := l.m.ExtendContext(ctx)
		if ok && err == nil {
			cancel()
			lastOK = time.Now()
			continue
		}
		owned, oerr := l.b.owned(ctx, l.key, l.m.Value())
		cancel()
		if (oerr == nil && !owned) || time.Since(lastOK) >= l.b.expiry {
			if err == nil {
				err = oerr
			}
			l.lostErr = ErrLeaseLost
			if err != nil {
				l.lostErr = fmt.Errorf("%w: %w", ErrLeaseLost, err)
			}
			close(l.lostCh)
			return
		}
		l.b.logger.Warn(context.Background(), "extend lock failed, will retry",
			xlog.LockName(l.key), xlog.Err(errors.Join(err, oerr)))
	}
}

func (l *redisLease) release(ctx context.Context) error {
	l.releaseOnce.Do(func() {
		l.stopOnce.Do(func() { close(l.stop) })
		<-l.done
		select {
		case <-l.lostCh:
			return
		default:
		}
		ok, err := l.m.UnlockContext(ctx)
		switch {
		case err != nil:
			l.releaseErr = err
		case !ok:
			l.releaseErr = ErrLeaseLost
		}
	})
	return l.releaseErr
}
