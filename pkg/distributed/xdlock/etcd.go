package xdlock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// NewEtcdPlatform 创建基于 etcd 的平台。
//
// 每次获取使用独立的 Session（TTL 见 [WithEtcdTTL]），同一进程内的多个请求互不重入。
// 客户端的生命周期由调用方管理。
func NewEtcdPlatform(client *clientv3.Client, opts ...Option) (*Platform, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := applyOptions(opts)
	return newPlatform(&etcdBackend{client: client, ttl: o.etcdTTL}, o), nil
}

type etcdBackend struct {
	client *clientv3.Client
	ttl    int
}

func (b *etcdBackend) name() string { return "etcd" }

func (b *etcdBackend) tryAcquire(ctx context.Context, key string) (lease, error) {
	session, err := concurrency.NewSession(b.client, concurrency.WithTTL(b.ttl))
	if err != nil {
		return nil, err
	}
	m := concurrency.NewMutex(session, key)
	if err := m.TryLock(ctx); err != nil {
		_ = session.Close()
		switch {
		case errors.Is(err, concurrency.ErrLocked):
			return nil, errBusy
		case errors.Is(err, concurrency.ErrSessionExpired):
			return nil, ErrSessionExpired
		default:
			return nil, err
		}
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	l := &etcdLease{
		session: session,
		m:       m,
		cancel:  cancel,
		lostCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	wch := b.client.Watch(watchCtx, m.Key(), clientv3.WithRev(m.Header().Revision+1))
	go l.watch(watchCtx, wch)
	return l, nil
}

// evict 删除 key 下所有持有者与等待者的记录。
func (b *etcdBackend) evict(ctx context.Context, key string) error {
	_, err := b.client.Delete(ctx, key+"/", clientv3.WithPrefix())
	return err
}

func (b *etcdBackend) health(ctx context.Context) error {
	_, err := b.client.Get(ctx, "health-check-key", clientv3.WithLimit(1))
	return err
}

func (b *etcdBackend) close() error { return nil }

// etcdLease 监听自己的 key 与 Session。key 被删除或 Session 过期视为失锁。
type etcdLease struct {
	session *concurrency.Session
	m       *concurrency.Mutex
	cancel  context.CancelFunc

	lostCh  chan struct{}
	lostErr error
	done    chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

func (l *etcdLease) lost() <-chan struct{} { return l.lostCh }

func (l *etcdLease) cause() error { return l.lostErr }

func (l *etcdLease) watch(ctx context.Context, wch clientv3.WatchChan) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.session.Done():
			l.markLost(fmt.Errorf("%w: %w", ErrLeaseLost, ErrSessionExpired))
			return
		case resp, ok := <-wch:
			if ctx.Err() != nil {
				return
			}
			if !ok {
				l.markLost(ErrLeaseLost)
				return
			}
			if err := resp.Err(); err != nil {
				l.markLost(fmt.Errorf("%w: %w", ErrLeaseLost, err))
				return
			}
			for _, ev := range resp.Events {
				if ev.Type == mvccpb.DELETE {
					l.markLost(ErrLeaseLost)
					return
				}
			}
		}
	}
}

func (l *etcdLease) markLost(err error) {
	l.lostErr = err
	close(l.lostCh)
}

func (l *etcdLease) release(ctx context.Context) error {
	l.releaseOnce.Do(func() {
		l.cancel()
		<-l.done
		var unlockErr error
		select {
		case <-l.lostCh:
		default:
			unlockErr = l.m.Unlock(ctx)
		}
		// 关闭 Session 撤销租约，同时删除残留的 key
		l.releaseErr = errors.Join(unlockErr, l.session.Close())
	})
	return l.releaseErr
}
