package xdlock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xlockkit/pkg/distributed/xdlock"
	"github.com/omeyang/xlockkit/pkg/distributed/xlocks"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newRedisCoordinator(t *testing.T, client redis.UniversalClient, opts ...xdlock.Option) (*xdlock.Platform, *xlocks.Coordinator) {
	t.Helper()
	opts = append([]xdlock.Option{
		xdlock.WithExpiry(600 * time.Millisecond),
		xdlock.WithRetryDelay(5 * time.Millisecond),
		xdlock.WithMaxRetryDelay(20 * time.Millisecond),
	}, opts...)
	p, err := xdlock.NewRedisPlatform([]redis.UniversalClient{client}, opts...)
	require.NoError(t, err)
	c, err := xlocks.New(p)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
		_ = p.Close()
	})
	return p, c
}

func TestNewRedisPlatform_NilClient(t *testing.T) {
	_, err := xdlock.NewRedisPlatform(nil)
	assert.ErrorIs(t, err, xdlock.ErrNilClient)

	_, err = xdlock.NewRedisPlatform([]redis.UniversalClient{nil})
	assert.ErrorIs(t, err, xdlock.ErrNilClient)
}

func TestRedisPlatform_RoundTrip(t *testing.T) {
	mr, client := setupRedis(t)
	_, c := newRedisCoordinator(t, client)

	v, err := c.Request(context.Background(), "job", func(context.Context) (any, error) {
		assert.True(t, mr.Exists("lock:job"))
		assert.Positive(t, mr.TTL("lock:job"))
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.False(t, mr.Exists("lock:job"))
}

func TestRedisPlatform_IfAvailableAcrossPlatforms(t *testing.T) {
	_, client := setupRedis(t)
	_, a := newRedisCoordinator(t, client)
	_, b := newRedisCoordinator(t, client)

	_, err := a.Request(context.Background(), "job", func(ctx context.Context) (any, error) {
		_, err := b.Request(ctx, "job", func(context.Context) (any, error) {
			t.Fatal("b must not acquire")
			return nil, nil
		}, xlocks.WithIfAvailable())
		return nil, err
	})
	assert.ErrorIs(t, err, xlocks.ErrLockHeld)
}

func TestRedisPlatform_BlockingHandoff(t *testing.T) {
	_, client := setupRedis(t)
	_, a := newRedisCoordinator(t, client)
	_, b := newRedisCoordinator(t, client)

	holding := make(chan struct{})
	release := make(chan struct{})
	aDone := make(chan error, 1)
	go func() {
		_, err := a.Request(context.Background(), "job", func(context.Context) (any, error) {
			close(holding)
			<-release
			return nil, nil
		})
		aDone <- err
	}()
	<-holding

	bDone := make(chan error, 1)
	go func() {
		_, err := b.Request(context.Background(), "job", func(context.Context) (any, error) { return nil, nil })
		bDone <- err
	}()
	select {
	case <-bDone:
		t.Fatal("b must wait for a")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-aDone)
	select {
	case err := <-bDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("b was never granted")
	}
}

func TestRedisPlatform_StealDetectedByWatchdog(t *testing.T) {
	mr, client := setupRedis(t)
	_, holder := newRedisCoordinator(t, client)
	_, thief := newRedisCoordinator(t, client)

	holding := make(chan struct{})
	holderDone := make(chan error, 1)
	go func() {
		_, err := holder.Request(context.Background(), "job", func(ctx context.Context) (any, error) {
			close(holding)
			<-ctx.Done()
			return nil, context.Cause(ctx)
		})
		holderDone <- err
	}()
	<-holding
	before, err := client.Get(context.Background(), "lock:job").Result()
	require.NoError(t, err)

	_, err = thief.Request(context.Background(), "job", func(context.Context) (any, error) {
		after, err := client.Get(context.Background(), "lock:job").Result()
		require.NoError(t, err)
		assert.NotEqual(t, before, after)

		// 续期失败后原持有者被抢占
		select {
		case err := <-holderDone:
			assert.ErrorIs(t, err, xlocks.ErrLockStolen)
			assert.ErrorIs(t, err, xdlock.ErrLeaseLost)
		case <-time.After(2 * time.Second):
			t.Fatal("holder never noticed the steal")
		}
		return nil, nil
	}, xlocks.WithSteal())
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:job"))
}

func TestRedisPlatform_WatchdogExtends(t *testing.T) {
	mr, client := setupRedis(t)
	_, c := newRedisCoordinator(t, client)

	_, err := c.Request(context.Background(), "job", func(context.Context) (any, error) {
		mr.FastForward(300 * time.Millisecond)
		remaining := mr.TTL("lock:job")
		// 等待至少一次续期
		require.Eventually(t, func() bool { return mr.TTL("lock:job") > remaining }, 2*time.Second, 10*time.Millisecond)
		return nil, nil
	})
	require.NoError(t, err)
}

func TestRedisPlatform_SharedNotSupported(t *testing.T) {
	_, client := setupRedis(t)
	_, c := newRedisCoordinator(t, client)
	_, err := c.Request(context.Background(), "job", func(context.Context) (any, error) { return nil, nil },
		xlocks.WithShared())
	assert.ErrorIs(t, err, xdlock.ErrModeNotSupported)
}

func TestRedisPlatform_Health(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	p, _ := newRedisCoordinator(t, client)
	require.NoError(t, p.Health(context.Background()))

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, p.Health(ctx))
}
