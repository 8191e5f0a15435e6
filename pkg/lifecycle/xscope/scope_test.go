package xscope

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// signal.Notify 首次调用后常驻的运行时信号循环
		goleak.IgnoreAnyFunction("os/signal.loop"),
	)
}

func TestScope_DisposeCancelsContext(t *testing.T) {
	s := New(context.Background(), WithName("t"))
	assert.Equal(t, "t", s.Name())
	assert.False(t, s.Disposed())
	assert.NoError(t, s.Context().Err())

	require.NoError(t, s.Dispose())
	assert.True(t, s.Disposed())
	<-s.Done()
	assert.ErrorIs(t, context.Cause(s.Context()), ErrDisposed)
}

func TestScope_HooksRunLIFO(t *testing.T) {
	s := New(context.Background())
	var order []int
	for i := range 3 {
		require.True(t, s.OnDispose(func() { order = append(order, i) }))
	}
	require.NoError(t, s.Dispose())
	assert.Equal(t, []int{2, 1, 0}, order)

	// 释放后注册立即执行
	ran := false
	assert.False(t, s.OnDispose(func() { ran = true }))
	assert.True(t, ran)
	assert.False(t, s.OnDispose(nil))
}

func TestScope_DisposeIdempotent(t *testing.T) {
	s := New(context.Background())
	var n atomic.Int32
	s.OnDispose(func() { n.Add(1) })
	s.OnDispose(func() { panic("boom") })

	err := s.Dispose()
	require.ErrorIs(t, err, ErrHookPanic)
	assert.Equal(t, err, s.Dispose())
	assert.Equal(t, int32(1), n.Load())
}

func TestScope_GoWaitsAndJoinsErrors(t *testing.T) {
	s := New(context.Background())
	errWorker := errors.New("worker failed")

	var exited atomic.Bool
	require.True(t, s.Go(func(ctx context.Context) error {
		<-ctx.Done()
		exited.Store(true)
		return nil
	}))
	require.True(t, s.Go(func(context.Context) error { return errWorker }))

	err := s.Dispose()
	assert.True(t, exited.Load())
	assert.ErrorIs(t, err, errWorker)

	assert.False(t, s.Go(func(context.Context) error { return nil }))
}

func TestScope_GoNil(t *testing.T) {
	s := New(context.Background())
	s.Go(nil)
	assert.ErrorIs(t, s.Dispose(), ErrNilFunc)
}

func TestScope_GoCanceledIgnored(t *testing.T) {
	s := New(context.Background())
	s.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, s.Dispose())
}

func TestScope_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancelCause(context.Background())
	s := New(parent)
	hooked := make(chan struct{})
	s.OnDispose(func() { close(hooked) })

	errShutdown := errors.New("shutdown")
	cancel(errShutdown)

	select {
	case <-hooked:
	case <-time.After(time.Second):
		t.Fatal("parent cancel did not dispose scope")
	}
	cause := context.Cause(s.Context())
	assert.ErrorIs(t, cause, ErrDisposed)
	assert.ErrorIs(t, cause, errShutdown)
	assert.NoError(t, s.Dispose())
}

func TestScope_ParentValuesKept(t *testing.T) {
	type key struct{}
	s := New(context.WithValue(context.Background(), key{}, "v"))
	defer s.Dispose()
	assert.Equal(t, "v", s.Context().Value(key{}))
}

func TestScope_Child(t *testing.T) {
	parent := New(context.Background(), WithName("parent"))
	child := parent.Child()
	assert.Equal(t, "parent", child.Name())

	var childHook atomic.Bool
	child.OnDispose(func() { childHook.Store(true) })

	require.NoError(t, parent.Dispose())
	assert.True(t, childHook.Load())
	assert.True(t, child.Disposed())
	assert.ErrorIs(t, context.Cause(child.Context()), ErrDisposed)
}

func TestScope_ChildEarlyDispose(t *testing.T) {
	parent := New(context.Background())
	defer parent.Dispose()
	child := parent.Child(WithName("c"))

	require.NoError(t, child.Dispose())
	assert.True(t, child.Disposed())
	assert.False(t, parent.Disposed())
}

func TestScope_ChildEarlyDisposeUnregisters(t *testing.T) {
	parent := New(context.Background())
	defer parent.Dispose()

	for range 100 {
		require.NoError(t, parent.Child().Dispose())
	}
	assert.Zero(t, parent.hookCount())

	kept := parent.Child()
	assert.Equal(t, 1, parent.hookCount())
	require.NoError(t, parent.Dispose())
	assert.True(t, kept.Disposed())
	assert.Zero(t, parent.hookCount())
}

func TestScope_ChildOfDisposed(t *testing.T) {
	parent := New(context.Background())
	require.NoError(t, parent.Dispose())

	child := parent.Child()
	assert.True(t, child.Disposed())
	assert.Zero(t, parent.hookCount())
}

func TestScope_Signal(t *testing.T) {
	s := New(context.Background(), WithSignals(syscall.SIGUSR1))
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not dispose scope")
	}
	var sigErr *SignalError
	cause := context.Cause(s.Context())
	require.ErrorAs(t, cause, &sigErr)
	assert.Equal(t, syscall.SIGUSR1, sigErr.Signal)
	assert.ErrorIs(t, cause, ErrSignal)
	assert.ErrorIs(t, cause, ErrDisposed)
	assert.NoError(t, s.Dispose())
}

func TestSignalError_Nil(t *testing.T) {
	assert.Contains(t, (&SignalError{}).Error(), "<nil>")
}

func TestDefaultSignals(t *testing.T) {
	assert.Len(t, DefaultSignals(), 4)
}

func TestNew_NilParent(t *testing.T) {
	//nolint:staticcheck // 验证 nil parent 归一化
	s := New(nil)
	assert.NoError(t, s.Dispose())
}
