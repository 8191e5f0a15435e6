package xleader_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/omeyang/xlockkit/pkg/distributed/xleader"
	"github.com/omeyang/xlockkit/pkg/distributed/xlockmgr"
	"github.com/omeyang/xlockkit/pkg/distributed/xlocks"
	"github.com/omeyang/xlockkit/pkg/distributed/xlocks/xlocksmock"
	"github.com/omeyang/xlockkit/pkg/lifecycle/xscope"
	"github.com/omeyang/xlockkit/pkg/reactive/xref"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second

func newManager(t *testing.T) *xlockmgr.Manager {
	t.Helper()
	m, err := xlockmgr.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func newElector(t *testing.T, p xlocks.Platform, name xref.Readonly[string], opts ...xleader.Option) *xleader.Elector {
	t.Helper()
	e, err := xleader.New(p, name, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func leader(e *xleader.Elector) func() bool {
	return func() bool { return e.IsLeader().Get() }
}

func notLeader(e *xleader.Elector) func() bool {
	return func() bool { return !e.IsLeader().Get() }
}

// transitions 记录 isLeader 的变化序列。
type transitions struct {
	mu  sync.Mutex
	seq []bool
}

func watch(e *xleader.Elector) *transitions {
	tr := &transitions{}
	e.IsLeader().Watch(func(v, _ bool) {
		tr.mu.Lock()
		tr.seq = append(tr.seq, v)
		tr.mu.Unlock()
	})
	return tr
}

func (tr *transitions) get() []bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]bool(nil), tr.seq...)
}

func TestNew_Validation(t *testing.T) {
	_, err := xleader.New(newManager(t).NewClient(), nil)
	assert.ErrorIs(t, err, xleader.ErrNilName)

	_, err = xleader.New(nil, xref.Const("x"))
	assert.ErrorIs(t, err, xlocks.ErrNilPlatform)
}

func TestElector_SingleBecomesLeader(t *testing.T) {
	e := newElector(t, newManager(t).NewClient(), xref.Const("leader"))
	assert.True(t, e.Supported())
	assert.Equal(t, "leader", e.Name())
	require.Eventually(t, leader(e), waitFor, time.Millisecond)

	var signal context.Context
	assert.True(t, e.AsLeader(func(s context.Context) { signal = s }))
	require.NotNil(t, signal)
	assert.NoError(t, signal.Err())
	assert.False(t, e.AsLeader(nil))

	require.NoError(t, e.Close())
	assert.False(t, e.IsLeader().Get())
	<-signal.Done()
	assert.False(t, e.AsLeader(func(context.Context) { t.Fatal("must not run after close") }))
	assert.NoError(t, e.Err())
}

func TestElector_TwoContendersHandoff(t *testing.T) {
	m := newManager(t)
	a := newElector(t, m.Client("a"), xref.Const("leader"))
	require.Eventually(t, leader(a), waitFor, time.Millisecond)

	b := newElector(t, m.Client("b"), xref.Const("leader"))
	require.Eventually(t, func() bool { return len(m.Query().Pending) == 1 }, waitFor, time.Millisecond)
	assert.True(t, a.IsLeader().Get())
	assert.False(t, b.IsLeader().Get())
	assert.False(t, b.AsLeader(func(context.Context) { t.Fatal("b is not leader") }))

	require.NoError(t, a.Close())
	assert.False(t, a.IsLeader().Get())
	require.Eventually(t, leader(b), waitFor, time.Millisecond)

	snap := m.Query()
	require.Len(t, snap.Held, 1)
	assert.Equal(t, "b", snap.Held[0].ClientID)
}

func TestElector_HandoffWithMockPlatform(t *testing.T) {
	ctrl := gomock.NewController(t)
	pa := xlocksmock.NewMockPlatform(ctrl)
	pb := xlocksmock.NewMockPlatform(ctrl)
	pa.EXPECT().Supported().Return(true)
	pb.EXPECT().Supported().Return(true)

	aReleased := make(chan struct{})
	pa.EXPECT().RequestLock(gomock.Any(), "leader", xlocks.LockOptions{}, gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, _ xlocks.LockOptions, grant xlocks.GrantFunc) error {
			defer close(aReleased)
			return grant(ctx, true)
		}).Times(1)

	// b 的请求在 a 释放前一直排队，之后被授予
	bInvoked := make(chan struct{})
	pb.EXPECT().RequestLock(gomock.Any(), "leader", xlocks.LockOptions{}, gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, _ xlocks.LockOptions, grant xlocks.GrantFunc) error {
			close(bInvoked)
			select {
			case <-aReleased:
			case <-ctx.Done():
				return context.Cause(ctx)
			}
			return grant(ctx, true)
		}).Times(1)

	a := newElector(t, pa, xref.Const("leader"))
	require.Eventually(t, leader(a), waitFor, time.Millisecond)
	b := newElector(t, pb, xref.Const("leader"))
	<-bInvoked
	assert.True(t, a.IsLeader().Get())
	assert.False(t, b.IsLeader().Get())

	require.NoError(t, a.Close())
	assert.False(t, a.IsLeader().Get())
	require.Eventually(t, leader(b), waitFor, time.Millisecond)
}

func TestElector_NameChange(t *testing.T) {
	m := newManager(t)
	name := xref.New("leader-v1")
	e := newElector(t, m.Client("e"), name.Readonly())
	require.Eventually(t, leader(e), waitFor, time.Millisecond)
	tr := watch(e)

	name.Set("leader-v2")
	assert.Equal(t, "leader-v2", e.Name())
	require.Eventually(t, leader(e), waitFor, time.Millisecond)

	require.Eventually(t, func() bool {
		snap := m.Query()
		return len(snap.Held) == 1 && snap.Held[0].Name == "leader-v2"
	}, waitFor, time.Millisecond)
	// 旧名称先放弃，再获得新名称
	assert.Equal(t, []bool{false, true}, tr.get())
}

func TestElector_NameChangeWhileContending(t *testing.T) {
	m := newManager(t)
	holder := newElector(t, m.Client("holder"), xref.Const("old"))
	require.Eventually(t, leader(holder), waitFor, time.Millisecond)

	name := xref.New("old")
	e := newElector(t, m.Client("e"), name.Readonly())
	require.Eventually(t, func() bool { return len(m.Query().Pending) == 1 }, waitFor, time.Millisecond)

	// 排队中的旧请求被撤回，新名称立即获得
	name.Set("new")
	require.Eventually(t, leader(e), waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return len(m.Query().Pending) == 0 }, waitFor, time.Millisecond)
	assert.True(t, holder.IsLeader().Get())
}

func TestElector_WatcherReadsName(t *testing.T) {
	m := newManager(t)
	a := newElector(t, m.Client("a"), xref.Const("leader"))
	require.Eventually(t, leader(a), waitFor, time.Millisecond)

	b := newElector(t, m.Client("b"), xref.Const("leader"))
	got := make(chan string, 1)
	b.IsLeader().Watch(func(v, _ bool) {
		if v {
			got <- b.Name()
		}
	})

	require.NoError(t, a.Close())
	select {
	case name := <-got:
		assert.Equal(t, "leader", name)
	case <-time.After(waitFor):
		t.Fatal("isLeader watcher blocked on Name")
	}
	assert.True(t, b.IsLeader().Get())
}

func TestElector_WatcherChangesName(t *testing.T) {
	m := newManager(t)
	name := xref.New("first")
	e := newElector(t, m.Client("e"), name.Readonly())

	var once sync.Once
	e.IsLeader().Watch(func(v, _ bool) {
		if v {
			once.Do(func() { name.Set("second") })
		}
	}, xref.WithImmediate())

	require.Eventually(t, func() bool {
		snap := m.Query()
		return len(snap.Held) == 1 && snap.Held[0].Name == "second"
	}, waitFor, time.Millisecond)
	require.Eventually(t, leader(e), waitFor, time.Millisecond)
	assert.Equal(t, "second", e.Name())
}

func TestElector_StolenRecontends(t *testing.T) {
	m := newManager(t)
	e := newElector(t, m.Client("e"), xref.Const("leader"))
	require.Eventually(t, leader(e), waitFor, time.Millisecond)
	tr := watch(e)

	var lostSignal context.Context
	e.AsLeader(func(s context.Context) { lostSignal = s })

	thief, err := xlocks.New(m.Client("thief"))
	require.NoError(t, err)
	defer thief.Close()

	thiefHolding := make(chan struct{})
	thiefRelease := make(chan struct{})
	thiefDone := make(chan error, 1)
	go func() {
		_, err := thief.Request(context.Background(), "leader", func(context.Context) (any, error) {
			close(thiefHolding)
			<-thiefRelease
			return nil, nil
		}, xlocks.WithSteal())
		thiefDone <- err
	}()
	<-thiefHolding
	require.Eventually(t, notLeader(e), waitFor, time.Millisecond)
	<-lostSignal.Done()
	assert.ErrorIs(t, context.Cause(lostSignal), xlocks.ErrPreempted)
	assert.NoError(t, e.Err())

	// 抢占后重新排队
	require.Eventually(t, func() bool { return len(m.Query().Pending) == 1 }, waitFor, time.Millisecond)
	close(thiefRelease)
	require.NoError(t, <-thiefDone)
	require.Eventually(t, leader(e), waitFor, time.Millisecond)
	assert.Equal(t, []bool{false, true}, tr.get())
}

func TestElector_Unsupported(t *testing.T) {
	c := newManager(t).NewClient()
	c.SetSupported(false)
	e := newElector(t, c, xref.Const("leader"))

	assert.False(t, e.Supported())
	assert.False(t, e.IsLeader().Get())
	for range 3 {
		var signal context.Context
		assert.True(t, e.AsLeader(func(s context.Context) { signal = s }))
		require.NotNil(t, signal)
		assert.Nil(t, signal.Done())
	}
	require.NoError(t, e.Close())
	assert.True(t, e.AsLeader(func(context.Context) {}))
}

func TestElector_FatalError(t *testing.T) {
	var handled []error
	var mu sync.Mutex
	e := newElector(t, newManager(t).NewClient(), xref.Const("-reserved"),
		xleader.WithErrorHandler(func(err error) {
			mu.Lock()
			handled = append(handled, err)
			mu.Unlock()
		}))

	require.Eventually(t, func() bool { return e.Err() != nil }, waitFor, time.Millisecond)
	assert.ErrorIs(t, e.Err(), xlockmgr.ErrInvalidName)
	assert.False(t, e.IsLeader().Get())
	mu.Lock()
	assert.Len(t, handled, 1)
	mu.Unlock()
}

func TestElector_ScopeDisposal(t *testing.T) {
	m := newManager(t)
	scope := xscope.New(context.Background())
	e := newElector(t, m.NewClient(), xref.Const("leader"), xleader.WithScope(scope))
	require.Eventually(t, leader(e), waitFor, time.Millisecond)

	require.NoError(t, scope.Dispose())
	assert.False(t, e.IsLeader().Get())
	require.Eventually(t, func() bool { return len(m.Query().Held) == 0 }, waitFor, time.Millisecond)
	require.NoError(t, e.Close())
}

func TestElector_AtMostOneLeader(t *testing.T) {
	m := newManager(t)
	const n = 4
	electors := make([]*xleader.Elector, n)
	for i := range n {
		electors[i] = newElector(t, m.NewClient(), xref.Const("leader"))
	}

	countLeaders := func() int {
		c := 0
		for _, e := range electors {
			if e.IsLeader().Get() {
				c++
			}
		}
		return c
	}

	for i := range n {
		require.Eventually(t, func() bool { return countLeaders() == 1 }, waitFor, time.Millisecond)
		var current *xleader.Elector
		for _, e := range electors {
			if e.IsLeader().Get() {
				current = e
			}
		}
		require.NotNil(t, current, "round %d", i)
		require.NoError(t, current.Close())
		assert.LessOrEqual(t, countLeaders(), 1)
	}
	assert.Equal(t, 0, countLeaders())
}

func TestElector_CloseIdempotent(t *testing.T) {
	e := newElector(t, newManager(t).NewClient(), xref.Const("leader"))
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.NoError(t, e.Err())
	assert.False(t, e.AsLeader(func(context.Context) {}))
}
