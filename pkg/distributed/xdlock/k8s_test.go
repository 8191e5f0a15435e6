package xdlock

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	coordinationv1 "k8s.io/api/coordination/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/omeyang/xlockkit/pkg/distributed/xlocks"
)

func newK8sTestPlatform(t *testing.T, client kubernetes.Interface, identity string, opts ...Option) *Platform {
	t.Helper()
	opts = append([]Option{
		WithNamespace("default"),
		WithIdentity(identity),
		WithRetryDelay(5 * time.Millisecond),
		WithMaxRetryDelay(20 * time.Millisecond),
	}, opts...)
	p, err := NewK8sPlatform(client, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func getLease(t *testing.T, client kubernetes.Interface, key string) *coordinationv1.Lease {
	t.Helper()
	l, err := client.CoordinationV1().Leases("default").Get(context.Background(), leaseName(key), metav1.GetOptions{})
	require.NoError(t, err)
	return l
}

func TestNewK8sPlatform_OutsideCluster(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	t.Setenv("KUBERNETES_SERVICE_PORT", "")
	_, err := NewK8sPlatform(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in-cluster config")
}

func TestK8sPlatform_RoundTrip(t *testing.T) {
	client := fake.NewSimpleClientset()
	p := newK8sTestPlatform(t, client, "pod-1")
	c := newCoordinator(t, p)

	v, err := c.Request(context.Background(), "job", func(context.Context) (any, error) {
		l := getLease(t, client, "lock:job")
		if assert.NotNil(t, l.Spec.HolderIdentity) {
			assert.True(t, strings.HasPrefix(*l.Spec.HolderIdentity, "pod-1:"))
		}
		assert.Equal(t, int32(8), *l.Spec.LeaseDurationSeconds)
		assert.Equal(t, managedByValue, l.Labels[managedByLabel])
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", v)

	// 释放只清除持有者
	assert.Nil(t, getLease(t, client, "lock:job").Spec.HolderIdentity)

	// 再次获取复用同一 Lease
	_, err = c.Request(context.Background(), "job", func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
}

func TestK8sPlatform_IfAvailableMiss(t *testing.T) {
	client := fake.NewSimpleClientset()
	a := newCoordinator(t, newK8sTestPlatform(t, client, "pod-a"))
	b := newCoordinator(t, newK8sTestPlatform(t, client, "pod-b"))

	acquired := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := a.Request(context.Background(), "job", func(context.Context) (any, error) {
			close(acquired)
			<-release
			return nil, nil
		})
		done <- err
	}()
	<-acquired

	_, err := b.Request(context.Background(), "job", func(context.Context) (any, error) {
		t.Error("callback must not run on a miss")
		return nil, nil
	}, xlocks.WithIfAvailable())
	assert.ErrorIs(t, err, xlocks.ErrLockHeld)

	close(release)
	require.NoError(t, <-done)

	_, err = b.Request(context.Background(), "job", func(context.Context) (any, error) { return nil, nil }, xlocks.WithIfAvailable())
	assert.NoError(t, err)
}

func TestK8sPlatform_AcquiresExpiredLease(t *testing.T) {
	client := fake.NewSimpleClientset()
	past := metav1.NewMicroTime(time.Now().Add(-10 * time.Minute))
	duration := int32(60)
	holder := "crashed-pod:old-token"
	_, err := client.CoordinationV1().Leases("default").Create(context.Background(), &coordinationv1.Lease{
		ObjectMeta: metav1.ObjectMeta{Name: leaseName("lock:job"), Namespace: "default"},
		Spec: coordinationv1.LeaseSpec{
			HolderIdentity:       &holder,
			LeaseDurationSeconds: &duration,
			RenewTime:            &past,
		},
	}, metav1.CreateOptions{})
	require.NoError(t, err)

	c := newCoordinator(t, newK8sTestPlatform(t, client, "pod-1"))
	_, err = c.Request(context.Background(), "job", func(context.Context) (any, error) { return nil, nil }, xlocks.WithIfAvailable())
	assert.NoError(t, err)
}

func TestK8sPlatform_StealDetectedByRenewal(t *testing.T) {
	client := fake.NewSimpleClientset()
	a := newCoordinator(t, newK8sTestPlatform(t, client, "pod-a", WithExpiry(600*time.Millisecond)))
	b := newCoordinator(t, newK8sTestPlatform(t, client, "pod-b", WithExpiry(600*time.Millisecond)))

	acquired := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := a.Request(context.Background(), "job", func(ctx context.Context) (any, error) {
			close(acquired)
			<-ctx.Done()
			return nil, context.Cause(ctx)
		})
		done <- err
	}()
	<-acquired

	stolen := make(chan struct{})
	go func() {
		_, _ = b.Request(context.Background(), "job", func(context.Context) (any, error) {
			close(stolen)
			return nil, nil
		}, xlocks.WithSteal())
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, xlocks.ErrLockStolen)
		assert.ErrorIs(t, err, ErrLeaseLost)
	case <-time.After(3 * time.Second):
		t.Fatal("holder did not observe the steal")
	}
	select {
	case <-stolen:
	case <-time.After(3 * time.Second):
		t.Fatal("stealer callback did not run")
	}
}

func TestK8sPlatform_Health(t *testing.T) {
	p := newK8sTestPlatform(t, fake.NewSimpleClientset(), "pod-1")
	assert.NoError(t, p.Health(context.Background()))

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Health(context.Background()), ErrPlatformClosed)
}

func TestK8sBackend_Available(t *testing.T) {
	b := &k8sBackend{clockSkew: 2 * time.Second}
	now := time.Now()
	recent := metav1.NewMicroTime(now)
	old := metav1.NewMicroTime(now.Add(-time.Minute))
	duration := int32(30)
	holder := "other"
	empty := ""

	assert.True(t, b.available(&coordinationv1.Lease{}, now))
	assert.True(t, b.available(&coordinationv1.Lease{Spec: coordinationv1.LeaseSpec{HolderIdentity: &empty}}, now))
	assert.True(t, b.available(&coordinationv1.Lease{Spec: coordinationv1.LeaseSpec{
		HolderIdentity: &holder, LeaseDurationSeconds: &duration,
	}}, now))
	assert.False(t, b.available(&coordinationv1.Lease{Spec: coordinationv1.LeaseSpec{
		HolderIdentity: &holder, LeaseDurationSeconds: &duration, RenewTime: &recent,
	}}, now))
	assert.True(t, b.available(&coordinationv1.Lease{Spec: coordinationv1.LeaseSpec{
		HolderIdentity: &holder, LeaseDurationSeconds: &duration, RenewTime: &old,
	}}, now))

	// 容忍时钟偏移：刚过期但仍在容忍范围内
	edge := metav1.NewMicroTime(now.Add(-31 * time.Second))
	assert.False(t, b.available(&coordinationv1.Lease{Spec: coordinationv1.LeaseSpec{
		HolderIdentity: &holder, LeaseDurationSeconds: &duration, RenewTime: &edge,
	}}, now))
}

func TestLeaseName(t *testing.T) {
	assert.Equal(t, "jobs", leaseName("jobs"))

	name := leaseName("lock:jobs")
	assert.True(t, strings.HasPrefix(name, "lock-jobs-"))
	assert.Len(t, name, len("lock-jobs-")+leaseHashLen)

	assert.NotEqual(t, leaseName("a.b"), leaseName("a/b"))
	assert.LessOrEqual(t, len(leaseName(strings.Repeat("x", 200))), leaseNameMaxLen)
	assert.True(t, strings.HasPrefix(leaseName(":::"), "l-"))
}

func TestK8sBackend_DurationSeconds(t *testing.T) {
	assert.Equal(t, int32(1), (&k8sBackend{expiry: 600 * time.Millisecond}).durationSeconds())
	assert.Equal(t, int32(8), (&k8sBackend{expiry: 8 * time.Second}).durationSeconds())
	assert.Equal(t, int32(3), (&k8sBackend{expiry: 2500 * time.Millisecond}).durationSeconds())
}
