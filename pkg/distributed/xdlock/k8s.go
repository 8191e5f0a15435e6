package xdlock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/omeyang/xlockkit/pkg/observability/xlog"
)

var (
	leaseNameInvalid  = regexp.MustCompile(`[^a-z0-9-]`)
	leaseNameCollapse = regexp.MustCompile(`-+`)
)

const (
	leaseNameMaxLen = 63
	leaseHashLen    = 8
	managedByLabel  = "app.kubernetes.io/managed-by"
	managedByValue  = "xlockkit"
)

// NewK8sPlatform 创建基于 coordination.k8s.io/v1 Lease 的平台。
//
// client 为 nil 时使用 InClusterConfig 创建。Lease 时长取 [WithExpiry]（向上取整到秒），
// 持有期间每 expiry/3 续期一次。ServiceAccount 需要 Lease 的 get/list/create/update/delete 权限。
func NewK8sPlatform(client kubernetes.Interface, opts ...Option) (*Platform, error) {
	if client == nil {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("xdlock: in-cluster config: %w", err)
		}
		if client, err = kubernetes.NewForConfig(cfg); err != nil {
			return nil, fmt.Errorf("xdlock: create k8s client: %w", err)
		}
	}
	o := applyOptions(opts)
	namespace := o.namespace
	if namespace == "" {
		namespace = envOr("POD_NAMESPACE", "default")
	}
	identity := o.identity
	if identity == "" {
		identity = envOr("POD_NAME", defaultIdentity())
	}
	b := &k8sBackend{
		client:    client,
		namespace: namespace,
		identity:  identity,
		expiry:    o.expiry,
		clockSkew: o.clockSkew,
		logger:    o.logger.With(xlog.Component("xdlock")),
	}
	return newPlatform(b, o), nil
}

type k8sBackend struct {
	client    kubernetes.Interface
	namespace string
	identity  string
	expiry    time.Duration
	clockSkew time.Duration
	logger    xlog.Logger
}

func (b *k8sBackend) name() string { return "k8s" }

func (b *k8sBackend) durationSeconds() int32 {
	return int32(max((b.expiry+time.Second-1)/time.Second, 1))
}

func (b *k8sBackend) tryAcquire(ctx context.Context, key string) (lease, error) {
	name := leaseName(key)
	leases := b.client.CoordinationV1().Leases(b.namespace)
	// 每次获取独立的 token，同一实例的多次获取互不重入
	token := b.identity + ":" + uuid.NewString()
	now := metav1.NewMicroTime(time.Now())
	duration := b.durationSeconds()

	cur, err := leases.Get(ctx, name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		_, err = leases.Create(ctx, &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:        name,
				Namespace:   b.namespace,
				Labels:      map[string]string{managedByLabel: managedByValue},
				Annotations: map[string]string{"xlockkit/key": key},
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &token,
				LeaseDurationSeconds: &duration,
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			return nil, errBusy
		}
		if err != nil {
			return nil, fmt.Errorf("xdlock: create lease: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("xdlock: get lease: %w", err)
	default:
		if !b.available(cur, time.Now()) {
			return nil, errBusy
		}
		cur.Spec.HolderIdentity = &token
		cur.Spec.LeaseDurationSeconds = &duration
		cur.Spec.AcquireTime = &now
		cur.Spec.RenewTime = &now
		if _, err := leases.Update(ctx, cur, metav1.UpdateOptions{}); err != nil {
			if apierrors.IsConflict(err) {
				return nil, errBusy
			}
			return nil, fmt.Errorf("xdlock: update lease: %w", err)
		}
	}

	l := &k8sLease{
		b:      b,
		name:   name,
		token:  token,
		lostCh: make(chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.renew()
	return l, nil
}

// available 无持有者或已过期（含时钟偏移容忍）时可获取。
func (b *k8sBackend) available(l *coordinationv1.Lease, now time.Time) bool {
	if l.Spec.HolderIdentity == nil || *l.Spec.HolderIdentity == "" {
		return true
	}
	if l.Spec.RenewTime == nil || l.Spec.LeaseDurationSeconds == nil {
		return true
	}
	d := time.Duration(*l.Spec.LeaseDurationSeconds) * time.Second
	return now.After(l.Spec.RenewTime.Add(d + b.clockSkew))
}

// evict 删除 Lease，持有者在下一次续期时发现失锁。
func (b *k8sBackend) evict(ctx context.Context, key string) error {
	err := b.client.CoordinationV1().Leases(b.namespace).Delete(ctx, leaseName(key), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("xdlock: delete lease: %w", err)
	}
	return nil
}

func (b *k8sBackend) health(ctx context.Context) error {
	_, err := b.client.CoordinationV1().Leases(b.namespace).List(ctx, metav1.ListOptions{Limit: 1})
	return err
}

func (b *k8sBackend) close() error { return nil }

// k8sLease 每 expiry/3 续期。Lease 被删除或持有者变更即失锁；
// API 持续不可用超过 expiry 同样视为失锁。
type k8sLease struct {
	b     *k8sBackend
	name  string
	token string

	lostCh   chan struct{}
	lostErr  error
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

func (l *k8sLease) lost() <-chan struct{} { return l.lostCh }

func (l *k8sLease) cause() error { return l.lostErr }

func (l *k8sLease) renew() {
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
		err := l.renewOnce(ctx)
		cancel()
		switch {
		case err == nil:
			lastOK = time.Now()
		case errors.Is(err, ErrLeaseLost):
			l.markLost(err)
			return
		case time.Since(lastOK) >= l.b.expiry:
			l.markLost(fmt.Errorf("%w: %w", ErrLeaseLost, err))
			return
		default:
			l.b.logger.Warn(context.Background(), "renew lease failed, will retry",
				xlog.LockName(l.name), xlog.Err(err))
		}
	}
}

func (l *k8sLease) markLost(err error) {
	l.lostErr = err
	close(l.lostCh)
}

func (l *k8sLease) renewOnce(ctx context.Context) error {
	leases := l.b.client.CoordinationV1().Leases(l.b.namespace)
	cur, err := leases.Get(ctx, l.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return ErrLeaseLost
	}
	if err != nil {
		return err
	}
	if !l.ownedBy(cur) {
		return ErrLeaseLost
	}
	now := metav1.NewMicroTime(time.Now())
	duration := l.b.durationSeconds()
	cur.Spec.RenewTime = &now
	cur.Spec.LeaseDurationSeconds = &duration
	_, err = leases.Update(ctx, cur, metav1.UpdateOptions{})
	return err
}

func (l *k8sLease) ownedBy(cur *coordinationv1.Lease) bool {
	return cur.Spec.HolderIdentity != nil && *cur.Spec.HolderIdentity == l.token
}

// release 清除持有者而不删除 Lease，保留资源供后续获取复用。
func (l *k8sLease) release(ctx context.Context) error {
	l.releaseOnce.Do(func() {
		l.stopOnce.Do(func() { close(l.stop) })
		<-l.done
		select {
		case <-l.lostCh:
			return
		default:
		}
		leases := l.b.client.CoordinationV1().Leases(l.b.namespace)
		cur, err := leases.Get(ctx, l.name, metav1.GetOptions{})
		switch {
		case apierrors.IsNotFound(err):
			return
		case err != nil:
			l.releaseErr = err
			return
		case !l.ownedBy(cur):
			l.releaseErr = ErrLeaseLost
			return
		}
		cur.Spec.HolderIdentity = nil
		cur.Spec.AcquireTime = nil
		cur.Spec.RenewTime = nil
		if _, err := leases.Update(ctx, cur, metav1.UpdateOptions{}); err != nil {
			if apierrors.IsConflict(err) {
				err = ErrLeaseLost
			}
			l.releaseErr = err
		}
	})
	return l.releaseErr
}

// leaseName 将 key 转换为合法的资源名（小写字母、数字、'-'，不超过 63 字节）。
// 转换改变了内容或发生截断时追加原始 key 的 hash 后缀，避免 "a.b" 与 "a/b" 碰撞。
func leaseName(key string) string {
	lowered := strings.ToLower(key)
	name := leaseNameInvalid.ReplaceAllString(lowered, "-")
	name = leaseNameCollapse.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if name == lowered && len(name) <= leaseNameMaxLen && name != "" {
		return name
	}
	sum := sha256.Sum256([]byte(key))
	suffix := hex.EncodeToString(sum[:])[:leaseHashLen]
	if limit := leaseNameMaxLen - 1 - leaseHashLen; len(name) > limit {
		name = strings.TrimRight(name[:limit], "-")
	}
	if name == "" {
		return "l-" + suffix
	}
	return name + "-" + suffix
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
