package xdlock

import (
	"strings"
	"time"

	"github.com/omeyang/xlockkit/pkg/observability/xlog"
	"github.com/omeyang/xlockkit/pkg/observability/xmetrics"
)

const maxKeyLength = 512

// Option 配置平台。
type Option func(*options)

type options struct {
	keyPrefix     string
	expiry        time.Duration
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	etcdTTL       int
	namespace     string
	identity      string
	clockSkew     time.Duration

	breakerFailures uint32
	breakerTimeout  time.Duration

	logger   xlog.Logger
	observer xmetrics.Observer
}

func defaultOptions() *options {
	return &options{
		keyPrefix:     "lock:",
		expiry:        8 * time.Second,
		retryDelay:    50 * time.Millisecond,
		maxRetryDelay: time.Second,
		etcdTTL:       60,
		clockSkew:     2 * time.Second,
		logger:        xlog.Discard(),
		observer:      xmetrics.NoopObserver{},
	}
}

// WithKeyPrefix 设置后端 key 前缀，最终 key = prefix + name。默认 "lock:"。
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		o.keyPrefix = prefix
	}
}

// WithExpiry 设置 Redis 锁的过期时间，看门狗每 expiry/3 续期一次。默认 8s。
func WithExpiry(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.expiry = d
		}
	}
}

// WithRetryDelay 设置阻塞获取的初始重试间隔。默认 50ms。
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// WithMaxRetryDelay 设置指数退避的最大间隔。默认 1s。
func WithMaxRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxRetryDelay = d
		}
	}
}

// WithEtcdTTL 设置 etcd Session TTL（秒）。默认 60。
//
// 进程崩溃后其他实例最多等待 TTL 才能获得锁。
func WithEtcdTTL(ttl int) Option {
	return func(o *options) {
		if ttl > 0 {
			o.etcdTTL = ttl
		}
	}
}

// WithNamespace 设置 K8s Lease 所在命名空间。
// 默认读取环境变量 POD_NAMESPACE，未设置时为 "default"。
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithIdentity 设置 K8s Lease 持有者标识的前缀，便于排查。
// 默认读取环境变量 POD_NAME，未设置时为 hostname-pid。
func WithIdentity(id string) Option {
	return func(o *options) {
		o.identity = id
	}
}

// WithClockSkew 设置判断 K8s Lease 过期时的时钟偏移容忍度。默认 2s，负值视为 0。
func WithClockSkew(d time.Duration) Option {
	return func(o *options) {
		o.clockSkew = max(d, 0)
	}
}

// WithCircuitBreaker 连续 failures 次后端错误后熔断 openTimeout，
// 期间请求直接返回 [ErrCircuitOpen]。锁被占用不计为失败。failures 为 0 时不启用。
func WithCircuitBreaker(failures uint32, openTimeout time.Duration) Option {
	return func(o *options) {
		o.breakerFailures = failures
		o.breakerTimeout = openTimeout
	}
}

// WithLogger 设置日志记录器，nil 被忽略。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver 设置观测器，记录每次获取的耗时与结果。
func WithObserver(obs xmetrics.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if len(key) > maxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}
