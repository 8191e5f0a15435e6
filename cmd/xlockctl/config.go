package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/omeyang/xlockkit/pkg/config/xconf"
	"github.com/omeyang/xlockkit/pkg/observability/xlog"
)

const (
	backendLocal = "local"
	backendRedis = "redis"
	backendEtcd  = "etcd"
	backendK8s   = "k8s"
)

var (
	errUnknownBackend = errors.New("unknown backend")
	errMissingAddrs   = errors.New("backend requires at least one address")
	errEmptyLockName  = errors.New("lock.name must not be empty")
)

// Config xlockctl 配置。
type Config struct {
	Backend string        `koanf:"backend"`
	Lock    LockConfig    `koanf:"lock"`
	Redis   RedisConfig   `koanf:"redis"`
	Etcd    EtcdConfig    `koanf:"etcd"`
	K8s     K8sConfig     `koanf:"k8s"`
	Breaker BreakerConfig `koanf:"breaker"`
	Log     LogConfig     `koanf:"log"`
}

// LockConfig 锁配置。elect 运行期间修改 name 会触发重新竞选。
// ForceRelease 控制 hold 在收到信号时是否不等回调结束直接返回。
type LockConfig struct {
	Name         string `koanf:"name"`
	KeyPrefix    string `koanf:"key_prefix"`
	ForceRelease bool   `koanf:"force_release"`
}

// RedisConfig Redis 后端配置，多个地址时使用 Redlock。
type RedisConfig struct {
	Addrs  []string      `koanf:"addrs"`
	Expiry time.Duration `koanf:"expiry"`
}

// EtcdConfig etcd 后端配置。
type EtcdConfig struct {
	Endpoints   []string      `koanf:"endpoints"`
	TTL         int           `koanf:"ttl"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

// K8sConfig K8s Lease 后端配置。Kubeconfig 为空时使用 InClusterConfig。
type K8sConfig struct {
	Namespace  string        `koanf:"namespace"`
	Kubeconfig string        `koanf:"kubeconfig"`
	Expiry     time.Duration `koanf:"expiry"`
}

// BreakerConfig 分布式后端熔断配置，Failures 为 0 时不启用。
type BreakerConfig struct {
	Failures uint32        `koanf:"failures"`
	Timeout  time.Duration `koanf:"timeout"`
}

// LogConfig 日志配置，File 非空时按大小轮转写入文件。
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

func defaultConfig() Config {
	return Config{
		Backend: backendLocal,
		Lock:    LockConfig{Name: "xlockctl-leader", KeyPrefix: "lock:", ForceRelease: true},
		Redis:   RedisConfig{Expiry: 8 * time.Second},
		Etcd:    EtcdConfig{TTL: 60, DialTimeout: 5 * time.Second},
		K8s:     K8sConfig{Expiry: 15 * time.Second},
		Breaker: BreakerConfig{Timeout: 30 * time.Second},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// loadConfig 在默认配置上叠加文件内容。path 为空时返回默认配置和 nil 源。
func loadConfig(path string) (Config, xconf.Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil, nil
	}
	src, err := xconf.New(path)
	if err != nil {
		return cfg, nil, err
	}
	if err := src.Unmarshal("", &cfg); err != nil {
		return cfg, nil, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, nil, err
	}
	return cfg, src, nil
}

func (c Config) validate() error {
	if c.Lock.Name == "" {
		return errEmptyLockName
	}
	switch c.Backend {
	case backendLocal, backendK8s:
	case backendRedis:
		if len(c.Redis.Addrs) == 0 {
			return fmt.Errorf("%w: redis", errMissingAddrs)
		}
	case backendEtcd:
		if len(c.Etcd.Endpoints) == 0 {
			return fmt.Errorf("%w: etcd", errMissingAddrs)
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, c.Backend)
	}
	return nil
}

// buildLogger 按配置创建 logger，level 非空时覆盖配置。
func buildLogger(c LogConfig, level string) (xlog.LoggerWithLevel, func() error, error) {
	if level == "" {
		level = c.Level
	}
	b := xlog.New().SetLevelString(level).SetFormat(c.Format)
	if c.File != "" {
		b = b.SetRotation(c.File, xlog.WithMaxSizeMB(50), xlog.WithMaxBackups(3))
	}
	return b.Build()
}
