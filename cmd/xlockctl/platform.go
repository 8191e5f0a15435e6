package main

import (
	"errors"

	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/omeyang/xlockkit/pkg/distributed/xdlock"
	"github.com/omeyang/xlockkit/pkg/distributed/xlockmgr"
	"github.com/omeyang/xlockkit/pkg/distributed/xlocks"
	"github.com/omeyang/xlockkit/pkg/observability/xlog"
	"github.com/omeyang/xlockkit/pkg/observability/xmetrics"
)

// openPlatform 按配置打开锁平台，返回的 closer 释放平台及底层客户端。
func openPlatform(cfg Config, logger xlog.Logger, obs xmetrics.Observer) (xlocks.Platform, func() error, error) {
	common := []xdlock.Option{
		xdlock.WithKeyPrefix(cfg.Lock.KeyPrefix),
		xdlock.WithCircuitBreaker(cfg.Breaker.Failures, cfg.Breaker.Timeout),
		xdlock.WithLogger(logger),
		xdlock.WithObserver(obs),
	}
	switch cfg.Backend {
	case backendLocal:
		mgr, err := xlockmgr.New(xlockmgr.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return mgr.NewClient(), mgr.Close, nil

	case backendRedis:
		// 每个地址一个独立实例，多实例时按 Redlock 多数派加锁
		clients := make([]redis.UniversalClient, 0, len(cfg.Redis.Addrs))
		for _, addr := range cfg.Redis.Addrs {
			clients = append(clients, redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}}))
		}
		closeClients := func() error {
			var errs []error
			for _, c := range clients {
				errs = append(errs, c.Close())
			}
			return errors.Join(errs...)
		}
		p, err := xdlock.NewRedisPlatform(clients, append(common, xdlock.WithExpiry(cfg.Redis.Expiry))...)
		if err != nil {
			return nil, nil, errors.Join(err, closeClients())
		}
		return p, func() error { return errors.Join(p.Close(), closeClients()) }, nil

	case backendEtcd:
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		p, err := xdlock.NewEtcdPlatform(client, append(common, xdlock.WithEtcdTTL(cfg.Etcd.TTL))...)
		if err != nil {
			return nil, nil, errors.Join(err, client.Close())
		}
		return p, func() error { return errors.Join(p.Close(), client.Close()) }, nil

	case backendK8s:
		var client kubernetes.Interface
		if cfg.K8s.Kubeconfig != "" {
			restCfg, err := clientcmd.BuildConfigFromFlags("", cfg.K8s.Kubeconfig)
			if err != nil {
				return nil, nil, err
			}
			if client, err = kubernetes.NewForConfig(restCfg); err != nil {
				return nil, nil, err
			}
		}
		p, err := xdlock.NewK8sPlatform(client, append(common,
			xdlock.WithNamespace(cfg.K8s.Namespace),
			xdlock.WithExpiry(cfg.K8s.Expiry),
		)...)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil

	default:
		return nil, nil, errUnknownBackend
	}
}
