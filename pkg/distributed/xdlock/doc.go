// Package xdlock 提供基于 Redis（redsync）、etcd（concurrency）和 K8s Lease 的 xlocks.Platform 实现，
// 使协调器与 leader 选举可以跨进程工作。
//
// # 创建平台
//
//	p, err := xdlock.NewRedisPlatform([]redis.UniversalClient{rdb},
//	    xdlock.WithKeyPrefix("myapp:lock:"),
//	    xdlock.WithExpiry(10*time.Second),
//	)
//	coord, err := xlocks.New(p)
//
//	p, err := xdlock.NewEtcdPlatform(etcdClient, xdlock.WithEtcdTTL(30))
//
//	p, err := xdlock.NewK8sPlatform(nil, xdlock.WithNamespace("jobs")) // InClusterConfig
//
// # 语义差异
//
//   - 只支持排他锁，shared 请求返回 [ErrModeNotSupported]
//   - 阻塞请求以指数退避轮询（retry-go），不保证 FIFO
//   - steal 先删除现有持有再获取；原持有者在下一次续期（Redis）或 watch 事件（etcd）时
//     发现失锁，其请求返回包装 [ErrLeaseLost] 的错误，协调器归类为 ErrLockStolen
//   - 进程崩溃后锁在 expiry（Redis、K8s）或 Session TTL（etcd）后自动释放
//
// # 熔断
//
// [WithCircuitBreaker] 在后端连续出错时暂停访问，请求直接返回 [ErrCircuitOpen]。
// 锁被占用不计为失败。
//
// # 生命周期
//
// Platform 不持有调用方传入的客户端，Close 只中止排队中的请求。
package xdlock
