// Package xlocks 在具名锁平台之上提供可取消、无泄漏的请求协调器。
//
// # 模型
//
// 锁平台（[Platform]）负责跨执行上下文的互斥仲裁，语义参照 Web Locks：
// exclusive/shared 两种模式、ifAvailable（拿不到立即返回）与 steal（抢占当前持有者）。
// [Coordinator] 在其上增加：
//
//   - 请求选项校验：携带可取消 ctx 时不能与 ifAvailable/steal 同用，
//     steal 不能与 ifAvailable 或 shared 同用，违反时在调用平台前返回 [ErrInvalidOptions]
//   - 每个请求一个独立的取消 token，同时挂接调用方 ctx 与协调器自身的释放 token
//   - 将平台结果归类为三个哨兵错误：[ErrLockHeld]、[ErrLockStolen]、[ErrScopeDisposed]
//   - 开启 [WithForceRelease] 后，Close 会立即以 ErrScopeDisposed 结束所有持锁中的请求
//
// # 使用
//
//	c, err := xlocks.New(platform, xlocks.WithForceRelease(true))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	v, err := xlocks.Run(ctx, c, "jobs", func(ctx context.Context) (int, error) {
//	    // ctx 在调用方取消、协调器关闭或锁被抢占时取消
//	    return process(ctx)
//	})
//	switch {
//	case errors.Is(err, xlocks.ErrLockStolen):
//	case xlocks.IsExpected(err):
//	}
//
// # 取消
//
// 回调收到的 ctx 是协作式取消信号，协调器不会强行中止回调。
// 被抢占或被强制释放时 Request 立即返回，回调 goroutine 在观察到 ctx 取消后自行退出。
package xlocks
