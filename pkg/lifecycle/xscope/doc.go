// Package xscope 提供可释放的作用域，用于把一组 goroutine 与清理动作绑定到同一生命周期。
//
// # 核心概念
//
// Scope 持有一个 context：Dispose 时以 [ErrDisposed] 为 cause 取消它，
// 然后按注册的逆序（LIFO）执行 OnDispose 钩子，最后等待 Go 启动的 goroutine 退出。
//
//	s := xscope.New(ctx, xscope.WithName("leader"))
//	defer s.Dispose()
//
//	s.OnDispose(func() { coordinator.Close() })
//	s.Go(func(ctx context.Context) error {
//	    <-ctx.Done()
//	    return nil
//	})
//
// # 父子关系
//
// 父 context 取消时 Scope 自动释放，cause 包装父 context 的 cause。
// [Scope.Child] 创建随父 Scope 一起释放的子 Scope。
//
// # 信号
//
// [WithSignals] 在收到指定系统信号时释放 Scope，cause 为 [*SignalError]。
package xscope
