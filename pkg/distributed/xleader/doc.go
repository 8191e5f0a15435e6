// Package xleader 基于 xlocks 的单锁名 leader 选举。
//
// 多个执行上下文以同一锁名创建 Elector，任一时刻至多一个成为 leader。
// [Elector.IsLeader] 是可监听的布尔值；[Elector.AsLeader] 仅在当前持有锁时执行工作负载，
// 并把该次持锁的取消信号传给它。
//
//	name := xref.New("jobs-leader")
//	e, err := xleader.New(platform, name.Readonly(), xleader.WithScope(scope))
//	if err != nil {
//	    return err
//	}
//	e.IsLeader().Watch(func(leader, _ bool) {
//	    log.Printf("leader=%v", leader)
//	})
//	e.AsLeader(func(signal context.Context) {
//	    runJobs(signal)
//	})
//
// # 状态机
//
// Contending（排队）→ Leading（持锁）→ Contending（锁名变更或被抢占）或 Released（关闭）。
// 锁名变化时先释放当前持有，再以新名称重新请求。被 steal 抢占后自动重新排队。
//
// # 平台不支持锁
//
// 平台不具备锁能力时不发起任何请求，AsLeader 总是以永不取消的 context 执行工作负载并返回 true。
//
// # 错误
//
// ErrLockHeld、ErrLockStolen、ErrScopeDisposed 属于选举失败的正常结果，不对外暴露。
// 其他错误（如锁名非法）视为配置错误：记录到 [Elector.Err]、回调 [WithErrorHandler] 并停止竞选。
package xleader
