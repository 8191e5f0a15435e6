// Package xlockmgr 进程内的具名锁管理器，实现 Web Locks 请求算法。
//
// Manager 相当于一个"源"（origin）：同一 Manager 下的所有 Client 竞争同一组锁名，
// 每个 Client 实现 [xlocks.Platform]，可直接交给 xlocks.New 或 xleader.New。
//
// # 算法
//
//   - 每个锁名维护持有集合与 FIFO 请求队列
//   - exclusive 与任何持有者冲突，shared 只与 exclusive 持有者冲突
//   - 队列从队首开始授予，连续的兼容请求一并授予
//   - ifAvailable：队列为空且无冲突时立即授予，否则以 held=false 回调
//   - steal：抢占该名下所有持有者（其 lock ctx 以 [ErrStolen] 取消），请求插入队首
//
// 锁名为空或以 "-" 开头时返回 [ErrInvalidName]。
//
//	m, _ := xlockmgr.New()
//	defer m.Close()
//	tab1, tab2 := m.NewClient(), m.NewClient()
package xlockmgr
