// Package xref 提供可观察的状态单元 Ref。
//
// Ref 是宿主框架管理的响应式单元的 Go 表达：持有一个值，赋值发生变化时
// 同步通知所有监听者。xleader 用它暴露 IsLeader，并通过它接收锁名变化。
//
// # 语义
//
//   - Set 写入与当前值相等的值时不通知（与常见响应式框架一致）
//   - 监听回调在 Set 的调用 goroutine 中同步执行，且在内部锁之外执行，
//     回调中可以安全地 Get/Set 同一个 Ref
//   - Watch 返回的 stop 函数幂等
//   - WithImmediate 使 Watch 立即以当前值回调一次（oldV 为零值）
//
// # 使用模式
//
//	name := xref.New("leader")
//	stop := name.Watch(func(newV, oldV string) {
//	    fmt.Println(oldV, "->", newV)
//	})
//	defer stop()
//	name.Set("leader-v2")
package xref
