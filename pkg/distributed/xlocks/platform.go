package xlocks

import "context"

//go:generate mockgen -source=platform.go -destination=xlocksmock/platform_mock.go -package=xlocksmock

// Platform 具名锁仲裁平台。
//
// RequestLock 的约定：
//   - 阻塞直到获得锁；ctx 在获得锁之前取消时撤回请求并返回 context.Cause(ctx)
//   - ifAvailable 且无法立即获得时调用 grant(ctx, false) 并返回其结果
//   - 获得锁后调用 grant(lockCtx, true)，lockCtx 派生自 ctx；grant 返回后释放锁并返回 grant 的错误
//   - 持锁期间被抢占时以包装 [ErrPreempted] 的 cause 取消 lockCtx，并立即返回该错误，不等待 grant
//   - 名称非法等环境错误以平台自身的错误返回
type Platform interface {
	// Supported 报告平台是否具备锁能力。
	Supported() bool

	// RequestLock 请求名为 name 的锁。
	RequestLock(ctx context.Context, name string, opts LockOptions, grant GrantFunc) error
}

// GrantFunc 平台授予锁（held=true）或 ifAvailable 未命中（held=false）时的回调。
type GrantFunc func(ctx context.Context, held bool) error
