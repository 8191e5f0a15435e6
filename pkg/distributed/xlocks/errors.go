package xlocks

import "errors"

// 协调协议的三个哨兵错误，属于正常竞争结果，见 [IsExpected]。
var (
	// ErrLockHeld ifAvailable 请求发现锁已被持有，回调未执行。
	ErrLockHeld = errors.New("xlocks: lock is held")

	// ErrLockStolen 持锁期间被其他 steal 请求抢占。
	ErrLockStolen = errors.New("xlocks: lock was stolen")

	// ErrScopeDisposed 协调器已关闭，或请求在获得锁之前被取消。
	ErrScopeDisposed = errors.New("xlocks: scope disposed")
)

var (
	// ErrInvalidOptions 请求选项组合非法，未调用平台。
	ErrInvalidOptions = errors.New("xlocks: invalid lock options")

	// ErrNotSupported 平台不支持锁。
	ErrNotSupported = errors.New("xlocks: locks not supported on this platform")

	// ErrNilCallback 回调为 nil。
	ErrNilCallback = errors.New("xlocks: nil callback")

	// ErrNilPlatform 平台为 nil。
	ErrNilPlatform = errors.New("xlocks: nil platform")

	// ErrCallbackPanic 回调 panic。
	ErrCallbackPanic = errors.New("xlocks: callback panicked")

	// ErrNotGranted 平台未授予锁也未返回错误，属于平台实现缺陷。
	ErrNotGranted = errors.New("xlocks: platform returned without granting")

	// ErrPreempted 平台用于标记"持有的锁被抢占"，平台返回的错误应包装它。
	ErrPreempted = errors.New("xlocks: lock preempted")
)

// IsExpected 报告 err 是否为锁竞争的正常结果（held、stolen、disposed）。
func IsExpected(err error) bool {
	return errors.Is(err, ErrLockHeld) ||
		errors.Is(err, ErrLockStolen) ||
		errors.Is(err, ErrScopeDisposed)
}
