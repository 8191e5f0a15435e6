package xdlock

import (
	"errors"
	"fmt"

	"github.com/omeyang/xlockkit/pkg/distributed/xlocks"
)

var (
	// ErrNilClient 客户端为空。
	ErrNilClient = errors.New("xdlock: client is nil")

	// ErrPlatformClosed 平台已关闭。
	ErrPlatformClosed = errors.New("xdlock: platform is closed")

	// ErrModeNotSupported 分布式后端只支持排他锁。
	ErrModeNotSupported = errors.New("xdlock: only exclusive mode is supported")

	// ErrEmptyKey 锁名为空或仅含空白。
	ErrEmptyKey = errors.New("xdlock: key must not be empty")

	// ErrKeyTooLong 锁名超过长度限制。
	ErrKeyTooLong = fmt.Errorf("xdlock: key exceeds maximum length of %d bytes", maxKeyLength)

	// ErrSessionExpired etcd Session 已过期，需要重新创建平台。
	ErrSessionExpired = errors.New("xdlock: session expired")

	// ErrCircuitOpen 后端连续失败触发熔断，请求未发往后端。
	ErrCircuitOpen = errors.New("xdlock: circuit breaker open")

	// ErrLeaseLost 持有期间失去锁（被 steal 删除、续期失败或 Session 过期）。
	// 包装 xlocks.ErrPreempted，协调器据此判定为被抢占。
	ErrLeaseLost = fmt.Errorf("xdlock: lease lost: %w", xlocks.ErrPreempted)
)

// errBusy 锁被其他持有者占用，仅在获取循环内部使用。
var errBusy = errors.New("xdlock: lock is held by another owner")
