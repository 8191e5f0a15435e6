package xlockmgr

import (
	"errors"
	"fmt"

	"github.com/omeyang/xlockkit/pkg/distributed/xlocks"
)

var (
	// ErrInvalidName 锁名为空或以保留前缀 "-" 开头。
	ErrInvalidName = errors.New("xlockmgr: invalid lock name")

	// ErrClosed Manager 已关闭。
	ErrClosed = errors.New("xlockmgr: closed")

	// ErrMaxNamesExceeded 活跃锁名数量达到上限。
	ErrMaxNamesExceeded = errors.New("xlockmgr: max lock names exceeded")

	// ErrInvalidShardCount 分片数不是 2 的幂或越界。
	ErrInvalidShardCount = errors.New("xlockmgr: invalid shard count")

	// ErrStolen 持有的锁被 steal 请求抢占，包装 xlocks.ErrPreempted。
	ErrStolen = fmt.Errorf("xlockmgr: lock stolen: %w", xlocks.ErrPreempted)
)
