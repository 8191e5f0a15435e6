package xlockmgr

import (
	"fmt"

	"github.com/omeyang/xlockkit/pkg/observability/xlog"
)

const (
	defaultShardCount = 32
	maxShardCount     = 1 << 16
)

// Option 定义 Manager 可选配置。
type Option func(*options)

type options struct {
	maxNames   int
	shardCount int
	logger     xlog.Logger
}

func defaultOptions() *options {
	return &options{
		shardCount: defaultShardCount,
		logger:     xlog.Discard(),
	}
}

// WithMaxNames 限制同时存在（持有或排队）的锁名数量，n <= 0 表示不限制（默认）。
func WithMaxNames(n int) Option {
	if n < 0 {
		n = 0
	}
	return func(o *options) {
		o.maxNames = n
	}
}

// WithShardCount 设置分片数量，必须为 2 的幂且不超过 65536。默认 32。
func WithShardCount(n int) Option {
	return func(o *options) {
		o.shardCount = n
	}
}

// WithLogger 设置日志记录器，nil 被忽略。
func WithLogger(l xlog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func (o *options) validate() error {
	sc := o.shardCount
	if sc <= 0 || sc > maxShardCount || sc&(sc-1) != 0 {
		return fmt.Errorf("%w: must be a positive power of 2 (max %d), got %d",
			ErrInvalidShardCount, maxShardCount, sc)
	}
	return nil
}
