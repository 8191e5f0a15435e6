package xmetrics

import "time"

// 锁相关属性名。
const (
	AttrLockName    = "lock.name"
	AttrLockMode    = "lock.mode"
	AttrIfAvailable = "lock.if_available"
	AttrSteal       = "lock.steal"
	AttrOutcome     = "lock.outcome"
	AttrBackend     = "lock.backend"
)

// String 创建字符串属性。
func String(key, value string) Attr {
	return Attr{Key: key, Value: value}
}

// Bool 创建布尔属性。
func Bool(key string, value bool) Attr {
	return Attr{Key: key, Value: value}
}

// Int 创建整数属性。
func Int(key string, value int) Attr {
	return Attr{Key: key, Value: value}
}

// Duration 创建时间间隔属性，OTel 中以纳秒记录。
func Duration(key string, value time.Duration) Attr {
	return Attr{Key: key, Value: value}
}

// LockName 锁名属性。
func LockName(name string) Attr { return String(AttrLockName, name) }

// LockMode 锁模式属性。
func LockMode(mode string) Attr { return String(AttrLockMode, mode) }

// Outcome 锁请求结果属性，会同时作为指标维度。
func Outcome(outcome string) Attr { return String(AttrOutcome, outcome) }

// Backend 锁平台属性（local/redis/etcd）。
func Backend(name string) Attr { return String(AttrBackend, name) }
