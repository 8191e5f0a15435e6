package xconf

import "github.com/omeyang/xlockkit/pkg/reactive/xref"

// Bind 返回一个 WatchCallback：每次重载成功后以 get(cfg) 更新 ref。
// 重载失败时 ref 保持旧值；值未变化时不通知 ref 的监听者。
//
//	name := xref.New(cfg.Client().String("lock.name"))
//	w, _ := xconf.Watch(cfg, xconf.Bind(name, func(c xconf.Config) string {
//	    return c.Client().String("lock.name")
//	}))
func Bind[T comparable](ref *xref.Ref[T], get func(Config) T) WatchCallback {
	return func(cfg Config, err error) {
		if err != nil || ref == nil || get == nil {
			return
		}
		ref.Set(get(cfg))
	}
}

// Chain 依次调用多个回调，nil 被跳过。
func Chain(callbacks ...WatchCallback) WatchCallback {
	return func(cfg Config, err error) {
		for _, cb := range callbacks {
			if cb != nil {
				cb(cfg, err)
			}
		}
	}
}
