// Package xconf 基于 koanf 的配置加载器，支持 YAML/JSON、并发安全的重载和 fsnotify 文件监视。
//
// xconf 只负责加载、反序列化和热重载，不做必选字段校验和默认值注入。
//
//	cfg, err := xconf.New("/etc/xlockctl/config.yaml")
//	if err != nil {
//	    return err
//	}
//	var c AppConfig
//	if err := cfg.Unmarshal("", &c); err != nil {
//	    return err
//	}
//
// # 并发
//
// Reload 串行执行，解析成功后原子替换 koanf 实例；Client 无锁读取当前快照。
// 快照在 Reload 后仍然可用，但不再更新，应每次使用时重新获取。
//
// # 监视
//
// [Watch] 监视配置文件所在目录，内置防抖。[Bind] 把重载后的某个值推送到 xref.Ref，
// 例如让 leader 选举跟随配置中的锁名变化。从字节数据创建的 Config 不支持监视。
package xconf
