// Package distributed 提供锁协调与 leader 选举相关的子包。
//
// 子包列表：
//   - xlocks: 锁协调器，将锁平台的原始回调归类为持有、未命中、被抢占、已释放四种结果
//   - xlockmgr: 进程内锁平台，按锁名分片的 FIFO 请求队列，支持共享/独占、ifAvailable 与 steal
//   - xdlock: 分布式锁平台，支持 Redis（redsync）、etcd 与 K8s Lease 后端
//   - xleader: 基于锁的 leader 选举，锁名变化时自动重新竞选
//
// 设计原则：
//   - 平台只需实现 [xlocks.Platform]，协调与选举逻辑与后端无关
//   - 取消一律通过 context 传递，取消原因可用 context.Cause 读取
//   - 持锁期间失去锁时取消持锁 context，原因包装 xlocks.ErrPreempted
package distributed
