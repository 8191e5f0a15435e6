// Package reactive 提供响应式状态相关的子包。
//
// 子包列表：
//   - xref: 可观察的状态单元（Ref），赋值时同步通知监听者
package reactive
