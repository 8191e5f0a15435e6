// Package xmetrics 提供统一的可观测性接口（metrics + tracing）。
//
// 业务代码只依赖 Observer/Span/Attr 接口，默认实现基于 OpenTelemetry。
//
//	obs, _ := xmetrics.NewOTelObserver()
//	ctx, span := xmetrics.Start(ctx, obs, xmetrics.SpanOptions{
//		Component: "xlocks",
//		Operation: "lock.request",
//		Attrs:     []xmetrics.Attr{xmetrics.LockName("jobs")},
//	})
//	defer span.End(xmetrics.Result{Err: err})
//
// # 指标命名
//
//   - xlockkit.operation.total
//   - xlockkit.operation.duration
//
// 统一属性：component / operation / status，以及结果中的 lock.outcome（如有）。
package xmetrics
