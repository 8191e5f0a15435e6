package xlog

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// EnrichHandler 从 context 提取 OTel span 信息与 [ContextWith] 附加的属性并注入日志。
//
// 装饰模式，Handle 时追加 trace_id、span_id（存在有效 SpanContext 时）
// 以及 ctx 上累积的属性。缺失时不做任何事。
type EnrichHandler struct {
	base slog.Handler
}

// NewEnrichHandler 创建 EnrichHandler
//
// 设计决策: 调用 WithGroup 后 enrich 属性会被归入 group 下，这是 slog handler
// 架构的固有限制。需要顶层 trace_id 时不要对带 enrich 的 logger 调用 WithGroup。
func NewEnrichHandler(base slog.Handler) (*EnrichHandler, error) {
	if base == nil {
		return nil, ErrNilHandler
	}
	return &EnrichHandler{base: base}, nil
}

// Enabled 委托给底层 handler
func (h *EnrichHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle 按 slog 契约 Clone record 后再追加属性
func (h *EnrichHandler) Handle(ctx context.Context, r slog.Record) error {
	var buf [8]slog.Attr
	attrs := AppendContextAttrs(buf[:0], ctx)
	if len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.base.Handle(ctx, r)
}

// WithAttrs 返回带额外属性的新 handler
func (h *EnrichHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &EnrichHandler{base: h.base.WithAttrs(attrs)}
}

// WithGroup 返回带分组的新 handler
func (h *EnrichHandler) WithGroup(name string) slog.Handler {
	return &EnrichHandler{base: h.base.WithGroup(name)}
}

type ctxAttrsKey struct{}

// ContextWith 返回携带额外日志属性的 context，经 EnrichHandler 的 logger 会自动输出它们。
// 多次调用按顺序累积。
func ContextWith(ctx context.Context, attrs ...slog.Attr) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(attrs) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(ctxAttrsKey{}).([]slog.Attr)
	merged := make([]slog.Attr, 0, len(prev)+len(attrs))
	merged = append(merged, prev...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, ctxAttrsKey{}, merged)
}

// AppendContextAttrs 将 ctx 中的 trace 信息与 ContextWith 属性追加到 dst。
// ctx 为 nil 时原样返回。
func AppendContextAttrs(dst []slog.Attr, ctx context.Context) []slog.Attr {
	if ctx == nil {
		return dst
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		dst = append(dst,
			slog.String(KeyTraceID, sc.TraceID().String()),
			slog.String(KeySpanID, sc.SpanID().String()),
		)
	}
	if extra, ok := ctx.Value(ctxAttrsKey{}).([]slog.Attr); ok {
		dst = append(dst, extra...)
	}
	return dst
}
