package xlocks

import "context"

// Run 是 Request 的泛型封装，返回 fn 的类型化结果。
func Run[T any](ctx context.Context, c *Coordinator, name string, fn func(ctx context.Context) (T, error), opts ...RequestOption) (T, error) {
	var zero T
	if fn == nil {
		return zero, ErrNilCallback
	}
	v, err := c.Request(ctx, name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, opts...)
	if t, ok := v.(T); ok {
		return t, err
	}
	return zero, err
}
