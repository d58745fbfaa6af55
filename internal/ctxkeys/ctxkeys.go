package ctxkeys

import "context"

// TraceIDKey 上下文中的追踪ID键
type TraceIDKey struct{}

// WithTraceID 在上下文中写入追踪ID
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey{}, id)
}

// TraceID 读取上下文中的追踪ID，不存在时返回空串
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey{}).(string); ok {
		return v
	}
	return ""
}
