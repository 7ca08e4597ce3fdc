// Package context carries per-request values through context.Context.
package context

import "context"

type key int

const (
	requestIDKey key = iota
	tenantIDKey
)

func value(ctx context.Context, k key) string {
	v, _ := ctx.Value(k).(string)
	return v
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return value(ctx, requestIDKey)
}

// SetTenantID stores the mailbox owner the request acts for.
func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

func GetTenantID(ctx context.Context) string {
	return value(ctx, tenantIDKey)
}
