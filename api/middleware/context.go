package middleware

import "context"

type contextKey string

const ctxRegistryID contextKey = "registry_id"

// RegistryIDFromContext returns the registry the request is scoped to.
func RegistryIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRegistryID).(string); ok {
		return v
	}
	return ""
}

// WithRegistryID injects the registry identifier into the context for downstream handlers.
func WithRegistryID(ctx context.Context, registryID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRegistryID, registryID)
}
