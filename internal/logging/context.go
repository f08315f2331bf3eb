package logging

import (
	"context"

	"go.uber.org/zap"
)

type tenantCtxKey struct{}
type folderCtxKey struct{}
type requestCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if tenant := TenantFromContext(ctx); tenant != "" {
		fields = append(fields, zap.String("tenant_id", tenant))
	}
	if folder := FolderFromContext(ctx); folder != "" {
		fields = append(fields, zap.String("folder_id", folder))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return fields
}

// WithTenant adds the tenant identifier to context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenantID)
}

// TenantFromContext extracts the tenant identifier, or "".
func TenantFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(tenantCtxKey{}).(string); ok {
		return t
	}
	return ""
}

// WithFolder adds the folder identifier to context.
func WithFolder(ctx context.Context, folderID string) context.Context {
	return context.WithValue(ctx, folderCtxKey{}, folderID)
}

// FolderFromContext extracts the folder identifier, or "".
func FolderFromContext(ctx context.Context) string {
	if f, ok := ctx.Value(folderCtxKey{}).(string); ok {
		return f
	}
	return ""
}

// WithRequestID adds a request identifier to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request identifier, or "".
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}
