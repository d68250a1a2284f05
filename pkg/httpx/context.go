package httpx

import "context"

type ctxKey string

const (
	CtxKeyClientID ctxKey = "client_id"
	CtxKeyScopes   ctxKey = "scopes"
	CtxKeyRole     ctxKey = "role"
)

// WithIdentity stashes the authorized caller's identity in ctx for downstream
// handlers.
func WithIdentity(ctx context.Context, clientID string, scopes []string, role string) context.Context {
	ctx = context.WithValue(ctx, CtxKeyClientID, clientID)
	ctx = context.WithValue(ctx, CtxKeyScopes, scopes)
	return context.WithValue(ctx, CtxKeyRole, role)
}

// ClientIDFromCtx returns the authorized client id, or "" when unauthenticated.
func ClientIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyClientID).(string); ok {
		return v
	}
	return ""
}

// ScopesFromCtx returns the authorized scopes, or nil when unauthenticated.
func ScopesFromCtx(ctx context.Context) []string {
	if v, ok := ctx.Value(CtxKeyScopes).([]string); ok {
		return v
	}
	return nil
}

// RoleFromCtx returns the authorized role, or "" when unauthenticated.
func RoleFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyRole).(string); ok {
		return v
	}
	return ""
}
