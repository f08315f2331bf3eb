package drive

import "context"

// TokenSource yields the bearer token for a tenant's drive account.
// The daemon does not own the OAuth flow; tokens come from the
// surrounding platform.
type TokenSource interface {
	Token(ctx context.Context, tenantID string) (string, error)
}

// StaticTokenSource returns one fixed token for every tenant. Used in
// single-tenant deployments and tests.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context, string) (string, error) {
	return string(s), nil
}
