package auth

import "context"

type contextKey struct{}

// Identity is the authenticated caller of a billing request.
type Identity struct {
	TenantID string
	Role     Role
	Subject  string
}

// Actor names the caller in audit entries.
func (i Identity) Actor() string {
	return i.Subject
}

// WithIdentity stores the caller identity in context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// IdentityFromContext returns the caller identity, if the request was authenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	identity, ok := ctx.Value(contextKey{}).(Identity)
	return identity, ok
}

// TenantIDFromContext returns the caller tenant, or "" for anonymous requests.
func TenantIDFromContext(ctx context.Context) string {
	identity, _ := IdentityFromContext(ctx)
	return identity.TenantID
}
