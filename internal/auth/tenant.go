package auth

import "context"

// TenantGuard pins a deployment to one tenant's billing data.
type TenantGuard struct {
	tenantID string
}

// NewTenantGuard constructs a guard for tenantID. An empty tenant disables the check.
func NewTenantGuard(tenantID string) *TenantGuard {
	return &TenantGuard{tenantID: tenantID}
}

// TenantID returns the guarded tenant.
func (g *TenantGuard) TenantID() string {
	if g == nil {
		return ""
	}
	return g.tenantID
}

// Ensure verifies the identity in ctx belongs to the guarded tenant.
// Requests without an identity (auth disabled or exempt) pass.
func (g *TenantGuard) Ensure(ctx context.Context) error {
	if g == nil || g.tenantID == "" {
		return nil
	}
	tenantID := TenantIDFromContext(ctx)
	if tenantID == "" {
		return nil
	}
	if tenantID != g.tenantID {
		return ErrTenantMismatch
	}
	return nil
}
