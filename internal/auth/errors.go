package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrTenantMismatch indicates the caller belongs to a different tenant.
	ErrTenantMismatch = errors.New("auth: tenant mismatch")
	ErrMissingTenant  = errors.New("auth: missing tenant_id")
	// ErrMissingSubject rejects tokens that cannot be attributed in the audit log.
	ErrMissingSubject = errors.New("auth: missing subject")
	ErrInvalidRole    = errors.New("auth: invalid role")
)
