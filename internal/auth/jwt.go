package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// clockSkew is the leeway applied to exp, nbf and iat.
const clockSkew = 30 * time.Second

// Claims carries the tenant and role of a billing operator. The registered
// subject names the operator in audit entries.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Identity converts validated claims into a request identity.
func (c *Claims) Identity() Identity {
	role, _ := NormalizeRole(c.Role)
	return Identity{TenantID: c.TenantID, Role: role, Subject: c.Subject}
}

// ParseJWT validates an HS256 token and returns its claims. Every failure
// wraps ErrInvalidToken; claim problems additionally wrap their own sentinel.
func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrMissingTenant)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrMissingSubject)
	}
	if _, ok := NormalizeRole(claims.Role); !ok {
		return nil, fmt.Errorf("%w: %w %q", ErrInvalidToken, ErrInvalidRole, claims.Role)
	}
	return claims, nil
}
