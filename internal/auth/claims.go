package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "authvital"

// ErrInvalidTenantToken indicates the tenant-context token failed validation.
var ErrInvalidTenantToken = errors.New("auth: invalid tenant token")

// TenantClaims carries the authenticated tenant membership claim. Tenant ids
// for tenant-scoped mutations come only from here, never from request input.
type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// SignTenantToken issues an HS256 token binding a user to a tenant.
func SignTenantToken(secret []byte, userID, tenantID string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	tenantID = strings.TrimSpace(tenantID)
	if userID == "" || tenantID == "" {
		return "", errors.New("userID and tenantID are required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	now := time.Now().UTC()
	claims := TenantClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign tenant token: %w", err)
	}
	return signed, nil
}

// ParseTenantToken verifies the signature and required claims.
func ParseTenantToken(secret []byte, token string) (*TenantClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidTenantToken
	}
	parsed, err := jwt.ParseWithClaims(token, &TenantClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidTenantToken
		}
		return secret, nil
	})
	if err != nil {
		return nil, ErrInvalidTenantToken
	}
	claims, ok := parsed.Claims.(*TenantClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidTenantToken
	}
	if claims.Issuer != issuer {
		return nil, ErrInvalidTenantToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.TenantID) == "" {
		return nil, ErrInvalidTenantToken
	}
	if claims.ExpiresAt == nil || time.Now().After(claims.ExpiresAt.Time) {
		return nil, ErrInvalidTenantToken
	}
	return claims, nil
}
