package idtoken

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/reviewpulse/sessionauth"
)

// Claims is the ID token payload. The custom: names match the user pool
// attribute names.
type Claims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Role          string `json:"custom:role,omitempty"`
	TenantID      string `json:"custom:tenantId,omitempty"`
	// BrandID is the legacy name of TenantID.
	BrandID  string `json:"custom:brandId,omitempty"`
	TokenUse string `json:"token_use,omitempty"`
	jwt.RegisteredClaims
}

// Tenant returns TenantID, falling back to BrandID.
func (c Claims) Tenant() string {
	if t := strings.TrimSpace(c.TenantID); t != "" {
		return t
	}
	return strings.TrimSpace(c.BrandID)
}

// Attributes returns the profile attributes carried by the token.
func (c Claims) Attributes() sessionauth.Attributes {
	return sessionauth.Attributes{
		Email:    c.Email,
		Role:     c.Role,
		TenantID: c.Tenant(),
	}
}
