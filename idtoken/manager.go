package idtoken

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a shared secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodRS256 signs with an RSA key. Use it when tokens are checked by a
	// [Verifier].
	MethodRS256 SigningMethod = "rs256"
)

// Config configures a Manager.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for hs256 or a PEM encoded RSA key for
	// rs256.
	PrivateKey []byte
	Issuer     string
	// Audience is the client id the token is issued to.
	Audience string
	Leeway   time.Duration
	KeyID    string
}

// Manager mints and parses ID tokens.
type Manager struct {
	config Config
	rsaKey *rsa.PrivateKey
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodRS256:
		key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid rs256 private key: %w", err)
		}
		m.rsaKey = key
	default:
		return nil, errors.New("unsupported signing method")
	}
	return m, nil
}

// PublicKey returns the RSA verification key, or nil for hs256.
func (m *Manager) PublicKey() *rsa.PublicKey {
	if m.rsaKey == nil {
		return nil
	}
	return &m.rsaKey.PublicKey
}

// Mint signs an ID token for subject carrying email, role, and tenant.
func (m *Manager) Mint(subject, email, role, tenant string) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(m.config.TTL)

	claims := Claims{
		Email:         email,
		EmailVerified: true,
		Role:          role,
		TenantID:      tenant,
		TokenUse:      "id",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(m.method(), claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	signed, err := token.SignedString(m.signKey())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign id token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies raw locally and returns its claims.
func (m *Manager) Parse(raw string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if m.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != m.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return m.verifyKey(), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodRS256 {
		return jwt.SigningMethodRS256
	}
	return jwt.SigningMethodHS256
}

func (m *Manager) signKey() interface{} {
	if m.rsaKey != nil {
		return m.rsaKey
	}
	return m.config.PrivateKey
}

func (m *Manager) verifyKey() interface{} {
	if m.rsaKey != nil {
		return &m.rsaKey.PublicKey
	}
	return m.config.PrivateKey
}
