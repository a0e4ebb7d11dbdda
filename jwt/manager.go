// Package jwt manages access-token issuance and verification using a
// server-held HS256 secret and strict validation semantics suitable for
// low-latency authentication paths. Verification is stateless: validity is
// proven entirely by signature and expiry, never by a store lookup.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired is returned when the token's expiry (minus leeway) has
	// passed.
	ErrTokenExpired = errors.New("access token expired")
	// ErrTokenInvalid covers malformed tokens, bad signatures, and
	// issuer/audience mismatches.
	ErrTokenInvalid = errors.New("access token invalid")
)

// Config holds token issuance and verification parameters.
type Config struct {
	AccessTTL  time.Duration
	SigningKey []byte
	Issuer     string
	Audience   string
	// Leeway tolerates small clock skew on exp and iat checks.
	Leeway time.Duration
}

// Manager issues and verifies HS256-signed access tokens.
type Manager struct {
	config Config
}

// AccessClaims is the claim set carried by access tokens. Subject is the
// user ID; TokenVersion lets issuers invalidate all previously minted tokens
// for a user by bumping a per-user counter, with no revocation list.
type AccessClaims struct {
	TokenVersion uint32 `json:"tv"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("hs256 signing key must be at least 32 bytes")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	return &Manager{config: cfg}, nil
}

// Issue mints a signed access token for userID, stamping the caller-supplied
// token version into the `tv` claim.
func (m *Manager) Issue(userID string, tokenVersion uint32) (string, error) {
	if userID == "" {
		return "", errors.New("empty user id")
	}

	now := time.Now()
	claims := AccessClaims{
		TokenVersion: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.config.Issuer,
			Audience:  jwt.ClaimStrings{m.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.config.SigningKey)
}

// Parse verifies signature, expiry, issuer, and audience and returns the
// claims. Expiry is reported as [ErrTokenExpired]; every other failure maps
// to [ErrTokenInvalid] so callers cannot distinguish failure causes.
func (m *Manager) Parse(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithAudience(m.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		return m.config.SigningKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
