package refresh

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"
)

var (
	// ErrTokenNotFound is returned when no record exists for a token ID.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrTokenExpired is returned when the family deadline has passed.
	ErrTokenExpired = errors.New("refresh token expired")
	// ErrSecretMismatch is returned when the presented secret does not hash to
	// the stored value for an otherwise active record.
	ErrSecretMismatch = errors.New("refresh secret mismatch")
	// ErrReuseDetected is returned when rotation targets a terminal record.
	// By the time the caller sees it, the whole family has been revoked.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrStoreUnavailable wraps backend connectivity failures.
	ErrStoreUnavailable = errors.New("refresh store unavailable")
)

const (
	tokenIDSize  = 16
	secretSize   = 32
	tokenRawSize = tokenIDSize + secretSize
)

// Issued is the result of minting or rotating a token. Token is the opaque
// value handed to the client; it is never persisted.
type Issued struct {
	Token  string
	Record *Record
}

// Store persists refresh-token records and enforces single-use rotation.
// Implementations must make Rotate linearizable per token ID: of any number
// of concurrent rotations of the same token, exactly one succeeds and the
// rest observe a terminal record.
type Store interface {
	// Issue mints the root token of a new family for userID.
	Issue(ctx context.Context, userID string) (*Issued, error)
	// Rotate exchanges an active token for its child. Terminal records revoke
	// their family and yield ErrReuseDetected.
	Rotate(ctx context.Context, tokenID string, secret [secretSize]byte) (*Issued, error)
	// Get returns the record for tokenID, or ErrTokenNotFound.
	Get(ctx context.Context, tokenID string) (*Record, error)
	// RevokeFamily revokes every record in the family. Idempotent.
	RevokeFamily(ctx context.Context, familyID string) error
	// RevokeAll revokes every family belonging to userID.
	RevokeAll(ctx context.Context, userID string) error
}

// SecretSize is the byte length of the random token secret.
const SecretSize = secretSize

// NewTokenID returns a fresh random 16-byte token identifier, base64url
// encoded. Store implementations use it when minting records.
func NewTokenID() (string, error) {
	var raw [tokenIDSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewSecret returns a fresh random token secret.
func NewSecret() ([secretSize]byte, error) {
	var secret [secretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret is the persisted form of a token secret.
func HashSecret(secret [secretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeToken packs a token ID and secret into the opaque client token.
func EncodeToken(tokenID string, secret [secretSize]byte) (string, error) {
	id, err := base64.RawURLEncoding.DecodeString(tokenID)
	if err != nil || len(id) != tokenIDSize {
		return "", errors.New("invalid token id")
	}

	var raw [tokenRawSize]byte
	copy(raw[:tokenIDSize], id)
	copy(raw[tokenIDSize:], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeToken splits an opaque client token into token ID and secret.
// Malformed input yields ErrTokenNotFound so callers need not special-case
// garbage tokens.
func DecodeToken(token string) (string, [secretSize]byte, error) {
	var secret [secretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, ErrTokenNotFound
	}
	if len(raw) != tokenRawSize {
		return "", secret, ErrTokenNotFound
	}

	tokenID := base64.RawURLEncoding.EncodeToString(raw[:tokenIDSize])
	copy(secret[:], raw[tokenIDSize:])

	return tokenID, secret, nil
}

func familyDeadline(issuedAt time.Time, familyTTL time.Duration) time.Time {
	return issuedAt.Add(familyTTL)
}
