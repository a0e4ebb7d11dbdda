package authgate

import (
	"context"
	"time"
)

// User is the credential record the engine reads and writes through
// [UserStore]. PasswordHash is the PHC-encoded argon2id output including salt
// and parameters; the plaintext password never appears outside stack frames.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	// TokenVersion invalidates outstanding access tokens without a revocation
	// list: the engine stamps it into every access token and bumps it on
	// password change.
	TokenVersion uint32
	CreatedAt    time.Time
}

// UserStore is the interface the host implements to integrate authgate with
// its user database. [MemoryUserStore] and [postgres.UserStore] satisfy it.
//
// Implementations return [ErrConflict] from Create for a duplicate email and
// [ErrUserNotFound] from the lookups for missing accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	ByEmail(ctx context.Context, email string) (*User, error)
	ByID(ctx context.Context, userID string) (*User, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	// BumpTokenVersion atomically increments and returns the user's token
	// version.
	BumpTokenVersion(ctx context.Context, userID string) (uint32, error)
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	// AccessToken is a signed HS256 JWT, valid for Config.JWT.AccessTTL.
	AccessToken string
	// RefreshToken is an opaque single-use credential. Presenting it after it
	// has been rotated revokes its whole family.
	RefreshToken string
}

// AccessClaims is the verified content of an access token, re-exported at the
// service boundary so callers need not import the jwt subpackage.
type AccessClaims struct {
	UserID       string
	TokenVersion uint32
	IssuedAt     time.Time
	ExpiresAt    time.Time
}
