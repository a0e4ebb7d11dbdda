package refresh

import "time"

// Record is one issued refresh token as persisted by a [Store]. Only the
// SHA-256 of the client secret is kept.
type Record struct {
	TokenID  string
	FamilyID string
	UserID   string
	// TokenHash is sha256(secret).
	TokenHash [32]byte
	IssuedAt  time.Time
	// ExpiresAt is the family deadline: issuance time of the family root plus
	// the family TTL. Children inherit it unchanged.
	ExpiresAt time.Time
	// RevokedAt is zero while the record is not revoked.
	RevokedAt time.Time
	// ReplacedBy is set exactly once, when the token is rotated. A record
	// with ReplacedBy set is permanently terminal.
	ReplacedBy string
}

// Terminal reports whether the record can never be rotated again.
func (r *Record) Terminal() bool {
	return r.ReplacedBy != "" || !r.RevokedAt.IsZero()
}

// Active reports whether the record may still be rotated at the given time.
func (r *Record) Active(now time.Time) bool {
	return !r.Terminal() && now.Before(r.ExpiresAt)
}
