package authgate

import (
	"errors"
	"time"
)

// Config carries every tunable for the engine. It is passed to
// [Builder.WithConfig] once and treated as immutable afterwards; tests build
// isolated instances per scenario instead of sharing process-wide state.
type Config struct {
	JWT       JWTConfig
	Password  PasswordConfig
	Refresh   RefreshConfig
	RateLimit RateLimitConfig
	Audit     AuditConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access-token signing and verification.
type JWTConfig struct {
	// AccessTTL bounds access-token validity. Access tokens are stateless, so
	// this is the only revocation horizon short of a token-version bump.
	AccessTTL time.Duration
	// SigningKey is the HS256 secret shared by issue and verify.
	SigningKey []byte
	// Issuer and Audience reject tokens minted by other deployments.
	Issuer   string
	Audience string
	// Leeway tolerates small clock skew on exp/iat checks.
	Leeway time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures argon2id cost parameters and the hashing
// concurrency guard.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// UpgradeOnLogin re-hashes a credential after successful verification when
	// its stored parameters are weaker than the configured ones.
	UpgradeOnLogin bool
	// MaxConcurrent caps argon2 operations in flight. Each operation pins
	// Memory KB for its duration, so the cap bounds peak memory at
	// MaxConcurrent * Memory.
	MaxConcurrent int
	// HashTimeout fails a hash or verify closed when it cannot acquire a slot
	// and complete in time. Timed-out verifications surface as
	// ErrInvalidCredentials, never as a pass.
	HashTimeout time.Duration
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig configures refresh-token family lifetime.
type RefreshConfig struct {
	// FamilyTTL is the absolute lifetime of a token family, fixed at first
	// issuance. Rotation never extends it, which caps total session lifetime
	// regardless of activity.
	FamilyTTL time.Duration
	// RedisPrefix namespaces refresh keys when the Redis store is used.
	RedisPrefix string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitRule bounds one operation to Max attempts per fixed Window.
type RateLimitRule struct {
	Max    int
	Window time.Duration
}

// RateLimitConfig configures per-operation attempt budgets.
type RateLimitConfig struct {
	Login    RateLimitRule
	Register RateLimitRule
	// ThrottleByIP additionally budgets attempts per caller origin (see
	// [WithClientIP]) so one origin cannot spray across many accounts.
	ThrottleByIP bool
	RedisPrefix  string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig configures the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events instead of blocking callers when the buffer is
	// saturated. Dropped counts are observable via [Service.AuditDropped].
	DropIfFull bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL: 15 * time.Minute,
			Issuer:    "authgate",
			Audience:  "authgate",
			Leeway:    5 * time.Second,
		},
		Password: PasswordConfig{
			Memory:        64 * 1024,
			Time:          3,
			Parallelism:   2,
			SaltLength:    16,
			KeyLength:     32,
			MaxConcurrent: 8,
			HashTimeout:   5 * time.Second,
		},
		Refresh: RefreshConfig{
			FamilyTTL:   7 * 24 * time.Hour,
			RedisPrefix: "ag",
		},
		RateLimit: RateLimitConfig{
			Login:       RateLimitRule{Max: 10, Window: time.Minute},
			Register:    RateLimitRule{Max: 5, Window: time.Minute},
			RedisPrefix: "ag",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

func validateConfig(cfg Config) error {
	if cfg.JWT.AccessTTL <= 0 {
		return errors.New("jwt access TTL must be positive")
	}
	if len(cfg.JWT.SigningKey) < 32 {
		return errors.New("jwt signing key must be at least 32 bytes")
	}
	if cfg.JWT.Issuer == "" || cfg.JWT.Audience == "" {
		return errors.New("jwt issuer and audience are required")
	}
	if cfg.Refresh.FamilyTTL <= cfg.JWT.AccessTTL {
		return errors.New("refresh family TTL must exceed access TTL")
	}
	if cfg.RateLimit.Login.Max <= 0 || cfg.RateLimit.Login.Window <= 0 {
		return errors.New("login rate limit rule must be positive")
	}
	if cfg.RateLimit.Register.Max <= 0 || cfg.RateLimit.Register.Window <= 0 {
		return errors.New("register rate limit rule must be positive")
	}
	if cfg.Password.MaxConcurrent <= 0 {
		return errors.New("password max concurrent must be positive")
	}
	if cfg.Password.HashTimeout <= 0 {
		return errors.New("password hash timeout must be positive")
	}
	return nil
}
