package authgate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrValidation is returned when an input fails shape validation before any
	// hashing or storage work. The concrete error is a [*ValidationError]
	// carrying field-level detail.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials is returned for every authentication failure that
	// must stay generic: unknown email, wrong password, malformed stored hash.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited is returned when an operation exceeds its attempt budget.
	// The concrete error is a [*RateLimitedError] carrying the remaining wait.
	ErrRateLimited = errors.New("rate limited")
	// ErrTokenExpired is returned for access or refresh tokens past their TTL.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for malformed tokens, bad signatures, and
	// issuer/audience mismatches.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrSecurityRevoked is returned when refresh-token reuse is detected and
	// the token family has been revoked. The caller must re-authenticate.
	ErrSecurityRevoked = errors.New("session revoked due to token reuse")
	// ErrConflict is returned when registration targets an already registered
	// email. UserStore implementations return it from Create.
	ErrConflict = errors.New("account already exists")
	// ErrUserNotFound is the sentinel UserStore implementations return for
	// missing accounts. It never crosses the Service boundary on login paths.
	ErrUserNotFound = errors.New("user not found")
	// ErrInternal is returned for storage and crypto failures. Details are
	// logged for operators and never leak to the caller.
	ErrInternal = errors.New("internal error")
	// ErrServiceClosed is returned by Service methods after Close.
	ErrServiceClosed = errors.New("service closed")
)

// FieldError describes a single validation failure.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError aggregates field-level validation failures. It unwraps to
// [ErrValidation] so callers can branch with errors.Is.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}

	var b strings.Builder
	b.WriteString("validation failed: ")
	for i, f := range e.Fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f.Field)
		b.WriteString(": ")
		b.WriteString(f.Message)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RateLimitedError reports how long the caller must wait before the window
// resets. It unwraps to [ErrRateLimited].
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }
