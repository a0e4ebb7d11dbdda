package authgate

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/authgate-io/authgate/internal/rate"
	"github.com/authgate-io/authgate/jwt"
	"github.com/authgate-io/authgate/password"
	"github.com/authgate-io/authgate/refresh"
)

// Rate-limited operation names. They prefix the limiter keys, so login and
// registration budgets never share a bucket.
const (
	opLogin    = "login"
	opRegister = "register"
)

// Service orchestrates password hashing, token issuance, refresh rotation,
// and rate limiting behind the closed error taxonomy in errors.go. It is the
// only type external collaborators call; construct it with [Builder.Build].
// All methods are safe for concurrent use.
type Service struct {
	config  Config
	users   UserStore
	tokens  *jwt.Manager
	hasher  *password.Guard
	refresh refresh.Store
	limiter *rate.Limiter
	audit   *auditDispatcher
	metrics *metrics
	log     *slog.Logger

	// decoyHash absorbs verification cost for unknown emails.
	decoyHash string

	closed atomic.Bool
}

// Close drains the audit dispatcher. The Service is unusable afterwards.
func (s *Service) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.audit.Close()
}

// AuditDropped reports how many audit events were shed because the buffer
// was full.
func (s *Service) AuditDropped() uint64 {
	return s.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (s *Service) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.snapshot()
}

// VerifyAccess validates an access token statelessly: signature, expiry
// (with configured leeway), issuer, and audience. No store lookup happens —
// short access TTLs are the revocation horizon, plus the token-version claim
// for collaborators that track versions.
func (s *Service) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}

	claims, err := s.tokens.Parse(tokenStr)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	return &AccessClaims{
		UserID:       claims.Subject,
		TokenVersion: claims.TokenVersion,
		IssuedAt:     claims.IssuedAt.Time,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// issuePair mints a fresh refresh family root (or accepts an already rotated
// refresh result) alongside an access token for the user.
func (s *Service) issueLoginPair(ctx context.Context, user *User) (*TokenPair, error) {
	issued, err := s.refresh.Issue(ctx, user.ID)
	if err != nil {
		s.log.Error("refresh issuance failed", "user_id", user.ID, "err", err)
		return nil, ErrInternal
	}

	access, err := s.tokens.Issue(user.ID, user.TokenVersion)
	if err != nil {
		s.log.Error("access issuance failed", "user_id", user.ID, "err", err)
		return nil, ErrInternal
	}

	return &TokenPair{AccessToken: access, RefreshToken: issued.Token}, nil
}

func (s *Service) emit(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	s.audit.Emit(ctx, event)
}

// limitKeys returns the limiter keys for an identifier, adding the caller
// origin when per-IP throttling is enabled.
func (s *Service) limitKeys(ctx context.Context, identifier string) []string {
	keys := []string{identifier}
	if s.config.RateLimit.ThrottleByIP {
		if ip := clientIPFromContext(ctx); ip != "" {
			keys = append(keys, "ip:"+ip)
		}
	}
	return keys
}

// consumeBudget burns one attempt on every key and reports the first denial.
// INCR makes each per-key increment-and-check atomic, so concurrent racers
// cannot push a bucket past its budget unnoticed.
func (s *Service) consumeBudget(ctx context.Context, op string, rule rate.Rule, keys []string) (*RateLimitedError, error) {
	for _, key := range keys {
		res, err := s.limiter.Consume(ctx, op, key, rule)
		if err != nil {
			s.log.Error("rate limiter unavailable", "op", op, "err", err)
			return nil, ErrInternal
		}
		if !res.Allowed {
			return &RateLimitedError{RetryAfter: res.RetryAfter}, nil
		}
	}
	return nil, nil
}

func loginRule(cfg RateLimitConfig) rate.Rule {
	return rate.Rule{Max: cfg.Login.Max, Window: cfg.Login.Window}
}

func registerRule(cfg RateLimitConfig) rate.Rule {
	return rate.Rule{Max: cfg.Register.Max, Window: cfg.Register.Window}
}
