package authgate

import (
	"context"
	"errors"
)

// Login verifies the credential and, on success, issues a fresh refresh
// family plus an access token. Every attempt — known or unknown email —
// consumes the login budget and pays the same argon2 verification cost, so
// failures are indistinguishable and accounts cannot be enumerated.
func (s *Service) Login(ctx context.Context, email, plaintext string) (*TokenPair, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}

	email = normalizeEmail(email)
	if email == "" || plaintext == "" {
		return nil, ErrInvalidCredentials
	}

	keys := s.limitKeys(ctx, email)
	denied, err := s.consumeBudget(ctx, opLogin, loginRule(s.config.RateLimit), keys)
	if err != nil {
		return nil, err
	}
	if denied != nil {
		s.metrics.inc(MetricLoginRateLimited)
		s.emit(ctx, AuditEvent{EventType: EventLoginThrottled, Error: "rate limited"})
		return nil, denied
	}

	user, lookupErr := s.users.ByEmail(ctx, email)
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrUserNotFound) {
			s.log.Error("login lookup failed", "err", lookupErr)
			return nil, ErrInternal
		}
		// Unknown email: burn the same hashing cost as a real verification
		// before answering, then answer exactly like a wrong password.
		_, _ = s.hasher.Verify(ctx, plaintext, s.decoyHash)
		s.metrics.inc(MetricLoginFailure)
		s.emit(ctx, AuditEvent{EventType: EventLoginFailure, Error: "invalid credentials"})
		return nil, ErrInvalidCredentials
	}

	ok, verifyErr := s.hasher.Verify(ctx, plaintext, user.PasswordHash)
	if verifyErr != nil {
		// Malformed stored record or timeout both fail closed. The caller
		// sees a generic failure either way; operators get the detail.
		s.log.Error("login verification failed", "user_id", user.ID, "err", verifyErr)
		s.metrics.inc(MetricLoginFailure)
		s.emit(ctx, AuditEvent{EventType: EventLoginFailure, UserID: user.ID, Error: "verification failure"})
		return nil, ErrInvalidCredentials
	}
	if !ok {
		s.metrics.inc(MetricLoginFailure)
		s.emit(ctx, AuditEvent{EventType: EventLoginFailure, UserID: user.ID, Error: "invalid credentials"})
		return nil, ErrInvalidCredentials
	}

	s.maybeUpgradeHash(ctx, user, plaintext)

	// Successful authentication clears the failed-attempt budget.
	if err := s.limiter.Reset(ctx, opLogin, keys...); err != nil {
		s.log.Warn("login limiter reset failed", "user_id", user.ID, "err", err)
	}

	pair, err := s.issueLoginPair(ctx, user)
	if err != nil {
		return nil, err
	}

	s.metrics.inc(MetricLoginSuccess)
	s.emit(ctx, AuditEvent{EventType: EventLoginSuccess, UserID: user.ID, Success: true})

	return pair, nil
}

// maybeUpgradeHash transparently re-hashes the credential with current
// parameters after a successful verification. Best effort: the login already
// succeeded, so failures are only logged.
func (s *Service) maybeUpgradeHash(ctx context.Context, user *User, plaintext string) {
	if !s.config.Password.UpgradeOnLogin {
		return
	}

	needs, err := s.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}

	newHash, err := s.hasher.Hash(ctx, plaintext)
	if err != nil {
		s.log.Warn("password upgrade hash failed", "user_id", user.ID, "err", err)
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		s.log.Warn("password upgrade store failed", "user_id", user.ID, "err", err)
	}
}
