package authgate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Register validates input shape, hashes the password, and persists the
// credential. It fails with [ErrValidation] before any hashing work for bad
// shapes, [ErrRateLimited] when the registration budget is spent, and
// [ErrConflict] for a duplicate email. On success it returns the new user ID.
func (s *Service) Register(ctx context.Context, email, plaintext string) (string, error) {
	if s.closed.Load() {
		return "", ErrServiceClosed
	}

	email = normalizeEmail(email)
	if err := validateRegistration(email, plaintext); err != nil {
		return "", err
	}

	denied, err := s.consumeBudget(ctx, opRegister, registerRule(s.config.RateLimit), s.limitKeys(ctx, email))
	if err != nil {
		return "", err
	}
	if denied != nil {
		s.metrics.inc(MetricRegisterRateLimited)
		s.emit(ctx, AuditEvent{EventType: EventRegister, Error: "rate limited"})
		return "", denied
	}

	hash, err := s.hasher.Hash(ctx, plaintext)
	if err != nil {
		s.log.Error("registration hash failed", "err", err)
		return "", ErrInternal
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		TokenVersion: 1,
		CreatedAt:    time.Now(),
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			s.metrics.inc(MetricRegisterConflict)
			return "", ErrConflict
		}
		s.log.Error("registration store failed", "err", err)
		return "", ErrInternal
	}

	s.metrics.inc(MetricRegisterSuccess)
	s.emit(ctx, AuditEvent{EventType: EventRegister, UserID: user.ID, Success: true})

	return user.ID, nil
}
