package authgate

import (
	"context"
	"errors"
)

// ChangePassword replaces the stored credential after verifying the current
// one. The per-user token version is bumped — invalidating every outstanding
// access token at collaborators that track versions — and all refresh
// families are revoked, forcing re-authentication everywhere.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}

	if fields := checkPassword(newPassword); len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	if newPassword == oldPassword {
		return &ValidationError{Fields: []FieldError{
			{Field: "password", Message: "must differ from the current password"},
		}}
	}

	user, err := s.users.ByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		s.log.Error("password change lookup failed", "err", err)
		return ErrInternal
	}

	ok, err := s.hasher.Verify(ctx, oldPassword, user.PasswordHash)
	if err != nil {
		s.log.Error("password change verification failed", "user_id", user.ID, "err", err)
		return ErrInvalidCredentials
	}
	if !ok {
		return ErrInvalidCredentials
	}

	newHash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		s.log.Error("password change hash failed", "user_id", user.ID, "err", err)
		return ErrInternal
	}

	if err := s.users.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		s.log.Error("password change store failed", "user_id", user.ID, "err", err)
		return ErrInternal
	}
	if _, err := s.users.BumpTokenVersion(ctx, user.ID); err != nil {
		s.log.Error("token version bump failed", "user_id", user.ID, "err", err)
		return ErrInternal
	}
	if err := s.refresh.RevokeAll(ctx, user.ID); err != nil {
		s.log.Error("password change family revoke failed", "user_id", user.ID, "err", err)
		return ErrInternal
	}

	// Old failed attempts no longer say anything about the new credential.
	if err := s.limiter.Reset(ctx, opLogin, s.limitKeys(ctx, user.Email)...); err != nil {
		s.log.Warn("password change limiter reset failed", "user_id", user.ID, "err", err)
	}

	s.metrics.inc(MetricPasswordChanged)
	s.emit(ctx, AuditEvent{EventType: EventPasswordChanged, UserID: user.ID, Success: true})
	return nil
}
