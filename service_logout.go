package authgate

import (
	"context"
	"errors"

	"github.com/authgate-io/authgate/refresh"
)

// Logout revokes the family of the presented refresh token. It is idempotent
// and never fails from the caller's view: malformed, unknown, expired, and
// already-revoked tokens are all a successful no-op, and backend failures
// are logged for operators rather than surfaced.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	if refreshToken == "" {
		return nil
	}

	tokenID, _, err := refresh.DecodeToken(refreshToken)
	if err != nil {
		return nil
	}

	record, err := s.refresh.Get(ctx, tokenID)
	if err != nil {
		if !errors.Is(err, refresh.ErrTokenNotFound) {
			s.log.Error("logout lookup failed", "token_id", tokenID, "err", err)
		}
		return nil
	}

	if err := s.refresh.RevokeFamily(ctx, record.FamilyID); err != nil {
		s.log.Error("logout revoke failed", "family_id", record.FamilyID, "err", err)
		return nil
	}

	s.metrics.inc(MetricLogout)
	s.emit(ctx, AuditEvent{
		EventType: EventLogout,
		UserID:    record.UserID,
		FamilyID:  record.FamilyID,
		Success:   true,
	})
	return nil
}

// LogoutAll revokes every refresh family belonging to userID ("log out
// everywhere"). Outstanding access tokens remain valid until their short TTL
// elapses; pair with [Service.ChangePassword] when that is not acceptable.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	if userID == "" {
		return nil
	}

	if err := s.refresh.RevokeAll(ctx, userID); err != nil {
		s.log.Error("logout-all revoke failed", "user_id", userID, "err", err)
		return ErrInternal
	}

	s.metrics.inc(MetricLogout)
	s.emit(ctx, AuditEvent{EventType: EventLogoutAll, UserID: userID, Success: true})
	return nil
}
