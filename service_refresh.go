package authgate

import (
	"context"
	"errors"

	"github.com/authgate-io/authgate/refresh"
)

// Refresh rotates a refresh token and issues a new token pair bound to the
// same user. Replay of an already-rotated token fails with
// [ErrSecurityRevoked] after the store has revoked the whole family; the
// client must re-authenticate. Losers of a concurrent rotation race on one
// token observe the winner's terminal record and get the same treatment.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if s.closed.Load() {
		return nil, ErrServiceClosed
	}

	tokenID, secret, err := refresh.DecodeToken(refreshToken)
	if err != nil {
		s.metrics.inc(MetricRefreshFailure)
		return nil, ErrTokenInvalid
	}

	rotated, err := s.refresh.Rotate(ctx, tokenID, secret)
	if err != nil {
		switch {
		case errors.Is(err, refresh.ErrReuseDetected):
			s.metrics.inc(MetricRefreshReuseDetected)
			s.log.Warn("refresh token reuse detected, family revoked", "token_id", tokenID)
			s.emit(ctx, AuditEvent{
				EventType: EventRefreshReuse,
				Error:     "reuse detected",
				Metadata:  map[string]string{"token_id": tokenID},
			})
			return nil, ErrSecurityRevoked
		case errors.Is(err, refresh.ErrTokenExpired):
			s.metrics.inc(MetricRefreshFailure)
			return nil, ErrTokenExpired
		case errors.Is(err, refresh.ErrTokenNotFound), errors.Is(err, refresh.ErrSecretMismatch):
			s.metrics.inc(MetricRefreshFailure)
			return nil, ErrTokenInvalid
		default:
			s.metrics.inc(MetricRefreshFailure)
			s.log.Error("refresh rotation failed", "err", err)
			return nil, ErrInternal
		}
	}

	user, err := s.users.ByID(ctx, rotated.Record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Account vanished mid-session; the family is worthless.
			if revokeErr := s.refresh.RevokeFamily(ctx, rotated.Record.FamilyID); revokeErr != nil {
				s.log.Error("orphan family revoke failed", "family_id", rotated.Record.FamilyID, "err", revokeErr)
			}
			s.metrics.inc(MetricRefreshFailure)
			return nil, ErrTokenInvalid
		}
		s.log.Error("refresh user lookup failed", "err", err)
		s.metrics.inc(MetricRefreshFailure)
		return nil, ErrInternal
	}

	access, err := s.tokens.Issue(user.ID, user.TokenVersion)
	if err != nil {
		s.log.Error("refresh access issuance failed", "user_id", user.ID, "err", err)
		s.metrics.inc(MetricRefreshFailure)
		return nil, ErrInternal
	}

	s.metrics.inc(MetricRefreshSuccess)
	s.emit(ctx, AuditEvent{
		EventType: EventRefreshSuccess,
		UserID:    user.ID,
		FamilyID:  rotated.Record.FamilyID,
		Success:   true,
	})

	return &TokenPair{AccessToken: access, RefreshToken: rotated.Token}, nil
}
