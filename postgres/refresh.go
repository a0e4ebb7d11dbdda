package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/authgate-io/authgate/refresh"
)

// RefreshStore implements [refresh.Store] over a refresh_tokens table.
//
// Rotation linearizes on a conditional UPDATE: the parent row is claimed with
// `SET replaced_by = $child WHERE replaced_by IS NULL AND revoked_at IS NULL`,
// so of any number of concurrent rotations exactly one sees RowsAffected == 1.
// Losers re-read the row, find it terminal, and take the reuse path.
type RefreshStore struct {
	db        *sql.DB
	familyTTL time.Duration
}

// NewRefreshStore binds a store to db. familyTTL is the absolute family
// lifetime; children inherit the root's deadline unchanged.
func NewRefreshStore(db *sql.DB, familyTTL time.Duration) (*RefreshStore, error) {
	if db == nil {
		return nil, errors.New("nil db handle")
	}
	if familyTTL <= 0 {
		return nil, errors.New("family TTL must be positive")
	}
	return &RefreshStore{db: db, familyTTL: familyTTL}, nil
}

// Issue mints the root token of a new family.
func (s *RefreshStore) Issue(ctx context.Context, userID string) (*refresh.Issued, error) {
	if userID == "" {
		return nil, errors.New("empty user id")
	}

	tokenID, err := refresh.NewTokenID()
	if err != nil {
		return nil, err
	}
	secret, err := refresh.NewSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &refresh.Record{
		TokenID:   tokenID,
		FamilyID:  uuid.NewString(),
		UserID:    userID,
		TokenHash: refresh.HashSecret(secret),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.familyTTL),
	}

	query := `
		INSERT INTO refresh_tokens (token_id, family_id, user_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, query,
		record.TokenID, record.FamilyID, record.UserID,
		record.TokenHash[:], record.IssuedAt, record.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}

	token, err := refresh.EncodeToken(tokenID, secret)
	if err != nil {
		return nil, err
	}

	return &refresh.Issued{Token: token, Record: record}, nil
}

// Rotate exchanges an active token for a child in the same family.
func (s *RefreshStore) Rotate(ctx context.Context, tokenID string, secret [refresh.SecretSize]byte) (*refresh.Issued, error) {
	childID, err := refresh.NewTokenID()
	if err != nil {
		return nil, err
	}
	childSecret, err := refresh.NewSecret()
	if err != nil {
		return nil, err
	}
	childHash := refresh.HashSecret(childSecret)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	parent, err := s.getLocked(ctx, tx, tokenID)
	if errors.Is(err, refresh.ErrTokenNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}

	if parent.Terminal() {
		if err := s.revokeFamilyTx(ctx, tx, parent.FamilyID, now); err != nil {
			return nil, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
		}
		return nil, refresh.ErrReuseDetected
	}
	if !now.Before(parent.ExpiresAt) {
		return nil, refresh.ErrTokenExpired
	}
	if parent.TokenHash != refresh.HashSecret(secret) {
		return nil, refresh.ErrSecretMismatch
	}

	claim := `
		UPDATE refresh_tokens
		SET replaced_by = $2
		WHERE token_id = $1 AND replaced_by IS NULL AND revoked_at IS NULL
	`
	res, err := tx.ExecContext(ctx, claim, tokenID, childID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}
	if affected != 1 {
		// Lost the race after our read. Treat the terminal parent as reuse.
		if err := s.revokeFamilyTx(ctx, tx, parent.FamilyID, now); err != nil {
			return nil, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
		}
		return nil, refresh.ErrReuseDetected
	}

	record := &refresh.Record{
		TokenID:   childID,
		FamilyID:  parent.FamilyID,
		UserID:    parent.UserID,
		TokenHash: childHash,
		IssuedAt:  now,
		ExpiresAt: parent.ExpiresAt,
	}

	insert := `
		INSERT INTO refresh_tokens (token_id, family_id, user_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.ExecContext(ctx, insert,
		record.TokenID, record.FamilyID, record.UserID,
		record.TokenHash[:], record.IssuedAt, record.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}

	token, err := refresh.EncodeToken(childID, childSecret)
	if err != nil {
		return nil, err
	}
	return &refresh.Issued{Token: token, Record: record}, nil
}

// Get returns the record for tokenID.
func (s *RefreshStore) Get(ctx context.Context, tokenID string) (*refresh.Record, error) {
	query := `
		SELECT token_id, family_id, user_id, token_hash, issued_at, expires_at, revoked_at, replaced_by
		FROM refresh_tokens
		WHERE token_id = $1
	`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, tokenID))
	if errors.Is(err, refresh.ErrTokenNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}
	return record, nil
}

// RevokeFamily marks every live record of the family revoked. Idempotent.
func (s *RefreshStore) RevokeFamily(ctx context.Context, familyID string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE family_id = $1 AND revoked_at IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, familyID, time.Now().UTC()); err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeAll revokes every family belonging to userID.
func (s *RefreshStore) RevokeAll(ctx context.Context, userID string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("%w: %v", refresh.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RefreshStore) getLocked(ctx context.Context, tx *sql.Tx, tokenID string) (*refresh.Record, error) {
	query := `
		SELECT token_id, family_id, user_id, token_hash, issued_at, expires_at, revoked_at, replaced_by
		FROM refresh_tokens
		WHERE token_id = $1
		FOR UPDATE
	`
	return scanRecord(tx.QueryRowContext(ctx, query, tokenID))
}

func (s *RefreshStore) revokeFamilyTx(ctx context.Context, tx *sql.Tx, familyID string, now time.Time) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE family_id = $1 AND revoked_at IS NULL
	`
	_, err := tx.ExecContext(ctx, query, familyID, now)
	return err
}

func scanRecord(row *sql.Row) (*refresh.Record, error) {
	var (
		record     refresh.Record
		hash       []byte
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	err := row.Scan(&record.TokenID, &record.FamilyID, &record.UserID,
		&hash, &record.IssuedAt, &record.ExpiresAt, &revokedAt, &replacedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, refresh.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(hash) != len(record.TokenHash) {
		return nil, errors.New("corrupt token hash")
	}
	copy(record.TokenHash[:], hash)
	if revokedAt.Valid {
		record.RevokedAt = revokedAt.Time
	}
	if replacedBy.Valid {
		record.ReplacedBy = replacedBy.String
	}
	return &record, nil
}
