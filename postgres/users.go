package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/authgate-io/authgate"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// UserStore implements [authgate.UserStore] over a users table.
type UserStore struct {
	db *sql.DB
}

// NewUserStore binds a store to db. The schema must already be migrated.
func NewUserStore(db *sql.DB) (*UserStore, error) {
	if db == nil {
		return nil, errors.New("nil db handle")
	}
	return &UserStore{db: db}, nil
}

// Create inserts a new credential record. A duplicate email maps to
// [authgate.ErrConflict].
func (s *UserStore) Create(ctx context.Context, u *authgate.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, token_version, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Email, u.PasswordHash, u.TokenVersion, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return authgate.ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *UserStore) ByEmail(ctx context.Context, email string) (*authgate.User, error) {
	query := `
		SELECT id, email, password_hash, token_version, created_at
		FROM users
		WHERE email = $1
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *UserStore) ByID(ctx context.Context, userID string) (*authgate.User, error) {
	query := `
		SELECT id, email, password_hash, token_version, created_at
		FROM users
		WHERE id = $1
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, userID))
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, userID, newHash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return authgate.ErrUserNotFound
	}
	return nil
}

// BumpTokenVersion increments atomically in the database, so concurrent
// bumps never lose an update.
func (s *UserStore) BumpTokenVersion(ctx context.Context, userID string) (uint32, error) {
	query := `
		UPDATE users
		SET token_version = token_version + 1
		WHERE id = $1
		RETURNING token_version
	`
	var version uint32
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, authgate.ErrUserNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return version, nil
}

func (s *UserStore) scanUser(row *sql.Row) (*authgate.User, error) {
	u := &authgate.User{}
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.TokenVersion, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authgate.ErrUserNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}
