package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/authgate-io/authgate"
)

func newUserStoreWithMock(t *testing.T) (*UserStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	store, err := NewUserStore(db)
	if err != nil {
		t.Fatalf("NewUserStore error: %v", err)
	}
	return store, mock, db
}

func TestUserCreate_Success(t *testing.T) {
	store, mock, db := newUserStoreWithMock(t)
	defer db.Close()

	q := `(?s)^\s*INSERT\s+INTO\s+users\s*\(id,\s*email,\s*password_hash,\s*token_version,\s*created_at\)`

	now := time.Now().UTC()
	mock.ExpectExec(q).
		WithArgs("u-1", "alice@example.com", "$argon2id$...", uint32(1), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	u := &authgate.User{
		ID:           "u-1",
		Email:        "alice@example.com",
		PasswordHash: "$argon2id$...",
		TokenVersion: 1,
		CreatedAt:    now,
	}
	if err := store.Create(context.Background(), u); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserCreate_DuplicateEmail(t *testing.T) {
	store, mock, db := newUserStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	u := &authgate.User{ID: "u-1", Email: "alice@example.com"}
	err := store.Create(context.Background(), u)
	if !errors.Is(err, authgate.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUserByEmail_Found(t *testing.T) {
	store, mock, db := newUserStoreWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "token_version", "created_at"}).
		AddRow("u-1", "alice@example.com", "$argon2id$...", uint32(3), now)
	mock.ExpectQuery(`SELECT\s+id,\s*email,\s*password_hash,\s*token_version,\s*created_at\s+FROM\s+users\s+WHERE\s+email`).
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	u, err := store.ByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("ByEmail error: %v", err)
	}
	if u.ID != "u-1" || u.TokenVersion != 3 {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestUserByEmail_NotFound(t *testing.T) {
	store, mock, db := newUserStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+email`).
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := store.ByEmail(context.Background(), "ghost@example.com")
	if !errors.Is(err, authgate.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserByID_Found(t *testing.T) {
	store, mock, db := newUserStoreWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "token_version", "created_at"}).
		AddRow("u-1", "alice@example.com", "$argon2id$...", uint32(1), now)
	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id`).
		WithArgs("u-1").
		WillReturnRows(rows)

	u, err := store.ByID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("ByID error: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestUpdatePasswordHash_NotFound(t *testing.T) {
	store, mock, db := newUserStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+users\s+SET\s+password_hash`).
		WithArgs("ghost", "$argon2id$new").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdatePasswordHash(context.Background(), "ghost", "$argon2id$new")
	if !errors.Is(err, authgate.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestBumpTokenVersion(t *testing.T) {
	store, mock, db := newUserStoreWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"token_version"}).AddRow(uint32(5))
	mock.ExpectQuery(`UPDATE\s+users\s+SET\s+token_version\s*=\s*token_version\s*\+\s*1`).
		WithArgs("u-1").
		WillReturnRows(rows)

	version, err := store.BumpTokenVersion(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("BumpTokenVersion error: %v", err)
	}
	if version != 5 {
		t.Fatalf("expected version 5, got %d", version)
	}
}

func TestBumpTokenVersion_NotFound(t *testing.T) {
	store, mock, db := newUserStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`UPDATE\s+users\s+SET\s+token_version`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := store.BumpTokenVersion(context.Background(), "ghost")
	if !errors.Is(err, authgate.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
