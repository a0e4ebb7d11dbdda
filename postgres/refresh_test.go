package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/authgate-io/authgate/refresh"
)

func newRefreshStoreWithMock(t *testing.T) (*RefreshStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	store, err := NewRefreshStore(db, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewRefreshStore error: %v", err)
	}
	return store, mock, db
}

// parentRow builds a SELECT result for one refresh_tokens row.
func parentRow(rec *refresh.Record) *sqlmock.Rows {
	var revokedAt interface{}
	if !rec.RevokedAt.IsZero() {
		revokedAt = rec.RevokedAt
	}
	var replacedBy interface{}
	if rec.ReplacedBy != "" {
		replacedBy = rec.ReplacedBy
	}
	return sqlmock.NewRows([]string{
		"token_id", "family_id", "user_id", "token_hash",
		"issued_at", "expires_at", "revoked_at", "replaced_by",
	}).AddRow(rec.TokenID, rec.FamilyID, rec.UserID, rec.TokenHash[:],
		rec.IssuedAt, rec.ExpiresAt, revokedAt, replacedBy)
}

func testParent(t *testing.T, secret [refresh.SecretSize]byte) *refresh.Record {
	t.Helper()
	tokenID, err := refresh.NewTokenID()
	if err != nil {
		t.Fatalf("NewTokenID error: %v", err)
	}
	now := time.Now().UTC()
	return &refresh.Record{
		TokenID:   tokenID,
		FamilyID:  "fam-1",
		UserID:    "u-1",
		TokenHash: refresh.HashSecret(secret),
		IssuedAt:  now.Add(-time.Hour),
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestRefreshIssue(t *testing.T) {
	store, mock, db := newRefreshStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+refresh_tokens`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "u-1",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	issued, err := store.Issue(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if issued.Token == "" || issued.Record.FamilyID == "" {
		t.Fatalf("incomplete issue result: %+v", issued)
	}

	tokenID, secret, err := refresh.DecodeToken(issued.Token)
	if err != nil {
		t.Fatalf("DecodeToken error: %v", err)
	}
	if tokenID != issued.Record.TokenID {
		t.Fatalf("token id mismatch: %q vs %q", tokenID, issued.Record.TokenID)
	}
	if refresh.HashSecret(secret) != issued.Record.TokenHash {
		t.Fatal("record hash does not match token secret")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshRotate(t *testing.T) {
	store, mock, db := newRefreshStoreWithMock(t)
	defer db.Close()

	secret, err := refresh.NewSecret()
	if err != nil {
		t.Fatalf("NewSecret error: %v", err)
	}
	parent := testParent(t, secret)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM\s+refresh_tokens\s+WHERE\s+token_id\s*=\s*\$1\s+FOR\s+UPDATE`).
		WithArgs(parent.TokenID).
		WillReturnRows(parentRow(parent))
	mock.ExpectExec(`UPDATE\s+refresh_tokens\s+SET\s+replaced_by`).
		WithArgs(parent.TokenID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT\s+INTO\s+refresh_tokens`).
		WithArgs(sqlmock.AnyArg(), parent.FamilyID, parent.UserID,
			sqlmock.AnyArg(), sqlmock.AnyArg(), parent.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	issued, err := store.Rotate(context.Background(), parent.TokenID, secret)
	if err != nil {
		t.Fatalf("Rotate error: %v", err)
	}
	if issued.Record.FamilyID != parent.FamilyID {
		t.Fatalf("child changed family: %q", issued.Record.FamilyID)
	}
	if !issued.Record.ExpiresAt.Equal(parent.ExpiresAt) {
		t.Fatal("rotation must not extend the family deadline")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshRotate_ReuseRevokesFamily(t *testing.T) {
	store, mock, db := newRefreshStoreWithMock(t)
	defer db.Close()

	secret, err := refresh.NewSecret()
	if err != nil {
		t.Fatalf("NewSecret error: %v", err)
	}
	parent := testParent(t, secret)
	parent.ReplacedBy = "child-1"

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR\s+UPDATE`).
		WithArgs(parent.TokenID).
		WillReturnRows(parentRow(parent))
	mock.ExpectExec(`UPDATE\s+refresh_tokens\s+SET\s+revoked_at`).
		WithArgs(parent.FamilyID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	_, err = store.Rotate(context.Background(), parent.TokenID, secret)
	if !errors.Is(err, refresh.ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("family revocation did not happen: %v", err)
	}
}

func TestRefreshRotate_LostClaimIsReuse(t *testing.T) {
	store, mock, db := newRefreshStoreWithMock(t)
	defer db.Close()

	secret, err := refresh.NewSecret()
	if err != nil {
		t.Fatalf("NewSecret error: %v", err)
	}
	parent := testParent(t, secret)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR\s+UPDATE`).
		WithArgs(parent.TokenID).
		WillReturnRows(parentRow(parent))
	mock.ExpectExec(`UPDATE\s+refresh_tokens\s+SET\s+replaced_by`).
		WithArgs(parent.TokenID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE\s+refresh_tokens\s+SET\s+revoked_at`).
		WithArgs(parent.FamilyID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err = store.Rotate(context.Background(), parent.TokenID, secret)
	if !errors.Is(err, refresh.ErrReuseDetected) {
		t.Fatalf("expected ErrReuseDetected, got %v", err)
	}
}

func TestRefreshRotate_WrongSecret(t *testing.T) {
	store, mock, db := newRefreshStoreWithMock(t)
	defer db.Close()

	secret, err := refresh.NewSecret()
	if err != nil {
		t.Fatalf("NewSecret error: %v", err)
	}
	parent := testParent(t, secret)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR\s+UPDATE`).
		WithArgs(parent.TokenID).
		WillReturnRows(parentRow(parent))
	mock.ExpectRollback()

	var wrong [refresh.SecretSize]byte
	_, err = store.Rotate(context.Background(), parent.TokenID, wrong)
	if !errors.Is(err, refresh.ErrSecretMismatch) {
		t.Fatalf("expected ErrSecretMismatch, got %v", err)
	}
}

func TestRefreshRotate_ExpiredFamily(t *testing.T) {
	store, mock, db := newRefreshStoreWithMock(t)
	defer db.Close()

	secret, err := refresh.NewSecret()
	if err != nil {
		t.Fatalf("NewSecret error: %v", err)
	}
	parent := testParent(t, secret)
	parent.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR\s+UPDATE`).
		WithArgs(parent.TokenID).
		WillReturnRows(parentRow(parent))
	mock.ExpectRollback()

	_, err = store.Rotate(context.Background(), parent.TokenID, secret)
	if !errors.Is(err, refresh.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRefreshRotate_UnknownToken(t *testing.T) {
	store, mock, db := newRefreshStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR\s+UPDATE`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	var secret [refresh.SecretSize]byte
	_, err := store.Rotate(context.Background(), "ghost", secret)
	if !errors.Is(err, refresh.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestRefreshGet_NotFound(t *testing.T) {
	store, mock, db := newRefreshStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+refresh_tokens\s+WHERE\s+token_id`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "ghost")
	if !errors.Is(err, refresh.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestRefreshRevokeAll(t *testing.T) {
	store, mock, db := newRefreshStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE\s+refresh_tokens\s+SET\s+revoked_at\s*=\s*\$2\s+WHERE\s+user_id`).
		WithArgs("u-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := store.RevokeAll(context.Background(), "u-1"); err != nil {
		t.Fatalf("RevokeAll error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
