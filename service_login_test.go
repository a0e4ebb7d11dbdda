package authgate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	registerUser(t, svc, "alice@example.com", "Sup3rSecret")

	_, err := svc.Login(ctx, "alice@example.com", "Wr0ngSecret")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginUnknownEmailIndistinguishable(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	registerUser(t, svc, "alice@example.com", "Sup3rSecret")

	_, wrongPass := svc.Login(ctx, "alice@example.com", "Wr0ngSecret")
	_, unknown := svc.Login(ctx, "nobody@example.com", "Wr0ngSecret")

	// An attacker must not be able to tell a wrong password apart from a
	// nonexistent account.
	if !errors.Is(wrongPass, ErrInvalidCredentials) || !errors.Is(unknown, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v and %v", wrongPass, unknown)
	}
	if wrongPass.Error() != unknown.Error() {
		t.Fatalf("distinguishable failures: %q vs %q", wrongPass, unknown)
	}
}

func TestLoginRateLimitAfterTenFailures(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	registerUser(t, svc, "alice@example.com", "Sup3rSecret")

	for i := 0; i < 10; i++ {
		_, err := svc.Login(ctx, "alice@example.com", "Wr0ngSecret")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// The 11th attempt is refused before any hashing work, even with the
	// correct password.
	_, err := svc.Login(ctx, "alice@example.com", "Sup3rSecret")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected *RateLimitedError, got %T", err)
	}
	if rl.RetryAfter <= 0 || rl.RetryAfter > time.Minute {
		t.Fatalf("implausible RetryAfter %v", rl.RetryAfter)
	}
}

func TestLoginWindowExpiryRestoresBudget(t *testing.T) {
	svc, mr := newTestService(t, nil)
	ctx := context.Background()

	registerUser(t, svc, "alice@example.com", "Sup3rSecret")

	for i := 0; i < 10; i++ {
		_, _ = svc.Login(ctx, "alice@example.com", "Wr0ngSecret")
	}
	if _, err := svc.Login(ctx, "alice@example.com", "Sup3rSecret"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(time.Minute + time.Second)

	if _, err := svc.Login(ctx, "alice@example.com", "Sup3rSecret"); err != nil {
		t.Fatalf("login after window expiry failed: %v", err)
	}
}

func TestLoginSuccessResetsBudget(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	registerUser(t, svc, "alice@example.com", "Sup3rSecret")

	for i := 0; i < 9; i++ {
		_, _ = svc.Login(ctx, "alice@example.com", "Wr0ngSecret")
	}
	if _, err := svc.Login(ctx, "alice@example.com", "Sup3rSecret"); err != nil {
		t.Fatalf("tenth attempt with correct password failed: %v", err)
	}

	// The success cleared the counter, so a full budget of failures is
	// available again.
	for i := 0; i < 9; i++ {
		_, err := svc.Login(ctx, "alice@example.com", "Wr0ngSecret")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("post-reset attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryUserStore()

	// Register under floor-cost parameters, then serve logins from a second
	// engine with a higher time cost against the same store.
	weak, _ := newTestServiceWithUsers(t, users, nil)
	userID := registerUser(t, weak, "alice@example.com", "Sup3rSecret")

	before, err := users.ByID(ctx, userID)
	if err != nil {
		t.Fatalf("ByID error: %v", err)
	}

	strong, _ := newTestServiceWithUsers(t, users, func(cfg *Config) {
		cfg.Password.UpgradeOnLogin = true
		cfg.Password.Time = 2
	})

	if _, err := strong.Login(ctx, "alice@example.com", "Sup3rSecret"); err != nil {
		t.Fatalf("Login error: %v", err)
	}

	after, err := users.ByID(ctx, userID)
	if err != nil {
		t.Fatalf("ByID error: %v", err)
	}
	if after.PasswordHash == before.PasswordHash {
		t.Fatal("expected the stored hash to be upgraded on login")
	}

	// The upgraded record still verifies.
	if _, err := strong.Login(ctx, "alice@example.com", "Sup3rSecret"); err != nil {
		t.Fatalf("login after upgrade failed: %v", err)
	}
}
