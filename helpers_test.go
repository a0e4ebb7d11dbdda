package authgate

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

// testConfig returns defaults tuned down for test speed. Argon2 parameters
// sit at the validation floor so a single hash costs milliseconds.
func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningKey = testSigningKey
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	return cfg
}

// newTestService builds a Service backed by miniredis and an in-memory user
// store. mutate may adjust the config before Build.
func newTestService(t *testing.T, mutate func(*Config)) (*Service, *miniredis.Miniredis) {
	t.Helper()
	return newTestServiceWithUsers(t, NewMemoryUserStore(), mutate)
}

// newTestServiceWithSink is newTestService with an audit sink attached.
func newTestServiceWithSink(t *testing.T, sink AuditSink) (*Service, *miniredis.Miniredis) {
	t.Helper()
	return buildTestService(t, NewMemoryUserStore(), sink, nil)
}

// newTestServiceWithUsers is newTestService with a caller-supplied user
// store, for tests that need two engines sharing accounts.
func newTestServiceWithUsers(t *testing.T, users UserStore, mutate func(*Config)) (*Service, *miniredis.Miniredis) {
	t.Helper()
	return buildTestService(t, users, nil, mutate)
}

func buildTestService(t *testing.T, users UserStore, sink AuditSink, mutate func(*Config)) (*Service, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users)
	if sink != nil {
		b.WithAuditSink(sink)
	}

	svc, err := b.Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	t.Cleanup(svc.Close)

	return svc, mr
}

// registerUser creates an account and fails the test on any error.
func registerUser(t *testing.T, svc *Service, email, password string) string {
	t.Helper()

	userID, err := svc.Register(context.Background(), email, password)
	if err != nil {
		t.Fatalf("Register(%q) error: %v", email, err)
	}
	return userID
}
