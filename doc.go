// Package authgate provides a credential-authentication and session-lifecycle
// engine: argon2id password hashing, HS256 JWT access tokens, rotating opaque
// refresh tokens with reuse detection, and Redis-backed rate limiting.
//
// The package is designed for concurrent server workloads: Service methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authgate is the public surface. It exposes [Service], [Builder], [Config],
// the error taxonomy, and value types (TokenPair, AuditEvent, MetricsSnapshot).
// Credential persistence is supplied by the host through [UserStore]; refresh
// token persistence through [refresh.Store] (Redis and Postgres backends ship
// with the module). Rate limiting lives under internal/ and is never exported.
//
// # What this package must NOT do
//
//   - Log or return plaintext passwords, derived keys, or refresh secrets.
//   - Surface storage-layer or crypto errors to callers untranslated; every
//     failure crossing the public boundary maps to one of the sentinel errors
//     in errors.go.
//   - Hold authentication state in package-level variables. All state lives in
//     the injected stores, whose lifecycles belong to the caller.
//
// # Security contract
//
// Login failures are indistinguishable between unknown-email and wrong-password
// (both return [ErrInvalidCredentials] after a hash-cost verification).
// Replay of a rotated refresh token revokes the whole token family and returns
// [ErrSecurityRevoked]; the event is emitted to the audit sink.
package authgate
