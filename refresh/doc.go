// Package refresh implements rotating opaque refresh tokens with reuse
// detection.
//
// # Token format
//
// The client-held token is base64url(tokenID ∥ secret): a 16-byte token ID
// and a 32-byte high-entropy secret. Stores retain only the SHA-256 of the
// secret — a fast hash is sufficient because the secret is random, unlike a
// password.
//
// # Rotation protocol
//
// Every token is single-use. Rotating an active token atomically marks it
// replaced and issues a child in the same family; only one concurrent caller
// can win that transition. Presenting a token that is already replaced or
// revoked is treated as theft evidence: the whole family is revoked and the
// caller gets [ErrReuseDetected].
//
// # Expiry policy
//
// A family's deadline is absolute, fixed when its first token is issued.
// Rotation never extends it, which caps total session lifetime regardless of
// activity.
//
// # What this package must NOT do
//
//   - Mint access tokens or touch user credentials.
//   - Return stored secret hashes to callers.
//   - Import the root authgate package.
package refresh
