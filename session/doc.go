// Package session provides Redis-backed session persistence, the per-identity
// session index and the revocation list consulted during token validation.
//
// # Binary encoding
//
// Sessions are stored as a compact versioned binary blob. New versions append
// fields and never reinterpret old ones.
//
// # Keys
//
//   - <prefix>:s:<sid> — session blob, TTL = remaining lifetime
//   - <prefix>:u:<uid> — set of session ids owned by an identity
//   - <prefix>:r:<sid> — revocation marker, TTL = longest token lifetime
//
// # What this package must NOT do
//
//   - Import fitauth or jwt (no upward imports).
//   - Interpret tokens or make authorization decisions.
//   - Store plaintext secrets in [Session] fields.
package session
