// Package fitauth authenticates users by password, face descriptor or signed
// QR payload, issues Redis-backed sessions with JWT access tokens, and keeps a
// sealed audit trail that feeds per-user risk scoring and automatic account
// protection.
//
// # Architecture boundaries
//
// The [Engine] is the only public entry point. It composes:
//
//   - internal/verify: one verifier per login method behind a single interface.
//   - internal/rate: sliding-window attempt limiter (in-memory or Redis).
//   - internal/audit: hash-chained audit entries written through [AuditStore].
//   - internal/analytics: pure risk and system report computation.
//   - session and jwt: session persistence, revocation and token signing.
//
// Identity records, face profiles, audit persistence and notification
// delivery are supplied by the host through [UserDirectory],
// [FaceProfileStore], [AuditStore] and [Notifier].
//
// # What this package must NOT do
//
//   - Reveal which credential check failed to the caller of [Engine.Login].
//   - Return audit, analytics or notification failures on the login path.
//   - Hard-delete face profiles.
package fitauth
