// Package verify holds the closed set of credential verifiers (password, face,
// QR) behind one [Verifier] interface, selected by [model.Method].
//
// Verifiers return host sentinel errors supplied through [Errors] so the
// failure taxonomy stays owned by the engine. They never inspect the
// identity's active flag; mapping an inactive account to a blocked outcome is
// the engine's job.
//
// # What this package must NOT do
//
//   - Write audit entries, issue sessions or charge rate limits.
//   - Import fitauth (no upward imports).
package verify
