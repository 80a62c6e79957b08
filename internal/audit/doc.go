// Package audit owns the authentication audit trail: the entry model with its
// method-specific attempt variants, the hash chain that seals entries, and the
// logger that persists them to a caller-supplied [Store].
//
// # Components
//
//   - [Entry] — immutable audit record; [Attempt] carries password, face or QR details.
//   - [Chain] — HMAC-SHA256 chain over entries (sequence, previous hash, hash).
//   - [Logger] — sync or buffered async writer that logs every backend failure.
//   - [Query] — narrowest-first composition of store reads for a [Filter].
//
// # Architecture boundaries
//
// This package does NOT decide which events to emit. That belongs to the Engine.
//
// # What this package must NOT do
//
//   - Filter or suppress entries based on business logic.
//   - Import fitauth or any sibling internal package other than model.
//   - Mutate an entry after it was sealed.
package audit
