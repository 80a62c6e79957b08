// Package password hashes and verifies login passwords with Argon2id.
//
// # Output format
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// engine can rehash after the next successful login. [Argon2.Burn] runs one
// derivation against a throwaway hash so unknown accounts cost the same time
// as wrong passwords.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other fitauth package.
//   - Log plaintext passwords.
package password
