// Package password implements password hashing, verification and the
// strength policy with Argon2id defaults.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes imported from bcrypt ($2a$, $2b$, $2y$) still verify, and
// [Argon2.NeedsUpgrade] reports true for them so the caller can re-hash on
// the next successful login.
//
// # Policy
//
// [Argon2.Hash] rejects passwords that fail the configured [Policy] with a
// [*WeakPasswordError] that enumerates every unmet rule.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other goIdentity package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
