// Package stores persists short-lived, single-use challenge records in
// Redis for password reset and email verification.
//
// Records are binary-encoded with a version byte and consumed by a Lua
// script that validates, counts failed attempts and deletes in one step.
// Only the SHA-256 of a challenge secret is stored, and the final secret
// comparison is constant-time. Token generation and rate limiting live
// elsewhere.
package stores
