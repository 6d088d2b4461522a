// Package session defines the authoritative session store used for refresh
// token rotation, together with its Redis implementation.
//
// # Records
//
// A [Record] binds one outstanding refresh token (by SHA-256 hash) to a
// user, tenant and client. Records are encoded in a compact binary form
// whose fixed header can be read from Lua, which lets [RedisStore.Rotate]
// compare-and-swap the token hash and replace the record atomically.
//
// # Rotation markers
//
// Rotate leaves a marker under the consumed session id until the old record
// would have expired. [Store.WasRotated] reads it so the caller can tell a
// replayed refresh token apart from one that never existed.
//
// # What this package must NOT do
//
//   - Import goIdentity, jwt, or rbac (no upward imports).
//   - Interpret tokens or make authorization decisions.
//   - Store raw refresh tokens.
package session
