// Package jwt issues and verifies the two token kinds used by goIdentity.
//
// Access tokens are short-lived and carry a point-in-time snapshot of the
// caller's roles and permissions. Refresh tokens are longer-lived, carry only
// the user, tenant and session ids plus a random nonce, and are never trusted
// on their own: the session store holds the SHA-256 of the one refresh token
// that is currently valid for a session.
//
// All parse failures collapse to [ErrTokenExpired] or [ErrTokenInvalid].
// Algorithm confusion is refused by pinning the parser to the configured
// method, and a token of one kind never parses as the other.
package jwt
