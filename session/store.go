package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// ErrTokenMismatch is returned by Rotate when the presented refresh token
// hash differs from the stored one. The session is revoked as a side effect.
var ErrTokenMismatch = errors.New("session token mismatch")

// ErrRedisUnavailable wraps transport failures from the Redis backend.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrInvalidTenant rejects tenant ids outside ValidTenantID.
var ErrInvalidTenant = errors.New("invalid tenant id")

const maxTenantIDLen = 64

// Store is the authoritative session store. Implementations must make
// Rotate atomic: concurrent rotations of the same session succeed at most
// once.
type Store interface {
	// Put inserts rec. Putting the same SessionID twice leaves one record.
	Put(ctx context.Context, rec *Record) error
	// Find returns the unexpired record or ErrNotFound.
	Find(ctx context.Context, tenantID, sessionID string) (*Record, error)
	// Rotate deletes oldSessionID if it exists, is unexpired and carries
	// presentedHash, and inserts next in the same step. It leaves a marker
	// for oldSessionID until the old record would have expired.
	Rotate(ctx context.Context, tenantID, oldSessionID string, presentedHash [32]byte, next *Record) error
	// DeleteOne removes a session. Missing sessions are not an error.
	DeleteOne(ctx context.Context, tenantID, sessionID string) error
	// DeleteAllForUser removes every session of the user and returns how
	// many existed.
	DeleteAllForUser(ctx context.Context, tenantID, userID string) (int, error)
	// ListForUser returns the user's unexpired sessions.
	ListForUser(ctx context.Context, tenantID, userID string) ([]*Record, error)
	// SweepExpired removes expired records and returns how many it removed.
	// A second call with no new expirations returns 0.
	SweepExpired(ctx context.Context) (int, error)
	// WasRotated reports whether sessionID was consumed by a rotation and,
	// if so, which user it belonged to.
	WasRotated(ctx context.Context, tenantID, sessionID string) (string, bool, error)
}

// NormalizeTenantID maps the empty tenant to the default tenant "0".
func NormalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// ValidTenantID reports whether tenantID is usable as a key segment: after
// normalization, 1 to 64 characters from [A-Za-z0-9._-].
func ValidTenantID(tenantID string) bool {
	tenantID = NormalizeTenantID(tenantID)
	if len(tenantID) > maxTenantIDLen {
		return false
	}
	for i := 0; i < len(tenantID); i++ {
		c := tenantID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
