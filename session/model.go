package session

import "time"

// Record is the persisted half of one refresh chain. Exactly one Record
// exists per outstanding refresh token; rotation replaces it with a new one
// under a fresh SessionID.
type Record struct {
	SessionID string
	UserID    string
	TenantID  string

	// TokenHash is the SHA-256 of the refresh token. The token itself is
	// never stored.
	TokenHash [32]byte

	IP        string
	UserAgent string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Active reports whether r is still valid at now.
func (r *Record) Active(now time.Time) bool {
	return r != nil && r.ExpiresAt.After(now)
}
