package goIdentity

import (
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/audit"
	"github.com/MrEthical07/goIdentity/rbac"
)

// UserRecord is the identity record owned by the user store.
type UserRecord = account.User

// UserStore is the user repository the Engine authenticates against.
type UserStore = account.Store

// AuditEntry is a write-once audit record.
type AuditEntry = audit.Entry

// AuditSink receives audit entries from the Engine's dispatcher.
type AuditSink = audit.Sink

// TokenPair is an access token plus the refresh token that can renew it.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
}

// LoginResult is returned by Login and by Register when AutoLogin is on.
type LoginResult struct {
	TokenPair
	User        *UserRecord
	Roles       []string
	Permissions []string
}

// AuthResult is the verified content of an access token. Roles and
// Permissions are the snapshot taken at issuance and may be stale by up to
// the access TTL.
type AuthResult struct {
	UserID      string
	TenantID    string
	SessionID   string
	Email       string
	Username    string
	Roles       []string
	Permissions []string
	Level       int
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// HasRole reports whether the snapshot carries role.
func (r *AuthResult) HasRole(role string) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the snapshot carries permission.
func (r *AuthResult) HasPermission(permission string) bool {
	for _, have := range r.Permissions {
		if have == permission {
			return true
		}
	}
	return false
}

// RegisterInput is the input to Register.
type RegisterInput struct {
	Email     string `validate:"required,email,max=254"`
	Username  string `validate:"required,min=3,max=64,username"`
	Password  string `validate:"required,max=1024"`
	FirstName string `validate:"max=100"`
	LastName  string `validate:"max=100"`
}

// RegisterResult is returned by Register. Login is nil unless
// Account.AutoLogin is enabled.
type RegisterResult struct {
	User  *UserRecord
	Login *LoginResult
}

// Profile is a user with its currently active roles and permissions.
type Profile struct {
	User        *UserRecord
	Roles       []rbac.Role
	Permissions []string
	Level       int
}

// SessionInfo describes one live session without its token hash.
type SessionInfo struct {
	SessionID string
	IP        string
	UserAgent string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Current   bool
}

// SecurityReport is a read-only summary of the engine's security posture.
type SecurityReport struct {
	SigningAlgorithm        string
	KeyRotationConfigured   bool
	AccessTTL               time.Duration
	RefreshTTL              time.Duration
	Argon2                  PasswordConfigReport
	PasswordMinLength       int
	RevokeAllOnReplay       bool
	DecisionCacheTTL        time.Duration
	LevelGateDirectGrants   bool
	RateLimitingActive      bool
	PasswordResetActive     bool
	EmailVerificationActive bool
	VerificationRequired    bool
	RegistrationOpen        bool
	AuditActive             bool
	Warnings                []string
}

// PasswordConfigReport contains the Argon2 parameters active in the engine.
type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}
