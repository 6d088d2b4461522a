package goIdentity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every tunable of the Engine. Start from DefaultConfig and
// override fields; Build validates the result.
type Config struct {
	JWT               JWTConfig
	Session           SessionConfig
	Password          PasswordConfig
	RBAC              RBACConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	Account           AccountConfig
	RateLimit         RateLimitConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token signing. Secrets are injected here and never
// read from the environment by the library.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs512" (default), "hs256" or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	// KeyID is stamped into the kid header. VerifyKeys maps older kids to
	// their verification keys during a rotation overlap.
	KeyID      string
	VerifyKeys map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures the Redis session store and refresh behavior.
type SessionConfig struct {
	RedisPrefix string
	// RevokeAllOnReplay revokes every session of the user when a rotated
	// refresh token is presented again.
	RevokeAllOnReplay bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id cost and the strength policy.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSymbol  bool
	UpgradeOnLogin bool
}

/*
====================================
RBAC CONFIG
====================================
*/

// RBACConfig configures the authorization engine.
type RBACConfig struct {
	// CacheTTL enables the per-user decision cache when > 0. With a Redis
	// client, invalidations are also published to every engine sharing
	// that Redis; writers that bypass the Engine must publish their own
	// (see rbac.RedisInvalidator).
	CacheTTL time.Duration
	// LevelGateDirectGrants applies the level check to direct permission
	// grants and revokes.
	LevelGateDirectGrants bool
}

/*
====================================
RESET / VERIFICATION CONFIG
====================================
*/

// PasswordResetConfig configures single-use reset tokens.
type PasswordResetConfig struct {
	Enabled     bool
	TokenTTL    time.Duration
	MaxAttempts int
}

// EmailVerificationConfig configures single-use verification tokens.
type EmailVerificationConfig struct {
	Enabled     bool
	TokenTTL    time.Duration
	MaxAttempts int
	// RequireForLogin rejects logins of unverified users.
	RequireForLogin bool
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig configures self-service registration.
type AccountConfig struct {
	Enabled     bool
	AutoLogin   bool
	DefaultRole string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures the Redis fixed-window limiters. A zero Max
// disables that limiter.
type RateLimitConfig struct {
	EnableIPThrottle        bool
	MaxLoginAttempts        int
	LoginWindow             time.Duration
	EnableRefreshThrottle   bool
	MaxRefreshAttempts      int
	RefreshWindow           time.Duration
	MaxResetRequests        int
	ResetWindow             time.Duration
	MaxVerificationRequests int
	VerificationWindow      time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig configures the audit dispatcher.
type AuditConfig struct {
	Enabled      bool
	Async        bool
	BufferSize   int
	DropIfFull   bool
	WriteTimeout time.Duration
}

// MetricsConfig toggles in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. JWT.PrivateKey must
// still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs512",
			Issuer:        "auth-service",
		},
		Session: SessionConfig{
			RedisPrefix:       "gi",
			RevokeAllOnReplay: true,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSymbol:  true,
			UpgradeOnLogin: true,
		},
		RBAC: RBACConfig{
			CacheTTL:              30 * time.Second,
			LevelGateDirectGrants: true,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:     true,
			TokenTTL:    time.Hour,
			MaxAttempts: 5,
		},
		EmailVerification: EmailVerificationConfig{
			Enabled:     true,
			TokenTTL:    24 * time.Hour,
			MaxAttempts: 5,
		},
		Account: AccountConfig{
			Enabled:     true,
			AutoLogin:   true,
			DefaultRole: "user",
		},
		RateLimit: RateLimitConfig{
			EnableIPThrottle:        true,
			MaxLoginAttempts:        5,
			LoginWindow:             15 * time.Minute,
			EnableRefreshThrottle:   true,
			MaxRefreshAttempts:      30,
			RefreshWindow:           time.Minute,
			MaxResetRequests:        3,
			ResetWindow:             time.Hour,
			MaxVerificationRequests: 5,
			VerificationWindow:      time.Hour,
		},
		Audit: AuditConfig{
			Enabled:      true,
			Async:        true,
			BufferSize:   1024,
			DropIfFull:   true,
			WriteTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports every structural problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		fail("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		fail("JWT RefreshTTL must exceed AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs512", "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			fail("%s requires a PrivateKey of at least 32 bytes", c.JWT.SigningMethod)
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 && len(c.JWT.PublicKey) == 0 {
			fail("ed25519 requires PrivateKey or PublicKey")
		}
	default:
		fail("unsupported JWT signing method %q", c.JWT.SigningMethod)
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		fail("JWT Leeway must be between 0 and 2m")
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		fail("JWT Issuer must be set")
	}

	// Session
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		fail("Session RedisPrefix must be set")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		fail("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		fail("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		fail("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		fail("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		fail("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		fail("Password MinLength must be >= 8")
	}

	// RBAC
	if c.RBAC.CacheTTL < 0 {
		fail("RBAC CacheTTL must be >= 0")
	}

	// Password reset / email verification
	if c.PasswordReset.Enabled {
		if c.PasswordReset.TokenTTL <= 0 {
			fail("PasswordReset TokenTTL must be > 0")
		}
		if c.PasswordReset.MaxAttempts <= 0 {
			fail("PasswordReset MaxAttempts must be > 0")
		}
	}
	if c.EmailVerification.Enabled {
		if c.EmailVerification.TokenTTL <= 0 {
			fail("EmailVerification TokenTTL must be > 0")
		}
		if c.EmailVerification.MaxAttempts <= 0 {
			fail("EmailVerification MaxAttempts must be > 0")
		}
	}
	if c.EmailVerification.RequireForLogin && !c.EmailVerification.Enabled {
		fail("EmailVerification RequireForLogin needs EmailVerification Enabled")
	}

	// Account
	if c.Account.Enabled && strings.TrimSpace(c.Account.DefaultRole) == "" {
		fail("Account DefaultRole must be set when registration is enabled")
	}

	// Rate limits
	rl := c.RateLimit
	if rl.MaxLoginAttempts < 0 || rl.MaxRefreshAttempts < 0 || rl.MaxResetRequests < 0 || rl.MaxVerificationRequests < 0 {
		fail("RateLimit maxima must be >= 0")
	}
	if rl.MaxLoginAttempts > 0 && rl.LoginWindow <= 0 {
		fail("RateLimit LoginWindow must be > 0")
	}
	if rl.EnableRefreshThrottle && rl.MaxRefreshAttempts > 0 && rl.RefreshWindow <= 0 {
		fail("RateLimit RefreshWindow must be > 0")
	}
	if rl.MaxResetRequests > 0 && rl.ResetWindow <= 0 {
		fail("RateLimit ResetWindow must be > 0")
	}
	if rl.MaxVerificationRequests > 0 && rl.VerificationWindow <= 0 {
		fail("RateLimit VerificationWindow must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.Async && c.Audit.BufferSize <= 0 {
		fail("Audit BufferSize must be > 0 in async mode")
	}

	return errors.Join(errs...)
}
