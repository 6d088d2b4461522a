package goIdentity

import "time"

// SecurityReport summarizes the security-relevant configuration the Engine
// was built with. Warnings lists settings that are valid but weaker than
// the defaults.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config

	report := SecurityReport{
		SigningAlgorithm:      cfg.JWT.SigningMethod,
		KeyRotationConfigured: cfg.JWT.KeyID != "" && len(cfg.JWT.VerifyKeys) > 0,
		AccessTTL:             cfg.JWT.AccessTTL,
		RefreshTTL:            cfg.JWT.RefreshTTL,
		Argon2: PasswordConfigReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		PasswordMinLength:       cfg.Password.MinLength,
		RevokeAllOnReplay:       cfg.Session.RevokeAllOnReplay,
		DecisionCacheTTL:        cfg.RBAC.CacheTTL,
		LevelGateDirectGrants:   cfg.RBAC.LevelGateDirectGrants,
		RateLimitingActive:      e.limiter != nil && rateLimitingConfigured(cfg.RateLimit),
		PasswordResetActive:     cfg.PasswordReset.Enabled,
		EmailVerificationActive: cfg.EmailVerification.Enabled,
		VerificationRequired:    cfg.EmailVerification.RequireForLogin,
		RegistrationOpen:        cfg.Account.Enabled,
		AuditActive:             e.audit != nil,
	}

	warn := func(msg string) { report.Warnings = append(report.Warnings, msg) }
	if cfg.JWT.AccessTTL > time.Hour {
		warn("access tokens live longer than 1h; role changes propagate slowly")
	}
	if !cfg.Session.RevokeAllOnReplay {
		warn("refresh replay does not revoke the user's other sessions")
	}
	if !cfg.RBAC.LevelGateDirectGrants {
		warn("direct permission grants are not bounded by level")
	}
	if cfg.RateLimit.MaxLoginAttempts == 0 {
		warn("login attempts are not rate limited")
	}
	if cfg.Password.Memory < 64*1024 || cfg.Password.Time < 2 {
		warn("argon2 cost is below 64MiB/2 iterations")
	}
	if cfg.RBAC.CacheTTL > cfg.JWT.AccessTTL {
		warn("decision cache outlives access tokens")
	}
	if cfg.Audit.Enabled && cfg.Audit.DropIfFull {
		warn("audit entries are dropped when the buffer is full")
	}
	if !cfg.Audit.Enabled {
		warn("audit is disabled")
	}
	return report
}
