package goIdentity

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdentity/audit"
	"github.com/MrEthical07/goIdentity/rbac"
)

// AuditErrorCode is the stable value written to audit.Entry.Error.
type AuditErrorCode string

const (
	auditErrInvalidCredentials    AuditErrorCode = "invalid_credentials"
	auditErrRateLimited           AuditErrorCode = "rate_limited"
	auditErrRefreshReplay         AuditErrorCode = "refresh_replay"
	auditErrInvalidToken          AuditErrorCode = "invalid_token"
	auditErrExpiredToken          AuditErrorCode = "expired_token"
	auditErrSessionNotFound       AuditErrorCode = "session_not_found"
	auditErrNotFound              AuditErrorCode = "not_found"
	auditErrForbidden             AuditErrorCode = "forbidden"
	auditErrWeakPassword          AuditErrorCode = "weak_password"
	auditErrPasswordReuse         AuditErrorCode = "password_reuse"
	auditErrAttemptsExceeded      AuditErrorCode = "attempts_exceeded"
	auditErrSessionCreationFailed AuditErrorCode = "session_creation_failed"
	auditErrSessionInvalidation   AuditErrorCode = "session_invalidation_failed"
	auditErrDuplicate             AuditErrorCode = "duplicate"
	auditErrInvalidInput          AuditErrorCode = "invalid_input"
	auditErrUnverified            AuditErrorCode = "unverified"
	auditErrInternal              AuditErrorCode = "internal_error"
)

// engineAuditor fills request-scoped fields before handing entries to the
// dispatcher. The rbac engine emits through it as well.
type engineAuditor struct {
	dispatcher *audit.Dispatcher
}

var _ rbac.Auditor = engineAuditor{}

func (a engineAuditor) Emit(ctx context.Context, entry audit.Entry) {
	if a.dispatcher == nil {
		return
	}
	if entry.TenantID == "" {
		entry.TenantID = tenantIDFromContext(ctx)
	}
	if entry.IP == "" {
		entry.IP = clientIPFromContext(ctx)
	}
	if entry.UserAgent == "" {
		entry.UserAgent = userAgentFromContext(ctx)
	}
	a.dispatcher.Emit(ctx, entry)
}

// emitAudit records entry with Success and Error derived from err.
func (e *Engine) emitAudit(ctx context.Context, entry audit.Entry, err error) {
	if e == nil || e.audit == nil {
		return
	}
	entry.Success = err == nil
	if code := auditErrorCode(err); code != "" {
		entry.Error = string(code)
	}
	engineAuditor{dispatcher: e.audit}.Emit(ctx, entry)
}

// AuditDropped reports audit entries dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditFailed reports audit entries the sink failed to write.
func (e *Engine) AuditFailed() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Failed()
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRefreshReplay):
		return auditErrRefreshReplay
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited),
		errors.Is(err, ErrResetRateLimited),
		errors.Is(err, ErrEmailVerificationRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTokenExpired):
		return auditErrExpiredToken
	case errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrPasswordResetInvalid),
		errors.Is(err, ErrEmailVerificationInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrWeakPassword):
		return auditErrWeakPassword
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrPasswordResetAttempts):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrSessionCreationFailed):
		return auditErrSessionCreationFailed
	case errors.Is(err, ErrSessionInvalidationFailed):
		return auditErrSessionInvalidation
	case errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrUsernameTaken),
		errors.Is(err, ErrConflict):
		return auditErrDuplicate
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrAccountUnverified), errors.Is(err, ErrAlreadyVerified):
		return auditErrUnverified
	default:
		return auditErrInternal
	}
}
