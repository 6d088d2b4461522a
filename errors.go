package goIdentity

import (
	"errors"

	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/rbac"
	"github.com/MrEthical07/goIdentity/session"
	"github.com/MrEthical07/goIdentity/store"
)

var (
	// ErrInvalidCredentials covers unknown email, wrong password and inactive
	// accounts with one message so callers cannot tell them apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountUnverified is returned by Login when verification is
	// required and the user has not verified their email.
	ErrAccountUnverified = errors.New("account email not verified")
	// ErrLoginRateLimited is returned when the failed-login budget is spent.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when a session refreshes too often.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrWeakPassword is matched by every *password.WeakPasswordError.
	ErrWeakPassword = password.ErrWeakPassword
	// ErrPasswordReuse rejects a new password equal to the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrTokenInvalid covers bad signatures, wrong algorithm, wrong typ and
	// malformed tokens.
	ErrTokenInvalid = jwt.ErrTokenInvalid
	// ErrTokenExpired is returned for tokens past exp.
	ErrTokenExpired = jwt.ErrTokenExpired
	// ErrSessionNotFound is returned when a refresh token has no session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshReplay is joined with ErrSessionNotFound when the refresh
	// token belongs to an already rotated session.
	ErrRefreshReplay = errors.New("refresh token replay detected")
	// ErrSessionCreationFailed wraps a failed session write during login.
	ErrSessionCreationFailed = errors.New("session creation failed")
	// ErrSessionInvalidationFailed is joined with the cause when a password
	// change could not revoke existing sessions.
	ErrSessionInvalidationFailed = errors.New("session invalidation failed")
	// ErrForbidden reports an insufficient permission or level.
	ErrForbidden = rbac.ErrForbidden
	// ErrNotFound reports a missing user, role or permission.
	ErrNotFound = store.ErrNotFound
	// ErrEmailTaken is returned by Register for a duplicate email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUsernameTaken is returned by Register for a duplicate username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidInput reports a request that fails field validation.
	ErrInvalidInput = rbac.ErrInvalidInput
	// ErrConflict reports a uniqueness violation in a store.
	ErrConflict = store.ErrConflict
	// ErrRegistrationDisabled is returned by Register when Account.Enabled is false.
	ErrRegistrationDisabled = errors.New("registration disabled")
	// ErrPasswordResetDisabled is returned when PasswordReset.Enabled is false.
	ErrPasswordResetDisabled = errors.New("password reset disabled")
	// ErrPasswordResetInvalid covers unknown, expired, used and mismatched reset tokens.
	ErrPasswordResetInvalid = errors.New("password reset token invalid")
	// ErrPasswordResetAttempts is returned once a reset token exhausts its attempts.
	ErrPasswordResetAttempts = errors.New("password reset attempts exceeded")
	// ErrResetRateLimited is returned when reset requests exceed the window budget.
	ErrResetRateLimited = errors.New("password reset rate limited")
	// ErrEmailVerificationDisabled is returned when EmailVerification.Enabled is false.
	ErrEmailVerificationDisabled = errors.New("email verification disabled")
	// ErrEmailVerificationInvalid covers unknown, expired and mismatched verification tokens.
	ErrEmailVerificationInvalid = errors.New("email verification token invalid")
	// ErrEmailVerificationRateLimited is returned when verification requests exceed the budget.
	ErrEmailVerificationRateLimited = errors.New("email verification rate limited")
	// ErrAlreadyVerified is returned when verification is requested for a verified user.
	ErrAlreadyVerified = errors.New("email already verified")
	// ErrInvalidTenant rejects a tenant id that fails ValidTenantID.
	ErrInvalidTenant = session.ErrInvalidTenant
	// ErrInternal wraps unexpected store or infrastructure failures. The
	// message stays generic; the cause is kept for logs.
	ErrInternal = errors.New("internal error")
	// ErrEngineNotReady is returned by methods called on a nil Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
