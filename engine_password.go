package goIdentity

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdentity/audit"
)

// ChangePassword replaces the password of userID after verifying
// oldPassword, then revokes every session of the user.
//
// A wrong old password returns ErrInvalidCredentials and a new password
// equal to the current one ErrPasswordReuse. When the hash is updated but
// sessions could not be revoked, the error matches both
// ErrSessionInvalidationFailed and the store failure.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if e == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	entry := audit.Entry{
		Action:       audit.ActionPasswordChanged,
		ActorID:      userID,
		UserID:       userID,
		ResourceType: audit.ResourceUser,
		ResourceID:   userID,
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.emitAudit(ctx, entry, ErrNotFound)
			return ErrNotFound
		}
		return e.internalError("change_password.find", err)
	}
	if !user.Active {
		e.emitAudit(ctx, entry, ErrInvalidCredentials)
		return ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, entry, ErrInvalidCredentials)
		return ErrInvalidCredentials
	}
	if same, err := e.hasher.Verify(newPassword, user.PasswordHash); err == nil && same {
		e.metricInc(MetricPasswordChangeReuseRejected)
		e.emitAudit(ctx, entry, ErrPasswordReuse)
		return ErrPasswordReuse
	}

	if err := e.replacePassword(ctx, user, newPassword); err != nil {
		e.emitAudit(ctx, entry, err)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, entry, nil)
	return nil
}

// replacePassword hashes pw under the policy, stores it and revokes every
// session of the user. The login limiter for the user's email is cleared on
// a best-effort basis.
func (e *Engine) replacePassword(ctx context.Context, user *UserRecord, pw string) error {
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return e.internalError("password.update", err)
	}
	user.PasswordHash = hash

	if err := e.LogoutAll(ctx, user.ID); err != nil {
		e.logger.Error("session invalidation failed after password update", "user_id", user.ID, "error", err)
		return errors.Join(ErrSessionInvalidationFailed, err)
	}

	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, user.Email); err != nil {
			e.logger.Warn("login limiter reset failed after password update", "error", err)
		}
	}
	return nil
}
