package goIdentity

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/goIdentity/audit"
	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
)

// RequestPasswordReset issues a single-use reset token for email. The
// token is returned to the caller for out-of-band delivery; it is never
// persisted, only the hash of its secret half.
//
// An unknown or inactive email, or one registered under another tenant,
// returns ("", nil) so the response does not reveal which addresses are
// registered. A new request replaces any
// outstanding token of the same user.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if e == nil || e.users == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return "", ErrPasswordResetDisabled
	}
	tenantID := tenantIDFromContext(ctx)
	email = foldIdentifier(email)
	entry := audit.Entry{
		Action:       audit.ActionPasswordResetRequested,
		ResourceType: audit.ResourceUser,
		Metadata:     map[string]string{"identifier": email},
	}

	if e.limiter != nil {
		if err := e.limiter.CheckReset(ctx, email, clientIPFromContext(ctx)); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricPasswordResetRateLimited)
				e.emitAudit(ctx, entry, ErrResetRateLimited)
				return "", ErrResetRateLimited
			}
			return "", e.internalError("reset.rate_check", err)
		}
	}

	user, err := e.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", e.internalError("reset.find_user", err)
	}
	e.metricInc(MetricPasswordResetRequest)
	if user == nil || !user.Active || homeTenant(user) != tenantID {
		entry.Metadata["outcome"] = "no_account"
		e.emitAudit(ctx, entry, nil)
		return "", nil
	}
	entry.UserID = user.ID
	entry.ResourceID = user.ID

	id, token, secretHash, err := internal.NewChallengeToken()
	if err != nil {
		return "", e.internalError("reset.token", err)
	}
	err = e.challenges.Save(ctx, tenantID, id, &stores.Challenge{
		Kind:       stores.KindPasswordReset,
		UserID:     user.ID,
		Email:      user.Email,
		SecretHash: secretHash,
		ExpiresAt:  e.now().Add(e.config.PasswordReset.TokenTTL),
	})
	if err != nil {
		e.emitAudit(ctx, entry, err)
		return "", e.internalError("reset.save", err)
	}

	e.emitAudit(ctx, entry, nil)
	return token, nil
}

// ResetPassword consumes a reset token and sets newPassword. The token is
// single-use; wrong secrets count against PasswordReset.MaxAttempts, after
// which the token is destroyed. Every session of the user is revoked.
//
// A password failing the policy is rejected before the token is consumed.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ErrPasswordResetDisabled
	}
	entry := audit.Entry{
		Action:       audit.ActionPasswordResetCompleted,
		ResourceType: audit.ResourceUser,
	}

	id, secret, err := internal.DecodeChallengeToken(token)
	if err != nil {
		e.resetFailed(ctx, entry, ErrPasswordResetInvalid)
		return ErrPasswordResetInvalid
	}
	if err := e.hasher.Policy().Check(newPassword); err != nil {
		e.resetFailed(ctx, entry, err)
		return err
	}

	ch, err := e.challenges.Consume(ctx, tenantIDFromContext(ctx), id, stores.KindPasswordReset,
		internal.HashSecret(secret), e.config.PasswordReset.MaxAttempts)
	if err != nil {
		mapped := mapChallengeError(err, ErrPasswordResetInvalid, ErrPasswordResetAttempts)
		e.resetFailed(ctx, entry, mapped)
		if errors.Is(mapped, ErrInternal) {
			return e.internalError("reset.consume", err)
		}
		return mapped
	}
	entry.ActorID = ch.UserID
	entry.UserID = ch.UserID
	entry.ResourceID = ch.UserID

	user, err := e.users.FindByID(ctx, ch.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return e.internalError("reset.find_user", err)
	}
	if user == nil || !user.Active {
		e.resetFailed(ctx, entry, ErrPasswordResetInvalid)
		return ErrPasswordResetInvalid
	}

	if err := e.replacePassword(ctx, user, newPassword); err != nil {
		e.resetFailed(ctx, entry, err)
		return err
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, entry, nil)
	return nil
}

func (e *Engine) resetFailed(ctx context.Context, entry audit.Entry, err error) {
	e.metricInc(MetricPasswordResetConfirmFailure)
	e.emitAudit(ctx, entry, err)
}

// mapChallengeError translates challenge store failures into the flow's
// public errors. Infrastructure failures map to ErrInternal.
func mapChallengeError(err, invalid, attempts error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound),
		errors.Is(err, stores.ErrChallengeSecretMismatch):
		return invalid
	case errors.Is(err, stores.ErrChallengeAttemptsExceeded):
		return attempts
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}
