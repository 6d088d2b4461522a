package goIdentity

import (
	"context"
	"errors"

	"github.com/MrEthical07/goIdentity/audit"
	"github.com/MrEthical07/goIdentity/internal"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/stores"
)

// RequestEmailVerification issues a single-use verification token for
// userID. A new request replaces any outstanding token.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID string) (string, error) {
	if e == nil || e.users == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.EmailVerification.Enabled {
		return "", ErrEmailVerificationDisabled
	}
	tenantID := tenantIDFromContext(ctx)
	entry := audit.Entry{
		Action:       audit.ActionEmailVerifyRequested,
		ActorID:      userID,
		UserID:       userID,
		ResourceType: audit.ResourceUser,
		ResourceID:   userID,
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.emitAudit(ctx, entry, ErrNotFound)
			return "", ErrNotFound
		}
		return "", e.internalError("verify.find_user", err)
	}
	if homeTenant(user) != tenantID {
		e.emitAudit(ctx, entry, ErrNotFound)
		return "", ErrNotFound
	}
	if user.Verified {
		e.emitAudit(ctx, entry, ErrAlreadyVerified)
		return "", ErrAlreadyVerified
	}

	if e.limiter != nil {
		if err := e.limiter.CheckVerification(ctx, userID); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.emitAudit(ctx, entry, ErrEmailVerificationRateLimited)
				return "", ErrEmailVerificationRateLimited
			}
			return "", e.internalError("verify.rate_check", err)
		}
	}

	id, token, secretHash, err := internal.NewChallengeToken()
	if err != nil {
		return "", e.internalError("verify.token", err)
	}
	err = e.challenges.Save(ctx, tenantID, id, &stores.Challenge{
		Kind:       stores.KindEmailVerification,
		UserID:     user.ID,
		Email:      user.Email,
		SecretHash: secretHash,
		ExpiresAt:  e.now().Add(e.config.EmailVerification.TokenTTL),
	})
	if err != nil {
		e.emitAudit(ctx, entry, err)
		return "", e.internalError("verify.save", err)
	}

	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, entry, nil)
	return token, nil
}

// VerifyEmail consumes a verification token and marks its user verified.
// Unknown, expired, mismatched and exhausted tokens all return
// ErrEmailVerificationInvalid.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	if !e.config.EmailVerification.Enabled {
		return ErrEmailVerificationDisabled
	}
	entry := audit.Entry{
		Action:       audit.ActionEmailVerified,
		ResourceType: audit.ResourceUser,
	}

	id, secret, err := internal.DecodeChallengeToken(token)
	if err != nil {
		e.verifyFailed(ctx, entry, ErrEmailVerificationInvalid)
		return ErrEmailVerificationInvalid
	}

	ch, err := e.challenges.Consume(ctx, tenantIDFromContext(ctx), id, stores.KindEmailVerification,
		internal.HashSecret(secret), e.config.EmailVerification.MaxAttempts)
	if err != nil {
		mapped := mapChallengeError(err, ErrEmailVerificationInvalid, ErrEmailVerificationInvalid)
		e.verifyFailed(ctx, entry, mapped)
		if errors.Is(mapped, ErrInternal) {
			return e.internalError("verify.consume", err)
		}
		return mapped
	}
	entry.ActorID = ch.UserID
	entry.UserID = ch.UserID
	entry.ResourceID = ch.UserID

	if err := e.users.MarkVerified(ctx, ch.UserID); err != nil {
		if errors.Is(err, ErrNotFound) {
			e.verifyFailed(ctx, entry, ErrEmailVerificationInvalid)
			return ErrEmailVerificationInvalid
		}
		e.verifyFailed(ctx, entry, err)
		return e.internalError("verify.mark", err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, entry, nil)
	return nil
}

func (e *Engine) verifyFailed(ctx context.Context, entry audit.Entry, err error) {
	e.metricInc(MetricEmailVerificationFailure)
	e.emitAudit(ctx, entry, err)
}
