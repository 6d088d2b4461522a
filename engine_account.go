package goIdentity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/MrEthical07/goIdentity/audit"
)

// Register creates an active user bound to the context tenant, assigns
// Account.DefaultRole with the new user as assigner and, when
// Account.AutoLogin is on, starts a session.
//
// A duplicate email returns ErrEmailTaken and a duplicate username
// ErrUsernameTaken. Passwords failing the policy return a
// *password.WeakPasswordError matching ErrWeakPassword.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if e == nil || e.hasher == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	entry := audit.Entry{
		Action:       audit.ActionUserRegistered,
		ResourceType: audit.ResourceUser,
	}
	if !e.config.Account.Enabled {
		e.emitAudit(ctx, entry, ErrRegistrationDisabled)
		return nil, ErrRegistrationDisabled
	}

	tenantID, err := requestTenant(ctx)
	if err != nil {
		e.emitAudit(ctx, entry, err)
		return nil, err
	}
	if err := e.validate.StructCtx(ctx, in); err != nil {
		err = invalidInput(err)
		e.emitAudit(ctx, entry, err)
		return nil, err
	}
	email := foldIdentifier(in.Email)
	username := foldIdentifier(in.Username)
	entry.Metadata = map[string]string{"email": email, "username": username}

	if err := e.ensureAvailable(ctx, email, username); err != nil {
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrUsernameTaken) {
			e.metricInc(MetricRegisterDuplicate)
		}
		e.emitAudit(ctx, entry, err)
		return nil, err
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		e.emitAudit(ctx, entry, err)
		return nil, err
	}

	now := e.now()
	user := &UserRecord{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Active:       true,
		Verified:     !e.config.EmailVerification.Enabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a race with a concurrent registration; report which
			// identifier is now taken.
			if availErr := e.ensureAvailable(ctx, email, username); availErr != nil {
				err = availErr
			}
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, entry, err)
			return nil, err
		}
		e.emitAudit(ctx, entry, err)
		return nil, e.internalError("register.create", err)
	}
	entry.ActorID = user.ID
	entry.UserID = user.ID
	entry.ResourceID = user.ID

	if err := e.rbac.AssignInitialRole(ctx, user.ID, e.config.Account.DefaultRole); err != nil {
		e.emitAudit(ctx, entry, err)
		return nil, e.internalError("register.default_role", err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, entry, nil)

	result := &RegisterResult{User: user}
	if e.config.Account.AutoLogin && (user.Verified || !e.config.EmailVerification.RequireForLogin) {
		login, err := e.startSession(ctx, user)
		if err != nil {
			return result, err
		}
		result.Login = login
	}
	return result, nil
}

func (e *Engine) ensureAvailable(ctx context.Context, email, username string) error {
	if _, err := e.users.FindByEmail(ctx, email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return e.internalError("register.find_email", err)
	}
	if _, err := e.users.FindByUsername(ctx, username); err == nil {
		return ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return e.internalError("register.find_username", err)
	}
	return nil
}

// invalidInput flattens validator field errors into one ErrInvalidInput.
func invalidInput(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(fields, ", "))
}
