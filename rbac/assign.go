package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/audit"
)

// AssignRole gives targetID the role roleID, optionally until expiresAt.
//
// The actor must hold roles.assign and its level must be strictly greater
// than the role's level; otherwise ErrForbidden. Re-assigning replaces the
// previous expiry.
func (e *Engine) AssignRole(ctx context.Context, actorID, targetID, roleID string, expiresAt *time.Time) error {
	entry := audit.Entry{
		Action:       audit.ActionRoleAssigned,
		ActorID:      actorID,
		UserID:       targetID,
		ResourceType: audit.ResourceRole,
		ResourceID:   roleID,
	}

	role, err := e.guardRole(ctx, actorID, roleID, PermRolesAssign)
	if err != nil {
		e.record(ctx, entry, err)
		return err
	}
	entry.NewValue = role.Name

	if err := e.requireUser(ctx, targetID); err != nil {
		e.record(ctx, entry, err)
		return err
	}

	now := e.now()
	if expiresAt != nil && !expiresAt.After(now) {
		err := fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
		e.record(ctx, entry, err)
		return err
	}

	err = e.assignments.AssignRole(ctx, RoleAssignment{
		UserID:     targetID,
		RoleID:     role.ID,
		AssignedBy: actorID,
		AssignedAt: now,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		e.record(ctx, entry, err)
		return err
	}

	e.changed(ctx, targetID)
	if expiresAt != nil {
		entry.Metadata = map[string]string{"expires_at": expiresAt.UTC().Format(time.RFC3339)}
	}
	e.record(ctx, entry, nil)
	return nil
}

// AssignInitialRole gives a newly registered user the role named
// roleName with the user as its own assigner. It bypasses the actor guard
// and must only be called by the registration flow.
func (e *Engine) AssignInitialRole(ctx context.Context, userID, roleName string) error {
	entry := audit.Entry{
		Action:       audit.ActionRoleAssigned,
		ActorID:      userID,
		UserID:       userID,
		ResourceType: audit.ResourceRole,
		Metadata:     map[string]string{"source": "registration"},
	}

	role, err := e.catalog.RoleByName(ctx, roleName)
	if err != nil {
		e.record(ctx, entry, err)
		return err
	}
	entry.ResourceID = role.ID
	entry.NewValue = role.Name

	err = e.assignments.AssignRole(ctx, RoleAssignment{
		UserID:     userID,
		RoleID:     role.ID,
		AssignedBy: userID,
		AssignedAt: e.now(),
	})
	if err != nil {
		e.record(ctx, entry, err)
		return err
	}

	e.changed(ctx, userID)
	e.record(ctx, entry, nil)
	return nil
}

// RemoveRole takes roleID away from targetID under the same guard as
// AssignRole.
func (e *Engine) RemoveRole(ctx context.Context, actorID, targetID, roleID string) error {
	entry := audit.Entry{
		Action:       audit.ActionRoleRemoved,
		ActorID:      actorID,
		UserID:       targetID,
		ResourceType: audit.ResourceRole,
		ResourceID:   roleID,
	}

	role, err := e.guardRole(ctx, actorID, roleID, PermRolesAssign)
	if err != nil {
		e.record(ctx, entry, err)
		return err
	}
	entry.OldValue = role.Name

	if err := e.assignments.RemoveRole(ctx, targetID, role.ID); err != nil {
		e.record(ctx, entry, err)
		return err
	}

	e.changed(ctx, targetID)
	e.record(ctx, entry, nil)
	return nil
}

// GrantPermission gives targetID permissionID directly. The actor must hold
// permissions.grant; with the level gate on it must also outrank the target
// and hold the permission itself.
func (e *Engine) GrantPermission(ctx context.Context, actorID, targetID, permissionID string, expiresAt *time.Time) error {
	entry := audit.Entry{
		Action:       audit.ActionPermissionGranted,
		ActorID:      actorID,
		UserID:       targetID,
		ResourceType: audit.ResourcePermission,
		ResourceID:   permissionID,
	}

	perm, err := e.guardGrant(ctx, actorID, targetID, permissionID, true)
	if err != nil {
		e.record(ctx, entry, err)
		return err
	}
	entry.NewValue = perm.Name

	if err := e.requireUser(ctx, targetID); err != nil {
		e.record(ctx, entry, err)
		return err
	}

	now := e.now()
	if expiresAt != nil && !expiresAt.After(now) {
		err := fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
		e.record(ctx, entry, err)
		return err
	}

	err = e.assignments.GrantPermission(ctx, PermissionGrant{
		UserID:       targetID,
		PermissionID: perm.ID,
		GrantedBy:    actorID,
		GrantedAt:    now,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		e.record(ctx, entry, err)
		return err
	}

	e.changed(ctx, targetID)
	if expiresAt != nil {
		entry.Metadata = map[string]string{"expires_at": expiresAt.UTC().Format(time.RFC3339)}
	}
	e.record(ctx, entry, nil)
	return nil
}

// RevokePermission removes a direct grant under the same guard as
// GrantPermission, except that the actor need not hold the permission.
func (e *Engine) RevokePermission(ctx context.Context, actorID, targetID, permissionID string) error {
	entry := audit.Entry{
		Action:       audit.ActionPermissionRevoked,
		ActorID:      actorID,
		UserID:       targetID,
		ResourceType: audit.ResourcePermission,
		ResourceID:   permissionID,
	}

	perm, err := e.guardGrant(ctx, actorID, targetID, permissionID, false)
	if err != nil {
		e.record(ctx, entry, err)
		return err
	}
	entry.OldValue = perm.Name

	if err := e.assignments.RevokePermission(ctx, targetID, perm.ID); err != nil {
		e.record(ctx, entry, err)
		return err
	}

	e.changed(ctx, targetID)
	e.record(ctx, entry, nil)
	return nil
}

// guardRole checks the actor's permission before touching the catalog so
// an unprivileged caller cannot learn which role ids exist.
func (e *Engine) guardRole(ctx context.Context, actorID, roleID, required string) (*Role, error) {
	actor, err := e.actorContext(ctx, actorID, required)
	if err != nil {
		return nil, err
	}
	role, err := e.catalog.Role(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.Level >= actor.Level {
		return nil, fmt.Errorf("%w: role level %d not below actor level %d", ErrForbidden, role.Level, actor.Level)
	}
	return role, nil
}

func (e *Engine) guardGrant(ctx context.Context, actorID, targetID, permissionID string, granting bool) (*Permission, error) {
	actor, err := e.actorContext(ctx, actorID, PermPermissionsGrant)
	if err != nil {
		return nil, err
	}
	perm, err := e.catalog.Permission(ctx, permissionID)
	if err != nil {
		return nil, err
	}
	if !e.levelGateGrants {
		return perm, nil
	}

	target, err := e.compute(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if actor.Level <= target.Level {
		return nil, fmt.Errorf("%w: actor level %d not above target level %d", ErrForbidden, actor.Level, target.Level)
	}
	if granting && !actor.HasPermission(perm.Name) {
		return nil, fmt.Errorf("%w: actor does not hold %s", ErrForbidden, perm.Name)
	}
	return perm, nil
}

func (e *Engine) requireUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: target user required", ErrInvalidInput)
	}
	if e.userExists == nil {
		return nil
	}
	return e.userExists(ctx, userID)
}
