package rbac

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/MrEthical07/goIdentity/audit"
)

// Roles lists the catalog's roles.
func (e *Engine) Roles(ctx context.Context) ([]Role, error) {
	return e.catalog.Roles(ctx)
}

// Permissions lists the catalog's permissions.
func (e *Engine) Permissions(ctx context.Context) ([]Permission, error) {
	return e.catalog.Permissions(ctx)
}

// PermissionsByResource lists permissions for one resource.
func (e *Engine) PermissionsByResource(ctx context.Context, resource string) ([]Permission, error) {
	return e.catalog.PermissionsByResource(ctx, resource)
}

// RolePermissions lists the permissions bound to roleID.
func (e *Engine) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	if _, err := e.catalog.Role(ctx, roleID); err != nil {
		return nil, err
	}
	return e.catalog.RolePermissions(ctx, roleID)
}

// CreateRole adds a role below the actor's own level. Requires roles.create.
func (e *Engine) CreateRole(ctx context.Context, actorID string, r Role) (*Role, error) {
	entry := audit.Entry{Action: audit.ActionRoleCreated, ActorID: actorID, ResourceType: audit.ResourceRole}

	created, err := e.createRole(ctx, actorID, r)
	if created != nil {
		entry.ResourceID = created.ID
		entry.NewValue = roleValue(created)
	}
	e.record(ctx, entry, err)
	return created, err
}

func (e *Engine) createRole(ctx context.Context, actorID string, r Role) (*Role, error) {
	actor, err := e.actorContext(ctx, actorID, PermRolesCreate)
	if err != nil {
		return nil, err
	}
	if err := validateRole(r); err != nil {
		return nil, err
	}
	if r.Level >= actor.Level {
		return nil, fmt.Errorf("%w: role level %d not below actor level %d", ErrForbidden, r.Level, actor.Level)
	}

	now := e.now()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt, r.UpdatedAt = now, now
	if err := e.catalog.CreateRole(ctx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRole changes a role's descriptive fields or level. Both the old and
// the new level must be below the actor's. System roles keep their name.
// Requires roles.update.
func (e *Engine) UpdateRole(ctx context.Context, actorID string, r Role) (*Role, error) {
	entry := audit.Entry{Action: audit.ActionRoleUpdated, ActorID: actorID, ResourceType: audit.ResourceRole, ResourceID: r.ID}

	updated, old, err := e.updateRole(ctx, actorID, r)
	if old != nil {
		entry.OldValue = roleValue(old)
	}
	if updated != nil {
		entry.NewValue = roleValue(updated)
	}
	e.record(ctx, entry, err)
	return updated, err
}

func (e *Engine) updateRole(ctx context.Context, actorID string, r Role) (*Role, *Role, error) {
	actor, err := e.actorContext(ctx, actorID, PermRolesUpdate)
	if err != nil {
		return nil, nil, err
	}
	old, err := e.catalog.Role(ctx, r.ID)
	if err != nil {
		return nil, nil, err
	}
	if err := validateRole(r); err != nil {
		return nil, old, err
	}
	if old.Level >= actor.Level || r.Level >= actor.Level {
		return nil, old, fmt.Errorf("%w: role level not below actor level %d", ErrForbidden, actor.Level)
	}
	if old.IsSystem && r.Name != old.Name {
		return nil, old, fmt.Errorf("%w: system role cannot be renamed", ErrInvalidInput)
	}

	r.IsSystem = old.IsSystem
	r.CreatedAt = old.CreatedAt
	r.UpdatedAt = e.now()
	if err := e.catalog.UpdateRole(ctx, &r); err != nil {
		return nil, old, err
	}
	e.changedAll(ctx)
	return &r, old, nil
}

// DeleteRole removes a non-system role below the actor's level. Requires
// roles.delete.
func (e *Engine) DeleteRole(ctx context.Context, actorID, roleID string) error {
	entry := audit.Entry{Action: audit.ActionRoleDeleted, ActorID: actorID, ResourceType: audit.ResourceRole, ResourceID: roleID}

	old, err := e.deleteRole(ctx, actorID, roleID)
	if old != nil {
		entry.OldValue = roleValue(old)
	}
	e.record(ctx, entry, err)
	return err
}

func (e *Engine) deleteRole(ctx context.Context, actorID, roleID string) (*Role, error) {
	actor, err := e.actorContext(ctx, actorID, PermRolesDelete)
	if err != nil {
		return nil, err
	}
	old, err := e.catalog.Role(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if old.IsSystem {
		return old, ErrSystemEntry
	}
	if old.Level >= actor.Level {
		return old, fmt.Errorf("%w: role level %d not below actor level %d", ErrForbidden, old.Level, actor.Level)
	}
	if err := e.catalog.DeleteRole(ctx, roleID); err != nil {
		return old, err
	}
	e.changedAll(ctx)
	return old, nil
}

// CreatePermission adds a permission. Either Name or Resource and Action
// may be given; the missing half is derived. Requires permissions.create.
func (e *Engine) CreatePermission(ctx context.Context, actorID string, p Permission) (*Permission, error) {
	entry := audit.Entry{Action: audit.ActionPermissionCreated, ActorID: actorID, ResourceType: audit.ResourcePermission}

	created, err := e.createPermission(ctx, actorID, p)
	if created != nil {
		entry.ResourceID = created.ID
		entry.NewValue = created.Name
	}
	e.record(ctx, entry, err)
	return created, err
}

func (e *Engine) createPermission(ctx context.Context, actorID string, p Permission) (*Permission, error) {
	if _, err := e.actorContext(ctx, actorID, PermPermissionsCreate); err != nil {
		return nil, err
	}
	p, err := normalizePermission(p)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt, p.UpdatedAt = now, now
	if err := e.catalog.CreatePermission(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePermission changes DisplayName and Description. The name is
// immutable because it is embedded in outstanding tokens. Requires
// permissions.update.
func (e *Engine) UpdatePermission(ctx context.Context, actorID string, p Permission) (*Permission, error) {
	entry := audit.Entry{Action: audit.ActionPermissionUpdated, ActorID: actorID, ResourceType: audit.ResourcePermission, ResourceID: p.ID}

	updated, err := e.updatePermission(ctx, actorID, p)
	if updated != nil {
		entry.NewValue = updated.Name
	}
	e.record(ctx, entry, err)
	return updated, err
}

func (e *Engine) updatePermission(ctx context.Context, actorID string, p Permission) (*Permission, error) {
	if _, err := e.actorContext(ctx, actorID, PermPermissionsUpdate); err != nil {
		return nil, err
	}
	old, err := e.catalog.Permission(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if (p.Name != "" && p.Name != old.Name) ||
		(p.Resource != "" && p.Resource != old.Resource) ||
		(p.Action != "" && p.Action != old.Action) {
		return nil, fmt.Errorf("%w: permission name is immutable", ErrInvalidInput)
	}

	updated := *old
	updated.DisplayName = p.DisplayName
	updated.Description = p.Description
	updated.UpdatedAt = e.now()
	if err := e.catalog.UpdatePermission(ctx, &updated); err != nil {
		return nil, err
	}
	e.changedAll(ctx)
	return &updated, nil
}

// DeletePermission removes a non-system permission. Requires
// permissions.delete.
func (e *Engine) DeletePermission(ctx context.Context, actorID, permissionID string) error {
	entry := audit.Entry{Action: audit.ActionPermissionDeleted, ActorID: actorID, ResourceType: audit.ResourcePermission, ResourceID: permissionID}

	err := e.deletePermission(ctx, actorID, permissionID, &entry)
	e.record(ctx, entry, err)
	return err
}

func (e *Engine) deletePermission(ctx context.Context, actorID, permissionID string, entry *audit.Entry) error {
	if _, err := e.actorContext(ctx, actorID, PermPermissionsDelete); err != nil {
		return err
	}
	old, err := e.catalog.Permission(ctx, permissionID)
	if err != nil {
		return err
	}
	entry.OldValue = old.Name
	if old.IsSystem {
		return ErrSystemEntry
	}
	if err := e.catalog.DeletePermission(ctx, permissionID); err != nil {
		return err
	}
	e.changedAll(ctx)
	return nil
}

// AddRolePermission binds permissionID to roleID. The actor needs
// roles.update and must outrank the role; with the level gate on it must
// also hold the permission.
func (e *Engine) AddRolePermission(ctx context.Context, actorID, roleID, permissionID string) error {
	return e.bindRolePermission(ctx, actorID, roleID, permissionID, true)
}

// RemoveRolePermission unbinds permissionID from roleID under the same
// guard as AddRolePermission, except that holding the permission is not
// required.
func (e *Engine) RemoveRolePermission(ctx context.Context, actorID, roleID, permissionID string) error {
	return e.bindRolePermission(ctx, actorID, roleID, permissionID, false)
}

func (e *Engine) bindRolePermission(ctx context.Context, actorID, roleID, permissionID string, add bool) error {
	entry := audit.Entry{
		Action:       audit.ActionRolePermissionDel,
		ActorID:      actorID,
		ResourceType: audit.ResourceRole,
		ResourceID:   roleID,
	}
	if add {
		entry.Action = audit.ActionRolePermissionSet
	}

	err := func() error {
		role, err := e.guardRole(ctx, actorID, roleID, PermRolesUpdate)
		if err != nil {
			return err
		}
		perm, err := e.catalog.Permission(ctx, permissionID)
		if err != nil {
			return err
		}
		if add {
			entry.NewValue = perm.Name
		} else {
			entry.OldValue = perm.Name
		}
		if add && e.levelGateGrants {
			actor, err := e.compute(ctx, actorID)
			if err != nil {
				return err
			}
			if !actor.HasPermission(perm.Name) {
				return fmt.Errorf("%w: actor does not hold %s", ErrForbidden, perm.Name)
			}
		}

		if add {
			err = e.catalog.AddRolePermission(ctx, role.ID, perm.ID)
		} else {
			err = e.catalog.RemoveRolePermission(ctx, role.ID, perm.ID)
		}
		if err != nil {
			return err
		}
		e.changedAll(ctx)
		return nil
	}()

	e.record(ctx, entry, err)
	return err
}

func validateRole(r Role) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if r.Level < 0 {
		return fmt.Errorf("%w: role level must not be negative", ErrInvalidInput)
	}
	return nil
}

func normalizePermission(p Permission) (Permission, error) {
	switch {
	case p.Name != "":
		resource, action, ok := SplitPermissionName(p.Name)
		if !ok {
			return p, fmt.Errorf("%w: permission name must be resource.action", ErrInvalidInput)
		}
		if (p.Resource != "" && p.Resource != resource) || (p.Action != "" && p.Action != action) {
			return p, fmt.Errorf("%w: permission name disagrees with resource and action", ErrInvalidInput)
		}
		p.Resource, p.Action = resource, action
	case p.Resource != "" && p.Action != "":
		p.Name = PermissionName(p.Resource, p.Action)
		if _, _, ok := SplitPermissionName(p.Name); !ok {
			return p, fmt.Errorf("%w: permission name must be resource.action", ErrInvalidInput)
		}
	default:
		return p, fmt.Errorf("%w: permission name or resource and action required", ErrInvalidInput)
	}
	return p, nil
}

func roleValue(r *Role) string {
	return r.Name + ":" + strconv.Itoa(r.Level)
}
