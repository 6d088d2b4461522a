package rbac

import "context"

// AssignmentStore persists which roles and direct permissions each user
// holds. Reads return every row, active or not; the engine filters by its
// own clock.
type AssignmentStore interface {
	RoleAssignments(ctx context.Context, userID string) ([]RoleAssignment, error)
	PermissionGrants(ctx context.Context, userID string) ([]PermissionGrant, error)
	// AssignRole inserts or replaces the (user, role) row.
	AssignRole(ctx context.Context, a RoleAssignment) error
	// RemoveRole returns store.ErrNotFound when no row exists.
	RemoveRole(ctx context.Context, userID, roleID string) error
	// GrantPermission inserts or replaces the (user, permission) row.
	GrantPermission(ctx context.Context, g PermissionGrant) error
	// RevokePermission returns store.ErrNotFound when no row exists.
	RevokePermission(ctx context.Context, userID, permissionID string) error
}

// Catalog persists roles, permissions and their static bindings. Lookups
// return store.ErrNotFound; creates return store.ErrConflict on duplicate
// names.
type Catalog interface {
	Role(ctx context.Context, id string) (*Role, error)
	RoleByName(ctx context.Context, name string) (*Role, error)
	Roles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, id string) error

	Permission(ctx context.Context, id string) (*Permission, error)
	PermissionByName(ctx context.Context, name string) (*Permission, error)
	Permissions(ctx context.Context) ([]Permission, error)
	PermissionsByResource(ctx context.Context, resource string) ([]Permission, error)
	CreatePermission(ctx context.Context, p *Permission) error
	UpdatePermission(ctx context.Context, p *Permission) error
	DeletePermission(ctx context.Context, id string) error

	RolePermissions(ctx context.Context, roleID string) ([]Permission, error)
	AddRolePermission(ctx context.Context, roleID, permissionID string) error
	RemoveRolePermission(ctx context.Context, roleID, permissionID string) error
}
