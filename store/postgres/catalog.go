package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goIdentity/rbac"
)

const (
	roleColumns       = `id, name, display_name, description, level, is_system, created_at, updated_at`
	permissionColumns = `id, name, display_name, description, resource, action, is_system, created_at, updated_at`
)

// Catalog implements rbac.Catalog.
type Catalog struct {
	pool *pgxpool.Pool
}

var _ rbac.Catalog = (*Catalog)(nil)

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func scanRole(row pgx.Row) (rbac.Role, error) {
	var r rbac.Role
	err := row.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Description, &r.Level, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanPermission(row pgx.Row) (rbac.Permission, error) {
	var p rbac.Permission
	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Description, &p.Resource, &p.Action, &p.IsSystem, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (c *Catalog) Role(ctx context.Context, id string) (*rbac.Role, error) {
	r, err := scanRole(c.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return &r, nil
}

func (c *Catalog) RoleByName(ctx context.Context, name string) (*rbac.Role, error) {
	r, err := scanRole(c.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
	if err != nil {
		return nil, mapError(err)
	}
	return &r, nil
}

// Roles returns every role, highest level first.
func (c *Catalog) Roles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := c.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY level DESC, name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.Role, error) { return scanRole(row) })
}

func (c *Catalog) CreateRole(ctx context.Context, r *rbac.Role) error {
	_, err := c.pool.Exec(ctx, `INSERT INTO roles (`+roleColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Name, r.DisplayName, r.Description, r.Level, r.IsSystem, r.CreatedAt, r.UpdatedAt)
	return mapError(err)
}

func (c *Catalog) UpdateRole(ctx context.Context, r *rbac.Role) error {
	return requireRow(c.pool.Exec(ctx, `UPDATE roles
		SET name = $2, display_name = $3, description = $4, level = $5, is_system = $6, updated_at = $7
		WHERE id = $1`,
		r.ID, r.Name, r.DisplayName, r.Description, r.Level, r.IsSystem, r.UpdatedAt))
}

// DeleteRole removes the role with its bindings and assignments.
func (c *Catalog) DeleteRole(ctx context.Context, id string) error {
	return requireRow(c.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id))
}

func (c *Catalog) Permission(ctx context.Context, id string) (*rbac.Permission, error) {
	p, err := scanPermission(c.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (c *Catalog) PermissionByName(ctx context.Context, name string) (*rbac.Permission, error) {
	p, err := scanPermission(c.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name))
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (c *Catalog) Permissions(ctx context.Context) ([]rbac.Permission, error) {
	return c.queryPermissions(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
}

func (c *Catalog) PermissionsByResource(ctx context.Context, resource string) ([]rbac.Permission, error) {
	return c.queryPermissions(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE resource = $1 ORDER BY name`, resource)
}

func (c *Catalog) queryPermissions(ctx context.Context, query string, args ...any) ([]rbac.Permission, error) {
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.Permission, error) { return scanPermission(row) })
}

func (c *Catalog) CreatePermission(ctx context.Context, p *rbac.Permission) error {
	_, err := c.pool.Exec(ctx, `INSERT INTO permissions (`+permissionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Name, p.DisplayName, p.Description, p.Resource, p.Action, p.IsSystem, p.CreatedAt, p.UpdatedAt)
	return mapError(err)
}

func (c *Catalog) UpdatePermission(ctx context.Context, p *rbac.Permission) error {
	return requireRow(c.pool.Exec(ctx, `UPDATE permissions
		SET name = $2, display_name = $3, description = $4, resource = $5, action = $6, is_system = $7, updated_at = $8
		WHERE id = $1`,
		p.ID, p.Name, p.DisplayName, p.Description, p.Resource, p.Action, p.IsSystem, p.UpdatedAt))
}

func (c *Catalog) DeletePermission(ctx context.Context, id string) error {
	return requireRow(c.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id))
}

func (c *Catalog) RolePermissions(ctx context.Context, roleID string) ([]rbac.Permission, error) {
	return c.queryPermissions(ctx, `SELECT p.id, p.name, p.display_name, p.description, p.resource, p.action,
			p.is_system, p.created_at, p.updated_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name`, roleID)
}

// AddRolePermission binds a permission to a role. Either side missing
// returns store.ErrNotFound; an existing binding is left as is.
func (c *Catalog) AddRolePermission(ctx context.Context, roleID, permissionID string) error {
	return withTx(ctx, c.pool, func(tx pgx.Tx) error {
		var n int
		err := tx.QueryRow(ctx, `SELECT
				(SELECT COUNT(*) FROM roles WHERE id = $1) +
				(SELECT COUNT(*) FROM permissions WHERE id = $2)`, roleID, permissionID).Scan(&n)
		if err != nil {
			return err
		}
		if n != 2 {
			return mapError(pgx.ErrNoRows)
		}
		_, err = tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, roleID, permissionID)
		return mapError(err)
	})
}

func (c *Catalog) RemoveRolePermission(ctx context.Context, roleID, permissionID string) error {
	return requireRow(c.pool.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID))
}
