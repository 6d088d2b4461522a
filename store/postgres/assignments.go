package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goIdentity/rbac"
)

// Assignments implements rbac.AssignmentStore. Reads return expired rows
// too; the rbac engine filters by its own clock.
type Assignments struct {
	db dbtx
}

var _ rbac.AssignmentStore = (*Assignments)(nil)

func NewAssignments(pool *pgxpool.Pool) *Assignments {
	return &Assignments{db: pool}
}

func (s *Assignments) RoleAssignments(ctx context.Context, userID string) ([]rbac.RoleAssignment, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id, role_id, assigned_by, assigned_at, expires_at
		FROM user_roles WHERE user_id = $1 ORDER BY assigned_at`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.RoleAssignment, error) {
		var a rbac.RoleAssignment
		err := row.Scan(&a.UserID, &a.RoleID, &a.AssignedBy, &a.AssignedAt, &a.ExpiresAt)
		return a, err
	})
}

func (s *Assignments) PermissionGrants(ctx context.Context, userID string) ([]rbac.PermissionGrant, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id, permission_id, granted_by, granted_at, expires_at
		FROM user_permissions WHERE user_id = $1 ORDER BY granted_at`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.PermissionGrant, error) {
		var g rbac.PermissionGrant
		err := row.Scan(&g.UserID, &g.PermissionID, &g.GrantedBy, &g.GrantedAt, &g.ExpiresAt)
		return g, err
	})
}

func (s *Assignments) AssignRole(ctx context.Context, a rbac.RoleAssignment) error {
	_, err := s.db.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, role_id) DO UPDATE
		SET assigned_by = EXCLUDED.assigned_by, assigned_at = EXCLUDED.assigned_at, expires_at = EXCLUDED.expires_at`,
		a.UserID, a.RoleID, a.AssignedBy, a.AssignedAt, a.ExpiresAt)
	return mapError(err)
}

func (s *Assignments) RemoveRole(ctx context.Context, userID, roleID string) error {
	return requireRow(s.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID))
}

func (s *Assignments) GrantPermission(ctx context.Context, g rbac.PermissionGrant) error {
	_, err := s.db.Exec(ctx, `INSERT INTO user_permissions (user_id, permission_id, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, permission_id) DO UPDATE
		SET granted_by = EXCLUDED.granted_by, granted_at = EXCLUDED.granted_at, expires_at = EXCLUDED.expires_at`,
		g.UserID, g.PermissionID, g.GrantedBy, g.GrantedAt, g.ExpiresAt)
	return mapError(err)
}

func (s *Assignments) RevokePermission(ctx context.Context, userID, permissionID string) error {
	return requireRow(s.db.Exec(ctx,
		`DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, permissionID))
}
