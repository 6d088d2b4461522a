package middleware

import (
	"net/http"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/rbac"
)

// RequireRoles admits users holding at least one of roles.
func (g *Guard) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return g.require("any_role", func(r *http.Request, res *goIdentity.AuthResult) (bool, error) {
		if g.mode == ModeFresh {
			return g.engine.RBAC().HasAnyRole(r.Context(), res.UserID, roles...)
		}
		for _, role := range roles {
			if res.HasRole(role) {
				return true, nil
			}
		}
		return false, nil
	})
}

// RequireAllRoles admits users holding every one of roles.
func (g *Guard) RequireAllRoles(roles ...string) func(http.Handler) http.Handler {
	return g.require("all_roles", func(r *http.Request, res *goIdentity.AuthResult) (bool, error) {
		if g.mode == ModeFresh {
			return g.engine.RBAC().HasAllRoles(r.Context(), res.UserID, roles...)
		}
		for _, role := range roles {
			if !res.HasRole(role) {
				return false, nil
			}
		}
		return true, nil
	})
}

// RequirePermissions admits users holding at least one of permissions.
func (g *Guard) RequirePermissions(permissions ...string) func(http.Handler) http.Handler {
	return g.require("any_permission", func(r *http.Request, res *goIdentity.AuthResult) (bool, error) {
		if g.mode == ModeFresh {
			return g.engine.RBAC().HasAnyPermission(r.Context(), res.UserID, permissions...)
		}
		for _, p := range permissions {
			if res.HasPermission(p) {
				return true, nil
			}
		}
		return false, nil
	})
}

// RequireAllPermissions admits users holding every one of permissions.
func (g *Guard) RequireAllPermissions(permissions ...string) func(http.Handler) http.Handler {
	return g.require("all_permissions", func(r *http.Request, res *goIdentity.AuthResult) (bool, error) {
		if g.mode == ModeFresh {
			return g.engine.RBAC().HasAllPermissions(r.Context(), res.UserID, permissions...)
		}
		for _, p := range permissions {
			if !res.HasPermission(p) {
				return false, nil
			}
		}
		return true, nil
	})
}

// RequireResourceAction admits users holding "{resource}.{action}".
func (g *Guard) RequireResourceAction(resource, action string) func(http.Handler) http.Handler {
	return g.RequirePermissions(rbac.PermissionName(resource, action))
}

// RequireLevel admits users whose highest active role level is at least
// min.
func (g *Guard) RequireLevel(min int) func(http.Handler) http.Handler {
	return g.require("level", func(r *http.Request, res *goIdentity.AuthResult) (bool, error) {
		if g.mode == ModeFresh {
			level, err := g.engine.RBAC().UserLevel(r.Context(), res.UserID)
			if err != nil {
				return false, err
			}
			return level >= min, nil
		}
		return res.Level >= min, nil
	})
}
