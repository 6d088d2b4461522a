package rbac

import (
	"sort"
	"strings"
	"time"
)

// Role is a named bundle of permissions with a trust level. Higher levels
// may manage lower ones, never equal or higher.
type Role struct {
	ID          string
	Name        string
	DisplayName string
	Description string
	Level       int
	IsSystem    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is a "{resource}.{action}" capability.
type Permission struct {
	ID          string
	Name        string
	DisplayName string
	Description string
	Resource    string
	Action      string
	IsSystem    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PermissionName joins resource and action into a permission name.
func PermissionName(resource, action string) string {
	return resource + "." + action
}

// SplitPermissionName splits "users.read" into ("users", "read").
func SplitPermissionName(name string) (resource, action string, ok bool) {
	resource, action, ok = strings.Cut(name, ".")
	if !ok || resource == "" || action == "" || strings.Contains(action, ".") {
		return "", "", false
	}
	return resource, action, true
}

// RoleAssignment binds a role to a user. A nil ExpiresAt is permanent.
type RoleAssignment struct {
	UserID     string
	RoleID     string
	AssignedBy string
	AssignedAt time.Time
	ExpiresAt  *time.Time
}

// ActiveAt reports whether the assignment is in force at now.
func (a RoleAssignment) ActiveAt(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// PermissionGrant gives a user a permission directly, bypassing roles.
type PermissionGrant struct {
	UserID       string
	PermissionID string
	GrantedBy    string
	GrantedAt    time.Time
	ExpiresAt    *time.Time
}

// ActiveAt reports whether the grant is in force at now.
func (g PermissionGrant) ActiveAt(now time.Time) bool {
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// UserContext is the resolved authorization state of one user at
// ComputedAt. It is immutable once returned.
type UserContext struct {
	UserID      string
	Roles       []Role
	Permissions []Permission
	Level       int
	Assignments []RoleAssignment
	Grants      []PermissionGrant
	ComputedAt  time.Time

	// ValidUntil is the earliest instant at which an assignment or grant
	// changes state. Zero means nothing is scheduled to expire.
	ValidUntil time.Time

	roleSet map[string]struct{}
	permSet map[string]struct{}
}

func (c *UserContext) index() {
	c.roleSet = make(map[string]struct{}, len(c.Roles))
	for _, r := range c.Roles {
		c.roleSet[r.Name] = struct{}{}
	}
	c.permSet = make(map[string]struct{}, len(c.Permissions))
	for _, p := range c.Permissions {
		c.permSet[p.Name] = struct{}{}
	}
}

// HasRole reports whether the user holds the named role.
func (c *UserContext) HasRole(name string) bool {
	_, ok := c.roleSet[name]
	return ok
}

// HasPermission reports whether the named permission is in the effective set.
func (c *UserContext) HasPermission(name string) bool {
	_, ok := c.permSet[name]
	return ok
}

// RoleNames returns the sorted names of the active roles.
func (c *UserContext) RoleNames() []string {
	out := make([]string, 0, len(c.Roles))
	for _, r := range c.Roles {
		out = append(out, r.Name)
	}
	sort.Strings(out)
	return out
}

// PermissionNames returns the sorted effective permission names.
func (c *UserContext) PermissionNames() []string {
	out := make([]string, 0, len(c.Permissions))
	for _, p := range c.Permissions {
		out = append(out, p.Name)
	}
	sort.Strings(out)
	return out
}

// Snapshot is the point-in-time view embedded into access tokens.
type Snapshot struct {
	Roles       []string
	Permissions []string
	Level       int
}

// Snapshot flattens c for embedding.
func (c *UserContext) Snapshot() Snapshot {
	return Snapshot{Roles: c.RoleNames(), Permissions: c.PermissionNames(), Level: c.Level}
}
