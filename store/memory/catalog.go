package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/MrEthical07/goIdentity/rbac"
	"github.com/MrEthical07/goIdentity/store"
)

// Catalog implements rbac.Catalog.
type Catalog struct {
	mu          sync.RWMutex
	roles       map[string]rbac.Role
	permissions map[string]rbac.Permission
	bindings    map[string]map[string]struct{}
}

var _ rbac.Catalog = (*Catalog)(nil)

func NewCatalog() *Catalog {
	return &Catalog{
		roles:       make(map[string]rbac.Role),
		permissions: make(map[string]rbac.Permission),
		bindings:    make(map[string]map[string]struct{}),
	}
}

func (c *Catalog) Role(_ context.Context, id string) (*rbac.Role, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.roles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (c *Catalog) RoleByName(_ context.Context, name string) (*rbac.Role, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.roles {
		if r.Name == name {
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (c *Catalog) Roles(_ context.Context) ([]rbac.Role, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]rbac.Role, 0, len(c.roles))
	for _, r := range c.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (c *Catalog) CreateRole(_ context.Context, r *rbac.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.roles[r.ID]; ok {
		return store.ErrConflict
	}
	for _, existing := range c.roles {
		if existing.Name == r.Name {
			return store.ErrConflict
		}
	}
	c.roles[r.ID] = *r
	return nil
}

func (c *Catalog) UpdateRole(_ context.Context, r *rbac.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.roles[r.ID]; !ok {
		return store.ErrNotFound
	}
	for id, existing := range c.roles {
		if id != r.ID && existing.Name == r.Name {
			return store.ErrConflict
		}
	}
	c.roles[r.ID] = *r
	return nil
}

func (c *Catalog) DeleteRole(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.roles[id]; !ok {
		return store.ErrNotFound
	}
	delete(c.roles, id)
	delete(c.bindings, id)
	return nil
}

func (c *Catalog) Permission(_ context.Context, id string) (*rbac.Permission, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.permissions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (c *Catalog) PermissionByName(_ context.Context, name string) (*rbac.Permission, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.permissions {
		if p.Name == name {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (c *Catalog) Permissions(_ context.Context) ([]rbac.Permission, error) {
	return c.filterPermissions(func(rbac.Permission) bool { return true }), nil
}

func (c *Catalog) PermissionsByResource(_ context.Context, resource string) ([]rbac.Permission, error) {
	return c.filterPermissions(func(p rbac.Permission) bool { return p.Resource == resource }), nil
}

func (c *Catalog) filterPermissions(keep func(rbac.Permission) bool) []rbac.Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]rbac.Permission, 0, len(c.permissions))
	for _, p := range c.permissions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) CreatePermission(_ context.Context, p *rbac.Permission) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.permissions[p.ID]; ok {
		return store.ErrConflict
	}
	for _, existing := range c.permissions {
		if existing.Name == p.Name {
			return store.ErrConflict
		}
	}
	c.permissions[p.ID] = *p
	return nil
}

func (c *Catalog) UpdatePermission(_ context.Context, p *rbac.Permission) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.permissions[p.ID]; !ok {
		return store.ErrNotFound
	}
	c.permissions[p.ID] = *p
	return nil
}

func (c *Catalog) DeletePermission(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.permissions[id]; !ok {
		return store.ErrNotFound
	}
	delete(c.permissions, id)
	for _, perms := range c.bindings {
		delete(perms, id)
	}
	return nil
}

func (c *Catalog) RolePermissions(_ context.Context, roleID string) ([]rbac.Permission, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]rbac.Permission, 0, len(c.bindings[roleID]))
	for id := range c.bindings[roleID] {
		if p, ok := c.permissions[id]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Catalog) AddRolePermission(_ context.Context, roleID, permissionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.roles[roleID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := c.permissions[permissionID]; !ok {
		return store.ErrNotFound
	}
	if c.bindings[roleID] == nil {
		c.bindings[roleID] = make(map[string]struct{})
	}
	c.bindings[roleID][permissionID] = struct{}{}
	return nil
}

func (c *Catalog) RemoveRolePermission(_ context.Context, roleID, permissionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.bindings[roleID][permissionID]; !ok {
		return store.ErrNotFound
	}
	delete(c.bindings[roleID], permissionID)
	return nil
}
