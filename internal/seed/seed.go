package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/rbac"
	"github.com/MrEthical07/goIdentity/store"
)

// Manifest is the YAML document accepted by Load.
//
//	permissions:
//	  - name: users.read
//	    description: Read user profiles
//	roles:
//	  - name: admin
//	    level: 100
//	    system: true
//	    permissions: [users.read]
//	assignments:
//	  - email: root@example.com
//	    role: admin
type Manifest struct {
	Permissions []PermissionSpec `yaml:"permissions"`
	Roles       []RoleSpec       `yaml:"roles"`
	Assignments []AssignmentSpec `yaml:"assignments"`
}

type PermissionSpec struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
	System      bool   `yaml:"system"`
}

type RoleSpec struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Description string   `yaml:"description"`
	Level       int      `yaml:"level"`
	System      bool     `yaml:"system"`
	Permissions []string `yaml:"permissions"`
}

// AssignmentSpec gives an existing user a role. Users are matched by
// email.
type AssignmentSpec struct {
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

// Load decodes and validates a manifest. Unknown keys are rejected.
func Load(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks names and cross references.
func (m *Manifest) Validate() error {
	var errs []error
	perms := make(map[string]struct{}, len(m.Permissions))
	for i, p := range m.Permissions {
		if _, _, ok := rbac.SplitPermissionName(p.Name); !ok {
			errs = append(errs, fmt.Errorf("permissions[%d]: %q is not resource.action", i, p.Name))
		}
		if _, dup := perms[p.Name]; dup {
			errs = append(errs, fmt.Errorf("permissions[%d]: duplicate %q", i, p.Name))
		}
		perms[p.Name] = struct{}{}
	}

	roles := make(map[string]struct{}, len(m.Roles))
	for i, r := range m.Roles {
		if strings.TrimSpace(r.Name) == "" {
			errs = append(errs, fmt.Errorf("roles[%d]: name required", i))
		}
		if _, dup := roles[r.Name]; dup {
			errs = append(errs, fmt.Errorf("roles[%d]: duplicate %q", i, r.Name))
		}
		if r.Level < 0 {
			errs = append(errs, fmt.Errorf("roles[%d]: negative level", i))
		}
		roles[r.Name] = struct{}{}
		for _, p := range r.Permissions {
			if _, ok := perms[p]; !ok {
				errs = append(errs, fmt.Errorf("roles[%d]: unknown permission %q", i, p))
			}
		}
	}

	for i, a := range m.Assignments {
		if a.Email == "" {
			errs = append(errs, fmt.Errorf("assignments[%d]: email required", i))
		}
		if _, ok := roles[a.Role]; !ok {
			errs = append(errs, fmt.Errorf("assignments[%d]: unknown role %q", i, a.Role))
		}
	}
	return errors.Join(errs...)
}

// Stores are the targets of Apply. Users may be nil when the manifest
// has no assignments.
type Stores struct {
	Catalog     rbac.Catalog
	Assignments rbac.AssignmentStore
	Users       account.Store
	Now         func() time.Time
	// Notifier, when set, is told to drop every cached RBAC decision
	// once Apply has changed anything.
	Notifier rbac.Notifier
}

// Result counts the changes Apply made.
type Result struct {
	PermissionsCreated int
	PermissionsUpdated int
	RolesCreated       int
	RolesUpdated       int
	BindingsAdded      int
	Assigned           int
	// MissingUsers lists assignment emails with no matching user.
	MissingUsers []string
}

// Changed reports whether Apply wrote anything.
func (r *Result) Changed() bool {
	return r.PermissionsCreated+r.PermissionsUpdated+r.RolesCreated+r.RolesUpdated+r.BindingsAdded+r.Assigned > 0
}

// Apply creates or updates every entry of m. Existing entries are matched
// by name; bindings and assignments are only ever added.
func Apply(ctx context.Context, m *Manifest, s Stores) (*Result, error) {
	res, err := apply(ctx, m, s)
	if s.Notifier != nil && res.Changed() {
		if nerr := s.Notifier.Notify(ctx, ""); nerr != nil {
			err = errors.Join(err, fmt.Errorf("invalidate rbac caches: %w", nerr))
		}
	}
	return res, err
}

func apply(ctx context.Context, m *Manifest, s Stores) (*Result, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	res := &Result{}

	permIDs := make(map[string]string, len(m.Permissions))
	for _, spec := range m.Permissions {
		id, created, updated, err := applyPermission(ctx, s.Catalog, spec, now())
		if err != nil {
			return res, fmt.Errorf("permission %s: %w", spec.Name, err)
		}
		permIDs[spec.Name] = id
		res.PermissionsCreated += btoi(created)
		res.PermissionsUpdated += btoi(updated)
	}

	roleIDs := make(map[string]string, len(m.Roles))
	for _, spec := range m.Roles {
		id, created, updated, err := applyRole(ctx, s.Catalog, spec, now())
		if err != nil {
			return res, fmt.Errorf("role %s: %w", spec.Name, err)
		}
		roleIDs[spec.Name] = id

		bound, err := s.Catalog.RolePermissions(ctx, id)
		if err != nil {
			return res, fmt.Errorf("role %s: %w", spec.Name, err)
		}
		have := make(map[string]struct{}, len(bound))
		for _, p := range bound {
			have[p.ID] = struct{}{}
		}
		for _, name := range spec.Permissions {
			pid := permIDs[name]
			if _, ok := have[pid]; ok {
				continue
			}
			if err := s.Catalog.AddRolePermission(ctx, id, pid); err != nil {
				return res, fmt.Errorf("bind %s to %s: %w", name, spec.Name, err)
			}
			res.BindingsAdded++
		}
		res.RolesCreated += btoi(created)
		res.RolesUpdated += btoi(updated)
	}

	for _, a := range m.Assignments {
		if s.Users == nil || s.Assignments == nil {
			return res, errors.New("assignments need user and assignment stores")
		}
		user, err := s.Users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(a.Email)))
		if errors.Is(err, store.ErrNotFound) {
			res.MissingUsers = append(res.MissingUsers, a.Email)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("assignment %s: %w", a.Email, err)
		}
		if held, err := holdsRole(ctx, s.Assignments, user.ID, roleIDs[a.Role], now()); err != nil {
			return res, fmt.Errorf("assignment %s: %w", a.Email, err)
		} else if held {
			continue
		}
		err = s.Assignments.AssignRole(ctx, rbac.RoleAssignment{
			UserID:     user.ID,
			RoleID:     roleIDs[a.Role],
			AssignedBy: user.ID,
			AssignedAt: now(),
		})
		if err != nil {
			return res, fmt.Errorf("assignment %s: %w", a.Email, err)
		}
		res.Assigned++
	}
	return res, nil
}

func applyPermission(ctx context.Context, c rbac.Catalog, spec PermissionSpec, now time.Time) (string, bool, bool, error) {
	resource, action, _ := rbac.SplitPermissionName(spec.Name)
	existing, err := c.PermissionByName(ctx, spec.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		p := &rbac.Permission{
			ID:          uuid.NewString(),
			Name:        spec.Name,
			DisplayName: spec.DisplayName,
			Description: spec.Description,
			Resource:    resource,
			Action:      action,
			IsSystem:    spec.System,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return p.ID, true, false, c.CreatePermission(ctx, p)
	case err != nil:
		return "", false, false, err
	}

	if existing.DisplayName == spec.DisplayName && existing.Description == spec.Description && existing.IsSystem == spec.System {
		return existing.ID, false, false, nil
	}
	existing.DisplayName = spec.DisplayName
	existing.Description = spec.Description
	existing.IsSystem = spec.System
	existing.UpdatedAt = now
	return existing.ID, false, true, c.UpdatePermission(ctx, existing)
}

func applyRole(ctx context.Context, c rbac.Catalog, spec RoleSpec, now time.Time) (string, bool, bool, error) {
	existing, err := c.RoleByName(ctx, spec.Name)
	switch {
	case errors.Is(err, store.ErrNotFound):
		r := &rbac.Role{
			ID:          uuid.NewString(),
			Name:        spec.Name,
			DisplayName: spec.DisplayName,
			Description: spec.Description,
			Level:       spec.Level,
			IsSystem:    spec.System,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return r.ID, true, false, c.CreateRole(ctx, r)
	case err != nil:
		return "", false, false, err
	}

	if existing.DisplayName == spec.DisplayName && existing.Description == spec.Description &&
		existing.Level == spec.Level && existing.IsSystem == spec.System {
		return existing.ID, false, false, nil
	}
	existing.DisplayName = spec.DisplayName
	existing.Description = spec.Description
	existing.Level = spec.Level
	existing.IsSystem = spec.System
	existing.UpdatedAt = now
	return existing.ID, false, true, c.UpdateRole(ctx, existing)
}

func holdsRole(ctx context.Context, s rbac.AssignmentStore, userID, roleID string, now time.Time) (bool, error) {
	assignments, err := s.RoleAssignments(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, a := range assignments {
		if a.RoleID == roleID && a.ActiveAt(now) {
			return true, nil
		}
	}
	return false, nil
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
