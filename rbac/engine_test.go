package rbac_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goIdentity/audit"
	"github.com/MrEthical07/goIdentity/rbac"
	"github.com/MrEthical07/goIdentity/store/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx         context.Context
	clock       *clock
	catalog     *memory.Catalog
	assignments *memory.Assignments
	log         *memory.AuditLog
	engine      *rbac.Engine
}

func newFixture(t *testing.T, opts ...rbac.Option) *fixture {
	t.Helper()
	f := &fixture{
		ctx:         context.Background(),
		clock:       &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
		catalog:     memory.NewCatalog(),
		assignments: memory.NewAssignments(),
		log:         memory.NewAuditLog(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []rbac.Option{
		rbac.WithClock(f.clock.Now),
		rbac.WithAuditor(audit.NewDispatcher(f.log, audit.Options{Logger: logger})),
		rbac.WithLogger(logger),
	}
	f.engine = rbac.New(f.catalog, f.assignments, append(base, opts...)...)
	return f
}

// permission returns the id of name, creating it directly in the catalog.
func (f *fixture) permission(t *testing.T, name string) string {
	t.Helper()
	if p, err := f.catalog.PermissionByName(f.ctx, name); err == nil {
		return p.ID
	}
	resource, action, ok := rbac.SplitPermissionName(name)
	require.True(t, ok, "bad permission name %q", name)
	p := &rbac.Permission{ID: "perm-" + name, Name: name, Resource: resource, Action: action}
	require.NoError(t, f.catalog.CreatePermission(f.ctx, p))
	return p.ID
}

// role creates a role bound to perms directly in the catalog.
func (f *fixture) role(t *testing.T, name string, level int, perms ...string) string {
	t.Helper()
	r := &rbac.Role{ID: "role-" + name, Name: name, Level: level}
	require.NoError(t, f.catalog.CreateRole(f.ctx, r))
	for _, p := range perms {
		require.NoError(t, f.catalog.AddRolePermission(f.ctx, r.ID, f.permission(t, p)))
	}
	return r.ID
}

func (f *fixture) assign(t *testing.T, userID, roleID string, expiresAt *time.Time) {
	t.Helper()
	require.NoError(t, f.assignments.AssignRole(f.ctx, rbac.RoleAssignment{
		UserID: userID, RoleID: roleID, AssignedBy: "seed", AssignedAt: f.clock.Now(), ExpiresAt: expiresAt,
	}))
}

func (f *fixture) grant(t *testing.T, userID, permissionID string, expiresAt *time.Time) {
	t.Helper()
	require.NoError(t, f.assignments.GrantPermission(f.ctx, rbac.PermissionGrant{
		UserID: userID, PermissionID: permissionID, GrantedBy: "seed", GrantedAt: f.clock.Now(), ExpiresAt: expiresAt,
	}))
}

func (f *fixture) entries(t *testing.T, action string) []audit.Entry {
	t.Helper()
	out, err := f.log.Query(f.ctx, audit.Filter{Action: action})
	require.NoError(t, err)
	return out
}

func at(t time.Time) *time.Time { return &t }

func TestEffectivePermissionsAreUnionOfActiveRolesAndGrants(t *testing.T) {
	f := newFixture(t)
	editor := f.role(t, "editor", 10, "posts.read", "posts.write")
	f.assign(t, "u1", editor, nil)

	f.grant(t, "u1", f.permission(t, "reports.read"), nil)
	f.grant(t, "u1", f.permission(t, "billing.read"), at(f.clock.Now().Add(-time.Minute)))

	uc, err := f.engine.Context(f.ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"posts.read", "posts.write", "reports.read"}, uc.PermissionNames())
	require.Equal(t, []string{"editor"}, uc.RoleNames())
	require.Equal(t, 10, uc.Level)

	ok, err := f.engine.HasPermission(f.ctx, "u1", "billing.read")
	require.NoError(t, err)
	require.False(t, ok, "expired direct grant must not count")

	ok, err = f.engine.CanPerform(f.ctx, "u1", "posts", "write")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExpiredAssignmentIsIgnored(t *testing.T) {
	f := newFixture(t)
	mod := f.role(t, "moderator", 50, "posts.delete")
	f.assign(t, "u1", mod, at(f.clock.Now().Add(time.Hour)))

	level, err := f.engine.UserLevel(f.ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 50, level)

	f.clock.Advance(time.Hour)

	level, err = f.engine.UserLevel(f.ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 0, level, "assignment expiring exactly now is inactive")

	ok, err := f.engine.HasRole(f.ctx, "u1", "moderator")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRoleQueries(t *testing.T) {
	f := newFixture(t)
	f.assign(t, "u1", f.role(t, "a", 1, "x.read"), nil)
	f.assign(t, "u1", f.role(t, "b", 2, "y.read"), nil)

	cases := []struct {
		name string
		fn   func() (bool, error)
		want bool
	}{
		{"any hit", func() (bool, error) { return f.engine.HasAnyRole(f.ctx, "u1", "z", "b") }, true},
		{"any miss", func() (bool, error) { return f.engine.HasAnyRole(f.ctx, "u1", "z") }, false},
		{"any empty", func() (bool, error) { return f.engine.HasAnyRole(f.ctx, "u1") }, false},
		{"all hit", func() (bool, error) { return f.engine.HasAllRoles(f.ctx, "u1", "a", "b") }, true},
		{"all miss", func() (bool, error) { return f.engine.HasAllRoles(f.ctx, "u1", "a", "z") }, false},
		{"all empty", func() (bool, error) { return f.engine.HasAllRoles(f.ctx, "u1") }, true},
		{"any perm", func() (bool, error) { return f.engine.HasAnyPermission(f.ctx, "u1", "q.read", "y.read") }, true},
		{"all perms", func() (bool, error) { return f.engine.HasAllPermissions(f.ctx, "u1", "x.read", "y.read") }, true},
		{"all perms miss", func() (bool, error) { return f.engine.HasAllPermissions(f.ctx, "u1", "x.read", "q.read") }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.fn()
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestAdminAssignsOnlyLowerRoles(t *testing.T) {
	f := newFixture(t)
	admin := f.role(t, "admin", 100, rbac.PermRolesAssign)
	mod := f.role(t, "moderator", 50)
	peer := f.role(t, "superadmin", 100)
	f.assign(t, "admin-1", admin, nil)

	require.NoError(t, f.engine.AssignRole(f.ctx, "admin-1", "u1", mod, nil))
	ok, err := f.engine.HasRole(f.ctx, "u1", "moderator")
	require.NoError(t, err)
	require.True(t, ok)

	assigned := f.entries(t, audit.ActionRoleAssigned)
	require.Len(t, assigned, 1)
	require.True(t, assigned[0].Success)
	require.Equal(t, "admin-1", assigned[0].ActorID)
	require.Equal(t, "u1", assigned[0].UserID)
	require.Equal(t, "moderator", assigned[0].NewValue)

	err = f.engine.AssignRole(f.ctx, "admin-1", "u1", peer, nil)
	require.ErrorIs(t, err, rbac.ErrForbidden)
	ok, err = f.engine.HasRole(f.ctx, "u1", "superadmin")
	require.NoError(t, err)
	require.False(t, ok)

	all := f.entries(t, audit.ActionRoleAssigned)
	require.Len(t, all, 2)
	var denied []audit.Entry
	for _, e := range all {
		if !e.Success {
			denied = append(denied, e)
		}
	}
	require.Len(t, denied, 1)
	require.Equal(t, "forbidden", denied[0].Error)
}

func TestAssignInitialRoleSelfAssigns(t *testing.T) {
	f := newFixture(t, rbac.WithCache(time.Minute))
	f.role(t, "user", 1, "profile.read")

	ok, err := f.engine.HasRole(f.ctx, "new-user", "user")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, f.engine.AssignInitialRole(f.ctx, "new-user", "user"))
	ok, err = f.engine.HasPermission(f.ctx, "new-user", "profile.read")
	require.NoError(t, err)
	require.True(t, ok, "cache must be invalidated by the assignment")

	assigned := f.entries(t, audit.ActionRoleAssigned)
	require.Len(t, assigned, 1)
	require.Equal(t, "new-user", assigned[0].ActorID)
	require.Equal(t, "registration", assigned[0].Metadata["source"])

	err = f.engine.AssignInitialRole(f.ctx, "new-user", "missing")
	require.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestAssignRequiresPermissionBeforeLookup(t *testing.T) {
	f := newFixture(t)
	f.assign(t, "boss", f.role(t, "boss", 100), nil)

	err := f.engine.AssignRole(f.ctx, "boss", "u1", "role-missing", nil)
	require.ErrorIs(t, err, rbac.ErrForbidden, "no roles.assign means forbidden even for unknown roles")

	f.assign(t, "admin", f.role(t, "admin", 100, rbac.PermRolesAssign), nil)
	err = f.engine.AssignRole(f.ctx, "admin", "u1", "role-missing", nil)
	require.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestAssignRejectsPastExpiry(t *testing.T) {
	f := newFixture(t)
	f.assign(t, "admin", f.role(t, "admin", 100, rbac.PermRolesAssign), nil)
	user := f.role(t, "user", 1)

	err := f.engine.AssignRole(f.ctx, "admin", "u1", user, at(f.clock.Now()))
	require.ErrorIs(t, err, rbac.ErrInvalidInput)
}

func TestRemoveRoleGuard(t *testing.T) {
	f := newFixture(t)
	admin := f.role(t, "admin", 100, rbac.PermRolesAssign)
	mod := f.role(t, "moderator", 50, rbac.PermRolesAssign)
	f.assign(t, "admin-1", admin, nil)
	f.assign(t, "mod-1", mod, nil)
	f.assign(t, "victim", admin, nil)

	require.ErrorIs(t, f.engine.RemoveRole(f.ctx, "mod-1", "victim", admin), rbac.ErrForbidden)
	require.NoError(t, f.engine.RemoveRole(f.ctx, "admin-1", "mod-1", mod))
	require.ErrorIs(t, f.engine.RemoveRole(f.ctx, "admin-1", "mod-1", mod), rbac.ErrNotFound)

	removed := f.entries(t, audit.ActionRoleRemoved)
	require.NotEmpty(t, removed)
}

// For any actor level and role level, assignment succeeds exactly when the
// role level is strictly below the actor's.
func TestEscalationInvariantRandomized(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(20260501))

	for i := 0; i < 300; i++ {
		actorLevel := rng.Intn(6) * 10
		roleLevel := rng.Intn(6) * 10
		if i%5 == 0 {
			roleLevel = actorLevel
		}

		actorRole := f.role(t, fmt.Sprintf("actor-%d", i), actorLevel, rbac.PermRolesAssign)
		target := f.role(t, fmt.Sprintf("target-%d", i), roleLevel)
		actor := fmt.Sprintf("actor-user-%d", i)
		f.assign(t, actor, actorRole, nil)

		err := f.engine.AssignRole(f.ctx, actor, "subject", target, nil)
		if roleLevel < actorLevel {
			require.NoError(t, err, "actor %d assigning role %d", actorLevel, roleLevel)
		} else {
			require.ErrorIs(t, err, rbac.ErrForbidden, "actor %d assigning role %d", actorLevel, roleLevel)
		}
	}
}

func TestGrantLevelGate(t *testing.T) {
	f := newFixture(t)
	granter := f.role(t, "granter", 50, rbac.PermPermissionsGrant, "reports.read")
	peer := f.role(t, "peer", 50)
	junior := f.role(t, "junior", 10)
	f.assign(t, "actor", granter, nil)
	f.assign(t, "peer-user", peer, nil)
	f.assign(t, "junior-user", junior, nil)
	reports := f.permission(t, "reports.read")
	billing := f.permission(t, "billing.read")

	require.ErrorIs(t, f.engine.GrantPermission(f.ctx, "actor", "peer-user", reports, nil), rbac.ErrForbidden)
	require.ErrorIs(t, f.engine.GrantPermission(f.ctx, "actor", "junior-user", billing, nil), rbac.ErrForbidden)
	require.NoError(t, f.engine.GrantPermission(f.ctx, "actor", "junior-user", reports, nil))

	ok, err := f.engine.HasPermission(f.ctx, "junior-user", "reports.read")
	require.NoError(t, err)
	require.True(t, ok)

	require.ErrorIs(t, f.engine.RevokePermission(f.ctx, "actor", "peer-user", reports), rbac.ErrForbidden)
	require.NoError(t, f.engine.RevokePermission(f.ctx, "actor", "junior-user", reports))
	require.Len(t, f.entries(t, audit.ActionPermissionRevoked), 2)
}

func TestGrantWithoutLevelGate(t *testing.T) {
	f := newFixture(t, rbac.WithLevelGateDirectGrants(false))
	f.assign(t, "actor", f.role(t, "granter", 10, rbac.PermPermissionsGrant), nil)
	f.assign(t, "boss", f.role(t, "boss", 100), nil)

	require.NoError(t, f.engine.GrantPermission(f.ctx, "actor", "boss", f.permission(t, "billing.read"), nil))
}

func TestGrantRequiresPermission(t *testing.T) {
	f := newFixture(t)
	f.assign(t, "actor", f.role(t, "boss", 100, "reports.read"), nil)
	err := f.engine.GrantPermission(f.ctx, "actor", "u1", f.permission(t, "reports.read"), nil)
	require.ErrorIs(t, err, rbac.ErrForbidden)
}

func TestCanManageIsStrict(t *testing.T) {
	f := newFixture(t)
	hi := f.role(t, "hi", 100)
	f.assign(t, "a", hi, nil)
	f.assign(t, "b", hi, nil)
	f.assign(t, "c", f.role(t, "lo", 10), nil)

	ok, err := f.engine.CanManage(f.ctx, "a", "b")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.engine.CanManage(f.ctx, "a", "c")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.engine.CanManage(f.ctx, "c", "nobody")
	require.NoError(t, err)
	require.True(t, ok, "any role outranks a user with none")
}

func TestCacheInvalidatedOnMutation(t *testing.T) {
	f := newFixture(t, rbac.WithCache(time.Hour))
	f.assign(t, "admin", f.role(t, "admin", 100, rbac.PermRolesAssign), nil)
	mod := f.role(t, "moderator", 50)

	ok, err := f.engine.HasRole(f.ctx, "u1", "moderator")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, f.engine.AssignRole(f.ctx, "admin", "u1", mod, nil))
	ok, err = f.engine.HasRole(f.ctx, "u1", "moderator")
	require.NoError(t, err)
	require.True(t, ok, "assignment must be visible immediately")

	require.NoError(t, f.engine.RemoveRole(f.ctx, "admin", "u1", mod))
	ok, err = f.engine.HasRole(f.ctx, "u1", "moderator")
	require.NoError(t, err)
	require.False(t, ok, "removal must be visible immediately")
}

func TestCacheHonorsEarliestExpiry(t *testing.T) {
	f := newFixture(t, rbac.WithCache(time.Hour))
	f.assign(t, "u1", f.role(t, "temp", 5), at(f.clock.Now().Add(time.Minute)))

	ok, err := f.engine.HasRole(f.ctx, "u1", "temp")
	require.NoError(t, err)
	require.True(t, ok)

	f.clock.Advance(2 * time.Minute)
	ok, err = f.engine.HasRole(f.ctx, "u1", "temp")
	require.NoError(t, err)
	require.False(t, ok, "cached entry must not outlive the assignment")
}

func TestCacheInvalidatedByCatalogChange(t *testing.T) {
	f := newFixture(t, rbac.WithCache(time.Hour))
	f.assign(t, "admin", f.role(t, "admin", 100, rbac.PermRolesUpdate, "posts.delete"), nil)
	editor := f.role(t, "editor", 10, "posts.read")
	f.assign(t, "u1", editor, nil)

	ok, err := f.engine.HasPermission(f.ctx, "u1", "posts.delete")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, f.engine.AddRolePermission(f.ctx, "admin", editor, f.permission(t, "posts.delete")))
	ok, err = f.engine.HasPermission(f.ctx, "u1", "posts.delete")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSnapshotBypassesCache(t *testing.T) {
	f := newFixture(t, rbac.WithCache(time.Hour))
	editor := f.role(t, "editor", 10, "posts.read")

	_, err := f.engine.Context(f.ctx, "u1")
	require.NoError(t, err)
	f.assign(t, "u1", editor, nil)

	snap, err := f.engine.Snapshot(f.ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"editor"}, snap.Roles)
	require.Equal(t, []string{"posts.read"}, snap.Permissions)
	require.Equal(t, 10, snap.Level)
}

func TestConcurrentContextLoads(t *testing.T) {
	f := newFixture(t, rbac.WithCache(time.Hour))
	f.assign(t, "u1", f.role(t, "editor", 10, "posts.read"), nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.engine.HasPermission(f.ctx, "u1", "posts.read")
			if err != nil || !ok {
				t.Errorf("HasPermission = (%v, %v)", ok, err)
			}
		}()
	}
	wg.Wait()
}

func TestAssignAndGrantRequireKnownTarget(t *testing.T) {
	known := map[string]bool{"admin": true, "u1": true}
	f := newFixture(t, rbac.WithUserLookup(func(_ context.Context, id string) error {
		if !known[id] {
			return rbac.ErrNotFound
		}
		return nil
	}))
	f.assign(t, "admin", f.role(t, "admin", 100, rbac.PermRolesAssign, rbac.PermPermissionsGrant, "posts.read"), nil)
	mod := f.role(t, "moderator", 50)
	read := f.permission(t, "posts.read")

	require.ErrorIs(t, f.engine.AssignRole(f.ctx, "admin", "ghost", mod, nil), rbac.ErrNotFound)
	require.ErrorIs(t, f.engine.GrantPermission(f.ctx, "admin", "ghost", read, nil), rbac.ErrNotFound)
	require.ErrorIs(t, f.engine.AssignRole(f.ctx, "admin", "", mod, nil), rbac.ErrInvalidInput)

	roles, err := f.assignments.RoleAssignments(f.ctx, "ghost")
	require.NoError(t, err)
	require.Empty(t, roles)
	grants, err := f.assignments.PermissionGrants(f.ctx, "ghost")
	require.NoError(t, err)
	require.Empty(t, grants)

	var ghost []audit.Entry
	for _, e := range f.entries(t, audit.ActionRoleAssigned) {
		if e.UserID == "ghost" {
			ghost = append(ghost, e)
		}
	}
	require.Len(t, ghost, 1)
	require.False(t, ghost[0].Success)
	require.Equal(t, "not_found", ghost[0].Error)

	require.NoError(t, f.engine.AssignRole(f.ctx, "admin", "u1", mod, nil))
	require.NoError(t, f.engine.GrantPermission(f.ctx, "admin", "u1", read, nil))
}
