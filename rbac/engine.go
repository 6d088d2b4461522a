package rbac

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/MrEthical07/goIdentity/audit"
)

// Auditor receives audit entries for administrative changes.
// *audit.Dispatcher satisfies it.
type Auditor interface {
	Emit(ctx context.Context, entry audit.Entry)
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables the per-user decision cache. Entries live for at most
// ttl and never past the next assignment or grant expiry.
func WithCache(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.cache = newDecisionCache(ttl)
		}
	}
}

// WithClock overrides the clock used to evaluate expiries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithAuditor sets the audit destination for administrative changes.
func WithAuditor(a Auditor) Option {
	return func(e *Engine) { e.auditor = a }
}

// WithLogger sets the logger used for best-effort warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithLevelGateDirectGrants controls whether direct permission grants are
// bounded by level. When on (the default), the actor must outrank the
// target and, for grants, hold the permission being granted.
func WithLevelGateDirectGrants(on bool) Option {
	return func(e *Engine) { e.levelGateGrants = on }
}

// UserLookup reports whether userID names a registered user. It returns
// ErrNotFound when it does not.
type UserLookup func(ctx context.Context, userID string) error

// WithUserLookup makes AssignRole and GrantPermission refuse targets the
// lookup does not know.
func WithUserLookup(fn UserLookup) Option {
	return func(e *Engine) { e.userExists = fn }
}

// Engine answers authorization questions over the active role and
// permission set of a user and guards administrative changes against
// privilege escalation.
//
// Every read is evaluated at the engine clock: assignments and grants
// whose ExpiresAt has passed are ignored even if still stored.
type Engine struct {
	catalog         Catalog
	assignments     AssignmentStore
	now             func() time.Time
	cache           *decisionCache
	auditor         Auditor
	logger          *slog.Logger
	levelGateGrants bool
	notifier        Notifier
	userExists      UserLookup
}

// New returns an Engine over catalog and assignments.
func New(catalog Catalog, assignments AssignmentStore, opts ...Option) *Engine {
	e := &Engine{
		catalog:         catalog,
		assignments:     assignments,
		now:             time.Now,
		logger:          slog.Default(),
		levelGateGrants: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "rbac")
	return e
}

// Context returns the resolved authorization state for userID, from the
// cache when enabled.
func (e *Engine) Context(ctx context.Context, userID string) (*UserContext, error) {
	if e.cache == nil {
		return e.compute(ctx, userID)
	}
	if uc, ok := e.cache.get(userID, e.now()); ok {
		return uc, nil
	}
	return e.cache.load(userID, func() (*UserContext, error) {
		return e.compute(ctx, userID)
	})
}

// Snapshot returns the role and permission names to embed in a token.
// It always bypasses the cache.
func (e *Engine) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	uc, err := e.compute(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return uc.Snapshot(), nil
}

// Invalidate drops any cached decision for userID.
func (e *Engine) Invalidate(userID string) {
	if e.cache != nil {
		e.cache.invalidate(userID)
	}
}

// InvalidateAll drops every cached decision.
func (e *Engine) InvalidateAll() {
	if e.cache != nil {
		e.cache.invalidateAll()
	}
}

func (e *Engine) HasRole(ctx context.Context, userID, role string) (bool, error) {
	uc, err := e.Context(ctx, userID)
	if err != nil {
		return false, err
	}
	return uc.HasRole(role), nil
}

// HasAnyRole is false for an empty role list.
func (e *Engine) HasAnyRole(ctx context.Context, userID string, roles ...string) (bool, error) {
	uc, err := e.Context(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if uc.HasRole(r) {
			return true, nil
		}
	}
	return false, nil
}

// HasAllRoles is true for an empty role list.
func (e *Engine) HasAllRoles(ctx context.Context, userID string, roles ...string) (bool, error) {
	uc, err := e.Context(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, r := range roles {
		if !uc.HasRole(r) {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	uc, err := e.Context(ctx, userID)
	if err != nil {
		return false, err
	}
	return uc.HasPermission(permission), nil
}

// HasAnyPermission is false for an empty permission list.
func (e *Engine) HasAnyPermission(ctx context.Context, userID string, permissions ...string) (bool, error) {
	uc, err := e.Context(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if uc.HasPermission(p) {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions is true for an empty permission list.
func (e *Engine) HasAllPermissions(ctx context.Context, userID string, permissions ...string) (bool, error) {
	uc, err := e.Context(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if !uc.HasPermission(p) {
			return false, nil
		}
	}
	return true, nil
}

// CanPerform reports whether userID holds "{resource}.{action}".
func (e *Engine) CanPerform(ctx context.Context, userID, resource, action string) (bool, error) {
	return e.HasPermission(ctx, userID, PermissionName(resource, action))
}

// UserLevel is the highest level among the user's active roles, or 0.
func (e *Engine) UserLevel(ctx context.Context, userID string) (int, error) {
	uc, err := e.Context(ctx, userID)
	if err != nil {
		return 0, err
	}
	return uc.Level, nil
}

// CanManage reports whether actor strictly outranks target.
func (e *Engine) CanManage(ctx context.Context, actorID, targetID string) (bool, error) {
	actor, err := e.Context(ctx, actorID)
	if err != nil {
		return false, err
	}
	target, err := e.Context(ctx, targetID)
	if err != nil {
		return false, err
	}
	return actor.Level > target.Level, nil
}

func (e *Engine) compute(ctx context.Context, userID string) (*UserContext, error) {
	now := e.now()

	assignments, err := e.assignments.RoleAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	grants, err := e.assignments.PermissionGrants(ctx, userID)
	if err != nil {
		return nil, err
	}

	uc := &UserContext{UserID: userID, ComputedAt: now}
	noteExpiry := func(exp *time.Time) {
		if exp != nil && exp.After(now) && (uc.ValidUntil.IsZero() || exp.Before(uc.ValidUntil)) {
			uc.ValidUntil = *exp
		}
	}

	perms := make(map[string]Permission)
	for _, a := range assignments {
		noteExpiry(a.ExpiresAt)
		if !a.ActiveAt(now) {
			continue
		}
		role, err := e.catalog.Role(ctx, a.RoleID)
		if errors.Is(err, ErrNotFound) {
			e.logger.Warn("assignment references missing role", "user_id", userID, "role_id", a.RoleID)
			continue
		}
		if err != nil {
			return nil, err
		}
		rolePerms, err := e.catalog.RolePermissions(ctx, role.ID)
		if err != nil {
			return nil, err
		}

		uc.Roles = append(uc.Roles, *role)
		uc.Assignments = append(uc.Assignments, a)
		if role.Level > uc.Level {
			uc.Level = role.Level
		}
		for _, p := range rolePerms {
			perms[p.Name] = p
		}
	}

	for _, g := range grants {
		noteExpiry(g.ExpiresAt)
		if !g.ActiveAt(now) {
			continue
		}
		p, err := e.catalog.Permission(ctx, g.PermissionID)
		if errors.Is(err, ErrNotFound) {
			e.logger.Warn("grant references missing permission", "user_id", userID, "permission_id", g.PermissionID)
			continue
		}
		if err != nil {
			return nil, err
		}
		uc.Grants = append(uc.Grants, g)
		perms[p.Name] = *p
	}

	uc.Permissions = make([]Permission, 0, len(perms))
	for _, p := range perms {
		uc.Permissions = append(uc.Permissions, p)
	}
	sort.Slice(uc.Permissions, func(i, j int) bool { return uc.Permissions[i].Name < uc.Permissions[j].Name })
	sort.Slice(uc.Roles, func(i, j int) bool {
		if uc.Roles[i].Level != uc.Roles[j].Level {
			return uc.Roles[i].Level > uc.Roles[j].Level
		}
		return uc.Roles[i].Name < uc.Roles[j].Name
	})
	uc.index()

	return uc, nil
}

// actorContext resolves the actor of an administrative change. It never
// uses the cache so a just-revoked privilege cannot be exercised.
func (e *Engine) actorContext(ctx context.Context, actorID string, required string) (*UserContext, error) {
	actor, err := e.compute(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.HasPermission(required) {
		return actor, ErrForbidden
	}
	return actor, nil
}

func (e *Engine) record(ctx context.Context, entry audit.Entry, err error) {
	if e.auditor == nil {
		return
	}
	entry.Success = err == nil
	if err != nil {
		entry.Error = errorCode(err)
	}
	e.auditor.Emit(ctx, entry)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrSystemEntry):
		return "system_entry"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal_error"
	}
}
