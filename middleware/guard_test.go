package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/rbac"
	"github.com/MrEthical07/goIdentity/store/memory"
)

type fixture struct {
	engine      *goIdentity.Engine
	assignments *memory.Assignments
	userID      string
	access      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	catalog := memory.NewCatalog()
	assignments := memory.NewAssignments()
	require.NoError(t, catalog.CreatePermission(ctx, &rbac.Permission{ID: "p-profile-read", Name: "profile.read", Resource: "profile", Action: "read"}))
	require.NoError(t, catalog.CreatePermission(ctx, &rbac.Permission{ID: "p-reports-read", Name: "reports.read", Resource: "reports", Action: "read"}))
	require.NoError(t, catalog.CreateRole(ctx, &rbac.Role{ID: "r-user", Name: "user", Level: 1}))
	require.NoError(t, catalog.CreateRole(ctx, &rbac.Role{ID: "r-analyst", Name: "analyst", Level: 20}))
	require.NoError(t, catalog.AddRolePermission(ctx, "r-user", "p-profile-read"))
	require.NoError(t, catalog.AddRolePermission(ctx, "r-analyst", "p-reports-read"))

	cfg := goIdentity.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef-test-secret")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false
	cfg.Account.AutoLogin = true

	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(memory.NewUsers()).
		WithCatalog(catalog).
		WithAssignments(assignments).
		WithLogger(slog.New(slog.DiscardHandler)).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	res, err := engine.Register(ctx, goIdentity.RegisterInput{
		Email:    "alice@example.com",
		Username: "alice",
		Password: "LongEnough1!",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Login)

	return &fixture{
		engine:      engine,
		assignments: assignments,
		userID:      res.User.ID,
		access:      res.Login.AccessToken,
	}
}

func (f *fixture) grantAnalyst(t *testing.T) {
	t.Helper()
	require.NoError(t, f.assignments.AssignRole(context.Background(), rbac.RoleAssignment{
		UserID:     f.userID,
		RoleID:     "r-analyst",
		AssignedBy: f.userID,
		AssignedAt: time.Now(),
	}))
	f.engine.RBAC().Invalidate(f.userID)
}

func serve(mw func(http.Handler) http.Handler, authorization string) *httptest.ResponseRecorder {
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := goIdentity.AuthResultFromContext(r.Context()); !ok {
			http.Error(w, "missing auth result", http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticateStoresResult(t *testing.T) {
	f := newFixture(t)
	g := Snapshot(f.engine, nil)

	var got *goIdentity.AuthResult
	h := g.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = goIdentity.AuthResultFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+f.access)
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, f.userID, got.UserID)
	assert.Equal(t, []string{"user"}, got.Roles)
	assert.Equal(t, 1, got.Level)
}

func TestAuthenticateRejectsMissingOrBadTokens(t *testing.T) {
	f := newFixture(t)
	g := Snapshot(f.engine, nil)

	for name, header := range map[string]string{
		"missing":   "",
		"no scheme": f.access,
		"empty":     "Bearer ",
		"garbage":   "Bearer not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, serve(g.Authenticate, header).Code)
		})
	}
}

func TestNilGuardIsUnauthorized(t *testing.T) {
	var g *Guard
	assert.Equal(t, http.StatusUnauthorized, serve(g.Authenticate, "Bearer x").Code)
}

func TestSnapshotGuards(t *testing.T) {
	f := newFixture(t)
	g := Snapshot(f.engine, nil)
	bearer := "Bearer " + f.access

	cases := []struct {
		name string
		mw   func(http.Handler) http.Handler
		want int
	}{
		{"any role", g.RequireRoles("admin", "user"), http.StatusNoContent},
		{"any role denied", g.RequireRoles("admin"), http.StatusForbidden},
		{"all roles", g.RequireAllRoles("user"), http.StatusNoContent},
		{"all roles denied", g.RequireAllRoles("user", "analyst"), http.StatusForbidden},
		{"any permission", g.RequirePermissions("reports.read", "profile.read"), http.StatusNoContent},
		{"all permissions denied", g.RequireAllPermissions("profile.read", "reports.read"), http.StatusForbidden},
		{"resource action", g.RequireResourceAction("profile", "read"), http.StatusNoContent},
		{"resource action denied", g.RequireResourceAction("reports", "read"), http.StatusForbidden},
		{"level", g.RequireLevel(1), http.StatusNoContent},
		{"level denied", g.RequireLevel(20), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, serve(tc.mw, bearer).Code)
		})
	}

	assert.Equal(t, http.StatusUnauthorized, serve(g.RequireRoles("user"), "").Code)
}

func TestSnapshotLagsGrantsUntilReissue(t *testing.T) {
	f := newFixture(t)
	f.grantAnalyst(t)
	bearer := "Bearer " + f.access

	snapshot := Snapshot(f.engine, nil)
	fresh := Fresh(f.engine, nil)

	assert.Equal(t, http.StatusForbidden, serve(snapshot.RequirePermissions("reports.read"), bearer).Code)
	assert.Equal(t, http.StatusNoContent, serve(fresh.RequirePermissions("reports.read"), bearer).Code)
	assert.Equal(t, http.StatusNoContent, serve(fresh.RequireAllRoles("user", "analyst"), bearer).Code)
	assert.Equal(t, http.StatusNoContent, serve(fresh.RequireLevel(20), bearer).Code)
	assert.Equal(t, http.StatusForbidden, serve(fresh.RequireLevel(21), bearer).Code)
}

func TestFreshSeesRevocationImmediately(t *testing.T) {
	f := newFixture(t)
	bearer := "Bearer " + f.access
	fresh := Fresh(f.engine, nil)

	assert.Equal(t, http.StatusNoContent, serve(fresh.RequireRoles("user"), bearer).Code)

	require.NoError(t, f.assignments.RemoveRole(context.Background(), f.userID, "r-user"))
	f.engine.RBAC().Invalidate(f.userID)

	assert.Equal(t, http.StatusForbidden, serve(fresh.RequireRoles("user"), bearer).Code)
	assert.Equal(t, http.StatusNoContent, serve(Snapshot(f.engine, nil).RequireRoles("user"), bearer).Code)
}

func TestRequireReusesAuthenticatedResult(t *testing.T) {
	f := newFixture(t)
	g := Snapshot(f.engine, nil)

	chain := func(next http.Handler) http.Handler {
		return g.Authenticate(g.RequireRoles("user")(g.RequireLevel(1)(next)))
	}
	assert.Equal(t, http.StatusNoContent, serve(chain, "Bearer "+f.access).Code)
	assert.Equal(t, "fresh", ModeFresh.String())
	assert.Equal(t, ModeSnapshot, g.Mode())
}
