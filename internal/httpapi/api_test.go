package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
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

const testPassword = "LongEnough1!"

type env struct {
	srv         *httptest.Server
	engine      *goIdentity.Engine
	assignments *memory.Assignments

	mu         sync.Mutex
	deliveries []Delivery
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	catalog := memory.NewCatalog()
	for _, p := range []rbac.Permission{
		{ID: "p-roles-create", Name: rbac.PermRolesCreate, Resource: "roles", Action: "create"},
		{ID: "p-roles-assign", Name: rbac.PermRolesAssign, Resource: "roles", Action: "assign"},
		{ID: "p-users-read", Name: PermUsersRead, Resource: "users", Action: "read"},
		{ID: "p-audit-read", Name: PermAuditRead, Resource: "audit", Action: "read"},
	} {
		p := p
		require.NoError(t, catalog.CreatePermission(ctx, &p))
	}
	require.NoError(t, catalog.CreateRole(ctx, &rbac.Role{ID: "r-user", Name: "user", Level: 1}))
	require.NoError(t, catalog.CreateRole(ctx, &rbac.Role{ID: "r-admin", Name: "admin", Level: 100}))
	for _, p := range []string{"p-roles-create", "p-roles-assign", "p-users-read", "p-audit-read"} {
		require.NoError(t, catalog.AddRolePermission(ctx, "r-admin", p))
	}

	cfg := goIdentity.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef-test-secret")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Async = false

	auditLog := memory.NewAuditLog()
	assignments := memory.NewAssignments()
	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(memory.NewUsers()).
		WithCatalog(catalog).
		WithAssignments(assignments).
		WithAuditSink(auditLog).
		WithLogger(slog.New(slog.DiscardHandler)).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	e := &env{engine: engine, assignments: assignments}
	api := New(Options{
		Engine: engine,
		Audit:  auditLog,
		Deliverer: DelivererFunc(func(_ context.Context, d Delivery) error {
			e.mu.Lock()
			e.deliveries = append(e.deliveries, d)
			e.mu.Unlock()
			return nil
		}),
	})
	e.srv = httptest.NewServer(api.Handler())
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	return e.doWithHeaders(t, method, path, token, nil, body)
}

func (e *env) doWithHeaders(t *testing.T, method, path, token string, headers map[string]string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// register creates a user and returns its id and access and refresh tokens.
func (e *env) register(t *testing.T, name string) (string, string, string) {
	t.Helper()
	resp, out := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    name + "@example.com",
		"username": name,
		"password": testPassword,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	data := out["data"].(map[string]any)
	login := data["login"].(map[string]any)
	user := data["user"].(map[string]any)
	return user["id"].(string), login["access_token"].(string), login["refresh_token"].(string)
}

func (e *env) makeAdmin(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, e.assignments.AssignRole(context.Background(), rbac.RoleAssignment{
		UserID: userID, RoleID: "r-admin", AssignedBy: userID, AssignedAt: time.Now(),
	}))
	e.engine.RBAC().Invalidate(userID)
}

func (e *env) lastDelivery(t *testing.T) Delivery {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.deliveries)
	return e.deliveries[len(e.deliveries)-1]
}

func errorCode(out map[string]any) string {
	e, _ := out["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func errorMessage(out map[string]any) string {
	e, _ := out["error"].(map[string]any)
	msg, _ := e["message"].(string)
	return msg
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	resp, out := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["data"].(map[string]any)["status"])
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestLoginRefreshLogout(t *testing.T) {
	e := newEnv(t)
	_, _, _ = e.register(t, "alice")

	resp, out := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": testPassword,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := out["data"].(map[string]any)
	access := data["access_token"].(string)
	refresh := data["refresh_token"].(string)
	assert.Equal(t, []any{"user"}, data["roles"])

	resp, out = e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := out["data"].(map[string]any)["refresh_token"].(string)
	assert.NotEqual(t, refresh, rotated)

	resp, out = e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "refresh_replay", errorCode(out))

	resp, _ = e.do(t, http.MethodPost, "/auth/logout", access, map[string]string{"refresh_token": rotated})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestLoginErrors(t *testing.T) {
	e := newEnv(t)
	_, _, _ = e.register(t, "alice")

	resp, out := e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-Password1!",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(out))

	resp, _ = e.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "a", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterDuplicate(t *testing.T) {
	e := newEnv(t)
	_, _, _ = e.register(t, "alice")

	resp, out := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "alice@example.com", "username": "other", "password": testPassword,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", errorCode(out))
}

func TestMeAndSessions(t *testing.T) {
	e := newEnv(t)
	id, access, _ := e.register(t, "alice")

	resp, _ := e.do(t, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, out := e.do(t, http.MethodGet, "/auth/me", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := out["data"].(map[string]any)
	assert.Equal(t, id, data["user"].(map[string]any)["id"])
	assert.Equal(t, float64(1), data["level"])

	resp, out = e.do(t, http.MethodGet, "/auth/sessions", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := out["data"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, true, sessions[0].(map[string]any)["current"])

	resp, _ = e.do(t, http.MethodPost, "/auth/logout-all", access, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out = e.do(t, http.MethodGet, "/auth/sessions", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, out["data"])
}

func TestPasswordResetFlow(t *testing.T) {
	e := newEnv(t)
	_, _, refresh := e.register(t, "alice")

	resp, _ := e.do(t, http.MethodPost, "/auth/password/forgot", "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/auth/password/forgot", "", map[string]string{"email": "alice@example.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	d := e.lastDelivery(t)
	assert.Equal(t, DeliveryPasswordReset, d.Kind)

	resp, _ = e.do(t, http.MethodPost, "/auth/password/reset", "", map[string]string{
		"token": d.Token, "new_password": "EvenLonger2@",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "EvenLonger2@",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEmailVerificationFlow(t *testing.T) {
	e := newEnv(t)
	_, access, _ := e.register(t, "alice")

	resp, _ := e.do(t, http.MethodPost, "/auth/email/resend", access, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	d := e.lastDelivery(t)
	assert.Equal(t, DeliveryEmailVerification, d.Kind)
	assert.Equal(t, "alice@example.com", d.Email)

	resp, _ = e.do(t, http.MethodPost, "/auth/email/verify", "", map[string]string{"token": d.Token})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out := e.do(t, http.MethodPost, "/auth/email/verify", "", map[string]string{"token": d.Token})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid", errorCode(out))
}

func TestRoleManagement(t *testing.T) {
	e := newEnv(t)
	adminID, adminAccess, _ := e.register(t, "admin")
	e.makeAdmin(t, adminID)
	bobID, bobAccess, _ := e.register(t, "bob")

	resp, out := e.do(t, http.MethodPost, "/roles", bobAccess, map[string]any{"name": "editor", "level": 10})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", errorCode(out))

	resp, out = e.do(t, http.MethodPost, "/roles", adminAccess, map[string]any{"name": "editor", "level": 10})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roleID := out["data"].(map[string]any)["id"].(string)

	resp, _ = e.do(t, http.MethodPost, "/roles", adminAccess, map[string]any{"name": "boss", "level": 100})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/users/"+bobID+"/roles", adminAccess, map[string]any{"role_id": roleID})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out = e.do(t, http.MethodGet, "/users/"+bobID+"/access", bobAccess, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(10), out["data"].(map[string]any)["level"])

	resp, _ = e.do(t, http.MethodGet, "/users/"+adminID+"/access", bobAccess, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/users/"+bobID+"/access", adminAccess, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodDelete, "/users/"+bobID+"/roles/"+roleID, adminAccess, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out = e.do(t, http.MethodGet, "/roles", bobAccess, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["data"], 3)
}

func TestAuditRequiresLivePermission(t *testing.T) {
	e := newEnv(t)
	adminID, adminAccess, _ := e.register(t, "admin")
	_, bobAccess, _ := e.register(t, "bob")

	resp, _ := e.do(t, http.MethodGet, "/audit", adminAccess, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The token predates the promotion; the fresh guard sees it anyway.
	e.makeAdmin(t, adminID)

	resp, _ = e.do(t, http.MethodGet, "/audit", bobAccess, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, out := e.do(t, http.MethodGet, "/audit?action=user_registered&limit=10", adminAccess, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["data"], 2)

	resp, _ = e.do(t, http.MethodGet, "/audit?from=yesterday", adminAccess, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{goIdentity.ErrRefreshReplay, http.StatusUnauthorized},
		{goIdentity.ErrTokenExpired, http.StatusUnauthorized},
		{goIdentity.ErrAccountUnverified, http.StatusForbidden},
		{goIdentity.ErrLoginRateLimited, http.StatusTooManyRequests},
		{goIdentity.ErrUsernameTaken, http.StatusConflict},
		{goIdentity.ErrWeakPassword, http.StatusBadRequest},
		{rbac.ErrSystemEntry, http.StatusUnprocessableEntity},
		{goIdentity.ErrNotFound, http.StatusNotFound},
		{goIdentity.ErrInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, classify(tc.err).status, tc.err.Error())
	}
}

func TestTokenErrorsCarryOnlyPublicMessage(t *testing.T) {
	e := newEnv(t)
	_, access, refresh := e.register(t, "alice")

	tampered := refresh[:len(refresh)-2] + "xx"
	for name, token := range map[string]string{
		"tampered":  tampered,
		"malformed": "not-a-jwt",
		"wrong-typ": access,
	} {
		resp, out := e.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refresh_token": token})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, name)
		assert.Equal(t, "unauthorized", errorCode(out), name)
		assert.Equal(t, goIdentity.ErrTokenInvalid.Error(), errorMessage(out), name)
	}

	resp, out := e.do(t, http.MethodGet, "/auth/me", "garbage.token.value", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotContains(t, errorMessage(out), "base64")
	assert.NotContains(t, errorMessage(out), "signature")
}

func TestPublicMessage(t *testing.T) {
	wrapped := fmt.Errorf("%w: token signature is invalid", goIdentity.ErrTokenInvalid)
	assert.Equal(t, "token invalid", publicMessage(wrapped, classify(wrapped)))

	internal := fmt.Errorf("%w: dial tcp 10.0.0.1:5432", goIdentity.ErrInternal)
	assert.Equal(t, "internal error", publicMessage(internal, classify(internal)))

	invalid := fmt.Errorf("%w: email (email)", goIdentity.ErrInvalidInput)
	assert.Equal(t, invalid.Error(), publicMessage(invalid, classify(invalid)))
}

func TestTenantHeader(t *testing.T) {
	e := newEnv(t)
	_, _, _ = e.register(t, "alice")
	creds := map[string]string{"email": "alice@example.com", "password": testPassword}

	resp, out := e.doWithHeaders(t, http.MethodPost, "/auth/login", "", map[string]string{TenantHeader: "a:b"}, creds)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_tenant", errorCode(out))

	resp, out = e.doWithHeaders(t, http.MethodPost, "/auth/login", "", map[string]string{TenantHeader: "acme"}, creds)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(out))

	resp, _ = e.doWithHeaders(t, http.MethodPost, "/auth/login", "", map[string]string{TenantHeader: "0"}, creds)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
